// fnmoded-panel hosts the rules, preferences, running-apps and about
// windows. It stays resident: the daemon announces panel requests over
// the event stream, and this process opens or raises the matching
// window. Closing every window keeps the host alive for the next
// request.
package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"gioui.org/app"
	"gioui.org/widget/material"

	"fnmoded/cmd/fnmoded-panel/internal/theme"
	"fnmoded/cmd/fnmoded-panel/internal/ui"
	"fnmoded/internal/bus"
	"fnmoded/internal/config"
	"fnmoded/internal/ipc"
	"fnmoded/internal/logging"
	"fnmoded/internal/panel"
)

// Version is stamped at build time via -ldflags.
var Version = "dev"

func main() {
	configPath := flag.String("config", "", "path to config file")
	initial := flag.String("panel", "", "panel to open at startup (rules, preferences, running-apps, about)")
	flag.Parse()

	logger, err := logging.New(&logging.Config{
		Level:     logging.LevelInfo,
		Format:    logging.FormatText,
		Output:    "stderr",
		Component: "fnmoded-panel",
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "fnmoded-panel: %v\n", err)
		os.Exit(1)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	clientCfg := ipc.DefaultClientConfig(cfg.SocketPath())
	clientCfg.ClientName = "fnmoded-panel"
	clientCfg.ClientVersion = Version
	client := ipc.NewClient(clientCfg)
	if err := client.Connect(); err != nil {
		logger.Error("cannot connect to daemon", "socket", cfg.SocketPath(), "error", err)
		os.Exit(1)
	}
	if err := client.Subscribe(); err != nil {
		logger.Warn("event subscription failed", "error", err)
	}

	th := theme.New(material.NewTheme())
	registry := panel.NewRegistry(func(kind panel.Kind) (panel.Panel, error) {
		view := ui.NewView(kind, th, client, Version)
		return ui.NewWindow(kind, view, logger), nil
	}, logger)

	if *initial != "" {
		kind, err := panel.ParseKind(*initial)
		if err != nil {
			logger.Error("unknown panel", "panel", *initial)
			os.Exit(1)
		}
		if err := registry.Open(kind); err != nil {
			logger.Error("failed to open panel", "panel", kind.String(), "error", err)
		}
	}

	h := &host{client: client, registry: registry, logger: logger}
	go h.run()

	logger.Info("panel host ready", "daemon", client.ServerVersion())

	// Window event loops run on their own goroutines; Main owns the
	// process from here and never returns.
	app.Main()
}

// host pumps daemon events into the panel registry and keeps the
// connection alive across daemon restarts.
type host struct {
	client   *ipc.Client
	registry *panel.Registry
	logger   *logging.Logger
}

func (h *host) run() {
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case event, ok := <-h.client.Events():
			if !ok {
				return
			}
			h.handleEvent(event)
		case <-ticker.C:
			if h.client.IsConnected() {
				continue
			}
			h.reconnect()
		}
	}
}

// reconnect re-dials the daemon. Subscriptions are per session, so a
// fresh connection subscribes again, and a default-changed dispatch
// makes every open panel re-query whatever moved while we were away.
func (h *host) reconnect() {
	if err := h.client.Connect(); err != nil {
		return
	}
	if err := h.client.Subscribe(); err != nil {
		h.logger.Warn("event subscription failed", "error", err)
	}
	status, err := h.client.Status()
	if err != nil {
		return
	}
	h.registry.Dispatch(bus.DefaultChanged{Behavior: status.DefaultBehavior})
	h.logger.Info("reconnected to daemon", "version", h.client.ServerVersion())
}

func (h *host) handleEvent(event *ipc.Event) {
	switch event.Type {
	case ipc.EventPanelRequested:
		var e ipc.PanelRequestedEvent
		if event.DecodeData(&e) != nil {
			return
		}
		kind, err := panel.ParseKind(e.Panel)
		if err != nil {
			h.logger.Warn("unknown panel requested", "panel", e.Panel)
			return
		}
		if err := h.registry.Open(kind); err != nil {
			h.logger.Error("failed to open panel", "panel", kind.String(), "error", err)
		}

	case ipc.EventRuleChanged:
		var e ipc.RuleChangedEvent
		if event.DecodeData(&e) != nil {
			return
		}
		h.registry.Dispatch(bus.BehaviorChanged{
			AppID:    e.AppID,
			AppName:  e.AppName,
			AppPath:  e.AppPath,
			Behavior: e.Behavior,
			Origin:   bus.ParseOrigin(e.Origin),
		})

	case ipc.EventDefaultChanged:
		var e ipc.DefaultChangedEvent
		if event.DecodeData(&e) != nil {
			return
		}
		h.registry.Dispatch(bus.DefaultChanged{Behavior: e.Behavior})

	case ipc.EventDaemonShutdown:
		// Windows stay up. The ticker path re-dials once a new daemon
		// is listening.
		h.logger.Info("daemon shut down")
	}
}

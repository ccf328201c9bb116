package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"fnmoded/internal/behavior"
	"fnmoded/internal/bus"
	"fnmoded/internal/config"
	"fnmoded/internal/focus"
	"fnmoded/internal/ipc"
	"fnmoded/internal/keymode"
	"fnmoded/internal/logging"
	"fnmoded/internal/notify"
	"fnmoded/internal/store"
	"fnmoded/internal/switcher"
)

// Daemon wires the rule store, focus tracking, keyboard switching, IPC,
// and notifications together and owns their shutdown order.
type Daemon struct {
	cfgPath   string
	cfg       *config.Config
	logger    *logging.Logger
	watcher   *config.ConfigWatcher
	rules     *store.Store
	manager   *behavior.Manager
	events    *bus.Bus
	sw        *switcher.Switcher
	announcer *notify.Announcer
	server    *ipc.Server
	resume    keymode.ResumeMonitor

	unsubscribe func()
	relayDone   chan struct{}

	stopOnce sync.Once
	stopCh   chan struct{}
}

func cmdRun(args []string) {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	configPath := fs.String("config", "", "configuration file path")
	dryRun := fs.Bool("dry-run", false, "log mode changes without touching the keyboard")
	fs.Parse(args)

	if err := runDaemon(*configPath, *dryRun); err != nil {
		fmt.Fprintf(os.Stderr, "fnmoded: %v\n", err)
		os.Exit(1)
	}
}

func runDaemon(configPath string, dryRun bool) error {
	if configPath == "" {
		configPath = config.ConfigPath()
	}

	watcher, err := config.NewConfigWatcher(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	cfg := watcher.Config()

	if err := cfg.EnsureDirectories(); err != nil {
		return fmt.Errorf("prepare directories: %w", err)
	}

	logger, err := buildLogger(&cfg.Logging)
	if err != nil {
		return fmt.Errorf("init logging: %w", err)
	}
	defer logger.Close()
	logging.SetDefault(logger)

	// Refuse to start twice. The socket probe is authoritative when IPC
	// is on, the pid file covers daemons running without it.
	if cfg.IPC.Enabled && ipc.IsSocketListening(cfg.SocketPath()) {
		return fmt.Errorf("daemon already running on %s", cfg.SocketPath())
	}
	if pid, running := daemonRunning(cfg.Daemon.PidFile); running {
		return fmt.Errorf("daemon already running with pid %d", pid)
	}
	if cfg.IPC.Enabled {
		if err := ipc.CleanupSocket(cfg.SocketPath()); err != nil {
			logger.Warn("removing stale socket", "error", err)
		}
	}

	d, err := newDaemon(configPath, cfg, watcher, logger, dryRun)
	if err != nil {
		return err
	}
	return d.Run()
}

func newDaemon(configPath string, cfg *config.Config, watcher *config.ConfigWatcher, logger *logging.Logger, dryRun bool) (*Daemon, error) {
	rules, err := store.OpenWithOptions(cfg.Rules.Path, store.Options{
		BusyTimeoutMs:  cfg.Rules.BusyTimeoutMs,
		MaxConnections: cfg.Rules.MaxConnections,
	})
	if err != nil {
		return nil, fmt.Errorf("open rules store: %w", err)
	}

	manager := behavior.New(rules, cfg, logger)
	events := bus.New(logger)

	var keyboard keymode.Switcher
	if dryRun {
		keyboard = keymode.NewMemorySwitcher(keymode.StateApple)
		logger.Info("dry run, keyboard writes disabled")
	} else {
		keyboard = buildKeyboard(cfg)
	}

	tracker := focus.New(focus.Config{
		PollInterval: time.Duration(cfg.Focus.PollIntervalMs) * time.Millisecond,
		Debounce:     time.Duration(cfg.Focus.DebounceMs) * time.Millisecond,
		IgnoredApps:  cfg.Focus.IgnoreApps,
	}, logger)

	sw := switcher.New(manager, keyboard, tracker, events, logger, switcher.Options{
		ApplyOnStart: cfg.Daemon.ApplyOnStart,
	})

	d := &Daemon{
		cfgPath:   configPath,
		cfg:       cfg,
		logger:    logger,
		watcher:   watcher,
		rules:     rules,
		manager:   manager,
		events:    events,
		sw:        sw,
		announcer: notify.NewAnnouncer(notify.New(), events, cfg, logger),
		stopCh:    make(chan struct{}),
	}

	if cfg.IPC.Enabled {
		handler := ipc.NewDaemonHandler(ipc.DaemonHandlerConfig{
			Version:  Version,
			Switcher: sw,
			Manager:  manager,
			Events:   events,
			Logger:   logger,
			Shutdown: d.requestStop,
		})

		serverCfg := ipc.DefaultServerConfig(cfg.SocketPath())
		serverCfg.Version = Version
		if cfg.IPC.MaxConnections > 0 {
			serverCfg.MaxSessions = cfg.IPC.MaxConnections
		}
		if cfg.IPC.TimeoutSec > 0 {
			serverCfg.WriteTimeout = time.Duration(cfg.IPC.TimeoutSec) * time.Second
		}
		d.server = ipc.NewServer(serverCfg, handler, logger)
	}

	if cfg.Daemon.ReapplyOnResume {
		d.resume = keymode.NewResumeMonitor()
	}

	return d, nil
}

// Run starts every component and blocks until a signal or an IPC
// shutdown request arrives.
func (d *Daemon) Run() error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := d.start(ctx); err != nil {
		d.shutdown()
		return err
	}

	if err := writePidFile(d.cfg.Daemon.PidFile); err != nil {
		d.shutdown()
		return fmt.Errorf("write pid file: %w", err)
	}
	defer os.Remove(d.cfg.Daemon.PidFile)

	d.logger.Info("fnmoded started",
		"version", Version,
		"pid", os.Getpid(),
		"config", d.cfgPath)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	for {
		select {
		case sig := <-sigChan:
			d.logger.Info("signal received", "signal", sig.String())
			d.shutdown()
			return nil

		case <-d.stopCh:
			d.logger.Info("shutdown requested over ipc")
			d.shutdown()
			return nil

		case err := <-d.watcher.Errors():
			d.logger.Warn("config watch error", "error", err)
		}
	}
}

func (d *Daemon) start(ctx context.Context) error {
	if err := d.sw.Start(ctx); err != nil {
		return fmt.Errorf("start switcher: %w", err)
	}

	if err := d.announcer.Start(ctx); err != nil {
		d.logger.Warn("notifications disabled", "error", err)
	}

	if d.server != nil {
		if err := d.server.Start(); err != nil {
			return fmt.Errorf("start ipc server: %w", err)
		}
		d.startRelay()
	}

	if d.resume != nil {
		if err := d.resume.Start(ctx, d.onResume); err != nil {
			d.logger.Warn("resume monitor unavailable", "error", err)
			d.resume = nil
		}
	}

	d.watcher.OnChange(d.onConfigChange)
	if err := d.watcher.Start(); err != nil {
		d.logger.Warn("config reload disabled", "error", err)
	}

	return nil
}

// startRelay forwards bus events to connected IPC subscribers.
func (d *Daemon) startRelay() {
	ch, unsubscribe := d.events.Subscribe()
	d.unsubscribe = unsubscribe
	d.relayDone = make(chan struct{})

	go func() {
		defer close(d.relayDone)
		for ev := range ch {
			wire, err := ipc.EventFromBus(ev)
			if err != nil {
				// Internal kinds without a wire mapping stay internal.
				continue
			}
			d.server.Broadcast(wire)
		}
	}()
}

func (d *Daemon) onResume() {
	d.logger.Info("system resumed, re-applying keyboard mode")
	d.sw.Reapply()
}

func (d *Daemon) onConfigChange(_, cfg *config.Config) {
	before := d.manager.DefaultBehavior()
	d.manager.UpdateConfig(cfg)
	d.announcer.UpdateConfig(cfg)

	// A changed default goes through the same bus path as the IPC
	// set_default operation so the switcher re-resolves the mode.
	if after := d.manager.DefaultBehavior(); after != before {
		d.events.Publish(bus.DefaultChanged{Behavior: after})
	}
	d.logger.Info("configuration reloaded")
}

// requestStop is handed to the IPC handler. Safe to call more than once.
func (d *Daemon) requestStop() {
	d.stopOnce.Do(func() { close(d.stopCh) })
}

func (d *Daemon) shutdown() {
	d.logger.Info("shutting down")

	if d.watcher != nil {
		d.watcher.Stop()
	}

	if d.server != nil {
		// Subscribers get a shutdown notice before their sessions drop.
		if ev, err := ipc.NewEvent(ipc.EventDaemonShutdown, nil); err == nil {
			d.server.Broadcast(ev)
		}
		time.Sleep(100 * time.Millisecond)
	}

	if d.unsubscribe != nil {
		d.unsubscribe()
		<-d.relayDone
	}

	if d.server != nil {
		if err := d.server.Stop(); err != nil {
			d.logger.Warn("stopping ipc server", "error", err)
		}
	}

	if d.resume != nil {
		d.resume.Stop()
	}

	// The announcer goes before the switcher so quit restoration does
	// not post a notification.
	d.announcer.Stop()

	if err := d.sw.Stop(); err != nil {
		d.logger.Warn("stopping switcher", "error", err)
	}

	d.events.Close()

	if err := d.rules.Close(); err != nil {
		d.logger.Warn("closing rules store", "error", err)
	}

	d.logger.Info("fnmoded stopped")
}

// buildLogger maps the logging config section onto a logger.
func buildLogger(cfg *config.LoggingConfig) (*logging.Logger, error) {
	level, err := logging.ParseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}

	format := logging.FormatText
	if cfg.Format == "json" {
		format = logging.FormatJSON
	}

	return logging.New(&logging.Config{
		Level:      level,
		Format:     format,
		Output:     cfg.Output,
		FilePath:   cfg.FilePath,
		MaxSize:    int64(cfg.MaxSizeMB),
		MaxAge:     cfg.MaxAgeDays,
		MaxBackups: cfg.MaxBackups,
		Compress:   cfg.Compress,
		Component:  "fnmoded",
	})
}

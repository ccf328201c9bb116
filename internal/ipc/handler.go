package ipc

import (
	"context"
	"errors"
	"sort"
	"time"

	"fnmoded/internal/behavior"
	"fnmoded/internal/bus"
	"fnmoded/internal/focus"
	"fnmoded/internal/keymode"
	"fnmoded/internal/logging"
	"fnmoded/internal/rulesio"
	"fnmoded/internal/switcher"
)

// DaemonHandler answers frontend requests against the running daemon.
// Domain events go to the bus; the daemon relays them to subscribed
// sessions, so every frontend sees a change no matter which one made it.
type DaemonHandler struct {
	version   string
	startedAt time.Time

	switcher *switcher.Switcher
	manager  *behavior.Manager
	events   *bus.Bus
	logger   *logging.Logger

	// listApps is swapped in tests.
	listApps func() ([]focus.AppInfo, error)

	// shutdown asks the daemon to exit; wired by main.
	shutdown func()
}

// DaemonHandlerConfig configures the daemon handler.
type DaemonHandlerConfig struct {
	Version  string
	Switcher *switcher.Switcher
	Manager  *behavior.Manager
	Events   *bus.Bus
	Logger   *logging.Logger
	Shutdown func()
}

// NewDaemonHandler creates the daemon handler.
func NewDaemonHandler(cfg DaemonHandlerConfig) *DaemonHandler {
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Default()
	}
	return &DaemonHandler{
		version:   cfg.Version,
		startedAt: time.Now(),
		switcher:  cfg.Switcher,
		manager:   cfg.Manager,
		events:    cfg.Events,
		logger:    logger.WithComponent("handler"),
		listApps:  focus.RunningApps,
		shutdown:  cfg.Shutdown,
	}
}

// HandleMessage dispatches one request.
func (h *DaemonHandler) HandleMessage(ctx context.Context, sess *Session, msg *Message) (*Message, error) {
	switch msg.Header.Type {
	case MsgStatus:
		return h.handleStatus(msg)

	case MsgGetMode:
		return h.handleGetMode(msg)

	case MsgSetMode:
		return h.handleSetMode(sess, msg)

	case MsgGetDefault:
		return h.handleGetDefault(msg)

	case MsgSetDefault:
		return h.handleSetDefault(sess, msg)

	case MsgListRules:
		return h.handleListRules(msg)

	case MsgSetRule:
		return h.handleSetRule(sess, msg)

	case MsgDeleteRule:
		return h.handleDeleteRule(sess, msg)

	case MsgListApps:
		return h.handleListApps(msg)

	case MsgExportRules:
		return h.handleExportRules(msg)

	case MsgImportRules:
		return h.handleImportRules(sess, msg)

	case MsgOpenPanel:
		return h.handleOpenPanel(msg)

	case MsgShutdown:
		return h.handleShutdown(sess, msg)

	default:
		return NewErrorMessage(msg.Header.RequestID, ErrInvalidRequest, "unknown message type"), nil
	}
}

// requireWrite returns an error message when the session lacks write
// access, nil otherwise.
func (h *DaemonHandler) requireWrite(sess *Session, msg *Message) *Message {
	if sess.Permission >= PermReadWrite {
		return nil
	}
	return NewErrorMessage(msg.Header.RequestID, ErrPermissionDenied, "write access required")
}

func (h *DaemonHandler) handleStatus(msg *Message) (*Message, error) {
	st := h.switcher.Status()

	resp := &StatusResponse{
		Version:         h.version,
		StartedAt:       h.startedAt,
		Uptime:          time.Since(h.startedAt),
		Running:         st.Running,
		CurrentState:    st.CurrentState,
		LaunchState:     st.LaunchState,
		DefaultBehavior: h.manager.DefaultBehavior(),
		CurrentAppID:    st.CurrentAppID,
		CurrentAppName:  st.CurrentAppName,
		CurrentBehavior: st.CurrentBehavior,
		FocusedAppID:    st.FocusedAppID,
		FocusedAppName:  st.FocusedAppName,
		KeyboardOK:      st.KeyboardOK,
		KeyboardDetail:  st.KeyboardDetail,
		TrackerOK:       st.TrackerOK,
		TrackerDetail:   st.TrackerDetail,
	}
	if n, err := h.manager.RuleCount(); err == nil {
		resp.RuleCount = n
	}

	return NewResponse(MsgStatusResp, msg.Header.RequestID, resp)
}

func (h *DaemonHandler) handleGetMode(msg *Message) (*Message, error) {
	return NewResponse(MsgGetModeResp, msg.Header.RequestID, &ModeResponse{
		State: h.switcher.CurrentState(),
	})
}

func (h *DaemonHandler) handleSetMode(sess *Session, msg *Message) (*Message, error) {
	if deny := h.requireWrite(sess, msg); deny != nil {
		return deny, nil
	}

	var req SetModeRequest
	if err := Decode(msg.Payload, &req); err != nil {
		return NewErrorMessage(msg.Header.RequestID, ErrInvalidRequest, "malformed set mode request"), nil
	}

	previous := h.switcher.CurrentState()
	if err := h.switcher.ForceMode(req.State); err != nil {
		if errors.Is(err, keymode.ErrInvalidState) {
			return NewErrorMessage(msg.Header.RequestID, ErrInvalidRequest, err.Error()), nil
		}
		return NewErrorMessage(msg.Header.RequestID, ErrInternalError, err.Error()), nil
	}

	h.logger.Info("mode forced over ipc",
		"state", req.State.String(),
		"previous", previous.String(),
		"client", sess.Name)

	return NewResponse(MsgSetModeResp, msg.Header.RequestID, &SetModeResponse{
		State:    req.State,
		Previous: previous,
	})
}

func (h *DaemonHandler) handleGetDefault(msg *Message) (*Message, error) {
	return NewResponse(MsgGetDefaultResp, msg.Header.RequestID, &DefaultResponse{
		Behavior: h.manager.DefaultBehavior(),
	})
}

func (h *DaemonHandler) handleSetDefault(sess *Session, msg *Message) (*Message, error) {
	if deny := h.requireWrite(sess, msg); deny != nil {
		return deny, nil
	}

	var req SetDefaultRequest
	if err := Decode(msg.Payload, &req); err != nil {
		return NewErrorMessage(msg.Header.RequestID, ErrInvalidRequest, "malformed set default request"), nil
	}

	if err := h.manager.SetDefaultBehavior(req.Behavior); err != nil {
		if errors.Is(err, behavior.ErrInheritedDefault) {
			return NewErrorMessage(msg.Header.RequestID, ErrInvalidRequest, err.Error()), nil
		}
		return NewErrorMessage(msg.Header.RequestID, ErrInternalError, err.Error()), nil
	}

	h.events.Publish(bus.DefaultChanged{Behavior: req.Behavior})

	return NewResponse(MsgSetDefaultResp, msg.Header.RequestID, &SetDefaultResponse{
		Behavior: req.Behavior,
	})
}

func (h *DaemonHandler) handleListRules(msg *Message) (*Message, error) {
	rules, err := h.manager.Rules()
	if err != nil {
		return NewErrorMessage(msg.Header.RequestID, ErrInternalError, err.Error()), nil
	}

	resp := &ListRulesResponse{
		Default: h.manager.DefaultBehavior(),
		Rules:   make([]RuleInfo, 0, len(rules)),
	}
	for _, r := range rules {
		resp.Rules = append(resp.Rules, RuleInfo{
			AppID:     r.AppID,
			Name:      r.AppName,
			Path:      r.AppPath,
			Behavior:  r.Behavior,
			CreatedAt: r.CreatedAt,
			UpdatedAt: r.UpdatedAt,
		})
	}

	return NewResponse(MsgListRulesResp, msg.Header.RequestID, resp)
}

func (h *DaemonHandler) handleSetRule(sess *Session, msg *Message) (*Message, error) {
	if deny := h.requireWrite(sess, msg); deny != nil {
		return deny, nil
	}

	var req SetRuleRequest
	if err := Decode(msg.Payload, &req); err != nil {
		return NewErrorMessage(msg.Header.RequestID, ErrInvalidRequest, "malformed set rule request"), nil
	}
	if req.AppID == "" {
		return NewErrorMessage(msg.Header.RequestID, ErrInvalidRequest, "app id is required"), nil
	}
	if !req.Behavior.Valid() {
		return NewErrorMessage(msg.Header.RequestID, ErrInvalidRequest, "unknown behavior"), nil
	}

	if err := h.manager.SetBehaviorFor(req.AppID, req.Name, req.Path, req.Behavior); err != nil {
		return NewErrorMessage(msg.Header.RequestID, ErrInternalError, err.Error()), nil
	}

	h.events.Publish(bus.BehaviorChanged{
		AppID:    req.AppID,
		AppName:  req.Name,
		AppPath:  req.Path,
		Behavior: req.Behavior,
		Origin:   bus.ParseOrigin(req.Origin),
	})

	return NewResponse(MsgSetRuleResp, msg.Header.RequestID, &SetRuleResponse{
		Rule: RuleInfo{
			AppID:    req.AppID,
			Name:     req.Name,
			Path:     req.Path,
			Behavior: req.Behavior,
		},
	})
}

func (h *DaemonHandler) handleDeleteRule(sess *Session, msg *Message) (*Message, error) {
	if deny := h.requireWrite(sess, msg); deny != nil {
		return deny, nil
	}

	var req DeleteRuleRequest
	if err := Decode(msg.Payload, &req); err != nil {
		return NewErrorMessage(msg.Header.RequestID, ErrInvalidRequest, "malformed delete rule request"), nil
	}
	if req.AppID == "" {
		return NewErrorMessage(msg.Header.RequestID, ErrInvalidRequest, "app id is required"), nil
	}

	removed := h.manager.BehaviorFor(req.AppID) != keymode.BehaviorInherited
	if err := h.manager.SetBehaviorFor(req.AppID, "", "", keymode.BehaviorInherited); err != nil {
		return NewErrorMessage(msg.Header.RequestID, ErrInternalError, err.Error()), nil
	}

	if removed {
		h.events.Publish(bus.BehaviorChanged{
			AppID:    req.AppID,
			Behavior: keymode.BehaviorInherited,
			Origin:   bus.ParseOrigin(req.Origin),
		})
	}

	return NewResponse(MsgDeleteRuleResp, msg.Header.RequestID, &DeleteRuleResponse{
		Removed: removed,
	})
}

func (h *DaemonHandler) handleListApps(msg *Message) (*Message, error) {
	apps, err := h.listApps()
	if err != nil {
		return NewErrorMessage(msg.Header.RequestID, ErrUnavailable, err.Error()), nil
	}

	resp := &ListAppsResponse{Apps: make([]AppEntry, 0, len(apps))}
	for _, app := range apps {
		b := h.manager.BehaviorFor(app.ID)
		resp.Apps = append(resp.Apps, AppEntry{
			ID:       app.ID,
			Name:     app.Name,
			Path:     app.Path,
			PID:      app.PID,
			Behavior: b,
			State:    h.manager.KeyboardStateFor(b),
		})
	}
	sort.Slice(resp.Apps, func(i, j int) bool {
		if resp.Apps[i].Name != resp.Apps[j].Name {
			return resp.Apps[i].Name < resp.Apps[j].Name
		}
		return resp.Apps[i].ID < resp.Apps[j].ID
	})

	return NewResponse(MsgListAppsResp, msg.Header.RequestID, resp)
}

func (h *DaemonHandler) handleExportRules(msg *Message) (*Message, error) {
	data, err := rulesio.ExportJSON(h.manager)
	if err != nil {
		return NewErrorMessage(msg.Header.RequestID, ErrInternalError, err.Error()), nil
	}

	return NewResponse(MsgExportRulesResp, msg.Header.RequestID, &ExportRulesResponse{
		Document: data,
	})
}

func (h *DaemonHandler) handleImportRules(sess *Session, msg *Message) (*Message, error) {
	if deny := h.requireWrite(sess, msg); deny != nil {
		return deny, nil
	}

	var req ImportRulesRequest
	if err := Decode(msg.Payload, &req); err != nil {
		return NewErrorMessage(msg.Header.RequestID, ErrInvalidRequest, "malformed import request"), nil
	}

	mode, err := rulesio.ParseMode(req.Mode)
	if err != nil {
		return NewErrorMessage(msg.Header.RequestID, ErrInvalidRequest, err.Error()), nil
	}
	doc, err := rulesio.Parse(req.Document)
	if err != nil {
		return NewErrorMessage(msg.Header.RequestID, ErrInvalidRequest, err.Error()), nil
	}

	res, err := rulesio.Import(h.manager, doc, mode)
	if err != nil {
		return NewErrorMessage(msg.Header.RequestID, ErrInternalError, err.Error()), nil
	}

	h.logger.Info("rules imported over ipc",
		"mode", mode.String(),
		"rules", res.RulesImported,
		"client", sess.Name)

	// A replace swaps the whole rule set; the default-changed event makes
	// the switcher re-resolve and every frontend reload. A merge announces
	// each touched rule.
	if res.Replaced {
		h.events.Publish(bus.DefaultChanged{Behavior: h.manager.DefaultBehavior()})
	} else {
		for _, r := range doc.Rules {
			h.events.Publish(bus.BehaviorChanged{
				AppID:    r.AppID,
				AppName:  r.Name,
				AppPath:  r.Path,
				Behavior: r.Behavior,
				Origin:   bus.OriginExternal,
			})
		}
	}

	return NewResponse(MsgImportRulesResp, msg.Header.RequestID, &ImportRulesResponse{
		RulesImported:  res.RulesImported,
		Replaced:       res.Replaced,
		DefaultApplied: res.DefaultApplied,
	})
}

func (h *DaemonHandler) handleOpenPanel(msg *Message) (*Message, error) {
	var req OpenPanelRequest
	if err := Decode(msg.Payload, &req); err != nil {
		return NewErrorMessage(msg.Header.RequestID, ErrInvalidRequest, "malformed open panel request"), nil
	}
	if req.Panel == "" {
		return NewErrorMessage(msg.Header.RequestID, ErrInvalidRequest, "panel kind is required"), nil
	}

	h.events.Publish(bus.PanelRequested{Panel: req.Panel})

	return NewResponse(MsgOpenPanelResp, msg.Header.RequestID, &OpenPanelResponse{
		Panel: req.Panel,
	})
}

func (h *DaemonHandler) handleShutdown(sess *Session, msg *Message) (*Message, error) {
	if deny := h.requireWrite(sess, msg); deny != nil {
		return deny, nil
	}
	if h.shutdown == nil {
		return NewErrorMessage(msg.Header.RequestID, ErrUnavailable, "shutdown not supported"), nil
	}

	h.logger.Info("shutdown requested over ipc", "client", sess.Name)

	// Let the response reach the client before the socket goes away.
	time.AfterFunc(100*time.Millisecond, h.shutdown)

	return NewMessage(MsgShutdownResp, msg.Header.RequestID, nil), nil
}

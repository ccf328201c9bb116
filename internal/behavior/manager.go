// Package behavior resolves the fn-key behavior for applications.
//
// A rule in the store pins an app to "apple" or "other"; everything else
// inherits the global default. The default itself is runtime-changeable
// and survives restarts through the store's settings table, which takes
// precedence over the value in the config file.
package behavior

import (
	"errors"
	"fmt"
	"sync"

	"fnmoded/internal/config"
	"fnmoded/internal/keymode"
	"fnmoded/internal/logging"
	"fnmoded/internal/store"
)

var (
	// ErrInheritedDefault is returned when the global default would be
	// set to the inherited behavior, which has nothing to inherit from.
	ErrInheritedDefault = errors.New("behavior: default must be apple or other")

	// ErrMissingAppID is returned for rule operations without an app id.
	ErrMissingAppID = errors.New("behavior: app id required")
)

// Manager answers behavior and keyboard-state questions for the switcher,
// the IPC handler and the frontends. All instances are constructed
// explicitly and injected; there is no package-level default.
type Manager struct {
	store  *store.Store
	logger *logging.Logger

	mu      sync.RWMutex
	cfg     *config.Config
	defMode keymode.AppBehavior
}

// New builds a manager over the rule store and the current config
// snapshot. The stored default mode wins over the config file's
// keyboard.default_mode when both are present.
func New(st *store.Store, cfg *config.Config, logger *logging.Logger) *Manager {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if logger == nil {
		logger = logging.Default()
	}
	m := &Manager{
		store:  st,
		logger: logger.WithComponent("behavior"),
		cfg:    cfg,
	}
	m.defMode = m.resolveDefault(cfg)
	return m
}

// resolveDefault derives the effective default behavior: stored setting
// first, config file second, apple as the last resort.
func (m *Manager) resolveDefault(cfg *config.Config) keymode.AppBehavior {
	if m.store != nil {
		value, err := m.store.GetSetting(store.SettingDefaultMode)
		if err != nil {
			m.logger.Warn("reading stored default mode", "error", err)
		} else if value != "" {
			b, perr := keymode.ParseAppBehavior(value)
			if perr == nil && b.Concrete() {
				return b
			}
			m.logger.Warn("ignoring invalid stored default mode", "value", value)
		}
	}
	if cfg != nil {
		b, err := keymode.ParseAppBehavior(cfg.Keyboard.DefaultMode)
		if err == nil && b.Concrete() {
			return b
		}
	}
	return keymode.BehaviorApple
}

// UpdateConfig swaps the preference snapshot after a config reload. The
// stored default mode keeps precedence over the new file value.
func (m *Manager) UpdateConfig(cfg *config.Config) {
	if cfg == nil {
		return
	}
	fresh := m.resolveDefault(cfg)
	m.mu.Lock()
	m.cfg = cfg
	m.defMode = fresh
	m.mu.Unlock()
}

// DefaultBehavior returns the global default. Always concrete.
func (m *Manager) DefaultBehavior() keymode.AppBehavior {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.defMode
}

// SetDefaultBehavior changes and persists the global default.
func (m *Manager) SetDefaultBehavior(b keymode.AppBehavior) error {
	if !b.Concrete() {
		return ErrInheritedDefault
	}
	if m.store != nil {
		if err := m.store.SetSetting(store.SettingDefaultMode, b.String()); err != nil {
			return fmt.Errorf("persist default mode: %w", err)
		}
	}
	m.mu.Lock()
	m.defMode = b
	m.mu.Unlock()
	m.logger.Info("default mode changed", "behavior", b.String())
	return nil
}

// BehaviorFor returns the app's rule, or BehaviorInherited when it has
// none. Store failures degrade to inherited so a broken database never
// blocks focus handling.
func (m *Manager) BehaviorFor(appID string) keymode.AppBehavior {
	if appID == "" || m.store == nil {
		return keymode.BehaviorInherited
	}
	rule, err := m.store.GetRule(appID)
	if err != nil {
		m.logger.Error("looking up rule", "app_id", appID, "error", err)
		return keymode.BehaviorInherited
	}
	if rule == nil {
		return keymode.BehaviorInherited
	}
	return rule.Behavior
}

// KeyboardStateFor resolves a behavior to the hardware state it demands,
// routing inherited through the global default.
func (m *Manager) KeyboardStateFor(b keymode.AppBehavior) keymode.KeyboardState {
	if b == keymode.BehaviorInherited {
		b = m.DefaultBehavior()
	}
	return b.KeyboardState()
}

// SetBehaviorFor upserts a rule for the app. BehaviorInherited removes
// the rule instead: an inherited override is the absence of a rule.
func (m *Manager) SetBehaviorFor(appID, name, path string, b keymode.AppBehavior) error {
	if appID == "" {
		return ErrMissingAppID
	}
	if m.store == nil {
		return errors.New("behavior: no rule store")
	}
	if b == keymode.BehaviorInherited {
		removed, err := m.store.DeleteRule(appID)
		if err != nil {
			return fmt.Errorf("delete rule: %w", err)
		}
		if removed {
			m.logger.Info("rule removed", "app_id", appID)
		}
		return nil
	}
	rule := &store.Rule{
		AppID:    appID,
		AppName:  name,
		AppPath:  path,
		Behavior: b,
	}
	if err := m.store.UpsertRule(rule); err != nil {
		return fmt.Errorf("save rule: %w", err)
	}
	m.logger.Info("rule saved", "app_id", appID, "behavior", b.String())
	return nil
}

// StateAccordingToPreferences is the state the default behavior implies.
func (m *Manager) StateAccordingToPreferences() keymode.KeyboardState {
	return m.DefaultBehavior().KeyboardState()
}

// ShouldRestoreStateOnQuit reports whether the daemon restores a keyboard
// state when it shuts down.
func (m *Manager) ShouldRestoreStateOnQuit() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cfg.Keyboard.RestoreStateOnQuit
}

// ShouldRestorePreviousState reports whether quit restoration targets the
// state found at launch rather than a fixed one.
func (m *Manager) ShouldRestorePreviousState() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cfg.Keyboard.RestorePreviousState
}

// OnQuitState is the fixed state applied at shutdown when the previous
// state is not being restored. Falls back to apple on a bad config value.
func (m *Manager) OnQuitState() keymode.KeyboardState {
	m.mu.RLock()
	mode := m.cfg.Keyboard.OnQuitState
	m.mu.RUnlock()
	state, err := keymode.ParseKeyboardState(mode)
	if err != nil || !state.Valid() {
		return keymode.StateApple
	}
	return state
}

// Rules lists every stored rule, sorted by app name.
func (m *Manager) Rules() ([]store.Rule, error) {
	if m.store == nil {
		return nil, nil
	}
	return m.store.ListRules()
}

// RuleCount returns the number of stored rules, for status reporting.
func (m *Manager) RuleCount() (int, error) {
	if m.store == nil {
		return 0, nil
	}
	return m.store.CountRules()
}

// ReplaceRules swaps the entire rule set, used by replace-mode import.
// The default behavior is untouched unless setDefault is concrete.
func (m *Manager) ReplaceRules(rules []store.Rule, setDefault keymode.AppBehavior) error {
	if m.store == nil {
		return errors.New("behavior: no rule store")
	}
	if err := m.store.ReplaceAllRules(rules); err != nil {
		return fmt.Errorf("replace rules: %w", err)
	}
	if setDefault.Concrete() {
		if err := m.SetDefaultBehavior(setDefault); err != nil {
			return err
		}
	}
	m.logger.Info("rules replaced", "count", len(rules))
	return nil
}

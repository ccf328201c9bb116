package behavior

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fnmoded/internal/config"
	"fnmoded/internal/keymode"
	"fnmoded/internal/logging"
	"fnmoded/internal/store"
)

func testLogger(t *testing.T) *logging.Logger {
	t.Helper()
	logger, err := logging.New(&logging.Config{
		Level:     logging.LevelError,
		Format:    logging.FormatText,
		Output:    "stderr",
		Component: "test",
	})
	require.NoError(t, err)
	t.Cleanup(func() { logger.Close() })
	return logger
}

func createTestManager(t *testing.T) (*Manager, *store.Store) {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "rules.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	return New(st, config.DefaultConfig(), testLogger(t)), st
}

func TestDefaultBehaviorFromConfig(t *testing.T) {
	st, err := store.Open(filepath.Join(t.TempDir(), "rules.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	cfg := config.DefaultConfig()
	cfg.Keyboard.DefaultMode = config.ModeOther

	m := New(st, cfg, testLogger(t))
	assert.Equal(t, keymode.BehaviorOther, m.DefaultBehavior())
}

func TestDefaultBehaviorStoredOverridesConfig(t *testing.T) {
	st, err := store.Open(filepath.Join(t.TempDir(), "rules.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	require.NoError(t, st.SetSetting(store.SettingDefaultMode, "other"))

	cfg := config.DefaultConfig()
	cfg.Keyboard.DefaultMode = config.ModeApple

	m := New(st, cfg, testLogger(t))
	assert.Equal(t, keymode.BehaviorOther, m.DefaultBehavior())
}

func TestSetDefaultBehaviorPersists(t *testing.T) {
	m, st := createTestManager(t)

	require.NoError(t, m.SetDefaultBehavior(keymode.BehaviorOther))
	assert.Equal(t, keymode.BehaviorOther, m.DefaultBehavior())

	value, err := st.GetSetting(store.SettingDefaultMode)
	require.NoError(t, err)
	assert.Equal(t, "other", value)

	// A fresh manager over the same store sees the stored default.
	again := New(st, config.DefaultConfig(), testLogger(t))
	assert.Equal(t, keymode.BehaviorOther, again.DefaultBehavior())
}

func TestSetDefaultBehaviorRejectsInherited(t *testing.T) {
	m, _ := createTestManager(t)

	err := m.SetDefaultBehavior(keymode.BehaviorInherited)
	assert.ErrorIs(t, err, ErrInheritedDefault)
	assert.Equal(t, keymode.BehaviorApple, m.DefaultBehavior())
}

func TestBehaviorForUnknownApp(t *testing.T) {
	m, _ := createTestManager(t)

	assert.Equal(t, keymode.BehaviorInherited, m.BehaviorFor("com.example.unknown"))
	assert.Equal(t, keymode.BehaviorInherited, m.BehaviorFor(""))
}

func TestSetBehaviorForAndResolve(t *testing.T) {
	m, _ := createTestManager(t)

	err := m.SetBehaviorFor("com.apple.Terminal", "Terminal", "/System/Applications/Utilities/Terminal.app", keymode.BehaviorOther)
	require.NoError(t, err)

	assert.Equal(t, keymode.BehaviorOther, m.BehaviorFor("com.apple.Terminal"))
	assert.Equal(t, keymode.StateOther, m.KeyboardStateFor(m.BehaviorFor("com.apple.Terminal")))

	rules, err := m.Rules()
	require.NoError(t, err)
	require.Len(t, rules, 1)
	assert.Equal(t, "Terminal", rules[0].AppName)
}

func TestKeyboardStateForInheritedFollowsDefault(t *testing.T) {
	m, _ := createTestManager(t)

	assert.Equal(t, keymode.StateApple, m.KeyboardStateFor(keymode.BehaviorInherited))

	require.NoError(t, m.SetDefaultBehavior(keymode.BehaviorOther))
	assert.Equal(t, keymode.StateOther, m.KeyboardStateFor(keymode.BehaviorInherited))

	// Concrete behaviors ignore the default.
	assert.Equal(t, keymode.StateApple, m.KeyboardStateFor(keymode.BehaviorApple))
}

func TestSetBehaviorForInheritedDeletesRule(t *testing.T) {
	m, st := createTestManager(t)

	require.NoError(t, m.SetBehaviorFor("com.example.app", "App", "", keymode.BehaviorApple))
	require.NoError(t, m.SetBehaviorFor("com.example.app", "App", "", keymode.BehaviorInherited))

	rule, err := st.GetRule("com.example.app")
	require.NoError(t, err)
	assert.Nil(t, rule)

	// Removing a rule that never existed is silent.
	assert.NoError(t, m.SetBehaviorFor("com.example.other", "", "", keymode.BehaviorInherited))
}

func TestSetBehaviorForRequiresAppID(t *testing.T) {
	m, _ := createTestManager(t)

	err := m.SetBehaviorFor("", "App", "", keymode.BehaviorApple)
	assert.ErrorIs(t, err, ErrMissingAppID)
}

func TestStateAccordingToPreferences(t *testing.T) {
	m, _ := createTestManager(t)

	assert.Equal(t, keymode.StateApple, m.StateAccordingToPreferences())
	require.NoError(t, m.SetDefaultBehavior(keymode.BehaviorOther))
	assert.Equal(t, keymode.StateOther, m.StateAccordingToPreferences())
}

func TestQuitPolicy(t *testing.T) {
	st, err := store.Open(filepath.Join(t.TempDir(), "rules.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	cfg := config.DefaultConfig()
	cfg.Keyboard.RestoreStateOnQuit = true
	cfg.Keyboard.RestorePreviousState = false
	cfg.Keyboard.OnQuitState = "other"

	m := New(st, cfg, testLogger(t))
	assert.True(t, m.ShouldRestoreStateOnQuit())
	assert.False(t, m.ShouldRestorePreviousState())
	assert.Equal(t, keymode.StateOther, m.OnQuitState())
}

func TestOnQuitStateFallsBackToApple(t *testing.T) {
	st, err := store.Open(filepath.Join(t.TempDir(), "rules.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	cfg := config.DefaultConfig()
	cfg.Keyboard.OnQuitState = "sideways"

	m := New(st, cfg, testLogger(t))
	assert.Equal(t, keymode.StateApple, m.OnQuitState())
}

func TestUpdateConfigRecomputesDefault(t *testing.T) {
	m, st := createTestManager(t)
	assert.Equal(t, keymode.BehaviorApple, m.DefaultBehavior())

	next := config.DefaultConfig()
	next.Keyboard.DefaultMode = config.ModeOther
	m.UpdateConfig(next)
	assert.Equal(t, keymode.BehaviorOther, m.DefaultBehavior())

	// A stored default keeps precedence over the reloaded file value.
	require.NoError(t, st.SetSetting(store.SettingDefaultMode, "apple"))
	m.UpdateConfig(next)
	assert.Equal(t, keymode.BehaviorApple, m.DefaultBehavior())
}

func TestReplaceRules(t *testing.T) {
	m, _ := createTestManager(t)

	require.NoError(t, m.SetBehaviorFor("com.example.old", "Old", "", keymode.BehaviorApple))

	err := m.ReplaceRules([]store.Rule{
		{AppID: "com.example.one", AppName: "One", Behavior: keymode.BehaviorOther},
		{AppID: "com.example.two", AppName: "Two", Behavior: keymode.BehaviorApple},
	}, keymode.BehaviorOther)
	require.NoError(t, err)

	assert.Equal(t, keymode.BehaviorInherited, m.BehaviorFor("com.example.old"))
	assert.Equal(t, keymode.BehaviorOther, m.BehaviorFor("com.example.one"))
	assert.Equal(t, keymode.BehaviorOther, m.DefaultBehavior())

	count, err := m.RuleCount()
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

func TestReplaceRulesKeepsDefaultWhenInherited(t *testing.T) {
	m, _ := createTestManager(t)

	require.NoError(t, m.ReplaceRules(nil, keymode.BehaviorInherited))
	assert.Equal(t, keymode.BehaviorApple, m.DefaultBehavior())
}

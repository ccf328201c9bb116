package main

import (
	"testing"

	"github.com/charmbracelet/bubbles/textinput"

	"fnmoded/internal/ipc"
	"fnmoded/internal/keymode"
)

func TestMergeRows(t *testing.T) {
	rules := []ipc.RuleInfo{
		{AppID: "b.beta", Name: "Beta", Behavior: keymode.BehaviorApple},
		{AppID: "z.zulu", Behavior: keymode.BehaviorOther},
	}
	apps := []ipc.AppEntry{
		{ID: "b.beta", Name: "Beta", Behavior: keymode.BehaviorApple},
		{ID: "a.alpha", Name: "Alpha", Behavior: keymode.BehaviorInherited},
	}

	rows := mergeRows(rules, apps)
	if len(rows) != 3 {
		t.Fatalf("got %d rows, want 3", len(rows))
	}

	// Sorted by display name: Alpha, Beta, z.zulu.
	if rows[0].appID != "a.alpha" || rows[0].hasRule || !rows[0].running {
		t.Errorf("row 0 = %+v, want running Alpha without a rule", rows[0])
	}
	if rows[1].appID != "b.beta" || !rows[1].hasRule || !rows[1].running {
		t.Errorf("row 1 = %+v, want running Beta with a rule", rows[1])
	}
	if rows[2].appID != "z.zulu" || !rows[2].hasRule || rows[2].running {
		t.Errorf("row 2 = %+v, want stopped z.zulu with a rule", rows[2])
	}
	if rows[2].displayName() != "z.zulu" {
		t.Errorf("nameless rule displays as %q, want its id", rows[2].displayName())
	}
}

func TestMergeRowsFillsNameFromRunningApp(t *testing.T) {
	rules := []ipc.RuleInfo{{AppID: "a.app", Behavior: keymode.BehaviorOther}}
	apps := []ipc.AppEntry{{ID: "a.app", Name: "Actual Name"}}

	rows := mergeRows(rules, apps)
	if len(rows) != 1 || rows[0].name != "Actual Name" {
		t.Fatalf("rows = %+v, want name filled from running app", rows)
	}
}

func TestNextBehaviorCycle(t *testing.T) {
	order := []keymode.AppBehavior{
		keymode.BehaviorInherited,
		keymode.BehaviorApple,
		keymode.BehaviorOther,
		keymode.BehaviorInherited,
	}
	for i := 0; i < len(order)-1; i++ {
		if got := nextBehavior(order[i]); got != order[i+1] {
			t.Errorf("nextBehavior(%s) = %s, want %s", order[i], got, order[i+1])
		}
	}
}

func testModel(names ...string) rulesModel {
	m := rulesModel{filter: textinput.New()}
	for i, name := range names {
		m.rows = append(m.rows, ruleRow{appID: name, name: name})
		m.visible = append(m.visible, i)
	}
	return m
}

func TestRefilterNarrowsAndRestores(t *testing.T) {
	m := testModel("Firefox", "Terminal", "Xcode")

	m.filter.SetValue("term")
	m.refilter()
	if len(m.visible) != 1 || m.rows[m.visible[0]].name != "Terminal" {
		t.Fatalf("filtered visible = %v, want just Terminal", m.visible)
	}

	m.filter.SetValue("")
	m.refilter()
	if len(m.visible) != 3 {
		t.Fatalf("cleared filter shows %d rows, want 3", len(m.visible))
	}
}

func TestRefilterClampsCursor(t *testing.T) {
	m := testModel("Firefox", "Terminal", "Xcode")
	m.cursor = 2

	m.filter.SetValue("fire")
	m.refilter()
	if m.cursor != 0 {
		t.Fatalf("cursor = %d after narrowing to one row, want 0", m.cursor)
	}
}

func TestMoveCursorBounds(t *testing.T) {
	m := testModel("Firefox", "Terminal")

	m.moveCursor(-1)
	if m.cursor != 0 {
		t.Fatalf("cursor = %d, want 0 at top", m.cursor)
	}
	m.moveCursor(1)
	m.moveCursor(1)
	if m.cursor != 1 {
		t.Fatalf("cursor = %d, want 1 at bottom", m.cursor)
	}
}

func TestSelectedEmpty(t *testing.T) {
	var m rulesModel
	if _, ok := m.selected(); ok {
		t.Fatal("selected() returned a row from an empty model")
	}
}

func TestWindowKeepsCursorInside(t *testing.T) {
	m := testModel("a", "b", "c", "d", "e", "f", "g", "h", "i", "j")
	m.height = 12 // 4 content rows after chrome, clamped up to 5
	m.cursor = 9

	top, bottom := m.window()
	if m.cursor < top || m.cursor >= bottom {
		t.Fatalf("cursor %d outside window [%d, %d)", m.cursor, top, bottom)
	}
	if bottom > len(m.visible) {
		t.Fatalf("window end %d past the row count", bottom)
	}
}

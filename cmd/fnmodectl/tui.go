package main

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/lithammer/fuzzysearch/fuzzy"

	"fnmoded/internal/ipc"
	"fnmoded/internal/keymode"
)

var (
	titleStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("81"))
	cursorStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("205"))
	appleStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	otherStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	inheritStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("243"))
	runningStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("115"))
	statusStyle  = lipgloss.NewStyle().Italic(true).Foreground(lipgloss.Color("243"))
	failStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	helpStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
)

// cmdRules runs the interactive rule editor.
func cmdRules() {
	if !stdoutIsTerminal {
		printError("The rules editor needs a terminal. Use 'rule list' instead.")
		os.Exit(1)
	}

	client := newClient()
	defer client.Close()

	if err := client.Subscribe(); err != nil {
		printError(fmt.Sprintf("Subscribing: %v", err))
		os.Exit(1)
	}

	p := tea.NewProgram(newRulesModel(client), tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		printError(fmt.Sprintf("Rules editor: %v", err))
		os.Exit(1)
	}
}

// ruleRow is one editable line: an app known from a stored rule, from
// the running-app list, or both.
type ruleRow struct {
	appID    string
	name     string
	behavior keymode.AppBehavior
	hasRule  bool
	running  bool
}

func (r ruleRow) displayName() string {
	if r.name != "" {
		return r.name
	}
	return r.appID
}

type rulesModel struct {
	client *ipc.Client
	events <-chan *ipc.Event

	rows    []ruleRow
	visible []int
	cursor  int

	defaultBehavior keymode.AppBehavior

	filter    textinput.Model
	filtering bool

	spin    spinner.Model
	loading bool

	status string
	width  int
	height int
}

func newRulesModel(client *ipc.Client) rulesModel {
	ti := textinput.New()
	ti.Placeholder = "type to filter"
	ti.Prompt = "/ "
	ti.CharLimit = 48

	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = cursorStyle

	return rulesModel{
		client:  client,
		events:  client.Events(),
		filter:  ti,
		spin:    sp,
		loading: true,
	}
}

type rulesLoadedMsg struct {
	rows            []ruleRow
	defaultBehavior keymode.AppBehavior
}

type ruleSavedMsg struct {
	appID    string
	behavior keymode.AppBehavior
}

type daemonEventMsg struct{ event *ipc.Event }

type eventsClosedMsg struct{}

type tuiErrMsg struct{ err error }

func loadRules(client *ipc.Client) tea.Cmd {
	return func() tea.Msg {
		resp, err := client.ListRules()
		if err != nil {
			return tuiErrMsg{err}
		}
		// Running apps are merged in so rules can be added without
		// typing identifiers. The tracker may be down; stored rules
		// stay editable either way.
		apps, _ := client.ListApps()
		return rulesLoadedMsg{rows: mergeRows(resp.Rules, apps), defaultBehavior: resp.Default}
	}
}

func saveRule(client *ipc.Client, row ruleRow, next keymode.AppBehavior) tea.Cmd {
	return func() tea.Msg {
		if next == keymode.BehaviorInherited {
			if _, err := client.DeleteRule(row.appID, ""); err != nil {
				return tuiErrMsg{err}
			}
			return ruleSavedMsg{appID: row.appID, behavior: next}
		}
		rule, err := client.SetRule(&ipc.SetRuleRequest{
			AppID:    row.appID,
			Name:     row.name,
			Behavior: next,
		})
		if err != nil {
			return tuiErrMsg{err}
		}
		return ruleSavedMsg{appID: rule.AppID, behavior: rule.Behavior}
	}
}

// waitForDaemonEvent bridges the client's event channel into the
// program. Re-issued after every received event.
func waitForDaemonEvent(events <-chan *ipc.Event) tea.Cmd {
	return func() tea.Msg {
		event, ok := <-events
		if !ok {
			return eventsClosedMsg{}
		}
		return daemonEventMsg{event: event}
	}
}

func mergeRows(rules []ipc.RuleInfo, apps []ipc.AppEntry) []ruleRow {
	index := make(map[string]int, len(rules))
	rows := make([]ruleRow, 0, len(rules)+len(apps))

	for _, r := range rules {
		index[r.AppID] = len(rows)
		rows = append(rows, ruleRow{
			appID:    r.AppID,
			name:     r.Name,
			behavior: r.Behavior,
			hasRule:  true,
		})
	}
	for _, app := range apps {
		if i, ok := index[app.ID]; ok {
			rows[i].running = true
			if rows[i].name == "" {
				rows[i].name = app.Name
			}
			continue
		}
		index[app.ID] = len(rows)
		rows = append(rows, ruleRow{
			appID:    app.ID,
			name:     app.Name,
			behavior: app.Behavior,
			running:  true,
		})
	}

	sort.Slice(rows, func(i, j int) bool {
		return strings.ToLower(rows[i].displayName()) < strings.ToLower(rows[j].displayName())
	})
	return rows
}

func nextBehavior(b keymode.AppBehavior) keymode.AppBehavior {
	switch b {
	case keymode.BehaviorInherited:
		return keymode.BehaviorApple
	case keymode.BehaviorApple:
		return keymode.BehaviorOther
	default:
		return keymode.BehaviorInherited
	}
}

func (m rulesModel) Init() tea.Cmd {
	return tea.Batch(m.spin.Tick, loadRules(m.client), waitForDaemonEvent(m.events))
}

func (m rulesModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		return m, nil

	case spinner.TickMsg:
		if !m.loading {
			return m, nil
		}
		var cmd tea.Cmd
		m.spin, cmd = m.spin.Update(msg)
		return m, cmd

	case rulesLoadedMsg:
		m.loading = false
		m.rows = msg.rows
		m.defaultBehavior = msg.defaultBehavior
		m.refilter()
		return m, nil

	case ruleSavedMsg:
		// The daemon broadcasts the rule change back to us, which
		// triggers the reload. Only the status line updates here.
		m.status = fmt.Sprintf("%s set to %s", msg.appID, msg.behavior)
		return m, nil

	case daemonEventMsg:
		return m.handleDaemonEvent(msg.event)

	case eventsClosedMsg:
		return m, tea.Quit

	case tuiErrMsg:
		m.loading = false
		m.status = failStyle.Render(msg.err.Error())
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(msg)
	}

	return m, nil
}

func (m rulesModel) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if m.filtering {
		switch msg.String() {
		case "esc":
			m.filtering = false
			m.filter.SetValue("")
			m.filter.Blur()
			m.refilter()
			return m, nil
		case "enter":
			m.filtering = false
			m.filter.Blur()
			return m, nil
		default:
			var cmd tea.Cmd
			m.filter, cmd = m.filter.Update(msg)
			m.refilter()
			return m, cmd
		}
	}

	switch msg.String() {
	case "q", "ctrl+c":
		return m, tea.Quit
	case "up", "k":
		m.moveCursor(-1)
	case "down", "j":
		m.moveCursor(1)
	case "g", "home":
		m.cursor = 0
	case "G", "end":
		if len(m.visible) > 0 {
			m.cursor = len(m.visible) - 1
		}
	case "/":
		m.filtering = true
		m.filter.Focus()
		return m, textinput.Blink
	case " ", "enter":
		if row, ok := m.selected(); ok {
			return m, saveRule(m.client, row, nextBehavior(row.behavior))
		}
	case "a":
		if row, ok := m.selected(); ok && row.behavior != keymode.BehaviorApple {
			return m, saveRule(m.client, row, keymode.BehaviorApple)
		}
	case "o":
		if row, ok := m.selected(); ok && row.behavior != keymode.BehaviorOther {
			return m, saveRule(m.client, row, keymode.BehaviorOther)
		}
	case "i", "d":
		if row, ok := m.selected(); ok && row.hasRule {
			return m, saveRule(m.client, row, keymode.BehaviorInherited)
		}
	case "r":
		m.loading = true
		return m, tea.Batch(m.spin.Tick, loadRules(m.client))
	}
	return m, nil
}

func (m rulesModel) handleDaemonEvent(event *ipc.Event) (tea.Model, tea.Cmd) {
	rearm := waitForDaemonEvent(m.events)

	switch event.Type {
	case ipc.EventDaemonShutdown:
		return m, tea.Quit
	case ipc.EventRuleChanged, ipc.EventDefaultChanged, ipc.EventFocusChanged:
		// Rules, the inherited default, or the running set moved
		// under us.
		return m, tea.Batch(loadRules(m.client), rearm)
	}
	return m, rearm
}

func (m *rulesModel) refilter() {
	query := strings.TrimSpace(m.filter.Value())

	m.visible = m.visible[:0]
	if query == "" {
		for i := range m.rows {
			m.visible = append(m.visible, i)
		}
	} else {
		labels := make([]string, len(m.rows))
		for i, row := range m.rows {
			labels[i] = row.displayName()
		}
		ranks := fuzzy.RankFindNormalizedFold(query, labels)
		sort.Sort(ranks)
		for _, rank := range ranks {
			m.visible = append(m.visible, rank.OriginalIndex)
		}
	}

	if m.cursor >= len(m.visible) {
		m.cursor = len(m.visible) - 1
	}
	if m.cursor < 0 {
		m.cursor = 0
	}
}

func (m *rulesModel) moveCursor(delta int) {
	if len(m.visible) == 0 {
		m.cursor = 0
		return
	}
	m.cursor += delta
	if m.cursor < 0 {
		m.cursor = 0
	}
	if m.cursor >= len(m.visible) {
		m.cursor = len(m.visible) - 1
	}
}

func (m rulesModel) selected() (ruleRow, bool) {
	if m.cursor < 0 || m.cursor >= len(m.visible) {
		return ruleRow{}, false
	}
	return m.rows[m.visible[m.cursor]], true
}

func (m rulesModel) ruleCount() int {
	n := 0
	for _, row := range m.rows {
		if row.hasRule {
			n++
		}
	}
	return n
}

// window returns the half-open range of visible rows that fits the
// terminal, keeping the cursor inside it.
func (m rulesModel) window() (int, int) {
	rows := m.height - 8
	if rows < 5 {
		rows = 5
	}
	if len(m.visible) <= rows {
		return 0, len(m.visible)
	}
	top := m.cursor - rows/2
	if top < 0 {
		top = 0
	}
	if top+rows > len(m.visible) {
		top = len(m.visible) - rows
	}
	return top, top + rows
}

func (m rulesModel) View() string {
	if m.loading {
		return fmt.Sprintf("\n  %s loading rules...\n", m.spin.View())
	}

	var b strings.Builder

	b.WriteString("  ")
	b.WriteString(titleStyle.Render("fnmoded rules"))
	b.WriteString(inheritStyle.Render(fmt.Sprintf("   default %s, %d rules", m.defaultBehavior, m.ruleCount())))
	b.WriteString("\n\n")

	if m.filtering || m.filter.Value() != "" {
		b.WriteString("  " + m.filter.View() + "\n\n")
	}

	if len(m.visible) == 0 {
		b.WriteString(inheritStyle.Render("  nothing matches") + "\n")
	}

	top, bottom := m.window()
	for vi := top; vi < bottom; vi++ {
		row := m.rows[m.visible[vi]]

		cursor := "  "
		if vi == m.cursor {
			cursor = cursorStyle.Render("> ")
		}

		marker := " "
		if row.running {
			marker = runningStyle.Render("*")
		}

		name := row.displayName()
		if utf8.RuneCountInString(name) > 34 {
			name = string([]rune(name)[:33]) + "~"
		}

		fmt.Fprintf(&b, "%s%s %-34s %s\n", cursor, marker, name, renderBehavior(row.behavior))
	}

	b.WriteString("\n")
	if m.status != "" {
		b.WriteString("  " + statusStyle.Render(m.status) + "\n")
	}
	b.WriteString(helpStyle.Render("  space cycle • a apple • o other • i inherit • / filter • r reload • q quit"))
	b.WriteString("\n")
	return b.String()
}

func renderBehavior(b keymode.AppBehavior) string {
	switch b {
	case keymode.BehaviorApple:
		return appleStyle.Render("apple")
	case keymode.BehaviorOther:
		return otherStyle.Render("other")
	default:
		return inheritStyle.Render("inherited")
	}
}

package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"fnmoded/internal/ipc"
	"fnmoded/internal/keymode"
	"fnmoded/internal/panel"
)

func cmdStatus() {
	client := newClient()
	defer client.Close()

	status, err := client.Status()
	if err != nil {
		printError(fmt.Sprintf("Getting status: %v", err))
		os.Exit(1)
	}

	if *jsonOut {
		outputJSON(status)
		return
	}

	if !stdoutIsTerminal {
		fmt.Printf("version\t%s\n", status.Version)
		fmt.Printf("uptime\t%s\n", status.Uptime.Round(time.Second))
		fmt.Printf("mode\t%s\n", status.CurrentState)
		fmt.Printf("default\t%s\n", status.DefaultBehavior)
		fmt.Printf("app\t%s\n", status.CurrentAppID)
		fmt.Printf("rules\t%d\n", status.RuleCount)
		return
	}

	printSection("DAEMON")
	fmt.Printf("  %sVersion%s     %s%s%s\n", c.Dim, c.Reset, c.Cyan, status.Version, c.Reset)
	fmt.Printf("  %sStarted%s     %s\n", c.Dim, c.Reset, status.StartedAt.Local().Format(time.RFC3339))
	fmt.Printf("  %sUptime%s      %s\n", c.Dim, c.Reset, status.Uptime.Round(time.Second))
	fmt.Printf("  %sRules%s       %d\n", c.Dim, c.Reset, status.RuleCount)

	printSection("KEYBOARD")
	fmt.Printf("  %sMode%s        %s\n", c.Dim, c.Reset, stateLabel(status.CurrentState))
	fmt.Printf("  %sAt launch%s   %s\n", c.Dim, c.Reset, status.LaunchState)
	fmt.Printf("  %sDefault%s     %s\n", c.Dim, c.Reset, behaviorLabel(status.DefaultBehavior))
	printProbe("Switcher", status.KeyboardOK, status.KeyboardDetail)

	printSection("FOCUS")
	if status.CurrentAppID != "" {
		name := status.CurrentAppName
		if name == "" {
			name = status.CurrentAppID
		}
		fmt.Printf("  %sActive app%s  %s%s%s %s(%s)%s\n", c.Dim, c.Reset, c.Cyan, name, c.Reset, c.Dim, status.CurrentAppID, c.Reset)
		fmt.Printf("  %sBehavior%s    %s\n", c.Dim, c.Reset, behaviorLabel(status.CurrentBehavior))
	} else {
		fmt.Printf("  %sActive app%s  %snone seen yet%s\n", c.Dim, c.Reset, c.Dim, c.Reset)
	}
	printProbe("Tracker", status.TrackerOK, status.TrackerDetail)

	fmt.Println()
}

func printProbe(label string, ok bool, detail string) {
	verdict := fmt.Sprintf("%s%sOK%s", c.Bold, c.Green, c.Reset)
	if !ok {
		verdict = fmt.Sprintf("%s%sUNAVAILABLE%s", c.Bold, c.Red, c.Reset)
	}
	if detail != "" {
		verdict += fmt.Sprintf(" %s(%s)%s", c.Dim, detail, c.Reset)
	}
	fmt.Printf("  %s%-11s%s %s\n", c.Dim, label, c.Reset, verdict)
}

func cmdMode(args []string) {
	action := "get"
	if len(args) > 0 {
		action = args[0]
	}

	switch action {
	case "get":
		client := newClient()
		defer client.Close()

		state, err := client.Mode()
		if err != nil {
			printError(fmt.Sprintf("Getting mode: %v", err))
			os.Exit(1)
		}
		if *jsonOut {
			outputJSON(map[string]keymode.KeyboardState{"state": state})
			return
		}
		if !stdoutIsTerminal {
			fmt.Println(state)
			return
		}
		fmt.Printf("Keyboard mode: %s\n", stateLabel(state))

	case "set":
		if len(args) < 2 {
			fmt.Fprintln(os.Stderr, "Usage: fnmodectl mode set <apple|other>")
			os.Exit(1)
		}
		state, err := keymode.ParseKeyboardState(args[1])
		if err != nil || !state.Valid() {
			printError(fmt.Sprintf("Invalid mode %q (want apple or other)", args[1]))
			os.Exit(1)
		}

		client := newClient()
		defer client.Close()

		resp, err := client.SetMode(state)
		if err != nil {
			printError(fmt.Sprintf("Setting mode: %v", err))
			os.Exit(1)
		}
		if *jsonOut {
			outputJSON(resp)
			return
		}
		if resp.Previous == resp.State {
			fmt.Printf("Keyboard mode already %s\n", stateLabel(resp.State))
			return
		}
		fmt.Printf("Keyboard mode: %s -> %s\n", resp.Previous, stateLabel(resp.State))

	default:
		fmt.Fprintln(os.Stderr, "Usage: fnmodectl mode [get|set <apple|other>]")
		os.Exit(1)
	}
}

func cmdDefault(args []string) {
	action := "get"
	if len(args) > 0 {
		action = args[0]
	}

	switch action {
	case "get":
		client := newClient()
		defer client.Close()

		behavior, err := client.DefaultBehavior()
		if err != nil {
			printError(fmt.Sprintf("Getting default behavior: %v", err))
			os.Exit(1)
		}
		if *jsonOut {
			outputJSON(map[string]keymode.AppBehavior{"behavior": behavior})
			return
		}
		if !stdoutIsTerminal {
			fmt.Println(behavior)
			return
		}
		fmt.Printf("Default behavior: %s\n", behaviorLabel(behavior))

	case "set":
		if len(args) < 2 {
			fmt.Fprintln(os.Stderr, "Usage: fnmodectl default set <apple|other>")
			os.Exit(1)
		}
		behavior, err := keymode.ParseAppBehavior(args[1])
		if err != nil || !behavior.Concrete() {
			printError(fmt.Sprintf("Invalid default %q (want apple or other)", args[1]))
			os.Exit(1)
		}

		client := newClient()
		defer client.Close()

		if err := client.SetDefaultBehavior(behavior); err != nil {
			printError(fmt.Sprintf("Setting default behavior: %v", err))
			os.Exit(1)
		}
		if *jsonOut {
			outputJSON(map[string]keymode.AppBehavior{"behavior": behavior})
			return
		}
		fmt.Printf("Default behavior: %s\n", behaviorLabel(behavior))

	default:
		fmt.Fprintln(os.Stderr, "Usage: fnmodectl default [get|set <apple|other>]")
		os.Exit(1)
	}
}

func cmdRule(args []string) {
	if len(args) == 0 {
		args = []string{"list"}
	}

	switch args[0] {
	case "list", "ls":
		ruleList()
	case "set", "add":
		if len(args) < 3 {
			fmt.Fprintln(os.Stderr, "Usage: fnmodectl rule set <app> <apple|other|inherited>")
			os.Exit(1)
		}
		ruleSet(args[1], args[2])
	case "rm", "remove", "del":
		if len(args) < 2 {
			fmt.Fprintln(os.Stderr, "Usage: fnmodectl rule rm <app>")
			os.Exit(1)
		}
		ruleRemove(args[1])
	default:
		fmt.Fprintf(os.Stderr, "Unknown rule action: %s\n", args[0])
		fmt.Fprintln(os.Stderr, "Usage: fnmodectl rule <list|set|rm> ...")
		os.Exit(1)
	}
}

func ruleList() {
	client := newClient()
	defer client.Close()

	resp, err := client.ListRules()
	if err != nil {
		printError(fmt.Sprintf("Listing rules: %v", err))
		os.Exit(1)
	}

	if *jsonOut {
		outputJSON(resp)
		return
	}

	if !stdoutIsTerminal {
		for _, r := range resp.Rules {
			fmt.Printf("%s\t%s\t%s\n", r.AppID, r.Behavior, r.Name)
		}
		return
	}

	if len(resp.Rules) == 0 {
		fmt.Printf("No rules. Every app inherits the default (%s).\n", behaviorLabel(resp.Default))
		return
	}

	printSection("RULES")
	fmt.Printf("  %sDefault%s  %s\n\n", c.Dim, c.Reset, behaviorLabel(resp.Default))
	fmt.Printf("  %s%-36s %-10s %s%s\n", c.Dim, "APP ID", "BEHAVIOR", "NAME", c.Reset)
	for _, r := range resp.Rules {
		fmt.Printf("  %-36s %s %s\n", r.AppID, paddedBehavior(r.Behavior, 10), r.Name)
	}
	fmt.Println()
}

func ruleSet(query, behaviorArg string) {
	behavior, err := keymode.ParseAppBehavior(behaviorArg)
	if err != nil {
		printError(fmt.Sprintf("Invalid behavior %q (want apple, other, or inherited)", behaviorArg))
		os.Exit(1)
	}

	client := newClient()
	defer client.Close()

	appID, name := resolveAppArg(client, query)

	// Setting a rule to inherited is the same as removing it.
	if behavior == keymode.BehaviorInherited {
		deleteRule(client, appID)
		return
	}

	rule, err := client.SetRule(&ipc.SetRuleRequest{
		AppID:    appID,
		Name:     name,
		Behavior: behavior,
	})
	if err != nil {
		printError(fmt.Sprintf("Setting rule: %v", err))
		os.Exit(1)
	}

	if *jsonOut {
		outputJSON(rule)
		return
	}
	label := rule.Name
	if label == "" {
		label = rule.AppID
	}
	fmt.Printf("Rule set: %s%s%s -> %s\n", c.Cyan, label, c.Reset, behaviorLabel(rule.Behavior))
}

func ruleRemove(query string) {
	client := newClient()
	defer client.Close()

	appID, _ := resolveAppArg(client, query)
	deleteRule(client, appID)
}

func deleteRule(client *ipc.Client, appID string) {
	removed, err := client.DeleteRule(appID, "")
	if err != nil {
		printError(fmt.Sprintf("Removing rule: %v", err))
		os.Exit(1)
	}

	if *jsonOut {
		outputJSON(map[string]any{"app_id": appID, "removed": removed})
		return
	}
	if !removed {
		fmt.Printf("No rule for %s%s%s, nothing removed.\n", c.Cyan, appID, c.Reset)
		return
	}
	fmt.Printf("Rule removed: %s%s%s now inherits the default.\n", c.Cyan, appID, c.Reset)
}

// resolveAppArg maps a user-supplied app argument onto an id and name.
// Exact matches against running apps win, then the closest fuzzy match.
// Reverse-DNS identifiers pass through untouched so rules can target
// apps that are not running.
func resolveAppArg(client *ipc.Client, query string) (id, name string) {
	apps, err := client.ListApps()
	if err != nil {
		apps = nil
	}

	if entry, ok := resolveApp(query, apps); ok {
		return entry.ID, entry.Name
	}

	if looksLikeAppID(query) {
		return query, ""
	}

	printError(fmt.Sprintf("No running app matches %q", query))
	if hint := closestApp(query, apps); hint != "" {
		fmt.Fprintf(os.Stderr, "  %sDid you mean%s %s?\n", c.Dim, c.Reset, hint)
	}
	os.Exit(1)
	return "", ""
}

func cmdApps() {
	client := newClient()
	defer client.Close()

	apps, err := client.ListApps()
	if err != nil {
		printError(fmt.Sprintf("Listing apps: %v", err))
		os.Exit(1)
	}

	if *jsonOut {
		outputJSON(apps)
		return
	}

	if !stdoutIsTerminal {
		for _, app := range apps {
			fmt.Printf("%s\t%s\t%s\n", app.ID, app.Behavior, app.Name)
		}
		return
	}

	if len(apps) == 0 {
		fmt.Println("No running applications reported.")
		return
	}

	printSection("RUNNING APPLICATIONS")
	fmt.Printf("  %s%-28s %-10s %s%s\n", c.Dim, "NAME", "BEHAVIOR", "APP ID", c.Reset)
	for _, app := range apps {
		name := app.Name
		if name == "" {
			name = "-"
		}
		fmt.Printf("  %-28s %s %s\n", name, paddedBehavior(app.Behavior, 10), app.ID)
	}
	fmt.Println()
}

func cmdExport(args []string) {
	client := newClient()
	defer client.Close()

	doc, err := client.ExportRules()
	if err != nil {
		printError(fmt.Sprintf("Exporting rules: %v", err))
		os.Exit(1)
	}

	output := ""
	if len(args) > 0 {
		output = args[0]
	}

	if output == "" || output == "-" {
		os.Stdout.Write(doc)
		if len(doc) > 0 && doc[len(doc)-1] != '\n' {
			fmt.Println()
		}
		return
	}

	if err := os.WriteFile(output, doc, 0600); err != nil {
		printError(fmt.Sprintf("Writing %s: %v", output, err))
		os.Exit(1)
	}
	fmt.Printf("Rules exported to: %s\n", output)
}

func cmdImport(args []string) {
	fs := flag.NewFlagSet("import", flag.ExitOnError)
	replace := fs.Bool("replace", false, "replace existing rules instead of merging")
	fs.Parse(args)

	if fs.NArg() < 1 {
		fmt.Fprintln(os.Stderr, "Usage: fnmodectl import [-replace] <file>")
		os.Exit(1)
	}

	path := fs.Arg(0)
	var data []byte
	var err error
	if path == "-" {
		data, err = io.ReadAll(os.Stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		printError(fmt.Sprintf("Reading %s: %v", path, err))
		os.Exit(1)
	}

	mode := "merge"
	if *replace {
		mode = "replace"
	}

	client := newClient()
	defer client.Close()

	resp, err := client.ImportRules(data, mode)
	if err != nil {
		printError(fmt.Sprintf("Import failed: %v", err))
		os.Exit(1)
	}

	if *jsonOut {
		outputJSON(resp)
		return
	}

	fmt.Printf("Imported %d rules (%s).\n", resp.RulesImported, mode)
	if resp.DefaultApplied {
		fmt.Println("Default behavior applied from the document.")
	}
}

func cmdWatch() {
	client := newClient()
	defer client.Close()

	if err := client.Subscribe(); err != nil {
		printError(fmt.Sprintf("Subscribing: %v", err))
		os.Exit(1)
	}

	if !*jsonOut {
		fmt.Printf("%sWatching daemon events. Press Ctrl+C to stop.%s\n", c.Dim, c.Reset)
	}

	for event := range client.Events() {
		if *jsonOut {
			line, err := json.Marshal(event)
			if err != nil {
				continue
			}
			fmt.Println(string(line))
			continue
		}
		fmt.Println(eventLine(event))
	}

	if !*jsonOut {
		fmt.Println("Event stream closed.")
	}
}

// eventLine renders one streamed event as a log-style line.
func eventLine(event *ipc.Event) string {
	ts := event.Timestamp.Local().Format("15:04:05")
	prefix := fmt.Sprintf("%s%s%s %s%-8s%s", c.Dim, ts, c.Reset, c.Cyan, eventTypeName(event.Type), c.Reset)

	switch event.Type {
	case ipc.EventModeChanged:
		var e ipc.ModeChangedEvent
		if event.DecodeData(&e) != nil {
			break
		}
		target := ""
		if e.AppID != "" {
			target = " for " + e.AppID
		}
		return fmt.Sprintf("%s %s -> %s%s", prefix, e.Previous, e.State, target)
	case ipc.EventFocusChanged:
		var e ipc.FocusChangedEvent
		if event.DecodeData(&e) != nil {
			break
		}
		name := e.AppName
		if name == "" {
			name = e.AppID
		}
		return fmt.Sprintf("%s %s (%s)", prefix, name, e.AppID)
	case ipc.EventRuleChanged:
		var e ipc.RuleChangedEvent
		if event.DecodeData(&e) != nil {
			break
		}
		return fmt.Sprintf("%s %s -> %s (origin %s)", prefix, e.AppID, e.Behavior, e.Origin)
	case ipc.EventDefaultChanged:
		var e ipc.DefaultChangedEvent
		if event.DecodeData(&e) != nil {
			break
		}
		return fmt.Sprintf("%s -> %s", prefix, e.Behavior)
	case ipc.EventPanelRequested:
		var e ipc.PanelRequestedEvent
		if event.DecodeData(&e) != nil {
			break
		}
		return fmt.Sprintf("%s %s", prefix, e.Panel)
	case ipc.EventDaemonShutdown:
		return prefix
	}

	return prefix
}

func eventTypeName(et ipc.EventType) string {
	switch et {
	case ipc.EventModeChanged:
		return "mode"
	case ipc.EventFocusChanged:
		return "focus"
	case ipc.EventRuleChanged:
		return "rule"
	case ipc.EventDefaultChanged:
		return "default"
	case ipc.EventPanelRequested:
		return "panel"
	case ipc.EventDaemonShutdown:
		return "shutdown"
	default:
		return fmt.Sprintf("0x%04x", uint16(et))
	}
}

func cmdPanel(arg string) {
	kind, err := panel.ParseKind(arg)
	if err != nil {
		printError(err.Error())
		fmt.Fprintln(os.Stderr, "  Panels: rules, preferences, running-apps, about")
		os.Exit(1)
	}

	client := newClient()
	defer client.Close()

	if err := client.OpenPanel(kind.String()); err != nil {
		printError(fmt.Sprintf("Requesting panel: %v", err))
		os.Exit(1)
	}
	fmt.Printf("Requested panel: %s\n", kind)
}

func cmdPing() {
	cfg := loadConfig()

	clientCfg := ipc.DefaultClientConfig(cfg.SocketPath())
	clientCfg.ClientName = "fnmodectl"
	clientCfg.ClientVersion = Version

	client := ipc.NewClient(clientCfg)
	if err := client.Connect(); err != nil {
		fmt.Printf("  %sDaemon%s  %s%sNOT RUNNING%s\n", c.Dim, c.Reset, c.Bold, c.Red, c.Reset)
		os.Exit(1)
	}
	defer client.Close()

	start := time.Now()
	if err := client.Ping(); err != nil {
		fmt.Printf("  %sDaemon%s  %s%sNOT RESPONDING%s (%v)\n", c.Dim, c.Reset, c.Bold, c.Red, c.Reset, err)
		os.Exit(1)
	}
	latency := time.Since(start)

	fmt.Printf("  %sDaemon%s  %s%sRUNNING%s (latency %s, server %s)\n",
		c.Dim, c.Reset, c.Bold, c.Green, c.Reset, latency.Round(time.Microsecond), client.ServerVersion())
}

func cmdStopDaemon() {
	client := newClient()
	defer client.Close()

	if err := client.Shutdown(); err != nil {
		printError(fmt.Sprintf("Stopping daemon: %v", err))
		os.Exit(1)
	}
	fmt.Println("Shutdown requested.")
}

// looksLikeAppID reports whether the argument is already a reverse-DNS
// identifier rather than a display name.
func looksLikeAppID(s string) bool {
	return strings.Contains(s, ".") && !strings.ContainsAny(s, " \t")
}

// fnmodectl - control utility for the fnmoded daemon.
//
// Talks to a running daemon over its Unix socket. Commands cover
// inspecting status, forcing the keyboard mode, editing per-app rules
// (one-shot or through an interactive editor), moving rule sets between
// machines, and streaming live daemon events.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"

	"fnmoded/internal/config"
	"fnmoded/internal/ipc"
)

// Version is set at build time via -ldflags "-X main.Version=...".
var Version = "dev"

var (
	configPath = flag.String("config", "", "path to config file")
	jsonOut    = flag.Bool("json", false, "emit JSON instead of human-readable output")
)

func main() {
	flag.Parse()

	if flag.NArg() < 1 {
		usage()
		os.Exit(1)
	}

	args := flag.Args()[1:]

	switch flag.Arg(0) {
	case "status":
		cmdStatus()
	case "mode":
		cmdMode(args)
	case "default":
		cmdDefault(args)
	case "rule":
		cmdRule(args)
	case "rules":
		cmdRules()
	case "apps":
		cmdApps()
	case "export":
		cmdExport(args)
	case "import":
		cmdImport(args)
	case "watch":
		cmdWatch()
	case "panel":
		if len(args) < 1 {
			fmt.Fprintln(os.Stderr, "Usage: fnmodectl panel <rules|preferences|running-apps|about>")
			os.Exit(1)
		}
		cmdPanel(args[0])
	case "ping":
		cmdPing()
	case "stop":
		cmdStopDaemon()
	case "version":
		fmt.Println("fnmodectl " + Version)
	case "help":
		usage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", flag.Arg(0))
		usage()
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `fnmodectl - Control utility for fnmoded

USAGE:
    fnmodectl [options] <command> [args]

COMMANDS:
    status                           Show daemon status
    mode [get|set <apple|other>]     Show or force the keyboard mode
    default [get|set <apple|other>]  Show or change the default behavior
    rule list                        List per-app rules
    rule set <app> <behavior>        Set a rule (apple, other, inherited)
    rule rm <app>                    Remove a rule
    rules                            Interactive rule editor
    apps                             List running applications
    export [file]                    Export the rule set as JSON
    import [-replace] <file>         Import a rule-set document
    watch                            Stream daemon events
    panel <kind>                     Open a panel window
    ping                             Measure daemon round-trip latency
    stop                             Ask the daemon to shut down
    version                          Print the client version

OPTIONS:
    -config <path>   Path to config file
    -json            Emit JSON instead of human-readable output

App arguments are matched against running applications, closest name
wins. Reverse-DNS identifiers are used as-is, so rules can target apps
that are not currently running.`)
}

func loadConfig() *config.Config {
	cfg, err := config.Load(*configPath)
	if err != nil {
		printError(fmt.Sprintf("Loading config: %v", err))
		os.Exit(1)
	}
	return cfg
}

// newClient dials the daemon or exits with a startup hint.
func newClient() *ipc.Client {
	cfg := loadConfig()

	clientCfg := ipc.DefaultClientConfig(cfg.SocketPath())
	clientCfg.ClientName = "fnmodectl"
	clientCfg.ClientVersion = Version

	client := ipc.NewClient(clientCfg)
	if err := client.Connect(); err != nil {
		printError(fmt.Sprintf("Cannot connect to daemon: %v", err))
		fmt.Fprintf(os.Stderr, "  %sTip%s: start the daemon with: fnmoded run\n", c.Dim, c.Reset)
		os.Exit(1)
	}
	return client
}

func outputJSON(v any) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		printError(fmt.Sprintf("Encoding output: %v", err))
		os.Exit(1)
	}
	fmt.Println(string(data))
}

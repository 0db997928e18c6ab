package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	cmdcalculate "cost-dashboard/command/calculate"
	cmdfetch "cost-dashboard/command/fetch"
	cmdlogin "cost-dashboard/command/login"
	cmdweb "cost-dashboard/command/web"
)

// Cloud cost dashboard backend.
// Usage:
//   cost-dashboard [-debug] login | logout | subscriptions | fetch -subscription <ids> | invoices | calculate | web
// Notes:
// - Signs in with the device-code flow, or as a service principal when AZURE_CLIENT_SECRET is set.
// - Billing data comes from the dashboard API (billing.mode: proxy) or Azure Cost Management (direct).

const usage = `usage: cost-dashboard [-debug] <command> [flags]

commands:
  login          sign in with a device code
  logout         forget the signed-in session
  subscriptions  list the subscriptions you can read
  fetch          fetch cost records: -subscription <ids> [-from YYYY-MM-DD] [-to YYYY-MM-DD] [-out <csv>]
  invoices       write monthly invoice totals: [-out <csv>]
  calculate      write daily totals from fetched records: [-data ./data]
  web            serve the JSON API and dashboard: [-addr :8080] [-ui ./ui/dist]

ENV: CONFIG_PATH points to a YAML config file (default ./config.yml); LOG_LEVEL=debug|info|warn|error`

var commands = map[string]func([]string) error{
	"login":         cmdlogin.Run,
	"logout":        cmdlogin.RunLogout,
	"subscriptions": cmdfetch.RunSubscriptions,
	"fetch":         cmdfetch.Run,
	"invoices":      cmdfetch.RunInvoices,
	"calculate":     cmdcalculate.Run,
	"web":           cmdweb.Run,
}

func main() {
	args := os.Args[1:]
	debug := len(args) > 0 && args[0] == "-debug"
	if debug {
		args = args[1:]
	}
	h := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel(debug)})
	slog.SetDefault(slog.New(h))

	if len(args) > 0 {
		if run, ok := commands[args[0]]; ok {
			if err := run(append([]string{}, args[1:]...)); err != nil {
				fmt.Fprintln(os.Stderr, err)
				os.Exit(1)
			}
			return
		}
	}
	fmt.Fprintln(os.Stderr, usage)
	os.Exit(2)
}

func logLevel(debug bool) slog.Level {
	if debug {
		return slog.LevelDebug
	}
	switch strings.ToLower(os.Getenv("LOG_LEVEL")) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

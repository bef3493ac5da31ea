package main

import (
	"github.com/spf13/cobra"
)

// version is overridden at build time with -ldflags "-X main.version=...".
var version = "0.1.0"

var flagConfig string

var rootCmd = &cobra.Command{
	Use:   "pilot",
	Short: "pilot - browser automation over WebSocket",
	Long: `pilot keeps an automation session attached to a Chrome tab and serves
natural-language, script and plan requests from WebSocket clients.

Quick start:
  chrome --remote-debugging-port=9222    # Start a debuggable browser
  pilot serve                            # Listen on :8765/ws
  pilot serve --listen :9000             # Listen elsewhere
  pilot check-config                     # Print the effective configuration

Configuration is read from pilot.yaml (., ~/.pilot, /etc/pilot) and
PILOT_-prefixed environment variables, e.g. PILOT_SESSION_CDP_ENDPOINT.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&flagConfig, "config", "c", "", "Path to a config file")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(checkConfigCmd)
}

// Package main is the pilot binary: a WebSocket bridge that drives a browser
// tab through an LLM-backed automation session.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

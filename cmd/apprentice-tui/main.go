// apprentice-tui is a terminal client for a running apprentice-engine.
package main

import (
	"fmt"
	"os"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/pflag"

	"github.com/terra-clan/apprentice-engine/internal/tui"
	"github.com/terra-clan/apprentice-engine/pkg/client"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		serverURL string
		timeout   time.Duration
	)

	flagSet := pflag.NewFlagSet("apprentice-tui", pflag.ContinueOnError)
	flagSet.StringVar(&serverURL, "server", envOr("APPRENTICE_SERVER", "http://localhost:8080"), "apprentice-engine base URL")
	flagSet.DurationVar(&timeout, "timeout", 3*time.Minute, "timeout for a single request (reviews can be slow)")
	help := flagSet.BoolP("help", "h", false, "show help")

	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if err == pflag.ErrHelp {
			printHelp(flagSet)
			return nil
		}
		return err
	}
	if *help {
		printHelp(flagSet)
		return nil
	}

	api := client.NewClient(serverURL, client.WithTimeout(timeout))
	program := tea.NewProgram(tui.NewApp(api, timeout), tea.WithAltScreen())
	if _, err := program.Run(); err != nil {
		return fmt.Errorf("run tui: %w", err)
	}
	return nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func printHelp(flagSet *pflag.FlagSet) {
	fmt.Fprintf(os.Stderr, `apprentice-tui - work through apprenticeship milestones from the terminal

Usage:
  apprentice-tui [flags]

Flags:
%s
Environment:
  APPRENTICE_SERVER   default for --server
`, flagSet.FlagUsages())
}

package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

// ANSI escape codes
const (
	reset  = "\033[0m"
	yellow = "\033[33m"
	cyan   = "\033[36m"
)

var (
	version = "dev"
)

// printLogo writes the startup banner
func printLogo(w io.Writer) {
	width := 62
	border := strings.Repeat("═", width)
	logo := []string{
		"     ___               _                        _          ",
		"    / __|_ _ __ _ __ _| |__  ___  __ _ _ _ __| |         ",
		"   | (__| '_/ _` / _` | '_ \\/ _ \\/ _` | '_/ _` |         ",
		"    \\___|_| \\__,_\\__, |_.__/\\___/\\__,_|_| \\__,_|         ",
		"                 |___/                                    ",
	}

	fmt.Fprintf(w, "\n  %s╔%s╗%s\n", cyan, border, reset)
	for _, line := range logo {
		for len([]rune(line)) < width {
			line += " "
		}
		fmt.Fprintf(w, "  %s║%s%s%s║%s\n", cyan, yellow, line, cyan, reset)
	}
	fmt.Fprintf(w, "  %s╚%s╝%s\n\n", cyan, border, reset)
}

// NewRootCommand builds the cragboard command tree
func NewRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cragboard",
		Short: "Cragboard - live multi-box climbing competition scoring",
		Long: `Cragboard runs the scoring server for a climbing competition.

Each box (a wall with its own judge) keeps an authoritative contest session.
Judges, operators and public displays follow a box over websockets and
receive every state change as it happens.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.AddCommand(NewServeCommand())
	cmd.AddCommand(NewRankCommand())
	cmd.AddCommand(NewWatchCommand())
	cmd.AddCommand(NewVersionCommand())

	return cmd
}

// NewVersionCommand prints the build version
func NewVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version and exit",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := fmt.Fprintf(cmd.OutOrStdout(), "cragboard %s\n", version)
			return err
		},
	}
}

func main() {
	if err := NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

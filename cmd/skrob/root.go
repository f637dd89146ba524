package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/nao1215/skrob/internal/config"
)

// NewRootCmd creates the root command for skrob.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "skrob",
		Short: "Scriptable concurrent crawler and scraper",
		Long: `skrob crawls and scrapes with scripts made of four primitives:

  { ... }   block: repeat the enclosed commands until they stop producing
  ;         collect: print the current texts
  ->        follow: fetch the current texts as links
  query     select: a CSS selector, or an XPath expression between backticks

Every locator is fetched at most once per run, and independent fetches run
concurrently.`,
		Version:       getVersion(),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	// Global flags that apply to all commands
	cmd.PersistentFlags().BoolP("verbose", "v", false, "Enable verbose logging")
	cmd.PersistentFlags().String("log-format", config.DefaultLogFormat, `Log format: "text" or "json"`)

	// Add subcommands
	cmd.AddCommand(NewRunCmd())
	cmd.AddCommand(NewExplainCmd())
	cmd.AddCommand(NewHistoryCmd())
	cmd.AddCommand(NewInitCmd())
	cmd.AddCommand(NewVersionCmd())

	return cmd
}

// Execute runs the root command.
func Execute() {
	if err := NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// getVerboseFlag retrieves the verbose flag from the command or its parent.
func getVerboseFlag(cmd *cobra.Command) bool {
	verbose, err := cmd.Flags().GetBool("verbose")
	if err != nil {
		verbose, err = cmd.Root().PersistentFlags().GetBool("verbose")
		if err != nil {
			return false
		}
	}
	return verbose
}

// getLogFormatFlag retrieves the log format from the command or its parent.
func getLogFormatFlag(cmd *cobra.Command) string {
	format, err := cmd.Flags().GetString("log-format")
	if err != nil {
		format, err = cmd.Root().PersistentFlags().GetString("log-format")
		if err != nil {
			return config.DefaultLogFormat
		}
	}
	return format
}

package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nao1215/skrob/internal/config"
	"github.com/nao1215/skrob/internal/database"
)

// defaultHistoryLimit is how many runs history lists by default.
const defaultHistoryLimit = 20

// NewHistoryCmd creates the history command.
func NewHistoryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List runs recorded with --archive",
		Long: `History prints the runs recorded in the archive database by
"skrob run --archive", newest first. With --run it prints one run and every
fetch it made: status, content type, size, SHA3-256 digest of the body and
any error.

The archive is a record only; runs never read it.

Examples:
  # Recent runs
  skrob history

  # Fetches of run 12
  skrob history --run 12

  # Everything, as JSON
  skrob history -n 0 --json`,
		Args: cobra.NoArgs,
		RunE: runHistoryCmd,
	}

	cmd.Flags().Int64("run", 0,
		"Show the fetches of the run with this ID")
	cmd.Flags().IntP("limit", "n", defaultHistoryLimit,
		"Maximum number of runs to list (0 lists all)")
	cmd.Flags().String("archive-dir", config.XDGDataDir(),
		"Directory holding the archive database")
	cmd.Flags().BoolP("json", "j", false,
		"Output JSON instead of Markdown")

	return cmd
}

// runHistoryCmd executes the history command.
func runHistoryCmd(cmd *cobra.Command, _ []string) error {
	runID, err := cmd.Flags().GetInt64("run")
	if err != nil {
		return err
	}
	limit, err := cmd.Flags().GetInt("limit")
	if err != nil {
		return err
	}
	dir, err := cmd.Flags().GetString("archive-dir")
	if err != nil {
		return err
	}
	jsonOutput, err := cmd.Flags().GetBool("json")
	if err != nil {
		return err
	}

	w := newReportWriter(cmd.OutOrStdout(), jsonOutput)
	ctx := cmd.Context()

	archive, err := database.Open(dir, database.Options{CreateIfNotExists: false, EnableWAL: true})
	if err != nil {
		if errors.Is(err, database.ErrArchiveNotFound) && runID == 0 {
			_, err = w.WriteRuns(nil)
			return err
		}
		return fmt.Errorf("failed to open archive: %w", err)
	}
	defer archive.Close()

	if runID != 0 {
		run, err := archive.GetRun(ctx, runID)
		if err != nil {
			return err
		}
		if run == nil {
			return fmt.Errorf("run %d not found in %s", runID, archive.Path())
		}
		fetches, err := archive.ListFetches(ctx, runID)
		if err != nil {
			return err
		}
		_, err = w.WriteRun(run, fetches)
		return err
	}

	runs, err := archive.ListRuns(ctx, limit)
	if err != nil {
		return err
	}
	_, err = w.WriteRuns(runs)
	return err
}

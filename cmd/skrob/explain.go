package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/nao1215/skrob/internal/config"
	"github.com/nao1215/skrob/internal/query"
	"github.com/nao1215/skrob/internal/report"
	"github.com/nao1215/skrob/internal/script"
)

// NewExplainCmd creates the explain command.
func NewExplainCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "explain CODE",
		Short: "Show how a script is parsed",
		Long: `Explain parses a script and prints its command tree without fetching
anything. Every query is compiled, so syntax errors in CSS selectors and
XPath expressions are reported here as well.

Examples:
  skrob explain '{ .title::text; a[rel=next]::attr(href) -> } !;'

  # Machine-readable tree
  skrob explain --json 'a::attr(href) -> h1::text;'`,
		Args: cobra.ExactArgs(1),
		RunE: runExplainCmd,
	}

	cmd.Flags().StringP("delimiter", "d", string(config.DefaultDelimiter),
		"Character that wraps XPath queries")
	cmd.Flags().BoolP("json", "j", false,
		"Output JSON instead of Markdown")

	return cmd
}

// runExplainCmd executes the explain command.
func runExplainCmd(cmd *cobra.Command, args []string) error {
	delimFlag, err := cmd.Flags().GetString("delimiter")
	if err != nil {
		return err
	}
	delim, err := config.ParseDelimiter(delimFlag)
	if err != nil {
		return err
	}

	jsonOutput, err := cmd.Flags().GetBool("json")
	if err != nil {
		return err
	}

	prog, err := script.Parse(args[0], script.WithDelimiter(delim))
	if err != nil {
		return fmt.Errorf("invalid script: %w", err)
	}

	engine := query.NewEngine()
	err = prog.Walk(func(c script.Command) error {
		if c.Kind != script.KindSelect {
			return nil
		}
		return engine.Compile(c.Lang, c.Query)
	})
	if err != nil {
		return fmt.Errorf("invalid query: %w", err)
	}

	_, err = newReportWriter(cmd.OutOrStdout(), jsonOutput).
		WriteExplanation(&report.Explanation{Program: prog, Delimiter: delim})
	return err
}

// newReportWriter returns the writer for the requested output format.
func newReportWriter(w io.Writer, jsonOutput bool) report.Writer {
	if jsonOutput {
		return report.NewJSONWriter(w, report.WithPrettyPrint())
	}
	return report.NewMarkdownWriter(w)
}

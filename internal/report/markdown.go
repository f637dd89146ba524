package report

import (
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/nao1215/markdown"

	"github.com/nao1215/skrob/internal/database"
	"github.com/nao1215/skrob/internal/script"
)

// timeLayout formats timestamps in tables.
const timeLayout = "2006-01-02 15:04:05 MST"

// MarkdownWriter outputs reports in Markdown format.
//
// Design decision: We use the nao1215/markdown library for fluent markdown
// generation, which gives us tables and code blocks without hand-written
// escaping of the layout.
type MarkdownWriter struct {
	baseWriter
}

var _ Writer = (*MarkdownWriter)(nil)

// NewMarkdownWriter creates a MarkdownWriter that outputs to the given writer.
func NewMarkdownWriter(output io.Writer) *MarkdownWriter {
	return &MarkdownWriter{
		baseWriter: newBaseWriter(output),
	}
}

// WriteExplanation outputs the script, its command tree as a nested list
// and a summary table of command counts.
func (w *MarkdownWriter) WriteExplanation(e *Explanation) (int, error) {
	md := markdown.NewMarkdown(w.output)

	md.H1("Script")
	md.PlainText("")
	md.CodeBlocks(markdown.SyntaxHighlightText, e.Source())
	md.PlainText("")

	md.H2("Commands")
	md.PlainText("")
	if e.Program.Kind == script.KindBlock {
		writeTree(md, e.Program.Commands, 0)
	} else {
		writeTree(md, []script.Command{e.Program}, 0)
	}
	md.PlainText("")

	c := e.Counts()
	md.H2("Summary")
	md.PlainText("")
	md.Table(markdown.TableSet{
		Header: []string{"Command", "Count"},
		Rows: [][]string{
			{"Block", strconv.Itoa(c.Blocks)},
			{"Collect", strconv.Itoa(c.Collects)},
			{"Follow", strconv.Itoa(c.Follows)},
			{"Select (CSS)", strconv.Itoa(c.CSS)},
			{"Select (XPath)", strconv.Itoa(c.XPath)},
		},
	})
	md.PlainText("")

	return len(md.String()), md.Build()
}

// writeTree writes cmds as a bullet list nested by block depth.
func writeTree(md *markdown.Markdown, cmds []script.Command, depth int) {
	indent := strings.Repeat("  ", depth)
	for _, cmd := range cmds {
		switch cmd.Kind {
		case script.KindSelect:
			md.PlainTextf("%s- %s (%s) %s", indent, markdown.Bold("select"), cmd.Lang, inlineCode(cmd.Query))
		case script.KindBlock:
			md.PlainTextf("%s- %s", indent, markdown.Bold("block"))
			writeTree(md, cmd.Commands, depth+1)
		default:
			md.PlainTextf("%s- %s", indent, markdown.Bold(cmd.Kind.String()))
		}
	}
}

// WriteRuns outputs a table with one row per run.
func (w *MarkdownWriter) WriteRuns(runs []database.RunRecord) (int, error) {
	md := markdown.NewMarkdown(w.output)

	md.H1("Run History")
	md.PlainText("")

	if len(runs) == 0 {
		md.PlainText("No runs recorded.")
		md.PlainText("")
		return len(md.String()), md.Build()
	}

	rows := make([][]string, len(runs))
	for i := range runs {
		run := &runs[i]
		rows[i] = []string{
			strconv.FormatInt(run.ID, 10),
			run.StartedAt.Local().Format(timeLayout),
			formatElapsed(run),
			tableCell(truncateString(oneLine(run.Script), 40)),
			strconv.FormatInt(run.Stats.Fetched, 10),
			strconv.FormatInt(run.Stats.Failed, 10),
			strconv.FormatInt(run.Stats.Emitted, 10),
			tableCell(truncateString(runStatus(run), 40)),
		}
	}

	md.Table(markdown.TableSet{
		Header: []string{"ID", "Started", "Elapsed", "Script", "Fetched", "Failed", "Emitted", "Status"},
		Rows:   rows,
	})
	md.PlainText("")

	return len(md.String()), md.Build()
}

// WriteRun outputs the details of one run and a table of its fetches.
func (w *MarkdownWriter) WriteRun(run *database.RunRecord, fetches []database.FetchRecord) (int, error) {
	md := markdown.NewMarkdown(w.output)

	md.H1f("Run %d", run.ID)
	md.PlainText("")

	finished := "-"
	if !run.FinishedAt.IsZero() {
		finished = run.FinishedAt.Local().Format(timeLayout)
	}
	seeds := "(text from stdin)"
	if len(run.Seeds) > 0 {
		seeds = tableCell(strings.Join(run.Seeds, " "))
	}
	md.Table(markdown.TableSet{
		Header: []string{"Property", "Value"},
		Rows: [][]string{
			{"Started", run.StartedAt.Local().Format(timeLayout)},
			{"Finished", finished},
			{"Seeds", seeds},
			{"Fetched", strconv.FormatInt(run.Stats.Fetched, 10)},
			{"Failed", strconv.FormatInt(run.Stats.Failed, 10)},
			{"Duplicates", strconv.FormatInt(run.Stats.Duplicates, 10)},
			{"Query Errors", strconv.FormatInt(run.Stats.QueryErrors, 10)},
			{"Emitted", strconv.FormatInt(run.Stats.Emitted, 10)},
			{"Status", tableCell(runStatus(run))},
		},
	})
	md.PlainText("")

	md.H2("Script")
	md.PlainText("")
	md.CodeBlocks(markdown.SyntaxHighlightText, run.Script)
	md.PlainText("")

	md.H2("Fetches")
	md.PlainText("")
	if len(fetches) == 0 {
		md.PlainText("No fetches recorded.")
		md.PlainText("")
		return len(md.String()), md.Build()
	}

	rows := make([][]string, len(fetches))
	for i, f := range fetches {
		status := "-"
		if f.StatusCode != 0 {
			status = strconv.Itoa(f.StatusCode)
		}
		digest := "-"
		if f.SHA3 != "" {
			digest = inlineCode(f.SHA3[:min(len(f.SHA3), 12)])
		}
		errText := "-"
		if f.Error != "" {
			errText = tableCell(truncateString(f.Error, 60))
		}
		rows[i] = []string{
			tableCell(f.Locator),
			status,
			orDash(tableCell(f.ContentType)),
			strconv.FormatInt(f.Size, 10),
			digest,
			f.Duration.Round(time.Millisecond).String(),
			errText,
		}
	}
	md.Table(markdown.TableSet{
		Header: []string{"Locator", "Status", "Type", "Size", "SHA3", "Duration", "Error"},
		Rows:   rows,
	})
	md.PlainText("")

	return len(md.String()), md.Build()
}

// formatElapsed returns how long a finished run took.
func formatElapsed(run *database.RunRecord) string {
	if run.FinishedAt.IsZero() {
		return "-"
	}
	return run.FinishedAt.Sub(run.StartedAt).Round(time.Millisecond).String()
}

// inlineCode wraps s in a code span long enough to hold the backticks in s.
func inlineCode(s string) string {
	fence := "`"
	for strings.Contains(s, fence) {
		fence += "`"
	}
	if len(fence) == 1 {
		return markdown.Code(s)
	}
	return fence + " " + s + " " + fence
}

// tableCell escapes the column separator.
func tableCell(s string) string {
	return strings.ReplaceAll(s, "|", `\|`)
}

// oneLine collapses runs of whitespace, including newlines, into one space.
func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

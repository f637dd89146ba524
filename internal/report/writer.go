package report

import (
	"io"

	"github.com/nao1215/skrob/internal/database"
	"github.com/nao1215/skrob/internal/script"
)

// Explanation describes a parsed script.
type Explanation struct {
	// Program is the parsed script as returned by script.Parse.
	Program script.Command

	// Delimiter is the XPath delimiter used to render the script.
	Delimiter rune
}

// Source renders the program back into script syntax.
func (e *Explanation) Source() string {
	return e.Program.Format(e.Delimiter)
}

// Counts tallies the commands of the program. Selects are counted per
// query language.
func (e *Explanation) Counts() Counts {
	var c Counts
	_ = e.Program.Walk(func(cmd script.Command) error { //nolint:errcheck // the callback never fails
		switch cmd.Kind {
		case script.KindBlock:
			c.Blocks++
		case script.KindCollect:
			c.Collects++
		case script.KindFollow:
			c.Follows++
		case script.KindSelect:
			if cmd.Lang == script.LangXPath {
				c.XPath++
			} else {
				c.CSS++
			}
		}
		return nil
	})
	// The top-level list is not a block the author wrote.
	if e.Program.Kind == script.KindBlock {
		c.Blocks--
	}
	return c
}

// Counts is the number of commands of each kind in a script.
type Counts struct {
	Blocks   int `json:"blocks"`
	Collects int `json:"collects"`
	Follows  int `json:"follows"`
	CSS      int `json:"css"`
	XPath    int `json:"xpath"`
}

// Writer defines the interface for report output.
//
// Design decision: We use an interface so the history and explain
// commands pick a format once and write through the same calls.
type Writer interface {
	// WriteExplanation outputs the command tree of a script.
	WriteExplanation(e *Explanation) (int, error)

	// WriteRuns outputs a list of runs, newest first.
	WriteRuns(runs []database.RunRecord) (int, error)

	// WriteRun outputs one run with its fetches.
	WriteRun(run *database.RunRecord, fetches []database.FetchRecord) (int, error)
}

// baseWriter provides common functionality for report writers.
type baseWriter struct {
	output io.Writer
}

// newBaseWriter creates a baseWriter with the given output destination.
func newBaseWriter(output io.Writer) baseWriter {
	return baseWriter{output: output}
}

// runStatus summarizes how a run ended.
func runStatus(run *database.RunRecord) string {
	switch {
	case run.Error != "":
		return "error: " + run.Error
	case run.FinishedAt.IsZero():
		return "unfinished"
	default:
		return "ok"
	}
}

// truncateString shortens s to at most maxLen runes.
func truncateString(s string, maxLen int) string {
	r := []rune(s)
	if len(r) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return string(r[:maxLen])
	}
	return string(r[:maxLen-3]) + "..."
}

package report

import (
	"encoding/json"
	"io"
	"time"

	"github.com/nao1215/skrob/internal/database"
	"github.com/nao1215/skrob/internal/script"
)

// JSONWriter outputs reports in JSON format.
// This format is designed for tool integration and programmatic processing.
type JSONWriter struct {
	baseWriter

	// indent enables pretty-printed JSON output.
	// When false, output is compact (no extra whitespace).
	indent bool

	// indentPrefix is the prefix for each line in indented output.
	indentPrefix string

	// indentString is the indentation string (typically "  " or "\t").
	indentString string
}

var _ Writer = (*JSONWriter)(nil)

// JSONWriterOption configures a JSONWriter.
type JSONWriterOption func(*JSONWriter)

// WithIndent enables pretty-printed JSON output.
// The prefix is prepended to each line, and indent is used for each level.
func WithIndent(prefix, indent string) JSONWriterOption {
	return func(w *JSONWriter) {
		w.indent = true
		w.indentPrefix = prefix
		w.indentString = indent
	}
}

// WithPrettyPrint enables pretty-printed JSON with default indentation.
// This is a convenience wrapper for WithIndent("", "  ").
func WithPrettyPrint() JSONWriterOption {
	return WithIndent("", "  ")
}

// NewJSONWriter creates a JSONWriter that outputs to the given writer.
func NewJSONWriter(output io.Writer, opts ...JSONWriterOption) *JSONWriter {
	w := &JSONWriter{
		baseWriter: newBaseWriter(output),
	}

	for _, opt := range opts {
		opt(w)
	}

	return w
}

// commandJSON is the JSON form of a script command.
type commandJSON struct {
	Kind     string        `json:"kind"`
	Lang     string        `json:"lang,omitempty"`
	Query    string        `json:"query,omitempty"`
	Commands []commandJSON `json:"commands,omitempty"`
}

func newCommandJSON(c script.Command) commandJSON {
	out := commandJSON{Kind: c.Kind.String()}
	switch c.Kind {
	case script.KindSelect:
		out.Lang = c.Lang.String()
		out.Query = c.Query
	case script.KindBlock:
		out.Commands = make([]commandJSON, len(c.Commands))
		for i, sub := range c.Commands {
			out.Commands[i] = newCommandJSON(sub)
		}
	}
	return out
}

// explanationJSON is the JSON form of an Explanation.
type explanationJSON struct {
	Script   string        `json:"script"`
	Commands []commandJSON `json:"commands"`
	Counts   Counts        `json:"counts"`
}

// WriteExplanation outputs the script, its command tree and the command
// counts as one JSON object.
func (w *JSONWriter) WriteExplanation(e *Explanation) (int, error) {
	top := newCommandJSON(e.Program)
	cmds := top.Commands
	if e.Program.Kind != script.KindBlock {
		cmds = []commandJSON{top}
	}
	return w.writeJSON(explanationJSON{
		Script:   e.Source(),
		Commands: cmds,
		Counts:   e.Counts(),
	})
}

// runJSON is the JSON form of a stored run.
type runJSON struct {
	ID          int64      `json:"id"`
	Script      string     `json:"script"`
	Seeds       []string   `json:"seeds"`
	StartedAt   time.Time  `json:"startedAt"`
	FinishedAt  *time.Time `json:"finishedAt,omitempty"`
	Fetched     int64      `json:"fetched"`
	Failed      int64      `json:"failed"`
	Duplicates  int64      `json:"duplicates"`
	QueryErrors int64      `json:"queryErrors"`
	Emitted     int64      `json:"emitted"`
	Error       string     `json:"error,omitempty"`
}

func newRunJSON(run *database.RunRecord) runJSON {
	out := runJSON{
		ID:          run.ID,
		Script:      run.Script,
		Seeds:       run.Seeds,
		StartedAt:   run.StartedAt,
		Fetched:     run.Stats.Fetched,
		Failed:      run.Stats.Failed,
		Duplicates:  run.Stats.Duplicates,
		QueryErrors: run.Stats.QueryErrors,
		Emitted:     run.Stats.Emitted,
		Error:       run.Error,
	}
	if out.Seeds == nil {
		out.Seeds = []string{}
	}
	if !run.FinishedAt.IsZero() {
		finished := run.FinishedAt
		out.FinishedAt = &finished
	}
	return out
}

// fetchJSON is the JSON form of a stored fetch.
type fetchJSON struct {
	Locator     string    `json:"locator"`
	StatusCode  int       `json:"statusCode,omitempty"`
	ContentType string    `json:"contentType,omitempty"`
	Size        int64     `json:"size"`
	SHA3        string    `json:"sha3,omitempty"`
	Error       string    `json:"error,omitempty"`
	FetchedAt   time.Time `json:"fetchedAt"`
	DurationMS  int64     `json:"durationMs"`
}

// WriteRuns outputs the runs as a JSON array.
func (w *JSONWriter) WriteRuns(runs []database.RunRecord) (int, error) {
	out := make([]runJSON, len(runs))
	for i := range runs {
		out[i] = newRunJSON(&runs[i])
	}
	return w.writeJSON(out)
}

// WriteRun outputs one run with its fetches as a JSON object.
func (w *JSONWriter) WriteRun(run *database.RunRecord, fetches []database.FetchRecord) (int, error) {
	out := struct {
		runJSON
		Fetches []fetchJSON `json:"fetches"`
	}{
		runJSON: newRunJSON(run),
		Fetches: make([]fetchJSON, len(fetches)),
	}
	for i, f := range fetches {
		out.Fetches[i] = fetchJSON{
			Locator:     f.Locator,
			StatusCode:  f.StatusCode,
			ContentType: f.ContentType,
			Size:        f.Size,
			SHA3:        f.SHA3,
			Error:       f.Error,
			FetchedAt:   f.FetchedAt,
			DurationMS:  f.Duration.Milliseconds(),
		}
	}
	return w.writeJSON(out)
}

// writeJSON marshals the given value to JSON and writes it to the output.
func (w *JSONWriter) writeJSON(v any) (int, error) {
	var data []byte
	var err error

	if w.indent {
		data, err = json.MarshalIndent(v, w.indentPrefix, w.indentString)
	} else {
		data, err = json.Marshal(v)
	}

	if err != nil {
		return 0, err
	}

	// Add trailing newline for better terminal output
	data = append(data, '\n')

	return w.output.Write(data)
}

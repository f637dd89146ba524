package interp

import (
	"context"
	"errors"
	"io"
	"log/slog"

	"github.com/nao1215/skrob/internal/fetch"
	"github.com/nao1215/skrob/internal/query"
	"github.com/nao1215/skrob/internal/script"
)

// Result is what a run returns. A run that fails once started still
// returns a Result holding the statistics of the work it did.
type Result struct {
	// Contexts is the fixed point of the top-level command list.
	Contexts []Context
	// Stats counts the work done.
	Stats Stats
}

// Interpreter runs scripts. One Interpreter can serve several runs; each
// run has its own visited set.
type Interpreter struct {
	fetcher   Fetcher
	selector  Selector
	output    io.Writer
	followLog io.Writer
	logger    *slog.Logger
}

// Option configures an Interpreter.
type Option func(*Interpreter)

// WithSelector sets the query evaluator. The default is a query.Engine.
func WithSelector(s Selector) Option {
	return func(in *Interpreter) {
		in.selector = s
	}
}

// WithOutput sets the stream collects write to. Without it collected text
// is discarded.
func WithOutput(w io.Writer) Option {
	return func(in *Interpreter) {
		in.output = w
	}
}

// WithFollowLog sets the stream that receives every locator the run
// fetches, one per line, in the order they are claimed.
func WithFollowLog(w io.Writer) Option {
	return func(in *Interpreter) {
		in.followLog = w
	}
}

// WithLogger sets the logger. The default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(in *Interpreter) {
		in.logger = logger
	}
}

// New returns an Interpreter fetching through fetcher.
func New(fetcher Fetcher, opts ...Option) *Interpreter {
	in := &Interpreter{fetcher: fetcher}
	for _, opt := range opts {
		opt(in)
	}
	if in.selector == nil {
		in.selector = query.NewEngine()
	}
	if in.logger == nil {
		in.logger = slog.Default()
	}
	return in
}

// RunLocators runs prog starting from locators. Each locator is fetched
// first, exactly as a follow of the locator itself would do.
func (in *Interpreter) RunLocators(ctx context.Context, prog script.Command, locators []string) (*Result, error) {
	if len(locators) == 0 {
		return nil, ErrNoLocators
	}
	seeds := make([]Context, 0, len(locators))
	for _, l := range locators {
		seeds = append(seeds, Context{Locator: l, Text: l})
	}
	return in.run(ctx, prog, func(ctx context.Context, r *run) ([]Context, error) {
		return r.follow(ctx, seeds)
	})
}

// RunText runs prog on a single context holding text and no locator.
func (in *Interpreter) RunText(ctx context.Context, prog script.Command, text string) (*Result, error) {
	return in.run(ctx, prog, func(context.Context, *run) ([]Context, error) {
		return []Context{{Text: text}}, nil
	})
}

// Validate compiles every query of prog, so that authoring mistakes
// surface before anything is fetched.
func (in *Interpreter) Validate(prog script.Command) error {
	return prog.Walk(func(c script.Command) error {
		if c.Kind != script.KindSelect {
			return nil
		}
		return in.selector.Compile(c.Lang, c.Query)
	})
}

func (in *Interpreter) run(ctx context.Context, prog script.Command, seed func(context.Context, *run) ([]Context, error)) (*Result, error) {
	if err := in.Validate(prog); err != nil {
		return nil, err
	}

	commands := prog.Commands
	if prog.Kind != script.KindBlock {
		commands = []script.Command{prog}
	}

	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	r := &run{
		fetcher:  in.fetcher,
		selector: in.selector,
		logger:   in.logger,
		visited:  fetch.NewVisitedSet(),
		output:   newSink("output", in.output, cancel),
		follows:  newSink("follow log", in.followLog, cancel),
	}

	contexts, err := seed(ctx, r)
	if err == nil {
		contexts, err = r.block(ctx, commands, contexts)
	}

	// A write failure cancels the run; report it rather than whatever
	// cancellation error surfaced first.
	var writeErr *OutputWriteError
	if cause := context.Cause(ctx); errors.As(cause, &writeErr) {
		err = writeErr
	}

	stats := r.stats.snapshot()
	if err != nil {
		in.logger.Warn("run aborted", "stats", stats, "error", err)
		return &Result{Stats: stats}, err
	}
	in.logger.Info("run finished", "contexts", len(contexts), "stats", stats)
	return &Result{Contexts: contexts, Stats: stats}, nil
}

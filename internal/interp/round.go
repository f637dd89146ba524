package interp

import (
	"context"
	"log/slog"
	"slices"

	"golang.org/x/sync/errgroup"

	"github.com/nao1215/skrob/internal/fetch"
	"github.com/nao1215/skrob/internal/script"
)

// run holds the state shared by everything one run does.
type run struct {
	fetcher  Fetcher
	selector Selector
	logger   *slog.Logger
	visited  *fetch.VisitedSet
	output   *sink
	follows  *sink
	stats    counters
}

// block applies commands to contexts round after round until a round
// yields no new context, and returns the input of that last round.
//
// The slices.Equal check is a repeat guard, not part of the fixed point: a
// round whose output equals its input would produce the same output forever,
// so block stops there and returns that input.
func (r *run) block(ctx context.Context, commands []script.Command, contexts []Context) ([]Context, error) {
	for {
		next, err := r.round(ctx, commands, contexts)
		if err != nil {
			return nil, err
		}
		if len(next) == 0 || slices.Equal(next, contexts) {
			return contexts, nil
		}
		contexts = next
	}
}

// round walks commands once for every context and returns the concatenated
// continuations in context order.
//
// Design decision: taps of one round write in the order they were
// scheduled, which is context order and, within a context, textual order.
// A tap that is ready early waits for the ones before it, so output is
// deterministic for a given set of fetched pages.
func (r *run) round(ctx context.Context, commands []script.Command, contexts []Context) ([]Context, error) {
	g, gctx := errgroup.WithContext(ctx)

	continuations := make([][]Context, len(contexts))
	var prevTap chan struct{}

	for i, c := range contexts {
		var pipe stage
		for _, cmd := range commands {
			input := pipe
			if input == nil {
				input = single(c)
			}

			switch cmd.Kind {
			case script.KindBlock:
				pipe = r.blockStage(cmd.Commands, input)
			case script.KindCollect:
				prev, done := prevTap, make(chan struct{})
				prevTap = done
				g.Go(func() error {
					return r.tap(gctx, input, prev, done)
				})
				pipe = nil
			case script.KindFollow:
				pipe = r.followStage(input)
			case script.KindSelect:
				pipe = r.selectStage(cmd, input)
			}
		}

		if pipe != nil {
			g.Go(func() error {
				out, err := pipe(gctx)
				continuations[i] = out
				return err
			})
		}
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	var next []Context
	for _, out := range continuations {
		next = append(next, out...)
	}
	return next, nil
}

// tap evaluates input and writes its texts once every earlier tap of the
// round has written.
func (r *run) tap(ctx context.Context, input stage, prev <-chan struct{}, done chan<- struct{}) error {
	defer close(done)

	contexts, err := input(ctx)
	if err != nil {
		return err
	}
	if prev != nil {
		select {
		case <-prev:
		case <-ctx.Done():
			return context.Cause(ctx)
		}
	}
	if len(contexts) == 0 {
		return nil
	}

	lines := make([]string, 0, len(contexts))
	for _, c := range contexts {
		lines = append(lines, c.Text)
	}
	if err := r.output.writeLines(lines...); err != nil {
		return err
	}
	r.stats.emitted.Add(int64(len(lines)))
	return nil
}

func (r *run) blockStage(commands []script.Command, input stage) stage {
	return func(ctx context.Context) ([]Context, error) {
		contexts, err := input(ctx)
		if err != nil {
			return nil, err
		}
		return r.block(ctx, commands, contexts)
	}
}

func (r *run) followStage(input stage) stage {
	return func(ctx context.Context) ([]Context, error) {
		contexts, err := input(ctx)
		if err != nil {
			return nil, err
		}
		return r.follow(ctx, contexts)
	}
}

func (r *run) selectStage(cmd script.Command, input stage) stage {
	return func(ctx context.Context) ([]Context, error) {
		contexts, err := input(ctx)
		if err != nil {
			return nil, err
		}
		if ctx.Err() != nil {
			return nil, context.Cause(ctx)
		}

		var out []Context
		for _, c := range contexts {
			matches, err := r.selector.Select(cmd.Lang, cmd.Query, c.Text)
			if err != nil {
				r.stats.queryErrors.Add(1)
				r.logger.Warn("query failed", "locator", c.Locator, "query", cmd.Query, "error", err)
				continue
			}
			for _, m := range matches {
				out = append(out, Context{Locator: c.Locator, Text: m})
			}
		}
		return out, nil
	}
}

// follow resolves every context text against its locator, claims the
// locators not seen before in this run and fetches them. Claims happen in
// context order and are written to the follow log before the fetch starts;
// the fetches themselves run concurrently. A locator that fails to resolve
// or fetch contributes nothing.
func (r *run) follow(ctx context.Context, contexts []Context) ([]Context, error) {
	if ctx.Err() != nil {
		return nil, context.Cause(ctx)
	}

	var claimed []string
	for _, c := range contexts {
		locator, err := r.fetcher.Join(c.Locator, c.Text)
		if err != nil {
			r.stats.failed.Add(1)
			r.logger.Warn("cannot resolve locator", "base", c.Locator, "ref", c.Text, "error", err)
			continue
		}
		if !r.visited.Add(locator) {
			r.stats.duplicates.Add(1)
			r.logger.Debug("already visited", "locator", locator)
			continue
		}
		claimed = append(claimed, locator)
	}

	results := make([]*Context, len(claimed))
	g, gctx := errgroup.WithContext(ctx)
	for i, locator := range claimed {
		if err := r.follows.writeLines(locator); err != nil {
			_ = g.Wait()
			return nil, err
		}
		g.Go(func() error {
			text, err := r.fetcher.Fetch(gctx, locator)
			if err != nil {
				if gctx.Err() != nil {
					return context.Cause(gctx)
				}
				r.stats.failed.Add(1)
				r.logger.Warn("fetch failed", "locator", locator, "error", err)
				return nil
			}
			r.stats.fetched.Add(1)
			results[i] = &Context{Locator: locator, Text: text}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := make([]Context, 0, len(results))
	for _, c := range results {
		if c != nil {
			out = append(out, *c)
		}
	}
	return out, nil
}

package interp

import (
	"context"

	"github.com/nao1215/skrob/internal/script"
)

// Context is a locator together with a text found at it: a fetched body or
// a fragment selected from one. The locator is empty for text that did not
// come from a fetch.
type Context struct {
	Locator string
	Text    string
}

// Fetcher dereferences locators.
type Fetcher interface {
	// Join resolves ref against base.
	Join(base, ref string) (string, error)
	// Fetch returns the text at locator.
	Fetch(ctx context.Context, locator string) (string, error)
}

// Selector evaluates queries.
type Selector interface {
	// Compile checks a query without evaluating it.
	Compile(lang script.Lang, query string) error
	// Select returns the matches of a query against text.
	Select(lang script.Lang, query, text string) ([]string, error)
}

// stage is a pending computation of a pipeline.
type stage func(ctx context.Context) ([]Context, error)

// single returns a stage yielding only c.
func single(c Context) stage {
	return func(context.Context) ([]Context, error) {
		return []Context{c}, nil
	}
}

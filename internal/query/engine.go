package query

import (
	"sync"

	"github.com/nao1215/skrob/internal/script"
)

// selector is a compiled query.
type selector interface {
	selectFrom(doc *document) ([]string, error)
}

type cacheKey struct {
	lang  script.Lang
	query string
}

// Engine compiles and evaluates queries. Compiled queries are cached, so an
// Engine should live as long as the script it serves. It is safe for
// concurrent use.
type Engine struct {
	cache sync.Map // cacheKey -> selector
}

// NewEngine returns an Engine with an empty cache.
func NewEngine() *Engine {
	return &Engine{}
}

// Compile checks that query is valid for lang without evaluating it against
// any payload. It returns a *QueryError on failure.
func (e *Engine) Compile(lang script.Lang, query string) error {
	_, err := e.compile(lang, query)
	return err
}

// Select evaluates query against text and returns the matches in document
// order. CSS matches are serialized elements unless a pseudo-element asks for
// text or an attribute; XPath results are serialized elements, text values or
// the string value of a non-node result.
func (e *Engine) Select(lang script.Lang, query, text string) ([]string, error) {
	sel, err := e.compile(lang, query)
	if err != nil {
		return nil, err
	}

	doc, err := parseDocument(text)
	if err != nil {
		return nil, &QueryError{Lang: lang, Query: query, Err: err}
	}

	out, err := sel.selectFrom(doc)
	if err != nil {
		return nil, &QueryError{Lang: lang, Query: query, Err: err}
	}
	return out, nil
}

func (e *Engine) compile(lang script.Lang, query string) (selector, error) {
	key := cacheKey{lang: lang, query: query}
	if cached, ok := e.cache.Load(key); ok {
		return cached.(selector), nil //nolint:forcetypeassert // only selectors are stored
	}

	var (
		sel selector
		err error
	)
	switch lang {
	case script.LangCSS:
		sel, err = compileCSS(query)
	case script.LangXPath:
		sel, err = compileXPath(query)
	default:
		err = ErrUnknownLang
	}
	if err != nil {
		return nil, &QueryError{Lang: lang, Query: query, Err: err}
	}

	actual, _ := e.cache.LoadOrStore(key, sel)
	return actual.(selector), nil //nolint:forcetypeassert // only selectors are stored
}

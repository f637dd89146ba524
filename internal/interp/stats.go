package interp

import (
	"log/slog"
	"sync/atomic"
)

// Stats counts what a run did.
type Stats struct {
	// Fetched is the number of locators fetched successfully.
	Fetched int64
	// Failed is the number of locators that could not be joined or fetched.
	Failed int64
	// Duplicates is the number of locators skipped because the run had
	// already claimed them.
	Duplicates int64
	// QueryErrors is the number of query evaluations that failed.
	QueryErrors int64
	// Emitted is the number of lines written by collects.
	Emitted int64
}

// LogValue implements slog.LogValuer.
func (s Stats) LogValue() slog.Value {
	return slog.GroupValue(
		slog.Int64("fetched", s.Fetched),
		slog.Int64("failed", s.Failed),
		slog.Int64("duplicates", s.Duplicates),
		slog.Int64("query_errors", s.QueryErrors),
		slog.Int64("emitted", s.Emitted),
	)
}

type counters struct {
	fetched     atomic.Int64
	failed      atomic.Int64
	duplicates  atomic.Int64
	queryErrors atomic.Int64
	emitted     atomic.Int64
}

func (c *counters) snapshot() Stats {
	return Stats{
		Fetched:     c.fetched.Load(),
		Failed:      c.failed.Load(),
		Duplicates:  c.duplicates.Load(),
		QueryErrors: c.queryErrors.Load(),
		Emitted:     c.emitted.Load(),
	}
}

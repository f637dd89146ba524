package interp

import (
	"bufio"
	"context"
	"io"
	"sync"
)

// sink serializes writes to one stream. The first failed write is kept,
// cancels the run and is returned by every later write.
type sink struct {
	name   string
	cancel context.CancelCauseFunc

	mu  sync.Mutex
	w   *bufio.Writer
	err error
}

func newSink(name string, w io.Writer, cancel context.CancelCauseFunc) *sink {
	if w == nil {
		return nil
	}
	return &sink{name: name, w: bufio.NewWriter(w), cancel: cancel}
}

// writeLines writes each line followed by a newline and flushes, so that a
// consumer sees a batch as soon as it is complete. A nil sink discards.
func (s *sink) writeLines(lines ...string) error {
	if s == nil {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.err != nil {
		return s.err
	}
	for _, line := range lines {
		if _, err := s.w.WriteString(line); err != nil {
			return s.fail(err)
		}
		if err := s.w.WriteByte('\n'); err != nil {
			return s.fail(err)
		}
	}
	if err := s.w.Flush(); err != nil {
		return s.fail(err)
	}
	return nil
}

func (s *sink) fail(err error) error {
	s.err = &OutputWriteError{Stream: s.name, Err: err}
	s.cancel(s.err)
	return s.err
}

package main

import (
	"errors"
	"fmt"
	"io"
	"os"
)

// File descriptors a caller can open to receive the follow log and the
// final contexts of a run, e.g. "skrob run ... 3>follows.txt 4>result.txt".
const (
	followFD = 3
	resultFD = 4
)

// sideChannels are the optional streams of a run besides stdout and stderr.
type sideChannels struct {
	// follow receives every fetched locator, one per line.
	follow io.Writer
	// result receives the text of every final context, one per line.
	result io.Writer

	closers []io.Closer
}

// Close closes the files opened for the side channels.
func (s *sideChannels) Close() error {
	var errs []error
	for _, c := range s.closers {
		errs = append(errs, c.Close())
	}
	return errors.Join(errs...)
}

// sideChannelOpener opens the side channels of a run given the explicit
// --follow-log and --result-file paths, which may be empty.
type sideChannelOpener func(followPath, resultPath string) (*sideChannels, error)

// openSideChannels uses the given files when set and falls back to the
// inherited file descriptors 3 and 4 when the caller passed them open for
// writing.
func openSideChannels(followPath, resultPath string) (*sideChannels, error) {
	return openSideChannelsFrom(followPath, resultPath, inheritedFD)
}

// openFilesOnly opens only the explicit paths; inherited descriptors are
// left alone.
func openFilesOnly(followPath, resultPath string) (*sideChannels, error) {
	return openSideChannelsFrom(followPath, resultPath, func(int, string) *os.File { return nil })
}

func openSideChannelsFrom(followPath, resultPath string, inherit func(fd int, name string) *os.File) (*sideChannels, error) {
	s := &sideChannels{}

	open := func(path string, fd int, name string) (io.Writer, error) {
		if path != "" {
			f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600) //nolint:gosec // user-chosen output path
			if err != nil {
				return nil, fmt.Errorf("failed to create %s file: %w", name, err)
			}
			s.closers = append(s.closers, f)
			return f, nil
		}
		if f := inherit(fd, name); f != nil {
			s.closers = append(s.closers, f)
			return f, nil
		}
		return nil, nil
	}

	var err error
	if s.follow, err = open(followPath, followFD, "follow log"); err != nil {
		return nil, err
	}
	if s.result, err = open(resultPath, resultFD, "result"); err != nil {
		_ = s.Close() //nolint:errcheck // the open error is what matters
		return nil, err
	}
	return s, nil
}

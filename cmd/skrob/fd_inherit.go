//go:build linux || darwin || dragonfly || freebsd || netbsd || openbsd

package main

import (
	"os"

	"golang.org/x/sys/unix"
)

// inheritedFD returns a duplicate of fd when the parent process passed it
// open for writing, and nil otherwise. The caller owns and closes the
// duplicate; fd itself is never closed.
//
// A descriptor that survived exec has no close-on-exec flag. Everything the
// Go runtime opens for itself before main (cgroup files, the netpoller's
// epoll and eventfd descriptors) does, so those are never taken for side
// channels even when they land on 3 or 4.
func inheritedFD(fd int, name string) *os.File {
	fdFlags, err := unix.FcntlInt(uintptr(fd), unix.F_GETFD, 0)
	if err != nil || fdFlags&unix.FD_CLOEXEC != 0 {
		return nil
	}
	flags, err := unix.FcntlInt(uintptr(fd), unix.F_GETFL, 0)
	if err != nil || flags&unix.O_ACCMODE == unix.O_RDONLY {
		return nil
	}

	dup, err := unix.FcntlInt(uintptr(fd), unix.F_DUPFD_CLOEXEC, 0)
	if err != nil {
		return nil
	}
	return os.NewFile(uintptr(dup), name)
}

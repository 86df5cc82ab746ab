//go:build windows

package fifo

import "errors"

// ErrUnsupported is returned on Windows: spec.md §4.11 names the FIFO
// append channel as "optional, summary only" and a POSIX-style named
// pipe has no direct Windows equivalent worth faking here.
var ErrUnsupported = errors.New("fifo: append-prompt channel not supported on windows")

func mkfifo(path string, mode uint32) error {
	return ErrUnsupported
}

// Package fifo implements the append-prompt channel (spec.md §4.11): a
// per-pid named pipe under the PID registry's fifo/ directory. Bytes
// written to it by an external caller are merged into the bridge's
// child stdin as if typed.
//
// POSIX only; grounded on the pack's syscall.Mkfifo usage, using
// golang.org/x/sys/unix for the same call so non-unix build tags can
// report explicit non-support instead of silently compiling a stub.
package fifo

import (
	"io"
	"os"
)

// Endpoint is a created FIFO bound to one pid, owned by the caller for
// its lifetime: created on startup, unlinked on exit (spec.md §4.11).
type Endpoint struct {
	path string
	file *os.File
}

// Create makes the FIFO at path and opens it for reading. A read-only
// open blocks until a writer connects unless opened O_NONBLOCK, so
// Create uses a read-write open to avoid stalling the caller.
func Create(path string) (*Endpoint, error) {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return nil, err
	}
	if err := mkfifo(path, 0o600); err != nil {
		return nil, err
	}
	f, err := os.OpenFile(path, os.O_RDWR, os.ModeNamedPipe)
	if err != nil {
		os.Remove(path)
		return nil, err
	}
	return &Endpoint{path: path, file: f}, nil
}

// ReadInto copies bytes arriving on the FIFO onto ch until the
// endpoint is closed, one write per Read call so each append is
// delivered as a discrete chunk to the bridge's stdin merge.
func (e *Endpoint) ReadInto(ch chan<- []byte) {
	buf := make([]byte, 4096)
	for {
		n, err := e.file.Read(buf)
		if n > 0 {
			p := make([]byte, n)
			copy(p, buf[:n])
			select {
			case ch <- p:
			default:
			}
		}
		if err != nil {
			if err != io.EOF {
				return
			}
		}
	}
}

// Close closes and unlinks the FIFO.
func (e *Endpoint) Close() error {
	err := e.file.Close()
	os.Remove(e.path)
	return err
}

package lock

import (
	"os"

	"golang.org/x/term"

	"github.com/agentyes/agentyes/internal/logger"
)

// KeyWatcher reads single-key controls from the host TTY while a
// supervisor is queued: 'b' bypasses, 'k' kills the first blocker.
// Grounded on the pack's term.MakeRaw/Restore raw-mode idiom.
type KeyWatcher struct {
	fd       int
	oldState *term.State
	keys     chan byte
	done     chan struct{}
}

// StartKeyWatcher puts stdin into raw mode and begins reading
// single-byte controls in the background, or returns ok=false if stdin
// is not a TTY (queue polling still proceeds without the key controls).
func StartKeyWatcher() (*KeyWatcher, bool) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return nil, false
	}
	oldState, err := term.MakeRaw(fd)
	if err != nil {
		logger.Warn("queue lock: raw mode unavailable", "err", err)
		return nil, false
	}

	kw := &KeyWatcher{fd: fd, oldState: oldState, keys: make(chan byte, 8), done: make(chan struct{})}
	go kw.readLoop()
	return kw, true
}

func (kw *KeyWatcher) readLoop() {
	buf := make([]byte, 1)
	for {
		n, err := os.Stdin.Read(buf)
		if n > 0 {
			select {
			case kw.keys <- buf[0]:
			case <-kw.done:
				return
			default:
			}
		}
		if err != nil {
			return
		}
		select {
		case <-kw.done:
			return
		default:
		}
	}
}

// Keys returns the channel of raw bytes read from stdin.
func (kw *KeyWatcher) Keys() <-chan byte { return kw.keys }

// Stop restores the host terminal's prior mode.
func (kw *KeyWatcher) Stop() {
	close(kw.done)
	term.Restore(kw.fd, kw.oldState)
}

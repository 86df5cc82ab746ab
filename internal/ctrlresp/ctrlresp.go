// Package ctrlresp implements the control-code responder (spec.md §4.3,
// C3): it scans the child's raw PTY output for Primary Device Attributes
// and Cursor Position Report queries and writes the matching reply
// directly to the child's stdin, bypassing the host TTY when the host
// has none of its own to answer with.
//
// Grounded on the teacher's internal/egg server read loop, which scans
// the same class of escape sequences to answer a DA probe from a
// headless (non-TTY) relay client; generalized here to also answer CPR
// from internal/vterm's tracked cursor position.
package ctrlresp

import (
	"bytes"
	"fmt"
)

// CursorSource reports the terminal emulator's current cursor position,
// 1-based, matching internal/vterm.VTerm.CursorPosition.
type CursorSource interface {
	CursorPosition() (row, col int)
}

var (
	primaryDA  = []byte("\x1b[c")
	primaryDA0 = []byte("\x1b[0c")
	cprQuery   = []byte("\x1b[6n")

	// daReply is the VT100-with-Advanced-Video-Option reply spec.md §4.3
	// and §8 require byte-for-byte.
	daReply = []byte("\x1b[?1;2c")

	// initialCPR is injected once at start for no-split tools (spec.md
	// §4.3) so they don't stall waiting for a position reply that a
	// line-splitting host would otherwise have triggered implicitly.
	initialCPR = []byte("\x1b[1;1R")
)

// Responder scans chunks of raw child output and reports reply bytes to
// write back to the child's stdin. It is not safe for concurrent calls
// to Scan; the supervisor serializes output processing per child.
type Responder struct {
	cursor    CursorSource
	hostIsTTY bool
}

// New returns a Responder. hostIsTTY disables the CPR reply (the host
// TTY answers CPR queries itself in that case) but never disables the
// DA reply, which spec.md §4.3 requires regardless of host TTY.
func New(cursor CursorSource, hostIsTTY bool) *Responder {
	return &Responder{cursor: cursor, hostIsTTY: hostIsTTY}
}

// InitialReply returns the one-shot CSI 1;1 R to inject at child start
// for tools configured with the no-split line policy, or nil otherwise.
func (r *Responder) InitialReply(noSplit bool) []byte {
	if !noSplit {
		return nil
	}
	return append([]byte(nil), initialCPR...)
}

// Scan inspects chunk for DA/CPR queries and returns the bytes to write
// to the child's stdin in response, or nil if chunk contained none.
func (r *Responder) Scan(chunk []byte) []byte {
	var reply []byte

	if bytes.Contains(chunk, primaryDA) || bytes.Contains(chunk, primaryDA0) {
		reply = append(reply, daReply...)
	}

	if !r.hostIsTTY && bytes.Contains(chunk, cprQuery) {
		row, col := r.cursor.CursorPosition()
		reply = append(reply, []byte(fmt.Sprintf("\x1b[%d;%dR", row, col))...)
	}

	return reply
}

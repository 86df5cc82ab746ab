// Package vterm wraps charmbracelet/x/vt with scrollback capture so the
// supervisor can answer a Cursor Position Report (spec.md §4.3) and
// render a transcript (spec.md §4.9) from the same running emulator.
//
// Grounded on the teacher's internal/egg.VTerm, generalized from a
// replay-snapshot helper into a shared dependency of the control
// responder and the PTY bridge's renderer.
package vterm

import (
	"fmt"
	"strings"
	"sync"

	uv "github.com/charmbracelet/ultraviolet"
	"github.com/charmbracelet/x/vt"
)

const maxScrollbackLines = 50000

// VTerm is safe for concurrent use. Callbacks fire inside Write, so mu
// is already held when they run.
type VTerm struct {
	emu        *vt.Emulator
	scrollback []string
	sbHead     int
	sbLen      int

	mu           sync.Mutex
	altScreen    bool
	cursorHidden bool
	cols, rows   int
}

// New creates a VTerm with the given dimensions.
func New(cols, rows int) *VTerm {
	v := &VTerm{
		emu:        vt.NewEmulator(cols, rows),
		scrollback: make([]string, maxScrollbackLines),
		cols:       cols,
		rows:       rows,
	}
	v.emu.SetCallbacks(vt.Callbacks{
		ScrollOut: func(lines []uv.Line) {
			if v.altScreen {
				return
			}
			for _, line := range lines {
				rendered := line.Render()
				if v.sbLen == len(v.scrollback) {
					v.scrollback[v.sbHead] = ""
				}
				v.scrollback[v.sbHead] = rendered
				v.sbHead = (v.sbHead + 1) % len(v.scrollback)
				if v.sbLen < len(v.scrollback) {
					v.sbLen++
				}
			}
		},
		ScrollbackClear: func() {
			for i := range v.scrollback {
				v.scrollback[i] = ""
			}
			v.sbLen = 0
			v.sbHead = 0
		},
		AltScreen: func(on bool) {
			v.altScreen = on
		},
		CursorVisibility: func(visible bool) {
			v.cursorHidden = !visible
		},
	})
	return v
}

// Write feeds PTY output to the emulator.
func (v *VTerm) Write(p []byte) (int, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.emu.Write(p)
}

// Resize changes the terminal dimensions.
func (v *VTerm) Resize(cols, rows int) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.emu.Resize(cols, rows)
	v.cols = cols
	v.rows = rows
}

// CursorPosition returns the emulator's current cursor row and column,
// both 1-based, for the Cursor Position Report reply in spec.md §4.3.
func (v *VTerm) CursorPosition() (row, col int) {
	v.mu.Lock()
	defer v.mu.Unlock()
	pos := v.emu.CursorPosition()
	return pos.Y + 1, pos.X + 1
}

// CursorVisible reports whether the emulator last saw a "show cursor"
// (DECTCEM) sequence.
func (v *VTerm) CursorVisible() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return !v.cursorHidden
}

// Snapshot renders scrollback + grid + cursor restore as a single ANSI
// byte stream, suitable for replaying the transcript into a fresh
// terminal (spec.md §4.9 log/transcript consumers).
func (v *VTerm) Snapshot() []byte {
	v.mu.Lock()
	defer v.mu.Unlock()

	var buf strings.Builder

	lines := v.scrollbackLines()
	for _, line := range lines {
		buf.WriteString(line)
		buf.WriteString("\r\n")
	}

	if len(lines) > 0 {
		for range v.rows - 1 {
			buf.WriteByte('\n')
		}
	}

	buf.WriteString("\x1b[m\x1b[H")
	buf.WriteString(v.emu.Render())

	pos := v.emu.CursorPosition()
	fmt.Fprintf(&buf, "\x1b[%d;%dH", pos.Y+1, pos.X+1)

	if v.cursorHidden {
		buf.WriteString("\x1b[?25l")
	} else {
		buf.WriteString("\x1b[?25h")
	}

	return []byte(buf.String())
}

// ScrollbackLen returns the number of scrollback lines currently stored.
func (v *VTerm) ScrollbackLen() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.sbLen
}

// Close releases the emulator resources.
func (v *VTerm) Close() error {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.emu.Close()
}

// scrollbackLines returns all scrollback lines oldest-first. Must be
// called with mu held.
func (v *VTerm) scrollbackLines() []string {
	if v.sbLen == 0 {
		return nil
	}
	lines := make([]string, v.sbLen)
	start := (v.sbHead - v.sbLen + len(v.scrollback)) % len(v.scrollback)
	for i := range v.sbLen {
		lines[i] = v.scrollback[(start+i)%len(v.scrollback)]
	}
	return lines
}

package ctrlresp

import (
	"bytes"
	"testing"
)

type fakeCursor struct{ row, col int }

func (f fakeCursor) CursorPosition() (int, int) { return f.row, f.col }

func TestPrimaryDAAlwaysReplies(t *testing.T) {
	r := New(fakeCursor{1, 1}, true) // host is a TTY
	got := r.Scan([]byte("prefix\x1b[cnoise"))
	if !bytes.Equal(got, []byte("\x1b[?1;2c")) {
		t.Errorf("Scan() = %q, want DA reply regardless of host TTY", got)
	}
}

func TestPrimaryDAZeroForm(t *testing.T) {
	r := New(fakeCursor{1, 1}, true)
	got := r.Scan([]byte("\x1b[0c"))
	if !bytes.Equal(got, []byte("\x1b[?1;2c")) {
		t.Errorf("Scan() = %q, want DA reply for CSI 0 c", got)
	}
}

func TestCPRRepliesOnlyWhenHostNotTTY(t *testing.T) {
	r := New(fakeCursor{5, 10}, false)
	got := r.Scan([]byte("\x1b[6n"))
	if !bytes.Equal(got, []byte("\x1b[5;10R")) {
		t.Errorf("Scan() = %q, want CPR reply", got)
	}

	r2 := New(fakeCursor{5, 10}, true)
	if got := r2.Scan([]byte("\x1b[6n")); got != nil {
		t.Errorf("Scan() = %q, want nil when host has its own TTY", got)
	}
}

func TestNoMatchReturnsNil(t *testing.T) {
	r := New(fakeCursor{1, 1}, false)
	if got := r.Scan([]byte("plain output, nothing to see")); got != nil {
		t.Errorf("Scan() = %q, want nil", got)
	}
}

func TestInitialReplyOnlyForNoSplit(t *testing.T) {
	r := New(fakeCursor{1, 1}, false)
	if got := r.InitialReply(false); got != nil {
		t.Errorf("InitialReply(false) = %q, want nil", got)
	}
	if got := r.InitialReply(true); !bytes.Equal(got, []byte("\x1b[1;1R")) {
		t.Errorf("InitialReply(true) = %q, want CSI 1;1 R", got)
	}
}

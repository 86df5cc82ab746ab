package registry

import (
	"os"
	"testing"
)

func alwaysAlive(int) bool { return true }
func neverAlive(int) bool  { return false }

func TestRegisterAndGet(t *testing.T) {
	dir := t.TempDir()
	r, err := open(dir, alwaysAlive)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer r.Close()

	if err := r.Register(123, "claude", []string{"--foo"}, "hello", r.LogPath(123), r.FifoPath(123)); err != nil {
		t.Fatalf("Register: %v", err)
	}

	rec, ok, err := r.Get(123)
	if err != nil || !ok {
		t.Fatalf("Get: ok=%v err=%v", ok, err)
	}
	if rec.ToolName != "claude" || rec.Status != StatusActive {
		t.Errorf("rec = %+v", rec)
	}
}

func TestUpdateStatusIdempotent(t *testing.T) {
	dir := t.TempDir()
	r, _ := open(dir, alwaysAlive)
	defer r.Close()

	r.Register(42, "codex", nil, "", r.LogPath(42), r.FifoPath(42))
	code := 0
	if err := r.UpdateStatus(42, StatusExited, ReasonNormal, &code); err != nil {
		t.Fatalf("UpdateStatus: %v", err)
	}
	if err := r.UpdateStatus(42, StatusExited, ReasonNormal, &code); err != nil {
		t.Fatalf("UpdateStatus (repeat): %v", err)
	}

	rec, _, _ := r.Get(42)
	if rec.Status != StatusExited || rec.ExitReason != ReasonNormal {
		t.Errorf("rec = %+v", rec)
	}
}

func TestStaleReclaimedOnOpen(t *testing.T) {
	dir := t.TempDir()
	r, _ := open(dir, alwaysAlive)
	r.Register(999, "claude", nil, "", r.LogPath(999), r.FifoPath(999))
	r.Close()

	r2, err := open(dir, neverAlive)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer r2.Close()

	rec, ok, _ := r2.Get(999)
	if !ok {
		t.Fatal("expected stale record to survive reopen")
	}
	if rec.Status != StatusExited || rec.ExitReason != ReasonStaleCleanup {
		t.Errorf("rec = %+v, want exited/stale-cleanup", rec)
	}
}

func TestOpenCreatesDirLayout(t *testing.T) {
	dir := t.TempDir()
	r, err := open(dir, alwaysAlive)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer r.Close()

	for _, sub := range []string{"logs", "fifo"} {
		if fi, err := os.Stat(r.Dir() + "/" + sub); err != nil || !fi.IsDir() {
			t.Errorf("expected %s directory to exist", sub)
		}
	}
}

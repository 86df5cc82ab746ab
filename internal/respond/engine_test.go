package respond

import (
	"path/filepath"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/agentyes/agentyes/internal/idle"
	"github.com/agentyes/agentyes/internal/latch"
	"github.com/agentyes/agentyes/internal/session"
	"github.com/agentyes/agentyes/internal/toolprofile"
)

func testProfile() toolprofile.Profile {
	return toolprofile.Profile{
		Ready:                  []*regexp.Regexp{regexp.MustCompile(`Welcome`)},
		Enter:                  []*regexp.Regexp{regexp.MustCompile(`Press Enter`)},
		Fatal:                  []*regexp.Regexp{regexp.MustCompile(`usage limit`)},
		RestartWithoutContinue: []*regexp.Regexp{regexp.MustCompile(`No conversation found`)},
		TypingRespond: []toolprofile.TypingRespond{
			{Response: "y\r", Patterns: []*regexp.Regexp{regexp.MustCompile(`\(y/n\)`)}},
		},
	}
}

type recordingWriter struct {
	mu     sync.Mutex
	writes [][]byte
}

func (w *recordingWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	cp := append([]byte(nil), p...)
	w.writes = append(w.writes, cp)
	return len(p), nil
}

func (w *recordingWriter) count() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.writes)
}

func newTestEngine(t *testing.T, profile toolprofile.Profile) (*Engine, *recordingWriter, *latch.Latch) {
	t.Helper()
	w := &recordingWriter{}
	ready := latch.New()
	mon := idle.New()
	e := New(profile, ready, mon, "", nil, Hooks{Write: w.Write})
	return e, w, ready
}

func TestReadySetsLatch(t *testing.T) {
	e, _, ready := newTestEngine(t, testProfile())
	e.NotifyOutput()
	e.Process("Welcome to the tool")
	if !ready.IsReady() {
		t.Fatal("expected ready latch set after ready pattern match")
	}
}

func TestTypingRespondWritesImmediately(t *testing.T) {
	e, w, _ := newTestEngine(t, testProfile())
	e.NotifyOutput()
	e.Process("Proceed? (y/n)")
	if w.count() != 1 {
		t.Fatalf("writes = %d, want 1", w.count())
	}
}

func TestFatalSetsFlagOnce(t *testing.T) {
	var calls int
	e, _, _ := newTestEngine(t, testProfile())
	e.hooks.OnFatal = func() { calls++ }
	e.NotifyOutput()
	e.Process("Claude usage limit reached")
	e.NotifyOutput()
	e.Process("Claude usage limit reached")
	if !e.IsFatal() {
		t.Fatal("expected IsFatal true")
	}
	if calls != 1 {
		t.Errorf("OnFatal calls = %d, want 1 (fired once)", calls)
	}
}

func TestRestartWithoutContinueSetsBothFlags(t *testing.T) {
	e, _, _ := newTestEngine(t, testProfile())
	e.NotifyOutput()
	e.Process("No conversation found to resume")
	if !e.IsFatal() || !e.ShouldRestartWithoutContinue() {
		t.Fatal("expected both isFatal and shouldRestartWithoutContinue set")
	}
}

func TestReadyGatedByMinChunk(t *testing.T) {
	p := testProfile()
	p.ReadyMinChunk = 2
	e, _, ready := newTestEngine(t, p)

	e.NotifyOutput()
	e.Process("Welcome to the tool") // chunk 1, gated
	if ready.IsReady() {
		t.Fatal("expected ready to stay unset within the gated window")
	}
	e.NotifyOutput()
	e.Process("filler") // chunk 2, still gated (i=2, not > 2)
	if ready.IsReady() {
		t.Fatal("expected ready to stay unset at exactly ReadyMinChunk")
	}
	e.NotifyOutput()
	e.Process("Welcome to the tool") // chunk 3, past gate
	if !ready.IsReady() {
		t.Fatal("expected ready set once past ReadyMinChunk")
	}
}

func TestEnterProtocolRetransmitsWithoutResponse(t *testing.T) {
	e, w, _ := newTestEngine(t, testProfile())
	start := time.Now()
	e.enterProtocol(10 * time.Millisecond)
	elapsed := time.Since(start)

	if w.count() != 3 {
		t.Fatalf("writes = %d, want 3 (initial + two retransmits)", w.count())
	}
	if elapsed < time.Second+3*time.Second {
		t.Errorf("elapsed = %s, want >= 4s (1s + 3s retransmit windows)", elapsed)
	}
}

func TestEnterProtocolStopsOnOutput(t *testing.T) {
	e, w, _ := newTestEngine(t, testProfile())
	go func() {
		time.Sleep(50 * time.Millisecond)
		e.NotifyOutput()
	}()
	e.enterProtocol(10 * time.Millisecond)
	if w.count() != 1 {
		t.Fatalf("writes = %d, want 1 (no retransmit once output arrives)", w.count())
	}
}

func TestSessionCaptureUpsertsStore(t *testing.T) {
	dir := t.TempDir()
	store, err := session.Open(filepath.Join(dir, "sessions.json"))
	if err != nil {
		t.Fatalf("session.Open: %v", err)
	}
	resolver := session.NewResolver(store)

	w := &recordingWriter{}
	ready := latch.New()
	mon := idle.New()
	p := testProfile()
	p.Resumable = true
	e := New(p, ready, mon, "/work/proj", resolver, Hooks{Write: w.Write})

	e.NotifyOutput()
	e.Process("session id: 550e8400-e29b-41d4-a716-446655440000")

	if got := resolver.Lookup("/work/proj"); got != "550e8400-e29b-41d4-a716-446655440000" {
		t.Errorf("Lookup() = %q", got)
	}
}

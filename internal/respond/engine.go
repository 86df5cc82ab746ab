// Package respond implements the auto-response engine (spec.md §4.8,
// C8): the ordered per-chunk reaction pipeline (ready, enter,
// typing-respond, fatal, restart-without-continue, session capture)
// plus the enter and send-message protocols that make keystrokes
// reliable against a confirm UI that hasn't finished rendering yet.
//
// Grounded on the teacher's broadcast-latch idiom (internal/latch) and
// the idle monitor's ping/wait API (internal/idle); the pattern data
// itself comes from internal/toolprofile.
package respond

import (
	"sync/atomic"
	"time"

	"github.com/agentyes/agentyes/internal/idle"
	"github.com/agentyes/agentyes/internal/latch"
	"github.com/agentyes/agentyes/internal/logger"
	"github.com/agentyes/agentyes/internal/session"
	"github.com/agentyes/agentyes/internal/toolprofile"
)

// enterQuietWindow is the default idle quiet period the enter protocol
// waits for before sending its first CR (spec.md §4.8).
const enterQuietWindow = 400 * time.Millisecond

// Hooks lets the engine act on the outside world without depending
// directly on the PTY bridge or supervisor packages.
type Hooks struct {
	// Write sends bytes to the child's stdin.
	Write func([]byte) (int, error)
	// OnFatal is invoked once when a fatal pattern matches.
	OnFatal func()
	// OnRestartWithoutContinue is invoked once when that pattern matches.
	OnRestartWithoutContinue func()
}

// Engine processes one child's output stream. Not safe for concurrent
// Process calls; the PTY bridge serializes chunk delivery.
type Engine struct {
	profile toolprofile.Profile
	hooks   Hooks

	ready      *latch.Latch // C1, shared with the bridge's write-gate
	firstReady *latch.Latch // one-shot; never re-armed after first ready
	nextStdout *latch.Latch
	idleMon    *idle.Monitor

	sessionDir string
	sessions   *session.Resolver

	isFatal                      atomic.Bool
	shouldRestartWithoutContinue atomic.Bool

	chunkIndex int
}

// New builds an Engine. ready and idleMon are shared with the PTY
// bridge (the same ready-latch gates writes; the same idle monitor is
// pinged from both directions of the stream).
func New(profile toolprofile.Profile, ready *latch.Latch, idleMon *idle.Monitor, sessionDir string, sessions *session.Resolver, hooks Hooks) *Engine {
	return &Engine{
		profile:    profile,
		hooks:      hooks,
		ready:      ready,
		firstReady: latch.New(),
		nextStdout: latch.New(),
		idleMon:    idleMon,
		sessionDir: sessionDir,
		sessions:   sessions,
	}
}

// IsFatal reports whether a fatal pattern has matched this run.
func (e *Engine) IsFatal() bool { return e.isFatal.Load() }

// ShouldRestartWithoutContinue reports whether the restart-without-
// continue pattern has matched this run.
func (e *Engine) ShouldRestartWithoutContinue() bool {
	return e.shouldRestartWithoutContinue.Load()
}

// NotifyOutput must be called once per chunk of raw output read from
// the child, before Process, so the idle monitor and next-stdout latch
// see every byte regardless of which reaction (if any) fires.
func (e *Engine) NotifyOutput() {
	e.idleMon.Ping()
	e.nextStdout.Ready()
}

// Process runs the ordered reaction pipeline of spec.md §4.8 against
// one de-ANSI'd, line-policy-split chunk.
func (e *Engine) Process(chunk string) {
	e.chunkIndex++
	i := e.chunkIndex

	if e.readyGated(i) && toolprofile.MatchAny(e.profile.Ready, chunk) {
		e.ready.Ready()
		e.firstReady.Ready()
	}

	if toolprofile.MatchAny(e.profile.Enter, chunk) {
		go e.EnterProtocol()
		return
	}

	for _, tr := range e.profile.TypingRespond {
		if toolprofile.MatchAny(tr.Patterns, chunk) {
			e.write([]byte(tr.Response))
			return
		}
	}

	if toolprofile.MatchAny(e.profile.Fatal, chunk) {
		if !e.isFatal.Swap(true) {
			if e.hooks.OnFatal != nil {
				e.hooks.OnFatal()
			}
		}
	}

	if toolprofile.MatchAny(e.profile.RestartWithoutContinue, chunk) {
		e.isFatal.Store(true)
		if !e.shouldRestartWithoutContinue.Swap(true) {
			if e.hooks.OnRestartWithoutContinue != nil {
				e.hooks.OnRestartWithoutContinue()
			}
		}
	}

	if e.profile.Resumable && e.sessions != nil {
		if id := session.ExtractUUID(chunk); id != "" {
			if err := e.sessions.ObserveUUID(e.sessionDir, id, time.Now()); err != nil {
				logger.Warn("respond: session upsert failed", "err", err)
			}
		}
	}
}

// readyGated applies the Gemini-like-tools boundary behavior: a
// configured ReadyMinChunk suppresses ready matches at or before that
// chunk index, so a noisy boot banner can't be mistaken for readiness.
func (e *Engine) readyGated(i int) bool {
	return i > e.profile.ReadyMinChunk
}

func (e *Engine) write(p []byte) {
	if e.hooks.Write == nil {
		return
	}
	if _, err := e.hooks.Write(p); err != nil {
		logger.Warn("respond: write failed", "err", err)
	}
}

// EnterProtocol sends a confirming Enter keystroke, retransmitting up
// to twice if the child doesn't produce any output in response, per
// spec.md §4.8. It blocks until either output arrives or the final
// retransmit window elapses.
func (e *Engine) EnterProtocol() {
	e.enterProtocol(enterQuietWindow)
}

// enterProtocol implements the retransmit sequence with a caller-chosen
// initial quiet wait (the send-message protocol uses 1s, §4.8).
func (e *Engine) enterProtocol(initialWait time.Duration) {
	e.idleMon.Wait(initialWait)

	e.nextStdout.Unready()
	e.write([]byte("\r"))

	if e.awaitNextStdout(time.Second) {
		return
	}
	e.write([]byte("\r"))
	if e.awaitNextStdout(3 * time.Second) {
		return
	}
	e.write([]byte("\r"))
}

// awaitNextStdout blocks until the next chunk of child output arrives
// or window elapses, returning whether output arrived in time.
func (e *Engine) awaitNextStdout(window time.Duration) bool {
	select {
	case <-e.nextStdout.C():
		return true
	case <-time.After(window):
		return false
	}
}

// SendMessage implements the send-message protocol (spec.md §4.8): used
// both for the initial prompt and for exit commands. waitReady controls
// whether it first blocks on the ready-latch (set false for exit
// commands sent during an already-confirmed session).
func (e *Engine) SendMessage(msg string, waitReady bool) {
	if waitReady {
		e.ready.Wait()
	}
	e.nextStdout.Unready()
	e.write([]byte(msg))
	e.idleMon.Ping()
	e.awaitNextStdout(time.Second)
	e.enterProtocol(time.Second)
}

// Package ptybridge implements the PTY bridge (spec.md §4.9, C9): it
// spawns the child inside a pseudo-terminal sized to the host, duplexes
// host stdio with the child, and fans the child's raw output out to
// the terminal-emulator renderer, the raw-log sink, the auto-response
// engine, and the host's own stdout.
//
// Grounded on the teacher's internal/egg.Server.RunSession: the same
// pty.StartWithSize + cmd.Cancel/WaitDelay graceful-termination setup,
// the same readPTY fan-out-on-every-chunk shape, generalized away from
// egg's gRPC/sandbox/audit specifics toward the host-stdio duplex this
// spec calls for.
package ptybridge

import (
	"bytes"
	"context"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/x/ansi"

	"github.com/agentyes/agentyes/internal/ctrlresp"
	"github.com/agentyes/agentyes/internal/latch"
	"github.com/agentyes/agentyes/internal/vterm"
)

const (
	etx = 0x03 // Ctrl-C
	sub = 0x1A // Ctrl-Z
)

// LineSplit selects how raw output is chunked before reaching the
// auto-response engine (spec.md §4.4).
type LineSplit int

const (
	SplitNewline LineSplit = iota
	SplitNone
)

// Config configures one bridge invocation.
type Config struct {
	Bin  string
	Args []string
	Dir  string
	Env  []string

	HostCols, HostRows int
	HostIsTTY          bool

	LineSplit LineSplit

	// RawLog and HostStdout receive every raw byte read from the child.
	// HostStdoutStrip, when set, strips ANSI before writing to HostStdout
	// (spec.md §4.9: "optionally with ANSI stripping when the host is
	// not a TTY").
	RawLog          io.Writer
	HostStdout      io.Writer
	HostStdoutStrip bool

	// OnRawChunk is invoked once per raw Read, before line-splitting, so
	// callers that track activity against every byte (the idle monitor,
	// the next-stdout latch) see it regardless of the line policy.
	OnRawChunk func(raw []byte)

	// OnChunk receives each de-ANSI'd, line-policy-split chunk for the
	// auto-response engine, in arrival order and only after the
	// renderer has already observed the raw bytes (spec.md §5 ordering
	// guarantee).
	OnChunk func(chunk string)

	// OnChildExit is invoked once with the child's exit code when
	// cmd.Wait returns.
	OnChildExit func(exitCode int)

	// Ready gates every write to the child's stdin except control
	// replies and the pre-ready SIGINT passthrough (spec.md §4.9).
	Ready *latch.Latch

	// AppendCh, if non-nil, is merged into the child's stdin stream as
	// if typed (spec.md §4.11).
	AppendCh <-chan []byte

	// OnPreReadyAbort is invoked when ETX arrives before Ready is set;
	// the bridge has already sent SIGINT and passed one ETX byte
	// through by the time this fires.
	OnPreReadyAbort func()
}

// Bridge duplexes one child process with the host.
type Bridge struct {
	cfg Config
	c   *child

	vt   *vterm.VTerm
	ctrl *ctrlresp.Responder

	mu      sync.Mutex
	noSplit bool
	lineBuf bytes.Buffer

	done chan struct{}
}

// Start spawns the child and returns a running Bridge. ctx cancellation
// terminates the child via SIGTERM (cmd.Cancel) then SIGKILL after the
// 5s WaitDelay.
func Start(ctx context.Context, cfg Config) (*Bridge, error) {
	cols, rows := computeWinsize(cfg.HostCols, cfg.HostRows, cfg.HostIsTTY)
	c, err := spawnChild(ctx, cfg.Bin, cfg.Args, cfg.Dir, cfg.Env, cols, rows)
	if err != nil {
		return nil, err
	}

	vt := vterm.New(cols, rows)
	b := &Bridge{
		cfg:     cfg,
		c:       c,
		vt:      vt,
		ctrl:    ctrlresp.New(vt, cfg.HostIsTTY),
		noSplit: cfg.LineSplit == SplitNone,
		done:    make(chan struct{}),
	}

	go b.readLoop()
	go b.waitLoop()

	return b, nil
}

// PID returns the child process id.
func (b *Bridge) PID() int {
	if b.c.cmd.Process == nil {
		return 0
	}
	return b.c.cmd.Process.Pid
}

// Resize forwards new host dimensions to the child PTY.
func (b *Bridge) Resize(cols, rows int) {
	cols, rows = computeWinsize(cols, rows, b.cfg.HostIsTTY)
	b.c.resize(cols, rows)
	b.vt.Resize(cols, rows)
}

// Snapshot returns the rendered transcript for the final log write.
func (b *Bridge) Snapshot() []byte { return b.vt.Snapshot() }

// RenderedText returns the current snapshot with ANSI stripped, for the
// still-working heuristic (spec.md §4.10) to scan for plain substrings.
func (b *Bridge) RenderedText() string { return ansi.Strip(string(b.vt.Snapshot())) }

// Write is the ready-gated writer: it blocks on the ready-latch before
// writing to the child's stdin, so no byte predates the ready release
// except what ctrlresp/abort handling writes directly.
func (b *Bridge) Write(p []byte) (int, error) {
	if b.cfg.Ready != nil {
		b.cfg.Ready.Wait()
	}
	return b.writeRaw(p)
}

func (b *Bridge) writeRaw(p []byte) (int, error) {
	if b.c.usingPTY {
		return b.c.ptmx.Write(p)
	}
	return b.c.stdin.Write(p)
}

// reader returns the stream to read raw child output from.
func (b *Bridge) reader() io.Reader {
	if b.c.usingPTY {
		return b.c.ptmx
	}
	return io.MultiReader(b.c.stdout, b.c.stderr)
}

func (b *Bridge) readLoop() {
	r := b.reader()
	buf := make([]byte, 4096)

	if noSplitInitial := b.ctrl.InitialReply(b.noSplit); noSplitInitial != nil {
		b.writeRaw(noSplitInitial)
	}

	for {
		n, err := r.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			b.handleChunk(chunk)
		}
		if err != nil {
			return
		}
	}
}

// handleChunk fans one raw chunk out in the ordering spec.md §5
// requires: renderer first, then everything derived from it.
func (b *Bridge) handleChunk(raw []byte) {
	b.vt.Write(raw)

	if b.cfg.OnRawChunk != nil {
		b.cfg.OnRawChunk(raw)
	}

	if b.cfg.RawLog != nil {
		b.cfg.RawLog.Write(raw)
	}

	hostOut := raw
	if b.cfg.HostStdoutStrip {
		hostOut = []byte(ansi.Strip(string(raw)))
	}
	if b.cfg.HostStdout != nil {
		b.cfg.HostStdout.Write(hostOut)
	}

	if reply := b.ctrl.Scan(raw); reply != nil {
		b.writeRaw(reply)
	}

	if b.cfg.OnChunk != nil {
		for _, piece := range b.splitLines(raw) {
			b.cfg.OnChunk(piece)
		}
	}
}

// splitLines applies the line-splitting policy of spec.md §4.4: either
// emit complete newline-delimited lines (buffering any trailing partial
// line), or, for no-split tools, emit the whole de-ANSI'd chunk as one
// piece since those assistants repaint by cursor motion rather than
// newlines.
func (b *Bridge) splitLines(raw []byte) []string {
	clean := ansi.Strip(string(raw))
	if b.noSplit {
		return []string{clean}
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.lineBuf.WriteString(clean)

	var lines []string
	for {
		buffered := b.lineBuf.String()
		idx := strings.IndexByte(buffered, '\n')
		if idx < 0 {
			break
		}
		lines = append(lines, buffered[:idx])
		b.lineBuf.Reset()
		b.lineBuf.WriteString(buffered[idx+1:])
	}
	return lines
}

func (b *Bridge) waitLoop() {
	err := b.c.cmd.Wait()
	exitCode := 0
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			exitCode = exitErr.ExitCode()
		} else {
			exitCode = 1
		}
	}
	close(b.done)
	if b.cfg.OnChildExit != nil {
		b.cfg.OnChildExit(exitCode)
	}
}

// Done closes when the child has exited.
func (b *Bridge) Done() <-chan struct{} { return b.done }

// Kill sends SIGKILL to the child immediately.
func (b *Bridge) Kill() error {
	if b.c.cmd.Process == nil {
		return nil
	}
	return b.c.cmd.Process.Kill()
}

// WaitExit blocks for the child to exit, or kills it after timeout.
func (b *Bridge) WaitExit(timeout time.Duration) {
	select {
	case <-b.done:
	case <-time.After(timeout):
		b.Kill()
		<-b.done
	}
}

// ProcessHostStdin reads from src and writes to the child, applying the
// terminate-signal filter, until src closes or the bridge is done. The
// append channel is merged separately by MergeAppendChannel. This is the host-stdin half of the
// duplex in spec.md §4.9.
func (b *Bridge) ProcessHostStdin(src io.Reader) {
	buf := make([]byte, 4096)
	for {
		n, err := src.Read(buf)
		if n > 0 {
			b.filterAndWrite(buf[:n])
		}
		if err != nil {
			return
		}
		select {
		case <-b.done:
			return
		default:
		}
	}
}

func (b *Bridge) filterAndWrite(p []byte) {
	var out []byte
	for _, ch := range p {
		switch ch {
		case sub:
			// Dropped silently: unsupported (spec.md §4.9).
			continue
		case etx:
			if b.cfg.Ready == nil || !b.cfg.Ready.IsReady() {
				if b.c.cmd.Process != nil {
					b.c.cmd.Process.Signal(os.Interrupt)
				}
				// The one passed-through ETX bypasses the ready-gate.
				b.writeRaw([]byte{ch})
				if b.cfg.OnPreReadyAbort != nil {
					b.cfg.OnPreReadyAbort()
				}
				continue
			}
		}
		out = append(out, ch)
	}
	if len(out) > 0 {
		b.Write(out)
	}
}

// MergeAppendChannel starts forwarding bytes from cfg.AppendCh into the
// child's stdin, as if typed, until the channel closes or the bridge
// exits (spec.md §4.11).
func (b *Bridge) MergeAppendChannel() {
	if b.cfg.AppendCh == nil {
		return
	}
	for {
		select {
		case p, ok := <-b.cfg.AppendCh:
			if !ok {
				return
			}
			b.Write(p)
		case <-b.done:
			return
		}
	}
}

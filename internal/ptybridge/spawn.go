package ptybridge

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"syscall"
	"time"

	"github.com/creack/pty"

	"github.com/agentyes/agentyes/internal/logger"
)

// child wraps either a real PTY or, when PTY allocation fails, a
// pipe-backed fallback (spec.md's out-of-scope "pseudo-terminal
// spawner" collaborator still has to degrade somewhere; grounded on
// gongjunhao-mybot's codex adapter, which hits the same EPERM case in
// sandboxed environments).
type child struct {
	cmd *exec.Cmd

	ptmx *os.File // non-nil in PTY mode

	stdin  io.WriteCloser
	stdout io.ReadCloser // pipe mode only; PTY mode reads everything from ptmx
	stderr io.ReadCloser // pipe mode only

	usingPTY bool
}

func spawnChild(ctx context.Context, bin string, args []string, dir string, env []string, cols, rows int) (*child, error) {
	newCmd := func() *exec.Cmd {
		cmd := exec.CommandContext(ctx, bin, args...)
		cmd.Dir = dir
		cmd.Env = env
		cmd.Cancel = func() error {
			return cmd.Process.Signal(syscall.SIGTERM)
		}
		cmd.WaitDelay = 5 * time.Second
		return cmd
	}

	cmd := newCmd()
	size := &pty.Winsize{Cols: uint16(cols), Rows: uint16(rows)}
	ptmx, err := pty.StartWithSize(cmd, size)
	if err == nil {
		return &child{cmd: cmd, ptmx: ptmx, stdin: ptmx, usingPTY: true}, nil
	}

	logger.Warn("ptybridge: PTY allocation failed, falling back to pipes", "err", err)

	// pty.StartWithSize may have partially populated cmd's stdio on
	// failure; a fresh *exec.Cmd avoids reusing that half-wired state.
	cmd = newCmd()
	stdin, serr := cmd.StdinPipe()
	if serr != nil {
		return nil, fmt.Errorf("pty.StartWithSize: %v; StdinPipe: %w", err, serr)
	}
	stdout, serr := cmd.StdoutPipe()
	if serr != nil {
		return nil, fmt.Errorf("pty.StartWithSize: %v; StdoutPipe: %w", err, serr)
	}
	stderr, serr := cmd.StderrPipe()
	if serr != nil {
		return nil, fmt.Errorf("pty.StartWithSize: %v; StderrPipe: %w", err, serr)
	}
	if serr := cmd.Start(); serr != nil {
		return nil, fmt.Errorf("pty.StartWithSize: %v; Start: %w", err, serr)
	}

	return &child{cmd: cmd, stdin: stdin, stdout: stdout, stderr: stderr, usingPTY: false}, nil
}

// resize forwards new dimensions to the PTY. A no-op in pipe-fallback
// mode, which has no concept of a window size.
func (c *child) resize(cols, rows int) {
	if !c.usingPTY {
		return
	}
	if err := pty.Setsize(c.ptmx, &pty.Winsize{Cols: uint16(cols), Rows: uint16(rows)}); err != nil {
		logger.Warn("ptybridge: resize failed", "err", err)
	}
}

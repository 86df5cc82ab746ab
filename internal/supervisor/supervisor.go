package supervisor

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/term"

	"github.com/agentyes/agentyes/internal/config"
	"github.com/agentyes/agentyes/internal/fifo"
	"github.com/agentyes/agentyes/internal/idle"
	"github.com/agentyes/agentyes/internal/latch"
	"github.com/agentyes/agentyes/internal/lock"
	"github.com/agentyes/agentyes/internal/logger"
	"github.com/agentyes/agentyes/internal/ptybridge"
	"github.com/agentyes/agentyes/internal/registry"
	"github.com/agentyes/agentyes/internal/respond"
	"github.com/agentyes/agentyes/internal/session"
	"github.com/agentyes/agentyes/internal/toolprofile"
)

// Run executes one supervised invocation end to end: acquire the queue
// lock (if requested), spawn the child, drive it through the auto-
// response engine, handle crash-restart/idle-exit/graceful-exit, and
// return once the final exit code has resolved (spec.md §4.10).
func Run(ctx context.Context, table *toolprofile.Table, opts Options) (Result, error) {
	profile, ok := table.Lookup(opts.Tool)
	if !ok {
		return Result{}, newErr(KindUnknownTool, fmt.Errorf("unknown tool %q", opts.Tool))
	}

	cwd, err := config.ResolveCWD(opts.CWD)
	if err != nil {
		return Result{}, newErr(KindSpawnFailure, fmt.Errorf("resolve cwd: %w", err))
	}
	gitRoot := config.GitRoot(cwd)

	userDir, err := config.UserDir()
	if err != nil {
		return Result{}, newErr(KindSpawnFailure, fmt.Errorf("resolve user config dir: %w", err))
	}

	if opts.Queue {
		h, err := acquireQueueLock(filepath.Join(userDir, "running.lock.json"), cwd, gitRoot, os.Getpid(), opts.Tool)
		if err != nil {
			return Result{}, newErr(KindSpawnFailure, fmt.Errorf("acquire queue lock: %w", err))
		}
		defer h.Release()
	}

	reg, err := registry.Open(cwd)
	if err != nil {
		return Result{}, newErr(KindSpawnFailure, fmt.Errorf("open pid registry: %w", err))
	}
	defer reg.Close()

	store, err := session.Open(filepath.Join(userDir, "codex-sessions.json"))
	if err != nil {
		return Result{}, newErr(KindSpawnFailure, fmt.Errorf("open session store: %w", err))
	}
	resolver := session.NewResolver(store)
	defer resolver.Close()

	if metaPath, perr := resolveSessionMetaPath(profile.SessionMetaFile, cwd); perr != nil {
		logger.Warn("session metadata path", "err", perr)
	} else if metaPath != "" {
		if werr := resolver.WatchMetaFile(metaPath); werr != nil {
			logger.Warn("watch session metadata file failed", "path", metaPath, "err", werr)
		}
	}

	var resumeSessionID string
	if opts.Resume {
		resumeSessionID = resolver.Lookup(cwd)
	}

	args, prompt, err := buildArgs(profile, opts.Args, opts.Prompt, resumeSessionID, opts.Resume, opts.UseSkills)
	if err != nil {
		return Result{}, err
	}

	s := &invocation{profile: profile, reg: reg, resolver: resolver, cwd: cwd, opts: opts}
	exitCode, logPath, rawLogPath, err := s.runLoop(ctx, args, prompt)
	if err != nil {
		return Result{}, err
	}

	if opts.LogFile != "" {
		if b, rerr := os.ReadFile(logPath); rerr == nil {
			os.WriteFile(opts.LogFile, b, 0o644)
		}
	}

	return Result{ExitCode: exitCode, LogPath: logPath, RawLog: rawLogPath}, nil
}

// acquireQueueLock wraps lock.Acquire with the raw-mode single-key UI
// (spec.md §4.7 step 5): 'b' bypasses, 'k' kills the first blocker.
func acquireQueueLock(lockPath, cwd, gitRoot string, pid int, description string) (*lock.Handle, error) {
	var kw *lock.KeyWatcher
	started := false

	onQueued := func(blockers []lock.Task) lock.QueueAction {
		if !started {
			started = true
			if w, ok := lock.StartKeyWatcher(); ok {
				kw = w
				fmt.Fprintln(os.Stderr, "agent-yes: queued behind a running session in this repository; press 'b' to bypass, 'k' to kill it")
			}
		}
		if kw == nil {
			return lock.QueueAction{}
		}
		select {
		case key := <-kw.Keys():
			switch key {
			case 'b':
				return lock.QueueAction{Bypass: true}
			case 'k':
				return lock.QueueAction{Kill: true}
			}
		default:
		}
		return lock.QueueAction{}
	}

	h, err := lock.Acquire(lockPath, cwd, gitRoot, pid, description, onQueued)
	if kw != nil {
		kw.Stop()
	}
	return h, err
}

// invocation holds the state threaded through successive spawn
// attempts of one invocation (crash-restart keeps the same registry,
// session resolver, and working directory across respawns).
type invocation struct {
	profile  toolprofile.Profile
	reg      *registry.Registry
	resolver *session.Resolver
	cwd      string
	opts     Options

	lastPID int
}

// runLoop spawns the child, waits for it to exit, and, per the onExit
// decision table in spec.md §4.10, either returns the final result or
// respawns with adjusted args.
func (s *invocation) runLoop(ctx context.Context, args []string, prompt string) (exitCode int, logPath, rawLogPath string, err error) {
	for {
		attemptExitCode, restart, nextArgs, attemptErr := s.spawnOnce(ctx, args, prompt)
		if attemptErr != nil {
			return 0, "", "", attemptErr
		}
		if !restart {
			pid := s.lastPID
			return attemptExitCode, s.reg.LogPath(pid), s.reg.RawLogPath(pid), nil
		}
		args = nextArgs
		prompt = "" // a restart never re-registers the original prompt (spec.md §4.10)
	}
}

// spawnOnce drives exactly one child process from spawn to exit,
// returning whether the onExit decision calls for a respawn and, if
// so, the args to respawn with.
func (s *invocation) spawnOnce(ctx context.Context, args []string, prompt string) (exitCode int, restart bool, nextArgs []string, err error) {
	bin := s.profile.BinaryName()
	if _, lookErr := exec.LookPath(bin); lookErr != nil {
		if s.opts.Install && s.profile.InstallHint != "" {
			fmt.Fprintf(os.Stderr, "agent-yes: installing %s: %s\n", bin, s.profile.InstallHint)
			if runErr := exec.Command("sh", "-c", s.profile.InstallHint).Run(); runErr != nil {
				logger.Warn("install hint failed", "err", runErr)
			}
		}
		if _, lookErr := exec.LookPath(bin); lookErr != nil {
			if s.profile.InstallHint != "" {
				fmt.Fprintf(os.Stderr, "agent-yes: %s not found on PATH. Install with:\n  %s\n", bin, s.profile.InstallHint)
			}
			return 0, false, nil, newErr(KindChildNotFound, fmt.Errorf("%s: %w", bin, lookErr))
		}
	}

	ready := latch.New()
	idleMon := idle.New()
	appendCh := make(chan []byte, 8)

	var bridge *ptybridge.Bridge
	var engine *respond.Engine
	var gracefulExit atomic.Bool
	var preReadyAbort atomic.Bool
	var exitOnce sync.Once
	exitAgent := func() {
		exitOnce.Do(func() {
			gracefulExit.Store(true)
			go func() {
				for _, cmd := range s.profile.ExitCommandsOrDefault() {
					engine.SendMessage(cmd, false)
				}
				bridge.WaitExit(5 * time.Second)
			}()
		})
	}

	rawLog := &deferredWriter{}
	exitCh := make(chan int, 1)

	cfg := ptybridge.Config{
		Bin:             bin,
		Args:            args,
		Dir:             s.cwd,
		Env:             os.Environ(),
		HostCols:        s.opts.HostCols,
		HostRows:        s.opts.HostRows,
		HostIsTTY:       s.opts.HostIsTTY,
		LineSplit:       mapLineSplit(s.profile.LineSplit),
		HostStdout:      os.Stdout,
		HostStdoutStrip: !s.opts.HostIsTTY,
		Ready:           ready,
		AppendCh:        appendCh,
		OnRawChunk: func(raw []byte) {
			engine.NotifyOutput()
			rawLog.Write(raw)
		},
		OnChunk: func(chunk string) { engine.Process(chunk) },
		OnChildExit: func(code int) {
			exitCh <- code
		},
		OnPreReadyAbort: func() {
			preReadyAbort.Store(true)
		},
	}

	b, startErr := ptybridge.Start(ctx, cfg)
	if startErr != nil {
		if errors.Is(startErr, exec.ErrNotFound) {
			return 0, false, nil, newErr(KindChildNotFound, startErr)
		}
		return 0, false, nil, newErr(KindSpawnFailure, startErr)
	}
	bridge = b
	pid := bridge.PID()
	s.lastPID = pid

	rawLog.Attach(s.reg.RawLogPath(pid))
	defer rawLog.Close()

	var dbgFile *os.File
	if s.opts.Verbose {
		if dbgLog, f, derr := logger.NewDebugFile(s.reg.DebugLogPath(pid)); derr == nil {
			dbgFile = f
			dbgLog.Debug("spawned", "pid", pid, "tool", s.profile.Name, "args", args)
		}
	}
	if dbgFile != nil {
		defer dbgFile.Close()
	}

	fifoPath := ""
	if s.opts.UseFifo {
		fifoPath = s.reg.FifoPath(pid)
		if ep, ferr := fifo.Create(fifoPath); ferr == nil {
			go ep.ReadInto(appendCh)
			go bridge.MergeAppendChannel()
			defer ep.Close()
		} else {
			logger.Warn("append-prompt fifo unavailable", "err", ferr)
			fifoPath = ""
		}
	}

	if err := s.reg.Register(pid, s.profile.Name, args, prompt, s.reg.LogPath(pid), fifoPath); err != nil {
		logger.Warn("pid registry: register failed", "err", err)
	}

	hooks := respond.Hooks{
		Write:                    bridge.Write,
		OnFatal:                  exitAgent,
		OnRestartWithoutContinue: exitAgent,
	}
	engine = respond.New(s.profile, ready, idleMon, s.cwd, s.resolver, hooks)

	fallbackTimer := time.AfterFunc(idle.FallbackWindow(), ready.Ready)
	defer fallbackTimer.Stop()

	stopIdleWatch := make(chan struct{})
	defer close(stopIdleWatch)
	if s.opts.IdleWindow > 0 {
		go func() {
			for {
				select {
				case <-idleMon.WaitChan(s.opts.IdleWindow):
					if stillWorking(bridge.RenderedText()) {
						continue
					}
					exitAgent()
					return
				case <-stopIdleWatch:
					return
				}
			}
		}()
	}

	if prompt != "" {
		go engine.SendMessage(prompt, true)
	}

	if s.opts.Resize != nil {
		go func() {
			for {
				select {
				case wh, ok := <-s.opts.Resize:
					if !ok {
						return
					}
					bridge.Resize(wh[0], wh[1])
				case <-bridge.Done():
					return
				}
			}
		}()
	}

	go forwardHostStdin(bridge)

	select {
	case exitCode = <-exitCh:
	case <-ctx.Done():
		bridge.Kill()
		exitCode = <-exitCh
	}
	if preReadyAbort.Load() {
		exitCode = 130
	}

	switch {
	case engine.ShouldRestartWithoutContinue():
		s.reg.UpdateStatus(pid, registry.StatusExited, registry.ReasonRestarted, &exitCode)
		return exitCode, true, stripResumeFlags(args), nil

	case !gracefulExit.Load() && exitCode != 0 && s.opts.Robust && len(s.profile.RestoreArgs) > 0 && !engine.IsFatal():
		s.reg.UpdateStatus(pid, registry.StatusExited, registry.ReasonRestarted, &exitCode)
		restoreArgs := s.profile.RestoreArgs
		if s.profile.Resumable && s.profile.ResumeArgTemplate != "" {
			if id := s.resolver.Lookup(s.cwd); id != "" {
				restoreArgs = strings.Fields(fmt.Sprintf(s.profile.ResumeArgTemplate, id))
			}
		}
		return exitCode, true, append(append([]string{}, restoreArgs...), stripResumeFlags(args)...), nil

	default:
		reason := registry.ReasonNormal
		switch {
		case engine.IsFatal():
			reason = registry.ReasonFatal
		case exitCode != 0:
			reason = registry.ReasonCrash
		}
		s.reg.UpdateStatus(pid, registry.StatusExited, reason, &exitCode)
		if err := os.WriteFile(s.reg.LogPath(pid), bridge.Snapshot(), 0o644); err != nil {
			logger.Warn("write rendered transcript failed", "err", err)
		}
		return exitCode, false, nil, nil
	}
}

// resolveSessionMetaPath expands a profile's SessionMetaFile template
// (spec.md §4.5's primary session-id source) against cwd: "~/" resolves
// to the user's home directory, and one "%s" is replaced with cwd with
// path separators flattened, the way these tools namespace per-project
// state under a single dot-directory. Returns "" with no error when the
// profile names no metadata file.
func resolveSessionMetaPath(tmpl, cwd string) (string, error) {
	if tmpl == "" {
		return "", nil
	}
	path := tmpl
	if strings.Contains(path, "%s") {
		path = fmt.Sprintf(path, sanitizeForPath(cwd))
	}
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home dir: %w", err)
		}
		path = filepath.Join(home, path[2:])
	}
	return path, nil
}

// sanitizeForPath flattens cwd into a single path component, the way
// these tools key their per-project state directories.
func sanitizeForPath(cwd string) string {
	trimmed := strings.TrimPrefix(cwd, string(filepath.Separator))
	return strings.ReplaceAll(trimmed, string(filepath.Separator), "-")
}

// forwardHostStdin drives the host-stdin half of the C9 duplex
// (spec.md §2: host stdin -> raw-mode filter -> signal interpreter ->
// C1 write-gate -> child PTY input). When stdin is a TTY it is put into
// raw mode first, so keystrokes (including the ETX/SUB bytes
// bridge.ProcessHostStdin's filter interprets) reach the child
// unprocessed by the host's own line discipline, mirroring
// internal/lock/keys.go's term.MakeRaw/Restore idiom.
func forwardHostStdin(bridge *ptybridge.Bridge) {
	fd := int(os.Stdin.Fd())
	if term.IsTerminal(fd) {
		oldState, err := term.MakeRaw(fd)
		if err != nil {
			logger.Warn("supervisor: host stdin raw mode unavailable", "err", err)
		} else {
			defer term.Restore(fd, oldState)
		}
	}
	bridge.ProcessHostStdin(os.Stdin)
}

func mapLineSplit(ls toolprofile.LineSplit) ptybridge.LineSplit {
	if ls == toolprofile.SplitNone {
		return ptybridge.SplitNone
	}
	return ptybridge.SplitNewline
}

// deferredWriter buffers bytes written before Attach opens the backing
// file, then flushes them and forwards further writes directly. It
// exists because the raw-log path is named after the child's pid
// (spec.md §4.6), which is only known once the child has been spawned,
// while the PTY bridge starts reading (and trying to log) immediately.
type deferredWriter struct {
	mu  sync.Mutex
	f   *os.File
	buf [][]byte
}

func (d *deferredWriter) Write(p []byte) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.f != nil {
		return d.f.Write(p)
	}
	cp := make([]byte, len(p))
	copy(cp, p)
	d.buf = append(d.buf, cp)
	return len(p), nil
}

func (d *deferredWriter) Attach(path string) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, b := range d.buf {
		f.Write(b)
	}
	d.buf = nil
	d.f = f
	return nil
}

func (d *deferredWriter) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.f == nil {
		return nil
	}
	return d.f.Close()
}

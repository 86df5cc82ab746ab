// Command agentyes supervises an interactive assistant CLI (claude,
// codex, gemini, cursor-agent, ...) inside a PTY, auto-confirming its
// prompts so it can run unattended in a terminal, CI job, or daemon.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/mattn/go-isatty"
	"github.com/spf13/pflag"
	"golang.org/x/term"

	"github.com/agentyes/agentyes/internal/config"
	"github.com/agentyes/agentyes/internal/logger"
	"github.com/agentyes/agentyes/internal/supervisor"
	"github.com/agentyes/agentyes/internal/toolprofile"
)

func main() {
	os.Exit(run(os.Args))
}

// run contains main's logic as a function returning an exit code, so
// tests don't have to call os.Exit directly.
func run(argv []string) int {
	toolFromBin, rest := resolveToolFromArgv(argv)

	table, err := loadTable()
	if err != nil {
		fmt.Fprintf(os.Stderr, "agent-yes: %v\n", err)
		return 1
	}

	if toolFromBin == "" && len(rest) > 0 && rest[0] == "doctor" {
		return runDoctor(table, rest[1:])
	}

	opts, toolArg, parseErr := parseFlags(rest, toolFromBin == "")
	if parseErr != nil {
		fmt.Fprintf(os.Stderr, "agent-yes: %v\n", parseErr)
		return 1
	}

	tool := toolFromBin
	if tool == "" {
		tool = toolArg
	}
	if tool == "" {
		fmt.Fprintln(os.Stderr, "agent-yes: no tool specified; pass one as the first argument or symlink the binary as <tool>-yes")
		fmt.Fprintln(os.Stderr, "known tools:", strings.Join(table.Names(), ", "))
		return 1
	}
	opts.Tool = tool

	logger.Init(opts.Verbose || os.Getenv("VERBOSE") != "")

	opts.HostCols, opts.HostRows, opts.HostIsTTY = hostSize()

	resizeCh := make(chan [2]int, 1)
	opts.Resize = resizeCh
	stopResize := watchResize(resizeCh)
	defer stopResize()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	result, err := supervisor.Run(ctx, table, opts)
	if err != nil {
		fmt.Fprintf(os.Stderr, "agent-yes: %v\n", err)
		return 1
	}
	return result.ExitCode
}

// resolveToolFromArgv implements spec.md §6's tool-name resolution:
// a binary named "<tool>-yes[.ext]" selects that tool outright, script-
// name wins over any positional argument.
func resolveToolFromArgv(argv []string) (tool string, rest []string) {
	rest = argv[1:]
	base := filepath.Base(argv[0])
	base = strings.TrimSuffix(base, filepath.Ext(base))
	if strings.HasSuffix(base, "-yes") && base != "agent-yes" && base != "agentyes" {
		return strings.TrimSuffix(base, "-yes"), rest
	}
	return "", rest
}

func loadTable() (*toolprofile.Table, error) {
	userDir, err := config.UserDir()
	if err != nil {
		return nil, fmt.Errorf("resolve config dir: %w", err)
	}
	return toolprofile.LoadWithOverride(filepath.Join(userDir, "tools.yaml"))
}

// parseFlags parses argv per spec.md §6: our own known flags, then
// (halting at the first unrecognized option or positional) everything
// else is forwarded verbatim to the child, with anything after a
// literal "--" concatenated into the prompt. consumeToolArg is false
// when the binary's own filename already named the tool, so the first
// remaining token is a child argument, not a tool name.
func parseFlags(argv []string, consumeToolArg bool) (supervisor.Options, string, error) {
	dashIdx := -1
	for i, a := range argv {
		if a == "--" {
			dashIdx = i
			break
		}
	}
	before := argv
	var promptWords []string
	if dashIdx >= 0 {
		before = argv[:dashIdx]
		promptWords = argv[dashIdx+1:]
	}

	fs := pflag.NewFlagSet("agentyes", pflag.ContinueOnError)
	fs.ParseErrorsWhitelist.UnknownFlags = true
	fs.SetInterspersed(false)

	var opts supervisor.Options
	var noRobust, noQueue bool
	var promptFlag string

	fs.DurationVar(&opts.IdleWindow, "idle", 0, "idle quiet window before exiting (e.g. 30s)")
	fs.BoolVar(&opts.Robust, "robust", true, "respawn on crash using the tool's restore args")
	fs.BoolVar(&noRobust, "no-robust", false, "disable crash-restart")
	fs.BoolVar(&opts.Queue, "queue", false, "queue behind another running session in this repo")
	fs.BoolVar(&noQueue, "no-queue", false, "never queue, even if another session is running")
	fs.BoolVar(&opts.Install, "install", false, "install the tool if missing, using its install hint")
	fs.BoolVar(&opts.Resume, "continue", false, "resume the most recent session for this directory")
	fs.BoolVar(&opts.UseSkills, "use-skills", false, "enable the tool's skills/settings-sources loading, where supported")
	fs.BoolVar(&opts.UseFifo, "fifo", false, "create a per-pid append-prompt FIFO under .agent-yes/fifo")
	fs.StringVar(&opts.LogFile, "logFile", "", "copy the rendered transcript to this path on exit")
	fs.BoolVar(&opts.Verbose, "verbose", false, "enable debug logging")
	fs.StringVarP(&promptFlag, "prompt", "p", "", "prompt to send once the tool is ready")

	if err := fs.Parse(before); err != nil {
		return supervisor.Options{}, "", err
	}
	if noRobust {
		opts.Robust = false
	}
	if noQueue {
		opts.Queue = false
	}

	remaining := fs.Args()
	tool := ""
	if consumeToolArg && len(remaining) > 0 {
		tool = remaining[0]
		remaining = remaining[1:]
	}
	opts.Args = remaining

	opts.Prompt = promptFlag
	if len(promptWords) > 0 {
		joined := strings.Join(promptWords, " ")
		if opts.Prompt != "" {
			opts.Prompt += " " + joined
		} else {
			opts.Prompt = joined
		}
	}

	return opts, tool, nil
}

// hostSize reports the host terminal's dimensions and TTY-ness, falling
// back to 80x24 when stdout isn't a terminal (spec.md §4.9).
func hostSize() (cols, rows int, isTTY bool) {
	fd := int(os.Stdout.Fd())
	isTTY = isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
	if isTTY {
		if w, h, err := term.GetSize(fd); err == nil {
			return w, h, true
		}
	}
	return 80, 24, isTTY
}

// watchResize installs a SIGWINCH handler (POSIX only) that pushes the
// new host size onto ch, and returns a stop function.
func watchResize(ch chan<- [2]int) func() {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGWINCH)
	done := make(chan struct{})
	go func() {
		for {
			select {
			case <-sigCh:
				if w, h, err := term.GetSize(int(os.Stdout.Fd())); err == nil {
					select {
					case ch <- [2]int{w, h}:
					default:
					}
				}
			case <-done:
				return
			}
		}
	}()
	return func() {
		signal.Stop(sigCh)
		close(done)
	}
}

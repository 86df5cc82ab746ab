package supervisor

import (
	"context"
	"os"
	"path/filepath"
	"regexp"
	"testing"

	"github.com/agentyes/agentyes/internal/registry"
	"github.com/agentyes/agentyes/internal/session"
	"github.com/agentyes/agentyes/internal/toolprofile"
)

// writeScript creates an executable shell script in dir and returns its
// absolute path, so exec.LookPath finds it directly without touching PATH.
func writeScript(t *testing.T, dir, body string) string {
	t.Helper()
	path := filepath.Join(dir, "tool.sh")
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+body+"\n"), 0o755); err != nil {
		t.Fatalf("write script: %v", err)
	}
	return path
}

func newInvocation(t *testing.T, profile toolprofile.Profile, opts Options) *invocation {
	t.Helper()
	dir := t.TempDir()
	reg, err := registry.Open(dir)
	if err != nil {
		t.Fatalf("registry.Open: %v", err)
	}
	t.Cleanup(func() { reg.Close() })

	store, err := session.Open(filepath.Join(dir, "sessions.json"))
	if err != nil {
		t.Fatalf("session.Open: %v", err)
	}
	opts.CWD = dir
	return &invocation{
		profile:  profile,
		reg:      reg,
		resolver: session.NewResolver(store),
		cwd:      dir,
		opts:     opts,
	}
}

func TestSpawnOnceNormalExitDoesNotRestart(t *testing.T) {
	dir := t.TempDir()
	bin := writeScript(t, dir, "exit 0")
	profile := toolprofile.Profile{Name: "tool", Bin: bin}
	s := newInvocation(t, profile, Options{Tool: "tool"})

	exitCode, restart, _, err := s.spawnOnce(context.Background(), nil, "")
	if err != nil {
		t.Fatalf("spawnOnce: %v", err)
	}
	if exitCode != 0 {
		t.Errorf("exitCode = %d, want 0", exitCode)
	}
	if restart {
		t.Error("expected no restart on a clean exit")
	}

	rec, ok, _ := s.reg.Get(s.lastPID)
	if !ok {
		t.Fatal("expected a registered pid record")
	}
	if rec.Status != registry.StatusExited || rec.ExitReason != registry.ReasonNormal {
		t.Errorf("rec = %+v, want exited/normal", rec)
	}
}

func TestSpawnOnceCrashRestartsWhenRobust(t *testing.T) {
	dir := t.TempDir()
	bin := writeScript(t, dir, "exit 1")
	profile := toolprofile.Profile{
		Name:        "tool",
		Bin:         bin,
		RestoreArgs: []string{"--restored"},
	}
	s := newInvocation(t, profile, Options{Tool: "tool", Robust: true})

	exitCode, restart, nextArgs, err := s.spawnOnce(context.Background(), []string{"--orig"}, "")
	if err != nil {
		t.Fatalf("spawnOnce: %v", err)
	}
	if exitCode != 1 {
		t.Errorf("exitCode = %d, want 1", exitCode)
	}
	if !restart {
		t.Fatal("expected a crash-restart when robust and restore-args are configured")
	}
	want := []string{"--restored", "--orig"}
	if len(nextArgs) != len(want) || nextArgs[0] != want[0] || nextArgs[1] != want[1] {
		t.Errorf("nextArgs = %v, want %v", nextArgs, want)
	}

	rec, ok, _ := s.reg.Get(s.lastPID)
	if !ok || rec.ExitReason != registry.ReasonRestarted {
		t.Errorf("rec = %+v, want exit reason restarted", rec)
	}
}

func TestSpawnOnceCrashDoesNotRestartWithoutRobust(t *testing.T) {
	dir := t.TempDir()
	bin := writeScript(t, dir, "exit 1")
	profile := toolprofile.Profile{Name: "tool", Bin: bin, RestoreArgs: []string{"--restored"}}
	s := newInvocation(t, profile, Options{Tool: "tool", Robust: false})

	exitCode, restart, _, err := s.spawnOnce(context.Background(), nil, "")
	if err != nil {
		t.Fatalf("spawnOnce: %v", err)
	}
	if exitCode != 1 {
		t.Errorf("exitCode = %d, want 1", exitCode)
	}
	if restart {
		t.Error("expected no restart when robust is off")
	}

	rec, ok, _ := s.reg.Get(s.lastPID)
	if !ok || rec.ExitReason != registry.ReasonCrash {
		t.Errorf("rec = %+v, want exit reason crash", rec)
	}
}

func TestSpawnOnceRestartWithoutContinueStripsResumeFlags(t *testing.T) {
	dir := t.TempDir()
	bin := writeScript(t, dir, "echo please-reauth\nexit 1")
	profile := toolprofile.Profile{
		Name:                   "tool",
		Bin:                    bin,
		RestartWithoutContinue: []*regexp.Regexp{regexp.MustCompile("please-reauth")},
	}
	s := newInvocation(t, profile, Options{Tool: "tool"})

	_, restart, nextArgs, err := s.spawnOnce(context.Background(), []string{"--continue", "--keep"}, "")
	if err != nil {
		t.Fatalf("spawnOnce: %v", err)
	}
	if !restart {
		t.Fatal("expected restart-without-continue to request a respawn")
	}
	want := []string{"--keep"}
	if len(nextArgs) != 1 || nextArgs[0] != want[0] {
		t.Errorf("nextArgs = %v, want %v (--continue stripped)", nextArgs, want)
	}

	rec, ok, _ := s.reg.Get(s.lastPID)
	if !ok || rec.ExitReason != registry.ReasonRestarted {
		t.Errorf("rec = %+v, want exit reason restarted", rec)
	}
}

func TestSpawnOnceChildNotFound(t *testing.T) {
	profile := toolprofile.Profile{Name: "tool", Bin: "/no/such/binary-agentyes-test"}
	s := newInvocation(t, profile, Options{Tool: "tool"})

	_, _, _, err := s.spawnOnce(context.Background(), nil, "")
	if err == nil {
		t.Fatal("expected an error for a missing binary")
	}
	svErr, ok := err.(*Error)
	if !ok || svErr.Kind != KindChildNotFound {
		t.Errorf("err = %v, want KindChildNotFound", err)
	}
}

func TestRunLoopReturnsFinalExitWithoutRestart(t *testing.T) {
	dir := t.TempDir()
	bin := writeScript(t, dir, "exit 1")
	profile := toolprofile.Profile{Name: "tool", Bin: bin}
	s := newInvocation(t, profile, Options{Tool: "tool"})

	exitCode, logPath, rawLogPath, err := s.runLoop(context.Background(), nil, "")
	if err != nil {
		t.Fatalf("runLoop: %v", err)
	}
	if exitCode != 1 {
		t.Errorf("exitCode = %d, want 1", exitCode)
	}
	if logPath == "" || rawLogPath == "" {
		t.Error("expected non-empty log paths")
	}
}

package toolprofile

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadBuiltin(t *testing.T) {
	table, err := LoadBuiltin()
	if err != nil {
		t.Fatalf("LoadBuiltin: %v", err)
	}

	for _, name := range []string{"claude", "codex", "gemini", "cursor-agent"} {
		p, ok := table.Lookup(name)
		if !ok {
			t.Fatalf("missing built-in profile %q", name)
		}
		if len(p.Fatal) == 0 {
			t.Errorf("%s: expected at least one fatal pattern", name)
		}
		if len(p.Enter) == 0 {
			t.Errorf("%s: expected at least one enter pattern", name)
		}
		if got := p.ExitCommandsOrDefault(); len(got) == 0 {
			t.Errorf("%s: expected non-empty exit commands", name)
		}
	}
}

func TestClaudeFatalPattern(t *testing.T) {
	table, err := LoadBuiltin()
	if err != nil {
		t.Fatalf("LoadBuiltin: %v", err)
	}
	p, _ := table.Lookup("claude")
	if !MatchAny(p.Fatal, "Claude usage limit reached.") {
		t.Error("expected claude fatal pattern to match usage-limit message")
	}
	if MatchAny(p.Fatal, "everything is fine") {
		t.Error("fatal pattern matched unrelated text")
	}
}

func TestLoadWithOverride_AddsToolAndOverridesField(t *testing.T) {
	dir := t.TempDir()
	overridePath := filepath.Join(dir, "override.yaml")
	contents := `
claude:
  fatal:
    - "custom fatal marker"
newtool:
  bin: "newtool-bin"
  ready:
    - "ready$"
`
	if err := os.WriteFile(overridePath, []byte(contents), 0o644); err != nil {
		t.Fatalf("write override: %v", err)
	}

	table, err := LoadWithOverride(overridePath)
	if err != nil {
		t.Fatalf("LoadWithOverride: %v", err)
	}

	claude, ok := table.Lookup("claude")
	if !ok {
		t.Fatal("expected claude profile to survive merge")
	}
	if !MatchAny(claude.Fatal, "custom fatal marker") {
		t.Error("expected override fatal pattern to apply")
	}
	if MatchAny(claude.Fatal, "Claude usage limit reached.") {
		t.Error("override should replace the field, not append to it")
	}

	newtool, ok := table.Lookup("newtool")
	if !ok {
		t.Fatal("expected newly-added tool from override")
	}
	if newtool.BinaryName() != "newtool-bin" {
		t.Errorf("BinaryName() = %q, want newtool-bin", newtool.BinaryName())
	}
}

func TestLoadWithOverride_MissingFileIsNotFatal(t *testing.T) {
	table, err := LoadWithOverride(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("expected missing override file to be tolerated, got %v", err)
	}
	if _, ok := table.Lookup("claude"); !ok {
		t.Fatal("expected builtin profiles to still load")
	}
}

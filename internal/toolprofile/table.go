package toolprofile

import (
	"embed"
	"fmt"
	"os"
	"regexp"
	"sort"

	"gopkg.in/yaml.v3"
)

//go:embed builtin.yaml
var builtinFS embed.FS

// yamlProfile mirrors Profile but with plain strings for the regex
// fields, since yaml.v3 can't unmarshal into *regexp.Regexp directly.
type yamlProfile struct {
	Bin           string            `yaml:"bin,omitempty"`
	ArgsPrefix    []string          `yaml:"args_prefix,omitempty"`
	UseSkillsArgs []string          `yaml:"use_skills_args,omitempty"`
	PromptMode    string            `yaml:"prompt_mode,omitempty"`
	PromptFlag    string            `yaml:"prompt_flag,omitempty"`
	LineSplit     string            `yaml:"line_split,omitempty"`
	Ready         []string          `yaml:"ready,omitempty"`
	Enter         []string          `yaml:"enter,omitempty"`
	Fatal         []string          `yaml:"fatal,omitempty"`
	RestartNoCont []string          `yaml:"restart_without_continue,omitempty"`
	TypingRespond map[string][]string `yaml:"typing_respond,omitempty"`
	ReadyMinChunk int               `yaml:"ready_min_chunk,omitempty"`
	RestoreArgs   []string          `yaml:"restore_args,omitempty"`
	ExitCommands  []string          `yaml:"exit_commands,omitempty"`
	Resumable     bool              `yaml:"resumable,omitempty"`
	ResumeArgTemplate string        `yaml:"resume_arg_template,omitempty"`
	InstallHint   string            `yaml:"install_hint,omitempty"`
	SessionMetaFile string          `yaml:"session_meta_file,omitempty"`
}

// Table is the loaded, compiled set of tool profiles keyed by tool name.
type Table struct {
	profiles map[string]Profile
}

// Names returns the sorted list of known tool names.
func (t *Table) Names() []string {
	names := make([]string, 0, len(t.profiles))
	for n := range t.profiles {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Lookup returns the profile for name and whether it was found.
func (t *Table) Lookup(name string) (Profile, bool) {
	p, ok := t.profiles[name]
	return p, ok
}

// LoadBuiltin parses the embedded built-in pattern table.
func LoadBuiltin() (*Table, error) {
	data, err := builtinFS.ReadFile("builtin.yaml")
	if err != nil {
		return nil, fmt.Errorf("read builtin table: %w", err)
	}
	t, err := parseTable(data)
	if err != nil {
		return nil, fmt.Errorf("parse builtin table: %w", err)
	}
	return t, nil
}

// LoadWithOverride loads the built-in table and, when overridePath is
// non-empty and exists, merges a user-supplied YAML file on top of it.
// Per spec.md §6 the table "must tolerate additive extension": fields
// present in the override replace the built-in field for that tool;
// tools named only in the override are added outright.
func LoadWithOverride(overridePath string) (*Table, error) {
	t, err := LoadBuiltin()
	if err != nil {
		return nil, err
	}
	if overridePath == "" {
		return t, nil
	}
	data, err := os.ReadFile(overridePath)
	if err != nil {
		if os.IsNotExist(err) {
			return t, nil
		}
		return nil, fmt.Errorf("read override table %s: %w", overridePath, err)
	}
	override, err := parseTable(data)
	if err != nil {
		return nil, fmt.Errorf("parse override table %s: %w", overridePath, err)
	}
	// Built-in tools get the override decoded over their built-in fields.
	var builtinRaw map[string]yamlProfile
	var overrideNodes map[string]yaml.Node
	builtinData, _ := builtinFS.ReadFile("builtin.yaml") // both parsed above
	yaml.Unmarshal(builtinData, &builtinRaw)
	yaml.Unmarshal(data, &overrideNodes)
	for name, p := range override.profiles {
		if base, ok := builtinRaw[name]; ok {
			node := overrideNodes[name]
			if err := node.Decode(&base); err != nil {
				return nil, fmt.Errorf("merge override for %q: %w", name, err)
			}
			if p, err = compileProfile(name, base); err != nil {
				return nil, fmt.Errorf("tool %q: %w", name, err)
			}
		}
		t.profiles[name] = p
	}
	return t, nil
}

func parseTable(data []byte) (*Table, error) {
	var raw map[string]yamlProfile
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, err
	}
	profiles := make(map[string]Profile, len(raw))
	for name, yp := range raw {
		p, err := compileProfile(name, yp)
		if err != nil {
			return nil, fmt.Errorf("tool %q: %w", name, err)
		}
		profiles[name] = p
	}
	return &Table{profiles: profiles}, nil
}

func compileProfile(name string, yp yamlProfile) (Profile, error) {
	ready, err := compileAll(yp.Ready)
	if err != nil {
		return Profile{}, fmt.Errorf("ready: %w", err)
	}
	enter, err := compileAll(yp.Enter)
	if err != nil {
		return Profile{}, fmt.Errorf("enter: %w", err)
	}
	fatal, err := compileAll(yp.Fatal)
	if err != nil {
		return Profile{}, fmt.Errorf("fatal: %w", err)
	}
	restart, err := compileAll(yp.RestartNoCont)
	if err != nil {
		return Profile{}, fmt.Errorf("restart_without_continue: %w", err)
	}

	var typing []TypingRespond
	// Sort keys for deterministic matching order across runs.
	keys := make([]string, 0, len(yp.TypingRespond))
	for k := range yp.TypingRespond {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, response := range keys {
		patterns, err := compileAll(yp.TypingRespond[response])
		if err != nil {
			return Profile{}, fmt.Errorf("typing_respond[%s]: %w", response, err)
		}
		typing = append(typing, TypingRespond{Response: response, Patterns: patterns})
	}

	return Profile{
		Name:                   name,
		Bin:                    yp.Bin,
		ArgsPrefix:             yp.ArgsPrefix,
		UseSkillsArgs:          yp.UseSkillsArgs,
		PromptMode:             PromptMode(yp.PromptMode),
		PromptFlag:             yp.PromptFlag,
		LineSplit:              LineSplit(yp.LineSplit),
		Ready:                  ready,
		Enter:                  enter,
		Fatal:                  fatal,
		RestartWithoutContinue: restart,
		TypingRespond:          typing,
		ReadyMinChunk:          yp.ReadyMinChunk,
		RestoreArgs:            yp.RestoreArgs,
		ExitCommands:           yp.ExitCommands,
		Resumable:              yp.Resumable,
		ResumeArgTemplate:      yp.ResumeArgTemplate,
		InstallHint:            yp.InstallHint,
		SessionMetaFile:        yp.SessionMetaFile,
	}, nil
}

func compileAll(patterns []string) ([]*regexp.Regexp, error) {
	if len(patterns) == 0 {
		return nil, nil
	}
	out := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("%q: %w", p, err)
		}
		out = append(out, re)
	}
	return out, nil
}

// MatchAny reports whether any pattern in patterns matches s.
func MatchAny(patterns []*regexp.Regexp, s string) bool {
	for _, re := range patterns {
		if re.MatchString(s) {
			return true
		}
	}
	return false
}

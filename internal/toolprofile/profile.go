// Package toolprofile holds the per-tool pattern table (spec.md §3/§4.4):
// data describing how to drive one interactive assistant CLI — its
// default args, prompt-injection mode, line-splitting policy, and the
// ordered regex sets the auto-response engine (C8) matches against.
//
// The table itself is data, grounded on the same shape as wingthing's
// internal/egg.AgentProfile ("what does this agent need from the host"),
// generalized here to "how do I drive this agent's terminal UI".
package toolprofile

import "regexp"

// PromptMode selects how a runtime prompt is delivered to the tool.
type PromptMode string

const (
	// PromptStdin sends the prompt over stdin once the tool is ready
	// (the default — most interactive CLIs).
	PromptStdin PromptMode = ""
	// PromptFirstPositional prepends the prompt as args[0].
	PromptFirstPositional PromptMode = "first-positional"
	// PromptLastPositional appends the prompt as the final arg.
	PromptLastPositional PromptMode = "last-positional"
	// PromptNamedFlag passes the prompt via a named flag (PromptFlag).
	PromptNamedFlag PromptMode = "named-flag"
)

// LineSplit selects how raw child output is chunked before being handed
// to the auto-response engine (spec.md §4.4).
type LineSplit string

const (
	// SplitNewline is the default: feed the engine one line at a time.
	SplitNewline LineSplit = ""
	// SplitNone feeds the control-stripped stream as it arrives, for
	// tools that repaint via cursor motion instead of newlines.
	SplitNone LineSplit = "no-split"
)

// TypingRespond maps a canned response string to the patterns that
// should elicit it (spec.md §3's "mapping from a response string to the
// patterns that elicit it").
type TypingRespond struct {
	Response string
	Patterns []*regexp.Regexp
}

// Profile is the immutable per-tool configuration consumed by C8/C10.
type Profile struct {
	Name       string     `yaml:"-"`
	Bin        string     `yaml:"bin,omitempty"`
	ArgsPrefix []string   `yaml:"args_prefix,omitempty"`

	// UseSkillsArgs are appended to ArgsPrefix when --use-skills is
	// passed, for tools whose CLI has a flag that loads project/user
	// skill directories. Empty for tools with no such flag.
	UseSkillsArgs []string `yaml:"use_skills_args,omitempty"`
	PromptMode PromptMode `yaml:"prompt_mode,omitempty"`
	PromptFlag string     `yaml:"prompt_flag,omitempty"`
	LineSplit  LineSplit  `yaml:"line_split,omitempty"`

	Ready                  []*regexp.Regexp `yaml:"-"`
	Enter                  []*regexp.Regexp `yaml:"-"`
	Fatal                  []*regexp.Regexp `yaml:"-"`
	RestartWithoutContinue []*regexp.Regexp `yaml:"-"`
	TypingRespond          []TypingRespond  `yaml:"-"`

	// ReadyMinChunk gates ready-pattern acceptance on a minimum chunk
	// index, to ignore a noisy boot banner (spec.md §4.8 step 1).
	ReadyMinChunk int `yaml:"ready_min_chunk,omitempty"`

	RestoreArgs  []string `yaml:"restore_args,omitempty"`
	ExitCommands []string `yaml:"exit_commands,omitempty"`

	// Resumable tools store a session id per working directory (C5) and
	// prepend ResumeArgTemplate with "%s" replaced by the stored id.
	Resumable         bool   `yaml:"resumable,omitempty"`
	ResumeArgTemplate string `yaml:"resume_arg_template,omitempty"`

	// SessionMetaFile, when set, names the assistant's own session-
	// metadata file: a "~/"-rooted path, with one "%s" replaced by the
	// sanitized working directory. The supervisor watches it (C5's
	// primary source, spec.md §4.5) in preference to the UUID-on-output
	// fallback. Left empty for tools with no stable per-project
	// metadata file to watch.
	SessionMetaFile string `yaml:"session_meta_file,omitempty"`

	// InstallHint is printed (and, with --install, executed) when the
	// binary cannot be found (spec.md §7 ChildNotFound).
	InstallHint string `yaml:"install_hint,omitempty"`
}

// BinaryName returns the executable to spawn, defaulting to the tool name.
func (p Profile) BinaryName() string {
	if p.Bin != "" {
		return p.Bin
	}
	return p.Name
}

// ExitCommandsOrDefault returns the configured exit-commands or the
// spec-mandated default of a single "/exit".
func (p Profile) ExitCommandsOrDefault() []string {
	if len(p.ExitCommands) > 0 {
		return p.ExitCommands
	}
	return []string{"/exit"}
}

package supervisor

import "time"

// Options mirrors the runtime options spec.md §4.10 lists.
type Options struct {
	Tool   string
	Args   []string
	Prompt string

	Robust     bool
	Queue      bool
	Install    bool
	Resume     bool
	UseFifo    bool
	UseSkills  bool
	IdleWindow time.Duration
	LogFile    string
	Verbose    bool

	CWD string

	HostCols, HostRows int
	HostIsTTY          bool

	// Resize, if non-nil, delivers [cols, rows] pairs (e.g. from a
	// SIGWINCH handler) to forward to the child's PTY (spec.md §4.9).
	Resize <-chan [2]int
}

// Result is returned from Run.
type Result struct {
	ExitCode int
	LogPath  string
	RawLog   string
}

package lock

import (
	"os"
	"syscall"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/agentyes/agentyes/internal/logger"
)

// group collapses concurrent Acquire calls for the same lock
// key within this process onto a single in-flight file operation,
// grounded on the pack's golang.org/x/sync usage.
var group singleflight.Group

// Handle is returned by Acquire; call Release when the supervised
// child exits.
type Handle struct {
	file *File
	key  string
	pid  int
}

// blockingTasks returns the live running tasks sharing key with any
// pid other than self.
func blockingTasks(tasks []Task, key string, self int) []Task {
	var blockers []Task
	for _, t := range tasks {
		if t.Status != StatusRunning {
			continue
		}
		if t.lockKey() != key {
			continue
		}
		if t.PID == self {
			continue
		}
		blockers = append(blockers, t)
	}
	return blockers
}

// QueueAction is the caller's decision after observing one poll tick's
// blocking task list (spec.md §4.7 step 5's single-key controls).
type QueueAction struct {
	Bypass bool // flip self to running immediately, ignoring blockers
	Kill   bool // SIGTERM the first blocker, then keep polling
}

// Acquire implements spec.md §4.7's algorithm. cwd and gitRoot identify
// the lock key; pid and description identify this invocation's record.
// onQueued, if non-nil, is invoked on every poll tick while the process
// waits (the first call comes one PollInterval after queueing), with
// the current blocking task list, so the caller can drive the raw-mode
// bypass/kill UI.
func Acquire(lockFilePath, cwd, gitRoot string, pid int, description string, onQueued func(blockers []Task) QueueAction) (*Handle, error) {
	key := gitRoot
	if key == "" {
		key = cwd
	}
	f := Open(lockFilePath)

	_, err, _ := group.Do(lockFilePath+":"+key, func() (any, error) {
		return nil, acquireLocked(f, cwd, gitRoot, key, pid, description, onQueued)
	})
	if err != nil {
		return nil, err
	}
	return &Handle{file: f, key: key, pid: pid}, nil
}

func acquireLocked(f *File, cwd, gitRoot, key string, pid int, description string, onQueued func([]Task) QueueAction) error {
	tasks, _ := f.read()
	tasks = liveTasks(tasks)
	now := time.Now()

	self := Task{
		CWD: cwd, GitRoot: gitRoot, Description: description,
		PID: pid, StartedAt: now, LockedAt: now,
	}

	if blockers := blockingTasks(tasks, key, pid); len(blockers) == 0 {
		tasks = upsertSelf(tasks, self, StatusRunning)
		return f.write(tasks)
	}

	self.Status = StatusQueued
	tasks = upsertSelf(tasks, self, StatusQueued)
	if err := f.write(tasks); err != nil {
		return err
	}

	ticker := time.NewTicker(PollInterval)
	defer ticker.Stop()
	for range ticker.C {
		tasks, _ = f.read()
		tasks = liveTasks(tasks)
		blockers := blockingTasks(tasks, key, pid)

		var action QueueAction
		if onQueued != nil {
			action = onQueued(blockers)
		}
		if action.Kill && len(blockers) > 0 {
			KillBlocker(blockers)
			continue
		}
		if action.Bypass || len(blockers) == 0 {
			self.Status = StatusRunning
			self.LockedAt = time.Now()
			tasks = upsertSelf(tasks, self, StatusRunning)
			return f.write(tasks)
		}
	}
	return nil
}

func upsertSelf(tasks []Task, self Task, status string) []Task {
	self.Status = status
	for i, t := range tasks {
		if t.PID == self.PID {
			tasks[i] = self
			return tasks
		}
	}
	return append(tasks, self)
}

// Bypass flips this handle's record to running immediately, ignoring
// whoever is currently blocking (the 'b' single-key control, §4.7).
func (h *Handle) Bypass() error {
	tasks, _ := h.file.read()
	tasks = liveTasks(tasks)
	for i, t := range tasks {
		if t.PID == h.pid {
			tasks[i].Status = StatusRunning
			tasks[i].LockedAt = time.Now()
			return h.file.write(tasks)
		}
	}
	return nil
}

// KillBlocker sends SIGTERM to the first blocking task's pid (the 'k'
// single-key control, §4.7).
func KillBlocker(blockers []Task) error {
	if len(blockers) == 0 {
		return nil
	}
	proc, err := os.FindProcess(blockers[0].PID)
	if err != nil {
		return err
	}
	logger.Info("queue lock: killing blocker", "pid", blockers[0].PID)
	return proc.Signal(syscall.SIGTERM)
}

// Release removes this handle's record from the lock file. Safe to
// call from a signal handler as a best-effort cleanup (spec.md §4.7).
func (h *Handle) Release() error {
	tasks, _ := h.file.read()
	out := make([]Task, 0, len(tasks))
	for _, t := range tasks {
		if t.PID != h.pid {
			out = append(out, t)
		}
	}
	return h.file.write(out)
}

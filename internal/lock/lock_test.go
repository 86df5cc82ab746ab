package lock

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func withFakeAlive(t *testing.T, alive map[int]bool) {
	t.Helper()
	orig := processAlive
	processAlive = func(pid int) bool { return alive[pid] }
	t.Cleanup(func() { processAlive = orig })
}

func TestAcquireUncontended(t *testing.T) {
	withFakeAlive(t, map[int]bool{100: true})
	path := filepath.Join(t.TempDir(), "running.lock.json")

	h, err := Acquire(path, "/repo", "/repo", 100, "do the thing", nil)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}

	tasks, _ := Open(path).read()
	if len(tasks) != 1 || tasks[0].Status != StatusRunning {
		t.Fatalf("tasks = %+v, want one running record", tasks)
	}
	h.Release()
}

func TestBlockedByLiveHolderThenUnblocks(t *testing.T) {
	alive := map[int]bool{200: true, 300: true}
	withFakeAlive(t, alive)
	path := filepath.Join(t.TempDir(), "running.lock.json")

	f := Open(path)
	f.write([]Task{{CWD: "/repo", GitRoot: "/repo", PID: 200, Status: StatusRunning, StartedAt: time.Now(), LockedAt: time.Now()}})

	done := make(chan struct{})
	go func() {
		Acquire(path, "/repo", "/repo", 300, "queued task", nil)
		close(done)
	}()

	time.Sleep(20 * time.Millisecond)
	tasks, _ := f.read()
	found := false
	for _, tk := range tasks {
		if tk.PID == 300 && tk.Status == StatusQueued {
			found = true
		}
	}
	if !found {
		t.Fatal("expected pid 300 queued while pid 200 holds the lock")
	}

	alive[200] = false // simulate the holder dying
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Acquire never unblocked after holder died")
	}
}

func TestDeadPidDoesNotBlock(t *testing.T) {
	withFakeAlive(t, map[int]bool{400: true})
	path := filepath.Join(t.TempDir(), "running.lock.json")
	f := Open(path)
	f.write([]Task{{CWD: "/repo", GitRoot: "/repo", PID: 999, Status: StatusRunning, StartedAt: time.Now(), LockedAt: time.Now()}})

	h, err := Acquire(path, "/repo", "/repo", 400, "", nil)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	h.Release()
}

func TestQueuedBypassSkipsWaitingForBlocker(t *testing.T) {
	alive := map[int]bool{500: true, 600: true}
	withFakeAlive(t, alive)
	path := filepath.Join(t.TempDir(), "running.lock.json")

	f := Open(path)
	f.write([]Task{{CWD: "/repo", GitRoot: "/repo", PID: 500, Status: StatusRunning, StartedAt: time.Now(), LockedAt: time.Now()}})

	h, err := Acquire(path, "/repo", "/repo", 600, "bypassed task", func(blockers []Task) QueueAction {
		return QueueAction{Bypass: true}
	})
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	h.Release()
}

func TestCorruptFileTreatedAsEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "running.lock.json")
	if err := os.WriteFile(path, []byte("not json{"), 0o644); err != nil {
		t.Fatal(err)
	}
	withFakeAlive(t, map[int]bool{1: true})

	h, err := Acquire(path, "/repo", "/repo", 1, "", nil)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	h.Release()
}

func TestReleaseRemovesOwnRecordOnly(t *testing.T) {
	withFakeAlive(t, map[int]bool{1: true, 2: true})
	path := filepath.Join(t.TempDir(), "running.lock.json")
	f := Open(path)
	f.write([]Task{
		{CWD: "/a", GitRoot: "/a", PID: 1, Status: StatusRunning},
		{CWD: "/b", GitRoot: "/b", PID: 2, Status: StatusRunning},
	})

	h := &Handle{file: f, key: "/a", pid: 1}
	if err := h.Release(); err != nil {
		t.Fatalf("Release: %v", err)
	}

	tasks, _ := f.read()
	if len(tasks) != 1 || tasks[0].PID != 2 {
		t.Errorf("tasks = %+v, want only pid 2 remaining", tasks)
	}
}

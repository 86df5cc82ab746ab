package idle

import (
	"testing"
	"time"
)

func TestWaitResolvesNoEarlierThanWindow(t *testing.T) {
	m := New()
	start := time.Now()
	m.Wait(50 * time.Millisecond)
	if elapsed := time.Since(start); elapsed < 50*time.Millisecond {
		t.Fatalf("Wait returned after %s, want >= 50ms", elapsed)
	}
}

func TestPingPushesDeadlineOut(t *testing.T) {
	m := New()
	done := make(chan struct{})
	start := time.Now()
	go func() {
		m.Wait(80 * time.Millisecond)
		close(done)
	}()

	time.Sleep(40 * time.Millisecond)
	m.Ping() // resets the 80ms window

	select {
	case <-done:
		if elapsed := time.Since(start); elapsed < 100*time.Millisecond {
			t.Fatalf("Wait resolved too early after a Ping reset (%s)", elapsed)
		}
	case <-time.After(time.Second):
		t.Fatal("Wait never resolved")
	}
}

func TestWaitChanExpires(t *testing.T) {
	m := New()
	select {
	case <-m.WaitChan(20 * time.Millisecond):
	case <-time.After(time.Second):
		t.Fatal("WaitChan never closed")
	}
}

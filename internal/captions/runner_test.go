package captions

import (
	"context"
	"testing"
	"time"

	"github.com/reelkit/reelkit/internal/catalog"
)

func waitStatus(t *testing.T, f *fixture, id, want string) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		c, err := f.repo.GetCaption(context.Background(), id)
		if err != nil {
			t.Fatalf("GetCaption failed: %v", err)
		}
		if c.Status == want {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("caption %s never reached %q", id, want)
}

func TestRunner_DrainsPending(t *testing.T) {
	f := setup(t)
	first := f.pending(t, false)
	second := f.pending(t, false)

	runner := NewRunner(f.svc, f.repo, time.Hour, testLogger())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		runner.Start(ctx)
		close(done)
	}()

	runner.Notify()
	waitStatus(t, f, first.ID, catalog.CaptionStatusCompleted)
	waitStatus(t, f, second.ID, catalog.CaptionStatusCompleted)

	cancel()
	<-done
	if runner.IsRunning() {
		t.Error("runner should report stopped")
	}
}

func TestRunner_Paused(t *testing.T) {
	f := setup(t)
	c := f.pending(t, false)

	runner := NewRunner(f.svc, f.repo, 10*time.Millisecond, testLogger())
	runner.Pause()
	if !runner.IsPaused() {
		t.Fatal("expected paused")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go runner.Start(ctx)

	time.Sleep(50 * time.Millisecond)
	if n := f.tr.calls.Load(); n != 0 {
		t.Fatalf("paused runner transcribed %d captions", n)
	}

	runner.Resume()
	waitStatus(t, f, c.ID, catalog.CaptionStatusCompleted)
}

func TestRunner_FailedCaptionNotRetried(t *testing.T) {
	f := setup(t)
	c := f.pending(t, false)
	f.tr.err = context.DeadlineExceeded

	runner := NewRunner(f.svc, f.repo, 10*time.Millisecond, testLogger())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go runner.Start(ctx)

	waitStatus(t, f, c.ID, catalog.CaptionStatusFailed)
	time.Sleep(50 * time.Millisecond)
	if n := f.tr.calls.Load(); n != 1 {
		t.Errorf("transcriber called %d times, want 1", n)
	}
}

package watcher

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

type recorder struct {
	mu     sync.Mutex
	events map[string][]EventType
}

func (r *recorder) record(path string, e EventType) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events[filepath.Base(path)] = append(r.events[filepath.Base(path)], e)
}

func (r *recorder) get(name string) []EventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]EventType(nil), r.events[name]...)
}

func (r *recorder) waitFor(t *testing.T, name string, want EventType) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		got := r.get(name)
		if len(got) > 0 && got[len(got)-1] == want {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("no %s event for %s, got %v", want, name, r.get(name))
}

func jsonOnly(p string) bool { return strings.HasSuffix(p, ".json") }

func startWatcher(t *testing.T, dir string) *recorder {
	t.Helper()
	rec := &recorder{events: make(map[string][]EventType)}
	w := NewDirWatcher(jsonOnly, 20*time.Millisecond, testLogger())
	w.OnChange(rec.record)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(func() {
		cancel()
		w.Stop()
	})
	if err := w.Watch(ctx, dir); err != nil {
		t.Fatalf("Watch failed: %v", err)
	}
	return rec
}

func TestDirWatcher_InitialScan(t *testing.T) {
	dir := t.TempDir()
	os.WriteFile(filepath.Join(dir, "a.json"), []byte("{}"), 0644)
	os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0644)
	os.Mkdir(filepath.Join(dir, "sub.json"), 0755)

	rec := startWatcher(t, dir)

	if got := rec.get("a.json"); len(got) != 1 || got[0] != EventCreate {
		t.Errorf("a.json events = %v", got)
	}
	if got := rec.get("notes.txt"); len(got) != 0 {
		t.Errorf("filtered file reported: %v", got)
	}
	if got := rec.get("sub.json"); len(got) != 0 {
		t.Errorf("directory reported: %v", got)
	}
}

func TestDirWatcher_CreateModifyDelete(t *testing.T) {
	dir := t.TempDir()
	rec := startWatcher(t, dir)
	p := filepath.Join(dir, "promo.json")

	if err := os.WriteFile(p, []byte(`{"id":"promo"}`), 0644); err != nil {
		t.Fatal(err)
	}
	rec.waitFor(t, "promo.json", EventCreate)
	if got := rec.get("promo.json"); len(got) != 1 {
		t.Errorf("create burst not coalesced: %v", got)
	}

	time.Sleep(50 * time.Millisecond)
	if err := os.WriteFile(p, []byte(`{"id":"promo","name":"Promo"}`), 0644); err != nil {
		t.Fatal(err)
	}
	rec.waitFor(t, "promo.json", EventModify)

	if err := os.Remove(p); err != nil {
		t.Fatal(err)
	}
	rec.waitFor(t, "promo.json", EventDelete)
}

func TestDirWatcher_StopIdempotent(t *testing.T) {
	w := NewDirWatcher(nil, 0, testLogger())
	if err := w.Stop(); err != nil {
		t.Errorf("Stop before Watch: %v", err)
	}
	if err := w.Watch(context.Background(), t.TempDir()); err != nil {
		t.Fatalf("Watch failed: %v", err)
	}
	if err := w.Watch(context.Background(), t.TempDir()); err == nil {
		t.Error("expected error for second Watch")
	}
	if err := w.Stop(); err != nil {
		t.Errorf("Stop: %v", err)
	}
	if err := w.Stop(); err != nil {
		t.Errorf("second Stop: %v", err)
	}
}

func TestEventType_String(t *testing.T) {
	if EventDelete.String() != "delete" || EventType(9).String() != "unknown" {
		t.Error("unexpected EventType names")
	}
}

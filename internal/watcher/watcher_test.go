package watcher

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/fsnotify/fsnotify"
)

func TestRunBatchesImageDrops(t *testing.T) {
	dir := t.TempDir()
	w, err := New(dir, 100*time.Millisecond, nil)
	if err != nil {
		t.Fatalf("new watcher: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var (
		mu      sync.Mutex
		got     = map[string]bool{}
		batches int
		seen    = make(chan struct{}, 10)
	)
	done := make(chan error, 1)
	go func() {
		done <- w.Run(ctx, func(_ context.Context, paths []string) {
			mu.Lock()
			batches++
			for _, p := range paths {
				got[filepath.Base(p)] = true
			}
			mu.Unlock()
			seen <- struct{}{}
		})
	}()

	for _, name := range []string{"a.png", "b.JPG", "notes.txt", ".hidden.png"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("x"), 0o644); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
	}

	deadline := time.After(3 * time.Second)
	for {
		mu.Lock()
		complete := got["a.png"] && got["b.JPG"]
		mu.Unlock()
		if complete {
			break
		}
		select {
		case <-seen:
		case <-deadline:
			t.Fatalf("timed out waiting for batch, got %v", got)
		}
	}

	cancel()
	if err := <-done; err != nil {
		t.Fatalf("run: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if got["notes.txt"] || got[".hidden.png"] {
		t.Fatalf("non-image or hidden files leaked into batch: %v", got)
	}
	if batches == 0 {
		t.Fatal("expected at least one batch")
	}
}

func TestAccept(t *testing.T) {
	cases := []struct {
		event fsnotify.Event
		want  bool
	}{
		{event: fsnotify.Event{Name: "/in/a.png", Op: fsnotify.Create}, want: true},
		{event: fsnotify.Event{Name: "/in/a.jpeg", Op: fsnotify.Write}, want: true},
		{event: fsnotify.Event{Name: "/in/a.SVG", Op: fsnotify.Create | fsnotify.Write}, want: true},
		{event: fsnotify.Event{Name: "/in/a.png", Op: fsnotify.Remove}, want: false},
		{event: fsnotify.Event{Name: "/in/a.png", Op: fsnotify.Chmod}, want: false},
		{event: fsnotify.Event{Name: "/in/.a.png", Op: fsnotify.Create}, want: false},
		{event: fsnotify.Event{Name: "/in/a.tiff", Op: fsnotify.Create}, want: false},
		{event: fsnotify.Event{Name: "/in/README", Op: fsnotify.Create}, want: false},
	}
	for _, tc := range cases {
		if got := accept(tc.event); got != tc.want {
			t.Fatalf("accept(%v) = %v, want %v", tc.event, got, tc.want)
		}
	}
}

func TestNewRequiresExistingDir(t *testing.T) {
	if _, err := New("", 0, nil); err == nil {
		t.Fatal("expected error for empty dir")
	}
	if _, err := New(filepath.Join(t.TempDir(), "missing"), 0, nil); err == nil {
		t.Fatal("expected error for missing dir")
	}
}

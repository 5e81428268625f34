package watcher

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/dunamismax/convertify/internal/format"
	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

const DefaultDebounce = 500 * time.Millisecond

// BatchFunc receives one debounced burst of image paths, sorted.
type BatchFunc func(ctx context.Context, paths []string)

// Watcher turns files dropped into a folder into batches. Events are collected until
// the folder has been quiet for the debounce interval.
type Watcher struct {
	dir      string
	debounce time.Duration
	logger   *zap.Logger
	fsw      *fsnotify.Watcher
}

func New(dir string, debounce time.Duration, logger *zap.Logger) (*Watcher, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, fmt.Errorf("watch directory is required")
	}
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create fsnotify watcher: %w", err)
	}
	if err := fsw.Add(dir); err != nil {
		_ = fsw.Close()
		return nil, fmt.Errorf("watch folder %s: %w", dir, err)
	}

	return &Watcher{
		dir:      dir,
		debounce: debounce,
		logger:   logger.With(zap.String("dir", dir)),
		fsw:      fsw,
	}, nil
}

// Run delivers batches to fn until ctx is done. fn runs on the watcher goroutine, so
// events arriving meanwhile are queued by fsnotify and form the next batch.
func (w *Watcher) Run(ctx context.Context, fn BatchFunc) error {
	defer w.fsw.Close()
	w.logger.Info("watching folder", zap.Duration("debounce", w.debounce))

	timer := time.NewTimer(w.debounce)
	if !timer.Stop() {
		<-timer.C
	}
	pending := make(map[string]struct{})

	for {
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil

		case event, ok := <-w.fsw.Events:
			if !ok {
				return nil
			}
			if !accept(event) {
				continue
			}
			pending[event.Name] = struct{}{}
			timer.Reset(w.debounce)

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("watcher error", zap.Error(err))

		case <-timer.C:
			if len(pending) == 0 {
				continue
			}
			paths := make([]string, 0, len(pending))
			for p := range pending {
				paths = append(paths, p)
			}
			sort.Strings(paths)
			pending = make(map[string]struct{})

			w.logger.Info("folder settled", zap.Int("files", len(paths)))
			fn(ctx, paths)
		}
	}
}

// accept keeps creates and writes of visible files with an image extension.
func accept(event fsnotify.Event) bool {
	if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) {
		return false
	}
	base := filepath.Base(event.Name)
	if base == "" || base[0] == '.' {
		return false
	}
	ext := strings.TrimPrefix(filepath.Ext(base), ".")
	return ext != "" && format.IsSupported(ext)
}

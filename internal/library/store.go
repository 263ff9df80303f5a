package library

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// reloadDebounce collapses the burst of events editors produce on save.
const reloadDebounce = 100 * time.Millisecond

// Store holds the active library and swaps it when the file changes.
type Store struct {
	path   string
	logger *slog.Logger

	mu  sync.RWMutex
	lib *Library

	onReload []func(*Library)
}

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithLogger sets the store logger.
func WithLogger(l *slog.Logger) StoreOption {
	return func(s *Store) {
		if l != nil {
			s.logger = l
		}
	}
}

// NewStore wraps an already parsed library. Such a store has no file to
// reload from.
func NewStore(lib *Library, opts ...StoreOption) *Store {
	s := &Store{lib: lib, logger: slog.New(slog.DiscardHandler)}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// OpenStore loads the library at path.
func OpenStore(path string, opts ...StoreOption) (*Store, error) {
	lib, err := Load(path)
	if err != nil {
		return nil, err
	}
	s := NewStore(lib, opts...)
	s.path = path
	s.logWarnings(lib)
	return s, nil
}

// Library returns the current library.
func (s *Store) Library() *Library {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lib
}

// Lookup resolves key names against the current library.
func (s *Store) Lookup(names []string) (Match, bool) {
	return s.Library().Lookup(names)
}

// Resolve returns the expansion for key names against the current library.
func (s *Store) Resolve(names []string) (string, bool) {
	return s.Library().Resolve(names)
}

// OnReload registers a callback run after every successful reload. It
// must be called before Watch.
func (s *Store) OnReload(cb func(*Library)) {
	s.onReload = append(s.onReload, cb)
}

// Reload reparses the file. On error the previous library stays active.
func (s *Store) Reload() error {
	if s.path == "" {
		return fmt.Errorf("library store has no file")
	}

	lib, err := Load(s.path)
	if err != nil {
		return err
	}
	s.logWarnings(lib)

	s.mu.Lock()
	s.lib = lib
	s.mu.Unlock()

	s.logger.Info("chord library reloaded",
		"path", s.path,
		"name", lib.Meta.Name,
		"entries", lib.Len())

	for _, cb := range s.onReload {
		cb(lib)
	}
	return nil
}

// Watch reloads the library whenever its file is written or recreated,
// until ctx is done. The containing directory is watched so that
// editors that save by rename are picked up.
func (s *Store) Watch(ctx context.Context) error {
	if s.path == "" {
		return fmt.Errorf("library store has no file")
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(filepath.Dir(s.path)); err != nil {
		return fmt.Errorf("watch directory: %w", err)
	}

	var debounce *time.Timer
	defer func() {
		if debounce != nil {
			debounce.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Base(event.Name) != filepath.Base(s.path) {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}

			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.AfterFunc(reloadDebounce, func() {
				if err := s.Reload(); err != nil {
					s.logger.Warn("chord library reload failed, keeping previous",
						"path", s.path,
						"error", err)
				}
			})

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			s.logger.Warn("library watcher error", "error", err)
		}
	}
}

func (s *Store) logWarnings(lib *Library) {
	for _, w := range lib.Warnings {
		s.logger.Warn("chord library", "path", s.path, "line", w.Line, "warning", w.Message)
	}
}

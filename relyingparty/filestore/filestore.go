// Package filestore provides a relyingparty.Store backed by a JSON document
// on disk. The file holds an array of records; edits are picked up live via
// fsnotify, so relying parties can be registered without a restart.
package filestore

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/idsrv/idsrv/relyingparty"
)

// Store implements relyingparty.Store from a watched JSON file.
type Store struct {
	path string
	log  *slog.Logger

	mu      sync.RWMutex
	records map[string]relyingparty.Record

	watcher *fsnotify.Watcher
	done    chan struct{}
	once    sync.Once
}

var _ relyingparty.Store = (*Store)(nil)

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the slog logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.log = l }
}

// New loads records from path and starts watching it for changes. The file
// must exist and parse at startup; later parse failures keep the previous
// snapshot and are logged.
func New(path string, opts ...Option) (*Store, error) {
	s := &Store{
		path: path,
		log:  slog.Default(),
		done: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}

	if err := s.reload(); err != nil {
		return nil, err
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("filestore watcher: %w", err)
	}
	// Watch the directory rather than the file: editors and config rollouts
	// typically replace the file, which drops a file-level watch.
	if err := w.Add(filepath.Dir(path)); err != nil {
		_ = w.Close()
		return nil, fmt.Errorf("filestore watch %s: %w", filepath.Dir(path), err)
	}
	s.watcher = w
	go s.run()

	return s, nil
}

// Get returns the record for realm from the current snapshot.
func (s *Store) Get(_ context.Context, realm string) (*relyingparty.Record, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.records[realm]
	if !ok {
		return nil, false, nil
	}
	return &r, true, nil
}

// Close stops the watcher.
func (s *Store) Close() error {
	s.once.Do(func() { close(s.done) })
	if s.watcher != nil {
		return s.watcher.Close()
	}
	return nil
}

func (s *Store) run() {
	for {
		select {
		case <-s.done:
			return
		case ev, ok := <-s.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != filepath.Clean(s.path) {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
				continue
			}
			if err := s.reload(); err != nil {
				s.log.Warn("relying party config reload failed", slog.String("path", s.path), slog.String("err", err.Error()))
			}
		case err, ok := <-s.watcher.Errors:
			if !ok {
				return
			}
			s.log.Warn("relying party config watch error", slog.String("err", err.Error()))
		}
	}
}

func (s *Store) reload() error {
	raw, err := os.ReadFile(s.path)
	if err != nil {
		return fmt.Errorf("read %s: %w", s.path, err)
	}
	var records []relyingparty.Record
	if err := json.Unmarshal(raw, &records); err != nil {
		return fmt.Errorf("parse %s: %w", s.path, err)
	}

	byRealm := make(map[string]relyingparty.Record, len(records))
	for _, r := range records {
		byRealm[r.Realm] = r
	}

	s.mu.Lock()
	s.records = byRealm
	s.mu.Unlock()

	s.log.Info("relying party config loaded", slog.String("path", s.path), slog.Int("records", len(records)))
	return nil
}

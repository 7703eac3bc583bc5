// Package memory provides an in-memory storage.Storage for single-process
// deployments and tests. Expired items are lazily dropped on read and swept
// by a background goroutine.
package memory

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/idsrv/idsrv/storage"
)

// Storage implements storage.Storage over a mutex-guarded map.
type Storage struct {
	mu    sync.RWMutex
	items map[string]*storage.Item
	stop  chan struct{}
	once  sync.Once
}

var _ storage.Storage = (*Storage)(nil)

// New returns a ready Storage with a periodic expiry sweep running.
func New() *Storage {
	s := &Storage{
		items: make(map[string]*storage.Item),
		stop:  make(chan struct{}),
	}
	go s.sweep()
	return s
}

// Get retrieves the item under key, or nil if absent or expired.
func (s *Storage) Get(_ context.Context, key string, opts ...storage.Option) (*storage.Item, error) {
	options := storage.Resolve(opts)
	storageKey := buildKey(options.Namespace, key)

	s.mu.RLock()
	item, ok := s.items[storageKey]
	s.mu.RUnlock()

	if !ok {
		return nil, nil
	}
	if item.IsExpired() {
		s.mu.Lock()
		delete(s.items, storageKey)
		s.mu.Unlock()
		return nil, nil
	}
	return item, nil
}

// Set stores a copy of data under key, applying any TTL.
func (s *Storage) Set(_ context.Context, key string, data []byte, opts ...storage.Option) error {
	options := storage.Resolve(opts)
	storageKey := buildKey(options.Namespace, key)

	now := time.Now()
	item := &storage.Item{
		Data:      append([]byte(nil), data...),
		CreatedAt: now,
	}
	if options.TTL != nil {
		expiresAt := now.Add(*options.TTL)
		item.ExpiresAt = &expiresAt
	}

	s.mu.Lock()
	s.items[storageKey] = item
	s.mu.Unlock()
	return nil
}

// Delete removes a single key, or the whole scoped namespace when no key is
// targeted.
func (s *Storage) Delete(_ context.Context, opts ...storage.Option) error {
	options := storage.Resolve(opts)

	s.mu.Lock()
	defer s.mu.Unlock()

	if options.Key != nil {
		delete(s.items, buildKey(options.Namespace, *options.Key))
		return nil
	}
	prefix := namespacePrefix(options.Namespace)
	for k := range s.items {
		if strings.HasPrefix(k, prefix) {
			delete(s.items, k)
		}
	}
	return nil
}

// Close stops the sweep goroutine and drops all items.
func (s *Storage) Close() error {
	s.once.Do(func() { close(s.stop) })
	s.mu.Lock()
	s.items = make(map[string]*storage.Item)
	s.mu.Unlock()
	return nil
}

func (s *Storage) sweep() {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			now := time.Now()
			s.mu.Lock()
			for k, item := range s.items {
				if item.ExpiresAt != nil && now.After(*item.ExpiresAt) {
					delete(s.items, k)
				}
			}
			s.mu.Unlock()
		}
	}
}

func buildKey(namespace storage.Namespace, key string) string {
	return namespacePrefix(namespace) + "key:" + key
}

func namespacePrefix(namespace storage.Namespace) string {
	switch ns := namespace.(type) {
	case storage.UserNamespace:
		return "user:" + ns.Username + ":"
	case storage.SessionNamespace:
		return "user:" + ns.Username + ":session:" + ns.SessionID + ":"
	default:
		return "global:"
	}
}

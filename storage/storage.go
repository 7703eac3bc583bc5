// Package storage provides the key-value persistence interface backing
// server-side session artifacts. Backends exist for process-local memory and
// Redis; both apply TTL semantics so expired artifacts read as absent.
package storage

import (
	"context"
	"time"
)

// Storage is the persistence contract. A nil Item with a nil error means the
// key does not exist or has expired; errors are reserved for genuine backend
// failures.
type Storage interface {
	// Get retrieves the item stored under key within the scoped namespace.
	Get(ctx context.Context, key string, opts ...Option) (*Item, error)

	// Set stores data under key within the scoped namespace.
	Set(ctx context.Context, key string, data []byte, opts ...Option) error

	// Delete removes data within the scoped namespace. With WithKey it
	// removes a single entry, otherwise the whole namespace.
	Delete(ctx context.Context, opts ...Option) error

	// Close releases backend resources.
	Close() error
}

// Item is a stored value plus its lifetime metadata.
type Item struct {
	Data      []byte
	CreatedAt time.Time
	ExpiresAt *time.Time // nil means no expiration
}

// IsExpired reports whether the item's lifetime has elapsed.
func (it *Item) IsExpired() bool {
	return it.ExpiresAt != nil && time.Now().After(*it.ExpiresAt)
}

// Option configures a storage operation.
type Option func(*Options)

// Options carries the resolved per-operation configuration.
type Options struct {
	Namespace Namespace
	Key       *string
	TTL       *time.Duration
}

// Namespace scopes keys. A nil namespace is the global scope.
type Namespace interface {
	namespace()
}

// UserNamespace scopes keys to one user.
type UserNamespace struct {
	Username string
}

func (UserNamespace) namespace() {}

// SessionNamespace scopes keys to one session of one user.
type SessionNamespace struct {
	Username  string
	SessionID string
}

func (SessionNamespace) namespace() {}

// WithUser scopes the operation to a user namespace.
func WithUser(username string) Option {
	return func(o *Options) { o.Namespace = UserNamespace{Username: username} }
}

// WithUserSession scopes the operation to a single session of a user.
func WithUserSession(username, sessionID string) Option {
	return func(o *Options) { o.Namespace = SessionNamespace{Username: username, SessionID: sessionID} }
}

// WithKey targets a single key on Delete.
func WithKey(key string) Option {
	return func(o *Options) { o.Key = &key }
}

// WithTTL sets the item's time-to-live on Set.
func WithTTL(ttl time.Duration) Option {
	return func(o *Options) { o.TTL = &ttl }
}

// Resolve applies opts and returns the resulting Options.
func Resolve(opts []Option) *Options {
	o := &Options{}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

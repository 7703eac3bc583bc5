// Package relyingparty resolves relying-party configuration records. A
// relying party is an application that accepts tokens from this system,
// identified by its realm. Records are owned by an external store; this
// package only reads them.
package relyingparty

import (
	"context"
	"log/slog"
	"net/url"
	"strings"

	"github.com/idsrv/idsrv/token"
)

// Record is one relying-party configuration entry.
type Record struct {
	// Realm is the identifier relying parties present in federation
	// requests, typically a URI.
	Realm string `json:"realm"`
	// Name is display metadata for sign-in UIs.
	Name string `json:"name"`
	// Enabled gates token issuance for this party.
	Enabled bool `json:"enabled"`
	// TokenType is the token format this party accepts.
	TokenType token.Type `json:"token_type"`
	// ReplyTo is the endpoint tokens are posted back to.
	ReplyTo string `json:"reply_to,omitempty"`
	// SSOCookieLifetimeHours bounds sessions established for this party.
	SSOCookieLifetimeHours int `json:"sso_cookie_lifetime_hours"`
}

// Store is the read-only lookup surface over the external configuration
// store.
type Store interface {
	// Get returns the record for realm. ok=false means no record, which is
	// not an error.
	Get(ctx context.Context, realm string) (*Record, bool, error)
}

// WS-Federation sign-in request message fields.
const (
	wsfedActionParam = "wa"
	wsfedRealmParam  = "wtrealm"
	wsfedSignIn      = "wsignin1.0"

	// placeholderBase rebases relative return URLs so they parse as absolute
	// references. The authority is never dereferenced.
	placeholderBase = "http://placeholder.invalid"
)

// Resolver answers relying-party lookups by realm or by federation return
// URL. Absence of a record, however caused, resolves to nil: callers must
// treat nil as "no relying-party context available".
type Resolver struct {
	store Store
	log   *slog.Logger
}

// ResolverOption configures a Resolver.
type ResolverOption func(*Resolver)

// WithLogger sets the slog logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) ResolverOption {
	return func(r *Resolver) { r.log = l }
}

// NewResolver returns a Resolver over store.
func NewResolver(store Store, opts ...ResolverOption) *Resolver {
	r := &Resolver{store: store, log: slog.Default()}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve returns the record for realm, or nil when none exists. Store
// faults are logged and resolve to nil as well.
func (r *Resolver) Resolve(ctx context.Context, realm string) *Record {
	rec, ok, err := r.store.Get(ctx, realm)
	if err != nil {
		r.log.WarnContext(ctx, "relying party lookup failed", slog.String("realm", realm), slog.String("err", err.Error()))
		return nil
	}
	if !ok {
		return nil
	}
	return rec
}

// ResolveFromReturnURL URL-decodes the given return URL, rebases it against a
// placeholder authority, parses it as a WS-Federation sign-in request
// message, and resolves the realm it names. Blank or unparseable input
// resolves to nil, never an error.
func (r *Resolver) ResolveFromReturnURL(ctx context.Context, returnURL string) *Record {
	if strings.TrimSpace(returnURL) == "" {
		return nil
	}

	decoded, err := url.QueryUnescape(returnURL)
	if err != nil {
		return nil
	}

	u, err := url.Parse(decoded)
	if err != nil {
		return nil
	}
	if !u.IsAbs() {
		u, err = url.Parse(placeholderBase + decoded)
		if err != nil {
			return nil
		}
	}

	q := u.Query()
	if q.Get(wsfedActionParam) != wsfedSignIn {
		return nil
	}
	realm := q.Get(wsfedRealmParam)
	if realm == "" {
		return nil
	}
	return r.Resolve(ctx, realm)
}

// Package jwscookie writes session artifacts as Ed25519-signed JWS cookies.
// The cookie carries only a signed reference (session ID, subject, expiry);
// the full principal is persisted server-side in a storage backend under the
// session's namespace.
package jwscookie

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/idsrv/idsrv/principal"
	"github.com/idsrv/idsrv/session"
	"github.com/idsrv/idsrv/storage"
)

// DefaultCookieName is used unless overridden with WithCookieName.
const DefaultCookieName = "idsrv.session"

const artifactKey = "artifact"

// ErrNoSession is returned by Read when no valid session cookie is present.
var ErrNoSession = errors.New("jwscookie: no session")

// Store implements session.CookieWriter with JWS cookies plus server-side
// artifact records.
type Store struct {
	signer     *Signer
	backend    storage.Storage
	cookieName string
	secure     bool
}

var _ session.CookieWriter = (*Store)(nil)

// Option configures a Store.
type Option func(*Store)

// WithCookieName overrides the session cookie name.
func WithCookieName(name string) Option {
	return func(s *Store) { s.cookieName = name }
}

// WithInsecureTransport drops the Secure cookie attribute for plain-HTTP
// development setups.
func WithInsecureTransport() Option {
	return func(s *Store) { s.secure = false }
}

// New returns a Store signing with signer and persisting artifacts in backend.
func New(signer *Signer, backend storage.Storage, opts ...Option) *Store {
	s := &Store{
		signer:     signer,
		backend:    backend,
		cookieName: DefaultCookieName,
		secure:     true,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// cookieClaims is the signed cookie payload. The principal itself stays
// server-side.
type cookieClaims struct {
	SessionID  string `json:"sid"`
	Subject    string `json:"sub"`
	ExpiresAt  int64  `json:"exp"`
	Persistent bool   `json:"per"`
}

// storedArtifact is the server-side record.
type storedArtifact struct {
	Principal  principal.Principal `json:"principal"`
	IssuedAt   time.Time           `json:"issued_at"`
	ExpiresAt  time.Time           `json:"expires_at"`
	Persistent bool                `json:"persistent"`
}

// WriteSession persists the artifact and sets the signed cookie. Persistent
// sessions get an Expires attribute so the cookie outlives the browser
// session; non-persistent ones remain session cookies.
func (s *Store) WriteSession(ctx context.Context, w http.ResponseWriter, art session.Artifact) error {
	record, err := json.Marshal(storedArtifact{
		Principal:  art.Principal,
		IssuedAt:   art.IssuedAt,
		ExpiresAt:  art.ExpiresAt,
		Persistent: art.Persistent,
	})
	if err != nil {
		return fmt.Errorf("marshal artifact: %w", err)
	}
	err = s.backend.Set(ctx, artifactKey, record,
		storage.WithUserSession(art.Principal.Name, art.ID),
		storage.WithTTL(art.TTL()),
	)
	if err != nil {
		return fmt.Errorf("persist artifact: %w", err)
	}

	payload, err := json.Marshal(cookieClaims{
		SessionID:  art.ID,
		Subject:    art.Principal.Name,
		ExpiresAt:  art.ExpiresAt.Unix(),
		Persistent: art.Persistent,
	})
	if err != nil {
		return fmt.Errorf("marshal cookie claims: %w", err)
	}
	compact, err := s.signer.Sign(payload)
	if err != nil {
		return fmt.Errorf("sign cookie: %w", err)
	}

	cookie := &http.Cookie{
		Name:     s.cookieName,
		Value:    compact,
		Path:     "/",
		HttpOnly: true,
		Secure:   s.secure,
		SameSite: http.SameSiteLaxMode,
	}
	if art.Persistent {
		cookie.Expires = art.ExpiresAt
	}
	http.SetCookie(w, cookie)
	return nil
}

// Read verifies the request's session cookie and loads the stored artifact.
// Any verification or lookup miss is ErrNoSession; no distinction between a
// missing, tampered, or expired session is surfaced.
func (s *Store) Read(ctx context.Context, r *http.Request) (session.Artifact, error) {
	cookie, err := r.Cookie(s.cookieName)
	if err != nil {
		return session.Artifact{}, ErrNoSession
	}
	payload, _, err := s.signer.Verify(cookie.Value)
	if err != nil {
		return session.Artifact{}, ErrNoSession
	}

	var claims cookieClaims
	if err := json.Unmarshal(payload, &claims); err != nil {
		return session.Artifact{}, ErrNoSession
	}
	if time.Now().Unix() >= claims.ExpiresAt {
		return session.Artifact{}, ErrNoSession
	}

	item, err := s.backend.Get(ctx, artifactKey, storage.WithUserSession(claims.Subject, claims.SessionID))
	if err != nil || item == nil {
		return session.Artifact{}, ErrNoSession
	}
	var record storedArtifact
	if err := json.Unmarshal(item.Data, &record); err != nil {
		return session.Artifact{}, ErrNoSession
	}

	return session.Artifact{
		ID:         claims.SessionID,
		Principal:  record.Principal,
		IssuedAt:   record.IssuedAt,
		ExpiresAt:  record.ExpiresAt,
		Persistent: record.Persistent,
	}, nil
}

// Revoke removes the server-side artifact so the cookie stops resolving.
func (s *Store) Revoke(ctx context.Context, username, sessionID string) error {
	return s.backend.Delete(ctx, storage.WithUserSession(username, sessionID))
}

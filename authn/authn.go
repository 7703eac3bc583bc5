// Package authn resolves a single winning principal from an inbound request.
//
// Each public entry point owns a fixed precedence chain of credential
// schemes. A scheme that yields no credential is skipped; a scheme whose
// credential fails validation falls through to the next scheme. The first
// successful validation wins and the remaining schemes are never consulted.
package authn

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/idsrv/idsrv/credential"
	"github.com/idsrv/idsrv/principal"
	"github.com/idsrv/idsrv/userstore"
)

// Authenticator validates credential candidates against the user store and
// builds principals for the winners. It holds no cross-request state and is
// safe for concurrent use.
type Authenticator struct {
	store        userstore.Store
	builder      *principal.Builder
	log          *slog.Logger
	storeTimeout time.Duration
}

// Option configures an Authenticator.
type Option func(*Authenticator)

// WithBuilder sets the principal builder. Defaults to principal.NewBuilder().
func WithBuilder(b *principal.Builder) Option {
	return func(a *Authenticator) { a.builder = b }
}

// WithLogger sets the slog logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(a *Authenticator) { a.log = l }
}

// WithStoreTimeout bounds each call into the user store. An unresponsive
// store surfaces as a validation failure rather than a hung request.
func WithStoreTimeout(d time.Duration) Option {
	return func(a *Authenticator) { a.storeTimeout = d }
}

// New returns an Authenticator over the given store.
func New(store userstore.Store, opts ...Option) *Authenticator {
	a := &Authenticator{
		store:        store,
		builder:      principal.NewBuilder(),
		log:          slog.Default(),
		storeTimeout: 10 * time.Second,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Builder exposes the principal builder so callers composing session writes
// share the same transformation policy.
func (a *Authenticator) Builder() *principal.Builder { return a.builder }

// Validate checks one candidate against the user store and returns the
// canonical username. Unknown-user and wrong-secret are indistinguishable:
// both are ok=false. Store faults are logged and reduced to ok=false.
func (a *Authenticator) Validate(ctx context.Context, cand credential.Candidate) (string, bool) {
	ctx, cancel := context.WithTimeout(ctx, a.storeTimeout)
	defer cancel()

	switch cand.Kind {
	case credential.KindCertificate:
		username, ok, err := a.store.ValidateCertificate(ctx, cand.Certificate)
		if err != nil {
			a.log.WarnContext(ctx, "certificate validation error", slog.String("err", err.Error()))
			return "", false
		}
		return username, ok
	case credential.KindBasic, credential.KindForm, credential.KindOAuth:
		ok, err := a.store.ValidatePassword(ctx, cand.Username, cand.Password)
		if err != nil {
			a.log.WarnContext(ctx, "password validation error", slog.String("err", err.Error()))
			return "", false
		}
		if !ok {
			return "", false
		}
		return cand.Username, true
	default:
		return "", false
	}
}

// Resolve runs the chain against the request: extract, validate, first win
// becomes the principal. Both absent credentials and failed validations fall
// through to the next scheme.
func (a *Authenticator) Resolve(ctx context.Context, r *http.Request, chain credential.Chain) (principal.Principal, bool) {
	for _, scheme := range chain {
		cand := scheme(r)
		if !cand.Found() {
			continue
		}
		username, ok := a.Validate(ctx, cand)
		if !ok {
			continue
		}
		p, err := a.builder.Build(ctx, username, methodFor(cand.Kind))
		if err != nil {
			a.log.ErrorContext(ctx, "principal build failed", slog.String("err", err.Error()))
			return principal.Principal{}, false
		}
		return p, true
	}
	return principal.Principal{}, false
}

// ResolveHTTPRequest authenticates a plain HTTP request: client certificate,
// then Basic/X-Authorization header.
func (a *Authenticator) ResolveHTTPRequest(ctx context.Context, r *http.Request) (principal.Principal, bool) {
	return a.Resolve(ctx, r, credential.Chain{credential.ClientCertificate, credential.BasicHeader})
}

// ResolveOAuthRequest authenticates an OAuth2 resource-owner token request:
// client certificate, then the username/password body fields.
func (a *Authenticator) ResolveOAuthRequest(ctx context.Context, r *http.Request) (principal.Principal, bool) {
	return a.Resolve(ctx, r, credential.Chain{credential.ClientCertificate, credential.OAuthBody})
}

// ResolveWrapRequest authenticates a legacy WRAP token request: client
// certificate, then the wrap_name/wrap_password form fields.
func (a *Authenticator) ResolveWrapRequest(ctx context.Context, r *http.Request) (principal.Principal, bool) {
	return a.Resolve(ctx, r, credential.Chain{credential.ClientCertificate, credential.WrapForm})
}

// ResolvePassword authenticates a direct username/password pair, used by the
// interactive sign-in form. No certificate fallback at this entry point.
func (a *Authenticator) ResolvePassword(ctx context.Context, username, password string) (principal.Principal, bool) {
	ok, err := a.validatePasswordBounded(ctx, username, password)
	if err != nil {
		a.log.WarnContext(ctx, "password validation error", slog.String("err", err.Error()))
		return principal.Principal{}, false
	}
	if !ok {
		return principal.Principal{}, false
	}
	p, err := a.builder.Build(ctx, username, principal.MethodPassword)
	if err != nil {
		a.log.ErrorContext(ctx, "principal build failed", slog.String("err", err.Error()))
		return principal.Principal{}, false
	}
	return p, true
}

// ResolveCertificate authenticates the presented client certificate only.
// There is deliberately no fallback to other schemes.
func (a *Authenticator) ResolveCertificate(ctx context.Context, r *http.Request) (principal.Principal, bool) {
	return a.Resolve(ctx, r, credential.Chain{credential.ClientCertificate})
}

func (a *Authenticator) validatePasswordBounded(ctx context.Context, username, password string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, a.storeTimeout)
	defer cancel()
	return a.store.ValidatePassword(ctx, username, password)
}

func methodFor(k credential.Kind) string {
	if k == credential.KindCertificate {
		return principal.MethodX509
	}
	return principal.MethodPassword
}

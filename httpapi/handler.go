// Package httpapi exposes the token service over HTTP. Each endpoint is a
// composition of the authentication pipeline: extract credentials in that
// entry point's precedence order, establish a principal, and either issue a
// token or write a session cookie.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/elnormous/contenttype"
	jose "github.com/go-jose/go-jose/v4"
	"github.com/google/uuid"
	"github.com/joeshaw/envdecode"

	"github.com/idsrv/idsrv/authn"
	"github.com/idsrv/idsrv/internal/logctx"
	"github.com/idsrv/idsrv/principal"
	"github.com/idsrv/idsrv/relyingparty"
	"github.com/idsrv/idsrv/session"
	"github.com/idsrv/idsrv/token"
)

var _ http.Handler = (*Handler)(nil)

// genericAuthFailure is the only credential-failure text ever sent to a
// caller. No field-level detail leaks which part of the credential was wrong.
const genericAuthFailure = "Incorrect credentials or no authorization."

var jsonMediaType = contenttype.NewMediaType("application/json")

// Config is the deployable surface of the HTTP layer. Defaults can be loaded
// via envdecode.
type Config struct {
	// Issuer is the public base URL of this service, e.g.
	// "https://id.example.com". ENV: IDSRV_ISSUER
	Issuer string `env:"IDSRV_ISSUER"`
	// EnableClientCertAuth gates the certificate sign-in endpoint.
	// ENV: IDSRV_ENABLE_CLIENT_CERT_AUTH
	EnableClientCertAuth bool `env:"IDSRV_ENABLE_CLIENT_CERT_AUTH,default=false"`
	// DefaultSSOLifetimeHours applies when no relying-party record supplies a
	// cookie lifetime. ENV: IDSRV_SSO_COOKIE_LIFETIME_HOURS
	DefaultSSOLifetimeHours int `env:"IDSRV_SSO_COOKIE_LIFETIME_HOURS,default=8"`
	// TokenLifetimeSeconds is advertised as expires_in on the OAuth2 token
	// endpoint. ENV: IDSRV_TOKEN_LIFETIME_SECONDS
	TokenLifetimeSeconds int `env:"IDSRV_TOKEN_LIFETIME_SECONDS,default=3600"`
}

// ConfigFromEnv populates a Config via envdecode; struct tags carry defaults.
func ConfigFromEnv() Config {
	var cfg Config
	_ = envdecode.Decode(&cfg)
	return cfg
}

// KeySource exposes the public signing keys published on the JWKS endpoint.
type KeySource interface {
	PublicKeys() jose.JSONWebKeySet
}

// Option configures the Handler.
type Option func(*Handler)

// WithLogger sets the slog logger. Defaults to slog.Default(), wrapped with
// logctx enrichment either way.
func WithLogger(l *slog.Logger) Option {
	return func(h *Handler) { h.log = l }
}

// Handler routes the fixed endpoint set of the token service.
type Handler struct {
	mux      *http.ServeMux
	cfg      Config
	authn    *authn.Authenticator
	issuer   *token.Issuer
	sessions *session.Writer
	rp       *relyingparty.Resolver
	keys     KeySource
	log      *slog.Logger
}

// New wires the pipeline components into an http.Handler.
func New(cfg Config, authenticator *authn.Authenticator, issuer *token.Issuer, sessions *session.Writer, rp *relyingparty.Resolver, keys KeySource, opts ...Option) (*Handler, error) {
	if cfg.Issuer == "" {
		return nil, errors.New("httpapi: issuer base URL is required")
	}
	if cfg.DefaultSSOLifetimeHours <= 0 {
		cfg.DefaultSSOLifetimeHours = 8
	}
	if cfg.TokenLifetimeSeconds <= 0 {
		cfg.TokenLifetimeSeconds = 3600
	}

	h := &Handler{
		mux:      http.NewServeMux(),
		cfg:      cfg,
		authn:    authenticator,
		issuer:   issuer,
		sessions: sessions,
		rp:       rp,
		keys:     keys,
		log:      slog.Default(),
	}
	for _, opt := range opts {
		opt(h)
	}
	h.log = slog.New(logctx.Handler{Handler: h.log.Handler()})

	h.mux.HandleFunc("GET /issue/simple", h.handleSimpleIssue)
	h.mux.HandleFunc("POST /oauth2/token", h.handleOAuthToken)
	h.mux.HandleFunc("POST /wrap", h.handleWrapToken)
	h.mux.HandleFunc("POST /account/signin", h.handleSignIn)
	h.mux.HandleFunc("GET /account/signin/certificate", h.handleCertificateSignIn)
	h.mux.HandleFunc("GET /.well-known/openid-configuration", h.handleDiscovery)
	h.mux.HandleFunc("GET /.well-known/jwks.json", h.handleJWKS)

	return h, nil
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := logctx.WithRequestData(r.Context(), &logctx.RequestData{
		RequestID:  uuid.NewString(),
		Method:     r.Method,
		UserAgent:  r.UserAgent(),
		RemoteAddr: r.RemoteAddr,
		Path:       r.URL.Path,
	})
	h.mux.ServeHTTP(w, r.WithContext(ctx))
}

// handleSimpleIssue serves the HTTP-session entry point: certificate first,
// then Basic/X-Authorization, and returns the serialized token for the realm
// named in the query string.
func (h *Handler) handleSimpleIssue(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	realm := r.URL.Query().Get("realm")
	rp := h.rp.Resolve(ctx, realm)
	if rp == nil || !rp.Enabled {
		http.Error(w, "unknown realm", http.StatusNotFound)
		return
	}

	p, ok := h.authn.ResolveHTTPRequest(ctx, r)
	if !ok {
		w.Header().Set("WWW-Authenticate", `Basic realm="idsrv"`)
		http.Error(w, genericAuthFailure, http.StatusUnauthorized)
		return
	}
	ctx = withPrincipal(ctx, p)

	resp, ok := h.issuer.Issue(ctx, rp.Realm, p, rp.TokenType)
	if !ok {
		http.Error(w, "token issuance failed", http.StatusBadRequest)
		return
	}

	h.log.InfoContext(ctx, "token issued",
		slog.String("realm", rp.Realm),
		slog.String("token_type", string(resp.TokenType)),
	)
	w.Header().Set("Content-Type", resp.ContentType)
	fmt.Fprint(w, resp.Token)
}

// handleOAuthToken serves the OAuth2 resource-owner password grant:
// certificate first, then the username/password body fields. The scope field
// carries the relying-party realm.
func (h *Handler) handleOAuthToken(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	// The response is always JSON; reject callers that cannot accept it.
	if _, _, err := contenttype.GetAcceptableMediaType(r, []contenttype.MediaType{jsonMediaType}); err != nil {
		http.Error(w, "application/json response required", http.StatusNotAcceptable)
		return
	}

	if r.PostFormValue("grant_type") != "password" {
		oauthError(w, http.StatusBadRequest, "unsupported_grant_type")
		return
	}

	rp := h.rp.Resolve(ctx, r.PostFormValue("scope"))
	if rp == nil || !rp.Enabled {
		oauthError(w, http.StatusBadRequest, "invalid_scope")
		return
	}

	p, ok := h.authn.ResolveOAuthRequest(ctx, r)
	if !ok {
		oauthError(w, http.StatusUnauthorized, "invalid_grant")
		return
	}
	ctx = withPrincipal(ctx, p)

	resp, ok := h.issuer.Issue(ctx, rp.Realm, p, rp.TokenType)
	if !ok {
		oauthError(w, http.StatusBadRequest, "invalid_request")
		return
	}

	h.log.InfoContext(ctx, "token issued",
		slog.String("realm", rp.Realm),
		slog.String("token_type", string(resp.TokenType)),
	)
	w.Header().Set("Content-Type", jsonMediaType.String())
	w.Header().Set("Cache-Control", "no-store")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"access_token": resp.Token,
		"token_type":   "Bearer",
		"expires_in":   h.cfg.TokenLifetimeSeconds,
	})
}

// handleWrapToken serves the legacy WRAP entry point: certificate first, then
// the wrap_name/wrap_password form fields. The response is the WRAP
// form-encoded access token.
func (h *Handler) handleWrapToken(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	rp := h.rp.Resolve(ctx, r.PostFormValue("wrap_scope"))
	if rp == nil || !rp.Enabled {
		http.Error(w, "unknown scope", http.StatusBadRequest)
		return
	}

	p, ok := h.authn.ResolveWrapRequest(ctx, r)
	if !ok {
		http.Error(w, genericAuthFailure, http.StatusUnauthorized)
		return
	}
	ctx = withPrincipal(ctx, p)

	resp, ok := h.issuer.Issue(ctx, rp.Realm, p, rp.TokenType)
	if !ok {
		http.Error(w, "token issuance failed", http.StatusBadRequest)
		return
	}

	h.log.InfoContext(ctx, "token issued",
		slog.String("realm", rp.Realm),
		slog.String("token_type", string(resp.TokenType)),
	)
	w.Header().Set("Content-Type", "application/x-www-form-urlencoded")
	fmt.Fprint(w, "wrap_access_token="+url.QueryEscape(resp.Token))
}

// handleSignIn serves the interactive sign-in form submission: direct
// username/password validation with no certificate fallback, then a session
// cookie and a redirect back to the return URL.
func (h *Handler) handleSignIn(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	username := r.PostFormValue("username")
	password := r.PostFormValue("password")
	returnURL := r.PostFormValue("returnUrl")
	persistent := r.PostFormValue("enableSSO") == "true"

	p, ok := h.authn.ResolvePassword(ctx, username, password)
	if !ok {
		http.Error(w, genericAuthFailure, http.StatusUnauthorized)
		return
	}
	ctx = withPrincipal(ctx, p)

	h.establishSession(ctx, w, r, p.Name, principal.MethodPassword, persistent, returnURL)
}

// handleCertificateSignIn validates the presented client certificate only.
// Failure renders a generic error with no fallback to other schemes.
func (h *Handler) handleCertificateSignIn(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if !h.cfg.EnableClientCertAuth {
		http.NotFound(w, r)
		return
	}

	p, ok := h.authn.ResolveCertificate(ctx, r)
	if !ok {
		http.Error(w, genericAuthFailure, http.StatusForbidden)
		return
	}
	ctx = withPrincipal(ctx, p)

	returnURL := r.URL.Query().Get("returnUrl")
	h.establishSession(ctx, w, r, p.Name, principal.MethodX509, false, returnURL)
}

// establishSession writes the session cookie for an authenticated user and
// redirects back to the return URL. The relying party resolved from the
// return URL supplies the cookie lifetime and the transformation resource
// when present.
func (h *Handler) establishSession(ctx context.Context, w http.ResponseWriter, r *http.Request, username, method string, persistent bool, returnURL string) {
	ttl := h.cfg.DefaultSSOLifetimeHours
	resource := ""
	if rp := h.rp.ResolveFromReturnURL(ctx, returnURL); rp != nil {
		resource = rp.Realm
		if rp.SSOCookieLifetimeHours > 0 {
			ttl = rp.SSOCookieLifetimeHours
		}
	}

	err := h.sessions.Write(ctx, w, session.Request{
		Username:   username,
		Method:     method,
		Persistent: persistent,
		TTLHours:   ttl,
		Resource:   resource,
	})
	if err != nil {
		h.log.ErrorContext(ctx, "session write failed", slog.String("err", err.Error()))
		http.Error(w, "sign-in failed", http.StatusInternalServerError)
		return
	}

	http.Redirect(w, r, localRedirect(returnURL), http.StatusFound)
}

// handleDiscovery publishes the minimal OIDC discovery document relying
// parties use to locate the JWKS and token endpoints.
func (h *Handler) handleDiscovery(w http.ResponseWriter, r *http.Request) {
	base := strings.TrimSuffix(h.cfg.Issuer, "/")
	w.Header().Set("Content-Type", jsonMediaType.String())
	_ = json.NewEncoder(w).Encode(map[string]any{
		"issuer":                   base,
		"jwks_uri":                 base + "/.well-known/jwks.json",
		"token_endpoint":           base + "/oauth2/token",
		"grant_types_supported":    []string{"password"},
		"response_types_supported": []string{"token"},
	})
}

// handleJWKS publishes the public signing keys.
func (h *Handler) handleJWKS(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", jsonMediaType.String())
	_ = json.NewEncoder(w).Encode(h.keys.PublicKeys())
}

// withPrincipal tags the context for log enrichment once a principal wins.
func withPrincipal(ctx context.Context, p principal.Principal) context.Context {
	method, _ := p.First(principal.ClaimAuthMethod)
	return logctx.WithPrincipalData(ctx, &logctx.PrincipalData{User: p.Name, AuthMethod: method})
}

// oauthError writes an RFC 6749 error body.
func oauthError(w http.ResponseWriter, status int, code string) {
	w.Header().Set("Content-Type", jsonMediaType.String())
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": code})
}

// localRedirect constrains post-sign-in redirects to same-origin paths so the
// return URL cannot be abused as an open redirect.
func localRedirect(returnURL string) string {
	if returnURL == "" {
		return "/"
	}
	u, err := url.Parse(returnURL)
	if err != nil || u.IsAbs() || u.Host != "" || !strings.HasPrefix(u.Path, "/") {
		return "/"
	}
	return u.String()
}

// Package tokenengine is the reference token.Engine implementation. It signs
// JWTs with RS256, Simple Web Tokens with HMAC-SHA256, and serializes SAML
// 1.1/2.0 assertions.
package tokenengine

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	jose "github.com/go-jose/go-jose/v4"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/idsrv/idsrv/principal"
	"github.com/idsrv/idsrv/token"
)

// ErrUnsupportedTokenType is returned for a token type the engine does not
// produce.
var ErrUnsupportedTokenType = errors.New("tokenengine: unsupported token type")

// Engine signs tokens with a process-local key set. It is safe for
// concurrent use; keys are immutable after construction.
type Engine struct {
	issuer   string
	key      jose.JSONWebKey
	rsaKey   *rsa.PrivateKey
	swtKey   []byte
	lifetime time.Duration
	now      func() time.Time
}

var _ token.Engine = (*Engine)(nil)

// Option configures an Engine.
type Option func(*Engine)

// WithLifetime sets the validity window of issued tokens. Default 1 hour.
func WithLifetime(d time.Duration) Option {
	return func(e *Engine) { e.lifetime = d }
}

// WithSWTKey sets the HMAC key for Simple Web Tokens. A random key is
// generated when unset, which is fine as long as token validation happens in
// the same process or the key is distributed out of band.
func WithSWTKey(key []byte) Option {
	return func(e *Engine) { e.swtKey = append([]byte(nil), key...) }
}

// WithClock overrides the time source. Intended for tests.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// New returns an Engine issuing tokens under the given issuer identifier.
// signingKey must be a private RSA JSONWebKey with a key ID.
func New(issuer string, signingKey jose.JSONWebKey, opts ...Option) (*Engine, error) {
	if issuer == "" {
		return nil, errors.New("tokenengine: issuer is required")
	}
	rsaKey, ok := signingKey.Key.(*rsa.PrivateKey)
	if !ok {
		return nil, errors.New("tokenengine: signing key must be a private RSA key")
	}
	if signingKey.KeyID == "" {
		return nil, errors.New("tokenengine: signing key needs a key ID")
	}

	e := &Engine{
		issuer:   issuer,
		key:      signingKey,
		rsaKey:   rsaKey,
		lifetime: time.Hour,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.swtKey == nil {
		e.swtKey = make([]byte, 32)
		if _, err := rand.Read(e.swtKey); err != nil {
			return nil, fmt.Errorf("tokenengine: swt key generation: %w", err)
		}
	}
	return e, nil
}

// PublicKeys returns the JWKS relying parties use to verify issued JWTs.
func (e *Engine) PublicKeys() jose.JSONWebKeySet {
	return jose.JSONWebKeySet{Keys: []jose.JSONWebKey{e.key.Public()}}
}

// Issuer returns the issuer identifier tokens are stamped with.
func (e *Engine) Issuer() string { return e.issuer }

// Issue produces a signed token for the request. The audience must be
// non-empty; an issue request without a scope is a caller bug.
func (e *Engine) Issue(ctx context.Context, req token.Request, p principal.Principal) (token.SecurityToken, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if req.AppliesTo == "" {
		return nil, errors.New("tokenengine: applies-to audience is required")
	}

	switch req.TokenType {
	case token.TypeJWT:
		return e.issueJWT(req.AppliesTo, p)
	case token.TypeSWT:
		return e.issueSWT(req.AppliesTo, p)
	case token.TypeSAML11, token.TypeSAML20:
		return e.issueSAML(req.TokenType, req.AppliesTo, p)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedTokenType, req.TokenType)
	}
}

func (e *Engine) issueJWT(audience string, p principal.Principal) (token.SecurityToken, error) {
	now := e.now().UTC()

	claims := jwt.MapClaims{
		"iss": e.issuer,
		"sub": p.Name,
		"aud": audience,
		"iat": now.Unix(),
		"nbf": now.Unix(),
		"exp": now.Add(e.lifetime).Unix(),
		"jti": uuid.NewString(),
	}
	for claimType, values := range foldClaims(p) {
		if claimType == principal.ClaimName {
			continue // already carried as sub
		}
		if len(values) == 1 {
			claims[claimType] = values[0]
		} else {
			claims[claimType] = values
		}
	}

	tok := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	tok.Header["kid"] = e.key.KeyID
	tok.Header["typ"] = "at+jwt"

	s, err := tok.SignedString(e.rsaKey)
	if err != nil {
		return nil, fmt.Errorf("tokenengine: jwt signing: %w", err)
	}
	return compactToken(s), nil
}

// issueSWT builds the legacy Simple Web Token form encoding: URL-encoded
// name/value pairs with a trailing HMACSHA256 signature over everything that
// precedes it.
func (e *Engine) issueSWT(audience string, p principal.Principal) (token.SecurityToken, error) {
	folded := foldClaims(p)
	types := make([]string, 0, len(folded))
	for t := range folded {
		types = append(types, t)
	}
	sort.Strings(types)

	var sb strings.Builder
	pair := func(name, value string) {
		if sb.Len() > 0 {
			sb.WriteByte('&')
		}
		sb.WriteString(url.QueryEscape(name))
		sb.WriteByte('=')
		sb.WriteString(url.QueryEscape(value))
	}
	for _, t := range types {
		// Multi-valued claim types are comma-joined per SWT convention.
		pair(t, strings.Join(folded[t], ","))
	}
	pair("Issuer", e.issuer)
	pair("Audience", audience)
	pair("ExpiresOn", strconv.FormatInt(e.now().UTC().Add(e.lifetime).Unix(), 10))

	mac := hmac.New(sha256.New, e.swtKey)
	mac.Write([]byte(sb.String()))
	pair("HMACSHA256", base64.StdEncoding.EncodeToString(mac.Sum(nil)))

	return compactToken(sb.String()), nil
}

// VerifySWT checks a Simple Web Token's HMAC signature and expiry against
// this engine's key and clock.
func (e *Engine) VerifySWT(swt string) bool {
	idx := strings.LastIndex(swt, "&HMACSHA256=")
	if idx < 0 {
		return false
	}
	body := swt[:idx]
	sig, err := url.QueryUnescape(swt[idx+len("&HMACSHA256="):])
	if err != nil {
		return false
	}
	want, err := base64.StdEncoding.DecodeString(sig)
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, e.swtKey)
	mac.Write([]byte(body))
	if !hmac.Equal(mac.Sum(nil), want) {
		return false
	}
	vals, err := url.ParseQuery(body)
	if err != nil {
		return false
	}
	exp, err := strconv.ParseInt(vals.Get("ExpiresOn"), 10, 64)
	if err != nil {
		return false
	}
	return e.now().UTC().Unix() < exp
}

// foldClaims groups claim values by type, preserving value order.
func foldClaims(p principal.Principal) map[string][]string {
	out := make(map[string][]string)
	for _, c := range p.Claims {
		out[c.Type] = append(out[c.Type], c.Value)
	}
	return out
}

// compactToken is a token with only a compact serialization.
type compactToken string

func (t compactToken) CompactString() (string, error) { return string(t), nil }
func (t compactToken) WriteXML(io.Writer) error {
	return errors.New("tokenengine: compact token has no XML serialization")
}

// Package tokenverify validates JWTs issued by this system, from the relying
// party's side of the trust boundary. Verifiers resolve signing keys either
// through OIDC discovery against the issuer or from a statically configured
// JWKS URI; keys auto-refresh in both cases.
package tokenverify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	keyfunc "github.com/MicahParks/keyfunc/v3"
	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/golang-jwt/jwt/v5"
)

// ErrUnverified indicates the token failed signature, issuer, audience, or
// time validation and the bearer must be treated as unauthenticated.
var ErrUnverified = errors.New("tokenverify: unverified")

// Config controls validation behavior for issued tokens.
type Config struct {
	// Issuer is the issuer identifier tokens must be stamped with.
	Issuer string
	// ExpectedAudiences lists the audiences this relying party accepts. The
	// first entry should be the realm registered with the token service.
	ExpectedAudiences []string
	AllowedAlgs       []string
	Leeway            time.Duration
}

// DefaultConfig returns a Config with safe algorithm and leeway defaults.
func DefaultConfig() *Config {
	return &Config{
		AllowedAlgs: []string{"RS256"},
		Leeway:      60 * time.Second,
	}
}

// Identity is the verified subject plus access to the raw claims.
type Identity struct {
	Subject string
	claims  jwt.MapClaims
}

// Claims unmarshals the verified claim set into ref.
func (id *Identity) Claims(ref any) error {
	b, err := json.Marshal(map[string]any(id.claims))
	if err != nil {
		return err
	}
	return json.Unmarshal(b, ref)
}

// Verifier checks a serialized token and returns the identity it asserts.
type Verifier struct {
	cfg     *Config
	keyfunc jwt.Keyfunc
}

// NewFromDiscovery performs OIDC discovery against cfg.Issuer to locate the
// JWKS endpoint and constructs a Verifier over it.
func NewFromDiscovery(ctx context.Context, cfg *Config) (*Verifier, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	if cfg.Issuer == "" {
		return nil, errors.New("issuer is required")
	}

	provider, err := oidc.NewProvider(ctx, cfg.Issuer)
	if err != nil {
		return nil, fmt.Errorf("oidc discovery failed: %w", err)
	}
	var meta struct {
		JwksURI string `json:"jwks_uri"`
	}
	if err := provider.Claims(&meta); err != nil {
		return nil, fmt.Errorf("invalid discovery metadata: %w", err)
	}
	if meta.JwksURI == "" {
		return nil, errors.New("discovery incomplete: missing jwks_uri")
	}
	return NewFromJWKS(ctx, cfg, meta.JwksURI)
}

// NewFromJWKS constructs a Verifier against a statically configured JWKS URI,
// skipping discovery. Keys are auto-refreshed.
func NewFromJWKS(ctx context.Context, cfg *Config, jwksURI string) (*Verifier, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	if cfg.Issuer == "" {
		return nil, errors.New("issuer is required")
	}
	if len(cfg.ExpectedAudiences) == 0 {
		return nil, errors.New("at least one expected audience required")
	}
	if jwksURI == "" {
		return nil, errors.New("jwks uri required")
	}
	if len(cfg.AllowedAlgs) == 0 {
		cfg.AllowedAlgs = []string{"RS256"}
	}
	if cfg.Leeway == 0 {
		cfg.Leeway = 60 * time.Second
	}

	kf, err := keyfunc.NewDefaultCtx(ctx, []string{jwksURI})
	if err != nil {
		return nil, fmt.Errorf("jwks init failed: %w", err)
	}

	return &Verifier{
		cfg: cfg,
		keyfunc: func(t *jwt.Token) (any, error) {
			alg := t.Method.Alg()
			for _, a := range cfg.AllowedAlgs {
				if alg == a {
					return kf.Keyfunc(t)
				}
			}
			return nil, fmt.Errorf("disallowed alg: %s", alg)
		},
	}, nil
}

// Verify parses and validates tok and returns the asserted identity.
func (v *Verifier) Verify(ctx context.Context, tok string) (*Identity, error) {
	if tok == "" {
		return nil, fmt.Errorf("%w: empty token", ErrUnverified)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods(v.cfg.AllowedAlgs),
		jwt.WithExpirationRequired(),
		jwt.WithIssuer(v.cfg.Issuer),
		jwt.WithLeeway(v.cfg.Leeway),
	}
	if len(v.cfg.ExpectedAudiences) == 1 {
		opts = append(opts, jwt.WithAudience(v.cfg.ExpectedAudiences[0]))
	}
	parser := jwt.NewParser(opts...)

	parsed, err := parser.Parse(tok, v.keyfunc)
	if err != nil {
		return nil, fmt.Errorf("%w: token parse/verify failed: %v", ErrUnverified, err)
	}

	if typ, _ := parsed.Header["typ"].(string); typ != "at+jwt" && typ != "application/at+jwt" {
		return nil, fmt.Errorf("%w: invalid typ; want at+jwt", ErrUnverified)
	}

	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return nil, errors.New("invalid claims type")
	}

	if len(v.cfg.ExpectedAudiences) > 1 && !audIntersects(claims["aud"], v.cfg.ExpectedAudiences) {
		return nil, fmt.Errorf("%w: audience mismatch", ErrUnverified)
	}

	sub, _ := claims["sub"].(string)
	if sub == "" {
		return nil, fmt.Errorf("%w: missing sub", ErrUnverified)
	}
	return &Identity{Subject: sub, claims: claims}, nil
}

func audIntersects(aud any, want []string) bool {
	have := map[string]bool{}
	switch v := aud.(type) {
	case string:
		have[v] = true
	case []any:
		for _, e := range v {
			if s, ok := e.(string); ok {
				have[s] = true
			}
		}
	case []string:
		for _, s := range v {
			have[s] = true
		}
	}
	for _, w := range want {
		if have[strings.TrimSpace(w)] {
			return true
		}
	}
	return false
}

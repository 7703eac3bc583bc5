// Package principal defines the claims-bearing identity produced by
// authentication and consumed by token issuance and session handling.
//
// A Principal is an ordered set of claims. Construction guarantees exactly
// one name claim and exactly one authentication-method claim; the
// authentication-instant claim records the moment the principal was built.
package principal

import (
	"context"
	"time"
)

// Claim types understood by the core. Stored attribute claims with types
// outside this vocabulary are passed through verbatim.
const (
	ClaimName           = "name"
	ClaimNameIdentifier = "nameidentifier"
	ClaimEmail          = "email"
	ClaimMobilePhone    = "mobilephone"
	ClaimRole           = "role"
	ClaimAuthMethod     = "authenticationmethod"
	ClaimAuthInstant    = "authenticationinstant"
)

// Authentication method tags recorded in the authentication-method claim.
const (
	MethodPassword = "Password"
	MethodX509     = "X509"
)

// Claim is a single (type, value) pair.
type Claim struct {
	Type  string
	Value string
}

// Principal is a named identity plus its ordered claims.
type Principal struct {
	Name   string
	Claims []Claim
}

// First returns the value of the first claim of the given type.
func (p *Principal) First(claimType string) (string, bool) {
	for _, c := range p.Claims {
		if c.Type == claimType {
			return c.Value, true
		}
	}
	return "", false
}

// All returns the values of every claim of the given type, in order.
func (p *Principal) All(claimType string) []string {
	var out []string
	for _, c := range p.Claims {
		if c.Type == claimType {
			out = append(out, c.Value)
		}
	}
	return out
}

// Add appends claims to the principal.
func (p *Principal) Add(claims ...Claim) {
	p.Claims = append(p.Claims, claims...)
}

// Transformer is the claims-transformation step applied after the base
// principal is constructed. Implementations may add, remove, or rewrite
// claims (role enrichment, name normalization); the returned principal fully
// replaces the input. The resource string carries optional relying-party
// context and may be empty.
type Transformer interface {
	Transform(ctx context.Context, resource string, p Principal) (Principal, error)
}

// TransformerFunc adapts a function to the Transformer interface.
type TransformerFunc func(ctx context.Context, resource string, p Principal) (Principal, error)

func (f TransformerFunc) Transform(ctx context.Context, resource string, p Principal) (Principal, error) {
	return f(ctx, resource, p)
}

// PassthroughTransformer returns its input unchanged. It is the default when
// no transformation policy is configured.
func PassthroughTransformer() Transformer {
	return TransformerFunc(func(_ context.Context, _ string, p Principal) (Principal, error) {
		return p, nil
	})
}

// Builder constructs principals for authenticated users and applies the
// configured claims transformation.
type Builder struct {
	transformer Transformer
	now         func() time.Time
}

// BuilderOption configures a Builder.
type BuilderOption func(*Builder)

// WithTransformer sets the claims-transformation step. Defaults to
// PassthroughTransformer.
func WithTransformer(t Transformer) BuilderOption {
	return func(b *Builder) { b.transformer = t }
}

// WithClock overrides the time source used for the authentication-instant
// claim. Intended for tests.
func WithClock(now func() time.Time) BuilderOption {
	return func(b *Builder) { b.now = now }
}

// NewBuilder returns a Builder with the given options applied.
func NewBuilder(opts ...BuilderOption) *Builder {
	b := &Builder{
		transformer: PassthroughTransformer(),
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Build constructs the base three-claim principal for username and method,
// then pipes it through the claims transformation with an empty resource
// context. The transformed principal replaces the input entirely.
func (b *Builder) Build(ctx context.Context, username, method string) (Principal, error) {
	return b.BuildForResource(ctx, "", username, method, nil)
}

// BuildForResource is Build with an explicit resource context and optional
// additional claims. Additional claims are appended after transformation,
// not before, so the transformation policy cannot strip them.
func (b *Builder) BuildForResource(ctx context.Context, resource, username, method string, additional []Claim) (Principal, error) {
	base := Principal{
		Name: username,
		Claims: []Claim{
			{Type: ClaimName, Value: username},
			{Type: ClaimAuthMethod, Value: method},
			{Type: ClaimAuthInstant, Value: b.now().UTC().Format(time.RFC3339)},
		},
	}

	transformed, err := b.transformer.Transform(ctx, resource, base)
	if err != nil {
		return Principal{}, err
	}
	if transformed.Name == "" {
		transformed.Name = username
	}
	transformed.Add(additional...)
	return transformed, nil
}

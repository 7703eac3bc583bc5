// Package token drives security token issuance. The Issuer composes a
// bearer-keyed issue request scoped to a target audience, hands it to the
// signing Engine, and serializes the result into the wire encoding the
// requested token type calls for.
package token

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/idsrv/idsrv/principal"
)

// Type enumerates the supported token formats by their canonical type URIs.
type Type string

const (
	TypeSAML11 Type = "urn:oasis:names:tc:SAML:1.0:assertion"
	TypeSAML20 Type = "urn:oasis:names:tc:SAML:2.0:assertion"
	TypeJWT    Type = "urn:ietf:params:oauth:token-type:jwt"
	TypeSWT    Type = "http://schemas.xmlsoap.org/ws/2009/11/swt-token-profile-1.0"
)

// Compact reports whether the type has a compact text serialization rather
// than an XML one.
func (t Type) Compact() bool { return t == TypeJWT || t == TypeSWT }

// Content types of the serialized token. Exact strings are part of the wire
// contract with relying parties.
const (
	ContentTypeText = "text"
	ContentTypeXML  = "text/xml"
)

// Request keys. The core only ever issues bearer tokens.
const (
	RequestTypeIssue = "issue"
	KeyTypeBearer    = "bearer"
)

// Request is the issue request handed to the signing engine.
type Request struct {
	// RequestType is always RequestTypeIssue.
	RequestType string
	// AppliesTo is the audience endpoint reference the token is scoped to.
	AppliesTo string
	// KeyType is always KeyTypeBearer.
	KeyType string
	// TokenType selects the output format.
	TokenType Type
}

// Response is a serialized token plus the metadata a transport needs to
// return it. Constructed once per issuance; never mutated afterwards.
type Response struct {
	TokenType   Type
	ContentType string
	Token       string
}

// SecurityToken is an issued, not-yet-serialized token. Exactly one of the
// serializations is meaningful for a given token; invoking the other returns
// an error, which the Issuer reduces to failure.
type SecurityToken interface {
	// CompactString returns the compact text serialization (JWT, SWT).
	CompactString() (string, error)
	// WriteXML writes the XML serialization (SAML).
	WriteXML(w io.Writer) error
}

// Engine is the external token-signing service. Implementations own key
// material and signing policy; the Issuer owns request composition and
// serialization.
type Engine interface {
	Issue(ctx context.Context, req Request, p principal.Principal) (SecurityToken, error)
}

// Issuer converts principals into serialized token responses. Engine faults
// of any kind, panics included, are reduced to ok=false; no diagnostic
// detail crosses this boundary. Callers needing detail wrap the Engine with
// logging before constructing the Issuer.
type Issuer struct {
	engine  Engine
	log     *slog.Logger
	timeout time.Duration
}

// IssuerOption configures an Issuer.
type IssuerOption func(*Issuer)

// WithLogger sets the slog logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) IssuerOption {
	return func(i *Issuer) { i.log = l }
}

// WithEngineTimeout bounds each call into the signing engine. An unresponsive
// engine surfaces as an issuance failure rather than a hung request.
func WithEngineTimeout(d time.Duration) IssuerOption {
	return func(i *Issuer) { i.timeout = d }
}

// NewIssuer returns an Issuer over the given engine.
func NewIssuer(engine Engine, opts ...IssuerOption) *Issuer {
	i := &Issuer{
		engine:  engine,
		log:     slog.Default(),
		timeout: 15 * time.Second,
	}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// Issue requests a fresh token for the principal scoped to audience and
// serializes it. Each call computes a fresh token; nothing is cached. The
// boolean is the only failure signal.
func (i *Issuer) Issue(ctx context.Context, audience string, p principal.Principal, tokenType Type) (Response, bool) {
	req := Request{
		RequestType: RequestTypeIssue,
		AppliesTo:   audience,
		KeyType:     KeyTypeBearer,
		TokenType:   tokenType,
	}

	tok, ok := i.issue(ctx, req, p)
	if !ok {
		return Response{}, false
	}

	resp := Response{TokenType: tokenType}
	if tokenType.Compact() {
		s, err := tok.CompactString()
		if err != nil {
			i.log.WarnContext(ctx, "token serialization failed", slog.String("token_type", string(tokenType)))
			return Response{}, false
		}
		resp.Token = s
		resp.ContentType = ContentTypeText
	} else {
		var sb strings.Builder
		if err := tok.WriteXML(&sb); err != nil {
			i.log.WarnContext(ctx, "token serialization failed", slog.String("token_type", string(tokenType)))
			return Response{}, false
		}
		resp.Token = sb.String()
		resp.ContentType = ContentTypeXML
	}
	return resp, true
}

// issue calls the engine with a bounded context and absorbs both errors and
// panics. The engine's failure reason deliberately does not escape.
func (i *Issuer) issue(ctx context.Context, req Request, p principal.Principal) (tok SecurityToken, ok bool) {
	ctx, cancel := context.WithTimeout(ctx, i.timeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			i.log.WarnContext(ctx, "token engine panicked", slog.Any("panic", r))
			tok, ok = nil, false
		}
	}()

	tok, err := i.engine.Issue(ctx, req, p)
	if err != nil {
		i.log.WarnContext(ctx, "token issuance failed", slog.String("audience", req.AppliesTo))
		return nil, false
	}
	return tok, true
}

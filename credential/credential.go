// Package credential extracts candidate credentials from inbound HTTP
// requests. Extraction is pure parsing: a scheme either yields a candidate or
// reports absence. Malformed input (bad base64, missing separator, wrong
// scheme keyword) is treated as absence, never as an error, so precedence
// chains fall through cleanly.
package credential

import (
	"crypto/x509"
	"encoding/base64"
	"net/http"
	"strings"
)

// Kind tags the credential variants of a Candidate.
type Kind int

const (
	// KindNone means no credential was found by the scheme.
	KindNone Kind = iota
	// KindCertificate is a transport-layer client certificate.
	KindCertificate
	// KindBasic is an HTTP Basic / X-Authorization header credential.
	KindBasic
	// KindForm is a legacy WRAP form credential (wrap_name/wrap_password).
	KindForm
	// KindOAuth is an OAuth2 resource-owner credential from the request body.
	KindOAuth
)

func (k Kind) String() string {
	switch k {
	case KindCertificate:
		return "certificate"
	case KindBasic:
		return "basic"
	case KindForm:
		return "form"
	case KindOAuth:
		return "oauth"
	default:
		return "none"
	}
}

// Candidate is the tagged union over the credential variants. Username and
// Password are set for the password-bearing kinds; Certificate is set for
// KindCertificate. A Candidate is ephemeral: it lives for one authentication
// attempt and is never persisted.
type Candidate struct {
	Kind        Kind
	Username    string
	Password    string
	Certificate *x509.Certificate
}

// None is the absent candidate.
var None = Candidate{}

// Found reports whether the candidate carries a credential.
func (c Candidate) Found() bool { return c.Kind != KindNone }

// Scheme extracts a single kind of credential from a request, returning None
// when the credential is absent or malformed.
type Scheme func(r *http.Request) Candidate

// Chain is a precedence-ordered list of schemes. Each entry point of the
// authentication pipeline owns one chain; the order is the fallback order.
type Chain []Scheme

// Extract returns the first candidate any scheme in the chain yields, or None.
func (ch Chain) Extract(r *http.Request) Candidate {
	for _, s := range ch {
		if c := s(r); c.Found() {
			return c
		}
	}
	return None
}

// ClientCertificate yields the leading verified peer certificate from the TLS
// connection state. The transport layer has already established cryptographic
// validity by the time the handshake completes.
func ClientCertificate(r *http.Request) Candidate {
	if r.TLS == nil || len(r.TLS.PeerCertificates) == 0 {
		return None
	}
	return Candidate{Kind: KindCertificate, Certificate: r.TLS.PeerCertificates[0]}
}

// BasicHeader yields a credential from the Authorization or X-Authorization
// header. The scheme keyword must be exactly "Basic". The base64 payload is
// decoded as Latin-1 (one byte, one rune) and split on the first colon only,
// so passwords may contain colons.
func BasicHeader(r *http.Request) Candidate {
	header := r.Header.Get("Authorization")
	if header == "" {
		header = r.Header.Get("X-Authorization")
	}
	scheme, payload, ok := strings.Cut(header, " ")
	if !ok || scheme != "Basic" {
		return None
	}

	raw, err := base64.StdEncoding.DecodeString(strings.TrimSpace(payload))
	if err != nil {
		return None
	}

	username, password, ok := strings.Cut(latin1(raw), ":")
	if !ok {
		return None
	}
	return Candidate{Kind: KindBasic, Username: username, Password: password}
}

// WrapForm yields a credential from the legacy WRAP form fields wrap_name and
// wrap_password. Both must be present and non-blank.
func WrapForm(r *http.Request) Candidate {
	username := r.PostFormValue("wrap_name")
	password := r.PostFormValue("wrap_password")
	if strings.TrimSpace(username) == "" || strings.TrimSpace(password) == "" {
		return None
	}
	return Candidate{Kind: KindForm, Username: username, Password: password}
}

// OAuthBody yields the OAuth2 resource-owner credential fields from the
// request body. Blank fields still yield a candidate; rejecting them uniformly
// is the authenticator's job, matching the uniform-failure contract of the
// token endpoint.
func OAuthBody(r *http.Request) Candidate {
	return Candidate{
		Kind:     KindOAuth,
		Username: r.PostFormValue("username"),
		Password: r.PostFormValue("password"),
	}
}

// latin1 decodes bytes as ISO-8859-1: every byte maps to the code point of
// the same value. Intentionally not UTF-8.
func latin1(b []byte) string {
	rs := make([]rune, len(b))
	for i, c := range b {
		rs[i] = rune(c)
	}
	return string(rs)
}

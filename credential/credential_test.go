package credential

import (
	"crypto/tls"
	"crypto/x509"
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestBasicHeader(t *testing.T) {
	tests := []struct {
		name         string
		header       string
		headerName   string
		wantFound    bool
		wantUsername string
		wantPassword string
	}{
		{
			name:         "valid basic header",
			header:       "Basic dXNlcjpwYXNz", // user:pass
			headerName:   "Authorization",
			wantFound:    true,
			wantUsername: "user",
			wantPassword: "pass",
		},
		{
			name:         "x-authorization header",
			header:       "Basic dXNlcjpwYXNz",
			headerName:   "X-Authorization",
			wantFound:    true,
			wantUsername: "user",
			wantPassword: "pass",
		},
		{
			name:         "password containing colons splits on first only",
			header:       "Basic dXNlcjpwYTpzczp3b3Jk", // user:pa:ss:word
			headerName:   "Authorization",
			wantFound:    true,
			wantUsername: "user",
			wantPassword: "pa:ss:word",
		},
		{
			name:         "empty password",
			header:       "Basic dXNlcjo=", // user:
			headerName:   "Authorization",
			wantFound:    true,
			wantUsername: "user",
			wantPassword: "",
		},
		{
			name:       "missing header",
			header:     "",
			headerName: "Authorization",
			wantFound:  false,
		},
		{
			name:       "wrong scheme keyword",
			header:     "Bearer dXNlcjpwYXNz",
			headerName: "Authorization",
			wantFound:  false,
		},
		{
			name:       "lowercase scheme keyword",
			header:     "basic dXNlcjpwYXNz",
			headerName: "Authorization",
			wantFound:  false,
		},
		{
			name:       "invalid base64",
			header:     "Basic ???not-base64???",
			headerName: "Authorization",
			wantFound:  false,
		},
		{
			name:       "missing colon in payload",
			header:     "Basic dXNlcnBhc3M=", // userpass
			headerName: "Authorization",
			wantFound:  false,
		},
		{
			name:       "scheme without payload",
			header:     "Basic",
			headerName: "Authorization",
			wantFound:  false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.header != "" {
				r.Header.Set(tt.headerName, tt.header)
			}

			got := BasicHeader(r)
			if got.Found() != tt.wantFound {
				t.Fatalf("Found() = %v, want %v", got.Found(), tt.wantFound)
			}
			if !tt.wantFound {
				return
			}
			if got.Kind != KindBasic {
				t.Errorf("Kind = %v, want %v", got.Kind, KindBasic)
			}
			if got.Username != tt.wantUsername || got.Password != tt.wantPassword {
				t.Errorf("got %q/%q, want %q/%q", got.Username, got.Password, tt.wantUsername, tt.wantPassword)
			}
		})
	}
}

func TestBasicHeaderLatin1Decoding(t *testing.T) {
	// "münchen:geheim" with ü encoded as the single Latin-1 byte 0xFC.
	// A UTF-8 decode would mangle this payload.
	payload := []byte{'m', 0xFC, 'n', 'c', 'h', 'e', 'n', ':', 'g', 'e', 'h', 'e', 'i', 'm'}
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set("Authorization", "Basic "+base64.StdEncoding.EncodeToString(payload))

	got := BasicHeader(r)
	if !got.Found() {
		t.Fatal("expected credential")
	}
	if got.Username != "münchen" {
		t.Errorf("Username = %q, want %q", got.Username, "münchen")
	}
	if got.Password != "geheim" {
		t.Errorf("Password = %q, want %q", got.Password, "geheim")
	}
}

func TestWrapForm(t *testing.T) {
	tests := []struct {
		name      string
		form      string
		wantFound bool
	}{
		{name: "both fields present", form: "wrap_name=alice&wrap_password=s3cret", wantFound: true},
		{name: "missing password", form: "wrap_name=alice", wantFound: false},
		{name: "missing name", form: "wrap_password=s3cret", wantFound: false},
		{name: "blank name", form: "wrap_name=%20%20&wrap_password=s3cret", wantFound: false},
		{name: "blank password", form: "wrap_name=alice&wrap_password=%20", wantFound: false},
		{name: "empty form", form: "", wantFound: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(tt.form))
			r.Header.Set("Content-Type", "application/x-www-form-urlencoded")

			got := WrapForm(r)
			if got.Found() != tt.wantFound {
				t.Fatalf("Found() = %v, want %v", got.Found(), tt.wantFound)
			}
			if tt.wantFound && got.Kind != KindForm {
				t.Errorf("Kind = %v, want %v", got.Kind, KindForm)
			}
		})
	}
}

func TestOAuthBody(t *testing.T) {
	r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader("grant_type=password&username=bob&password=hunter2"))
	r.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	got := OAuthBody(r)
	if got.Kind != KindOAuth {
		t.Fatalf("Kind = %v, want %v", got.Kind, KindOAuth)
	}
	if got.Username != "bob" || got.Password != "hunter2" {
		t.Errorf("got %q/%q, want bob/hunter2", got.Username, got.Password)
	}
}

func TestClientCertificate(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	if got := ClientCertificate(r); got.Found() {
		t.Fatalf("expected no credential without TLS state, got %v", got.Kind)
	}

	cert := &x509.Certificate{Raw: []byte("test-cert")}
	r.TLS = &tls.ConnectionState{PeerCertificates: []*x509.Certificate{cert}}

	got := ClientCertificate(r)
	if got.Kind != KindCertificate {
		t.Fatalf("Kind = %v, want %v", got.Kind, KindCertificate)
	}
	if got.Certificate != cert {
		t.Error("expected the leading peer certificate")
	}
}

func TestChainPrecedence(t *testing.T) {
	cert := &x509.Certificate{Raw: []byte("test-cert")}

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set("Authorization", "Basic dXNlcjpwYXNz")
	r.TLS = &tls.ConnectionState{PeerCertificates: []*x509.Certificate{cert}}

	chain := Chain{ClientCertificate, BasicHeader}
	if got := chain.Extract(r); got.Kind != KindCertificate {
		t.Errorf("Kind = %v, want certificate to win precedence", got.Kind)
	}

	// Without a certificate the chain falls through to the header.
	r.TLS = nil
	if got := chain.Extract(r); got.Kind != KindBasic {
		t.Errorf("Kind = %v, want basic after fallthrough", got.Kind)
	}

	r.Header.Del("Authorization")
	if got := chain.Extract(r); got.Found() {
		t.Errorf("expected None from an empty request, got %v", got.Kind)
	}
}

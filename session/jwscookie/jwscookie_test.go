package jwscookie

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/idsrv/idsrv/principal"
	"github.com/idsrv/idsrv/session"
	"github.com/idsrv/idsrv/storage/memory"
)

func testArtifact(persistent bool) session.Artifact {
	now := time.Now().UTC().Truncate(time.Second)
	return session.Artifact{
		ID: "sess-1",
		Principal: principal.Principal{Name: "alice", Claims: []principal.Claim{
			{Type: principal.ClaimName, Value: "alice"},
			{Type: principal.ClaimAuthMethod, Value: principal.MethodPassword},
			{Type: principal.ClaimRole, Value: "admin"},
		}},
		IssuedAt:   now,
		ExpiresAt:  now.Add(8 * time.Hour),
		Persistent: persistent,
	}
}

func newTestStore(t *testing.T, opts ...Option) *Store {
	t.Helper()
	signer, err := GenerateSigner()
	if err != nil {
		t.Fatal(err)
	}
	backend := memory.New()
	t.Cleanup(func() { backend.Close() })
	return New(signer, backend, opts...)
}

func writtenCookie(t *testing.T, rec *httptest.ResponseRecorder, name string) *http.Cookie {
	t.Helper()
	for _, c := range rec.Result().Cookies() {
		if c.Name == name {
			return c
		}
	}
	t.Fatalf("cookie %q not set", name)
	return nil
}

func TestWriteReadRoundTrip(t *testing.T) {
	store := newTestStore(t)
	art := testArtifact(false)

	rec := httptest.NewRecorder()
	if err := store.WriteSession(context.Background(), rec, art); err != nil {
		t.Fatal(err)
	}
	cookie := writtenCookie(t, rec, DefaultCookieName)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(cookie)

	got, err := store.Read(context.Background(), req)
	if err != nil {
		t.Fatal(err)
	}
	if got.ID != art.ID {
		t.Errorf("ID = %q, want %q", got.ID, art.ID)
	}
	if got.Principal.Name != "alice" {
		t.Errorf("principal name = %q", got.Principal.Name)
	}
	if roles := got.Principal.All(principal.ClaimRole); len(roles) != 1 || roles[0] != "admin" {
		t.Errorf("roles = %v", roles)
	}
	if !got.ExpiresAt.Equal(art.ExpiresAt) {
		t.Errorf("ExpiresAt = %v, want %v", got.ExpiresAt, art.ExpiresAt)
	}
}

func TestCookieAttributes(t *testing.T) {
	t.Run("non-persistent session cookie", func(t *testing.T) {
		store := newTestStore(t)
		rec := httptest.NewRecorder()
		if err := store.WriteSession(context.Background(), rec, testArtifact(false)); err != nil {
			t.Fatal(err)
		}
		c := writtenCookie(t, rec, DefaultCookieName)
		if !c.HttpOnly || !c.Secure {
			t.Errorf("HttpOnly=%v Secure=%v, want both true", c.HttpOnly, c.Secure)
		}
		if !c.Expires.IsZero() {
			t.Error("non-persistent cookie must not carry Expires")
		}
	})

	t.Run("persistent cookie carries expiry", func(t *testing.T) {
		store := newTestStore(t)
		rec := httptest.NewRecorder()
		art := testArtifact(true)
		if err := store.WriteSession(context.Background(), rec, art); err != nil {
			t.Fatal(err)
		}
		c := writtenCookie(t, rec, DefaultCookieName)
		if c.Expires.IsZero() {
			t.Error("persistent cookie needs an Expires attribute")
		}
	})

	t.Run("options", func(t *testing.T) {
		store := newTestStore(t, WithCookieName("sso"), WithInsecureTransport())
		rec := httptest.NewRecorder()
		if err := store.WriteSession(context.Background(), rec, testArtifact(false)); err != nil {
			t.Fatal(err)
		}
		c := writtenCookie(t, rec, "sso")
		if c.Secure {
			t.Error("insecure transport option must drop the Secure attribute")
		}
	})
}

func TestReadFailuresAreUniform(t *testing.T) {
	store := newTestStore(t)
	art := testArtifact(false)

	rec := httptest.NewRecorder()
	if err := store.WriteSession(context.Background(), rec, art); err != nil {
		t.Fatal(err)
	}
	valid := writtenCookie(t, rec, DefaultCookieName)

	t.Run("no cookie", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		if _, err := store.Read(context.Background(), req); !errors.Is(err, ErrNoSession) {
			t.Errorf("err = %v, want ErrNoSession", err)
		}
	})

	t.Run("tampered signature", func(t *testing.T) {
		parts := strings.Split(valid.Value, ".")
		if len(parts) != 3 {
			t.Fatalf("unexpected compact form %q", valid.Value)
		}
		flip := "A"
		if strings.HasPrefix(parts[2], "A") {
			flip = "B"
		}
		tampered := *valid
		tampered.Value = parts[0] + "." + parts[1] + "." + flip + parts[2][1:]
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.AddCookie(&tampered)
		if _, err := store.Read(context.Background(), req); !errors.Is(err, ErrNoSession) {
			t.Errorf("err = %v, want ErrNoSession", err)
		}
	})

	t.Run("foreign signer", func(t *testing.T) {
		other := newTestStore(t)
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.AddCookie(valid)
		if _, err := other.Read(context.Background(), req); !errors.Is(err, ErrNoSession) {
			t.Errorf("err = %v, want ErrNoSession", err)
		}
	})

	t.Run("revoked server side", func(t *testing.T) {
		if err := store.Revoke(context.Background(), "alice", art.ID); err != nil {
			t.Fatal(err)
		}
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.AddCookie(valid)
		if _, err := store.Read(context.Background(), req); !errors.Is(err, ErrNoSession) {
			t.Errorf("err = %v, want ErrNoSession", err)
		}
	})
}

func TestSignerRotation(t *testing.T) {
	signer, err := GenerateSigner()
	if err != nil {
		t.Fatal(err)
	}
	oldKid := signer.ActiveKID()

	payload := []byte(`{"sid":"s"}`)
	compact, err := signer.Sign(payload)
	if err != nil {
		t.Fatal(err)
	}

	// Rotate to a fresh key; the retired key stays registered.
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	signer.AddEd25519Key("rotated", priv)
	if err := signer.SetActive("rotated"); err != nil {
		t.Fatal(err)
	}

	got, kid, err := signer.Verify(compact)
	if err != nil {
		t.Fatal(err)
	}
	if kid != oldKid {
		t.Errorf("kid = %q, want %q", kid, oldKid)
	}
	if string(got) != string(payload) {
		t.Errorf("payload = %q", got)
	}
}

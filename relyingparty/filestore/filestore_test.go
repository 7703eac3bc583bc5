package filestore

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

const configOne = `[
  {"realm": "urn:rp-one", "name": "RP One", "enabled": true,
   "token_type": "urn:ietf:params:oauth:token-type:jwt",
   "sso_cookie_lifetime_hours": 8}
]`

const configTwo = `[
  {"realm": "urn:rp-one", "name": "RP One", "enabled": false,
   "token_type": "urn:ietf:params:oauth:token-type:jwt",
   "sso_cookie_lifetime_hours": 8},
  {"realm": "urn:rp-two", "name": "RP Two", "enabled": true,
   "token_type": "urn:oasis:names:tc:SAML:2.0:assertion",
   "sso_cookie_lifetime_hours": 2}
]`

func writeConfig(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
}

func newTestStore(t *testing.T, content string) (*Store, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "relying_parties.json")
	writeConfig(t, path, content)
	s, err := New(path)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.Close() })
	return s, path
}

// waitFor polls until check passes or the deadline expires.
func waitFor(t *testing.T, check func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if check() {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatal("condition not reached before deadline")
}

func TestLoadAtStartup(t *testing.T) {
	s, _ := newTestStore(t, configOne)

	rec, ok, err := s.Get(context.Background(), "urn:rp-one")
	if err != nil || !ok {
		t.Fatalf("Get = %v, %v, %v", rec, ok, err)
	}
	if rec.Name != "RP One" || !rec.Enabled {
		t.Errorf("unexpected record %+v", rec)
	}

	if _, ok, _ := s.Get(context.Background(), "urn:rp-two"); ok {
		t.Error("unexpected second record")
	}
}

func TestStartupFailures(t *testing.T) {
	dir := t.TempDir()

	if _, err := New(filepath.Join(dir, "missing.json")); err == nil {
		t.Error("expected error for a missing file")
	}

	bad := filepath.Join(dir, "bad.json")
	writeConfig(t, bad, "{not json")
	if _, err := New(bad); err == nil {
		t.Error("expected error for unparseable content")
	}
}

func TestReloadOnChange(t *testing.T) {
	s, path := newTestStore(t, configOne)

	writeConfig(t, path, configTwo)

	waitFor(t, func() bool {
		_, ok, _ := s.Get(context.Background(), "urn:rp-two")
		return ok
	})

	rec, ok, _ := s.Get(context.Background(), "urn:rp-one")
	if !ok || rec.Enabled {
		t.Errorf("first record not updated: %+v ok=%v", rec, ok)
	}
}

func TestBadReloadKeepsSnapshot(t *testing.T) {
	s, path := newTestStore(t, configOne)

	writeConfig(t, path, "{broken")

	// The watcher has no ack, so give the reload attempt a moment.
	time.Sleep(300 * time.Millisecond)

	rec, ok, err := s.Get(context.Background(), "urn:rp-one")
	if err != nil || !ok {
		t.Fatalf("snapshot lost after bad reload: %v, %v, %v", rec, ok, err)
	}
	if rec.Name != "RP One" {
		t.Errorf("record = %+v", rec)
	}
}

// Package memory provides an in-memory userstore.Store for development and
// tests. Accounts are registered up front; the store is safe for concurrent
// reads after setup.
package memory

import (
	"context"
	"crypto/sha1"
	"crypto/subtle"
	"crypto/x509"
	"encoding/hex"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/idsrv/idsrv/principal"
	"github.com/idsrv/idsrv/userstore"
)

// Account is a stored user record. Attributes are passed through verbatim as
// claims; Email and MobilePhone become claims only when non-blank.
type Account struct {
	Username    string
	Password    string
	Email       string
	MobilePhone string
	Roles       []string
	// Attributes are free-form stored claims, passed through in order.
	Attributes []principal.Claim
	// Thumbprints are hex-encoded SHA-1 certificate thumbprints registered
	// for certificate sign-in.
	Thumbprints []string

	id string
}

// Store implements userstore.Store backed by a map.
type Store struct {
	mu       sync.RWMutex
	accounts map[string]*Account
}

var _ userstore.Store = (*Store)(nil)
var _ userstore.RoleReader = (*Store)(nil)

// New returns an empty Store.
func New() *Store {
	return &Store{accounts: make(map[string]*Account)}
}

// Add registers an account. Each account receives a stable generated
// name-identifier. Usernames are case-insensitive.
func (s *Store) Add(a Account) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a.id = uuid.NewString()
	s.accounts[strings.ToLower(a.Username)] = &a
}

func (s *Store) get(username string) (*Account, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.accounts[strings.ToLower(username)]
	return a, ok
}

// ValidatePassword checks the pair in constant time over the stored password.
// Unknown users and wrong passwords are indistinguishable to the caller.
func (s *Store) ValidatePassword(_ context.Context, username, password string) (bool, error) {
	a, ok := s.get(username)
	if !ok {
		// Burn a comparison anyway so the two failure paths cost the same.
		subtle.ConstantTimeCompare([]byte(password), []byte(password))
		return false, nil
	}
	return subtle.ConstantTimeCompare([]byte(a.Password), []byte(password)) == 1, nil
}

// ValidateCertificate resolves the certificate's SHA-1 thumbprint against the
// registered thumbprints and returns the owning canonical username.
func (s *Store) ValidateCertificate(_ context.Context, cert *x509.Certificate) (string, bool, error) {
	if cert == nil {
		return "", false, nil
	}
	sum := sha1.Sum(cert.Raw)
	thumb := hex.EncodeToString(sum[:])

	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, a := range s.accounts {
		for _, t := range a.Thumbprints {
			if strings.EqualFold(t, thumb) {
				return a.Username, true, nil
			}
		}
	}
	return "", false, nil
}

// FetchClaims builds the stored claim set for username: name and
// name-identifier always, email and mobile-phone only when non-blank, then
// every stored attribute claim verbatim.
func (s *Store) FetchClaims(_ context.Context, username string) ([]principal.Claim, error) {
	a, ok := s.get(username)
	if !ok {
		return nil, userstore.ErrInvalidUsername
	}

	claims := []principal.Claim{
		{Type: principal.ClaimName, Value: a.Username},
		{Type: principal.ClaimNameIdentifier, Value: a.id},
	}
	if strings.TrimSpace(a.Email) != "" {
		claims = append(claims, principal.Claim{Type: principal.ClaimEmail, Value: a.Email})
	}
	if strings.TrimSpace(a.MobilePhone) != "" {
		claims = append(claims, principal.Claim{Type: principal.ClaimMobilePhone, Value: a.MobilePhone})
	}
	claims = append(claims, a.Attributes...)
	return claims, nil
}

// Roles returns the account's role list, or nil for unknown users.
func (s *Store) Roles(_ context.Context, username string) ([]string, error) {
	a, ok := s.get(username)
	if !ok {
		return nil, nil
	}
	return append([]string(nil), a.Roles...), nil
}

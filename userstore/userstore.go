// Package userstore declares the capabilities the authentication core needs
// from an external user/claims/certificate repository. Backing stores are
// consumed only through this interface so any implementation can be
// substituted.
package userstore

import (
	"context"
	"crypto/x509"
	"errors"

	"github.com/idsrv/idsrv/principal"
)

// ErrInvalidUsername indicates a claims lookup for a principal whose backing
// account record does not exist. This is a consistency violation between the
// authenticator and the store, not an authentication failure.
var ErrInvalidUsername = errors.New("userstore: invalid username")

// Store is the capability surface the core consumes.
//
// ValidatePassword and ValidateCertificate never distinguish unknown-user
// from wrong-secret: both report ok=false. Password comparison policy and
// certificate validity checks (expiry, trust chain) belong to the
// implementation, not the caller.
type Store interface {
	// ValidatePassword checks a username/password pair.
	ValidatePassword(ctx context.Context, username, password string) (bool, error)

	// ValidateCertificate maps a client certificate to the canonical username
	// it is registered for, typically by thumbprint.
	ValidateCertificate(ctx context.Context, cert *x509.Certificate) (username string, ok bool, err error)

	// FetchClaims returns the stored claim set for a known principal name.
	// Returns ErrInvalidUsername if no account record backs the name.
	FetchClaims(ctx context.Context, username string) ([]principal.Claim, error)
}

// RoleReader is an optional capability for stores that can enumerate a user's
// roles directly, used by claims-transformation policies for role enrichment.
type RoleReader interface {
	Roles(ctx context.Context, username string) ([]string, error)
}

// SupportedClaimTypes is the closed, statically declared set of claim types
// this system advertises. It is deliberately not derived from the store's
// actual claim vocabulary, which is open-ended.
func SupportedClaimTypes() []string {
	return []string{
		principal.ClaimName,
		principal.ClaimEmail,
		principal.ClaimMobilePhone,
		principal.ClaimRole,
	}
}

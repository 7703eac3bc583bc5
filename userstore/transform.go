package userstore

import (
	"context"
	"fmt"

	"github.com/idsrv/idsrv/principal"
)

// ClaimsTransformer returns the standard transformation policy over a store:
// the principal's stored claims replace the base claim set (name, method, and
// instant claims are preserved), and when the store can enumerate roles, a
// role claim is appended per role not already present.
func ClaimsTransformer(store Store) principal.Transformer {
	roles, _ := store.(RoleReader)

	return principal.TransformerFunc(func(ctx context.Context, _ string, p principal.Principal) (principal.Principal, error) {
		stored, err := store.FetchClaims(ctx, p.Name)
		if err != nil {
			return principal.Principal{}, fmt.Errorf("fetch claims for %q: %w", p.Name, err)
		}

		out := principal.Principal{Name: p.Name}
		if method, ok := p.First(principal.ClaimAuthMethod); ok {
			out.Add(principal.Claim{Type: principal.ClaimAuthMethod, Value: method})
		}
		if instant, ok := p.First(principal.ClaimAuthInstant); ok {
			out.Add(principal.Claim{Type: principal.ClaimAuthInstant, Value: instant})
		}
		out.Add(stored...)

		if roles != nil {
			have := make(map[string]bool)
			for _, r := range out.All(principal.ClaimRole) {
				have[r] = true
			}
			names, err := roles.Roles(ctx, p.Name)
			if err != nil {
				return principal.Principal{}, fmt.Errorf("fetch roles for %q: %w", p.Name, err)
			}
			for _, r := range names {
				if !have[r] {
					out.Add(principal.Claim{Type: principal.ClaimRole, Value: r})
				}
			}
		}
		return out, nil
	})
}

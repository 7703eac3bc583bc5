package memory

import (
	"context"
	"errors"
	"testing"

	"github.com/idsrv/idsrv/principal"
	"github.com/idsrv/idsrv/userstore"
)

func TestValidatePassword(t *testing.T) {
	s := New()
	s.Add(Account{Username: "alice", Password: "s3cret"})

	ctx := context.Background()
	tests := []struct {
		name     string
		username string
		password string
		want     bool
	}{
		{name: "valid", username: "alice", password: "s3cret", want: true},
		{name: "case-insensitive username", username: "ALICE", password: "s3cret", want: true},
		{name: "wrong password", username: "alice", password: "wrong", want: false},
		{name: "unknown user", username: "bob", password: "s3cret", want: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ok, err := s.ValidatePassword(ctx, tt.username, tt.password)
			if err != nil {
				t.Fatal(err)
			}
			if ok != tt.want {
				t.Errorf("ok = %v, want %v", ok, tt.want)
			}
		})
	}
}

func TestFetchClaims(t *testing.T) {
	s := New()
	s.Add(Account{
		Username:    "alice",
		Email:       "alice@example.com",
		MobilePhone: "+15550100",
		Attributes: []principal.Claim{
			{Type: principal.ClaimRole, Value: "admin"},
			{Type: "shoe-size", Value: "42"},
		},
	})

	claims, err := s.FetchClaims(context.Background(), "alice")
	if err != nil {
		t.Fatal(err)
	}

	byType := map[string][]string{}
	for _, c := range claims {
		byType[c.Type] = append(byType[c.Type], c.Value)
	}

	if got := byType[principal.ClaimName]; len(got) != 1 || got[0] != "alice" {
		t.Errorf("name claims = %v", got)
	}
	if got := byType[principal.ClaimNameIdentifier]; len(got) != 1 || got[0] == "" {
		t.Errorf("name-identifier claims = %v", got)
	}
	if got := byType[principal.ClaimEmail]; len(got) != 1 || got[0] != "alice@example.com" {
		t.Errorf("email claims = %v", got)
	}
	if got := byType[principal.ClaimMobilePhone]; len(got) != 1 {
		t.Errorf("mobile-phone claims = %v", got)
	}
	// Stored attributes pass through verbatim, including types outside the
	// supported set.
	if got := byType["shoe-size"]; len(got) != 1 || got[0] != "42" {
		t.Errorf("passthrough claims = %v", got)
	}
}

func TestFetchClaimsOmitsBlankContactFields(t *testing.T) {
	s := New()
	s.Add(Account{Username: "bob", Email: "  ", MobilePhone: ""})

	claims, err := s.FetchClaims(context.Background(), "bob")
	if err != nil {
		t.Fatal(err)
	}

	var hasName, hasID bool
	for _, c := range claims {
		switch c.Type {
		case principal.ClaimEmail, principal.ClaimMobilePhone:
			t.Errorf("unexpected %s claim for blank field", c.Type)
		case principal.ClaimName:
			hasName = true
		case principal.ClaimNameIdentifier:
			hasID = true
		}
	}
	if !hasName || !hasID {
		t.Error("name and name-identifier claims must always be present")
	}
}

func TestFetchClaimsUnknownUser(t *testing.T) {
	s := New()
	if _, err := s.FetchClaims(context.Background(), "ghost"); !errors.Is(err, userstore.ErrInvalidUsername) {
		t.Errorf("err = %v, want ErrInvalidUsername", err)
	}
}

func TestRoles(t *testing.T) {
	s := New()
	s.Add(Account{Username: "alice", Roles: []string{"admin", "operator"}})

	roles, err := s.Roles(context.Background(), "alice")
	if err != nil {
		t.Fatal(err)
	}
	if len(roles) != 2 {
		t.Errorf("roles = %v", roles)
	}

	roles, err = s.Roles(context.Background(), "ghost")
	if err != nil || roles != nil {
		t.Errorf("unknown user roles = %v, %v; want nil, nil", roles, err)
	}
}

func TestSupportedClaimTypesIsClosed(t *testing.T) {
	want := map[string]bool{
		principal.ClaimName:        true,
		principal.ClaimEmail:       true,
		principal.ClaimMobilePhone: true,
		principal.ClaimRole:        true,
	}
	got := userstore.SupportedClaimTypes()
	if len(got) != len(want) {
		t.Fatalf("SupportedClaimTypes() = %v", got)
	}
	for _, ct := range got {
		if !want[ct] {
			t.Errorf("unexpected claim type %q", ct)
		}
	}
}

package principal

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestBuildInvariants(t *testing.T) {
	fixed := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	b := NewBuilder(WithClock(func() time.Time { return fixed }))

	p, err := b.Build(context.Background(), "alice", MethodPassword)
	if err != nil {
		t.Fatal(err)
	}

	if p.Name != "alice" {
		t.Errorf("Name = %q, want alice", p.Name)
	}
	if names := p.All(ClaimName); len(names) != 1 || names[0] != "alice" {
		t.Errorf("name claims = %v, want exactly one", names)
	}
	if methods := p.All(ClaimAuthMethod); len(methods) != 1 || methods[0] != MethodPassword {
		t.Errorf("method claims = %v, want exactly one", methods)
	}
	if instant, _ := p.First(ClaimAuthInstant); instant != fixed.Format(time.RFC3339) {
		t.Errorf("instant = %q, want %q", instant, fixed.Format(time.RFC3339))
	}
}

func TestBuildTransformerReplacesOutput(t *testing.T) {
	// The transformation's output fully replaces the input principal.
	b := NewBuilder(WithTransformer(TransformerFunc(func(_ context.Context, resource string, p Principal) (Principal, error) {
		return Principal{
			Name: "normalized\\" + p.Name,
			Claims: []Claim{
				{Type: ClaimName, Value: "normalized\\" + p.Name},
				{Type: ClaimAuthMethod, Value: MethodPassword},
				{Type: ClaimRole, Value: "user"},
			},
		}, nil
	})))

	p, err := b.Build(context.Background(), "alice", MethodPassword)
	if err != nil {
		t.Fatal(err)
	}
	if p.Name != "normalized\\alice" {
		t.Errorf("Name = %q, transformation output should replace input", p.Name)
	}
	if _, ok := p.First(ClaimAuthInstant); ok {
		t.Error("instant claim dropped by transformer should stay dropped")
	}
}

func TestBuildForResourceAppendsAdditionalClaimsAfterTransform(t *testing.T) {
	// A transformer that strips everything still cannot remove
	// caller-supplied additional claims.
	strip := TransformerFunc(func(_ context.Context, _ string, p Principal) (Principal, error) {
		return Principal{Name: p.Name, Claims: []Claim{{Type: ClaimName, Value: p.Name}}}, nil
	})
	b := NewBuilder(WithTransformer(strip))

	extra := []Claim{{Type: "department", Value: "engineering"}}
	p, err := b.BuildForResource(context.Background(), "urn:app", "alice", MethodPassword, extra)
	if err != nil {
		t.Fatal(err)
	}
	if v, ok := p.First("department"); !ok || v != "engineering" {
		t.Errorf("department claim = %q, %v; want engineering", v, ok)
	}
}

func TestBuildForResourcePassesResource(t *testing.T) {
	var gotResource string
	b := NewBuilder(WithTransformer(TransformerFunc(func(_ context.Context, resource string, p Principal) (Principal, error) {
		gotResource = resource
		return p, nil
	})))

	if _, err := b.BuildForResource(context.Background(), "urn:app", "alice", MethodPassword, nil); err != nil {
		t.Fatal(err)
	}
	if gotResource != "urn:app" {
		t.Errorf("resource = %q, want urn:app", gotResource)
	}
}

func TestBuildTransformerError(t *testing.T) {
	wantErr := errors.New("policy rejected")
	b := NewBuilder(WithTransformer(TransformerFunc(func(_ context.Context, _ string, _ Principal) (Principal, error) {
		return Principal{}, wantErr
	})))

	if _, err := b.Build(context.Background(), "alice", MethodPassword); !errors.Is(err, wantErr) {
		t.Errorf("err = %v, want %v", err, wantErr)
	}
}

func TestFirstAndAll(t *testing.T) {
	p := Principal{Name: "alice", Claims: []Claim{
		{Type: ClaimRole, Value: "admin"},
		{Type: ClaimRole, Value: "operator"},
	}}

	if v, ok := p.First(ClaimRole); !ok || v != "admin" {
		t.Errorf("First = %q, %v; want admin", v, ok)
	}
	if _, ok := p.First(ClaimEmail); ok {
		t.Error("expected no email claim")
	}
	if roles := p.All(ClaimRole); len(roles) != 2 {
		t.Errorf("All = %v, want two roles", roles)
	}
}

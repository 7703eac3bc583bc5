package jwscookie

import (
	"crypto/ed25519"
	"crypto/rand"
	"fmt"

	jose "github.com/go-jose/go-jose/v4"
	"github.com/google/uuid"
)

// Signer holds an in-memory set of Ed25519 keys with a designated active key
// for signing session cookies. Retired keys stay registered for verification
// so rotation does not invalidate live sessions.
type Signer struct {
	activeKid string
	privKeys  map[string]ed25519.PrivateKey
	pubKeys   map[string]ed25519.PublicKey
}

// NewSigner returns an empty Signer; register keys with AddEd25519Key.
func NewSigner() *Signer {
	return &Signer{
		privKeys: make(map[string]ed25519.PrivateKey),
		pubKeys:  make(map[string]ed25519.PublicKey),
	}
}

// GenerateSigner returns a Signer with one freshly generated active key.
func GenerateSigner() (*Signer, error) {
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate session key: %w", err)
	}
	s := NewSigner()
	kid := uuid.NewString()
	s.AddEd25519Key(kid, priv)
	if err := s.SetActive(kid); err != nil {
		return nil, err
	}
	return s, nil
}

// AddEd25519Key registers a key pair under kid. The active key is unchanged.
func (s *Signer) AddEd25519Key(kid string, priv ed25519.PrivateKey) {
	s.privKeys[kid] = priv
	s.pubKeys[kid] = priv.Public().(ed25519.PublicKey)
}

// SetActive selects the key used for signing.
func (s *Signer) SetActive(kid string) error {
	if _, ok := s.privKeys[kid]; !ok {
		return fmt.Errorf("unknown kid: %s", kid)
	}
	s.activeKid = kid
	return nil
}

// ActiveKID returns the signing key ID.
func (s *Signer) ActiveKID() string { return s.activeKid }

// Sign returns a compact JWS over payload using the active key.
func (s *Signer) Sign(payload []byte) (string, error) {
	if s.activeKid == "" {
		return "", fmt.Errorf("no active kid configured")
	}
	priv, ok := s.privKeys[s.activeKid]
	if !ok {
		return "", fmt.Errorf("active kid not found: %s", s.activeKid)
	}
	opts := (&jose.SignerOptions{}).WithType("JWT").WithHeader("kid", s.activeKid)
	signer, err := jose.NewSigner(jose.SigningKey{Algorithm: jose.EdDSA, Key: priv}, opts)
	if err != nil {
		return "", fmt.Errorf("failed to create signer: %w", err)
	}
	jws, err := signer.Sign(payload)
	if err != nil {
		return "", fmt.Errorf("failed to sign payload: %w", err)
	}
	compact, err := jws.CompactSerialize()
	if err != nil {
		return "", fmt.Errorf("failed to serialize jws: %w", err)
	}
	return compact, nil
}

// Verify parses and verifies a compact JWS and returns its payload and the
// kid that signed it.
func (s *Signer) Verify(token string) ([]byte, string, error) {
	jws, err := jose.ParseSigned(token, []jose.SignatureAlgorithm{jose.EdDSA})
	if err != nil {
		return nil, "", fmt.Errorf("failed to parse jws: %w", err)
	}
	if len(jws.Signatures) != 1 {
		return nil, "", fmt.Errorf("unexpected signatures: %d", len(jws.Signatures))
	}
	kid := jws.Signatures[0].Protected.KeyID
	pub, ok := s.pubKeys[kid]
	if !ok {
		return nil, kid, fmt.Errorf("unknown kid: %s", kid)
	}
	payload, err := jws.Verify(pub)
	if err != nil {
		return nil, kid, fmt.Errorf("signature verification failed: %w", err)
	}
	return payload, kid, nil
}

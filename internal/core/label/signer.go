package label

import (
	"crypto/ecdsa"
	"fmt"

	"github.com/AgentMesh-Net/labeler-go/internal/core/crypto"
)

// Signer signs labels on behalf of a single issuer. It is safe for
// concurrent use.
type Signer struct {
	issuer string
	key    *ecdsa.PrivateKey
}

// NewSigner parses keyHex and returns a Signer for issuer.
func NewSigner(issuer, keyHex string) (*Signer, error) {
	if issuer == "" {
		return nil, fmt.Errorf("%w: issuer is required", ErrSigning)
	}
	key, err := crypto.ParsePrivateKeyHex(keyHex)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSigning, err)
	}
	return &Signer{issuer: issuer, key: key}, nil
}

// NewSignerFromKey wraps an already parsed key.
func NewSignerFromKey(issuer string, key *ecdsa.PrivateKey) *Signer {
	return &Signer{issuer: issuer, key: key}
}

// Issuer returns the issuer identifier stamped into src.
func (s *Signer) Issuer() string { return s.issuer }

// PublicKey returns the compressed secp256k1 public key.
func (s *Signer) PublicKey() []byte {
	if s == nil || s.key == nil {
		return nil
	}
	return crypto.CompressPubKey(&s.key.PublicKey)
}

// Sign returns a copy of l with Sig set to a signature over its preimage.
// The input is never modified, and on error no partially signed label is
// returned.
func (s *Signer) Sign(l Label) (Label, error) {
	if s == nil || s.key == nil {
		return Label{}, fmt.Errorf("%w: no key material", ErrSigning)
	}
	l.Sig = nil
	preimage, err := l.SignedPreimageBytes()
	if err != nil {
		return Label{}, fmt.Errorf("%w: preimage: %v", ErrSigning, err)
	}
	sig, err := crypto.SignSHA256(s.key, preimage)
	if err != nil {
		return Label{}, fmt.Errorf("%w: %v", ErrSigning, err)
	}
	l.Sig = sig
	return l, nil
}

// Verify checks l.Sig against pubkey.
func Verify(l Label, pubkey []byte) error {
	if len(l.Sig) == 0 {
		return fmt.Errorf("verify: label is unsigned")
	}
	preimage, err := l.SignedPreimageBytes()
	if err != nil {
		return fmt.Errorf("verify: preimage: %w", err)
	}
	if !crypto.VerifySHA256(pubkey, preimage, l.Sig) {
		return fmt.Errorf("verify: secp256k1 signature verification failed")
	}
	return nil
}

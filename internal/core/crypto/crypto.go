// Package crypto provides secp256k1 key handling and the SHA-256 based
// compact signatures used to sign labels.
package crypto

import (
	"crypto/ecdsa"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// SignatureSize is the length of a compact r||s signature.
const SignatureSize = 64

// ParsePrivateKeyHex decodes a hex encoded 32-byte secp256k1 private key.
// A leading 0x is accepted.
func ParsePrivateKeyHex(s string) (*ecdsa.PrivateKey, error) {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	raw, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("private key: invalid hex: %w", err)
	}
	key, err := ethcrypto.ToECDSA(raw)
	if err != nil {
		return nil, fmt.Errorf("private key: %w", err)
	}
	return key, nil
}

// PrivateKeyHex is the inverse of ParsePrivateKeyHex.
func PrivateKeyHex(key *ecdsa.PrivateKey) string {
	return hex.EncodeToString(ethcrypto.FromECDSA(key))
}

// CompressPubKey returns the 33-byte compressed form of pub.
func CompressPubKey(pub *ecdsa.PublicKey) []byte {
	return ethcrypto.CompressPubkey(pub)
}

// SignSHA256 hashes message with SHA-256 and signs the digest. The
// recovery byte is dropped so the result is a 64-byte low-S r||s signature.
func SignSHA256(key *ecdsa.PrivateKey, message []byte) ([]byte, error) {
	if key == nil {
		return nil, fmt.Errorf("sign: nil private key")
	}
	digest := sha256.Sum256(message)
	sig, err := ethcrypto.Sign(digest[:], key)
	if err != nil {
		return nil, fmt.Errorf("sign: %w", err)
	}
	return sig[:SignatureSize], nil
}

// VerifySHA256 verifies a compact signature over SHA-256(message). pubkey
// may be compressed (33 bytes) or uncompressed (65 bytes). High-S
// signatures are rejected.
func VerifySHA256(pubkey, message, sig []byte) bool {
	if len(sig) != SignatureSize {
		return false
	}
	digest := sha256.Sum256(message)
	return ethcrypto.VerifySignature(pubkey, digest[:], sig)
}

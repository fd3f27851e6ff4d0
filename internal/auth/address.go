package auth

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"github.com/congo-pay/rent_wallet/internal/ledger"
)

// ErrInvalidAddress is returned for identifiers that are not an encoded
// ed25519 public key.
var ErrInvalidAddress = errors.New("invalid address")

var b64 = base64.RawURLEncoding

// AddressFromPublicKey encodes key as an account identifier.
func AddressFromPublicKey(key ed25519.PublicKey) ledger.Address {
	return ledger.Address(b64.EncodeToString(key))
}

// ParseAddress validates raw and returns it as an Address.
func ParseAddress(raw string) (ledger.Address, error) {
	raw = strings.TrimSpace(raw)
	if _, err := PublicKey(ledger.Address(raw)); err != nil {
		return "", err
	}
	return ledger.Address(raw), nil
}

// PublicKey decodes the ed25519 key behind addr.
func PublicKey(addr ledger.Address) (ed25519.PublicKey, error) {
	if addr == "" {
		return nil, fmt.Errorf("%w: empty", ErrInvalidAddress)
	}
	raw, err := b64.DecodeString(string(addr))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidAddress, err)
	}
	if len(raw) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("%w: key must be %d bytes", ErrInvalidAddress, ed25519.PublicKeySize)
	}
	return ed25519.PublicKey(raw), nil
}

// GenerateKey creates a new identity.
func GenerateKey() (ledger.Address, ed25519.PrivateKey, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return "", nil, fmt.Errorf("generate key: %w", err)
	}
	return AddressFromPublicKey(pub), priv, nil
}

// EncodePrivateKey encodes the seed of key for storage in env or files.
func EncodePrivateKey(key ed25519.PrivateKey) string {
	return b64.EncodeToString(key.Seed())
}

// DecodePrivateKey reverses EncodePrivateKey. Standard base64 is accepted too.
func DecodePrivateKey(raw string) (ed25519.PrivateKey, error) {
	raw = strings.TrimSpace(raw)
	seed, err := b64.DecodeString(raw)
	if err != nil {
		seed, err = base64.StdEncoding.DecodeString(raw)
		if err != nil {
			return nil, fmt.Errorf("decode private key: %w", err)
		}
	}
	if len(seed) != ed25519.SeedSize {
		return nil, fmt.Errorf("private key seed must be %d bytes", ed25519.SeedSize)
	}
	return ed25519.NewKeyFromSeed(seed), nil
}

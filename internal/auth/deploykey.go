package auth

import (
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

// ErrDeployKeyRejected is returned when the presented deploy key does not
// match the configured hash, or no hash is configured.
var ErrDeployKeyRejected = errors.New("deploy key rejected")

// DeployKey guards ledger initialization over HTTP.
type DeployKey struct {
	hash []byte
}

// NewDeployKey wraps a bcrypt hash. An empty hash rejects every key.
func NewDeployKey(hash string) DeployKey {
	return DeployKey{hash: []byte(strings.TrimSpace(hash))}
}

// Configured reports whether a hash is set.
func (k DeployKey) Configured() bool {
	return len(k.hash) > 0
}

// Check compares key against the hash.
func (k DeployKey) Check(key string) error {
	if !k.Configured() || key == "" {
		return ErrDeployKeyRejected
	}
	if err := bcrypt.CompareHashAndPassword(k.hash, []byte(key)); err != nil {
		return ErrDeployKeyRejected
	}
	return nil
}

// HashDeployKey returns the bcrypt hash to configure as DEPLOY_KEY_HASH.
func HashDeployKey(key string) (string, error) {
	if strings.TrimSpace(key) == "" {
		return "", errors.New("deploy key is required")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(key), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hash deploy key: %w", err)
	}
	return string(hash), nil
}

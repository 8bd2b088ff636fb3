package auth

// CLIENT SECRETS:
// API clients authenticate with an id and a secret. Only the bcrypt hash of
// the secret is configured on the server. bcrypt embeds a random salt and
// its cost in the output:
//
//	$2a$12$<22-char salt><31-char hash>
//	 ^   ^
//	 |   cost (2^12 rounds)
//	 version
//
// cmd/hashsecret produces these hashes.

import (
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// DefaultCost is the bcrypt work factor for new hashes.
const DefaultCost = 12

// maxSecretBytes is the bcrypt input limit; longer input would be truncated.
const maxSecretBytes = 72

// ErrSecretMismatch is returned by Verify for a wrong secret.
var ErrSecretMismatch = errors.New("auth: invalid client secret")

// SecretHasher hashes and verifies client secrets with bcrypt.
type SecretHasher struct {
	cost int
}

// NewSecretHasher returns a hasher with the given cost. A cost outside the
// bcrypt range falls back to DefaultCost. Tests pass bcrypt.MinCost.
func NewSecretHasher(cost int) *SecretHasher {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = DefaultCost
	}
	return &SecretHasher{cost: cost}
}

// Hash returns the bcrypt hash of secret.
func (h *SecretHasher) Hash(secret string) (string, error) {
	if secret == "" {
		return "", errors.New("auth: secret must not be empty")
	}
	if len(secret) > maxSecretBytes {
		return "", fmt.Errorf("auth: secret must be %d bytes or fewer", maxSecretBytes)
	}

	hashed, err := bcrypt.GenerateFromPassword([]byte(secret), h.cost)
	if err != nil {
		return "", fmt.Errorf("auth: hashing secret: %w", err)
	}
	return string(hashed), nil
}

// Verify reports whether secret matches hash. The comparison is constant time.
func (h *SecretHasher) Verify(hash, secret string) error {
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(secret))
	if err != nil {
		if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
			return ErrSecretMismatch
		}
		return fmt.Errorf("auth: comparing secret hash: %w", err)
	}
	return nil
}

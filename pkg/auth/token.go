package auth

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
)

const (
	// SecretPrefix identifies Satchel token secrets
	SecretPrefix = "satchel_"
	// SecretLength is the number of random bytes in a secret (256 bits)
	SecretLength = 32
)

// ErrTokenNotFound is returned by Store implementations when no token
// matches the given secret
var ErrTokenNotFound = errors.New("token not found")

// Token is the authorization principal: an opaque bearer secret plus the
// scope grants issued with it. Scopes are never mutated after issuance;
// revoke-and-reissue is the only way to change them.
type Token struct {
	Secret    string  `json:"token"`
	Name      string  `json:"name"`
	Scopes    []Grant `json:"scopes"`
	CreatedAt int64   `json:"createdAt"` // epoch milliseconds
	UpdatedAt int64   `json:"updatedAt"` // epoch milliseconds
}

// Can reports whether the token permits op on the entity named target.
// A nil token (anonymous caller) permits nothing. The check is a pure
// function of its inputs: any grant whose scope type matches the entity and
// includes the operation, and whose values contain the target or the
// wildcard, suffices. Grants with scope types outside the enumeration are
// skipped, never matched.
func (t *Token) Can(op Operation, entity Entity, target string) bool {
	if t == nil {
		return false
	}
	for _, g := range t.Scopes {
		if !g.Type.Valid() || g.Type.Entity() != entity || !g.Type.Allows(op) {
			continue
		}
		for _, v := range g.Values {
			if v == Wildcard || v == target {
				return true
			}
		}
	}
	return false
}

// GenerateSecret creates a new unpredictable bearer secret.
// Format: satchel_<base64url(32 random bytes)>
func GenerateSecret() (string, error) {
	buf := make([]byte, SecretLength)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate random bytes: %w", err)
	}
	return SecretPrefix + base64.RawURLEncoding.EncodeToString(buf), nil
}

// Store is the credential lookup contract consumed by the access guard.
// Implementations perform exactly one lookup by exact secret match and
// return ErrTokenNotFound on a miss.
type Store interface {
	GetToken(ctx context.Context, secret string) (*Token, error)
}

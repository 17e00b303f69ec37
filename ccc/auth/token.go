package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"

	"golang.org/x/crypto/pbkdf2"
)

const (
	iterationCount = 10000 // PBKDF2 iterations
	keyLength      = 32
	saltLength     = 16
)

// TokenVerifier checks trigger tokens against a stored salted hash
type TokenVerifier interface {
	// Enabled reports whether a token is required at all
	Enabled() bool
	// Verify returns true if the plain token matches the stored hash
	Verify(token string) bool
}

// HashedToken is the persisted form of a trigger secret, both fields base64 encoded
type HashedToken struct {
	Hash string `json:"hash"`
	Salt string `json:"salt"`
}

// HashToken derives a salted PBKDF2 hash of the given secret
func HashToken(secret string) (HashedToken, error) {
	if secret == "" {
		return HashedToken{}, errors.New("secret cannot be empty")
	}

	salt := make([]byte, saltLength)
	if _, err := rand.Read(salt); err != nil {
		return HashedToken{}, fmt.Errorf("failed to generate salt: %w", err)
	}

	hash := pbkdf2.Key([]byte(secret), salt, iterationCount, keyLength, sha256.New)
	return HashedToken{
		Hash: base64.StdEncoding.EncodeToString(hash),
		Salt: base64.StdEncoding.EncodeToString(salt),
	}, nil
}

type pbkdf2TokenVerifier struct {
	hash []byte
	salt []byte
}

// NewTokenVerifier creates a verifier for the stored token. An empty hash disables verification.
func NewTokenVerifier(stored HashedToken) (TokenVerifier, error) {
	if stored.Hash == "" {
		return &pbkdf2TokenVerifier{}, nil
	}

	hash, err := base64.StdEncoding.DecodeString(stored.Hash)
	if err != nil {
		return nil, fmt.Errorf("invalid token hash: %w", err)
	}
	salt, err := base64.StdEncoding.DecodeString(stored.Salt)
	if err != nil {
		return nil, fmt.Errorf("invalid token salt: %w", err)
	}
	if len(salt) == 0 {
		return nil, errors.New("token salt cannot be empty")
	}

	return &pbkdf2TokenVerifier{hash: hash, salt: salt}, nil
}

func (v *pbkdf2TokenVerifier) Enabled() bool {
	return len(v.hash) > 0
}

func (v *pbkdf2TokenVerifier) Verify(token string) bool {
	if !v.Enabled() {
		return true
	}

	computed := pbkdf2.Key([]byte(token), v.salt, iterationCount, keyLength, sha256.New)
	// constant time comparison to prevent timing attacks
	return subtle.ConstantTimeCompare(v.hash, computed) == 1
}

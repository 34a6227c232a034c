// Package authstore issues and validates the daemon's single long-lived
// bearer token, backed by the durable config key/value row.
package authstore

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
)

const tokenConfigKey = "auth_token"
const tokenByteLen = 32

// ConfigStore is the minimal persistence surface authstore needs; the
// durable store satisfies it.
type ConfigStore interface {
	GetConfig(key string) (string, bool)
	SetConfig(key, value string) error
}

// Store issues and validates the daemon's bearer token.
type Store struct {
	backing ConfigStore
}

// New wraps a ConfigStore (the durable record store) as a Store.
func New(backing ConfigStore) *Store {
	return &Store{backing: backing}
}

// EnsureToken returns the current token, generating and persisting a new
// one if none exists yet.
func (s *Store) EnsureToken() (string, error) {
	if tok, ok := s.backing.GetConfig(tokenConfigKey); ok && tok != "" {
		return tok, nil
	}
	return s.Rotate()
}

// Rotate generates a fresh token, persists it, and returns it. Invalidates
// every previously issued token.
func (s *Store) Rotate() (string, error) {
	tok, err := generateToken()
	if err != nil {
		return "", fmt.Errorf("authstore: generate token: %w", err)
	}
	if err := s.backing.SetConfig(tokenConfigKey, tok); err != nil {
		return "", fmt.Errorf("authstore: persist token: %w", err)
	}
	return tok, nil
}

// Validate reports whether candidate matches the current token, using a
// constant-time comparison so token-guessing cannot be timed.
func (s *Store) Validate(candidate string) bool {
	tok, ok := s.backing.GetConfig(tokenConfigKey)
	if !ok {
		return false
	}
	// Equalize lengths before comparing so subtle.ConstantTimeCompare's
	// early-return-on-length-mismatch doesn't leak length via timing.
	a := []byte(tok)
	b := []byte(candidate)
	if len(a) != len(b) {
		// Compare against a same-length dummy so the branch above costs
		// the same regardless of whether lengths already matched.
		dummy := make([]byte, len(a))
		subtle.ConstantTimeCompare(a, dummy)
		return false
	}
	return subtle.ConstantTimeCompare(a, b) == 1
}

func generateToken() (string, error) {
	buf := make([]byte, tokenByteLen)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}

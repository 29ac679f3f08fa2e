// Package apikey provides an API key authenticator that validates
// static keys using SHA-256 hashing and constant-time comparison.
//
// Keys arrive either in the x-api-key header (the form Messages API
// clients send) or as an Authorization bearer token.
package apikey

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/wandlerhq/wandler/pkg/auth"
)

// KeyEntry maps a key hash to an identity.
type KeyEntry struct {
	KeyHash  [32]byte
	Identity auth.Identity
}

// Authenticator validates client keys against a static key store.
type Authenticator struct {
	keys []KeyEntry
}

// New creates an API key authenticator from a list of raw keys and identities.
// Keys are hashed immediately; plaintext keys are not stored.
func New(entries []RawKeyEntry) *Authenticator {
	a := &Authenticator{}
	for _, e := range entries {
		a.keys = append(a.keys, KeyEntry{
			KeyHash:  sha256.Sum256([]byte(e.Key)),
			Identity: e.Identity,
		})
	}
	return a
}

// RawKeyEntry is the configuration format for API keys.
type RawKeyEntry struct {
	Key      string
	Identity auth.Identity
}

// Authenticate extracts the client key and validates it.
// Returns Yes if valid, No if a credential is present but invalid,
// Abstain if the request carries neither an x-api-key header nor a
// bearer token.
func (a *Authenticator) Authenticate(_ context.Context, r *http.Request) auth.Result {
	key, present := extractKey(r)
	if !present {
		return auth.Result{Decision: auth.Abstain}
	}
	if key == "" {
		return auth.Result{Decision: auth.No, Err: auth.ErrUnauthenticated}
	}

	// Hash the key and compare against stored hashes.
	keyHash := sha256.Sum256([]byte(key))

	for _, entry := range a.keys {
		if subtle.ConstantTimeCompare(keyHash[:], entry.KeyHash[:]) == 1 {
			// Copy identity to avoid shared state.
			id := entry.Identity
			return auth.Result{Decision: auth.Yes, Identity: &id}
		}
	}

	// Credential present but not found.
	return auth.Result{Decision: auth.No, Err: auth.ErrUnauthenticated}
}

// extractKey pulls the credential from the request. x-api-key wins when
// both header forms are present.
func extractKey(r *http.Request) (key string, present bool) {
	if v := r.Header.Get("x-api-key"); v != "" {
		return v, true
	}

	header := r.Header.Get("Authorization")
	if header == "" {
		return "", false
	}

	// Must be a Bearer token; other schemes are someone else's job.
	if !strings.HasPrefix(header, "Bearer ") {
		return "", false
	}

	return strings.TrimPrefix(header, "Bearer "), true
}

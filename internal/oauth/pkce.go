// Package oauth implements the third-party connection subsystem: PKCE
// helpers, pending-authorization and token persistence, the Granola
// dynamic-registration OAuth client, the Google Calendar OAuth client,
// and the HTTP handlers that orchestrate the browser flows.
package oauth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"

	"golang.org/x/oauth2"
)

const stateBytes = 16

// GenerateCodeVerifier returns a URL-safe PKCE code verifier.
func GenerateCodeVerifier() string {
	return oauth2.GenerateVerifier()
}

// ComputeCodeChallenge derives the S256 code challenge for a verifier.
func ComputeCodeChallenge(verifier string) string {
	sum := sha256.Sum256([]byte(verifier))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}

// GenerateState returns an opaque CSRF-binding token from 16 random bytes.
// It doubles as the pending-authorization lookup key.
func GenerateState() string {
	return randomURLSafe(stateBytes)
}

// randomURLSafe panics on randomness failure: a process that cannot read
// its entropy source must not mint OAuth secrets.
func randomURLSafe(n int) string {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		panic("oauth: crypto/rand unavailable: " + err.Error())
	}
	return base64.RawURLEncoding.EncodeToString(buf)
}

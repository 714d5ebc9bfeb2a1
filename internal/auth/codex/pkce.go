// Package codex implements the OAuth2 authorization code flow with PKCE against the
// OpenAI issuer, the single persisted credential it produces, and the accessor that
// keeps that credential fresh for the completion gateway.
package codex

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
)

// verifierAlphabet is the RFC 7636 unreserved character set.
const verifierAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789-._~"

// verifierLength is the minimum verifier length RFC 7636 allows.
const verifierLength = 43

// stateBytes is the amount of entropy behind the CSRF state value.
const stateBytes = 32

// PKCECodes holds the verification codes for the OAuth2 PKCE flow.
// The verifier never leaves the process; only the challenge is sent to the issuer.
type PKCECodes struct {
	// CodeVerifier is the random string proven at token exchange time.
	CodeVerifier string `json:"code_verifier"`
	// CodeChallenge is the base64url encoded SHA256 hash of the verifier.
	CodeChallenge string `json:"code_challenge"`
}

// GeneratePKCECodes generates a new verifier and its S256 challenge.
func GeneratePKCECodes() (*PKCECodes, error) {
	codeVerifier, err := generateCodeVerifier()
	if err != nil {
		return nil, fmt.Errorf("failed to generate code verifier: %w", err)
	}

	return &PKCECodes{
		CodeVerifier:  codeVerifier,
		CodeChallenge: generateCodeChallenge(codeVerifier),
	}, nil
}

// GenerateState returns an unguessable value bound to one authorization attempt.
func GenerateState() (string, error) {
	bytes := make([]byte, stateBytes)
	if _, err := rand.Read(bytes); err != nil {
		return "", fmt.Errorf("failed to generate state: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(bytes), nil
}

// generateCodeVerifier draws one random byte per character and maps it onto the
// unreserved alphabet.
func generateCodeVerifier() (string, error) {
	bytes := make([]byte, verifierLength)
	if _, err := rand.Read(bytes); err != nil {
		return "", fmt.Errorf("failed to generate random bytes: %w", err)
	}
	out := make([]byte, verifierLength)
	for i, b := range bytes {
		out[i] = verifierAlphabet[int(b)%len(verifierAlphabet)]
	}
	return string(out), nil
}

func generateCodeChallenge(codeVerifier string) string {
	hash := sha256.Sum256([]byte(codeVerifier))
	return base64.RawURLEncoding.EncodeToString(hash[:])
}

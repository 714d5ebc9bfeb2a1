package codex

import (
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/tidwall/gjson"
)

// Claim paths inside the identity token payload. The namespaced claim contains dots
// and slashes, so the dots are escaped for gjson.
const (
	claimAccountID       = "chatgpt_account_id"
	claimAuthAccountID   = `https://api\.openai\.com/auth.chatgpt_account_id`
	claimOrganizationIDs = "organizations.#.id"
	claimEmail           = "email"
)

// JWTClaims is the decoded, unverified payload segment of a JWT.
type JWTClaims struct {
	raw gjson.Result
}

// ParseJWTToken decodes the payload segment of a JWT without verifying its signature.
// The issuer already authenticated the tokens at exchange time; the claims are only
// read for account discovery.
func ParseJWTToken(token string) (*JWTClaims, error) {
	parts := strings.Split(strings.TrimSpace(token), ".")
	if len(parts) != 3 {
		return nil, fmt.Errorf("invalid JWT token format: expected 3 parts, got %d", len(parts))
	}

	claimsData, err := base64URLDecode(parts[1])
	if err != nil {
		return nil, fmt.Errorf("failed to decode JWT claims: %w", err)
	}
	if !gjson.ValidBytes(claimsData) {
		return nil, fmt.Errorf("failed to unmarshal JWT claims: invalid JSON")
	}
	raw := gjson.ParseBytes(claimsData)
	if !raw.IsObject() {
		return nil, fmt.Errorf("failed to unmarshal JWT claims: payload is not an object")
	}
	return &JWTClaims{raw: raw}, nil
}

// base64URLDecode decodes a base64url string with or without padding.
func base64URLDecode(data string) ([]byte, error) {
	data = strings.TrimRight(data, "=")
	return base64.RawURLEncoding.DecodeString(data)
}

// GetAccountID returns the account identifier using the issuer's precedence: the
// top-level claim, then the namespaced auth claim, then the first organization id.
func (c *JWTClaims) GetAccountID() string {
	if c == nil {
		return ""
	}
	if id := stringClaim(c.raw.Get(claimAccountID)); id != "" {
		return id
	}
	if id := stringClaim(c.raw.Get(claimAuthAccountID)); id != "" {
		return id
	}
	for _, org := range c.raw.Get(claimOrganizationIDs).Array() {
		if id := stringClaim(org); id != "" {
			return id
		}
	}
	return ""
}

// GetUserEmail returns the email claim when present.
func (c *JWTClaims) GetUserEmail() string {
	if c == nil {
		return ""
	}
	return stringClaim(c.raw.Get(claimEmail))
}

func stringClaim(v gjson.Result) string {
	if v.Type != gjson.String {
		return ""
	}
	return strings.TrimSpace(v.String())
}

// AccountIDFromTokens extracts the account id from the id token first and the access
// token second. Malformed tokens are skipped; the result is empty when nothing matches.
func AccountIDFromTokens(idToken, accessToken string) string {
	for _, token := range []string{idToken, accessToken} {
		if strings.TrimSpace(token) == "" {
			continue
		}
		claims, err := ParseJWTToken(token)
		if err != nil {
			continue
		}
		if id := claims.GetAccountID(); id != "" {
			return id
		}
	}
	return ""
}

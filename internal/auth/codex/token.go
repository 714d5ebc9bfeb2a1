package codex

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// CredentialType is the only record type the store accepts.
const CredentialType = "oauth"

// Credential is the single persisted OAuth credential of the deployment.
// It is replaced wholesale on every refresh.
type Credential struct {
	// Access is the bearer token sent to the completion endpoint.
	Access string
	// Refresh obtains a new access token once Access expires.
	Refresh string
	// Expires is the absolute expiry of Access.
	Expires time.Time
	// AccountID is the workspace identifier, empty when the tokens carried none.
	AccountID string
}

// Expired reports whether the credential must be refreshed before use at now,
// treating anything inside lead as already expired.
func (c *Credential) Expired(now time.Time, lead time.Duration) bool {
	if c == nil {
		return true
	}
	return !now.Add(lead).Before(c.Expires)
}

// MarshalJSON renders the credential as {"type","access","refresh","expires","accountId"}.
func (c Credential) MarshalJSON() ([]byte, error) {
	out := []byte(`{"type":"oauth"}`)
	var err error
	if out, err = sjson.SetBytes(out, "access", c.Access); err != nil {
		return nil, err
	}
	if out, err = sjson.SetBytes(out, "refresh", c.Refresh); err != nil {
		return nil, err
	}
	if out, err = sjson.SetBytes(out, "expires", c.Expires.UnixMilli()); err != nil {
		return nil, err
	}
	if c.AccountID != "" {
		if out, err = sjson.SetBytes(out, "accountId", c.AccountID); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// ParseCredential decodes a stored record. It returns (nil, nil) for documents that do
// not have the expected shape so callers treat them as absent.
func ParseCredential(data []byte) (*Credential, error) {
	if len(strings.TrimSpace(string(data))) == 0 || !gjson.ValidBytes(data) {
		return nil, nil
	}
	root := gjson.ParseBytes(data)
	if !root.IsObject() || root.Get("type").String() != CredentialType {
		return nil, nil
	}
	access := root.Get("access")
	refresh := root.Get("refresh")
	if access.Type != gjson.String || refresh.Type != gjson.String {
		return nil, nil
	}
	expires := root.Get("expires")
	if expires.Type != gjson.Number {
		return nil, nil
	}
	cred := &Credential{
		Access:  access.String(),
		Refresh: refresh.String(),
		Expires: time.UnixMilli(expires.Int()),
	}
	if account := root.Get("accountId"); account.Type == gjson.String {
		cred.AccountID = account.String()
	}
	return cred, nil
}

// CredentialStore persists the deployment's single credential record.
// Load returns (nil, nil) when no usable record exists.
type CredentialStore interface {
	Load(ctx context.Context) (*Credential, error)
	Save(ctx context.Context, cred *Credential) error
	Delete(ctx context.Context) error
}

// TokenData is the normalized result of a token endpoint call.
type TokenData struct {
	IDToken      string
	AccessToken  string
	RefreshToken string
	ExpiresIn    time.Duration
}

// Credential converts the token data into a persisted record issued at now.
// fallbackAccountID is used when neither token carries an account id.
func (t *TokenData) Credential(now time.Time, fallbackAccountID string) *Credential {
	accountID := AccountIDFromTokens(t.IDToken, t.AccessToken)
	if accountID == "" {
		accountID = fallbackAccountID
	}
	return &Credential{
		Access:    t.AccessToken,
		Refresh:   t.RefreshToken,
		Expires:   now.Add(t.ExpiresIn),
		AccountID: accountID,
	}
}

func (t *TokenData) String() string {
	return fmt.Sprintf("TokenData{expires_in=%s id_token=%t}", t.ExpiresIn, t.IDToken != "")
}

package codex

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/router-for-me/codexgate/internal/config"
	"github.com/router-for-me/codexgate/internal/util"
	log "github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"
	"golang.org/x/oauth2"
)

// OAuth configuration constants for OpenAI Codex
const (
	ClientID      = "app_EMoamEEZ73f0CkXaXp7hrann"
	Originator    = "codex_cli_rs"
	CallbackPath  = "/auth/callback"
	CancelPath    = "/cancel"
	authorizePath = "/oauth/authorize"
	tokenPath     = "/oauth/token"
	loginScope    = "openid profile email offline_access"
	refreshScope  = "openid profile email"
	tokenTimeout  = 30 * time.Second

	// defaultExpiresIn applies when the token response omits expires_in.
	defaultExpiresIn = time.Hour
)

// TokenExchanger performs the authorization-code and refresh-token grants.
type TokenExchanger interface {
	ExchangeCodeForTokens(ctx context.Context, code string, pkceCodes *PKCECodes) (*TokenData, error)
	RefreshTokens(ctx context.Context, refreshToken string) (*TokenData, error)
}

// CodexAuth handles the OpenAI OAuth2 authentication flow.
// It manages the HTTP client and provides methods for generating authorization URLs,
// exchanging authorization codes for tokens, and refreshing access tokens.
type CodexAuth struct {
	httpClient *http.Client
	oauth      *oauth2.Config
	tokenURL   string
}

// NewCodexAuth creates a new CodexAuth service instance for the configured issuer.
// The HTTP client honours the configured outbound proxy.
func NewCodexAuth(cfg *config.Config) *CodexAuth {
	issuer := strings.TrimSuffix(cfg.OAuth.Issuer, "/")
	if issuer == "" {
		issuer = config.DefaultIssuer
	}
	port := cfg.OAuth.CallbackPort
	if port <= 0 {
		port = config.DefaultCallbackPort
	}
	return &CodexAuth{
		httpClient: util.NewHTTPClient(&cfg.SDKConfig, tokenTimeout),
		oauth: &oauth2.Config{
			ClientID: ClientID,
			Endpoint: oauth2.Endpoint{
				AuthURL:   issuer + authorizePath,
				TokenURL:  issuer + tokenPath,
				AuthStyle: oauth2.AuthStyleInParams,
			},
			RedirectURL: RedirectURI(port),
			Scopes:      strings.Fields(loginScope),
		},
		tokenURL: issuer + tokenPath,
	}
}

// RedirectURI returns the loopback redirect registered for the client on port.
func RedirectURI(port int) string {
	return fmt.Sprintf("http://localhost:%d%s", port, CallbackPath)
}

// GenerateAuthURL creates the OAuth authorization URL with the PKCE S256 challenge.
func (o *CodexAuth) GenerateAuthURL(state string, pkceCodes *PKCECodes) (string, error) {
	if pkceCodes == nil {
		return "", fmt.Errorf("PKCE codes are required")
	}

	return o.oauth.AuthCodeURL(state,
		oauth2.SetAuthURLParam("code_challenge", pkceCodes.CodeChallenge),
		oauth2.SetAuthURLParam("code_challenge_method", "S256"),
		oauth2.SetAuthURLParam("id_token_add_organizations", "true"),
		oauth2.SetAuthURLParam("codex_cli_simplified_flow", "true"),
		oauth2.SetAuthURLParam("originator", Originator),
	), nil
}

// ExchangeCodeForTokens exchanges an authorization code for access and refresh tokens.
func (o *CodexAuth) ExchangeCodeForTokens(ctx context.Context, code string, pkceCodes *PKCECodes) (*TokenData, error) {
	if pkceCodes == nil {
		return nil, fmt.Errorf("PKCE codes are required for token exchange")
	}

	data := url.Values{
		"grant_type":    {"authorization_code"},
		"client_id":     {ClientID},
		"code":          {code},
		"redirect_uri":  {o.oauth.RedirectURL},
		"code_verifier": {pkceCodes.CodeVerifier},
	}
	tokens, err := o.postToken(ctx, data)
	if err != nil {
		return nil, fmt.Errorf("token exchange failed: %w", err)
	}
	return tokens, nil
}

// RefreshTokens obtains a new token set using a refresh token.
func (o *CodexAuth) RefreshTokens(ctx context.Context, refreshToken string) (*TokenData, error) {
	if refreshToken == "" {
		return nil, fmt.Errorf("refresh token is required")
	}

	data := url.Values{
		"client_id":     {ClientID},
		"grant_type":    {"refresh_token"},
		"refresh_token": {refreshToken},
		"scope":         {refreshScope},
	}
	tokens, err := o.postToken(ctx, data)
	if err != nil {
		return nil, fmt.Errorf("token refresh failed: %w", err)
	}
	return tokens, nil
}

func (o *CodexAuth) postToken(ctx context.Context, data url.Values) (*TokenData, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.tokenURL, strings.NewReader(data.Encode()))
	if err != nil {
		return nil, fmt.Errorf("failed to create token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := o.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("token request failed: %w", err)
	}
	defer func() {
		if errClose := resp.Body.Close(); errClose != nil {
			log.Errorf("token response body close error: %v", errClose)
		}
	}()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read token response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, parseOAuthError(resp.StatusCode, body)
	}
	return parseTokenResponse(body)
}

func parseTokenResponse(body []byte) (*TokenData, error) {
	if !gjson.ValidBytes(body) {
		return nil, fmt.Errorf("failed to parse token response: invalid JSON")
	}
	root := gjson.ParseBytes(body)
	tokens := &TokenData{
		IDToken:      root.Get("id_token").String(),
		AccessToken:  root.Get("access_token").String(),
		RefreshToken: root.Get("refresh_token").String(),
		ExpiresIn:    defaultExpiresIn,
	}
	if tokens.AccessToken == "" {
		return nil, fmt.Errorf("token response is missing access_token")
	}
	if expiresIn := root.Get("expires_in"); expiresIn.Exists() && expiresIn.Int() > 0 {
		tokens.ExpiresIn = time.Duration(expiresIn.Int()) * time.Second
	}
	return tokens, nil
}

func parseOAuthError(status int, body []byte) error {
	oauthErr := &OAuthError{StatusCode: status}
	if gjson.ValidBytes(body) {
		root := gjson.ParseBytes(body)
		if errField := root.Get("error"); errField.IsObject() {
			// Some gateways nest the payload as {"error":{"code","message"}}.
			oauthErr.Code = errField.Get("code").String()
			oauthErr.Description = errField.Get("message").String()
		} else {
			oauthErr.Code = errField.String()
			oauthErr.Description = root.Get("error_description").String()
		}
	}
	if oauthErr.Code == "" && oauthErr.Description == "" {
		oauthErr.Description = strings.TrimSpace(string(body))
		if oauthErr.Description == "" {
			oauthErr.Description = http.StatusText(status)
		}
	}
	return oauthErr
}

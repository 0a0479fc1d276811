// Package zendesk implements the OAuth provider for Zendesk.
//
// All endpoints live under the account subdomain. The token endpoint takes a
// JSON body rather than a form, and the subdomain is persisted into the
// exchanged credential bag so later calls work without the system bag.
package zendesk

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/hookflow/internal/httpx"
	"github.com/BaSui01/hookflow/plugin"
	"github.com/BaSui01/hookflow/providers"
)

const (
	authorizationPath = "/oauth/authorizations/new"
	tokenPath         = "/oauth/tokens"
)

// Provider implements the Zendesk OAuth flow and API token validation.
type Provider struct {
	client *httpx.Client
	logger *zap.Logger

	// baseOverride replaces the subdomain-derived base URL in tests.
	baseOverride string
}

// New creates a Zendesk OAuth provider.
func New(client *httpx.Client, logger *zap.Logger) *Provider {
	return &Provider{
		client: client,
		logger: logger.With(zap.String("provider", "zendesk")),
	}
}

func (p *Provider) Name() string { return "zendesk" }

func (p *Provider) baseURL(subdomain string) string {
	if p.baseOverride != "" {
		return p.baseOverride
	}
	return fmt.Sprintf("https://%s.zendesk.com", subdomain)
}

// AuthorizationURL builds the subdomain-scoped authorize URL.
func (p *Provider) AuthorizationURL(redirectURI string, system plugin.Credentials) (string, error) {
	subdomain, err := system.Require("subdomain")
	if err != nil {
		return "", err
	}
	clientID, err := system.Require("client_id")
	if err != nil {
		return "", err
	}

	params := url.Values{}
	params.Set("response_type", "code")
	params.Set("client_id", clientID)
	params.Set("redirect_uri", redirectURI)
	params.Set("state", providers.RandomState())
	params.Set("scope", "read write")

	return providers.AuthorizeURL(p.baseURL(subdomain)+authorizationPath, params), nil
}

// ExchangeCode swaps an authorization code for Zendesk credentials.
func (p *Provider) ExchangeCode(ctx context.Context, redirectURI, code string, system plugin.Credentials) (plugin.OAuthCredentials, error) {
	subdomain, clientID, clientSecret, err := p.clientConfig(system, system)
	if err != nil {
		return plugin.OAuthCredentials{}, err
	}

	payload := map[string]string{
		"grant_type":    "authorization_code",
		"code":          code,
		"redirect_uri":  redirectURI,
		"client_id":     clientID,
		"client_secret": clientSecret,
	}
	return p.exchangeToken(ctx, subdomain, payload)
}

// RefreshCredentials exchanges the stored refresh token for fresh tokens.
func (p *Provider) RefreshCredentials(ctx context.Context, redirectURI string, system plugin.Credentials, current plugin.Credentials) (plugin.OAuthCredentials, error) {
	refreshToken, err := current.Require("refresh_token")
	if err != nil {
		return plugin.OAuthCredentials{}, plugin.NewError(plugin.ErrOAuthError,
			"refresh token is missing; please re-authorize").WithProvider(p.Name())
	}
	subdomain, clientID, clientSecret, err := p.clientConfig(current, system)
	if err != nil {
		return plugin.OAuthCredentials{}, err
	}

	payload := map[string]string{
		"grant_type":    "refresh_token",
		"refresh_token": refreshToken,
		"client_id":     clientID,
		"client_secret": clientSecret,
	}
	return p.exchangeToken(ctx, subdomain, payload)
}

// ValidateCredentials checks an API token by listing webhooks with Basic auth.
// The username is "email/token" per the Zendesk API token scheme.
func (p *Provider) ValidateCredentials(ctx context.Context, creds plugin.Credentials) error {
	apiToken, err := creds.Require("api_token")
	if err != nil {
		return err
	}
	email, err := creds.Require("email")
	if err != nil {
		return err
	}
	subdomain, err := creds.Require("subdomain")
	if err != nil {
		return err
	}

	headers := http.Header{}
	headers.Set("Authorization", providers.BasicAuth(email+"/token", apiToken))
	headers.Set("Content-Type", "application/json")

	var out map[string]any
	if _, err := p.client.GetJSON(ctx, p.baseURL(subdomain)+"/api/v2/webhooks", nil, headers, &out); err != nil {
		var se *httpx.StatusError
		if errors.As(err, &se) {
			return plugin.MapHTTPStatus(se.StatusCode, "api token validation failed: "+se.Message, p.Name())
		}
		return plugin.NewError(plugin.ErrCredentialsInvalid, "api token validation failed").
			WithCause(err).WithProvider(p.Name())
	}
	return nil
}

func (p *Provider) clientConfig(primary, fallback plugin.Credentials) (subdomain, clientID, clientSecret string, err error) {
	subdomain = primary.GetOr("subdomain", fallback.Get("subdomain"))
	clientID = fallback.GetOr("client_id", primary.Get("client_id"))
	clientSecret = fallback.GetOr("client_secret", primary.Get("client_secret"))
	if subdomain == "" || clientID == "" || clientSecret == "" {
		return "", "", "", plugin.NewError(plugin.ErrOAuthError,
			"oauth client configuration is incomplete").WithProvider(p.Name())
	}
	return subdomain, clientID, clientSecret, nil
}

func (p *Provider) exchangeToken(ctx context.Context, subdomain string, payload map[string]string) (plugin.OAuthCredentials, error) {
	var token providers.TokenResponse
	err := p.client.PostJSON(ctx, p.baseURL(subdomain)+tokenPath, nil, payload, &token)
	if err != nil {
		var se *httpx.StatusError
		if errors.As(err, &se) {
			return plugin.OAuthCredentials{}, plugin.NewError(plugin.ErrOAuthError,
				"token request failed: "+se.Message).WithHTTPStatus(se.StatusCode).WithProvider(p.Name())
		}
		return plugin.OAuthCredentials{}, plugin.NewError(plugin.ErrOAuthError,
			"token endpoint unreachable").WithCause(err).WithProvider(p.Name())
	}
	if token.Error != "" {
		msg := token.ErrorDescription
		if msg == "" {
			msg = token.Error
		}
		return plugin.OAuthCredentials{}, plugin.NewError(plugin.ErrOAuthError,
			"token request failed: "+msg).WithProvider(p.Name())
	}
	if token.AccessToken == "" {
		return plugin.OAuthCredentials{}, plugin.NewError(plugin.ErrOAuthError,
			"token response missing access_token").WithProvider(p.Name())
	}

	creds := plugin.Credentials{
		"access_token": token.AccessToken,
		"subdomain":    subdomain,
	}
	if token.RefreshToken != "" {
		creds["refresh_token"] = token.RefreshToken
	}
	if token.Scope != "" {
		creds["scope"] = token.Scope
	}
	if token.TokenType != "" {
		creds["token_type"] = token.TokenType
	}

	return plugin.OAuthCredentials{
		Credentials: creds,
		ExpiresAt:   token.ExpiresAt(time.Now()),
	}, nil
}

// Package snowflake implements the OAuth flow and key-pair JWT
// authentication for Snowflake.
//
// Two credential paths are supported: the standard authorization-code flow
// against the account's OAuth endpoints, and key-pair authentication where a
// short-lived RS256 JWT is minted from the account's registered private key.
package snowflake

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/hookflow/plugin"
	"github.com/BaSui01/hookflow/providers"
)

// Provider implements the Snowflake OAuth flow.
type Provider struct {
	exchanger *providers.Exchanger
	logger    *zap.Logger

	baseOverride string
}

// New creates a Snowflake OAuth provider.
func New(logger *zap.Logger) *Provider {
	return &Provider{
		exchanger: providers.NewExchanger(15 * time.Second),
		logger:    logger.With(zap.String("provider", "snowflake")),
	}
}

func (p *Provider) Name() string { return "snowflake" }

func (p *Provider) baseURL(account string) string {
	if p.baseOverride != "" {
		return p.baseOverride
	}
	return fmt.Sprintf("https://%s.snowflakecomputing.com", account)
}

// AuthorizationURL builds the account-scoped authorize URL.
func (p *Provider) AuthorizationURL(redirectURI string, system plugin.Credentials) (string, error) {
	account, err := system.Require("account_name")
	if err != nil {
		return "", err
	}
	clientID, err := system.Require("client_id")
	if err != nil {
		return "", err
	}

	params := url.Values{}
	params.Set("client_id", clientID)
	params.Set("redirect_uri", redirectURI)
	params.Set("response_type", "code")
	params.Set("state", providers.RandomState())
	if scope := system.Get("scope"); scope != "" {
		params.Set("scope", scope)
	}

	return providers.AuthorizeURL(p.baseURL(account)+"/oauth/authorize", params), nil
}

// ExchangeCode swaps an authorization code for Snowflake credentials. The
// token endpoint authenticates the client with HTTP Basic auth.
func (p *Provider) ExchangeCode(ctx context.Context, redirectURI, code string, system plugin.Credentials) (plugin.OAuthCredentials, error) {
	account, err := system.Require("account_name")
	if err != nil {
		return plugin.OAuthCredentials{}, err
	}
	clientID, err := system.Require("client_id")
	if err != nil {
		return plugin.OAuthCredentials{}, err
	}
	clientSecret, err := system.Require("client_secret")
	if err != nil {
		return plugin.OAuthCredentials{}, err
	}

	form := url.Values{}
	form.Set("grant_type", "authorization_code")
	form.Set("code", code)
	form.Set("redirect_uri", redirectURI)

	token, err := p.exchanger.PostForm(ctx, p.Name(), p.baseURL(account)+"/oauth/token-request", form,
		map[string]string{"Authorization": providers.BasicAuth(clientID, clientSecret)})
	if err != nil {
		return plugin.OAuthCredentials{}, err
	}

	creds := plugin.Credentials{
		"access_token": token.AccessToken,
		"account_name": account,
	}
	if token.RefreshToken != "" {
		creds["refresh_token"] = token.RefreshToken
	}
	return plugin.OAuthCredentials{
		Credentials: creds,
		ExpiresAt:   token.ExpiresAt(time.Now()),
	}, nil
}

// RefreshCredentials exchanges the stored refresh token for fresh tokens,
// keeping the old refresh token when the vendor does not rotate it.
func (p *Provider) RefreshCredentials(ctx context.Context, redirectURI string, system plugin.Credentials, current plugin.Credentials) (plugin.OAuthCredentials, error) {
	refreshToken, err := current.Require("refresh_token")
	if err != nil {
		return plugin.OAuthCredentials{}, plugin.NewError(plugin.ErrOAuthError,
			"no refresh token available").WithProvider(p.Name())
	}
	account := current.GetOr("account_name", system.Get("account_name"))
	clientID := system.Get("client_id")
	clientSecret := system.Get("client_secret")
	if account == "" || clientID == "" || clientSecret == "" {
		return plugin.OAuthCredentials{}, plugin.NewError(plugin.ErrOAuthError,
			"oauth client configuration is incomplete").WithProvider(p.Name())
	}

	form := url.Values{}
	form.Set("grant_type", "refresh_token")
	form.Set("refresh_token", refreshToken)

	token, err := p.exchanger.PostForm(ctx, p.Name(), p.baseURL(account)+"/oauth/token-request", form,
		map[string]string{"Authorization": providers.BasicAuth(clientID, clientSecret)})
	if err != nil {
		return plugin.OAuthCredentials{}, err
	}

	newRefresh := token.RefreshToken
	if newRefresh == "" {
		newRefresh = refreshToken
	}
	return plugin.OAuthCredentials{
		Credentials: plugin.Credentials{
			"access_token":  token.AccessToken,
			"refresh_token": newRefresh,
			"account_name":  account,
		},
		ExpiresAt: token.ExpiresAt(time.Now()),
	}, nil
}

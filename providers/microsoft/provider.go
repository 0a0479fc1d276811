// Package microsoft implements the OAuth provider for Microsoft Graph.
//
// Authorization is tenant-aware: the tenant comes from the system credential
// bag and defaults to "common". Exchanged credentials carry the client
// configuration so refresh works without the system bag.
package microsoft

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/hookflow/internal/httpx"
	"github.com/BaSui01/hookflow/plugin"
	"github.com/BaSui01/hookflow/providers"
)

const (
	loginBaseURL  = "https://login.microsoftonline.com"
	graphBaseURL  = "https://graph.microsoft.com"
	defaultTenant = "common"
)

// graph scopes requested during authorization; offline_access yields a
// refresh token.
var scopes = []string{
	"https://graph.microsoft.com/Team.ReadBasic.All",
	"https://graph.microsoft.com/Channel.ReadBasic.All",
	"https://graph.microsoft.com/ChannelMessage.Read.All",
	"https://graph.microsoft.com/Chat.Read",
	"https://graph.microsoft.com/Files.Read.All",
	"https://graph.microsoft.com/User.Read",
	"offline_access",
}

// Provider implements the Microsoft Graph OAuth flow.
type Provider struct {
	exchanger *providers.Exchanger
	client    *httpx.Client
	logger    *zap.Logger

	loginBase string
	graphBase string
}

// New creates a Microsoft OAuth provider.
func New(client *httpx.Client, logger *zap.Logger) *Provider {
	return &Provider{
		exchanger: providers.NewExchanger(15 * time.Second),
		client:    client,
		logger:    logger.With(zap.String("provider", "microsoft")),
		loginBase: loginBaseURL,
		graphBase: graphBaseURL,
	}
}

func (p *Provider) Name() string { return "microsoft" }

// AuthorizationURL builds the tenant-aware authorize URL.
func (p *Provider) AuthorizationURL(redirectURI string, system plugin.Credentials) (string, error) {
	clientID, err := system.Require("client_id")
	if err != nil {
		return "", err
	}
	tenant := system.GetOr("tenant_id", defaultTenant)

	params := url.Values{}
	params.Set("client_id", clientID)
	params.Set("response_type", "code")
	params.Set("redirect_uri", redirectURI)
	params.Set("scope", strings.Join(scopes, " "))
	params.Set("response_mode", "query")
	params.Set("state", providers.RandomState())

	return providers.AuthorizeURL(p.authURL(tenant), params), nil
}

// ExchangeCode swaps an authorization code for Graph credentials and resolves
// the user's display name.
func (p *Provider) ExchangeCode(ctx context.Context, redirectURI, code string, system plugin.Credentials) (plugin.OAuthCredentials, error) {
	clientID, err := system.Require("client_id")
	if err != nil {
		return plugin.OAuthCredentials{}, err
	}
	clientSecret, err := system.Require("client_secret")
	if err != nil {
		return plugin.OAuthCredentials{}, err
	}
	tenant := system.GetOr("tenant_id", defaultTenant)

	form := url.Values{}
	form.Set("grant_type", "authorization_code")
	form.Set("code", code)
	form.Set("redirect_uri", redirectURI)
	form.Set("client_id", clientID)
	form.Set("client_secret", clientSecret)
	form.Set("scope", strings.Join(scopes, " "))

	token, err := p.exchanger.PostForm(ctx, p.Name(), p.tokenURL(tenant), form, nil)
	if err != nil {
		return plugin.OAuthCredentials{}, err
	}

	user, err := p.fetchUser(ctx, token.AccessToken)
	if err != nil {
		return plugin.OAuthCredentials{}, err
	}

	creds := plugin.Credentials{
		"access_token":  token.AccessToken,
		"refresh_token": token.RefreshToken,
		"client_id":     clientID,
		"client_secret": clientSecret,
		"tenant_id":     tenant,
		"user_id":       user.ID,
	}
	return plugin.OAuthCredentials{
		Credentials: creds,
		ExpiresAt:   token.ExpiresAt(time.Now()),
		Name:        user.displayName(),
	}, nil
}

// RefreshCredentials exchanges the stored refresh token for fresh tokens.
// The vendor may rotate the refresh token; when it does not, the old one is
// kept.
func (p *Provider) RefreshCredentials(ctx context.Context, redirectURI string, system plugin.Credentials, current plugin.Credentials) (plugin.OAuthCredentials, error) {
	refreshToken, err := current.Require("refresh_token")
	if err != nil {
		return plugin.OAuthCredentials{}, err
	}
	clientID := current.GetOr("client_id", system.Get("client_id"))
	clientSecret := current.GetOr("client_secret", system.Get("client_secret"))
	if clientID == "" || clientSecret == "" {
		return plugin.OAuthCredentials{}, plugin.NewError(plugin.ErrOAuthError,
			"client_id and client_secret are required for refresh").WithProvider(p.Name())
	}
	tenant := current.GetOr("tenant_id", system.GetOr("tenant_id", defaultTenant))

	form := url.Values{}
	form.Set("grant_type", "refresh_token")
	form.Set("refresh_token", refreshToken)
	form.Set("client_id", clientID)
	form.Set("client_secret", clientSecret)
	form.Set("scope", strings.Join(scopes, " "))

	token, err := p.exchanger.PostForm(ctx, p.Name(), p.tokenURL(tenant), form, nil)
	if err != nil {
		return plugin.OAuthCredentials{}, err
	}

	newRefresh := token.RefreshToken
	if newRefresh == "" {
		newRefresh = refreshToken
	}

	creds := plugin.Credentials{
		"access_token":  token.AccessToken,
		"refresh_token": newRefresh,
		"client_id":     clientID,
		"client_secret": clientSecret,
		"tenant_id":     tenant,
		"user_id":       current.Get("user_id"),
	}
	return plugin.OAuthCredentials{
		Credentials: creds,
		ExpiresAt:   token.ExpiresAt(time.Now()),
	}, nil
}

// ValidateCredentials checks the access token with a Graph /me call.
func (p *Provider) ValidateCredentials(ctx context.Context, creds plugin.Credentials) error {
	accessToken, err := creds.Require("access_token")
	if err != nil {
		return err
	}

	headers := http.Header{}
	headers.Set("Authorization", "Bearer "+accessToken)
	headers.Set("Accept", "application/json")

	var user graphUser
	found, err := p.client.GetJSON(ctx, p.graphBase+"/v1.0/me", nil, headers, &user)
	if err != nil {
		var se *httpx.StatusError
		if errors.As(err, &se) {
			return plugin.MapHTTPStatus(se.StatusCode, se.Message, p.Name())
		}
		return plugin.NewError(plugin.ErrInvokeError, "graph userinfo request failed").
			WithCause(err).WithProvider(p.Name())
	}
	if !found {
		return plugin.NewError(plugin.ErrCredentialsInvalid, "graph user not found").WithProvider(p.Name())
	}
	return nil
}

func (p *Provider) fetchUser(ctx context.Context, accessToken string) (*graphUser, error) {
	headers := http.Header{}
	headers.Set("Authorization", "Bearer "+accessToken)
	headers.Set("Accept", "application/json")

	var user graphUser
	found, err := p.client.GetJSON(ctx, p.graphBase+"/v1.0/me", nil, headers, &user)
	if err != nil {
		var se *httpx.StatusError
		if errors.As(err, &se) {
			return nil, plugin.MapHTTPStatus(se.StatusCode, se.Message, p.Name())
		}
		return nil, plugin.NewError(plugin.ErrOAuthError, "failed to fetch user info").
			WithCause(err).WithProvider(p.Name())
	}
	if !found {
		return nil, plugin.NewError(plugin.ErrOAuthError, "graph user not found").WithProvider(p.Name())
	}
	return &user, nil
}

type graphUser struct {
	ID                string `json:"id"`
	DisplayName       string `json:"displayName"`
	UserPrincipalName string `json:"userPrincipalName"`
}

func (u *graphUser) displayName() string {
	if u.DisplayName != "" {
		return u.DisplayName
	}
	return u.UserPrincipalName
}

func (p *Provider) authURL(tenant string) string {
	return fmt.Sprintf("%s/%s/oauth2/v2.0/authorize", p.loginBase, url.PathEscape(tenant))
}

func (p *Provider) tokenURL(tenant string) string {
	return fmt.Sprintf("%s/%s/oauth2/v2.0/token", p.loginBase, url.PathEscape(tenant))
}

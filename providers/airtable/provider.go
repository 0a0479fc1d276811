// Package airtable implements credential validation for Airtable personal
// access tokens. Airtable webhook provisioning lives in the trigger package;
// this provider only proves a token works before a subscription is attempted.
package airtable

import (
	"context"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/BaSui01/hookflow/internal/httpx"
	"github.com/BaSui01/hookflow/plugin"
)

const whoamiURL = "https://api.airtable.com/v0/meta/whoami"

// Provider validates Airtable personal access tokens.
type Provider struct {
	client *httpx.Client
	logger *zap.Logger

	baseOverride string
}

// New creates an Airtable credential provider.
func New(client *httpx.Client, logger *zap.Logger) *Provider {
	return &Provider{
		client: client,
		logger: logger.With(zap.String("provider", "airtable")),
	}
}

func (p *Provider) Name() string { return "airtable" }

func (p *Provider) url() string {
	if p.baseOverride != "" {
		return p.baseOverride
	}
	return whoamiURL
}

// ValidateCredentials checks the personal access token with a whoami call.
func (p *Provider) ValidateCredentials(ctx context.Context, creds plugin.Credentials) error {
	accessToken, err := creds.Require("access_token")
	if err != nil {
		return err
	}

	headers := http.Header{}
	headers.Set("Authorization", "Bearer "+accessToken)
	headers.Set("Content-Type", "application/json")

	var out struct {
		ID string `json:"id"`
	}
	found, err := p.client.GetJSON(ctx, p.url(), nil, headers, &out)
	if err != nil {
		var se *httpx.StatusError
		if errors.As(err, &se) {
			return plugin.MapHTTPStatus(se.StatusCode, "token validation failed: "+se.Message, p.Name())
		}
		return plugin.NewError(plugin.ErrCredentialsInvalid, "token validation failed").
			WithCause(err).WithProvider(p.Name())
	}
	if !found || out.ID == "" {
		return plugin.NewError(plugin.ErrCredentialsInvalid, "whoami returned no user").WithProvider(p.Name())
	}
	return nil
}

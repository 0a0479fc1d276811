// Package twilio implements credential validation and phone number listing
// for Twilio accounts. Credentials are the account SID and auth token pair,
// sent as HTTP Basic auth.
package twilio

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"go.uber.org/zap"

	"github.com/BaSui01/hookflow/internal/httpx"
	"github.com/BaSui01/hookflow/plugin"
	"github.com/BaSui01/hookflow/providers"
)

const apiBaseURL = "https://api.twilio.com"

// Provider validates Twilio account credentials.
type Provider struct {
	client *httpx.Client
	logger *zap.Logger

	baseOverride string
}

// New creates a Twilio credential provider.
func New(client *httpx.Client, logger *zap.Logger) *Provider {
	return &Provider{
		client: client,
		logger: logger.With(zap.String("provider", "twilio")),
	}
}

func (p *Provider) Name() string { return "twilio" }

func (p *Provider) base() string {
	if p.baseOverride != "" {
		return p.baseOverride
	}
	return apiBaseURL
}

// ValidateCredentials fetches the account resource to prove the SID/token
// pair works.
func (p *Provider) ValidateCredentials(ctx context.Context, creds plugin.Credentials) error {
	accountSID, err := creds.Require("account_sid")
	if err != nil {
		return err
	}
	authToken, err := creds.Require("auth_token")
	if err != nil {
		return err
	}

	headers := http.Header{}
	headers.Set("Authorization", providers.BasicAuth(accountSID, authToken))

	rawURL := fmt.Sprintf("%s/2010-04-01/Accounts/%s.json", p.base(), url.PathEscape(accountSID))

	var out map[string]any
	found, err := p.client.GetJSON(ctx, rawURL, nil, headers, &out)
	if err != nil {
		var se *httpx.StatusError
		if errors.As(err, &se) {
			return plugin.MapHTTPStatus(se.StatusCode, "account validation failed: "+se.Message, p.Name())
		}
		return plugin.NewError(plugin.ErrCredentialsInvalid, "account validation failed").
			WithCause(err).WithProvider(p.Name())
	}
	if !found {
		return plugin.NewError(plugin.ErrCredentialsInvalid, "account not found").WithProvider(p.Name())
	}
	return nil
}

// PhoneNumber is one incoming phone number on the account.
type PhoneNumber struct {
	SID          string `json:"sid"`
	PhoneNumber  string `json:"phone_number"`
	FriendlyName string `json:"friendly_name"`
}

// Label renders the display label for pickers.
func (n PhoneNumber) Label() string {
	if n.FriendlyName != "" && n.FriendlyName != n.PhoneNumber {
		return fmt.Sprintf("%s (%s)", n.FriendlyName, n.PhoneNumber)
	}
	return n.PhoneNumber
}

// ListPhoneNumbers pages through all incoming phone numbers on the account.
func (p *Provider) ListPhoneNumbers(ctx context.Context, creds plugin.Credentials) ([]PhoneNumber, error) {
	accountSID, err := creds.Require("account_sid")
	if err != nil {
		return nil, err
	}
	authToken, err := creds.Require("auth_token")
	if err != nil {
		return nil, err
	}

	headers := http.Header{}
	headers.Set("Authorization", providers.BasicAuth(accountSID, authToken))

	next := fmt.Sprintf("/2010-04-01/Accounts/%s/IncomingPhoneNumbers.json", url.PathEscape(accountSID))
	query := url.Values{"PageSize": {"100"}}

	var numbers []PhoneNumber
	for next != "" {
		var page struct {
			IncomingPhoneNumbers []PhoneNumber `json:"incoming_phone_numbers"`
			NextPageURI          string        `json:"next_page_uri"`
		}
		found, err := p.client.GetJSON(ctx, p.base()+next, query, headers, &page)
		if err != nil {
			var se *httpx.StatusError
			if errors.As(err, &se) {
				return nil, plugin.MapHTTPStatus(se.StatusCode, "failed to fetch phone numbers: "+se.Message, p.Name())
			}
			return nil, plugin.NewError(plugin.ErrInvokeError, "failed to fetch phone numbers").
				WithCause(err).WithProvider(p.Name())
		}
		if !found {
			break
		}

		for _, n := range page.IncomingPhoneNumbers {
			if n.SID != "" && n.PhoneNumber != "" {
				numbers = append(numbers, n)
			}
		}

		// next_page_uri already carries the paging query
		next = strings.TrimSpace(page.NextPageURI)
		query = nil
	}
	return numbers, nil
}

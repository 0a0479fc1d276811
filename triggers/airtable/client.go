package airtable

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strconv"

	"go.uber.org/zap"

	"github.com/BaSui01/hookflow/internal/httpx"
	"github.com/BaSui01/hookflow/plugin"
)

const defaultBaseURL = "https://api.airtable.com/v0"

// Client wraps the Airtable webhook management API. Tokens are passed per
// call because the personal access token lives in the credential bag.
type Client struct {
	client *httpx.Client
	logger *zap.Logger

	baseOverride string
}

// NewClient builds an Airtable API client.
func NewClient(logger *zap.Logger) *Client {
	return &Client{
		client: httpx.New(httpx.DefaultConfig(), logger),
		logger: logger.With(zap.String("trigger", "airtable")),
	}
}

func (c *Client) base() string {
	if c.baseOverride != "" {
		return c.baseOverride
	}
	return defaultBaseURL
}

func headers(token string) http.Header {
	h := http.Header{}
	h.Set("Authorization", "Bearer "+token)
	return h
}

func wrap(err error, code plugin.ErrorCode, msg string) error {
	var status *httpx.StatusError
	if errors.As(err, &status) {
		return plugin.MapHTTPStatus(status.StatusCode, status.Message, "airtable")
	}
	return plugin.NewError(code, msg).WithCause(err).WithProvider("airtable")
}

// WhoAmI validates a token against /meta/whoami.
func (c *Client) WhoAmI(ctx context.Context, token string) error {
	found, err := c.client.GetJSON(ctx, c.base()+"/meta/whoami", nil, headers(token), nil)
	if err != nil {
		return wrap(err, plugin.ErrCredentialsInvalid, "token validation failed")
	}
	if !found {
		return plugin.NewError(plugin.ErrCredentialsInvalid, "whoami endpoint not found").WithProvider("airtable")
	}
	return nil
}

// CreatedWebhook is the creation response.
type CreatedWebhook struct {
	ID              string `json:"id"`
	MacSecretBase64 string `json:"macSecretBase64"`
	ExpirationTime  string `json:"expirationTime"`
}

// CreateWebhook registers a notification URL on a base.
func (c *Client) CreateWebhook(ctx context.Context, token, baseID, endpoint string, spec map[string]any) (CreatedWebhook, error) {
	payload := map[string]any{
		"notificationUrl": endpoint,
		"specification":   spec,
	}
	var out CreatedWebhook
	err := c.client.PostJSON(ctx, c.base()+"/bases/"+baseID+"/webhooks", headers(token), payload, &out)
	if err != nil {
		return CreatedWebhook{}, wrap(err, plugin.ErrSubscriptionError, "webhook creation failed")
	}
	if out.ID == "" {
		return CreatedWebhook{}, plugin.NewError(plugin.ErrSubscriptionError,
			"webhook creation returned no id").WithProvider("airtable")
	}
	return out, nil
}

// DeleteWebhook removes a webhook from a base.
func (c *Client) DeleteWebhook(ctx context.Context, token, baseID, webhookID string) error {
	req := httpx.Request{
		Method:  http.MethodDelete,
		URL:     c.base() + "/bases/" + baseID + "/webhooks/" + webhookID,
		Headers: headers(token),
	}
	resp, err := c.client.Do(ctx, req)
	if err != nil {
		return wrap(err, plugin.ErrUnsubscribeError, "webhook deletion failed")
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return plugin.NewError(plugin.ErrNotFound, "webhook "+webhookID+" not found").WithProvider("airtable")
	case resp.StatusCode >= 400:
		return plugin.MapHTTPStatus(resp.StatusCode, "webhook deletion rejected", "airtable")
	}
	return nil
}

// RefreshWebhook extends the webhook lifetime by another 7 days and returns
// the new expiration time.
func (c *Client) RefreshWebhook(ctx context.Context, token, baseID, webhookID string) (string, error) {
	var out struct {
		ExpirationTime string `json:"expirationTime"`
	}
	url := c.base() + "/bases/" + baseID + "/webhooks/" + webhookID + "/refresh"
	if err := c.client.PostJSON(ctx, url, headers(token), map[string]any{}, &out); err != nil {
		return "", wrap(err, plugin.ErrSubscriptionError, "webhook refresh failed")
	}
	return out.ExpirationTime, nil
}

// PayloadPage is one page of change payloads.
type PayloadPage struct {
	Payloads      []map[string]any `json:"payloads"`
	Cursor        int              `json:"cursor"`
	MightHaveMore bool             `json:"mightHaveMore"`
}

// ListPayloads pulls change payloads starting at the cursor, following
// mightHaveMore until drained.
func (c *Client) ListPayloads(ctx context.Context, token, baseID, webhookID string, cursor int) (PayloadPage, error) {
	endpoint := c.base() + "/bases/" + baseID + "/webhooks/" + webhookID + "/payloads"

	combined := PayloadPage{Cursor: cursor}
	for {
		var page PayloadPage
		query := url.Values{"cursor": {strconv.Itoa(combined.Cursor)}}
		found, err := c.client.GetJSON(ctx, endpoint, query, headers(token), &page)
		if err != nil {
			return PayloadPage{}, wrap(err, plugin.ErrDispatchError, "payload fetch failed")
		}
		if !found {
			return PayloadPage{}, plugin.NewError(plugin.ErrNotFound,
				"webhook "+webhookID+" not found").WithProvider("airtable")
		}

		combined.Payloads = append(combined.Payloads, page.Payloads...)
		combined.Cursor = page.Cursor
		if !page.MightHaveMore {
			return combined, nil
		}
	}
}

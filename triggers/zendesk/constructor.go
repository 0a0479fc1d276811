package zendesk

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/BaSui01/hookflow/internal/httpx"
	"github.com/BaSui01/hookflow/plugin"
	"github.com/BaSui01/hookflow/providers"
)

// Constructor provisions Zendesk webhooks. Authentication follows the
// credential type: email/token Basic auth for API keys, Bearer for OAuth.
type Constructor struct {
	client *httpx.Client
	logger *zap.Logger

	baseOverride string
}

// NewConstructor builds the subscription constructor.
func NewConstructor(logger *zap.Logger) *Constructor {
	return &Constructor{
		client: httpx.New(httpx.DefaultConfig(), logger),
		logger: logger.With(zap.String("trigger", "zendesk")),
	}
}

func (c *Constructor) base(subdomain string) string {
	if c.baseOverride != "" {
		return c.baseOverride
	}
	return fmt.Sprintf("https://%s.zendesk.com", subdomain)
}

func (c *Constructor) authorize(creds plugin.Credentials, credType plugin.CredentialType) (subdomain string, headers http.Header, err error) {
	subdomain = creds.Get("subdomain")
	if subdomain == "" {
		return "", nil, plugin.NewError(plugin.ErrSubscriptionError,
			"subdomain is required").WithProvider("zendesk")
	}

	headers = http.Header{}
	switch credType {
	case plugin.CredentialAPIKey:
		email := creds.Get("email")
		token := creds.Get("api_token")
		if email == "" || token == "" {
			return "", nil, plugin.NewError(plugin.ErrCredentialsInvalid,
				"email and api_token are required").WithProvider("zendesk")
		}
		headers.Set("Authorization", providers.BasicAuth(email+"/token", token))
	case plugin.CredentialOAuth:
		token := creds.Get("access_token")
		if token == "" {
			return "", nil, plugin.NewError(plugin.ErrCredentialsInvalid,
				"access_token is required").WithProvider("zendesk")
		}
		headers.Set("Authorization", "Bearer "+token)
	default:
		return "", nil, plugin.NewError(plugin.ErrSubscriptionError,
			fmt.Sprintf("unsupported credential type %q", credType)).WithProvider("zendesk")
	}
	return subdomain, headers, nil
}

func wrap(err error, code plugin.ErrorCode, msg string) error {
	var status *httpx.StatusError
	if errors.As(err, &status) {
		return plugin.MapHTTPStatus(status.StatusCode, status.Message, "zendesk")
	}
	return plugin.NewError(code, msg).WithCause(err).WithProvider("zendesk")
}

func (c *Constructor) CreateSubscription(ctx context.Context, endpoint string, parameters map[string]string, creds plugin.Credentials, credType plugin.CredentialType) (plugin.Subscription, error) {
	subdomain, headers, err := c.authorize(creds, credType)
	if err != nil {
		return plugin.Subscription{}, err
	}

	var vendorTypes []string
	for _, event := range strings.Split(parameters["events"], ",") {
		if vendorType := eventTriggers[strings.TrimSpace(event)]; vendorType != "" {
			vendorTypes = append(vendorTypes, vendorType)
		}
	}
	if len(vendorTypes) == 0 {
		return plugin.Subscription{}, plugin.NewError(plugin.ErrSubscriptionError,
			"events selects no supported event type").WithProvider("zendesk")
	}

	webhook := map[string]any{
		"name":           "hookflow webhook " + uuid.NewString()[:8],
		"status":         "active",
		"endpoint":       endpoint,
		"http_method":    "POST",
		"request_format": "json",
		"subscriptions":  vendorTypes,
	}
	secret := parameters["webhook_secret"]
	if secret != "" {
		webhook["signing_secret"] = secret
	}

	var out struct {
		Webhook struct {
			ID     any    `json:"id"`
			Status string `json:"status"`
		} `json:"webhook"`
	}
	url := c.base(subdomain) + "/api/v2/webhooks"
	if err := c.client.PostJSON(ctx, url, headers, map[string]any{"webhook": webhook}, &out); err != nil {
		return plugin.Subscription{}, wrap(err, plugin.ErrSubscriptionError, "webhook creation failed")
	}

	webhookID := fmt.Sprint(out.Webhook.ID)
	if webhookID == "" || webhookID == "<nil>" {
		return plugin.Subscription{}, plugin.NewError(plugin.ErrSubscriptionError,
			"webhook creation returned no id").WithProvider("zendesk")
	}

	c.logger.Info("webhook created", zap.String("webhook_id", webhookID))
	props := map[string]string{"external_id": webhookID, "status": out.Webhook.Status}
	if secret != "" {
		props["webhook_secret"] = secret
	}
	return plugin.Subscription{
		Endpoint:   endpoint,
		Parameters: parameters,
		Properties: props,
		ExpiresAt:  -1,
	}, nil
}

func (c *Constructor) DeleteSubscription(ctx context.Context, sub plugin.Subscription, creds plugin.Credentials, credType plugin.CredentialType) (plugin.UnsubscribeResult, error) {
	webhookID := sub.Property("external_id")
	if webhookID == "" {
		return plugin.UnsubscribeResult{}, plugin.NewError(plugin.ErrUnsubscribeError,
			"subscription is missing the webhook id").WithProvider("zendesk")
	}
	subdomain, headers, err := c.authorize(creds, credType)
	if err != nil {
		return plugin.UnsubscribeResult{}, err
	}

	req := httpx.Request{
		Method:  http.MethodDelete,
		URL:     c.base(subdomain) + "/api/v2/webhooks/" + webhookID,
		Headers: headers,
	}
	resp, err := c.client.Do(ctx, req)
	if err != nil {
		return plugin.UnsubscribeResult{}, wrap(err, plugin.ErrUnsubscribeError, "webhook deletion failed")
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return plugin.UnsubscribeResult{}, plugin.NewError(plugin.ErrNotFound,
			"webhook "+webhookID+" not found").WithProvider("zendesk")
	case resp.StatusCode >= 400:
		return plugin.UnsubscribeResult{}, plugin.MapHTTPStatus(resp.StatusCode, "webhook deletion rejected", "zendesk")
	}
	return plugin.UnsubscribeResult{Success: true, Message: "webhook " + webhookID + " removed"}, nil
}

// RefreshSubscription is a no-op: Zendesk webhooks do not expire.
func (c *Constructor) RefreshSubscription(ctx context.Context, sub plugin.Subscription, creds plugin.Credentials, credType plugin.CredentialType) (plugin.Subscription, error) {
	return sub, nil
}

// ValidateCredentials lists webhooks as a cheap authenticated call.
func (c *Constructor) ValidateCredentials(ctx context.Context, creds plugin.Credentials) error {
	subdomain, headers, err := c.authorize(creds, plugin.CredentialAPIKey)
	if err != nil {
		return err
	}
	found, err := c.client.GetJSON(ctx, c.base(subdomain)+"/api/v2/webhooks", nil, headers, nil)
	if err != nil {
		return wrap(err, plugin.ErrCredentialsInvalid, "credential validation failed")
	}
	if !found {
		return plugin.NewError(plugin.ErrCredentialsInvalid, "webhooks endpoint not found").WithProvider("zendesk")
	}
	return nil
}

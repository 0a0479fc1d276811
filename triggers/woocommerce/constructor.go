package woocommerce

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/BaSui01/hookflow/internal/httpx"
	"github.com/BaSui01/hookflow/plugin"
	wooprovider "github.com/BaSui01/hookflow/providers/woocommerce"
)

// Constructor provisions one store webhook per selected topic. WooCommerce
// only supports key-pair credentials; the store URL comes from the
// credential bag so there is no fixed API base.
type Constructor struct {
	client *httpx.Client
	logger *zap.Logger
}

// NewConstructor builds the subscription constructor.
func NewConstructor(logger *zap.Logger) *Constructor {
	return &Constructor{
		client: httpx.New(httpx.DefaultConfig(), logger),
		logger: logger.With(zap.String("trigger", "woocommerce")),
	}
}

func wrap(err error, code plugin.ErrorCode, msg string) error {
	var status *httpx.StatusError
	if errors.As(err, &status) {
		return plugin.MapHTTPStatus(status.StatusCode, status.Message, "woocommerce")
	}
	return plugin.NewError(code, msg).WithCause(err).WithProvider("woocommerce")
}

// topics resolves the events parameter into store webhook topics.
func topics(parameters map[string]string) ([]string, error) {
	var out []string
	for _, event := range strings.Split(parameters["events"], ",") {
		event = strings.TrimSpace(event)
		if event == "" {
			continue
		}
		topic := strings.Replace(event, "_", ".", 1)
		if topicEvents[topic] == "" {
			return nil, plugin.NewError(plugin.ErrSubscriptionError,
				"unsupported event "+event).WithProvider("woocommerce")
		}
		out = append(out, topic)
	}
	if len(out) == 0 {
		return nil, plugin.NewError(plugin.ErrSubscriptionError,
			"at least one event is required").WithProvider("woocommerce")
	}
	return out, nil
}

// sharedSecret uses the caller's secret or mints a random one so deliveries
// are always signed.
func sharedSecret(parameters map[string]string) string {
	if secret := parameters["webhook_secret"]; secret != "" {
		return secret
	}
	buf := make([]byte, 32)
	rand.Read(buf)
	return hex.EncodeToString(buf)
}

// CreateSubscription registers one webhook per topic, all sharing the same
// delivery URL and signing secret.
func (c *Constructor) CreateSubscription(ctx context.Context, endpoint string, parameters map[string]string, creds plugin.Credentials, credType plugin.CredentialType) (plugin.Subscription, error) {
	if credType != plugin.CredentialAPIKey {
		return plugin.Subscription{}, plugin.NewError(plugin.ErrSubscriptionError,
			"only key-pair credentials are supported").WithProvider("woocommerce")
	}
	settings, err := wooprovider.ExtractStoreSettings(creds)
	if err != nil {
		return plugin.Subscription{}, err
	}
	selected, err := topics(parameters)
	if err != nil {
		return plugin.Subscription{}, err
	}
	secret := sharedSecret(parameters)

	var webhookIDs []string
	for _, topic := range selected {
		rawURL, query, headers := settings.APIRequest("/webhooks", nil)
		if len(query) > 0 {
			rawURL += "?" + query.Encode()
		}

		var out struct {
			ID    any    `json:"id"`
			Topic string `json:"topic"`
		}
		payload := map[string]any{
			"name":         "hookflow " + topic,
			"topic":        topic,
			"delivery_url": endpoint,
			"status":       "active",
			"secret":       secret,
			"api_version":  "wp_api_v3",
		}
		if err := c.client.PostJSON(ctx, rawURL, headers, payload, &out); err != nil {
			return plugin.Subscription{}, wrap(err, plugin.ErrSubscriptionError,
				"webhook creation failed for topic "+topic)
		}

		id := anyID(out.ID)
		if id == "" {
			return plugin.Subscription{}, plugin.NewError(plugin.ErrSubscriptionError,
				"webhook creation returned no id for topic "+topic).WithProvider("woocommerce")
		}
		webhookIDs = append(webhookIDs, id)
	}

	c.logger.Info("webhooks created",
		zap.Strings("webhook_ids", webhookIDs),
		zap.Strings("topics", selected),
	)
	return plugin.Subscription{
		Endpoint:   endpoint,
		Parameters: parameters,
		Properties: map[string]string{
			"webhook_ids":    strings.Join(webhookIDs, ","),
			"webhook_secret": secret,
		},
		ExpiresAt: -1,
	}, nil
}

// DeleteSubscription force-deletes every webhook the subscription created.
func (c *Constructor) DeleteSubscription(ctx context.Context, sub plugin.Subscription, creds plugin.Credentials, credType plugin.CredentialType) (plugin.UnsubscribeResult, error) {
	ids := sub.Property("webhook_ids")
	if ids == "" {
		ids = sub.Property("external_id")
	}
	if ids == "" {
		return plugin.UnsubscribeResult{}, plugin.NewError(plugin.ErrUnsubscribeError,
			"subscription is missing the webhook ids").WithProvider("woocommerce")
	}
	settings, err := wooprovider.ExtractStoreSettings(creds)
	if err != nil {
		return plugin.UnsubscribeResult{}, err
	}

	var deleted []string
	for _, id := range strings.Split(ids, ",") {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		rawURL, query, headers := settings.APIRequest("/webhooks/"+id, url.Values{"force": {"true"}})
		resp, err := c.client.Do(ctx, httpx.Request{
			Method:  http.MethodDelete,
			URL:     rawURL,
			Query:   query,
			Headers: headers,
		})
		if err != nil {
			return plugin.UnsubscribeResult{}, wrap(err, plugin.ErrUnsubscribeError,
				"webhook deletion failed for "+id)
		}
		resp.Body.Close()
		if resp.StatusCode >= 400 && resp.StatusCode != http.StatusNotFound {
			return plugin.UnsubscribeResult{}, plugin.MapHTTPStatus(resp.StatusCode,
				"webhook deletion rejected for "+id, "woocommerce")
		}
		deleted = append(deleted, id)
	}
	return plugin.UnsubscribeResult{
		Success: true,
		Message: "deleted webhooks " + strings.Join(deleted, ", "),
	}, nil
}

// RefreshSubscription is a no-op: store webhooks do not expire.
func (c *Constructor) RefreshSubscription(ctx context.Context, sub plugin.Subscription, creds plugin.Credentials, credType plugin.CredentialType) (plugin.Subscription, error) {
	return sub, nil
}

// ParameterOptions lists the supported events for pickers.
func (c *Constructor) ParameterOptions(ctx context.Context, parameter string, creds plugin.Credentials) ([]plugin.ParameterOption, error) {
	if parameter != "events" {
		return nil, nil
	}
	options := make([]plugin.ParameterOption, 0, len(topicEvents))
	for topic, event := range topicEvents {
		options = append(options, plugin.ParameterOption{Value: event, Label: topic})
	}
	sort.Slice(options, func(i, j int) bool { return options[i].Value < options[j].Value })
	return options, nil
}

// anyID normalizes the webhook id, which the store returns as a JSON number.
func anyID(id any) string {
	switch v := id.(type) {
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	default:
		return ""
	}
}

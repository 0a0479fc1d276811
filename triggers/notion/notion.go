// Package notion dispatches Notion webhook deliveries. Signature checks use
// the integration's verification token; payloads are optionally hydrated
// with the full entity fetched from the Notion REST API.
package notion

import (
	"context"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/BaSui01/hookflow/plugin"
	"github.com/BaSui01/hookflow/triggers"
)

const signatureHeader = "X-Notion-Signature"

// SupportedEventTypes lists every vendor event type the trigger classifies.
var SupportedEventTypes = []string{
	"page.created",
	"page.deleted",
	"page.undeleted",
	"page.content_updated",
	"page.moved",
	"page.properties_updated",
	"page.locked",
	"page.unlocked",
	"database.created",
	"database.content_updated",
	"database.deleted",
	"database.undeleted",
	"database.moved",
	"database.schema_updated",
	"data_source.created",
	"data_source.deleted",
	"data_source.undeleted",
	"data_source.moved",
	"data_source.content_updated",
	"data_source.schema_updated",
	"comment.created",
	"comment.updated",
	"comment.deleted",
}

func supported(eventType string) bool {
	for _, t := range SupportedEventTypes {
		if t == eventType {
			return true
		}
	}
	return false
}

// Trigger classifies Notion deliveries. Hydrator is optional; when set,
// dispatched payloads carry the fetched entity alongside the raw event.
type Trigger struct {
	hydrator *Hydrator
	logger   *zap.Logger
}

// NewTrigger builds the dispatcher. hydrator may be nil.
func NewTrigger(hydrator *Hydrator, logger *zap.Logger) *Trigger {
	return &Trigger{hydrator: hydrator, logger: logger.With(zap.String("trigger", "notion"))}
}

// DispatchEvent verifies and classifies one delivery. The initial
// subscription handshake (a payload holding only verification_token) is
// acknowledged without producing events.
func (t *Trigger) DispatchEvent(ctx context.Context, sub plugin.Subscription, r *http.Request) (plugin.EventDispatch, error) {
	body, err := triggers.ReadBody(r)
	if err != nil {
		return plugin.EventDispatch{}, err
	}
	payload, err := triggers.ParseJSON(body)
	if err != nil {
		return plugin.EventDispatch{}, err
	}

	if _, ok := payload["verification_token"]; ok && len(payload) == 1 {
		t.logger.Info("verification handshake received")
		return plugin.EventDispatch{Payload: payload, Response: plugin.OKJSON()}, nil
	}

	if token := sub.Property("verification_token"); token != "" {
		if err := verifySignature(r.Header.Get(signatureHeader), token, body); err != nil {
			return plugin.EventDispatch{}, err
		}
	}

	eventType, _ := payload["type"].(string)
	if eventType == "" {
		return plugin.EventDispatch{}, plugin.NewError(plugin.ErrDispatchError,
			"missing event type in payload").WithProvider("notion")
	}

	if allowed := sub.Property("event_types"); allowed != "" && !containsEvent(allowed, eventType) {
		return plugin.EventDispatch{Payload: payload, Response: plugin.IgnoredJSON()}, nil
	}

	if t.hydrator != nil {
		if err := t.hydrator.Hydrate(ctx, eventType, payload); err != nil {
			// deliver the raw event rather than dropping it
			t.logger.Warn("hydration failed", zap.String("event", eventType), zap.Error(err))
		}
	}

	return plugin.EventDispatch{
		Events:   []string{plugin.EventName(eventType)},
		Payload:  payload,
		Response: plugin.OKJSON(),
	}, nil
}

func containsEvent(csv, eventType string) bool {
	for _, item := range strings.Split(csv, ",") {
		if strings.TrimSpace(item) == eventType {
			return true
		}
	}
	return false
}

func verifySignature(header, token string, body []byte) error {
	if header == "" {
		return plugin.NewError(plugin.ErrSignatureInvalid,
			"missing "+signatureHeader+" header").WithProvider("notion")
	}
	const prefix = "sha256="
	if !strings.HasPrefix(header, prefix) {
		return plugin.NewError(plugin.ErrSignatureInvalid,
			"unsupported signature format").WithProvider("notion")
	}
	expected := triggers.HMACSHA256Hex([]byte(token), body)
	if !triggers.SecureCompare(strings.TrimPrefix(header, prefix), expected) {
		return plugin.NewError(plugin.ErrSignatureInvalid,
			"webhook signature mismatch").WithProvider("notion")
	}
	return nil
}

// Constructor stores the verification token and optional event filter.
// Subscriptions are provisioned manually in the Notion integration settings,
// so there is nothing to create or tear down on the vendor side.
type Constructor struct{}

// NewConstructor builds the subscription constructor.
func NewConstructor() *Constructor { return &Constructor{} }

func (c *Constructor) CreateSubscription(ctx context.Context, endpoint string, parameters map[string]string, creds plugin.Credentials, credType plugin.CredentialType) (plugin.Subscription, error) {
	token := parameters["verification_token"]
	if token == "" {
		return plugin.Subscription{}, plugin.NewError(plugin.ErrSubscriptionError,
			"verification_token is required").WithProvider("notion")
	}

	var filtered []string
	for _, item := range strings.Split(parameters["event_types"], ",") {
		if item = strings.TrimSpace(item); item != "" && supported(item) {
			filtered = append(filtered, item)
		}
	}

	props := map[string]string{"verification_token": token}
	if len(filtered) > 0 {
		props["event_types"] = strings.Join(filtered, ",")
	}
	return plugin.Subscription{
		Endpoint:   endpoint,
		Parameters: parameters,
		Properties: props,
		ExpiresAt:  -1,
	}, nil
}

func (c *Constructor) DeleteSubscription(ctx context.Context, sub plugin.Subscription, creds plugin.Credentials, credType plugin.CredentialType) (plugin.UnsubscribeResult, error) {
	return plugin.UnsubscribeResult{Success: true, Message: "subscription deleted"}, nil
}

func (c *Constructor) RefreshSubscription(ctx context.Context, sub plugin.Subscription, creds plugin.Credentials, credType plugin.CredentialType) (plugin.Subscription, error) {
	return sub, nil
}

// ParameterOptions exposes the supported event types as selectable values.
func (c *Constructor) ParameterOptions(ctx context.Context, parameter string, creds plugin.Credentials) ([]plugin.ParameterOption, error) {
	if parameter != "event_types" {
		return nil, nil
	}
	options := make([]plugin.ParameterOption, 0, len(SupportedEventTypes))
	for _, t := range SupportedEventTypes {
		options = append(options, plugin.ParameterOption{
			Value: t,
			Label: strings.ReplaceAll(t, ".", " / "),
		})
	}
	return options, nil
}

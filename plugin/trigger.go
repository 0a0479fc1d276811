package plugin

import (
	"context"
	"net/http"
	"strings"
)

// Subscription describes one provisioned webhook subscription. Endpoint is the
// public URL the vendor delivers to; Properties holds whatever the
// constructor needs at dispatch time (signing secrets, external IDs, cursors).
// ExpiresAt of -1 means the subscription never expires on the vendor side.
type Subscription struct {
	Endpoint   string            `json:"endpoint"`
	Parameters map[string]string `json:"parameters,omitempty"`
	Properties map[string]string `json:"properties,omitempty"`
	ExpiresAt  int64             `json:"expires_at"`
}

// Property returns a subscription property, falling back to the creation
// parameters when the property is unset.
func (s Subscription) Property(key string) string {
	if v := s.Properties[key]; v != "" {
		return v
	}
	return s.Parameters[key]
}

// UnsubscribeResult reports the outcome of deleting a subscription.
type UnsubscribeResult struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}

// WebhookResponse is the HTTP response a trigger hands back to the vendor.
type WebhookResponse struct {
	Status      int    `json:"status"`
	Body        string `json:"body"`
	ContentType string `json:"content_type"`
}

// OKJSON is the standard acknowledgement for JSON webhooks.
func OKJSON() WebhookResponse {
	return WebhookResponse{Status: http.StatusOK, Body: `{"status": "ok"}`, ContentType: "application/json"}
}

// IgnoredJSON acknowledges a delivery the subscription filtered out.
func IgnoredJSON() WebhookResponse {
	return WebhookResponse{Status: http.StatusOK, Body: `{"status": "ignored"}`, ContentType: "application/json"}
}

// EventDispatch is the result of classifying one webhook delivery: zero or
// more named events, the variables handed to the host alongside them, and the
// response to return to the vendor.
type EventDispatch struct {
	UserID   string         `json:"user_id,omitempty"`
	Events   []string       `json:"events"`
	Payload  map[string]any `json:"payload,omitempty"`
	Response WebhookResponse
}

// Trigger classifies inbound webhook deliveries into named events.
type Trigger interface {
	// DispatchEvent verifies and classifies one delivery. Implementations
	// must not consume the request body without buffering it first when the
	// signature covers the raw bytes.
	DispatchEvent(ctx context.Context, sub Subscription, r *http.Request) (EventDispatch, error)
}

// ParameterOption is one selectable value for a dynamic parameter.
type ParameterOption struct {
	Value string `json:"value"`
	Label string `json:"label"`
}

// SubscriptionConstructor provisions webhook subscriptions on the vendor side.
type SubscriptionConstructor interface {
	CreateSubscription(ctx context.Context, endpoint string, parameters map[string]string, creds Credentials, credType CredentialType) (Subscription, error)
	DeleteSubscription(ctx context.Context, sub Subscription, creds Credentials, credType CredentialType) (UnsubscribeResult, error)
	RefreshSubscription(ctx context.Context, sub Subscription, creds Credentials, credType CredentialType) (Subscription, error)
}

// OptionProvider is implemented by constructors that expose dynamic parameter
// options (for example selectable event types).
type OptionProvider interface {
	ParameterOptions(ctx context.Context, parameter string, creds Credentials) ([]ParameterOption, error)
}

// EventName normalizes a vendor event type into the host's event naming
// convention, e.g. "page.created" -> "page_created".
func EventName(vendorType string) string {
	return strings.ReplaceAll(vendorType, ".", "_")
}

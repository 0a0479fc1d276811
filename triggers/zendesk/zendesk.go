// Package zendesk dispatches Zendesk webhook deliveries and manages the
// webhooks through /api/v2/webhooks.
package zendesk

import (
	"context"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/BaSui01/hookflow/plugin"
	"github.com/BaSui01/hookflow/triggers"
)

const (
	signatureHeader = "X-Zendesk-Webhook-Signature"
	timestampHeader = "X-Zendesk-Webhook-Signature-Timestamp"

	ticketPrefix  = "zen:event-type:ticket."
	articlePrefix = "zen:event-type:article."
)

// eventTriggers maps host event names to the vendor webhook trigger types.
// Zendesk calls the comment event "comment_added" while the host name stays
// ticket_comment_created.
var eventTriggers = map[string]string{
	"ticket_created":          ticketPrefix + "created",
	"ticket_status_changed":   ticketPrefix + "status_changed",
	"ticket_priority_changed": ticketPrefix + "priority_changed",
	"ticket_comment_created":  ticketPrefix + "comment_added",
	"ticket_marked_as_spam":   ticketPrefix + "marked_as_spam",
	"article_published":       articlePrefix + "published",
	"article_unpublished":     articlePrefix + "unpublished",
}

// Trigger classifies Zendesk deliveries.
type Trigger struct {
	logger *zap.Logger
}

// NewTrigger builds the dispatcher.
func NewTrigger(logger *zap.Logger) *Trigger {
	return &Trigger{logger: logger.With(zap.String("trigger", "zendesk"))}
}

// DispatchEvent verifies the signing secret when configured, classifies the
// vendor event type and applies the subscription's ticket filters.
func (t *Trigger) DispatchEvent(ctx context.Context, sub plugin.Subscription, r *http.Request) (plugin.EventDispatch, error) {
	body, err := triggers.ReadBody(r)
	if err != nil {
		return plugin.EventDispatch{}, err
	}
	payload, err := triggers.ParseJSON(body)
	if err != nil {
		return plugin.EventDispatch{}, err
	}

	if secret := sub.Property("webhook_secret"); secret != "" {
		if err := verifySignature(r, secret, body); err != nil {
			return plugin.EventDispatch{}, err
		}
	}

	eventType, _ := payload["type"].(string)
	event := classify(eventType)
	if event == "" {
		return plugin.EventDispatch{Payload: payload, Response: plugin.IgnoredJSON()}, nil
	}

	detail, _ := payload["detail"].(map[string]any)
	if strings.HasPrefix(event, "ticket_") && !ticketMatches(detail, sub) {
		return plugin.EventDispatch{Payload: payload, Response: plugin.IgnoredJSON()}, nil
	}

	return plugin.EventDispatch{
		Events:   []string{event},
		Payload:  payload,
		Response: plugin.OKJSON(),
	}, nil
}

// classify maps a vendor event type onto the host event name.
func classify(eventType string) string {
	for event, vendorType := range eventTriggers {
		if vendorType == eventType {
			return event
		}
	}
	return ""
}

// ticketMatches applies the subscription's optional ticket filters: status,
// priority and required tags, all comma-separated.
func ticketMatches(ticket map[string]any, sub plugin.Subscription) bool {
	if !csvMatch(sub.Property("statuses"), stringField(ticket, "status")) {
		return false
	}
	if !csvMatch(sub.Property("priorities"), stringField(ticket, "priority")) {
		return false
	}

	if required := sub.Property("tags"); required != "" {
		tags, _ := ticket["tags"].([]any)
		have := make(map[string]bool, len(tags))
		for _, tag := range tags {
			if s, ok := tag.(string); ok {
				have[strings.ToLower(s)] = true
			}
		}
		for _, tag := range strings.Split(required, ",") {
			if tag = strings.ToLower(strings.TrimSpace(tag)); tag != "" && !have[tag] {
				return false
			}
		}
	}
	return true
}

// csvMatch reports whether value is in the comma-separated allow list; an
// empty list or an absent value passes.
func csvMatch(csv, value string) bool {
	if csv == "" || value == "" {
		return true
	}
	for _, item := range strings.Split(csv, ",") {
		if strings.EqualFold(strings.TrimSpace(item), value) {
			return true
		}
	}
	return false
}

func stringField(m map[string]any, key string) string {
	s, _ := m[key].(string)
	return s
}

// verifySignature checks the base64 HMAC-SHA256 over timestamp + body.
func verifySignature(r *http.Request, secret string, body []byte) error {
	signature := r.Header.Get(signatureHeader)
	timestamp := r.Header.Get(timestampHeader)
	if signature == "" || timestamp == "" {
		return plugin.NewError(plugin.ErrSignatureInvalid,
			"missing webhook signature headers").WithProvider("zendesk")
	}

	expected := triggers.HMACSHA256Base64([]byte(secret), append([]byte(timestamp), body...))
	if !triggers.SecureCompare(signature, expected) {
		return plugin.NewError(plugin.ErrSignatureInvalid,
			"webhook signature mismatch").WithProvider("zendesk")
	}
	return nil
}

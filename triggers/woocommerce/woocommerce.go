// Package woocommerce dispatches WooCommerce webhook deliveries and
// provisions the store-side webhooks through the REST v3 API.
package woocommerce

import (
	"context"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/BaSui01/hookflow/plugin"
	"github.com/BaSui01/hookflow/triggers"
)

const (
	signatureHeader = "X-WC-Webhook-Signature"
	topicHeader     = "X-WC-Webhook-Topic"
	deliveryHeader  = "X-WC-Webhook-Delivery-ID"
	webhookIDHeader = "X-WC-Webhook-ID"
)

// topicEvents maps WooCommerce webhook topics to host event names. The
// store covers orders, products, customers and coupons, each with
// created/updated/deleted.
var topicEvents = map[string]string{}

func init() {
	for _, entity := range []string{"order", "product", "customer", "coupon"} {
		for _, action := range []string{"created", "updated", "deleted"} {
			topic := entity + "." + action
			topicEvents[topic] = plugin.EventName(topic)
		}
	}
}

// Trigger classifies WooCommerce deliveries by the topic header.
type Trigger struct {
	logger *zap.Logger
}

// NewTrigger builds the dispatcher.
func NewTrigger(logger *zap.Logger) *Trigger {
	return &Trigger{logger: logger.With(zap.String("trigger", "woocommerce"))}
}

// DispatchEvent verifies the delivery signature when the subscription has the
// shared secret and maps the topic header onto the host event name.
func (t *Trigger) DispatchEvent(ctx context.Context, sub plugin.Subscription, r *http.Request) (plugin.EventDispatch, error) {
	body, err := triggers.ReadBody(r)
	if err != nil {
		return plugin.EventDispatch{}, err
	}

	if secret := sub.Property("webhook_secret"); secret != "" {
		if err := verifySignature(r, secret, body); err != nil {
			return plugin.EventDispatch{}, err
		}
	}

	topic := strings.ToLower(strings.TrimSpace(r.Header.Get(topicHeader)))
	if topic == "" {
		return plugin.EventDispatch{}, plugin.NewError(plugin.ErrDispatchError,
			"missing "+topicHeader+" header").WithProvider("woocommerce")
	}
	event := topicEvents[topic]
	if event == "" {
		return plugin.EventDispatch{}, plugin.NewError(plugin.ErrDispatchError,
			"unsupported webhook topic "+topic).WithProvider("woocommerce")
	}

	payload, err := triggers.ParseJSON(body)
	if err != nil {
		return plugin.EventDispatch{}, err
	}

	userID := r.Header.Get(deliveryHeader)
	if userID == "" {
		userID = r.Header.Get(webhookIDHeader)
	}
	return plugin.EventDispatch{
		UserID:   userID,
		Events:   []string{event},
		Payload:  payload,
		Response: plugin.OKJSON(),
	}, nil
}

// verifySignature checks the base64 HMAC-SHA256 of the raw body.
func verifySignature(r *http.Request, secret string, body []byte) error {
	signature := r.Header.Get(signatureHeader)
	if signature == "" {
		return plugin.NewError(plugin.ErrSignatureInvalid,
			"missing "+signatureHeader+" header").WithProvider("woocommerce")
	}
	expected := triggers.HMACSHA256Base64([]byte(secret), body)
	if !triggers.SecureCompare(signature, expected) {
		return plugin.NewError(plugin.ErrSignatureInvalid,
			"webhook signature mismatch").WithProvider("woocommerce")
	}
	return nil
}

// Package twilio dispatches Twilio webhook deliveries (SMS, WhatsApp, voice
// calls) and manages webhook URLs on incoming phone numbers.
package twilio

import (
	"context"
	"net/http"
	"net/url"
	"regexp"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/BaSui01/hookflow/plugin"
	"github.com/BaSui01/hookflow/triggers"
)

const signatureHeader = "X-Twilio-Signature"

// twiML is the empty TwiML acknowledgement Twilio expects.
const twiML = `<?xml version="1.0" encoding="UTF-8"?><Response></Response>`

// Trigger classifies Twilio deliveries. Twilio posts form-urlencoded bodies
// and signs them with HMAC-SHA1 over the endpoint URL plus sorted parameters.
type Trigger struct {
	logger *zap.Logger
}

// NewTrigger builds the dispatcher.
func NewTrigger(logger *zap.Logger) *Trigger {
	return &Trigger{logger: logger.With(zap.String("trigger", "twilio"))}
}

// DispatchEvent verifies the request signature when the subscription carries
// the auth token, classifies the delivery and applies the message filters.
func (t *Trigger) DispatchEvent(ctx context.Context, sub plugin.Subscription, r *http.Request) (plugin.EventDispatch, error) {
	body, err := triggers.ReadBody(r)
	if err != nil {
		return plugin.EventDispatch{}, err
	}
	form, err := url.ParseQuery(string(body))
	if err != nil || len(form) == 0 {
		return plugin.EventDispatch{}, plugin.NewError(plugin.ErrDispatchError,
			"payload is not form-urlencoded").WithCause(err).WithProvider("twilio")
	}

	params := make(map[string]string, len(form))
	for key := range form {
		params[key] = form.Get(key)
	}

	if authToken := sub.Property("auth_token"); authToken != "" {
		if err := verifySignature(r, authToken, sub.Endpoint, params); err != nil {
			return plugin.EventDispatch{}, err
		}
	}

	payload := make(map[string]any, len(params))
	for key, value := range params {
		payload[key] = value
	}

	from := params["From"]
	event := classify(params)
	if event == "" || !matches(event, params, sub) {
		return plugin.EventDispatch{
			UserID:   from,
			Payload:  payload,
			Response: twiMLResponse(),
		}, nil
	}

	return plugin.EventDispatch{
		UserID:   from,
		Events:   []string{event},
		Payload:  payload,
		Response: twiMLResponse(),
	}, nil
}

func twiMLResponse() plugin.WebhookResponse {
	return plugin.WebhookResponse{Status: http.StatusOK, Body: twiML, ContentType: "application/xml"}
}

// classify picks the event from the payload shape: WhatsApp senders carry the
// whatsapp: prefix, SMS carries a MessageSid, calls a CallSid plus status.
func classify(params map[string]string) string {
	_, hasBody := params["Body"]
	if strings.HasPrefix(params["From"], "whatsapp:") && hasBody {
		return "whatsapp_received"
	}
	if hasBody && params["MessageSid"] != "" {
		return "sms_received"
	}
	if params["CallSid"] != "" && params["CallStatus"] != "" {
		return "call_received"
	}
	return ""
}

// matches applies the subscription's optional filters for the event kind.
func matches(event string, params map[string]string, sub plugin.Subscription) bool {
	switch event {
	case "sms_received", "whatsapp_received":
		if !inCSV(sub.Property("from_filter"), params["From"], false) {
			return false
		}
		if keyword := sub.Property("body_contains"); keyword != "" &&
			!strings.Contains(strings.ToLower(params["Body"]), strings.ToLower(keyword)) {
			return false
		}
		if pattern := sub.Property("body_regex"); pattern != "" {
			re, err := regexp.Compile(pattern)
			if err != nil || !re.MatchString(params["Body"]) {
				return false
			}
		}
		if event == "whatsapp_received" {
			if filter := sub.Property("profile_name"); filter != "" &&
				!inCSV(filter, params["ProfileName"], true) {
				return false
			}
		}
	case "call_received":
		if !inCSV(sub.Property("call_statuses"), params["CallStatus"], true) {
			return false
		}
	}
	return true
}

// inCSV reports whether value is in the comma-separated allow list. An empty
// list passes; fold toggles case-insensitive comparison.
func inCSV(csv, value string, fold bool) bool {
	if csv == "" {
		return true
	}
	for _, item := range strings.Split(csv, ",") {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		if item == value || (fold && strings.EqualFold(item, value)) {
			return true
		}
	}
	return false
}

// verifySignature checks the base64 HMAC-SHA1 over the endpoint URL followed
// by every form parameter, sorted by key, concatenated as key+value.
func verifySignature(r *http.Request, authToken, endpoint string, params map[string]string) error {
	signature := r.Header.Get(signatureHeader)
	if signature == "" {
		return plugin.NewError(plugin.ErrSignatureInvalid,
			"missing "+signatureHeader+" header").WithProvider("twilio")
	}

	keys := make([]string, 0, len(params))
	for key := range params {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	var data strings.Builder
	data.WriteString(endpoint)
	for _, key := range keys {
		data.WriteString(key)
		data.WriteString(params[key])
	}

	expected := triggers.HMACSHA1Base64([]byte(authToken), []byte(data.String()))
	if !triggers.SecureCompare(signature, expected) {
		return plugin.NewError(plugin.ErrSignatureInvalid,
			"request signature mismatch").WithProvider("twilio")
	}
	return nil
}

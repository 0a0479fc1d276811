package twilio

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/hookflow/internal/httpx"
	"github.com/BaSui01/hookflow/plugin"
	"github.com/BaSui01/hookflow/providers"
	twilioprovider "github.com/BaSui01/hookflow/providers/twilio"
)

const (
	apiBaseURL = "https://api.twilio.com"

	// Twilio webhooks live on the phone number and never expire on the
	// vendor side; the host still re-checks every 30 days.
	webhookTTL = 30 * 24 * time.Hour
)

// PhoneLister lists the incoming phone numbers available on an account.
type PhoneLister interface {
	ListPhoneNumbers(ctx context.Context, creds plugin.Credentials) ([]twilioprovider.PhoneNumber, error)
}

// Constructor points a phone number's SMS and voice webhook URLs at the
// subscription endpoint. There is no separate webhook resource to delete;
// unsubscribing clears the URLs again.
type Constructor struct {
	client  *httpx.Client
	numbers PhoneLister
	logger  *zap.Logger

	baseOverride string
}

// NewConstructor builds the subscription constructor.
func NewConstructor(numbers PhoneLister, logger *zap.Logger) *Constructor {
	return &Constructor{
		client:  httpx.New(httpx.DefaultConfig(), logger),
		numbers: numbers,
		logger:  logger.With(zap.String("trigger", "twilio")),
	}
}

func (c *Constructor) base() string {
	if c.baseOverride != "" {
		return c.baseOverride
	}
	return apiBaseURL
}

// updateNumber posts a form update to the IncomingPhoneNumbers resource and
// decodes the returned phone number document.
func (c *Constructor) updateNumber(ctx context.Context, creds plugin.Credentials, numberSID string, form url.Values) (map[string]any, error) {
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
	headers.Set("Content-Type", "application/x-www-form-urlencoded")

	target := fmt.Sprintf("%s/2010-04-01/Accounts/%s/IncomingPhoneNumbers/%s.json",
		c.base(), url.PathEscape(accountSID), url.PathEscape(numberSID))

	resp, err := c.client.Do(ctx, httpx.Request{
		Method:  http.MethodPost,
		URL:     target,
		Headers: headers,
		Body:    []byte(form.Encode()),
	})
	if err != nil {
		return nil, plugin.NewError(plugin.ErrSubscriptionError,
			"phone number update failed").WithCause(err).WithProvider("twilio")
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var out struct {
			Message string `json:"message"`
		}
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		msg := "phone number update rejected"
		if json.Unmarshal(data, &out) == nil && out.Message != "" {
			msg = out.Message
		}
		return nil, plugin.MapHTTPStatus(resp.StatusCode, msg, "twilio")
	}

	var info map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return nil, plugin.NewError(plugin.ErrSubscriptionError,
			"invalid phone number response").WithCause(err).WithProvider("twilio")
	}
	return info, nil
}

// CreateSubscription sets the phone number's SmsUrl and VoiceUrl to the
// endpoint so both message and call deliveries land on it.
func (c *Constructor) CreateSubscription(ctx context.Context, endpoint string, parameters map[string]string, creds plugin.Credentials, credType plugin.CredentialType) (plugin.Subscription, error) {
	numberSID := parameters["phone_number"]
	if numberSID == "" {
		return plugin.Subscription{}, plugin.NewError(plugin.ErrSubscriptionError,
			"phone_number is required").WithProvider("twilio")
	}

	info, err := c.updateNumber(ctx, creds, numberSID, url.Values{
		"SmsUrl":      {endpoint},
		"SmsMethod":   {"POST"},
		"VoiceUrl":    {endpoint},
		"VoiceMethod": {"POST"},
	})
	if err != nil {
		return plugin.Subscription{}, err
	}

	phoneNumber, _ := info["phone_number"].(string)
	friendlyName, _ := info["friendly_name"].(string)
	c.logger.Info("webhook configured",
		zap.String("phone_number_sid", numberSID),
		zap.String("phone_number", phoneNumber),
	)

	return plugin.Subscription{
		Endpoint:   endpoint,
		Parameters: parameters,
		Properties: map[string]string{
			"phone_number_sid": numberSID,
			"phone_number":     phoneNumber,
			"friendly_name":    friendlyName,
			// kept for signature validation at dispatch time
			"auth_token": creds.Get("auth_token"),
		},
		ExpiresAt: time.Now().Add(webhookTTL).Unix(),
	}, nil
}

// DeleteSubscription clears the webhook URLs from the phone number.
func (c *Constructor) DeleteSubscription(ctx context.Context, sub plugin.Subscription, creds plugin.Credentials, credType plugin.CredentialType) (plugin.UnsubscribeResult, error) {
	numberSID := sub.Property("phone_number_sid")
	if numberSID == "" {
		return plugin.UnsubscribeResult{}, plugin.NewError(plugin.ErrUnsubscribeError,
			"subscription is missing the phone number sid").WithProvider("twilio")
	}

	if _, err := c.updateNumber(ctx, creds, numberSID, url.Values{
		"SmsUrl":   {""},
		"VoiceUrl": {""},
	}); err != nil {
		return plugin.UnsubscribeResult{}, plugin.NewError(plugin.ErrUnsubscribeError,
			"webhook removal failed").WithCause(err).WithProvider("twilio")
	}

	number := sub.Property("phone_number")
	if number == "" {
		number = numberSID
	}
	return plugin.UnsubscribeResult{Success: true, Message: "webhook removed from " + number}, nil
}

// RefreshSubscription extends the host-side expiry; the vendor configuration
// does not need touching.
func (c *Constructor) RefreshSubscription(ctx context.Context, sub plugin.Subscription, creds plugin.Credentials, credType plugin.CredentialType) (plugin.Subscription, error) {
	sub.ExpiresAt = time.Now().Add(webhookTTL).Unix()
	return sub, nil
}

// ParameterOptions exposes the account's phone numbers for the phone_number
// parameter.
func (c *Constructor) ParameterOptions(ctx context.Context, parameter string, creds plugin.Credentials) ([]plugin.ParameterOption, error) {
	if parameter != "phone_number" {
		return nil, nil
	}
	if c.numbers == nil {
		return nil, plugin.NewError(plugin.ErrInvokeError,
			"phone number listing is not configured").WithProvider("twilio")
	}

	numbers, err := c.numbers.ListPhoneNumbers(ctx, creds)
	if err != nil {
		return nil, err
	}
	options := make([]plugin.ParameterOption, 0, len(numbers))
	for _, n := range numbers {
		options = append(options, plugin.ParameterOption{Value: n.SID, Label: n.Label()})
	}
	return options, nil
}

// Package airtable dispatches Airtable webhook notifications. Airtable pings
// without the changed data; the dispatcher fetches the actual change
// payloads with the stored cursor and classifies them into record events.
package airtable

import (
	"context"
	"encoding/base64"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/hookflow/plugin"
	"github.com/BaSui01/hookflow/triggers"
)

const macHeader = "X-Airtable-Content-MAC"

// Trigger classifies Airtable deliveries. Cursors advance in a per-webhook
// tracker on the trigger; the subscription's stored cursor only seeds the
// first fetch, so concurrent deliveries never write into the shared
// Properties map.
type Trigger struct {
	client *Client
	logger *zap.Logger

	mu      sync.Mutex
	cursors map[string]int
}

// NewTrigger builds the dispatcher. client may be nil; without it the ping is
// dispatched as a bare record_created event.
func NewTrigger(client *Client, logger *zap.Logger) *Trigger {
	return &Trigger{
		client:  client,
		logger:  logger.With(zap.String("trigger", "airtable")),
		cursors: make(map[string]int),
	}
}

// DispatchEvent verifies the MAC when the subscription carries one, pulls
// the change payloads past the tracked cursor and emits one event name per
// change kind seen.
func (t *Trigger) DispatchEvent(ctx context.Context, sub plugin.Subscription, r *http.Request) (plugin.EventDispatch, error) {
	body, err := triggers.ReadBody(r)
	if err != nil {
		return plugin.EventDispatch{}, err
	}
	payload, err := triggers.ParseJSON(body)
	if err != nil {
		return plugin.EventDispatch{}, err
	}

	if secret := sub.Property("mac_secret"); secret != "" {
		if err := verifyMAC(r.Header.Get(macHeader), secret, body); err != nil {
			return plugin.EventDispatch{}, err
		}
	}

	baseID := sub.Property("base_id")
	webhookID := sub.Property("external_id")
	token := sub.Property("access_token")
	if t.client == nil || baseID == "" || webhookID == "" || token == "" {
		return plugin.EventDispatch{
			Events:   []string{"record_created"},
			Payload:  payload,
			Response: plugin.OKJSON(),
		}, nil
	}

	key := baseID + "/" + webhookID
	cursor := t.seedCursor(key, sub.Property("cursor"))
	page, err := t.client.ListPayloads(ctx, token, baseID, webhookID, cursor)
	if err != nil {
		return plugin.EventDispatch{}, err
	}
	t.advanceCursor(key, page.Cursor)

	events := classify(page.Payloads)
	if len(events) == 0 {
		return plugin.EventDispatch{Payload: payload, Response: plugin.IgnoredJSON()}, nil
	}
	payload["changes"] = page.Payloads
	return plugin.EventDispatch{
		Events:   events,
		Payload:  payload,
		Response: plugin.OKJSON(),
	}, nil
}

// seedCursor returns the tracked cursor for the webhook, seeding it from the
// subscription's stored value on first use.
func (t *Trigger) seedCursor(key, stored string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	if cursor, ok := t.cursors[key]; ok {
		return cursor
	}
	cursor, _ := strconv.Atoi(stored)
	if cursor < 1 {
		cursor = 1
	}
	t.cursors[key] = cursor
	return cursor
}

// advanceCursor records the cursor returned by the payload fetch. Cursors
// only move forward; a slower concurrent delivery cannot rewind one.
func (t *Trigger) advanceCursor(key string, next int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if next > t.cursors[key] {
		t.cursors[key] = next
	}
}

// classify maps change payloads onto event names, deduplicated in
// created/updated/deleted order.
func classify(payloads []map[string]any) []string {
	var created, updated, deleted bool
	for _, p := range payloads {
		tables, _ := p["changedTablesById"].(map[string]any)
		for _, raw := range tables {
			table, _ := raw.(map[string]any)
			if _, ok := table["createdRecordsById"]; ok {
				created = true
			}
			if _, ok := table["changedRecordsById"]; ok {
				updated = true
			}
			if _, ok := table["destroyedRecordIds"]; ok {
				deleted = true
			}
		}
	}

	var events []string
	if created {
		events = append(events, "record_created")
	}
	if updated {
		events = append(events, "record_updated")
	}
	if deleted {
		events = append(events, "record_deleted")
	}
	return events
}

func verifyMAC(header, macSecretBase64 string, body []byte) error {
	if header == "" {
		return plugin.NewError(plugin.ErrSignatureInvalid,
			"missing "+macHeader+" header").WithProvider("airtable")
	}
	secret, err := base64.StdEncoding.DecodeString(macSecretBase64)
	if err != nil {
		return plugin.NewError(plugin.ErrSignatureInvalid,
			"mac secret is not valid base64").WithCause(err).WithProvider("airtable")
	}
	expected := "hmac-sha256=" + triggers.HMACSHA256Hex(secret, body)
	if !triggers.SecureCompare(header, expected) {
		return plugin.NewError(plugin.ErrSignatureInvalid,
			"content MAC mismatch").WithProvider("airtable")
	}
	return nil
}

// Constructor provisions webhooks through the Airtable API. Webhooks created
// with personal access tokens expire after 7 days; refresh extends them.
type Constructor struct {
	client *Client
	logger *zap.Logger
}

// NewConstructor builds the subscription constructor.
func NewConstructor(client *Client, logger *zap.Logger) *Constructor {
	return &Constructor{client: client, logger: logger.With(zap.String("trigger", "airtable"))}
}

// ValidateCredentials checks the personal access token against /meta/whoami.
func (c *Constructor) ValidateCredentials(ctx context.Context, creds plugin.Credentials) error {
	token, err := creds.Require("access_token")
	if err != nil {
		return err
	}
	return c.client.WhoAmI(ctx, token)
}

func (c *Constructor) CreateSubscription(ctx context.Context, endpoint string, parameters map[string]string, creds plugin.Credentials, credType plugin.CredentialType) (plugin.Subscription, error) {
	baseID := parameters["base_id"]
	if baseID == "" {
		return plugin.Subscription{}, plugin.NewError(plugin.ErrSubscriptionError,
			"base_id is required").WithProvider("airtable")
	}
	token, err := creds.Require("access_token")
	if err != nil {
		return plugin.Subscription{}, err
	}

	spec := webhookSpec(parameters["table_ids"])
	created, err := c.client.CreateWebhook(ctx, token, baseID, endpoint, spec)
	if err != nil {
		return plugin.Subscription{}, err
	}

	c.logger.Info("webhook created", zap.String("base_id", baseID), zap.String("webhook_id", created.ID))
	return plugin.Subscription{
		Endpoint:   endpoint,
		Parameters: parameters,
		Properties: map[string]string{
			"external_id":  created.ID,
			"base_id":      baseID,
			"access_token": token,
			"mac_secret":   created.MacSecretBase64,
			"cursor":       "1",
		},
		ExpiresAt: parseExpiration(created.ExpirationTime),
	}, nil
}

func (c *Constructor) DeleteSubscription(ctx context.Context, sub plugin.Subscription, creds plugin.Credentials, credType plugin.CredentialType) (plugin.UnsubscribeResult, error) {
	webhookID := sub.Property("external_id")
	baseID := sub.Property("base_id")
	if webhookID == "" || baseID == "" {
		return plugin.UnsubscribeResult{}, plugin.NewError(plugin.ErrUnsubscribeError,
			"subscription is missing webhook or base id").WithProvider("airtable")
	}
	token, err := creds.Require("access_token")
	if err != nil {
		return plugin.UnsubscribeResult{}, err
	}

	if err := c.client.DeleteWebhook(ctx, token, baseID, webhookID); err != nil {
		return plugin.UnsubscribeResult{}, err
	}
	return plugin.UnsubscribeResult{Success: true, Message: "webhook " + webhookID + " removed"}, nil
}

func (c *Constructor) RefreshSubscription(ctx context.Context, sub plugin.Subscription, creds plugin.Credentials, credType plugin.CredentialType) (plugin.Subscription, error) {
	webhookID := sub.Property("external_id")
	baseID := sub.Property("base_id")
	if webhookID == "" || baseID == "" {
		return plugin.Subscription{}, plugin.NewError(plugin.ErrSubscriptionError,
			"subscription is missing webhook or base id").WithProvider("airtable")
	}
	token, err := creds.Require("access_token")
	if err != nil {
		return plugin.Subscription{}, err
	}

	expiration, err := c.client.RefreshWebhook(ctx, token, baseID, webhookID)
	if err != nil {
		return plugin.Subscription{}, err
	}
	sub.ExpiresAt = parseExpiration(expiration)
	return sub, nil
}

// webhookSpec builds the creation specification: table data changes,
// optionally restricted to the given tables.
func webhookSpec(tableIDsCSV string) map[string]any {
	filters := map[string]any{"dataTypes": []string{"tableData"}}

	var tableIDs []string
	for _, id := range strings.Split(tableIDsCSV, ",") {
		if id = strings.TrimSpace(id); id != "" {
			tableIDs = append(tableIDs, id)
		}
	}
	if len(tableIDs) > 0 {
		sources := make([]map[string]string, 0, len(tableIDs))
		for _, id := range tableIDs {
			sources = append(sources, map[string]string{"type": "table", "tableId": id})
		}
		filters["fromSources"] = sources
	}
	return map[string]any{"options": map[string]any{"filters": filters}}
}

func parseExpiration(expirationTime string) int64 {
	if expirationTime == "" {
		return -1
	}
	t, err := time.Parse(time.RFC3339, expirationTime)
	if err != nil {
		return -1
	}
	return t.Unix()
}

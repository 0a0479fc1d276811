package zendesk

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/hookflow/plugin"
	"github.com/BaSui01/hookflow/triggers"
)

func postJSON(body []byte) *http.Request {
	return httptest.NewRequest(http.MethodPost, "/hooks/zendesk", bytes.NewReader(body))
}

func TestDispatchEvent_TicketEvents(t *testing.T) {
	trigger := NewTrigger(zap.NewNop())

	cases := []struct {
		vendorType string
		want       string
	}{
		{"zen:event-type:ticket.created", "ticket_created"},
		{"zen:event-type:ticket.status_changed", "ticket_status_changed"},
		{"zen:event-type:ticket.priority_changed", "ticket_priority_changed"},
		{"zen:event-type:ticket.comment_added", "ticket_comment_created"},
		{"zen:event-type:ticket.marked_as_spam", "ticket_marked_as_spam"},
		{"zen:event-type:article.published", "article_published"},
		{"zen:event-type:article.unpublished", "article_unpublished"},
	}
	for _, tc := range cases {
		t.Run(tc.want, func(t *testing.T) {
			body, _ := json.Marshal(map[string]any{"type": tc.vendorType, "detail": map[string]any{}})
			dispatch, err := trigger.DispatchEvent(context.Background(), plugin.Subscription{}, postJSON(body))
			require.NoError(t, err)
			assert.Equal(t, []string{tc.want}, dispatch.Events)
		})
	}
}

func TestDispatchEvent_UnknownTypeIgnored(t *testing.T) {
	trigger := NewTrigger(zap.NewNop())
	body := []byte(`{"type": "zen:event-type:organization.created", "detail": {}}`)

	dispatch, err := trigger.DispatchEvent(context.Background(), plugin.Subscription{}, postJSON(body))
	require.NoError(t, err)
	assert.Empty(t, dispatch.Events)
}

func TestDispatchEvent_TicketFilters(t *testing.T) {
	trigger := NewTrigger(zap.NewNop())
	sub := plugin.Subscription{Properties: map[string]string{
		"statuses":   "open, pending",
		"priorities": "high",
		"tags":       "vip",
	}}

	matching, _ := json.Marshal(map[string]any{
		"type": "zen:event-type:ticket.created",
		"detail": map[string]any{
			"status": "Open", "priority": "High", "tags": []string{"VIP", "billing"},
		},
	})
	dispatch, err := trigger.DispatchEvent(context.Background(), sub, postJSON(matching))
	require.NoError(t, err)
	assert.Equal(t, []string{"ticket_created"}, dispatch.Events)

	wrongStatus, _ := json.Marshal(map[string]any{
		"type": "zen:event-type:ticket.created",
		"detail": map[string]any{
			"status": "solved", "priority": "high", "tags": []string{"vip"},
		},
	})
	dispatch, err = trigger.DispatchEvent(context.Background(), sub, postJSON(wrongStatus))
	require.NoError(t, err)
	assert.Empty(t, dispatch.Events)

	missingTag, _ := json.Marshal(map[string]any{
		"type": "zen:event-type:ticket.created",
		"detail": map[string]any{
			"status": "open", "priority": "high", "tags": []string{"billing"},
		},
	})
	dispatch, err = trigger.DispatchEvent(context.Background(), sub, postJSON(missingTag))
	require.NoError(t, err)
	assert.Empty(t, dispatch.Events)
}

func TestDispatchEvent_SignatureVerification(t *testing.T) {
	trigger := NewTrigger(zap.NewNop())
	secret := "signing-secret"
	sub := plugin.Subscription{Properties: map[string]string{"webhook_secret": secret}}
	body := []byte(`{"type": "zen:event-type:ticket.created", "detail": {}}`)
	timestamp := "2026-08-31T10:00:00Z"

	sign := func(ts string, b []byte) string {
		return triggers.HMACSHA256Base64([]byte(secret), append([]byte(ts), b...))
	}

	t.Run("valid", func(t *testing.T) {
		r := postJSON(body)
		r.Header.Set(timestampHeader, timestamp)
		r.Header.Set(signatureHeader, sign(timestamp, body))
		dispatch, err := trigger.DispatchEvent(context.Background(), sub, r)
		require.NoError(t, err)
		assert.Equal(t, []string{"ticket_created"}, dispatch.Events)
	})

	t.Run("missing headers", func(t *testing.T) {
		_, err := trigger.DispatchEvent(context.Background(), sub, postJSON(body))
		require.Error(t, err)
		assert.Equal(t, plugin.ErrSignatureInvalid, plugin.CodeOf(err))
	})

	t.Run("replayed timestamp", func(t *testing.T) {
		r := postJSON(body)
		r.Header.Set(timestampHeader, "2026-08-31T11:00:00Z")
		r.Header.Set(signatureHeader, sign(timestamp, body))
		_, err := trigger.DispatchEvent(context.Background(), sub, r)
		require.Error(t, err)
		assert.Equal(t, plugin.ErrSignatureInvalid, plugin.CodeOf(err))
	})
}

func newConstructorFor(t *testing.T, serverURL string) *Constructor {
	t.Helper()
	c := NewConstructor(zap.NewNop())
	c.baseOverride = serverURL
	return c
}

func apiKeyCreds() plugin.Credentials {
	return plugin.Credentials{
		"subdomain": "acme",
		"email":     "admin@acme.com",
		"api_token": "ztoken",
	}
}

func TestCreateSubscription(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v2/webhooks", r.URL.Path)
		assert.Contains(t, r.Header.Get("Authorization"), "Basic ")

		var req struct {
			Webhook map[string]any `json:"webhook"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "active", req.Webhook["status"])
		assert.ElementsMatch(t, []any{
			"zen:event-type:ticket.created",
			"zen:event-type:ticket.comment_added",
		}, req.Webhook["subscriptions"])
		assert.Equal(t, "sec-1", req.Webhook["signing_secret"])

		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(map[string]any{
			"webhook": map[string]any{"id": 42, "status": "active"},
		})
	}))
	defer server.Close()

	c := newConstructorFor(t, server.URL)
	sub, err := c.CreateSubscription(context.Background(), "https://host/hooks/zendesk",
		map[string]string{
			"events":         "ticket_created, ticket_comment_created",
			"webhook_secret": "sec-1",
		}, apiKeyCreds(), plugin.CredentialAPIKey)
	require.NoError(t, err)
	assert.Equal(t, "42", sub.Properties["external_id"])
	assert.Equal(t, "sec-1", sub.Properties["webhook_secret"])
	assert.Equal(t, int64(-1), sub.ExpiresAt)
}

func TestCreateSubscription_NoEvents(t *testing.T) {
	c := newConstructorFor(t, "http://unused")
	_, err := c.CreateSubscription(context.Background(), "https://host",
		map[string]string{"events": "bogus_event"}, apiKeyCreds(), plugin.CredentialAPIKey)
	require.Error(t, err)
	assert.Equal(t, plugin.ErrSubscriptionError, plugin.CodeOf(err))
}

func TestCreateSubscription_OAuthBearer(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer oauth-tok", r.Header.Get("Authorization"))
		json.NewEncoder(w).Encode(map[string]any{"webhook": map[string]any{"id": "7", "status": "active"}})
	}))
	defer server.Close()

	c := newConstructorFor(t, server.URL)
	sub, err := c.CreateSubscription(context.Background(), "https://host",
		map[string]string{"events": "ticket_created"},
		plugin.Credentials{"subdomain": "acme", "access_token": "oauth-tok"},
		plugin.CredentialOAuth)
	require.NoError(t, err)
	assert.Equal(t, "7", sub.Properties["external_id"])
}

func TestDeleteSubscription(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodDelete, r.Method)
		assert.Equal(t, "/api/v2/webhooks/42", r.URL.Path)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	c := newConstructorFor(t, server.URL)
	sub := plugin.Subscription{Properties: map[string]string{"external_id": "42"}}
	result, err := c.DeleteSubscription(context.Background(), sub, apiKeyCreds(), plugin.CredentialAPIKey)
	require.NoError(t, err)
	assert.True(t, result.Success)

	_, err = c.DeleteSubscription(context.Background(), plugin.Subscription{}, apiKeyCreds(), plugin.CredentialAPIKey)
	require.Error(t, err)
	assert.Equal(t, plugin.ErrUnsubscribeError, plugin.CodeOf(err))
}

func TestValidateCredentials(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") == "" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		json.NewEncoder(w).Encode(map[string]any{"webhooks": []any{}})
	}))
	defer server.Close()

	c := newConstructorFor(t, server.URL)
	require.NoError(t, c.ValidateCredentials(context.Background(), apiKeyCreds()))

	err := c.ValidateCredentials(context.Background(), plugin.Credentials{"subdomain": "acme"})
	require.Error(t, err)
	assert.Equal(t, plugin.ErrCredentialsInvalid, plugin.CodeOf(err))
}

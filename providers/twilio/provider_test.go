package twilio

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/hookflow/internal/httpx"
	"github.com/BaSui01/hookflow/plugin"
	"github.com/BaSui01/hookflow/providers"
)

func newTestProvider(t *testing.T, base string) *Provider {
	t.Helper()
	p := New(httpx.New(httpx.DefaultConfig(), zap.NewNop()), zap.NewNop())
	p.baseOverride = base
	return p
}

func TestValidateCredentials(t *testing.T) {
	t.Run("valid account", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/2010-04-01/Accounts/AC123.json", r.URL.Path)
			assert.Equal(t, providers.BasicAuth("AC123", "tok"), r.Header.Get("Authorization"))
			json.NewEncoder(w).Encode(map[string]string{"sid": "AC123", "status": "active"})
		}))
		defer server.Close()

		p := newTestProvider(t, server.URL)
		err := p.ValidateCredentials(context.Background(), plugin.Credentials{
			"account_sid": "AC123", "auth_token": "tok",
		})
		assert.NoError(t, err)
	})

	t.Run("rejected token", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusUnauthorized)
			w.Write([]byte(`{"code":20003,"message":"Authentication Error - invalid username"}`))
		}))
		defer server.Close()

		p := newTestProvider(t, server.URL)
		err := p.ValidateCredentials(context.Background(), plugin.Credentials{
			"account_sid": "AC123", "auth_token": "bad",
		})
		require.Error(t, err)
		assert.Equal(t, plugin.ErrCredentialsInvalid, plugin.CodeOf(err))
	})

	t.Run("missing auth token", func(t *testing.T) {
		p := newTestProvider(t, "http://unused")
		err := p.ValidateCredentials(context.Background(), plugin.Credentials{"account_sid": "AC123"})
		require.Error(t, err)
		assert.Equal(t, plugin.ErrCredentialsInvalid, plugin.CodeOf(err))
	})
}

func TestListPhoneNumbers_Paginates(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/2010-04-01/Accounts/AC123/IncomingPhoneNumbers.json":
			if r.URL.Query().Get("Page") == "1" {
				json.NewEncoder(w).Encode(map[string]any{
					"incoming_phone_numbers": []map[string]string{
						{"sid": "PN2", "phone_number": "+15550002", "friendly_name": "+15550002"},
					},
					"next_page_uri": "",
				})
				return
			}
			assert.Equal(t, "100", r.URL.Query().Get("PageSize"))
			json.NewEncoder(w).Encode(map[string]any{
				"incoming_phone_numbers": []map[string]string{
					{"sid": "PN1", "phone_number": "+15550001", "friendly_name": "Support line"},
					{"sid": "", "phone_number": "+15559999"},
				},
				"next_page_uri": "/2010-04-01/Accounts/AC123/IncomingPhoneNumbers.json?Page=1",
			})
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer server.Close()

	p := newTestProvider(t, server.URL)
	numbers, err := p.ListPhoneNumbers(context.Background(), plugin.Credentials{
		"account_sid": "AC123", "auth_token": "tok",
	})
	require.NoError(t, err)
	require.Len(t, numbers, 2)
	assert.Equal(t, "PN1", numbers[0].SID)
	assert.Equal(t, "Support line (+15550001)", numbers[0].Label())
	assert.Equal(t, "+15550002", numbers[1].Label())
}

func TestListPhoneNumbers_APIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		w.Write([]byte(`{"code":20008,"message":"Test accounts cannot do this"}`))
	}))
	defer server.Close()

	p := newTestProvider(t, server.URL)
	_, err := p.ListPhoneNumbers(context.Background(), plugin.Credentials{
		"account_sid": "AC123", "auth_token": "tok",
	})
	require.Error(t, err)
	assert.Equal(t, plugin.ErrCredentialsInvalid, plugin.CodeOf(err))
}

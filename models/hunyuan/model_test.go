package hunyuan

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/hookflow/models"
	"github.com/BaSui01/hookflow/plugin"
)

func newTestModel(t *testing.T, base string) *Model {
	t.Helper()
	m := New("AKID-test", "secret", zap.NewNop())
	m.baseOverride = base
	return m
}

func TestAuthorization_Deterministic(t *testing.T) {
	now := time.Unix(1700000000, 0)
	payload := []byte(`{"Model":"hunyuan-lite"}`)

	a := authorization("AKID", "sk", "hunyuan.tencentcloudapi.com", "ChatCompletions", payload, now)
	b := authorization("AKID", "sk", "hunyuan.tencentcloudapi.com", "ChatCompletions", payload, now)
	assert.Equal(t, a, b)

	assert.True(t, strings.HasPrefix(a, "TC3-HMAC-SHA256 Credential=AKID/2023-11-14/hunyuan/tc3_request"))
	assert.Contains(t, a, "SignedHeaders=content-type;host;x-tc-action")
	assert.Contains(t, a, "Signature=")
}

func TestAuthorization_SensitiveToInputs(t *testing.T) {
	now := time.Unix(1700000000, 0)
	payload := []byte(`{}`)

	base := authorization("AKID", "sk", "host", "ChatCompletions", payload, now)
	assert.NotEqual(t, base, authorization("AKID", "other", "host", "ChatCompletions", payload, now))
	assert.NotEqual(t, base, authorization("AKID", "sk", "host", "GetEmbedding", payload, now))
	assert.NotEqual(t, base, authorization("AKID", "sk", "host", "ChatCompletions", []byte(`{"a":1}`), now))
}

func TestChat(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "ChatCompletions", r.Header.Get("X-TC-Action"))
		assert.Equal(t, "2023-09-01", r.Header.Get("X-TC-Version"))
		assert.NotEmpty(t, r.Header.Get("X-TC-Timestamp"))
		assert.True(t, strings.HasPrefix(r.Header.Get("Authorization"), "TC3-HMAC-SHA256 Credential=AKID-test/"))

		var req chatRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "hunyuan-lite", req.Model)
		assert.False(t, req.Stream)

		json.NewEncoder(w).Encode(map[string]any{
			"Response": map[string]any{
				"Id": "req-1",
				"Choices": []map[string]any{{
					"FinishReason": "stop",
					"Message":      map[string]string{"Role": "assistant", "Content": "你好"},
				}},
				"Usage": map[string]int{"PromptTokens": 3, "CompletionTokens": 2, "TotalTokens": 5},
			},
		})
	}))
	defer server.Close()

	m := newTestModel(t, server.URL)
	resp, err := m.Chat(context.Background(), &models.ChatRequest{
		Model:    "hunyuan-lite",
		Messages: []models.Message{{Role: models.RoleUser, Content: "hello"}},
	})
	require.NoError(t, err)
	assert.Equal(t, "你好", resp.Message.Content)
	assert.Equal(t, 5, resp.Usage.TotalTokens)
}

func TestChat_VendorErrorInEnvelope(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Tencent reports failures inside a 200 envelope
		json.NewEncoder(w).Encode(map[string]any{
			"Response": map[string]any{
				"Error":     map[string]string{"Code": "AuthFailure.SignatureFailure", "Message": "signature mismatch"},
				"RequestId": "req-2",
			},
		})
	}))
	defer server.Close()

	m := newTestModel(t, server.URL)
	_, err := m.Chat(context.Background(), &models.ChatRequest{Model: "hunyuan-lite"})
	require.Error(t, err)
	assert.Equal(t, plugin.ErrCredentialsInvalid, plugin.CodeOf(err))
	assert.Contains(t, err.Error(), "signature mismatch")
}

func TestChat_RateLimitCode(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"Response": map[string]any{
				"Error": map[string]string{"Code": "RequestLimitExceeded", "Message": "too many requests"},
			},
		})
	}))
	defer server.Close()

	m := newTestModel(t, server.URL)
	_, err := m.Chat(context.Background(), &models.ChatRequest{Model: "hunyuan-lite"})
	require.Error(t, err)
	assert.Equal(t, plugin.ErrRateLimited, plugin.CodeOf(err))
}

func TestChatStream(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req chatRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.True(t, req.Stream)

		w.Header().Set("Content-Type", "text/event-stream")
		frames := []string{
			`{"Id":"s1","Choices":[{"Delta":{"Content":"你"}}]}`,
			`{"Id":"s1","Choices":[{"Delta":{"Content":"好"},"FinishReason":"stop"}],"Usage":{"TotalTokens":4}}`,
		}
		for _, f := range frames {
			w.Write([]byte("data: " + f + "\n\n"))
		}
	}))
	defer server.Close()

	m := newTestModel(t, server.URL)
	ch, err := m.ChatStream(context.Background(), &models.ChatRequest{
		Model:    "hunyuan-lite",
		Messages: []models.Message{{Role: models.RoleUser, Content: "hi"}},
	})
	require.NoError(t, err)

	var text strings.Builder
	var finish string
	for chunk := range ch {
		require.NoError(t, chunk.Err)
		text.WriteString(chunk.Delta)
		if chunk.FinishReason != "" {
			finish = chunk.FinishReason
		}
	}
	assert.Equal(t, "你好", text.String())
	assert.Equal(t, "stop", finish)
}

func TestEmbed_OneTextPerCallAccumulatesUsage(t *testing.T) {
	calls := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "GetEmbedding", r.Header.Get("X-TC-Action"))
		calls++

		var req map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.NotEmpty(t, req["Input"])

		json.NewEncoder(w).Encode(map[string]any{
			"Response": map[string]any{
				"Data":  []map[string]any{{"Embedding": []float64{float64(calls)}, "Index": 0}},
				"Usage": map[string]int{"PromptTokens": 2, "TotalTokens": 2},
			},
		})
	}))
	defer server.Close()

	m := newTestModel(t, server.URL)
	result, err := m.Embed(context.Background(), "hunyuan-embedding", []string{"one", "two", "three"})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
	assert.Equal(t, [][]float64{{1}, {2}, {3}}, result.Embeddings)
	assert.Equal(t, 6, result.Usage.TotalTokens)
}

package slack

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func echoResponder(t *testing.T) Responder {
	t.Helper()
	return func(ctx context.Context, userID, content string) (string, error) {
		return "echo: " + content, nil
	}
}

// slackAPI is a fake Web API recording chat.postMessage payloads.
type slackAPI struct {
	server *httptest.Server
	posts  []map[string]string
	auths  []string
}

func newSlackAPI(t *testing.T) *slackAPI {
	t.Helper()
	api := &slackAPI{}
	mux := http.NewServeMux()
	mux.HandleFunc("/api/chat.postMessage", func(w http.ResponseWriter, r *http.Request) {
		api.auths = append(api.auths, r.Header.Get("Authorization"))
		var payload map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		api.posts = append(api.posts, payload)
		json.NewEncoder(w).Encode(map[string]any{
			"ok": true, "channel": payload["channel"], "ts": "1700000000.000100",
		})
	})
	mux.HandleFunc("/api/conversations.info", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"ok": true, "channel": map[string]string{"name": "support"},
		})
	})
	api.server = httptest.NewServer(mux)
	t.Cleanup(api.server.Close)
	return api
}

func newTestEndpoint(t *testing.T, settings Settings, respond Responder) (*Endpoint, *slackAPI) {
	t.Helper()
	api := newSlackAPI(t)
	ep, err := NewEndpoint(settings, respond, zap.NewNop())
	require.NoError(t, err)
	ep.baseOverride = api.server.URL
	return ep, api
}

func postEvent(ep *Endpoint, body string, header http.Header) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
	for key, values := range header {
		req.Header[key] = values
	}
	w := httptest.NewRecorder()
	ep.ServeHTTP(w, req)
	return w
}

func TestNewEndpoint_RequiresBotToken(t *testing.T) {
	_, err := NewEndpoint(Settings{}, nil, zap.NewNop())
	assert.ErrorContains(t, err, "bot_token")
}

func TestURLVerification(t *testing.T) {
	ep, _ := newTestEndpoint(t, Settings{BotToken: "xoxb-test"}, nil)

	w := postEvent(ep, `{"type":"url_verification","challenge":"ch4llenge"}`, nil)

	assert.Equal(t, http.StatusOK, w.Code)
	var resp map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "ch4llenge", resp["challenge"])
}

func TestAppMention_RepliesInThread(t *testing.T) {
	ep, api := newTestEndpoint(t, Settings{BotToken: "xoxb-test"}, echoResponder(t))

	body := `{"type":"event_callback","event":{"type":"app_mention",` +
		`"user":"U123","channel":"C42","text":"<@BOT1> hello there","ts":"1700.0001"}}`
	w := postEvent(ep, body, nil)

	assert.Equal(t, http.StatusOK, w.Code)
	require.Len(t, api.posts, 1)
	assert.Equal(t, "C42", api.posts[0]["channel"])
	assert.Equal(t, "echo: hello there", api.posts[0]["text"])
	assert.Equal(t, "1700.0001", api.posts[0]["thread_ts"])
	assert.Equal(t, "Bearer xoxb-test", api.auths[0])

	var resp map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, true, resp["ok"])
	assert.Equal(t, "C42", resp["channel"])
}

func TestAppMention_KeepsExistingThread(t *testing.T) {
	ep, api := newTestEndpoint(t, Settings{BotToken: "xoxb-test"}, echoResponder(t))

	body := `{"type":"event_callback","event":{"type":"app_mention",` +
		`"user":"U123","channel":"C42","text":"<@BOT1> hi","ts":"1700.0002","thread_ts":"1699.9999"}}`
	postEvent(ep, body, nil)

	require.Len(t, api.posts, 1)
	assert.Equal(t, "1699.9999", api.posts[0]["thread_ts"])
}

func TestRetryDelivery_IsIgnored(t *testing.T) {
	ep, api := newTestEndpoint(t, Settings{BotToken: "xoxb-test"}, echoResponder(t))

	body := `{"type":"event_callback","event":{"type":"app_mention","user":"U123","channel":"C42","text":"<@BOT1> again"}}`
	header := http.Header{"X-Slack-Retry-Num": {"1"}}
	w := postEvent(ep, body, header)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ok", w.Body.String())
	assert.Empty(t, api.posts)
}

func TestRetryDelivery_ProcessedWhenAllowed(t *testing.T) {
	ep, api := newTestEndpoint(t, Settings{BotToken: "xoxb-test", AllowRetry: true}, echoResponder(t))

	body := `{"type":"event_callback","event":{"type":"app_mention","user":"U123","channel":"C42","text":"<@BOT1> again"}}`
	header := http.Header{"X-Slack-Retry-Reason": {"http_timeout"}}
	postEvent(ep, body, header)

	assert.Len(t, api.posts, 1)
}

func TestIgnoredUser_GetsNoReply(t *testing.T) {
	ep, api := newTestEndpoint(t,
		Settings{BotToken: "xoxb-test", IgnoreUserIDs: "U999, U123"}, echoResponder(t))

	body := `{"type":"event_callback","event":{"type":"app_mention","user":"U123","channel":"C42","text":"<@BOT1> hi"}}`
	w := postEvent(ep, body, nil)

	assert.Equal(t, "ok", w.Body.String())
	assert.Empty(t, api.posts)
}

func TestMessageEvents_FilteredByEventTypes(t *testing.T) {
	tests := []struct {
		name       string
		eventTypes string
		event      string
		wantPosts  int
	}{
		{"message ignored by default", "", `{"type":"message","user":"U1","channel":"C1","text":"hi"}`, 0},
		{"message handled when enabled", "message", `{"type":"message","user":"U1","channel":"C1","text":"hi"}`, 1},
		{"bot message skipped", "message", `{"type":"message","user":"U1","channel":"C1","text":"hi","bot_id":"B7"}`, 0},
		{"bot subtype skipped", "both", `{"type":"message","user":"U1","channel":"C1","text":"hi","subtype":"bot_message"}`, 0},
		{"mention text left to app_mention", "message", `{"type":"message","user":"U1","channel":"C1","text":"<@BOT1> hi"}`, 0},
		{"mention ignored when only messages wanted", "message", `{"type":"app_mention","user":"U1","channel":"C1","text":"<@BOT1> hi"}`, 0},
		{"both handles mentions", "both", `{"type":"app_mention","user":"U1","channel":"C1","text":"<@BOT1> hi"}`, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ep, api := newTestEndpoint(t,
				Settings{BotToken: "xoxb-test", EventTypes: tt.eventTypes}, echoResponder(t))

			postEvent(ep, `{"type":"event_callback","event":`+tt.event+`}`, nil)
			assert.Len(t, api.posts, tt.wantPosts)
		})
	}
}

func TestResponderError_PostsApology(t *testing.T) {
	responder := func(ctx context.Context, userID, content string) (string, error) {
		return "", errors.New("model unavailable")
	}
	ep, api := newTestEndpoint(t, Settings{BotToken: "xoxb-test"}, responder)

	body := `{"type":"event_callback","event":{"type":"app_mention","user":"U1","channel":"C1","text":"<@BOT1> hi","ts":"1.2"}}`
	w := postEvent(ep, body, nil)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "trouble processing")
	require.Len(t, api.posts, 1)
	assert.Contains(t, api.posts[0]["text"], "trouble processing")
}

func TestChannelRestriction(t *testing.T) {
	ep, api := newTestEndpoint(t,
		Settings{BotToken: "xoxb-test", ChannelName: "random"}, echoResponder(t))

	// fake API reports the channel name as "support"
	body := `{"type":"event_callback","event":{"type":"app_mention","user":"U1","channel":"C1","text":"<@BOT1> hi"}}`
	w := postEvent(ep, body, nil)

	assert.Equal(t, "ok", w.Body.String())
	assert.Empty(t, api.posts)

	ep.settings.ChannelName = "support"
	postEvent(ep, body, nil)
	assert.Len(t, api.posts, 1)
}

func TestPostMessage_APIFailureMapsError(t *testing.T) {
	failing := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"ok": false, "error": "invalid_auth"})
	}))
	defer failing.Close()

	ep, err := NewEndpoint(Settings{BotToken: "xoxb-bad"}, echoResponder(t), zap.NewNop())
	require.NoError(t, err)
	ep.baseOverride = failing.URL

	body := `{"type":"event_callback","event":{"type":"app_mention","user":"U1","channel":"C1","text":"<@BOT1> hi"}}`
	w := postEvent(ep, body, nil)

	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestNonPost_Rejected(t *testing.T) {
	ep, _ := newTestEndpoint(t, Settings{BotToken: "xoxb-test"}, nil)
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	w := httptest.NewRecorder()
	ep.ServeHTTP(w, req)
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
}

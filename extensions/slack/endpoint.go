// Package slack exposes a Slack Events API bot endpoint: the URL
// verification handshake, app_mention/message event handling with an
// injected reply hook, and replies through chat.postMessage in the event's
// thread.
package slack

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/hookflow/plugin"
)

const defaultAPIBase = "https://slack.com"

// Settings configures the bot endpoint.
type Settings struct {
	// BotToken is the xoxb- token used for Web API calls.
	BotToken string `yaml:"bot_token"`
	// AllowRetry processes Slack's redelivery attempts; off by default so a
	// slow reply is not answered twice.
	AllowRetry bool `yaml:"allow_retry"`
	// IgnoreUserIDs is a comma-separated list of user ids never replied to.
	IgnoreUserIDs string `yaml:"ignore_user_ids"`
	// EventTypes selects which events get a reply: app_mention, message or
	// both. Defaults to app_mention.
	EventTypes string `yaml:"event_types"`
	// ChannelName restricts replies to one channel when set.
	ChannelName string `yaml:"channel_name"`
}

// Responder produces the reply for an inbound message.
type Responder func(ctx context.Context, userID, content string) (string, error)

// Endpoint handles Slack event deliveries. A nil Responder acknowledges
// events without replying.
type Endpoint struct {
	settings Settings
	respond  Responder
	http     *http.Client
	logger   *zap.Logger

	baseOverride string
}

// NewEndpoint builds the endpoint.
func NewEndpoint(settings Settings, respond Responder, logger *zap.Logger) (*Endpoint, error) {
	if settings.BotToken == "" {
		return nil, plugin.NewError(plugin.ErrCredentialsInvalid,
			"bot_token is required").WithProvider("slack")
	}
	if settings.EventTypes == "" {
		settings.EventTypes = "app_mention"
	}
	return &Endpoint{
		settings: settings,
		respond:  respond,
		http:     &http.Client{Timeout: 10 * time.Second},
		logger:   logger.With(zap.String("extension", "slack")),
	}, nil
}

func (e *Endpoint) base() string {
	if e.baseOverride != "" {
		return e.baseOverride
	}
	return defaultAPIBase
}

type inboundEvent struct {
	Type     string `json:"type"`
	User     string `json:"user"`
	BotID    string `json:"bot_id"`
	Subtype  string `json:"subtype"`
	Text     string `json:"text"`
	Channel  string `json:"channel"`
	TS       string `json:"ts"`
	ThreadTS string `json:"thread_ts"`
}

func (e *Endpoint) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "only POST is supported", http.StatusMethodNotAllowed)
		return
	}
	if e.shouldIgnoreRetry(r) {
		io.WriteString(w, "ok")
		return
	}

	var envelope struct {
		Type      string       `json:"type"`
		Challenge string       `json:"challenge"`
		Event     inboundEvent `json:"event"`
	}
	if err := json.NewDecoder(io.LimitReader(r.Body, 4<<20)).Decode(&envelope); err != nil {
		http.Error(w, "request body is not valid JSON", http.StatusBadRequest)
		return
	}

	switch envelope.Type {
	case "url_verification":
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"challenge": envelope.Challenge})
	case "event_callback":
		e.handleEvent(r.Context(), w, envelope.Event)
	default:
		io.WriteString(w, "ok")
	}
}

// shouldIgnoreRetry drops Slack redelivery attempts unless allow_retry is
// set: the first delivery is usually still being answered.
func (e *Endpoint) shouldIgnoreRetry(r *http.Request) bool {
	if e.settings.AllowRetry {
		return false
	}
	if r.Header.Get("X-Slack-Retry-Reason") == "http_timeout" {
		return true
	}
	num, err := strconv.Atoi(r.Header.Get("X-Slack-Retry-Num"))
	return err == nil && num > 0
}

func (e *Endpoint) handleEvent(ctx context.Context, w http.ResponseWriter, ev inboundEvent) {
	if ev.User == "" || e.ignoredUser(ev.User) {
		io.WriteString(w, "ok")
		return
	}

	message, ok := e.extractMessage(ev)
	if !ok || message == "" || e.respond == nil {
		io.WriteString(w, "ok")
		return
	}
	if !e.channelAllowed(ctx, ev.Channel) {
		io.WriteString(w, "ok")
		return
	}

	threadTS := ev.ThreadTS
	if threadTS == "" {
		threadTS = ev.TS
	}

	answer, err := e.respond(ctx, ev.User, message)
	if err != nil {
		e.logger.Error("reply generation failed", zap.String("user", ev.User), zap.Error(err))
		const apology = "Sorry, I'm having trouble processing your request. Please try again later."
		if _, postErr := e.postMessage(ctx, ev.Channel, apology, threadTS); postErr != nil {
			e.logger.Error("apology delivery failed", zap.Error(postErr))
		}
		w.Header().Set("Content-Type", "text/plain")
		io.WriteString(w, apology)
		return
	}

	result, err := e.postMessage(ctx, ev.Channel, answer, threadTS)
	if err != nil {
		e.logger.Error("reply delivery failed", zap.String("channel", ev.Channel), zap.Error(err))
		http.Error(w, "reply delivery failed", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"ok":      true,
		"channel": result.Channel,
		"ts":      result.TS,
	})
}

func (e *Endpoint) ignoredUser(user string) bool {
	for _, id := range strings.Split(e.settings.IgnoreUserIDs, ",") {
		if strings.TrimSpace(id) == user {
			return true
		}
	}
	return false
}

// extractMessage applies the event_types filter and normalizes the text.
// app_mention events lose the leading bot mention; plain messages from bots
// or carrying a mention are left to the app_mention delivery.
func (e *Endpoint) extractMessage(ev inboundEvent) (string, bool) {
	types := e.settings.EventTypes
	switch ev.Type {
	case "app_mention":
		if types != "app_mention" && types != "both" {
			return "", false
		}
		text := ev.Text
		if strings.HasPrefix(text, "<@") {
			if _, rest, found := strings.Cut(text, "> "); found {
				text = rest
			}
		}
		return text, true
	case "message":
		if types != "message" && types != "both" {
			return "", false
		}
		if ev.BotID != "" || ev.Subtype == "bot_message" || strings.HasPrefix(ev.Text, "<@") {
			return "", false
		}
		return ev.Text, true
	default:
		return "", false
	}
}

// channelAllowed checks the configured channel name via conversations.info.
// Lookup failures do not block the reply.
func (e *Endpoint) channelAllowed(ctx context.Context, channelID string) bool {
	if e.settings.ChannelName == "" {
		return true
	}
	endpoint := e.base() + "/api/conversations.info?" + url.Values{"channel": {channelID}}.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return true
	}
	req.Header.Set("Authorization", "Bearer "+e.settings.BotToken)

	resp, err := e.http.Do(req)
	if err != nil {
		e.logger.Warn("channel lookup failed", zap.Error(err))
		return true
	}
	defer resp.Body.Close()

	var out struct {
		OK      bool `json:"ok"`
		Channel struct {
			Name string `json:"name"`
		} `json:"channel"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil || !out.OK {
		return true
	}
	return out.Channel.Name == e.settings.ChannelName
}

type postResult struct {
	OK      bool   `json:"ok"`
	Error   string `json:"error"`
	Channel string `json:"channel"`
	TS      string `json:"ts"`
}

// postMessage sends a threaded chat.postMessage reply.
func (e *Endpoint) postMessage(ctx context.Context, channel, text, threadTS string) (postResult, error) {
	payload := map[string]string{
		"channel": channel,
		"text":    text,
	}
	if threadTS != "" {
		payload["thread_ts"] = threadTS
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return postResult{}, plugin.NewError(plugin.ErrInvokeError, "encode message").WithCause(err).WithProvider("slack")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		e.base()+"/api/chat.postMessage", bytes.NewReader(body))
	if err != nil {
		return postResult{}, plugin.NewError(plugin.ErrInvokeError, "build request").WithCause(err).WithProvider("slack")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+e.settings.BotToken)

	resp, err := e.http.Do(req)
	if err != nil {
		return postResult{}, plugin.NewError(plugin.ErrServerUnavailable,
			"chat.postMessage request failed").WithCause(err).WithRetryable(true).WithProvider("slack")
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return postResult{}, plugin.MapHTTPStatus(resp.StatusCode, "chat.postMessage rejected", "slack")
	}
	var result postResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return postResult{}, plugin.NewError(plugin.ErrInvokeError, "decode response").WithCause(err).WithProvider("slack")
	}
	if !result.OK {
		code := plugin.ErrInvokeError
		if result.Error == "invalid_auth" || result.Error == "not_authed" || result.Error == "token_revoked" {
			code = plugin.ErrCredentialsInvalid
		}
		return postResult{}, plugin.NewError(code, "chat.postMessage failed: "+result.Error).WithProvider("slack")
	}
	return result, nil
}

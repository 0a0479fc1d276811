// Package qianfan adapts the Baidu ERNIE wenxinworkshop API. Calls carry a
// short-lived access token exchanged from the API key pair; tokens are
// cached with a refresh margin and concurrent refreshes collapse into one
// exchange. Chat responses arrive in the vendor's `result` field rather
// than an OpenAI choices array.
package qianfan

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/hookflow/internal/cache"
	"github.com/BaSui01/hookflow/models"
	"github.com/BaSui01/hookflow/plugin"
)

const (
	defaultAuthBaseURL = "https://aip.baidubce.com"
	chatPathFormat     = "/rpc/2.0/ai_custom/v1/wenxinworkshop/chat/%s"
	embedPathFormat    = "/rpc/2.0/ai_custom/v1/wenxinworkshop/embeddings/%s"

	// vendor codes signalling a dead access token
	codeAccessTokenInvalid = 110
	codeAccessTokenExpired = 111
)

// Model is a wenxinworkshop API adapter.
type Model struct {
	apiKey    string
	secretKey string
	tokens    *cache.TokenSource
	client    *http.Client
	logger    *zap.Logger

	baseOverride string
}

// New creates a Qianfan adapter. The token source is shared so several
// adapters for the same key pair reuse one cached token.
func New(apiKey, secretKey string, tokens *cache.TokenSource, logger *zap.Logger) *Model {
	return &Model{
		apiKey:    apiKey,
		secretKey: secretKey,
		tokens:    tokens,
		client:    &http.Client{Timeout: 60 * time.Second},
		logger:    logger.With(zap.String("model_provider", "qianfan")),
	}
}

func (m *Model) Name() string { return "qianfan" }

func (m *Model) base() string {
	if m.baseOverride != "" {
		return m.baseOverride
	}
	return defaultAuthBaseURL
}

func (m *Model) tokenKey() string { return "qianfan:" + m.apiKey }

// accessToken returns a cached token or exchanges the key pair for a new one.
func (m *Model) accessToken(ctx context.Context) (string, error) {
	return m.tokens.Get(ctx, m.tokenKey(), func(ctx context.Context) (string, time.Duration, error) {
		query := url.Values{}
		query.Set("grant_type", "client_credentials")
		query.Set("client_id", m.apiKey)
		query.Set("client_secret", m.secretKey)

		req, err := http.NewRequestWithContext(ctx, http.MethodPost,
			m.base()+"/oauth/2.0/token?"+query.Encode(), nil)
		if err != nil {
			return "", 0, plugin.NewError(plugin.ErrBadRequest, "build token request").
				WithCause(err).WithProvider("qianfan")
		}

		resp, err := m.client.Do(req)
		if err != nil {
			return "", 0, plugin.NewError(plugin.ErrServerUnavailable, "token exchange failed").
				WithCause(err).WithProvider("qianfan")
		}
		defer resp.Body.Close()

		body, _ := io.ReadAll(resp.Body)
		if resp.StatusCode >= 400 {
			return "", 0, models.DecodeError("qianfan", resp.StatusCode, body)
		}

		var token struct {
			AccessToken string `json:"access_token"`
			ExpiresIn   int64  `json:"expires_in"`
			Error       string `json:"error"`
			ErrorDesc   string `json:"error_description"`
		}
		if err := json.Unmarshal(body, &token); err != nil || token.AccessToken == "" {
			msg := token.ErrorDesc
			if msg == "" {
				msg = "token exchange returned no access token"
			}
			return "", 0, plugin.NewError(plugin.ErrCredentialsInvalid, msg).WithProvider("qianfan")
		}
		return token.AccessToken, time.Duration(token.ExpiresIn) * time.Second, nil
	})
}

func (m *Model) post(ctx context.Context, path string, payload any, out any) error {
	token, err := m.accessToken(ctx)
	if err != nil {
		return err
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return plugin.NewError(plugin.ErrBadRequest, "encode request").WithCause(err).WithProvider("qianfan")
	}

	endpoint := m.base() + path + "?access_token=" + url.QueryEscape(token)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return plugin.NewError(plugin.ErrBadRequest, "build request").WithCause(err).WithProvider("qianfan")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := m.client.Do(req)
	if err != nil {
		return plugin.NewError(plugin.ErrServerUnavailable, "request failed").
			WithCause(err).WithProvider("qianfan")
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return plugin.NewError(plugin.ErrInvokeError, "read response").WithCause(err).WithProvider("qianfan")
	}
	if resp.StatusCode >= 400 {
		return models.DecodeError("qianfan", resp.StatusCode, raw)
	}

	// vendor reports errors in a 200 body via error_code
	var ve struct {
		ErrorCode int    `json:"error_code"`
		ErrorMsg  string `json:"error_msg"`
	}
	if err := json.Unmarshal(raw, &ve); err == nil && ve.ErrorCode != 0 {
		if ve.ErrorCode == codeAccessTokenInvalid || ve.ErrorCode == codeAccessTokenExpired {
			m.tokens.Invalidate(ctx, m.tokenKey())
			return plugin.NewError(plugin.ErrCredentialsInvalid, ve.ErrorMsg).WithProvider("qianfan")
		}
		return plugin.NewError(plugin.ErrInvokeError,
			fmt.Sprintf("error_code %d: %s", ve.ErrorCode, ve.ErrorMsg)).WithProvider("qianfan")
	}

	if err := json.Unmarshal(raw, out); err != nil {
		return plugin.NewError(plugin.ErrInvokeError, "decode response").WithCause(err).WithProvider("qianfan")
	}
	return nil
}

// ===== chat =====

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Messages    []chatMessage `json:"messages"`
	System      string        `json:"system,omitempty"`
	Temperature float32       `json:"temperature,omitempty"`
	TopP        float32       `json:"top_p,omitempty"`
	Stop        []string      `json:"stop,omitempty"`
}

type chatResponse struct {
	ID           string            `json:"id"`
	Result       string            `json:"result"`
	FinishReason string            `json:"finish_reason"`
	Usage        *models.ChatUsage `json:"usage,omitempty"`
}

// convertRequest lifts system turns into the dedicated system field; the
// messages array allows only alternating user/assistant roles.
func convertRequest(req *models.ChatRequest) chatRequest {
	out := chatRequest{
		Temperature: req.Temperature,
		TopP:        req.TopP,
		Stop:        req.Stop,
	}
	for _, msg := range req.Messages {
		if msg.Role == models.RoleSystem {
			if out.System != "" {
				out.System += "\n"
			}
			out.System += msg.Content
			continue
		}
		role := "user"
		if msg.Role == models.RoleAssistant {
			role = "assistant"
		}
		out.Messages = append(out.Messages, chatMessage{Role: role, Content: msg.Content})
	}
	return out
}

// Chat runs a blocking completion; the reply text arrives in `result`.
func (m *Model) Chat(ctx context.Context, req *models.ChatRequest) (*models.ChatResponse, error) {
	var wire chatResponse
	if err := m.post(ctx, fmt.Sprintf(chatPathFormat, url.PathEscape(req.Model)), convertRequest(req), &wire); err != nil {
		return nil, err
	}

	out := &models.ChatResponse{
		ID:       wire.ID,
		Provider: "qianfan",
		Model:    req.Model,
		Message: models.Message{
			Role:    models.RoleAssistant,
			Content: wire.Result,
		},
		FinishReason: wire.FinishReason,
	}
	if wire.Usage != nil {
		out.Usage = *wire.Usage
	}
	return out, nil
}

// ===== embedding =====

// Embed converts texts into vectors.
func (m *Model) Embed(ctx context.Context, model string, texts []string) (*models.EmbeddingResult, error) {
	var wire struct {
		Data []struct {
			Index     int       `json:"index"`
			Embedding []float64 `json:"embedding"`
		} `json:"data"`
		Usage models.ChatUsage `json:"usage"`
	}
	payload := map[string]any{"input": texts}
	if err := m.post(ctx, fmt.Sprintf(embedPathFormat, url.PathEscape(model)), payload, &wire); err != nil {
		return nil, err
	}
	if len(wire.Data) != len(texts) {
		return nil, plugin.NewError(plugin.ErrInvokeError,
			fmt.Sprintf("expected %d embeddings, got %d", len(texts), len(wire.Data))).WithProvider("qianfan")
	}

	out := &models.EmbeddingResult{
		Embeddings: make([][]float64, len(texts)),
		Usage:      wire.Usage,
	}
	for _, d := range wire.Data {
		if d.Index < 0 || d.Index >= len(texts) {
			return nil, plugin.NewError(plugin.ErrInvokeError, "embedding index out of range").WithProvider("qianfan")
		}
		out.Embeddings[d.Index] = d.Embedding
	}
	return out, nil
}

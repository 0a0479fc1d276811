// Package hunyuan adapts the Tencent Hunyuan cloud API. Requests are signed
// with TC3-HMAC-SHA256 and dispatched by action name; the vendor reports
// errors inside a 200 response envelope rather than via HTTP status.
package hunyuan

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

	"github.com/BaSui01/hookflow/models"
	"github.com/BaSui01/hookflow/plugin"
)

const (
	defaultEndpoint = "hunyuan.tencentcloudapi.com"
	apiVersion      = "2023-09-01"
)

// Model is a Hunyuan API adapter.
type Model struct {
	secretID  string
	secretKey string
	client    *http.Client
	logger    *zap.Logger
	now       func() time.Time

	baseOverride string
}

// New creates a Hunyuan adapter from a cloud API secret pair.
func New(secretID, secretKey string, logger *zap.Logger) *Model {
	return &Model{
		secretID:  secretID,
		secretKey: secretKey,
		client:    &http.Client{Timeout: 60 * time.Second},
		logger:    logger.With(zap.String("model_provider", "hunyuan")),
		now:       time.Now,
	}
}

func (m *Model) Name() string { return "hunyuan" }

func (m *Model) endpoint() (base, host string) {
	if m.baseOverride != "" {
		u, err := url.Parse(m.baseOverride)
		if err == nil {
			return m.baseOverride, u.Host
		}
	}
	return "https://" + defaultEndpoint, defaultEndpoint
}

// vendor error codes → plugin codes
func mapVendorCode(code, message string) error {
	switch {
	case strings.HasPrefix(code, "AuthFailure"), strings.HasPrefix(code, "UnauthorizedOperation"):
		return plugin.NewError(plugin.ErrCredentialsInvalid, message).WithProvider("hunyuan")
	case strings.HasPrefix(code, "RequestLimitExceeded"):
		return plugin.NewError(plugin.ErrRateLimited, message).WithProvider("hunyuan")
	case strings.HasPrefix(code, "InternalError"):
		return plugin.NewError(plugin.ErrServerUnavailable, message).WithProvider("hunyuan")
	default:
		return plugin.NewError(plugin.ErrInvokeError, code+": "+message).WithProvider("hunyuan")
	}
}

type responseEnvelope struct {
	Response json.RawMessage `json:"Response"`
}

type responseError struct {
	Error *struct {
		Code    string `json:"Code"`
		Message string `json:"Message"`
	} `json:"Error"`
}

func (m *Model) doAction(ctx context.Context, action string, payload any) (*http.Response, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, plugin.NewError(plugin.ErrBadRequest, "encode request").WithCause(err).WithProvider("hunyuan")
	}

	base, host := m.endpoint()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, base+"/", bytes.NewReader(body))
	if err != nil {
		return nil, plugin.NewError(plugin.ErrBadRequest, "build request").WithCause(err).WithProvider("hunyuan")
	}

	now := m.now()
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Host", host)
	req.Header.Set("X-TC-Action", action)
	req.Header.Set("X-TC-Version", apiVersion)
	req.Header.Set("X-TC-Timestamp", strconv.FormatInt(now.Unix(), 10))
	req.Header.Set("Authorization", authorization(m.secretID, m.secretKey, host, action, body, now))

	resp, err := m.client.Do(req)
	if err != nil {
		return nil, plugin.NewError(plugin.ErrServerUnavailable, "request failed").
			WithCause(err).WithProvider("hunyuan")
	}
	return resp, nil
}

// decodeAction unwraps the Response envelope and surfaces embedded vendor
// errors.
func decodeAction(body []byte, out any) error {
	var env responseEnvelope
	if err := json.Unmarshal(body, &env); err != nil || env.Response == nil {
		return plugin.NewError(plugin.ErrInvokeError, "decode response envelope").
			WithCause(err).WithProvider("hunyuan")
	}

	var re responseError
	if err := json.Unmarshal(env.Response, &re); err == nil && re.Error != nil {
		return mapVendorCode(re.Error.Code, re.Error.Message)
	}

	if err := json.Unmarshal(env.Response, out); err != nil {
		return plugin.NewError(plugin.ErrInvokeError, "decode response").
			WithCause(err).WithProvider("hunyuan")
	}
	return nil
}

// ===== chat =====

type chatMessage struct {
	Role    string `json:"Role"`
	Content string `json:"Content"`
}

type chatRequest struct {
	Model       string        `json:"Model"`
	Messages    []chatMessage `json:"Messages"`
	Temperature float32       `json:"Temperature,omitempty"`
	TopP        float32       `json:"TopP,omitempty"`
	Stream      bool          `json:"Stream"`
}

type chatUsage struct {
	PromptTokens     int `json:"PromptTokens"`
	CompletionTokens int `json:"CompletionTokens"`
	TotalTokens      int `json:"TotalTokens"`
}

type chatResponse struct {
	ID      string `json:"Id"`
	Choices []struct {
		FinishReason string `json:"FinishReason"`
		Message      struct {
			Role    string `json:"Role"`
			Content string `json:"Content"`
		} `json:"Message"`
		Delta *struct {
			Content string `json:"Content"`
		} `json:"Delta,omitempty"`
	} `json:"Choices"`
	Usage *chatUsage `json:"Usage,omitempty"`
}

func convertMessages(msgs []models.Message) []chatMessage {
	out := make([]chatMessage, 0, len(msgs))
	for _, msg := range msgs {
		out = append(out, chatMessage{Role: string(msg.Role), Content: msg.Content})
	}
	return out
}

// Chat runs a blocking ChatCompletions call.
func (m *Model) Chat(ctx context.Context, req *models.ChatRequest) (*models.ChatResponse, error) {
	resp, err := m.doAction(ctx, "ChatCompletions", chatRequest{
		Model:       req.Model,
		Messages:    convertMessages(req.Messages),
		Temperature: req.Temperature,
		TopP:        req.TopP,
	})
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, plugin.NewError(plugin.ErrInvokeError, "read response").
			WithCause(err).WithProvider("hunyuan")
	}
	if resp.StatusCode >= 400 {
		return nil, models.DecodeError("hunyuan", resp.StatusCode, body)
	}

	var wire chatResponse
	if err := decodeAction(body, &wire); err != nil {
		return nil, err
	}
	if len(wire.Choices) == 0 {
		return nil, plugin.NewError(plugin.ErrInvokeError, "response has no choices").WithProvider("hunyuan")
	}

	out := &models.ChatResponse{
		ID:       wire.ID,
		Provider: "hunyuan",
		Model:    req.Model,
		Message: models.Message{
			Role:    models.RoleAssistant,
			Content: wire.Choices[0].Message.Content,
		},
		FinishReason: wire.Choices[0].FinishReason,
	}
	if wire.Usage != nil {
		out.Usage = models.ChatUsage{
			PromptTokens:     wire.Usage.PromptTokens,
			CompletionTokens: wire.Usage.CompletionTokens,
			TotalTokens:      wire.Usage.TotalTokens,
		}
	}
	return out, nil
}

// ChatStream runs ChatCompletions with Stream=true; the vendor answers with
// SSE frames carrying Delta contents.
func (m *Model) ChatStream(ctx context.Context, req *models.ChatRequest) (<-chan models.StreamChunk, error) {
	resp, err := m.doAction(ctx, "ChatCompletions", chatRequest{
		Model:       req.Model,
		Messages:    convertMessages(req.Messages),
		Temperature: req.Temperature,
		TopP:        req.TopP,
		Stream:      true,
	})
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 400 {
		defer resp.Body.Close()
		body, _ := io.ReadAll(resp.Body)
		return nil, models.DecodeError("hunyuan", resp.StatusCode, body)
	}

	ch := make(chan models.StreamChunk)
	go func() {
		defer resp.Body.Close()
		defer close(ch)

		err := models.ScanSSE(resp.Body, func(data []byte) error {
			var wire chatResponse
			if err := json.Unmarshal(data, &wire); err != nil {
				return plugin.NewError(plugin.ErrInvokeError, "decode stream chunk").
					WithCause(err).WithProvider("hunyuan")
			}
			for _, choice := range wire.Choices {
				chunk := models.StreamChunk{
					ID:           wire.ID,
					Provider:     "hunyuan",
					Model:        req.Model,
					FinishReason: choice.FinishReason,
				}
				if choice.Delta != nil {
					chunk.Delta = choice.Delta.Content
				}
				if wire.Usage != nil {
					chunk.Usage = &models.ChatUsage{
						PromptTokens:     wire.Usage.PromptTokens,
						CompletionTokens: wire.Usage.CompletionTokens,
						TotalTokens:      wire.Usage.TotalTokens,
					}
				}
				select {
				case ch <- chunk:
				case <-ctx.Done():
					return ctx.Err()
				}
			}
			return nil
		})
		if err != nil {
			select {
			case ch <- models.StreamChunk{Provider: "hunyuan", Err: err}:
			case <-ctx.Done():
			}
		}
	}()
	return ch, nil
}

// ===== embedding =====

type embeddingResponse struct {
	Data []struct {
		Embedding []float64 `json:"Embedding"`
		Index     int       `json:"Index"`
	} `json:"Data"`
	Usage *struct {
		PromptTokens int `json:"PromptTokens"`
		TotalTokens  int `json:"TotalTokens"`
	} `json:"Usage,omitempty"`
}

// Embed converts texts into vectors. GetEmbedding takes one text per call;
// usage accumulates across the calls.
func (m *Model) Embed(ctx context.Context, model string, texts []string) (*models.EmbeddingResult, error) {
	out := &models.EmbeddingResult{Embeddings: make([][]float64, 0, len(texts))}

	for _, text := range texts {
		resp, err := m.doAction(ctx, "GetEmbedding", map[string]string{"Input": text})
		if err != nil {
			return nil, err
		}

		body, readErr := io.ReadAll(resp.Body)
		resp.Body.Close()
		if readErr != nil {
			return nil, plugin.NewError(plugin.ErrInvokeError, "read response").
				WithCause(readErr).WithProvider("hunyuan")
		}
		if resp.StatusCode >= 400 {
			return nil, models.DecodeError("hunyuan", resp.StatusCode, body)
		}

		var wire embeddingResponse
		if err := decodeAction(body, &wire); err != nil {
			return nil, err
		}
		if len(wire.Data) == 0 {
			return nil, plugin.NewError(plugin.ErrInvokeError, "embedding response has no data").WithProvider("hunyuan")
		}

		for _, d := range wire.Data {
			out.Embeddings = append(out.Embeddings, d.Embedding)
		}
		if wire.Usage != nil {
			out.Usage.Add(models.ChatUsage{
				PromptTokens: wire.Usage.PromptTokens,
				TotalTokens:  wire.Usage.TotalTokens,
			})
		}
	}
	return out, nil
}

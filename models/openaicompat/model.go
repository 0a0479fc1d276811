// Package openaicompat adapts any OpenAI-compatible endpoint: chat
// completions (blocking and SSE streaming), embeddings and rerank. Vendors
// that merely re-skin this wire format (DashScope, Ark, Databricks serving
// endpoints) reuse this adapter with their own base URL.
package openaicompat

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/hookflow/models"
	"github.com/BaSui01/hookflow/plugin"
)

// Config selects the endpoint and credentials.
type Config struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration

	// ChatPath overrides the chat completion path for vendors that expose
	// the same wire format under a different route.
	ChatPath string

	// ExtraHeaders are added to every request.
	ExtraHeaders map[string]string
}

// Model is an OpenAI-compatible vendor adapter.
type Model struct {
	name   string
	cfg    Config
	client *http.Client
	logger *zap.Logger
}

// New creates an adapter named after the vendor it fronts.
func New(name string, cfg Config, logger *zap.Logger) *Model {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 60 * time.Second
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.ChatPath == "" {
		cfg.ChatPath = "/chat/completions"
	}

	return &Model{
		name:   name,
		cfg:    cfg,
		client: &http.Client{Timeout: timeout},
		logger: logger.With(zap.String("model_provider", name)),
	}
}

func (m *Model) Name() string { return m.name }

// ===== wire types =====

type wireMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
	Name    string `json:"name,omitempty"`
}

type wireRequest struct {
	Model       string        `json:"model"`
	Messages    []wireMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Temperature float32       `json:"temperature,omitempty"`
	TopP        float32       `json:"top_p,omitempty"`
	Stop        []string      `json:"stop,omitempty"`
	Stream      bool          `json:"stream,omitempty"`
}

type wireChoice struct {
	Index        int          `json:"index"`
	FinishReason string       `json:"finish_reason"`
	Message      wireMessage  `json:"message"`
	Delta        *wireMessage `json:"delta,omitempty"`
}

type wireResponse struct {
	ID      string            `json:"id"`
	Model   string            `json:"model"`
	Choices []wireChoice      `json:"choices"`
	Usage   *models.ChatUsage `json:"usage,omitempty"`
	Created int64             `json:"created,omitempty"`
}

func convertMessages(msgs []models.Message) []wireMessage {
	out := make([]wireMessage, 0, len(msgs))
	for _, msg := range msgs {
		out = append(out, wireMessage{Role: string(msg.Role), Content: msg.Content, Name: msg.Name})
	}
	return out
}

func (m *Model) do(ctx context.Context, path string, payload any) (*http.Response, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, plugin.NewError(plugin.ErrBadRequest, "encode request").WithCause(err).WithProvider(m.name)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.cfg.BaseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, plugin.NewError(plugin.ErrBadRequest, "build request").WithCause(err).WithProvider(m.name)
	}
	req.Header.Set("Content-Type", "application/json")
	if m.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+m.cfg.APIKey)
	}
	for k, v := range m.cfg.ExtraHeaders {
		req.Header.Set(k, v)
	}

	resp, err := m.client.Do(req)
	if err != nil {
		return nil, plugin.NewError(plugin.ErrServerUnavailable, "request failed").
			WithCause(err).WithProvider(m.name)
	}
	return resp, nil
}

// Chat runs a blocking chat completion.
func (m *Model) Chat(ctx context.Context, req *models.ChatRequest) (*models.ChatResponse, error) {
	resp, err := m.do(ctx, m.cfg.ChatPath, wireRequest{
		Model:       req.Model,
		Messages:    convertMessages(req.Messages),
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
		TopP:        req.TopP,
		Stop:        req.Stop,
	})
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(resp.Body)
		return nil, models.DecodeError(m.name, resp.StatusCode, body)
	}

	var wire wireResponse
	if err := json.NewDecoder(resp.Body).Decode(&wire); err != nil {
		return nil, plugin.NewError(plugin.ErrInvokeError, "decode response").
			WithCause(err).WithProvider(m.name)
	}
	if len(wire.Choices) == 0 {
		return nil, plugin.NewError(plugin.ErrInvokeError, "response has no choices").WithProvider(m.name)
	}

	out := &models.ChatResponse{
		ID:       wire.ID,
		Provider: m.name,
		Model:    wire.Model,
		Message: models.Message{
			Role:    models.RoleAssistant,
			Content: wire.Choices[0].Message.Content,
		},
		FinishReason: wire.Choices[0].FinishReason,
	}
	if wire.Usage != nil {
		out.Usage = *wire.Usage
	}
	if wire.Created != 0 {
		out.CreatedAt = time.Unix(wire.Created, 0)
	}
	return out, nil
}

// ChatStream runs a streaming chat completion. The channel closes after the
// [DONE] marker or an error chunk.
func (m *Model) ChatStream(ctx context.Context, req *models.ChatRequest) (<-chan models.StreamChunk, error) {
	resp, err := m.do(ctx, m.cfg.ChatPath, wireRequest{
		Model:       req.Model,
		Messages:    convertMessages(req.Messages),
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
		TopP:        req.TopP,
		Stop:        req.Stop,
		Stream:      true,
	})
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 400 {
		defer resp.Body.Close()
		body, _ := io.ReadAll(resp.Body)
		return nil, models.DecodeError(m.name, resp.StatusCode, body)
	}

	ch := make(chan models.StreamChunk)
	go func() {
		defer resp.Body.Close()
		defer close(ch)

		err := models.ScanSSE(resp.Body, func(data []byte) error {
			var wire wireResponse
			if err := json.Unmarshal(data, &wire); err != nil {
				return plugin.NewError(plugin.ErrInvokeError, "decode stream chunk").
					WithCause(err).WithProvider(m.name)
			}
			for _, choice := range wire.Choices {
				chunk := models.StreamChunk{
					ID:           wire.ID,
					Provider:     m.name,
					Model:        wire.Model,
					FinishReason: choice.FinishReason,
					Usage:        wire.Usage,
				}
				if choice.Delta != nil {
					chunk.Delta = choice.Delta.Content
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
			case ch <- models.StreamChunk{Provider: m.name, Err: err}:
			case <-ctx.Done():
			}
		}
	}()
	return ch, nil
}

// Embed converts texts into vectors via /embeddings.
func (m *Model) Embed(ctx context.Context, model string, texts []string) (*models.EmbeddingResult, error) {
	resp, err := m.do(ctx, "/embeddings", map[string]any{
		"model": model,
		"input": texts,
	})
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(resp.Body)
		return nil, models.DecodeError(m.name, resp.StatusCode, body)
	}

	var wire struct {
		Data []struct {
			Index     int       `json:"index"`
			Embedding []float64 `json:"embedding"`
		} `json:"data"`
		Usage models.ChatUsage `json:"usage"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&wire); err != nil {
		return nil, plugin.NewError(plugin.ErrInvokeError, "decode embeddings").
			WithCause(err).WithProvider(m.name)
	}
	if len(wire.Data) != len(texts) {
		return nil, plugin.NewError(plugin.ErrInvokeError,
			fmt.Sprintf("expected %d embeddings, got %d", len(texts), len(wire.Data))).WithProvider(m.name)
	}

	out := &models.EmbeddingResult{
		Embeddings: make([][]float64, len(texts)),
		Usage:      wire.Usage,
	}
	for _, d := range wire.Data {
		if d.Index < 0 || d.Index >= len(texts) {
			return nil, plugin.NewError(plugin.ErrInvokeError, "embedding index out of range").WithProvider(m.name)
		}
		out.Embeddings[d.Index] = d.Embedding
	}
	return out, nil
}

// Rerank scores documents against a query via /rerank.
func (m *Model) Rerank(ctx context.Context, model, query string, documents []string, topN int) (*models.RerankResult, error) {
	payload := map[string]any{
		"model":     model,
		"query":     query,
		"documents": documents,
	}
	if topN > 0 {
		payload["top_n"] = topN
	}

	resp, err := m.do(ctx, "/rerank", payload)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(resp.Body)
		return nil, models.DecodeError(m.name, resp.StatusCode, body)
	}

	var wire struct {
		Results []struct {
			Index          int     `json:"index"`
			RelevanceScore float64 `json:"relevance_score"`
			Document       *struct {
				Text string `json:"text"`
			} `json:"document"`
		} `json:"results"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&wire); err != nil {
		return nil, plugin.NewError(plugin.ErrInvokeError, "decode rerank response").
			WithCause(err).WithProvider(m.name)
	}

	out := &models.RerankResult{Documents: make([]models.RerankDocument, 0, len(wire.Results))}
	for _, r := range wire.Results {
		doc := models.RerankDocument{Index: r.Index, Score: r.RelevanceScore}
		if r.Document != nil {
			doc.Text = r.Document.Text
		} else if r.Index >= 0 && r.Index < len(documents) {
			doc.Text = documents[r.Index]
		}
		out.Documents = append(out.Documents, doc)
	}
	return out, nil
}

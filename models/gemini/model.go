// Package gemini adapts the Google Generative Language REST API:
// generateContent for blocking chat, streamGenerateContent with alt=sse for
// streaming, and batchEmbedContents for embeddings. System messages become
// the systemInstruction block; assistant turns map to the "model" role.
package gemini

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/hookflow/models"
	"github.com/BaSui01/hookflow/plugin"
)

const defaultBaseURL = "https://generativelanguage.googleapis.com"

// Model is a Gemini API adapter.
type Model struct {
	apiKey string
	client *http.Client
	logger *zap.Logger

	baseOverride string
}

// New creates a Gemini adapter.
func New(apiKey string, logger *zap.Logger) *Model {
	return &Model{
		apiKey: apiKey,
		client: &http.Client{Timeout: 60 * time.Second},
		logger: logger.With(zap.String("model_provider", "gemini")),
	}
}

func (m *Model) Name() string { return "gemini" }

func (m *Model) base() string {
	if m.baseOverride != "" {
		return m.baseOverride
	}
	return defaultBaseURL
}

// ===== wire types =====

type part struct {
	Text string `json:"text,omitempty"`
}

type content struct {
	Role  string `json:"role,omitempty"`
	Parts []part `json:"parts"`
}

type generationConfig struct {
	Temperature     float32  `json:"temperature,omitempty"`
	TopP            float32  `json:"topP,omitempty"`
	MaxOutputTokens int      `json:"maxOutputTokens,omitempty"`
	StopSequences   []string `json:"stopSequences,omitempty"`
}

type generateRequest struct {
	SystemInstruction *content          `json:"systemInstruction,omitempty"`
	Contents          []content         `json:"contents"`
	GenerationConfig  *generationConfig `json:"generationConfig,omitempty"`
}

type usageMetadata struct {
	PromptTokenCount     int `json:"promptTokenCount"`
	CandidatesTokenCount int `json:"candidatesTokenCount"`
	TotalTokenCount      int `json:"totalTokenCount"`
}

type generateResponse struct {
	Candidates []struct {
		Content      content `json:"content"`
		FinishReason string  `json:"finishReason"`
	} `json:"candidates"`
	UsageMetadata *usageMetadata `json:"usageMetadata,omitempty"`
}

// convertRequest splits system turns into systemInstruction and maps the
// rest onto the contents array.
func convertRequest(req *models.ChatRequest) generateRequest {
	out := generateRequest{}

	var systemParts []part
	for _, msg := range req.Messages {
		switch msg.Role {
		case models.RoleSystem:
			systemParts = append(systemParts, part{Text: msg.Content})
		case models.RoleAssistant:
			out.Contents = append(out.Contents, content{Role: "model", Parts: []part{{Text: msg.Content}}})
		default:
			out.Contents = append(out.Contents, content{Role: "user", Parts: []part{{Text: msg.Content}}})
		}
	}
	if len(systemParts) > 0 {
		out.SystemInstruction = &content{Parts: systemParts}
	}

	if req.Temperature != 0 || req.TopP != 0 || req.MaxTokens != 0 || len(req.Stop) > 0 {
		out.GenerationConfig = &generationConfig{
			Temperature:     req.Temperature,
			TopP:            req.TopP,
			MaxOutputTokens: req.MaxTokens,
			StopSequences:   req.Stop,
		}
	}
	return out
}

func joinParts(c content) string {
	var b strings.Builder
	for _, p := range c.Parts {
		b.WriteString(p.Text)
	}
	return b.String()
}

func (m *Model) post(ctx context.Context, model, method, query string, payload any) (*http.Response, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, plugin.NewError(plugin.ErrBadRequest, "encode request").WithCause(err).WithProvider("gemini")
	}

	endpoint := fmt.Sprintf("%s/v1beta/models/%s:%s", m.base(), url.PathEscape(model), method)
	if query != "" {
		endpoint += "?" + query
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, plugin.NewError(plugin.ErrBadRequest, "build request").WithCause(err).WithProvider("gemini")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-goog-api-key", m.apiKey)

	resp, err := m.client.Do(req)
	if err != nil {
		return nil, plugin.NewError(plugin.ErrServerUnavailable, "request failed").
			WithCause(err).WithProvider("gemini")
	}
	return resp, nil
}

// Chat runs a blocking generateContent call.
func (m *Model) Chat(ctx context.Context, req *models.ChatRequest) (*models.ChatResponse, error) {
	resp, err := m.post(ctx, req.Model, "generateContent", "", convertRequest(req))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(resp.Body)
		return nil, models.DecodeError("gemini", resp.StatusCode, body)
	}

	var wire generateResponse
	if err := json.NewDecoder(resp.Body).Decode(&wire); err != nil {
		return nil, plugin.NewError(plugin.ErrInvokeError, "decode response").
			WithCause(err).WithProvider("gemini")
	}
	if len(wire.Candidates) == 0 {
		return nil, plugin.NewError(plugin.ErrInvokeError, "response has no candidates").WithProvider("gemini")
	}

	out := &models.ChatResponse{
		Provider: "gemini",
		Model:    req.Model,
		Message: models.Message{
			Role:    models.RoleAssistant,
			Content: joinParts(wire.Candidates[0].Content),
		},
		FinishReason: strings.ToLower(wire.Candidates[0].FinishReason),
	}
	if wire.UsageMetadata != nil {
		out.Usage = models.ChatUsage{
			PromptTokens:     wire.UsageMetadata.PromptTokenCount,
			CompletionTokens: wire.UsageMetadata.CandidatesTokenCount,
			TotalTokens:      wire.UsageMetadata.TotalTokenCount,
		}
	}
	return out, nil
}

// ChatStream runs streamGenerateContent with SSE frames.
func (m *Model) ChatStream(ctx context.Context, req *models.ChatRequest) (<-chan models.StreamChunk, error) {
	resp, err := m.post(ctx, req.Model, "streamGenerateContent", "alt=sse", convertRequest(req))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 400 {
		defer resp.Body.Close()
		body, _ := io.ReadAll(resp.Body)
		return nil, models.DecodeError("gemini", resp.StatusCode, body)
	}

	ch := make(chan models.StreamChunk)
	go func() {
		defer resp.Body.Close()
		defer close(ch)

		err := models.ScanSSE(resp.Body, func(data []byte) error {
			var wire generateResponse
			if err := json.Unmarshal(data, &wire); err != nil {
				return plugin.NewError(plugin.ErrInvokeError, "decode stream chunk").
					WithCause(err).WithProvider("gemini")
			}
			for _, cand := range wire.Candidates {
				chunk := models.StreamChunk{
					Provider:     "gemini",
					Model:        req.Model,
					Delta:        joinParts(cand.Content),
					FinishReason: strings.ToLower(cand.FinishReason),
				}
				if wire.UsageMetadata != nil {
					chunk.Usage = &models.ChatUsage{
						PromptTokens:     wire.UsageMetadata.PromptTokenCount,
						CompletionTokens: wire.UsageMetadata.CandidatesTokenCount,
						TotalTokens:      wire.UsageMetadata.TotalTokenCount,
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
			case ch <- models.StreamChunk{Provider: "gemini", Err: err}:
			case <-ctx.Done():
			}
		}
	}()
	return ch, nil
}

// Embed converts texts into vectors via batchEmbedContents.
func (m *Model) Embed(ctx context.Context, model string, texts []string) (*models.EmbeddingResult, error) {
	type embedRequest struct {
		Model   string  `json:"model"`
		Content content `json:"content"`
	}
	requests := make([]embedRequest, 0, len(texts))
	for _, text := range texts {
		requests = append(requests, embedRequest{
			Model:   "models/" + model,
			Content: content{Parts: []part{{Text: text}}},
		})
	}

	resp, err := m.post(ctx, model, "batchEmbedContents", "", map[string]any{"requests": requests})
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(resp.Body)
		return nil, models.DecodeError("gemini", resp.StatusCode, body)
	}

	var wire struct {
		Embeddings []struct {
			Values []float64 `json:"values"`
		} `json:"embeddings"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&wire); err != nil {
		return nil, plugin.NewError(plugin.ErrInvokeError, "decode embeddings").
			WithCause(err).WithProvider("gemini")
	}
	if len(wire.Embeddings) != len(texts) {
		return nil, plugin.NewError(plugin.ErrInvokeError,
			fmt.Sprintf("expected %d embeddings, got %d", len(texts), len(wire.Embeddings))).WithProvider("gemini")
	}

	out := &models.EmbeddingResult{Embeddings: make([][]float64, 0, len(texts))}
	for _, e := range wire.Embeddings {
		out.Embeddings = append(out.Embeddings, e.Values)
	}
	for _, text := range texts {
		out.Usage.PromptTokens += models.CountText(model, text)
	}
	out.Usage.TotalTokens = out.Usage.PromptTokens
	return out, nil
}

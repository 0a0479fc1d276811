// Package openaicompat exposes a chat model behind an OpenAI-compatible
// /v1/chat/completions endpoint, so off-the-shelf OpenAI clients can talk to
// any adapter implementing models.ChatModel.
package openaicompat

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/BaSui01/hookflow/models"
	"github.com/BaSui01/hookflow/plugin"
)

// Endpoint bridges OpenAI chat completion requests onto a ChatModel. When
// APIKey is set, requests must carry it as a bearer token.
type Endpoint struct {
	model  models.ChatModel
	apiKey string
	logger *zap.Logger
}

// NewEndpoint builds the endpoint. An empty apiKey disables the bearer check.
func NewEndpoint(model models.ChatModel, apiKey string, logger *zap.Logger) *Endpoint {
	return &Endpoint{
		model:  model,
		apiKey: apiKey,
		logger: logger.With(zap.String("extension", "openaicompat")),
	}
}

func (e *Endpoint) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "invalid_request_error", "only POST is supported")
		return
	}
	if !e.authorized(r) {
		writeError(w, http.StatusUnauthorized, "invalid_request_error", "invalid or missing API key")
		return
	}

	var req openai.ChatCompletionRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 4<<20)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request_error", "request body is not valid JSON")
		return
	}
	if len(req.Messages) == 0 {
		writeError(w, http.StatusBadRequest, "invalid_request_error", "messages is required")
		return
	}

	chatReq := toChatRequest(req)
	if req.Stream {
		e.streamCompletion(w, r, chatReq)
		return
	}
	e.blockingCompletion(w, r, chatReq)
}

func (e *Endpoint) authorized(r *http.Request) bool {
	if e.apiKey == "" {
		return true
	}
	header := r.Header.Get("Authorization")
	token := strings.TrimPrefix(header, "Bearer ")
	if token == header {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(token), []byte(e.apiKey)) == 1
}

// toChatRequest converts the OpenAI request onto the vendor-neutral shape.
func toChatRequest(req openai.ChatCompletionRequest) *models.ChatRequest {
	out := &models.ChatRequest{
		Model:       req.Model,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
		TopP:        req.TopP,
		Stop:        req.Stop,
	}
	for _, m := range req.Messages {
		out.Messages = append(out.Messages, models.Message{
			Role:    models.Role(m.Role),
			Content: m.Content,
			Name:    m.Name,
		})
	}
	return out
}

func (e *Endpoint) blockingCompletion(w http.ResponseWriter, r *http.Request, req *models.ChatRequest) {
	resp, err := e.model.Chat(r.Context(), req)
	if err != nil {
		e.writeModelError(w, err)
		return
	}

	out := openai.ChatCompletionResponse{
		ID:      completionID(resp.ID),
		Object:  "chat.completion",
		Created: created(resp.CreatedAt),
		Model:   resp.Model,
		Choices: []openai.ChatCompletionChoice{{
			Index: 0,
			Message: openai.ChatCompletionMessage{
				Role:    string(resp.Message.Role),
				Content: resp.Message.Content,
			},
			FinishReason: finishReason(resp.FinishReason),
		}},
		Usage: openai.Usage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		},
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(out)
}

func (e *Endpoint) streamCompletion(w http.ResponseWriter, r *http.Request, req *models.ChatRequest) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "server_error", "streaming is not supported")
		return
	}
	chunks, err := e.model.ChatStream(r.Context(), req)
	if err != nil {
		e.writeModelError(w, err)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)

	for chunk := range chunks {
		if chunk.Err != nil {
			// headers are gone; surface the failure as a terminal event
			e.logger.Error("stream failed", zap.Error(chunk.Err))
			writeSSE(w, map[string]any{"error": map[string]any{"message": chunk.Err.Error()}})
			flusher.Flush()
			break
		}
		out := openai.ChatCompletionStreamResponse{
			ID:      completionID(chunk.ID),
			Object:  "chat.completion.chunk",
			Created: time.Now().Unix(),
			Model:   chunk.Model,
			Choices: []openai.ChatCompletionStreamChoice{{
				Index: 0,
				Delta: openai.ChatCompletionStreamChoiceDelta{
					Role:    string(models.RoleAssistant),
					Content: chunk.Delta,
				},
				FinishReason: finishReason(chunk.FinishReason),
			}},
		}
		if chunk.Usage != nil {
			out.Usage = &openai.Usage{
				PromptTokens:     chunk.Usage.PromptTokens,
				CompletionTokens: chunk.Usage.CompletionTokens,
				TotalTokens:      chunk.Usage.TotalTokens,
			}
		}
		writeSSE(w, out)
		flusher.Flush()
	}

	io.WriteString(w, "data: [DONE]\n\n")
	flusher.Flush()
}

func writeSSE(w io.Writer, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "data: %s\n\n", data)
}

func completionID(id string) string {
	if id == "" {
		id = "none"
	}
	if strings.HasPrefix(id, "chatcmpl-") {
		return id
	}
	return "chatcmpl-" + id
}

func created(t time.Time) int64 {
	if t.IsZero() {
		return time.Now().Unix()
	}
	return t.Unix()
}

func finishReason(reason string) openai.FinishReason {
	if reason == "" {
		return openai.FinishReasonNull
	}
	return openai.FinishReason(reason)
}

// writeModelError renders an adapter error in the OpenAI error envelope,
// reusing the mapped HTTP status when the error carries one.
func (e *Endpoint) writeModelError(w http.ResponseWriter, err error) {
	e.logger.Error("chat completion failed", zap.Error(err))

	status := http.StatusInternalServerError
	errType := "server_error"
	var perr *plugin.Error
	if errors.As(err, &perr) {
		if perr.HTTPStatus != 0 {
			status = perr.HTTPStatus
		}
		switch perr.Code {
		case plugin.ErrCredentialsInvalid:
			status, errType = http.StatusUnauthorized, "authentication_error"
		case plugin.ErrBadRequest:
			status, errType = http.StatusBadRequest, "invalid_request_error"
		case plugin.ErrRateLimited:
			status, errType = http.StatusTooManyRequests, "rate_limit_error"
		case plugin.ErrQuotaExceeded:
			status, errType = http.StatusTooManyRequests, "insufficient_quota"
		}
	}
	writeError(w, status, errType, err.Error())
}

func writeError(w http.ResponseWriter, status int, errType, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"message": message,
			"type":    errType,
		},
	})
}

// Package models defines the shared shapes for LLM vendor adapters: chat
// requests and responses, streaming chunks, embedding and rerank results,
// and the helpers the vendor packages have in common (SSE scanning, vendor
// error decoding, token counting).
package models

import (
	"context"
	"encoding/json"
	"time"

	"github.com/BaSui01/hookflow/plugin"
)

// Role identifies the author of a chat message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Message is one turn of a chat conversation.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
	Name    string `json:"name,omitempty"`
}

// ChatRequest is a vendor-neutral chat completion request.
type ChatRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
	Temperature float32   `json:"temperature,omitempty"`
	TopP        float32   `json:"top_p,omitempty"`
	Stop        []string  `json:"stop,omitempty"`
}

// ChatUsage reports token consumption for a call.
type ChatUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Add accumulates another usage record, for vendors that report usage per
// sub-request.
func (u *ChatUsage) Add(other ChatUsage) {
	u.PromptTokens += other.PromptTokens
	u.CompletionTokens += other.CompletionTokens
	u.TotalTokens += other.TotalTokens
}

// ChatResponse is a completed assistant turn.
type ChatResponse struct {
	ID           string    `json:"id"`
	Provider     string    `json:"provider"`
	Model        string    `json:"model"`
	Message      Message   `json:"message"`
	FinishReason string    `json:"finish_reason"`
	Usage        ChatUsage `json:"usage"`
	CreatedAt    time.Time `json:"created_at,omitempty"`
}

// StreamChunk is one delta of a streaming chat completion. A chunk with Err
// set terminates the stream.
type StreamChunk struct {
	ID           string     `json:"id,omitempty"`
	Provider     string     `json:"provider,omitempty"`
	Model        string     `json:"model,omitempty"`
	Delta        string     `json:"delta,omitempty"`
	FinishReason string     `json:"finish_reason,omitempty"`
	Usage        *ChatUsage `json:"usage,omitempty"`
	Err          error      `json:"-"`
}

// EmbeddingResult holds one vector per input text, in input order.
type EmbeddingResult struct {
	Embeddings [][]float64 `json:"embeddings"`
	Usage      ChatUsage   `json:"usage"`
}

// RerankDocument is one scored document from a rerank call.
type RerankDocument struct {
	Index int     `json:"index"`
	Text  string  `json:"text"`
	Score float64 `json:"score"`
}

// RerankResult holds reranked documents, highest score first.
type RerankResult struct {
	Documents []RerankDocument `json:"documents"`
}

// ChatModel is a chat-capable vendor adapter.
type ChatModel interface {
	Name() string
	Chat(ctx context.Context, req *ChatRequest) (*ChatResponse, error)
	ChatStream(ctx context.Context, req *ChatRequest) (<-chan StreamChunk, error)
}

// EmbeddingModel converts texts into vectors.
type EmbeddingModel interface {
	Name() string
	Embed(ctx context.Context, model string, texts []string) (*EmbeddingResult, error)
}

// RerankModel scores documents against a query.
type RerankModel interface {
	Name() string
	Rerank(ctx context.Context, model, query string, documents []string, topN int) (*RerankResult, error)
}

// vendorError covers the error envelopes the adapters encounter:
// OpenAI-style nested objects, flat message fields, and Baidu's error_msg.
type vendorError struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    any    `json:"code"`
	} `json:"error"`
	Message  string `json:"message"`
	ErrorMsg string `json:"error_msg"`
	Msg      string `json:"msg"`
}

// VendorErrorMessage extracts a human-readable message from a vendor error
// body, falling back to the truncated raw body.
func VendorErrorMessage(body []byte) string {
	var ve vendorError
	if err := json.Unmarshal(body, &ve); err == nil {
		switch {
		case ve.Error.Message != "":
			return ve.Error.Message
		case ve.ErrorMsg != "":
			return ve.ErrorMsg
		case ve.Message != "":
			return ve.Message
		case ve.Msg != "":
			return ve.Msg
		}
	}
	msg := string(body)
	if len(msg) > 200 {
		msg = msg[:200]
	}
	return msg
}

// DecodeError turns a vendor error response into a coded *plugin.Error.
func DecodeError(provider string, status int, body []byte) error {
	return plugin.MapHTTPStatus(status, VendorErrorMessage(body), provider)
}

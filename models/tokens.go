package models

import (
	"strings"
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

// 模型前缀 → tiktoken 编码。未知模型回退到 cl100k_base。
var modelEncodings = map[string]string{
	"gpt-4o":         "o200k_base",
	"gpt-4":          "cl100k_base",
	"gpt-3.5-turbo":  "cl100k_base",
	"text-embedding": "cl100k_base",
}

const fallbackEncoding = "cl100k_base"

var encodings sync.Map // encoding name -> *tiktoken.Tiktoken

// encodingName resolves the tiktoken encoding for a model name: exact match
// first, then the longest matching prefix, so "gpt-4o-mini" lands on the
// "gpt-4o" entry and never on "gpt-4".
func encodingName(model string) string {
	if enc, ok := modelEncodings[model]; ok {
		return enc
	}
	name, longest := fallbackEncoding, 0
	for prefix, enc := range modelEncodings {
		if strings.HasPrefix(model, prefix) && len(prefix) > longest {
			name, longest = enc, len(prefix)
		}
	}
	return name
}

func encodingForModel(model string) (*tiktoken.Tiktoken, error) {
	name := encodingName(model)
	if cached, ok := encodings.Load(name); ok {
		return cached.(*tiktoken.Tiktoken), nil
	}
	enc, err := tiktoken.GetEncoding(name)
	if err != nil {
		return nil, err
	}
	encodings.Store(name, enc)
	return enc, nil
}

// CountTokens estimates the prompt token count of a message list. Counts use
// the model's tiktoken encoding with the standard 4-token per-message and
// 3-token conversation overheads; if the encoding cannot be loaded, a
// bytes/4 heuristic keeps the estimate usable offline.
func CountTokens(model string, messages []Message) int {
	enc, err := encodingForModel(model)
	if err != nil {
		total := 0
		for _, m := range messages {
			total += len(m.Content)/4 + 4
		}
		return total + 3
	}

	total := 0
	for _, m := range messages {
		total += 4
		total += len(enc.Encode(m.Content, nil, nil))
		total += len(enc.Encode(string(m.Role), nil, nil))
	}
	return total + 3
}

// CountText estimates the token count of a single text.
func CountText(model, text string) int {
	enc, err := encodingForModel(model)
	if err != nil {
		return len(text) / 4
	}
	return len(enc.Encode(text, nil, nil))
}

package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEncodingName(t *testing.T) {
	tests := []struct {
		model string
		want  string
	}{
		{"gpt-4o", "o200k_base"},
		{"gpt-4o-mini", "o200k_base"},
		{"gpt-4o-2024-08-06", "o200k_base"},
		{"gpt-4", "cl100k_base"},
		{"gpt-4-turbo", "cl100k_base"},
		{"gpt-3.5-turbo-0125", "cl100k_base"},
		{"text-embedding-3-small", "cl100k_base"},
		{"some-unknown-model", "cl100k_base"},
		{"", "cl100k_base"},
	}
	for _, tt := range tests {
		t.Run(tt.model, func(t *testing.T) {
			assert.Equal(t, tt.want, encodingName(tt.model))
		})
	}
}

// "gpt-4o*" matches both the "gpt-4o" and "gpt-4" table entries; the longer
// prefix must win on every call, not just on a lucky iteration order.
func TestEncodingName_Deterministic(t *testing.T) {
	for i := 0; i < 2000; i++ {
		assert.Equal(t, "o200k_base", encodingName("gpt-4o-mini"))
	}
}

func TestCountText_StableAcrossCalls(t *testing.T) {
	text := "The quick brown fox jumps over the lazy dog."
	first := CountText("gpt-4o-mini", text)
	for i := 0; i < 50; i++ {
		assert.Equal(t, first, CountText("gpt-4o-mini", text))
	}
}

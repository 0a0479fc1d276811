package models

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/hookflow/plugin"
)

func TestVendorErrorMessage(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"openai envelope", `{"error":{"message":"model not found","type":"invalid_request_error"}}`, "model not found"},
		{"flat message", `{"message":"Authentication Error"}`, "Authentication Error"},
		{"baidu error_msg", `{"error_code":110,"error_msg":"Access token invalid"}`, "Access token invalid"},
		{"msg field", `{"msg":"too fast"}`, "too fast"},
		{"raw body fallback", `upstream timeout`, "upstream timeout"},
		{"long raw body truncated", strings.Repeat("x", 500), strings.Repeat("x", 200)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, VendorErrorMessage([]byte(tt.body)))
		})
	}
}

func TestDecodeError_MapsStatus(t *testing.T) {
	err := DecodeError("hunyuan", 401, []byte(`{"message":"bad key"}`))
	require.Error(t, err)
	assert.Equal(t, plugin.ErrCredentialsInvalid, plugin.CodeOf(err))

	err = DecodeError("hunyuan", 429, []byte(`{"message":"slow down"}`))
	assert.Equal(t, plugin.ErrRateLimited, plugin.CodeOf(err))
}

func TestScanSSE(t *testing.T) {
	stream := strings.Join([]string{
		`event: message`,
		`data: {"delta":"Hel"}`,
		``,
		`data: {"delta":"lo"}`,
		``,
		`data: [DONE]`,
		`data: {"delta":"after done, never seen"}`,
	}, "\n")

	var got []string
	err := ScanSSE(strings.NewReader(stream), func(data []byte) error {
		got = append(got, string(data))
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{`{"delta":"Hel"}`, `{"delta":"lo"}`}, got)
}

func TestScanSSE_CallbackErrorAborts(t *testing.T) {
	stream := "data: one\ndata: two\n"
	boom := errors.New("boom")

	calls := 0
	err := ScanSSE(strings.NewReader(stream), func(data []byte) error {
		calls++
		return boom
	})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, calls)
}

func TestScanSSE_EOFWithoutDone(t *testing.T) {
	var got []string
	err := ScanSSE(strings.NewReader("data: tail\n"), func(data []byte) error {
		got = append(got, string(data))
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"tail"}, got)
}

func TestChatUsage_Add(t *testing.T) {
	u := ChatUsage{PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15}
	u.Add(ChatUsage{PromptTokens: 3, TotalTokens: 3})
	assert.Equal(t, ChatUsage{PromptTokens: 13, CompletionTokens: 5, TotalTokens: 18}, u)
}

func TestCountTokens_MoreContentMoreTokens(t *testing.T) {
	short := CountTokens("gpt-4", []Message{{Role: RoleUser, Content: "hi"}})
	long := CountTokens("gpt-4", []Message{
		{Role: RoleSystem, Content: "You are a helpful assistant."},
		{Role: RoleUser, Content: "Please summarize the quarterly report in three bullet points."},
	})
	assert.Greater(t, short, 0)
	assert.Greater(t, long, short)
}

func TestCountText_EmptyIsZero(t *testing.T) {
	assert.Equal(t, 0, CountText("gpt-4", ""))
}

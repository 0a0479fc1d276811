package wecom

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/hookflow/plugin"
)

const testHookKey = "3b7f3e0a-1c2d-4e5f-8a9b-0c1d2e3f4a5b"

func newTestBot(t *testing.T, serverURL string) *GroupBot {
	t.Helper()
	bot, err := NewGroupBot(testHookKey, zap.NewNop())
	require.NoError(t, err)
	bot.baseOverride = serverURL
	return bot
}

func TestNewGroupBot_RejectsBadKey(t *testing.T) {
	_, err := NewGroupBot("not-a-uuid", zap.NewNop())
	require.Error(t, err)
	assert.Equal(t, plugin.ErrCredentialsInvalid, plugin.CodeOf(err))
}

func TestSend_MessageTypes(t *testing.T) {
	var got map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/cgi-bin/webhook/send", r.URL.Path)
		assert.Equal(t, testHookKey, r.URL.Query().Get("key"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		json.NewEncoder(w).Encode(map[string]any{"errcode": 0, "errmsg": "ok"})
	}))
	defer server.Close()

	bot := newTestBot(t, server.URL)

	require.NoError(t, bot.Send(context.Background(), MsgTypeText, "hello"))
	assert.Equal(t, "text", got["msgtype"])
	assert.Equal(t, "hello", got["text"].(map[string]any)["content"])

	require.NoError(t, bot.Send(context.Background(), MsgTypeMarkdown, "# hi"))
	assert.Equal(t, "markdown", got["msgtype"])

	require.NoError(t, bot.Send(context.Background(), MsgTypeMarkdownV2, "**hi**"))
	assert.Equal(t, "markdown_v2", got["msgtype"])

	err := bot.Send(context.Background(), "sticker", "x")
	require.Error(t, err)
	assert.Equal(t, plugin.ErrBadRequest, plugin.CodeOf(err))
}

func TestSend_InvalidKeyCode(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"errcode": 93000, "errmsg": "invalid webhook url"})
	}))
	defer server.Close()

	err := newTestBot(t, server.URL).Send(context.Background(), MsgTypeText, "x")
	require.Error(t, err)
	assert.Equal(t, plugin.ErrCredentialsInvalid, plugin.CodeOf(err))
}

func TestSendFile_UploadsThenSends(t *testing.T) {
	var sent map[string]any
	mux := http.NewServeMux()
	mux.HandleFunc("/cgi-bin/webhook/upload_media", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "file", r.URL.Query().Get("type"))
		require.NoError(t, r.ParseMultipartForm(1<<20))
		_, header, err := r.FormFile("media")
		require.NoError(t, err)
		assert.Equal(t, "report.xlsx", header.Filename)
		json.NewEncoder(w).Encode(map[string]any{"errcode": 0, "media_id": "media-77"})
	})
	mux.HandleFunc("/cgi-bin/webhook/send", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&sent))
		json.NewEncoder(w).Encode(map[string]any{"errcode": 0})
	})

	server := httptest.NewServer(mux)
	defer server.Close()

	bot := newTestBot(t, server.URL)
	require.NoError(t, bot.SendFile(context.Background(), "report.xlsx", []byte("xlsx")))
	assert.Equal(t, "file", sent["msgtype"])
	assert.Equal(t, "media-77", sent["file"].(map[string]any)["media_id"])
}

func TestGroupBotTool_Invoke(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"errcode": 0})
	}))
	defer server.Close()

	tool := NewGroupBotTool(zap.NewNop())
	tool.baseOverride = server.URL
	assert.Equal(t, "wecom_group_bot", tool.Name())

	messages, err := tool.Invoke(context.Background(), map[string]any{
		"hook_key": testHookKey,
		"content":  "deploy finished",
	})
	require.NoError(t, err)
	require.Len(t, messages, 1)
	assert.Equal(t, plugin.KindText, messages[0].Kind())

	_, err = tool.Invoke(context.Background(), map[string]any{"hook_key": "nope", "content": "x"})
	require.Error(t, err)
	assert.Equal(t, plugin.ErrCredentialsInvalid, plugin.CodeOf(err))

	_, err = tool.Invoke(context.Background(), map[string]any{"hook_key": testHookKey})
	require.Error(t, err)
	assert.Equal(t, plugin.ErrBadRequest, plugin.CodeOf(err))

	_, err = tool.Invoke(context.Background(), map[string]any{
		"hook_key": testHookKey, "message_type": "file",
	})
	require.Error(t, err)
}

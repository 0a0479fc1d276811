// Package wecom sends messages into WeCom (企业微信) group chats through the
// group-bot webhook API.
package wecom

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/BaSui01/hookflow/plugin"
)

const defaultAPIBaseURL = "https://qyapi.weixin.qq.com"

// Message types accepted by the webhook.
const (
	MsgTypeText       = "text"
	MsgTypeMarkdown   = "markdown"
	MsgTypeMarkdownV2 = "markdown_v2"
	MsgTypeFile       = "file"
)

// GroupBot posts to one webhook endpoint identified by its hook key.
type GroupBot struct {
	hookKey string
	http    *http.Client
	logger  *zap.Logger

	baseOverride string
}

// NewGroupBot validates the hook key (a UUID issued by WeCom) and builds the
// bot client.
func NewGroupBot(hookKey string, logger *zap.Logger) (*GroupBot, error) {
	if _, err := uuid.Parse(hookKey); err != nil {
		return nil, plugin.NewError(plugin.ErrCredentialsInvalid,
			"hook_key is not a valid UUID").WithCause(err).WithProvider("wecom")
	}
	return &GroupBot{
		hookKey: hookKey,
		http:    &http.Client{Timeout: 30 * time.Second},
		logger:  logger.With(zap.String("tool", "wecom")),
	}, nil
}

func (b *GroupBot) base() string {
	if b.baseOverride != "" {
		return b.baseOverride
	}
	return defaultAPIBaseURL
}

// apiResult is the common errcode envelope of the WeCom API.
type apiResult struct {
	ErrCode int    `json:"errcode"`
	ErrMsg  string `json:"errmsg"`
	MediaID string `json:"media_id"`
}

func (r apiResult) err() error {
	if r.ErrCode == 0 {
		return nil
	}
	code := plugin.ErrInvokeError
	// 93000: invalid webhook key
	if r.ErrCode == 93000 {
		code = plugin.ErrCredentialsInvalid
	}
	return plugin.NewError(code, fmt.Sprintf("wecom error %d: %s", r.ErrCode, r.ErrMsg)).WithProvider("wecom")
}

func (b *GroupBot) decode(resp *http.Response) (apiResult, error) {
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return apiResult{}, plugin.NewError(plugin.ErrInvokeError, "read response").WithCause(err).WithProvider("wecom")
	}
	if resp.StatusCode >= 400 {
		return apiResult{}, plugin.MapHTTPStatus(resp.StatusCode, strings.TrimSpace(string(data)), "wecom")
	}
	var result apiResult
	if err := json.Unmarshal(data, &result); err != nil {
		return apiResult{}, plugin.NewError(plugin.ErrInvokeError, "decode response").WithCause(err).WithProvider("wecom")
	}
	return result, result.err()
}

// Send posts one message of the given type. For text and the two markdown
// flavors, content is the message body.
func (b *GroupBot) Send(ctx context.Context, msgType, content string) error {
	var payload map[string]any
	switch msgType {
	case MsgTypeText:
		payload = map[string]any{"msgtype": MsgTypeText, "text": map[string]string{"content": content}}
	case MsgTypeMarkdown:
		payload = map[string]any{"msgtype": MsgTypeMarkdown, "markdown": map[string]string{"content": content}}
	case MsgTypeMarkdownV2:
		payload = map[string]any{"msgtype": MsgTypeMarkdownV2, "markdown_v2": map[string]string{"content": content}}
	default:
		return plugin.NewError(plugin.ErrBadRequest,
			fmt.Sprintf("unsupported message type %q", msgType)).WithProvider("wecom")
	}
	return b.sendPayload(ctx, payload)
}

// SendFile uploads the file to obtain a media id, then posts a file message
// referencing it.
func (b *GroupBot) SendFile(ctx context.Context, filename string, data []byte) error {
	mediaID, err := b.uploadMedia(ctx, filename, data)
	if err != nil {
		return err
	}
	return b.sendPayload(ctx, map[string]any{
		"msgtype": MsgTypeFile,
		"file":    map[string]string{"media_id": mediaID},
	})
}

func (b *GroupBot) sendPayload(ctx context.Context, payload map[string]any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return plugin.NewError(plugin.ErrBadRequest, "encode message").WithCause(err).WithProvider("wecom")
	}

	endpoint := b.base() + "/cgi-bin/webhook/send?key=" + url.QueryEscape(b.hookKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return plugin.NewError(plugin.ErrBadRequest, "build request").WithCause(err).WithProvider("wecom")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := b.http.Do(req)
	if err != nil {
		return plugin.NewError(plugin.ErrServerUnavailable, "send failed").WithCause(err).WithProvider("wecom")
	}
	if _, err := b.decode(resp); err != nil {
		return err
	}
	b.logger.Info("group message sent", zap.String("msgtype", payload["msgtype"].(string)))
	return nil
}

func (b *GroupBot) uploadMedia(ctx context.Context, filename string, data []byte) (string, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("media", filename)
	if err != nil {
		return "", plugin.NewError(plugin.ErrBadRequest, "build upload").WithCause(err).WithProvider("wecom")
	}
	if _, err := part.Write(data); err != nil {
		return "", plugin.NewError(plugin.ErrBadRequest, "build upload").WithCause(err).WithProvider("wecom")
	}
	if err := mw.Close(); err != nil {
		return "", plugin.NewError(plugin.ErrBadRequest, "build upload").WithCause(err).WithProvider("wecom")
	}

	query := url.Values{"key": {b.hookKey}, "type": {"file"}}
	endpoint := b.base() + "/cgi-bin/webhook/upload_media?" + query.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, &buf)
	if err != nil {
		return "", plugin.NewError(plugin.ErrBadRequest, "build request").WithCause(err).WithProvider("wecom")
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := b.http.Do(req)
	if err != nil {
		return "", plugin.NewError(plugin.ErrServerUnavailable, "upload failed").WithCause(err).WithProvider("wecom")
	}
	result, err := b.decode(resp)
	if err != nil {
		return "", err
	}
	if result.MediaID == "" {
		return "", plugin.NewError(plugin.ErrInvokeError, "upload returned no media id").WithProvider("wecom")
	}
	return result.MediaID, nil
}

// GroupBotTool exposes the group bot as a callable tool.
type GroupBotTool struct {
	logger *zap.Logger

	baseOverride string
}

// NewGroupBotTool builds the tool. The hook key arrives per invocation
// because one tool instance serves many webhooks.
func NewGroupBotTool(logger *zap.Logger) *GroupBotTool {
	return &GroupBotTool{logger: logger}
}

func (t *GroupBotTool) Name() string { return "wecom_group_bot" }

func (t *GroupBotTool) Invoke(ctx context.Context, params map[string]any) ([]plugin.Message, error) {
	bot, err := NewGroupBot(plugin.ParamString(params, "hook_key"), t.logger)
	if err != nil {
		return nil, err
	}
	bot.baseOverride = t.baseOverride

	msgType := plugin.ParamStringOr(params, "message_type", MsgTypeText)
	if msgType == MsgTypeFile {
		data := plugin.ParamBytes(params, "file")
		if len(data) == 0 {
			return nil, plugin.NewError(plugin.ErrBadRequest,
				"file is required for file messages").WithProvider("wecom")
		}
		filename := plugin.ParamStringOr(params, "filename", "file")
		if err := bot.SendFile(ctx, filename, data); err != nil {
			return nil, err
		}
		return []plugin.Message{plugin.NewTextMessage("file sent")}, nil
	}

	content := plugin.ParamString(params, "content")
	if content == "" {
		return nil, plugin.NewError(plugin.ErrBadRequest, "content is required").WithProvider("wecom")
	}
	if err := bot.Send(ctx, msgType, content); err != nil {
		return nil, err
	}
	return []plugin.Message{plugin.NewTextMessage("message sent")}, nil
}

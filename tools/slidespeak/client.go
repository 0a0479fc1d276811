// Package slidespeak generates presentations through the SlideSpeak API.
// Generation is asynchronous: a request returns a task id that is polled
// until the task reaches SUCCESS and yields a download URL.
package slidespeak

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/hookflow/plugin"
)

const defaultBaseURL = "https://api.slidespeak.co/api/v1"

// Task states reported by the vendor.
const (
	TaskSuccess = "SUCCESS"
	TaskFailure = "FAILURE"
	TaskSent    = "SENT"
)

// Client talks to the SlideSpeak API.
type Client struct {
	apiKey       string
	http         *http.Client
	logger       *zap.Logger
	pollInterval time.Duration

	baseOverride string
}

// NewClient creates a SlideSpeak client.
func NewClient(apiKey string, logger *zap.Logger) (*Client, error) {
	if apiKey == "" {
		return nil, plugin.NewError(plugin.ErrCredentialsInvalid,
			"slidespeak_api_key is required").WithProvider("slidespeak")
	}
	return &Client{
		apiKey:       apiKey,
		http:         &http.Client{Timeout: 100 * time.Second},
		logger:       logger.With(zap.String("tool", "slidespeak")),
		pollInterval: 2 * time.Second,
	}, nil
}

func (c *Client) base() string {
	if c.baseOverride != "" {
		return c.baseOverride
	}
	return defaultBaseURL
}

func (c *Client) do(ctx context.Context, method, path string, body io.Reader, contentType string, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, c.base()+path, body)
	if err != nil {
		return plugin.NewError(plugin.ErrBadRequest, "build request").WithCause(err).WithProvider("slidespeak")
	}
	req.Header.Set("X-API-Key", c.apiKey)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return plugin.NewError(plugin.ErrServerUnavailable, "request failed").WithCause(err).WithProvider("slidespeak")
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return plugin.NewError(plugin.ErrInvokeError, "read response").WithCause(err).WithProvider("slidespeak")
	}
	if resp.StatusCode >= 400 {
		return plugin.MapHTTPStatus(resp.StatusCode, strings.TrimSpace(string(data)), "slidespeak")
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return plugin.NewError(plugin.ErrInvokeError, "decode response").WithCause(err).WithProvider("slidespeak")
	}
	return nil
}

func (c *Client) postJSON(ctx context.Context, path string, payload, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return plugin.NewError(plugin.ErrBadRequest, "encode request").WithCause(err).WithProvider("slidespeak")
	}
	return c.do(ctx, http.MethodPost, path, bytes.NewReader(body), "application/json", out)
}

// GenerateRequest is the payload of /presentation/generate.
type GenerateRequest struct {
	PlainText              string   `json:"plain_text,omitempty"`
	DocumentUUIDs          []string `json:"document_uuids,omitempty"`
	Length                 int      `json:"length"`
	Template               string   `json:"template"`
	Language               string   `json:"language,omitempty"`
	Tone                   string   `json:"tone,omitempty"`
	Verbosity              string   `json:"verbosity,omitempty"`
	FetchImages            bool     `json:"fetch_images,omitempty"`
	CustomUserInstructions string   `json:"custom_user_instructions,omitempty"`
	IncludeCover           bool     `json:"include_cover,omitempty"`
	IncludeTableOfContents bool     `json:"include_table_of_contents,omitempty"`
	ResponseFormat         string   `json:"response_format,omitempty"`
}

// TaskStatus is the /task_status/{id} response. TaskResult is decoded lazily
// because SUCCESS payloads differ per task kind (object with url, or a bare
// document uuid string).
type TaskStatus struct {
	TaskID     string          `json:"task_id"`
	TaskStatus string          `json:"task_status"`
	TaskResult json.RawMessage `json:"task_result"`
	TaskInfo   json.RawMessage `json:"task_info"`
}

// Generate submits a presentation request and returns the task id.
func (c *Client) Generate(ctx context.Context, req GenerateRequest) (string, error) {
	if req.PlainText == "" && len(req.DocumentUUIDs) == 0 {
		return "", plugin.NewError(plugin.ErrBadRequest,
			"plain_text or document_uuids is required").WithProvider("slidespeak")
	}
	if req.Template == "" {
		req.Template = "default"
	}

	var out struct {
		TaskID string `json:"task_id"`
	}
	if err := c.postJSON(ctx, "/presentation/generate", req, &out); err != nil {
		return "", err
	}
	if out.TaskID == "" {
		return "", plugin.NewError(plugin.ErrInvokeError, "generation returned no task id").WithProvider("slidespeak")
	}
	return out.TaskID, nil
}

// TaskStatus polls one task.
func (c *Client) TaskStatus(ctx context.Context, taskID string) (TaskStatus, error) {
	var out TaskStatus
	if err := c.do(ctx, http.MethodGet, "/task_status/"+taskID, nil, "", &out); err != nil {
		return TaskStatus{}, err
	}
	return out, nil
}

// WaitForURL polls a task until SUCCESS and returns the download URL from
// task_result.
func (c *Client) WaitForURL(ctx context.Context, taskID string) (string, error) {
	result, err := c.waitForResult(ctx, taskID)
	if err != nil {
		return "", err
	}
	var payload struct {
		URL string `json:"url"`
	}
	if err := json.Unmarshal(result, &payload); err != nil || payload.URL == "" {
		return "", plugin.NewError(plugin.ErrInvokeError, "task finished without a download url").WithProvider("slidespeak")
	}
	return payload.URL, nil
}

func (c *Client) waitForResult(ctx context.Context, taskID string) (json.RawMessage, error) {
	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	for {
		status, err := c.TaskStatus(ctx, taskID)
		if err != nil {
			return nil, err
		}
		switch status.TaskStatus {
		case TaskSuccess:
			if len(status.TaskResult) > 0 && string(status.TaskResult) != "null" {
				return status.TaskResult, nil
			}
			return status.TaskInfo, nil
		case TaskFailure:
			return nil, plugin.NewError(plugin.ErrInvokeError,
				fmt.Sprintf("task %s failed", taskID)).WithProvider("slidespeak")
		}

		c.logger.Debug("task pending", zap.String("task_id", taskID), zap.String("state", status.TaskStatus))
		select {
		case <-ctx.Done():
			return nil, plugin.NewError(plugin.ErrInvokeError, "task polling cancelled").
				WithCause(ctx.Err()).WithProvider("slidespeak")
		case <-ticker.C:
		}
	}
}

// Template is one entry of /presentation/templates.
type Template struct {
	Name   string `json:"name"`
	Images struct {
		Cover   string `json:"cover"`
		Content string `json:"content"`
	} `json:"images"`
}

// Templates lists the available presentation templates.
func (c *Client) Templates(ctx context.Context) ([]Template, error) {
	var out []Template
	if err := c.do(ctx, http.MethodGet, "/presentation/templates", nil, "", &out); err != nil {
		return nil, err
	}
	return out, nil
}

// UploadDocument uploads a source document and waits for processing; it
// returns the document uuid to reference from GenerateRequest.DocumentUUIDs.
func (c *Client) UploadDocument(ctx context.Context, filename string, data []byte) (string, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", filename)
	if err != nil {
		return "", plugin.NewError(plugin.ErrBadRequest, "build upload").WithCause(err).WithProvider("slidespeak")
	}
	if _, err := part.Write(data); err != nil {
		return "", plugin.NewError(plugin.ErrBadRequest, "build upload").WithCause(err).WithProvider("slidespeak")
	}
	if err := mw.Close(); err != nil {
		return "", plugin.NewError(plugin.ErrBadRequest, "build upload").WithCause(err).WithProvider("slidespeak")
	}

	var out struct {
		TaskID string `json:"task_id"`
	}
	if err := c.do(ctx, http.MethodPost, "/document/upload", &buf, mw.FormDataContentType(), &out); err != nil {
		return "", err
	}
	if out.TaskID == "" {
		return "", plugin.NewError(plugin.ErrInvokeError, "upload returned no task id").WithProvider("slidespeak")
	}

	result, err := c.waitForResult(ctx, out.TaskID)
	if err != nil {
		return "", err
	}
	var uuid string
	if err := json.Unmarshal(result, &uuid); err != nil || uuid == "" {
		return "", plugin.NewError(plugin.ErrInvokeError, "upload finished without a document uuid").WithProvider("slidespeak")
	}
	return uuid, nil
}

// FetchFile downloads a generated presentation.
func (c *Client) FetchFile(ctx context.Context, downloadURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, downloadURL, nil)
	if err != nil {
		return nil, plugin.NewError(plugin.ErrBadRequest, "build download").WithCause(err).WithProvider("slidespeak")
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, plugin.NewError(plugin.ErrServerUnavailable, "download failed").WithCause(err).WithProvider("slidespeak")
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return nil, plugin.MapHTTPStatus(resp.StatusCode, "download rejected", "slidespeak")
	}
	return io.ReadAll(resp.Body)
}

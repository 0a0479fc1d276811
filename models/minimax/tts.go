// Package minimax adapts the MiniMax asynchronous text-to-speech API. A
// synthesis is a three-step pipeline: create the task, poll its status
// until Success or Failed, then resolve the produced file to a download URL
// and fetch the audio bytes.
package minimax

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/hookflow/plugin"
)

const defaultBaseURL = "https://api.minimaxi.com"

// vendor base_resp status codes
const (
	statusOK                  = 0
	statusRateLimited         = 1002
	statusAuthFailed          = 1004
	statusInsufficientBalance = 1008
)

// task states reported by the query endpoint
const (
	TaskProcessing = "Processing"
	TaskSuccess    = "Success"
	TaskFailed     = "Failed"
	TaskExpired    = "Expired"
)

// VoiceSetting selects the voice and its delivery.
type VoiceSetting struct {
	VoiceID string  `json:"voice_id"`
	Speed   float64 `json:"speed,omitempty"`
	Volume  float64 `json:"vol,omitempty"`
	Pitch   int     `json:"pitch,omitempty"`
}

// AudioSetting selects the output encoding.
type AudioSetting struct {
	SampleRate int    `json:"sample_rate,omitempty"`
	Bitrate    int    `json:"bitrate,omitempty"`
	Format     string `json:"format,omitempty"`
}

// SpeechRequest describes one synthesis task.
type SpeechRequest struct {
	Model string
	Text  string
	Voice VoiceSetting
	Audio AudioSetting
}

// Model is a MiniMax TTS adapter.
type Model struct {
	groupID string
	apiKey  string
	client  *http.Client
	logger  *zap.Logger

	pollInterval time.Duration
	baseOverride string
}

// New creates a MiniMax adapter for one group.
func New(groupID, apiKey string, logger *zap.Logger) *Model {
	return &Model{
		groupID:      groupID,
		apiKey:       apiKey,
		client:       &http.Client{Timeout: 60 * time.Second},
		logger:       logger.With(zap.String("model_provider", "minimax")),
		pollInterval: 2 * time.Second,
	}
}

func (m *Model) Name() string { return "minimax" }

func (m *Model) base() string {
	if m.baseOverride != "" {
		return m.baseOverride
	}
	return defaultBaseURL
}

type baseResp struct {
	StatusCode int    `json:"status_code"`
	StatusMsg  string `json:"status_msg"`
}

func (b baseResp) err() error {
	switch b.StatusCode {
	case statusOK:
		return nil
	case statusAuthFailed:
		return plugin.NewError(plugin.ErrCredentialsInvalid, b.StatusMsg).WithProvider("minimax")
	case statusRateLimited:
		return plugin.NewError(plugin.ErrRateLimited, b.StatusMsg).WithProvider("minimax")
	case statusInsufficientBalance:
		return plugin.NewError(plugin.ErrQuotaExceeded, b.StatusMsg).WithProvider("minimax")
	default:
		return plugin.NewError(plugin.ErrInvokeError,
			fmt.Sprintf("status_code %d: %s", b.StatusCode, b.StatusMsg)).WithProvider("minimax")
	}
}

func (m *Model) do(ctx context.Context, method, path string, query url.Values, payload, out any) error {
	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return plugin.NewError(plugin.ErrBadRequest, "encode request").WithCause(err).WithProvider("minimax")
		}
		body = bytes.NewReader(raw)
	}

	if query == nil {
		query = url.Values{}
	}
	query.Set("GroupId", m.groupID)

	req, err := http.NewRequestWithContext(ctx, method, m.base()+path+"?"+query.Encode(), body)
	if err != nil {
		return plugin.NewError(plugin.ErrBadRequest, "build request").WithCause(err).WithProvider("minimax")
	}
	req.Header.Set("Authorization", "Bearer "+m.apiKey)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := m.client.Do(req)
	if err != nil {
		return plugin.NewError(plugin.ErrServerUnavailable, "request failed").
			WithCause(err).WithProvider("minimax")
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return plugin.NewError(plugin.ErrInvokeError, "read response").WithCause(err).WithProvider("minimax")
	}
	if resp.StatusCode >= 400 {
		return plugin.MapHTTPStatus(resp.StatusCode, string(raw), "minimax")
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return plugin.NewError(plugin.ErrInvokeError, "decode response").WithCause(err).WithProvider("minimax")
	}
	return nil
}

// CreateSpeechTask submits a synthesis task and returns its id.
func (m *Model) CreateSpeechTask(ctx context.Context, req SpeechRequest) (int64, error) {
	if req.Text == "" {
		return 0, plugin.NewError(plugin.ErrBadRequest, "text is required").WithProvider("minimax")
	}

	var out struct {
		TaskID   int64    `json:"task_id"`
		BaseResp baseResp `json:"base_resp"`
	}
	payload := map[string]any{
		"model":         req.Model,
		"text":          req.Text,
		"voice_setting": req.Voice,
		"audio_setting": req.Audio,
	}
	if err := m.do(ctx, http.MethodPost, "/v1/t2a_async_v2", nil, payload, &out); err != nil {
		return 0, err
	}
	if err := out.BaseResp.err(); err != nil {
		return 0, err
	}
	if out.TaskID == 0 {
		return 0, plugin.NewError(plugin.ErrInvokeError, "task creation returned no task id").WithProvider("minimax")
	}
	return out.TaskID, nil
}

// TaskStatus is one poll result.
type TaskStatus struct {
	Status string
	FileID int64
}

// QuerySpeechTask fetches the current state of a task.
func (m *Model) QuerySpeechTask(ctx context.Context, taskID int64) (TaskStatus, error) {
	var out struct {
		Status   string   `json:"status"`
		FileID   int64    `json:"file_id"`
		BaseResp baseResp `json:"base_resp"`
	}
	query := url.Values{"task_id": {strconv.FormatInt(taskID, 10)}}
	if err := m.do(ctx, http.MethodGet, "/v1/query/t2a_async_query_v2", query, nil, &out); err != nil {
		return TaskStatus{}, err
	}
	if err := out.BaseResp.err(); err != nil {
		return TaskStatus{}, err
	}
	return TaskStatus{Status: out.Status, FileID: out.FileID}, nil
}

// FetchAudio resolves a produced file id to its download URL and retrieves
// the audio bytes.
func (m *Model) FetchAudio(ctx context.Context, fileID int64) ([]byte, error) {
	var out struct {
		File struct {
			DownloadURL string `json:"download_url"`
		} `json:"file"`
		BaseResp baseResp `json:"base_resp"`
	}
	query := url.Values{"file_id": {strconv.FormatInt(fileID, 10)}}
	if err := m.do(ctx, http.MethodGet, "/v1/files/retrieve", query, nil, &out); err != nil {
		return nil, err
	}
	if err := out.BaseResp.err(); err != nil {
		return nil, err
	}
	if out.File.DownloadURL == "" {
		return nil, plugin.NewError(plugin.ErrInvokeError, "file has no download url").WithProvider("minimax")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, out.File.DownloadURL, nil)
	if err != nil {
		return nil, plugin.NewError(plugin.ErrBadRequest, "build download request").
			WithCause(err).WithProvider("minimax")
	}
	resp, err := m.client.Do(req)
	if err != nil {
		return nil, plugin.NewError(plugin.ErrServerUnavailable, "audio download failed").
			WithCause(err).WithProvider("minimax")
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return nil, plugin.MapHTTPStatus(resp.StatusCode, "audio download rejected", "minimax")
	}
	audio, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, plugin.NewError(plugin.ErrInvokeError, "read audio").WithCause(err).WithProvider("minimax")
	}
	return audio, nil
}

// Synthesize runs the full pipeline, polling until the task settles or the
// context expires.
func (m *Model) Synthesize(ctx context.Context, req SpeechRequest) ([]byte, error) {
	taskID, err := m.CreateSpeechTask(ctx, req)
	if err != nil {
		return nil, err
	}

	ticker := time.NewTicker(m.pollInterval)
	defer ticker.Stop()

	for {
		status, err := m.QuerySpeechTask(ctx, taskID)
		if err != nil {
			return nil, err
		}
		switch status.Status {
		case TaskSuccess:
			return m.FetchAudio(ctx, status.FileID)
		case TaskFailed, TaskExpired:
			return nil, plugin.NewError(plugin.ErrInvokeError,
				fmt.Sprintf("speech task %d ended as %s", taskID, status.Status)).WithProvider("minimax")
		}

		select {
		case <-ctx.Done():
			return nil, plugin.NewError(plugin.ErrInvokeError, "speech task polling cancelled").
				WithCause(ctx.Err()).WithProvider("minimax")
		case <-ticker.C:
		}
	}
}

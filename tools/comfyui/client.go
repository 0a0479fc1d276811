// Package comfyui drives a ComfyUI server: workflows are queued over REST,
// generation progress is tracked over the server's websocket feed, and
// produced images are fetched from the history output.
package comfyui

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/url"
	"path/filepath"
	"strings"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/BaSui01/hookflow/plugin"
)

// Client talks to one ComfyUI server.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
	logger  *zap.Logger
}

// NewClient creates a ComfyUI client. apiKey may be empty for open servers.
func NewClient(baseURL, apiKey string, logger *zap.Logger) (*Client, error) {
	baseURL = strings.TrimRight(baseURL, "/")
	if !strings.HasPrefix(baseURL, "http://") && !strings.HasPrefix(baseURL, "https://") {
		return nil, plugin.NewError(plugin.ErrCredentialsInvalid,
			"base url must be absolute").WithProvider("comfyui")
	}
	return &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		http:    &http.Client{Timeout: 120 * time.Second},
		logger:  logger.With(zap.String("tool", "comfyui")),
	}, nil
}

func (c *Client) authorize(h http.Header) {
	if c.apiKey != "" {
		h.Set("Authorization", "Bearer "+c.apiKey)
	}
}

func (c *Client) getJSON(ctx context.Context, path string, query url.Values, out any) error {
	endpoint := c.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return plugin.NewError(plugin.ErrBadRequest, "build request").WithCause(err).WithProvider("comfyui")
	}
	c.authorize(req.Header)

	resp, err := c.http.Do(req)
	if err != nil {
		return plugin.NewError(plugin.ErrServerUnavailable, "request failed").WithCause(err).WithProvider("comfyui")
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(resp.Body)
		return plugin.MapHTTPStatus(resp.StatusCode, strings.TrimSpace(string(body)), "comfyui")
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return plugin.NewError(plugin.ErrInvokeError, "decode response").WithCause(err).WithProvider("comfyui")
	}
	return nil
}

// QueuePrompt submits a workflow and returns the prompt id assigned by the
// server.
func (c *Client) QueuePrompt(ctx context.Context, clientID string, wf Workflow) (string, error) {
	payload, err := json.Marshal(map[string]any{"client_id": clientID, "prompt": wf})
	if err != nil {
		return "", plugin.NewError(plugin.ErrBadRequest, "encode workflow").WithCause(err).WithProvider("comfyui")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/prompt", bytes.NewReader(payload))
	if err != nil {
		return "", plugin.NewError(plugin.ErrBadRequest, "build request").WithCause(err).WithProvider("comfyui")
	}
	req.Header.Set("Content-Type", "application/json")
	c.authorize(req.Header)

	resp, err := c.http.Do(req)
	if err != nil {
		return "", plugin.NewError(plugin.ErrServerUnavailable, "queue request failed").
			WithCause(err).WithProvider("comfyui")
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode >= 400 {
		return "", plugin.MapHTTPStatus(resp.StatusCode, strings.TrimSpace(string(body)), "comfyui")
	}

	var out struct {
		PromptID string `json:"prompt_id"`
	}
	if err := json.Unmarshal(body, &out); err != nil || out.PromptID == "" {
		return "", plugin.NewError(plugin.ErrBadRequest,
			"queueing returned no prompt id, check the workflow JSON").WithProvider("comfyui")
	}
	return out.PromptID, nil
}

// UploadImage pushes an input image to the server and returns the stored
// name to reference from LoadImage nodes.
func (c *Client) UploadImage(ctx context.Context, filename string, data []byte) (string, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("image", filename)
	if err != nil {
		return "", plugin.NewError(plugin.ErrBadRequest, "build upload").WithCause(err).WithProvider("comfyui")
	}
	if _, err := part.Write(data); err != nil {
		return "", plugin.NewError(plugin.ErrBadRequest, "build upload").WithCause(err).WithProvider("comfyui")
	}
	_ = mw.WriteField("overwrite", "true")
	if err := mw.Close(); err != nil {
		return "", plugin.NewError(plugin.ErrBadRequest, "build upload").WithCause(err).WithProvider("comfyui")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/upload/image", &buf)
	if err != nil {
		return "", plugin.NewError(plugin.ErrBadRequest, "build request").WithCause(err).WithProvider("comfyui")
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	c.authorize(req.Header)

	resp, err := c.http.Do(req)
	if err != nil {
		return "", plugin.NewError(plugin.ErrServerUnavailable, "upload failed").WithCause(err).WithProvider("comfyui")
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(resp.Body)
		return "", plugin.MapHTTPStatus(resp.StatusCode, strings.TrimSpace(string(body)), "comfyui")
	}
	var out struct {
		Name string `json:"name"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil || out.Name == "" {
		return "", plugin.NewError(plugin.ErrInvokeError, "upload returned no image name").WithProvider("comfyui")
	}
	return out.Name, nil
}

// ImageRef is one output file reference from /history.
type ImageRef struct {
	Filename  string `json:"filename"`
	Subfolder string `json:"subfolder"`
	Type      string `json:"type"`
}

// History fetches the output image references of a finished prompt.
func (c *Client) History(ctx context.Context, promptID string) ([]ImageRef, error) {
	var raw map[string]struct {
		Outputs map[string]struct {
			Images []ImageRef `json:"images"`
		} `json:"outputs"`
	}
	if err := c.getJSON(ctx, "/history", url.Values{"prompt_id": {promptID}}, &raw); err != nil {
		return nil, err
	}

	entry, ok := raw[promptID]
	if !ok {
		return nil, plugin.NewError(plugin.ErrNotFound, "prompt not found in history").WithProvider("comfyui")
	}
	var images []ImageRef
	for _, output := range entry.Outputs {
		images = append(images, output.Images...)
	}
	return images, nil
}

// ViewImage downloads one output file.
func (c *Client) ViewImage(ctx context.Context, img ImageRef) ([]byte, error) {
	query := url.Values{
		"filename":  {img.Filename},
		"subfolder": {img.Subfolder},
		"type":      {img.Type},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/view?"+query.Encode(), nil)
	if err != nil {
		return nil, plugin.NewError(plugin.ErrBadRequest, "build request").WithCause(err).WithProvider("comfyui")
	}
	c.authorize(req.Header)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, plugin.NewError(plugin.ErrServerUnavailable, "image fetch failed").
			WithCause(err).WithProvider("comfyui")
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return nil, plugin.MapHTTPStatus(resp.StatusCode, "image fetch rejected", "comfyui")
	}
	return io.ReadAll(resp.Body)
}

// progressMessage is one websocket frame from the server's event feed.
type progressMessage struct {
	Type string `json:"type"`
	Data struct {
		Node     *string  `json:"node"`
		Nodes    []string `json:"nodes"`
		PromptID string   `json:"prompt_id"`
		Value    int      `json:"value"`
		Max      int      `json:"max"`
	} `json:"data"`
}

// wsURL derives the websocket address from the REST base URL.
func (c *Client) wsURL(clientID string) string {
	ws := strings.Replace(c.baseURL, "http", "ws", 1)
	return ws + "/ws?clientId=" + url.QueryEscape(clientID)
}

// waitForCompletion consumes the event feed until the server reports that
// execution moved past the last node of our prompt: an `executing` message
// with a nil node and a matching prompt id.
func (c *Client) waitForCompletion(ctx context.Context, conn *websocket.Conn, wf Workflow, promptID string) error {
	total := len(wf)
	finished := map[string]bool{}

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return plugin.NewError(plugin.ErrInvokeError, "progress feed closed").
				WithCause(err).WithProvider("comfyui")
		}

		var msg progressMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			continue // binary preview frames are not JSON
		}

		switch msg.Type {
		case "progress":
			c.logger.Debug("sampler progress",
				zap.Int("step", msg.Data.Value), zap.Int("of", msg.Data.Max))
		case "execution_cached":
			for _, node := range msg.Data.Nodes {
				finished[node] = true
			}
			c.logger.Debug("nodes cached", zap.Int("done", len(finished)), zap.Int("total", total))
		case "executing":
			if msg.Data.Node == nil && msg.Data.PromptID == promptID {
				return nil
			}
			if msg.Data.Node != nil {
				finished[*msg.Data.Node] = true
				c.logger.Debug("node executed", zap.Int("done", len(finished)), zap.Int("total", total))
			}
		}
	}
}

// GeneratedImage is one produced output.
type GeneratedImage struct {
	Data     []byte
	Filename string
	MimeType string
}

// Generate queues a workflow, waits for it over the websocket feed and
// downloads every produced image.
func (c *Client) Generate(ctx context.Context, wf Workflow) ([]GeneratedImage, error) {
	clientID := uuid.NewString()

	header := http.Header{}
	c.authorize(header)
	conn, _, err := websocket.Dial(ctx, c.wsURL(clientID), &websocket.DialOptions{HTTPHeader: header})
	if err != nil {
		return nil, plugin.NewError(plugin.ErrServerUnavailable, "websocket connect failed").
			WithCause(err).WithProvider("comfyui")
	}
	defer conn.Close(websocket.StatusNormalClosure, "done")

	promptID, err := c.QueuePrompt(ctx, clientID, wf)
	if err != nil {
		return nil, err
	}
	if err := c.waitForCompletion(ctx, conn, wf, promptID); err != nil {
		return nil, err
	}

	refs, err := c.History(ctx, promptID)
	if err != nil {
		return nil, err
	}

	images := make([]GeneratedImage, 0, len(refs))
	for _, ref := range refs {
		data, err := c.ViewImage(ctx, ref)
		if err != nil {
			return nil, err
		}
		images = append(images, GeneratedImage{
			Data:     data,
			Filename: ref.Filename,
			MimeType: mimeTypeOf(ref.Filename),
		})
	}
	return images, nil
}

func mimeTypeOf(filename string) string {
	if t := mime.TypeByExtension(filepath.Ext(filename)); t != "" {
		return t
	}
	return "application/octet-stream"
}

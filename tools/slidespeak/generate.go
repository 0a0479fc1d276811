package slidespeak

import (
	"context"
	"fmt"
	"path"
	"strings"

	"github.com/BaSui01/hookflow/plugin"
)

// GenerateTool turns a topic text into a finished presentation file.
type GenerateTool struct {
	client *Client
}

// NewGenerateTool wraps a client into the presentation generator tool.
func NewGenerateTool(client *Client) *GenerateTool {
	return &GenerateTool{client: client}
}

func (t *GenerateTool) Name() string { return "slidespeak_generate" }

// Invoke submits the generation request, waits for the task to finish and
// yields the presentation file plus its download URL.
func (t *GenerateTool) Invoke(ctx context.Context, params map[string]any) ([]plugin.Message, error) {
	topic := plugin.ParamString(params, "topic")
	if strings.TrimSpace(topic) == "" {
		return nil, plugin.NewError(plugin.ErrBadRequest, "topic is required").WithProvider("slidespeak")
	}

	length := 5
	switch v := params["length"].(type) {
	case int:
		length = v
	case float64:
		length = int(v)
	}

	req := GenerateRequest{
		PlainText:              topic,
		Length:                 length,
		Template:               plugin.ParamStringOr(params, "template", "default"),
		Language:               plugin.ParamString(params, "language"),
		Tone:                   plugin.ParamString(params, "tone"),
		Verbosity:              plugin.ParamString(params, "verbosity"),
		FetchImages:            plugin.ParamBool(params, "fetch_images"),
		CustomUserInstructions: plugin.ParamString(params, "custom_instructions"),
		ResponseFormat:         plugin.ParamStringOr(params, "response_format", "powerpoint"),
	}

	taskID, err := t.client.Generate(ctx, req)
	if err != nil {
		return nil, err
	}
	downloadURL, err := t.client.WaitForURL(ctx, taskID)
	if err != nil {
		return nil, err
	}
	data, err := t.client.FetchFile(ctx, downloadURL)
	if err != nil {
		return nil, err
	}

	filename := path.Base(downloadURL)
	if i := strings.IndexByte(filename, '?'); i >= 0 {
		filename = filename[:i]
	}
	mimeType := "application/vnd.openxmlformats-officedocument.presentationml.presentation"
	if req.ResponseFormat == "pdf" {
		mimeType = "application/pdf"
	}

	return []plugin.Message{
		plugin.NewBlobMessage(data, mimeType, filename),
		plugin.NewJSONMessage(map[string]any{
			"task_id":      taskID,
			"download_url": downloadURL,
			"size_bytes":   len(data),
		}),
		plugin.NewTextMessage(fmt.Sprintf("presentation generated (%d bytes)", len(data))),
	}, nil
}

// ListTemplatesTool lists the vendor's presentation templates.
type ListTemplatesTool struct {
	client *Client
}

// NewListTemplatesTool wraps a client into the template listing tool.
func NewListTemplatesTool(client *Client) *ListTemplatesTool {
	return &ListTemplatesTool{client: client}
}

func (t *ListTemplatesTool) Name() string { return "slidespeak_list_templates" }

func (t *ListTemplatesTool) Invoke(ctx context.Context, _ map[string]any) ([]plugin.Message, error) {
	templates, err := t.client.Templates(ctx)
	if err != nil {
		return nil, err
	}
	return []plugin.Message{plugin.NewJSONMessage(map[string]any{
		"count":     len(templates),
		"templates": templates,
	})}, nil
}

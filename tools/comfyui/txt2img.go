package comfyui

import (
	"context"
	"fmt"

	"github.com/BaSui01/hookflow/plugin"
)

// defaultTxt2ImgWorkflow is the stock checkpoint → sampler → VAE pipeline in
// API format. Parameter application mutates a parsed copy per invocation.
const defaultTxt2ImgWorkflow = `{
  "3": {"class_type": "KSampler", "inputs": {
    "cfg": 7, "denoise": 1, "latent_image": ["5", 0], "model": ["4", 0],
    "negative": ["7", 0], "positive": ["6", 0], "sampler_name": "euler",
    "scheduler": "normal", "seed": 0, "steps": 20}},
  "4": {"class_type": "CheckpointLoaderSimple", "inputs": {"ckpt_name": ""}},
  "5": {"class_type": "EmptyLatentImage", "inputs": {"batch_size": 1, "height": 512, "width": 512}},
  "6": {"class_type": "CLIPTextEncode", "inputs": {"clip": ["4", 1], "text": ""}},
  "7": {"class_type": "CLIPTextEncode", "inputs": {"clip": ["4", 1], "text": ""}},
  "8": {"class_type": "VAEDecode", "inputs": {"samples": ["3", 0], "vae": ["4", 2]}},
  "9": {"class_type": "SaveImage", "inputs": {"filename_prefix": "output", "images": ["8", 0]}}
}`

// Txt2ImgTool generates images from a text prompt on a ComfyUI server.
type Txt2ImgTool struct {
	client *Client
}

// NewTxt2ImgTool wraps a client into the txt2img tool.
func NewTxt2ImgTool(client *Client) *Txt2ImgTool {
	return &Txt2ImgTool{client: client}
}

func (t *Txt2ImgTool) Name() string { return "comfyui_txt2img" }

// Invoke builds the workflow from the parameters, runs it and yields one
// ImageMessage per produced file.
func (t *Txt2ImgTool) Invoke(ctx context.Context, params map[string]any) ([]plugin.Message, error) {
	prompt := plugin.ParamString(params, "prompt")
	if prompt == "" {
		return nil, plugin.NewError(plugin.ErrBadRequest, "prompt is required").WithProvider("comfyui")
	}
	model := plugin.ParamString(params, "model")
	if model == "" {
		return nil, plugin.NewError(plugin.ErrBadRequest, "model (checkpoint name) is required").WithProvider("comfyui")
	}

	wf, err := ParseWorkflow([]byte(defaultTxt2ImgWorkflow))
	if err != nil {
		return nil, err
	}
	if err := wf.SetPrompts(prompt, plugin.ParamString(params, "negative_prompt")); err != nil {
		return nil, err
	}
	wf.inputs("4")["ckpt_name"] = model

	latent := wf.inputs("5")
	if v, ok := paramInt(params, "width"); ok {
		latent["width"] = v
	}
	if v, ok := paramInt(params, "height"); ok {
		latent["height"] = v
	}

	sampler := wf.inputs("3")
	if v, ok := paramInt(params, "steps"); ok {
		sampler["steps"] = v
	}
	if v, ok := paramFloat(params, "cfg"); ok {
		sampler["cfg"] = v
	}
	if v := plugin.ParamString(params, "sampler_name"); v != "" {
		sampler["sampler_name"] = v
	}
	if v := plugin.ParamString(params, "scheduler"); v != "" {
		sampler["scheduler"] = v
	}
	wf.RandomizeSeeds()

	images, err := t.client.Generate(ctx, wf)
	if err != nil {
		return nil, err
	}
	if len(images) == 0 {
		return nil, plugin.NewError(plugin.ErrInvokeError, "generation produced no images").WithProvider("comfyui")
	}

	messages := make([]plugin.Message, 0, len(images)+1)
	for _, img := range images {
		messages = append(messages, plugin.NewImageMessage(img.Data, img.MimeType, img.Filename))
	}
	messages = append(messages, plugin.NewTextMessage(fmt.Sprintf("generated %d image(s)", len(images))))
	return messages, nil
}

func paramInt(params map[string]any, key string) (int, bool) {
	switch v := params[key].(type) {
	case int:
		return v, true
	case float64:
		return int(v), true
	default:
		return 0, false
	}
}

func paramFloat(params map[string]any, key string) (float64, bool) {
	switch v := params[key].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	default:
		return 0, false
	}
}

package comfyui

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/hookflow/plugin"
)

func parseDefault(t *testing.T) Workflow {
	t.Helper()
	wf, err := ParseWorkflow([]byte(defaultTxt2ImgWorkflow))
	require.NoError(t, err)
	return wf
}

func TestParseWorkflow_Invalid(t *testing.T) {
	_, err := ParseWorkflow([]byte("not json"))
	require.Error(t, err)
	assert.Equal(t, plugin.ErrBadRequest, plugin.CodeOf(err))

	_, err = ParseWorkflow([]byte("{}"))
	require.Error(t, err)
}

func TestSetPrompts_FollowsSamplerLinks(t *testing.T) {
	wf := parseDefault(t)
	require.NoError(t, wf.SetPrompts("a cat in space", "blurry"))

	assert.Equal(t, "a cat in space", wf.inputs("6")["text"])
	assert.Equal(t, "blurry", wf.inputs("7")["text"])
}

func TestSetPrompts_NegativeOptional(t *testing.T) {
	wf := parseDefault(t)
	require.NoError(t, wf.SetPrompts("a dog", ""))

	assert.Equal(t, "a dog", wf.inputs("6")["text"])
	assert.Equal(t, "", wf.inputs("7")["text"])
}

func TestSetPrompts_NoSampler(t *testing.T) {
	wf := Workflow{"1": {"class_type": "SaveImage", "inputs": map[string]any{}}}
	err := wf.SetPrompts("x", "")
	require.Error(t, err)
	assert.Equal(t, plugin.ErrBadRequest, plugin.CodeOf(err))
}

func TestSetImages(t *testing.T) {
	wf := Workflow{
		"10": {"class_type": "LoadImage", "inputs": map[string]any{"image": ""}},
		"11": {"class_type": "LoadImage", "inputs": map[string]any{"image": ""}},
		"12": {"class_type": "SaveImage", "inputs": map[string]any{}},
	}
	require.NoError(t, wf.SetImages([]string{"a.png", "b.png"}))
	assert.Equal(t, "a.png", wf.inputs("10")["image"])
	assert.Equal(t, "b.png", wf.inputs("11")["image"])

	err := wf.SetImages([]string{"a.png", "b.png", "c.png"})
	require.Error(t, err)
}

func TestSetImagesByID(t *testing.T) {
	wf := Workflow{
		"20": {"class_type": "LoadImage", "inputs": map[string]any{"image": ""}},
	}
	require.NoError(t, wf.SetImagesByID([]string{"x.png"}, []string{"20"}))
	assert.Equal(t, "x.png", wf.inputs("20")["image"])

	require.Error(t, wf.SetImagesByID([]string{"x.png"}, []string{"99"}))
	require.Error(t, wf.SetImagesByID([]string{"x.png"}, []string{"20", "21"}))
}

func TestRandomizeSeed(t *testing.T) {
	wf := parseDefault(t)
	require.NoError(t, wf.RandomizeSeed("3"))

	seed, ok := wf.inputs("3")["seed"].(int64)
	require.True(t, ok)
	assert.GreaterOrEqual(t, seed, int64(1e14))
	assert.Less(t, seed, int64(1e15))
}

func TestRandomizeSeed_NoiseSeedFallback(t *testing.T) {
	wf := Workflow{
		"1": {"class_type": "SamplerCustom", "inputs": map[string]any{"noise_seed": 0}},
	}
	require.NoError(t, wf.RandomizeSeed("1"))
	assert.NotEqual(t, 0, wf.inputs("1")["noise_seed"])

	wf2 := Workflow{"2": {"class_type": "SaveImage", "inputs": map[string]any{}}}
	require.Error(t, wf2.RandomizeSeed("2"))
}

func TestRandomizeSeeds_AllSeedNodes(t *testing.T) {
	wf := parseDefault(t)
	wf.RandomizeSeeds()
	assert.NotEqual(t, float64(0), wf.inputs("3")["seed"])
}

func TestWorkflow_RoundTripsUnknownFields(t *testing.T) {
	raw := `{"1": {"class_type": "KSampler", "inputs": {"seed": 1}, "_meta": {"title": "sampler"}}}`
	wf, err := ParseWorkflow([]byte(raw))
	require.NoError(t, err)

	out, err := json.Marshal(wf)
	require.NoError(t, err)
	assert.Contains(t, string(out), `"_meta"`)
}

package comfyui

import (
	"encoding/json"
	"fmt"
	"math/rand"
	"sort"

	"github.com/BaSui01/hookflow/plugin"
)

// Workflow is a ComfyUI prompt graph: node id → node. Nodes keep their raw
// map form so unknown fields survive the round trip back to the API.
type Workflow map[string]map[string]any

// ParseWorkflow decodes an exported API-format workflow JSON.
func ParseWorkflow(raw []byte) (Workflow, error) {
	var wf Workflow
	if err := json.Unmarshal(raw, &wf); err != nil {
		return nil, plugin.NewError(plugin.ErrBadRequest, "workflow is not valid API-format JSON").
			WithCause(err).WithProvider("comfyui")
	}
	if len(wf) == 0 {
		return nil, plugin.NewError(plugin.ErrBadRequest, "workflow has no nodes").WithProvider("comfyui")
	}
	return wf, nil
}

func (w Workflow) classOf(id string) string {
	node, ok := w[id]
	if !ok {
		return ""
	}
	class, _ := node["class_type"].(string)
	return class
}

func (w Workflow) inputs(id string) map[string]any {
	node, ok := w[id]
	if !ok {
		return nil
	}
	in, _ := node["inputs"].(map[string]any)
	return in
}

// nodesOfClass returns node ids of a class in deterministic order.
func (w Workflow) nodesOfClass(class string) []string {
	var ids []string
	for id := range w {
		if w.classOf(id) == class {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

// NodeIDs lists every node id.
func (w Workflow) NodeIDs() []string {
	ids := make([]string, 0, len(w))
	for id := range w {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// linkTarget resolves a node input link of the form ["<node id>", <slot>].
func linkTarget(v any) (string, bool) {
	link, ok := v.([]any)
	if !ok || len(link) == 0 {
		return "", false
	}
	id, ok := link[0].(string)
	return id, ok
}

// SetPrompts writes the positive (and optionally negative) prompt text into
// the CLIP text nodes wired into the first KSampler.
func (w Workflow) SetPrompts(positive, negative string) error {
	samplers := w.nodesOfClass("KSampler")
	if len(samplers) == 0 {
		return plugin.NewError(plugin.ErrBadRequest, "workflow has no KSampler node").WithProvider("comfyui")
	}
	samplerInputs := w.inputs(samplers[0])

	positiveID, ok := linkTarget(samplerInputs["positive"])
	if !ok {
		return plugin.NewError(plugin.ErrBadRequest, "KSampler has no positive input link").WithProvider("comfyui")
	}
	if in := w.inputs(positiveID); in != nil {
		in["text"] = positive
	}

	if negative != "" {
		negativeID, ok := linkTarget(samplerInputs["negative"])
		if !ok {
			return plugin.NewError(plugin.ErrBadRequest, "KSampler has no negative input link").WithProvider("comfyui")
		}
		if in := w.inputs(negativeID); in != nil {
			in["text"] = negative
		}
	}
	return nil
}

// SetImagesByID assigns uploaded image names to specific LoadImage nodes.
func (w Workflow) SetImagesByID(names, nodeIDs []string) error {
	if len(names) != len(nodeIDs) {
		return plugin.NewError(plugin.ErrBadRequest, "image count does not match node id count").WithProvider("comfyui")
	}
	for i, id := range nodeIDs {
		in := w.inputs(id)
		if in == nil {
			return plugin.NewError(plugin.ErrBadRequest, fmt.Sprintf("no node %q in workflow", id)).WithProvider("comfyui")
		}
		in["image"] = names[i]
	}
	return nil
}

// SetImages assigns uploaded image names to the workflow's LoadImage nodes
// in node-id order.
func (w Workflow) SetImages(names []string) error {
	nodes := w.nodesOfClass("LoadImage")
	if len(names) > len(nodes) {
		return plugin.NewError(plugin.ErrBadRequest,
			fmt.Sprintf("workflow has %d LoadImage nodes, got %d images", len(nodes), len(names))).WithProvider("comfyui")
	}
	for i, name := range names {
		w.inputs(nodes[i])["image"] = name
	}
	return nil
}

// RandomizeSeed replaces the seed (or noise_seed) of one node with a fresh
// 15-digit value so repeated runs do not hit the server's result cache.
func (w Workflow) RandomizeSeed(id string) error {
	in := w.inputs(id)
	if in == nil {
		return plugin.NewError(plugin.ErrBadRequest, fmt.Sprintf("no node %q in workflow", id)).WithProvider("comfyui")
	}
	seed := randomSeed()
	switch {
	case hasKey(in, "seed"):
		in["seed"] = seed
	case hasKey(in, "noise_seed"):
		in["noise_seed"] = seed
	default:
		return plugin.NewError(plugin.ErrBadRequest, fmt.Sprintf("node %q has no seed input", id)).WithProvider("comfyui")
	}
	return nil
}

// RandomizeSeeds refreshes every node carrying a seed input.
func (w Workflow) RandomizeSeeds() {
	for _, id := range w.NodeIDs() {
		in := w.inputs(id)
		if hasKey(in, "seed") || hasKey(in, "noise_seed") {
			_ = w.RandomizeSeed(id)
		}
	}
}

func hasKey(m map[string]any, key string) bool {
	if m == nil {
		return false
	}
	_, ok := m[key]
	return ok
}

func randomSeed() int64 {
	const lo, hi = int64(1e14), int64(1e15)
	return lo + rand.Int63n(hi-lo)
}

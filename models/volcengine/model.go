// Package volcengine adapts the Volcengine Ark API. Ark exposes
// OpenAI-compatible chat and embedding routes under /api/v3, keyed by an Ark
// API key, so the adapter is a configured openaicompat model.
package volcengine

import (
	"go.uber.org/zap"

	"github.com/BaSui01/hookflow/models/openaicompat"
	"github.com/BaSui01/hookflow/plugin"
)

// DefaultBaseURL is the cn-beijing Ark gateway.
const DefaultBaseURL = "https://ark.cn-beijing.volces.com/api/v3"

// New creates an Ark adapter. An empty baseURL selects the default region
// gateway.
func New(apiKey, baseURL string, logger *zap.Logger) (*openaicompat.Model, error) {
	if apiKey == "" {
		return nil, plugin.NewError(plugin.ErrCredentialsInvalid,
			"ark api key is required").WithProvider("volcengine")
	}
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}

	return openaicompat.New("volcengine", openaicompat.Config{
		BaseURL: baseURL,
		APIKey:  apiKey,
	}, logger), nil
}

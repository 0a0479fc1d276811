// Package databricks adapts Databricks model serving endpoints. The
// endpoints speak the OpenAI chat wire format under
// /serving-endpoints/{endpoint}/invocations with a workspace PAT as bearer
// token, so the adapter is a configured openaicompat model.
package databricks

import (
	"strings"

	"go.uber.org/zap"

	"github.com/BaSui01/hookflow/models/openaicompat"
	"github.com/BaSui01/hookflow/plugin"
)

// New creates a chat adapter for one serving endpoint in a workspace.
func New(workspaceURL, endpoint, token string, logger *zap.Logger) (*openaicompat.Model, error) {
	workspaceURL = strings.TrimRight(strings.TrimSpace(workspaceURL), "/")
	if !strings.HasPrefix(workspaceURL, "https://") && !strings.HasPrefix(workspaceURL, "http://") {
		return nil, plugin.NewError(plugin.ErrCredentialsInvalid,
			"workspace url must be absolute").WithProvider("databricks")
	}
	if endpoint == "" {
		return nil, plugin.NewError(plugin.ErrCredentialsInvalid,
			"serving endpoint name is required").WithProvider("databricks")
	}
	if token == "" {
		return nil, plugin.NewError(plugin.ErrCredentialsInvalid,
			"personal access token is required").WithProvider("databricks")
	}

	return openaicompat.New("databricks", openaicompat.Config{
		BaseURL:  workspaceURL + "/serving-endpoints/" + endpoint,
		APIKey:   token,
		ChatPath: "/invocations",
	}, logger), nil
}

// FromCredentials builds the adapter from a credential bag with the keys
// endpoint_url, endpoint_name and databricks_api_token.
func FromCredentials(creds plugin.Credentials, logger *zap.Logger) (*openaicompat.Model, error) {
	return New(creds.Get("endpoint_url"), creds.Get("endpoint_name"), creds.Get("databricks_api_token"), logger)
}

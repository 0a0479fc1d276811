package plugin

import "context"

// Tool is one callable action exposed to the host's agent/workflow layer.
// Invoke validates its parameters, calls exactly one external API, and yields
// typed output messages.
type Tool interface {
	// Name returns the tool identifier used by the host.
	Name() string

	// Invoke executes the tool with the given parameters.
	Invoke(ctx context.Context, params map[string]any) ([]Message, error)
}

// OAuthProvider implements the authorize/exchange/refresh flow against one
// vendor.
type OAuthProvider interface {
	// Name returns the provider identifier used by the host.
	Name() string

	// AuthorizationURL builds the URL the user is redirected to, including a
	// freshly generated state parameter.
	AuthorizationURL(redirectURI string, system Credentials) (string, error)

	// ExchangeCode swaps an authorization code for credentials.
	ExchangeCode(ctx context.Context, redirectURI, code string, system Credentials) (OAuthCredentials, error)

	// RefreshCredentials exchanges a refresh token for fresh credentials.
	RefreshCredentials(ctx context.Context, redirectURI string, system Credentials, current Credentials) (OAuthCredentials, error)
}

// CredentialValidator is implemented by providers that can verify a credential
// bag with a cheap vendor call.
type CredentialValidator interface {
	ValidateCredentials(ctx context.Context, creds Credentials) error
}

// ParamString extracts a string parameter, tolerating missing keys.
func ParamString(params map[string]any, key string) string {
	if v, ok := params[key].(string); ok {
		return v
	}
	return ""
}

// ParamStringOr extracts a string parameter with a fallback.
func ParamStringOr(params map[string]any, key, fallback string) string {
	if v := ParamString(params, key); v != "" {
		return v
	}
	return fallback
}

// ParamBool extracts a boolean parameter, tolerating missing keys.
func ParamBool(params map[string]any, key string) bool {
	v, _ := params[key].(bool)
	return v
}

// ParamBytes extracts binary content passed either as []byte or a base64-free
// raw string.
func ParamBytes(params map[string]any, key string) []byte {
	switch v := params[key].(type) {
	case []byte:
		return v
	case string:
		return []byte(v)
	default:
		return nil
	}
}

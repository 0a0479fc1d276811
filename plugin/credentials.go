package plugin

import (
	"strconv"
	"time"
)

// CredentialType distinguishes how an adapter authenticates against a vendor.
type CredentialType string

const (
	CredentialAPIKey CredentialType = "api_key"
	CredentialOAuth  CredentialType = "oauth"
	CredentialBasic  CredentialType = "basic"
)

// Credentials is the untyped credential bag the host passes to adapters.
// Values are strings on the wire; typed getters tolerate missing keys.
type Credentials map[string]string

// Get returns the value for key, or "" when absent.
func (c Credentials) Get(key string) string {
	if c == nil {
		return ""
	}
	return c[key]
}

// GetOr returns the value for key, or fallback when absent or empty.
func (c Credentials) GetOr(key, fallback string) string {
	if v := c.Get(key); v != "" {
		return v
	}
	return fallback
}

// GetInt parses the value for key as an integer, returning 0 when absent or
// malformed.
func (c Credentials) GetInt(key string) int {
	v, _ := strconv.Atoi(c.Get(key))
	return v
}

// Require returns the value for key or a CREDENTIALS_INVALID error naming the
// missing field.
func (c Credentials) Require(key string) (string, error) {
	if v := c.Get(key); v != "" {
		return v, nil
	}
	return "", NewError(ErrCredentialsInvalid, key+" is required")
}

// OAuthCredentials is the result of an OAuth exchange or refresh: the stored
// credential bag plus display metadata and expiry. ExpiresAt of -1 means the
// token does not expire.
type OAuthCredentials struct {
	Credentials Credentials `json:"credentials"`
	ExpiresAt   int64       `json:"expires_at"`
	Name        string      `json:"name,omitempty"`
	AvatarURL   string      `json:"avatar_url,omitempty"`
}

// Expired reports whether the credentials are past their expiry.
func (o OAuthCredentials) Expired(now time.Time) bool {
	return o.ExpiresAt > 0 && now.Unix() >= o.ExpiresAt
}

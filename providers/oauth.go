package providers

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/BaSui01/hookflow/plugin"
)

// TokenResponse is the common shape of an OAuth token endpoint reply.
// ExpiresIn of zero means the vendor did not report an expiry.
type TokenResponse struct {
	AccessToken      string `json:"access_token"`
	RefreshToken     string `json:"refresh_token,omitempty"`
	TokenType        string `json:"token_type,omitempty"`
	Scope            string `json:"scope,omitempty"`
	ExpiresIn        int64  `json:"expires_in,omitempty"`
	Error            string `json:"error,omitempty"`
	ErrorDescription string `json:"error_description,omitempty"`
}

// ExpiresAt converts ExpiresIn to an absolute unix timestamp, or -1 when the
// token does not expire.
func (t *TokenResponse) ExpiresAt(now time.Time) int64 {
	if t.ExpiresIn <= 0 {
		return -1
	}
	return now.Unix() + t.ExpiresIn
}

// Exchanger posts form-encoded requests to OAuth token endpoints and decodes
// the reply. Token exchanges are not retried: a consumed authorization code
// cannot be replayed.
type Exchanger struct {
	http *http.Client
}

// NewExchanger creates an Exchanger with the given request timeout.
func NewExchanger(timeout time.Duration) *Exchanger {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Exchanger{http: &http.Client{Timeout: timeout}}
}

// PostForm sends form to tokenURL and decodes the token response. Vendor
// errors, transport failures and malformed replies all surface as OAUTH_ERROR.
func (e *Exchanger) PostForm(ctx context.Context, provider, tokenURL string, form url.Values, headers map[string]string) (*TokenResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, plugin.NewError(plugin.ErrOAuthError, "build token request").WithCause(err).WithProvider(provider)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := e.http.Do(req)
	if err != nil {
		return nil, plugin.NewError(plugin.ErrOAuthError, "token endpoint unreachable").WithCause(err).WithProvider(provider)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, plugin.NewError(plugin.ErrOAuthError, "read token response").WithCause(err).WithProvider(provider)
	}

	var token TokenResponse
	if err := json.Unmarshal(body, &token); err != nil {
		return nil, plugin.NewError(plugin.ErrOAuthError,
			fmt.Sprintf("invalid token response: %s", truncate(string(body), 256))).
			WithHTTPStatus(resp.StatusCode).WithProvider(provider)
	}

	if resp.StatusCode >= 400 || token.Error != "" {
		msg := token.ErrorDescription
		if msg == "" {
			msg = token.Error
		}
		if msg == "" {
			msg = truncate(string(body), 256)
		}
		return nil, plugin.NewError(plugin.ErrOAuthError, "token request failed: "+msg).
			WithHTTPStatus(resp.StatusCode).WithProvider(provider)
	}

	if token.AccessToken == "" {
		return nil, plugin.NewError(plugin.ErrOAuthError, "token response missing access_token").
			WithHTTPStatus(resp.StatusCode).WithProvider(provider)
	}
	return &token, nil
}

// AuthorizeURL joins an authorize endpoint with its query parameters.
func AuthorizeURL(base string, params url.Values) string {
	return base + "?" + params.Encode()
}

// RandomState returns a URL-safe random state parameter.
func RandomState() string {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		// crypto/rand never fails on supported platforms
		panic(err)
	}
	return base64.RawURLEncoding.EncodeToString(buf)
}

// BasicAuth builds the value of a Basic Authorization header.
func BasicAuth(id, secret string) string {
	return "Basic " + base64.StdEncoding.EncodeToString([]byte(id+":"+secret))
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

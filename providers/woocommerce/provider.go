// Package woocommerce implements credential validation for WooCommerce
// stores. Credentials are the REST API consumer key/secret pair; they are
// checked with a cheap webhook listing against the store.
package woocommerce

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strings"

	"go.uber.org/zap"

	"github.com/BaSui01/hookflow/internal/httpx"
	"github.com/BaSui01/hookflow/plugin"
	"github.com/BaSui01/hookflow/providers"
)

// Provider validates WooCommerce consumer key/secret credentials.
type Provider struct {
	client *httpx.Client
	logger *zap.Logger
}

// New creates a WooCommerce credential provider.
func New(client *httpx.Client, logger *zap.Logger) *Provider {
	return &Provider{
		client: client,
		logger: logger.With(zap.String("provider", "woocommerce")),
	}
}

func (p *Provider) Name() string { return "woocommerce" }

// StoreSettings is the normalized connection info extracted from a
// credential bag.
type StoreSettings struct {
	BaseURL        string
	ConsumerKey    string
	ConsumerSecret string
	// QueryAuth carries the key/secret as query parameters instead of Basic
	// auth, for stores behind proxies that strip Authorization headers.
	QueryAuth bool
}

// ExtractStoreSettings validates and normalizes the store URL and key pair.
func ExtractStoreSettings(creds plugin.Credentials) (StoreSettings, error) {
	storeURL := creds.Get("url")
	if storeURL == "" {
		return StoreSettings{}, plugin.NewError(plugin.ErrCredentialsInvalid, "store url is required").WithProvider("woocommerce")
	}
	consumerKey := creds.Get("consumer_key")
	consumerSecret := creds.Get("consumer_secret")
	if consumerKey == "" || consumerSecret == "" {
		return StoreSettings{}, plugin.NewError(plugin.ErrCredentialsInvalid,
			"consumer_key and consumer_secret are required").WithProvider("woocommerce")
	}

	parsed, err := url.Parse(storeURL)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return StoreSettings{}, plugin.NewError(plugin.ErrCredentialsInvalid,
			"store url must be a valid absolute URL").WithProvider("woocommerce")
	}

	base := parsed.Scheme + "://" + parsed.Host + strings.TrimRight(parsed.Path, "/")
	return StoreSettings{
		BaseURL:        base,
		ConsumerKey:    consumerKey,
		ConsumerSecret: consumerSecret,
		QueryAuth:      creds.Get("include_credentials_in_query") == "true",
	}, nil
}

// APIRequest builds URL, query and headers for a WooCommerce REST call.
func (s StoreSettings) APIRequest(path string, query url.Values) (string, url.Values, http.Header) {
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	if query == nil {
		query = url.Values{}
	}
	headers := http.Header{}
	headers.Set("Accept", "application/json")

	if s.QueryAuth {
		query.Set("consumer_key", s.ConsumerKey)
		query.Set("consumer_secret", s.ConsumerSecret)
	} else {
		headers.Set("Authorization", providers.BasicAuth(s.ConsumerKey, s.ConsumerSecret))
	}
	return s.BaseURL + "/wp-json/wc/v3" + path, query, headers
}

// ValidateCredentials lists one webhook to prove the key pair works.
func (p *Provider) ValidateCredentials(ctx context.Context, creds plugin.Credentials) error {
	settings, err := ExtractStoreSettings(creds)
	if err != nil {
		return err
	}

	rawURL, query, headers := settings.APIRequest("/webhooks", url.Values{"per_page": {"1"}})

	var out []map[string]any
	if _, err := p.client.GetJSON(ctx, rawURL, query, headers, &out); err != nil {
		var se *httpx.StatusError
		if errors.As(err, &se) {
			return plugin.MapHTTPStatus(se.StatusCode, "credential validation failed: "+se.Message, p.Name())
		}
		return plugin.NewError(plugin.ErrCredentialsInvalid, "credential validation failed").
			WithCause(err).WithProvider(p.Name())
	}
	return nil
}

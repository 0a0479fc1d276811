package notion

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/BaSui01/hookflow/internal/httpx"
	"github.com/BaSui01/hookflow/plugin"
)

const (
	defaultBaseURL = "https://api.notion.com/v1"
	apiVersion     = "2025-09-03"
)

// Hydrator fetches the entities referenced by webhook events so dispatched
// payloads carry full objects, not just ids.
type Hydrator struct {
	token  string
	client *httpx.Client
	logger *zap.Logger

	baseOverride string
}

// NewHydrator builds a hydrator around an integration token.
func NewHydrator(integrationToken string, logger *zap.Logger) (*Hydrator, error) {
	if integrationToken == "" {
		return nil, plugin.NewError(plugin.ErrCredentialsInvalid,
			"integration_token is required").WithProvider("notion")
	}
	return &Hydrator{
		token:  integrationToken,
		client: httpx.New(httpx.DefaultConfig(), logger),
		logger: logger.With(zap.String("trigger", "notion")),
	}, nil
}

func (h *Hydrator) base() string {
	if h.baseOverride != "" {
		return h.baseOverride
	}
	return defaultBaseURL
}

func (h *Hydrator) headers() http.Header {
	headers := http.Header{}
	headers.Set("Authorization", "Bearer "+h.token)
	headers.Set("Notion-Version", apiVersion)
	return headers
}

// get returns (nil, nil) on 404 so callers can fall back.
func (h *Hydrator) get(ctx context.Context, path string, query url.Values) (map[string]any, error) {
	var out map[string]any
	found, err := h.client.GetJSON(ctx, h.base()+path, query, h.headers(), &out)
	if err != nil {
		var status *httpx.StatusError
		if errors.As(err, &status) {
			return nil, plugin.MapHTTPStatus(status.StatusCode, status.Message, "notion")
		}
		return nil, plugin.NewError(plugin.ErrServerUnavailable, "notion request failed").
			WithCause(err).WithProvider("notion")
	}
	if !found {
		return nil, nil
	}
	return out, nil
}

// FetchPage returns the page object metadata.
func (h *Hydrator) FetchPage(ctx context.Context, pageID string) (map[string]any, error) {
	return h.get(ctx, "/pages/"+pageID, nil)
}

// FetchDatabase returns the database object including its data sources.
func (h *Hydrator) FetchDatabase(ctx context.Context, databaseID string) (map[string]any, error) {
	return h.get(ctx, "/databases/"+databaseID, nil)
}

// FetchDataSource returns the data-source schema metadata.
func (h *Hydrator) FetchDataSource(ctx context.Context, dataSourceID string) (map[string]any, error) {
	return h.get(ctx, "/data_sources/"+dataSourceID, nil)
}

// FetchBlock returns a single block object.
func (h *Hydrator) FetchBlock(ctx context.Context, blockID string) (map[string]any, error) {
	return h.get(ctx, "/blocks/"+blockID, nil)
}

// FetchBlockChildren returns the immediate children of a block.
func (h *Hydrator) FetchBlockChildren(ctx context.Context, blockID string, pageSize int) (map[string]any, error) {
	var query url.Values
	if pageSize > 0 {
		query = url.Values{"page_size": {strconv.Itoa(pageSize)}}
	}
	return h.get(ctx, "/blocks/"+blockID+"/children", query)
}

// FetchComment retrieves a comment. Direct lookup is tried first; when the
// API version does not support it, the comment listings by block and by
// discussion are scanned for the id.
func (h *Hydrator) FetchComment(ctx context.Context, commentID, blockID, discussionID string) (map[string]any, error) {
	direct, err := h.get(ctx, "/comments/"+commentID, nil)
	if err != nil || direct != nil {
		return direct, err
	}

	var listings []url.Values
	if blockID != "" {
		listings = append(listings, url.Values{"block_id": {blockID}})
	}
	if discussionID != "" {
		listings = append(listings, url.Values{"discussion_id": {discussionID}})
	}
	for _, query := range listings {
		listing, err := h.get(ctx, "/comments", query)
		if err != nil {
			return nil, err
		}
		results, _ := listing["results"].([]any)
		for _, item := range results {
			if comment, ok := item.(map[string]any); ok && comment["id"] == commentID {
				return comment, nil
			}
		}
	}
	return nil, nil
}

// Hydrate merges the fetched entity into the payload under its kind key
// ("page", "database", "data_source" or "comment").
func (h *Hydrator) Hydrate(ctx context.Context, eventType string, payload map[string]any) error {
	entity, _ := payload["entity"].(map[string]any)
	entityID, _ := entity["id"].(string)
	if entityID == "" {
		return plugin.NewError(plugin.ErrDispatchError, "payload has no entity id").WithProvider("notion")
	}

	dot := strings.IndexByte(eventType, '.')
	if dot < 0 {
		return nil
	}
	kind := eventType[:dot]
	var (
		fetched map[string]any
		err     error
	)
	switch kind {
	case "page":
		fetched, err = h.FetchPage(ctx, entityID)
	case "database":
		fetched, err = h.FetchDatabase(ctx, entityID)
	case "data_source":
		fetched, err = h.FetchDataSource(ctx, entityID)
	case "comment":
		data, _ := payload["data"].(map[string]any)
		blockID, _ := data["block_id"].(string)
		discussionID, _ := data["discussion_id"].(string)
		fetched, err = h.FetchComment(ctx, entityID, blockID, discussionID)
	default:
		return nil
	}
	if err != nil {
		return err
	}
	if fetched == nil {
		h.logger.Debug("entity not found during hydration",
			zap.String("event", eventType), zap.String("entity_id", entityID))
		return nil
	}
	payload[kind] = fetched
	return nil
}

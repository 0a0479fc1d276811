package jira

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/BaSui01/hookflow/internal/httpx"
	"github.com/BaSui01/hookflow/plugin"
	"github.com/BaSui01/hookflow/providers"
)

// Client talks to one Jira Cloud site with email + API-token Basic auth.
type Client struct {
	baseURL string
	auth    string
	client  *httpx.Client
	logger  *zap.Logger
}

// NewClient builds a Jira client for the given site URL.
func NewClient(siteURL, email, apiToken string, logger *zap.Logger) (*Client, error) {
	siteURL = strings.TrimRight(siteURL, "/")
	if !strings.HasPrefix(siteURL, "http://") && !strings.HasPrefix(siteURL, "https://") {
		return nil, plugin.NewError(plugin.ErrCredentialsInvalid,
			"jira_url must be absolute").WithProvider("jira")
	}
	if email == "" || apiToken == "" {
		return nil, plugin.NewError(plugin.ErrCredentialsInvalid,
			"username and api_token are required").WithProvider("jira")
	}
	return &Client{
		baseURL: siteURL,
		auth:    providers.BasicAuth(email, apiToken),
		client:  httpx.New(httpx.DefaultConfig(), logger),
		logger:  logger.With(zap.String("tool", "jira")),
	}, nil
}

// FromCredentials builds a client from the credential bag (jira_url,
// username, api_token).
func FromCredentials(creds plugin.Credentials, logger *zap.Logger) (*Client, error) {
	siteURL, err := creds.Require("jira_url")
	if err != nil {
		return nil, err
	}
	return NewClient(siteURL, creds.Get("username"), creds.Get("api_token"), logger)
}

func (c *Client) headers() http.Header {
	h := http.Header{}
	h.Set("Authorization", c.auth)
	h.Set("Accept", "application/json")
	return h
}

func (c *Client) wrap(err error, msg string) error {
	var status *httpx.StatusError
	if errors.As(err, &status) {
		return plugin.MapHTTPStatus(status.StatusCode, status.Message, "jira")
	}
	return plugin.NewError(plugin.ErrInvokeError, msg).WithCause(err).WithProvider("jira")
}

// AddComment posts an ADF comment on an issue and returns the comment id.
func (c *Client) AddComment(ctx context.Context, issueKey string, body Node) (string, error) {
	endpoint := fmt.Sprintf("%s/rest/api/3/issue/%s/comment", c.baseURL, url.PathEscape(issueKey))

	var out struct {
		ID string `json:"id"`
	}
	if err := c.client.PostJSON(ctx, endpoint, c.headers(), map[string]any{"body": body}, &out); err != nil {
		return "", c.wrap(err, "add comment")
	}
	c.logger.Info("comment posted", zap.String("issue", issueKey), zap.String("comment_id", out.ID))
	return out.ID, nil
}

// Issue is the trimmed issue view returned by SearchIssues.
type Issue struct {
	Key       string `json:"key"`
	Summary   string `json:"summary"`
	Status    string `json:"status"`
	Assignee  string `json:"assignee"`
	Priority  string `json:"priority"`
	IssueType string `json:"issue_type"`
	DueDate   string `json:"due_date"`
	Created   string `json:"created"`
	Updated   string `json:"updated"`
}

type searchResponse struct {
	Total  int `json:"total"`
	Issues []struct {
		Key    string `json:"key"`
		Fields struct {
			Summary   string `json:"summary"`
			DueDate   string `json:"duedate"`
			Created   string `json:"created"`
			Updated   string `json:"updated"`
			Status    *struct{ Name string } `json:"status"`
			Priority  *struct{ Name string } `json:"priority"`
			IssueType *struct{ Name string } `json:"issuetype"`
			Assignee  *struct {
				DisplayName string `json:"displayName"`
			} `json:"assignee"`
		} `json:"fields"`
	} `json:"issues"`
}

// SearchIssues runs a JQL query and returns the total match count plus the
// trimmed issue list.
func (c *Client) SearchIssues(ctx context.Context, jql string, limit int) (int, []Issue, error) {
	if limit <= 0 {
		limit = 50
	}
	query := url.Values{
		"jql":        {jql},
		"maxResults": {strconv.Itoa(limit)},
		"fields":     {"summary,status,duedate,assignee,priority,issuetype,created,updated"},
	}

	var resp searchResponse
	found, err := c.client.GetJSON(ctx, c.baseURL+"/rest/api/3/search", query, c.headers(), &resp)
	if err != nil {
		return 0, nil, c.wrap(err, "search issues")
	}
	if !found {
		return 0, nil, plugin.NewError(plugin.ErrNotFound, "search endpoint not found").WithProvider("jira")
	}

	issues := make([]Issue, 0, len(resp.Issues))
	for _, raw := range resp.Issues {
		issue := Issue{
			Key:     raw.Key,
			Summary: raw.Fields.Summary,
			DueDate: raw.Fields.DueDate,
			Created: raw.Fields.Created,
			Updated: raw.Fields.Updated,
		}
		if raw.Fields.Status != nil {
			issue.Status = raw.Fields.Status.Name
		}
		if raw.Fields.Priority != nil {
			issue.Priority = raw.Fields.Priority.Name
		}
		if raw.Fields.IssueType != nil {
			issue.IssueType = raw.Fields.IssueType.Name
		}
		issue.Assignee = "Unassigned"
		if raw.Fields.Assignee != nil {
			issue.Assignee = raw.Fields.Assignee.DisplayName
		}
		issues = append(issues, issue)
	}
	return resp.Total, issues, nil
}

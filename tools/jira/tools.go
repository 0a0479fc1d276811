package jira

import (
	"context"
	"fmt"
	"strings"

	"github.com/BaSui01/hookflow/plugin"
)

// AddCommentTool posts a Markdown comment on an issue, converted to ADF.
type AddCommentTool struct {
	client *Client
}

// NewAddCommentTool wraps a client into the add-comment tool.
func NewAddCommentTool(client *Client) *AddCommentTool {
	return &AddCommentTool{client: client}
}

func (t *AddCommentTool) Name() string { return "jira_add_comment" }

func (t *AddCommentTool) Invoke(ctx context.Context, params map[string]any) ([]plugin.Message, error) {
	issueKey := plugin.ParamString(params, "issue_key")
	if issueKey == "" {
		return nil, plugin.NewError(plugin.ErrBadRequest, "issue_key is required").WithProvider("jira")
	}
	markdown := plugin.ParamString(params, "markdown")
	if strings.TrimSpace(markdown) == "" {
		return nil, plugin.NewError(plugin.ErrBadRequest, "markdown is required").WithProvider("jira")
	}

	commentID, err := t.client.AddComment(ctx, issueKey, MarkdownToADF(markdown))
	if err != nil {
		return nil, err
	}
	return []plugin.Message{
		plugin.NewJSONMessage(map[string]any{"issue_key": issueKey, "comment_id": commentID}),
		plugin.NewTextMessage(fmt.Sprintf("comment %s added to %s", commentID, issueKey)),
	}, nil
}

// ListIssuesTool searches a project's issues over JQL with optional status
// and assignee filters.
type ListIssuesTool struct {
	client *Client
}

// NewListIssuesTool wraps a client into the list-issues tool.
func NewListIssuesTool(client *Client) *ListIssuesTool {
	return &ListIssuesTool{client: client}
}

func (t *ListIssuesTool) Name() string { return "jira_list_issues" }

func (t *ListIssuesTool) Invoke(ctx context.Context, params map[string]any) ([]plugin.Message, error) {
	projectKey := plugin.ParamString(params, "project_key")
	if projectKey == "" {
		return nil, plugin.NewError(plugin.ErrBadRequest, "project_key is required").WithProvider("jira")
	}

	parts := []string{fmt.Sprintf("project=%q", projectKey)}
	if status := plugin.ParamString(params, "status"); status != "" {
		parts = append(parts, fmt.Sprintf("status=%q", status))
	}
	if assignee := plugin.ParamString(params, "assignee"); assignee != "" {
		if strings.EqualFold(assignee, "currentuser") {
			parts = append(parts, "assignee=currentUser()")
		} else {
			parts = append(parts, fmt.Sprintf("assignee=%q", assignee))
		}
	}
	jql := strings.Join(parts, " AND ")

	limit := 0
	switch v := params["limit"].(type) {
	case int:
		limit = v
	case float64:
		limit = int(v)
	}

	total, issues, err := t.client.SearchIssues(ctx, jql, limit)
	if err != nil {
		return nil, err
	}
	return []plugin.Message{plugin.NewJSONMessage(map[string]any{
		"project_key":     projectKey,
		"jql_query":       jql,
		"total_issues":    total,
		"returned_issues": len(issues),
		"issues":          issues,
	})}, nil
}

package jira

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/hookflow/plugin"
	"github.com/BaSui01/hookflow/providers"
)

func newJiraClient(t *testing.T, serverURL string) *Client {
	t.Helper()
	c, err := NewClient(serverURL, "dev@example.com", "token-123", zap.NewNop())
	require.NoError(t, err)
	return c
}

func TestNewClient_Validation(t *testing.T) {
	_, err := NewClient("jira.example.com", "dev@example.com", "tok", zap.NewNop())
	require.Error(t, err)
	assert.Equal(t, plugin.ErrCredentialsInvalid, plugin.CodeOf(err))

	_, err = NewClient("https://jira.example.com", "", "tok", zap.NewNop())
	require.Error(t, err)

	_, err = NewClient("https://jira.example.com", "dev@example.com", "", zap.NewNop())
	require.Error(t, err)
}

func TestAddComment(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/rest/api/3/issue/PROJ-42/comment", r.URL.Path)
		assert.Equal(t, providers.BasicAuth("dev@example.com", "token-123"), r.Header.Get("Authorization"))

		var payload struct {
			Body Node `json:"body"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		assert.Equal(t, "doc", payload.Body.Type)
		assert.Equal(t, 1, payload.Body.Version)

		json.NewEncoder(w).Encode(map[string]string{"id": "10001"})
	}))
	defer server.Close()

	c := newJiraClient(t, server.URL)
	id, err := c.AddComment(context.Background(), "PROJ-42", MarkdownToADF("**done**"))
	require.NoError(t, err)
	assert.Equal(t, "10001", id)
}

func TestAddComment_Unauthorized(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	c := newJiraClient(t, server.URL)
	_, err := c.AddComment(context.Background(), "PROJ-1", MarkdownToADF("x"))
	require.Error(t, err)
	assert.Equal(t, plugin.ErrCredentialsInvalid, plugin.CodeOf(err))
}

func TestSearchIssues(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/rest/api/3/search", r.URL.Path)
		assert.Equal(t, `project="PROJ" AND status="Open"`, r.URL.Query().Get("jql"))
		assert.Equal(t, "25", r.URL.Query().Get("maxResults"))

		json.NewEncoder(w).Encode(map[string]any{
			"total": 2,
			"issues": []map[string]any{
				{
					"key": "PROJ-1",
					"fields": map[string]any{
						"summary":  "Fix the thing",
						"status":   map[string]string{"name": "Open"},
						"priority": map[string]string{"name": "High"},
						"assignee": map[string]string{"displayName": "Dana"},
					},
				},
				{
					"key": "PROJ-2",
					"fields": map[string]any{
						"summary": "Unowned task",
					},
				},
			},
		})
	}))
	defer server.Close()

	c := newJiraClient(t, server.URL)
	total, issues, err := c.SearchIssues(context.Background(), `project="PROJ" AND status="Open"`, 25)
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	require.Len(t, issues, 2)
	assert.Equal(t, "Fix the thing", issues[0].Summary)
	assert.Equal(t, "Open", issues[0].Status)
	assert.Equal(t, "Dana", issues[0].Assignee)
	assert.Equal(t, "Unassigned", issues[1].Assignee)
}

func TestAddCommentTool_Invoke(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"id": "777"})
	}))
	defer server.Close()

	tool := NewAddCommentTool(newJiraClient(t, server.URL))
	assert.Equal(t, "jira_add_comment", tool.Name())

	messages, err := tool.Invoke(context.Background(), map[string]any{
		"issue_key": "PROJ-9",
		"markdown":  "# Update\n\nAll good.",
	})
	require.NoError(t, err)
	require.Len(t, messages, 2)
	assert.Equal(t, plugin.KindJSON, messages[0].Kind())
	assert.Equal(t, plugin.KindText, messages[1].Kind())

	_, err = tool.Invoke(context.Background(), map[string]any{"markdown": "x"})
	require.Error(t, err)
	assert.Equal(t, plugin.ErrBadRequest, plugin.CodeOf(err))

	_, err = tool.Invoke(context.Background(), map[string]any{"issue_key": "PROJ-9", "markdown": "  "})
	require.Error(t, err)
}

func TestListIssuesTool_BuildsJQL(t *testing.T) {
	var gotJQL string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotJQL = r.URL.Query().Get("jql")
		json.NewEncoder(w).Encode(map[string]any{"total": 0, "issues": []any{}})
	}))
	defer server.Close()

	tool := NewListIssuesTool(newJiraClient(t, server.URL))
	assert.Equal(t, "jira_list_issues", tool.Name())

	messages, err := tool.Invoke(context.Background(), map[string]any{
		"project_key": "PROJ",
		"status":      "Done",
		"assignee":    "currentUser",
		"limit":       float64(10),
	})
	require.NoError(t, err)
	require.Len(t, messages, 1)
	assert.Equal(t, `project="PROJ" AND status="Done" AND assignee=currentUser()`, gotJQL)

	_, err = tool.Invoke(context.Background(), map[string]any{})
	require.Error(t, err)
	assert.Equal(t, plugin.ErrBadRequest, plugin.CodeOf(err))
}

package slidespeak

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/hookflow/plugin"
)

func newTestClient(t *testing.T, serverURL string) *Client {
	t.Helper()
	c, err := NewClient("sk-slides", zap.NewNop())
	require.NoError(t, err)
	c.baseOverride = serverURL
	c.pollInterval = 5 * time.Millisecond
	return c
}

func TestNewClient_RequiresKey(t *testing.T) {
	_, err := NewClient("", zap.NewNop())
	require.Error(t, err)
	assert.Equal(t, plugin.ErrCredentialsInvalid, plugin.CodeOf(err))
}

func TestGenerate_PollsUntilSuccess(t *testing.T) {
	var polls atomic.Int32
	mux := http.NewServeMux()

	mux.HandleFunc("/presentation/generate", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "sk-slides", r.Header.Get("X-API-Key"))
		var req GenerateRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "quarterly results", req.PlainText)
		json.NewEncoder(w).Encode(map[string]string{"task_id": "task-1"})
	})
	var serverURL string
	mux.HandleFunc("/task_status/task-1", func(w http.ResponseWriter, r *http.Request) {
		if polls.Add(1) < 3 {
			json.NewEncoder(w).Encode(map[string]any{"task_id": "task-1", "task_status": TaskSent})
			return
		}
		json.NewEncoder(w).Encode(map[string]any{
			"task_id":     "task-1",
			"task_status": TaskSuccess,
			"task_result": map[string]string{"url": serverURL + "/files/deck.pptx"},
		})
	})
	mux.HandleFunc("/files/deck.pptx", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("PPTX-bytes"))
	})

	server := httptest.NewServer(mux)
	defer server.Close()
	serverURL = server.URL

	c := newTestClient(t, server.URL)
	taskID, err := c.Generate(context.Background(), GenerateRequest{PlainText: "quarterly results", Length: 5})
	require.NoError(t, err)

	url, err := c.WaitForURL(context.Background(), taskID)
	require.NoError(t, err)
	assert.Equal(t, int32(3), polls.Load())

	data, err := c.FetchFile(context.Background(), url)
	require.NoError(t, err)
	assert.Equal(t, []byte("PPTX-bytes"), data)
}

func TestGenerate_RequiresInput(t *testing.T) {
	c := newTestClient(t, "http://unused")
	_, err := c.Generate(context.Background(), GenerateRequest{})
	require.Error(t, err)
	assert.Equal(t, plugin.ErrBadRequest, plugin.CodeOf(err))
}

func TestWaitForURL_TaskFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"task_id": "task-2", "task_status": TaskFailure})
	}))
	defer server.Close()

	c := newTestClient(t, server.URL)
	_, err := c.WaitForURL(context.Background(), "task-2")
	require.Error(t, err)
	assert.Equal(t, plugin.ErrInvokeError, plugin.CodeOf(err))
}

func TestWaitForURL_ContextCancelled(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"task_id": "task-3", "task_status": TaskSent})
	}))
	defer server.Close()

	c := newTestClient(t, server.URL)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	_, err := c.WaitForURL(ctx, "task-3")
	require.Error(t, err)
}

func TestTaskStatus_Unauthorized(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"detail":"invalid api key"}`, http.StatusUnauthorized)
	}))
	defer server.Close()

	c := newTestClient(t, server.URL)
	_, err := c.TaskStatus(context.Background(), "task-4")
	require.Error(t, err)
	assert.Equal(t, plugin.ErrCredentialsInvalid, plugin.CodeOf(err))
}

func TestTemplates(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/presentation/templates", r.URL.Path)
		json.NewEncoder(w).Encode([]map[string]any{
			{"name": "default", "images": map[string]string{"cover": "c1", "content": "b1"}},
			{"name": "aurora", "images": map[string]string{"cover": "c2", "content": "b2"}},
		})
	}))
	defer server.Close()

	c := newTestClient(t, server.URL)
	templates, err := c.Templates(context.Background())
	require.NoError(t, err)
	require.Len(t, templates, 2)
	assert.Equal(t, "aurora", templates[1].Name)
	assert.Equal(t, "c2", templates[1].Images.Cover)
}

func TestUploadDocument(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/document/upload", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseMultipartForm(1<<20))
		_, header, err := r.FormFile("file")
		require.NoError(t, err)
		assert.Equal(t, "notes.pdf", header.Filename)
		json.NewEncoder(w).Encode(map[string]string{"task_id": "upload-1"})
	})
	mux.HandleFunc("/task_status/upload-1", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"task_id":     "upload-1",
			"task_status": TaskSuccess,
			"task_result": "doc-uuid-42",
		})
	})

	server := httptest.NewServer(mux)
	defer server.Close()

	c := newTestClient(t, server.URL)
	uuid, err := c.UploadDocument(context.Background(), "notes.pdf", []byte("pdf"))
	require.NoError(t, err)
	assert.Equal(t, "doc-uuid-42", uuid)
}

func TestGenerateTool_Invoke(t *testing.T) {
	mux := http.NewServeMux()
	var serverURL string
	mux.HandleFunc("/presentation/generate", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"task_id": "task-9"})
	})
	mux.HandleFunc("/task_status/task-9", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"task_id":     "task-9",
			"task_status": TaskSuccess,
			"task_result": map[string]string{"url": serverURL + "/files/out.pptx"},
		})
	})
	mux.HandleFunc("/files/out.pptx", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("PPTX"))
	})

	server := httptest.NewServer(mux)
	defer server.Close()
	serverURL = server.URL

	tool := NewGenerateTool(newTestClient(t, server.URL))
	assert.Equal(t, "slidespeak_generate", tool.Name())

	messages, err := tool.Invoke(context.Background(), map[string]any{
		"topic":  "roadmap review",
		"length": float64(8),
	})
	require.NoError(t, err)
	require.Len(t, messages, 3)

	blob, ok := messages[0].(plugin.BlobMessage)
	require.True(t, ok)
	assert.Equal(t, []byte("PPTX"), blob.Data)
	assert.Equal(t, "out.pptx", blob.Filename)
	assert.Equal(t, plugin.KindJSON, messages[1].Kind())
	assert.Equal(t, plugin.KindText, messages[2].Kind())

	_, err = tool.Invoke(context.Background(), map[string]any{"topic": "  "})
	require.Error(t, err)
	assert.Equal(t, plugin.ErrBadRequest, plugin.CodeOf(err))
}

// =============================================================================
// 🧪 测试辅助函数
// =============================================================================
// 提供测试上下文、JSON 请求辅助与记录式 mock vendor 服务器
// =============================================================================
package testutil

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"
)

// =============================================================================
// 🎯 上下文辅助
// =============================================================================

// TestContext 返回带 30 秒超时的测试上下文
func TestContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	t.Cleanup(cancel)
	return ctx
}

// CancelledContext 返回已取消的上下文，用于验证取消传播
func CancelledContext() context.Context {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	return ctx
}

// =============================================================================
// 🔍 JSON 辅助
// =============================================================================

// DoJSON 向 handler 发送 JSON 请求并返回响应记录器
func DoJSON(t *testing.T, handler http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader = bytes.NewReader(nil)
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal request body: %v", err)
		}
		reader = bytes.NewReader(data)
	}
	r := httptest.NewRequest(method, path, reader)
	r.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, r)
	return w
}

// DecodeJSON 解码 JSON 并在失败时终止测试
func DecodeJSON(t *testing.T, data []byte, out any) {
	t.Helper()
	if err := json.Unmarshal(data, out); err != nil {
		t.Fatalf("decode JSON %q: %v", data, err)
	}
}

// =============================================================================
// 🌐 Mock Vendor 服务器
// =============================================================================

// RecordedRequest 一次被记录的 vendor 请求
type RecordedRequest struct {
	Method string
	Path   string
	Query  map[string]string
	Header http.Header
	Body   []byte
}

// VendorServer 记录全部请求明细的 mock vendor 服务器，
// 路由表按 "METHOD /path" 匹配，未命中返回 404
type VendorServer struct {
	*httptest.Server

	mu       sync.Mutex
	requests []RecordedRequest
}

// Route 一条 mock 路由的响应
type Route struct {
	Status int
	Body   any
}

// NewVendorServer 创建 mock vendor 服务器
func NewVendorServer(t *testing.T, routes map[string]Route) *VendorServer {
	t.Helper()
	v := &VendorServer{}
	v.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)

		query := make(map[string]string)
		for key := range r.URL.Query() {
			query[key] = r.URL.Query().Get(key)
		}
		v.mu.Lock()
		v.requests = append(v.requests, RecordedRequest{
			Method: r.Method,
			Path:   r.URL.Path,
			Query:  query,
			Header: r.Header.Clone(),
			Body:   body,
		})
		v.mu.Unlock()

		route, ok := routes[r.Method+" "+r.URL.Path]
		if !ok {
			http.NotFound(w, r)
			return
		}
		status := route.Status
		if status == 0 {
			status = http.StatusOK
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		if route.Body != nil {
			json.NewEncoder(w).Encode(route.Body)
		}
	}))
	t.Cleanup(v.Server.Close)
	return v
}

// Requests 返回已记录请求的副本
func (v *VendorServer) Requests() []RecordedRequest {
	v.mu.Lock()
	defer v.mu.Unlock()
	return append([]RecordedRequest(nil), v.requests...)
}

// LastRequest 返回最后一条请求，没有请求时终止测试
func (v *VendorServer) LastRequest(t *testing.T) RecordedRequest {
	t.Helper()
	v.mu.Lock()
	defer v.mu.Unlock()
	if len(v.requests) == 0 {
		t.Fatal("no requests recorded")
	}
	return v.requests[len(v.requests)-1]
}

// Package httpx provides the shared vendor HTTP client.
// This package is internal and should not be imported by external projects.
package httpx

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// =============================================================================
// 🌐 共享 HTTP 客户端
// =============================================================================

// Client 封装带重试、限速、链路追踪的 vendor HTTP 客户端
type Client struct {
	http    *http.Client
	config  Config
	limiter *rate.Limiter
	tracer  trace.Tracer
	logger  *zap.Logger
}

// Config 客户端配置
type Config struct {
	// 请求超时
	Timeout time.Duration `yaml:"timeout" json:"timeout"`

	// 最大重试次数（含首次请求）
	MaxRetries int `yaml:"max_retries" json:"max_retries"`

	// 首次重试退避
	InitialBackoff time.Duration `yaml:"initial_backoff" json:"initial_backoff"`

	// 每秒请求数限制，0 表示不限速
	RateLimit float64 `yaml:"rate_limit" json:"rate_limit"`

	// 限速突发量
	RateBurst int `yaml:"rate_burst" json:"rate_burst"`
}

// DefaultConfig 返回默认客户端配置
func DefaultConfig() Config {
	return Config{
		Timeout:        10 * time.Second,
		MaxRetries:     3,
		InitialBackoff: 500 * time.Millisecond,
	}
}

// retryableStatus 可重试的 HTTP 状态码
var retryableStatus = map[int]bool{
	http.StatusTooManyRequests:    true,
	http.StatusBadGateway:         true,
	http.StatusServiceUnavailable: true,
	http.StatusGatewayTimeout:     true,
}

// New 创建客户端
func New(config Config, logger *zap.Logger) *Client {
	if config.Timeout == 0 {
		config.Timeout = DefaultConfig().Timeout
	}
	if config.MaxRetries < 1 {
		config.MaxRetries = 1
	}
	if config.InitialBackoff == 0 {
		config.InitialBackoff = DefaultConfig().InitialBackoff
	}

	var limiter *rate.Limiter
	if config.RateLimit > 0 {
		burst := config.RateBurst
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(config.RateLimit), burst)
	}

	return &Client{
		http:    &http.Client{Timeout: config.Timeout},
		config:  config,
		limiter: limiter,
		tracer:  otel.Tracer("hookflow/httpx"),
		logger:  logger.With(zap.String("component", "httpx")),
	}
}

// =============================================================================
// 🎯 核心方法
// =============================================================================

// Request 描述一次 vendor 调用
type Request struct {
	Method  string
	URL     string
	Query   url.Values
	Headers http.Header
	Body    []byte
}

// Do 执行请求，对 429/502/503/504 和网络错误按指数退避重试，
// 优先使用 Retry-After 响应头。404 直接返回，不计入重试。
func (c *Client) Do(ctx context.Context, req Request) (*http.Response, error) {
	target := req.URL
	if len(req.Query) > 0 {
		target = req.URL + "?" + req.Query.Encode()
	}

	ctx, span := c.tracer.Start(ctx, fmt.Sprintf("httpx %s", req.Method),
		trace.WithAttributes(
			attribute.String("http.method", req.Method),
			attribute.String("http.url", req.URL),
		),
	)
	defer span.End()

	backoff := c.config.InitialBackoff
	var lastErr error

	for attempt := 1; attempt <= c.config.MaxRetries; attempt++ {
		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				return nil, err
			}
		}

		var body io.Reader
		if req.Body != nil {
			body = bytes.NewReader(req.Body)
		}
		httpReq, err := http.NewRequestWithContext(ctx, req.Method, target, body)
		if err != nil {
			return nil, err
		}
		for key, values := range req.Headers {
			for _, v := range values {
				httpReq.Header.Add(key, v)
			}
		}

		resp, err := c.http.Do(httpReq)
		if err != nil {
			lastErr = err
			if attempt == c.config.MaxRetries {
				break
			}
			c.logger.Debug("request error, retrying",
				zap.String("url", req.URL),
				zap.Duration("backoff", backoff),
				zap.Error(err),
			)
			if !sleepCtx(ctx, backoff) {
				return nil, ctx.Err()
			}
			backoff *= 2
			continue
		}

		if retryableStatus[resp.StatusCode] && attempt < c.config.MaxRetries {
			if after := retryAfter(resp); after > 0 {
				backoff = after
			}
			resp.Body.Close()
			c.logger.Debug("retryable status, retrying",
				zap.String("url", req.URL),
				zap.Int("status", resp.StatusCode),
				zap.Duration("backoff", backoff),
				zap.Int("attempt", attempt),
			)
			if !sleepCtx(ctx, backoff) {
				return nil, ctx.Err()
			}
			backoff *= 2
			continue
		}

		span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))
		return resp, nil
	}

	span.RecordError(lastErr)
	return nil, fmt.Errorf("request to %s failed: %w", req.URL, lastErr)
}

// GetJSON 执行 GET 并解析 JSON 响应。404 返回 (false, nil)。
func (c *Client) GetJSON(ctx context.Context, rawURL string, query url.Values, headers http.Header, dest any) (bool, error) {
	resp, err := c.Do(ctx, Request{Method: http.MethodGet, URL: rawURL, Query: query, Headers: headers})
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return false, nil
	}
	if resp.StatusCode == http.StatusNoContent {
		return true, nil
	}
	if resp.StatusCode >= 400 {
		return false, statusError(resp)
	}
	if dest == nil {
		return true, nil
	}
	if err := json.NewDecoder(resp.Body).Decode(dest); err != nil {
		return false, fmt.Errorf("invalid JSON response from %s: %w", rawURL, err)
	}
	return true, nil
}

// PostJSON 执行 JSON 编码的 POST 并解析响应
func (c *Client) PostJSON(ctx context.Context, rawURL string, headers http.Header, payload, dest any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal request payload: %w", err)
	}
	if headers == nil {
		headers = http.Header{}
	}
	headers.Set("Content-Type", "application/json")

	resp, err := c.Do(ctx, Request{Method: http.MethodPost, URL: rawURL, Headers: headers, Body: body})
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return statusError(resp)
	}
	if dest == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(dest); err != nil {
		return fmt.Errorf("invalid JSON response from %s: %w", rawURL, err)
	}
	return nil
}

// =============================================================================
// 🔧 辅助函数
// =============================================================================

// StatusError 携带状态码的请求错误
type StatusError struct {
	StatusCode int
	Message    string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("request failed (%d): %s", e.StatusCode, e.Message)
}

func statusError(resp *http.Response) error {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	return &StatusError{StatusCode: resp.StatusCode, Message: string(data)}
}

// retryAfter 解析 Retry-After 头（仅支持秒数形式）
func retryAfter(resp *http.Response) time.Duration {
	v := resp.Header.Get("Retry-After")
	if v == "" {
		return 0
	}
	seconds, err := strconv.ParseFloat(v, 64)
	if err != nil || seconds <= 0 {
		return 0
	}
	return time.Duration(seconds * float64(time.Second))
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

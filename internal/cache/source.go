package cache

import (
	"context"
	"time"

	"golang.org/x/sync/singleflight"
)

// =============================================================================
// 🔄 Token 刷新器
// =============================================================================

// FetchFunc 向 vendor 换取新 token，返回 token 值与有效期
type FetchFunc func(ctx context.Context) (value string, expiresIn time.Duration, err error)

// TokenSource 带刷新合并的 token 获取器。
// 命中缓存直接返回；未命中时通过 singleflight 保证同一 key
// 并发请求只触发一次换取调用。过期时间预留安全余量，
// 避免拿到临近过期的 token。
type TokenSource struct {
	cache  TokenCache
	group  singleflight.Group
	margin time.Duration
}

// NewTokenSource 创建 token 获取器
func NewTokenSource(cache TokenCache, margin time.Duration) *TokenSource {
	if margin <= 0 {
		margin = time.Minute
	}
	return &TokenSource{cache: cache, margin: margin}
}

// Get 返回可用 token，必要时调用 fetch 换取并写入缓存
func (s *TokenSource) Get(ctx context.Context, key string, fetch FetchFunc) (string, error) {
	if token, ok, err := s.cache.GetToken(ctx, key); err == nil && ok {
		return token.Value, nil
	}

	v, err, _ := s.group.Do(key, func() (any, error) {
		// double check：等待期间其他 goroutine 可能已刷新
		if token, ok, err := s.cache.GetToken(ctx, key); err == nil && ok {
			return token.Value, nil
		}

		value, expiresIn, err := fetch(ctx)
		if err != nil {
			return "", err
		}

		ttl := expiresIn - s.margin
		if ttl <= 0 {
			ttl = expiresIn
		}
		token := Token{Value: value, ExpiresAt: time.Now().Add(ttl)}
		if err := s.cache.SetToken(ctx, key, token); err != nil {
			// 缓存失败不影响本次调用
			return value, nil
		}
		return value, nil
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

// Invalidate 删除缓存中的 token（vendor 返回 401 时调用）
func (s *TokenSource) Invalidate(ctx context.Context, key string) {
	_ = s.cache.DeleteToken(ctx, key)
}

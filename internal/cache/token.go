package cache

import (
	"context"
	"sync"
	"time"
)

// =============================================================================
// 🔑 Token 缓存
// =============================================================================

// Token 带过期时间的 access token
type Token struct {
	Value     string    `json:"value"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Valid 判断 token 是否仍然可用
func (t Token) Valid(now time.Time) bool {
	return t.Value != "" && now.Before(t.ExpiresAt)
}

// TokenCache token 缓存接口
type TokenCache interface {
	// GetToken 获取缓存的 token，未命中或已过期返回 false
	GetToken(ctx context.Context, key string) (Token, bool, error)

	// SetToken 写入 token
	SetToken(ctx context.Context, key string, token Token) error

	// DeleteToken 删除 token
	DeleteToken(ctx context.Context, key string) error
}

// =============================================================================
// 💾 内存实现
// =============================================================================

// MemoryCache 进程内 token 缓存
type MemoryCache struct {
	mu     sync.RWMutex
	tokens map[string]Token
}

// NewMemoryCache 创建内存缓存
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{tokens: make(map[string]Token)}
}

// GetToken 获取缓存的 token
func (m *MemoryCache) GetToken(ctx context.Context, key string) (Token, bool, error) {
	m.mu.RLock()
	token, ok := m.tokens[key]
	m.mu.RUnlock()

	if !ok || !token.Valid(time.Now()) {
		return Token{}, false, nil
	}
	return token, true, nil
}

// SetToken 写入 token
func (m *MemoryCache) SetToken(ctx context.Context, key string, token Token) error {
	m.mu.Lock()
	m.tokens[key] = token
	m.mu.Unlock()
	return nil
}

// DeleteToken 删除 token
func (m *MemoryCache) DeleteToken(ctx context.Context, key string) error {
	m.mu.Lock()
	delete(m.tokens, key)
	m.mu.Unlock()
	return nil
}

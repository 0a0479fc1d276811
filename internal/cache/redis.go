package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// =============================================================================
// 💾 Redis 缓存后端
// =============================================================================

// Manager 基于 Redis 的 token 缓存后端
type Manager struct {
	redis  *redis.Client
	config Config
	logger *zap.Logger
	mu     sync.RWMutex
	closed bool
}

// Config Redis 缓存配置
type Config struct {
	// Redis 地址
	Addr string `yaml:"addr" json:"addr"`

	// 密码
	Password string `yaml:"password" json:"password"`

	// 数据库编号
	DB int `yaml:"db" json:"db"`

	// 最大重试次数
	MaxRetries int `yaml:"max_retries" json:"max_retries"`

	// 连接池大小
	PoolSize int `yaml:"pool_size" json:"pool_size"`

	// key 前缀
	KeyPrefix string `yaml:"key_prefix" json:"key_prefix"`
}

// DefaultConfig 返回默认缓存配置
func DefaultConfig() Config {
	return Config{
		Addr:       "localhost:6379",
		MaxRetries: 3,
		PoolSize:   10,
		KeyPrefix:  "hookflow:token:",
	}
}

// NewManager 创建 Redis 缓存后端
func NewManager(config Config, logger *zap.Logger) (*Manager, error) {
	if config.KeyPrefix == "" {
		config.KeyPrefix = DefaultConfig().KeyPrefix
	}

	client := redis.NewClient(&redis.Options{
		Addr:       config.Addr,
		Password:   config.Password,
		DB:         config.DB,
		MaxRetries: config.MaxRetries,
		PoolSize:   config.PoolSize,
	})

	// 测试连接
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	m := &Manager{
		redis:  client,
		config: config,
		logger: logger.With(zap.String("component", "token_cache")),
	}

	logger.Info("token cache initialized", zap.String("addr", config.Addr))
	return m, nil
}

// GetToken 获取缓存的 token
func (m *Manager) GetToken(ctx context.Context, key string) (Token, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return Token{}, false, fmt.Errorf("token cache is closed")
	}

	val, err := m.redis.Get(ctx, m.config.KeyPrefix+key).Result()
	if err == redis.Nil {
		return Token{}, false, nil
	}
	if err != nil {
		m.logger.Error("token cache get failed", zap.String("key", key), zap.Error(err))
		return Token{}, false, fmt.Errorf("token cache get failed: %w", err)
	}

	var token Token
	if err := json.Unmarshal([]byte(val), &token); err != nil {
		return Token{}, false, fmt.Errorf("failed to unmarshal cached token: %w", err)
	}
	if !token.Valid(time.Now()) {
		return Token{}, false, nil
	}
	return token, true, nil
}

// SetToken 写入 token，TTL 与 token 过期时间一致
func (m *Manager) SetToken(ctx context.Context, key string, token Token) error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return fmt.Errorf("token cache is closed")
	}

	ttl := time.Until(token.ExpiresAt)
	if ttl <= 0 {
		return fmt.Errorf("refusing to cache expired token")
	}

	data, err := json.Marshal(token)
	if err != nil {
		return fmt.Errorf("failed to marshal token: %w", err)
	}

	if err := m.redis.Set(ctx, m.config.KeyPrefix+key, string(data), ttl).Err(); err != nil {
		m.logger.Error("token cache set failed", zap.String("key", key), zap.Error(err))
		return fmt.Errorf("token cache set failed: %w", err)
	}
	return nil
}

// DeleteToken 删除 token
func (m *Manager) DeleteToken(ctx context.Context, key string) error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return fmt.Errorf("token cache is closed")
	}

	if err := m.redis.Del(ctx, m.config.KeyPrefix+key).Err(); err != nil {
		return fmt.Errorf("token cache delete failed: %w", err)
	}
	return nil
}

// Ping 检查 Redis 连接
func (m *Manager) Ping(ctx context.Context) error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return fmt.Errorf("token cache is closed")
	}
	return m.redis.Ping(ctx).Err()
}

// Close 关闭缓存后端
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil
	}
	m.closed = true
	m.logger.Info("closing token cache")
	return m.redis.Close()
}

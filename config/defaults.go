// =============================================================================
// 📦 Hookflow 默认配置
// =============================================================================
// 提供所有配置项的合理默认值
// =============================================================================
package config

import "time"

// DefaultConfig 返回默认配置
func DefaultConfig() *Config {
	return &Config{
		Server:     DefaultServerConfig(),
		Client:     DefaultClientConfig(),
		Redis:      DefaultRedisConfig(),
		Log:        DefaultLogConfig(),
		Telemetry:  DefaultTelemetryConfig(),
		Extensions: DefaultExtensionsConfig(),
	}
}

// DefaultServerConfig 返回默认服务器配置
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Addr:            ":8080",
		MetricsAddr:     ":9091",
		PublicBaseURL:   "http://localhost:8080",
		ReadTimeout:     15 * time.Second,
		WriteTimeout:    30 * time.Second,
		IdleTimeout:     120 * time.Second,
		MaxBodyBytes:    4 << 20,
		ShutdownTimeout: 30 * time.Second,
	}
}

// DefaultClientConfig 返回默认出站客户端配置
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		Timeout:        10 * time.Second,
		MaxRetries:     3,
		InitialBackoff: 500 * time.Millisecond,
		RateLimit:      0,
		RateBurst:      0,
	}
}

// DefaultRedisConfig 返回默认 Redis 配置
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		Enabled:    false,
		Addr:       "localhost:6379",
		Password:   "",
		DB:         0,
		PoolSize:   10,
		MaxRetries: 3,
		KeyPrefix:  "hookflow:token:",
	}
}

// DefaultLogConfig 返回默认日志配置
func DefaultLogConfig() LogConfig {
	return LogConfig{
		Level:            "info",
		Format:           "json",
		OutputPaths:      []string{"stdout"},
		EnableCaller:     true,
		EnableStacktrace: false,
	}
}

// DefaultTelemetryConfig 返回默认遥测配置
func DefaultTelemetryConfig() TelemetryConfig {
	return TelemetryConfig{
		Enabled:      false,
		OTLPEndpoint: "localhost:4317",
		ServiceName:  "hookflow",
		SampleRate:   0.1,
	}
}

// DefaultExtensionsConfig 返回默认扩展配置，所有扩展默认关闭
func DefaultExtensionsConfig() ExtensionsConfig {
	return ExtensionsConfig{
		Slack: SlackConfig{
			EventTypes: "app_mention",
		},
		OpenAICompat: OpenAICompatConfig{
			Upstream: UpstreamConfig{
				Model: "gpt-4o-mini",
			},
		},
	}
}

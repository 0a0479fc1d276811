// =============================================================================
// 📦 Hookflow 配置加载器
// =============================================================================
// 统一配置加载，支持 YAML 文件 + 环境变量覆盖
//
// 使用方法:
//
//	cfg, err := config.NewLoader().
//	    WithConfigPath("config.yaml").
//	    WithEnvPrefix("HOOKFLOW").
//	    Load()
//
// 配置优先级: 默认值 → YAML 文件 → 环境变量
// =============================================================================
package config

import (
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// =============================================================================
// 🎯 核心配置结构
// =============================================================================

// Config 是 Hookflow 的完整配置结构
type Config struct {
	// Server webhook 宿主服务器配置
	Server ServerConfig `yaml:"server" env:"SERVER"`

	// Client 出站 HTTP 客户端配置
	Client ClientConfig `yaml:"client" env:"CLIENT"`

	// Redis token 缓存配置
	Redis RedisConfig `yaml:"redis" env:"REDIS"`

	// Log 日志配置
	Log LogConfig `yaml:"log" env:"LOG"`

	// Telemetry 遥测配置
	Telemetry TelemetryConfig `yaml:"telemetry" env:"TELEMETRY"`

	// Extensions 扩展端点配置
	Extensions ExtensionsConfig `yaml:"extensions" env:"EXTENSIONS"`
}

// ServerConfig 服务器配置
type ServerConfig struct {
	// 监听地址
	Addr string `yaml:"addr" env:"ADDR"`
	// Metrics 监听地址
	MetricsAddr string `yaml:"metrics_addr" env:"METRICS_ADDR"`
	// 对外基础 URL，用于构造 webhook 回调地址
	PublicBaseURL string `yaml:"public_base_url" env:"PUBLIC_BASE_URL"`
	// 读取超时
	ReadTimeout time.Duration `yaml:"read_timeout" env:"READ_TIMEOUT"`
	// 写入超时
	WriteTimeout time.Duration `yaml:"write_timeout" env:"WRITE_TIMEOUT"`
	// 空闲超时
	IdleTimeout time.Duration `yaml:"idle_timeout" env:"IDLE_TIMEOUT"`
	// 最大请求体大小
	MaxBodyBytes int64 `yaml:"max_body_bytes" env:"MAX_BODY_BYTES"`
	// 优雅关闭超时
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT"`
}

// ClientConfig 出站 HTTP 客户端配置，作用于所有 vendor API 调用
type ClientConfig struct {
	// 请求超时
	Timeout time.Duration `yaml:"timeout" env:"TIMEOUT"`
	// 最大重试次数
	MaxRetries int `yaml:"max_retries" env:"MAX_RETRIES"`
	// 初始退避时间
	InitialBackoff time.Duration `yaml:"initial_backoff" env:"INITIAL_BACKOFF"`
	// 限速（每秒请求数，0 表示不限速）
	RateLimit float64 `yaml:"rate_limit" env:"RATE_LIMIT"`
	// 限速突发容量
	RateBurst int `yaml:"rate_burst" env:"RATE_BURST"`
}

// RedisConfig Redis 配置
type RedisConfig struct {
	// 是否启用 Redis token 缓存，禁用时使用进程内缓存
	Enabled bool `yaml:"enabled" env:"ENABLED"`
	// 地址
	Addr string `yaml:"addr" env:"ADDR"`
	// 密码
	Password string `yaml:"password" env:"PASSWORD"`
	// 数据库编号
	DB int `yaml:"db" env:"DB"`
	// 连接池大小
	PoolSize int `yaml:"pool_size" env:"POOL_SIZE"`
	// 最大重试次数
	MaxRetries int `yaml:"max_retries" env:"MAX_RETRIES"`
	// key 前缀
	KeyPrefix string `yaml:"key_prefix" env:"KEY_PREFIX"`
}

// LogConfig 日志配置
type LogConfig struct {
	// 日志级别: debug, info, warn, error
	Level string `yaml:"level" env:"LEVEL"`
	// 输出格式: json, console
	Format string `yaml:"format" env:"FORMAT"`
	// 输出路径
	OutputPaths []string `yaml:"output_paths" env:"OUTPUT_PATHS"`
	// 是否启用调用者信息
	EnableCaller bool `yaml:"enable_caller" env:"ENABLE_CALLER"`
	// 是否启用堆栈跟踪
	EnableStacktrace bool `yaml:"enable_stacktrace" env:"ENABLE_STACKTRACE"`
}

// TelemetryConfig 遥测配置
type TelemetryConfig struct {
	// 是否启用
	Enabled bool `yaml:"enabled" env:"ENABLED"`
	// OTLP 端点
	OTLPEndpoint string `yaml:"otlp_endpoint" env:"OTLP_ENDPOINT"`
	// 服务名称
	ServiceName string `yaml:"service_name" env:"SERVICE_NAME"`
	// 采样率
	SampleRate float64 `yaml:"sample_rate" env:"SAMPLE_RATE"`
}

// ExtensionsConfig 扩展端点配置。启用的扩展会挂载到宿主路由上。
type ExtensionsConfig struct {
	// WeCom 企业微信机器人
	WeCom WeComConfig `yaml:"wecom" env:"WECOM"`
	// Slack Slack 事件机器人
	Slack SlackConfig `yaml:"slack" env:"SLACK"`
	// OpenAICompat OpenAI 兼容代理端点
	OpenAICompat OpenAICompatConfig `yaml:"openai_compat" env:"OPENAI_COMPAT"`
}

// WeComConfig 企业微信机器人配置
type WeComConfig struct {
	// 是否挂载
	Enabled bool `yaml:"enabled" env:"ENABLED"`
	// 回调校验 Token
	Token string `yaml:"token" env:"TOKEN"`
	// 消息加解密密钥（43 字符）
	EncodingAESKey string `yaml:"encoding_aes_key" env:"ENCODING_AES_KEY"`
	// 接收方 ID（企业内部应用为 CorpID）
	ReceiveID string `yaml:"receive_id" env:"RECEIVE_ID"`
	// 企业 ID，用于主动回复
	CorpID string `yaml:"corp_id" env:"CORP_ID"`
	// 应用密钥
	AgentSecret string `yaml:"agent_secret" env:"AGENT_SECRET"`
	// 应用 ID
	AgentID string `yaml:"agent_id" env:"AGENT_ID"`
}

// SlackConfig Slack 机器人配置
type SlackConfig struct {
	// 是否挂载
	Enabled bool `yaml:"enabled" env:"ENABLED"`
	// Bot Token（xoxb- 开头）
	BotToken string `yaml:"bot_token" env:"BOT_TOKEN"`
	// 是否处理 Slack 的重试投递
	AllowRetry bool `yaml:"allow_retry" env:"ALLOW_RETRY"`
	// 忽略的用户 ID 列表（逗号分隔）
	IgnoreUserIDs string `yaml:"ignore_user_ids" env:"IGNORE_USER_IDS"`
	// 响应的事件类型: app_mention, message, both
	EventTypes string `yaml:"event_types" env:"EVENT_TYPES"`
	// 仅响应该频道（按频道名），为空不限制
	ChannelName string `yaml:"channel_name" env:"CHANNEL_NAME"`
}

// OpenAICompatConfig OpenAI 兼容代理端点配置
type OpenAICompatConfig struct {
	// 是否挂载
	Enabled bool `yaml:"enabled" env:"ENABLED"`
	// 端点自身的访问密钥，为空则不校验
	APIKey string `yaml:"api_key" env:"API_KEY"`
	// 上游服务配置
	Upstream UpstreamConfig `yaml:"upstream" env:"UPSTREAM"`
}

// UpstreamConfig 上游 OpenAI 兼容服务配置
type UpstreamConfig struct {
	// 上游基础 URL
	BaseURL string `yaml:"base_url" env:"BASE_URL"`
	// 上游 API Key
	APIKey string `yaml:"api_key" env:"API_KEY"`
	// 模型名称
	Model string `yaml:"model" env:"MODEL"`
}

// =============================================================================
// 🔧 配置加载器
// =============================================================================

// Loader 配置加载器（Builder 模式）
type Loader struct {
	configPath string
	envPrefix  string
	validators []func(*Config) error
}

// NewLoader 创建新的配置加载器
func NewLoader() *Loader {
	return &Loader{
		envPrefix:  "HOOKFLOW",
		validators: make([]func(*Config) error, 0),
	}
}

// WithConfigPath 设置配置文件路径
func (l *Loader) WithConfigPath(path string) *Loader {
	l.configPath = path
	return l
}

// WithEnvPrefix 设置环境变量前缀
func (l *Loader) WithEnvPrefix(prefix string) *Loader {
	l.envPrefix = prefix
	return l
}

// WithValidator 添加配置验证器
func (l *Loader) WithValidator(v func(*Config) error) *Loader {
	l.validators = append(l.validators, v)
	return l
}

// Load 加载配置
// 优先级: 默认值 → YAML 文件 → 环境变量
func (l *Loader) Load() (*Config, error) {
	// 1. 从默认值开始
	cfg := DefaultConfig()

	// 2. 如果指定了配置文件，从文件加载
	if l.configPath != "" {
		if err := l.loadFromFile(cfg); err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
	}

	// 3. 从环境变量覆盖
	if err := l.loadFromEnv(cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from env: %w", err)
	}

	// 4. 运行验证器
	for _, v := range l.validators {
		if err := v(cfg); err != nil {
			return nil, fmt.Errorf("config validation failed: %w", err)
		}
	}

	return cfg, nil
}

// loadFromFile 从 YAML 文件加载配置
func (l *Loader) loadFromFile(cfg *Config) error {
	data, err := os.ReadFile(l.configPath)
	if err != nil {
		if os.IsNotExist(err) {
			// 文件不存在，使用默认值
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	return nil
}

// loadFromEnv 从环境变量加载配置
func (l *Loader) loadFromEnv(cfg *Config) error {
	return l.setFieldsFromEnv(reflect.ValueOf(cfg).Elem(), l.envPrefix)
}

// setFieldsFromEnv 递归设置结构体字段
func (l *Loader) setFieldsFromEnv(v reflect.Value, prefix string) error {
	t := v.Type()

	for i := 0; i < v.NumField(); i++ {
		field := v.Field(i)
		fieldType := t.Field(i)

		// 获取 env tag
		envTag := fieldType.Tag.Get("env")
		if envTag == "" || envTag == "-" {
			continue
		}

		envKey := prefix + "_" + envTag

		// 如果是结构体，递归处理
		if field.Kind() == reflect.Struct {
			if err := l.setFieldsFromEnv(field, envKey); err != nil {
				return err
			}
			continue
		}

		// 获取环境变量值
		envValue := os.Getenv(envKey)
		if envValue == "" {
			continue
		}

		// 设置字段值
		if err := setFieldValue(field, envValue); err != nil {
			return fmt.Errorf("failed to set %s: %w", envKey, err)
		}
	}

	return nil
}

// setFieldValue 设置字段值
func setFieldValue(field reflect.Value, value string) error {
	if !field.CanSet() {
		return nil
	}

	switch field.Kind() {
	case reflect.String:
		field.SetString(value)

	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		// 特殊处理 time.Duration
		if field.Type() == reflect.TypeOf(time.Duration(0)) {
			d, err := time.ParseDuration(value)
			if err != nil {
				return err
			}
			field.SetInt(int64(d))
		} else {
			i, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return err
			}
			field.SetInt(i)
		}

	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		u, err := strconv.ParseUint(value, 10, 64)
		if err != nil {
			return err
		}
		field.SetUint(u)

	case reflect.Float32, reflect.Float64:
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return err
		}
		field.SetFloat(f)

	case reflect.Bool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return err
		}
		field.SetBool(b)

	case reflect.Slice:
		// 支持逗号分隔的字符串切片
		if field.Type().Elem().Kind() == reflect.String {
			parts := strings.Split(value, ",")
			for i := range parts {
				parts[i] = strings.TrimSpace(parts[i])
			}
			field.Set(reflect.ValueOf(parts))
		}
	}

	return nil
}

// =============================================================================
// 🔍 辅助函数
// =============================================================================

// MustLoad 加载配置，失败时 panic
func MustLoad(path string) *Config {
	cfg, err := NewLoader().WithConfigPath(path).Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}
	return cfg
}

// LoadFromEnv 仅从环境变量加载配置
func LoadFromEnv() (*Config, error) {
	return NewLoader().Load()
}

// Validate 验证配置
func (c *Config) Validate() error {
	var errs []string

	if c.Server.Addr == "" {
		errs = append(errs, "server addr must not be empty")
	}
	if c.Server.MaxBodyBytes < 0 {
		errs = append(errs, "max_body_bytes must not be negative")
	}
	if c.Client.MaxRetries < 0 {
		errs = append(errs, "client max_retries must not be negative")
	}
	if c.Client.RateLimit < 0 {
		errs = append(errs, "client rate_limit must not be negative")
	}
	if c.Redis.Enabled && c.Redis.Addr == "" {
		errs = append(errs, "redis addr required when redis is enabled")
	}
	if c.Telemetry.SampleRate < 0 || c.Telemetry.SampleRate > 1 {
		errs = append(errs, "telemetry sample_rate must be between 0 and 1")
	}
	if c.Extensions.WeCom.Enabled && (c.Extensions.WeCom.Token == "" || c.Extensions.WeCom.EncodingAESKey == "") {
		errs = append(errs, "wecom token and encoding_aes_key required when wecom extension is enabled")
	}
	if c.Extensions.Slack.Enabled && c.Extensions.Slack.BotToken == "" {
		errs = append(errs, "slack bot_token required when slack extension is enabled")
	}
	if c.Extensions.OpenAICompat.Enabled && c.Extensions.OpenAICompat.Upstream.BaseURL == "" {
		errs = append(errs, "openai_compat upstream base_url required when the endpoint is enabled")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

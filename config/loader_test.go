package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// 🧪 配置加载测试
// =============================================================================

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := NewLoader().Load()
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, ":9091", cfg.Server.MetricsAddr)
	assert.Equal(t, 10*time.Second, cfg.Client.Timeout)
	assert.Equal(t, 3, cfg.Client.MaxRetries)
	assert.False(t, cfg.Redis.Enabled)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.False(t, cfg.Telemetry.Enabled)
}

func TestLoad_FromYAML(t *testing.T) {
	path := writeConfigFile(t, `
server:
  addr: ":9000"
  public_base_url: "https://hooks.example.com"
  max_body_bytes: 1048576
client:
  timeout: 30s
  max_retries: 5
redis:
  enabled: true
  addr: "redis:6379"
log:
  level: debug
  format: console
telemetry:
  enabled: true
  otlp_endpoint: "otel:4317"
  service_name: "hookflow-prod"
  sample_rate: 0.5
`)

	cfg, err := NewLoader().WithConfigPath(path).Load()
	require.NoError(t, err)

	assert.Equal(t, ":9000", cfg.Server.Addr)
	assert.Equal(t, "https://hooks.example.com", cfg.Server.PublicBaseURL)
	assert.Equal(t, int64(1048576), cfg.Server.MaxBodyBytes)
	assert.Equal(t, 30*time.Second, cfg.Client.Timeout)
	assert.Equal(t, 5, cfg.Client.MaxRetries)
	assert.True(t, cfg.Redis.Enabled)
	assert.Equal(t, "redis:6379", cfg.Redis.Addr)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.True(t, cfg.Telemetry.Enabled)
	assert.Equal(t, 0.5, cfg.Telemetry.SampleRate)
}

func TestLoad_Extensions(t *testing.T) {
	path := writeConfigFile(t, `
extensions:
  wecom:
    enabled: true
    token: cb-token
    encoding_aes_key: key
    receive_id: corp-1
  slack:
    enabled: true
    bot_token: xoxb-abc
    ignore_user_ids: "U1,U2"
  openai_compat:
    enabled: true
    api_key: front
    upstream:
      base_url: "https://llm.internal"
      api_key: up
      model: gpt-4o
`)

	cfg, err := NewLoader().WithConfigPath(path).Load()
	require.NoError(t, err)

	assert.True(t, cfg.Extensions.WeCom.Enabled)
	assert.Equal(t, "cb-token", cfg.Extensions.WeCom.Token)
	assert.True(t, cfg.Extensions.Slack.Enabled)
	assert.Equal(t, "xoxb-abc", cfg.Extensions.Slack.BotToken)
	assert.Equal(t, "U1,U2", cfg.Extensions.Slack.IgnoreUserIDs)
	assert.Equal(t, "app_mention", cfg.Extensions.Slack.EventTypes, "default survives partial yaml")
	assert.True(t, cfg.Extensions.OpenAICompat.Enabled)
	assert.Equal(t, "https://llm.internal", cfg.Extensions.OpenAICompat.Upstream.BaseURL)
	assert.Equal(t, "gpt-4o", cfg.Extensions.OpenAICompat.Upstream.Model)

	// env wins over yaml for nested extension fields too
	t.Setenv("HOOKFLOW_EXTENSIONS_SLACK_BOT_TOKEN", "xoxb-env")
	cfg, err = NewLoader().WithConfigPath(path).Load()
	require.NoError(t, err)
	assert.Equal(t, "xoxb-env", cfg.Extensions.Slack.BotToken)
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := NewLoader().WithConfigPath("/nonexistent/config.yaml").Load()
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.Server.Addr)
}

func TestLoad_InvalidYAML(t *testing.T) {
	path := writeConfigFile(t, "server: [not a map")

	_, err := NewLoader().WithConfigPath(path).Load()
	require.Error(t, err)
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Setenv("HOOKFLOW_SERVER_ADDR", ":7070")
	t.Setenv("HOOKFLOW_CLIENT_TIMEOUT", "45s")
	t.Setenv("HOOKFLOW_REDIS_ENABLED", "true")
	t.Setenv("HOOKFLOW_TELEMETRY_SAMPLE_RATE", "0.25")
	t.Setenv("HOOKFLOW_LOG_OUTPUT_PATHS", "stdout, /var/log/hookflow.log")

	cfg, err := NewLoader().Load()
	require.NoError(t, err)

	assert.Equal(t, ":7070", cfg.Server.Addr)
	assert.Equal(t, 45*time.Second, cfg.Client.Timeout)
	assert.True(t, cfg.Redis.Enabled)
	assert.Equal(t, 0.25, cfg.Telemetry.SampleRate)
	assert.Equal(t, []string{"stdout", "/var/log/hookflow.log"}, cfg.Log.OutputPaths)
}

func TestLoad_EnvOverridesYAML(t *testing.T) {
	path := writeConfigFile(t, `
server:
  addr: ":9000"
`)
	t.Setenv("HOOKFLOW_SERVER_ADDR", ":6060")

	cfg, err := NewLoader().WithConfigPath(path).Load()
	require.NoError(t, err)
	assert.Equal(t, ":6060", cfg.Server.Addr, "env should win over yaml")
}

func TestLoad_CustomEnvPrefix(t *testing.T) {
	t.Setenv("HF_SERVER_ADDR", ":5050")

	cfg, err := NewLoader().WithEnvPrefix("HF").Load()
	require.NoError(t, err)
	assert.Equal(t, ":5050", cfg.Server.Addr)
}

func TestLoad_ValidatorFailure(t *testing.T) {
	_, err := NewLoader().
		WithValidator(func(c *Config) error {
			return assert.AnError
		}).
		Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "validation failed")
}

func TestLoad_InvalidEnvValue(t *testing.T) {
	t.Setenv("HOOKFLOW_CLIENT_MAX_RETRIES", "not-a-number")

	_, err := NewLoader().Load()
	require.Error(t, err)
}

// =============================================================================
// 🧪 配置验证测试
// =============================================================================

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:   "defaults are valid",
			mutate: func(c *Config) {},
		},
		{
			name:    "empty server addr",
			mutate:  func(c *Config) { c.Server.Addr = "" },
			wantErr: "server addr",
		},
		{
			name:    "negative max retries",
			mutate:  func(c *Config) { c.Client.MaxRetries = -1 },
			wantErr: "max_retries",
		},
		{
			name:    "redis enabled without addr",
			mutate:  func(c *Config) { c.Redis.Enabled = true; c.Redis.Addr = "" },
			wantErr: "redis addr",
		},
		{
			name:    "sample rate out of range",
			mutate:  func(c *Config) { c.Telemetry.SampleRate = 1.5 },
			wantErr: "sample_rate",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)

			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
			} else {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
			}
		})
	}
}

func TestMustLoad_PanicsOnError(t *testing.T) {
	path := writeConfigFile(t, "server: [broken")
	assert.Panics(t, func() {
		MustLoad(path)
	})
}

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/howard-nolan/codeshui/internal/provider"
)

// writeConfig drops yamlContent into a temp config.yaml and returns its path.
func writeConfig(t *testing.T, yamlContent string) string {
	t.Helper()
	configPath := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte(yamlContent), 0644))
	return configPath
}

func TestLoad(t *testing.T) {
	configPath := writeConfig(t, `
server:
  port: 9090
  read_timeout: 10s
  write_timeout: 60s
  allowed_origins:
    - https://app.example.com
    - https://*.example.dev

vendors:
  google:
    base_url: https://example.com/gemini

gateway:
  relay_url: ${TEST_RELAY_URL}
  direct_access: true
  prefer_direct: true
  timeout: 5s

store:
  backend: redis
  redis_addr: cache:6379
  redis_password: ${TEST_REDIS_PASSWORD}
  redis_db: 2
  key: team-config

log:
  level: debug
  format: json
`)

	// t.Setenv auto-restores the original value when the test finishes.
	t.Setenv("TEST_RELAY_URL", "https://relay.example.com")
	t.Setenv("TEST_REDIS_PASSWORD", "hunter2")

	cfg, err := Load(configPath)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, 10*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, 60*time.Second, cfg.Server.WriteTimeout)
	assert.Equal(t, []string{"https://app.example.com", "https://*.example.dev"}, cfg.Server.AllowedOrigins)

	assert.Equal(t, "https://example.com/gemini", cfg.VendorBaseURL(provider.Google))
	assert.Equal(t, "", cfg.VendorBaseURL(provider.OpenAI))

	assert.Equal(t, GatewayConfig{
		RelayURL:     "https://relay.example.com",
		DirectAccess: true,
		PreferDirect: true,
		Timeout:      5 * time.Second,
	}, cfg.Gateway)

	assert.Equal(t, StoreConfig{
		Backend:       "redis",
		Dir:           DefaultStoreDir,
		RedisAddr:     "cache:6379",
		RedisPassword: "hunter2",
		RedisDB:       2,
		Key:           "team-config",
	}, cfg.Store)

	assert.Equal(t, LogConfig{Level: "debug", Format: "json"}, cfg.Log)
}

func TestLoadDefaults(t *testing.T) {
	t.Setenv("PORT", "")

	// A missing file is not an error; everything falls back to defaults.
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)

	assert.Equal(t, DefaultPort, cfg.Server.Port)
	assert.Equal(t, DefaultReadTimeout, cfg.Server.ReadTimeout)
	assert.Equal(t, DefaultWriteTimeout, cfg.Server.WriteTimeout)
	assert.Equal(t, DefaultAllowedOrigins, cfg.Server.AllowedOrigins)
	assert.Equal(t, DefaultGatewayTimeout, cfg.Gateway.Timeout)
	assert.False(t, cfg.Gateway.DirectAccess)
	assert.Equal(t, "file", cfg.Store.Backend)
	assert.Equal(t, DefaultStoreDir, cfg.Store.Dir)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "text", cfg.Log.Format)
}

func TestLoadPlatformPort(t *testing.T) {
	t.Setenv("PORT", "10000")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 10000, cfg.Server.Port)
}

func TestLoadEnvOverride(t *testing.T) {
	configPath := writeConfig(t, `
server:
  port: 8080
  read_timeout: 30s
`)

	t.Setenv("CODESHUI_SERVER_PORT", "3000")
	t.Setenv("CODESHUI_SERVER_READ_TIMEOUT", "45s")
	t.Setenv("CODESHUI_GATEWAY_DIRECT_ACCESS", "true")
	t.Setenv("CODESHUI_VENDORS_OPENAI_BASE_URL", "http://localhost:9999/v1")

	cfg, err := Load(configPath)
	require.NoError(t, err)

	assert.Equal(t, 3000, cfg.Server.Port)
	assert.Equal(t, 45*time.Second, cfg.Server.ReadTimeout)
	assert.True(t, cfg.Gateway.DirectAccess)
	assert.Equal(t, "http://localhost:9999/v1", cfg.VendorBaseURL(provider.OpenAI))
}

func TestEnvKey(t *testing.T) {
	tests := map[string]string{
		"CODESHUI_SERVER_PORT":             "server.port",
		"CODESHUI_SERVER_ALLOWED_ORIGINS":  "server.allowed_origins",
		"CODESHUI_STORE_REDIS_ADDR":        "store.redis_addr",
		"CODESHUI_VENDORS_GOOGLE_BASE_URL": "vendors.google.base_url",
		"CODESHUI_LOG":                     "log",
	}
	for in, want := range tests {
		assert.Equal(t, want, envKey(in), in)
	}
}

func TestLoadRejectsBadValues(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		msg  string
	}{
		{"port out of range", "server:\n  port: 70000\n", "server.port"},
		{"unknown backend", "store:\n  backend: etcd\n", "store.backend"},
		{"unknown log format", "log:\n  format: xml\n", "log.format"},
		{"unknown vendor", "vendors:\n  mystery:\n    base_url: http://x\n", "vendors.mystery"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.msg)
		})
	}
}

func TestLoadMalformedFile(t *testing.T) {
	_, err := Load(writeConfig(t, "server: [unclosed\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "loading config file")
}

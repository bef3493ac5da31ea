package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// isolate keeps Load from picking up config files or credentials on the host.
func isolate(t *testing.T) {
	t.Helper()
	t.Setenv("HOME", t.TempDir())
	t.Setenv("OPENAI_API_KEY", "")
	t.Setenv("OPENAI_BASE_URL", "")
	t.Chdir(t.TempDir())
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "pilot.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	return path
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "/ws", cfg.Server.Path)
	assert.Equal(t, 5, cfg.Session.MaxReconnectAttempts)
	assert.Equal(t, 5*time.Second, cfg.Session.ReconnectInterval)
	assert.Equal(t, 3, cfg.Session.StartRetries)
	assert.Equal(t, 2*time.Second, cfg.Session.StartRetryDelay)
	assert.Equal(t, 2*time.Second, cfg.Session.StabilizeDelay)
	assert.Equal(t, "gpt-4o", cfg.PlannerModel())
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		errMsg string
	}{
		{"empty listen", func(c *Config) { c.Server.Listen = "" }, "server.listen"},
		{"relative path", func(c *Config) { c.Server.Path = "ws" }, "server.path"},
		{"health on ws path", func(c *Config) { c.Server.HealthPath = "/ws" }, "must differ"},
		{"zero reconnect attempts", func(c *Config) { c.Session.MaxReconnectAttempts = 0 }, "max_reconnect_attempts"},
		{"zero interval", func(c *Config) { c.Session.ReconnectInterval = 0 }, "reconnect_interval"},
		{"zero start retries", func(c *Config) { c.Session.StartRetries = 0 }, "start_retries"},
		{"negative delay", func(c *Config) { c.Session.StabilizeDelay = -time.Second }, "negative"},
		{"missing endpoint", func(c *Config) { c.Session.CDPEndpoint = "" }, "cdp_endpoint"},
		{"missing model", func(c *Config) { c.LLM.Model = "" }, "llm.model"},
		{"bad level", func(c *Config) { c.Logging.Level = "loud" }, "logging level"},
		{"bad format", func(c *Config) { c.Logging.Format = "xml" }, "logging format"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}
}

func TestLoad_Defaults(t *testing.T) {
	isolate(t)

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig().Server.Listen, cfg.Server.Listen)
	assert.Empty(t, cfg.Source)
}

func TestLoad_File(t *testing.T) {
	isolate(t)

	path := writeConfig(t, `
server:
  listen: ":9000"
session:
  cdp_endpoint: "http://chrome:9222"
  max_reconnect_attempts: 7
  reconnect_interval: 250ms
llm:
  model: gpt-4o-mini
  planner_model: o3-mini
logging:
  level: debug
  dir: "-"
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, path, cfg.Source)
	assert.Equal(t, ":9000", cfg.Server.Listen)
	assert.Equal(t, "/ws", cfg.Server.Path)
	assert.Equal(t, "http://chrome:9222", cfg.Session.CDPEndpoint)
	assert.Equal(t, 7, cfg.Session.MaxReconnectAttempts)
	assert.Equal(t, 250*time.Millisecond, cfg.Session.ReconnectInterval)
	assert.Equal(t, 3, cfg.Session.StartRetries)
	assert.Equal(t, "o3-mini", cfg.PlannerModel())
	assert.Equal(t, "-", cfg.Logging.Dir)
}

func TestLoad_Env(t *testing.T) {
	isolate(t)
	t.Setenv("PILOT_SESSION_MAX_RECONNECT_ATTEMPTS", "9")
	t.Setenv("PILOT_LLM_MODEL", "local-model")
	t.Setenv("OPENAI_API_KEY", "sk-from-env")
	t.Setenv("OPENAI_BASE_URL", "http://localhost:11434/v1")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 9, cfg.Session.MaxReconnectAttempts)
	assert.Equal(t, "local-model", cfg.LLM.Model)
	assert.Equal(t, "sk-from-env", cfg.LLM.APIKey)
	assert.Equal(t, "http://localhost:11434/v1", cfg.LLM.BaseURL)
}

func TestLoad_PilotKeyWinsOverOpenAIKey(t *testing.T) {
	isolate(t)
	t.Setenv("PILOT_LLM_API_KEY", "sk-pilot")
	t.Setenv("OPENAI_API_KEY", "sk-openai")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "sk-pilot", cfg.LLM.APIKey)
}

func TestLoad_Errors(t *testing.T) {
	isolate(t)

	t.Run("missing explicit file", func(t *testing.T) {
		_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
		assert.Error(t, err)
	})

	t.Run("invalid values", func(t *testing.T) {
		path := writeConfig(t, "session:\n  max_reconnect_attempts: 0\n")
		_, err := Load(path)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "max_reconnect_attempts")
	})

	t.Run("malformed yaml", func(t *testing.T) {
		path := writeConfig(t, "server: [unclosed\n")
		_, err := Load(path)
		assert.Error(t, err)
	})
}

// Package config loads pilot's configuration from defaults, an optional YAML
// file and PILOT_-prefixed environment variables.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the complete pilot configuration.
type Config struct {
	Server      ServerConfig      `mapstructure:"server" yaml:"server"`
	Session     SessionConfig     `mapstructure:"session" yaml:"session"`
	LLM         LLMConfig         `mapstructure:"llm" yaml:"llm"`
	Logging     LoggingConfig     `mapstructure:"logging" yaml:"logging"`
	SiteScripts SiteScriptsConfig `mapstructure:"site_scripts" yaml:"site_scripts"`

	// Source is the config file that was read, empty when running on defaults.
	Source string `mapstructure:"-" yaml:"-"`
}

// ServerConfig defines the WebSocket listener.
type ServerConfig struct {
	Listen         string        `mapstructure:"listen" yaml:"listen"`
	Path           string        `mapstructure:"path" yaml:"path"`
	HealthPath     string        `mapstructure:"health_path" yaml:"health_path"`
	ReadLimit      int64         `mapstructure:"read_limit" yaml:"read_limit"` // maximum inbound frame size in bytes
	AllowedOrigins []string      `mapstructure:"allowed_origins" yaml:"allowed_origins"`
	WriteTimeout   time.Duration `mapstructure:"write_timeout" yaml:"write_timeout"`
	ShutdownGrace  time.Duration `mapstructure:"shutdown_grace" yaml:"shutdown_grace"`
}

// SessionConfig defines the automation session and its resilience policy.
type SessionConfig struct {
	// CDPEndpoint is the Chrome DevTools endpoint the browser handle connects to.
	CDPEndpoint string `mapstructure:"cdp_endpoint" yaml:"cdp_endpoint"`

	// TabURL selects the first tab whose URL contains it. Empty picks the first tab.
	TabURL string `mapstructure:"tab_url" yaml:"tab_url"`

	// StatusMessage is shown in the page by the quick liveness probe.
	StatusMessage string `mapstructure:"status_message" yaml:"status_message"`

	AutoStart            bool          `mapstructure:"auto_start" yaml:"auto_start"`
	MaxReconnectAttempts int           `mapstructure:"max_reconnect_attempts" yaml:"max_reconnect_attempts"`
	ReconnectInterval    time.Duration `mapstructure:"reconnect_interval" yaml:"reconnect_interval"`
	StartRetries         int           `mapstructure:"start_retries" yaml:"start_retries"`
	StartRetryDelay      time.Duration `mapstructure:"start_retry_delay" yaml:"start_retry_delay"`
	StabilizeDelay       time.Duration `mapstructure:"stabilize_delay" yaml:"stabilize_delay"`
	MaxRetries           int           `mapstructure:"max_retries" yaml:"max_retries"`
	OperationTimeout     time.Duration `mapstructure:"operation_timeout" yaml:"operation_timeout"`
}

// LLMConfig defines the OpenAI-compatible provider used by the planner and the engine.
type LLMConfig struct {
	APIKey       string  `mapstructure:"api_key" yaml:"api_key"`
	BaseURL      string  `mapstructure:"base_url" yaml:"base_url"`
	Model        string  `mapstructure:"model" yaml:"model"`
	PlannerModel string  `mapstructure:"planner_model" yaml:"planner_model"` // defaults to Model
	Temperature  float64 `mapstructure:"temperature" yaml:"temperature"`
}

// LoggingConfig defines logging output.
type LoggingConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Dir    string `mapstructure:"dir" yaml:"dir"` // "-" logs to stderr
	Format string `mapstructure:"format" yaml:"format"`
}

// SiteScriptsConfig points at an optional site script table replacing the built-in one.
type SiteScriptsConfig struct {
	File string `mapstructure:"file" yaml:"file"`
}

// DefaultConfig returns a configuration suitable for a local Chrome with remote debugging on port 9222.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Listen:        ":8765",
			Path:          "/ws",
			HealthPath:    "/health",
			ReadLimit:     1 << 20,
			WriteTimeout:  10 * time.Second,
			ShutdownGrace: 5 * time.Second,
		},
		Session: SessionConfig{
			CDPEndpoint:          "http://localhost:9222",
			StatusMessage:        "Pilot connected",
			MaxReconnectAttempts: 5,
			ReconnectInterval:    5 * time.Second,
			StartRetries:         3,
			StartRetryDelay:      2 * time.Second,
			StabilizeDelay:       2 * time.Second,
			MaxRetries:           3,
			OperationTimeout:     2 * time.Minute,
		},
		LLM: LLMConfig{
			Model:       "gpt-4o",
			Temperature: 0,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Server.Listen == "" {
		return fmt.Errorf("server.listen is required")
	}
	if !strings.HasPrefix(c.Server.Path, "/") {
		return fmt.Errorf("server.path must start with '/': %q", c.Server.Path)
	}
	if c.Server.HealthPath != "" && !strings.HasPrefix(c.Server.HealthPath, "/") {
		return fmt.Errorf("server.health_path must start with '/': %q", c.Server.HealthPath)
	}
	if c.Server.HealthPath == c.Server.Path {
		return fmt.Errorf("server.health_path and server.path must differ")
	}
	if c.Server.ReadLimit <= 0 {
		return fmt.Errorf("server.read_limit must be positive")
	}

	if c.Session.CDPEndpoint == "" {
		return fmt.Errorf("session.cdp_endpoint is required")
	}
	if _, err := url.Parse(c.Session.CDPEndpoint); err != nil {
		return fmt.Errorf("invalid session.cdp_endpoint: %w", err)
	}
	if c.Session.MaxReconnectAttempts < 1 {
		return fmt.Errorf("session.max_reconnect_attempts must be at least 1")
	}
	if c.Session.ReconnectInterval <= 0 {
		return fmt.Errorf("session.reconnect_interval must be positive")
	}
	if c.Session.StartRetries < 1 {
		return fmt.Errorf("session.start_retries must be at least 1")
	}
	if c.Session.MaxRetries < 1 {
		return fmt.Errorf("session.max_retries must be at least 1")
	}
	if c.Session.StartRetryDelay < 0 || c.Session.StabilizeDelay < 0 || c.Session.OperationTimeout < 0 {
		return fmt.Errorf("session delays cannot be negative")
	}

	if c.LLM.Model == "" {
		return fmt.Errorf("llm.model is required")
	}
	if c.LLM.Temperature < 0 || c.LLM.Temperature > 2 {
		return fmt.Errorf("llm.temperature must be between 0 and 2")
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(c.Logging.Level)] {
		return fmt.Errorf("invalid logging level: %s (must be 'debug', 'info', 'warn', or 'error')", c.Logging.Level)
	}
	if c.Logging.Format != "json" && c.Logging.Format != "console" {
		return fmt.Errorf("invalid logging format: %s (must be 'json' or 'console')", c.Logging.Format)
	}

	return nil
}

// PlannerModel returns the model used for plan generation.
func (c *Config) PlannerModel() string {
	if c.LLM.PlannerModel != "" {
		return c.LLM.PlannerModel
	}
	return c.LLM.Model
}

// Load reads configuration from path, or from pilot.yaml in the working
// directory, ~/.pilot or /etc/pilot when path is empty. A missing file is
// not an error unless path was given explicitly. Environment variables with
// the PILOT_ prefix override file values, e.g. PILOT_SESSION_CDP_ENDPOINT.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("pilot")
		v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".pilot"))
		}
		v.AddConfigPath("/etc/pilot/")
	}

	v.SetEnvPrefix("PILOT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	setDefaults(v, DefaultConfig())

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	cfg := DefaultConfig()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	cfg.Source = v.ConfigFileUsed()

	if cfg.LLM.APIKey == "" {
		cfg.LLM.APIKey = os.Getenv("OPENAI_API_KEY")
	}
	if cfg.LLM.BaseURL == "" {
		cfg.LLM.BaseURL = os.Getenv("OPENAI_BASE_URL")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// setDefaults registers every key so AutomaticEnv can override it during Unmarshal.
func setDefaults(v *viper.Viper, cfg *Config) {
	v.SetDefault("server.listen", cfg.Server.Listen)
	v.SetDefault("server.path", cfg.Server.Path)
	v.SetDefault("server.health_path", cfg.Server.HealthPath)
	v.SetDefault("server.read_limit", cfg.Server.ReadLimit)
	v.SetDefault("server.allowed_origins", cfg.Server.AllowedOrigins)
	v.SetDefault("server.write_timeout", cfg.Server.WriteTimeout)
	v.SetDefault("server.shutdown_grace", cfg.Server.ShutdownGrace)

	v.SetDefault("session.cdp_endpoint", cfg.Session.CDPEndpoint)
	v.SetDefault("session.tab_url", cfg.Session.TabURL)
	v.SetDefault("session.status_message", cfg.Session.StatusMessage)
	v.SetDefault("session.auto_start", cfg.Session.AutoStart)
	v.SetDefault("session.max_reconnect_attempts", cfg.Session.MaxReconnectAttempts)
	v.SetDefault("session.reconnect_interval", cfg.Session.ReconnectInterval)
	v.SetDefault("session.start_retries", cfg.Session.StartRetries)
	v.SetDefault("session.start_retry_delay", cfg.Session.StartRetryDelay)
	v.SetDefault("session.stabilize_delay", cfg.Session.StabilizeDelay)
	v.SetDefault("session.max_retries", cfg.Session.MaxRetries)
	v.SetDefault("session.operation_timeout", cfg.Session.OperationTimeout)

	v.SetDefault("llm.api_key", cfg.LLM.APIKey)
	v.SetDefault("llm.base_url", cfg.LLM.BaseURL)
	v.SetDefault("llm.model", cfg.LLM.Model)
	v.SetDefault("llm.planner_model", cfg.LLM.PlannerModel)
	v.SetDefault("llm.temperature", cfg.LLM.Temperature)

	v.SetDefault("logging.level", cfg.Logging.Level)
	v.SetDefault("logging.dir", cfg.Logging.Dir)
	v.SetDefault("logging.format", cfg.Logging.Format)

	v.SetDefault("site_scripts.file", cfg.SiteScripts.File)
}

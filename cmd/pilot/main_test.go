package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/entrhq/pilot/pkg/config"
	"github.com/entrhq/pilot/pkg/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	t.Cleanup(func() {
		flagConfig = ""
		rootCmd.SetArgs(nil)
	})
	err := rootCmd.Execute()
	return out.String(), err
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "pilot.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestVersionCommand(t *testing.T) {
	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.Equal(t, "pilot version "+version+"\n", out)
}

func TestCheckConfigMasksAPIKey(t *testing.T) {
	path := writeConfig(t, `
llm:
  api_key: sk-very-secret
  model: gpt-4o-mini
session:
  cdp_endpoint: http://127.0.0.1:9333
`)

	out, err := execute(t, "check-config", "--config", path)
	require.NoError(t, err)
	assert.Contains(t, out, "# loaded from "+path)
	assert.NotContains(t, out, "sk-very-secret")

	var shown config.Config
	require.NoError(t, yaml.Unmarshal([]byte(out), &shown))
	assert.Equal(t, "********", shown.LLM.APIKey)
	assert.Equal(t, "gpt-4o-mini", shown.LLM.Model)
	assert.Equal(t, "http://127.0.0.1:9333", shown.Session.CDPEndpoint)
	assert.Equal(t, ":8765", shown.Server.Listen)
}

func TestCheckConfigRejectsInvalidConfig(t *testing.T) {
	path := writeConfig(t, `
logging:
  level: loud
`)

	_, err := execute(t, "check-config", "--config", path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid logging level")
}

func TestCheckConfigRejectsBadSiteScripts(t *testing.T) {
	scripts := filepath.Join(t.TempDir(), "scripts.yaml")
	require.NoError(t, os.WriteFile(scripts, []byte("sites:\n  - site: \"\"\n    scripts: {a: b}\n"), 0o600))
	path := writeConfig(t, "site_scripts:\n  file: "+scripts+"\n")

	_, err := execute(t, "check-config", "--config", path)
	require.Error(t, err)
}

func TestBuildWiresComponents(t *testing.T) {
	require.NoError(t, logging.Configure(logging.Options{Level: "error", Dir: logging.StderrDir, Format: "console"}))

	cfg := config.DefaultConfig()
	cfg.LLM.APIKey = "test-key"
	cfg.Server.ShutdownGrace = time.Second

	a, err := build(cfg)
	require.NoError(t, err)
	require.NotNil(t, a.server)
	assert.Equal(t, "stopped", a.manager.State().String())

	assert.NoError(t, a.shutdown(cfg, logging.Nop()))
	assert.Equal(t, "stopped", a.manager.State().String())
}

func TestBuildRequiresAPIKey(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")
	cfg := config.DefaultConfig()

	_, err := build(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to create LLM provider")
}

func TestServeStopsWhenContextIsCancelled(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.LLM.APIKey = "test-key"
	cfg.Server.Listen = "127.0.0.1:0"
	cfg.Server.ShutdownGrace = time.Second
	cfg.Logging = config.LoggingConfig{Level: "error", Dir: logging.StderrDir, Format: "console"}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- serve(ctx, cfg) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("serve did not return after cancellation")
	}
}

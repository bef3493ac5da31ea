package logging

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setupTestDir points logging at a temp directory and restores defaults afterwards.
func setupTestDir(t *testing.T, level string) string {
	t.Helper()

	dir := t.TempDir()
	require.NoError(t, Configure(Options{Level: level, Dir: dir, Format: "json"}))
	t.Cleanup(func() {
		_ = Shutdown()
		_ = Configure(DefaultOptions())
	})
	return dir
}

func readLog(t *testing.T, l *Logger) string {
	t.Helper()
	require.NoError(t, l.Close())
	content, err := os.ReadFile(l.LogPath())
	require.NoError(t, err)
	return string(content)
}

func TestNewLogger(t *testing.T) {
	dir := setupTestDir(t, "debug")

	logger, err := NewLogger("test-component")
	require.NoError(t, err)

	assert.Equal(t, "test-component", logger.component)
	assert.NotEmpty(t, logger.SessionID())
	assert.Equal(t, dir, filepath.Dir(logger.LogPath()))

	_, err = os.Stat(logger.LogPath())
	assert.NoError(t, err)
}

func TestLoggerLevels(t *testing.T) {
	setupTestDir(t, "debug")

	logger, err := NewLogger("test")
	require.NoError(t, err)

	logger.Debugf("Debug message")
	logger.Infof("Info message %d", 123)
	logger.Warnf("Warning message")
	logger.Errorf("Error message")

	content := readLog(t, logger)
	for _, pattern := range []string{
		`"level":"debug"`,
		`"msg":"Info message 123"`,
		`"level":"warn"`,
		`"msg":"Error message"`,
		`"logger":"test"`,
	} {
		assert.Contains(t, content, pattern)
	}
}

func TestLoggerLevelFiltering(t *testing.T) {
	setupTestDir(t, "warn")

	logger, err := NewLogger("filtered")
	require.NoError(t, err)

	logger.Debugf("hidden debug")
	logger.Infof("hidden info")
	logger.Warnf("visible warning")

	content := readLog(t, logger)
	assert.NotContains(t, content, "hidden")
	assert.Contains(t, content, "visible warning")
}

func TestLoggerWith(t *testing.T) {
	setupTestDir(t, "info")

	logger, err := NewLogger("session")
	require.NoError(t, err)

	logger.With("state", "ready", "attempt", 2).Infof("transition")

	content := readLog(t, logger)
	assert.Contains(t, content, `"state":"ready"`)
	assert.Contains(t, content, `"attempt":2`)
}

func TestMultipleComponents(t *testing.T) {
	setupTestDir(t, "info")

	logger1, err := NewLogger("component1")
	require.NoError(t, err)
	logger2, err := NewLogger("component2")
	require.NoError(t, err)

	assert.Equal(t, logger1.SessionID(), logger2.SessionID())
	assert.Equal(t, logger1.LogPath(), logger2.LogPath())

	logger1.Infof("Message from component1")
	logger2.Infof("Message from component2")

	content := readLog(t, logger1)
	assert.Contains(t, content, `"logger":"component1"`)
	assert.Contains(t, content, `"logger":"component2"`)
}

func TestLogPathFormat(t *testing.T) {
	setupTestDir(t, "info")

	logger, err := NewLogger("test")
	require.NoError(t, err)

	fileName := filepath.Base(logger.LogPath())
	assert.True(t, strings.HasSuffix(fileName, "-pilot.log"), fileName)
	assert.Equal(t, GetSessionID(), strings.TrimSuffix(fileName, "-pilot.log"))
}

func TestStderrDir(t *testing.T) {
	require.NoError(t, Configure(Options{Level: "info", Dir: StderrDir}))
	t.Cleanup(func() { _ = Configure(DefaultOptions()) })

	logger, err := NewLogger("stderr")
	require.NoError(t, err)
	assert.Empty(t, logger.LogPath())
	assert.NoError(t, logger.Close())
}

func TestConfigureRejectsBadLevel(t *testing.T) {
	assert.Error(t, Configure(Options{Level: "loud"}))
}

func TestLoggerCloseTwice(t *testing.T) {
	setupTestDir(t, "info")

	logger, err := NewLogger("test")
	require.NoError(t, err)

	assert.NoError(t, logger.Close())
	assert.NoError(t, logger.Close())
}

func TestNilAndNopLoggers(t *testing.T) {
	var nilLogger *Logger
	assert.NotPanics(t, func() {
		nilLogger.Infof("ignored")
		nilLogger.With("k", "v").Errorf("ignored")
		_ = nilLogger.Close()
	})
	assert.Empty(t, nilLogger.SessionID())

	nop := Nop()
	assert.NotPanics(t, func() { nop.Warnf("ignored %s", "too") })
	assert.NoError(t, nop.Close())
}

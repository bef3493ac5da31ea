package logging

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// StderrDir is the Options.Dir value that routes logs to stderr instead of a file.
const StderrDir = "-"

// Options control where and how component loggers write.
type Options struct {
	// Level is a zap level name: debug, info, warn, error.
	Level string

	// Dir is the log directory. Empty means ~/.pilot/logs, StderrDir means stderr.
	Dir string

	// Format is "json" or "console".
	Format string
}

// DefaultOptions returns the options used until Configure is called.
func DefaultOptions() Options {
	return Options{Level: "info", Format: "json"}
}

// Logger provides structured logging for pilot components.
// All loggers of a process share one zap core and one session-specific
// file in ~/.pilot/logs/ unless configured otherwise.
//
// A nil *Logger is valid and discards everything.
type Logger struct {
	sugar     *zap.SugaredLogger
	sessionID string
	component string
	logPath   string
	closeOnce sync.Once
}

var (
	// Global session ID for the current execution
	sessionID     string
	sessionIDOnce sync.Once

	stateMu  sync.Mutex
	options  = DefaultOptions()
	root     *zap.Logger
	rootPath string
	rootFile *os.File
	rootErr  error
)

// getSessionID returns or creates the session ID for this execution
func getSessionID() string {
	sessionIDOnce.Do(func() {
		sessionID = uuid.New().String()
	})
	return sessionID
}

// Configure replaces the logging options. Loggers created earlier keep
// writing to the previous core; create new ones after configuring.
func Configure(opts Options) error {
	if _, err := zapcore.ParseLevel(strings.ToLower(opts.Level)); opts.Level != "" && err != nil {
		return fmt.Errorf("invalid log level %q: %w", opts.Level, err)
	}

	stateMu.Lock()
	defer stateMu.Unlock()

	if root != nil {
		_ = root.Sync()
	}
	if rootFile != nil {
		_ = rootFile.Close()
	}
	options = opts
	root = nil
	rootPath = ""
	rootFile = nil
	rootErr = nil
	return nil
}

// buildRoot constructs the shared zap logger. It must be called with stateMu held.
// On failure it installs a stderr logger and records the error in rootErr.
func buildRoot() {
	level := zapcore.InfoLevel
	if options.Level != "" {
		if parsed, err := zapcore.ParseLevel(strings.ToLower(options.Level)); err == nil {
			level = parsed
		}
	}

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.TimeKey = "ts"
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	var encoder zapcore.Encoder
	if options.Format == "console" {
		encoder = zapcore.NewConsoleEncoder(encCfg)
	} else {
		encoder = zapcore.NewJSONEncoder(encCfg)
	}

	sink, path, file, err := openSink(options.Dir)
	if err != nil {
		rootErr = err
		sink = zapcore.Lock(os.Stderr)
	}

	core := zapcore.NewCore(encoder, sink, level)
	root = zap.New(core).With(zap.String("session", getSessionID()))
	rootPath = path
	rootFile = file

	if rootErr != nil {
		root.Warn("failed to initialize file logging, falling back to stderr", zap.Error(rootErr))
	}
}

func openSink(dir string) (zapcore.WriteSyncer, string, *os.File, error) {
	if dir == StderrDir {
		return zapcore.Lock(os.Stderr), "", nil, nil
	}

	if dir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return nil, "", nil, fmt.Errorf("failed to get home directory: %w", err)
		}
		dir = filepath.Join(homeDir, ".pilot", "logs")
	}

	if err := os.MkdirAll(dir, 0750); err != nil {
		return nil, "", nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	path := filepath.Join(dir, fmt.Sprintf("%s-pilot.log", getSessionID()))
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
	if err != nil {
		return nil, "", nil, fmt.Errorf("failed to open log file: %w", err)
	}

	return zapcore.Lock(zapcore.AddSync(file)), path, file, nil
}

// NewLogger creates a logger for a specific component.
//
// If the log directory cannot be created or the log file cannot be opened,
// it returns a logger writing to stderr along with the error, so callers can
// detect fallback mode and carry on.
func NewLogger(component string) (*Logger, error) {
	stateMu.Lock()
	defer stateMu.Unlock()

	if root == nil {
		buildRoot()
	}

	return &Logger{
		sugar:     root.Named(component).Sugar(),
		sessionID: getSessionID(),
		component: component,
		logPath:   rootPath,
	}, rootErr
}

// MustLogger is NewLogger for call sites that are fine with the stderr fallback.
func MustLogger(component string) *Logger {
	l, _ := NewLogger(component)
	return l
}

// Nop returns a logger that discards everything.
func Nop() *Logger {
	return &Logger{sugar: zap.NewNop().Sugar(), component: "nop"}
}

// With returns a child logger that adds structured key/value context to every entry.
func (l *Logger) With(keysAndValues ...interface{}) *Logger {
	if l == nil || l.sugar == nil {
		return l
	}
	return &Logger{
		sugar:     l.sugar.With(keysAndValues...),
		sessionID: l.sessionID,
		component: l.component,
		logPath:   l.logPath,
	}
}

// Debugf logs a debug-level message
func (l *Logger) Debugf(format string, v ...interface{}) {
	if l == nil || l.sugar == nil {
		return
	}
	l.sugar.Debugf(format, v...)
}

// Infof logs an info-level message
func (l *Logger) Infof(format string, v ...interface{}) {
	if l == nil || l.sugar == nil {
		return
	}
	l.sugar.Infof(format, v...)
}

// Warnf logs a warning-level message
func (l *Logger) Warnf(format string, v ...interface{}) {
	if l == nil || l.sugar == nil {
		return
	}
	l.sugar.Warnf(format, v...)
}

// Errorf logs an error-level message
func (l *Logger) Errorf(format string, v ...interface{}) {
	if l == nil || l.sugar == nil {
		return
	}
	l.sugar.Errorf(format, v...)
}

// SessionID returns the current session ID
func (l *Logger) SessionID() string {
	if l == nil {
		return ""
	}
	return l.sessionID
}

// LogPath returns the path to the log file, empty when logging to stderr.
func (l *Logger) LogPath() string {
	if l == nil {
		return ""
	}
	return l.logPath
}

// Close flushes buffered entries. Safe to call multiple times.
// The shared file stays open for other components until Shutdown.
func (l *Logger) Close() error {
	if l == nil || l.sugar == nil {
		return nil
	}
	var err error
	l.closeOnce.Do(func() {
		// syncing a terminal fails on some platforms
		if l.logPath != "" {
			err = l.sugar.Sync()
		}
	})
	return err
}

// Shutdown flushes and closes the shared log file.
func Shutdown() error {
	stateMu.Lock()
	defer stateMu.Unlock()

	if root == nil {
		return nil
	}
	_ = root.Sync()

	var err error
	if rootFile != nil {
		err = rootFile.Close()
	}
	root = nil
	rootFile = nil
	rootPath = ""
	rootErr = nil
	return err
}

// GetSessionID returns the current global session ID
func GetSessionID() string {
	return getSessionID()
}

// Package logging provides structured logging for netsweep on top of slog.
// Text and JSON output use the standard handlers; the pretty format renders
// colored, human-oriented lines through charmbracelet/log.
package logging

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	charmlog "github.com/charmbracelet/log"
)

const (
	logDirPerm  = 0o750
	logFilePerm = 0o600
)

// LogLevel names a minimum severity. Unknown values fall back to info.
type LogLevel string

const (
	LevelDebug LogLevel = "debug"
	LevelInfo  LogLevel = "info"
	LevelWarn  LogLevel = "warn"
	LevelError LogLevel = "error"
)

// LogFormat selects the handler: slog text, slog JSON or charm pretty.
type LogFormat string

const (
	FormatText   LogFormat = "text"
	FormatJSON   LogFormat = "json"
	FormatPretty LogFormat = "pretty"
)

// Config is the logging section of the netsweep config file.
type Config struct {
	Level     LogLevel  `yaml:"level" json:"level" validate:"omitempty,oneof=debug info warn error"`
	Format    LogFormat `yaml:"format" json:"format" validate:"omitempty,oneof=text json pretty"`
	Output    string    `yaml:"output" json:"output"`
	AddSource bool      `yaml:"add_source" json:"add_source"`
}

// DefaultConfig logs text at info level to stderr.
func DefaultConfig() Config {
	return Config{Level: LevelInfo, Format: FormatText, Output: "stderr"}
}

// Logger is a slog.Logger that remembers its config and carries the
// sweep-oriented helpers below.
type Logger struct {
	*slog.Logger
	config Config
}

// New builds a logger for cfg. Output is "stderr", "stdout" or a file path
// that is created and appended to.
func New(cfg Config) (*Logger, error) {
	w, err := openOutput(cfg.Output)
	if err != nil {
		return nil, err
	}
	return NewWithWriter(w, cfg), nil
}

func openOutput(output string) (io.Writer, error) {
	switch output {
	case "", "stderr":
		return os.Stderr, nil
	case "stdout":
		return os.Stdout, nil
	}
	if err := os.MkdirAll(filepath.Dir(output), logDirPerm); err != nil {
		return nil, err
	}
	return os.OpenFile(output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, logFilePerm)
}

// NewWithWriter creates a logger that writes to w regardless of cfg.Output.
func NewWithWriter(w io.Writer, cfg Config) *Logger {
	return &Logger{
		Logger: slog.New(newHandler(w, cfg.Format, parseLevel(cfg.Level), cfg.AddSource)),
		config: cfg,
	}
}

func newHandler(w io.Writer, format LogFormat, level slog.Level, addSource bool) slog.Handler {
	switch format {
	case FormatJSON:
		return slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level, AddSource: addSource})
	case FormatPretty:
		return charmlog.NewWithOptions(w, charmlog.Options{
			Level:           charmlog.Level(level),
			ReportTimestamp: true,
			TimeFormat:      time.TimeOnly,
			ReportCaller:    addSource,
		})
	default:
		return slog.NewTextHandler(w, &slog.HandlerOptions{Level: level, AddSource: addSource})
	}
}

func parseLevel(l LogLevel) slog.Level {
	switch strings.ToLower(string(l)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Config returns the configuration the logger was built from.
func (l *Logger) Config() Config {
	return l.config
}

// NewDefault returns a text logger on stderr at info level.
func NewDefault() *Logger {
	return NewWithWriter(os.Stderr, DefaultConfig())
}

// WithFields returns a logger that attaches fields to every entry.
func (l *Logger) WithFields(fields ...any) *Logger {
	return &Logger{Logger: l.With(fields...), config: l.config}
}

// WithComponent tags entries with the subsystem that produced them.
func (l *Logger) WithComponent(component string) *Logger {
	return l.WithFields("component", component)
}

// WithScanID tags entries with the sweep they belong to.
func (l *Logger) WithScanID(scanID string) *Logger {
	return l.WithFields("scan_id", scanID)
}

// InfoScan logs a per-target event.
func (l *Logger) InfoScan(msg, target string, fields ...any) {
	l.Info(msg, append([]any{"target", target}, fields...)...)
}

// ErrorScan logs a probe fault for target.
func (l *Logger) ErrorScan(msg, target string, err error, fields ...any) {
	l.Error(msg, append([]any{"target", target, "error", err}, fields...)...)
}

// InfoDiscovery logs a subnet-level event.
func (l *Logger) InfoDiscovery(msg, network string, fields ...any) {
	l.Info(msg, append([]any{"network", network}, fields...)...)
}

// DebugProbe logs the terminal status of one host probe.
func (l *Logger) DebugProbe(target, status string, fields ...any) {
	l.Debug("host probed", append([]any{"target", target, "status", status}, fields...)...)
}

var defaultLogger = NewDefault()

// SetDefault replaces the process-wide logger.
func SetDefault(logger *Logger) {
	defaultLogger = logger
}

// Default returns the process-wide logger.
func Default() *Logger {
	return defaultLogger
}

// Debug logs at debug level using the default logger.
func Debug(msg string, fields ...any) {
	defaultLogger.Debug(msg, fields...)
}

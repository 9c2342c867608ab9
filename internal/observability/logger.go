package observability

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"

	"snowpulse/pkg/models"
)

// Logger provides structured logging on top of logrus. Loggers are
// immutable: the With* methods return a new Logger sharing the output.
type Logger struct {
	entry *logrus.Entry
}

// LoggerConfig contains logger configuration
type LoggerConfig struct {
	Level      string
	Format     string
	Output     io.Writer // used when File is empty; defaults to stderr
	File       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
	Service    string
	Version    string
}

// LoggerConfigFrom maps the logging section of the config file.
func LoggerConfigFrom(cfg models.Logging) LoggerConfig {
	return LoggerConfig{
		Level:      cfg.Level,
		Format:     cfg.Format,
		File:       cfg.File,
		MaxSizeMB:  cfg.MaxSizeMB,
		MaxBackups: cfg.MaxBackups,
		MaxAgeDays: cfg.MaxAgeDays,
		Compress:   cfg.Compress,
	}
}

// NewLogger creates a new logger instance
func NewLogger(config LoggerConfig) (*Logger, error) {
	base := logrus.New()

	levelName := config.Level
	if levelName == "" {
		levelName = "info"
	}
	level, err := logrus.ParseLevel(levelName)
	if err != nil {
		return nil, fmt.Errorf("invalid log level: %w", err)
	}
	base.SetLevel(level)

	switch strings.ToLower(config.Format) {
	case "text":
		base.SetFormatter(&logrus.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: time.RFC3339,
		})
	default:
		base.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: time.RFC3339Nano,
			FieldMap: logrus.FieldMap{
				logrus.FieldKeyTime:  "timestamp",
				logrus.FieldKeyLevel: "level",
				logrus.FieldKeyMsg:   "message",
			},
		})
	}

	switch {
	case config.File != "":
		if err := os.MkdirAll(filepath.Dir(config.File), 0755); err != nil {
			return nil, fmt.Errorf("failed to create log directory: %w", err)
		}
		base.SetOutput(&lumberjack.Logger{
			Filename:   config.File,
			MaxSize:    config.MaxSizeMB,
			MaxBackups: config.MaxBackups,
			MaxAge:     config.MaxAgeDays,
			Compress:   config.Compress,
		})
	case config.Output != nil:
		base.SetOutput(config.Output)
	default:
		base.SetOutput(os.Stderr)
	}

	fields := logrus.Fields{}
	if config.Service != "" {
		fields["service"] = config.Service
	}
	if config.Version != "" {
		fields["version"] = config.Version
	}

	return &Logger{entry: base.WithFields(fields)}, nil
}

// NewNopLogger returns a logger that discards everything.
func NewNopLogger() *Logger {
	base := logrus.New()
	base.SetOutput(io.Discard)
	return &Logger{entry: logrus.NewEntry(base)}
}

// WithField returns a new logger with an additional field
func (l *Logger) WithField(key string, value interface{}) *Logger {
	return &Logger{entry: l.entry.WithField(key, value)}
}

// WithFields returns a new logger with additional fields
func (l *Logger) WithFields(fields map[string]interface{}) *Logger {
	return &Logger{entry: l.entry.WithFields(fields)}
}

// WithError attaches err under the "error" key.
func (l *Logger) WithError(err error) *Logger {
	if err == nil {
		return l
	}
	return &Logger{entry: l.entry.WithError(err)}
}

func (l *Logger) Debug(msg string) { l.entry.Debug(msg) }

func (l *Logger) Debugf(format string, args ...interface{}) { l.entry.Debugf(format, args...) }

func (l *Logger) Info(msg string) { l.entry.Info(msg) }

func (l *Logger) Infof(format string, args ...interface{}) { l.entry.Infof(format, args...) }

// InfoWithFields logs msg with one-off fields
func (l *Logger) InfoWithFields(msg string, fields map[string]interface{}) {
	l.entry.WithFields(fields).Info(msg)
}

func (l *Logger) Warn(msg string) { l.entry.Warn(msg) }

func (l *Logger) Warnf(format string, args ...interface{}) { l.entry.Warnf(format, args...) }

// WarnWithFields logs msg with one-off fields
func (l *Logger) WarnWithFields(msg string, fields map[string]interface{}) {
	l.entry.WithFields(fields).Warn(msg)
}

func (l *Logger) Error(msg string) { l.entry.Error(msg) }

func (l *Logger) Errorf(format string, args ...interface{}) { l.entry.Errorf(format, args...) }

// ErrorWithFields logs msg with one-off fields
func (l *Logger) ErrorWithFields(msg string, fields map[string]interface{}) {
	l.entry.WithFields(fields).Error(msg)
}

// SetLevel changes the level of the underlying logger for every derived Logger.
func (l *Logger) SetLevel(level string) error {
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return fmt.Errorf("invalid log level: %w", err)
	}
	l.entry.Logger.SetLevel(lvl)
	return nil
}

// CronLogger adapts the logger to the cron.Logger interface.
type CronLogger struct {
	l *Logger
}

// NewCronLogger wraps l for use with robfig/cron.
func NewCronLogger(l *Logger) CronLogger {
	return CronLogger{l: l.WithField("component", "cron")}
}

// Info logs routine scheduler messages at debug level.
func (c CronLogger) Info(msg string, keysAndValues ...interface{}) {
	c.l.entry.WithFields(kvFields(keysAndValues)).Debug(msg)
}

func (c CronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	c.l.entry.WithFields(kvFields(keysAndValues)).WithError(err).Error(msg)
}

func kvFields(kv []interface{}) logrus.Fields {
	fields := make(logrus.Fields, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		fields[fmt.Sprint(kv[i])] = kv[i+1]
	}
	return fields
}

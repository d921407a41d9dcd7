// Package logging builds the zap loggers used across the service and carries
// request-scoped identifiers through context.
package logging

import (
	"io"
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Field names shared by request and audit logs.
const (
	FieldRequestID     = "request_id"
	FieldCorrelationID = "correlation_id"
	FieldUserID        = "user_id"
	FieldEventType     = "event_type"
	FieldOutcome       = "outcome"
	FieldActor         = "actor"
	FieldTarget        = "target"
	FieldReason        = "reason"
	FieldAPIKey        = "api_key"
	FieldClientIP      = "client_ip"
	FieldUserAgent     = "user_agent"
)

// FileOptions controls rotation of the log file when one is configured.
type FileOptions struct {
	MaxSizeMB  int
	MaxBackups int
}

// NewLogger creates a zap.Logger with the specified level, format, and optional file output.
// level can be debug, info, warn, or error. format can be json or console.
// If filePath is empty, logs are written to stdout.
func NewLogger(level, format, filePath string) (*zap.Logger, error) {
	return NewLoggerWithRotation(level, format, filePath, FileOptions{})
}

// NewLoggerWithRotation is NewLogger with explicit rotation limits for file output.
func NewLoggerWithRotation(level, format, filePath string, opts FileOptions) (*zap.Logger, error) {
	encCfg := zapcore.EncoderConfig{
		TimeKey:        "ts",
		LevelKey:       "level",
		NameKey:        "logger",
		MessageKey:     "msg",
		CallerKey:      "caller",
		StacktraceKey:  "stacktrace",
		EncodeTime:     zapcore.ISO8601TimeEncoder,
		EncodeDuration: zapcore.StringDurationEncoder,
		EncodeLevel:    zapcore.LowercaseLevelEncoder,
	}

	var encoder zapcore.Encoder
	if strings.ToLower(format) == "console" {
		encoder = zapcore.NewConsoleEncoder(encCfg)
	} else {
		encoder = zapcore.NewJSONEncoder(encCfg)
	}

	var out io.Writer = os.Stdout
	if filePath != "" {
		out = newFileWriter(filePath, opts)
	}

	core := zapcore.NewCore(encoder, zapcore.AddSync(out), parseLevel(level))
	return zap.New(core), nil
}

func newFileWriter(path string, opts FileOptions) *lumberjack.Logger {
	if opts.MaxSizeMB <= 0 {
		opts.MaxSizeMB = 100
	}
	if opts.MaxBackups <= 0 {
		opts.MaxBackups = 5
	}
	return &lumberjack.Logger{
		Filename:   path,
		MaxSize:    opts.MaxSizeMB,
		MaxBackups: opts.MaxBackups,
		Compress:   true,
	}
}

func parseLevel(level string) zapcore.Level {
	switch strings.ToLower(level) {
	case "debug":
		return zapcore.DebugLevel
	case "warn", "warning":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

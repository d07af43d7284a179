// Package logging builds zap loggers and carries log fields on a context so
// that every sub-request of one logical operation logs the same operation id.
package logging

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type key int

const (
	fieldsKey key = iota
	loggerKey
)

// WithFields adds log fields to the context.
func WithFields(ctx context.Context, fields ...zap.Field) context.Context {
	existing := Fields(ctx)
	merged := make([]zap.Field, 0, len(existing)+len(fields))
	merged = append(merged, existing...)
	merged = append(merged, fields...)
	return context.WithValue(ctx, fieldsKey, merged)
}

// Fields extracts log fields from the context.
func Fields(ctx context.Context) []zap.Field {
	fields, ok := ctx.Value(fieldsKey).([]zap.Field)
	if !ok {
		return []zap.Field{}
	}
	return fields
}

// WithContext enriches the logger with fields from the context.
func WithContext(ctx context.Context, logger *zap.Logger) *zap.Logger {
	return logger.With(Fields(ctx)...)
}

// WithLogger adds a logger to the context.
func WithLogger(ctx context.Context, logger *zap.Logger) context.Context {
	return context.WithValue(ctx, loggerKey, logger)
}

// Logger extracts the logger from the context, or nil.
func Logger(ctx context.Context) *zap.Logger {
	logger, _ := ctx.Value(loggerKey).(*zap.Logger)
	return logger
}

// FromContext returns the context logger if one is set, otherwise def,
// enriched with the context fields.
func FromContext(ctx context.Context, def *zap.Logger) *zap.Logger {
	logger := Logger(ctx)
	if logger == nil {
		logger = def
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return WithContext(ctx, logger)
}

// New builds a JSON production logger at the given level
// ("debug", "info", "warn", "error"). "dev" selects a console
// development logger.
func New(level string) (*zap.Logger, error) {
	level = strings.ToLower(strings.TrimSpace(level))
	if level == "dev" {
		return zap.NewDevelopment()
	}
	if level == "" {
		level = "info"
	}
	var lvl zapcore.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	return cfg.Build()
}

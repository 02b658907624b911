// Package logger provides a zap-based application logger that stamps every
// entry with the OpenTelemetry trace and span ids found in the context.
package logger

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type Logger struct {
	sugar *zap.SugaredLogger
}

// New builds a production JSON logger at the given level ("debug", "info", "warn", "error").
func New(level string) (*Logger, error) {
	cfg := zap.NewProductionConfig()
	if level != "" {
		lvl, err := zapcore.ParseLevel(level)
		if err != nil {
			return nil, fmt.Errorf("parse log level: %w", err)
		}
		cfg.Level = zap.NewAtomicLevelAt(lvl)
	}
	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	z, err := cfg.Build()
	if err != nil {
		return nil, fmt.Errorf("build logger: %w", err)
	}
	return FromZap(z), nil
}

func FromZap(z *zap.Logger) *Logger {
	return &Logger{sugar: z.Sugar()}
}

// Nop discards everything.
func Nop() *Logger {
	return FromZap(zap.NewNop())
}

func (l *Logger) With(keysAndValues ...any) *Logger {
	return &Logger{sugar: l.sugar.With(keysAndValues...)}
}

func (l *Logger) Debug(ctx context.Context, msg string, keysAndValues ...any) {
	l.sugar.Debugw(msg, withTrace(ctx, keysAndValues)...)
}

func (l *Logger) Info(ctx context.Context, msg string, keysAndValues ...any) {
	l.sugar.Infow(msg, withTrace(ctx, keysAndValues)...)
}

func (l *Logger) Warn(ctx context.Context, msg string, keysAndValues ...any) {
	l.sugar.Warnw(msg, withTrace(ctx, keysAndValues)...)
}

func (l *Logger) Error(ctx context.Context, msg string, keysAndValues ...any) {
	l.sugar.Errorw(msg, withTrace(ctx, keysAndValues)...)
}

func (l *Logger) Sync() error {
	return l.sugar.Sync()
}

func withTrace(ctx context.Context, keysAndValues []any) []any {
	if ctx == nil {
		return keysAndValues
	}
	sc := trace.SpanContextFromContext(ctx)
	if !sc.IsValid() {
		return keysAndValues
	}
	return append(keysAndValues,
		"trace_id", sc.TraceID().String(),
		"span_id", sc.SpanID().String(),
	)
}

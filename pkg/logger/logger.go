// Package logger wraps zap for the dedup runs and the HTTP surface.
package logger

import (
	"context"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	appctx "recordmanager/internal/core/context"
)

// Logger is a zap.SugaredLogger that knows the run and request context.
type Logger struct {
	*zap.SugaredLogger
}

type loggerKey struct{}

// Config mirrors the log section of the application config.
type Config struct {
	Level       string // debug, info, warn, error
	Development bool
	OutputPaths []string
}

// New builds a Logger. An unknown level falls back to info.
func New(cfg Config) (*Logger, error) {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		level = zapcore.InfoLevel
	}

	zc := zap.NewProductionConfig()
	if cfg.Development {
		zc = zap.NewDevelopmentConfig()
		zc.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}
	zc.Level = zap.NewAtomicLevelAt(level)
	if len(cfg.OutputPaths) > 0 {
		zc.OutputPaths = cfg.OutputPaths
	}

	z, err := zc.Build(zap.AddCallerSkip(1))
	if err != nil {
		return nil, err
	}
	return &Logger{z.Sugar()}, nil
}

// NewNop returns a logger that discards everything.
func NewNop() *Logger {
	return &Logger{zap.NewNop().Sugar()}
}

// fallback serves contexts that carry no logger, such as HTTP requests.
var fallback = sync.OnceValue(func() *Logger {
	zc := zap.NewProductionConfig()
	zc.OutputPaths = []string{"stderr"}
	z, err := zc.Build(zap.AddCallerSkip(1))
	if err != nil {
		return NewNop()
	}
	return &Logger{z.Sugar()}
})

// WithContext adds the request id and the run, source and record ids
// found in ctx.
func (l *Logger) WithContext(ctx context.Context) *Logger {
	var kv []any
	if trace := appctx.GetTrace(ctx); trace != nil {
		kv = append(kv, "request_id", trace.RequestID)
	}
	if run := appctx.GetRun(ctx); run != nil {
		kv = append(kv, "run_id", run.RunID)
		if run.SourceID != "" {
			kv = append(kv, "source_id", run.SourceID)
		}
		if run.RecordID != "" {
			kv = append(kv, "record_id", run.RecordID)
		}
	}
	if len(kv) == 0 {
		return l
	}
	return &Logger{l.SugaredLogger.With(kv...)}
}

func (l *Logger) With(keysAndValues ...any) *Logger {
	return &Logger{l.SugaredLogger.With(keysAndValues...)}
}

// WithComponent tags every entry with component=name.
func (l *Logger) WithComponent(name string) *Logger {
	return l.With("component", name)
}

// WithLogger stores l in ctx for Info and Error.
func WithLogger(ctx context.Context, l *Logger) context.Context {
	return context.WithValue(ctx, loggerKey{}, l)
}

func fromContext(ctx context.Context) *Logger {
	if l, ok := ctx.Value(loggerKey{}).(*Logger); ok {
		return l.WithContext(ctx)
	}
	return fallback().WithContext(ctx)
}

// Info logs through the logger stored in ctx.
func Info(ctx context.Context, msg string, keysAndValues ...any) {
	fromContext(ctx).Infow(msg, keysAndValues...)
}

// Error logs through the logger stored in ctx.
func Error(ctx context.Context, msg string, keysAndValues ...any) {
	fromContext(ctx).Errorw(msg, keysAndValues...)
}

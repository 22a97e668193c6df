package logging

import (
	"context"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type zapLogger struct {
	l *zap.Logger
}

func newZap(cfg Config) Logger {
	level := zapcore.InfoLevel
	if err := level.Set(strings.ToLower(cfg.Level)); err != nil {
		level = zapcore.InfoLevel
	}

	var enc zapcore.Encoder
	if strings.EqualFold(cfg.Format, "json") {
		enc = zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig())
	} else {
		enc = zapcore.NewConsoleEncoder(zap.NewDevelopmentEncoderConfig())
	}

	opts := []zap.Option{}
	if cfg.AddSource {
		opts = append(opts, zap.AddCaller(), zap.AddCallerSkip(1))
	}
	core := zapcore.NewCore(enc, zapcore.AddSync(cfg.Output), zap.NewAtomicLevelAt(level))
	return &zapLogger{l: zap.New(core, opts...)}
}

func (z *zapLogger) With(fields ...Field) Logger {
	return &zapLogger{l: z.l.With(toZap(fields)...)}
}

func (z *zapLogger) Debug(ctx context.Context, msg string, fields ...Field) {
	z.l.Debug(msg, z.fields(ctx, fields)...)
}

func (z *zapLogger) Info(ctx context.Context, msg string, fields ...Field) {
	z.l.Info(msg, z.fields(ctx, fields)...)
}

func (z *zapLogger) Warn(ctx context.Context, msg string, fields ...Field) {
	z.l.Warn(msg, z.fields(ctx, fields)...)
}

func (z *zapLogger) Error(ctx context.Context, msg string, fields ...Field) {
	z.l.Error(msg, z.fields(ctx, fields)...)
}

func (z *zapLogger) fields(ctx context.Context, fields []Field) []zap.Field {
	out := toZap(fields)
	if id := RequestIDFromContext(ctx); id != "" && !annotated(ctx) {
		out = append(out, zap.String("request_id", id))
	}
	return out
}

func toZap(fields []Field) []zap.Field {
	out := make([]zap.Field, 0, len(fields)+1)
	for _, f := range fields {
		if err, ok := f.Value.(error); ok {
			out = append(out, zap.NamedError(f.Key, err))
			continue
		}
		out = append(out, zap.Any(f.Key, f.Value))
	}
	return out
}

package logger

import (
	"context"

	"github.com/shinyyama/rental-backend/internal/reqctx"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New builds the process logger: human-readable at debug level in
// development, JSON at info level everywhere else.
func New(appEnv string) (*zap.Logger, error) {
	if appEnv == "development" {
		cfg := zap.NewDevelopmentConfig()
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		return cfg.Build()
	}
	cfg := zap.NewProductionConfig()
	cfg.EncoderConfig.TimeKey = "time"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	return cfg.Build()
}

// For returns log with the request correlation fields found in ctx.
func For(ctx context.Context, log *zap.Logger) *zap.Logger {
	fields := make([]zap.Field, 0, 2)
	if rid := reqctx.RID(ctx); rid != "" {
		fields = append(fields, zap.String("rid", rid))
	}
	if uid := reqctx.UserID(ctx); uid != 0 {
		fields = append(fields, zap.Uint64("user_id", uid))
	}
	if len(fields) == 0 {
		return log
	}
	return log.With(fields...)
}

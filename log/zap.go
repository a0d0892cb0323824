package log

import (
	"strings"

	"github.com/bronystylecrazy/reminder/build"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const ConfigKey = "log"

type Config struct {
	Level string `mapstructure:"level"`
}

func NewZapLogger(cfg Config) (*zap.Logger, error) {
	if build.IsDevelopment() {
		zapConfig := zap.NewDevelopmentConfig()
		zapConfig.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		zapConfig.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
		zapConfig.Level = zap.NewAtomicLevelAt(parseLevel(cfg.Level, zapcore.DebugLevel))
		return zapConfig.Build()
	}

	zapConfig := zap.NewProductionConfig()
	zapConfig.Level = zap.NewAtomicLevelAt(parseLevel(cfg.Level, zapcore.InfoLevel))
	return zapConfig.Build()
}

func parseLevel(level string, fallback zapcore.Level) zapcore.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return zapcore.DebugLevel
	case "info":
		return zapcore.InfoLevel
	case "warn":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	case "fatal":
		return zapcore.FatalLevel
	default:
		return fallback
	}
}

func NewEventLogger(log *zap.Logger) fxevent.Logger {
	// fx lifecycle chatter is only useful when debugging wiring.
	return &fxevent.ZapLogger{Logger: log.WithOptions(zap.IncreaseLevel(zapcore.WarnLevel))}
}

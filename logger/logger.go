package logger

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"sync"
)

var (
	logger *zap.Logger
	once   sync.Once
)

func InitLogger(mode string) error {
	var err error

	once.Do(func() {
		var config zap.Config
		switch mode {
		case "production":
			config = zap.NewProductionConfig()
			config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
		case "test":
			logger = zap.NewNop()
			return
		default:
			config = zap.NewDevelopmentConfig()
			config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
			config.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		}

		logger, err = config.Build()
	})

	return err
}

// GetLogger returns the global logger instance. Packages that log before
// InitLogger was called (tests mostly) get a no-op logger.
func GetLogger() *zap.Logger {
	if logger == nil {
		_ = InitLogger("test")
	}
	return logger
}

// Replace swaps the global logger and returns a func that restores the previous one.
func Replace(l *zap.Logger) func() {
	prev := GetLogger()
	logger = l
	return func() {
		logger = prev
	}
}

// Sync flushes any buffered log entries (should be called before program exit)
func Sync() {
	if logger != nil {
		_ = logger.Sync()
	}
}

// With returns a child logger carrying the given fields
func With(fields ...zap.Field) *zap.Logger {
	return GetLogger().With(fields...)
}

func Debug(message string, fields ...zap.Field) {
	GetLogger().Debug(message, fields...)
}

func Info(message string, fields ...zap.Field) {
	GetLogger().Info(message, fields...)
}

// Warn logs a warning message with optional fields
func Warn(message string, fields ...zap.Field) {
	GetLogger().Warn(message, fields...)
}

// Error logs an error message with optional fields
func Error(message string, fields ...zap.Field) {
	GetLogger().Error(message, fields...)
}

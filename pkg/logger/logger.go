package logger

import (
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type Logger interface {
	Debug(msg string, values ...any)
	Info(msg string, values ...any)
	Warn(msg string, values ...any)
	Error(msg string, values ...any)
	Panic(message string, values ...any)
	Fatal(error error, values ...any)
	Printf(format string, args ...interface{})
}

var _ Logger = (*ZapLogger)(nil)

// The package logger is usable before any config is read. LOG_ENV=production
// switches to JSON output and LOG_LEVEL overrides the level.
func init() {
	if _, err := NewLogger(configFromEnv()); err != nil {
		panic(err)
	}
}

func configFromEnv() zap.Config {
	config := zap.NewDevelopmentConfig()
	if os.Getenv("LOG_ENV") == "production" {
		config = zap.NewProductionConfig()
	}
	if lvl := os.Getenv("LOG_LEVEL"); lvl != "" {
		if l, err := zapcore.ParseLevel(lvl); err == nil {
			config.Level = zap.NewAtomicLevelAt(l)
		}
	}
	return config
}

// SetService rebuilds the package logger so every entry carries the service
// and environment it was written by.
func SetService(name, env string) error {
	_, err := NewLogger(configFromEnv(), "service", name, "env", env)
	return err
}

// Sync flushes buffered entries. Mains defer it.
func Sync() {
	_ = GetLogger().Sync()
}

func Debug(msg string, values ...any) { GetLogger().Debug(msg, values...) }
func Info(msg string, values ...any)  { GetLogger().Info(msg, values...) }
func Warn(msg string, values ...any)  { GetLogger().Warn(msg, values...) }
func Error(msg string, values ...any) { GetLogger().Error(msg, values...) }

func Panic(msg string, values ...any) {
	GetLogger().Panic(msg, values...)
}

func Fatal(error error, values ...any) {
	GetLogger().Fatal(error, values...)
}

func With(values ...any) *ZapLogger {
	return GetLogger().With(values...)
}

func Named(name string) *ZapLogger {
	return GetLogger().Named(name)
}

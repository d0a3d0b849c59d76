package logger

import (
	"sync"

	"go.uber.org/zap"
)

// ZapLogger adapts a sugared zap logger to Logger. It also satisfies
// fasthttp's Printf-only logger.
type ZapLogger struct {
	log *zap.SugaredLogger
}

var (
	mu      sync.RWMutex
	current *ZapLogger
)

// NewLogger builds a logger from config and installs it as the package
// logger. fields are attached to every entry.
func NewLogger(config zap.Config, fields ...any) (*ZapLogger, error) {
	base, err := config.Build(zap.AddCallerSkip(2))
	if err != nil {
		return nil, err
	}
	l := &ZapLogger{log: base.Sugar().With(fields...)}
	setLogger(l)
	return l, nil
}

func GetLogger() *ZapLogger {
	mu.RLock()
	defer mu.RUnlock()
	if current == nil {
		panic("logger not initialized")
	}
	return current
}

func setLogger(l *ZapLogger) {
	mu.Lock()
	current = l
	mu.Unlock()
}

// With returns a child for direct use. The caller skip drops by one since the
// child's methods are called without the package-level helpers in between.
func (l *ZapLogger) With(values ...any) *ZapLogger {
	return &ZapLogger{log: l.log.WithOptions(zap.AddCallerSkip(-1)).With(values...)}
}

// Named returns a direct-use child whose entries carry name as the logger name.
func (l *ZapLogger) Named(name string) *ZapLogger {
	return &ZapLogger{log: l.log.WithOptions(zap.AddCallerSkip(-1)).Named(name)}
}

func (l *ZapLogger) Sync() error {
	return l.log.Sync()
}

func (l *ZapLogger) Debug(message string, values ...any) { l.log.Debugw(message, values...) }
func (l *ZapLogger) Info(message string, values ...any)  { l.log.Infow(message, values...) }
func (l *ZapLogger) Warn(message string, values ...any)  { l.log.Warnw(message, values...) }
func (l *ZapLogger) Error(message string, values ...any) { l.log.Errorw(message, values...) }

func (l *ZapLogger) Panic(message string, values ...any) {
	l.log.Panicw(message, values...)
}

func (l *ZapLogger) Fatal(err error, values ...any) {
	l.log.Fatalw(err.Error(), values...)
}

func (l *ZapLogger) Printf(format string, args ...interface{}) {
	l.log.Infof(format, args...)
}

package chatsync

import (
	"fmt"
	"log"
	"strings"

	"go.uber.org/zap"
)

// Logger is the minimal structured logging interface the library emits to.
// Key-value pairs alternate keys and values, zap-style.
type Logger interface {
	Debug(msg string, keysAndValues ...interface{})
	Info(msg string, keysAndValues ...interface{})
	Warn(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
}

// SimpleLogger writes levelled lines through the standard log package.
type SimpleLogger struct {
	logger *log.Logger
}

// NewSimpleLogger returns a console logger suitable for examples and tests.
func NewSimpleLogger() *SimpleLogger {
	return &SimpleLogger{logger: log.Default()}
}

func (l *SimpleLogger) Debug(msg string, keysAndValues ...interface{}) {
	l.print("DEBUG", msg, keysAndValues)
}

func (l *SimpleLogger) Info(msg string, keysAndValues ...interface{}) {
	l.print("INFO", msg, keysAndValues)
}

func (l *SimpleLogger) Warn(msg string, keysAndValues ...interface{}) {
	l.print("WARN", msg, keysAndValues)
}

func (l *SimpleLogger) Error(msg string, keysAndValues ...interface{}) {
	l.print("ERROR", msg, keysAndValues)
}

func (l *SimpleLogger) print(level, msg string, kv []interface{}) {
	var b strings.Builder
	b.WriteString(level)
	b.WriteString(" ")
	b.WriteString(msg)
	for i := 0; i+1 < len(kv); i += 2 {
		fmt.Fprintf(&b, " %v=%v", kv[i], kv[i+1])
	}
	if len(kv)%2 == 1 {
		fmt.Fprintf(&b, " %v=?", kv[len(kv)-1])
	}
	l.logger.Print(b.String())
}

// zapLogger adapts a zap sugared logger to the Logger interface, for
// applications already standardized on zap.
type zapLogger struct {
	sugar *zap.SugaredLogger
}

// NewZapLogger wraps a *zap.SugaredLogger as a Logger.
func NewZapLogger(sugar *zap.SugaredLogger) Logger {
	return &zapLogger{sugar: sugar}
}

func (l *zapLogger) Debug(msg string, keysAndValues ...interface{}) {
	l.sugar.Debugw(msg, keysAndValues...)
}

func (l *zapLogger) Info(msg string, keysAndValues ...interface{}) {
	l.sugar.Infow(msg, keysAndValues...)
}

func (l *zapLogger) Warn(msg string, keysAndValues ...interface{}) {
	l.sugar.Warnw(msg, keysAndValues...)
}

func (l *zapLogger) Error(msg string, keysAndValues ...interface{}) {
	l.sugar.Errorw(msg, keysAndValues...)
}

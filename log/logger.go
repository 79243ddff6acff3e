// Package log writes JSON log lines tagged with the collector session
// they belong to. Components take a *Logger and pass fields as a map;
// a nil *Logger is silent.
package log

import (
	"io"
	"os"
	"slices"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Meta identifies the session a logger reports for.
type Meta struct {
	// SessionID is the collector session (or watch) identity.
	SessionID string
	// Endpoint is the collector URL. Empty for in-process collectors.
	Endpoint string
	// Level is the minimum level written: debug, info, warn or error.
	// Empty or unknown means debug.
	Level string
}

// Logger is a zap logger bound to one session.
type Logger struct {
	zap *zap.Logger
}

// NewLogger logs to stderr.
func NewLogger(meta Meta) *Logger {
	return NewLoggerWithWriter(meta, os.Stderr)
}

// NewLoggerWithWriter logs to w. Every line carries session_id, plus
// endpoint when known.
func NewLoggerWithWriter(meta Meta, w io.Writer) *Logger {
	level, err := zapcore.ParseLevel(meta.Level)
	if err != nil || meta.Level == "" {
		level = zapcore.DebugLevel
	}
	enc := zapcore.NewJSONEncoder(zapcore.EncoderConfig{
		TimeKey:        "ts",
		LevelKey:       "level",
		NameKey:        "component",
		MessageKey:     "msg",
		EncodeTime:     zapcore.RFC3339NanoTimeEncoder,
		EncodeLevel:    zapcore.LowercaseLevelEncoder,
		EncodeDuration: zapcore.StringDurationEncoder,
		EncodeName:     zapcore.FullNameEncoder,
	})
	z := zap.New(zapcore.NewCore(enc, zapcore.AddSync(w), level)).
		With(zap.String("session_id", meta.SessionID))
	if meta.Endpoint != "" {
		z = z.With(zap.String("endpoint", meta.Endpoint))
	}
	return &Logger{zap: z}
}

// Nop discards everything.
func Nop() *Logger {
	return &Logger{zap: zap.NewNop()}
}

// With returns a child logger carrying key=value on every line.
func (l *Logger) With(key, value string) *Logger {
	return &Logger{zap: l.base().With(zap.String(key, value))}
}

// Named returns a child logger whose lines carry component=name.
func (l *Logger) Named(name string) *Logger {
	return &Logger{zap: l.base().Named(name)}
}

func (l *Logger) Debug(msg string, fields map[string]any) {
	l.log(zapcore.DebugLevel, msg, fields)
}

func (l *Logger) Info(msg string, fields map[string]any) {
	l.log(zapcore.InfoLevel, msg, fields)
}

func (l *Logger) Warn(msg string, fields map[string]any) {
	l.log(zapcore.WarnLevel, msg, fields)
}

func (l *Logger) Error(msg string, fields map[string]any) {
	l.log(zapcore.ErrorLevel, msg, fields)
}

func (l *Logger) base() *zap.Logger {
	if l == nil || l.zap == nil {
		return zap.NewNop()
	}
	return l.zap
}

// log emits fields as top-level keys in sorted order.
func (l *Logger) log(level zapcore.Level, msg string, fields map[string]any) {
	ce := l.base().Check(level, msg)
	if ce == nil {
		return
	}
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	zf := make([]zap.Field, 0, len(keys))
	for _, k := range keys {
		if err, ok := fields[k].(error); ok {
			zf = append(zf, zap.NamedError(k, err))
			continue
		}
		zf = append(zf, zap.Any(k, fields[k]))
	}
	ce.Write(zf...)
}

// Package logger is the structured logger of Practice Hub. It is a thin layer
// over zap: fields are zap fields, and the helpers below fix the key names
// used across the engine so log queries stay stable.
package logger

import (
	"context"
	"io"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Level is a zap level.
type Level = zapcore.Level

const (
	LevelDebug = zapcore.DebugLevel
	LevelInfo  = zapcore.InfoLevel
	LevelWarn  = zapcore.WarnLevel
	LevelError = zapcore.ErrorLevel
)

// ParseLevel maps LOG_LEVEL values to a Level. Unknown values mean info.
func ParseLevel(s string) Level {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "warning" {
		s = "warn"
	}
	lvl, err := zapcore.ParseLevel(s)
	if err != nil {
		return LevelInfo
	}
	return lvl
}

// Field is a zap field.
type Field = zap.Field

func String(key, value string) Field                { return zap.String(key, value) }
func Int(key string, value int) Field               { return zap.Int(key, value) }
func Int64(key string, value int64) Field           { return zap.Int64(key, value) }
func Bool(key string, value bool) Field             { return zap.Bool(key, value) }
func Duration(key string, value time.Duration) Field { return zap.Duration(key, value) }
func Any(key string, value any) Field               { return zap.Any(key, value) }

// Err logs err under "error". A nil error is skipped.
func Err(err error) Field { return zap.Error(err) }

// Engine field names.
func UserID(id string) Field        { return zap.String("user_id", id) }
func BadgeKey(key string) Field     { return zap.String("badge_key", key) }
func XPAmount(xp int) Field         { return zap.Int("xp_amount", xp) }
func GemsAmount(gems int) Field     { return zap.Int("gems_amount", gems) }
func StepID(id int64) Field         { return zap.Int64("step_id", id) }
func FocusID(id int64) Field        { return zap.Int64("focus_id", id) }
func Component(name string) Field   { return zap.String("component", name) }
func Operation(name string) Field   { return zap.String("operation", name) }
func Latency(d time.Duration) Field { return zap.Duration("latency", d) }

// Options configures New.
type Options struct {
	// Output defaults to stdout.
	Output io.Writer
	Level  Level

	AddCaller bool

	// Development switches to the console encoder.
	Development bool
}

// Logger wraps a zap logger.
type Logger struct {
	z *zap.Logger
}

// New creates a JSON logger (console in development).
func New(opts Options) *Logger {
	if opts.Output == nil {
		opts.Output = os.Stdout
	}

	enc := zap.NewProductionEncoderConfig()
	enc.TimeKey = "timestamp"
	enc.MessageKey = "message"
	enc.EncodeTime = zapcore.RFC3339NanoTimeEncoder
	enc.EncodeLevel = zapcore.CapitalLevelEncoder
	enc.EncodeDuration = zapcore.StringDurationEncoder

	encoder := zapcore.NewJSONEncoder(enc)
	if opts.Development {
		encoder = zapcore.NewConsoleEncoder(enc)
	}

	var zopts []zap.Option
	if opts.AddCaller {
		zopts = append(zopts, zap.AddCaller(), zap.AddCallerSkip(1))
	}
	core := zapcore.NewCore(encoder, zapcore.AddSync(opts.Output), opts.Level)
	return &Logger{z: zap.New(core, zopts...)}
}

// Default logs info and above to stdout.
func Default() *Logger {
	return New(Options{Level: LevelInfo, AddCaller: true})
}

// Nop discards everything.
func Nop() *Logger { return &Logger{z: zap.NewNop()} }

// With returns a child logger carrying fields.
func (l *Logger) With(fields ...Field) *Logger { return &Logger{z: l.z.With(fields...)} }

func (l *Logger) Debug(msg string, fields ...Field) { l.z.Debug(msg, fields...) }
func (l *Logger) Info(msg string, fields ...Field)  { l.z.Info(msg, fields...) }
func (l *Logger) Warn(msg string, fields ...Field)  { l.z.Warn(msg, fields...) }
func (l *Logger) Error(msg string, fields ...Field) { l.z.Error(msg, fields...) }

// Sync flushes buffered entries.
func (l *Logger) Sync() { _ = l.z.Sync() }

type ctxKey struct{}

// WithContext attaches l to ctx.
func WithContext(ctx context.Context, l *Logger) context.Context {
	return context.WithValue(ctx, ctxKey{}, l)
}

// FromContext returns the logger attached to ctx, or Default.
func FromContext(ctx context.Context) *Logger {
	if l, ok := ctx.Value(ctxKey{}).(*Logger); ok {
		return l
	}
	return Default()
}

// Package log provides structured logging with component context.
//
// Logger wraps a non-sugared zap.Logger; services, the CLI and the upload
// worker all log structured fields through it.
package log

import (
	"io"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger provides structured logging with component context.
// All log entries carry the component field; job and session scoped loggers
// add job_id or session_id.
type Logger struct {
	zap    *zap.Logger
	level  zap.AtomicLevel
	fields []zap.Field
}

// NewLogger creates a new logger for a component.
// Output defaults to os.Stderr; stdout is reserved for protocol and
// command output.
func NewLogger(component string) *Logger {
	return newLoggerWithWriter(component, os.Stderr, zap.NewAtomicLevelAt(zapcore.InfoLevel))
}

// Nop returns a logger that discards everything.
func Nop() *Logger {
	return &Logger{zap: zap.NewNop(), level: zap.NewAtomicLevel()}
}

func encoderConfig() zapcore.EncoderConfig {
	return zapcore.EncoderConfig{
		TimeKey:     "timestamp",
		LevelKey:    "level",
		MessageKey:  "message",
		EncodeTime:  zapcore.RFC3339NanoTimeEncoder,
		EncodeLevel: zapcore.LowercaseLevelEncoder,
	}
}

// WithOutput returns a new logger with a different output writer.
// Context fields and the level are carried over.
func (l *Logger) WithOutput(w io.Writer) *Logger {
	return build(w, l.level, l.fields)
}

// newLoggerWithWriter creates a logger writing to the specified writer.
func newLoggerWithWriter(component string, w io.Writer, level zap.AtomicLevel) *Logger {
	return build(w, level, []zap.Field{zap.String("component", component)})
}

func build(w io.Writer, level zap.AtomicLevel, fields []zap.Field) *Logger {
	core := zapcore.NewCore(
		zapcore.NewJSONEncoder(encoderConfig()),
		zapcore.AddSync(w),
		level,
	)
	return &Logger{zap: zap.New(core).With(fields...), level: level, fields: fields}
}

func (l *Logger) with(field zap.Field) *Logger {
	fields := append(append([]zap.Field(nil), l.fields...), field)
	return &Logger{zap: l.zap.With(field), level: l.level, fields: fields}
}

// SetLevel changes the minimum level ("debug", "info", "warn", "error").
// The level is shared with every logger derived from l.
func (l *Logger) SetLevel(level string) error {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return err
	}
	l.level.SetLevel(lvl)
	return nil
}

// WithJob returns a logger scoped to a scan or upload job.
func (l *Logger) WithJob(jobID string) *Logger {
	return l.with(zap.String("job_id", jobID))
}

// WithSession returns a logger scoped to a device session.
func (l *Logger) WithSession(sessionID string) *Logger {
	return l.with(zap.String("session_id", sessionID))
}

// Debug logs a debug message.
func (l *Logger) Debug(message string, fields map[string]any) {
	l.zap.Debug(message, zap.Any("fields", fields))
}

// Info logs an info message.
func (l *Logger) Info(message string, fields map[string]any) {
	l.zap.Info(message, zap.Any("fields", fields))
}

// Warn logs a warning message.
func (l *Logger) Warn(message string, fields map[string]any) {
	l.zap.Warn(message, zap.Any("fields", fields))
}

// Error logs an error message.
func (l *Logger) Error(message string, fields map[string]any) {
	l.zap.Error(message, zap.Any("fields", fields))
}

// Sync flushes buffered entries.
func (l *Logger) Sync() {
	_ = l.zap.Sync()
}

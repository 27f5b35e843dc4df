// Package logger wraps zap for the structured, key-value logging style used
// across the outlet presence monitor.
package logger

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger wraps a zap.Logger and offers a loose key-value calling convention
// so call sites don't have to import zap themselves.
type Logger struct {
	*zap.Logger
}

// Config controls log level, encoding, and destination.
type Config struct {
	Level  string
	Format string // "json" or "console"
	Output string // "stdout" or a file path
}

// New builds a Logger from Config, defaulting to info/console/stdout.
func New(cfg Config) (*Logger, error) {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		level = zapcore.InfoLevel
	}

	var zcfg zap.Config
	var enc zapcore.EncoderConfig
	if cfg.Format == "json" {
		zcfg = zap.NewProductionConfig()
		enc = zap.NewProductionEncoderConfig()
		zcfg.Encoding = "json"
	} else {
		zcfg = zap.NewDevelopmentConfig()
		enc = zap.NewDevelopmentEncoderConfig()
		zcfg.Encoding = "console"
	}

	enc.EncodeTime = zapcore.ISO8601TimeEncoder
	enc.EncodeLevel = zapcore.LowercaseLevelEncoder
	enc.EncodeCaller = zapcore.ShortCallerEncoder
	zcfg.EncoderConfig = enc
	zcfg.Level = zap.NewAtomicLevelAt(level)

	if cfg.Output != "" && cfg.Output != "stdout" {
		zcfg.OutputPaths = []string{cfg.Output}
		zcfg.ErrorOutputPaths = []string{cfg.Output}
	}

	z, err := zcfg.Build(zap.AddCaller(), zap.AddStacktrace(zapcore.ErrorLevel))
	if err != nil {
		return nil, err
	}
	return &Logger{z}, nil
}

// Nop returns a logger that discards everything, for tests.
func Nop() *Logger {
	return &Logger{zap.NewNop()}
}

// With returns a child logger carrying the given key-value pairs on every
// subsequent call.
func (l *Logger) With(kv ...interface{}) *Logger {
	return &Logger{l.Logger.With(toFields(kv...)...)}
}

// WithCamera and WithOutlet tag every subsequent log line with the given
// id, so call sites across the capture/recognition/presence pipeline
// don't each have to repeat "camera_id"/"outlet_id" by hand.
func (l *Logger) WithCamera(cameraID string) *Logger { return l.With("camera_id", cameraID) }
func (l *Logger) WithOutlet(outletID string) *Logger { return l.With("outlet_id", outletID) }

func (l *Logger) Debug(msg string, kv ...interface{}) { l.Logger.Debug(msg, toFields(kv...)...) }
func (l *Logger) Info(msg string, kv ...interface{})  { l.Logger.Info(msg, toFields(kv...)...) }
func (l *Logger) Warn(msg string, kv ...interface{})  { l.Logger.Warn(msg, toFields(kv...)...) }
func (l *Logger) Error(msg string, kv ...interface{}) { l.Logger.Error(msg, toFields(kv...)...) }
func (l *Logger) Fatal(msg string, kv ...interface{}) { l.Logger.Fatal(msg, toFields(kv...)...) }

// Sync flushes buffered log entries, ignoring the usual "sync /dev/stdout"
// error on plain terminals.
func (l *Logger) Sync() {
	_ = l.Logger.Sync()
}

func toFields(kv ...interface{}) []zap.Field {
	fields := make([]zap.Field, 0, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		key, ok := kv[i].(string)
		if !ok {
			continue
		}
		fields = append(fields, zap.Any(key, kv[i+1]))
	}
	return fields
}

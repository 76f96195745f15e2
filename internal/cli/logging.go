package cli

import (
	"fmt"
	"io"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// newLogger builds a JSON logger. With a log file configured output goes to
// a lumberjack rotator; otherwise to fallback (stderr for the CLI).
func newLogger(s LogSettings, fallback io.Writer) (*zap.Logger, func(), error) {
	level, err := zapcore.ParseLevel(s.Level)
	if err != nil {
		return nil, nil, fmt.Errorf("log level %q: %w", s.Level, err)
	}

	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.TimeKey = "ts"
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	var (
		sink    zapcore.WriteSyncer
		closeFn = func() {}
	)
	if s.File != "" {
		rotator := &lumberjack.Logger{
			Filename:   s.File,
			MaxSize:    s.MaxSizeMB,
			MaxBackups: s.MaxBackups,
			MaxAge:     s.MaxAgeDays,
			Compress:   s.Compress,
		}
		sink = zapcore.AddSync(rotator)
		closeFn = func() { _ = rotator.Close() }
	} else {
		sink = zapcore.AddSync(fallback)
	}

	core := zapcore.NewCore(zapcore.NewJSONEncoder(encoderConfig), sink, level)
	logger := zap.New(core, zap.AddCaller()).With(zap.String("service", "securyflex-accountguard"))
	return logger, func() {
		_ = logger.Sync()
		closeFn()
	}, nil
}

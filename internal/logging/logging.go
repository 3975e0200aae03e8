// Package logging builds the process logger. Logs go to stderr (or a rotated
// file) so stdout only carries the output envelope.
package logging

import (
	"fmt"
	"io"
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

type Options struct {
	Level  string
	Format string
	// File enables a size-rotated log file instead of stderr.
	File string
	// Stderr overrides the default sink, mostly for tests.
	Stderr io.Writer
}

func Build(opts Options) (*zap.Logger, error) {
	level, err := parseLevel(opts.Level)
	if err != nil {
		return nil, err
	}

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.TimeKey = "ts"
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	var enc zapcore.Encoder
	switch strings.ToLower(strings.TrimSpace(opts.Format)) {
	case "", "json":
		enc = zapcore.NewJSONEncoder(encCfg)
	case "console":
		encCfg.EncodeLevel = zapcore.CapitalLevelEncoder
		enc = zapcore.NewConsoleEncoder(encCfg)
	default:
		return nil, fmt.Errorf("unknown log format %q", opts.Format)
	}

	var sink zapcore.WriteSyncer
	switch {
	case strings.TrimSpace(opts.File) != "":
		sink = zapcore.AddSync(&lumberjack.Logger{
			Filename:   opts.File,
			MaxSize:    20,
			MaxBackups: 3,
			MaxAge:     14,
			Compress:   true,
		})
	case opts.Stderr != nil:
		sink = zapcore.AddSync(opts.Stderr)
	default:
		sink = zapcore.Lock(os.Stderr)
	}

	return zap.New(zapcore.NewCore(enc, sink, level)), nil
}

// OrNop lets components accept a nil logger.
func OrNop(log *zap.Logger) *zap.Logger {
	if log == nil {
		return zap.NewNop()
	}
	return log
}

func parseLevel(raw string) (zapcore.Level, error) {
	if strings.TrimSpace(raw) == "" {
		return zapcore.WarnLevel, nil
	}
	level, err := zapcore.ParseLevel(strings.ToLower(strings.TrimSpace(raw)))
	if err != nil {
		return zapcore.WarnLevel, fmt.Errorf("parse log level: %w", err)
	}
	return level, nil
}

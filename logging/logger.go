// Package logging builds the zap loggers shared by the service, dashboard and
// trainer binaries.
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

type Config struct {
	Level      string `yaml:"level"`
	Format     string `yaml:"format"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
	Compress   bool   `yaml:"compress"`

	// Output replaces stderr for the console core. Tests use it.
	Output io.Writer `yaml:"-"`
}

func DefaultConfig() Config {
	return Config{
		Level:      "info",
		Format:     "console",
		MaxSizeMB:  50,
		MaxBackups: 5,
		MaxAgeDays: 28,
	}
}

// New returns a logger writing to stderr and, when File is set, to a
// size-rotated JSON file.
func New(cfg Config) (*zap.Logger, error) {
	level := zapcore.InfoLevel
	if cfg.Level != "" {
		parsed, err := zapcore.ParseLevel(strings.ToLower(cfg.Level))
		if err != nil {
			return nil, fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
		}
		level = parsed
	}

	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.TimeKey = "ts"
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	var consoleEncoder zapcore.Encoder
	switch strings.ToLower(cfg.Format) {
	case "", "console":
		consoleConfig := encoderConfig
		consoleConfig.EncodeLevel = zapcore.CapitalLevelEncoder
		consoleEncoder = zapcore.NewConsoleEncoder(consoleConfig)
	case "json":
		consoleEncoder = zapcore.NewJSONEncoder(encoderConfig)
	default:
		return nil, fmt.Errorf("invalid log format %q", cfg.Format)
	}

	out := cfg.Output
	if out == nil {
		out = os.Stderr
	}
	cores := []zapcore.Core{
		zapcore.NewCore(consoleEncoder, zapcore.Lock(zapcore.AddSync(out)), level),
	}

	if cfg.File != "" {
		rotator := &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAgeDays,
			Compress:   cfg.Compress,
		}
		cores = append(cores, zapcore.NewCore(zapcore.NewJSONEncoder(encoderConfig), zapcore.AddSync(rotator), level))
	}

	return zap.New(zapcore.NewTee(cores...), zap.AddCaller(), zap.AddStacktrace(zapcore.ErrorLevel)), nil
}

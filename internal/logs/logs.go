// Package logs owns the process-wide zap logger.
package logs

import (
	"strings"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Options configures the logger.  Env "prod" selects JSON output; anything
// else the coloured console encoder.
type Options struct {
	Env     string
	Level   string
	Service string
}

var (
	once     sync.Once
	instance *zap.Logger
)

// Init builds the logger.  Only the first call has an effect.
func Init(opts Options) {
	once.Do(func() {
		instance = build(opts)
	})
}

// L returns the logger, initialising a dev logger on first use.
func L() *zap.Logger {
	Init(Options{Env: "dev", Level: "info"})
	return instance
}

func Named(name string) *zap.Logger { return L().Named(name) }

// Sync flushes buffered entries; call it on the way out of main.
func Sync() error {
	if instance == nil {
		return nil
	}
	return instance.Sync()
}

func build(opts Options) *zap.Logger {
	var cfg zap.Config
	if strings.EqualFold(opts.Env, "prod") || strings.EqualFold(opts.Env, "production") {
		cfg = zap.NewProductionConfig()
		cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	} else {
		cfg = zap.NewDevelopmentConfig()
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		cfg.EncoderConfig.EncodeTime = zapcore.TimeEncoderOfLayout("15:04:05.000")
		cfg.DisableStacktrace = true
	}
	cfg.Level = zap.NewAtomicLevelAt(ParseLevel(opts.Level))
	cfg.EncoderConfig.EncodeCaller = zapcore.ShortCallerEncoder

	l, err := cfg.Build()
	if err != nil {
		l = zap.NewExample()
	}
	if opts.Service != "" {
		l = l.With(zap.String("service", opts.Service))
	}
	return l
}

// ParseLevel maps a level name to zapcore; unknown names mean info.
func ParseLevel(lvl string) zapcore.Level {
	switch strings.ToLower(strings.TrimSpace(lvl)) {
	case "debug":
		return zapcore.DebugLevel
	case "warn", "warning":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

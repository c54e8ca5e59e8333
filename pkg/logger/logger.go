package logger

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/nikmy/remotetx/pkg/environment"
	"github.com/nikmy/remotetx/pkg/errors"
)

type Logger interface {
	With(label string) Logger

	Debugf(format string, args ...any)
	Infof(format string, args ...any)
	Warnf(format string, args ...any)
	Errorf(format string, args ...any)
	Panicf(format string, args ...any)

	Debug(err error)
	Info(err error)
	Warn(err error)
	Error(err error)
	Panic(err error)
}

type Config struct {
	// Level overrides the environment default ("debug", "info", "warn", "error").
	Level string `yaml:"level"`
}

func New(env environment.Env, cfg Config) (Logger, error) {
	var zapCfg zap.Config

	switch env {
	case environment.Production:
		zapCfg = zap.NewProductionConfig()
	default:
		zapCfg = zap.NewDevelopmentConfig()
	}

	if cfg.Level != "" {
		var lvl zapcore.Level
		if err := lvl.UnmarshalText([]byte(cfg.Level)); err != nil {
			return nil, errors.WrapFailf(err, "parse log level %q", cfg.Level)
		}
		zapCfg.Level = zap.NewAtomicLevelAt(lvl)
	}

	logger, err := zapCfg.Build()
	if err != nil {
		return nil, errors.WrapFail(err, "init logger")
	}

	return &wrapper{base: logger.Sugar()}, nil
}

// NewZap wraps an already configured zap logger.
func NewZap(base *zap.Logger) Logger {
	return &wrapper{base: base.Sugar()}
}

type wrapper struct {
	base *zap.SugaredLogger
}

func (w *wrapper) With(label string) Logger {
	return &wrapper{w.base.Named(label)}
}

func (w *wrapper) enabled(lvl zapcore.Level) bool {
	return w.base.Desugar().Core().Enabled(lvl)
}

func (w *wrapper) Debug(err error) {
	if err == nil || !w.enabled(zap.DebugLevel) {
		return
	}
	w.base.Debugf("%s", err)
}

func (w *wrapper) Info(err error) {
	if err == nil || !w.enabled(zap.InfoLevel) {
		return
	}
	w.base.Infof("%s", err)
}

func (w *wrapper) Warn(err error) {
	if err == nil || !w.enabled(zap.WarnLevel) {
		return
	}
	w.base.Warnf("%s", err)
	_ = w.base.Sync()
}

func (w *wrapper) Error(err error) {
	if err == nil || !w.enabled(zap.ErrorLevel) {
		return
	}
	w.base.Errorf("%s", err)
	_ = w.base.Sync()
}

func (w *wrapper) Panic(err error) {
	if err == nil {
		return
	}
	_ = w.base.Sync()
	w.base.Panicf("%s", err)
}

func (w *wrapper) Debugf(format string, args ...any) {
	if !w.enabled(zap.DebugLevel) {
		return
	}
	w.base.Debugf(format, args...)
}

func (w *wrapper) Infof(format string, args ...any) {
	if !w.enabled(zap.InfoLevel) {
		return
	}
	w.base.Infof(format, args...)
}

func (w *wrapper) Warnf(format string, args ...any) {
	if !w.enabled(zap.WarnLevel) {
		return
	}
	w.base.Warnf(format, args...)
	_ = w.base.Sync()
}

func (w *wrapper) Errorf(format string, args ...any) {
	if !w.enabled(zap.ErrorLevel) {
		return
	}
	w.base.Errorf(format, args...)
	_ = w.base.Sync()
}

func (w *wrapper) Panicf(format string, args ...any) {
	_ = w.base.Sync()
	w.base.Panicf(format, args...)
}

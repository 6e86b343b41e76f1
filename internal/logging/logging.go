// Package logging constructs the structured logger passed into server and
// client components. It is grounded on teranos-QNTX's logger.Initialize
// (JSON vs. console zap.Config selection) but drops that package's global
// Logger variable in favor of constructor injection, matching how
// teranos-QNTX/server wires *zap.SugaredLogger through server.New.
package logging

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Format selects the encoder used by New.
type Format string

const (
	FormatConsole Format = "console"
	FormatJSON    Format = "json"
)

// Options configures New.
type Options struct {
	Format Format
	Level  zapcore.Level
	Name   string
}

// New builds a *zap.SugaredLogger for the given options. A zero Options
// value produces a console logger at info level.
func New(opts Options) (*zap.SugaredLogger, error) {
	if opts.Format == "" {
		opts.Format = FormatConsole
	}

	var cfg zap.Config
	if opts.Format == FormatJSON {
		cfg = zap.NewProductionConfig()
	} else {
		cfg = zap.NewDevelopmentConfig()
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}
	cfg.Level = zap.NewAtomicLevelAt(opts.Level)

	base, err := cfg.Build()
	if err != nil {
		return nil, err
	}
	log := base.Sugar()
	if opts.Name != "" {
		log = log.Named(opts.Name)
	}
	return log, nil
}

// Nop returns a logger that discards everything, for tests that need a
// concrete *zap.SugaredLogger but don't care about its output.
func Nop() *zap.SugaredLogger {
	return zap.NewNop().Sugar()
}

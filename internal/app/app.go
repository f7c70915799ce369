// Package app wires the search components together for the command line tools.
package app

import (
	"github.com/konard/BitrotBruteforce/internal/bruteforce"
	"github.com/konard/BitrotBruteforce/internal/config"
	"github.com/konard/BitrotBruteforce/internal/digest"
	"github.com/konard/BitrotBruteforce/internal/gpu"
	"github.com/konard/BitrotBruteforce/internal/logger"
	"github.com/konard/BitrotBruteforce/internal/repair"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Module provides the logger, GPU manager, dispatcher and repairer from a *config.Config.
var Module = fx.Options(
	fx.Provide(
		NewLogger,
		NewManager,
		func() digest.Hasher { return digest.SHA1{} },
		NewDispatcher,
		NewRepairer,
	),
	fx.WithLogger(func(log *zap.Logger) fxevent.Logger {
		l := &fxevent.ZapLogger{Logger: log.Named("fx")}
		l.UseLogLevel(zapcore.DebugLevel)
		return l
	}),
)

// NewLogger builds the root logger from the logger settings.
func NewLogger(cfg *config.Config) (*zap.Logger, error) {
	return logger.New(cfg.Logger.Verbosity, cfg.Logger.Encoding)
}

// NewManager creates the GPU manager for the configured paths.
func NewManager(cfg *config.Config, log *zap.Logger) *gpu.Manager {
	return gpu.NewManager(cfg.GPUOptions(), log)
}

// NewDispatcher creates the dispatcher on top of the manager's backend.
func NewDispatcher(m *gpu.Manager, hasher digest.Hasher, log *zap.Logger) *bruteforce.Dispatcher {
	return bruteforce.NewDispatcher(m, hasher, log)
}

// NewRepairer creates a repairer writing back according to the repair settings.
func NewRepairer(cfg *config.Config, d *bruteforce.Dispatcher, hasher digest.Hasher, log *zap.Logger) *repair.Repairer {
	return repair.NewRepairer(d, hasher, cfg.Repair.Write, log)
}

// Populate builds the components for cfg and stores the requested ones in
// targets, which must be pointers to provided types.
func Populate(cfg *config.Config, targets ...interface{}) error {
	app := fx.New(
		fx.Supply(cfg),
		Module,
		fx.Populate(targets...),
	)
	return app.Err()
}

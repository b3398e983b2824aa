package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/dantte-lp/goldp/internal/config"
	"github.com/dantte-lp/goldp/internal/lde"
)

// startDaemonGoroutines registers the watchdog and SIGHUP reload goroutines.
func startDaemonGoroutines(
	ctx context.Context,
	g *errgroup.Group,
	configPath string,
	logLevel *slog.LevelVar,
	loop *lde.Loop,
	logger *slog.Logger,
) {
	g.Go(func() error {
		return runWatchdog(ctx, logger)
	})

	sigHUP := make(chan os.Signal, 1)
	signal.Notify(sigHUP, syscall.SIGHUP)
	g.Go(func() error {
		defer signal.Stop(sigHUP)
		handleSIGHUP(ctx, sigHUP, configPath, logLevel, loop, logger)
		return nil
	})
}

func handleSIGHUP(
	ctx context.Context,
	sigHUP <-chan os.Signal,
	configPath string,
	logLevel *slog.LevelVar,
	loop *lde.Loop,
	logger *slog.Logger,
) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-sigHUP:
			logger.Info("received SIGHUP, reloading configuration")
			reloadConfig(ctx, configPath, logLevel, loop, logger)
		}
	}
}

// reloadConfig loads a fresh configuration from the given path, updates
// the dynamic log level and applies the settings the engine can change at
// runtime: garbage collection, explicit null per address family and the
// MP2MP join list.
// Errors during reload are logged but do not stop the daemon; the previous
// configuration remains in effect.
//
// Label range, router-id, neighbors and listen addresses need a restart.
func reloadConfig(
	ctx context.Context,
	configPath string,
	logLevel *slog.LevelVar,
	loop *lde.Loop,
	logger *slog.Logger,
) {
	newCfg, err := loadConfig(configPath)
	if err != nil {
		logger.Error("failed to reload configuration, keeping current settings",
			slog.String("error", err.Error()),
		)
		return
	}

	joins, err := newCfg.JoinFECs()
	if err != nil {
		logger.Error("invalid mp2mp join list, keeping current settings",
			slog.String("error", err.Error()),
		)
		return
	}

	oldLevel := logLevel.Level()
	newLevel := config.ParseLogLevel(newCfg.Log.Level)
	logLevel.Set(newLevel)

	logger.Info("configuration reloaded",
		slog.String("old_log_level", oldLevel.String()),
		slog.String("new_log_level", newLevel.String()),
	)

	if err := applyGC(ctx, loop, newCfg.LDP.GCEnabled); err != nil {
		logger.Warn("failed to apply gc setting",
			slog.String("error", err.Error()),
		)
	}

	err = loop.Do(ctx, func(e *lde.Engine) error {
		e.SetExplicitNull(lde.AFIPv4, newCfg.LDP.ExplicitNullIPv4)
		e.SetExplicitNull(lde.AFIPv6, newCfg.LDP.ExplicitNullIPv6)
		reconcileMembers(e, joins, logger)
		return nil
	})
	if err != nil {
		logger.Warn("failed to apply reloaded configuration",
			slog.String("error", err.Error()),
		)
	}
}

// reconcileMembers joins the trees in desired the engine is not a member
// of and leaves the trees no longer listed. It runs on the event loop.
func reconcileMembers(e *lde.Engine, desired []lde.FEC, logger *slog.Logger) {
	want := make(map[lde.FEC]struct{}, len(desired))
	for _, fec := range desired {
		want[fec] = struct{}{}
	}

	current := make(map[lde.FEC]struct{})
	for _, fec := range e.Members() {
		current[fec] = struct{}{}
		if _, ok := want[fec]; ok {
			continue
		}
		if err := e.LeaveMP2MP(fec); err != nil {
			logger.Warn("failed to leave mp2mp tree",
				slog.String("fec", fec.String()),
				slog.String("error", err.Error()),
			)
		}
	}

	for _, fec := range desired {
		if _, ok := current[fec]; ok {
			continue
		}
		if err := e.JoinMP2MP(fec); err != nil {
			logger.Warn("failed to join mp2mp tree",
				slog.String("fec", fec.String()),
				slog.String("error", err.Error()),
			)
		}
	}
}

// applyGC arms or disarms the loop's LIB garbage collection timer.
func applyGC(ctx context.Context, loop *lde.Loop, enabled bool) error {
	if enabled {
		return loop.StartGC(ctx)
	}
	return loop.StopGC(ctx)
}

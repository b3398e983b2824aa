package main

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/encodeous/tint"
	slogmulti "github.com/samber/slog-multi"

	"github.com/dantte-lp/goldp/internal/config"
)

// newLoggerWithLevel creates a structured logger using a shared LevelVar
// for dynamic log level changes via SIGHUP reload. When cfg.File is set,
// records are also written to that file as JSON. The returned function
// closes the file.
func newLoggerWithLevel(cfg config.LogConfig, level *slog.LevelVar) (*slog.Logger, func(), error) {
	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	switch strings.ToLower(cfg.Format) {
	case "text":
		handler = slog.NewTextHandler(os.Stdout, opts)
	case "console":
		handler = tint.NewHandler(os.Stderr, &tint.Options{
			Level:      level,
			TimeFormat: time.TimeOnly,
		})
	default:
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	if cfg.File == "" {
		return slog.New(handler), func() {}, nil
	}

	if err := os.MkdirAll(filepath.Dir(cfg.File), 0o750); err != nil {
		return nil, nil, fmt.Errorf("create log directory: %w", err)
	}
	f, err := os.OpenFile(cfg.File, os.O_WRONLY|os.O_APPEND|os.O_CREATE, 0o640)
	if err != nil {
		return nil, nil, fmt.Errorf("open log file %s: %w", cfg.File, err)
	}

	logger := slog.New(slogmulti.Fanout(handler, slog.NewJSONHandler(f, opts)))
	return logger, func() { _ = f.Close() }, nil
}

func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		cfg, err := config.Load(path)
		if err != nil {
			return nil, fmt.Errorf("load config from %s: %w", path, err)
		}
		return cfg, nil
	}
	return config.DefaultConfig(), nil
}

package app

import (
	"log/slog"
	"os"
)

// NewLogger builds the process logger. JSON output feeds the log pipeline in
// deployed environments; everything else gets the readable text handler.
// Every record carries the service name so keystone lines are filterable in
// shared aggregation.
func NewLogger(cfg *Config) *slog.Logger {
	opts := &slog.HandlerOptions{AddSource: true}
	var handler slog.Handler = slog.NewTextHandler(os.Stdout, opts)
	if cfg != nil && cfg.LogFormat == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}
	logger := slog.New(handler).With(slog.String("service", "keystone"))
	if cfg != nil && cfg.AppEnv != "" {
		logger = logger.With(slog.String("env", cfg.AppEnv))
	}
	return logger
}

package app

import (
	"fmt"
	"strings"
	"time"

	"pushgw/internal/config"
	"pushgw/internal/observability/diag"
	"pushgw/internal/observability/tracing"
	"pushgw/internal/storage"
	logx "pushgw/pkg/logx"
)

func mapLogConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		JSON:    cfg.Logging.JSON,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	}
}

func mapStorageConfig(cfg *config.Config) (storage.Config, bool, error) {
	if cfg == nil || cfg.Storage == nil {
		return storage.Config{}, false, nil
	}
	sc := cfg.Storage
	driver := strings.ToLower(strings.TrimSpace(sc.Driver))
	if driver == "" || driver == "none" {
		return storage.Config{}, false, nil
	}
	path := strings.TrimSpace(sc.Path)
	if path == "" {
		return storage.Config{}, false, fmt.Errorf("storage.path is required when storage.driver=%s", driver)
	}
	switch driver {
	case "file":
		return storage.Config{Driver: "file", Path: path}, true, nil
	case "sqlite", "sqlite3":
		busy, err := config.ParseDurationOrDefault("storage.busy_timeout", sc.BusyTimeout, time.Second)
		if err != nil {
			return storage.Config{}, false, err
		}
		return storage.Config{Driver: "sqlite", Path: path, BusyTimeout: busy}, true, nil
	default:
		return storage.Config{}, false, fmt.Errorf("unknown storage.driver: %s", sc.Driver)
	}
}

func mapDiagConfig(cfg *config.Config) diag.Config {
	return diag.Config{
		Enabled:      cfg.Diag.Enabled,
		Addr:         cfg.DiagAddr(),
		Pprof:        cfg.Diag.Pprof,
		Token:        cfg.Diag.Token,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 60 * time.Second, // pprof profile runs for 30s by default
		IdleTimeout:  60 * time.Second,
	}
}

func mapTracingConfig(cfg *config.Config, version string) tracing.Config {
	return tracing.Config{
		Enabled:     cfg.Tracing.Enabled,
		Endpoint:    cfg.Tracing.Endpoint,
		Insecure:    cfg.Tracing.Insecure,
		ServiceName: cfg.Tracing.ServiceName,
		SampleRatio: cfg.Tracing.SampleRatio,
		Version:     version,
	}
}

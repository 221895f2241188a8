package config

import (
	"os"
	"strconv"
	"time"
)

// FromEnv overlays XS_* environment variables on top of cfg. Unset
// variables leave the corresponding field untouched; malformed values are
// ignored rather than fatal.
func FromEnv(cfg Config) Config {
	if v := os.Getenv("XS_DATA_DIR"); v != "" {
		cfg.DataDir = v
	}
	if n, ok := envInt("XS_COMMAND_QUEUE"); ok {
		cfg.CommandQueue = n
	}
	if n, ok := envInt("XS_READ_BUFFER"); ok {
		cfg.ReadBuffer = n
	}
	if n, ok := envInt("XS_POOL_SIZE"); ok {
		cfg.PoolSize = n
	}
	if v := os.Getenv("XS_FSYNC"); v != "" {
		cfg.Fsync = v
	}
	if d, ok := envDuration("XS_FSYNC_INTERVAL"); ok {
		cfg.FsyncInterval = d
	}
	if d, ok := envDuration("XS_RETENTION_INTERVAL"); ok {
		cfg.RetentionInterval = d
	}
	if v := os.Getenv("XS_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("XS_LOG_FORMAT"); v != "" {
		cfg.Log.Format = v
	}
	if v := os.Getenv("XS_LOG_FILE"); v != "" {
		cfg.Log.File = v
	}
	return cfg
}

func envInt(key string) (int, bool) {
	v := os.Getenv(key)
	if v == "" {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, false
	}
	return n, true
}

func envDuration(key string) (time.Duration, bool) {
	v := os.Getenv(key)
	if v == "" {
		return 0, false
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, false
	}
	return d, true
}

package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	logpkg "github.com/marvin-j97/xs/pkg/log"
)

// Config is the top-level configuration loaded from file/env.
type Config struct {
	// DataDir holds the frame partition, the content store and the
	// gateway socket.
	DataDir string `json:"dataDir" yaml:"dataDir"`
	// CommandQueue is the store's command channel capacity.
	CommandQueue int `json:"commandQueue" yaml:"commandQueue"`
	// ReadBuffer is the per-subscriber frame channel capacity.
	ReadBuffer int `json:"readBuffer" yaml:"readBuffer"`
	// PoolSize is the gateway worker pool size.
	PoolSize int `json:"poolSize" yaml:"poolSize"`
	// Fsync is the write durability mode: always, interval or never.
	Fsync string `json:"fsync" yaml:"fsync"`
	// FsyncInterval applies when Fsync is "interval".
	FsyncInterval time.Duration `json:"fsyncInterval" yaml:"fsyncInterval"`
	// RetentionInterval enables a periodic trim when non-zero.
	RetentionInterval time.Duration `json:"retentionInterval" yaml:"retentionInterval"`
	// Log configures the process logger.
	Log logpkg.Config `json:"log" yaml:"log"`
}

// Default returns built-in defaults.
func Default() Config {
	return Config{
		DataDir:      DefaultDataDir(),
		CommandQueue: 32,
		ReadBuffer:   100,
		PoolSize:     4,
		Fsync:        "always",
		Log: logpkg.Config{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load reads configuration from a YAML or JSON file (by extension) over the
// defaults. If path is empty, returns defaults.
func Load(path string) (Config, error) {
	if path == "" {
		return FromEnv(Default()), nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	cfg := Default()
	switch filepath.Ext(path) {
	case ".json":
		if err := json.Unmarshal(b, &cfg); err != nil {
			return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
		}
	default:
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}
	return FromEnv(cfg), nil
}

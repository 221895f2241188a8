package log

import "fmt"

// Config declaratively describes a logger, typically sourced from the
// process configuration or environment.
type Config struct {
	Level  string `yaml:"level" json:"level"`
	Format string `yaml:"format" json:"format"` // "text" or "json"
	File   string `yaml:"file" json:"file"`     // optional log file, in addition to stderr
}

// ApplyConfig builds a Logger from a Config.
func ApplyConfig(cfg *Config) (Logger, error) {
	level, err := ParseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}

	var formatter Formatter
	switch cfg.Format {
	case "", "text":
		formatter = &TextFormatter{}
	case "json":
		formatter = &JSONFormatter{}
	default:
		return nil, fmt.Errorf("log: unknown format %q", cfg.Format)
	}

	opts := []LoggerOption{WithLevel(level), WithFormatter(formatter), WithOutput(NewConsoleOutput())}
	if cfg.File != "" {
		fo, err := NewFileOutput(cfg.File)
		if err != nil {
			return nil, err
		}
		opts = append(opts, WithOutput(fo))
	}
	return NewLogger(opts...), nil
}

package config

import (
	"os"
	"path/filepath"
)

// DefaultDataDir resolves the data directory for this host. Order:
// $XDG_DATA_HOME, /var/lib, the platform application-data dir, then a
// dotdir in the user's home. Without a home directory it falls back to
// ./data relative to the working directory.
func DefaultDataDir() string {
	if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
		return filepath.Join(xdg, "xs")
	}

	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return "./data"
	}

	candidates := []struct {
		probe string
		dir   string
	}{
		{"/var/lib", "/var/lib/xs"},
		{filepath.Join(home, "Library"), filepath.Join(home, "Library", "Application Support", "xs")},
		{filepath.Join(home, "AppData"), filepath.Join(home, "AppData", "Local", "xs")},
	}
	for _, c := range candidates {
		if isDir(c.probe) {
			return c.dir
		}
	}
	return filepath.Join(home, ".xs")
}

func isDir(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return info.IsDir()
}

package config

import (
	"os"
	"path/filepath"
)

const defaultBaseDir = ".casefinder"

// Paths holds resolved filesystem paths for casefinder data.
type Paths struct {
	Base   string // ~/.casefinder
	Config string // ~/.casefinder/config.yaml
	Logs   string // ~/.casefinder/logs
	Data   string // ~/.casefinder/data
}

// ResolvePaths computes all standard paths from the home directory.
// If CASEFINDER_HOME is set, it overrides the default base directory.
func ResolvePaths() (Paths, error) {
	base := os.Getenv("CASEFINDER_HOME")
	if base == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return Paths{}, err
		}
		base = filepath.Join(home, defaultBaseDir)
	}

	return Paths{
		Base:   base,
		Config: filepath.Join(base, "config.yaml"),
		Logs:   filepath.Join(base, "logs"),
		Data:   filepath.Join(base, "data"),
	}, nil
}

// EnsureDirs creates all standard directories if they don't exist.
func (p Paths) EnsureDirs() error {
	for _, d := range []string{p.Base, p.Logs, p.Data} {
		if err := os.MkdirAll(d, 0o700); err != nil {
			return err
		}
	}
	return nil
}

// DatabasePath returns the configured SQLite path, defaulting to the
// data directory.
func (p Paths) DatabasePath(cfg DatabaseConfig) string {
	if cfg.Path != "" {
		return cfg.Path
	}
	return filepath.Join(p.Data, "casefinder.db")
}

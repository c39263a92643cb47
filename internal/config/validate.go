package config

import (
	"fmt"
	"strings"
)

// ValidationError collects all problems found in a config.
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid config: %s", strings.Join(e.Problems, "; "))
}

var validBinds = []string{"loopback", "lan", "custom"}

var validLogLevels = []string{"silent", "fatal", "error", "warn", "info", "debug", "trace"}

// Validate checks a loaded config for inconsistencies. It returns a
// *ValidationError listing every problem, or nil.
func Validate(cfg Config) error {
	var problems []string

	if cfg.Server.Port < 1 || cfg.Server.Port > 65535 {
		problems = append(problems, fmt.Sprintf("server.port out of range: %d", cfg.Server.Port))
	}
	if !contains(validBinds, cfg.Server.Bind) {
		problems = append(problems, fmt.Sprintf("server.bind must be one of %v, got %q", validBinds, cfg.Server.Bind))
	}
	if cfg.Server.Bind == "custom" && cfg.Server.CustomBindHost == "" {
		problems = append(problems, "server.customBindHost is required when bind is custom")
	}
	if cfg.Server.Bind != "loopback" && cfg.Server.Secret == "" {
		problems = append(problems, "server.secret is required when binding beyond loopback")
	}
	if cfg.Server.TLS.Enabled {
		if cfg.Server.TLS.CertPath == "" || cfg.Server.TLS.KeyPath == "" {
			problems = append(problems, "server.tls requires certPath and keyPath when enabled")
		}
	}

	if cfg.Generator.TimeoutSeconds < 1 {
		problems = append(problems, fmt.Sprintf("generator.timeoutSeconds must be positive, got %d", cfg.Generator.TimeoutSeconds))
	}

	if cfg.Playback.IntervalMs < 1 {
		problems = append(problems, fmt.Sprintf("playback.intervalMs must be positive, got %d", cfg.Playback.IntervalMs))
	}

	if !contains(validLogLevels, cfg.Logging.Level) {
		problems = append(problems, fmt.Sprintf("logging.level must be one of %v, got %q", validLogLevels, cfg.Logging.Level))
	}

	if len(problems) > 0 {
		return &ValidationError{Problems: problems}
	}
	return nil
}

func contains(values []string, v string) bool {
	for _, candidate := range values {
		if candidate == v {
			return true
		}
	}
	return false
}

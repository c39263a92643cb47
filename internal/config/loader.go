package config

import (
	"os"
	"regexp"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// envVarPattern matches ${VAR_NAME} patterns in strings.
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// expandEnvVars replaces ${VAR} patterns with environment variable values.
// Unset variables are left unchanged.
func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		varName := match[2 : len(match)-1]
		if val, ok := os.LookupEnv(varName); ok {
			return val
		}
		return match
	})
}

// expandSensitiveFields processes environment variable references in
// credential fields so keys and secrets can be stored as ${ENV_VAR}.
func expandSensitiveFields(cfg *Config) {
	cfg.Server.Secret = expandEnvVars(cfg.Server.Secret)
	cfg.Generator.APIKey = expandEnvVars(cfg.Generator.APIKey)
	cfg.Generator.CaseAPIKey = expandEnvVars(cfg.Generator.CaseAPIKey)
}

// Load reads the config file, applies environment overrides, and returns
// a merged Config. Missing files produce defaults only.
func Load(path string) (Config, error) {
	cfg := Defaults()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			applyEnvOverrides(&cfg)
			return cfg, nil
		}
		return cfg, err
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, &ConfigError{Message: "failed to parse config: " + err.Error()}
	}

	applyDefaults(&cfg)
	applyEnvOverrides(&cfg)
	expandSensitiveFields(&cfg)
	return cfg, nil
}

// applyDefaults fills zero-value fields with sensible defaults.
func applyDefaults(cfg *Config) {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8791
	}
	if cfg.Server.Bind == "" {
		cfg.Server.Bind = "loopback"
	}
	if cfg.Generator.ChatModel == "" {
		cfg.Generator.ChatModel = "gemini-flash-lite-latest"
	}
	if cfg.Generator.IntroModel == "" {
		cfg.Generator.IntroModel = "gemini-2.5-flash"
	}
	if cfg.Generator.TimeoutSeconds == 0 {
		cfg.Generator.TimeoutSeconds = 60
	}
	if cfg.Playback.IntervalMs == 0 {
		cfg.Playback.IntervalMs = 20
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
}

// applyEnvOverrides reads CASEFINDER_* environment variables and overrides config values.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("CASEFINDER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("CASEFINDER_BIND"); v != "" {
		cfg.Server.Bind = v
	}
	if v := os.Getenv("CASEFINDER_SECRET"); v != "" {
		cfg.Server.Secret = v
	}
	if v := os.Getenv("CASEFINDER_DB_PATH"); v != "" {
		cfg.Database.Path = v
	}
	if v := os.Getenv("CASEFINDER_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = strings.ToLower(v)
	}
	if v := os.Getenv("GEMINI_API_KEY"); v != "" && cfg.Generator.APIKey == "" {
		cfg.Generator.APIKey = v
	}
	if v := os.Getenv("DIFY_API_KEY"); v != "" && cfg.Generator.CaseAPIKey == "" {
		cfg.Generator.CaseAPIKey = v
	}
}

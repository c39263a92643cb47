package config

import "fmt"

// ConfigError represents a configuration error.
type ConfigError struct {
	Message string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config: %s", e.Message)
}

// Defaults returns a Config with sensible defaults applied.
func Defaults() Config {
	return Config{
		Server: ServerConfig{
			Port: 8791,
			Bind: "loopback",
		},
		Generator: GeneratorConfig{
			ChatModel:      "gemini-flash-lite-latest",
			IntroModel:     "gemini-2.5-flash",
			TimeoutSeconds: 60,
		},
		Playback: PlaybackConfig{
			IntervalMs: 20,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

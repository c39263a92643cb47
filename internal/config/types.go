package config

// Config is the root configuration for casefinder.
type Config struct {
	Server    ServerConfig    `yaml:"server,omitempty"`
	Generator GeneratorConfig `yaml:"generator,omitempty"`
	Database  DatabaseConfig  `yaml:"database,omitempty"`
	Playback  PlaybackConfig  `yaml:"playback,omitempty"`
	Logging   LoggingConfig   `yaml:"logging,omitempty"`
}

// ServerConfig controls the HTTP/WebSocket server.
type ServerConfig struct {
	Port           int        `yaml:"port,omitempty"`
	Bind           string     `yaml:"bind,omitempty"` // "loopback" | "lan" | "custom"
	CustomBindHost string     `yaml:"customBindHost,omitempty"`
	Secret         string     `yaml:"secret,omitempty"` // HMAC secret for conversation access tokens
	AllowedOrigins []string   `yaml:"allowedOrigins,omitempty"`
	TLS            ServerTLS  `yaml:"tls,omitempty"`
}

// ServerTLS configures TLS for the server.
type ServerTLS struct {
	Enabled  bool   `yaml:"enabled,omitempty"`
	CertPath string `yaml:"certPath,omitempty"`
	KeyPath  string `yaml:"keyPath,omitempty"`
}

// GeneratorConfig selects the hosted generation API endpoints and models.
type GeneratorConfig struct {
	APIKey         string `yaml:"apiKey,omitempty"`
	ChatModel      string `yaml:"chatModel,omitempty"`
	IntroModel     string `yaml:"introModel,omitempty"`
	ChatEndpoint   string `yaml:"chatEndpoint,omitempty"`
	CaseAPIKey     string `yaml:"caseApiKey,omitempty"`
	CaseEndpoint   string `yaml:"caseEndpoint,omitempty"`
	TimeoutSeconds int    `yaml:"timeoutSeconds,omitempty"`
}

// DatabaseConfig locates the SQLite store.
type DatabaseConfig struct {
	Path string `yaml:"path,omitempty"`
}

// PlaybackConfig tunes the character-reveal cadence.
type PlaybackConfig struct {
	IntervalMs int `yaml:"intervalMs,omitempty"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	Level string `yaml:"level,omitempty"` // "silent" | "fatal" | "error" | "warn" | "info" | "debug" | "trace"
	File  string `yaml:"file,omitempty"`
}

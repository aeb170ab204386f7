package config

// Config represents the core enrichd configuration
type Config struct {
	Database DatabaseConfig `mapstructure:"database"`
	Server   ServerConfig   `mapstructure:"server"`
	Worker   WorkerConfig   `mapstructure:"worker"`
	Provider ProviderConfig `mapstructure:"provider"`
	Token    TokenConfig    `mapstructure:"token"`
}

// DatabaseConfig configures the SQLite database
type DatabaseConfig struct {
	Path string `mapstructure:"path"`
}

// ServerConfig configures the enrichd HTTP/WebSocket server
type ServerConfig struct {
	Port           int      `mapstructure:"port"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
	LogJSON        bool     `mapstructure:"log_json"`
}

// WorkerConfig configures the background job worker pool
type WorkerConfig struct {
	Workers             int `mapstructure:"workers"`              // Number of concurrent job workers (default: 1)
	PollIntervalSeconds int `mapstructure:"poll_interval_seconds"` // How often to check for pending jobs (default: 2)
}

// ProviderConfig configures the outbound mail-provider API
type ProviderConfig struct {
	BaseURL           string `mapstructure:"base_url"`
	TokenURL          string `mapstructure:"token_url"`
	ClientID          string `mapstructure:"client_id"`
	ClientSecret      string `mapstructure:"client_secret"`
	RequestsPerMinute int    `mapstructure:"requests_per_minute"` // Outbound rate limit (default: 60)
	TimeoutSeconds    int    `mapstructure:"timeout_seconds"`     // Per-request timeout (default: 30)
}

// TokenConfig configures access-token lifecycle handling
type TokenConfig struct {
	// ExpirySkewSeconds refreshes tokens this many seconds before their
	// nominal expiry so in-flight requests never carry a token that
	// expires mid-call.
	ExpirySkewSeconds int `mapstructure:"expiry_skew_seconds"`
}

// Default values applied by SetDefaults.
const (
	DefaultServerPort        = 8710
	DefaultWorkers           = 1
	DefaultPollIntervalSecs  = 2
	DefaultRequestsPerMinute = 60
	DefaultTimeoutSecs       = 30
	DefaultExpirySkewSecs    = 30
	DefaultDatabasePath      = "enrichd.db"
)

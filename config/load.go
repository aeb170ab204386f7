package config

import (
	"strings"

	"github.com/spf13/viper"

	"github.com/outfield/enrichd/errors"
)

var globalConfig *Config
var viperInstance *viper.Viper

// Load reads the enrichd configuration using Viper
func Load() (*Config, error) {
	if globalConfig != nil {
		return globalConfig, nil
	}

	v := initViper()

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal config")
	}

	globalConfig = &config
	return globalConfig, nil
}

// LoadFromFile loads configuration from a specific file path
func LoadFromFile(configPath string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(configPath)
	v.SetConfigType("toml")
	SetDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, errors.Wrapf(err, "failed to read config file %s", configPath)
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, errors.Wrapf(err, "failed to unmarshal config from %s", configPath)
	}

	return &config, nil
}

// Reset clears the cached configuration (useful for testing)
func Reset() {
	globalConfig = nil
	viperInstance = nil
}

// initViper initializes Viper with configuration sources and defaults
func initViper() *viper.Viper {
	if viperInstance != nil {
		return viperInstance
	}

	v := viper.New()

	v.SetEnvPrefix("ENRICHD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	SetDefaults(v)

	// Optional config file in the working directory or /etc/enrichd
	v.SetConfigName("enrichd")
	v.SetConfigType("toml")
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/enrichd")
	// Missing file is fine; env vars and defaults still apply
	_ = v.ReadInConfig()

	viperInstance = v
	return v
}

// SetDefaults applies default values to a Viper instance
func SetDefaults(v *viper.Viper) {
	v.SetDefault("database.path", DefaultDatabasePath)
	v.SetDefault("server.port", DefaultServerPort)
	v.SetDefault("server.allowed_origins", []string{})
	v.SetDefault("server.log_json", false)
	v.SetDefault("worker.workers", DefaultWorkers)
	v.SetDefault("worker.poll_interval_seconds", DefaultPollIntervalSecs)
	v.SetDefault("provider.requests_per_minute", DefaultRequestsPerMinute)
	v.SetDefault("provider.timeout_seconds", DefaultTimeoutSecs)
	v.SetDefault("token.expiry_skew_seconds", DefaultExpirySkewSecs)
}

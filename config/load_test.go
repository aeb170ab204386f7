package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	Reset()
	t.Cleanup(Reset)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, DefaultDatabasePath, cfg.Database.Path)
	assert.Equal(t, DefaultServerPort, cfg.Server.Port)
	assert.Empty(t, cfg.Server.AllowedOrigins)
	assert.False(t, cfg.Server.LogJSON)
	assert.Equal(t, DefaultWorkers, cfg.Worker.Workers)
	assert.Equal(t, DefaultPollIntervalSecs, cfg.Worker.PollIntervalSeconds)
	assert.Equal(t, DefaultRequestsPerMinute, cfg.Provider.RequestsPerMinute)
	assert.Equal(t, DefaultTimeoutSecs, cfg.Provider.TimeoutSeconds)
	assert.Equal(t, DefaultExpirySkewSecs, cfg.Token.ExpirySkewSeconds)
}

func TestLoadCachesConfig(t *testing.T) {
	Reset()
	t.Cleanup(Reset)

	first, err := Load()
	require.NoError(t, err)
	second, err := Load()
	require.NoError(t, err)

	assert.Same(t, first, second)
}

func TestLoadEnvOverride(t *testing.T) {
	Reset()
	t.Cleanup(Reset)

	t.Setenv("ENRICHD_SERVER_PORT", "9001")
	t.Setenv("ENRICHD_DATABASE_PATH", "/tmp/override.db")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 9001, cfg.Server.Port)
	assert.Equal(t, "/tmp/override.db", cfg.Database.Path)
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "enrichd.toml")

	content := `
[database]
path = "/var/lib/enrichd/jobs.db"

[server]
port = 9500
allowed_origins = ["https://app.example.com"]
log_json = true

[worker]
workers = 4
poll_interval_seconds = 1

[provider]
base_url = "https://api.mailprovider.example"
token_url = "https://auth.mailprovider.example/oauth/token"
client_id = "enrichd-client"
client_secret = "hunter2"
requests_per_minute = 120

[token]
expiry_skew_seconds = 60
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	cfg, err := LoadFromFile(path)
	require.NoError(t, err)

	assert.Equal(t, "/var/lib/enrichd/jobs.db", cfg.Database.Path)
	assert.Equal(t, 9500, cfg.Server.Port)
	assert.Equal(t, []string{"https://app.example.com"}, cfg.Server.AllowedOrigins)
	assert.True(t, cfg.Server.LogJSON)
	assert.Equal(t, 4, cfg.Worker.Workers)
	assert.Equal(t, 1, cfg.Worker.PollIntervalSeconds)
	assert.Equal(t, "https://api.mailprovider.example", cfg.Provider.BaseURL)
	assert.Equal(t, "enrichd-client", cfg.Provider.ClientID)
	assert.Equal(t, 120, cfg.Provider.RequestsPerMinute)
	assert.Equal(t, 60, cfg.Token.ExpirySkewSeconds)

	// Values absent from the file keep their defaults.
	assert.Equal(t, DefaultTimeoutSecs, cfg.Provider.TimeoutSeconds)
}

func TestLoadFromFileMissing(t *testing.T) {
	_, err := LoadFromFile(filepath.Join(t.TempDir(), "nope.toml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read config file")
}

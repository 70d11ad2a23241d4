package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "certis.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadDefaults(t *testing.T) {
	path := writeConfig(t, "site:\n  base_url: https://certis.example\n")

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "https://certis.example", cfg.Site.BaseURL)
	require.Equal(t, 12, cfg.Site.ProductsPerPage)
	require.Equal(t, StrategyHTTP, cfg.Site.Strategy)
	require.Equal(t, 10, cfg.Crawler.BatchSize)
	require.Equal(t, 5, cfg.Concurrency.Initial)
	require.Equal(t, 1, cfg.Concurrency.Min)
	require.True(t, cfg.Concurrency.Adaptive)
	require.Equal(t, SnapshotNone, cfg.Snapshot.Backend)
}

func TestLoadOverrides(t *testing.T) {
	path := writeConfig(t, `
site:
  base_url: https://certis.example
  strategy: browser
crawler:
  batch_size: 4
  batch_delay: 500ms
concurrency:
  initial: 8
  min: 2
  max: 12
snapshot:
  backend: local
  local_dir: /tmp/snapshots
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, StrategyBrowser, cfg.Site.Strategy)
	require.Equal(t, 4, cfg.Crawler.BatchSize)
	require.Equal(t, 8, cfg.Concurrency.Initial)
	require.Equal(t, SnapshotLocal, cfg.Snapshot.Backend)
}

func TestEnvOverride(t *testing.T) {
	t.Setenv("CERTIS_SITE_BASE_URL", "https://env.example")

	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, "https://env.example", cfg.Site.BaseURL)
}

func TestValidate(t *testing.T) {
	base := func() Config {
		cfg, err := Load(writeConfig(t, "site:\n  base_url: https://certis.example\n"))
		require.NoError(t, err)
		return cfg
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:    "missing base url",
			mutate:  func(c *Config) { c.Site.BaseURL = "" },
			wantErr: "site.base_url",
		},
		{
			name:    "unknown strategy",
			mutate:  func(c *Config) { c.Site.Strategy = "carrier-pigeon" },
			wantErr: "site.strategy",
		},
		{
			name:    "initial below min",
			mutate:  func(c *Config) { c.Concurrency.Initial = 1; c.Concurrency.Min = 3 },
			wantErr: "concurrency.initial",
		},
		{
			name:    "initial above max",
			mutate:  func(c *Config) { c.Concurrency.Initial = 20 },
			wantErr: "concurrency.initial",
		},
		{
			name:    "gcs backend needs bucket",
			mutate:  func(c *Config) { c.Snapshot.Backend = SnapshotGCS },
			wantErr: "snapshot.gcs_bucket",
		},
		{
			name:    "server port",
			mutate:  func(c *Config) { c.Server.Enabled = true; c.Server.Port = 0 },
			wantErr: "server.port",
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := base()
			tc.mutate(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			require.Contains(t, err.Error(), tc.wantErr)
		})
	}
}

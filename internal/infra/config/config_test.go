package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDefaultConfigIsValid(t *testing.T) {
	require.NoError(t, defaultConfig().Validate())
}

func TestLoadMergesFileAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
http:
  address: ":9090"
clustering:
  threshold: 0.85
  index: lsh
batch:
  itemTimeout: 40s
faq:
  minQuestionCount: 3
`), 0o600))
	t.Setenv("CONFIG_PATH", path)
	t.Setenv("BATCH_SIZE", "10")
	t.Setenv("HTTP_ALLOWED_ORIGINS", "https://a.example, https://b.example")

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, ":9090", cfg.HTTP.Address)
	require.InDelta(t, 0.85, cfg.Clustering.Threshold, 1e-9)
	require.Equal(t, "lsh", cfg.Clustering.Index)
	require.Equal(t, 40*time.Second, cfg.Batch.ItemTimeout)
	require.Equal(t, 3, cfg.FAQ.MinQuestionCount)
	require.Equal(t, 10, cfg.Batch.BatchSize)
	require.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.HTTP.AllowedOrigins)
	require.Equal(t, 25, cfg.Batch.MaxTotalErrors, "untouched defaults survive")
}

func TestValidateRejects(t *testing.T) {
	cases := map[string]func(c *Config){
		"unknown provider":      func(c *Config) { c.LLM.Provider = "other" },
		"openai without key":    func(c *Config) { c.LLM.Provider = "openai" },
		"anthropic without key": func(c *Config) { c.LLM.Provider = "anthropic" },
		"threshold too high":    func(c *Config) { c.Clustering.Threshold = 1.5 },
		"bad index":             func(c *Config) { c.Clustering.Index = "tree" },
		"ratios inverted":       func(c *Config) { c.Batch.CriticalRatio = 0.5 },
		"valkey queue":          func(c *Config) { c.Queue.Backend = "valkey" },
		"storage no bucket":     func(c *Config) { c.Storage.Enabled = true; c.Storage.Endpoint = "https://r2" },
		"zero min count":        func(c *Config) { c.FAQ.MinQuestionCount = 0 },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := defaultConfig()
			mutate(cfg)
			require.Error(t, cfg.Validate())
		})
	}
}

func TestLoadRejectsBrokenFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("http: [oops"), 0o600))
	t.Setenv("CONFIG_PATH", path)

	_, err := Load()
	require.ErrorContains(t, err, "parse config file")
}

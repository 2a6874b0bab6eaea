package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name, body string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(p, []byte(body), 0o600))
	return p
}

func TestLoadDefaults(t *testing.T) {
	cfg, _, err := Load(LoadOptions{})
	require.NoError(t, err)
	require.Equal(t, Default(), *cfg)
}

func TestLoadFileAndEnv(t *testing.T) {
	dir := t.TempDir()
	file := writeFile(t, dir, "fieldsync.yaml", `
api:
  base_url: https://field.example.org
sync:
  interval: 45s
stats:
  forms_per_visit: 5
`)
	t.Setenv("FIELDSYNC_SYNC_ENABLED", "false")
	t.Setenv("FIELDSYNC_AUTH_USER_ID", "izu-7")

	cfg, _, err := Load(LoadOptions{File: file})
	require.NoError(t, err)
	require.Equal(t, "https://field.example.org", cfg.API.BaseURL)
	require.Equal(t, 45*time.Second, cfg.Sync.Interval)
	require.False(t, cfg.Sync.Enabled)
	require.Equal(t, "izu-7", cfg.Auth.UserID)
	require.Equal(t, 5, cfg.Stats.FormsPerVisit)
	require.Equal(t, 16, cfg.Stats.ModulesPerFamily)
}

func TestLoadEnvFile(t *testing.T) {
	dir := t.TempDir()
	env := writeFile(t, dir, ".env", "FIELDSYNC_LOG_LEVEL=debug\n")
	t.Cleanup(func() { _ = os.Unsetenv("FIELDSYNC_LOG_LEVEL") })

	cfg, _, err := Load(LoadOptions{EnvFile: env})
	require.NoError(t, err)
	require.Equal(t, "debug", cfg.Log.Level)
}

func TestValidationErrors(t *testing.T) {
	dir := t.TempDir()
	file := writeFile(t, dir, "bad.yaml", `
api:
  base_url: not a url
drafts:
  retention_days: 0
`)
	_, _, err := Load(LoadOptions{File: file})
	require.Error(t, err)
	require.Contains(t, err.Error(), "BaseURL")
	require.Contains(t, err.Error(), "RetentionDays")
}

func TestWatchReloadsOnWrite(t *testing.T) {
	dir := t.TempDir()
	file := writeFile(t, dir, "fieldsync.yaml", "sync:\n  interval: 30s\n")
	_, v, err := Load(LoadOptions{File: file})
	require.NoError(t, err)

	got := make(chan *Config, 4)
	Watch(v, nil, func(c *Config) { got <- c })

	require.NoError(t, os.WriteFile(file, []byte("sync:\n  interval: 10s\n  enabled: false\n"), 0o600))

	deadline := time.After(5 * time.Second)
	for {
		select {
		case c := <-got:
			// Editors and os.WriteFile may produce several events; wait for
			// the one carrying the new content.
			if c.Sync.Interval != 10*time.Second {
				continue
			}
			require.False(t, c.Sync.Enabled)
			return
		case <-deadline:
			t.Fatal("config change not observed")
		}
	}
}

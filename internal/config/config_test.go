package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv(EnvPrefix+"_CONFIG", "")
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:0", cfg.Engine.Addr)
	assert.Equal(t, 30*time.Second, cfg.Engine.StartupTimeout)
	assert.Equal(t, 2*time.Second, cfg.Shell.BackTimeout)
	assert.Equal(t, "vault", cfg.Transfer.ExportLabel)
	assert.Equal(t, filepath.Join(cfg.Data.FilesDir, "vault"), cfg.DataDir())
}

func TestLoad_FileAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := []byte(`
data:
  files_dir: /srv/files
  cache_dir: /srv/cache
engine:
  startup_timeout: 5s
transfer:
  export_label: passwords
`)
	require.NoError(t, os.WriteFile(path, content, 0o600))

	t.Setenv(EnvPrefix+"_CONFIG", path)
	t.Setenv(EnvPrefix+"_LOG_LEVEL", "debug")
	t.Setenv(EnvPrefix+"_SHELL_BACK_TIMEOUT", "750ms")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "/srv/files", cfg.Data.FilesDir)
	assert.Equal(t, "/srv/cache", cfg.Data.CacheDir)
	assert.Equal(t, "/srv/files/vault", cfg.DataDir())
	assert.Equal(t, 5*time.Second, cfg.Engine.StartupTimeout)
	assert.Equal(t, 750*time.Millisecond, cfg.Shell.BackTimeout)
	assert.Equal(t, "passwords", cfg.Transfer.ExportLabel)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestValidate(t *testing.T) {
	valid := Config{
		Data:     DataConfig{FilesDir: "/a", CacheDir: "/b"},
		Engine:   EngineConfig{Addr: "127.0.0.1:0", StartupTimeout: time.Second},
		Shell:    ShellConfig{BackTimeout: time.Second},
		Transfer: TransferConfig{ExportLabel: "vault"},
	}
	require.NoError(t, valid.Validate())

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"missing files dir", func(c *Config) { c.Data.FilesDir = "" }},
		{"missing cache dir", func(c *Config) { c.Data.CacheDir = "" }},
		{"missing engine addr", func(c *Config) { c.Engine.Addr = "" }},
		{"zero startup timeout", func(c *Config) { c.Engine.StartupTimeout = 0 }},
		{"negative back timeout", func(c *Config) { c.Shell.BackTimeout = -time.Second }},
		{"label with separator", func(c *Config) { c.Transfer.ExportLabel = "../x" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := valid
			tt.mutate(&c)
			assert.Error(t, c.Validate())
		})
	}
}

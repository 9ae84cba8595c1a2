// Package config loads vaultshell settings from defaults, an optional config
// file and VAULTSHELL_* environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix is the prefix of environment overrides, e.g. VAULTSHELL_LOG_LEVEL.
const EnvPrefix = "VAULTSHELL"

// Config holds application configuration.
type Config struct {
	Data     DataConfig     `mapstructure:"data"`
	Engine   EngineConfig   `mapstructure:"engine"`
	Shell    ShellConfig    `mapstructure:"shell"`
	Transfer TransferConfig `mapstructure:"transfer"`
	Log      LogConfig      `mapstructure:"log"`
}

// DataConfig holds the host's private storage locations.
type DataConfig struct {
	FilesDir string `mapstructure:"files_dir"`
	CacheDir string `mapstructure:"cache_dir"`
}

// EngineConfig holds settings of the embedded engine.
type EngineConfig struct {
	Addr           string        `mapstructure:"addr"`
	StartupTimeout time.Duration `mapstructure:"startup_timeout"`
}

// ShellConfig holds settings of the interactive shell.
type ShellConfig struct {
	BridgeAddr  string        `mapstructure:"bridge_addr"`
	BackTimeout time.Duration `mapstructure:"back_timeout"`
	OpenBrowser bool          `mapstructure:"open_browser"`
}

// TransferConfig holds import/export settings.
type TransferConfig struct {
	ExportLabel string `mapstructure:"export_label"`
}

// LogConfig holds logger settings.
type LogConfig struct {
	Level string `mapstructure:"level"`
}

// DataDir is the engine data directory, a fixed subpath of the files dir.
func (c Config) DataDir() string {
	return filepath.Join(c.Data.FilesDir, "vault")
}

// Validate checks that the loaded configuration is usable.
func (c Config) Validate() error {
	var errs []error
	if c.Data.FilesDir == "" {
		errs = append(errs, errors.New("data.files_dir is required"))
	}
	if c.Data.CacheDir == "" {
		errs = append(errs, errors.New("data.cache_dir is required"))
	}
	if c.Engine.Addr == "" {
		errs = append(errs, errors.New("engine.addr is required"))
	}
	if c.Engine.StartupTimeout <= 0 {
		errs = append(errs, fmt.Errorf("engine.startup_timeout must be positive, got %s", c.Engine.StartupTimeout))
	}
	if c.Shell.BackTimeout <= 0 {
		errs = append(errs, fmt.Errorf("shell.back_timeout must be positive, got %s", c.Shell.BackTimeout))
	}
	if strings.ContainsAny(c.Transfer.ExportLabel, `/\`) {
		errs = append(errs, fmt.Errorf("transfer.export_label must not contain path separators: %q", c.Transfer.ExportLabel))
	}
	return errors.Join(errs...)
}

// Load reads configuration from file and env. An explicit file may be named
// with VAULTSHELL_CONFIG; otherwise config.yaml is looked up in the user
// config directory and ignored when absent.
func Load() (Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigType("yaml")
	if cfgPath := os.Getenv(EnvPrefix + "_CONFIG"); cfgPath != "" {
		v.SetConfigFile(cfgPath)
	} else {
		if dir, err := os.UserConfigDir(); err == nil {
			v.AddConfigPath(filepath.Join(dir, "vaultshell"))
		}
		v.SetConfigName("config")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := c.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid config: %w", err)
	}
	return c, nil
}

func setDefaults(v *viper.Viper) {
	filesDir := filepath.Join(os.TempDir(), "vaultshell")
	if dir, err := os.UserHomeDir(); err == nil {
		filesDir = filepath.Join(dir, ".local", "share", "vaultshell")
	}
	cacheDir := filepath.Join(os.TempDir(), "vaultshell-cache")
	if dir, err := os.UserCacheDir(); err == nil {
		cacheDir = filepath.Join(dir, "vaultshell")
	}

	v.SetDefault("data.files_dir", filesDir)
	v.SetDefault("data.cache_dir", cacheDir)
	v.SetDefault("engine.addr", "127.0.0.1:0")
	v.SetDefault("engine.startup_timeout", 30*time.Second)
	v.SetDefault("shell.bridge_addr", "127.0.0.1:0")
	v.SetDefault("shell.back_timeout", 2*time.Second)
	v.SetDefault("shell.open_browser", true)
	v.SetDefault("transfer.export_label", "vault")
	v.SetDefault("log.level", "info")
}

package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// Config is the application configuration.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Log      LogConfig      `mapstructure:"log"`
	DataDir  string         `mapstructure:"data_dir"`
}

// ServerConfig configures the listening proxy.
type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
}

// DatabaseConfig selects the durable store backend.
type DatabaseConfig struct {
	Type string `mapstructure:"type"` // sqlite, postgres
	DSN  string `mapstructure:"dsn"`
}

// LogConfig configures operator console output.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // json, console
}

// Load reads configuration in layers: defaults, then
// ~/.sentinel/config.yaml, then SENTINEL_* environment variables
// (SENTINEL_DATA_DIR relocates the data directory).
func Load() (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(filepath.Join(homeDir(), ".sentinel"))
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	v.SetEnvPrefix("SENTINEL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if cfg.DataDir == "" {
		cfg.DataDir = filepath.Join(homeDir(), ".sentinel")
	}
	if cfg.Database.Type == "sqlite" && cfg.Database.DSN == "" {
		cfg.Database.DSN = filepath.Join(cfg.DataDir, "sentinel.db")
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "127.0.0.1")
	v.SetDefault("server.port", 9000)

	v.SetDefault("database.type", "sqlite")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")

	// AutomaticEnv only consults keys viper already knows about; without
	// this default the SENTINEL_DATA_DIR override never reaches Unmarshal.
	v.SetDefault("data_dir", "")
}

func homeDir() string {
	if home, err := os.UserHomeDir(); err == nil {
		return home
	}
	return "."
}

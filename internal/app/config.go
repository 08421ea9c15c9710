package app

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/corralhq/corral/internal/database"
)

// Config is the full application configuration, loaded from an optional YAML
// file with CORRAL_* environment overrides.
type Config struct {
	Server   ServerConfig    `mapstructure:"server"`
	Database database.Config `mapstructure:"database"`
	Redis    RedisConfig     `mapstructure:"redis"`
	Auth     AuthConfig      `mapstructure:"auth"`
	Schemas  SchemasConfig   `mapstructure:"schemas"`
	Locks    LocksConfig     `mapstructure:"locks"`
}

// ServerConfig holds HTTP server options.
type ServerConfig struct {
	Port     int    `mapstructure:"port"`
	LogLevel string `mapstructure:"log_level"`
}

// RedisConfig holds the cross-process notifier options. An empty Addr
// disables redis and keeps event fan-out in-process.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Channel  string `mapstructure:"channel"`
}

// AuthConfig holds token signing options.
type AuthConfig struct {
	Secret          string        `mapstructure:"secret"`
	Issuer          string        `mapstructure:"issuer"`
	AccessTokenTTL  time.Duration `mapstructure:"access_token_ttl"`
	RefreshTokenTTL time.Duration `mapstructure:"refresh_token_ttl"`
}

// SchemasConfig holds schema bootstrap options.
type SchemasConfig struct {
	Dir string `mapstructure:"dir"`
}

// LocksConfig tunes the lock manager.
type LocksConfig struct {
	LeaseTTL      time.Duration `mapstructure:"lease_ttl"`
	SweepInterval time.Duration `mapstructure:"sweep_interval"`
}

// LoadConfig reads configuration from the given file (optional) and the
// environment.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()

	v.SetDefault("server.port", 8080)
	v.SetDefault("server.log_level", "info")
	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.path", "data/corral.db")
	// Keys without a meaningful default still need to be registered so that
	// environment-only overrides are visible to Unmarshal.
	v.SetDefault("database.dsn", "")
	v.SetDefault("database.host", "")
	v.SetDefault("database.port", 0)
	v.SetDefault("database.user", "")
	v.SetDefault("database.password", "")
	v.SetDefault("database.name", "")
	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.channel", "corral:events")
	v.SetDefault("auth.secret", "")
	v.SetDefault("auth.issuer", "corral")
	v.SetDefault("schemas.dir", "")
	v.SetDefault("auth.access_token_ttl", 15*time.Minute)
	v.SetDefault("auth.refresh_token_ttl", 14*24*time.Hour)
	v.SetDefault("locks.lease_ttl", 10*time.Second)
	v.SetDefault("locks.sweep_interval", 30*time.Second)

	v.SetEnvPrefix("CORRAL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if cfg.Auth.Secret == "" {
		return nil, fmt.Errorf("auth.secret (CORRAL_AUTH_SECRET) must be set")
	}
	return &cfg, nil
}

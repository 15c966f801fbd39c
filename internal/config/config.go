package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures the relay runtime parameters.
type Config struct {
	HTTPAddress         string        `mapstructure:"http_address"`
	LogLevel            string        `mapstructure:"log_level"`
	StaticDir           string        `mapstructure:"static_dir"`
	ShutdownGracePeriod time.Duration `mapstructure:"shutdown_grace_period"`
	Data                DataConfig    `mapstructure:"data"`
	Admin               AdminConfig   `mapstructure:"admin"`
	Auth                AuthConfig    `mapstructure:"auth"`
	Relay               RelayConfig   `mapstructure:"relay"`
}

// DataConfig locates the durable user directory.
type DataConfig struct {
	UsersPath string `mapstructure:"users_path"`
}

// AdminConfig describes the ops endpoint and the admin account.
type AdminConfig struct {
	Address           string        `mapstructure:"address"`
	User              string        `mapstructure:"user"`
	PasswordEnv       string        `mapstructure:"password_env"`
	ReadHeaderTimeout time.Duration `mapstructure:"read_header_timeout"`
}

// AuthConfig describes where session-token material comes from.
type AuthConfig struct {
	JWTSecretEnv string `mapstructure:"jwt_secret_env"`
}

// RelayConfig tunes the delivery engine.
type RelayConfig struct {
	SendBuffer        int `mapstructure:"send_buffer"`
	DefaultTTLSeconds int `mapstructure:"default_ttl_seconds"`
}

const (
	defaultHTTPAddress         = "0.0.0.0:3000"
	defaultAdminAddress        = "127.0.0.1:9090"
	defaultLogLevel            = "info"
	defaultShutdownGracePeriod = 10 * time.Second
	defaultReadHeaderTimeout   = 5 * time.Second
	defaultUsersPath           = "data/users.json"
	defaultStaticDir           = "public"
	defaultAdminUser           = "root"
	defaultAdminPasswordEnv    = "CHATROOM_ADMIN_PASSWORD"
	defaultJWTSecretEnv        = "CHATROOM_JWT_SECRET"
	defaultSendBuffer          = 32
	defaultTTLSeconds          = 30
)

// Load reads configuration from the provided file path (if any) and the
// environment. Environment variables are prefixed with CHATROOM_ and override
// file values.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("CHATROOM")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	v.SetDefault("http_address", defaultHTTPAddress)
	v.SetDefault("log_level", defaultLogLevel)
	v.SetDefault("static_dir", defaultStaticDir)
	v.SetDefault("shutdown_grace_period", defaultShutdownGracePeriod.String())
	v.SetDefault("data.users_path", defaultUsersPath)
	v.SetDefault("admin.address", defaultAdminAddress)
	v.SetDefault("admin.user", defaultAdminUser)
	v.SetDefault("admin.password_env", defaultAdminPasswordEnv)
	v.SetDefault("admin.read_header_timeout", defaultReadHeaderTimeout.String())
	v.SetDefault("auth.jwt_secret_env", defaultJWTSecretEnv)
	v.SetDefault("relay.send_buffer", defaultSendBuffer)
	v.SetDefault("relay.default_ttl_seconds", defaultTTLSeconds)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	// Viper leaves durations as strings; normalize them here.
	for _, d := range []struct {
		key      string
		fallback time.Duration
		dst      *time.Duration
	}{
		{"shutdown_grace_period", defaultShutdownGracePeriod, &cfg.ShutdownGracePeriod},
		{"admin.read_header_timeout", defaultReadHeaderTimeout, &cfg.Admin.ReadHeaderTimeout},
	} {
		if v.IsSet(d.key) {
			dur, err := time.ParseDuration(v.GetString(d.key))
			if err != nil {
				return Config{}, fmt.Errorf("invalid %s: %w", d.key, err)
			}
			*d.dst = dur
		} else {
			*d.dst = d.fallback
		}
	}

	if cfg.HTTPAddress == "" {
		cfg.HTTPAddress = defaultHTTPAddress
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = defaultLogLevel
	}
	if cfg.Data.UsersPath == "" {
		cfg.Data.UsersPath = defaultUsersPath
	}
	if cfg.Admin.User == "" {
		cfg.Admin.User = defaultAdminUser
	}
	if cfg.Admin.PasswordEnv == "" {
		cfg.Admin.PasswordEnv = defaultAdminPasswordEnv
	}
	if cfg.Auth.JWTSecretEnv == "" {
		cfg.Auth.JWTSecretEnv = defaultJWTSecretEnv
	}
	if cfg.Relay.SendBuffer <= 0 {
		cfg.Relay.SendBuffer = defaultSendBuffer
	}
	if cfg.Relay.DefaultTTLSeconds <= 0 {
		cfg.Relay.DefaultTTLSeconds = defaultTTLSeconds
	}

	return cfg, nil
}

// AdminPassword fetches the admin password from the configured environment
// variable.
func (c Config) AdminPassword() (string, error) {
	val := strings.TrimSpace(getenv(c.Admin.PasswordEnv))
	if val == "" {
		return "", fmt.Errorf("admin password env %s is empty", c.Admin.PasswordEnv)
	}
	return val, nil
}

// JWTSecret fetches the session-token secret from the configured environment
// variable.
func (c Config) JWTSecret() (string, error) {
	val := strings.TrimSpace(getenv(c.Auth.JWTSecretEnv))
	if val == "" {
		return "", fmt.Errorf("jwt secret env %s is empty", c.Auth.JWTSecretEnv)
	}
	return val, nil
}

// split out for testing.
var getenv = os.Getenv

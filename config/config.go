// Package config loads the process configuration of the vinylauth server
// from defaults, an optional config file, VINYL_* environment variables and
// command line flags, in increasing order of precedence.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	va "github.com/vascoliveira2511/vinylauth"
	"github.com/vascoliveira2511/vinylauth/discogs"
)

const EnvPrefix = "VINYL"

type ServerConfig struct {
	Addr            string        `mapstructure:"addr"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`  // debug, info, warn, error
	Format string `mapstructure:"format"` // text, json
}

type DatabaseConfig struct {
	Driver string `mapstructure:"driver"` // fs, sqlite, postgres, datastore
	DSN    string `mapstructure:"dsn"`

	// fs driver
	DataDir string `mapstructure:"data_dir"`

	// datastore driver
	Project   string `mapstructure:"project"`
	Namespace string `mapstructure:"namespace"`

	AutoMigrate bool `mapstructure:"auto_migrate"`
}

type RedisConfig struct {
	// Empty Addr selects the in-memory limiter.
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Prefix   string `mapstructure:"prefix"`
}

type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Log      LogConfig      `mapstructure:"log"`
	Database DatabaseConfig `mapstructure:"database"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Discogs  discogs.Config `mapstructure:"discogs"`
	Auth     va.Config      `mapstructure:"auth"`

	// Handshakes selects where Discogs handshake state lives: "cookie"
	// (signed cookies) or "session" (server side scs session).
	Handshakes string `mapstructure:"handshakes"`
}

var drivers = map[string]bool{"fs": true, "sqlite": true, "postgres": true, "datastore": true}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.read_timeout", 10*time.Second)
	v.SetDefault("server.write_timeout", 30*time.Second)
	v.SetDefault("server.idle_timeout", 2*time.Minute)
	v.SetDefault("server.shutdown_timeout", 15*time.Second)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.dsn", "vinyl.db")
	v.SetDefault("database.data_dir", "./data")
	v.SetDefault("database.project", "")
	v.SetDefault("database.namespace", "")
	v.SetDefault("database.auto_migrate", true)

	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.prefix", "")

	v.SetDefault("discogs.consumer_key", "")
	v.SetDefault("discogs.consumer_secret", "")
	v.SetDefault("discogs.callback_url", "http://localhost:8080/api/discogs/callback")
	v.SetDefault("discogs.user_agent", discogs.DefaultUserAgent)
	v.SetDefault("discogs.timeout", 10*time.Second)

	v.SetDefault("handshakes", "cookie")

	auth := va.DefaultConfig()
	v.SetDefault("auth.app_name", auth.AppName)
	v.SetDefault("auth.base_url", "http://localhost:8080")
	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("auth.jwt_issuer", auth.JWTIssuer)
	v.SetDefault("auth.jwt_signing_alg", auth.JWTSigningAlg)
	v.SetDefault("auth.login_token_ttl", auth.LoginTokenTTL)
	v.SetDefault("auth.refresh_token_ttl", auth.RefreshTokenTTL)
	v.SetDefault("auth.refresh_window", auth.RefreshWindow)
	v.SetDefault("auth.session_cookie_name", auth.SessionCookieName)
	v.SetDefault("auth.production", false)
	v.SetDefault("auth.login_url", auth.LoginURL)
	v.SetDefault("auth.callback_url_param", auth.CallbackURLParam)
	v.SetDefault("auth.bcrypt_cost", auth.BcryptCost)
	v.SetDefault("auth.min_password_length", auth.MinPasswordLength)
	v.SetDefault("auth.password_reset_ttl", auth.PasswordResetTTL)
	v.SetDefault("auth.handshake_ttl", auth.HandshakeTTL)
	v.SetDefault("auth.provider_timeout", auth.ProviderTimeout)
	v.SetDefault("auth.link_success_url", auth.LinkSuccessURL)
	v.SetDefault("auth.login_attempts", auth.LoginAttempts)
	v.SetDefault("auth.login_window", auth.LoginWindow)
	v.SetDefault("auth.forgot_attempts", auth.ForgotAttempts)
	v.SetDefault("auth.forgot_window", auth.ForgotWindow)
}

// NewFlagSet declares the command line flags Load understands.
func NewFlagSet(name string) *pflag.FlagSet {
	fs := pflag.NewFlagSet(name, pflag.ContinueOnError)
	fs.StringP("config", "c", "", "path to a config file (yaml, json or toml)")
	fs.String("addr", "", "listen address")
	fs.String("log-level", "", "log level: debug, info, warn, error")
	fs.String("log-format", "", "log format: text or json")
	fs.String("db-driver", "", "user store: fs, sqlite, postgres or datastore")
	fs.String("db-dsn", "", "database DSN")
	fs.String("redis-addr", "", "redis address for shared rate limits")
	fs.Bool("production", false, "set the Secure flag on cookies")
	return fs
}

var flagKeys = map[string]string{
	"addr":       "server.addr",
	"log-level":  "log.level",
	"log-format": "log.format",
	"db-driver":  "database.driver",
	"db-dsn":     "database.dsn",
	"redis-addr": "redis.addr",
	"production": "auth.production",
}

// Load parses args and returns the merged configuration.
func Load(args []string) (*Config, error) {
	fs := NewFlagSet("vinylauth")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	for flag, key := range flagKeys {
		if err := v.BindPFlag(key, fs.Lookup(flag)); err != nil {
			return nil, err
		}
	}

	if path, _ := fs.GetString("config"); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	cfg.Auth.EnsureDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	var errs []error
	if err := c.Auth.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("auth: %w", err))
	}
	if !drivers[c.Database.Driver] {
		errs = append(errs, fmt.Errorf("database: unknown driver %q", c.Database.Driver))
	}
	if c.Database.Driver == "datastore" && c.Database.Project == "" {
		errs = append(errs, errors.New("database: project is required for datastore"))
	}
	switch c.Handshakes {
	case "cookie", "session":
	default:
		errs = append(errs, fmt.Errorf("unknown handshake store %q", c.Handshakes))
	}
	return errors.Join(errs...)
}

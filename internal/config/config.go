// Package config loads and exposes application configuration (TOML).
package config

import (
	"os"
	"time"

	"github.com/BurntSushi/toml"
)

// Default configuration values used when a field is missing in TOML.
const (
	DefaultConfigPath      = "config.toml"
	DefaultHTTPAddr        = ":8080"
	DefaultPGHost          = "127.0.0.1"
	DefaultPGPort          = 5432
	DefaultPGUser          = "postgres"
	DefaultPGDatabase      = "kanal"
	DefaultPGSSLMode       = "disable"
	DefaultGraphAPIBaseURL = "https://graph.facebook.com/v19.0"
	DefaultSendTimeout     = "30s"
	DefaultVerifyToken     = "kanal_verify_token"
)

// Config is the root application configuration loaded from TOML.
type Config struct {
	Log      LogConfig      `toml:"log"`
	Server   ServerConfig   `toml:"server"`
	Postgres PostgresConfig `toml:"postgres"`
	Meta     MetaConfig     `toml:"meta"`
}

// LogConfig holds logging level and format (e.g. level=info, format=text).
type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// ServerConfig holds the HTTP server listen address.
type ServerConfig struct {
	Addr string `toml:"addr"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	Host     string `toml:"host"`
	Port     int    `toml:"port"`
	User     string `toml:"user"`
	Password string `toml:"password"`
	Database string `toml:"database"`
	SSLMode  string `toml:"sslmode"`
}

// MetaConfig holds Meta Graph API credentials and delivery settings shared by
// the WhatsApp and Instagram gateway clients.
type MetaConfig struct {
	BaseURL            string `toml:"base_url"`
	AccessToken        string `toml:"access_token"`
	AppSecret          string `toml:"app_secret"`
	VerifyToken        string `toml:"verify_token"`
	WhatsAppPhoneID    string `toml:"whatsapp_phone_id"`
	InstagramAccountID string `toml:"instagram_account_id"`
	SendTimeout        string `toml:"send_timeout"`
}

// SendTimeoutDuration parses the configured gateway send timeout, falling back
// to the default when unset or malformed.
func (c MetaConfig) SendTimeoutDuration() time.Duration {
	fallback, _ := time.ParseDuration(DefaultSendTimeout)
	if c.SendTimeout == "" {
		return fallback
	}
	d, err := time.ParseDuration(c.SendTimeout)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

// Load reads and parses the TOML config file at path and applies default values for missing fields.
func Load(path string) (Config, error) {
	cfg := Config{
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Server: ServerConfig{
			Addr: DefaultHTTPAddr,
		},
		Postgres: PostgresConfig{
			Host:     DefaultPGHost,
			Port:     DefaultPGPort,
			User:     DefaultPGUser,
			Database: DefaultPGDatabase,
			SSLMode:  DefaultPGSSLMode,
		},
		Meta: MetaConfig{
			BaseURL:     DefaultGraphAPIBaseURL,
			VerifyToken: DefaultVerifyToken,
			SendTimeout: DefaultSendTimeout,
		},
	}

	if path == "" {
		path = DefaultConfigPath
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		// Missing config file is fine: defaults plus environment are enough
		// for local development.
		applyEnv(&cfg)
		return cfg, nil
	}
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return Config{}, err
	}
	applyEnv(&cfg)
	return cfg, nil
}

// applyEnv lets deployment environments override secrets without a config file.
func applyEnv(cfg *Config) {
	if v := os.Getenv("META_ACCESS_TOKEN"); v != "" {
		cfg.Meta.AccessToken = v
	}
	if v := os.Getenv("META_APP_SECRET"); v != "" {
		cfg.Meta.AppSecret = v
	}
	if v := os.Getenv("META_VERIFY_TOKEN"); v != "" {
		cfg.Meta.VerifyToken = v
	}
	if v := os.Getenv("WHATSAPP_PHONE_ID"); v != "" {
		cfg.Meta.WhatsAppPhoneID = v
	}
	if v := os.Getenv("INSTAGRAM_ACCOUNT_ID"); v != "" {
		cfg.Meta.InstagramAccountID = v
	}
	if v := os.Getenv("POSTGRES_PASSWORD"); v != "" {
		cfg.Postgres.Password = v
	}
}

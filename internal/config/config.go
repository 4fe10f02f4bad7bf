// Package config loads gatehouse settings from a YAML file and the environment.
package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/rsclarke/gatehouse/internal/logging"
)

// TLS modes for the public listener.
const (
	TLSModeNone   = "none"
	TLSModeManual = "manual"
	TLSModeACME   = "acme"
)

type Config struct {
	DBPath        string   `yaml:"db_path"`
	PublicAddr    string   `yaml:"public_addr"`
	AdminAddr     string   `yaml:"admin_addr"`
	AdminPassword string   `yaml:"admin_password"`
	CORSOrigins   []string `yaml:"cors_origins"`

	TLS    TLSConfig      `yaml:"tls"`
	Geo    GeoConfig      `yaml:"geo"`
	Notify NotifyConfig   `yaml:"notify"`
	Log    logging.Config `yaml:"log"`
}

type TLSConfig struct {
	Mode      string `yaml:"mode"`
	HTTPSAddr string `yaml:"https_addr"`
	CertFile  string `yaml:"cert_file"`
	KeyFile   string `yaml:"key_file"`
	Domain    string `yaml:"domain"`
	Email     string `yaml:"email"`
	Staging   bool   `yaml:"staging"`
}

type GeoConfig struct {
	Endpoint string        `yaml:"endpoint"`
	Timeout  time.Duration `yaml:"timeout"`
}

type NotifyConfig struct {
	Timeout       time.Duration   `yaml:"timeout"`
	RatePerSecond float64         `yaml:"rate_per_second"`
	Burst         int             `yaml:"burst"`
	Telegram      TelegramConfig  `yaml:"telegram"`
	Webhooks      []WebhookConfig `yaml:"webhooks"`
}

type TelegramConfig struct {
	BotToken string `yaml:"bot_token"`
	ChatID   string `yaml:"chat_id"`
}

// Enabled reports whether both credentials are present.
func (t TelegramConfig) Enabled() bool {
	return t.BotToken != "" && t.ChatID != ""
}

type WebhookConfig struct {
	URL     string            `yaml:"url"`
	Headers map[string]string `yaml:"headers"`
}

func Default() *Config {
	return &Config{
		DBPath:      "gatehouse.db",
		PublicAddr:  ":8080",
		AdminAddr:   ":8081",
		CORSOrigins: []string{"*"},
		TLS: TLSConfig{
			Mode:      TLSModeNone,
			HTTPSAddr: ":8443",
		},
		Geo: GeoConfig{
			Endpoint: "http://ip-api.com/json",
			Timeout:  4 * time.Second,
		},
		Notify: NotifyConfig{
			Timeout:       10 * time.Second,
			RatePerSecond: 1,
			Burst:         5,
		},
		Log: logging.Config{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load builds a Config from defaults, the optional YAML file at path and
// GATEHOUSE_* environment variables, in increasing precedence.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("open config: %w", err)
		}
		defer func() { _ = f.Close() }()

		dec := yaml.NewDecoder(f)
		dec.KnownFields(true)
		if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if err := cfg.applyEnv(os.Getenv); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) applyEnv(getenv func(string) string) error {
	setString := func(key string, dst *string) {
		if v := getenv(key); v != "" {
			*dst = v
		}
	}

	setString("GATEHOUSE_DB", &c.DBPath)
	setString("GATEHOUSE_PUBLIC_ADDR", &c.PublicAddr)
	setString("GATEHOUSE_ADMIN_ADDR", &c.AdminAddr)
	setString("GATEHOUSE_ADMIN_PASSWORD", &c.AdminPassword)
	setString("GATEHOUSE_TLS_MODE", &c.TLS.Mode)
	setString("GATEHOUSE_DOMAIN", &c.TLS.Domain)
	setString("GATEHOUSE_ACME_EMAIL", &c.TLS.Email)
	setString("GATEHOUSE_GEO_ENDPOINT", &c.Geo.Endpoint)
	setString("GATEHOUSE_TELEGRAM_BOT_TOKEN", &c.Notify.Telegram.BotToken)
	setString("GATEHOUSE_TELEGRAM_CHAT_ID", &c.Notify.Telegram.ChatID)
	setString("GATEHOUSE_LOG_LEVEL", &c.Log.Level)
	setString("GATEHOUSE_LOG_FORMAT", &c.Log.Format)
	setString("GATEHOUSE_LOG_FILE", &c.Log.File)

	if v := getenv("GATEHOUSE_CORS_ORIGINS"); v != "" {
		c.CORSOrigins = splitList(v)
	}
	if v := getenv("GATEHOUSE_WEBHOOK_URL"); v != "" {
		c.Notify.Webhooks = append(c.Notify.Webhooks, WebhookConfig{URL: v})
	}
	if v := getenv("GATEHOUSE_GEO_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("GATEHOUSE_GEO_TIMEOUT: %w", err)
		}
		c.Geo.Timeout = d
	}
	if v := getenv("GATEHOUSE_NOTIFY_RATE"); v != "" {
		r, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("GATEHOUSE_NOTIFY_RATE: %w", err)
		}
		c.Notify.RatePerSecond = r
	}
	return nil
}

func splitList(v string) []string {
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// Validate checks the settings that cannot be defaulted.
func (c *Config) Validate() error {
	var errs []error

	if c.DBPath == "" {
		errs = append(errs, errors.New("db_path must be set"))
	}
	if c.PublicAddr == "" {
		errs = append(errs, errors.New("public_addr must be set"))
	}
	if c.AdminAddr == "" {
		errs = append(errs, errors.New("admin_addr must be set"))
	}
	if c.PublicAddr != "" && c.PublicAddr == c.AdminAddr {
		errs = append(errs, errors.New("public_addr and admin_addr must differ"))
	}
	if c.Geo.Timeout < 0 || c.Notify.Timeout < 0 {
		errs = append(errs, errors.New("timeouts must not be negative"))
	}
	if c.Geo.Timeout >= c.Notify.Timeout && c.Notify.Timeout > 0 {
		errs = append(errs, errors.New("geo.timeout must be shorter than notify.timeout"))
	}

	switch c.TLS.Mode {
	case "", TLSModeNone:
	case TLSModeManual:
		if c.TLS.CertFile == "" || c.TLS.KeyFile == "" {
			errs = append(errs, errors.New("tls.cert_file and tls.key_file are required in manual mode"))
		}
	case TLSModeACME:
		if c.TLS.Domain == "" {
			errs = append(errs, errors.New("tls.domain is required in acme mode"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown tls.mode %q", c.TLS.Mode))
	}

	for i, w := range c.Notify.Webhooks {
		if !strings.HasPrefix(w.URL, "http://") && !strings.HasPrefix(w.URL, "https://") {
			errs = append(errs, fmt.Errorf("notify.webhooks[%d].url must be an http(s) URL", i))
		}
	}

	return errors.Join(errs...)
}

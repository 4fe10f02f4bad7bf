// Package logging provides structured logging configuration.
package logging

import (
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Config holds logging configuration options.
type Config struct {
	Level  string `yaml:"level"`  // debug|info|warn|error
	Format string `yaml:"format"` // json|console

	// File, when set, receives a JSON copy of every entry with size based rotation.
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
	Compress   bool   `yaml:"compress"`
}

// New creates a new configured zap logger.
func New(cfg Config) (*zap.Logger, error) {
	level := zapcore.InfoLevel
	if cfg.Level != "" {
		if err := level.Set(strings.ToLower(cfg.Level)); err != nil {
			return nil, err
		}
	}

	format := strings.ToLower(cfg.Format)
	if format == "" {
		format = "json"
	}

	var zcfg zap.Config
	if format == "console" {
		zcfg = zap.NewDevelopmentConfig()
	} else {
		zcfg = zap.NewProductionConfig()
	}

	zcfg.Level = zap.NewAtomicLevelAt(level)
	zcfg.EncoderConfig.TimeKey = "ts"
	zcfg.EncoderConfig.LevelKey = "level"
	zcfg.EncoderConfig.MessageKey = "msg"
	zcfg.EncoderConfig.CallerKey = "caller"
	zcfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	opts := []zap.Option{zap.AddCaller()}
	if cfg.File != "" {
		fileCore := zapcore.NewCore(
			zapcore.NewJSONEncoder(fileEncoderConfig()),
			zapcore.AddSync(&lumberjack.Logger{
				Filename:   cfg.File,
				MaxSize:    cfg.MaxSizeMB,
				MaxBackups: cfg.MaxBackups,
				MaxAge:     cfg.MaxAgeDays,
				Compress:   cfg.Compress,
			}),
			zcfg.Level,
		)
		opts = append(opts, zap.WrapCore(func(c zapcore.Core) zapcore.Core {
			return zapcore.NewTee(c, fileCore)
		}))
	}

	logger, err := zcfg.Build(opts...)
	if err != nil {
		return nil, err
	}

	logger = logger.With(zap.String("service", "gatehouse"))

	return logger, nil
}

func fileEncoderConfig() zapcore.EncoderConfig {
	ec := zap.NewProductionEncoderConfig()
	ec.TimeKey = "ts"
	ec.EncodeTime = zapcore.ISO8601TimeEncoder
	return ec
}

// Sync flushes any buffered log entries.
func Sync(logger *zap.Logger) {
	_ = logger.Sync()
}

// FromEnv creates a Config from environment variables.
func FromEnv() Config {
	return Config{
		Level:  getenv("GATEHOUSE_LOG_LEVEL", "info"),
		Format: getenv("GATEHOUSE_LOG_FORMAT", "json"),
		File:   os.Getenv("GATEHOUSE_LOG_FILE"),
	}
}

func getenv(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

// Addr returns a zap field for a listen address.
func Addr(addr string) zap.Field { return zap.String("addr", addr) }

// Domain returns a zap field for a domain name.
func Domain(domain string) zap.Field { return zap.String("domain", domain) }

// RemoteIP returns a zap field for a remote IP address.
func RemoteIP(ip string) zap.Field { return zap.String("remote_ip", ip) }

// Method returns a zap field for an HTTP method.
func Method(method string) zap.Field { return zap.String("method", method) }

// Path returns a zap field for a URL path.
func Path(path string) zap.Field { return zap.String("path", path) }

// TLSMode returns a zap field for TLS mode.
func TLSMode(mode string) zap.Field { return zap.String("tls_mode", mode) }

// SessionID returns a zap field for a visitor session identity.
func SessionID(id string) zap.Field { return zap.String("session_id", id) }

// VisitorID returns a zap field for a visitor record id.
func VisitorID(id string) zap.Field { return zap.String("visitor_id", id) }

// PageID returns a zap field for a page id.
func PageID(id string) zap.Field { return zap.String("page_id", id) }

// Event returns a zap field for a hub event kind.
func Event(kind string) zap.Field { return zap.String("event", kind) }

// Provider returns a zap field for a notification provider name.
func Provider(name string) zap.Field { return zap.String("provider", name) }

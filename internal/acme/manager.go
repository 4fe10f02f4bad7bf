// Package acme handles automatic TLS certificate management via ACME.
package acme

import (
	"context"
	"crypto/tls"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"

	"github.com/caddyserver/certmagic"
	certmagicsqlite "github.com/rsclarke/certmagic-sqlite"
	"go.uber.org/zap"

	"github.com/rsclarke/gatehouse/internal/logging"
)

var ErrNoDomain = errors.New("acme: domain required")

// Manager obtains and renews the certificate for the public listener using
// HTTP-01 and TLS-ALPN-01 challenges. Certificates live in the gatehouse
// database next to the visitor records.
type Manager struct {
	Domain  string
	Email   string
	Staging bool
	DB      *sql.DB
	Logger  *zap.Logger

	config *certmagic.Config
	issuer *certmagic.ACMEIssuer
}

// SetLogger configures the global certmagic loggers.
// Call this before starting any HTTP servers that handle ACME challenges.
func SetLogger(logger *zap.Logger) {
	if logger == nil {
		logger = zap.NewNop()
	}
	certmagic.Default.Logger = logger
	certmagic.DefaultACME.Logger = logger
}

// NewManager prepares certmagic storage and the ACME issuer. Challenge
// handling is available through HTTPChallengeHandler as soon as it returns.
func NewManager(domain, email string, db *sql.DB, staging bool, logger *zap.Logger) (*Manager, error) {
	if domain == "" {
		return nil, ErrNoDomain
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	SetLogger(logger)

	hostname, _ := os.Hostname()
	storage, err := certmagicsqlite.NewWithDB(db, certmagicsqlite.WithOwnerID(hostname))
	if err != nil {
		return nil, fmt.Errorf("create certmagic storage: %w", err)
	}

	cfg := certmagic.NewDefault()
	cfg.Storage = storage
	cfg.Logger = logger

	issuer := certmagic.NewACMEIssuer(cfg, certmagic.ACMEIssuer{
		CA:     caURL(staging),
		Email:  email,
		Agreed: true,
		Logger: logger,
	})
	cfg.Issuers = []certmagic.Issuer{issuer}

	return &Manager{
		Domain:  domain,
		Email:   email,
		Staging: staging,
		DB:      db,
		Logger:  logger,
		config:  cfg,
		issuer:  issuer,
	}, nil
}

func caURL(staging bool) string {
	if staging {
		return certmagic.LetsEncryptStagingCA
	}
	return certmagic.LetsEncryptProductionCA
}

// HTTPChallengeHandler answers HTTP-01 challenges and passes every other
// request to next. Wrap the plain HTTP public listener with it.
func (m *Manager) HTTPChallengeHandler(next http.Handler) http.Handler {
	return m.issuer.HTTPChallengeHandler(next)
}

// Manage obtains the certificate synchronously and keeps it renewed.
func (m *Manager) Manage(ctx context.Context) error {
	m.Logger.Info("obtaining certificate", logging.Domain(m.Domain), zap.Bool("staging", m.Staging))
	if err := m.config.ManageSync(ctx, []string{m.Domain}); err != nil {
		return fmt.Errorf("manage certificate for %s: %w", m.Domain, err)
	}
	return nil
}

// TLSConfig returns a TLS configuration serving the managed certificate.
func (m *Manager) TLSConfig() *tls.Config {
	tc := m.config.TLSConfig()
	tc.NextProtos = append([]string{"h2", "http/1.1"}, tc.NextProtos...)
	return tc
}

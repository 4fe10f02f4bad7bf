package server

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/rsclarke/gatehouse/internal/logging"
)

type ServerConfig struct {
	Addr              string
	Handler           http.Handler
	TLSConfig         *tls.Config
	Logger            *zap.Logger
	ReadHeaderTimeout time.Duration
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	IdleTimeout       time.Duration
}

func DefaultServerConfig(addr string, handler http.Handler, logger *zap.Logger) ServerConfig {
	return ServerConfig{
		Addr:              addr,
		Handler:           handler,
		Logger:            logger,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       2 * time.Minute,
	}
}

// ManagedServer binds its listener up front so address errors surface from
// Start, then serves in the background until Shutdown.
type ManagedServer struct {
	server   *http.Server
	listener net.Listener
	logger   *zap.Logger
	name     string
	errCh    chan error
}

func NewManagedServer(name string, cfg ServerConfig) *ManagedServer {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	errLog, _ := zap.NewStdLogAt(logger, zapcore.ErrorLevel)

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           cfg.Handler,
		TLSConfig:         cfg.TLSConfig,
		ErrorLog:          errLog,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		ReadTimeout:       cfg.ReadTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
	}

	return &ManagedServer{
		server: srv,
		logger: logger,
		name:   name,
		errCh:  make(chan error, 1),
	}
}

// Start listens on the configured address and serves in a goroutine.
func (m *ManagedServer) Start() error {
	ln, err := net.Listen("tcp", m.server.Addr)
	if err != nil {
		return fmt.Errorf("%s listen on %s: %w", m.name, m.server.Addr, err)
	}
	if m.server.TLSConfig != nil {
		ln = tls.NewListener(ln, m.server.TLSConfig)
	}
	m.listener = ln

	m.logger.Info("listening", zap.String("server", m.name), logging.Addr(ln.Addr().String()),
		zap.Bool("tls", m.server.TLSConfig != nil))

	go func() {
		err := m.server.Serve(ln)
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			m.errCh <- fmt.Errorf("%s: %w", m.name, err)
		}
		close(m.errCh)
	}()
	return nil
}

// Addr returns the bound address, useful when listening on port 0.
func (m *ManagedServer) Addr() string {
	if m.listener == nil {
		return m.server.Addr
	}
	return m.listener.Addr().String()
}

// Err delivers a serve failure and is closed once the server stops.
func (m *ManagedServer) Err() <-chan error {
	return m.errCh
}

func (m *ManagedServer) Shutdown(ctx context.Context) {
	if m.listener == nil {
		return
	}
	if err := m.server.Shutdown(ctx); err != nil {
		m.logger.Warn("shutdown error", zap.String("server", m.name), zap.Error(err))
	}
}

package main

import (
	"context"
	"crypto/tls"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/rsclarke/gatehouse/internal/acme"
	"github.com/rsclarke/gatehouse/internal/auth"
	"github.com/rsclarke/gatehouse/internal/config"
	"github.com/rsclarke/gatehouse/internal/db"
	"github.com/rsclarke/gatehouse/internal/decision"
	"github.com/rsclarke/gatehouse/internal/geo"
	"github.com/rsclarke/gatehouse/internal/hub"
	"github.com/rsclarke/gatehouse/internal/logging"
	"github.com/rsclarke/gatehouse/internal/notify"
	"github.com/rsclarke/gatehouse/internal/server"
	"github.com/rsclarke/gatehouse/internal/token"
)

const shutdownTimeout = 30 * time.Second

var serverFlags struct {
	configPath string
	dbPath     string
	publicAddr string
	adminAddr  string
	tlsMode    string
	tlsCert    string
	tlsKey     string
	domain     string
	acmeEmail  string
	staging    bool
}

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Start the public and admin listeners",
	Long: `Start the gatehouse server.

The public listener serves the visitor beacon, status polling and the
visitor channel. The admin listener serves the operator API and the admin
channel, authenticated by the admin password.

TLS Modes (public listener):
  none    → plain HTTP only
  manual  → HTTPS with --tls-cert and --tls-key
  acme    → HTTPS with certificates from Let's Encrypt for --domain.
            The plain HTTP listener must be reachable on port 80 for
            HTTP-01 challenges.

When no admin password is configured one is generated and printed once.`,
	RunE: runServer,
}

func init() {
	rootCmd.AddCommand(serverCmd)

	f := serverCmd.Flags()
	f.StringVar(&serverFlags.configPath, "config", os.Getenv("GATEHOUSE_CONFIG"), "path to YAML config file")
	f.StringVar(&serverFlags.dbPath, "db", "", "database path")
	f.StringVar(&serverFlags.publicAddr, "public-addr", "", "public listener address")
	f.StringVar(&serverFlags.adminAddr, "admin-addr", "", "admin listener address")
	f.StringVar(&serverFlags.tlsMode, "tls-mode", "", "none, manual or acme")
	f.StringVar(&serverFlags.tlsCert, "tls-cert", "", "path to TLS certificate file (manual mode)")
	f.StringVar(&serverFlags.tlsKey, "tls-key", "", "path to TLS key file (manual mode)")
	f.StringVar(&serverFlags.domain, "domain", "", "domain for ACME certificates")
	f.StringVar(&serverFlags.acmeEmail, "acme-email", "", "email for Let's Encrypt notifications")
	f.BoolVar(&serverFlags.staging, "acme-staging", false, "use Let's Encrypt staging CA")
}

func loadServerConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Load(serverFlags.configPath)
	if err != nil {
		return nil, err
	}

	set := func(name string, dst *string, v string) {
		if cmd.Flags().Changed(name) {
			*dst = v
		}
	}
	set("db", &cfg.DBPath, serverFlags.dbPath)
	set("public-addr", &cfg.PublicAddr, serverFlags.publicAddr)
	set("admin-addr", &cfg.AdminAddr, serverFlags.adminAddr)
	set("tls-mode", &cfg.TLS.Mode, serverFlags.tlsMode)
	set("tls-cert", &cfg.TLS.CertFile, serverFlags.tlsCert)
	set("tls-key", &cfg.TLS.KeyFile, serverFlags.tlsKey)
	set("domain", &cfg.TLS.Domain, serverFlags.domain)
	set("acme-email", &cfg.TLS.Email, serverFlags.acmeEmail)
	if cmd.Flags().Changed("acme-staging") {
		cfg.TLS.Staging = serverFlags.staging
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func newNotifier(cfg config.NotifyConfig, logger *zap.Logger) *notify.Manager {
	var providers []notify.Provider
	if cfg.Telegram.Enabled() {
		providers = append(providers, notify.NewTelegramProvider(cfg.Telegram.BotToken, cfg.Telegram.ChatID))
	}
	for _, w := range cfg.Webhooks {
		providers = append(providers, notify.NewWebhookProvider(w.URL, w.Headers))
	}
	return notify.NewManager(logger, notify.Options{
		Timeout:       cfg.Timeout,
		RatePerSecond: cfg.RatePerSecond,
		Burst:         cfg.Burst,
	}, providers...)
}

func runServer(cmd *cobra.Command, args []string) error {
	cfg, err := loadServerConfig(cmd)
	if err != nil {
		return err
	}

	logger, err = logging.New(cfg.Log)
	if err != nil {
		return fmt.Errorf("initializing logger: %w", err)
	}

	password := cfg.AdminPassword
	if password == "" {
		password, err = token.GeneratePassword()
		if err != nil {
			return fmt.Errorf("generate admin password: %w", err)
		}
		fmt.Println("=============================================================")
		fmt.Println("ADMIN PASSWORD GENERATED (save this, it will not be shown again):")
		fmt.Println(password)
		fmt.Println("=============================================================")
	}
	verifier, err := auth.NewVerifier(password)
	if err != nil {
		return err
	}

	database, err := db.Open(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer database.Close()

	seeded, err := db.SeedDefaultPage(database, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("seed default page: %w", err)
	}
	if seeded {
		logger.Info("seeded default page", zap.String("name", db.DefaultPageName))
	}

	h := hub.New(logger.Named("hub"))
	notifier := newNotifier(cfg.Notify, logger.Named("notify"))
	logger.Info("notifications configured", zap.Strings("providers", notifier.Providers()))

	pipeline := decision.New(
		db.NewStore(database),
		geo.NewClient(cfg.Geo.Endpoint, cfg.Geo.Timeout, logger.Named("geo")),
		notifier,
		h,
		logger,
		decision.WithSideEffectTimeout(cfg.Notify.Timeout),
	)

	publicSrv := &server.PublicServer{
		DB:          database,
		Pipeline:    pipeline,
		Hub:         h,
		CORSOrigins: cfg.CORSOrigins,
		Logger:      logger.Named("public"),
	}
	apiSrv := &server.APIServer{
		DB:          database,
		Pipeline:    pipeline,
		Hub:         h,
		Verifier:    verifier,
		Notifier:    notifier,
		CORSOrigins: cfg.CORSOrigins,
		Logger:      logger.Named("api"),
	}

	publicHandler := publicSrv.Handler()
	var acmeManager *acme.Manager
	if cfg.TLS.Mode == config.TLSModeACME {
		acmeManager, err = acme.NewManager(cfg.TLS.Domain, cfg.TLS.Email, database, cfg.TLS.Staging, logger.Named("certmagic"))
		if err != nil {
			return err
		}
	}

	plainHandler := publicHandler
	if acmeManager != nil {
		plainHandler = acmeManager.HTTPChallengeHandler(publicHandler)
	}

	servers := []*server.ManagedServer{
		server.NewManagedServer("public", server.DefaultServerConfig(cfg.PublicAddr, plainHandler, logger.Named("public"))),
		server.NewManagedServer("admin", server.DefaultServerConfig(cfg.AdminAddr, apiSrv.Handler(), logger.Named("api"))),
	}
	for _, s := range servers {
		if err := s.Start(); err != nil {
			shutdown(servers, h, pipeline)
			return err
		}
	}

	var tlsConfig *tls.Config
	switch cfg.TLS.Mode {
	case config.TLSModeManual:
		cert, err := tls.LoadX509KeyPair(cfg.TLS.CertFile, cfg.TLS.KeyFile)
		if err != nil {
			shutdown(servers, h, pipeline)
			return fmt.Errorf("load TLS certificate: %w", err)
		}
		tlsConfig = &tls.Config{
			Certificates: []tls.Certificate{cert},
			NextProtos:   []string{"h2", "http/1.1"},
		}
	case config.TLSModeACME:
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
		err := acmeManager.Manage(ctx)
		cancel()
		if err != nil {
			shutdown(servers, h, pipeline)
			return fmt.Errorf("ACME certificate acquisition: %w", err)
		}
		logger.Info("acme certificate obtained", logging.Domain(cfg.TLS.Domain))
		tlsConfig = acmeManager.TLSConfig()
	default:
		logger.Info("https disabled", logging.TLSMode(config.TLSModeNone))
	}

	if tlsConfig != nil {
		httpsCfg := server.DefaultServerConfig(cfg.TLS.HTTPSAddr, publicHandler, logger.Named("https"))
		httpsCfg.TLSConfig = tlsConfig
		https := server.NewManagedServer("https", httpsCfg)
		if err := https.Start(); err != nil {
			shutdown(servers, h, pipeline)
			return err
		}
		servers = append(servers, https)
		logger.Info("https enabled", logging.TLSMode(cfg.TLS.Mode))
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	errCh := make(chan error, len(servers))
	for _, s := range servers {
		go func(s *server.ManagedServer) {
			if err := <-s.Err(); err != nil {
				errCh <- err
			}
		}(s)
	}

	var runErr error
	select {
	case sig := <-sigCh:
		logger.Info("shutting down", zap.String("signal", sig.String()))
	case runErr = <-errCh:
		logger.Error("server failed", zap.Error(runErr))
	}

	shutdown(servers, h, pipeline)
	return runErr
}

// shutdown stops accepting requests, then closes live channels, then waits
// for in-flight notifications and alerts.
func shutdown(servers []*server.ManagedServer, h *hub.Hub, pipeline *decision.Pipeline) {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	for _, s := range servers {
		s.Shutdown(ctx)
	}
	h.CloseAll()
	pipeline.Wait()
}

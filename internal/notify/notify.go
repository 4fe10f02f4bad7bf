// Package notify delivers operator notifications to outbound chat and webhook
// integrations.
package notify

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/rsclarke/gatehouse/internal/logging"
)

// DefaultTimeout bounds one delivery across all providers.
const DefaultTimeout = 10 * time.Second

// Message is one outbound notification. Text may contain the HTML subset
// understood by Telegram (<b>, <code>).
type Message struct {
	Kind string
	Text string
}

// Notifier sends a message somewhere outside the process.
type Notifier interface {
	Send(ctx context.Context, msg Message) error
}

// Provider is a single delivery integration.
type Provider interface {
	Name() string
	Send(ctx context.Context, msg Message) error
}

// Options tune a Manager.
type Options struct {
	Timeout time.Duration
	// RatePerSecond caps outbound sends; zero disables limiting.
	RatePerSecond float64
	Burst         int
}

// Manager fans a message out to every configured provider in parallel.
type Manager struct {
	providers []Provider
	timeout   time.Duration
	limiter   *rate.Limiter
	logger    *zap.Logger
}

// NewManager builds a Manager over providers.
func NewManager(logger *zap.Logger, opts Options, providers ...Provider) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	m := &Manager{
		providers: providers,
		timeout:   opts.Timeout,
		logger:    logger,
	}
	if opts.RatePerSecond > 0 {
		burst := opts.Burst
		if burst <= 0 {
			burst = 1
		}
		m.limiter = rate.NewLimiter(rate.Limit(opts.RatePerSecond), burst)
	}
	for _, p := range providers {
		logger.Info("notification provider enabled", logging.Provider(p.Name()))
	}
	if len(providers) == 0 {
		logger.Info("no notification providers enabled")
	}
	return m
}

// Providers returns the names of the configured providers.
func (m *Manager) Providers() []string {
	names := make([]string, 0, len(m.providers))
	for _, p := range m.providers {
		names = append(names, p.Name())
	}
	return names
}

// Send delivers msg to all providers and returns the joined provider errors.
// With no providers it is a no-op.
func (m *Manager) Send(ctx context.Context, msg Message) error {
	if len(m.providers) == 0 {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	if m.limiter != nil {
		if err := m.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("rate limit: %w", err)
		}
	}

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs []error
	)
	for _, p := range m.providers {
		wg.Add(1)
		go func(p Provider) {
			defer wg.Done()
			if err := p.Send(ctx, msg); err != nil {
				m.logger.Warn("notification failed", logging.Provider(p.Name()), zap.String("kind", msg.Kind), zap.Error(err))
				mu.Lock()
				errs = append(errs, fmt.Errorf("%s: %w", p.Name(), err))
				mu.Unlock()
			}
		}(p)
	}
	wg.Wait()

	return errors.Join(errs...)
}

// Nop discards every message.
type Nop struct{}

func (Nop) Send(context.Context, Message) error { return nil }

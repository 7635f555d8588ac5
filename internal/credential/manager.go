// Package credential keeps the short-lived remote API token and client identity fresh.
package credential

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/JakeFAU/appgallery-ingest/internal/catalog"
	"github.com/JakeFAU/appgallery-ingest/internal/metrics"
)

const (
	// DefaultTokenValidity is how long an exchanged token is considered fresh.
	DefaultTokenValidity = 60 * time.Second
	// DefaultIdentityValidity is how long one identity value is reused.
	DefaultIdentityValidity = 10 * time.Minute
	// DefaultAttempts bounds the exchange attempts of one refresh.
	DefaultAttempts = 3
	// DefaultBackoff is the fixed pause between exchange attempts.
	DefaultBackoff = time.Second
	// DefaultExchangeTimeout bounds a single exchange attempt.
	DefaultExchangeTimeout = 15 * time.Second

	flightKey = "refresh"
)

// Exchanger obtains a new token from the remote.
type Exchanger interface {
	Exchange(ctx context.Context) (string, error)
}

// IdentityGenerator produces the opaque client identity value.
type IdentityGenerator interface {
	NewIdentity() (string, error)
}

// Credential is the token and identity pair attached to every remote request.
type Credential struct {
	Token            string
	Identity         string
	IssuedAt         time.Time
	IdentityIssuedAt time.Time
}

// Apply sets the credential headers on h.
func (c Credential) Apply(h http.Header, now time.Time) {
	h.Set("interface-code", c.Token+"_"+strconv.FormatInt(now.UnixMilli(), 10))
	h.Set("identity-id", c.Identity)
}

// Config controls refresh timing.
type Config struct {
	TokenValidity    time.Duration
	IdentityValidity time.Duration
	Attempts         int
	Backoff          time.Duration
	// Timeout bounds each exchange attempt.
	Timeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.TokenValidity <= 0 {
		c.TokenValidity = DefaultTokenValidity
	}
	if c.IdentityValidity <= 0 {
		c.IdentityValidity = DefaultIdentityValidity
	}
	if c.Attempts <= 0 {
		c.Attempts = DefaultAttempts
	}
	if c.Backoff < 0 {
		c.Backoff = 0
	}
	if c.Timeout <= 0 {
		c.Timeout = DefaultExchangeTimeout
	}
	return c
}

// Manager hands out the current credential and refreshes it at most once at a time.
type Manager struct {
	exchanger  Exchanger
	identities IdentityGenerator
	clock      catalog.Clock
	sleeper    catalog.Sleeper
	cfg        Config
	logger     *zap.Logger

	group      singleflight.Group
	current    atomic.Pointer[Credential]
	refreshing atomic.Bool

	mu      sync.Mutex
	failure error
}

// NewManager wires a Manager. Zero config fields fall back to the defaults.
func NewManager(
	exchanger Exchanger,
	identities IdentityGenerator,
	clock catalog.Clock,
	sleeper catalog.Sleeper,
	cfg Config,
	logger *zap.Logger,
) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		exchanger:  exchanger,
		identities: identities,
		clock:      clock,
		sleeper:    sleeper,
		cfg:        cfg.withDefaults(),
		logger:     logger.Named("credential"),
	}
}

// Current returns a usable credential. The first call blocks on the exchange.
// Later calls return the cached pair and refresh in the background once it is stale.
func (m *Manager) Current(ctx context.Context) (Credential, error) {
	cred := m.current.Load()
	if cred == nil {
		return m.Refresh(ctx)
	}
	if m.fresh(cred, m.clock.Now()) {
		return *cred, nil
	}
	m.refreshAsync()
	if err := m.lastFailure(); err != nil {
		return Credential{}, err
	}
	return *cred, nil
}

// Refresh makes sure a fresh credential exists, joining any exchange already in flight.
func (m *Manager) Refresh(ctx context.Context) (Credential, error) {
	ch := m.group.DoChan(flightKey, func() (any, error) {
		if cred := m.current.Load(); cred != nil && m.fresh(cred, m.clock.Now()) {
			return *cred, nil
		}
		// The flight is shared, so one caller's cancellation must not fail the others.
		return m.exchange(context.WithoutCancel(ctx))
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return Credential{}, res.Err
		}
		cred, ok := res.Val.(Credential)
		if !ok {
			return Credential{}, fmt.Errorf("refresh credential: unexpected result %T", res.Val)
		}
		return cred, nil
	case <-ctx.Done():
		return Credential{}, fmt.Errorf("refresh credential: %w", ctx.Err())
	}
}

func (m *Manager) refreshAsync() {
	if !m.refreshing.CompareAndSwap(false, true) {
		return
	}
	go func() {
		defer m.refreshing.Store(false)
		if _, err := m.Refresh(context.Background()); err != nil {
			m.logger.Warn("background refresh failed", zap.Error(err))
		}
	}()
}

func (m *Manager) exchange(ctx context.Context) (Credential, error) {
	var lastErr error
	for attempt := 1; attempt <= m.cfg.Attempts; attempt++ {
		attemptCtx, cancel := context.WithTimeout(ctx, m.cfg.Timeout)
		token, err := m.exchanger.Exchange(attemptCtx)
		cancel()
		if err == nil && token == "" {
			err = errors.New("empty token")
		}
		metrics.ObserveCredentialRefresh(err)
		if err == nil {
			cred, idErr := m.issue(token)
			if idErr == nil {
				return cred, nil
			}
			err = idErr
		}
		lastErr = err
		m.logger.Warn("token exchange failed",
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", m.cfg.Attempts),
			zap.Error(err),
		)
		if attempt < m.cfg.Attempts {
			if sleepErr := m.sleeper.Sleep(ctx, m.cfg.Backoff); sleepErr != nil {
				lastErr = sleepErr
				break
			}
		}
	}
	err := fmt.Errorf("%w: %w", catalog.ErrCredentialsUnavailable, lastErr)
	m.mu.Lock()
	m.failure = err
	m.mu.Unlock()
	return Credential{}, err
}

func (m *Manager) issue(token string) (Credential, error) {
	now := m.clock.Now()
	cred := Credential{Token: token, IssuedAt: now}
	if prev := m.current.Load(); prev != nil && now.Sub(prev.IdentityIssuedAt) < m.cfg.IdentityValidity {
		cred.Identity = prev.Identity
		cred.IdentityIssuedAt = prev.IdentityIssuedAt
	} else {
		identity, err := m.identities.NewIdentity()
		if err != nil {
			return Credential{}, fmt.Errorf("new identity: %w", err)
		}
		cred.Identity = identity
		cred.IdentityIssuedAt = now
	}
	m.current.Store(&cred)
	m.mu.Lock()
	m.failure = nil
	m.mu.Unlock()
	m.logger.Debug("credential refreshed", zap.Time("issued_at", now))
	return cred, nil
}

func (m *Manager) fresh(cred *Credential, now time.Time) bool {
	return now.Sub(cred.IssuedAt) < m.cfg.TokenValidity
}

func (m *Manager) lastFailure() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.failure
}

// Package auth implements the PIN-verification session that gates
// destructive state changes (disarming protection, deleting rules).
package auth

import (
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/eliteGoblin/accountd/internal/domain"
)

// DefaultSessionTTL is how long a verified session stays valid.
const DefaultSessionTTL = 10 * time.Minute

// Decision is the outcome of beginning a gated action.
type Decision int

const (
	// RunImmediately means the action may proceed without a challenge.
	RunImmediately Decision = iota
	// NeedsChallenge means the caller must collect and verify a PIN first.
	NeedsChallenge
)

// Gate tracks a single process-wide expiring authorization session.
// Re-verification replaces the session; sessions never stack. A fresh
// process always starts unauthenticated.
type Gate struct {
	mu        sync.Mutex
	expiresAt time.Time

	settings domain.SettingsStore
	hasher   domain.PinHasher
	clock    domain.Clock
	ttl      time.Duration
	logger   *zap.Logger
}

// NewGate creates an unauthenticated gate.
func NewGate(settings domain.SettingsStore, hasher domain.PinHasher, clock domain.Clock, ttl time.Duration, logger *zap.Logger) *Gate {
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	return &Gate{
		settings: settings,
		hasher:   hasher,
		clock:    clock,
		ttl:      ttl,
		logger:   logger,
	}
}

// BeginAction decides whether a gated action may run now. Actions that
// do not require authorization always run immediately.
func (g *Gate) BeginAction(requiresAuth bool) Decision {
	if !requiresAuth || g.Authorized() {
		return RunImmediately
	}
	return NeedsChallenge
}

// Authorized reports whether a valid session exists right now.
func (g *Gate) Authorized() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return !g.expiresAt.IsZero() && g.clock().Before(g.expiresAt)
}

// Verify checks a candidate PIN against the stored hash. On success it
// creates (or replaces) the session. A wrong PIN returns false and
// leaves any existing session untouched; callers must offer retry.
func (g *Gate) Verify(candidatePin string) (bool, error) {
	settings, err := g.settings.Settings()
	if err != nil {
		return false, &domain.PersistenceError{Op: "read settings", Err: err}
	}
	if settings.PINHash == "" {
		return false, &domain.AuthorizationError{Reason: "no PIN configured"}
	}

	if !g.hasher.Verify(settings.PINHash, candidatePin) {
		g.logger.Warn("pin verification failed")
		return false, nil
	}

	g.mu.Lock()
	g.expiresAt = g.clock().Add(g.ttl)
	g.mu.Unlock()

	g.logger.Info("pin verified, session opened",
		zap.Duration("ttl", g.ttl))
	return true, nil
}

// Invalidate clears the session explicitly (logout or app quiescence).
func (g *Gate) Invalidate() {
	g.mu.Lock()
	g.expiresAt = time.Time{}
	g.mu.Unlock()
	g.logger.Info("authorization session invalidated")
}

// ExpiresAt returns the current session expiry, zero when
// unauthenticated. Display only.
func (g *Gate) ExpiresAt() time.Time {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.expiresAt
}

// Require returns an AuthorizationError when the action needs a
// challenge, nil when it may run immediately.
func (g *Gate) Require(requiresAuth bool) error {
	if g.BeginAction(requiresAuth) == NeedsChallenge {
		return &domain.AuthorizationError{Reason: "valid PIN session required"}
	}
	return nil
}

// SetPIN hashes and persists a new PIN. Replacing an existing PIN is a
// destructive change and requires a valid session.
func (g *Gate) SetPIN(pin string) error {
	if pin == "" {
		return fmt.Errorf("pin must not be empty")
	}

	settings, err := g.settings.Settings()
	if err != nil {
		return &domain.PersistenceError{Op: "read settings", Err: err}
	}
	if err := g.Require(settings.PINHash != ""); err != nil {
		return err
	}

	settings.PINHash = g.hasher.Hash(pin)
	settings.SetupComplete = true
	if err := g.settings.SaveSettings(settings); err != nil {
		return &domain.PersistenceError{Op: "save settings", Err: err}
	}
	g.logger.Info("pin updated")
	return nil
}

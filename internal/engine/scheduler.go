package engine

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/eliteGoblin/accountd/internal/domain"
	"github.com/eliteGoblin/accountd/internal/rule"
)

// SchedulerConfig holds the enforcement cadences.
type SchedulerConfig struct {
	AppInterval     time.Duration // app enforcement tick (default 2s)
	WebsiteInterval time.Duration // website enforcement tick (default 30s)
	WebsiteGrace    time.Duration // delay before the first browser kill
}

// DefaultSchedulerConfig returns the production cadences.
func DefaultSchedulerConfig() SchedulerConfig {
	return SchedulerConfig{
		AppInterval:     2 * time.Second,
		WebsiteInterval: 30 * time.Second,
		WebsiteGrace:    30 * time.Second,
	}
}

// Scheduler runs the recurring enforcement cycles. Both loops are
// served from a single goroutine, so a tick always runs to completion
// before the next starts and cooldown access is never concurrent.
type Scheduler struct {
	config    SchedulerConfig
	engine    *Engine
	inspector domain.ProcessInspector
	clock     domain.Clock
	logger    *zap.Logger

	// websiteActiveSince is when website rules last became active
	// while website enforcement was armed; zero when idle. The first
	// browser kill waits WebsiteGrace past this instant to allow
	// voluntary closure.
	websiteActiveSince time.Time
}

// NewScheduler creates an enforcement scheduler.
func NewScheduler(config SchedulerConfig, engine *Engine, inspector domain.ProcessInspector, clock domain.Clock, logger *zap.Logger) *Scheduler {
	return &Scheduler{
		config:    config,
		engine:    engine,
		inspector: inspector,
		clock:     clock,
		logger:    logger,
	}
}

// Run blocks until the context is canceled, executing app and website
// cycles on their tickers. Cancellation is honored between cycles; an
// in-flight kill batch finishes first.
func (s *Scheduler) Run(ctx context.Context) error {
	s.logger.Info("enforcement scheduler started",
		zap.Duration("app_interval", s.config.AppInterval),
		zap.Duration("website_interval", s.config.WebsiteInterval))

	appTicker := time.NewTicker(s.config.AppInterval)
	websiteTicker := time.NewTicker(s.config.WebsiteInterval)
	defer func() {
		appTicker.Stop()
		websiteTicker.Stop()
	}()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("enforcement scheduler stopping")
			return ctx.Err()

		case <-appTicker.C:
			s.engine.Reload()
			s.RunAppCycle(ctx)

		case <-websiteTicker.C:
			s.engine.Reload()
			s.RunWebsiteCycle(ctx)
		}
	}
}

// RunAppCycle performs one app enforcement pass: evaluate rules, list
// processes, kill matches. App kills are deliberately not
// cooldown-gated; apps relaunch only on explicit user action.
func (s *Scheduler) RunAppCycle(ctx context.Context) {
	if !s.engine.State().Armed {
		return
	}

	now := s.clock()
	var active []domain.AppRule
	for _, r := range s.engine.AppRules() {
		if rule.IsActive(r.RuleSpec, now) {
			active = append(active, r)
		}
	}
	if len(active) == 0 {
		return
	}

	processes, err := s.inspector.ListProcesses(ctx)
	if err != nil {
		// Fail open: one bad enumeration means no violations this
		// cycle, never a crashed scheduler.
		s.logger.Warn("process enumeration failed",
			zap.Error(&domain.EnforcementIOError{Op: "list processes", Err: err}))
		return
	}

	for _, proc := range processes {
		for _, r := range active {
			if !MatchesApp(r, proc) {
				continue
			}
			killErr := s.inspector.Kill(proc.PID)
			s.engine.ReportAppKill(r, proc, killErr)
			break // first match wins, one kill per process per tick
		}
	}
}

// RunWebsiteCycle performs one website enforcement pass. While any
// website rule is active, every running browser is the enforcement
// unit: we cannot see which site a tab has open, so browsers are
// closed wholesale, throttled per browser path by the cooldown.
func (s *Scheduler) RunWebsiteCycle(ctx context.Context) {
	state := s.engine.State()
	if !state.Armed || !state.WebsiteArmed {
		s.websiteActiveSince = time.Time{}
		return
	}

	now := s.clock()
	var domains []string
	for _, r := range s.engine.WebsiteRules() {
		if rule.IsActive(r.RuleSpec, now) {
			domains = append(domains, r.Domain)
		}
	}
	if len(domains) == 0 {
		s.websiteActiveSince = time.Time{}
		return
	}

	if s.websiteActiveSince.IsZero() {
		s.websiteActiveSince = now
	}
	if now.Sub(s.websiteActiveSince) < s.config.WebsiteGrace {
		s.logger.Debug("website enforcement in grace period",
			zap.Time("active_since", s.websiteActiveSince))
		return
	}

	browsers, err := s.inspector.ListBrowserProcesses(ctx)
	if err != nil {
		s.logger.Warn("browser enumeration failed",
			zap.Error(&domain.EnforcementIOError{Op: "list browsers", Err: err}))
		return
	}

	blocked := strings.Join(domains, ", ")
	cooldowns := s.engine.Cooldowns()

	for _, browser := range browsers {
		if browser.Path == "" {
			continue
		}
		if !cooldowns.Allow(browser.Path) {
			s.logger.Debug("browser kill throttled",
				zap.String("browser", browser.Name))
			continue
		}

		killErr := s.inspector.Kill(browser.PID)
		if killErr == nil {
			cooldowns.Record(browser.Path)
		}
		s.engine.ReportBrowserKill(browser, blocked, killErr)
	}
}

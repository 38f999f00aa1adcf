// Package engine owns enforcement state and the scheduler that
// reconciles active rules against live processes.
package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/eliteGoblin/accountd/internal/auth"
	"github.com/eliteGoblin/accountd/internal/domain"
	"github.com/eliteGoblin/accountd/internal/rule"
)

const notifyTimeout = 10 * time.Second

// Engine is the single owner of rules, settings and enforcement
// state. All mutation goes through its methods; destructive changes
// consult the authorization gate. Reads hand out snapshots so the UI
// never blocks an enforcement tick.
type Engine struct {
	store     domain.Store
	gate      *auth.Gate
	recorder  *Recorder
	notifier  domain.Notifier
	cooldowns *CooldownTracker
	clock     domain.Clock
	logger    *zap.Logger

	mu           sync.Mutex
	settings     domain.Settings
	appRules     []domain.AppRule
	websiteRules []domain.WebsiteRule
}

// New loads persisted settings and rules and returns a ready engine.
func New(
	store domain.Store,
	gate *auth.Gate,
	recorder *Recorder,
	notifier domain.Notifier,
	cooldowns *CooldownTracker,
	clock domain.Clock,
	logger *zap.Logger,
) (*Engine, error) {
	e := &Engine{
		store:     store,
		gate:      gate,
		recorder:  recorder,
		notifier:  notifier,
		cooldowns: cooldowns,
		clock:     clock,
		logger:    logger,
	}

	settings, err := store.Settings()
	if err != nil {
		return nil, &domain.PersistenceError{Op: "load settings", Err: err}
	}
	appRules, err := store.AppRules()
	if err != nil {
		return nil, &domain.PersistenceError{Op: "load app rules", Err: err}
	}
	websiteRules, err := store.WebsiteRules()
	if err != nil {
		return nil, &domain.PersistenceError{Op: "load website rules", Err: err}
	}

	e.settings = settings
	e.appRules = appRules
	e.websiteRules = websiteRules
	return e, nil
}

// Gate exposes the authorization gate for the control surface.
func (e *Engine) Gate() *auth.Gate { return e.gate }

// Recorder exposes the audit log for display.
func (e *Engine) Recorder() *Recorder { return e.recorder }

// Cooldowns exposes the browser kill throttle to the scheduler.
func (e *Engine) Cooldowns() *CooldownTracker { return e.cooldowns }

// Reload re-reads settings and rules from the store so a long-running
// daemon picks up changes made by control commands. Read failures
// keep the previous snapshot.
func (e *Engine) Reload() {
	settings, err := e.store.Settings()
	if err != nil {
		e.logger.Warn("settings reload failed", zap.Error(err))
		return
	}
	appRules, err := e.store.AppRules()
	if err != nil {
		e.logger.Warn("app rule reload failed", zap.Error(err))
		return
	}
	websiteRules, err := e.store.WebsiteRules()
	if err != nil {
		e.logger.Warn("website rule reload failed", zap.Error(err))
		return
	}

	e.mu.Lock()
	wasArmed := e.settings.Armed
	e.settings = settings
	e.appRules = appRules
	e.websiteRules = websiteRules
	e.mu.Unlock()

	if wasArmed && !settings.Armed {
		e.cooldowns.Clear()
	}
}

// State returns the current armed flags.
func (e *Engine) State() domain.EnforcementState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return domain.EnforcementState{
		Armed:        e.settings.Armed,
		WebsiteArmed: e.settings.WebsiteArmed,
	}
}

// SettingsSnapshot returns a copy of the current settings.
func (e *Engine) SettingsSnapshot() domain.Settings {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.settings
}

// AppRules returns a copy of the app rules.
func (e *Engine) AppRules() []domain.AppRule {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]domain.AppRule, len(e.appRules))
	copy(out, e.appRules)
	return out
}

// WebsiteRules returns a copy of the website rules.
func (e *Engine) WebsiteRules() []domain.WebsiteRule {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]domain.WebsiteRule, len(e.websiteRules))
	copy(out, e.websiteRules)
	return out
}

// AddAppRule validates, persists and activates a new app rule.
func (e *Engine) AddAppRule(appName, appPath string, spec domain.RuleSpec) (domain.AppRule, error) {
	spec.CreatedAt = e.clock()
	r, err := rule.NewAppRule(appName, appPath, spec)
	if err != nil {
		return domain.AppRule{}, err
	}
	if err := e.store.SaveAppRule(r); err != nil {
		return domain.AppRule{}, &domain.PersistenceError{Op: "save app rule", Err: err}
	}

	e.mu.Lock()
	e.appRules = append(e.appRules, r)
	notify := e.settings.WebhookEnabled && e.settings.NotifyBlock
	e.mu.Unlock()

	if r.Enabled {
		e.record(domain.EventBlock, r.AppName, fmt.Sprintf("block rule created for %s", r.AppName), notify)
	}
	return r, nil
}

// AddWebsiteRule validates, persists and activates a new website rule.
func (e *Engine) AddWebsiteRule(rawDomain string, spec domain.RuleSpec) (domain.WebsiteRule, error) {
	spec.CreatedAt = e.clock()
	r, err := rule.NewWebsiteRule(rawDomain, spec)
	if err != nil {
		return domain.WebsiteRule{}, err
	}
	if err := e.store.SaveWebsiteRule(r); err != nil {
		return domain.WebsiteRule{}, &domain.PersistenceError{Op: "save website rule", Err: err}
	}

	e.mu.Lock()
	e.websiteRules = append(e.websiteRules, r)
	notify := e.settings.WebhookEnabled && e.settings.NotifyBlock
	e.mu.Unlock()

	if r.Enabled {
		e.record(domain.EventBlock, r.Domain, fmt.Sprintf("block rule created for %s", r.Domain), notify)
	}
	return r, nil
}

// UpdateAppRule merges partial edits into an existing rule,
// re-validating the result. Editing an enabled rule while protection
// is armed requires a valid authorization session.
func (e *Engine) UpdateAppRule(id string, upd rule.Update) (domain.AppRule, error) {
	e.mu.Lock()
	idx, existing := findAppRule(e.appRules, id)
	requiresAuth := idx >= 0 && existing.Enabled && e.settings.Armed
	notifyUnblock := e.settings.WebhookEnabled && e.settings.NotifyUnblock
	e.mu.Unlock()

	if idx < 0 {
		return domain.AppRule{}, fmt.Errorf("app rule %s not found", id)
	}
	if err := e.gate.Require(requiresAuth); err != nil {
		return domain.AppRule{}, err
	}

	merged, err := upd.ApplyToApp(existing)
	if err != nil {
		return domain.AppRule{}, err
	}
	if err := e.store.SaveAppRule(merged); err != nil {
		return domain.AppRule{}, &domain.PersistenceError{Op: "save app rule", Err: err}
	}

	e.mu.Lock()
	e.appRules[idx] = merged
	e.mu.Unlock()

	if existing.Enabled && !merged.Enabled {
		e.record(domain.EventUnblock, merged.AppName, fmt.Sprintf("rule disabled for %s", merged.AppName), notifyUnblock)
	}
	return merged, nil
}

// UpdateWebsiteRule is the website counterpart of UpdateAppRule.
func (e *Engine) UpdateWebsiteRule(id string, upd rule.Update) (domain.WebsiteRule, error) {
	e.mu.Lock()
	idx, existing := findWebsiteRule(e.websiteRules, id)
	requiresAuth := idx >= 0 && existing.Enabled && e.settings.Armed
	notifyUnblock := e.settings.WebhookEnabled && e.settings.NotifyUnblock
	e.mu.Unlock()

	if idx < 0 {
		return domain.WebsiteRule{}, fmt.Errorf("website rule %s not found", id)
	}
	if err := e.gate.Require(requiresAuth); err != nil {
		return domain.WebsiteRule{}, err
	}

	merged, err := upd.ApplyToWebsite(existing)
	if err != nil {
		return domain.WebsiteRule{}, err
	}
	if err := e.store.SaveWebsiteRule(merged); err != nil {
		return domain.WebsiteRule{}, &domain.PersistenceError{Op: "save website rule", Err: err}
	}

	e.mu.Lock()
	e.websiteRules[idx] = merged
	e.mu.Unlock()

	if existing.Enabled && !merged.Enabled {
		e.record(domain.EventUnblock, merged.Domain, fmt.Sprintf("rule disabled for %s", merged.Domain), notifyUnblock)
	}
	return merged, nil
}

// DeleteAppRule removes a rule. Deleting an enabled rule while
// protection is armed requires a valid authorization session.
func (e *Engine) DeleteAppRule(id string) error {
	e.mu.Lock()
	idx, existing := findAppRule(e.appRules, id)
	requiresAuth := idx >= 0 && existing.Enabled && e.settings.Armed
	notifyUnblock := e.settings.WebhookEnabled && e.settings.NotifyUnblock
	e.mu.Unlock()

	if idx < 0 {
		return fmt.Errorf("app rule %s not found", id)
	}
	if err := e.gate.Require(requiresAuth); err != nil {
		return err
	}
	if err := e.store.DeleteAppRule(id); err != nil {
		return &domain.PersistenceError{Op: "delete app rule", Err: err}
	}

	e.mu.Lock()
	e.appRules = append(e.appRules[:idx], e.appRules[idx+1:]...)
	e.mu.Unlock()

	e.record(domain.EventUnblock, existing.AppName, fmt.Sprintf("rule deleted for %s", existing.AppName), notifyUnblock)
	return nil
}

// DeleteWebsiteRule removes a website rule under the same gate policy.
func (e *Engine) DeleteWebsiteRule(id string) error {
	e.mu.Lock()
	idx, existing := findWebsiteRule(e.websiteRules, id)
	requiresAuth := idx >= 0 && existing.Enabled && e.settings.Armed
	notifyUnblock := e.settings.WebhookEnabled && e.settings.NotifyUnblock
	e.mu.Unlock()

	if idx < 0 {
		return fmt.Errorf("website rule %s not found", id)
	}
	if err := e.gate.Require(requiresAuth); err != nil {
		return err
	}
	if err := e.store.DeleteWebsiteRule(id); err != nil {
		return &domain.PersistenceError{Op: "delete website rule", Err: err}
	}

	e.mu.Lock()
	e.websiteRules = append(e.websiteRules[:idx], e.websiteRules[idx+1:]...)
	e.mu.Unlock()

	e.record(domain.EventUnblock, existing.Domain, fmt.Sprintf("rule deleted for %s", existing.Domain), notifyUnblock)
	return nil
}

// Arm turns enforcement on. Re-enabling protection is never
// destructive, so no authorization is required.
func (e *Engine) Arm() error {
	return e.setArmed(func(s *domain.Settings) { s.Armed = true },
		domain.EventBlock, "protection armed", false)
}

// ArmWebsites turns the website enforcement sub-toggle on.
func (e *Engine) ArmWebsites() error {
	return e.setArmed(func(s *domain.Settings) { s.WebsiteArmed = true },
		domain.EventBlock, "website protection armed", false)
}

// Disarm turns enforcement off. Disabling protection requires a valid
// PIN session (or the killswitch). Cooldowns are cleared so a later
// re-arm starts fresh.
func (e *Engine) Disarm() error {
	if err := e.gate.Require(true); err != nil {
		return err
	}
	return e.setArmed(func(s *domain.Settings) { s.Armed = false },
		domain.EventUnblock, "protection disarmed", true)
}

// DisarmWebsites turns the website sub-toggle off, PIN-gated.
func (e *Engine) DisarmWebsites() error {
	if err := e.gate.Require(true); err != nil {
		return err
	}
	return e.setArmed(func(s *domain.Settings) { s.WebsiteArmed = false },
		domain.EventUnblock, "website protection disarmed", true)
}

func (e *Engine) setArmed(mutate func(*domain.Settings), kind domain.EventKind, message string, clearCooldowns bool) error {
	e.mu.Lock()
	updated := e.settings
	mutate(&updated)
	e.mu.Unlock()

	if err := e.store.SaveSettings(updated); err != nil {
		return &domain.PersistenceError{Op: "save settings", Err: err}
	}

	e.mu.Lock()
	e.settings = updated
	var notify bool
	if kind == domain.EventBlock {
		notify = updated.WebhookEnabled && updated.NotifyBlock
	} else {
		notify = updated.WebhookEnabled && updated.NotifyUnblock
	}
	e.mu.Unlock()

	if clearCooldowns {
		e.cooldowns.Clear()
	}
	e.record(kind, "protection", message, notify)
	return nil
}

// Killswitch is the unconditional emergency disable. It needs no
// session, always flips both armed flags off in memory even if the
// store write fails, clears cooldowns, and appends exactly one
// killswitch event.
func (e *Engine) Killswitch() {
	e.mu.Lock()
	e.settings.Armed = false
	e.settings.WebsiteArmed = false
	updated := e.settings
	e.mu.Unlock()

	if err := e.store.SaveSettings(updated); err != nil {
		e.logger.Error("killswitch state not persisted", zap.Error(err))
	}
	e.cooldowns.Clear()

	notify := updated.WebhookEnabled && updated.NotifyKillswitch
	e.record(domain.EventKillswitch, "protection", "emergency killswitch activated", notify)
	e.logger.Warn("killswitch activated, all enforcement disabled")
}

// SetWebhook configures the outbound notification target.
func (e *Engine) SetWebhook(url string, enabled bool) error {
	e.mu.Lock()
	updated := e.settings
	updated.WebhookURL = url
	updated.WebhookEnabled = enabled
	e.mu.Unlock()

	if err := e.store.SaveSettings(updated); err != nil {
		return &domain.PersistenceError{Op: "save settings", Err: err}
	}

	e.mu.Lock()
	e.settings = updated
	e.mu.Unlock()
	return nil
}

// ReportAppKill records the outcome of one app kill attempt.
func (e *Engine) ReportAppKill(r domain.AppRule, proc domain.ProcessInfo, killErr error) {
	e.mu.Lock()
	notify := e.settings.WebhookEnabled && e.settings.NotifyBlock
	e.mu.Unlock()

	if killErr != nil {
		e.logger.Warn("failed to kill process",
			zap.String("app", r.AppName),
			zap.Int32("pid", proc.PID),
			zap.Error(killErr))
		e.record(domain.EventViolation, r.AppName,
			fmt.Sprintf("%s still running, kill failed (pid %d)", r.AppName, proc.PID), notify)
		return
	}

	e.logger.Info("killed blocked app",
		zap.String("app", r.AppName),
		zap.Int32("pid", proc.PID))
	e.record(domain.EventBlock, r.AppName,
		fmt.Sprintf("terminated %s (pid %d)", proc.Name, proc.PID), notify)
}

// ReportBrowserKill records the outcome of one browser kill attempt,
// naming the domains that triggered it.
func (e *Engine) ReportBrowserKill(browser domain.ProcessInfo, domains string, killErr error) {
	e.mu.Lock()
	notify := e.settings.WebhookEnabled && e.settings.NotifyBlock
	e.mu.Unlock()

	if killErr != nil {
		e.logger.Warn("failed to kill browser",
			zap.String("browser", browser.Name),
			zap.Int32("pid", browser.PID),
			zap.Error(killErr))
		e.record(domain.EventViolation, domains,
			fmt.Sprintf("%s still running while %s blocked", browser.Name, domains), notify)
		return
	}

	e.logger.Info("killed browser",
		zap.String("browser", browser.Name),
		zap.Int32("pid", browser.PID),
		zap.String("domains", domains))
	e.record(domain.EventBlock, domains,
		fmt.Sprintf("closed %s while %s blocked", browser.Name, domains), notify)
}

// record appends an audit event and fires an optional webhook
// notification. Both are best effort on the enforcement path.
func (e *Engine) record(kind domain.EventKind, target, message string, notify bool) {
	_, _ = e.recorder.Record(kind, target, message)

	if !notify || e.notifier == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), notifyTimeout)
		defer cancel()
		if err := e.notifier.Send(ctx, message); err != nil {
			e.logger.Debug("webhook notification failed", zap.Error(err))
		}
	}()
}

func findAppRule(rules []domain.AppRule, id string) (int, domain.AppRule) {
	for i, r := range rules {
		if r.ID == id {
			return i, r
		}
	}
	return -1, domain.AppRule{}
}

func findWebsiteRule(rules []domain.WebsiteRule, id string) (int, domain.WebsiteRule) {
	for i, r := range rules {
		if r.ID == id {
			return i, r
		}
	}
	return -1, domain.WebsiteRule{}
}

package engine

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/eliteGoblin/accountd/internal/auth"
	"github.com/eliteGoblin/accountd/internal/domain"
	"github.com/eliteGoblin/accountd/internal/infra"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, time.June, 4, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// memStore is an in-memory domain.Store with injectable failures.
type memStore struct {
	mu sync.Mutex

	settings     domain.Settings
	appRules     []domain.AppRule
	websiteRules []domain.WebsiteRule
	events       []domain.EventRecord

	saveSettingsErr error
	saveRuleErr     error
	deleteRuleErr   error
	appendErr       error
}

func newMemStore() *memStore {
	return &memStore{settings: domain.DefaultSettings()}
}

func (s *memStore) Settings() (domain.Settings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.settings, nil
}

func (s *memStore) SaveSettings(settings domain.Settings) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.saveSettingsErr != nil {
		return s.saveSettingsErr
	}
	s.settings = settings
	return nil
}

func (s *memStore) AppRules() ([]domain.AppRule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.AppRule, len(s.appRules))
	copy(out, s.appRules)
	return out, nil
}

func (s *memStore) SaveAppRule(r domain.AppRule) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.saveRuleErr != nil {
		return s.saveRuleErr
	}
	for i := range s.appRules {
		if s.appRules[i].ID == r.ID {
			s.appRules[i] = r
			return nil
		}
	}
	s.appRules = append(s.appRules, r)
	return nil
}

func (s *memStore) DeleteAppRule(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.deleteRuleErr != nil {
		return s.deleteRuleErr
	}
	for i := range s.appRules {
		if s.appRules[i].ID == id {
			s.appRules = append(s.appRules[:i], s.appRules[i+1:]...)
			return nil
		}
	}
	return nil
}

func (s *memStore) WebsiteRules() ([]domain.WebsiteRule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.WebsiteRule, len(s.websiteRules))
	copy(out, s.websiteRules)
	return out, nil
}

func (s *memStore) SaveWebsiteRule(r domain.WebsiteRule) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.saveRuleErr != nil {
		return s.saveRuleErr
	}
	for i := range s.websiteRules {
		if s.websiteRules[i].ID == r.ID {
			s.websiteRules[i] = r
			return nil
		}
	}
	s.websiteRules = append(s.websiteRules, r)
	return nil
}

func (s *memStore) DeleteWebsiteRule(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.deleteRuleErr != nil {
		return s.deleteRuleErr
	}
	for i := range s.websiteRules {
		if s.websiteRules[i].ID == id {
			s.websiteRules = append(s.websiteRules[:i], s.websiteRules[i+1:]...)
			return nil
		}
	}
	return nil
}

func (s *memStore) Append(record domain.EventRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.appendErr != nil {
		return s.appendErr
	}
	s.events = append(s.events, record)
	return nil
}

func (s *memStore) Events() ([]domain.EventRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.EventRecord, 0, len(s.events))
	for i := len(s.events) - 1; i >= 0; i-- {
		out = append(out, s.events[i])
	}
	return out, nil
}

func (s *memStore) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = nil
	return nil
}

func (s *memStore) Close() error { return nil }

func (s *memStore) eventsOfKind(kind domain.EventKind) []domain.EventRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.EventRecord
	for _, e := range s.events {
		if e.Kind == kind {
			out = append(out, e)
		}
	}
	return out
}

// fakeInspector serves canned process lists and records kills.
type fakeInspector struct {
	mu        sync.Mutex
	processes []domain.ProcessInfo
	browsers  []domain.ProcessInfo
	listErr   error
	killErrs  map[int32]error
	killed    []int32
}

func (f *fakeInspector) ListProcesses(_ context.Context) ([]domain.ProcessInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listErr != nil {
		return nil, f.listErr
	}
	out := make([]domain.ProcessInfo, len(f.processes))
	copy(out, f.processes)
	return out, nil
}

func (f *fakeInspector) ListBrowserProcesses(_ context.Context) ([]domain.ProcessInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listErr != nil {
		return nil, f.listErr
	}
	out := make([]domain.ProcessInfo, len(f.browsers))
	copy(out, f.browsers)
	return out, nil
}

func (f *fakeInspector) Kill(pid int32) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.killed = append(f.killed, pid)
	if err, ok := f.killErrs[pid]; ok {
		return err
	}
	return nil
}

func (f *fakeInspector) killCount(pid int32) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, k := range f.killed {
		if k == pid {
			n++
		}
	}
	return n
}

type testHarness struct {
	engine    *Engine
	store     *memStore
	clock     *fakeClock
	gate      *auth.Gate
	cooldowns *CooldownTracker
}

func newTestEngine(t *testing.T) *testHarness {
	t.Helper()
	store := newMemStore()
	clock := newFakeClock()
	hasher := infra.NewPinHasher()
	store.settings.PINHash = hasher.Hash("1234")

	logger := zap.NewNop()
	gate := auth.NewGate(store, hasher, clock.Now, auth.DefaultSessionTTL, logger)
	recorder := NewRecorder(store, clock.Now, logger)
	cooldowns := NewCooldownTracker(30*time.Second, clock.Now)

	eng, err := New(store, gate, recorder, nil, cooldowns, clock.Now, logger)
	require.NoError(t, err)

	return &testHarness{
		engine:    eng,
		store:     store,
		clock:     clock,
		gate:      gate,
		cooldowns: cooldowns,
	}
}

func (h *testHarness) openSession(t *testing.T) {
	t.Helper()
	ok, err := h.gate.Verify("1234")
	require.NoError(t, err)
	require.True(t, ok)
}

func permanentSpec() domain.RuleSpec {
	return domain.RuleSpec{Kind: domain.KindPermanent, Enabled: true}
}

package infra

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eliteGoblin/accountd/internal/domain"
)

func testKey() []byte {
	key := make([]byte, 32)
	for i := range key {
		key[i] = byte(i)
	}
	return key
}

func newTestStore(t *testing.T) *EncryptedStore {
	t.Helper()
	store, err := NewEncryptedStore(t.TempDir(), testKey(), 5)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestEncryptedStore_AppRuleRoundTrip(t *testing.T) {
	store := newTestStore(t)

	created := time.Date(2025, time.June, 4, 12, 0, 0, 0, time.UTC)
	r := domain.AppRule{
		ID:      "01AAAAAAAAAAAAAAAAAAAAAAAA",
		AppName: "Steam",
		AppPath: "/opt/steam/steam",
		RuleSpec: domain.RuleSpec{
			Kind:        domain.KindSchedule,
			Enabled:     true,
			CreatedAt:   created,
			Days:        []time.Weekday{time.Monday, time.Friday},
			StartHour:   9,
			StartMinute: 30,
			EndHour:     17,
			EndMinute:   45,
		},
	}
	require.NoError(t, store.SaveAppRule(r))

	rules, err := store.AppRules()
	require.NoError(t, err)
	require.Len(t, rules, 1)
	got := rules[0]

	assert.Equal(t, r.ID, got.ID)
	assert.Equal(t, r.AppName, got.AppName)
	assert.Equal(t, r.AppPath, got.AppPath)
	assert.Equal(t, r.Kind, got.Kind)
	assert.True(t, got.Enabled)
	assert.True(t, got.CreatedAt.Equal(created))
	assert.Equal(t, r.Days, got.Days)
	assert.Equal(t, 9, got.StartHour)
	assert.Equal(t, 45, got.EndMinute)
	assert.True(t, got.StartTime.IsZero(), "unset start time survives as zero")
}

func TestEncryptedStore_WebsiteRuleTimerRoundTrip(t *testing.T) {
	store := newTestStore(t)

	start := time.Date(2025, time.June, 4, 12, 0, 0, 0, time.UTC)
	r := domain.WebsiteRule{
		ID:     "01BBBBBBBBBBBBBBBBBBBBBBBB",
		Domain: "reddit.com",
		RuleSpec: domain.RuleSpec{
			Kind:            domain.KindTimer,
			Enabled:         true,
			CreatedAt:       start,
			StartTime:       start,
			DurationMinutes: 30,
		},
	}
	require.NoError(t, store.SaveWebsiteRule(r))

	rules, err := store.WebsiteRules()
	require.NoError(t, err)
	require.Len(t, rules, 1)
	got := rules[0]

	assert.Equal(t, "reddit.com", got.Domain)
	assert.True(t, got.StartTime.Equal(start))
	assert.Equal(t, 30, got.DurationMinutes)
	assert.Nil(t, got.Days)
}

func TestEncryptedStore_SaveReplacesExistingRule(t *testing.T) {
	store := newTestStore(t)

	r := domain.AppRule{
		ID:      "rule-1",
		AppName: "Steam",
		AppPath: "/opt/steam/steam",
		RuleSpec: domain.RuleSpec{
			Kind: domain.KindPermanent, Enabled: true, CreatedAt: time.Now(),
		},
	}
	require.NoError(t, store.SaveAppRule(r))

	r.Enabled = false
	require.NoError(t, store.SaveAppRule(r))

	rules, err := store.AppRules()
	require.NoError(t, err)
	require.Len(t, rules, 1)
	assert.False(t, rules[0].Enabled)
}

func TestEncryptedStore_DeleteRule(t *testing.T) {
	store := newTestStore(t)

	r := domain.WebsiteRule{
		ID:     "rule-1",
		Domain: "reddit.com",
		RuleSpec: domain.RuleSpec{
			Kind: domain.KindPermanent, Enabled: true, CreatedAt: time.Now(),
		},
	}
	require.NoError(t, store.SaveWebsiteRule(r))
	require.NoError(t, store.DeleteWebsiteRule("rule-1"))

	rules, err := store.WebsiteRules()
	require.NoError(t, err)
	assert.Empty(t, rules)

	assert.NoError(t, store.DeleteWebsiteRule("no-such-rule"))
}

func TestEncryptedStore_SettingsDefaultsOnFirstRun(t *testing.T) {
	store := newTestStore(t)

	settings, err := store.Settings()
	require.NoError(t, err)
	assert.Equal(t, domain.DefaultSettings(), settings)
}

func TestEncryptedStore_SettingsRoundTrip(t *testing.T) {
	store := newTestStore(t)

	settings := domain.DefaultSettings()
	settings.PINHash = "abc123"
	settings.Armed = true
	settings.WebhookURL = "https://hooks.example.com/x"
	settings.WebhookEnabled = true
	require.NoError(t, store.SaveSettings(settings))

	got, err := store.Settings()
	require.NoError(t, err)
	assert.Equal(t, settings, got)
}

func TestEncryptedStore_EventsCappedAndNewestFirst(t *testing.T) {
	store := newTestStore(t) // cap of 5

	base := time.Date(2025, time.June, 4, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 8; i++ {
		require.NoError(t, store.Append(domain.EventRecord{
			ID:        fmt.Sprintf("evt-%d", i),
			Kind:      domain.EventBlock,
			Target:    fmt.Sprintf("target-%d", i),
			Timestamp: base.Add(time.Duration(i) * time.Second),
		}))
	}

	events, err := store.Events()
	require.NoError(t, err)
	require.Len(t, events, 5, "log trimmed to cap, oldest discarded")
	assert.Equal(t, "evt-7", events[0].ID, "newest first")
	assert.Equal(t, "evt-3", events[4].ID)
}

func TestEncryptedStore_ClearEvents(t *testing.T) {
	store := newTestStore(t)

	require.NoError(t, store.Append(domain.EventRecord{
		ID: "evt-1", Kind: domain.EventKillswitch, Target: "protection", Timestamp: time.Now(),
	}))
	require.NoError(t, store.Clear())

	events, err := store.Events()
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestEncryptedStore_ReopenWithSameKey(t *testing.T) {
	dir := t.TempDir()

	store, err := NewEncryptedStore(dir, testKey(), 5)
	require.NoError(t, err)
	require.NoError(t, store.SaveAppRule(domain.AppRule{
		ID: "rule-1", AppName: "Steam", AppPath: "/opt/steam/steam",
		RuleSpec: domain.RuleSpec{Kind: domain.KindPermanent, Enabled: true, CreatedAt: time.Now()},
	}))
	require.NoError(t, store.Close())

	reopened, err := NewEncryptedStore(dir, testKey(), 5)
	require.NoError(t, err)
	defer reopened.Close()

	rules, err := reopened.AppRules()
	require.NoError(t, err)
	require.Len(t, rules, 1)
	assert.Equal(t, "Steam", rules[0].AppName)
}

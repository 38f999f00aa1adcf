// Package domain contains core business entities and interfaces.
// This is the innermost layer in Clean Architecture - no external dependencies.
package domain

import "time"

// RuleKind selects the temporal semantics of a block rule.
type RuleKind string

const (
	// KindPermanent blocks the target whenever the rule is enabled.
	KindPermanent RuleKind = "permanent"
	// KindTimer blocks the target for a fixed window starting at StartTime.
	KindTimer RuleKind = "timer"
	// KindSchedule blocks the target during a weekly time-of-day window.
	KindSchedule RuleKind = "schedule"
)

// RuleSpec holds the fields shared by app and website rules.
// Timer fields are meaningful only when Kind is KindTimer, schedule
// fields only when Kind is KindSchedule. Kind is immutable after
// creation; changing kind means delete and recreate.
type RuleSpec struct {
	Kind      RuleKind
	Enabled   bool
	CreatedAt time.Time

	// Timer fields.
	StartTime       time.Time
	DurationMinutes int

	// Schedule fields. Days uses time.Weekday (Sunday == 0).
	Days        []time.Weekday
	StartHour   int
	StartMinute int
	EndHour     int
	EndMinute   int
}

// AppRule blocks an application identified by executable name and path.
type AppRule struct {
	ID      string
	AppName string
	AppPath string
	RuleSpec
}

// WebsiteRule blocks a normalized domain (lowercase, no scheme, no
// "www.", no path). Enforcement treats any running browser as the
// enforcement unit while a website rule is active.
type WebsiteRule struct {
	ID     string
	Domain string
	RuleSpec
}

// ProcessInfo describes one live OS process as seen by the inspector.
type ProcessInfo struct {
	Name string
	Path string
	PID  int32
}

// EventKind classifies an audit log entry.
type EventKind string

const (
	EventBlock      EventKind = "block"
	EventUnblock    EventKind = "unblock"
	EventKillswitch EventKind = "killswitch"
	EventViolation  EventKind = "violation"
)

// EventRecord is one entry in the bounded audit log.
type EventRecord struct {
	ID        string
	Kind      EventKind
	Target    string
	Timestamp time.Time
	Message   string
}

// EnforcementState is the master on/off state for blocking.
// Both flags must be true for website kills; app kills need only Armed.
type EnforcementState struct {
	Armed        bool
	WebsiteArmed bool
}

// Settings is the persisted application configuration.
type Settings struct {
	PINHash          string `json:"pin_hash,omitempty"`
	WebhookURL       string `json:"webhook_url,omitempty"`
	WebhookEnabled   bool   `json:"webhook_enabled"`
	NotifyBlock      bool   `json:"notify_block"`
	NotifyUnblock    bool   `json:"notify_unblock"`
	NotifyKillswitch bool   `json:"notify_killswitch"`
	SetupComplete    bool   `json:"setup_complete"`
	Armed            bool   `json:"armed"`
	WebsiteArmed     bool   `json:"website_armed"`
}

// DefaultSettings mirrors the first-run state: protection off,
// killswitch notifications on.
func DefaultSettings() Settings {
	return Settings{
		NotifyKillswitch: true,
	}
}

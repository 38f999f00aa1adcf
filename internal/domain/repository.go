package domain

import (
	"context"
	"time"
)

// Clock returns the current instant. Injected so tests can drive
// temporal logic deterministically instead of sleeping.
type Clock func() time.Time

// ProcessInspector handles OS process operations.
// Implementation: uses gopsutil for cross-platform support.
type ProcessInspector interface {
	// ListProcesses returns all live processes with name, path and PID.
	ListProcesses(ctx context.Context) ([]ProcessInfo, error)

	// ListBrowserProcesses returns the live processes recognized as
	// web browsers.
	ListBrowserProcesses(ctx context.Context) ([]ProcessInfo, error)

	// Kill terminates a process by PID (SIGKILL).
	Kill(pid int32) error
}

// PinHasher provides one-way PIN hashing and comparison.
type PinHasher interface {
	// Hash returns an opaque hash of the plaintext PIN.
	Hash(plaintext string) string

	// Verify reports whether plaintext hashes to storedHash.
	Verify(storedHash, plaintext string) bool
}

// Notifier delivers a message to an external webhook. Best effort:
// failures are logged by callers and never block enforcement.
type Notifier interface {
	Send(ctx context.Context, message string) error
}

// RuleStore persists block rules.
type RuleStore interface {
	AppRules() ([]AppRule, error)
	SaveAppRule(rule AppRule) error
	DeleteAppRule(id string) error

	WebsiteRules() ([]WebsiteRule, error)
	SaveWebsiteRule(rule WebsiteRule) error
	DeleteWebsiteRule(id string) error
}

// SettingsStore persists application settings.
type SettingsStore interface {
	Settings() (Settings, error)
	SaveSettings(settings Settings) error
}

// EventStore persists the bounded audit log, newest first.
type EventStore interface {
	Append(record EventRecord) error
	Events() ([]EventRecord, error)
	Clear() error
}

// Store is the full persistence surface backed by one database.
type Store interface {
	RuleStore
	SettingsStore
	EventStore

	// Close releases resources (e.g., database connection).
	Close() error
}

package infra

import (
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	// Ensure sqlcipher driver is registered.
	_ "github.com/mutecomm/go-sqlcipher/v4"

	"github.com/eliteGoblin/accountd/internal/domain"
)

const (
	storeDBName       = "accountd.db"
	defaultEventLimit = 100
)

// EncryptedStore implements domain.Store using a SQLCipher encrypted
// SQLite database. Rules, settings and the audit log all live in one
// file so a mutation is committed exactly when its row lands.
type EncryptedStore struct {
	db         *sql.DB
	dbPath     string
	eventLimit int
}

// NewEncryptedStore opens (or creates) the encrypted database. The key
// is used as the SQLCipher passphrase via PRAGMA key.
func NewEncryptedStore(dataDir string, key []byte, eventLimit int) (*EncryptedStore, error) {
	if err := os.MkdirAll(dataDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}
	if eventLimit <= 0 {
		eventLimit = defaultEventLimit
	}

	dbPath := filepath.Join(dataDir, storeDBName)
	keyHex := hex.EncodeToString(key)

	dsn := fmt.Sprintf("%s?_pragma_key=x'%s'&_pragma_cipher_page_size=4096", dbPath, keyHex)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open encrypted database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to encrypted database: %w", err)
	}

	store := &EncryptedStore{
		db:         db,
		dbPath:     dbPath,
		eventLimit: eventLimit,
	}
	if err := store.createTables(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}
	return store, nil
}

func (s *EncryptedStore) createTables() error {
	schema := `
	CREATE TABLE IF NOT EXISTS app_rules (
		id TEXT PRIMARY KEY,
		app_name TEXT NOT NULL,
		app_path TEXT NOT NULL,
		kind TEXT NOT NULL,
		enabled INTEGER NOT NULL,
		created_at INTEGER NOT NULL,
		start_time INTEGER NOT NULL DEFAULT 0,
		duration_minutes INTEGER NOT NULL DEFAULT 0,
		days TEXT NOT NULL DEFAULT '[]',
		start_hour INTEGER NOT NULL DEFAULT 0,
		start_minute INTEGER NOT NULL DEFAULT 0,
		end_hour INTEGER NOT NULL DEFAULT 0,
		end_minute INTEGER NOT NULL DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS website_rules (
		id TEXT PRIMARY KEY,
		domain TEXT NOT NULL,
		kind TEXT NOT NULL,
		enabled INTEGER NOT NULL,
		created_at INTEGER NOT NULL,
		start_time INTEGER NOT NULL DEFAULT 0,
		duration_minutes INTEGER NOT NULL DEFAULT 0,
		days TEXT NOT NULL DEFAULT '[]',
		start_hour INTEGER NOT NULL DEFAULT 0,
		start_minute INTEGER NOT NULL DEFAULT 0,
		end_hour INTEGER NOT NULL DEFAULT 0,
		end_minute INTEGER NOT NULL DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS meta (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS events (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		id TEXT NOT NULL,
		kind TEXT NOT NULL,
		target TEXT NOT NULL,
		message TEXT NOT NULL,
		timestamp INTEGER NOT NULL
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

// --- domain.RuleStore implementation ---

// AppRules returns all persisted app rules.
func (s *EncryptedStore) AppRules() ([]domain.AppRule, error) {
	rows, err := s.db.Query(`SELECT id, app_name, app_path, kind, enabled, created_at,
		start_time, duration_minutes, days, start_hour, start_minute, end_hour, end_minute
		FROM app_rules ORDER BY created_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rules []domain.AppRule
	for rows.Next() {
		var r domain.AppRule
		var enabled int
		var createdAt, startTime int64
		var days string
		if err := rows.Scan(&r.ID, &r.AppName, &r.AppPath, &r.Kind, &enabled, &createdAt,
			&startTime, &r.DurationMinutes, &days, &r.StartHour, &r.StartMinute, &r.EndHour, &r.EndMinute); err != nil {
			return nil, err
		}
		r.Enabled = enabled != 0
		r.CreatedAt = fromMillis(createdAt)
		r.StartTime = fromMillis(startTime)
		if r.Days, err = decodeDays(days); err != nil {
			return nil, err
		}
		rules = append(rules, r)
	}
	return rules, rows.Err()
}

// SaveAppRule inserts or replaces one app rule.
func (s *EncryptedStore) SaveAppRule(r domain.AppRule) error {
	days, err := encodeDays(r.Days)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(`INSERT OR REPLACE INTO app_rules
		(id, app_name, app_path, kind, enabled, created_at, start_time, duration_minutes,
		 days, start_hour, start_minute, end_hour, end_minute)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.AppName, r.AppPath, string(r.Kind), boolToInt(r.Enabled), toMillis(r.CreatedAt),
		toMillis(r.StartTime), r.DurationMinutes, days, r.StartHour, r.StartMinute, r.EndHour, r.EndMinute)
	return err
}

// DeleteAppRule removes one app rule by ID.
func (s *EncryptedStore) DeleteAppRule(id string) error {
	_, err := s.db.Exec(`DELETE FROM app_rules WHERE id = ?`, id)
	return err
}

// WebsiteRules returns all persisted website rules.
func (s *EncryptedStore) WebsiteRules() ([]domain.WebsiteRule, error) {
	rows, err := s.db.Query(`SELECT id, domain, kind, enabled, created_at,
		start_time, duration_minutes, days, start_hour, start_minute, end_hour, end_minute
		FROM website_rules ORDER BY created_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rules []domain.WebsiteRule
	for rows.Next() {
		var r domain.WebsiteRule
		var enabled int
		var createdAt, startTime int64
		var days string
		if err := rows.Scan(&r.ID, &r.Domain, &r.Kind, &enabled, &createdAt,
			&startTime, &r.DurationMinutes, &days, &r.StartHour, &r.StartMinute, &r.EndHour, &r.EndMinute); err != nil {
			return nil, err
		}
		r.Enabled = enabled != 0
		r.CreatedAt = fromMillis(createdAt)
		r.StartTime = fromMillis(startTime)
		if r.Days, err = decodeDays(days); err != nil {
			return nil, err
		}
		rules = append(rules, r)
	}
	return rules, rows.Err()
}

// SaveWebsiteRule inserts or replaces one website rule.
func (s *EncryptedStore) SaveWebsiteRule(r domain.WebsiteRule) error {
	days, err := encodeDays(r.Days)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(`INSERT OR REPLACE INTO website_rules
		(id, domain, kind, enabled, created_at, start_time, duration_minutes,
		 days, start_hour, start_minute, end_hour, end_minute)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.Domain, string(r.Kind), boolToInt(r.Enabled), toMillis(r.CreatedAt),
		toMillis(r.StartTime), r.DurationMinutes, days, r.StartHour, r.StartMinute, r.EndHour, r.EndMinute)
	return err
}

// DeleteWebsiteRule removes one website rule by ID.
func (s *EncryptedStore) DeleteWebsiteRule(id string) error {
	_, err := s.db.Exec(`DELETE FROM website_rules WHERE id = ?`, id)
	return err
}

// --- domain.SettingsStore implementation ---

const settingsKey = "settings"

// Settings returns the persisted settings, or defaults on first run.
func (s *EncryptedStore) Settings() (domain.Settings, error) {
	var value string
	err := s.db.QueryRow(`SELECT value FROM meta WHERE key = ?`, settingsKey).Scan(&value)
	if err == sql.ErrNoRows {
		return domain.DefaultSettings(), nil
	}
	if err != nil {
		return domain.Settings{}, err
	}

	var settings domain.Settings
	if err := json.Unmarshal([]byte(value), &settings); err != nil {
		return domain.Settings{}, fmt.Errorf("failed to decode settings: %w", err)
	}
	return settings, nil
}

// SaveSettings persists the full settings record.
func (s *EncryptedStore) SaveSettings(settings domain.Settings) error {
	value, err := json.Marshal(settings)
	if err != nil {
		return fmt.Errorf("failed to encode settings: %w", err)
	}
	_, err = s.db.Exec(`INSERT OR REPLACE INTO meta (key, value) VALUES (?, ?)`,
		settingsKey, string(value))
	return err
}

// --- domain.EventStore implementation ---

// Append inserts one event and trims the log to the configured cap,
// discarding the oldest entries on overflow.
func (s *EncryptedStore) Append(record domain.EventRecord) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(`INSERT INTO events (id, kind, target, message, timestamp)
		VALUES (?, ?, ?, ?, ?)`,
		record.ID, string(record.Kind), record.Target, record.Message, toMillis(record.Timestamp)); err != nil {
		return err
	}
	if _, err := tx.Exec(`DELETE FROM events WHERE seq NOT IN
		(SELECT seq FROM events ORDER BY seq DESC LIMIT ?)`, s.eventLimit); err != nil {
		return err
	}
	return tx.Commit()
}

// Events returns the log newest first.
func (s *EncryptedStore) Events() ([]domain.EventRecord, error) {
	rows, err := s.db.Query(`SELECT id, kind, target, message, timestamp
		FROM events ORDER BY seq DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []domain.EventRecord
	for rows.Next() {
		var e domain.EventRecord
		var ts int64
		if err := rows.Scan(&e.ID, &e.Kind, &e.Target, &e.Message, &ts); err != nil {
			return nil, err
		}
		e.Timestamp = fromMillis(ts)
		events = append(events, e)
	}
	return events, rows.Err()
}

// Clear empties the event log.
func (s *EncryptedStore) Clear() error {
	_, err := s.db.Exec(`DELETE FROM events`)
	return err
}

// Close releases the database connection.
func (s *EncryptedStore) Close() error {
	return s.db.Close()
}

// DBPath returns the database file path (for status display and tests).
func (s *EncryptedStore) DBPath() string {
	return s.dbPath
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func toMillis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}

func encodeDays(days []time.Weekday) (string, error) {
	if days == nil {
		days = []time.Weekday{}
	}
	raw, err := json.Marshal(days)
	if err != nil {
		return "", fmt.Errorf("failed to encode days: %w", err)
	}
	return string(raw), nil
}

func decodeDays(raw string) ([]time.Weekday, error) {
	var days []time.Weekday
	if err := json.Unmarshal([]byte(raw), &days); err != nil {
		return nil, fmt.Errorf("failed to decode days: %w", err)
	}
	if len(days) == 0 {
		return nil, nil
	}
	return days, nil
}

// Ensure EncryptedStore implements domain.Store.
var _ domain.Store = (*EncryptedStore)(nil)

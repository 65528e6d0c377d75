// Package store keeps preferences and the reminder log in SQLite.
package store

import (
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// Preference keys.
const (
	KeyStayOnTop     = "stay_on_top_detached"
	KeyNotifications = "notifications_enabled"
)

// schemaVersion is bumped whenever migrateSchema gains a step.
const schemaVersion = 2

// Store provides SQLite storage for claudit
type Store struct {
	db *sql.DB
}

// New opens (or creates) the database at dbPath. ":memory:" is accepted.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Settings traffic is tiny; one writer plus one reader is plenty.
	db.SetMaxOpenConns(2)
	db.SetMaxIdleConns(1)
	if dbPath == ":memory:" {
		// each connection would get its own empty database
		db.SetMaxOpenConns(1)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA cache_size=-500;",
		"PRAGMA busy_timeout=5000;",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to set pragma: %w", err)
		}
	}

	s := &Store{db: db}
	if err := s.createTables(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}
	if err := s.migrateSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate schema: %w", err)
	}
	return s, nil
}

func (s *Store) createTables() error {
	schema := `
		CREATE TABLE IF NOT EXISTS schema_version (
			version INTEGER NOT NULL
		);

		CREATE TABLE IF NOT EXISTS settings (
			key   TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);

		-- Reminder log (dedup: one row per quota_key + notification_type)
		CREATE TABLE IF NOT EXISTS notification_log (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			quota_key TEXT NOT NULL,
			notification_type TEXT NOT NULL,
			sent_at TEXT NOT NULL,
			utilization REAL,
			UNIQUE(quota_key, notification_type)
		);
	`
	_, err := s.db.Exec(schema)
	return err
}

// migrateSchema brings older databases up to schemaVersion.
func (s *Store) migrateSchema() error {
	// v2: the reset window a reminder was sent for
	if _, err := s.db.Exec(`
		ALTER TABLE notification_log ADD COLUMN cycle TEXT NOT NULL DEFAULT ''
	`); err != nil {
		if !strings.Contains(err.Error(), "duplicate column name") {
			return fmt.Errorf("failed to add cycle to notification_log: %w", err)
		}
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin version update: %w", err)
	}
	defer tx.Rollback()
	if _, err := tx.Exec(`DELETE FROM schema_version`); err != nil {
		return fmt.Errorf("failed to clear schema_version: %w", err)
	}
	if _, err := tx.Exec(`INSERT INTO schema_version (version) VALUES (?)`, schemaVersion); err != nil {
		return fmt.Errorf("failed to record schema_version: %w", err)
	}
	return tx.Commit()
}

// SchemaVersion returns the recorded schema version.
func (s *Store) SchemaVersion() (int, error) {
	var v int
	if err := s.db.QueryRow(`SELECT version FROM schema_version LIMIT 1`).Scan(&v); err != nil {
		return 0, fmt.Errorf("store.SchemaVersion: %w", err)
	}
	return v, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// GetSetting returns the value for a setting key. Returns "" if not found.
func (s *Store) GetSetting(key string) (string, error) {
	var value string
	err := s.db.QueryRow("SELECT value FROM settings WHERE key = ?", key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("store.GetSetting: %w", err)
	}
	return value, nil
}

// SetSetting inserts or replaces a setting value.
func (s *Store) SetSetting(key, value string) error {
	_, err := s.db.Exec("INSERT OR REPLACE INTO settings (key, value) VALUES (?, ?)", key, value)
	if err != nil {
		return fmt.Errorf("store.SetSetting: %w", err)
	}
	return nil
}

// GetBool returns a boolean setting, or def when unset or unparsable.
func (s *Store) GetBool(key string, def bool) (bool, error) {
	v, err := s.GetSetting(key)
	if err != nil || v == "" {
		return def, err
	}
	b, perr := strconv.ParseBool(v)
	if perr != nil {
		return def, nil
	}
	return b, nil
}

// SetBool stores a boolean setting.
func (s *Store) SetBool(key string, value bool) error {
	return s.SetSetting(key, strconv.FormatBool(value))
}

// UpsertNotificationLog records that a notification of notifType was sent
// for quotaKey in the given reset cycle. Only the latest row per
// quota+type pair is kept.
func (s *Store) UpsertNotificationLog(quotaKey, notifType, cycle string, util float64) error {
	_, err := s.db.Exec(
		`INSERT OR REPLACE INTO notification_log (quota_key, notification_type, cycle, sent_at, utilization)
		 VALUES (?, ?, ?, ?, ?)`,
		quotaKey, notifType, cycle, time.Now().UTC().Format(time.RFC3339Nano), util,
	)
	if err != nil {
		return fmt.Errorf("store.UpsertNotificationLog: %w", err)
	}
	return nil
}

// NotificationEntry is one notification_log row.
type NotificationEntry struct {
	Cycle       string
	SentAt      time.Time
	Utilization float64
}

// GetLastNotification returns the last entry for a quota+type pair, or nil.
func (s *Store) GetLastNotification(quotaKey, notifType string) (*NotificationEntry, error) {
	var sentAtStr string
	var entry NotificationEntry
	var util sql.NullFloat64
	err := s.db.QueryRow(
		`SELECT cycle, sent_at, utilization FROM notification_log
		WHERE quota_key = ? AND notification_type = ?`,
		quotaKey, notifType,
	).Scan(&entry.Cycle, &sentAtStr, &util)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store.GetLastNotification: %w", err)
	}
	entry.SentAt, _ = time.Parse(time.RFC3339Nano, sentAtStr)
	entry.Utilization = util.Float64
	return &entry, nil
}

// ClearNotificationLog removes all entries for quotaKey.
func (s *Store) ClearNotificationLog(quotaKey string) error {
	_, err := s.db.Exec(`DELETE FROM notification_log WHERE quota_key = ?`, quotaKey)
	if err != nil {
		return fmt.Errorf("store.ClearNotificationLog: %w", err)
	}
	return nil
}

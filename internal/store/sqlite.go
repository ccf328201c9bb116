package store

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"fnmoded/internal/keymode"
)

// ErrNotConcrete is returned when a rule carries an inherited behavior.
// Inherited means "no rule": callers delete instead of storing it.
var ErrNotConcrete = errors.New("rule behavior must be apple or other")

// Options configures the SQLite connection.
type Options struct {
	// BusyTimeoutMs is the SQLite busy timeout. Zero means 5000.
	BusyTimeoutMs int

	// MaxConnections caps the connection pool. Zero means 5.
	MaxConnections int
}

// Store is the SQLite rules store.
type Store struct {
	db *sql.DB
}

// Open opens or creates the rules database at the given path and runs
// migrations.
func Open(path string) (*Store, error) {
	return OpenWithOptions(path, Options{})
}

// OpenWithOptions opens the rules database with explicit connection options.
func OpenWithOptions(path string, opts Options) (*Store, error) {
	if opts.BusyTimeoutMs <= 0 {
		opts.BusyTimeoutMs = 5000
	}
	if opts.MaxConnections <= 0 {
		opts.MaxConnections = 5
	}

	// Ensure parent directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	dsn := fmt.Sprintf("file:%s?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=%d", path, opts.BusyTimeoutMs)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(opts.MaxConnections)
	db.SetConnMaxLifetime(0)

	if err := runMigrations(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply migrations: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// UpsertRule inserts or updates a rule keyed by app id.
func (s *Store) UpsertRule(r *Rule) error {
	if !r.Behavior.Concrete() {
		return ErrNotConcrete
	}

	now := time.Now().UTC()
	if r.CreatedAt.IsZero() {
		r.CreatedAt = now
	}
	r.UpdatedAt = now

	_, err := s.db.Exec(`
		INSERT INTO rules (app_id, app_name, app_path, behavior, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(app_id) DO UPDATE SET
			app_name   = excluded.app_name,
			app_path   = CASE WHEN excluded.app_path != '' THEN excluded.app_path ELSE rules.app_path END,
			behavior   = excluded.behavior,
			updated_at = excluded.updated_at`,
		r.AppID, r.AppName, r.AppPath, r.Behavior.String(), r.CreatedAt.Unix(), r.UpdatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("upsert rule: %w", err)
	}

	return nil
}

// DeleteRule removes the rule for an app id. It reports whether a rule
// existed; deleting an absent rule is not an error.
func (s *Store) DeleteRule(appID string) (bool, error) {
	result, err := s.db.Exec(`DELETE FROM rules WHERE app_id = ?`, appID)
	if err != nil {
		return false, fmt.Errorf("delete rule: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("get rows affected: %w", err)
	}

	return rowsAffected > 0, nil
}

// GetRule retrieves the rule for an app id, or nil if none exists.
func (s *Store) GetRule(appID string) (*Rule, error) {
	row := s.db.QueryRow(`
		SELECT app_id, app_name, app_path, behavior, created_at, updated_at
		FROM rules WHERE app_id = ?`, appID,
	)

	r, err := scanRule(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get rule: %w", err)
	}

	return r, nil
}

// ListRules returns all rules sorted by app name, then app id.
func (s *Store) ListRules() ([]Rule, error) {
	rows, err := s.db.Query(`
		SELECT app_id, app_name, app_path, behavior, created_at, updated_at
		FROM rules
		ORDER BY app_name COLLATE NOCASE ASC, app_id ASC`,
	)
	if err != nil {
		return nil, fmt.Errorf("query rules: %w", err)
	}
	defer rows.Close()

	var rules []Rule
	for rows.Next() {
		r, err := scanRule(rows)
		if err != nil {
			return nil, fmt.Errorf("scan rule: %w", err)
		}
		rules = append(rules, *r)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rules: %w", err)
	}

	return rules, nil
}

// CountRules returns the number of stored rules.
func (s *Store) CountRules() (int, error) {
	var n int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM rules`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count rules: %w", err)
	}
	return n, nil
}

// ReplaceAllRules atomically replaces the rule set. Used by imports with
// replace semantics.
func (s *Store) ReplaceAllRules(rules []Rule) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM rules`); err != nil {
		return fmt.Errorf("clear rules: %w", err)
	}

	stmt, err := tx.Prepare(`
		INSERT INTO rules (app_id, app_name, app_path, behavior, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare statement: %w", err)
	}
	defer stmt.Close()

	now := time.Now().UTC()
	for _, r := range rules {
		if !r.Behavior.Concrete() {
			return fmt.Errorf("rule %s: %w", r.AppID, ErrNotConcrete)
		}
		createdAt := r.CreatedAt
		if createdAt.IsZero() {
			createdAt = now
		}
		if _, err := stmt.Exec(r.AppID, r.AppName, r.AppPath, r.Behavior.String(), createdAt.Unix(), now.Unix()); err != nil {
			return fmt.Errorf("insert rule %s: %w", r.AppID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}

	return nil
}

// GetSetting retrieves a settings value, or "" if unset.
func (s *Store) GetSetting(key string) (string, error) {
	var value string
	err := s.db.QueryRow(`SELECT value FROM settings WHERE key = ?`, key).Scan(&value)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", nil
		}
		return "", fmt.Errorf("get setting: %w", err)
	}
	return value, nil
}

// SetSetting stores a settings value.
func (s *Store) SetSetting(key, value string) error {
	_, err := s.db.Exec(`
		INSERT INTO settings (key, value, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			value      = excluded.value,
			updated_at = excluded.updated_at`,
		key, value, time.Now().UTC().Unix(),
	)
	if err != nil {
		return fmt.Errorf("set setting: %w", err)
	}
	return nil
}

// DeleteSetting removes a settings value.
func (s *Store) DeleteSetting(key string) error {
	if _, err := s.db.Exec(`DELETE FROM settings WHERE key = ?`, key); err != nil {
		return fmt.Errorf("delete setting: %w", err)
	}
	return nil
}

// scanner is satisfied by *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanRule(s scanner) (*Rule, error) {
	var r Rule
	var behavior string
	var createdAt, updatedAt int64

	if err := s.Scan(&r.AppID, &r.AppName, &r.AppPath, &behavior, &createdAt, &updatedAt); err != nil {
		return nil, err
	}

	parsed, err := keymode.ParseAppBehavior(behavior)
	if err != nil {
		return nil, fmt.Errorf("parse behavior: %w", err)
	}
	r.Behavior = parsed
	r.CreatedAt = time.Unix(createdAt, 0).UTC()
	r.UpdatedAt = time.Unix(updatedAt, 0).UTC()

	return &r, nil
}

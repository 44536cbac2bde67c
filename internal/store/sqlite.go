package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore is a Backend persisted in a single SQLite file.
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

// OpenSQLite opens (creating if needed) the database at path and applies
// migrations. A nil clock means time.Now.
func OpenSQLite(ctx context.Context, path string, now func() time.Time) (*SQLiteStore, error) {
	if path == "" {
		return nil, errors.New("sqlite path is empty")
	}
	if now == nil {
		now = time.Now
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
			return nil, fmt.Errorf("failed to create store directory: %w", err)
		}
	}

	// modernc.org/sqlite driver name is "sqlite".
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// The panel server and the flush job share one writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA busy_timeout=5000;",
	}
	for _, p := range pragmas {
		if _, err := db.ExecContext(ctx, p); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", p, err)
		}
	}

	s := &SQLiteStore{db: db, now: now}
	if err := s.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) migrate(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS properties (
			user TEXT NOT NULL,
			k TEXT NOT NULL,
			v TEXT NOT NULL,
			PRIMARY KEY (user, k)
		);`,
		`CREATE TABLE IF NOT EXISTS cache (
			user TEXT NOT NULL,
			k TEXT NOT NULL,
			v TEXT NOT NULL,
			expires_at_unixms INTEGER NOT NULL,
			PRIMARY KEY (user, k)
		);`,
		`CREATE INDEX IF NOT EXISTS cache_expiry ON cache(expires_at_unixms);`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to migrate sqlite store: %w", err)
		}
	}
	return nil
}

func (s *SQLiteStore) nowMs() int64 { return s.now().UnixMilli() }

// GetCache returns the live value under key.
func (s *SQLiteStore) GetCache(ctx context.Context, user, key string) (string, bool, error) {
	var v string
	err := s.db.QueryRowContext(ctx,
		`SELECT v FROM cache WHERE user = ? AND k = ? AND expires_at_unixms > ?`,
		user, key, s.nowMs()).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to read cache %s: %w", key, err)
	}
	return v, true, nil
}

// PutCache stores value under key until ttl elapses.
func (s *SQLiteStore) PutCache(ctx context.Context, user, key, value string, ttl time.Duration) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO cache (user, k, v, expires_at_unixms) VALUES (?, ?, ?, ?)
		 ON CONFLICT(user, k) DO UPDATE SET v = excluded.v, expires_at_unixms = excluded.expires_at_unixms`,
		user, key, value, s.now().Add(ttl).UnixMilli())
	if err != nil {
		return fmt.Errorf("failed to write cache %s: %w", key, err)
	}
	return nil
}

// RemoveCache deletes key from the cache.
func (s *SQLiteStore) RemoveCache(ctx context.Context, user, key string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM cache WHERE user = ? AND k = ?`, user, key); err != nil {
		return fmt.Errorf("failed to remove cache %s: %w", key, err)
	}
	return nil
}

// PurgeExpired deletes expired cache rows and reports how many went.
func (s *SQLiteStore) PurgeExpired(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM cache WHERE expires_at_unixms <= ?`, s.nowMs())
	if err != nil {
		return 0, fmt.Errorf("failed to purge cache: %w", err)
	}
	return res.RowsAffected()
}

// GetProperty returns the stored property value.
func (s *SQLiteStore) GetProperty(ctx context.Context, user, key string) (string, bool, error) {
	var v string
	err := s.db.QueryRowContext(ctx, `SELECT v FROM properties WHERE user = ? AND k = ?`, user, key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to read property %s: %w", key, err)
	}
	return v, true, nil
}

// SetProperty stores a property value.
func (s *SQLiteStore) SetProperty(ctx context.Context, user, key, value string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO properties (user, k, v) VALUES (?, ?, ?)
		 ON CONFLICT(user, k) DO UPDATE SET v = excluded.v`,
		user, key, value)
	if err != nil {
		return fmt.Errorf("failed to write property %s: %w", key, err)
	}
	return nil
}

// DeleteProperty removes a property.
func (s *SQLiteStore) DeleteProperty(ctx context.Context, user, key string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM properties WHERE user = ? AND k = ?`, user, key); err != nil {
		return fmt.Errorf("failed to delete property %s: %w", key, err)
	}
	return nil
}

// UsersWithCache lists, sorted, the users holding a live value under key.
func (s *SQLiteStore) UsersWithCache(ctx context.Context, key string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT user FROM cache WHERE k = ? AND expires_at_unixms > ? ORDER BY user`, key, s.nowMs())
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	defer rows.Close()

	var users []string
	for rows.Next() {
		var u string
		if err := rows.Scan(&u); err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

// DeletePropertyAll removes key from every user.
func (s *SQLiteStore) DeletePropertyAll(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM properties WHERE k = ?`, key); err != nil {
		return fmt.Errorf("failed to delete property %s: %w", key, err)
	}
	return nil
}

// Close releases the store.
func (s *SQLiteStore) Close() error { return s.db.Close() }

// Package cache provides local key-value persistence with TTL expiry and a
// bounded FIFO queue, backed by a SQLite file. The driver agent uses it to
// hold location updates while offline; the tracking client uses it for
// last-known snapshot fallback.
package cache

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// ErrNotFound is returned by Get when a key is absent or expired.
var ErrNotFound = errors.New("cache: not found")

const schema = `
CREATE TABLE IF NOT EXISTS kv (
    key        TEXT PRIMARY KEY,
    value      BLOB NOT NULL,
    expires_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS queue (
    id        INTEGER PRIMARY KEY AUTOINCREMENT,
    namespace TEXT NOT NULL,
    payload   BLOB NOT NULL,
    created_at TEXT NOT NULL DEFAULT (datetime('now'))
);
CREATE INDEX IF NOT EXISTS idx_queue_ns ON queue(namespace, id);
`

// Cache is a SQLite-backed TTL store.
type Cache struct {
	db *sql.DB

	// now is swappable for expiry tests.
	now func() time.Time
}

// Open opens (or creates) a cache database at path.
func Open(path string) (*Cache, error) {
	dsn := fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=5000", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open cache: %w", err)
	}
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate cache: %w", err)
	}
	return &Cache{db: db, now: time.Now}, nil
}

// Close closes the underlying database.
func (c *Cache) Close() error { return c.db.Close() }

// Put stores a value under key with the given TTL, replacing any prior entry.
func (c *Cache) Put(key string, value []byte, ttl time.Duration) error {
	expires := c.now().Add(ttl).UTC().Format(time.RFC3339)
	_, err := c.db.Exec(`INSERT INTO kv (key, value, expires_at) VALUES (?, ?, ?)
		ON CONFLICT (key) DO UPDATE SET value = excluded.value, expires_at = excluded.expires_at`,
		key, value, expires)
	return err
}

// Get returns the value for key. Expired entries are deleted on read and
// reported as ErrNotFound.
func (c *Cache) Get(key string) ([]byte, error) {
	var value []byte
	var expiresAt string
	err := c.db.QueryRow(`SELECT value, expires_at FROM kv WHERE key = ?`, key).Scan(&value, &expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	expires, err := time.Parse(time.RFC3339, expiresAt)
	if err != nil || c.now().After(expires) {
		c.db.Exec(`DELETE FROM kv WHERE key = ?`, key)
		return nil, ErrNotFound
	}
	return value, nil
}

// Delete removes a key. Deleting an absent key is not an error.
func (c *Cache) Delete(key string) error {
	_, err := c.db.Exec(`DELETE FROM kv WHERE key = ?`, key)
	return err
}

// DeletePrefix removes all keys in a namespace.
func (c *Cache) DeletePrefix(prefix string) error {
	_, err := c.db.Exec(`DELETE FROM kv WHERE key LIKE ? || '%'`, prefix)
	return err
}

// Sweep deletes all expired entries. Correctness does not depend on it;
// it only bounds storage growth.
func (c *Cache) Sweep() error {
	_, err := c.db.Exec(`DELETE FROM kv WHERE expires_at < ?`, c.now().UTC().Format(time.RFC3339))
	return err
}

package oracle

import (
	"database/sql"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	_ "modernc.org/sqlite" // Pure Go SQLite driver
)

// SQLiteCache is a JumpInfoCache persisted in a local sqlite database, so
// repeated analysis runs over the same code base skip straight to the
// fixed point. Safe for concurrent use; sqlite serialises writers, and the
// mutex keeps the single connection honest under modernc's driver.
type SQLiteCache struct {
	db      *sql.DB
	session string // identifies the run that wrote each row
	mu      sync.Mutex
}

const cacheSchema = `
CREATE TABLE IF NOT EXISTS jump_info (
	method_key TEXT PRIMARY KEY,
	payload    BLOB NOT NULL,
	session    TEXT NOT NULL,
	updated_at INTEGER NOT NULL
);
`

// OpenSQLiteCache opens (creating if needed) the cache database at path.
// ":memory:" gives a throwaway cache for tests.
func OpenSQLiteCache(path string) (*SQLiteCache, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.Wrap(err, "opening analysis cache")
	}
	if _, err := db.Exec(cacheSchema); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "creating analysis cache schema")
	}
	return &SQLiteCache{db: db, session: uuid.NewString()}, nil
}

// Session returns the identifier rows written by this cache instance carry.
func (c *SQLiteCache) Session() string { return c.session }

// Load returns the stored payload for a method, or (nil, nil) on a miss.
func (c *SQLiteCache) Load(methodKey string) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var payload []byte
	err := c.db.QueryRow(
		`SELECT payload FROM jump_info WHERE method_key = ?`, methodKey,
	).Scan(&payload)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "loading jump info for %s", methodKey)
	}
	return payload, nil
}

// Store upserts the payload for a method.
func (c *SQLiteCache) Store(methodKey string, encoded []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, err := c.db.Exec(
		`INSERT INTO jump_info (method_key, payload, session, updated_at)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT(method_key) DO UPDATE SET
		   payload = excluded.payload,
		   session = excluded.session,
		   updated_at = excluded.updated_at`,
		methodKey, encoded, c.session, time.Now().Unix(),
	)
	return errors.Wrapf(err, "storing jump info for %s", methodKey)
}

// Evict drops the entry for a method, forcing a fresh analysis next run.
func (c *SQLiteCache) Evict(methodKey string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, err := c.db.Exec(`DELETE FROM jump_info WHERE method_key = ?`, methodKey)
	return errors.Wrapf(err, "evicting jump info for %s", methodKey)
}

// Close releases the underlying database.
func (c *SQLiteCache) Close() error {
	return c.db.Close()
}

// MemoryCache is the in-process JumpInfoCache used when persistence is not
// wanted.
type MemoryCache struct {
	mu      sync.RWMutex
	entries map[string][]byte
}

// NewMemoryCache returns an empty in-memory cache.
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{entries: make(map[string][]byte)}
}

// Load returns the stored payload, or (nil, nil) on a miss.
func (c *MemoryCache) Load(methodKey string) ([]byte, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	blob, ok := c.entries[methodKey]
	if !ok {
		return nil, nil
	}
	out := make([]byte, len(blob))
	copy(out, blob)
	return out, nil
}

// Store records the payload.
func (c *MemoryCache) Store(methodKey string, encoded []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	blob := make([]byte, len(encoded))
	copy(blob, encoded)
	c.entries[methodKey] = blob
	return nil
}

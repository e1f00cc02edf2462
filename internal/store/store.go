package store

import (
	"database/sql"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// Store provides typed access to the chat tables. It is safe for concurrent
// use; SQLite serializes writers and callers retry contention via WithRetry.
type Store struct {
	db       *sql.DB
	settings *gocache.Cache
	mu       sync.RWMutex
	fallback EngineSettings
}

// settingsTTL bounds how stale a cached engine-settings read may be.
const settingsTTL = 30 * time.Second

// New wraps an open database handle. fallback supplies engine settings when
// the settings table has no values.
func New(db *sql.DB, fallback EngineSettings) *Store {
	return &Store{
		db:       db,
		settings: gocache.New(settingsTTL, time.Minute),
		fallback: fallback,
	}
}

// SetFallback replaces the fallback engine settings (config hot-reload) and
// invalidates the cached effective settings.
func (s *Store) SetFallback(fallback EngineSettings) {
	s.mu.Lock()
	s.fallback = fallback
	s.mu.Unlock()
	s.settings.Delete(settingsCacheKey)
}

// DB exposes the underlying handle for migrations and tests.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Close closes the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

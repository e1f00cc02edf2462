package store

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/ncruces/go-sqlite3"
)

// DefaultRetryBackoff is the base wait between contended write attempts.
// Attempt n waits n times this value.
const DefaultRetryBackoff = 200 * time.Millisecond

// IsContention reports whether err is a transient SQLite write-contention
// error (SQLITE_BUSY or SQLITE_LOCKED). Anything else is treated as fatal
// by the retry helper.
func IsContention(err error) bool {
	if err == nil {
		return false
	}
	var serr *sqlite3.Error
	if errors.As(err, &serr) {
		switch serr.Code() {
		case sqlite3.BUSY, sqlite3.LOCKED:
			return true
		}
	}
	// Driver-wrapped errors lose the typed code.
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "database is locked") || strings.Contains(msg, "database is busy")
}

// WithRetry runs fn up to attempts times, waiting backoff*attempt between
// tries. Only contention errors are retried; any other error returns
// immediately. The last error is returned when attempts are exhausted.
func WithRetry(ctx context.Context, attempts int, backoff time.Duration, fn func() error) error {
	if attempts < 1 {
		attempts = 1
	}
	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		err = fn()
		if err == nil || !IsContention(err) || attempt == attempts {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff * time.Duration(attempt)):
		}
	}
	return err
}

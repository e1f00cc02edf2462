package store

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

var errLocked = errors.New("sqlite3: database is locked")

func TestIsContention(t *testing.T) {
	assert.False(t, IsContention(nil))
	assert.True(t, IsContention(errLocked))
	assert.True(t, IsContention(fmt.Errorf("updating message: %w", errLocked)))
	assert.True(t, IsContention(errors.New("database is busy")))
	assert.False(t, IsContention(errors.New("UNIQUE constraint failed")))
}

func TestWithRetry_SucceedsOnThirdAttempt(t *testing.T) {
	calls := 0
	err := WithRetry(context.Background(), 3, time.Millisecond, func() error {
		calls++
		if calls < 3 {
			return errLocked
		}
		return nil
	})
	assert.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestWithRetry_NonContentionFailsImmediately(t *testing.T) {
	calls := 0
	fatal := errors.New("constraint violated")
	err := WithRetry(context.Background(), 3, time.Millisecond, func() error {
		calls++
		return fatal
	})
	assert.ErrorIs(t, err, fatal)
	assert.Equal(t, 1, calls)
}

func TestWithRetry_ExhaustsAttempts(t *testing.T) {
	calls := 0
	err := WithRetry(context.Background(), 3, time.Millisecond, func() error {
		calls++
		return errLocked
	})
	assert.ErrorIs(t, err, errLocked)
	assert.Equal(t, 3, calls)
}

func TestWithRetry_StopsOnContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	calls := 0
	err := WithRetry(ctx, 3, 10*time.Second, func() error {
		calls++
		return errLocked
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}

func TestWithRetry_AttemptsFloorIsOne(t *testing.T) {
	calls := 0
	err := WithRetry(context.Background(), 0, time.Millisecond, func() error {
		calls++
		return nil
	})
	assert.NoError(t, err)
	assert.Equal(t, 1, calls)
}

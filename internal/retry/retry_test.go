package retry_test

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonesrussell/north-cloud/reader/internal/logger"
	"github.com/jonesrussell/north-cloud/reader/internal/retry"
)

func fastConfig() retry.Config {
	return retry.Config{MaxAttempts: 3, InitialDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond}
}

func TestDo_SucceedsAfterTransientFailures(t *testing.T) {
	calls := 0
	v, err := retry.Do(context.Background(), fastConfig(), logger.NewTest(t), func(context.Context) (string, error) {
		calls++
		if calls < 3 {
			return "", errors.New("dial tcp: connection refused")
		}
		return "ok", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "ok", v)
	assert.Equal(t, 3, calls)
}

func TestDo_StopsOnPermanentError(t *testing.T) {
	permanent := errors.New("post not found")
	calls := 0
	_, err := retry.Do(context.Background(), fastConfig(), nil, func(context.Context) (int, error) {
		calls++
		return 0, permanent
	})
	require.ErrorIs(t, err, permanent)
	assert.Equal(t, 1, calls)
}

func TestDo_Exhausted(t *testing.T) {
	calls := 0
	_, err := retry.Do(context.Background(), fastConfig(), nil, func(context.Context) (int, error) {
		calls++
		return 0, sql.ErrConnDone
	})
	require.ErrorIs(t, err, retry.ErrExhausted)
	require.ErrorIs(t, err, sql.ErrConnDone)
	assert.Equal(t, 3, calls)
}

func TestDo_ContextCancelledBetweenAttempts(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cfg := retry.Config{MaxAttempts: 5, InitialDelay: time.Hour}

	_, err := retry.Do(ctx, cfg, nil, func(context.Context) (int, error) {
		cancel()
		return 0, context.DeadlineExceeded
	})
	require.ErrorIs(t, err, context.Canceled)
}

func TestIsTransient(t *testing.T) {
	assert.True(t, retry.IsTransient(context.DeadlineExceeded))
	assert.True(t, retry.IsTransient(errors.New("read: Connection Reset by peer")))
	assert.False(t, retry.IsTransient(context.Canceled))
	assert.False(t, retry.IsTransient(nil))
	assert.False(t, retry.IsTransient(errors.New("syntax error")))
}

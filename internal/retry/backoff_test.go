package retry

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDo(t *testing.T) {
	cfg := Config{MaxRetries: 3, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond, Multiplier: 2.0}

	t.Run("first attempt succeeds", func(t *testing.T) {
		calls := 0
		err := Do(context.Background(), cfg, func() error {
			calls++
			return nil
		})
		require.NoError(t, err)
		assert.Equal(t, 1, calls)
	})

	t.Run("succeeds after failures", func(t *testing.T) {
		calls := 0
		err := Do(context.Background(), cfg, func() error {
			calls++
			if calls < 3 {
				return errors.New("connection refused")
			}
			return nil
		})
		require.NoError(t, err)
		assert.Equal(t, 3, calls)
	})

	t.Run("exhausts attempts", func(t *testing.T) {
		calls := 0
		wantErr := errors.New("boom")
		err := Do(context.Background(), cfg, func() error {
			calls++
			return wantErr
		})
		assert.ErrorIs(t, err, wantErr)
		assert.Equal(t, 4, calls) // initial attempt + 3 retries
	})

	t.Run("zero retries means one attempt", func(t *testing.T) {
		calls := 0
		_ = Do(context.Background(), None(), func() error {
			calls++
			return errors.New("x")
		})
		assert.Equal(t, 1, calls)
	})

	t.Run("cancelled context stops retrying", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		calls := 0
		err := Do(ctx, cfg, func() error {
			calls++
			return errors.New("x")
		})
		assert.ErrorIs(t, err, context.Canceled)
		assert.Equal(t, 1, calls)
	})
}

func TestDelayFor(t *testing.T) {
	cfg := Config{BaseDelay: time.Second, MaxDelay: 4 * time.Second, Multiplier: 2.0}

	assert.Equal(t, time.Second, delayFor(cfg, 0))
	assert.Equal(t, 2*time.Second, delayFor(cfg, 1))
	assert.Equal(t, 4*time.Second, delayFor(cfg, 2))
	// capped at MaxDelay
	assert.Equal(t, 4*time.Second, delayFor(cfg, 10))

	jittered := cfg
	jittered.Jitter = true
	for i := 0; i < 50; i++ {
		d := delayFor(jittered, 1)
		assert.InDelta(t, float64(2*time.Second), float64(d), float64(200*time.Millisecond))
	}
}

func TestIsRetryableError(t *testing.T) {
	assert.False(t, IsRetryableError(nil))
	assert.False(t, IsRetryableError(errors.New("validation failed")))
	assert.True(t, IsRetryableError(fmt.Errorf("dial tcp: connection refused")))
	assert.True(t, IsRetryableError(errors.New("unexpected EOF")))
	assert.True(t, IsRetryableError(errors.New("i/o timeout")))
}

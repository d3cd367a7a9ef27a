package net

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRetryPacer_FirstAttemptImmediate(t *testing.T) {
	p := NewRetryPacer(time.Hour)

	start := time.Now()
	require.NoError(t, p.Wait(context.Background()))
	assert.Less(t, time.Since(start), 100*time.Millisecond)
}

func TestRetryPacer_SpacesAttempts(t *testing.T) {
	p := NewRetryPacer(50 * time.Millisecond)
	ctx := context.Background()

	start := time.Now()
	for i := 0; i < 3; i++ {
		require.NoError(t, p.Wait(ctx))
	}
	// three attempts need two full intervals
	assert.GreaterOrEqual(t, time.Since(start), 90*time.Millisecond)
}

func TestRetryPacer_Cancel(t *testing.T) {
	p := NewRetryPacer(time.Hour)
	require.NoError(t, p.Wait(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.Error(t, p.Wait(ctx))
}

func TestRetryPacer_Reload(t *testing.T) {
	p := NewRetryPacer(time.Hour)
	require.NoError(t, p.Wait(context.Background()))

	p.Reload(0)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	for i := 0; i < 10; i++ {
		require.NoError(t, p.Wait(ctx))
	}
}

func TestRetryPacer_DeadlineTooClose(t *testing.T) {
	p := NewRetryPacer(time.Hour)
	require.NoError(t, p.Wait(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	start := time.Now()
	err := p.Wait(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), time.Second)
}

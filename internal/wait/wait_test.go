package wait

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSleepCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, Sleep(ctx, time.Hour), context.Canceled)
}

func TestSleepElapses(t *testing.T) {
	start := time.Now()
	assert.NoError(t, Sleep(context.Background(), 5*time.Millisecond))
	assert.GreaterOrEqual(t, time.Since(start), 5*time.Millisecond)
}

func TestRecorder(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	r := NewRecorder(start)

	assert.NoError(t, r.Sleep(context.Background(), 2*time.Second))
	assert.NoError(t, r.Sleep(context.Background(), 500*time.Millisecond))
	assert.Equal(t, []time.Duration{2 * time.Second, 500 * time.Millisecond}, r.Waits)
	assert.Equal(t, start.Add(2500*time.Millisecond), r.Now())
	assert.Equal(t, 2500*time.Millisecond, r.Total())
}

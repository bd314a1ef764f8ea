package queue_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/dmitrymomot/billingsync/pkg/queue"
)

func TestExponentialBackoff(t *testing.T) {
	t.Parallel()

	b := queue.ExponentialBackoff{
		InitialInterval: time.Second,
		MaxInterval:     30 * time.Second,
		Multiplier:      2,
	}

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{attempt: 0, want: 0},
		{attempt: 1, want: time.Second},
		{attempt: 2, want: 2 * time.Second},
		{attempt: 3, want: 4 * time.Second},
		{attempt: 5, want: 16 * time.Second},
		{attempt: 6, want: 30 * time.Second},
		{attempt: 20, want: 30 * time.Second},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, b.NextInterval(tt.attempt), "attempt %d", tt.attempt)
	}
}

func TestExponentialBackoff_Jitter(t *testing.T) {
	t.Parallel()

	b := queue.DefaultBackoff()
	for range 100 {
		d := b.NextInterval(2)
		assert.GreaterOrEqual(t, d, 1800*time.Millisecond)
		assert.LessOrEqual(t, d, 2200*time.Millisecond)
	}
	assert.LessOrEqual(t, b.NextInterval(30), 30*time.Second)
}

func TestExponentialBackoff_ZeroValueDefaults(t *testing.T) {
	t.Parallel()
	var b queue.ExponentialBackoff
	assert.Equal(t, time.Second, b.NextInterval(1))
	assert.Equal(t, 30*time.Second, b.NextInterval(10))
}

func TestFixedBackoff(t *testing.T) {
	t.Parallel()
	b := queue.FixedBackoff{Interval: 50 * time.Millisecond}
	assert.Zero(t, b.NextInterval(0))
	assert.Equal(t, 50*time.Millisecond, b.NextInterval(1))
	assert.Equal(t, 50*time.Millisecond, b.NextInterval(7))
}

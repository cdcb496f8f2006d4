package syncclient

import (
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/stretchr/testify/assert"

	"github.com/abrezinsky/cragboard/internal/testutil"
)

func TestBackoff_Schedule(t *testing.T) {
	b := NewBackoff(testutil.NewFakeClock())
	want := []time.Duration{1, 2, 4, 8, 16, 30, 30, 30}
	for i, w := range want {
		assert.Equal(t, w*time.Second, b.NextBackOff(), "attempt %d", i+1)
	}
}

func TestBackoff_NeverGivesUp(t *testing.T) {
	clock := testutil.NewFakeClock()
	b := NewBackoff(clock)

	clock.Advance(24 * time.Hour)
	for i := 0; i < 50; i++ {
		assert.NotEqual(t, backoff.Stop, b.NextBackOff(), "attempt %d", i+1)
	}
}

func TestBackoff_Reset(t *testing.T) {
	b := NewBackoff(testutil.NewFakeClock())
	b.NextBackOff()
	b.NextBackOff()
	b.NextBackOff()

	b.Reset()
	assert.Equal(t, time.Second, b.NextBackOff())
	assert.Equal(t, 2*time.Second, b.NextBackOff())
}

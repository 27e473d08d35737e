package circuit

import (
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBreaker_TripsOnFailureRatio(t *testing.T) {
	b := NewBreaker("stub", DefaultConfig(), zerolog.Nop())
	boom := errors.New("boom")

	for i := 0; i < 5; i++ {
		err := b.Do(func() error { return boom })
		require.ErrorIs(t, err, boom)
	}

	err := b.Do(func() error { return nil })
	assert.ErrorIs(t, err, ErrOpen, "breaker must fail fast once tripped")
	assert.False(t, b.Healthy())
}

func TestBreaker_StaysClosedUnderMinRequests(t *testing.T) {
	b := NewBreaker("stub", DefaultConfig(), zerolog.Nop())
	boom := errors.New("boom")
	for i := 0; i < 4; i++ {
		_ = b.Do(func() error { return boom })
	}
	assert.True(t, b.Healthy(), "4 failures under the 5-request floor must not trip")
}

func TestBreaker_HalfOpenProbeRecovers(t *testing.T) {
	cfg := Config{OpenInterval: 20 * time.Millisecond, MinRequests: 2, FailureRatio: 0.5}
	b := NewBreaker("stub", cfg, zerolog.Nop())
	boom := errors.New("boom")
	_ = b.Do(func() error { return boom })
	_ = b.Do(func() error { return boom })
	require.False(t, b.Healthy())

	time.Sleep(30 * time.Millisecond)
	require.NoError(t, b.Do(func() error { return nil }), "single probe allowed after open interval")
	assert.True(t, b.Healthy())
}

func TestManager_PerProviderIsolation(t *testing.T) {
	m := NewManager(Config{OpenInterval: time.Second, MinRequests: 1, FailureRatio: 0.5}, zerolog.Nop())
	boom := errors.New("boom")
	_ = m.For("flaky").Do(func() error { return boom })

	assert.False(t, m.For("flaky").Healthy())
	assert.True(t, m.For("steady").Healthy())
	assert.False(t, m.Healthy())
}

func TestManager_ReturnsSameBreaker(t *testing.T) {
	m := NewManager(DefaultConfig(), zerolog.Nop())
	assert.Same(t, m.For("p"), m.For("p"))
}

package metrics

import (
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
)

func TestLiveIO_CountersAndPercentiles(t *testing.T) {
	m := NewLiveIO(prometheus.NewRegistry())
	for i := 0; i < 18; i++ {
		m.Observe(OutcomeOK, float64(100+i))
	}
	m.Observe(OutcomeTimeout, 5000)
	m.Observe(OutcomeRateLimited, 10)

	s := m.Snapshot()
	assert.Equal(t, int64(20), s.Requests)
	assert.Equal(t, int64(1), s.Timeouts)
	assert.Equal(t, int64(1), s.RateLimited)
	assert.Greater(t, s.P95MS, s.P50MS)
}

func TestLiveIO_ConcurrentObserve(t *testing.T) {
	m := NewLiveIO(prometheus.NewRegistry())
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m.Observe(OutcomeOK, 50)
		}()
	}
	wg.Wait()
	assert.Equal(t, int64(50), m.Snapshot().Requests)
}

func TestSnapshot_Alerts(t *testing.T) {
	s := Snapshot{Timeouts: 3, RateLimited: 1, P95MS: 900}
	alerts := s.Alerts(Thresholds{MaxTimeouts: 2, MaxRateLimited: 5, MaxP95MS: 800})
	assert.Equal(t, []string{"LIVE_IO_P95_EXCEEDED", "LIVE_IO_TIMEOUTS_EXCEEDED"}, alerts)
}

func TestSnapshot_ZeroThresholdDisables(t *testing.T) {
	s := Snapshot{Timeouts: 100}
	assert.Empty(t, s.Alerts(Thresholds{}))
}

func TestSnapshot_AlertCount(t *testing.T) {
	s := Snapshot{Timeouts: 1, Failures: 2, CircuitOpen: 1}
	assert.Equal(t, int64(4), s.AlertCount())
}

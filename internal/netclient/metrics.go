package netclient

import (
	"sync"
	"time"

	"codeberg.org/tessel/kairo/internal/policy"
)

// PriorityMetrics counts requests and successes for one priority tier.
type PriorityMetrics struct {
	Requests  uint64
	Successes uint64
}

// Metrics is a read-only snapshot of client activity.
type Metrics struct {
	TotalRequests  uint64
	TotalSuccesses uint64
	TotalFailures  uint64
	TotalRetries   uint64
	TotalDuration  time.Duration
	PerPriority    map[policy.Priority]PriorityMetrics
}

// MeanDuration returns TotalDuration divided by TotalRequests. Requests
// that ended without a response add no duration but still count.
func (m Metrics) MeanDuration() time.Duration {
	if m.TotalRequests == 0 {
		return 0
	}

	return m.TotalDuration / time.Duration(m.TotalRequests)
}

type metricsStore struct {
	mu sync.Mutex
	m  Metrics
}

func newMetricsStore() *metricsStore {
	return &metricsStore{m: Metrics{PerPriority: make(map[policy.Priority]PriorityMetrics)}}
}

func (s *metricsStore) record(priority policy.Priority, resp *Response, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.m.TotalRequests++

	perPriority := s.m.PerPriority[priority]
	perPriority.Requests++

	if err == nil {
		s.m.TotalSuccesses++
		perPriority.Successes++
	} else {
		s.m.TotalFailures++
	}

	if resp != nil {
		s.m.TotalDuration += resp.Duration
		s.m.TotalRetries += uint64(resp.RetryCount)
	}

	s.m.PerPriority[priority] = perPriority
}

func (s *metricsStore) snapshot() Metrics {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := s.m
	out.PerPriority = make(map[policy.Priority]PriorityMetrics, len(s.m.PerPriority))
	for k, v := range s.m.PerPriority {
		out.PerPriority[k] = v
	}

	return out
}

func (s *metricsStore) reset() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.m = Metrics{PerPriority: make(map[policy.Priority]PriorityMetrics)}
}

package netclient_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"codeberg.org/tessel/kairo/internal/errors"
	"codeberg.org/tessel/kairo/internal/health"
	"codeberg.org/tessel/kairo/internal/netclient"
	"codeberg.org/tessel/kairo/internal/policy"
	"codeberg.org/tessel/kairo/internal/throttle"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sleepRecorder struct {
	mu     sync.Mutex
	sleeps []time.Duration
}

func (r *sleepRecorder) sleep(_ context.Context, d time.Duration) error {
	r.mu.Lock()
	r.sleeps = append(r.sleeps, d)
	r.mu.Unlock()

	return nil
}

func (r *sleepRecorder) recorded() []time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]time.Duration, len(r.sleeps))
	copy(out, r.sleeps)

	return out
}

func newTestClient(transport netclient.Transport) (*netclient.Client, *sleepRecorder) {
	engine := policy.NewEngine(policy.EngineConfig{NetworkMaxConcurrent: 6, LowBatteryThreshold: 0.15})
	recorder := &sleepRecorder{}
	client := netclient.NewClient(engine, transport, netclient.ClientConfig{
		MaxConcurrent: 6,
		Breaker: throttle.BreakerConfig{
			FailureThreshold:      100, // keep the breaker out of retry tests
			Timeout:               time.Minute,
			SuccessThreshold:      1,
			MaxRequestsInHalfOpen: 5,
		},
	}).WithSleeper(recorder.sleep)

	return client, recorder
}

func healthySnapshot() health.Snapshot {
	return health.Snapshot{
		BatteryLevel: 0.9,
		Thermal:      health.ThermalNominal,
		NetReach:     health.ReachSatisfied,
		Timestamp:    time.Now(),
	}
}

func TestClientSuccess(t *testing.T) {
	transport := netclient.NewMockTransport().Respond(200, []byte("ok"))
	client, _ := newTestClient(transport)

	resp, err := client.Do(context.Background(), netclient.NewRequest("GET", "https://example.com/data"))
	require.NoError(t, err)
	assert.True(t, resp.IsSuccess())
	assert.Equal(t, []byte("ok"), resp.Body)
	assert.Equal(t, 0, resp.RetryCount)

	m := client.Metrics()
	assert.Equal(t, uint64(1), m.TotalRequests)
	assert.Equal(t, uint64(1), m.TotalSuccesses)
	assert.Equal(t, uint64(0), m.TotalFailures)
}

func TestClientRetriesServerError(t *testing.T) {
	transport := netclient.NewMockTransport().Respond(503, nil).Respond(200, []byte("ok"))
	client, recorder := newTestClient(transport)

	resp, err := client.Do(context.Background(), netclient.NewRequest("GET", "https://example.com/flaky"))
	require.NoError(t, err)
	assert.Equal(t, 1, resp.RetryCount)
	assert.Equal(t, 2, transport.Attempts())
	assert.Equal(t, []time.Duration{time.Second}, recorder.recorded(), "first backoff is 2^0 seconds")
}

func TestClientBackoffDoubles(t *testing.T) {
	transport := netclient.NewMockTransport().
		Respond(500, nil).
		Respond(500, nil).
		Respond(200, nil)
	client, recorder := newTestClient(transport)

	req := netclient.NewRequest("GET", "https://example.com/flaky")
	req.MaxRetries = 5

	resp, err := client.Do(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, 2, resp.RetryCount)
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second}, recorder.recorded())
}

func TestClientClientErrorIsTerminal(t *testing.T) {
	transport := netclient.NewMockTransport().Respond(404, nil)
	client, recorder := newTestClient(transport)

	_, err := client.Do(context.Background(), netclient.NewRequest("GET", "https://example.com/missing"))
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrClientError))
	assert.Equal(t, 1, transport.Attempts(), "4xx must not retry")
	assert.Empty(t, recorder.recorded())
}

func TestClientTransportErrorExhaustsRetries(t *testing.T) {
	transport := netclient.NewMockTransport().Fail(assert.AnError).Fail(assert.AnError).Fail(assert.AnError)
	client, recorder := newTestClient(transport)

	req := netclient.NewRequest("GET", "https://example.com/down")
	req.MaxRetries = 3

	_, err := client.Do(context.Background(), req)
	require.Error(t, err)
	assert.Equal(t, 3, transport.Attempts())
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second}, recorder.recorded())

	m := client.Metrics()
	assert.Equal(t, uint64(1), m.TotalRequests)
	assert.Equal(t, uint64(1), m.TotalFailures)
}

func TestClientRetryDisabled(t *testing.T) {
	transport := netclient.NewMockTransport().Fail(assert.AnError)
	client, _ := newTestClient(transport)

	req := netclient.NewRequest("GET", "https://example.com/down")
	req.RetryEnabled = false

	_, err := client.Do(context.Background(), req)
	require.Error(t, err)
	assert.Equal(t, 1, transport.Attempts())
}

func TestClientCircuitOpenFailsFast(t *testing.T) {
	transport := netclient.NewMockTransport().Fail(assert.AnError)
	engine := policy.NewEngine(policy.DefaultEngineConfig())
	client := netclient.NewClient(engine, transport, netclient.ClientConfig{
		MaxConcurrent: 2,
		Breaker: throttle.BreakerConfig{
			FailureThreshold:      1,
			Timeout:               time.Minute,
			SuccessThreshold:      1,
			MaxRequestsInHalfOpen: 1,
		},
	})

	req := netclient.NewRequest("GET", "https://example.com/down")
	req.RetryEnabled = false

	_, err := client.Do(context.Background(), req)
	require.Error(t, err)
	require.Equal(t, throttle.StateOpen, client.Breaker().State())

	_, err = client.Do(context.Background(), req)
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrCircuitOpen))
	assert.Equal(t, 1, transport.Attempts(), "open circuit must not reach the transport")
}

func TestClientAdmissionDeniedByPolicy(t *testing.T) {
	transport := netclient.NewMockTransport().Respond(200, nil)
	client, _ := newTestClient(transport)

	snap := healthySnapshot()
	snap.NetReach = health.ReachSatisfiable // network gate denies
	client.UpdatePolicy(policy.ForLevel(policy.LevelHigh, 6), snap)

	_, err := client.Do(context.Background(), netclient.NewRequest("GET", "https://example.com/x"))
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrCancelled))
	assert.Equal(t, 0, transport.Attempts())

	// Critical priority punches through the same gate.
	req := netclient.NewRequest("GET", "https://example.com/x")
	req.Priority = policy.PriorityCritical
	_, err = client.Do(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, 1, transport.Attempts())
}

func TestClientUpdatePolicyResizesSemaphore(t *testing.T) {
	transport := netclient.NewMockTransport().Respond(200, nil)
	client, _ := newTestClient(transport)

	client.UpdatePolicy(policy.ForLevel(policy.LevelCritical, 6), healthySnapshot())
	assert.Equal(t, 1, client.SemaphoreStatus().Max)

	client.UpdatePolicy(policy.ForLevel(policy.LevelHigh, 6), healthySnapshot())
	assert.Equal(t, 6, client.SemaphoreStatus().Max)
}

func TestClientReleasesPermitOnError(t *testing.T) {
	transport := netclient.NewMockTransport().Fail(assert.AnError)
	client, _ := newTestClient(transport)

	req := netclient.NewRequest("GET", "https://example.com/down")
	req.RetryEnabled = false

	for i := 0; i < 5; i++ {
		_, err := client.Do(context.Background(), req)
		require.Error(t, err)
	}
	assert.Equal(t, 0, client.SemaphoreStatus().InUse, "permits must drain on error paths")
}

func TestClientCancelledWhileQueued(t *testing.T) {
	transport := netclient.NewMockTransport().Delay(500 * time.Millisecond).Respond(200, nil)
	engine := policy.NewEngine(policy.DefaultEngineConfig())
	client := netclient.NewClient(engine, transport, netclient.ClientConfig{
		MaxConcurrent: 1,
		Breaker:       throttle.DefaultBreakerConfig(),
	})

	slow := netclient.NewRequest("GET", "https://example.com/slow")
	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = client.Do(context.Background(), slow)
	}()

	// Wait for the first request to hold the only permit.
	deadline := time.Now().Add(2 * time.Second)
	for client.SemaphoreStatus().InUse == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	require.Equal(t, 1, client.SemaphoreStatus().InUse)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := client.Do(ctx, netclient.NewRequest("GET", "https://example.com/queued"))
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrCancelled))

	<-done
	assert.Equal(t, 0, client.SemaphoreStatus().InUse)
}

func TestClientMetricsPerPriority(t *testing.T) {
	transport := netclient.NewMockTransport().Respond(200, nil)
	client, _ := newTestClient(transport)

	normal := netclient.NewRequest("GET", "https://example.com/a")
	high := netclient.NewRequest("GET", "https://example.com/b")
	high.Priority = policy.PriorityHigh

	_, err := client.Do(context.Background(), normal)
	require.NoError(t, err)
	_, err = client.Do(context.Background(), high)
	require.NoError(t, err)

	m := client.Metrics()
	assert.Equal(t, uint64(2), m.TotalRequests)
	assert.Equal(t, uint64(1), m.PerPriority[policy.PriorityNormal].Successes)
	assert.Equal(t, uint64(1), m.PerPriority[policy.PriorityHigh].Successes)
	assert.Greater(t, int64(m.MeanDuration()), int64(0))

	client.ResetMetrics()
	m = client.Metrics()
	assert.Equal(t, uint64(0), m.TotalRequests)
	assert.Empty(t, m.PerPriority)
}

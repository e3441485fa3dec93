package kairo_test

import (
	"context"
	"testing"
	"time"

	"codeberg.org/tessel/kairo/internal/health"
	"codeberg.org/tessel/kairo/internal/kairo"
	"codeberg.org/tessel/kairo/internal/netclient"
	"codeberg.org/tessel/kairo/internal/policy"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() kairo.Config {
	cfg := kairo.DefaultConfig()
	cfg.TickPeriod = time.Hour // tests drive snapshots via probe events
	cfg.Debounce = 20 * time.Millisecond
	return cfg
}

func healthySnapshot() health.Snapshot {
	return health.Snapshot{
		BatteryLevel: 0.95,
		Thermal:      health.ThermalNominal,
		NetReach:     health.ReachSatisfied,
		Timestamp:    time.Now(),
	}
}

func criticalSnapshot() health.Snapshot {
	return health.Snapshot{
		BatteryLevel:   0.03,
		LowPowerMode:   true,
		Thermal:        health.ThermalCritical,
		NetReach:       health.ReachRequiresConnection,
		NetConstrained: true,
		NetExpensive:   true,
		Timestamp:      time.Now(),
	}
}

func awaitPolicy(t *testing.T, sub *kairo.PolicySubscription, match func(policy.Policy) bool, msg string) policy.Policy {
	t.Helper()

	deadline := time.After(2 * time.Second)
	for {
		select {
		case pol, ok := <-sub.Updates():
			require.True(t, ok, "policy stream ended unexpectedly")
			if match(pol) {
				return pol
			}
		case <-deadline:
			t.Fatal(msg)
			return policy.Policy{}
		}
	}
}

func TestKairoDerivesPolicyFromHealth(t *testing.T) {
	probe := health.NewMockProbe(healthySnapshot())
	transport := netclient.NewMockTransport().Respond(200, nil)
	k := kairo.New(testConfig(), probe, transport)
	t.Cleanup(k.Stop)

	k.Start()

	sub := k.PolicyStream()
	defer sub.Close()

	pol := awaitPolicy(t, sub, func(p policy.Policy) bool { return p.HealthLevel == policy.LevelHigh },
		"never saw the High policy")
	assert.Equal(t, 6, pol.MaxNetworkConcurrent)
	assert.Equal(t, policy.ImageOriginal, pol.ImageVariant)

	assert.Equal(t, 6, k.MaxConcurrentRequests())
	assert.True(t, k.AllowBackgroundML())
	assert.Equal(t, policy.ImageOriginal, k.RecommendedImageQuality())
}

func TestKairoCriticalSnapshotThrottlesEverything(t *testing.T) {
	probe := health.NewMockProbe(healthySnapshot())
	transport := netclient.NewMockTransport().Respond(200, nil)
	k := kairo.New(testConfig(), probe, transport)
	t.Cleanup(k.Stop)

	k.Start()

	sub := k.PolicyStream()
	defer sub.Close()
	awaitPolicy(t, sub, func(p policy.Policy) bool { return p.HealthLevel == policy.LevelHigh },
		"initial policy never arrived")

	probe.Emit(criticalSnapshot())

	pol := awaitPolicy(t, sub, func(p policy.Policy) bool { return p.HealthLevel == policy.LevelCritical },
		"critical policy never arrived")
	assert.Equal(t, 1, pol.MaxNetworkConcurrent)
	assert.True(t, pol.PreferCacheWhenUnhealthy)

	assert.Equal(t, 1, k.Client().SemaphoreStatus().Max, "semaphore resized before next admission")
	assert.True(t, k.ShouldAllow(policy.NetworkOp(policy.PriorityCritical)))
	assert.False(t, k.ShouldAllow(policy.NetworkOp(policy.PriorityNormal)))
	assert.False(t, k.ShouldAllow(policy.MLInferenceOp()))
	assert.False(t, k.ShouldAllow(policy.BackgroundOp()))
}

func TestKairoRequestFlow(t *testing.T) {
	probe := health.NewMockProbe(healthySnapshot())
	transport := netclient.NewMockTransport().Respond(200, []byte("payload"))
	k := kairo.New(testConfig(), probe, transport)
	t.Cleanup(k.Stop)

	k.Start()

	sub := k.PolicyStream()
	awaitPolicy(t, sub, func(p policy.Policy) bool { return p.HealthLevel == policy.LevelHigh },
		"initial policy never arrived")
	sub.Close()

	resp, err := k.Client().Do(context.Background(), netclient.NewRequest("GET", "https://example.com/data"))
	require.NoError(t, err)
	assert.True(t, resp.IsSuccess())

	metrics := k.Client().Metrics()
	assert.Equal(t, uint64(1), metrics.TotalSuccesses)
}

func TestKairoShouldAllowBeforeStart(t *testing.T) {
	probe := health.NewMockProbe(healthySnapshot())
	k := kairo.New(testConfig(), probe, netclient.NewMockTransport())

	assert.True(t, k.ShouldAllow(policy.MLInferenceOp()), "nothing to gate on before the first snapshot")
	assert.Equal(t, policy.LevelHigh, k.CurrentPolicy().HealthLevel)
}

func TestKairoStartStopIdempotent(t *testing.T) {
	probe := health.NewMockProbe(healthySnapshot())
	k := kairo.New(testConfig(), probe, netclient.NewMockTransport())

	k.Start()
	k.Start()
	k.Stop()
	k.Stop()
	k.Start() // no-op after Stop
}

func TestKairoStopClosesPolicyStream(t *testing.T) {
	probe := health.NewMockProbe(healthySnapshot())
	k := kairo.New(testConfig(), probe, netclient.NewMockTransport())
	k.Start()

	sub := k.PolicyStream()
	awaitPolicy(t, sub, func(p policy.Policy) bool { return p.HealthLevel == policy.LevelHigh },
		"initial policy never arrived")

	k.Stop()

	select {
	case _, ok := <-sub.Updates():
		assert.False(t, ok, "policy stream must close on Stop")
	case <-time.After(2 * time.Second):
		t.Fatal("policy stream did not close")
	}

	late := k.PolicyStream()
	_, ok := <-late.Updates()
	assert.False(t, ok, "subscribing after Stop yields a closed stream")
}

func TestKairoHealthStreamAccessor(t *testing.T) {
	probe := health.NewMockProbe(healthySnapshot())
	k := kairo.New(testConfig(), probe, netclient.NewMockTransport())
	t.Cleanup(k.Stop)
	k.Start()

	sub := k.HealthStream()
	defer sub.Close()

	select {
	case snap, ok := <-sub.Updates():
		require.True(t, ok)
		assert.InDelta(t, 0.95, snap.BatteryLevel, 1e-9)
	case <-time.After(2 * time.Second):
		t.Fatal("health stream never delivered")
	}

	assert.InDelta(t, 0.95, k.CurrentHealth().BatteryLevel, 1e-9)
}

func TestKairoRecoveryIsStepwise(t *testing.T) {
	probe := health.NewMockProbe(healthySnapshot())
	k := kairo.New(testConfig(), probe, netclient.NewMockTransport())
	t.Cleanup(k.Stop)
	k.Start()

	sub := k.PolicyStream()
	defer sub.Close()
	awaitPolicy(t, sub, func(p policy.Policy) bool { return p.HealthLevel == policy.LevelHigh },
		"initial policy never arrived")

	probe.Emit(criticalSnapshot())
	awaitPolicy(t, sub, func(p policy.Policy) bool { return p.HealthLevel == policy.LevelCritical },
		"critical policy never arrived")

	// Recovery is stepwise: a healthy snapshot lifts Critical only to
	// Low, and the semaphore follows.
	probe.Emit(healthySnapshot())
	pol := awaitPolicy(t, sub, func(p policy.Policy) bool { return p.HealthLevel == policy.LevelLow },
		"recovery policy never arrived")
	assert.Equal(t, 1, pol.MaxNetworkConcurrent)
	assert.Equal(t, 1, k.Client().SemaphoreStatus().Max)
}

package health_test

import (
	"testing"
	"time"

	"codeberg.org/tessel/kairo/internal/health"
	"github.com/stretchr/testify/assert"
)

func TestScoreExcellentHealth(t *testing.T) {
	snap := health.Snapshot{
		BatteryLevel: 0.95,
		Thermal:      health.ThermalNominal,
		NetReach:     health.ReachSatisfied,
		Timestamp:    time.Now(),
	}

	assert.InDelta(t, 0.98, snap.Score(), 1e-9)
	assert.False(t, snap.IsCritical())
}

func TestScoreCriticalSnapshot(t *testing.T) {
	snap := health.Snapshot{
		BatteryLevel:   0.03,
		LowPowerMode:   true,
		Thermal:        health.ThermalCritical,
		NetReach:       health.ReachRequiresConnection,
		NetConstrained: true,
		NetExpensive:   true,
		Timestamp:      time.Now(),
	}

	// 0.612 * 0.76 * 0.85 * 0.9 * 0.95
	assert.InDelta(t, 0.33802596, snap.Score(), 1e-6)
	assert.True(t, snap.IsCritical())
}

func TestScoreThermalSerious(t *testing.T) {
	snap := health.Snapshot{
		BatteryLevel: 0.80,
		Thermal:      health.ThermalSerious,
		NetReach:     health.ReachSatisfied,
	}

	assert.InDelta(t, 0.782, snap.Score(), 1e-9)
	assert.False(t, snap.IsCritical())
}

func TestScoreBounds(t *testing.T) {
	cases := []health.Snapshot{
		{BatteryLevel: -3.0, Thermal: health.ThermalCritical, NetReach: health.ReachRequiresConnection, LowPowerMode: true, NetConstrained: true, NetExpensive: true},
		{BatteryLevel: 42.0, Thermal: health.ThermalNominal, NetReach: health.ReachSatisfied},
		{},
		{BatteryLevel: 0.5, Thermal: health.ThermalFair, NetReach: health.ReachSatisfiable, NetConstrained: true},
	}

	for _, snap := range cases {
		score := snap.Score()
		assert.GreaterOrEqual(t, score, 0.0, "score below 0 for %s", snap)
		assert.LessOrEqual(t, score, 1.0, "score above 1 for %s", snap)
	}
}

func TestBatteryLevelStoredAsReceived(t *testing.T) {
	snap := health.Snapshot{BatteryLevel: 1.4, Thermal: health.ThermalNominal, NetReach: health.ReachSatisfied}

	assert.InDelta(t, 1.4, snap.BatteryLevel, 1e-9, "diagnostic value must not be clamped")
	assert.InDelta(t, 1.0, snap.Score(), 1e-9, "scoring must clamp")
}

func TestIsCritical(t *testing.T) {
	base := health.Snapshot{BatteryLevel: 0.5, Thermal: health.ThermalNominal, NetReach: health.ReachSatisfied}
	assert.False(t, base.IsCritical())

	lowBattery := base
	lowBattery.BatteryLevel = 0.04
	assert.True(t, lowBattery.IsCritical())

	atThreshold := base
	atThreshold.BatteryLevel = 0.05
	assert.False(t, atThreshold.IsCritical(), "threshold is exclusive")

	hot := base
	hot.Thermal = health.ThermalCritical
	assert.True(t, hot.IsCritical())

	offline := base
	offline.NetReach = health.ReachRequiresConnection
	assert.True(t, offline.IsCritical())
}

func TestSignificantlyDiffers(t *testing.T) {
	base := health.Snapshot{BatteryLevel: 0.80, Thermal: health.ThermalNominal, NetReach: health.ReachSatisfied}

	same := base
	assert.False(t, same.SignificantlyDiffers(base))

	smallDrop := base
	smallDrop.BatteryLevel = 0.78
	assert.False(t, smallDrop.SignificantlyDiffers(base), "2%% battery drop is noise")

	bigDrop := base
	bigDrop.BatteryLevel = 0.70
	assert.True(t, bigDrop.SignificantlyDiffers(base), "10%% battery drop is significant")

	thermal := base
	thermal.Thermal = health.ThermalFair
	assert.True(t, thermal.SignificantlyDiffers(base))

	lpm := base
	lpm.LowPowerMode = true
	assert.True(t, lpm.SignificantlyDiffers(base))

	constrained := base
	constrained.NetConstrained = true
	assert.True(t, constrained.SignificantlyDiffers(base))

	expensive := base
	expensive.NetExpensive = true
	assert.True(t, expensive.SignificantlyDiffers(base))

	reach := base
	reach.NetReach = health.ReachSatisfiable
	assert.True(t, reach.SignificantlyDiffers(base))
}

package health

import (
	"fmt"
	"time"
)

const (
	criticalBatteryLevel   = 0.05
	significantBatteryStep = 0.05
	significantScoreStep   = 0.1

	batteryWeight = 0.4
	thermalWeight = 0.3
	netWeight     = 0.1

	lowPowerFactor    = 0.85
	constrainedFactor = 0.7
	expensiveFactor   = 0.95
)

// ThermalState mirrors the platform thermal pressure tiers.
type ThermalState int

const (
	ThermalNominal ThermalState = iota
	ThermalFair
	ThermalSerious
	ThermalCritical
)

func (t ThermalState) String() string {
	switch t {
	case ThermalNominal:
		return "nominal"
	case ThermalFair:
		return "fair"
	case ThermalSerious:
		return "serious"
	case ThermalCritical:
		return "critical"
	default:
		return "unknown"
	}
}

func (t ThermalState) factor() float64 {
	switch t {
	case ThermalNominal:
		return 1.0
	case ThermalFair:
		return 0.8
	case ThermalSerious:
		return 0.5
	case ThermalCritical:
		return 0.2
	default:
		return 1.0
	}
}

// Reachability describes the current network path state.
type Reachability int

const (
	ReachSatisfied Reachability = iota
	ReachSatisfiable
	ReachRequiresConnection
)

func (r Reachability) String() string {
	switch r {
	case ReachSatisfied:
		return "satisfied"
	case ReachSatisfiable:
		return "satisfiable"
	case ReachRequiresConnection:
		return "requires_connection"
	default:
		return "unknown"
	}
}

func (r Reachability) factor() float64 {
	switch r {
	case ReachSatisfied:
		return 1.0
	case ReachSatisfiable:
		return 0.5
	case ReachRequiresConnection:
		return 0.0
	default:
		return 0.0
	}
}

// Snapshot is an immutable point-in-time record of device health.
// BatteryLevel is stored as received for diagnostics and clamped to
// [0,1] only when scoring.
type Snapshot struct {
	BatteryLevel   float64
	LowPowerMode   bool
	Thermal        ThermalState
	NetReach       Reachability
	NetConstrained bool
	NetExpensive   bool
	Timestamp      time.Time
}

// Score folds all health signals into a single value in [0,1].
// Each signal contributes a bounded multiplicative term so that no
// single degraded signal can zero out the score on its own, except
// through criticality.
func (s Snapshot) Score() float64 {
	batteryTerm := clamp(s.BatteryLevel, 0, 1)*batteryWeight + (1 - batteryWeight)
	thermalTerm := s.Thermal.factor()*thermalWeight + (1 - thermalWeight)

	lpmTerm := 1.0
	if s.LowPowerMode {
		lpmTerm = lowPowerFactor
	}

	netFactor := s.NetReach.factor()
	if s.NetConstrained {
		netFactor *= constrainedFactor
	}
	netTerm := netFactor*netWeight + (1 - netWeight)

	expenseTerm := 1.0
	if s.NetExpensive {
		expenseTerm = expensiveFactor
	}

	return clamp(batteryTerm*thermalTerm*lpmTerm*netTerm*expenseTerm, 0, 1)
}

// IsCritical reports whether any single signal forces the critical
// policy path regardless of the overall score.
func (s Snapshot) IsCritical() bool {
	return s.BatteryLevel < criticalBatteryLevel ||
		s.Thermal == ThermalCritical ||
		s.NetReach == ReachRequiresConnection
}

// SignificantlyDiffers reports whether s differs from prev enough to be
// worth broadcasting.
func (s Snapshot) SignificantlyDiffers(prev Snapshot) bool {
	if abs(s.BatteryLevel-prev.BatteryLevel) > significantBatteryStep {
		return true
	}
	if s.Thermal != prev.Thermal {
		return true
	}
	if s.LowPowerMode != prev.LowPowerMode {
		return true
	}
	if s.NetReach != prev.NetReach ||
		s.NetConstrained != prev.NetConstrained ||
		s.NetExpensive != prev.NetExpensive {
		return true
	}

	return abs(s.Score()-prev.Score()) > significantScoreStep
}

func (s Snapshot) String() string {
	return fmt.Sprintf("battery=%.2f lpm=%v thermal=%s reach=%s constrained=%v expensive=%v score=%.3f",
		s.BatteryLevel, s.LowPowerMode, s.Thermal, s.NetReach, s.NetConstrained, s.NetExpensive, s.Score())
}

func clamp(value, minValue, maxValue float64) float64 {
	if value < minValue {
		return minValue
	}
	if value > maxValue {
		return maxValue
	}

	return value
}

func abs(x float64) float64 {
	if x < 0 {
		return -x
	}

	return x
}

package policy

import (
	"sync"

	"codeberg.org/tessel/kairo/internal/health"
	"codeberg.org/tessel/kairo/internal/logger"
)

const (
	trendWindowSize = 10

	largeDownloadBytes = 10 << 20 // 10 MiB

	defaultMaxConcurrent  = 6
	defaultLowBatteryGate = 0.15
)

// EngineConfig holds the tunables for policy derivation.
type EngineConfig struct {
	// NetworkMaxConcurrent is the concurrency ceiling at full health.
	NetworkMaxConcurrent int

	// LowBatteryThreshold is the battery fraction below which heavy
	// operations are denied.
	LowBatteryThreshold float64
}

func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		NetworkMaxConcurrent: defaultMaxConcurrent,
		LowBatteryThreshold:  defaultLowBatteryGate,
	}
}

func (c EngineConfig) withDefaults() EngineConfig {
	if c.NetworkMaxConcurrent < 1 {
		c.NetworkMaxConcurrent = defaultMaxConcurrent
	}
	if c.LowBatteryThreshold <= 0 {
		c.LowBatteryThreshold = defaultLowBatteryGate
	}

	return c
}

// Engine reduces health snapshots into policies and answers admission
// questions. Evaluate is deterministic given the snapshot and the last
// published level; the level transitions carry hysteresis so the
// policy does not oscillate around a threshold.
type Engine struct {
	cfg EngineConfig

	mu        sync.Mutex
	lastLevel Level
	trend     []float64
}

func NewEngine(cfg EngineConfig) *Engine {
	return &Engine{
		cfg:       cfg.withDefaults(),
		lastLevel: LevelHigh,
		trend:     make([]float64, 0, trendWindowSize),
	}
}

// Evaluate folds a snapshot into the next policy, advancing the level
// state machine and recording the score in the trend window.
func (e *Engine) Evaluate(snap health.Snapshot) Policy {
	e.mu.Lock()
	defer e.mu.Unlock()

	score := snap.Score()

	e.trend = append(e.trend, score)
	if len(e.trend) > trendWindowSize {
		e.trend = e.trend[1:]
	}

	level := nextLevel(e.lastLevel, score, snap.IsCritical())
	if level != e.lastLevel {
		logger.Info().
			Str("from", e.lastLevel.String()).
			Str("to", level.String()).
			Float64("score", score).
			Msg("health level transition")
	}
	e.lastLevel = level

	return ForLevel(level, e.cfg.NetworkMaxConcurrent)
}

// nextLevel applies the hysteresis transition table. A critical
// snapshot forces Critical regardless of score.
func nextLevel(prev Level, score float64, critical bool) Level {
	if critical {
		return LevelCritical
	}

	switch prev {
	case LevelHigh:
		if score < 0.7 {
			return LevelMedium
		}
	case LevelMedium:
		if score < 0.4 {
			return LevelLow
		}
		if score > 0.8 {
			return LevelHigh
		}
	case LevelLow:
		if score < 0.2 {
			return LevelCritical
		}
		if score > 0.6 {
			return LevelMedium
		}
	case LevelCritical:
		if score > 0.4 {
			return LevelLow
		}
	}

	return prev
}

// ShouldAllow evaluates the admission rule chain for op; the first
// matching rule wins. It never fails: gating questions always get a
// boolean answer.
func (e *Engine) ShouldAllow(op Operation, snap health.Snapshot, pol Policy) bool {
	// Critical network requests bypass every gate.
	if op.Kind == OpNetworkRequest && op.Priority == PriorityCritical {
		return true
	}

	if snap.IsCritical() {
		return false
	}

	switch snap.Thermal {
	case health.ThermalSerious:
		if op.Kind == OpMLInference || op.Kind == OpVideoProcessing {
			return false
		}
	case health.ThermalCritical:
		return false
	}

	if snap.BatteryLevel < e.cfg.LowBatteryThreshold {
		switch op.Kind {
		case OpMLInference, OpVideoProcessing, OpFileDownload:
			return false
		}
	}

	if snap.NetReach != health.ReachSatisfied {
		if op.Kind == OpNetworkRequest || op.Kind == OpFileDownload {
			return false
		}
	}
	if snap.NetConstrained {
		if op.Kind == OpFileDownload && op.Bytes >= largeDownloadBytes {
			return false
		}
		if op.Kind == OpImageProcessing && op.Size == SizeLarge {
			return false
		}
	}

	if op.Kind == OpMLInference && !pol.AllowBackgroundML {
		return false
	}

	return true
}

// LastLevel returns the most recently published health level.
func (e *Engine) LastLevel() Level {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.lastLevel
}

// Trend returns a copy of the recent score window, oldest first.
func (e *Engine) Trend() []float64 {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make([]float64, len(e.trend))
	copy(out, e.trend)

	return out
}

package telemetry

import (
	"context"
	"time"

	"codeberg.org/tessel/kairo/internal/health"
	"codeberg.org/tessel/kairo/internal/policy"
)

// Collector records health/policy history for diagnostics.
type Collector interface {
	Record(ctx context.Context, sample *Sample) error
	Close() error
}

// Sample is one published snapshot together with the policy it
// produced.
type Sample struct {
	Timestamp time.Time
	Snapshot  health.Snapshot
	Policy    policy.Policy
}

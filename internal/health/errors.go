package health

import "codeberg.org/tessel/kairo/internal/errors"

const (
	// Probe errors
	ErrProbeReadFailed = errors.ErrorCode("health_probe_read_failed")
	ErrProbeTimeout    = errors.ErrorCode("health_probe_timeout")
	ErrNoProbe         = errors.ErrorCode("health_no_probe")

	// Monitor errors
	ErrMonitorStopped = errors.ErrorCode("health_monitor_stopped")
	ErrNoSnapshot     = errors.ErrorCode("health_no_snapshot")
)

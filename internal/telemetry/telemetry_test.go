package telemetry_test

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"codeberg.org/tessel/kairo/internal/health"
	"codeberg.org/tessel/kairo/internal/policy"
	"codeberg.org/tessel/kairo/internal/telemetry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	_ "github.com/mattn/go-sqlite3"
)

func sample(ts time.Time) *telemetry.Sample {
	return &telemetry.Sample{
		Timestamp: ts,
		Snapshot: health.Snapshot{
			BatteryLevel: 0.42,
			Thermal:      health.ThermalFair,
			NetReach:     health.ReachSatisfied,
			Timestamp:    ts,
		},
		Policy: policy.ForLevel(policy.LevelMedium, 6),
	}
}

func TestServiceDisabledIsNoop(t *testing.T) {
	collector, err := telemetry.NewService(telemetry.Config{Enabled: false})
	require.NoError(t, err)

	require.NoError(t, collector.Record(context.Background(), sample(time.Now())))
	require.NoError(t, collector.Close())
}

func TestServiceRejectsMissingDBPath(t *testing.T) {
	_, err := telemetry.NewService(telemetry.Config{Enabled: true, DBPath: ""})
	require.Error(t, err)
}

func TestRecordAndReadBack(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "telemetry.db")

	collector, err := telemetry.NewService(telemetry.Config{Enabled: true, DBPath: dbPath})
	require.NoError(t, err)

	now := time.Now()
	require.NoError(t, collector.Record(context.Background(), sample(now)))
	require.NoError(t, collector.Record(context.Background(), sample(now.Add(time.Second))))
	require.NoError(t, collector.Close())

	db, err := sql.Open("sqlite3", dbPath)
	require.NoError(t, err)
	defer db.Close()

	var count int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM health_history`).Scan(&count))
	assert.Equal(t, 2, count)

	var level string
	var maxConcurrent int
	require.NoError(t, db.QueryRow(
		`SELECT health_level, max_concurrent FROM health_history ORDER BY timestamp LIMIT 1`,
	).Scan(&level, &maxConcurrent))
	assert.Equal(t, "medium", level)
	assert.Equal(t, 3, maxConcurrent)
}

func TestRecordNilSample(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "telemetry.db")

	collector, err := telemetry.NewService(telemetry.Config{Enabled: true, DBPath: dbPath})
	require.NoError(t, err)
	defer collector.Close()

	require.Error(t, collector.Record(context.Background(), nil))
}

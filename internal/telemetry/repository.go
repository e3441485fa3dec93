package telemetry

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"sync"

	"codeberg.org/tessel/kairo/internal/errors"
	"codeberg.org/tessel/kairo/internal/logger"

	_ "github.com/mattn/go-sqlite3"
)

type Repository interface {
	Store(ctx context.Context, sample *Sample) error
	Close() error
}

type sqliteRepository struct {
	db *sql.DB
	mu sync.Mutex
}

func NewRepository(cfg Config) (Repository, error) {
	errFactory := errors.New()

	if cfg.DBPath == "" {
		return nil, errFactory.New(ErrInvalidDBPath)
	}

	logger.Debug().Msgf("Initializing telemetry repository at: %s", cfg.DBPath)

	// Ensure the directory exists
	if err := os.MkdirAll(filepath.Dir(cfg.DBPath), defaultDirPerm); err != nil {
		return nil, errFactory.Wrap(ErrStorageInit, err)
	}

	db, err := sql.Open("sqlite3", cfg.DBPath)
	if err != nil {
		return nil, errFactory.Wrap(ErrStorageInit, err)
	}

	if err := initSchema(db); err != nil {
		db.Close()
		return nil, errFactory.Wrap(ErrStorageInit, err)
	}

	return &sqliteRepository{
		db: db,
	}, nil
}

func (r *sqliteRepository) Store(ctx context.Context, sample *Sample) error {
	errFactory := errors.New()

	r.mu.Lock()
	defer r.mu.Unlock()

	_, err := r.db.ExecContext(ctx, `
        INSERT INTO health_history (
            timestamp, battery_level, low_power_mode,
            thermal, net_reach, net_constrained, net_expensive,
            health_score, is_critical,
            health_level, max_concurrent, allow_background_ml,
            image_variant, prefer_cache
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
        ON CONFLICT(timestamp) DO UPDATE SET
            battery_level = excluded.battery_level,
            low_power_mode = excluded.low_power_mode,
            thermal = excluded.thermal,
            net_reach = excluded.net_reach,
            net_constrained = excluded.net_constrained,
            net_expensive = excluded.net_expensive,
            health_score = excluded.health_score,
            is_critical = excluded.is_critical,
            health_level = excluded.health_level,
            max_concurrent = excluded.max_concurrent,
            allow_background_ml = excluded.allow_background_ml,
            image_variant = excluded.image_variant,
            prefer_cache = excluded.prefer_cache
    `,
		sample.Timestamp.UnixNano(),
		sample.Snapshot.BatteryLevel,
		boolToInt(sample.Snapshot.LowPowerMode),
		sample.Snapshot.Thermal.String(),
		sample.Snapshot.NetReach.String(),
		boolToInt(sample.Snapshot.NetConstrained),
		boolToInt(sample.Snapshot.NetExpensive),
		sample.Snapshot.Score(),
		boolToInt(sample.Snapshot.IsCritical()),
		sample.Policy.HealthLevel.String(),
		sample.Policy.MaxNetworkConcurrent,
		boolToInt(sample.Policy.AllowBackgroundML),
		sample.Policy.ImageVariant.String(),
		boolToInt(sample.Policy.PreferCacheWhenUnhealthy),
	)
	if err != nil {
		return errFactory.Wrap(ErrStorageAccess, err)
	}

	return nil
}

func (r *sqliteRepository) Close() error {
	errFactory := errors.New()

	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.db.Close(); err != nil {
		return errFactory.Wrap(ErrStorageClose, err)
	}
	return nil
}

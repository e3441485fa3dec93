package telemetry

import (
	"database/sql"

	"codeberg.org/tessel/kairo/internal/errors"
)

// initSchema initializes the database schema for health/policy history
func initSchema(db *sql.DB) error {
	errFactory := errors.New()

	_, err := db.Exec(`
        CREATE TABLE IF NOT EXISTS health_history (
            timestamp INTEGER PRIMARY KEY,
            battery_level REAL,
            low_power_mode INTEGER,
            thermal TEXT,
            net_reach TEXT,
            net_constrained INTEGER,
            net_expensive INTEGER,
            health_score REAL,
            is_critical INTEGER,
            health_level TEXT,
            max_concurrent INTEGER,
            allow_background_ml INTEGER,
            image_variant TEXT,
            prefer_cache INTEGER
        )
    `)
	if err != nil {
		return errFactory.Wrap(ErrSchemaInitFailed, err)
	}

	return nil
}

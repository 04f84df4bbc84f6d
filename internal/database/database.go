package database

import (
	"fmt"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/sirupsen/logrus"
)

// Connect opens the Postgres pool and verifies it with a ping.
func Connect(dbURL string, logger *logrus.Logger) (*sqlx.DB, error) {
	log := logger.WithFields(logrus.Fields{
		"component":  "database",
		"url_prefix": dbURL[:min(30, len(dbURL))],
	})
	log.Info("🔌 connecting to database")

	db, err := sqlx.Connect("postgres", dbURL)
	if err != nil {
		log.WithError(err).Error("❌ sqlx.Connect failed")
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := db.Ping(); err != nil {
		log.WithError(err).Error("❌ ping failed")
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	log.Info("✅ database connection successful")
	return db, nil
}

// Migrate applies the report store schema. Every statement is idempotent.
func Migrate(db *sqlx.DB, logger *logrus.Logger) error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS reports (
			id TEXT PRIMARY KEY,
			citizen_id TEXT NOT NULL,
			status TEXT NOT NULL CHECK(status IN ('pending', 'assigned', 'fake', 'invalid', 'no_waste', 'cleaned', 'verified', 'ai_error')),
			image_before TEXT NOT NULL DEFAULT '',
			image_after TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			doc JSONB NOT NULL DEFAULT '{}'::jsonb
		)`,

		// Append-only transition log; seq keeps insertion order.
		`CREATE TABLE IF NOT EXISTS report_history (
			seq BIGSERIAL,
			id TEXT PRIMARY KEY,
			report_id TEXT NOT NULL,
			status TEXT NOT NULL,
			note TEXT,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			FOREIGN KEY (report_id) REFERENCES reports(id) ON DELETE CASCADE
		)`,

		`CREATE TABLE IF NOT EXISTS accounts (
			id TEXT PRIMARY KEY,
			points INT NOT NULL DEFAULT 0,
			total_reports INT NOT NULL DEFAULT 0,
			total_cleaned INT NOT NULL DEFAULT 0,
			last_points_update TIMESTAMPTZ
		)`,

		// One row per paid milestone; the primary key makes awards at-most-once.
		`CREATE TABLE IF NOT EXISTS report_rewards (
			report_id TEXT NOT NULL,
			milestone TEXT NOT NULL,
			account_id TEXT NOT NULL,
			points INT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			PRIMARY KEY (report_id, milestone),
			FOREIGN KEY (report_id) REFERENCES reports(id) ON DELETE CASCADE
		)`,

		`CREATE INDEX IF NOT EXISTS idx_reports_status_created ON reports(status, created_at DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_reports_image_before ON reports(image_before)`,
		`CREATE INDEX IF NOT EXISTS idx_reports_image_after ON reports(image_after) WHERE image_after <> ''`,
		`CREATE INDEX IF NOT EXISTS idx_reports_citizen ON reports(citizen_id)`,
		`CREATE INDEX IF NOT EXISTS idx_report_history_report ON report_history(report_id, seq)`,
		`CREATE INDEX IF NOT EXISTS idx_report_rewards_account ON report_rewards(account_id)`,
	}

	for _, migration := range migrations {
		if _, err := db.Exec(migration); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}

	logger.WithField("component", "database").Info("✓ database migrations completed")
	return nil
}

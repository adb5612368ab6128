// file internal/helpers/db.go

package helpers

import (
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "github.com/lib/pq"
)

type DBConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	Name     string
}

func (c DBConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=disable",
		c.Host, c.Port, c.User, c.Password, c.Name,
	)
}

const connectAttempts = 5

func OpenDB(cfg DBConfig, logger *slog.Logger) (*sql.DB, error) {
	var db *sql.DB
	var err error
	for i := 0; i < connectAttempts; i++ {
		db, err = sql.Open("postgres", cfg.DSN())
		if err == nil {
			if err = db.Ping(); err == nil {
				break
			}
			db.Close()
		}
		logger.Info("waiting for database", "attempt", i+1, "of", connectAttempts)
		time.Sleep(2 * time.Second)
	}
	if err != nil {
		return nil, fmt.Errorf("could not reach database after %d attempts: %w", connectAttempts, err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)
	logger.Info("database connection established")
	return db, nil
}

// RunMigrations creates tables and indexes idempotently.
func RunMigrations(db *sql.DB, logger *slog.Logger) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS jars (
			id             VARCHAR(128)  PRIMARY KEY,
			owner_id       VARCHAR(128)  NOT NULL,
			title          VARCHAR(255)  NOT NULL,
			target_amount  NUMERIC(20,2) NOT NULL CHECK (target_amount > 0),
			current_amount NUMERIC(20,2) NOT NULL DEFAULT 0 CHECK (current_amount >= 0),
			currency       VARCHAR(8)    NOT NULL DEFAULT 'KES',
			is_active      BOOLEAN       NOT NULL DEFAULT TRUE,
			created_at     TIMESTAMPTZ   NOT NULL DEFAULT NOW(),
			updated_at     TIMESTAMPTZ   NOT NULL DEFAULT NOW()
		)`,
		`CREATE TABLE IF NOT EXISTS contributions (
			id                      VARCHAR(64)   PRIMARY KEY,
			jar_id                  VARCHAR(128)  NOT NULL REFERENCES jars(id) ON DELETE CASCADE,
			reference               VARCHAR(255)  NOT NULL UNIQUE,
			provider_transaction_id VARCHAR(255)  NOT NULL DEFAULT '',
			contributor_name        VARCHAR(255)  NOT NULL DEFAULT '',
			contributor_email       VARCHAR(255)  NOT NULL DEFAULT '',
			amount                  NUMERIC(20,2) NOT NULL CHECK (amount > 0),
			currency                VARCHAR(8)    NOT NULL,
			status                  VARCHAR(16)   NOT NULL CHECK (status IN ('pending', 'confirmed', 'failed')),
			is_anonymous            BOOLEAN       NOT NULL DEFAULT FALSE,
			created_at              TIMESTAMPTZ   NOT NULL DEFAULT NOW()
		)`,
		`CREATE TABLE IF NOT EXISTS pending_payments (
			id                      VARCHAR(255)  PRIMARY KEY,
			jar_id                  VARCHAR(128)  NOT NULL,
			provider_transaction_id VARCHAR(255)  NOT NULL DEFAULT '',
			amount                  NUMERIC(20,2) NOT NULL DEFAULT 0,
			contributor_name        VARCHAR(255)  NOT NULL DEFAULT '',
			contributor_email       VARCHAR(255)  NOT NULL DEFAULT '',
			is_anonymous            BOOLEAN       NOT NULL DEFAULT FALSE,
			channel                 VARCHAR(16)   NOT NULL DEFAULT '',
			status                  VARCHAR(16)   NOT NULL CHECK (status IN ('initiated', 'success', 'failed')),
			created_at              TIMESTAMPTZ   NOT NULL DEFAULT NOW(),
			updated_at              TIMESTAMPTZ   NOT NULL DEFAULT NOW()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_contributions_jar_id
			ON contributions(jar_id)`,
		`CREATE INDEX IF NOT EXISTS idx_pending_payments_jar_id
			ON pending_payments(jar_id)`,
		`CREATE INDEX IF NOT EXISTS idx_pending_payments_provider_transaction_id
			ON pending_payments(provider_transaction_id)`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}
	logger.Info("migrations completed")
	return nil
}

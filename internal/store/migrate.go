package store

import (
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
)

// schemaVersion is the current expected schema version.
const schemaVersion = 2

type migration struct {
	Version     int
	Description string
	SQL         string
}

// migrations is the ordered list of schema migrations, each applied once and
// tracked in schema_version.
var migrations = []migration{
	{
		Version:     1,
		Description: "gateway state: processed markers, accounts, account links, conversations",
		SQL: `
		CREATE TABLE IF NOT EXISTS processed_markers (
			event_id     TEXT PRIMARY KEY,
			processed_at INTEGER NOT NULL,
			user_id      TEXT,
			task_id      TEXT,
			intent       TEXT,
			reason       TEXT NOT NULL
		);

		CREATE TABLE IF NOT EXISTS accounts (
			user_id             TEXT PRIMARY KEY,
			name                TEXT DEFAULT '',
			phone               TEXT DEFAULT '',
			phone_normalized    TEXT DEFAULT '',
			subscription_status TEXT DEFAULT '',
			role                TEXT DEFAULT ''
		);
		CREATE INDEX IF NOT EXISTS idx_accounts_phone ON accounts(phone);
		CREATE INDEX IF NOT EXISTS idx_accounts_phone_norm ON accounts(phone_normalized);

		CREATE TABLE IF NOT EXISTS account_links (
			id                 TEXT PRIMARY KEY,
			user_id            TEXT NOT NULL,
			normalized_address TEXT NOT NULL,
			link_code          TEXT,
			link_code_expiry   INTEGER,
			is_active          INTEGER NOT NULL DEFAULT 0,
			created_at         INTEGER NOT NULL,
			activated_at       INTEGER
		);
		CREATE INDEX IF NOT EXISTS idx_links_address ON account_links(normalized_address, is_active);
		CREATE INDEX IF NOT EXISTS idx_links_code ON account_links(link_code, is_active);
		CREATE UNIQUE INDEX IF NOT EXISTS idx_links_active_pair
			ON account_links(user_id, normalized_address) WHERE is_active = 1;

		CREATE TABLE IF NOT EXISTS conversations (
			id             TEXT PRIMARY KEY,
			user_id        TEXT NOT NULL,
			sender_address TEXT NOT NULL,
			last_task_id   TEXT DEFAULT '',
			last_intent    TEXT DEFAULT '',
			history        TEXT NOT NULL DEFAULT '[]',
			created_at     INTEGER NOT NULL,
			updated_at     INTEGER NOT NULL,
			UNIQUE(user_id, sender_address)
		);
		`,
	},
	{
		Version:     2,
		Description: "task store: tasks and contexts",
		SQL: `
		CREATE TABLE IF NOT EXISTS contexts (
			id      TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			name    TEXT NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_contexts_user ON contexts(user_id);

		CREATE TABLE IF NOT EXISTS tasks (
			id                TEXT PRIMARY KEY,
			user_id           TEXT NOT NULL,
			title             TEXT NOT NULL,
			description       TEXT DEFAULT '',
			category          TEXT NOT NULL DEFAULT 'inbox',
			context_id        TEXT DEFAULT '',
			due_date          INTEGER,
			estimated_minutes INTEGER DEFAULT 0,
			completed         INTEGER NOT NULL DEFAULT 0,
			is_quick_action   INTEGER NOT NULL DEFAULT 0,
			source_event_id   TEXT UNIQUE,
			created_at        INTEGER NOT NULL,
			updated_at        INTEGER NOT NULL,
			completed_at      INTEGER
		);
		CREATE INDEX IF NOT EXISTS idx_tasks_user ON tasks(user_id, completed, category);
		CREATE INDEX IF NOT EXISTS idx_tasks_due ON tasks(user_id, due_date);
		`,
	},
}

// RunMigrations applies all pending schema migrations.
func RunMigrations(db *sql.DB, logger *slog.Logger) error {
	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_version (
			version     INTEGER PRIMARY KEY,
			description TEXT,
			applied_at  DATETIME DEFAULT CURRENT_TIMESTAMP
		)
	`); err != nil {
		return fmt.Errorf("create schema_version table: %w", err)
	}

	currentVersion := 0
	if err := db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_version").Scan(&currentVersion); err != nil {
		return fmt.Errorf("query schema version: %w", err)
	}

	for _, m := range migrations {
		if m.Version <= currentVersion {
			continue
		}

		logger.Info("applying migration", "version", m.Version, "description", m.Description)

		if err := applyMigration(db, m); err != nil {
			logger.Warn("migration batch failed, retrying per statement",
				"version", m.Version,
				"err", err,
			)
			if err := applyMigrationStatements(db, m, logger); err != nil {
				return err
			}
		}

		logger.Info("migration applied", "version", m.Version)
	}

	return nil
}

func applyMigration(db *sql.DB, m migration) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin migration v%d: %w", m.Version, err)
	}
	if _, err := tx.Exec(m.SQL); err != nil {
		tx.Rollback()
		return err
	}
	if _, err := tx.Exec(
		"INSERT OR REPLACE INTO schema_version (version, description) VALUES (?, ?)",
		m.Version, m.Description,
	); err != nil {
		tx.Rollback()
		return fmt.Errorf("record migration v%d: %w", m.Version, err)
	}
	return tx.Commit()
}

// applyMigrationStatements applies each statement on its own, skipping the
// "already exists" class of errors left behind by a partial earlier run.
func applyMigrationStatements(db *sql.DB, m migration, logger *slog.Logger) error {
	for _, stmt := range strings.Split(m.SQL, ";") {
		stmt = strings.TrimSpace(stmt)
		if stmt == "" {
			continue
		}
		if _, err := db.Exec(stmt); err != nil {
			msg := strings.ToLower(err.Error())
			if strings.Contains(msg, "duplicate column") || strings.Contains(msg, "already exists") {
				logger.Debug("migration statement skipped (already applied)", "stmt_prefix", truncate(stmt, 60))
				continue
			}
			return fmt.Errorf("migration v%d statement failed: %w\nSQL: %s", m.Version, err, truncate(stmt, 200))
		}
	}

	if _, err := db.Exec(
		"INSERT OR REPLACE INTO schema_version (version, description) VALUES (?, ?)",
		m.Version, m.Description,
	); err != nil {
		return fmt.Errorf("record migration v%d: %w", m.Version, err)
	}
	return nil
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}

// GetSchemaVersion returns the current schema version, 0 for a fresh database.
func GetSchemaVersion(db *sql.DB) (int, error) {
	var tableName string
	err := db.QueryRow("SELECT name FROM sqlite_master WHERE type='table' AND name='schema_version'").Scan(&tableName)
	if err != nil {
		return 0, nil
	}

	var version int
	if err := db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_version").Scan(&version); err != nil {
		return 0, err
	}
	return version, nil
}

package db

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// DB represents the database connection
type DB struct {
	*sql.DB
}

// New creates a new database connection
func New(dbPath string) (*DB, error) {
	// Ensure directory exists
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	db, err := sql.Open("sqlite3", dbPath+"?_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &DB{DB: db}, nil
}

// Initialize creates the necessary tables if they don't exist
func (db *DB) Initialize() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS sessions (
			key_share TEXT PRIMARY KEY,
			pin_share TEXT NOT NULL,
			jwt TEXT,
			account_number TEXT,
			name TEXT,
			user_id TEXT,
			status TEXT NOT NULL DEFAULT 'active',
			run_id TEXT,
			last_sync_at TIMESTAMP,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			deleted_at TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS transactions (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			session_key TEXT NOT NULL,
			bank_tx_id TEXT NOT NULL,
			amount_value TEXT NOT NULL,
			amount_currency TEXT NOT NULL,
			transaction_date TIMESTAMP NOT NULL,
			note TEXT,
			sender_account TEXT,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			UNIQUE(session_key, bank_tx_id)
		)`,
		`CREATE TABLE IF NOT EXISTS webhooks (
			id TEXT PRIMARY KEY,
			session_key TEXT,
			user_id TEXT NOT NULL,
			name TEXT,
			type TEXT NOT NULL DEFAULT 'http',
			trigger_type TEXT NOT NULL DEFAULT 'both',
			ignore_no_payment_code INTEGER NOT NULL DEFAULT 0,
			payment_code_regex TEXT,
			target_json TEXT NOT NULL,
			is_active INTEGER NOT NULL DEFAULT 1,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			deleted_at TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS webhook_logs (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			webhook_id TEXT NOT NULL,
			transaction_id TEXT,
			status_code INTEGER,
			request_body TEXT,
			response_body TEXT,
			error_message TEXT,
			dispatched_at TIMESTAMP NOT NULL,
			deleted_at TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS channel_credentials (
			session_key TEXT PRIMARY KEY,
			token TEXT,
			blob TEXT,
			delivery_ids_json TEXT NOT NULL DEFAULT '[]',
			message_ids_json TEXT NOT NULL DEFAULT '[]',
			updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)`,
	}

	for _, query := range queries {
		if _, err := db.Exec(query); err != nil {
			return fmt.Errorf("failed to create tables: %w", err)
		}
	}

	return nil
}

// PurgeSoftDeleted hard-removes tombstoned rows older than the cutoff:
// webhooks, dispatch logs, and sessions together with their
// transactions and channel credentials.
func (db *DB) PurgeSoftDeleted(olderThan time.Time) (int64, error) {
	// deleted_at is written by CURRENT_TIMESTAMP, which is UTC.
	olderThan = olderThan.UTC()
	var total int64
	for _, query := range []string{
		`DELETE FROM webhooks WHERE deleted_at IS NOT NULL AND deleted_at < ?`,
		`DELETE FROM webhook_logs WHERE deleted_at IS NOT NULL AND deleted_at < ?`,
		`DELETE FROM transactions WHERE session_key IN (
			SELECT key_share FROM sessions WHERE deleted_at IS NOT NULL AND deleted_at < ?)`,
		`DELETE FROM channel_credentials WHERE session_key IN (
			SELECT key_share FROM sessions WHERE deleted_at IS NOT NULL AND deleted_at < ?)`,
		`DELETE FROM sessions WHERE deleted_at IS NOT NULL AND deleted_at < ?`,
	} {
		res, err := db.Exec(query, olderThan)
		if err != nil {
			return total, fmt.Errorf("failed to purge soft-deleted rows: %w", err)
		}
		n, _ := res.RowsAffected()
		total += n
	}
	return total, nil
}

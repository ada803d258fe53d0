package db

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/cuongdev/billgate/pkg/models"
)

// UpsertSession creates or refreshes an account session keyed by its
// credential key. A re-register revives a soft-deleted row.
func (db *DB) UpsertSession(s *models.Session) error {
	query := `
	INSERT INTO sessions (key_share, pin_share, jwt, account_number, name, user_id, status, run_id)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(key_share) DO UPDATE SET
		pin_share = excluded.pin_share,
		jwt = excluded.jwt,
		account_number = excluded.account_number,
		name = excluded.name,
		user_id = excluded.user_id,
		status = excluded.status,
		run_id = excluded.run_id,
		deleted_at = NULL
	`

	_, err := db.Exec(query, s.KeyShare, s.PinShare, s.JWT, s.AccountNumber, s.Name, s.UserID, s.Status, s.RunID)
	if err != nil {
		return fmt.Errorf("failed to upsert session: %w", err)
	}

	return nil
}

// GetSession retrieves a non-deleted session by its credential key
func (db *DB) GetSession(keyShare string) (*models.Session, error) {
	query := `
	SELECT key_share, pin_share, COALESCE(jwt, ''), COALESCE(account_number, ''),
		COALESCE(name, ''), COALESCE(user_id, ''), status, COALESCE(run_id, ''),
		last_sync_at, created_at
	FROM sessions
	WHERE key_share = ? AND deleted_at IS NULL
	LIMIT 1
	`

	s := &models.Session{}
	var lastSync sql.NullTime
	err := db.QueryRow(query, keyShare).Scan(
		&s.KeyShare,
		&s.PinShare,
		&s.JWT,
		&s.AccountNumber,
		&s.Name,
		&s.UserID,
		&s.Status,
		&s.RunID,
		&lastSync,
		&s.CreatedAt,
	)

	if err == sql.ErrNoRows {
		return nil, nil
	} else if err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}

	if lastSync.Valid {
		s.LastSyncAt = &lastSync.Time
	}
	return s, nil
}

// ListSessions retrieves all non-deleted sessions
func (db *DB) ListSessions() ([]*models.Session, error) {
	query := `
	SELECT key_share, pin_share, COALESCE(jwt, ''), COALESCE(account_number, ''),
		COALESCE(name, ''), COALESCE(user_id, ''), status, COALESCE(run_id, ''),
		last_sync_at, created_at
	FROM sessions
	WHERE deleted_at IS NULL
	ORDER BY created_at
	`

	rows, err := db.Query(query)
	if err != nil {
		return nil, fmt.Errorf("failed to query sessions: %w", err)
	}
	defer rows.Close()

	var sessions []*models.Session
	for rows.Next() {
		s := &models.Session{}
		var lastSync sql.NullTime
		if err := rows.Scan(
			&s.KeyShare, &s.PinShare, &s.JWT, &s.AccountNumber, &s.Name,
			&s.UserID, &s.Status, &s.RunID, &lastSync, &s.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		if lastSync.Valid {
			s.LastSyncAt = &lastSync.Time
		}
		sessions = append(sessions, s)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating sessions: %w", err)
	}

	return sessions, nil
}

// UpdateSessionStatus transitions the lifecycle status of a session
func (db *DB) UpdateSessionStatus(keyShare string, status models.SessionStatus) error {
	_, err := db.Exec(`UPDATE sessions SET status = ? WHERE key_share = ?`, status, keyShare)
	if err != nil {
		return fmt.Errorf("failed to update session status: %w", err)
	}
	return nil
}

// UpdateSessionToken refreshes the upstream session token
func (db *DB) UpdateSessionToken(keyShare, jwt string) error {
	_, err := db.Exec(`UPDATE sessions SET jwt = ? WHERE key_share = ?`, jwt, keyShare)
	if err != nil {
		return fmt.Errorf("failed to update session token: %w", err)
	}
	return nil
}

// UpdateSessionRunID records the current orchestrator run identifier
func (db *DB) UpdateSessionRunID(keyShare, runID string) error {
	_, err := db.Exec(`UPDATE sessions SET run_id = ? WHERE key_share = ?`, runID, keyShare)
	if err != nil {
		return fmt.Errorf("failed to update session run id: %w", err)
	}
	return nil
}

// TouchSessionSync records the last successful sync timestamp
func (db *DB) TouchSessionSync(keyShare string, t time.Time) error {
	_, err := db.Exec(`UPDATE sessions SET last_sync_at = ? WHERE key_share = ?`, t, keyShare)
	if err != nil {
		return fmt.Errorf("failed to touch session: %w", err)
	}
	return nil
}

// SoftDeleteSession tombstones a session without purging dependents
func (db *DB) SoftDeleteSession(keyShare string) error {
	_, err := db.Exec(
		`UPDATE sessions SET status = ?, deleted_at = CURRENT_TIMESTAMP WHERE key_share = ?`,
		models.StatusDeleted, keyShare,
	)
	if err != nil {
		return fmt.Errorf("failed to soft-delete session: %w", err)
	}
	return nil
}

// PurgeSession hard-deletes a session and cascades the purge to its
// transactions, destinations, dispatch logs and channel credentials.
// Used only when the owning user explicitly deletes the connection.
func (db *DB) PurgeSession(keyShare string) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin purge: %w", err)
	}
	defer tx.Rollback()

	statements := []string{
		`DELETE FROM webhook_logs WHERE webhook_id IN (SELECT id FROM webhooks WHERE session_key = ?)`,
		`DELETE FROM webhooks WHERE session_key = ?`,
		`DELETE FROM transactions WHERE session_key = ?`,
		`DELETE FROM channel_credentials WHERE session_key = ?`,
		`DELETE FROM sessions WHERE key_share = ?`,
	}
	for _, stmt := range statements {
		if _, err := tx.Exec(stmt, keyShare); err != nil {
			return fmt.Errorf("failed to purge session: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit purge: %w", err)
	}
	return nil
}

package db

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/cuongdev/billgate/pkg/models"
)

// SaveChannelCredentials upserts the push-channel registration blob and
// the two dedup sets for one session. Called after every set mutation
// so restarts never reprocess recent messages.
func (db *DB) SaveChannelCredentials(c *models.ChannelCredentials) error {
	deliveryIDs, err := json.Marshal(c.DeliveryIDs)
	if err != nil {
		return fmt.Errorf("failed to marshal delivery ids: %w", err)
	}
	messageIDs, err := json.Marshal(c.MessageIDs)
	if err != nil {
		return fmt.Errorf("failed to marshal message ids: %w", err)
	}

	query := `
	INSERT INTO channel_credentials (session_key, token, blob, delivery_ids_json, message_ids_json, updated_at)
	VALUES (?, ?, ?, ?, ?, ?)
	ON CONFLICT(session_key) DO UPDATE SET
		token = excluded.token,
		blob = excluded.blob,
		delivery_ids_json = excluded.delivery_ids_json,
		message_ids_json = excluded.message_ids_json,
		updated_at = excluded.updated_at
	`

	_, err = db.Exec(query, c.SessionKey, c.Token, string(c.Blob), string(deliveryIDs), string(messageIDs), time.Now())
	if err != nil {
		return fmt.Errorf("failed to save channel credentials: %w", err)
	}
	return nil
}

// GetChannelCredentials retrieves the stored registration for a session
func (db *DB) GetChannelCredentials(sessionKey string) (*models.ChannelCredentials, error) {
	query := `
	SELECT session_key, COALESCE(token, ''), COALESCE(blob, ''),
		delivery_ids_json, message_ids_json, updated_at
	FROM channel_credentials
	WHERE session_key = ?
	LIMIT 1
	`

	c := &models.ChannelCredentials{}
	var blob, deliveryIDs, messageIDs string
	err := db.QueryRow(query, sessionKey).Scan(
		&c.SessionKey, &c.Token, &blob, &deliveryIDs, &messageIDs, &c.UpdatedAt,
	)

	if err == sql.ErrNoRows {
		return nil, nil
	} else if err != nil {
		return nil, fmt.Errorf("failed to get channel credentials: %w", err)
	}

	c.Blob = json.RawMessage(blob)
	if err := json.Unmarshal([]byte(deliveryIDs), &c.DeliveryIDs); err != nil {
		return nil, fmt.Errorf("failed to unmarshal delivery ids: %w", err)
	}
	if err := json.Unmarshal([]byte(messageIDs), &c.MessageIDs); err != nil {
		return nil, fmt.Errorf("failed to unmarshal message ids: %w", err)
	}
	return c, nil
}

// DeleteChannelCredentials removes the registration for a session
func (db *DB) DeleteChannelCredentials(sessionKey string) error {
	if _, err := db.Exec(`DELETE FROM channel_credentials WHERE session_key = ?`, sessionKey); err != nil {
		return fmt.Errorf("failed to delete channel credentials: %w", err)
	}
	return nil
}

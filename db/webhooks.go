package db

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/cuongdev/billgate/pkg/models"
)

// Delivery attempt bodies are capped before storage.
const maxLoggedBodyLen = 5000

// SaveDestination creates or replaces a webhook destination. The
// per-type target is serialized into a single JSON column.
func (db *DB) SaveDestination(d *models.Destination) error {
	target, err := marshalTarget(d.Target)
	if err != nil {
		return err
	}

	query := `
	INSERT INTO webhooks (id, session_key, user_id, name, type, trigger_type,
		ignore_no_payment_code, payment_code_regex, target_json, is_active)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		session_key = excluded.session_key,
		user_id = excluded.user_id,
		name = excluded.name,
		type = excluded.type,
		trigger_type = excluded.trigger_type,
		ignore_no_payment_code = excluded.ignore_no_payment_code,
		payment_code_regex = excluded.payment_code_regex,
		target_json = excluded.target_json,
		is_active = excluded.is_active,
		deleted_at = NULL
	`

	_, err = db.Exec(query,
		d.ID, nullIfEmpty(d.SessionKey), d.UserID, d.Name, string(d.Type()), d.Trigger,
		d.IgnoreNoPaymentCode, d.PaymentCodeRegex, target, d.Enabled,
	)
	if err != nil {
		return fmt.Errorf("failed to save destination: %w", err)
	}
	return nil
}

// GetDestination retrieves a destination by id
func (db *DB) GetDestination(id string) (*models.Destination, error) {
	query := destinationSelect + ` WHERE id = ? AND deleted_at IS NULL LIMIT 1`

	row := db.QueryRow(query, id)
	d, err := scanDestination(row)
	if err == sql.ErrNoRows {
		return nil, nil
	} else if err != nil {
		return nil, fmt.Errorf("failed to get destination: %w", err)
	}
	return d, nil
}

// ListDestinationsForOwner retrieves the destinations eligible for one
// account: those bound to the session plus the owner's account-wide
// ones (stored with a NULL session key).
func (db *DB) ListDestinationsForOwner(userID, sessionKey string) ([]*models.Destination, error) {
	query := destinationSelect + `
	WHERE deleted_at IS NULL AND user_id = ? AND (session_key = ? OR session_key IS NULL)
	ORDER BY created_at
	`

	rows, err := db.Query(query, userID, sessionKey)
	if err != nil {
		return nil, fmt.Errorf("failed to query destinations: %w", err)
	}
	defer rows.Close()

	var destinations []*models.Destination
	for rows.Next() {
		d, err := scanDestination(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan destination: %w", err)
		}
		destinations = append(destinations, d)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating destinations: %w", err)
	}

	return destinations, nil
}

// SoftDeleteDestination tombstones a destination and its logs
func (db *DB) SoftDeleteDestination(id string) error {
	if _, err := db.Exec(`UPDATE webhooks SET deleted_at = CURRENT_TIMESTAMP WHERE id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete destination: %w", err)
	}
	if _, err := db.Exec(`UPDATE webhook_logs SET deleted_at = CURRENT_TIMESTAMP WHERE webhook_id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete destination logs: %w", err)
	}
	return nil
}

// AppendDispatchLog appends one delivery attempt. Bodies are truncated
// to keep rows bounded; the log is never updated afterwards.
func (db *DB) AppendDispatchLog(l *models.DispatchLog) error {
	query := `
	INSERT INTO webhook_logs (webhook_id, transaction_id, status_code,
		request_body, response_body, error_message, dispatched_at)
	VALUES (?, ?, ?, ?, ?, ?, ?)
	`

	dispatchedAt := l.DispatchedAt
	if dispatchedAt.IsZero() {
		dispatchedAt = time.Now()
	}

	_, err := db.Exec(query,
		l.WebhookID,
		l.TransactionID,
		l.StatusCode,
		truncate(l.RequestBody, maxLoggedBodyLen),
		truncate(l.ResponseBody, maxLoggedBodyLen),
		l.ErrorMessage,
		dispatchedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to append dispatch log: %w", err)
	}
	return nil
}

// GetDispatchLogs retrieves recent delivery attempts, newest first.
// webhookID narrows to one destination when non-empty.
func (db *DB) GetDispatchLogs(limit int, webhookID string) ([]*models.DispatchLog, error) {
	if limit <= 0 {
		limit = 100
	}

	query := `
	SELECT id, webhook_id, COALESCE(transaction_id, ''), COALESCE(status_code, 0),
		COALESCE(request_body, ''), COALESCE(response_body, ''), COALESCE(error_message, ''),
		dispatched_at
	FROM webhook_logs
	WHERE deleted_at IS NULL AND (? = '' OR webhook_id = ?)
	ORDER BY dispatched_at DESC
	LIMIT ?
	`

	rows, err := db.Query(query, webhookID, webhookID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query dispatch logs: %w", err)
	}
	defer rows.Close()

	var logs []*models.DispatchLog
	for rows.Next() {
		l := &models.DispatchLog{}
		if err := rows.Scan(
			&l.ID, &l.WebhookID, &l.TransactionID, &l.StatusCode,
			&l.RequestBody, &l.ResponseBody, &l.ErrorMessage, &l.DispatchedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan dispatch log: %w", err)
		}
		logs = append(logs, l)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating dispatch logs: %w", err)
	}

	return logs, nil
}

const destinationSelect = `
	SELECT id, COALESCE(session_key, ''), user_id, COALESCE(name, ''), type, trigger_type,
		ignore_no_payment_code, COALESCE(payment_code_regex, ''), target_json, is_active, created_at
	FROM webhooks`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDestination(row rowScanner) (*models.Destination, error) {
	d := &models.Destination{}
	var destType, targetJSON string
	if err := row.Scan(
		&d.ID, &d.SessionKey, &d.UserID, &d.Name, &destType, &d.Trigger,
		&d.IgnoreNoPaymentCode, &d.PaymentCodeRegex, &targetJSON, &d.Enabled, &d.CreatedAt,
	); err != nil {
		return nil, err
	}

	target, err := unmarshalTarget(models.DestinationType(destType), targetJSON)
	if err != nil {
		return nil, err
	}
	d.Target = target
	return d, nil
}

// storedTarget is the JSON shape of the target_json column. Secrets
// live here rather than in the model's public JSON form.
type storedTarget struct {
	URL        string            `json:"url,omitempty"`
	Auth       models.AuthType   `json:"auth,omitempty"`
	AuthHeader string            `json:"authHeader,omitempty"`
	AuthSecret string            `json:"authSecret,omitempty"`
	Headers    map[string]string `json:"headers,omitempty"`
	BotToken   string            `json:"botToken,omitempty"`
	ChatID     int64             `json:"chatId,omitempty"`
}

func marshalTarget(t models.Target) (string, error) {
	var st storedTarget
	switch v := t.(type) {
	case *models.GenericHTTP:
		st = storedTarget{URL: v.URL, Auth: v.Auth, AuthHeader: v.AuthHeader, AuthSecret: v.AuthSecret, Headers: v.Headers}
	case *models.ChatBot:
		st = storedTarget{BotToken: v.BotToken, ChatID: v.ChatID}
	default:
		return "", fmt.Errorf("unknown destination target %T", t)
	}
	b, err := json.Marshal(st)
	if err != nil {
		return "", fmt.Errorf("failed to marshal target: %w", err)
	}
	return string(b), nil
}

func unmarshalTarget(destType models.DestinationType, raw string) (models.Target, error) {
	var st storedTarget
	if err := json.Unmarshal([]byte(raw), &st); err != nil {
		return nil, fmt.Errorf("failed to unmarshal target: %w", err)
	}
	if destType == models.DestinationTelegram {
		return &models.ChatBot{BotToken: st.BotToken, ChatID: st.ChatID}, nil
	}
	auth := st.Auth
	if auth == "" {
		auth = models.AuthNone
	}
	return &models.GenericHTTP{URL: st.URL, Auth: auth, AuthHeader: st.AuthHeader, AuthSecret: st.AuthSecret, Headers: st.Headers}, nil
}

func truncate(s string, max int) string {
	if len(s) > max {
		return s[:max]
	}
	return s
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

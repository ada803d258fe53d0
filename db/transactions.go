package db

import (
	"fmt"

	"github.com/cuongdev/billgate/pkg/models"
)

// InsertTransaction persists a transaction idempotently. It returns
// false when a row with the same (session, bank tx id) already exists;
// the uniqueness race with a concurrent sync is absorbed by INSERT OR
// IGNORE rather than surfaced as an error.
func (db *DB) InsertTransaction(tx *models.Transaction) (bool, error) {
	query := `
	INSERT OR IGNORE INTO transactions (
		session_key, bank_tx_id, amount_value, amount_currency,
		transaction_date, note, sender_account
	) VALUES (?, ?, ?, ?, ?, ?, ?)
	`

	res, err := db.Exec(
		query,
		tx.SessionKey,
		tx.BankTxID,
		tx.Amount.Value,
		tx.Amount.Currency,
		tx.Date,
		tx.Note,
		tx.SenderAccount,
	)
	if err != nil {
		return false, fmt.Errorf("failed to insert transaction: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}

	return affected > 0, nil
}

// GetTransactions retrieves transactions for one session, newest first
func (db *DB) GetTransactions(sessionKey string, limit int) ([]*models.Transaction, error) {
	if limit <= 0 {
		limit = 100
	}

	query := `
	SELECT session_key, bank_tx_id, amount_value, amount_currency,
		transaction_date, COALESCE(note, ''), COALESCE(sender_account, ''), created_at
	FROM transactions
	WHERE session_key = ?
	ORDER BY transaction_date DESC
	LIMIT ?
	`

	rows, err := db.Query(query, sessionKey, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query transactions: %w", err)
	}
	defer rows.Close()

	var transactions []*models.Transaction
	for rows.Next() {
		tx := &models.Transaction{}
		if err := rows.Scan(
			&tx.SessionKey,
			&tx.BankTxID,
			&tx.Amount.Value,
			&tx.Amount.Currency,
			&tx.Date,
			&tx.Note,
			&tx.SenderAccount,
			&tx.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan transaction: %w", err)
		}
		transactions = append(transactions, tx)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating transactions: %w", err)
	}

	return transactions, nil
}

package bank

import (
	"context"
	"errors"
	"sort"

	"github.com/rs/zerolog/log"

	"github.com/cuongdev/billgate/db"
	"github.com/cuongdev/billgate/pkg/models"
)

// SyncStatus classifies the outcome of one sync cycle.
type SyncStatus string

const (
	SyncSuccess    SyncStatus = "SUCCESS"
	SyncAuthFailed SyncStatus = "AUTH_FAILED"
	SyncError      SyncStatus = "ERROR"
)

// SyncResult carries the newly inserted transactions of one cycle.
// Duplicates and malformed records are absorbed, never reported.
type SyncResult struct {
	NewTransactions []*models.Transaction
	Status          SyncStatus
	Err             string
}

// Syncer is the transaction sync activity: fetch the full pending
// batch from upstream, parse, persist idempotently, return only what
// was newly inserted.
type Syncer struct {
	client Client
	store  db.Store
}

func NewSyncer(client Client, store db.Store) *Syncer {
	return &Syncer{client: client, store: store}
}

// Sync runs one fetch-and-persist cycle for the session. An expired or
// rejected session is reported as AUTH_FAILED so the caller can decide
// between re-authentication and retry.
func (s *Syncer) Sync(ctx context.Context, session *models.Session) *SyncResult {
	records, err := s.client.FetchNotifications(ctx, session)
	if err != nil {
		if errors.Is(err, ErrInvalidCredentials) {
			return &SyncResult{Status: SyncAuthFailed, Err: err.Error()}
		}
		return &SyncResult{Status: SyncError, Err: err.Error()}
	}

	var items []string
	for _, group := range records {
		items = append(items, group...)
	}
	log.Debug().Str("keyShare", session.KeyShare).Int("items", len(items)).Msg("Fetched pending notifications")

	var inserted []*models.Transaction
	for _, raw := range items {
		tx, err := ParseRawRecord(raw)
		if err != nil {
			log.Warn().Str("keyShare", session.KeyShare).Str("record", raw).Err(err).Msg("Skipping malformed record")
			continue
		}
		tx.SessionKey = session.KeyShare
		tx.BankTxID = RecordID(raw)

		isNew, err := s.store.InsertTransaction(tx)
		if err != nil {
			log.Error().Str("keyShare", session.KeyShare).Str("bankTxId", tx.BankTxID).Err(err).Msg("Failed to persist transaction")
			continue
		}
		if !isNew {
			log.Debug().Str("bankTxId", tx.BankTxID).Msg("Skipping duplicate transaction")
			continue
		}
		inserted = append(inserted, tx)
	}

	sort.Slice(inserted, func(i, j int) bool {
		return inserted[i].Date.Before(inserted[j].Date)
	})

	return &SyncResult{NewTransactions: inserted, Status: SyncSuccess}
}

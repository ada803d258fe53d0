package webhook

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/samber/lo"

	"github.com/cuongdev/billgate/db"
	"github.com/cuongdev/billgate/pkg/models"
)

// Engine fans freshly synced transactions out to the destinations
// configured for an account. Each dispatch attempt is recorded in the
// dispatch log regardless of outcome.
type Engine struct {
	store    db.Store
	handlers map[models.DestinationType]Handler
}

// NewEngine builds an engine with the default handler set. telegramAPIURL
// overrides the Bot API base URL when non-empty.
func NewEngine(store db.Store, telegramAPIURL string) *Engine {
	return &Engine{
		store: store,
		handlers: map[models.DestinationType]Handler{
			models.DestinationHTTP:     NewHTTPHandler(),
			models.DestinationTelegram: NewTelegramHandler(telegramAPIURL),
		},
	}
}

// Dispatch delivers each transaction to every enabled destination whose
// policy matches it. Transactions are assumed oldest-first; failures
// never interrupt delivery of the remaining work.
func (e *Engine) Dispatch(ctx context.Context, session *models.Session, txs []*models.Transaction) {
	if len(txs) == 0 {
		return
	}

	destinations, err := e.store.ListDestinationsForOwner(session.UserID, session.KeyShare)
	if err != nil {
		log.Error().Err(err).Str("account", session.AccountNumber).Msg("Failed to list webhook destinations")
		return
	}
	destinations = lo.Filter(destinations, func(d *models.Destination, _ int) bool {
		return d.Enabled
	})
	if len(destinations) == 0 {
		return
	}

	for _, tx := range txs {
		for _, d := range destinations {
			payload := BuildPayload(tx, d)
			if !shouldTrigger(d, tx, payload) {
				continue
			}
			e.deliver(ctx, d, tx, payload)
		}
	}
}

// DispatchTest sends a synthetic transaction to a single destination so
// its configuration can be verified end to end.
func (e *Engine) DispatchTest(ctx context.Context, destinationID string) (*Result, error) {
	d, err := e.store.GetDestination(destinationID)
	if err != nil {
		return nil, err
	}
	if d == nil {
		return nil, fmt.Errorf("webhook %s not found", destinationID)
	}

	tx := &models.Transaction{
		BankTxID:      "test-dispatch",
		Amount:        models.Amount{Value: "150000", Currency: "VND"},
		Date:          time.Now(),
		Note:          "Thanh toan don hang MMTEST01A",
		SenderAccount: "000000001",
	}
	return e.deliver(ctx, d, tx, BuildPayload(tx, d)), nil
}

func (e *Engine) deliver(ctx context.Context, d *models.Destination, tx *models.Transaction, payload *Payload) *Result {
	handler, ok := e.handlers[d.Type()]
	if !ok {
		handler = e.handlers[models.DestinationHTTP]
	}

	result := handler.Handle(ctx, payload, d)
	if result.Success {
		log.Info().
			Str("webhook", d.ID).
			Str("txId", tx.BankTxID).
			Int("status", result.StatusCode).
			Msg("Webhook delivered")
	} else {
		log.Warn().
			Str("webhook", d.ID).
			Str("txId", tx.BankTxID).
			Int("status", result.StatusCode).
			Str("error", result.ErrorMessage).
			Msg("Webhook delivery failed")
	}

	entry := &models.DispatchLog{
		WebhookID:     d.ID,
		TransactionID: tx.BankTxID,
		StatusCode:    result.StatusCode,
		RequestBody:   result.RequestBody,
		ResponseBody:  result.ResponseBody,
		ErrorMessage:  result.ErrorMessage,
	}
	if err := e.store.AppendDispatchLog(entry); err != nil {
		log.Error().Err(err).Str("webhook", d.ID).Msg("Failed to record dispatch log")
	}
	return result
}

// shouldTrigger applies the destination's direction and payment-code
// policy to a single transaction. When the destination carries a usable
// custom pattern, that pattern alone decides eligibility; the built-in
// extractor is the fallback only for an absent or rejected pattern.
func shouldTrigger(d *models.Destination, tx *models.Transaction, payload *Payload) bool {
	switch d.Trigger {
	case models.TriggerIn:
		if !tx.Inbound() {
			return false
		}
	case models.TriggerOut:
		if tx.Inbound() {
			return false
		}
	}
	if d.IgnoreNoPaymentCode {
		if re := SafeUserPattern(d.PaymentCodeRegex); re != nil {
			return re.MatchString(tx.Note)
		}
		return payload.Code != ""
	}
	return true
}

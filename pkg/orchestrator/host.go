package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"

	"github.com/cuongdev/billgate/db"
	"github.com/cuongdev/billgate/pkg/bank"
	"github.com/cuongdev/billgate/pkg/config"
	"github.com/cuongdev/billgate/pkg/models"
	"github.com/cuongdev/billgate/pkg/push"
	"github.com/cuongdev/billgate/pkg/webhook"
)

// Event is pushed to stream subscribers after each successful sync
// that produced new transactions.
type Event struct {
	Session      *models.Session       `json:"session"`
	Transactions []*models.Transaction `json:"transactions"`
}

// RegisterRequest carries the credentials of a new account.
type RegisterRequest struct {
	KeyShare      string `json:"keyShare" binding:"required"`
	PinShare      string `json:"pinShare" binding:"required"`
	AccountNumber string `json:"accountNumber" binding:"required"`
	Name          string `json:"name"`
	UserID        string `json:"userId" binding:"required"`
}

// Host owns every account orchestrator in the process. It restores
// them from the store on startup, spawns new ones on registration and
// fans sync results out to stream subscribers.
type Host struct {
	store     db.Store
	client    bank.Client
	transport push.Transport
	registry  *push.Registry
	engine    *webhook.Engine
	syncer    *bank.Syncer

	retry          RetryPolicy
	healthInterval time.Duration
	retentionDays  int

	mu      sync.Mutex
	orchs   map[string]*Orchestrator
	cancels map[string]context.CancelFunc
	subs    map[chan Event]struct{}

	baseCtx context.Context
	cancel  context.CancelFunc
	sweeper *cron.Cron
}

// NewHost wires the host from its infrastructure pieces and config.
func NewHost(store db.Store, client bank.Client, transport push.Transport, cfg *config.Config) *Host {
	return &Host{
		store:          store,
		client:         client,
		transport:      transport,
		registry:       push.NewRegistry(store, transport),
		engine:         webhook.NewEngine(store, cfg.TelegramAPIURL),
		syncer:         bank.NewSyncer(client, store),
		retry:          PolicyFromConfig(cfg.Retry),
		healthInterval: time.Duration(cfg.HealthCheckSeconds) * time.Second,
		retentionDays:  cfg.RetentionDays,
		orchs:          make(map[string]*Orchestrator),
		cancels:        make(map[string]context.CancelFunc),
		subs:           make(map[chan Event]struct{}),
	}
}

// Start restores orchestrators for every non-deleted session and, when
// retention is configured, schedules the nightly purge sweep.
func (h *Host) Start(ctx context.Context) error {
	h.baseCtx, h.cancel = context.WithCancel(ctx)

	sessions, err := h.store.ListSessions()
	if err != nil {
		return fmt.Errorf("failed to restore sessions: %w", err)
	}

	for _, s := range sessions {
		if s.Status == models.StatusDeleted {
			continue
		}
		// Each process start is a new run of the account's loop.
		s.RunID = uuid.NewString()
		if err := h.store.UpdateSessionRunID(s.KeyShare, s.RunID); err != nil {
			log.Warn().Str("keyShare", s.KeyShare).Err(err).Msg("Failed to record new run id")
		}
		h.spawn(s)
	}
	log.Info().Int("accounts", len(h.orchs)).Msg("Restored account orchestrators")

	if h.retentionDays > 0 {
		h.sweeper = cron.New()
		if _, err := h.sweeper.AddFunc("@daily", h.sweep); err != nil {
			return fmt.Errorf("failed to schedule retention sweep: %w", err)
		}
		h.sweeper.Start()
		log.Info().Int("retentionDays", h.retentionDays).Msg("Retention sweep scheduled")
	}
	return nil
}

// Stop tears down every orchestrator and waits for them to exit.
func (h *Host) Stop() {
	if h.sweeper != nil {
		h.sweeper.Stop()
	}
	if h.cancel != nil {
		h.cancel()
	}

	h.mu.Lock()
	orchs := make([]*Orchestrator, 0, len(h.orchs))
	for _, o := range h.orchs {
		orchs = append(orchs, o)
	}
	h.mu.Unlock()

	for _, o := range orchs {
		<-o.Done()
	}
	log.Info().Msg("All orchestrators stopped")
}

// RegisterAccount validates the credential shares against the bank,
// persists the session and starts its orchestrator. Re-registering an
// existing key revives it with a fresh run id.
func (h *Host) RegisterAccount(ctx context.Context, req *RegisterRequest) (*models.Session, error) {
	creds, err := push.EnsureRegistration(ctx, h.store, h.transport, req.KeyShare)
	if err != nil {
		return nil, fmt.Errorf("failed to obtain push registration: %w", err)
	}

	jwt, err := h.client.ValidateShare(ctx, req.KeyShare, req.PinShare, creds.Token)
	if err != nil {
		return nil, err
	}

	session := &models.Session{
		KeyShare:      req.KeyShare,
		PinShare:      req.PinShare,
		JWT:           jwt,
		AccountNumber: req.AccountNumber,
		Name:          req.Name,
		UserID:        req.UserID,
		Status:        models.StatusActive,
		RunID:         uuid.NewString(),
	}
	if err := h.store.UpsertSession(session); err != nil {
		return nil, fmt.Errorf("failed to persist session: %w", err)
	}

	h.mu.Lock()
	if cancel, ok := h.cancels[req.KeyShare]; ok {
		cancel()
		delete(h.orchs, req.KeyShare)
		delete(h.cancels, req.KeyShare)
	}
	h.mu.Unlock()

	h.spawn(session)
	log.Info().
		Str("keyShare", req.KeyShare).
		Str("account", req.AccountNumber).
		Str("runId", session.RunID).
		Msg("Account registered")
	return session, nil
}

// Pause suspends syncing for the account.
func (h *Host) Pause(keyShare string) error {
	o, err := h.lookup(keyShare)
	if err != nil {
		return err
	}
	o.Pause()
	return nil
}

// Resume reactivates a paused account.
func (h *Host) Resume(keyShare string) error {
	o, err := h.lookup(keyShare)
	if err != nil {
		return err
	}
	o.Resume()
	return nil
}

// Delete tombstones the account and removes its orchestrator. The
// row lingers until the retention sweep purges it.
func (h *Host) Delete(keyShare string) error {
	h.mu.Lock()
	o := h.orchs[keyShare]
	delete(h.orchs, keyShare)
	delete(h.cancels, keyShare)
	h.mu.Unlock()

	if o != nil {
		o.Delete()
		return nil
	}

	// No live orchestrator; tombstone the stored session directly.
	session, err := h.store.GetSession(keyShare)
	if err != nil {
		return err
	}
	if session == nil {
		return fmt.Errorf("account %s not found", keyShare)
	}
	return h.store.SoftDeleteSession(keyShare)
}

// RefreshToken hands a re-validated session token to the account's
// orchestrator.
func (h *Host) RefreshToken(keyShare, jwt string) error {
	o, err := h.lookup(keyShare)
	if err != nil {
		return err
	}
	o.UpdateToken(jwt)
	return nil
}

// Revalidate re-exchanges the stored credential shares for a fresh
// session token. An account paused by an auth failure is resumed once
// the new token is in place.
func (h *Host) Revalidate(ctx context.Context, keyShare string) error {
	session, err := h.store.GetSession(keyShare)
	if err != nil {
		return err
	}
	if session == nil {
		return fmt.Errorf("account %s not found", keyShare)
	}

	creds, err := push.EnsureRegistration(ctx, h.store, h.transport, keyShare)
	if err != nil {
		return fmt.Errorf("failed to obtain push registration: %w", err)
	}
	jwt, err := h.client.ValidateShare(ctx, keyShare, session.PinShare, creds.Token)
	if err != nil {
		return err
	}

	o, err := h.lookup(keyShare)
	if err != nil {
		return h.store.UpdateSessionToken(keyShare, jwt)
	}
	o.UpdateToken(jwt)
	if o.Status().Status == models.StatusPaused {
		o.Resume()
	}
	log.Info().Str("keyShare", keyShare).Msg("Session token refreshed")
	return nil
}

// Purge deletes the account and immediately hard-removes its rows
// instead of waiting for the retention sweep.
func (h *Host) Purge(keyShare string) error {
	if err := h.Delete(keyShare); err != nil {
		return err
	}
	return h.store.PurgeSession(keyShare)
}

// AccountStatus reports the orchestrator snapshot for one account.
func (h *Host) AccountStatus(keyShare string) (*Status, error) {
	o, err := h.lookup(keyShare)
	if err != nil {
		return nil, err
	}
	st := o.Status()
	return &st, nil
}

// ListAccounts reports snapshots of every live orchestrator.
func (h *Host) ListAccounts() []Status {
	h.mu.Lock()
	orchs := make([]*Orchestrator, 0, len(h.orchs))
	for _, o := range h.orchs {
		orchs = append(orchs, o)
	}
	h.mu.Unlock()

	statuses := make([]Status, 0, len(orchs))
	for _, o := range orchs {
		statuses = append(statuses, o.Status())
	}
	return statuses
}

// ListenerStats reports push listener counts for the health endpoint.
func (h *Host) ListenerStats() (total, active int) {
	return h.registry.Stats()
}

// DispatchTest fires a synthetic payload at one destination.
func (h *Host) DispatchTest(ctx context.Context, destinationID string) (*webhook.Result, error) {
	return h.engine.DispatchTest(ctx, destinationID)
}

// Subscribe returns a channel of sync events and a cancel func. Slow
// subscribers lose events rather than stall the orchestrators.
func (h *Host) Subscribe() (<-chan Event, func()) {
	ch := make(chan Event, 16)
	h.mu.Lock()
	h.subs[ch] = struct{}{}
	h.mu.Unlock()

	return ch, func() {
		h.mu.Lock()
		delete(h.subs, ch)
		h.mu.Unlock()
	}
}

func (h *Host) lookup(keyShare string) (*Orchestrator, error) {
	h.mu.Lock()
	o := h.orchs[keyShare]
	h.mu.Unlock()
	if o == nil {
		return nil, fmt.Errorf("account %s not found", keyShare)
	}
	return o, nil
}

func (h *Host) spawn(session *models.Session) {
	base := h.baseCtx
	if base == nil {
		base = context.Background()
	}
	ctx, cancel := context.WithCancel(base)
	o := New(session, Deps{
		Store:             h.store,
		Syncer:            h.syncer,
		Dispatch:          h.engine,
		Listeners:         h.registry,
		Retry:             h.retry,
		HealthInterval:    h.healthInterval,
		OnNewTransactions: h.broadcast,
	})

	h.mu.Lock()
	h.orchs[session.KeyShare] = o
	h.cancels[session.KeyShare] = cancel
	h.mu.Unlock()

	go func() {
		o.Run(ctx)
		cancel()
		h.mu.Lock()
		if h.orchs[session.KeyShare] == o {
			delete(h.orchs, session.KeyShare)
			delete(h.cancels, session.KeyShare)
		}
		h.mu.Unlock()
	}()
}

func (h *Host) broadcast(session *models.Session, txs []*models.Transaction) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.subs {
		select {
		case ch <- Event{Session: session, Transactions: txs}:
		default:
		}
	}
}

// sweep purges tombstoned rows older than the retention window.
func (h *Host) sweep() {
	cutoff := time.Now().AddDate(0, 0, -h.retentionDays)
	purged, err := h.store.PurgeSoftDeleted(cutoff)
	if err != nil {
		log.Error().Err(err).Msg("Retention sweep failed")
		return
	}
	if purged > 0 {
		log.Info().Int64("rows", purged).Msg("Retention sweep purged tombstoned rows")
	}
}

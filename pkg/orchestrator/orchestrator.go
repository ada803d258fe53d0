package orchestrator

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/cuongdev/billgate/db"
	"github.com/cuongdev/billgate/pkg/bank"
	"github.com/cuongdev/billgate/pkg/models"
	"github.com/cuongdev/billgate/pkg/push"
)

// Pending push events are coalesced: one buffered slot per in-flight
// burst is enough because a sync always fetches the full pending batch.
const eventBuffer = 64

// Syncer runs one fetch-and-persist cycle for a session.
type Syncer interface {
	Sync(ctx context.Context, session *models.Session) *bank.SyncResult
}

// Dispatcher delivers newly synced transactions to webhook destinations.
type Dispatcher interface {
	Dispatch(ctx context.Context, session *models.Session, txs []*models.Transaction)
}

// ListenerRegistry manages the account's push channel listener.
type ListenerRegistry interface {
	Start(ctx context.Context, keyShare string, onMessage func(push.Message)) error
	Stop(keyShare string) error
	CheckHealth(keyShare string) push.Health
}

// Deps bundles the collaborators of an orchestrator.
type Deps struct {
	Store     db.Store
	Syncer    Syncer
	Dispatch  Dispatcher
	Listeners ListenerRegistry
	Retry     RetryPolicy
	// HealthInterval is how often the push listener is self-checked.
	HealthInterval time.Duration
	// OnNewTransactions, when set, is invoked after each successful
	// sync that produced new rows.
	OnNewTransactions func(session *models.Session, txs []*models.Transaction)
}

type signal int

const (
	sigPause signal = iota
	sigResume
	sigDelete
)

// Status is a point-in-time snapshot of one orchestrator.
type Status struct {
	KeyShare       string               `json:"keyShare"`
	AccountNumber  string               `json:"accountNumber"`
	Status         models.SessionStatus `json:"status"`
	ListenerHealth push.Health          `json:"listenerHealth"`
	LastSyncAt     *time.Time           `json:"lastSyncAt,omitempty"`
	RunID          string               `json:"runId"`
}

// Orchestrator is the durable per-account loop: it owns the account's
// push listener, folds bursts of push events into single sync cycles,
// and feeds the results to webhook dispatch. All state transitions are
// persisted before they take effect in memory, so a process restart
// resumes from the stored session.
type Orchestrator struct {
	session *models.Session
	deps    Deps

	events  chan struct{}
	control chan signal
	done    chan struct{}

	mu       sync.Mutex
	status   models.SessionStatus
	lastSync *time.Time
}

func New(session *models.Session, deps Deps) *Orchestrator {
	if deps.HealthInterval <= 0 {
		deps.HealthInterval = time.Minute
	}
	return &Orchestrator{
		session:  session,
		deps:     deps,
		events:   make(chan struct{}, eventBuffer),
		control:  make(chan signal),
		done:     make(chan struct{}),
		status:   session.Status,
		lastSync: session.LastSyncAt,
	}
}

// Run drives the orchestrator until the context ends or a delete
// signal arrives. It is meant to be spawned once per account.
func (o *Orchestrator) Run(ctx context.Context) {
	defer close(o.done)

	log.Info().
		Str("keyShare", o.session.KeyShare).
		Str("runId", o.session.RunID).
		Str("status", string(o.currentStatus())).
		Msg("Orchestrator started")

	if o.currentStatus() == models.StatusActive {
		o.ensureListener(ctx)
		o.Notify()
	}

	ticker := time.NewTicker(o.deps.HealthInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			o.stopListener()
			log.Info().Str("keyShare", o.session.KeyShare).Msg("Orchestrator shut down")
			return
		case sig := <-o.control:
			if o.apply(ctx, sig) {
				return
			}
		case <-o.events:
			o.drainEvents()
			if o.cycle(ctx) {
				return
			}
		case <-ticker.C:
			o.healthCheck(ctx)
		}
	}
}

// Notify requests a sync cycle. Safe to call from any goroutine; a
// request arriving while the buffer is full is coalesced into the
// already pending work.
func (o *Orchestrator) Notify() {
	select {
	case o.events <- struct{}{}:
	default:
	}
}

// Pause stops the listener and freezes syncing until Resume.
func (o *Orchestrator) Pause() { o.signal(sigPause) }

// Resume reactivates a paused account and triggers an immediate sync.
func (o *Orchestrator) Resume() { o.signal(sigResume) }

// Delete tombstones the account and terminates the loop. It blocks
// until the loop has exited.
func (o *Orchestrator) Delete() {
	o.signal(sigDelete)
	<-o.done
}

// UpdateToken persists a refreshed upstream session token and triggers
// a sync so the new token is exercised immediately.
func (o *Orchestrator) UpdateToken(jwt string) {
	if err := o.deps.Store.UpdateSessionToken(o.session.KeyShare, jwt); err != nil {
		log.Error().Str("keyShare", o.session.KeyShare).Err(err).Msg("Failed to persist refreshed token")
		return
	}
	o.Notify()
}

// Done is closed when the loop has exited.
func (o *Orchestrator) Done() <-chan struct{} { return o.done }

// Status reports a snapshot for the introspection API.
func (o *Orchestrator) Status() Status {
	o.mu.Lock()
	defer o.mu.Unlock()
	return Status{
		KeyShare:       o.session.KeyShare,
		AccountNumber:  o.session.AccountNumber,
		Status:         o.status,
		ListenerHealth: o.deps.Listeners.CheckHealth(o.session.KeyShare),
		LastSyncAt:     o.lastSync,
		RunID:          o.session.RunID,
	}
}

func (o *Orchestrator) signal(s signal) {
	select {
	case o.control <- s:
	case <-o.done:
	}
}

func (o *Orchestrator) drainEvents() {
	for {
		select {
		case <-o.events:
		default:
			return
		}
	}
}

func (o *Orchestrator) currentStatus() models.SessionStatus {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.status
}

func (o *Orchestrator) setStatus(s models.SessionStatus) {
	o.mu.Lock()
	o.status = s
	o.mu.Unlock()
}

// apply executes a control signal. The returned bool means the loop
// must exit (only delete does that).
func (o *Orchestrator) apply(ctx context.Context, sig signal) bool {
	switch sig {
	case sigPause:
		if o.currentStatus() != models.StatusActive {
			return false
		}
		o.stopListener()
		o.persistStatus(models.StatusPaused)
		log.Info().Str("keyShare", o.session.KeyShare).Msg("Account paused")
	case sigResume:
		if o.currentStatus() != models.StatusPaused {
			return false
		}
		o.persistStatus(models.StatusActive)
		o.ensureListener(ctx)
		o.Notify()
		log.Info().Str("keyShare", o.session.KeyShare).Msg("Account resumed")
	case sigDelete:
		o.doDelete()
		return true
	}
	return false
}

func (o *Orchestrator) doDelete() {
	o.stopListener()
	if err := o.deps.Store.SoftDeleteSession(o.session.KeyShare); err != nil {
		log.Error().Str("keyShare", o.session.KeyShare).Err(err).Msg("Failed to tombstone session")
	}
	o.setStatus(models.StatusDeleted)
	log.Info().Str("keyShare", o.session.KeyShare).Msg("Account deleted")
}

// cycle runs one sync and dispatches the results. A delete arriving
// while the sync ran wins: dispatch is skipped and the loop exits
// (returns true).
func (o *Orchestrator) cycle(ctx context.Context) bool {
	if o.currentStatus() != models.StatusActive {
		return false
	}

	// Re-read the session so a refreshed token is picked up.
	session, err := o.deps.Store.GetSession(o.session.KeyShare)
	if err != nil || session == nil {
		log.Error().Str("keyShare", o.session.KeyShare).Err(err).Msg("Failed to load session for sync")
		return false
	}

	var result *bank.SyncResult
	err = o.deps.Retry.Do(ctx, "sync", func() error {
		result = o.deps.Syncer.Sync(ctx, session)
		switch result.Status {
		case bank.SyncAuthFailed:
			return bank.ErrInvalidCredentials
		case bank.SyncError:
			return errors.New(result.Err)
		}
		return nil
	})

	if err != nil {
		if bank.IsNonRetryable(err) {
			log.Warn().Str("keyShare", o.session.KeyShare).Msg("Credentials rejected, pausing account")
			o.stopListener()
			o.persistStatus(models.StatusPaused)
		}
		return false
	}

	now := time.Now()
	if err := o.deps.Store.TouchSessionSync(o.session.KeyShare, now); err != nil {
		log.Warn().Str("keyShare", o.session.KeyShare).Err(err).Msg("Failed to record sync time")
	}
	o.mu.Lock()
	o.lastSync = &now
	o.mu.Unlock()

	// A delete signalled during the sync skips dispatch entirely.
	select {
	case sig := <-o.control:
		if sig == sigDelete {
			o.doDelete()
			return true
		}
		defer o.apply(ctx, sig)
	default:
	}

	if len(result.NewTransactions) == 0 {
		return false
	}

	log.Info().
		Str("keyShare", o.session.KeyShare).
		Int("count", len(result.NewTransactions)).
		Msg("Sync produced new transactions")

	o.deps.Dispatch.Dispatch(ctx, session, result.NewTransactions)
	if o.deps.OnNewTransactions != nil {
		o.deps.OnNewTransactions(session, result.NewTransactions)
	}
	return false
}

func (o *Orchestrator) ensureListener(ctx context.Context) {
	err := o.deps.Retry.Do(ctx, "listener-start", func() error {
		return o.deps.Listeners.Start(ctx, o.session.KeyShare, func(push.Message) {
			o.Notify()
		})
	})
	if err == nil {
		return
	}
	if bank.IsNonRetryable(err) {
		log.Warn().Str("keyShare", o.session.KeyShare).Err(err).Msg("Listener rejected credentials, pausing account")
		o.persistStatus(models.StatusPaused)
		return
	}
	log.Error().Str("keyShare", o.session.KeyShare).Err(err).Msg("Failed to start push listener")
}

func (o *Orchestrator) stopListener() {
	if err := o.deps.Listeners.Stop(o.session.KeyShare); err != nil {
		log.Warn().Str("keyShare", o.session.KeyShare).Err(err).Msg("Failed to stop push listener")
	}
}

// healthCheck restarts a dead listener and runs a catch-up sync, since
// events may have been missed while the channel was down.
func (o *Orchestrator) healthCheck(ctx context.Context) {
	if o.currentStatus() != models.StatusActive {
		return
	}
	if o.deps.Listeners.CheckHealth(o.session.KeyShare) == push.HealthConnected {
		return
	}
	log.Warn().Str("keyShare", o.session.KeyShare).Msg("Push listener unhealthy, restarting")
	o.ensureListener(ctx)
	o.Notify()
}

// persistStatus writes the status before exposing it in memory.
func (o *Orchestrator) persistStatus(s models.SessionStatus) {
	if err := o.deps.Store.UpdateSessionStatus(o.session.KeyShare, s); err != nil {
		log.Error().Str("keyShare", o.session.KeyShare).Err(err).Msg("Failed to persist session status")
	}
	o.setStatus(s)
}

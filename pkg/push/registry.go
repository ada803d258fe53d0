package push

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"
	"github.com/samber/lo"

	"github.com/cuongdev/billgate/pkg/bank"
	"github.com/cuongdev/billgate/pkg/models"
)

// Health is the result of a listener health check.
type Health string

const (
	HealthConnected    Health = "CONNECTED"
	HealthDisconnected Health = "DISCONNECTED"
	HealthError        Health = "ERROR"
)

type startAttempt struct {
	done chan struct{}
	err  error
}

// Registry maps account credential keys to their single live listener.
// Start and Stop are mutually exclusive per key: concurrent starts
// converge on one attempt, and a stop waits out an in-flight start so
// no start can land after the stop.
type Registry struct {
	store     credentialStore
	transport Transport

	mu        sync.Mutex
	listeners map[string]*Listener
	starting  map[string]*startAttempt
}

func NewRegistry(store credentialStore, transport Transport) *Registry {
	return &Registry{
		store:     store,
		transport: transport,
		listeners: make(map[string]*Listener),
		starting:  make(map[string]*startAttempt),
	}
}

// Start ensures exactly one connected listener for the key. Idempotent:
// a connected listener returns immediately, and callers arriving while
// a start is in flight share that attempt's outcome.
func (r *Registry) Start(ctx context.Context, keyShare string, onMessage func(Message)) error {
	r.mu.Lock()
	if attempt, ok := r.starting[keyShare]; ok {
		r.mu.Unlock()
		log.Debug().Str("keyShare", keyShare).Msg("Listener start already in flight, awaiting it")
		<-attempt.done
		return attempt.err
	}

	if existing := r.listeners[keyShare]; existing != nil && existing.IsConnected() {
		r.mu.Unlock()
		log.Debug().Str("keyShare", keyShare).Msg("Listener already active")
		return nil
	}

	attempt := &startAttempt{done: make(chan struct{})}
	r.starting[keyShare] = attempt
	stale := r.listeners[keyShare]
	r.mu.Unlock()

	err := r.doStart(ctx, keyShare, stale, onMessage)

	r.mu.Lock()
	delete(r.starting, keyShare)
	r.mu.Unlock()

	attempt.err = err
	close(attempt.done)
	return err
}

func (r *Registry) doStart(ctx context.Context, keyShare string, stale *Listener, onMessage func(Message)) error {
	if stale != nil {
		log.Info().Str("keyShare", keyShare).Msg("Stopping stale listener before restart")
		if err := stale.Stop(); err != nil {
			log.Warn().Str("keyShare", keyShare).Err(err).Msg("Failed to stop stale listener")
		}
		r.mu.Lock()
		delete(r.listeners, keyShare)
		r.mu.Unlock()
	}

	listener := NewListener(keyShare, r.transport, r.store)
	if err := listener.Start(ctx, onMessage); err != nil {
		log.Error().Str("keyShare", keyShare).Err(err).Msg("Failed to start listener")
		return classifyStartError(keyShare, err)
	}

	r.mu.Lock()
	r.listeners[keyShare] = listener
	total := len(r.listeners)
	r.mu.Unlock()

	log.Info().Str("keyShare", keyShare).Int("listeners", total).Msg("Listener started")
	return nil
}

// Stop tears down the listener for the key, waiting out any in-flight
// start first. Stopping an absent listener is a no-op.
func (r *Registry) Stop(keyShare string) error {
	r.mu.Lock()
	attempt := r.starting[keyShare]
	r.mu.Unlock()

	if attempt != nil {
		log.Debug().Str("keyShare", keyShare).Msg("Waiting for in-flight start before stopping")
		<-attempt.done
	}

	r.mu.Lock()
	listener := r.listeners[keyShare]
	delete(r.listeners, keyShare)
	remaining := len(r.listeners)
	r.mu.Unlock()

	if listener == nil {
		log.Debug().Str("keyShare", keyShare).Msg("No active listener to stop")
		return nil
	}

	if err := listener.Stop(); err != nil {
		log.Warn().Str("keyShare", keyShare).Err(err).Msg("Failed to stop listener")
	}
	log.Info().Str("keyShare", keyShare).Int("listeners", remaining).Msg("Listener stopped")
	return nil
}

// Remove stops the listener and marks the account session paused; used
// when the credentials are permanently invalid.
func (r *Registry) Remove(keyShare string) error {
	if err := r.Stop(keyShare); err != nil {
		return err
	}
	if err := r.store.UpdateSessionStatus(keyShare, models.StatusPaused); err != nil {
		log.Warn().Str("keyShare", keyShare).Err(err).Msg("Failed to mark session paused")
	}
	return nil
}

// IsListening reports whether a connected listener exists for the key.
func (r *Registry) IsListening(keyShare string) bool {
	r.mu.Lock()
	listener := r.listeners[keyShare]
	r.mu.Unlock()
	return listener != nil && listener.IsConnected()
}

// CheckHealth reports the health of the key's listener.
func (r *Registry) CheckHealth(keyShare string) Health {
	r.mu.Lock()
	listener := r.listeners[keyShare]
	r.mu.Unlock()

	if listener == nil {
		return HealthDisconnected
	}
	if listener.IsConnected() {
		return HealthConnected
	}
	return HealthDisconnected
}

// Stats reports listener counts for introspection.
func (r *Registry) Stats() (total, active int) {
	r.mu.Lock()
	listeners := lo.Values(r.listeners)
	r.mu.Unlock()

	return len(listeners), lo.CountBy(listeners, func(l *Listener) bool {
		return l.IsConnected()
	})
}

// classifyStartError surfaces credential-looking failures as
// non-retryable so the orchestrator stops retrying blindly.
func classifyStartError(keyShare string, err error) error {
	if bank.IsNonRetryable(err) {
		return err
	}
	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "credential") || strings.Contains(msg, "invalid") || strings.Contains(msg, "unauthorized") {
		return fmt.Errorf("listener start for %s: %s: %w", keyShare, err.Error(), bank.ErrInvalidCredentials)
	}
	return err
}

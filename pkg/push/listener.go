package push

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/cuongdev/billgate/pkg/models"
)

// How long a disconnect must persist before it is announced. Flapping
// connections otherwise spam the log with connect/disconnect pairs.
const disconnectDebounce = 2 * time.Second

// Listener owns one account's connection to the vendor push channel.
// It registers channel credentials once, deduplicates inbound messages
// at two levels and persists the dedup state after every mutation.
type Listener struct {
	keyShare  string
	transport Transport
	store     credentialStore
	debounce  time.Duration

	// mu serializes Start/Stop so concurrent calls never interleave
	// teardown and setup of the underlying connection.
	mu      sync.Mutex
	conn    Conn
	runDone chan struct{}

	credsMu   sync.Mutex
	creds     *models.ChannelCredentials
	onMessage func(Message)

	stateMu         sync.Mutex
	running         bool
	connected       bool
	disconnectTimer *time.Timer
}

func NewListener(keyShare string, transport Transport, store credentialStore) *Listener {
	return &Listener{
		keyShare:  keyShare,
		transport: transport,
		store:     store,
		debounce:  disconnectDebounce,
	}
}

// Start connects the listener and begins delivering deduplicated
// messages to onMessage. Calling Start on a connected listener only
// swaps the callback.
func (l *Listener) Start(ctx context.Context, onMessage func(Message)) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.conn != nil && l.IsConnected() {
		l.credsMu.Lock()
		l.onMessage = onMessage
		l.credsMu.Unlock()
		return nil
	}

	if l.conn != nil {
		log.Info().Str("keyShare", l.keyShare).Msg("Cleaning up old listener before starting a new one")
		l.stopLocked()
	}

	creds, err := EnsureRegistration(ctx, l.store, l.transport, l.keyShare)
	if err != nil {
		return err
	}

	conn, err := l.transport.Dial(ctx, &Registration{Token: creds.Token, Raw: creds.Blob})
	if err != nil {
		return err
	}

	l.credsMu.Lock()
	l.creds = creds
	l.onMessage = onMessage
	l.credsMu.Unlock()

	l.conn = conn
	l.runDone = make(chan struct{})
	go l.run(conn, l.runDone)

	l.stateMu.Lock()
	l.running = true
	l.connected = true
	l.stateMu.Unlock()

	log.Info().Str("keyShare", l.keyShare).Msg("Push listener started")
	return nil
}

// Stop tears the connection down and persists the dedup state.
func (l *Listener) Stop() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.stopLocked()
	return nil
}

func (l *Listener) stopLocked() {
	if l.conn == nil {
		log.Debug().Str("keyShare", l.keyShare).Msg("Listener already stopped")
		return
	}

	if err := l.conn.Close(); err != nil {
		log.Warn().Str("keyShare", l.keyShare).Err(err).Msg("Failed to close push connection")
	}
	<-l.runDone
	l.conn = nil
	l.runDone = nil

	l.stateMu.Lock()
	if l.disconnectTimer != nil {
		l.disconnectTimer.Stop()
		l.disconnectTimer = nil
	}
	l.running = false
	l.connected = false
	l.stateMu.Unlock()

	l.persistCreds()
	log.Info().Str("keyShare", l.keyShare).Msg("Push listener stopped")
}

// IsConnected reflects the debounced connection state only.
func (l *Listener) IsConnected() bool {
	l.stateMu.Lock()
	defer l.stateMu.Unlock()
	return l.running && l.connected
}

func (l *Listener) run(conn Conn, done chan struct{}) {
	defer close(done)
	for {
		select {
		case m, ok := <-conn.Messages():
			if !ok {
				l.noteState(false)
				return
			}
			l.handleMessage(m)
		case s, ok := <-conn.States():
			if !ok {
				continue
			}
			l.noteState(s)
		}
	}
}

// handleMessage applies both dedup levels. A duplicate message id
// still memoizes the delivery id so the decision survives a restart.
func (l *Listener) handleMessage(m Message) {
	l.credsMu.Lock()
	creds := l.creds
	if creds == nil {
		l.credsMu.Unlock()
		return
	}

	if m.DeliveryID != "" && creds.SeenDelivery(m.DeliveryID) {
		l.credsMu.Unlock()
		log.Debug().Str("keyShare", l.keyShare).Str("deliveryId", m.DeliveryID).Msg("Skipping duplicate delivery id")
		return
	}

	if m.MessageID != "" && creds.SeenMessage(m.MessageID) {
		if m.DeliveryID != "" {
			creds.RememberDelivery(m.DeliveryID)
			l.saveCredsLocked()
		}
		l.credsMu.Unlock()
		log.Debug().Str("keyShare", l.keyShare).Str("messageId", m.MessageID).Msg("Skipping duplicate message id")
		return
	}

	onMessage := l.onMessage
	l.credsMu.Unlock()

	log.Info().Str("keyShare", l.keyShare).Str("messageId", m.MessageID).Msg("Received new push message")
	if onMessage != nil {
		onMessage(m)
	}

	l.credsMu.Lock()
	changed := false
	if m.DeliveryID != "" {
		changed = creds.RememberDelivery(m.DeliveryID) || changed
	}
	if m.MessageID != "" {
		changed = creds.RememberMessage(m.MessageID) || changed
	}
	if changed {
		l.saveCredsLocked()
	}
	l.credsMu.Unlock()
}

func (l *Listener) saveCredsLocked() {
	if err := l.store.SaveChannelCredentials(l.creds); err != nil {
		log.Error().Str("keyShare", l.keyShare).Err(err).Msg("Failed to persist dedup state")
	}
}

func (l *Listener) persistCreds() {
	l.credsMu.Lock()
	defer l.credsMu.Unlock()
	if l.creds != nil {
		l.saveCredsLocked()
	}
}

// noteState tracks connectivity with debounce: a disconnect is only
// announced after the window elapses, and a reconnect cancels a
// pending announcement immediately.
func (l *Listener) noteState(connected bool) {
	l.stateMu.Lock()
	defer l.stateMu.Unlock()

	if connected {
		if l.disconnectTimer != nil {
			l.disconnectTimer.Stop()
			l.disconnectTimer = nil
			l.connected = true
			return
		}
		if !l.connected {
			log.Info().Str("keyShare", l.keyShare).Msg("Push channel connected")
		}
		l.connected = true
		return
	}

	if l.disconnectTimer != nil {
		return
	}
	l.disconnectTimer = time.AfterFunc(l.debounce, func() {
		l.stateMu.Lock()
		defer l.stateMu.Unlock()
		if l.disconnectTimer == nil {
			return
		}
		l.disconnectTimer = nil
		l.connected = false
		log.Warn().Str("keyShare", l.keyShare).Msg("Push channel disconnected")
	})
}

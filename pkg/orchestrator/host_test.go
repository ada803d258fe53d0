package orchestrator

import (
	"context"
	"sync"
	"testing"

	"github.com/cuongdev/billgate/db"
	"github.com/cuongdev/billgate/pkg/bank"
	"github.com/cuongdev/billgate/pkg/config"
	"github.com/cuongdev/billgate/pkg/models"
	"github.com/cuongdev/billgate/pkg/push"
)

type hostClient struct {
	validateErr error
	records     map[string][]string
}

func (c *hostClient) ValidateShare(ctx context.Context, keyShare, pinShare, pushToken string) (string, error) {
	if c.validateErr != nil {
		return "", c.validateErr
	}
	return "jwt-" + keyShare, nil
}

func (c *hostClient) FetchNotifications(ctx context.Context, session *models.Session) (map[string][]string, error) {
	return c.records, nil
}

type hostConn struct {
	msgs   chan push.Message
	states chan bool
	once   sync.Once
}

func (c *hostConn) Messages() <-chan push.Message { return c.msgs }
func (c *hostConn) States() <-chan bool           { return c.states }
func (c *hostConn) Close() error {
	c.once.Do(func() { close(c.msgs) })
	return nil
}

type hostTransport struct{}

func (hostTransport) Register(ctx context.Context) (*push.Registration, error) {
	return &push.Registration{Token: "tok-1"}, nil
}

func (hostTransport) Dial(ctx context.Context, reg *push.Registration) (push.Conn, error) {
	return &hostConn{msgs: make(chan push.Message, 1), states: make(chan bool, 1)}, nil
}

func hostConfig() *config.Config {
	return &config.Config{
		HealthCheckSeconds: 3600,
		Retry: config.RetryOptions{
			InitialIntervalMs:  1,
			BackoffCoefficient: 2.0,
			MaximumIntervalMs:  5,
			MaximumAttempts:    2,
		},
	}
}

func TestHostRestoresSessions(t *testing.T) {
	store := db.NewMockStore()
	seed := func(key string, status models.SessionStatus) {
		store.Sessions[key] = &models.Session{
			KeyShare: key,
			UserID:   "user-1",
			Status:   status,
			RunID:    "run-" + key,
		}
	}
	seed("active-1", models.StatusActive)
	seed("paused-1", models.StatusPaused)
	seed("deleted-1", models.StatusDeleted)

	host := NewHost(store, &hostClient{}, hostTransport{}, hostConfig())
	if err := host.Start(context.Background()); err != nil {
		t.Fatalf("Failed to start host: %v", err)
	}
	defer host.Stop()

	accounts := host.ListAccounts()
	if len(accounts) != 2 {
		t.Fatalf("Expected 2 restored orchestrators, got %d", len(accounts))
	}

	// The active account brings its listener up; the paused one stays down
	eventually(t, func() bool {
		st, err := host.AccountStatus("active-1")
		return err == nil && st.ListenerHealth == push.HealthConnected
	}, "Expected active account's listener to connect")

	st, err := host.AccountStatus("paused-1")
	if err != nil {
		t.Fatalf("Failed to get paused account status: %v", err)
	}
	if st.Status != models.StatusPaused {
		t.Errorf("Expected paused status, got %s", st.Status)
	}
	if st.ListenerHealth == push.HealthConnected {
		t.Errorf("Expected paused account's listener to stay down")
	}

	if _, err := host.AccountStatus("deleted-1"); err == nil {
		t.Errorf("Expected deleted account to have no orchestrator")
	}
}

func TestHostRegisterAndDelete(t *testing.T) {
	store := db.NewMockStore()
	host := NewHost(store, &hostClient{}, hostTransport{}, hostConfig())
	if err := host.Start(context.Background()); err != nil {
		t.Fatalf("Failed to start host: %v", err)
	}
	defer host.Stop()

	session, err := host.RegisterAccount(context.Background(), &RegisterRequest{
		KeyShare:      "key-1",
		PinShare:      "pin-1",
		AccountNumber: "123456789",
		Name:          "Main",
		UserID:        "user-1",
	})
	if err != nil {
		t.Fatalf("Failed to register account: %v", err)
	}
	if session.JWT != "jwt-key-1" {
		t.Errorf("Expected validated token, got %q", session.JWT)
	}
	if session.RunID == "" {
		t.Errorf("Expected a run id to be assigned")
	}

	stored, err := store.GetSession("key-1")
	if err != nil || stored == nil {
		t.Fatalf("Expected session to be persisted, got %v, %v", stored, err)
	}
	if stored.Status != models.StatusActive {
		t.Errorf("Expected active status, got %s", stored.Status)
	}

	eventually(t, func() bool {
		st, err := host.AccountStatus("key-1")
		return err == nil && st.ListenerHealth == push.HealthConnected
	}, "Expected listener to connect after registration")

	if err := host.Delete("key-1"); err != nil {
		t.Fatalf("Failed to delete account: %v", err)
	}
	if _, err := host.AccountStatus("key-1"); err == nil {
		t.Errorf("Expected orchestrator to be gone after delete")
	}
	if store.Sessions["key-1"].Status != models.StatusDeleted {
		t.Errorf("Expected session to be tombstoned")
	}
}

func TestHostRegisterInvalidCredentials(t *testing.T) {
	store := db.NewMockStore()
	host := NewHost(store, &hostClient{validateErr: bank.ErrInvalidCredentials}, hostTransport{}, hostConfig())
	if err := host.Start(context.Background()); err != nil {
		t.Fatalf("Failed to start host: %v", err)
	}
	defer host.Stop()

	_, err := host.RegisterAccount(context.Background(), &RegisterRequest{
		KeyShare: "key-1",
		PinShare: "bad",
		UserID:   "user-1",
	})
	if err == nil {
		t.Fatal("Expected registration to fail")
	}
	if got, _ := store.GetSession("key-1"); got != nil {
		t.Errorf("Expected no session to be persisted, got %+v", got)
	}
}

func TestHostPurge(t *testing.T) {
	store := db.NewMockStore()
	store.Sessions["key-1"] = &models.Session{KeyShare: "key-1", UserID: "user-1", Status: models.StatusPaused}
	host := NewHost(store, &hostClient{}, hostTransport{}, hostConfig())
	if err := host.Start(context.Background()); err != nil {
		t.Fatalf("Failed to start host: %v", err)
	}
	defer host.Stop()

	if err := host.Purge("key-1"); err != nil {
		t.Fatalf("Failed to purge account: %v", err)
	}
	if _, ok := store.Sessions["key-1"]; ok {
		t.Errorf("Expected session row to be hard-removed")
	}
}

func TestHostSubscribe(t *testing.T) {
	store := db.NewMockStore()
	host := NewHost(store, &hostClient{}, hostTransport{}, hostConfig())

	events, cancel := host.Subscribe()
	defer cancel()

	session := activeSession()
	txs := []*models.Transaction{{SessionKey: "key-1", BankTxID: "tx-1"}}
	host.broadcast(session, txs)

	select {
	case ev := <-events:
		if ev.Session.KeyShare != "key-1" || len(ev.Transactions) != 1 {
			t.Errorf("Unexpected event %+v", ev)
		}
	default:
		t.Fatal("Expected a buffered event")
	}

	// After cancel, broadcasts no longer reach the channel
	cancel()
	host.broadcast(session, txs)
	select {
	case ev := <-events:
		t.Errorf("Expected no event after unsubscribe, got %+v", ev)
	default:
	}
}

package push

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/cuongdev/billgate/db"
)

type fakeConn struct {
	msgs   chan Message
	states chan bool
	once   sync.Once
}

func newFakeConn() *fakeConn {
	return &fakeConn{msgs: make(chan Message, 16), states: make(chan bool, 16)}
}

func (c *fakeConn) Messages() <-chan Message { return c.msgs }
func (c *fakeConn) States() <-chan bool      { return c.states }
func (c *fakeConn) Close() error {
	c.once.Do(func() { close(c.msgs) })
	return nil
}

type fakeTransport struct {
	mu        sync.Mutex
	registers int
	dials     int
	dialErr   error
	conns     []*fakeConn
}

func (t *fakeTransport) Register(ctx context.Context) (*Registration, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.registers++
	return &Registration{Token: "tok-1"}, nil
}

func (t *fakeTransport) Dial(ctx context.Context, reg *Registration) (Conn, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.dialErr != nil {
		return nil, t.dialErr
	}
	t.dials++
	conn := newFakeConn()
	t.conns = append(t.conns, conn)
	return conn, nil
}

func (t *fakeTransport) lastConn() *fakeConn {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.conns) == 0 {
		return nil
	}
	return t.conns[len(t.conns)-1]
}

func TestEnsureRegistration(t *testing.T) {
	store := db.NewMockStore()
	transport := &fakeTransport{}

	creds, err := EnsureRegistration(context.Background(), store, transport, "key-1")
	if err != nil {
		t.Fatalf("Failed to register: %v", err)
	}
	if creds.Token != "tok-1" {
		t.Errorf("Expected token tok-1, got %q", creds.Token)
	}

	// A second call loads the persisted registration
	creds, err = EnsureRegistration(context.Background(), store, transport, "key-1")
	if err != nil {
		t.Fatalf("Failed to load registration: %v", err)
	}
	if transport.registers != 1 {
		t.Errorf("Expected a single vendor registration, got %d", transport.registers)
	}
	if creds.Token != "tok-1" {
		t.Errorf("Expected persisted token, got %q", creds.Token)
	}
}

func TestListenerDedup(t *testing.T) {
	store := db.NewMockStore()
	transport := &fakeTransport{}
	listener := NewListener("key-1", transport, store)

	delivered := make(chan Message, 16)
	if err := listener.Start(context.Background(), func(m Message) { delivered <- m }); err != nil {
		t.Fatalf("Failed to start listener: %v", err)
	}

	conn := transport.lastConn()
	conn.msgs <- Message{DeliveryID: "d1", MessageID: "m1"}

	select {
	case m := <-delivered:
		if m.MessageID != "m1" {
			t.Errorf("Expected m1, got %q", m.MessageID)
		}
	case <-time.After(time.Second):
		t.Fatal("Expected message to be delivered")
	}

	// Same delivery id: dropped at level one
	conn.msgs <- Message{DeliveryID: "d1", MessageID: "m1"}
	// Same message id under a fresh delivery id: dropped at level two
	conn.msgs <- Message{DeliveryID: "d2", MessageID: "m1"}

	select {
	case m := <-delivered:
		t.Fatalf("Expected duplicates to be dropped, got %q/%q", m.DeliveryID, m.MessageID)
	case <-time.After(100 * time.Millisecond):
	}

	if err := listener.Stop(); err != nil {
		t.Fatalf("Failed to stop listener: %v", err)
	}

	// Both delivery ids are persisted, so a restart stays deduplicated
	creds, err := store.GetChannelCredentials("key-1")
	if err != nil || creds == nil {
		t.Fatalf("Expected persisted credentials, got %v, %v", creds, err)
	}
	if !creds.SeenDelivery("d1") || !creds.SeenDelivery("d2") || !creds.SeenMessage("m1") {
		t.Errorf("Expected dedup state persisted, got %+v", creds)
	}

	restarted := NewListener("key-1", transport, store)
	if err := restarted.Start(context.Background(), func(m Message) { delivered <- m }); err != nil {
		t.Fatalf("Failed to restart listener: %v", err)
	}
	defer restarted.Stop()

	transport.lastConn().msgs <- Message{DeliveryID: "d1", MessageID: "m1"}
	select {
	case m := <-delivered:
		t.Fatalf("Expected dedup to survive restart, got %q", m.MessageID)
	case <-time.After(100 * time.Millisecond):
	}

	if transport.registers != 1 {
		t.Errorf("Expected registration to be reused across restarts, got %d", transport.registers)
	}
}

func TestListenerDisconnectDebounce(t *testing.T) {
	store := db.NewMockStore()
	transport := &fakeTransport{}
	listener := NewListener("key-1", transport, store)
	listener.debounce = 50 * time.Millisecond

	if err := listener.Start(context.Background(), func(Message) {}); err != nil {
		t.Fatalf("Failed to start listener: %v", err)
	}
	defer listener.Stop()

	conn := transport.lastConn()

	// A transient drop that recovers inside the window never surfaces
	conn.states <- false
	time.Sleep(10 * time.Millisecond)
	if !listener.IsConnected() {
		t.Errorf("Expected connection to still be reported up inside the window")
	}
	conn.states <- true
	time.Sleep(100 * time.Millisecond)
	if !listener.IsConnected() {
		t.Errorf("Expected reconnect to cancel the pending disconnect")
	}

	// A drop that outlives the window is announced
	conn.states <- false
	time.Sleep(100 * time.Millisecond)
	if listener.IsConnected() {
		t.Errorf("Expected sustained disconnect to be reported")
	}
}

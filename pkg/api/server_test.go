package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuongdev/billgate/db"
	"github.com/cuongdev/billgate/pkg/bank"
	"github.com/cuongdev/billgate/pkg/config"
	"github.com/cuongdev/billgate/pkg/models"
	"github.com/cuongdev/billgate/pkg/orchestrator"
	"github.com/cuongdev/billgate/pkg/push"
)

type stubClient struct {
	validateErr error
}

func (c *stubClient) ValidateShare(ctx context.Context, keyShare, pinShare, pushToken string) (string, error) {
	if c.validateErr != nil {
		return "", c.validateErr
	}
	return "jwt-1", nil
}

func (c *stubClient) FetchNotifications(ctx context.Context, session *models.Session) (map[string][]string, error) {
	return nil, nil
}

type stubConn struct {
	msgs   chan push.Message
	states chan bool
	once   sync.Once
}

func (c *stubConn) Messages() <-chan push.Message { return c.msgs }
func (c *stubConn) States() <-chan bool           { return c.states }
func (c *stubConn) Close() error {
	c.once.Do(func() { close(c.msgs) })
	return nil
}

type stubTransport struct{}

func (stubTransport) Register(ctx context.Context) (*push.Registration, error) {
	return &push.Registration{Token: "tok-1"}, nil
}

func (stubTransport) Dial(ctx context.Context, reg *push.Registration) (push.Conn, error) {
	return &stubConn{msgs: make(chan push.Message, 1), states: make(chan bool, 1)}, nil
}

type serverFixture struct {
	store  *db.MockStore
	host   *orchestrator.Host
	server *Server
}

func newServerFixture(t *testing.T) *serverFixture {
	t.Helper()

	store := db.NewMockStore()
	cfg := &config.Config{
		HealthCheckSeconds: 3600,
		Retry: config.RetryOptions{
			InitialIntervalMs:  1,
			BackoffCoefficient: 2.0,
			MaximumIntervalMs:  5,
			MaximumAttempts:    2,
		},
	}
	host := orchestrator.NewHost(store, &stubClient{}, stubTransport{}, cfg)
	require.NoError(t, host.Start(context.Background()))
	t.Cleanup(host.Stop)

	return &serverFixture{store: store, host: host, server: NewServer(host, store)}
}

func (f *serverFixture) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rec, req)
	return rec
}

func TestHealthz(t *testing.T) {
	f := newServerFixture(t)

	rec := f.do(t, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
}

func TestAccountLifecycleOverHTTP(t *testing.T) {
	f := newServerFixture(t)

	rec := f.do(t, http.MethodPost, "/api/accounts", map[string]any{
		"keyShare":      "key-1",
		"pinShare":      "pin-1",
		"accountNumber": "123456789",
		"name":          "Main",
		"userId":        "user-1",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var session models.Session
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &session))
	assert.Equal(t, models.StatusActive, session.Status)
	assert.NotEmpty(t, session.RunID)

	rec = f.do(t, http.MethodGet, "/api/accounts/key-1/status", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(t, http.MethodPost, "/api/accounts/key-1/pause", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		rec = f.do(t, http.MethodGet, "/api/accounts/key-1/status", nil)
		var status orchestrator.Status
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
		if status.Status == models.StatusPaused {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	rec = f.do(t, http.MethodDelete, "/api/accounts/key-1", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(t, http.MethodGet, "/api/accounts/key-1/status", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	// The explicit delete cascades a hard purge, not just a tombstone
	_, tombstoned := f.store.Sessions["key-1"]
	assert.False(t, tombstoned, "Expected session row to be purged")
}

func TestRegisterAccountValidation(t *testing.T) {
	f := newServerFixture(t)

	// Missing required fields
	rec := f.do(t, http.MethodPost, "/api/accounts", map[string]any{"keyShare": "key-1"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCreateWebhookValidation(t *testing.T) {
	f := newServerFixture(t)

	// Unsafe custom pattern
	rec := f.do(t, http.MethodPost, "/api/webhooks", map[string]any{
		"userId":           "user-1",
		"type":             "http",
		"url":              "https://example.com",
		"paymentCodeRegex": "(a+)+b",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// http target without a URL
	rec = f.do(t, http.MethodPost, "/api/webhooks", map[string]any{
		"userId": "user-1",
		"type":   "http",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// telegram target without a chat
	rec = f.do(t, http.MethodPost, "/api/webhooks", map[string]any{
		"userId":   "user-1",
		"type":     "telegram",
		"botToken": "123:abc",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// unknown type
	rec = f.do(t, http.MethodPost, "/api/webhooks", map[string]any{
		"userId": "user-1",
		"type":   "carrier-pigeon",
		"url":    "https://example.com",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestWebhookCRUDOverHTTP(t *testing.T) {
	f := newServerFixture(t)

	rec := f.do(t, http.MethodPost, "/api/webhooks", map[string]any{
		"userId":  "user-1",
		"type":    "http",
		"url":     "https://example.com/hook",
		"auth":    "bearer",
		"trigger": "in",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var created struct {
		ID      string             `json:"id"`
		Trigger models.TriggerType `json:"trigger"`
		Enabled bool               `json:"enabled"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	assert.NotEmpty(t, created.ID)
	assert.Equal(t, models.TriggerIn, created.Trigger)
	assert.True(t, created.Enabled)

	rec = f.do(t, http.MethodGet, "/api/webhooks?userId=user-1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var list []json.RawMessage
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	assert.Len(t, list, 1)

	// userId is mandatory for listing
	rec = f.do(t, http.MethodGet, "/api/webhooks", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodDelete, "/api/webhooks/"+created.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(t, http.MethodGet, "/api/webhooks?userId=user-1", nil)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	assert.Empty(t, list)
}

func TestWebhookLogsEndpoint(t *testing.T) {
	f := newServerFixture(t)

	require.NoError(t, f.store.AppendDispatchLog(&models.DispatchLog{
		WebhookID:    "wh-1",
		StatusCode:   200,
		DispatchedAt: time.Now(),
	}))
	require.NoError(t, f.store.AppendDispatchLog(&models.DispatchLog{
		WebhookID:    "wh-2",
		StatusCode:   502,
		DispatchedAt: time.Now(),
	}))

	rec := f.do(t, http.MethodGet, "/api/webhook-logs", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var logs []models.DispatchLog
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &logs))
	assert.Len(t, logs, 2)

	rec = f.do(t, http.MethodGet, "/api/webhook-logs?webhookId=wh-2", nil)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &logs))
	require.Len(t, logs, 1)
	assert.Equal(t, 502, logs[0].StatusCode)
}

func TestRegisterRejectedCredentials(t *testing.T) {
	store := db.NewMockStore()
	cfg := &config.Config{HealthCheckSeconds: 3600, Retry: config.RetryOptions{
		InitialIntervalMs: 1, BackoffCoefficient: 2.0, MaximumIntervalMs: 5, MaximumAttempts: 2,
	}}
	host := orchestrator.NewHost(store, &stubClient{validateErr: bank.ErrInvalidCredentials}, stubTransport{}, cfg)
	require.NoError(t, host.Start(context.Background()))
	t.Cleanup(host.Stop)
	f := &serverFixture{store: store, host: host, server: NewServer(host, store)}

	rec := f.do(t, http.MethodPost, "/api/accounts", map[string]any{
		"keyShare":      "key-1",
		"pinShare":      "bad",
		"accountNumber": "123456789",
		"userId":        "user-1",
	})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

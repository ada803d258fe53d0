package db

import (
	"sort"
	"sync"
	"time"

	"github.com/cuongdev/billgate/pkg/models"
)

// MockStore is an in-memory implementation of Store for testing
type MockStore struct {
	mu sync.Mutex

	Sessions     map[string]*models.Session
	Transactions map[string]map[string]*models.Transaction // session key -> bank tx id
	Destinations map[string]*models.Destination
	Logs         []*models.DispatchLog
	Credentials  map[string]*models.ChannelCredentials

	// Error values to return
	InsertTransactionErr error
	GetSessionErr        error
	SaveCredentialsErr   error
	AppendDispatchLogErr error
}

// NewMockStore creates a new mock store
func NewMockStore() *MockStore {
	return &MockStore{
		Sessions:     make(map[string]*models.Session),
		Transactions: make(map[string]map[string]*models.Transaction),
		Destinations: make(map[string]*models.Destination),
		Credentials:  make(map[string]*models.ChannelCredentials),
	}
}

func (m *MockStore) Initialize() error { return nil }
func (m *MockStore) Close() error      { return nil }

func (m *MockStore) UpsertSession(s *models.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *s
	m.Sessions[s.KeyShare] = &cp
	return nil
}

func (m *MockStore) GetSession(keyShare string) (*models.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.GetSessionErr != nil {
		return nil, m.GetSessionErr
	}
	s, ok := m.Sessions[keyShare]
	if !ok || s.Status == models.StatusDeleted {
		return nil, nil
	}
	cp := *s
	return &cp, nil
}

func (m *MockStore) ListSessions() ([]*models.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var sessions []*models.Session
	for _, s := range m.Sessions {
		if s.Status == models.StatusDeleted {
			continue
		}
		cp := *s
		sessions = append(sessions, &cp)
	}
	sort.Slice(sessions, func(i, j int) bool { return sessions[i].KeyShare < sessions[j].KeyShare })
	return sessions, nil
}

func (m *MockStore) UpdateSessionStatus(keyShare string, status models.SessionStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.Sessions[keyShare]; ok {
		s.Status = status
	}
	return nil
}

func (m *MockStore) UpdateSessionToken(keyShare, jwt string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.Sessions[keyShare]; ok {
		s.JWT = jwt
	}
	return nil
}

func (m *MockStore) UpdateSessionRunID(keyShare, runID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.Sessions[keyShare]; ok {
		s.RunID = runID
	}
	return nil
}

func (m *MockStore) TouchSessionSync(keyShare string, t time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.Sessions[keyShare]; ok {
		s.LastSyncAt = &t
	}
	return nil
}

func (m *MockStore) SoftDeleteSession(keyShare string) error {
	return m.UpdateSessionStatus(keyShare, models.StatusDeleted)
}

func (m *MockStore) PurgeSession(keyShare string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.Sessions, keyShare)
	delete(m.Transactions, keyShare)
	delete(m.Credentials, keyShare)
	for id, d := range m.Destinations {
		if d.SessionKey == keyShare {
			delete(m.Destinations, id)
		}
	}
	return nil
}

func (m *MockStore) InsertTransaction(tx *models.Transaction) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.InsertTransactionErr != nil {
		return false, m.InsertTransactionErr
	}
	byID, ok := m.Transactions[tx.SessionKey]
	if !ok {
		byID = make(map[string]*models.Transaction)
		m.Transactions[tx.SessionKey] = byID
	}
	if _, exists := byID[tx.BankTxID]; exists {
		return false, nil
	}
	cp := *tx
	cp.CreatedAt = time.Now()
	byID[tx.BankTxID] = &cp
	return true, nil
}

func (m *MockStore) GetTransactions(sessionKey string, limit int) ([]*models.Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var txs []*models.Transaction
	for _, tx := range m.Transactions[sessionKey] {
		cp := *tx
		txs = append(txs, &cp)
	}
	sort.Slice(txs, func(i, j int) bool { return txs[i].Date.After(txs[j].Date) })
	if limit > 0 && len(txs) > limit {
		txs = txs[:limit]
	}
	return txs, nil
}

func (m *MockStore) SaveDestination(d *models.Destination) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *d
	m.Destinations[d.ID] = &cp
	return nil
}

func (m *MockStore) GetDestination(id string) (*models.Destination, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.Destinations[id]
	if !ok {
		return nil, nil
	}
	cp := *d
	return &cp, nil
}

func (m *MockStore) ListDestinationsForOwner(userID, sessionKey string) ([]*models.Destination, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.Destination
	for _, d := range m.Destinations {
		if d.UserID != userID {
			continue
		}
		if d.SessionKey != "" && d.SessionKey != sessionKey {
			continue
		}
		cp := *d
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *MockStore) SoftDeleteDestination(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.Destinations, id)
	return nil
}

func (m *MockStore) AppendDispatchLog(l *models.DispatchLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.AppendDispatchLogErr != nil {
		return m.AppendDispatchLogErr
	}
	cp := *l
	cp.ID = int64(len(m.Logs) + 1)
	m.Logs = append(m.Logs, &cp)
	return nil
}

func (m *MockStore) GetDispatchLogs(limit int, webhookID string) ([]*models.DispatchLog, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.DispatchLog
	for i := len(m.Logs) - 1; i >= 0; i-- {
		l := m.Logs[i]
		if webhookID != "" && l.WebhookID != webhookID {
			continue
		}
		cp := *l
		out = append(out, &cp)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (m *MockStore) SaveChannelCredentials(c *models.ChannelCredentials) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.SaveCredentialsErr != nil {
		return m.SaveCredentialsErr
	}
	cp := *c
	cp.DeliveryIDs = append([]string(nil), c.DeliveryIDs...)
	cp.MessageIDs = append([]string(nil), c.MessageIDs...)
	m.Credentials[c.SessionKey] = &cp
	return nil
}

func (m *MockStore) GetChannelCredentials(sessionKey string) (*models.ChannelCredentials, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.Credentials[sessionKey]
	if !ok {
		return nil, nil
	}
	cp := *c
	cp.DeliveryIDs = append([]string(nil), c.DeliveryIDs...)
	cp.MessageIDs = append([]string(nil), c.MessageIDs...)
	return &cp, nil
}

func (m *MockStore) DeleteChannelCredentials(sessionKey string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.Credentials, sessionKey)
	return nil
}

func (m *MockStore) PurgeSoftDeleted(olderThan time.Time) (int64, error) {
	return 0, nil
}

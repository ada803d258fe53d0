package db

import (
	"time"

	"github.com/cuongdev/billgate/pkg/models"
)

// Store defines the interface for database operations
type Store interface {
	Initialize() error
	Close() error

	UpsertSession(s *models.Session) error
	GetSession(keyShare string) (*models.Session, error)
	ListSessions() ([]*models.Session, error)
	UpdateSessionStatus(keyShare string, status models.SessionStatus) error
	UpdateSessionToken(keyShare, jwt string) error
	UpdateSessionRunID(keyShare, runID string) error
	TouchSessionSync(keyShare string, t time.Time) error
	SoftDeleteSession(keyShare string) error
	PurgeSession(keyShare string) error

	InsertTransaction(tx *models.Transaction) (bool, error)
	GetTransactions(sessionKey string, limit int) ([]*models.Transaction, error)

	SaveDestination(d *models.Destination) error
	GetDestination(id string) (*models.Destination, error)
	ListDestinationsForOwner(userID, sessionKey string) ([]*models.Destination, error)
	SoftDeleteDestination(id string) error

	AppendDispatchLog(l *models.DispatchLog) error
	GetDispatchLogs(limit int, webhookID string) ([]*models.DispatchLog, error)

	SaveChannelCredentials(c *models.ChannelCredentials) error
	GetChannelCredentials(sessionKey string) (*models.ChannelCredentials, error)
	DeleteChannelCredentials(sessionKey string) error

	PurgeSoftDeleted(olderThan time.Time) (int64, error)
}

// Ensure DB implements Store
var _ Store = (*DB)(nil)

// Ensure MockStore implements Store
var _ Store = (*MockStore)(nil)

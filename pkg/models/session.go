package models

import "time"

// SessionStatus is the lifecycle state of a monitored account.
type SessionStatus string

const (
	StatusActive  SessionStatus = "active"
	StatusPaused  SessionStatus = "paused"
	StatusDeleted SessionStatus = "deleted"
)

// Session identifies one bank account being monitored. KeyShare is the
// stable credential key and doubles as the orchestration identity.
type Session struct {
	KeyShare      string        `json:"keyShare"`
	PinShare      string        `json:"-"`
	JWT           string        `json:"-"`
	AccountNumber string        `json:"accountNumber"`
	Name          string        `json:"name"`
	UserID        string        `json:"userId"`
	Status        SessionStatus `json:"status"`
	RunID         string        `json:"runId"`
	LastSyncAt    *time.Time    `json:"lastSyncAt,omitempty"`
	CreatedAt     time.Time     `json:"createdAt"`
}

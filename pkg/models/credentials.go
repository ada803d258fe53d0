package models

import (
	"encoding/json"
	"time"
)

// Caps on the persisted dedup sets. Oldest entries are discarded first.
const (
	MaxDeliveryIDs = 100
	MaxMessageIDs  = 1000
)

// ChannelCredentials is the opaque registration artifact for one
// account's vendor push channel, plus the two bounded dedup sets.
// Persisting the sets keeps restarts from reprocessing recent messages.
type ChannelCredentials struct {
	SessionKey  string          `json:"sessionKey"`
	Token       string          `json:"token"`
	Blob        json.RawMessage `json:"blob,omitempty"`
	DeliveryIDs []string        `json:"deliveryIds"`
	MessageIDs  []string        `json:"messageIds"`
	UpdatedAt   time.Time       `json:"updatedAt"`
}

// RememberDelivery records a transport delivery id, trimming to cap.
// Returns false if the id was already present.
func (c *ChannelCredentials) RememberDelivery(id string) bool {
	for _, v := range c.DeliveryIDs {
		if v == id {
			return false
		}
	}
	c.DeliveryIDs = append(c.DeliveryIDs, id)
	if n := len(c.DeliveryIDs); n > MaxDeliveryIDs {
		c.DeliveryIDs = c.DeliveryIDs[n-MaxDeliveryIDs:]
	}
	return true
}

// RememberMessage records an application message id, trimming to cap.
// Returns false if the id was already present.
func (c *ChannelCredentials) RememberMessage(id string) bool {
	for _, v := range c.MessageIDs {
		if v == id {
			return false
		}
	}
	c.MessageIDs = append(c.MessageIDs, id)
	if n := len(c.MessageIDs); n > MaxMessageIDs {
		c.MessageIDs = c.MessageIDs[n-MaxMessageIDs:]
	}
	return true
}

func (c *ChannelCredentials) SeenDelivery(id string) bool {
	for _, v := range c.DeliveryIDs {
		if v == id {
			return true
		}
	}
	return false
}

func (c *ChannelCredentials) SeenMessage(id string) bool {
	for _, v := range c.MessageIDs {
		if v == id {
			return true
		}
	}
	return false
}

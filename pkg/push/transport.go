package push

import (
	"context"
	"encoding/json"

	"github.com/cuongdev/billgate/pkg/models"
)

// Message is one decoded push notification. DeliveryID identifies the
// transport delivery; MessageID is the application-level id carried in
// the payload. Either may be empty when the vendor omits them.
type Message struct {
	DeliveryID string
	MessageID  string
	Data       json.RawMessage
}

// Registration is the artifact returned by the vendor when a channel
// is registered. Token is what the bank needs to target the channel;
// Raw is whatever else the vendor handed back, kept opaque.
type Registration struct {
	Token string          `json:"token"`
	Raw   json.RawMessage `json:"raw,omitempty"`
}

// Conn is one live connection to the vendor push channel.
type Conn interface {
	// Messages yields decoded notifications until the connection dies.
	// The channel is closed on teardown.
	Messages() <-chan Message
	// States yields connectivity transitions (true = connected).
	States() <-chan bool
	Close() error
}

// Transport is the vendor push-channel primitive, consumed as a black
// box: register once, then dial with the stored registration.
type Transport interface {
	Register(ctx context.Context) (*Registration, error)
	Dial(ctx context.Context, reg *Registration) (Conn, error)
}

// EnsureRegistration loads the persisted channel credentials for a
// session, registering with the vendor and persisting the result on
// first use so a process restart never re-registers.
func EnsureRegistration(ctx context.Context, store credentialStore, transport Transport, keyShare string) (*models.ChannelCredentials, error) {
	creds, err := store.GetChannelCredentials(keyShare)
	if err != nil {
		return nil, err
	}
	if creds != nil {
		return creds, nil
	}

	reg, err := transport.Register(ctx)
	if err != nil {
		return nil, err
	}

	creds = &models.ChannelCredentials{
		SessionKey:  keyShare,
		Token:       reg.Token,
		Blob:        reg.Raw,
		DeliveryIDs: []string{},
		MessageIDs:  []string{},
	}
	if err := store.SaveChannelCredentials(creds); err != nil {
		return nil, err
	}
	return creds, nil
}

// credentialStore is the slice of db.Store the push layer needs.
type credentialStore interface {
	GetChannelCredentials(sessionKey string) (*models.ChannelCredentials, error)
	SaveChannelCredentials(c *models.ChannelCredentials) error
	UpdateSessionStatus(keyShare string, status models.SessionStatus) error
}

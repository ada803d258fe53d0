package models

import "time"

// DestinationType selects the handler used to deliver a payload.
type DestinationType string

const (
	DestinationHTTP     DestinationType = "http"
	DestinationTelegram DestinationType = "telegram"
)

// AuthType selects the authentication strategy for http destinations.
type AuthType string

const (
	AuthNone   AuthType = "none"
	AuthHeader AuthType = "header"
	AuthBearer AuthType = "bearer"
	AuthBasic  AuthType = "basic"
)

// TriggerType filters which transactions reach a destination.
type TriggerType string

const (
	TriggerIn   TriggerType = "in"
	TriggerOut  TriggerType = "out"
	TriggerBoth TriggerType = "both"
)

// Destination is one configured delivery target. SessionKey may be
// empty, meaning the destination applies to all of the owner's
// accounts. Target is resolved once at load time.
type Destination struct {
	ID                  string      `json:"id"`
	SessionKey          string      `json:"sessionKey,omitempty"`
	UserID              string      `json:"userId"`
	Name                string      `json:"name"`
	Enabled             bool        `json:"enabled"`
	Trigger             TriggerType `json:"trigger"`
	IgnoreNoPaymentCode bool        `json:"ignoreNoPaymentCode"`
	PaymentCodeRegex    string      `json:"paymentCodeRegex,omitempty"`
	Target              Target      `json:"target"`
	CreatedAt           time.Time   `json:"createdAt"`
}

// Type returns the destination type implied by the resolved target.
// Unknown targets fall back to http, matching the dispatch default.
func (d *Destination) Type() DestinationType {
	if _, ok := d.Target.(*ChatBot); ok {
		return DestinationTelegram
	}
	return DestinationHTTP
}

// Target is the per-type delivery configuration of a destination.
type Target interface {
	targetType() DestinationType
}

// GenericHTTP delivers the payload as a JSON POST.
type GenericHTTP struct {
	URL        string            `json:"url"`
	Auth       AuthType          `json:"auth"`
	AuthHeader string            `json:"authHeader,omitempty"`
	AuthSecret string            `json:"-"`
	Headers    map[string]string `json:"headers,omitempty"`
}

func (*GenericHTTP) targetType() DestinationType { return DestinationHTTP }

// ChatBot posts a rendered message to a chat channel.
type ChatBot struct {
	BotToken string `json:"-"`
	ChatID   int64  `json:"chatId"`
}

func (*ChatBot) targetType() DestinationType { return DestinationTelegram }

// DispatchLog is the append-only record of one delivery attempt. Rows
// are never updated after creation.
type DispatchLog struct {
	ID            int64     `json:"id"`
	WebhookID     string    `json:"webhookId"`
	TransactionID string    `json:"transactionId"`
	StatusCode    int       `json:"statusCode"`
	RequestBody   string    `json:"requestBody"`
	ResponseBody  string    `json:"responseBody"`
	ErrorMessage  string    `json:"errorMessage,omitempty"`
	DispatchedAt  time.Time `json:"dispatchedAt"`
}

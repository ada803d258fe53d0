package push

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// GatewayTransport implements Transport over a websocket push gateway.
// Registration is a plain HTTP POST; listening is a long-lived
// websocket carrying JSON frames of the shape
// {"deliveryId": "...", "messageId": "...", "data": {...}}.
type GatewayTransport struct {
	gatewayURL string
	httpClient *http.Client
	dialer     *websocket.Dialer
}

func NewGatewayTransport(gatewayURL string) *GatewayTransport {
	return &GatewayTransport{
		gatewayURL: strings.TrimRight(gatewayURL, "/"),
		httpClient: &http.Client{Timeout: 30 * time.Second},
		dialer:     websocket.DefaultDialer,
	}
}

// Register implements Transport.
func (t *GatewayTransport) Register(ctx context.Context) (*Registration, error) {
	endpoint := t.httpURL() + "/register"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader("{}"))
	if err != nil {
		return nil, fmt.Errorf("failed to build register request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	res, err := t.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("channel registration failed: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK && res.StatusCode != http.StatusCreated {
		return nil, fmt.Errorf("channel registration returned %d", res.StatusCode)
	}

	var reg Registration
	if err := json.NewDecoder(res.Body).Decode(&reg); err != nil {
		return nil, fmt.Errorf("failed to decode registration: %w", err)
	}
	if reg.Token == "" {
		return nil, fmt.Errorf("channel registration returned no token")
	}
	return &reg, nil
}

// Dial implements Transport.
func (t *GatewayTransport) Dial(ctx context.Context, reg *Registration) (Conn, error) {
	endpoint := t.wsURL() + "/listen?token=" + url.QueryEscape(reg.Token)
	ws, _, err := t.dialer.DialContext(ctx, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to dial push gateway: %w", err)
	}

	c := &gatewayConn{
		ws:       ws,
		messages: make(chan Message, 16),
		states:   make(chan bool, 4),
	}
	c.states <- true
	go c.readLoop()
	return c, nil
}

func (t *GatewayTransport) httpURL() string {
	u := strings.Replace(t.gatewayURL, "wss://", "https://", 1)
	return strings.Replace(u, "ws://", "http://", 1)
}

func (t *GatewayTransport) wsURL() string {
	u := strings.Replace(t.gatewayURL, "https://", "wss://", 1)
	return strings.Replace(u, "http://", "ws://", 1)
}

type gatewayConn struct {
	ws       *websocket.Conn
	messages chan Message
	states   chan bool
}

type gatewayFrame struct {
	DeliveryID string          `json:"deliveryId"`
	MessageID  string          `json:"messageId"`
	Data       json.RawMessage `json:"data"`
}

func (c *gatewayConn) readLoop() {
	defer close(c.messages)
	for {
		_, payload, err := c.ws.ReadMessage()
		if err != nil {
			select {
			case c.states <- false:
			default:
			}
			return
		}

		var frame gatewayFrame
		if err := json.Unmarshal(payload, &frame); err != nil {
			log.Warn().Err(err).Msg("Dropping undecodable push frame")
			continue
		}
		c.messages <- Message{DeliveryID: frame.DeliveryID, MessageID: frame.MessageID, Data: frame.Data}
	}
}

func (c *gatewayConn) Messages() <-chan Message { return c.messages }
func (c *gatewayConn) States() <-chan bool      { return c.states }

func (c *gatewayConn) Close() error {
	return c.ws.Close()
}

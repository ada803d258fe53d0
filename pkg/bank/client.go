package bank

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/cuongdev/billgate/pkg/models"
)

const userAgent = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

// Client is the upstream bank API, consumed as a black box.
type Client interface {
	// ValidateShare exchanges the credential pair for a session token.
	// The push token is attached so the vendor binds notifications to
	// our channel registration.
	ValidateShare(ctx context.Context, keyShare, pinShare, pushToken string) (string, error)

	// FetchNotifications retrieves the pending raw transaction records
	// for the session, keyed by an opaque upstream grouping.
	FetchNotifications(ctx context.Context, session *models.Session) (map[string][]string, error)
}

// HTTPClient talks to the vendor's notification-share OData endpoints.
type HTTPClient struct {
	baseURL string
	client  *http.Client
}

func NewHTTPClient(baseURL string) *HTTPClient {
	return &HTTPClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: 30 * time.Second},
	}
}

type envelope struct {
	D struct {
		Status  string `json:"Status"`
		Jwt     string `json:"Jwt"`
		Message string `json:"Message"`
	} `json:"d"`
}

// ValidateShare implements Client.
func (c *HTTPClient) ValidateShare(ctx context.Context, keyShare, pinShare, pushToken string) (string, error) {
	endpoint := fmt.Sprintf(
		"%s/cb/odata/ns/authenticationservice/ValidationNonSecureNotificationShare?KeyShare='%s'&PinShare='%s'",
		c.baseURL, url.QueryEscape(keyShare), url.QueryEscape(pinShare),
	)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return "", fmt.Errorf("failed to build validation request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", userAgent)
	if pushToken != "" {
		req.Header.Set("TokenFB", pushToken)
	}

	res, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("validation request failed: %w", err)
	}
	defer res.Body.Close()

	body, err := io.ReadAll(res.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read validation response: %w", err)
	}

	if res.StatusCode == http.StatusUnauthorized || res.StatusCode == http.StatusForbidden {
		return "", fmt.Errorf("validation rejected (%d): %w", res.StatusCode, ErrInvalidCredentials)
	}
	if res.StatusCode != http.StatusOK {
		return "", fmt.Errorf("validation returned %d: %s", res.StatusCode, string(body))
	}

	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return "", fmt.Errorf("failed to decode validation response: %w", err)
	}

	if env.D.Status != "1" || env.D.Jwt == "" {
		log.Warn().Str("keyShare", keyShare).Str("status", env.D.Status).Msg("Upstream validation failed")
		return "", fmt.Errorf("validation status %q: %w", env.D.Status, ErrInvalidCredentials)
	}

	return env.D.Jwt, nil
}

// FetchNotifications implements Client.
func (c *HTTPClient) FetchNotifications(ctx context.Context, session *models.Session) (map[string][]string, error) {
	accountNumber := session.AccountNumber
	if accountNumber == "" {
		accountNumber = "all"
	}
	endpoint := fmt.Sprintf(
		"%s/cb/odata/ns/authenticationservice/GetNonSecureNotificationShare?KeyShare='%s'&PinShare='%s'&AccountNumber='%s'",
		c.baseURL, url.QueryEscape(session.KeyShare), url.QueryEscape(session.PinShare), url.QueryEscape(accountNumber),
	)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build fetch request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("AuthKey", session.JWT)
	req.Header.Set("User-Agent", userAgent)

	res, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch request failed: %w", err)
	}
	defer res.Body.Close()

	body, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read fetch response: %w", err)
	}

	if !isOKStatus(res.StatusCode) {
		if looksLikeAuthFailure(res.StatusCode, string(body)) {
			return nil, fmt.Errorf("fetch rejected (%d): %w", res.StatusCode, ErrInvalidCredentials)
		}
		return nil, fmt.Errorf("fetch returned %d: %s", res.StatusCode, string(body))
	}

	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("failed to decode fetch response: %w", err)
	}

	// An empty message block means nothing pending, not an error.
	if env.D.Message == "" {
		return map[string][]string{}, nil
	}

	var records map[string][]string
	if err := json.Unmarshal([]byte(env.D.Message), &records); err != nil {
		log.Warn().Str("keyShare", session.KeyShare).Err(err).Msg("Unparsable notification message block")
		return map[string][]string{}, nil
	}
	return records, nil
}

func isOKStatus(code int) bool {
	return code >= 200 && code < 300
}

func looksLikeAuthFailure(code int, body string) bool {
	if code == http.StatusUnauthorized || code == http.StatusForbidden {
		return true
	}
	return strings.Contains(body, "Unauthorized") || strings.Contains(body, "Session expired")
}

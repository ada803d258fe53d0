package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/cuongdev/billgate/pkg/models"
)

// HTTPHandler posts the JSON payload to a generic endpoint, applying
// the destination's auth strategy and extra headers.
type HTTPHandler struct {
	client *http.Client
}

func NewHTTPHandler() *HTTPHandler {
	return &HTTPHandler{client: &http.Client{Timeout: 30 * time.Second}}
}

// Handle implements Handler.
func (h *HTTPHandler) Handle(ctx context.Context, payload *Payload, d *models.Destination) *Result {
	target, ok := d.Target.(*models.GenericHTTP)
	if !ok {
		return &Result{ErrorMessage: "destination has no http target"}
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return &Result{ErrorMessage: err.Error()}
	}
	requestBody := string(body)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target.URL, bytes.NewReader(body))
	if err != nil {
		return &Result{RequestBody: requestBody, ErrorMessage: err.Error()}
	}

	req.Header.Set("Content-Type", "application/json")
	StrategyFor(target.Auth).Apply(req.Header, target)
	for k, v := range target.Headers {
		req.Header.Set(k, v)
	}

	res, err := h.client.Do(req)
	if err != nil {
		return &Result{RequestBody: requestBody, ErrorMessage: err.Error()}
	}
	defer res.Body.Close()

	responseBytes, _ := io.ReadAll(io.LimitReader(res.Body, maxBodyLen+1))
	return &Result{
		StatusCode:   res.StatusCode,
		RequestBody:  requestBody,
		ResponseBody: truncateBody(string(responseBytes)),
		Success:      res.StatusCode >= 200 && res.StatusCode < 300,
	}
}

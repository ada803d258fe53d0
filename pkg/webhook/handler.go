package webhook

import (
	"context"

	"github.com/cuongdev/billgate/pkg/models"
)

// Bodies logged for one attempt are capped at this many characters.
const maxBodyLen = 5000

// Result is the outcome of one delivery attempt.
type Result struct {
	StatusCode   int
	RequestBody  string
	ResponseBody string
	ErrorMessage string
	Success      bool
}

// Handler delivers one payload to one destination type.
type Handler interface {
	Handle(ctx context.Context, payload *Payload, d *models.Destination) *Result
}

func truncateBody(s string) string {
	if len(s) > maxBodyLen {
		return s[:maxBodyLen]
	}
	return s
}

package bank

import "errors"

var (
	// ErrInvalidCredentials marks failures that retrying cannot fix:
	// rejected account credentials or an expired upstream session. The
	// orchestrator surfaces these instead of retrying blindly.
	ErrInvalidCredentials = errors.New("invalid credentials")

	// ErrMalformedRecord marks one unparsable upstream record. It is
	// never fatal to a batch; the record is skipped and logged.
	ErrMalformedRecord = errors.New("malformed record")
)

// IsNonRetryable reports whether an activity error should stop the
// retry loop immediately.
func IsNonRetryable(err error) bool {
	return errors.Is(err, ErrInvalidCredentials)
}

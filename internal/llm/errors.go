package llm

import (
	"errors"
	"fmt"
)

// ErrNoAPIKey means no Gemini credential is configured. Requests fail fast
// with it; there is nothing to retry.
var ErrNoAPIKey = errors.New("llm: gemini api key not configured")

// UpstreamError is a non-success response from the completion API. Status
// and the raw body are preserved so callers can surface them.
type UpstreamError struct {
	Status int
	Body   string
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("llm: upstream status %d: %s", e.Status, e.Body)
}

package providers

import (
	"fmt"
	"strconv"
	"time"
)

// HTTPError is returned when a provider responds with a non-2xx status.
// The agent's failover classifier inspects Status before falling back to
// message-pattern matching.
type HTTPError struct {
	Status     int
	Body       string
	RetryAfter time.Duration // 0 when the header was absent or unparseable
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("provider returned status %d: %s", e.Status, e.Body)
}

// HTTPStatus implements the status extraction hook used by the classifier.
func (e *HTTPError) HTTPStatus() int { return e.Status }

// ParseRetryAfter parses a Retry-After header value (delta-seconds form).
func ParseRetryAfter(v string) time.Duration {
	if v == "" {
		return 0
	}
	secs, err := strconv.Atoi(v)
	if err != nil || secs <= 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}

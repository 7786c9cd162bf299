package resilience

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"syscall"

	"github.com/jackc/pgx/v5/pgconn"
)

// WebhookError is a non-2xx response from the alert webhook.
type WebhookError struct {
	StatusCode int
}

func (e *WebhookError) Error() string {
	return fmt.Sprintf("webhook returned status %d", e.StatusCode)
}

// Retryable reports whether the receiver may accept the same alert later.
// Timeouts, throttling and server errors qualify; 501 does not.
func (e *WebhookError) Retryable() bool {
	switch {
	case e.StatusCode == 408, e.StatusCode == 425, e.StatusCode == 429:
		return true
	case e.StatusCode >= 500 && e.StatusCode != 501:
		return true
	}
	return false
}

// retryableSQLState lists Postgres error codes that clear on their own:
// server startup or shutdown, connection limits, and lost
// serialization races.
var retryableSQLState = map[string]bool{
	"40001": true, // serialization_failure
	"40P01": true, // deadlock_detected
	"53300": true, // too_many_connections
	"57P01": true, // admin_shutdown
	"57P03": true, // cannot_connect_now
}

// IsTransient reports whether a failed Postgres or webhook call is worth
// retrying. Cancellation is never transient.
func IsTransient(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}

	var we *WebhookError
	if errors.As(err, &we) {
		return we.Retryable()
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		// Class 08 is connection_exception.
		return retryableSQLState[pgErr.Code] || strings.HasPrefix(pgErr.Code, "08")
	}
	var connErr *pgconn.ConnectError
	if errors.As(err, &connErr) || pgconn.SafeToRetry(err) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	return errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, io.ErrUnexpectedEOF)
}

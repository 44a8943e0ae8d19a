// Package backenderr defines the error taxonomy shared by the resilience
// layer. Every rejection and failure carries a stable machine-readable code
// so host processes and the admin API can program against them.
package backenderr

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"syscall"
	"time"
)

// ErrorCode is a machine-readable error classification string.
type ErrorCode string

// Backend error codes. These form a public API contract — hosts can program
// against these stable codes. Do not rename or remove existing codes.
const (
	ConnectionFailed ErrorCode = "BACKEND_CONNECTION_FAILED"
	Timeout          ErrorCode = "BACKEND_TIMEOUT"
	IOFailure        ErrorCode = "BACKEND_IO_FAILURE"
	PoolExhausted    ErrorCode = "BACKEND_POOL_EXHAUSTED"
	CircuitOpen      ErrorCode = "BACKEND_CIRCUIT_OPEN"
	RateLimited      ErrorCode = "BACKEND_RATE_LIMITED"
	UnknownBackend   ErrorCode = "BACKEND_UNKNOWN"
	InternalError    ErrorCode = "BACKEND_INTERNAL_ERROR"
	AuthMissingToken ErrorCode = "OPS_AUTH_MISSING_TOKEN"
	AuthInvalidToken ErrorCode = "OPS_AUTH_INVALID_TOKEN"
	Forbidden        ErrorCode = "OPS_FORBIDDEN"
)

// TransientError marks an adapter error as a transient I/O fault that is
// safe to retry. Adapters wrap connection, timeout, and low-level I/O
// failures with Connection, Timeouted, or IO before returning them.
type TransientError struct {
	Code ErrorCode
	Err  error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("%s: %v", e.Code, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// Connection wraps err as a transient connection failure.
func Connection(err error) *TransientError {
	return &TransientError{Code: ConnectionFailed, Err: err}
}

// Timeouted wraps err as a transient timeout.
func Timeouted(err error) *TransientError {
	return &TransientError{Code: Timeout, Err: err}
}

// IO wraps err as a transient low-level I/O failure.
func IO(err error) *TransientError {
	return &TransientError{Code: IOFailure, Err: err}
}

// PoolExhaustedError reports that no pool permit became free within the
// admission timeout. It counts as a failed attempt and is retried while
// retry budget remains.
type PoolExhaustedError struct {
	Backend string
	Waited  time.Duration
}

func (e *PoolExhaustedError) Error() string {
	return fmt.Sprintf("connection pool exhausted for backend %q after %s", e.Backend, e.Waited)
}

// BreakerOpenError reports a rejection by an open circuit breaker. The
// wrapped operation was never invoked. RetryAfter estimates how long until
// the breaker will admit a probe.
type BreakerOpenError struct {
	Backend    string
	RetryAfter time.Duration
}

func (e *BreakerOpenError) Error() string {
	return fmt.Sprintf("circuit breaker open for backend %q, retry after %.1fs", e.Backend, e.RetryAfter.Seconds())
}

// RateLimitedError reports a rejection by the per-backend rate limiter.
// The wrapped operation was never invoked.
type RateLimitedError struct {
	Backend string
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("rate limit exceeded for backend %q", e.Backend)
}

// IsRetryable reports whether err is a transient fault worth retrying:
// an explicitly classified TransientError, pool exhaustion, or one of the
// low-level network/I/O faults adapters commonly let escape unclassified.
// Breaker and rate-limit rejections are not retryable — the operation was
// never attempted.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	var transient *TransientError
	if errors.As(err, &transient) {
		return true
	}
	var exhausted *PoolExhaustedError
	if errors.As(err, &exhausted) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	if errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, os.ErrDeadlineExceeded) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.EPIPE) ||
		errors.Is(err, syscall.ETIMEDOUT) {
		return true
	}

	return false
}

// Code returns the stable error code for err, or InternalError for
// unclassified (permanent) errors.
func Code(err error) ErrorCode {
	var transient *TransientError
	if errors.As(err, &transient) {
		return transient.Code
	}
	var exhausted *PoolExhaustedError
	if errors.As(err, &exhausted) {
		return PoolExhausted
	}
	var open *BreakerOpenError
	if errors.As(err, &open) {
		return CircuitOpen
	}
	var limited *RateLimitedError
	if errors.As(err, &limited) {
		return RateLimited
	}
	return InternalError
}

// ErrorResponse is the standardized ops-API error body.
type ErrorResponse struct {
	Error     string `json:"error"`
	ErrorCode string `json:"error_code"`
	Message   string `json:"message"`
}

// WriteJSON writes a structured JSON error response for the ops HTTP
// endpoints (health, admin).
func WriteJSON(w http.ResponseWriter, status int, code ErrorCode, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(ErrorResponse{ //nolint:errcheck
		Error:     http.StatusText(status),
		ErrorCode: string(code),
		Message:   message,
	})
}

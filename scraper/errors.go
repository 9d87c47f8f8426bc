package scraper

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
)

var (
	// ErrSessionClosed is returned by Fetch after Close.
	ErrSessionClosed = errors.New("session: closed")
	// ErrRetriesExhausted wraps the last error once every attempt failed.
	ErrRetriesExhausted = errors.New("retries exhausted")
)

// ErrTimeout indicates a timeout while issuing a request.
type ErrTimeout struct {
	Err error
}

func (e ErrTimeout) Error() string {
	return fmt.Errorf("timeout: %w", e.Err).Error()
}

func (e ErrTimeout) Unwrap() error {
	return e.Err
}

// ErrConnection indicates a network connectivity failure.
type ErrConnection struct {
	Err error
}

func (e ErrConnection) Error() string {
	return fmt.Errorf("connection: %w", e.Err).Error()
}

func (e ErrConnection) Unwrap() error {
	return e.Err
}

// ErrBlocked indicates the response carried an anti-automation signal.
type ErrBlocked struct {
	URL    string
	Status int
}

func (e ErrBlocked) Error() string {
	return fmt.Sprintf("blocked: status %d on %s", e.Status, e.URL)
}

// ErrInvalidPage indicates a 200 response whose body lacks the expected
// content markers for its page role.
type ErrInvalidPage struct {
	URL  string
	Role string
}

func (e ErrInvalidPage) Error() string {
	return fmt.Sprintf("invalid_page: %s did not validate as %s", e.URL, e.Role)
}

// ErrStatus indicates an unexpected, non-blocking HTTP status.
type ErrStatus struct {
	URL    string
	Status int
}

func (e ErrStatus) Error() string {
	return fmt.Sprintf("status: %d on %s", e.Status, e.URL)
}

// ErrorTypeLabel maps an error to the label used in logs and metrics.
func ErrorTypeLabel(err error) string {
	if err == nil {
		return "unknown"
	}
	var timeout ErrTimeout
	if errors.As(err, &timeout) {
		return "timeout"
	}
	var conn ErrConnection
	if errors.As(err, &conn) {
		return "connection"
	}
	var blocked ErrBlocked
	if errors.As(err, &blocked) {
		return "blocked"
	}
	var invalid ErrInvalidPage
	if errors.As(err, &invalid) {
		return "invalid_page"
	}
	var status ErrStatus
	if errors.As(err, &status) {
		switch status.Status {
		case http.StatusNotFound:
			return "not_found"
		case http.StatusTooManyRequests:
			return "rate_limited"
		}
		return "status"
	}
	if errors.Is(err, context.Canceled) {
		return "canceled"
	}
	return "other"
}

// classifyError wraps transport errors in the typed errors above.
func classifyError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrTimeout{Err: err}
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ErrTimeout{Err: err}
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return ErrConnection{Err: err}
	}
	return err
}

// rotateKeywords mark errors after which the network identity is considered
// burned and the session is rebuilt before the next attempt.
var rotateKeywords = []string{
	"connection", "timeout", "reset", "refused",
	"broken pipe", "ssl", "tls", "certificate", "eof",
}

// shouldRotateOnError reports whether err matches a connectivity or TLS
// failure.
func shouldRotateOnError(err error) bool {
	if err == nil {
		return false
	}
	var timeout ErrTimeout
	var conn ErrConnection
	if errors.As(err, &timeout) || errors.As(err, &conn) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, keyword := range rotateKeywords {
		if strings.Contains(msg, keyword) {
			return true
		}
	}
	return false
}

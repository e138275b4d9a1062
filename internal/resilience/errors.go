package resilience

import (
	"errors"
	"net"
	"net/http"
	"strings"
	"syscall"
)

// TransientError wraps an error that is safe to retry (soft block, 429, 5xx,
// network timeout).
type TransientError struct {
	Err        error
	StatusCode int

	// Blocked marks a response that was refused as automated traffic even
	// though its status code does not say so (challenge pages).
	Blocked bool
}

func (e *TransientError) Error() string {
	return e.Err.Error()
}

func (e *TransientError) Unwrap() error {
	return e.Err
}

// NewTransientError wraps an error as transient with an optional HTTP status code.
func NewTransientError(err error, statusCode int) *TransientError {
	return &TransientError{Err: err, StatusCode: statusCode}
}

// NewSoftBlockError wraps an error as a transient soft block.
func NewSoftBlockError(err error, statusCode int) *TransientError {
	return &TransientError{Err: err, StatusCode: statusCode, Blocked: true}
}

// SoftBlock reports whether the error is the origin pushing back on us
// (403 or 429), as opposed to a server fault or a network problem.
func (e *TransientError) SoftBlock() bool {
	return e.Blocked || IsSoftBlockStatus(e.StatusCode)
}

// IsTransient returns true if the error (or any error in its chain) is a
// TransientError, or if it matches common transient network patterns.
// DNS not-found errors are never transient: the host does not exist.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	var te *TransientError
	if errors.As(err, &te) {
		return true
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return dnsErr.IsTimeout || dnsErr.IsTemporary
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	if errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNABORTED) {
		return true
	}

	msg := strings.ToLower(err.Error())
	for _, p := range []string{
		"connection reset by peer",
		"broken pipe",
		"tls handshake timeout",
		"i/o timeout",
		"server closed idle connection",
		"transport connection broken",
		"unexpected eof",
	} {
		if strings.Contains(msg, p) {
			return true
		}
	}

	return false
}

// IsSoftBlock reports whether err is a transient soft block.
func IsSoftBlock(err error) bool {
	var te *TransientError
	return errors.As(err, &te) && te.SoftBlock()
}

// IsSoftBlockStatus reports whether the status means the origin is throttling
// or blocking automated traffic. 403 is treated as a block, not a denial.
func IsSoftBlockStatus(statusCode int) bool {
	return statusCode == http.StatusForbidden || statusCode == http.StatusTooManyRequests
}

// IsTransientHTTPStatus returns true if the HTTP status code is safe to retry.
// 408 and 429 are the only retried 4xx besides 403: both tell the client to
// come back later. Every other 4xx is permanent.
func IsTransientHTTPStatus(statusCode int) bool {
	switch statusCode {
	case http.StatusForbidden,
		http.StatusRequestTimeout,
		http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	default:
		return statusCode > 500 && statusCode < 600
	}
}

// ClassifyError categorizes an error as "transient" or "permanent".
func ClassifyError(err error) string {
	if IsTransient(err) {
		return "transient"
	}
	return "permanent"
}

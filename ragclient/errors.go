package ragclient

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"syscall"

	gobreaker "github.com/sony/gobreaker/v2"
)

// Kind classifies a failed call to the RAG service.
type Kind int

const (
	KindInternal Kind = iota
	KindUnavailable
	KindTimeout
	KindUpstream
)

func (k Kind) String() string {
	switch k {
	case KindUnavailable:
		return "unavailable"
	case KindTimeout:
		return "timeout"
	case KindUpstream:
		return "upstream"
	default:
		return "internal"
	}
}

const (
	msgTemporarilyUnavailable = "RAG service is temporarily unavailable. Please try again later."
	msgNotAvailable           = "RAG service is not available"
	msgTimedOut               = "Request to RAG service timed out"
	msgInternal               = "Failed to process request"
)

// Error is returned by every Client method on failure. StatusCode is the
// HTTP status the local caller should answer with.
type Error struct {
	Op         string
	Kind       Kind
	StatusCode int
	Message    string
	Err        error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("rag %s: %s: %v", e.Op, e.Message, e.Err)
	}
	return fmt.Sprintf("rag %s: %s", e.Op, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// AsError extracts a *Error from err.
func AsError(err error) (*Error, bool) {
	var rerr *Error
	if errors.As(err, &rerr) {
		return rerr, true
	}
	return nil, false
}

// statusError builds the error for a non-2xx downstream response.
func statusError(op string, status int, detail string) *Error {
	if status == http.StatusServiceUnavailable {
		return &Error{Op: op, Kind: KindUnavailable, StatusCode: http.StatusServiceUnavailable, Message: msgTemporarilyUnavailable}
	}
	if detail == "" {
		detail = http.StatusText(status)
	}
	return &Error{Op: op, Kind: KindUpstream, StatusCode: status, Message: detail}
}

// transportError classifies a failure that produced no HTTP response.
func transportError(op string, err error) *Error {
	switch {
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		return &Error{Op: op, Kind: KindUnavailable, StatusCode: http.StatusServiceUnavailable, Message: msgTemporarilyUnavailable, Err: err}
	case isTimeout(err):
		return &Error{Op: op, Kind: KindTimeout, StatusCode: http.StatusGatewayTimeout, Message: msgTimedOut, Err: err}
	case isUnreachable(err):
		return &Error{Op: op, Kind: KindUnavailable, StatusCode: http.StatusServiceUnavailable, Message: msgNotAvailable, Err: err}
	default:
		return &Error{Op: op, Kind: KindInternal, StatusCode: http.StatusInternalServerError, Message: msgInternal, Err: err}
	}
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

func isUnreachable(err error) bool {
	if errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.EHOSTUNREACH) {
		return true
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}
	var opErr *net.OpError
	return errors.As(err, &opErr) && opErr.Op == "dial"
}

// countsAsFailure decides what trips the breaker: only signs that the
// service is down or slow, never a 4xx about the request itself.
func countsAsFailure(err error) bool {
	rerr, ok := AsError(err)
	if !ok {
		return err != nil
	}
	switch rerr.Kind {
	case KindUnavailable, KindTimeout:
		return true
	case KindUpstream:
		return rerr.StatusCode >= 500
	default:
		return false
	}
}

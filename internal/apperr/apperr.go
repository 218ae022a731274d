// Package apperr defines the gateway's error taxonomy.
//
// Every failure that leaves the core is an *Error carrying a Kind and an
// HTTP-style status, so the serving layer never has to guess what went wrong.
package apperr

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies a failure.
type Kind int

const (
	KindInternal Kind = iota
	KindAuth
	KindTransport
	KindProtocol
	KindNotFound
	KindAmbiguous
	KindBadRequest
	KindTimeout
)

func (k Kind) String() string {
	switch k {
	case KindAuth:
		return "auth"
	case KindTransport:
		return "transport"
	case KindProtocol:
		return "protocol"
	case KindNotFound:
		return "not_found"
	case KindAmbiguous:
		return "ambiguous"
	case KindBadRequest:
		return "bad_request"
	case KindTimeout:
		return "timeout"
	default:
		return "internal"
	}
}

// Status returns the HTTP status a kind maps to.
func (k Kind) Status() int {
	switch k {
	case KindNotFound, KindAmbiguous:
		return http.StatusNotFound
	case KindBadRequest:
		return http.StatusBadRequest
	case KindAuth, KindTransport, KindProtocol:
		return http.StatusBadGateway
	case KindTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// ErrInvalidPlatform is wrapped by the auth error returned when the backend
// rejects the platform/instance identifier.
var ErrInvalidPlatform = errors.New("invalid platform")

// Error is a classified failure.
type Error struct {
	Kind    Kind
	Status  int
	Message string
	Path    string // identifier or path at which resolution broke, if any
	Err     error
}

func (e *Error) Error() string {
	msg := e.Message
	if e.Path != "" {
		msg = fmt.Sprintf("%s (at %s)", msg, e.Path)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, msg)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func newError(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Status: kind.Status(), Message: message, Err: err}
}

// Auth reports rejected credentials or platform.
func Auth(message string, err error) *Error {
	return newError(KindAuth, message, err)
}

// Transport reports a network failure or malformed HTTP response.
func Transport(message string, err error) *Error {
	return newError(KindTransport, message, err)
}

// Protocol reports a recognizable but unexpected backend envelope.
func Protocol(message string, err error) *Error {
	return newError(KindProtocol, message, err)
}

// NotFound reports an identifier that resolves to nothing.
func NotFound(message, path string) *Error {
	e := newError(KindNotFound, message, nil)
	e.Path = path
	return e
}

// Ambiguous reports a search that matched zero or several records.
func Ambiguous(id string, matches int) *Error {
	e := newError(KindAmbiguous, fmt.Sprintf("search matched %d records", matches), nil)
	e.Path = id
	return e
}

// BadRequest reports an identifier the gateway cannot interpret.
func BadRequest(message string) *Error {
	return newError(KindBadRequest, message, nil)
}

// As extracts an *Error from err's chain.
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// KindOf returns the kind of err, or KindInternal for unclassified errors.
func KindOf(err error) Kind {
	if e, ok := As(err); ok {
		return e.Kind
	}
	return KindInternal
}

// IsNotFound is true for both not-found and ambiguous results.
func IsNotFound(err error) bool {
	k := KindOf(err)
	return err != nil && (k == KindNotFound || k == KindAmbiguous)
}

// IsAuth reports an authentication failure.
func IsAuth(err error) bool {
	return err != nil && KindOf(err) == KindAuth
}

// From converts any error into the structured form. Nil stays nil.
func From(err error) *Error {
	if err == nil {
		return nil
	}
	if e, ok := As(err); ok {
		return e
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return newError(KindTimeout, "request timed out", err)
	}
	if errors.Is(err, context.Canceled) {
		return newError(KindTimeout, "request cancelled", err)
	}
	return newError(KindInternal, "internal error", err)
}

// Package apierr defines the typed error kinds that flow from storage,
// auth, publish, and proxy-cache code up to the HTTP layer, and the
// mapping from each kind to an HTTP status and wire error code.
package apierr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind is one of the standard API error kinds.
type Kind string

const (
	BadRequest           Kind = "bad-request"
	Unauthorized         Kind = "unauthorized"
	Forbidden            Kind = "forbidden"
	NotFound             Kind = "not-found"
	Conflict             Kind = "version-exists"
	UpstreamHashMismatch Kind = "upstream-hash-mismatch"
	PayloadTooLarge      Kind = "payload-too-large"
	UploadExpired        Kind = "upload-expired"
	UnsupportedMedia     Kind = "unsupported-media-type"
	UnprocessableEntity  Kind = "unprocessable-entity"
	TooManyRequests      Kind = "too-many-requests"
	UpstreamUnavailable  Kind = "upstream-unavailable"
	Internal             Kind = "internal"
	ServiceUnavailable   Kind = "service-unavailable"
)

var statusByKind = map[Kind]int{
	BadRequest:           http.StatusBadRequest,
	Unauthorized:         http.StatusUnauthorized,
	Forbidden:            http.StatusForbidden,
	NotFound:             http.StatusNotFound,
	Conflict:             http.StatusConflict,
	UpstreamHashMismatch: http.StatusBadGateway,
	PayloadTooLarge:      http.StatusRequestEntityTooLarge,
	UploadExpired:        http.StatusGone,
	UnsupportedMedia:     http.StatusUnsupportedMediaType,
	UnprocessableEntity:  http.StatusUnprocessableEntity,
	TooManyRequests:      http.StatusTooManyRequests,
	UpstreamUnavailable:  http.StatusBadGateway,
	Internal:             http.StatusInternalServerError,
	ServiceUnavailable:   http.StatusServiceUnavailable,
}

// Error is the application error type. Handlers type-assert down to this
// (via As) to render the {"error":{"code","message"}} envelope; anything
// that isn't an *Error is treated as Internal.
type Error struct {
	Kind    Kind
	Message string
	Err     error // wrapped cause, optional
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// Status returns the HTTP status code for this error's kind.
func (e *Error) Status() int {
	if s, ok := statusByKind[e.Kind]; ok {
		return s
	}
	return http.StatusInternalServerError
}

// New creates an *Error of the given kind with a message.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap creates an *Error of the given kind, wrapping an underlying cause.
func Wrap(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// As extracts an *Error from err, or synthesizes an Internal one if err
// isn't already typed.
func As(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return &Error{Kind: Internal, Message: "internal error", Err: err}
}

// Is reports whether err is an *Error of the given kind.
func Is(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

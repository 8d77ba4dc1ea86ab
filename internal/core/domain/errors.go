package domain

import (
	"errors"
	"fmt"
)

// ErrorKind is the stable machine-readable discriminator for an Error. The
// same strings appear as the kind label on the error counter, so values must
// not be renamed once released.
type ErrorKind string

const (
	ErrKindConfig           ErrorKind = "config"
	ErrKindBadRequest       ErrorKind = "bad_request"
	ErrKindModelNotFound    ErrorKind = "model_not_found"
	ErrKindUpstreamRequest  ErrorKind = "upstream_request_error"
	ErrKindUpstreamBodyRead ErrorKind = "upstream_body_read_error"
	ErrKindTimeout          ErrorKind = "timeout"
	ErrKindHealthHTTPStatus ErrorKind = "health_http_status"
	ErrKindHealthHTTPError  ErrorKind = "health_http_error"
	ErrKindDiscoveryParse   ErrorKind = "model_discovery_parse"
	ErrKindBind             ErrorKind = "bind"
	ErrKindObserverSendDrop ErrorKind = "observer_send_drop"
	ErrKindInvalidEnvelope  ErrorKind = "invalid_envelope"
	ErrKindShutdown         ErrorKind = "shutdown"
	ErrKindInternal         ErrorKind = "internal"
)

// Error is the tagged error type used across the daemon. Kind identifies the
// failure class; Endpoint names the upstream involved, when there is one.
type Error struct {
	Err      error
	Kind     ErrorKind
	Endpoint string
	Message  string
}

func (e *Error) Error() string {
	switch {
	case e.Endpoint != "" && e.Err != nil:
		return fmt.Sprintf("%s: endpoint %q: %s: %v", e.Kind, e.Endpoint, e.Message, e.Err)
	case e.Endpoint != "":
		return fmt.Sprintf("%s: endpoint %q: %s", e.Kind, e.Endpoint, e.Message)
	case e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	default:
		return fmt.Sprintf("%s: %s", e.Kind, e.Message)
	}
}

func (e *Error) Unwrap() error {
	return e.Err
}

// IsFatal reports whether this error should terminate the daemon rather than
// be absorbed at a component boundary.
func (e *Error) IsFatal() bool {
	switch e.Kind {
	case ErrKindConfig, ErrKindBind, ErrKindShutdown:
		return true
	default:
		return false
	}
}

func NewError(kind ErrorKind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

func NewErrorf(kind ErrorKind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

func WrapError(kind ErrorKind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

func NewEndpointError(kind ErrorKind, endpoint, message string, err error) *Error {
	return &Error{Kind: kind, Endpoint: endpoint, Message: message, Err: err}
}

func NewConfigError(field, reason string) *Error {
	return &Error{Kind: ErrKindConfig, Message: fmt.Sprintf("invalid configuration for %s: %s", field, reason)}
}

// KindOf extracts the ErrorKind from err, walking the wrap chain. Errors that
// are not a *domain.Error report ErrKindInternal.
func KindOf(err error) ErrorKind {
	var de *Error
	if errors.As(err, &de) {
		return de.Kind
	}
	return ErrKindInternal
}

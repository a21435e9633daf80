package session

import (
	"errors"
	"fmt"
)

// ErrorKind classifies session failures. Every fatal failure maps to exactly
// one kind and produces exactly one terminal report; nothing is retried
// inside the engine.
type ErrorKind string

const (
	// KindConnectFailure: transport unreachable or handshake rejected.
	// The session never starts.
	KindConnectFailure ErrorKind = "connect_failure"
	// KindConfigurationRejected: the service rejected the session
	// parameters, or never acknowledged them in time.
	KindConfigurationRejected ErrorKind = "configuration_rejected"
	// KindFramingError: malformed input audio. The input cannot be
	// skipped mid-stream because sample alignment cannot be guessed.
	KindFramingError ErrorKind = "framing_error"
	// KindTransportError: mid-stream disconnect or I/O failure.
	KindTransportError ErrorKind = "transport_error"
	// KindDecodeError: unparseable inbound wire message. Fatal, since
	// skipping it silently could lose a transcription event.
	KindDecodeError ErrorKind = "decode_error"
	// KindServiceError: a well-formed error event from the service.
	// Only fatal while the session is still configuring.
	KindServiceError ErrorKind = "service_error"
	// KindCanceled: the session was stopped by an external signal.
	KindCanceled ErrorKind = "canceled"
)

// Error is a session failure tagged with its kind.
type Error struct {
	Kind ErrorKind
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func newError(kind ErrorKind, err error) *Error {
	return &Error{Kind: kind, Err: err}
}

// KindOf extracts the error kind from err, if it carries one.
func KindOf(err error) (ErrorKind, bool) {
	var se *Error
	if errors.As(err, &se) {
		return se.Kind, true
	}
	return "", false
}

// Package errkind defines the stable error-kind taxonomy shared across
// every component that returns a caller-facing error: validation,
// resource, state, lookup, conflict, timeout, and internal failures.
package errkind

import "errors"

// Kind is a stable, serializable classification of an error. Values are
// carried alongside the Go error (via Error below), never used in its
// place — callers that only need the taxonomy read Kind; callers that
// need the chain call errors.Unwrap as usual.
type Kind string

const (
	InvalidArgs       Kind = "invalid_args"
	JackUnavailable   Kind = "jack_unavailable"
	EndpointMissing   Kind = "endpoint_missing"
	DirectionMismatch Kind = "direction_mismatch"
	AlreadyConnected  Kind = "already_connected"
	NotConnected      Kind = "not_connected"
	TargetInPast      Kind = "target_in_past"
	ToolNotFound      Kind = "tool_not_found"
	ToolExists        Kind = "tool_exists"
	IDCollision       Kind = "id_collision"
	RemoteTimeout     Kind = "remote_timeout"
	Internal          Kind = "internal"
)

// retryable maps each kind to whether a caller should be told retry is
// advised. Kinds absent from this table are not retryable.
var retryable = map[Kind]bool{
	JackUnavailable: true,
	RemoteTimeout:   true,
}

// Retryable reports whether callers should be offered a retry affordance
// for errors of this kind.
func Retryable(k Kind) bool {
	return retryable[k]
}

// Error pairs a Kind with an underlying error, satisfying the standard
// error interface so it composes with errors.Is/errors.As/fmt.Errorf
// wrapping while still exposing the taxonomy to JSON-facing callers.
type Error struct {
	Kind    Kind   `json:"kind"`
	Message string `json:"message"`
	Err     error  `json:"-"`
}

func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

func Wrap(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Retryable reports whether this error's kind advises a retry.
func (e *Error) Retryable() bool {
	return Retryable(e.Kind)
}

// As extracts the Kind of err if it is, or wraps, an *Error. It returns
// (Internal, false) when err carries no known kind, so callers that log
// unexpected errors still have a default classification to report.
func As(err error) (Kind, bool) {
	var ke *Error
	if errors.As(err, &ke) {
		return ke.Kind, true
	}
	return Internal, false
}

package provider

import "fmt"

// ErrorKind classifies provider failures so the HTTP handler can map them
// to status codes without string-matching error messages.
type ErrorKind int

const (
	// ErrNetwork covers connection and IO failures talking to the backend.
	ErrNetwork ErrorKind = iota
	// ErrParse covers malformed backend output (body that isn't the
	// expected JSON shape).
	ErrParse
	// ErrUpstream means the backend itself answered with a non-2xx HTTP
	// response; Status carries the upstream status code.
	ErrUpstream
)

// Error is the tagged error every provider adapter returns. Go doesn't have
// sum types, so this is the usual encoding: a kind discriminator plus the
// fields the variants need. Handlers unwrap it with errors.As.
type Error struct {
	Kind    ErrorKind
	Status  int    // set only for ErrUpstream
	Message string // human-readable detail, no backtrace contract
}

func (e *Error) Error() string {
	switch e.Kind {
	case ErrNetwork:
		return fmt.Sprintf("Network error: %s", e.Message)
	case ErrParse:
		return fmt.Sprintf("Parse error: %s", e.Message)
	case ErrUpstream:
		return fmt.Sprintf("Provider error (%d): %s", e.Status, e.Message)
	default:
		return e.Message
	}
}

// NetworkError wraps a connection/IO failure.
func NetworkError(err error) *Error {
	return &Error{Kind: ErrNetwork, Message: err.Error()}
}

// ParseError wraps a malformed-output failure.
func ParseError(err error) *Error {
	return &Error{Kind: ErrParse, Message: err.Error()}
}

// UpstreamError wraps a non-2xx backend response.
func UpstreamError(status int, message string) *Error {
	return &Error{Kind: ErrUpstream, Status: status, Message: message}
}

package domain

import "errors"

// Error kinds surfaced by the backend. Handlers translate these to HTTP
// status codes; the response body never says which permission patterns
// exist.
var (
	// ErrUnauthorized means the credential check failed.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrForbidden means the caller authenticated but is not permitted to
	// perform the requested action on the topic.
	ErrForbidden = errors.New("not permitted")

	// ErrNotFound means a referenced topic or subscription does not exist.
	ErrNotFound = errors.New("not found")
)

// ValidationError reports malformed caller input. Its message is safe to
// return to the caller.
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string {
	return e.Msg
}

// BrokerTransportError wraps a failed broker hand-off. Whether to retry is
// the caller's decision; the backend never retries internally.
type BrokerTransportError struct {
	Err error
}

func (e *BrokerTransportError) Error() string {
	return "broker transport: " + e.Err.Error()
}

func (e *BrokerTransportError) Unwrap() error {
	return e.Err
}

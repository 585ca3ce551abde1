package upstream

import (
	"fmt"

	"github.com/pkg/errors"
)

// TransportError means the upstream could not be reached or did not answer with an envelope.
type TransportError struct {
	Path string
	Err  error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("upstream %s: %v", e.Path, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// IsTransport tells whether err is (or wraps) a TransportError.
func IsTransport(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}

// RejectionError is a non-success envelope surfaced as an error.
type RejectionError struct {
	Code    int
	Message string
}

func (e *RejectionError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("upstream rejected the request (code %d)", e.Code)
	}
	return e.Message
}

// Reject builds the RejectionError for a non-success envelope.
func Reject(env Envelope) error {
	return &RejectionError{Code: env.Code, Message: env.Message}
}

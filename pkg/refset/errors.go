package refset

import "fmt"

// InvariantError reports a contract violation: a malformed delta
// multiplicity, a removal below zero, or a key derivation failure. These
// indicate a bug in the graph construction, not a recoverable runtime
// condition.
type InvariantError struct {
	Message string
	Cause   error
}

// Error implements the error interface.
func (e *InvariantError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *InvariantError) Unwrap() error { return e.Cause }

func newInvariantError(message string, cause error) error {
	return &InvariantError{Message: message, Cause: cause}
}

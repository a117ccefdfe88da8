package adaptive

import "fmt"

// ContractError reports a programming-contract violation in the dataflow
// graph: pulling a disposed reader, pulling with a version older than the
// last pull, or feeding a malformed delta into an operator. These are
// invariant breaches that abort loudly, never expected runtime conditions.
type ContractError struct {
	Message string
	Cause   error
}

// Error implements the error interface.
func (e *ContractError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *ContractError) Unwrap() error { return e.Cause }

func newContractError(format string, args ...any) error {
	return &ContractError{Message: fmt.Sprintf(format, args...)}
}

func wrapContractError(message string, cause error) error {
	return &ContractError{Message: message, Cause: cause}
}

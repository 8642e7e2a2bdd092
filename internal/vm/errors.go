package vm

import (
	"errors"
	"fmt"
)

// Resource exhaustion is local and recoverable: the failed execution yields no
// graph and call sites degrade to unknown propagation.
var (
	ErrResourceExhausted     = errors.New("resource exhausted")
	ErrCallDepthExceeded     = fmt.Errorf("%w: call depth exceeded", ErrResourceExhausted)
	ErrNodeVisitsExceeded    = fmt.Errorf("%w: node visits exceeded", ErrResourceExhausted)
	ErrAddressVisitsExceeded = fmt.Errorf("%w: address visits exceeded", ErrResourceExhausted)
)

// ErrMethodNotDefined is returned when a descriptor has no analyzable body.
var ErrMethodNotDefined = errors.New("method not defined")

// ContractError reports an engine-internal inconsistency: malformed operands,
// an out-of-range register, an address without a handler, or a collaborator
// failing a call it claimed to support. It aborts the enclosing method.
type ContractError struct {
	Op  string
	Msg string
	Err error
}

func (e *ContractError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Msg)
}

func (e *ContractError) Unwrap() error {
	return e.Err
}

func contractf(op, format string, args ...any) *ContractError {
	return &ContractError{Op: op, Msg: fmt.Sprintf(format, args...)}
}

// IsContractError reports whether err carries a *ContractError.
func IsContractError(err error) bool {
	var ce *ContractError
	return errors.As(err, &ce)
}

package helper

import "fmt"

// NewError wraps err with the operation it happened in.
// The wrapped error stays reachable through errors.Is and errors.As.
func NewError(operation string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", operation, err)
}

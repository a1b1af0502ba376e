package relay

import "fmt"

// OpError is the terminal error of a relay invocation, tagged with the
// operation that was in flight. ItemIndex is the 0-based input item that
// caused a send-path failure, or -1 when the failure is not item-scoped.
type OpError struct {
	Op        string
	ItemIndex int
	Err       error
}

func (e *OpError) Error() string {
	if e.ItemIndex >= 0 {
		return fmt.Sprintf("%s operation failed for item %d: %v", e.Op, e.ItemIndex, e.Err)
	}
	return fmt.Sprintf("%s operation failed: %v", e.Op, e.Err)
}

// Unwrap returns the underlying error for errors.Is and errors.As
func (e *OpError) Unwrap() error {
	return e.Err
}

func opError(op string, err error) *OpError {
	return &OpError{Op: op, ItemIndex: -1, Err: err}
}

func itemError(op string, itemIndex int, err error) *OpError {
	return &OpError{Op: op, ItemIndex: itemIndex, Err: err}
}

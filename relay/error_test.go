package relay

import (
	"errors"
	"fmt"
	"testing"
)

func TestOpError_Message(t *testing.T) {
	tests := []struct {
		name     string
		err      *OpError
		expected string
	}{
		{
			name:     "operation-level failure",
			err:      opError(OperationReceive, errors.New("connection refused")),
			expected: "receive operation failed: connection refused",
		},
		{
			name:     "item-scoped failure",
			err:      itemError(OperationSend, 2, errors.New("payload too large")),
			expected: "send operation failed for item 2: payload too large",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.err.Error() != tt.expected {
				t.Errorf("Expected '%s', got '%s'", tt.expected, tt.err.Error())
			}
		})
	}
}

func TestOpError_Unwrap(t *testing.T) {
	base := errors.New("broken pipe")
	err := opError(OperationSend, fmt.Errorf("wrapped: %w", base))

	if !errors.Is(err, base) {
		t.Error("errors.Is should find the underlying error through OpError")
	}

	var opErr *OpError
	if !errors.As(error(err), &opErr) {
		t.Fatal("errors.As should find OpError")
	}
	if opErr.ItemIndex != -1 {
		t.Errorf("Expected itemIndex -1 for operation-level error, got %d", opErr.ItemIndex)
	}
}

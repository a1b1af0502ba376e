package relay

import (
	"encoding/json"
	"fmt"

	"github.com/Jeffail/gabs/v2"
)

// EncodeBody serializes a resolved message body for transmission.
func EncodeBody(body any) ([]byte, error) {
	if raw, ok := body.([]byte); ok {
		return raw, nil
	}
	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("message body is not JSON-serializable: %w", err)
	}
	return data, nil
}

// DecodeBody parses a received payload back into a JSON value for the result
// record. Payloads that are not valid JSON are preserved as raw strings.
func DecodeBody(payload []byte) any {
	container, err := gabs.ParseJSON(payload)
	if err != nil {
		return string(payload)
	}
	return container.Data()
}

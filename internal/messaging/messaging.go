package messaging

import (
	"context"
	"encoding/json"
	"fmt"
)

// Message is one inbound publication, decoupled from the transport that
// delivered it.
type Message struct {
	Topic   string
	Payload []byte
}

// Publisher sends payload to a topic or channel. Strings and byte slices go
// out as-is; anything else is JSON-encoded.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any, retained bool) error
}

// Encode renders payload the way every Publisher puts it on the wire.
func Encode(payload any) ([]byte, error) {
	switch v := payload.(type) {
	case []byte:
		return v, nil
	case string:
		return []byte(v), nil
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode payload: %w", err)
	}
	return data, nil
}

// Decode fills out from a PubNub message body, which arrives either as a
// JSON string or as an already-decoded value.
func Decode(body any, out any) error {
	var data []byte
	switch v := body.(type) {
	case string:
		data = []byte(v)
	case []byte:
		data = v
	default:
		var err error
		if data, err = json.Marshal(v); err != nil {
			return fmt.Errorf("re-encode message: %w", err)
		}
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode message: %w", err)
	}
	return nil
}

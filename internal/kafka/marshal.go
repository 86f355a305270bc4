package kafka

import (
	"encoding/json"
	"fmt"
)

func MustMarshal(v any) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return b
}

// UnmarshalEnvelope decode amplop event mentah dari bus.
func UnmarshalEnvelope(b []byte, out any) error {
	if err := json.Unmarshal(b, out); err != nil {
		return fmt.Errorf("decode envelope: %w", err)
	}
	return nil
}

// UnwrapPayload memudahkan decode payload spesifik dari amplop.
func UnwrapPayload[T any](payload json.RawMessage) (T, error) {
	var t T
	if err := json.Unmarshal(payload, &t); err != nil {
		return t, fmt.Errorf("decode payload: %w", err)
	}
	return t, nil
}

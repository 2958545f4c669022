package frame

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Errors
var (
	ErrMissingType    = errors.New("missing type")
	ErrInvalidPayload = errors.New("payload is not valid JSON")
)

// DecodeError reports an inbound payload that could not be turned into a Frame.
// The raw bytes are kept for logging; the frame itself is discarded.
type DecodeError struct {
	Raw []byte
	Err error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode frame: %v", e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// Encode serializes a frame to its wire form.
func Encode(f Frame) ([]byte, error) {
	if f.Type == "" {
		return nil, ErrMissingType
	}
	data, err := json.Marshal(f)
	if err != nil {
		return nil, fmt.Errorf("encode frame: %w", err)
	}
	return data, nil
}

// Decode parses one wire message. Any failure is a *DecodeError.
func Decode(raw []byte) (Frame, error) {
	var f Frame
	if err := json.Unmarshal(raw, &f); err != nil {
		return Frame{}, &DecodeError{Raw: raw, Err: err}
	}
	if f.Type == "" {
		return Frame{}, &DecodeError{Raw: raw, Err: ErrMissingType}
	}
	return f, nil
}

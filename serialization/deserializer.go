package serialization

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
)

// ErrEmptyPayload is returned when a delivery has no body to decode
var ErrEmptyPayload = errors.New("serialization: empty payload")

// Deserializer turns a raw delivery body into a typed message
type Deserializer[T any] interface {
	Deserialize(data []byte) (T, error)
}

// DeserializerFunc is a function adapter for Deserializer
type DeserializerFunc[T any] func(data []byte) (T, error)

// Deserialize implements Deserializer
func (f DeserializerFunc[T]) Deserialize(data []byte) (T, error) {
	return f(data)
}

// DecodeError describes a payload that does not match the expected type
type DecodeError struct {
	Type string // Expected Go type
	Err  error  // Underlying decoder error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("serialization: cannot decode payload into %s: %v", e.Type, e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// JSONDeserializer decodes JSON payloads into T
type JSONDeserializer[T any] struct {
	strict     bool
	allowEmpty bool
}

// JSONOption configures a JSONDeserializer
type JSONOption func(*jsonOptions)

type jsonOptions struct {
	strict     bool
	allowEmpty bool
}

// WithStrictFields rejects payloads carrying fields unknown to T
func WithStrictFields(strict bool) JSONOption {
	return func(o *jsonOptions) {
		o.strict = strict
	}
}

// WithAllowEmpty decodes an empty body into the zero value of T instead of failing
func WithAllowEmpty(allow bool) JSONOption {
	return func(o *jsonOptions) {
		o.allowEmpty = allow
	}
}

// NewJSONDeserializer creates a JSON deserializer for T
func NewJSONDeserializer[T any](options ...JSONOption) *JSONDeserializer[T] {
	var opts jsonOptions
	for _, opt := range options {
		opt(&opts)
	}
	return &JSONDeserializer[T]{strict: opts.strict, allowEmpty: opts.allowEmpty}
}

// Deserialize implements Deserializer
func (d *JSONDeserializer[T]) Deserialize(data []byte) (T, error) {
	var msg T

	if len(bytes.TrimSpace(data)) == 0 {
		if d.allowEmpty {
			return msg, nil
		}
		return msg, &DecodeError{Type: typeName[T](), Err: ErrEmptyPayload}
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	if d.strict {
		dec.DisallowUnknownFields()
	}
	if err := dec.Decode(&msg); err != nil {
		return msg, &DecodeError{Type: typeName[T](), Err: err}
	}
	if dec.More() {
		return msg, &DecodeError{Type: typeName[T](), Err: errors.New("trailing data after JSON value")}
	}

	return msg, nil
}

// RawDeserializer hands the body through untouched. The slice is copied so
// handlers may keep it after the delivery is released.
type RawDeserializer struct{}

// Deserialize implements Deserializer
func (RawDeserializer) Deserialize(data []byte) ([]byte, error) {
	return bytes.Clone(data), nil
}

func typeName[T any]() string {
	return reflect.TypeFor[T]().String()
}

package serialization

import (
	"encoding/json"
	"fmt"
	"reflect"
	"sort"
	"sync"
)

// TypeRegistry decodes queues that carry several message types. The JSON
// payload names its type in a discriminator field, and the registry decodes
// it into a fresh instance of the struct registered under that name.
type TypeRegistry struct {
	typeField string
	strict    bool
	types     map[string]reflect.Type
	mu        sync.RWMutex
}

// TypeRegistryOption configures the TypeRegistry
type TypeRegistryOption func(*TypeRegistry)

// WithTypeField sets the discriminator field, "type" by default
func WithTypeField(field string) TypeRegistryOption {
	return func(r *TypeRegistry) {
		r.typeField = field
	}
}

// WithStrictTypes rejects payloads whose type is not registered instead of
// decoding them into map[string]interface{}
func WithStrictTypes(strict bool) TypeRegistryOption {
	return func(r *TypeRegistry) {
		r.strict = strict
	}
}

// NewTypeRegistry creates a new type registry
func NewTypeRegistry(options ...TypeRegistryOption) *TypeRegistry {
	r := &TypeRegistry{
		typeField: "type",
		strict:    true,
		types:     make(map[string]reflect.Type),
	}
	for _, opt := range options {
		opt(r)
	}
	return r
}

// Register registers a message struct under typeName
func (r *TypeRegistry) Register(typeName string, msgType interface{}) error {
	if typeName == "" {
		return fmt.Errorf("type name cannot be empty")
	}
	if msgType == nil {
		return fmt.Errorf("message type cannot be nil")
	}

	t := reflect.TypeOf(msgType)
	if t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	if t.Kind() != reflect.Struct {
		return fmt.Errorf("message type must be a struct, got %v", t.Kind())
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, exists := r.types[typeName]; exists {
		if existing == t {
			return nil
		}
		return fmt.Errorf("type name %s already registered to %v", typeName, existing)
	}
	r.types[typeName] = t
	return nil
}

// IsRegistered checks if a type is registered
func (r *TypeRegistry) IsRegistered(typeName string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, exists := r.types[typeName]
	return exists
}

// ListTypes returns all registered type names, sorted
func (r *TypeRegistry) ListTypes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.types))
	for name := range r.types {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Deserialize implements Deserializer. The result is a pointer to the
// registered struct.
func (r *TypeRegistry) Deserialize(data []byte) (interface{}, error) {
	var probe map[string]json.RawMessage
	if err := json.Unmarshal(data, &probe); err != nil {
		return nil, &DecodeError{Type: "registered message", Err: err}
	}

	var typeName string
	if raw, ok := probe[r.typeField]; ok {
		if err := json.Unmarshal(raw, &typeName); err != nil {
			return nil, &DecodeError{Type: "registered message", Err: fmt.Errorf("field %q is not a string", r.typeField)}
		}
	}

	r.mu.RLock()
	t, exists := r.types[typeName]
	r.mu.RUnlock()

	if !exists {
		if r.strict {
			return nil, &DecodeError{Type: "registered message", Err: fmt.Errorf("type %q not registered", typeName)}
		}
		var generic map[string]interface{}
		if err := json.Unmarshal(data, &generic); err != nil {
			return nil, &DecodeError{Type: "map[string]interface {}", Err: err}
		}
		return generic, nil
	}

	instance := reflect.New(t).Interface()
	if err := json.Unmarshal(data, instance); err != nil {
		return nil, &DecodeError{Type: t.String(), Err: err}
	}
	return instance, nil
}

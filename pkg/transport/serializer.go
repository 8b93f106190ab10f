package transport

import (
	"encoding/json"
	"fmt"
	"reflect"
	"sync"
)

// Serializer turns an ordered, non-empty sequence of logical messages into
// TransportMessage payload bytes and back. The transport never hard-codes a
// wire format — Serializer is an external collaborator injected by the
// caller (spec §1), matching how devkit-go leaves DLQ/event-bus payload
// shapes to the consumer of those packages.
type Serializer interface {
	Serialize(messages []any) ([]byte, error)
	Deserialize(data []byte) ([]any, error)
}

// envelope tags each logical message with the registered type name needed to
// reconstruct a concrete Go value on the receiving side.
type envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// JSONSerializer is the default Serializer: encoding/json plus a type
// registry. No third-party codec in the reference pack models an arbitrary,
// caller-registered envelope the way this component needs (the pack's
// protobuf/gogo-protobuf users — kedacore/keda, oriys/nova, estuary/flow —
// all work from statically generated schemas, which this pluggable contract
// cannot assume); encoding/json plus reflection is the narrowest standard
// building block that fits, so it is used directly rather than adding a
// schema-first codec this package has no schema for.
type JSONSerializer struct {
	mu    sync.RWMutex
	types map[string]reflect.Type
}

// NewJSONSerializer creates an empty JSON serializer. Concrete message types
// must be registered before they can be deserialized.
func NewJSONSerializer() *JSONSerializer {
	return &JSONSerializer{types: make(map[string]reflect.Type)}
}

// Register associates a type name with a sample value (typically a
// zero-value struct literal) so Deserialize can reconstruct it.
func (s *JSONSerializer) Register(name string, sample any) {
	t := reflect.TypeOf(sample)
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.types[name] = t
}

// TypeName derives the registry key Serialize would stamp for v, so callers
// can pass it straight to Register without duplicating the naming scheme.
func TypeName(v any) string { return typeName(v) }

func typeName(v any) string {
	t := reflect.TypeOf(v)
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	return t.PkgPath() + "." + t.Name()
}

// Serialize encodes the logical message sequence. The first element's type
// name becomes available to callers via KindHint/TransportKind independently
// of serialization.
func (s *JSONSerializer) Serialize(messages []any) ([]byte, error) {
	if len(messages) == 0 {
		return nil, ErrEmptyMessageSequence
	}

	envelopes := make([]envelope, len(messages))
	for i, m := range messages {
		data, err := json.Marshal(m)
		if err != nil {
			return nil, fmt.Errorf("serialize element %d: %w", i, err)
		}
		envelopes[i] = envelope{Type: typeName(m), Data: data}
	}

	return json.Marshal(envelopes)
}

// Deserialize decodes bytes produced by Serialize back into the logical
// message sequence, reconstructing concrete types from the registry.
func (s *JSONSerializer) Deserialize(data []byte) ([]any, error) {
	var envelopes []envelope
	if err := json.Unmarshal(data, &envelopes); err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}
	if len(envelopes) == 0 {
		return nil, ErrEmptyMessageSequence
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]any, len(envelopes))
	for i, e := range envelopes {
		t, ok := s.types[e.Type]
		if !ok {
			return nil, fmt.Errorf("unregistered message type %q at element %d", e.Type, i)
		}
		ptr := reflect.New(t)
		if err := json.Unmarshal(e.Data, ptr.Interface()); err != nil {
			return nil, fmt.Errorf("decode element %d (%s): %w", i, e.Type, err)
		}
		result[i] = ptr.Elem().Interface()
	}
	return result, nil
}

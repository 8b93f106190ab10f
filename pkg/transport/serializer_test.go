package transport

import "testing"

type sampleMessage struct {
	Name  string
	Count int
}

func TestJSONSerializerRoundTrip(t *testing.T) {
	s := NewJSONSerializer()
	s.Register(TypeName(sampleMessage{}), sampleMessage{})

	original := []any{sampleMessage{Name: "hello", Count: 3}}

	data, err := s.Serialize(original)
	if err != nil {
		t.Fatalf("serialize: %v", err)
	}

	decoded, err := s.Deserialize(data)
	if err != nil {
		t.Fatalf("deserialize: %v", err)
	}
	if len(decoded) != 1 {
		t.Fatalf("expected 1 element, got %d", len(decoded))
	}
	got, ok := decoded[0].(sampleMessage)
	if !ok {
		t.Fatalf("expected sampleMessage, got %T", decoded[0])
	}
	if got != original[0] {
		t.Fatalf("got %+v, want %+v", got, original[0])
	}
}

func TestJSONSerializerEmptySequence(t *testing.T) {
	s := NewJSONSerializer()
	if _, err := s.Serialize(nil); err != ErrEmptyMessageSequence {
		t.Fatalf("expected ErrEmptyMessageSequence, got %v", err)
	}
}

func TestJSONSerializerUnregisteredType(t *testing.T) {
	s := NewJSONSerializer()
	other := NewJSONSerializer()
	other.Register(TypeName(sampleMessage{}), sampleMessage{})

	data, err := other.Serialize([]any{sampleMessage{Name: "x"}})
	if err != nil {
		t.Fatalf("serialize: %v", err)
	}
	if _, err := s.Deserialize(data); err == nil {
		t.Fatal("expected error deserializing an unregistered type")
	}
}

package transport

import (
	"context"
	"testing"
)

func TestTransportMessageHeaders(t *testing.T) {
	m := NewTransportMessage([]byte("body"), nil)
	if m.Header(HeaderID) != "" {
		t.Fatal("expected empty header on fresh message")
	}

	m.SetHeader(HeaderID, "abc")
	if got := m.Header(HeaderID); got != "abc" {
		t.Fatalf("got %q, want %q", got, "abc")
	}
}

func TestTransportMessageClone(t *testing.T) {
	m := NewTransportMessage([]byte("body"), map[string]string{HeaderID: "abc"})
	clone := m.Clone()

	clone.SetHeader(HeaderID, "changed")
	clone.Body[0] = 'B'

	if m.Header(HeaderID) != "abc" {
		t.Fatal("mutating the clone's headers must not affect the original")
	}
	if m.Body[0] != 'b' {
		t.Fatal("mutating the clone's body must not affect the original")
	}
}

func TestCurrentMessageInformationContext(t *testing.T) {
	if _, ok := CurrentMessageInformationFromContext(context.Background()); ok {
		t.Fatal("expected no CurrentMessageInformation on a bare context")
	}

	info := &CurrentMessageInformation{MessageID: "abc"}
	ctx := withCurrentMessageInformation(context.Background(), info)

	got, ok := CurrentMessageInformationFromContext(ctx)
	if !ok || got.MessageID != "abc" {
		t.Fatalf("expected to retrieve info with MessageID=abc, got %+v, ok=%v", got, ok)
	}
}

func TestMarkRetryHandled(t *testing.T) {
	info := &CurrentMessageInformation{}
	if info.RetryHandled() {
		t.Fatal("expected RetryHandled to be false initially")
	}
	info.MarkRetryHandled()
	if !info.RetryHandled() {
		t.Fatal("expected RetryHandled to be true after MarkRetryHandled")
	}
}

package transport

import (
	"testing"
	"time"
)

func TestConfigValidateDefaults(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ServiceName = "orders"
	cfg.Environment = "test"
	cfg.Endpoint = Endpoint{Scheme: "local", Host: "h", Queue: "orders"}

	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected valid config, got %v", err)
	}
}

func TestConfigValidateCollectsAllErrors(t *testing.T) {
	cfg := Config{TickInterval: 2 * time.Second}

	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected validation error")
	}

	msg := err.Error()
	for _, want := range []string{"ServiceName", "Environment", "Endpoint", "ThreadCount", "PeekTimeout", "ReceiveTimeout", "TransactionTimeout", "TickInterval", "ShutdownTimeout", "QueueManagerKind"} {
		if !contains(msg, want) {
			t.Errorf("expected validation error to mention %q, got: %s", want, msg)
		}
	}
}

func contains(haystack, needle string) bool {
	for i := 0; i+len(needle) <= len(haystack); i++ {
		if haystack[i:i+len(needle)] == needle {
			return true
		}
	}
	return false
}

package logging

import (
	"testing"

	"github.com/google/uuid"
)

func TestGenerateRequestID(t *testing.T) {
	id1 := GenerateRequestID()
	id2 := GenerateRequestID()

	if id1 == "" || id2 == "" {
		t.Fatal("GenerateRequestID returned empty string")
	}

	// IDs should be unique
	if id1 == id2 {
		t.Errorf("GenerateRequestID returned duplicate IDs: %s", id1)
	}

	parsed, err := uuid.Parse(id1)
	if err != nil {
		t.Fatalf("request ID is not a UUID: %v", err)
	}
	if parsed.Version() != 4 {
		t.Errorf("Expected version 4 UUID, got version %d", parsed.Version())
	}
}

func TestGenerateRequestIDUniqueness(t *testing.T) {
	ids := make(map[string]bool)
	count := 1000

	for i := 0; i < count; i++ {
		id := GenerateRequestID()
		if ids[id] {
			t.Errorf("Duplicate request ID generated: %s", id)
		}
		ids[id] = true
	}
}

func TestNewInstanceID(t *testing.T) {
	a, b := NewInstanceID(), NewInstanceID()
	if a == b {
		t.Errorf("NewInstanceID returned duplicate IDs: %s", a)
	}
	if _, err := uuid.Parse(a); err != nil {
		t.Errorf("instance ID is not a UUID: %v", err)
	}
}

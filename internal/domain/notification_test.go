package domain

import (
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestDeadlineKey(t *testing.T) {
	taskID := uuid.MustParse("6f1c1c9e-6d1b-4b7a-9c55-2f0f4f7b5a10")
	deadline := time.Date(2024, 5, 1, 14, 5, 0, 0, time.FixedZone("CEST", 2*3600))

	key := DeadlineKey(taskID, deadline)

	if key.TaskID != taskID {
		t.Errorf("Expected task ID %s, got %s", taskID, key.TaskID)
	}
	if key.Window != "2024-05-01T12:05:00Z" {
		t.Errorf("Expected UTC window key, got %s", key.Window)
	}
	if key.String() != "6f1c1c9e-6d1b-4b7a-9c55-2f0f4f7b5a10/2024-05-01T12:05:00Z" {
		t.Errorf("Unexpected key string %s", key.String())
	}

	// The same instant expressed in another zone is the same window.
	if DeadlineKey(taskID, deadline.UTC()) != key {
		t.Error("Expected equal keys for the same instant")
	}
}

func TestCreationKey(t *testing.T) {
	taskID := uuid.New()
	key := CreationKey(taskID)
	if key.Window != CreationWindow {
		t.Errorf("Expected window %q, got %q", CreationWindow, key.Window)
	}
	if key == DeadlineKey(taskID, time.Now()) {
		t.Error("Creation key must differ from deadline key")
	}
}

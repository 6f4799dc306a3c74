package manager

import (
	"errors"
	"testing"
)

func TestAttempt_Lifecycle(t *testing.T) {
	a := NewAttempt("sendout", "udp")
	if a.ID == "" {
		t.Fatal("Expected attempt ID")
	}
	if a.State != StatePending {
		t.Errorf("Expected PENDING, got %s", a.State)
	}

	if err := a.TransitionTo(StateActive, ""); err != nil {
		t.Fatalf("TransitionTo(ACTIVE) failed: %v", err)
	}
	a.ReadCompleted()
	a.ReadCompleted()
	if a.CompletedReads != 2 {
		t.Errorf("Expected 2 completed reads, got %d", a.CompletedReads)
	}

	if err := a.TransitionTo(StateFailed, "partial delivery"); err != nil {
		t.Fatalf("TransitionTo(FAILED) failed: %v", err)
	}
	if a.EndTime.IsZero() {
		t.Error("Expected end time to be set")
	}
	if a.ErrorMessage != "partial delivery" {
		t.Errorf("Expected error message to be kept, got %q", a.ErrorMessage)
	}
}

func TestAttempt_InvalidTransition(t *testing.T) {
	a := NewAttempt("sendout", "udp")
	if err := a.TransitionTo(StateCompleted, ""); !errors.Is(err, ErrInvalidStateTransition) {
		t.Errorf("Expected ErrInvalidStateTransition, got %v", err)
	}

	a.TransitionTo(StateFailed, "")
	if err := a.TransitionTo(StateActive, ""); !errors.Is(err, ErrInvalidStateTransition) {
		t.Errorf("Expected terminal state to reject transitions, got %v", err)
	}
}

func TestAttempt_UniqueIDs(t *testing.T) {
	if NewAttempt("exit", "udp").ID == NewAttempt("exit", "udp").ID {
		t.Error("Expected distinct attempt IDs")
	}
}

package manager

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

var ErrInvalidStateTransition = errors.New("invalid state transition")

// AttemptState is the lifecycle state of one command attempt.
type AttemptState int

const (
	StatePending AttemptState = iota + 1
	StateActive
	StateCompleted
	StateFailed
)

func (s AttemptState) String() string {
	switch s {
	case StatePending:
		return "PENDING"
	case StateActive:
		return "ACTIVE"
	case StateCompleted:
		return "COMPLETED"
	case StateFailed:
		return "FAILED"
	default:
		return "UNKNOWN"
	}
}

// Attempt records one execution of a protocol command.
type Attempt struct {
	ID             string
	Command        string
	Transport      string
	State          AttemptState
	CompletedReads int
	FileName       string
	FileSize       int64
	StartTime      time.Time
	EndTime        time.Time
	ErrorMessage   string
}

// NewAttempt starts a pending attempt for command.
func NewAttempt(command, transport string) *Attempt {
	return &Attempt{
		ID:        uuid.NewString(),
		Command:   command,
		Transport: transport,
		State:     StatePending,
		StartTime: time.Now(),
	}
}

// ReadCompleted counts one more logical read that consumed its block.
func (a *Attempt) ReadCompleted() {
	a.CompletedReads++
}

// Duration returns how long the attempt ran, or has been running.
func (a *Attempt) Duration() time.Duration {
	if a.EndTime.IsZero() {
		return time.Since(a.StartTime)
	}
	return a.EndTime.Sub(a.StartTime)
}

// TransitionTo moves the attempt to newState.
func (a *Attempt) TransitionTo(newState AttemptState, errorMsg string) error {
	validTransitions := map[AttemptState][]AttemptState{
		StatePending:   {StateActive, StateFailed},
		StateActive:    {StateCompleted, StateFailed},
		StateCompleted: {},
		StateFailed:    {},
	}

	isValid := false
	for _, allowed := range validTransitions[a.State] {
		if allowed == newState {
			isValid = true
			break
		}
	}
	if !isValid {
		return ErrInvalidStateTransition
	}

	a.State = newState
	if newState == StateCompleted || newState == StateFailed {
		a.EndTime = time.Now()
	}
	if errorMsg != "" {
		a.ErrorMessage = errorMsg
	}
	return nil
}

package saga

import (
	"context"
	"time"
)

// SagaState represents the current state of a saga execution
type SagaState string

const (
	SagaStateRunning     SagaState = "running"
	SagaStateCompleted   SagaState = "completed"
	SagaStateCompensated SagaState = "compensated"
)

// StepState represents the state of an individual step
type StepState string

const (
	StepStatePending     StepState = "pending"
	StepStateCompleted   StepState = "completed"
	StepStateFailed      StepState = "failed"
	StepStateCompensated StepState = "compensated"
	// StepStateCompensationFailed marks a step whose side effect could not be undone
	StepStateCompensationFailed StepState = "compensation_failed"
)

// StepID uniquely identifies a step within a saga
type StepID string

// SagaData holds the shared data for a saga execution
type SagaData map[string]interface{}

// String returns the string value stored under key, or ""
func (d SagaData) String(key string) string {
	s, _ := d[key].(string)
	return s
}

// Step represents a single step in a saga
type Step interface {
	ID() StepID
	Execute(ctx context.Context, data SagaData) error
	Compensate(ctx context.Context, data SagaData) error
}

// StepFunc builds a Step from functions. A nil compensate means nothing to undo.
type StepFunc struct {
	Name StepID
	Do   func(ctx context.Context, data SagaData) error
	Undo func(ctx context.Context, data SagaData) error
}

func (s StepFunc) ID() StepID { return s.Name }

func (s StepFunc) Execute(ctx context.Context, data SagaData) error {
	return s.Do(ctx, data)
}

func (s StepFunc) Compensate(ctx context.Context, data SagaData) error {
	if s.Undo == nil {
		return nil
	}
	return s.Undo(ctx, data)
}

// SagaInstance records one execution
type SagaInstance struct {
	Name        string          `json:"name"`
	State       SagaState       `json:"state"`
	Data        SagaData        `json:"data"`
	Steps       []StepExecution `json:"steps"`
	StartedAt   time.Time       `json:"started_at"`
	CompletedAt time.Time       `json:"completed_at"`
	Error       string          `json:"error,omitempty"`
}

// StepExecution represents the execution state of a step
type StepExecution struct {
	ID    StepID    `json:"id"`
	State StepState `json:"state"`
	Error string    `json:"error,omitempty"`
}

package saga

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// Runner executes sagas synchronously on the caller's goroutine. When a step
// fails, the steps that already completed are compensated in reverse order.
type Runner struct {
	logger *zap.Logger
}

// NewRunner creates a new saga runner
func NewRunner(logger *zap.Logger) *Runner {
	return &Runner{logger: logger}
}

// Run executes steps in order. On failure it returns the step's error after
// compensation; compensation failures are recorded on the instance and logged.
func (r *Runner) Run(ctx context.Context, name string, data SagaData, steps ...Step) (*SagaInstance, error) {
	if data == nil {
		data = SagaData{}
	}

	instance := &SagaInstance{
		Name:      name,
		State:     SagaStateRunning,
		Data:      data,
		Steps:     make([]StepExecution, len(steps)),
		StartedAt: time.Now(),
	}
	for i, step := range steps {
		instance.Steps[i] = StepExecution{ID: step.ID(), State: StepStatePending}
	}

	for i, step := range steps {
		if err := step.Execute(ctx, data); err != nil {
			instance.Steps[i].State = StepStateFailed
			instance.Steps[i].Error = err.Error()
			instance.Error = err.Error()

			r.logger.Error("Saga step failed",
				zap.String("saga", name),
				zap.String("stepID", string(step.ID())),
				zap.Error(err))

			r.compensate(ctx, instance, steps[:i])
			instance.State = SagaStateCompensated
			instance.CompletedAt = time.Now()
			return instance, fmt.Errorf("%s: %w", step.ID(), err)
		}
		instance.Steps[i].State = StepStateCompleted
		r.logger.Debug("Saga step completed", zap.String("saga", name), zap.String("stepID", string(step.ID())))
	}

	instance.State = SagaStateCompleted
	instance.CompletedAt = time.Now()
	return instance, nil
}

// compensate undoes completed steps in reverse order. It keeps going after a
// failed compensation so as much as possible is rolled back.
func (r *Runner) compensate(ctx context.Context, instance *SagaInstance, completed []Step) {
	// the caller's context may already be canceled, the rollback must still run
	ctx = context.WithoutCancel(ctx)

	for i := len(completed) - 1; i >= 0; i-- {
		step := completed[i]
		if err := step.Compensate(ctx, instance.Data); err != nil {
			instance.Steps[i].State = StepStateCompensationFailed
			instance.Steps[i].Error = err.Error()
			r.logger.Error("Saga compensation failed",
				zap.String("saga", instance.Name),
				zap.String("stepID", string(step.ID())),
				zap.Error(err))
			continue
		}
		instance.Steps[i].State = StepStateCompensated
		r.logger.Info("Saga step compensated", zap.String("saga", instance.Name), zap.String("stepID", string(step.ID())))
	}
}

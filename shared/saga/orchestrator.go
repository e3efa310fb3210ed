package saga

import (
	"context"
	"time"

	"github.com/cartena/order-system/shared/events"
	"github.com/cartena/order-system/shared/models"
	"github.com/pkg/errors"
)

// RetryConfig bounds the retry budget of a single saga step.
type RetryConfig struct {
	MaxAttempts   int
	InitialDelay  time.Duration
	MaxDelay      time.Duration
	BackoffFactor float64
}

// DefaultRetryConfig returns the default per-step retry budget.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:   3,
		InitialDelay:  100 * time.Millisecond,
		MaxDelay:      5 * time.Second,
		BackoffFactor: 2.0,
	}
}

// Orchestrator drives saga instances through their forward steps and runs
// compensations in reverse completed-step order when a step exhausts its
// retry budget. Steps within one instance run strictly in sequence;
// distinct instances are independent.
type Orchestrator struct {
	definition Definition
	store      Store
	publisher  events.Publisher
	retry      RetryConfig
	metrics    *Metrics
}

// NewOrchestrator creates an orchestrator for one saga definition.
func NewOrchestrator(
	definition Definition,
	store Store,
	publisher events.Publisher,
	retry RetryConfig,
	metrics *Metrics,
) *Orchestrator {
	return &Orchestrator{
		definition: definition,
		store:      store,
		publisher:  publisher,
		retry:      retry,
		metrics:    metrics,
	}
}

// Open persists a fresh instance and announces it, without running any
// steps. Callers that drive the instance from a later event use Open and
// leave the stepping to Resume.
func (o *Orchestrator) Open(ctx context.Context, instance *Instance) error {
	if err := o.store.Save(ctx, instance); err != nil {
		return errors.Wrap(err, "failed to save saga instance")
	}

	if o.metrics != nil {
		o.metrics.RecordStarted()
	}

	event := events.NewEvent(instance.ID, events.SagaStartedEvent, SagaStartedData{
		SagaID: instance.ID,
		Name:   instance.Name,
	}).WithCorrelationID(instance.ID)
	if err := o.publisher.Publish(ctx, event); err != nil {
		return errors.Wrap(err, "failed to publish saga started event")
	}

	return nil
}

// Start persists a fresh instance and runs it.
func (o *Orchestrator) Start(ctx context.Context, instance *Instance) error {
	if err := o.Open(ctx, instance); err != nil {
		return err
	}

	return o.run(ctx, instance)
}

// Resume reloads an instance and continues it. Safe to call any number of
// times: completed steps are skipped and terminal instances are left alone.
func (o *Orchestrator) Resume(ctx context.Context, sagaID models.ID) error {
	instance, err := o.store.FindByID(ctx, sagaID)
	if err != nil {
		return errors.Wrap(err, "failed to load saga instance")
	}

	return o.run(ctx, instance)
}

func (o *Orchestrator) run(ctx context.Context, instance *Instance) error {
	start := time.Now()
	defer func() {
		if o.metrics != nil {
			o.metrics.RecordDuration(time.Since(start))
		}
	}()

	switch instance.Status {
	case StatusCompleted, StatusCompensated:
		return nil
	case StatusCompensating:
		// A previous run died mid-compensation. Finish undoing.
		return o.compensate(ctx, instance)
	}

	for _, step := range o.definition.Steps() {
		if instance.HasCompleted(step.Name()) {
			continue
		}

		// The driven aggregate may already be terminal (duplicate start
		// after restart). The saga is then resolved, not re-run.
		resolved, err := o.definition.Resolved(ctx, instance)
		if err != nil {
			return errors.Wrap(err, "failed to check saga resolution")
		}
		if resolved {
			return o.complete(ctx, instance)
		}

		outcome, err := o.executeWithRetry(ctx, instance, step)
		if err != nil {
			if len(instance.CompletedSteps) == 0 {
				// Nothing to undo: surface the fault directly.
				return err
			}
			if compErr := o.compensate(ctx, instance); compErr != nil {
				return compErr
			}
			return err
		}

		instance.MarkCompleted(step.Name())
		if err := o.store.Save(ctx, instance); err != nil {
			return errors.Wrap(err, "failed to save saga progress")
		}

		if outcome == OutcomeResolved {
			break
		}
	}

	return o.complete(ctx, instance)
}

func (o *Orchestrator) executeWithRetry(ctx context.Context, instance *Instance, step Step) (Outcome, error) {
	var lastErr error
	delay := o.retry.InitialDelay

	for attempt := 1; attempt <= o.retry.MaxAttempts; attempt++ {
		outcome, err := step.Execute(ctx, instance)
		if err == nil {
			return outcome, nil
		}

		if errors.Is(err, ErrPermanent) {
			return OutcomeContinue, err
		}

		lastErr = err

		if attempt < o.retry.MaxAttempts {
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return OutcomeContinue, ctx.Err()
			}

			delay = time.Duration(float64(delay) * o.retry.BackoffFactor)
			if delay > o.retry.MaxDelay {
				delay = o.retry.MaxDelay
			}
		}
	}

	return OutcomeContinue, errors.Wrapf(lastErr, "step %s exhausted %d attempts", step.Name(), o.retry.MaxAttempts)
}

func (o *Orchestrator) complete(ctx context.Context, instance *Instance) error {
	if instance.Status == StatusCompleted {
		return nil
	}

	instance.Status = StatusCompleted
	instance.Timestamps = instance.Timestamps.Update()
	instance.Version = instance.Version.Update()
	if err := o.store.Save(ctx, instance); err != nil {
		return errors.Wrap(err, "failed to save completed saga")
	}

	if o.metrics != nil {
		o.metrics.RecordCompleted()
	}

	event := events.NewEvent(instance.ID, events.SagaCompletedEvent, SagaCompletedData{
		SagaID: instance.ID,
		Name:   instance.Name,
	}).WithCorrelationID(instance.ID)

	return o.publisher.Publish(ctx, event)
}

// compensate undoes the completed prefix in reverse order. The to-undo set
// comes from the persisted CompletedSteps, so running this twice (after a
// restart) produces the same end state as running it once.
func (o *Orchestrator) compensate(ctx context.Context, instance *Instance) error {
	if instance.Status == StatusCompensated {
		return nil
	}

	if instance.Status != StatusCompensating {
		instance.Status = StatusCompensating
		instance.Timestamps = instance.Timestamps.Update()
		instance.Version = instance.Version.Update()
		if err := o.store.Save(ctx, instance); err != nil {
			return errors.Wrap(err, "failed to save compensating saga")
		}
	}

	stepsByName := make(map[string]Step)
	for _, step := range o.definition.Steps() {
		stepsByName[step.Name()] = step
	}

	for i := len(instance.CompletedSteps) - 1; i >= 0; i-- {
		step, ok := stepsByName[instance.CompletedSteps[i]]
		if !ok {
			continue
		}
		if err := step.Compensate(ctx, instance); err != nil {
			return errors.Wrapf(err, "failed to compensate step %s", instance.CompletedSteps[i])
		}
	}

	instance.Status = StatusCompensated
	instance.Timestamps = instance.Timestamps.Update()
	instance.Version = instance.Version.Update()
	if err := o.store.Save(ctx, instance); err != nil {
		return errors.Wrap(err, "failed to save compensated saga")
	}

	if o.metrics != nil {
		o.metrics.RecordCompensated()
	}

	event := events.NewEvent(instance.ID, events.SagaCompensatedEvent, SagaCompensatedData{
		SagaID: instance.ID,
		Name:   instance.Name,
	}).WithCorrelationID(instance.ID)

	return o.publisher.Publish(ctx, event)
}

// Event Data Structures
type SagaStartedData struct {
	SagaID models.ID `json:"saga_id"`
	Name   string    `json:"name"`
}

type SagaCompletedData struct {
	SagaID models.ID `json:"saga_id"`
	Name   string    `json:"name"`
}

type SagaCompensatedData struct {
	SagaID models.ID `json:"saga_id"`
	Name   string    `json:"name"`
}

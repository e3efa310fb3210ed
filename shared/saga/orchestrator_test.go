package saga

import (
	"context"
	"testing"
	"time"

	"github.com/cartena/order-system/shared/events"
	"github.com/cartena/order-system/shared/models"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

type stubStep struct {
	name       string
	execute    func(ctx context.Context, instance *Instance) (Outcome, error)
	compensate func(ctx context.Context, instance *Instance) error
	executions int
	undoings   int
}

func (s *stubStep) Name() string { return s.name }

func (s *stubStep) Execute(ctx context.Context, instance *Instance) (Outcome, error) {
	s.executions++
	if s.execute == nil {
		return OutcomeContinue, nil
	}
	return s.execute(ctx, instance)
}

func (s *stubStep) Compensate(ctx context.Context, instance *Instance) error {
	s.undoings++
	if s.compensate == nil {
		return nil
	}
	return s.compensate(ctx, instance)
}

type stubDefinition struct {
	name     string
	steps    []Step
	resolved func(ctx context.Context, instance *Instance) (bool, error)
}

func (d *stubDefinition) Name() string  { return d.name }
func (d *stubDefinition) Steps() []Step { return d.steps }

func (d *stubDefinition) Resolved(ctx context.Context, instance *Instance) (bool, error) {
	if d.resolved == nil {
		return false, nil
	}
	return d.resolved(ctx, instance)
}

type recordingPublisher struct {
	published []*events.Event
}

func (p *recordingPublisher) Publish(ctx context.Context, evts ...*events.Event) error {
	p.published = append(p.published, evts...)
	return nil
}

func (p *recordingPublisher) eventTypes() []string {
	types := make([]string, 0, len(p.published))
	for _, evt := range p.published {
		types = append(types, evt.EventType)
	}
	return types
}

func testRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:   3,
		InitialDelay:  time.Millisecond,
		MaxDelay:      5 * time.Millisecond,
		BackoffFactor: 2.0,
	}
}

func TestOrchestrator_Start_RunsStepsInOrder(t *testing.T) {
	var order []string
	steps := []Step{
		&stubStep{name: "first", execute: func(ctx context.Context, instance *Instance) (Outcome, error) {
			order = append(order, "first")
			return OutcomeContinue, nil
		}},
		&stubStep{name: "second", execute: func(ctx context.Context, instance *Instance) (Outcome, error) {
			order = append(order, "second")
			return OutcomeContinue, nil
		}},
	}

	store := NewMemoryStore()
	publisher := &recordingPublisher{}
	orchestrator := NewOrchestrator(&stubDefinition{name: "test", steps: steps}, store, publisher, testRetryConfig(), nil)

	instance := NewInstance(models.GenerateUUID(), "test")
	err := orchestrator.Start(context.Background(), instance)

	assert.NoError(t, err)
	assert.Equal(t, []string{"first", "second"}, order)

	stored, err := store.FindByID(context.Background(), instance.ID)
	assert.NoError(t, err)
	assert.Equal(t, StatusCompleted, stored.Status)
	assert.Equal(t, []string{"first", "second"}, stored.CompletedSteps)

	assert.Equal(t, []string{events.SagaStartedEvent, events.SagaCompletedEvent}, publisher.eventTypes())
}

func TestOrchestrator_Open_AnnouncesWithoutRunningSteps(t *testing.T) {
	step := &stubStep{name: "first"}
	store := NewMemoryStore()
	publisher := &recordingPublisher{}
	metrics := NewMetricsWithRegisterer(prometheus.NewRegistry())
	orchestrator := NewOrchestrator(
		&stubDefinition{name: "test", steps: []Step{step}},
		store, publisher, testRetryConfig(), metrics,
	)

	instance := NewInstance(models.GenerateUUID(), "test")
	err := orchestrator.Open(context.Background(), instance)

	assert.NoError(t, err)
	assert.Equal(t, 0, step.executions)
	assert.Equal(t, []string{events.SagaStartedEvent}, publisher.eventTypes())
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.started))

	stored, err := store.FindByID(context.Background(), instance.ID)
	assert.NoError(t, err)
	assert.Equal(t, StatusRunning, stored.Status)

	// Resume runs the steps the announcement left pending, without
	// counting a second start.
	assert.NoError(t, orchestrator.Resume(context.Background(), instance.ID))
	assert.Equal(t, 1, step.executions)
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.started))
}

func TestOrchestrator_Resume_SkipsCompletedSteps(t *testing.T) {
	first := &stubStep{name: "first"}
	second := &stubStep{name: "second"}

	store := NewMemoryStore()
	orchestrator := NewOrchestrator(
		&stubDefinition{name: "test", steps: []Step{first, second}},
		store, &recordingPublisher{}, testRetryConfig(), nil,
	)

	instance := NewInstance(models.GenerateUUID(), "test")
	instance.MarkCompleted("first")
	assert.NoError(t, store.Save(context.Background(), instance))

	err := orchestrator.Resume(context.Background(), instance.ID)

	assert.NoError(t, err)
	assert.Equal(t, 0, first.executions)
	assert.Equal(t, 1, second.executions)
}

func TestOrchestrator_Resume_UnknownInstance(t *testing.T) {
	orchestrator := NewOrchestrator(
		&stubDefinition{name: "test"},
		NewMemoryStore(), &recordingPublisher{}, testRetryConfig(), nil,
	)

	err := orchestrator.Resume(context.Background(), models.GenerateUUID())

	assert.ErrorIs(t, err, ErrInstanceNotFound)
}

func TestOrchestrator_Resume_TerminalInstanceIsNoOp(t *testing.T) {
	step := &stubStep{name: "first"}
	store := NewMemoryStore()
	orchestrator := NewOrchestrator(
		&stubDefinition{name: "test", steps: []Step{step}},
		store, &recordingPublisher{}, testRetryConfig(), nil,
	)

	instance := NewInstance(models.GenerateUUID(), "test")
	instance.Status = StatusCompleted
	assert.NoError(t, store.Save(context.Background(), instance))

	err := orchestrator.Resume(context.Background(), instance.ID)

	assert.NoError(t, err)
	assert.Equal(t, 0, step.executions)
}

func TestOrchestrator_ResolvedInstanceCompletesWithoutRunningSteps(t *testing.T) {
	step := &stubStep{name: "first"}
	store := NewMemoryStore()
	definition := &stubDefinition{
		name:  "test",
		steps: []Step{step},
		resolved: func(ctx context.Context, instance *Instance) (bool, error) {
			return true, nil
		},
	}
	orchestrator := NewOrchestrator(definition, store, &recordingPublisher{}, testRetryConfig(), nil)

	instance := NewInstance(models.GenerateUUID(), "test")
	err := orchestrator.Start(context.Background(), instance)

	assert.NoError(t, err)
	assert.Equal(t, 0, step.executions)

	stored, err := store.FindByID(context.Background(), instance.ID)
	assert.NoError(t, err)
	assert.Equal(t, StatusCompleted, stored.Status)
}

func TestOrchestrator_OutcomeResolvedStopsRemainingSteps(t *testing.T) {
	first := &stubStep{name: "first", execute: func(ctx context.Context, instance *Instance) (Outcome, error) {
		return OutcomeResolved, nil
	}}
	second := &stubStep{name: "second"}

	store := NewMemoryStore()
	orchestrator := NewOrchestrator(
		&stubDefinition{name: "test", steps: []Step{first, second}},
		store, &recordingPublisher{}, testRetryConfig(), nil,
	)

	instance := NewInstance(models.GenerateUUID(), "test")
	err := orchestrator.Start(context.Background(), instance)

	assert.NoError(t, err)
	assert.Equal(t, 0, second.executions)

	stored, err := store.FindByID(context.Background(), instance.ID)
	assert.NoError(t, err)
	assert.Equal(t, StatusCompleted, stored.Status)
	assert.Equal(t, []string{"first"}, stored.CompletedSteps)
}

func TestOrchestrator_RetriesTransientFailures(t *testing.T) {
	attempts := 0
	step := &stubStep{name: "flaky", execute: func(ctx context.Context, instance *Instance) (Outcome, error) {
		attempts++
		if attempts < 3 {
			return OutcomeContinue, errors.New("transient")
		}
		return OutcomeContinue, nil
	}}

	store := NewMemoryStore()
	orchestrator := NewOrchestrator(
		&stubDefinition{name: "test", steps: []Step{step}},
		store, &recordingPublisher{}, testRetryConfig(), nil,
	)

	instance := NewInstance(models.GenerateUUID(), "test")
	err := orchestrator.Start(context.Background(), instance)

	assert.NoError(t, err)
	assert.Equal(t, 3, attempts)

	stored, err := store.FindByID(context.Background(), instance.ID)
	assert.NoError(t, err)
	assert.Equal(t, StatusCompleted, stored.Status)
}

func TestOrchestrator_ExhaustedRetriesCompensateInReverseOrder(t *testing.T) {
	var undone []string
	first := &stubStep{name: "first", compensate: func(ctx context.Context, instance *Instance) error {
		undone = append(undone, "first")
		return nil
	}}
	second := &stubStep{name: "second", compensate: func(ctx context.Context, instance *Instance) error {
		undone = append(undone, "second")
		return nil
	}}
	failing := &stubStep{name: "failing", execute: func(ctx context.Context, instance *Instance) (Outcome, error) {
		return OutcomeContinue, errors.New("transient")
	}}

	store := NewMemoryStore()
	publisher := &recordingPublisher{}
	orchestrator := NewOrchestrator(
		&stubDefinition{name: "test", steps: []Step{first, second, failing}},
		store, publisher, testRetryConfig(), nil,
	)

	instance := NewInstance(models.GenerateUUID(), "test")
	err := orchestrator.Start(context.Background(), instance)

	assert.Error(t, err)
	assert.Contains(t, err.Error(), "exhausted 3 attempts")
	assert.Equal(t, 3, failing.executions)
	assert.Equal(t, []string{"second", "first"}, undone)

	stored, err := store.FindByID(context.Background(), instance.ID)
	assert.NoError(t, err)
	assert.Equal(t, StatusCompensated, stored.Status)
	assert.Contains(t, publisher.eventTypes(), events.SagaCompensatedEvent)
}

func TestOrchestrator_PermanentFailureSkipsRetries(t *testing.T) {
	first := &stubStep{name: "first"}
	failing := &stubStep{name: "failing", execute: func(ctx context.Context, instance *Instance) (Outcome, error) {
		return OutcomeContinue, errors.Wrap(ErrPermanent, "unknown target")
	}}

	store := NewMemoryStore()
	orchestrator := NewOrchestrator(
		&stubDefinition{name: "test", steps: []Step{first, failing}},
		store, &recordingPublisher{}, testRetryConfig(), nil,
	)

	instance := NewInstance(models.GenerateUUID(), "test")
	err := orchestrator.Start(context.Background(), instance)

	assert.ErrorIs(t, err, ErrPermanent)
	assert.Equal(t, 1, failing.executions)
	assert.Equal(t, 1, first.undoings)

	stored, err := store.FindByID(context.Background(), instance.ID)
	assert.NoError(t, err)
	assert.Equal(t, StatusCompensated, stored.Status)
}

func TestOrchestrator_FirstStepFailureHasNothingToCompensate(t *testing.T) {
	failing := &stubStep{name: "failing", execute: func(ctx context.Context, instance *Instance) (Outcome, error) {
		return OutcomeContinue, errors.New("transient")
	}}

	store := NewMemoryStore()
	publisher := &recordingPublisher{}
	orchestrator := NewOrchestrator(
		&stubDefinition{name: "test", steps: []Step{failing}},
		store, publisher, testRetryConfig(), nil,
	)

	instance := NewInstance(models.GenerateUUID(), "test")
	err := orchestrator.Start(context.Background(), instance)

	assert.Error(t, err)
	assert.Equal(t, 0, failing.undoings)

	// No completed steps: the fault is surfaced without compensating.
	stored, storeErr := store.FindByID(context.Background(), instance.ID)
	assert.NoError(t, storeErr)
	assert.Equal(t, StatusRunning, stored.Status)
	assert.NotContains(t, publisher.eventTypes(), events.SagaCompensatedEvent)
}

func TestOrchestrator_ResumeFinishesInterruptedCompensation(t *testing.T) {
	first := &stubStep{name: "first"}
	second := &stubStep{name: "second"}

	store := NewMemoryStore()
	orchestrator := NewOrchestrator(
		&stubDefinition{name: "test", steps: []Step{first, second}},
		store, &recordingPublisher{}, testRetryConfig(), nil,
	)

	instance := NewInstance(models.GenerateUUID(), "test")
	instance.MarkCompleted("first")
	instance.MarkCompleted("second")
	instance.Status = StatusCompensating
	assert.NoError(t, store.Save(context.Background(), instance))

	err := orchestrator.Resume(context.Background(), instance.ID)

	assert.NoError(t, err)
	assert.Equal(t, 0, first.executions)
	assert.Equal(t, 1, first.undoings)
	assert.Equal(t, 1, second.undoings)

	stored, err := store.FindByID(context.Background(), instance.ID)
	assert.NoError(t, err)
	assert.Equal(t, StatusCompensated, stored.Status)
}

func TestOrchestrator_CompensationFailureKeepsCompensatingStatus(t *testing.T) {
	first := &stubStep{name: "first", compensate: func(ctx context.Context, instance *Instance) error {
		return errors.New("release failed")
	}}
	failing := &stubStep{name: "failing", execute: func(ctx context.Context, instance *Instance) (Outcome, error) {
		return OutcomeContinue, errors.Wrap(ErrPermanent, "unknown target")
	}}

	store := NewMemoryStore()
	orchestrator := NewOrchestrator(
		&stubDefinition{name: "test", steps: []Step{first, failing}},
		store, &recordingPublisher{}, testRetryConfig(), nil,
	)

	instance := NewInstance(models.GenerateUUID(), "test")
	err := orchestrator.Start(context.Background(), instance)

	assert.Error(t, err)
	assert.Contains(t, err.Error(), "failed to compensate step first")

	// The instance stays compensating so a later resume can finish undoing.
	stored, storeErr := store.FindByID(context.Background(), instance.ID)
	assert.NoError(t, storeErr)
	assert.Equal(t, StatusCompensating, stored.Status)
}

func TestInstance_MarkCompleted(t *testing.T) {
	instance := NewInstance(models.GenerateUUID(), "test")

	instance.MarkCompleted("first")
	instance.MarkCompleted("first")
	instance.MarkCompleted("second")

	assert.Equal(t, []string{"first", "second"}, instance.CompletedSteps)
	assert.True(t, instance.HasCompleted("first"))
	assert.False(t, instance.HasCompleted("third"))
}

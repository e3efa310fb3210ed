package saga

import (
	"context"

	"github.com/cartena/order-system/shared/models"
	"github.com/pkg/errors"
)

// Status represents the current status of a saga instance
type Status string

const (
	StatusRunning      Status = "running"
	StatusCompensating Status = "compensating"
	StatusCompleted    Status = "completed"
	StatusCompensated  Status = "compensated"
)

// ErrPermanent marks a step failure that must not be retried. The
// orchestrator goes straight to compensating the completed prefix.
var ErrPermanent = errors.New("permanent step failure")

// ErrInstanceNotFound is returned by stores for unknown saga IDs.
var ErrInstanceNotFound = errors.New("saga instance not found")

// Outcome tells the orchestrator how to proceed after a step executed.
type Outcome int

const (
	// OutcomeContinue proceeds to the next step.
	OutcomeContinue Outcome = iota
	// OutcomeResolved ends the saga successfully without running the
	// remaining steps (a business rejection resolves the saga, it does
	// not fail it).
	OutcomeResolved
)

// Step is one forward action of a saga together with its compensation.
// Both must be idempotent: delivery retries and orchestrator restarts can
// invoke either more than once.
type Step interface {
	Name() string
	Execute(ctx context.Context, instance *Instance) (Outcome, error)
	Compensate(ctx context.Context, instance *Instance) error
}

// Definition describes a saga: its ordered steps and how to recognize an
// already-resolved instance (the driven aggregate reached a terminal state
// under a previous run).
type Definition interface {
	Name() string
	Steps() []Step
	Resolved(ctx context.Context, instance *Instance) (bool, error)
}

// Instance is the persisted state of one saga execution. The completed-step
// list is the single source of truth for compensation: it is re-read from
// the store on resume, never trusted from memory.
type Instance struct {
	ID             models.ID `json:"id"` // equals the driven aggregate ID
	Name           string    `json:"name"`
	Status         Status    `json:"status"`
	CompletedSteps []string  `json:"completed_steps"`
	Timestamps     models.Timestamps
	Version        models.Version
}

// NewInstance creates a running instance for the given definition name.
func NewInstance(id models.ID, name string) *Instance {
	return &Instance{
		ID:         id,
		Name:       name,
		Status:     StatusRunning,
		Timestamps: models.NewTimestamps(),
		Version:    models.NewVersion(),
	}
}

// MarkCompleted records a completed step exactly once.
func (i *Instance) MarkCompleted(step string) {
	if i.HasCompleted(step) {
		return
	}
	i.CompletedSteps = append(i.CompletedSteps, step)
	i.Timestamps = i.Timestamps.Update()
	i.Version = i.Version.Update()
}

// HasCompleted reports whether the step already ran to completion.
func (i *Instance) HasCompleted(step string) bool {
	for _, s := range i.CompletedSteps {
		if s == step {
			return true
		}
	}
	return false
}

// IsTerminal reports whether the instance reached a final status.
func (i *Instance) IsTerminal() bool {
	return i.Status == StatusCompleted || i.Status == StatusCompensated
}

// Store persists saga instances
type Store interface {
	Save(ctx context.Context, instance *Instance) error
	FindByID(ctx context.Context, id models.ID) (*Instance, error)
}

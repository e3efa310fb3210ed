package infrastructure

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/cartena/order-system/shared/models"
	"github.com/cartena/order-system/shared/saga"
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
)

// PostgresSagaStore implements saga.Store using PostgreSQL. The completed
// step list is stored as JSONB so compensation always re-derives its to-undo
// set from durable state.
type PostgresSagaStore struct {
	db *sqlx.DB
}

// NewPostgresSagaStore creates a new PostgresSagaStore
func NewPostgresSagaStore(db *sqlx.DB) *PostgresSagaStore {
	return &PostgresSagaStore{db: db}
}

// postgresSagaInstance represents a saga instance in database
type postgresSagaInstance struct {
	ID             string          `db:"id"`
	Name           string          `db:"name"`
	Status         string          `db:"status"`
	CompletedSteps json.RawMessage `db:"completed_steps"`
	CreatedAt      time.Time       `db:"created_at"`
	UpdatedAt      time.Time       `db:"updated_at"`
	Version        int             `db:"version"`
}

// Save upserts a saga instance. Updates are guarded by the version column;
// a stale write means another orchestrator run advanced the instance first.
func (s *PostgresSagaStore) Save(ctx context.Context, instance *saga.Instance) error {
	completedSteps, err := json.Marshal(instance.CompletedSteps)
	if err != nil {
		return errors.Wrap(err, "failed to marshal completed steps")
	}

	query := `
		INSERT INTO saga_instances (
			id, name, status, completed_steps, created_at, updated_at, version
		) VALUES (
			:id, :name, :status, :completed_steps, :created_at, :updated_at, :version
		)
		ON CONFLICT (id) DO UPDATE
		SET status = EXCLUDED.status,
			completed_steps = EXCLUDED.completed_steps,
			updated_at = EXCLUDED.updated_at,
			version = EXCLUDED.version
		WHERE saga_instances.version < EXCLUDED.version`

	result, err := s.db.NamedExecContext(ctx, query, &postgresSagaInstance{
		ID:             instance.ID.String(),
		Name:           instance.Name,
		Status:         string(instance.Status),
		CompletedSteps: completedSteps,
		CreatedAt:      instance.Timestamps.CreatedAt,
		UpdatedAt:      instance.Timestamps.UpdatedAt,
		Version:        instance.Version.Value,
	})
	if err != nil {
		return errors.Wrap(err, "failed to save saga instance")
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "failed to check update result")
	}

	if rows == 0 {
		return errors.New("saga instance version conflict")
	}

	return nil
}

// FindByID loads a saga instance by ID
func (s *PostgresSagaStore) FindByID(ctx context.Context, id models.ID) (*saga.Instance, error) {
	query := `
		SELECT id, name, status, completed_steps, created_at, updated_at, version
		FROM saga_instances
		WHERE id = $1`

	var pgInstance postgresSagaInstance
	err := s.db.GetContext(ctx, &pgInstance, query, id.String())
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, saga.ErrInstanceNotFound
		}
		return nil, errors.Wrap(err, "failed to find saga instance")
	}

	return s.toDomain(&pgInstance)
}

// toDomain converts postgres model to saga instance
func (s *PostgresSagaStore) toDomain(pgInstance *postgresSagaInstance) (*saga.Instance, error) {
	id, err := models.NewID(pgInstance.ID)
	if err != nil {
		return nil, errors.Wrap(err, "invalid saga instance ID")
	}

	var completedSteps []string
	if len(pgInstance.CompletedSteps) > 0 {
		if err := json.Unmarshal(pgInstance.CompletedSteps, &completedSteps); err != nil {
			return nil, errors.Wrap(err, "failed to unmarshal completed steps")
		}
	}

	return &saga.Instance{
		ID:             id,
		Name:           pgInstance.Name,
		Status:         saga.Status(pgInstance.Status),
		CompletedSteps: completedSteps,
		Timestamps: models.Timestamps{
			CreatedAt: pgInstance.CreatedAt,
			UpdatedAt: pgInstance.UpdatedAt,
		},
		Version: models.Version{Value: pgInstance.Version},
	}, nil
}

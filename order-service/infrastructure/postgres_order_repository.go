package infrastructure

import (
	"context"
	"database/sql"
	"time"

	"github.com/cartena/order-system/order-service/domain"
	"github.com/cartena/order-system/shared/events"
	"github.com/cartena/order-system/shared/models"
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
)

// PostgresOrderRepository implements OrderRepository using PostgreSQL
type PostgresOrderRepository struct {
	db *sqlx.DB
}

// NewPostgresOrderRepository creates a new PostgresOrderRepository
func NewPostgresOrderRepository(db *sqlx.DB) *PostgresOrderRepository {
	return &PostgresOrderRepository{db: db}
}

// postgresOrder represents order in database
type postgresOrder struct {
	ID              string     `db:"id"`
	CustomerID      string     `db:"customer_id"`
	Amount          int64      `db:"amount"`
	Currency        string     `db:"currency"`
	State           string     `db:"state"`
	RejectionReason string     `db:"rejection_reason"`
	CreatedAt       time.Time  `db:"created_at"`
	UpdatedAt       time.Time  `db:"updated_at"`
	DeletedAt       *time.Time `db:"deleted_at"`
	Version         int        `db:"version"`
}

// Save saves an order to the database
func (r *PostgresOrderRepository) Save(ctx context.Context, order *domain.Order) error {
	for _, event := range order.Events() {
		switch event.EventType {
		case events.OrderCreatedEvent:
			return r.insertOrder(ctx, order)
		case events.OrderApprovedEvent, events.OrderRejectedEvent:
			return r.updateOrder(ctx, order)
		}
	}
	return nil
}

// insertOrder inserts a new order
func (r *PostgresOrderRepository) insertOrder(ctx context.Context, order *domain.Order) error {
	query := `
		INSERT INTO orders (
			id, customer_id, amount, currency, state, rejection_reason,
			created_at, updated_at, version
		) VALUES (
			:id, :customer_id, :amount, :currency, :state, :rejection_reason,
			:created_at, :updated_at, :version
		)`

	_, err := r.db.NamedExecContext(ctx, query, r.toPostgres(order))
	if err != nil {
		return errors.Wrap(err, "failed to insert order")
	}

	return nil
}

// updateOrder updates an existing order guarded by the version predicate
func (r *PostgresOrderRepository) updateOrder(ctx context.Context, order *domain.Order) error {
	query := `
		UPDATE orders
		SET state = :state, rejection_reason = :rejection_reason,
			updated_at = :updated_at, version = :version
		WHERE id = :id AND version = :old_version`

	result, err := r.db.NamedExecContext(ctx, query, map[string]interface{}{
		"id":               order.ID.String(),
		"state":            string(order.State),
		"rejection_reason": order.RejectionReason,
		"updated_at":       order.Timestamps.UpdatedAt,
		"version":          order.Version.Value,
		"old_version":      order.Version.Value - 1,
	})

	if err != nil {
		return errors.Wrap(err, "failed to update order")
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "failed to check update result")
	}

	if rows == 0 {
		return domain.ErrVersionConflict
	}

	return nil
}

// FindByID finds an order by ID
func (r *PostgresOrderRepository) FindByID(ctx context.Context, id models.ID) (*domain.Order, error) {
	query := `
		SELECT id, customer_id, amount, currency, state, rejection_reason,
			   created_at, updated_at, deleted_at, version
		FROM orders
		WHERE id = $1 AND deleted_at IS NULL`

	var pgOrder postgresOrder
	err := r.db.GetContext(ctx, &pgOrder, query, id.String())
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil // Order not found
		}
		return nil, errors.Wrap(err, "failed to find order")
	}

	return r.toDomain(&pgOrder)
}

// toPostgres converts domain order to postgres model
func (r *PostgresOrderRepository) toPostgres(order *domain.Order) *postgresOrder {
	return &postgresOrder{
		ID:              order.ID.String(),
		CustomerID:      order.CustomerID.String(),
		Amount:          order.Amount.Amount,
		Currency:        order.Amount.Currency,
		State:           string(order.State),
		RejectionReason: order.RejectionReason,
		CreatedAt:       order.Timestamps.CreatedAt,
		UpdatedAt:       order.Timestamps.UpdatedAt,
		DeletedAt:       order.Timestamps.DeletedAt,
		Version:         order.Version.Value,
	}
}

// toDomain converts postgres model to domain order
func (r *PostgresOrderRepository) toDomain(pgOrder *postgresOrder) (*domain.Order, error) {
	id, err := models.NewID(pgOrder.ID)
	if err != nil {
		return nil, errors.Wrap(err, "invalid order ID")
	}

	customerID, err := models.NewID(pgOrder.CustomerID)
	if err != nil {
		return nil, errors.Wrap(err, "invalid customer ID")
	}

	order := &domain.Order{
		ID:              id,
		CustomerID:      customerID,
		Amount:          models.NewMoney(pgOrder.Amount, pgOrder.Currency),
		State:           domain.OrderState(pgOrder.State),
		RejectionReason: pgOrder.RejectionReason,
		Timestamps: models.Timestamps{
			CreatedAt: pgOrder.CreatedAt,
			UpdatedAt: pgOrder.UpdatedAt,
			DeletedAt: pgOrder.DeletedAt,
		},
		Version: models.Version{Value: pgOrder.Version},
	}

	return order, nil
}

package infrastructure

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/cartena/order-system/customer-service/domain"
	"github.com/cartena/order-system/shared/events"
	"github.com/cartena/order-system/shared/models"
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
)

// PostgresCustomerRepository implements CustomerRepository using PostgreSQL
type PostgresCustomerRepository struct {
	db *sqlx.DB
}

// NewPostgresCustomerRepository creates a new PostgresCustomerRepository
func NewPostgresCustomerRepository(db *sqlx.DB) *PostgresCustomerRepository {
	return &PostgresCustomerRepository{db: db}
}

// postgresCustomer represents customer in database. Reservations are stored
// as a JSONB map of order ID to reserved amount so the whole ledger row is
// guarded by a single version column.
type postgresCustomer struct {
	ID           string          `db:"id"`
	Name         string          `db:"name"`
	CreditLimit  int64           `db:"credit_limit"`
	Currency     string          `db:"currency"`
	Reservations json.RawMessage `db:"reservations"`
	CreatedAt    time.Time       `db:"created_at"`
	UpdatedAt    time.Time       `db:"updated_at"`
	DeletedAt    *time.Time      `db:"deleted_at"`
	Version      int             `db:"version"`
}

// Save saves a customer to the database
func (r *PostgresCustomerRepository) Save(ctx context.Context, customer *domain.Customer) error {
	for _, event := range customer.Events() {
		switch event.EventType {
		case events.CustomerCreatedEvent:
			return r.insertCustomer(ctx, customer)
		case events.CreditReservedEvent, events.CreditReleasedEvent:
			return r.updateCustomer(ctx, customer)
		}
	}
	return nil
}

// insertCustomer inserts a new customer
func (r *PostgresCustomerRepository) insertCustomer(ctx context.Context, customer *domain.Customer) error {
	query := `
		INSERT INTO customers (
			id, name, credit_limit, currency, reservations,
			created_at, updated_at, version
		) VALUES (
			:id, :name, :credit_limit, :currency, :reservations,
			:created_at, :updated_at, :version
		)`

	pgCustomer, err := r.toPostgres(customer)
	if err != nil {
		return err
	}

	_, err = r.db.NamedExecContext(ctx, query, pgCustomer)
	if err != nil {
		return errors.Wrap(err, "failed to insert customer")
	}

	return nil
}

// updateCustomer updates an existing customer. The version predicate makes
// concurrent reservations against the same customer lose and retry instead
// of overwriting each other.
func (r *PostgresCustomerRepository) updateCustomer(ctx context.Context, customer *domain.Customer) error {
	query := `
		UPDATE customers
		SET reservations = :reservations, updated_at = :updated_at, version = :version
		WHERE id = :id AND version = :old_version`

	reservations, err := marshalReservations(customer.Reservations)
	if err != nil {
		return err
	}

	result, err := r.db.NamedExecContext(ctx, query, map[string]interface{}{
		"id":           customer.ID.String(),
		"reservations": reservations,
		"updated_at":   customer.Timestamps.UpdatedAt,
		"version":      customer.Version.Value,
		"old_version":  customer.Version.Value - 1,
	})

	if err != nil {
		return errors.Wrap(err, "failed to update customer")
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

// FindByID finds a customer by ID
func (r *PostgresCustomerRepository) FindByID(ctx context.Context, id models.ID) (*domain.Customer, error) {
	query := `
		SELECT id, name, credit_limit, currency, reservations,
			   created_at, updated_at, deleted_at, version
		FROM customers
		WHERE id = $1 AND deleted_at IS NULL`

	var pgCustomer postgresCustomer
	err := r.db.GetContext(ctx, &pgCustomer, query, id.String())
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil // Customer not found
		}
		return nil, errors.Wrap(err, "failed to find customer")
	}

	return r.toDomain(&pgCustomer)
}

// toPostgres converts domain customer to postgres model
func (r *PostgresCustomerRepository) toPostgres(customer *domain.Customer) (*postgresCustomer, error) {
	reservations, err := marshalReservations(customer.Reservations)
	if err != nil {
		return nil, err
	}

	return &postgresCustomer{
		ID:           customer.ID.String(),
		Name:         customer.Name,
		CreditLimit:  customer.CreditLimit.Amount,
		Currency:     customer.CreditLimit.Currency,
		Reservations: reservations,
		CreatedAt:    customer.Timestamps.CreatedAt,
		UpdatedAt:    customer.Timestamps.UpdatedAt,
		DeletedAt:    customer.Timestamps.DeletedAt,
		Version:      customer.Version.Value,
	}, nil
}

// toDomain converts postgres model to domain customer
func (r *PostgresCustomerRepository) toDomain(pgCustomer *postgresCustomer) (*domain.Customer, error) {
	id, err := models.NewID(pgCustomer.ID)
	if err != nil {
		return nil, errors.Wrap(err, "invalid customer ID")
	}

	reservations, err := unmarshalReservations(pgCustomer.Reservations, pgCustomer.Currency)
	if err != nil {
		return nil, err
	}

	customer := &domain.Customer{
		ID:           id,
		Name:         pgCustomer.Name,
		CreditLimit:  models.NewMoney(pgCustomer.CreditLimit, pgCustomer.Currency),
		Reservations: reservations,
		Timestamps: models.Timestamps{
			CreatedAt: pgCustomer.CreatedAt,
			UpdatedAt: pgCustomer.UpdatedAt,
			DeletedAt: pgCustomer.DeletedAt,
		},
		Version: models.Version{Value: pgCustomer.Version},
	}

	return customer, nil
}

func marshalReservations(reservations map[models.ID]models.Money) (json.RawMessage, error) {
	byOrder := make(map[string]int64, len(reservations))
	for orderID, amount := range reservations {
		byOrder[orderID.String()] = amount.Amount
	}

	data, err := json.Marshal(byOrder)
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal reservations")
	}

	return data, nil
}

func unmarshalReservations(data json.RawMessage, currency string) (map[models.ID]models.Money, error) {
	byOrder := make(map[string]int64)
	if len(data) > 0 {
		if err := json.Unmarshal(data, &byOrder); err != nil {
			return nil, errors.Wrap(err, "failed to unmarshal reservations")
		}
	}

	reservations := make(map[models.ID]models.Money, len(byOrder))
	for rawID, amount := range byOrder {
		orderID, err := models.NewID(rawID)
		if err != nil {
			return nil, errors.Wrap(err, "invalid reservation order ID")
		}
		reservations[orderID] = models.NewMoney(amount, currency)
	}

	return reservations, nil
}

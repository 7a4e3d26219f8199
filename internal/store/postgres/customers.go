package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrCustomerNotFound is returned when no profile matches the lookup key.
var ErrCustomerNotFound = errors.New("customer not found")

// Customer is a returning-caller profile. The orchestrator looks it up by
// caller phone to prefill the name placeholder and answer tech-history
// questions.
type Customer struct {
	ID            string
	CompanyID     string
	Phone         string
	Name          string
	Address       string
	LastTech      string
	Notes         string
	LastServiceAt time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// CustomerStore reads and writes customer profiles.
//
// Obtain one via [Store.Customers].
type CustomerStore struct {
	pool *pgxpool.Pool
}

const customerColumns = `id, company_id, phone, name, address, last_tech, notes,
	COALESCE(last_service_at, 'epoch'::timestamptz), created_at, updated_at`

// FindByPhone returns the profile for (companyID, phone) or
// [ErrCustomerNotFound].
func (s *CustomerStore) FindByPhone(ctx context.Context, companyID, phone string) (*Customer, error) {
	q := `SELECT ` + customerColumns + ` FROM customers WHERE company_id = $1 AND phone = $2`
	return scanCustomer(s.pool.QueryRow(ctx, q, companyID, phone))
}

// Upsert creates or refreshes a profile keyed by (companyID, phone). Empty
// fields on c never blank out stored values.
func (s *CustomerStore) Upsert(ctx context.Context, c *Customer) error {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	const q = `
		INSERT INTO customers (id, company_id, phone, name, address, last_tech, notes, last_service_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NULLIF($8, 'epoch'::timestamptz), now(), now())
		ON CONFLICT (company_id, phone) DO UPDATE SET
		    name            = CASE WHEN EXCLUDED.name    <> '' THEN EXCLUDED.name    ELSE customers.name    END,
		    address         = CASE WHEN EXCLUDED.address <> '' THEN EXCLUDED.address ELSE customers.address END,
		    last_tech       = CASE WHEN EXCLUDED.last_tech <> '' THEN EXCLUDED.last_tech ELSE customers.last_tech END,
		    notes           = CASE WHEN EXCLUDED.notes   <> '' THEN EXCLUDED.notes   ELSE customers.notes   END,
		    last_service_at = COALESCE(EXCLUDED.last_service_at, customers.last_service_at),
		    updated_at      = now()`

	var lastService time.Time
	if !c.LastServiceAt.IsZero() {
		lastService = c.LastServiceAt
	} else {
		lastService = time.Unix(0, 0).UTC()
	}
	_, err := s.pool.Exec(ctx, q,
		c.ID, c.CompanyID, c.Phone, c.Name, c.Address, c.LastTech, c.Notes, lastService)
	if err != nil {
		return fmt.Errorf("customer store: upsert: %w", err)
	}
	return nil
}

func scanCustomer(row pgx.Row) (*Customer, error) {
	var c Customer
	err := row.Scan(&c.ID, &c.CompanyID, &c.Phone, &c.Name, &c.Address,
		&c.LastTech, &c.Notes, &c.LastServiceAt, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrCustomerNotFound
		}
		return nil, fmt.Errorf("customer store: scan: %w", err)
	}
	if c.LastServiceAt.Equal(time.Unix(0, 0).UTC()) {
		c.LastServiceAt = time.Time{}
	}
	return &c, nil
}

package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgxvec "github.com/pgvector/pgvector-go/pgx"

	"github.com/relaydesk/relaydesk/internal/blackbox"
	"github.com/relaydesk/relaydesk/internal/booking"
	"github.com/relaydesk/relaydesk/internal/scenario"
	"github.com/relaydesk/relaydesk/internal/session"
	"github.com/relaydesk/relaydesk/internal/tenant"
	"github.com/relaydesk/relaydesk/pkg/provider/embeddings"
)

// Compile-time interface checks.
var (
	_ tenant.Source        = (*Store)(nil)
	_ session.Store        = (*SessionStore)(nil)
	_ booking.RequestStore = (*BookingStore)(nil)
	_ blackbox.Appender    = (*AuditStore)(nil)
	_ scenario.Retriever   = (*ScenarioStore)(nil)
)

// Store is the central PostgreSQL-backed persistence layer. It holds a
// single [pgxpool.Pool] and exposes one sub-store per concern:
//
//   - [Store.Sessions] implements [session.Store]
//   - [Store.Bookings] implements [booking.RequestStore]
//   - [Store.Audit] implements [blackbox.Appender]
//   - [Store.Scenarios] implements [scenario.Retriever]
//   - [Store.Customers] is the returning-caller profile store
//   - Store itself implements [tenant.Source]
//
// All operations are safe for concurrent use.
type Store struct {
	pool      *pgxpool.Pool
	sessions  *SessionStore
	customers *CustomerStore
	bookings  *BookingStore
	audit     *AuditStore
	scenarios *ScenarioStore
}

// NewStore connects to the database at dsn, registers pgvector types on
// every connection, and runs [Migrate].
//
// embedder produces the utterance vectors used for scenario retrieval; its
// Dimensions() fixes the vector column width at first migration.
func NewStore(ctx context.Context, dsn string, embedder embeddings.Provider) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres store: parse dsn: %w", err)
	}

	// Register pgvector types so vector columns scan into pgvector.Vector.
	cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return pgxvec.RegisterTypes(ctx, conn)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("postgres store: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres store: ping: %w", err)
	}
	if err := Migrate(ctx, pool, embedder.Dimensions()); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres store: migrate: %w", err)
	}

	return &Store{
		pool:      pool,
		sessions:  &SessionStore{pool: pool},
		customers: &CustomerStore{pool: pool},
		bookings:  &BookingStore{pool: pool},
		audit:     &AuditStore{pool: pool},
		scenarios: &ScenarioStore{pool: pool, embedder: embedder},
	}, nil
}

// LoadCompany implements [tenant.Source]: the authoritative config document
// read that sits under the redis cache.
func (s *Store) LoadCompany(ctx context.Context, companyID string) (*tenant.Company, error) {
	const q = `SELECT document FROM companies WHERE id = $1`

	var company tenant.Company
	if err := s.pool.QueryRow(ctx, q, companyID).Scan(&company); err != nil {
		if err == pgx.ErrNoRows {
			return nil, tenant.ErrCompanyNotFound
		}
		return nil, fmt.Errorf("postgres store: load company %q: %w", companyID, err)
	}
	if company.ID == "" {
		company.ID = companyID
	}
	return &company, nil
}

// SaveCompany upserts the tenant config document. The admin surface calls
// this and then publishes on [tenant.InvalidateChannel].
func (s *Store) SaveCompany(ctx context.Context, company *tenant.Company) error {
	const q = `
		INSERT INTO companies (id, document, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (id) DO UPDATE
		SET document = EXCLUDED.document, updated_at = now()`

	if _, err := s.pool.Exec(ctx, q, company.ID, company); err != nil {
		return fmt.Errorf("postgres store: save company %q: %w", company.ID, err)
	}
	return nil
}

func (s *Store) Sessions() *SessionStore   { return s.sessions }
func (s *Store) Customers() *CustomerStore { return s.customers }
func (s *Store) Bookings() *BookingStore   { return s.bookings }
func (s *Store) Audit() *AuditStore        { return s.audit }
func (s *Store) Scenarios() *ScenarioStore { return s.scenarios }

// Ping verifies database connectivity, for readiness probes.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close releases the underlying connection pool.
func (s *Store) Close() {
	s.pool.Close()
}

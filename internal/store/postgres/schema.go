// Package postgres is the PostgreSQL persistence layer: tenant config
// documents, session state, customer profiles, booking requests, the audit
// trail, and the pgvector-backed scenario index.
//
// All stores share a single [pgxpool.Pool]. The pgvector extension must be
// available in the target database; [Migrate] installs it via
// CREATE EXTENSION IF NOT EXISTS.
package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

const ddlCompanies = `
CREATE TABLE IF NOT EXISTS companies (
    id          TEXT         PRIMARY KEY,
    document    JSONB        NOT NULL,
    updated_at  TIMESTAMPTZ  NOT NULL DEFAULT now()
);
`

const ddlSessions = `
CREATE TABLE IF NOT EXISTS sessions (
    id          TEXT         PRIMARY KEY,
    company_id  TEXT         NOT NULL,
    channel     TEXT         NOT NULL,
    identifier  TEXT         NOT NULL,
    mode        TEXT         NOT NULL,
    document    JSONB        NOT NULL,
    version     BIGINT       NOT NULL DEFAULT 1,
    created_at  TIMESTAMPTZ  NOT NULL DEFAULT now(),
    updated_at  TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_sessions_identity
    ON sessions (company_id, channel, identifier);

CREATE INDEX IF NOT EXISTS idx_sessions_company_updated
    ON sessions (company_id, updated_at);
`

const ddlCustomers = `
CREATE TABLE IF NOT EXISTS customers (
    id               TEXT         PRIMARY KEY,
    company_id       TEXT         NOT NULL,
    phone            TEXT         NOT NULL,
    name             TEXT         NOT NULL DEFAULT '',
    address          TEXT         NOT NULL DEFAULT '',
    last_tech        TEXT         NOT NULL DEFAULT '',
    notes            TEXT         NOT NULL DEFAULT '',
    last_service_at  TIMESTAMPTZ,
    created_at       TIMESTAMPTZ  NOT NULL DEFAULT now(),
    updated_at       TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_customers_company_phone
    ON customers (company_id, phone);
`

// The partial unique index is the idempotency backstop for booking
// finalization: at most one non-cancelled request may exist per session,
// and a racing insert surfaces as a 23505 unique violation.
const ddlBookingRequests = `
CREATE TABLE IF NOT EXISTS booking_requests (
    id                    TEXT         PRIMARY KEY,
    case_id               TEXT         NOT NULL,
    session_id            TEXT         NOT NULL,
    company_id            TEXT         NOT NULL,
    customer_id           TEXT         NOT NULL DEFAULT '',
    status                TEXT         NOT NULL,
    outcome_mode          TEXT         NOT NULL DEFAULT '',
    channel               TEXT         NOT NULL DEFAULT '',
    call_sid              TEXT         NOT NULL DEFAULT '',
    caller_phone          TEXT         NOT NULL DEFAULT '',
    name                  TEXT         NOT NULL DEFAULT '',
    phone                 TEXT         NOT NULL DEFAULT '',
    address               TEXT         NOT NULL DEFAULT '',
    time_preference       TEXT         NOT NULL DEFAULT '',
    is_asap               BOOLEAN      NOT NULL DEFAULT false,
    issue                 TEXT         NOT NULL DEFAULT '',
    urgency               TEXT         NOT NULL DEFAULT '',
    access                JSONB        NOT NULL DEFAULT '{}',
    calendar_event_id     TEXT         NOT NULL DEFAULT '',
    calendar_event_start  TIMESTAMPTZ,
    calendar_event_end    TIMESTAMPTZ,
    sms_sent              BOOLEAN      NOT NULL DEFAULT false,
    final_script_used     TEXT         NOT NULL DEFAULT '',
    created_at            TIMESTAMPTZ  NOT NULL DEFAULT now(),
    completed_at          TIMESTAMPTZ,
    updated_at            TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_booking_requests_active_session
    ON booking_requests (session_id)
    WHERE status <> 'CANCELLED';

CREATE INDEX IF NOT EXISTS idx_booking_requests_company_created
    ON booking_requests (company_id, created_at);
`

const ddlAuditEvents = `
CREATE TABLE IF NOT EXISTS audit_events (
    id             BIGSERIAL    PRIMARY KEY,
    company_id     TEXT         NOT NULL,
    session_id     TEXT         NOT NULL,
    turn_number    INT          NOT NULL,
    turn_trace_id  TEXT         NOT NULL,
    record         JSONB        NOT NULL,
    created_at     TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_audit_events_session
    ON audit_events (session_id, turn_number);

CREATE INDEX IF NOT EXISTS idx_audit_events_trace
    ON audit_events (turn_trace_id);
`

// ddlScenarios returns the scenario-index DDL with the embedding dimension
// substituted. The vector dimension is baked into the column type at schema
// creation time.
func ddlScenarios(embeddingDimensions int) string {
	return fmt.Sprintf(`
CREATE EXTENSION IF NOT EXISTS vector;

CREATE TABLE IF NOT EXISTS scenarios (
    id             TEXT         PRIMARY KEY,
    company_id     TEXT         NOT NULL,
    name           TEXT         NOT NULL,
    type           TEXT         NOT NULL DEFAULT '',
    trigger_text   TEXT         NOT NULL,
    keywords       TEXT[]       NOT NULL DEFAULT '{}',
    quick_replies  JSONB        NOT NULL DEFAULT '[]',
    full_replies   JSONB        NOT NULL DEFAULT '[]',
    embedding      vector(%d),
    enabled        BOOLEAN      NOT NULL DEFAULT true,
    updated_at     TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_scenarios_company
    ON scenarios (company_id);

CREATE INDEX IF NOT EXISTS idx_scenarios_embedding
    ON scenarios USING hnsw (embedding vector_cosine_ops);
`, embeddingDimensions)
}

// Migrate creates or ensures all required tables, indexes, and extensions.
// It is idempotent and safe to call on every application start.
//
// embeddingDimensions must match the configured embeddings provider (e.g.
// 1536 for OpenAI text-embedding-3-small). Changing it after the first
// migration requires a manual schema update.
func Migrate(ctx context.Context, pool *pgxpool.Pool, embeddingDimensions int) error {
	statements := []string{
		ddlCompanies,
		ddlSessions,
		ddlCustomers,
		ddlBookingRequests,
		ddlAuditEvents,
		ddlScenarios(embeddingDimensions),
	}
	for _, stmt := range statements {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("postgres migrate: %w", err)
		}
	}
	return nil
}

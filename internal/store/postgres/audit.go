package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/relaydesk/relaydesk/internal/blackbox"
)

// AuditStore appends Black Box records. The full record lands in a JSONB
// column; session, turn, and trace ids are mirrored into columns so support
// can walk a call without unpacking documents.
//
// Obtain one via [Store.Audit].
type AuditStore struct {
	pool *pgxpool.Pool
}

// Append implements [blackbox.Appender].
func (s *AuditStore) Append(ctx context.Context, rec *blackbox.Record) error {
	const q = `
		INSERT INTO audit_events (company_id, session_id, turn_number, turn_trace_id, record)
		VALUES ($1, $2, $3, $4, $5)`

	_, err := s.pool.Exec(ctx, q,
		rec.CompanyID, rec.SessionID, rec.TurnNumber, rec.TurnTraceID, rec)
	if err != nil {
		return fmt.Errorf("audit store: append: %w", err)
	}
	return nil
}

// BySession returns a session's records in turn order, for the support
// console and the replay harness.
func (s *AuditStore) BySession(ctx context.Context, sessionID string) ([]*blackbox.Record, error) {
	const q = `
		SELECT record FROM audit_events
		WHERE session_id = $1
		ORDER BY turn_number, id`

	rows, err := s.pool.Query(ctx, q, sessionID)
	if err != nil {
		return nil, fmt.Errorf("audit store: by session: %w", err)
	}
	defer rows.Close()

	var records []*blackbox.Record
	for rows.Next() {
		var rec blackbox.Record
		if err := rows.Scan(&rec); err != nil {
			return nil, fmt.Errorf("audit store: scan: %w", err)
		}
		records = append(records, &rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("audit store: rows: %w", err)
	}
	return records, nil
}

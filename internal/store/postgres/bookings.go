package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/relaydesk/relaydesk/internal/booking"
	"github.com/relaydesk/relaydesk/internal/session"
	"github.com/relaydesk/relaydesk/internal/tenant"
)

// uniqueViolation is the Postgres error code raised when an insert hits
// the partial unique index on active booking requests.
const uniqueViolation = "23505"

// BookingStore persists finalized booking requests. Idempotency is enforced
// by the database, not the application: the partial unique index on
// (session_id) WHERE status <> 'CANCELLED' turns a racing second insert
// into [booking.ErrDuplicate].
//
// Obtain one via [Store.Bookings].
type BookingStore struct {
	pool *pgxpool.Pool
}

const bookingColumns = `id, case_id, session_id, company_id, customer_id, status,
	outcome_mode, channel, call_sid, caller_phone,
	name, phone, address, time_preference, is_asap,
	issue, urgency, access,
	calendar_event_id, calendar_event_start, calendar_event_end, sms_sent,
	final_script_used, created_at, completed_at, updated_at`

// FindActiveBySession implements [booking.RequestStore].
func (s *BookingStore) FindActiveBySession(ctx context.Context, sessionID string) (*booking.Request, error) {
	q := `SELECT ` + bookingColumns + `
		FROM booking_requests
		WHERE session_id = $1 AND status <> $2`
	return scanBooking(s.pool.QueryRow(ctx, q, sessionID, string(booking.StatusCancelled)))
}

// Insert implements [booking.RequestStore].
func (s *BookingStore) Insert(ctx context.Context, r *booking.Request) error {
	const q = `
		INSERT INTO booking_requests
		    (id, case_id, session_id, company_id, customer_id, status,
		     outcome_mode, channel, call_sid, caller_phone,
		     name, phone, address, time_preference, is_asap,
		     issue, urgency, access,
		     calendar_event_id, calendar_event_start, calendar_event_end, sms_sent,
		     final_script_used, created_at, completed_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13,
		        $14, $15, $16, $17, $18, $19, $20, $21, $22, $23, $24, $25, $26)`

	_, err := s.pool.Exec(ctx, q,
		r.ID, r.CaseID, r.SessionID, r.CompanyID, r.CustomerID, string(r.Status),
		string(r.OutcomeMode), r.Channel, r.CallSID, r.CallerPhone,
		r.Name, r.Phone, r.Address, r.TimePreference, r.IsAsap,
		r.Issue, string(r.Urgency), r.Access,
		r.CalendarEventID, nullableTime(r.CalendarEventStart), nullableTime(r.CalendarEventEnd), r.SMSSent,
		r.FinalScriptUsed, r.CreatedAt, nullableTime(r.CompletedAt), r.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return booking.ErrDuplicate
		}
		return fmt.Errorf("booking store: insert: %w", err)
	}
	return nil
}

// Update implements [booking.RequestStore]. Only mutable fields are
// rewritten; identity and slot values are immutable after insert.
func (s *BookingStore) Update(ctx context.Context, r *booking.Request) error {
	const q = `
		UPDATE booking_requests
		SET    status = $2, calendar_event_id = $3, calendar_event_start = $4,
		       calendar_event_end = $5, sms_sent = $6, updated_at = now()
		WHERE  id = $1`

	tag, err := s.pool.Exec(ctx, q, r.ID, string(r.Status), r.CalendarEventID,
		nullableTime(r.CalendarEventStart), nullableTime(r.CalendarEventEnd), r.SMSSent)
	if err != nil {
		return fmt.Errorf("booking store: update: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return booking.ErrNotFound
	}
	return nil
}

func scanBooking(row pgx.Row) (*booking.Request, error) {
	var (
		r           booking.Request
		status      string
		outcome     string
		urgency     string
		start       *time.Time
		end         *time.Time
		completedAt *time.Time
	)
	err := row.Scan(&r.ID, &r.CaseID, &r.SessionID, &r.CompanyID, &r.CustomerID, &status,
		&outcome, &r.Channel, &r.CallSID, &r.CallerPhone,
		&r.Name, &r.Phone, &r.Address, &r.TimePreference, &r.IsAsap,
		&r.Issue, &urgency, &r.Access,
		&r.CalendarEventID, &start, &end, &r.SMSSent,
		&r.FinalScriptUsed, &r.CreatedAt, &completedAt, &r.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, booking.ErrNotFound
		}
		return nil, fmt.Errorf("booking store: scan: %w", err)
	}
	r.Status = booking.Status(status)
	r.OutcomeMode = tenant.OutcomeMode(outcome)
	r.Urgency = session.Urgency(urgency)
	if start != nil {
		r.CalendarEventStart = *start
	}
	if end != nil {
		r.CalendarEventEnd = *end
	}
	if completedAt != nil {
		r.CompletedAt = *completedAt
	}
	return &r, nil
}

// nullableTime maps the zero time onto SQL NULL.
func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

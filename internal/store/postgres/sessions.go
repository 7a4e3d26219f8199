package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/relaydesk/relaydesk/internal/session"
)

// SessionStore persists session documents with optimistic concurrency.
// The document column carries the full session JSON; company, channel,
// identifier, mode, and version are mirrored into columns for lookups.
//
// Obtain one via [Store.Sessions]. All methods are safe for concurrent use.
type SessionStore struct {
	pool *pgxpool.Pool
}

// GetOrCreate implements [session.Store]. The (companyID, channel,
// identifier) unique index makes creation race-safe: a concurrent insert
// for the same identity loses the conflict and loads the winner.
func (s *SessionStore) GetOrCreate(ctx context.Context, params session.GetOrCreateParams) (*session.Session, error) {
	if params.SessionID != "" && !params.ForceNew {
		sess, err := s.GetByID(ctx, params.SessionID)
		if err == nil {
			return sess, nil
		}
		if !errors.Is(err, session.ErrNotFound) {
			return nil, err
		}
		// Unknown explicit id: fall through and create under the identity key.
	}

	identifier := params.Identifier
	if params.ForceNew || identifier == "" {
		identifier = uuid.NewString()
	}

	if !params.ForceNew {
		sess, err := s.getByIdentity(ctx, params.CompanyID, string(params.Channel), identifier)
		if err == nil {
			return sess, nil
		}
		if !errors.Is(err, session.ErrNotFound) {
			return nil, err
		}
	}

	now := time.Now().UTC()
	sess := &session.Session{
		ID:          uuid.NewString(),
		CompanyID:   params.CompanyID,
		Channel:     params.Channel,
		Identifier:  identifier,
		Mode:        session.ModeDiscovery,
		Phase:       session.PhaseFor(session.ModeDiscovery),
		CallerPhone: params.CallerPhone,
		CallSID:     params.CallSID,
		CustomerID:  params.CustomerID,
		Version:     1,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	const q = `
		INSERT INTO sessions (id, company_id, channel, identifier, mode, document, version, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (company_id, channel, identifier) DO NOTHING`

	tag, err := s.pool.Exec(ctx, q,
		sess.ID, sess.CompanyID, string(sess.Channel), sess.Identifier,
		string(sess.Mode), sess, sess.Version, sess.CreatedAt, sess.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("session store: create: %w", err)
	}
	if tag.RowsAffected() == 0 {
		// Lost the creation race; the winner's row is authoritative.
		return s.getByIdentity(ctx, params.CompanyID, string(params.Channel), identifier)
	}
	return sess, nil
}

// GetByID implements [session.Store].
func (s *SessionStore) GetByID(ctx context.Context, id string) (*session.Session, error) {
	const q = `SELECT document, version FROM sessions WHERE id = $1`
	return s.scanOne(s.pool.QueryRow(ctx, q, id))
}

func (s *SessionStore) getByIdentity(ctx context.Context, companyID, channel, identifier string) (*session.Session, error) {
	const q = `
		SELECT document, version FROM sessions
		WHERE company_id = $1 AND channel = $2 AND identifier = $3`
	return s.scanOne(s.pool.QueryRow(ctx, q, companyID, channel, identifier))
}

func (s *SessionStore) scanOne(row pgx.Row) (*session.Session, error) {
	var (
		sess    session.Session
		version int64
	)
	if err := row.Scan(&sess, &version); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, session.ErrNotFound
		}
		return nil, fmt.Errorf("session store: load: %w", err)
	}
	// The column is authoritative; the document copy can lag a concurrent
	// writer by one increment.
	sess.Version = version
	return &sess, nil
}

// Save implements [session.Store]. The WHERE version guard is the conflict
// detector: zero rows affected with an existing row means a concurrent turn
// won the write and the caller must reload and retry.
func (s *SessionStore) Save(ctx context.Context, sess *session.Session) error {
	loaded := sess.Version
	sess.Version = loaded + 1
	sess.UpdatedAt = time.Now().UTC()

	const q = `
		UPDATE sessions
		SET    mode = $2, document = $3, version = $4, updated_at = $5
		WHERE  id = $1 AND version = $6`

	tag, err := s.pool.Exec(ctx, q,
		sess.ID, string(sess.Mode), sess, sess.Version, sess.UpdatedAt, loaded)
	if err != nil {
		sess.Version = loaded
		return fmt.Errorf("session store: save: %w", err)
	}
	if tag.RowsAffected() == 0 {
		sess.Version = loaded
		var exists bool
		if err := s.pool.QueryRow(ctx,
			`SELECT EXISTS (SELECT 1 FROM sessions WHERE id = $1)`, sess.ID).Scan(&exists); err != nil {
			return fmt.Errorf("session store: save conflict check: %w", err)
		}
		if !exists {
			return session.ErrNotFound
		}
		return session.ErrVersionConflict
	}
	return nil
}

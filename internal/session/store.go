package session

import (
	"context"
	"errors"

	"github.com/relaydesk/relaydesk/internal/tenant"
)

// ErrNotFound is returned when no session matches the lookup key.
var ErrNotFound = errors.New("session not found")

// ErrVersionConflict is returned by Save when the persisted version no
// longer matches the loaded one. The orchestrator retries the whole turn;
// the turn pipeline performs no external side effects before save, and
// booking finalization is idempotent, so the retry is safe.
var ErrVersionConflict = errors.New("session version conflict")

// GetOrCreateParams identifies or seeds a session.
type GetOrCreateParams struct {
	CompanyID  string
	Channel    tenant.Channel
	Identifier string
	SessionID  string // explicit id from the adapter, may be empty

	CallerPhone string
	CallSID     string
	CustomerID  string

	// ForceNew skips identifier reuse; test-console only.
	ForceNew bool
}

// Store persists sessions. The composite key (companyID, channel,
// identifier) must be unique per live session so the same call SID always
// resolves to the same session across adapter retries.
//
// Implementations must be safe for concurrent use.
type Store interface {
	// GetOrCreate loads the session matching params, creating it when no
	// match exists. Created sessions start in DISCOVERY mode.
	GetOrCreate(ctx context.Context, params GetOrCreateParams) (*Session, error)

	// GetByID loads a session by its opaque id.
	GetByID(ctx context.Context, id string) (*Session, error)

	// Save persists the full session document, incrementing its version.
	// Returns ErrVersionConflict when a concurrent turn won the write.
	Save(ctx context.Context, s *Session) error
}

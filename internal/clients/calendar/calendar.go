// Package calendar defines the scheduling backend used by the booking
// finalizer. The production implementation talks to the tenant's calendar
// provider; tests use the mock subpackage.
package calendar

import (
	"context"
	"time"
)

// Event is a service appointment to place on the tenant's calendar.
type Event struct {
	CompanyID      string
	CaseID         string
	Summary        string
	Description    string
	CustomerName   string
	CustomerPhone  string
	Address        string
	TimePreference string
	IsAsap         bool
	Start          time.Time
	End            time.Time
}

// Client creates calendar events. Implementations must be safe for
// concurrent use.
type Client interface {
	// CreateEvent places the event and returns the provider's event ID.
	CreateEvent(ctx context.Context, ev Event) (string, error)
}

// Package mock provides a recording Appender for tests.
package mock

import (
	"context"
	"sync"

	"github.com/relaydesk/relaydesk/internal/blackbox"
)

// Appender records every appended audit record.
type Appender struct {
	mu      sync.Mutex
	Records []*blackbox.Record
	Err     error
}

var _ blackbox.Appender = (*Appender)(nil)

func (a *Appender) Append(ctx context.Context, rec *blackbox.Record) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.Err != nil {
		return a.Err
	}
	a.Records = append(a.Records, rec)
	return nil
}

// Appended returns a snapshot of the records seen so far.
func (a *Appender) Appended() []*blackbox.Record {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]*blackbox.Record, len(a.Records))
	copy(out, a.Records)
	return out
}

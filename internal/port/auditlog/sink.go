// Package auditlog defines the port interface for the append-only audit trail.
package auditlog

import (
	"context"
	"time"

	"github.com/toolgate/toolgate/internal/domain/audit"
)

// Filter narrows Query results.
type Filter struct {
	Kind      audit.Kind
	RequestID string
	After     *time.Time
	Limit     int
}

// Sink receives audit entries. Record is fire-and-forget: implementations
// must never block the caller or surface a write failure as an error to the
// authorization path; failures go to the operational log instead.
type Sink interface {
	Record(ctx context.Context, e audit.Entry)
}

// Log is a Sink whose entries can be queried back, ordered by time.
type Log interface {
	Sink

	Query(ctx context.Context, f Filter) ([]audit.Entry, error)
}

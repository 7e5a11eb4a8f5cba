package memory

import (
	"context"
	"sync"
	"time"

	"github.com/toolgate/toolgate/internal/domain/audit"
	"github.com/toolgate/toolgate/internal/port/auditlog"
)

// AuditLog is an append-only in-memory audit trail. Entries are never
// mutated or deleted; the capacity bound drops the oldest entries first so
// a long-lived dev process does not grow without limit.
type AuditLog struct {
	mu       sync.Mutex
	entries  []audit.Entry
	capacity int
}

// NewAuditLog creates an audit log bounded to capacity entries.
// capacity <= 0 means unbounded.
func NewAuditLog(capacity int) *AuditLog {
	return &AuditLog{capacity: capacity}
}

// Record appends an entry. Never fails, never blocks.
func (l *AuditLog) Record(_ context.Context, e audit.Entry) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.capacity > 0 && len(l.entries) >= l.capacity {
		l.entries = l.entries[1:]
	}
	l.entries = append(l.entries, e)
}

// Query returns entries matching the filter in append order.
func (l *AuditLog) Query(_ context.Context, f auditlog.Filter) ([]audit.Entry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	var out []audit.Entry
	for _, e := range l.entries {
		if f.Kind != "" && e.Kind != f.Kind {
			continue
		}
		if f.RequestID != "" && e.RequestID != f.RequestID {
			continue
		}
		if f.After != nil && !e.Time.After(*f.After) {
			continue
		}
		out = append(out, e)
	}

	if f.Limit > 0 && len(out) > f.Limit {
		out = out[len(out)-f.Limit:]
	}
	return out, nil
}

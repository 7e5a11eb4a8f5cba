package postgres

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/toolgate/toolgate/internal/domain/audit"
	"github.com/toolgate/toolgate/internal/port/auditlog"
)

// AuditLog implements auditlog.Log using PostgreSQL. Writes go through a
// buffered channel drained by a background worker, so Record never blocks
// the authorization path. When the buffer is full the entry is dropped and
// counted.
type AuditLog struct {
	pool    *pgxpool.Pool
	entries chan audit.Entry
	dropped atomic.Uint64
	done    chan struct{}
	once    sync.Once
}

// NewAuditLog creates an audit log with the given write buffer size and
// starts the drain worker.
func NewAuditLog(pool *pgxpool.Pool, bufSize int) *AuditLog {
	if bufSize <= 0 {
		bufSize = 256
	}
	l := &AuditLog{
		pool:    pool,
		entries: make(chan audit.Entry, bufSize),
		done:    make(chan struct{}),
	}
	go l.drain()
	return l
}

// Record enqueues an entry for insertion. Never blocks; a full buffer
// drops the entry and increments the drop counter.
func (l *AuditLog) Record(_ context.Context, e audit.Entry) {
	select {
	case l.entries <- e:
	default:
		l.dropped.Add(1)
	}
}

// Dropped returns the number of entries lost to a full buffer.
func (l *AuditLog) Dropped() uint64 {
	return l.dropped.Load()
}

// Close stops accepting entries and flushes the remaining buffer.
func (l *AuditLog) Close() {
	l.once.Do(func() {
		close(l.entries)
		<-l.done
	})
}

func (l *AuditLog) drain() {
	defer close(l.done)
	for e := range l.entries {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		l.insert(ctx, e)
		cancel()
	}
}

func (l *AuditLog) insert(ctx context.Context, e audit.Entry) {
	_, err := l.pool.Exec(ctx,
		`INSERT INTO audit_entries (at, kind, command, actor, request_id, matched_rule, level, detail)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		e.Time, string(e.Kind), e.Command, e.Actor, e.RequestID, e.MatchedRule, e.Level, e.Detail)
	if err != nil {
		slog.Error("audit insert failed", "kind", e.Kind, "request_id", e.RequestID, "error", err)
	}
}

// Query returns audit entries matching the filter, oldest first.
func (l *AuditLog) Query(ctx context.Context, f auditlog.Filter) ([]audit.Entry, error) {
	args := []any{}
	conditions := []string{}
	argIdx := 1

	if f.Kind != "" {
		conditions = append(conditions, fmt.Sprintf("kind = $%d", argIdx))
		args = append(args, string(f.Kind))
		argIdx++
	}
	if f.RequestID != "" {
		conditions = append(conditions, fmt.Sprintf("request_id = $%d", argIdx))
		args = append(args, f.RequestID)
		argIdx++
	}
	if f.After != nil {
		conditions = append(conditions, fmt.Sprintf("at > $%d", argIdx))
		args = append(args, *f.After)
		argIdx++
	}

	where := ""
	if len(conditions) > 0 {
		where = " WHERE " + strings.Join(conditions, " AND ")
	}

	query := `SELECT at, kind, command, actor, request_id, matched_rule, level, detail FROM audit_entries` + where + ` ORDER BY at ASC, id ASC`
	if f.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, f.Limit)
	}

	rows, err := l.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query audit: %w", err)
	}
	defer rows.Close()

	var out []audit.Entry
	for rows.Next() {
		var e audit.Entry
		var kind, level string
		if err := rows.Scan(&e.Time, &kind, &e.Command, &e.Actor, &e.RequestID, &e.MatchedRule, &level, &e.Detail); err != nil {
			return nil, fmt.Errorf("scan audit entry: %w", err)
		}
		e.Kind = audit.Kind(kind)
		e.Level = level
		out = append(out, e)
	}
	return out, rows.Err()
}

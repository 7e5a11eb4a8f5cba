package memory

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/toolgate/toolgate/internal/domain/audit"
	"github.com/toolgate/toolgate/internal/port/auditlog"
)

func TestAuditRecordAndQuery(t *testing.T) {
	t.Parallel()

	l := NewAuditLog(0)
	ctx := context.Background()

	l.Record(ctx, audit.Entry{Kind: audit.KindPermissionCheck, Command: "ls"})
	l.Record(ctx, audit.Entry{Kind: audit.KindApprovalCreated, RequestID: "r1", Command: "rm x"})
	l.Record(ctx, audit.Entry{Kind: audit.KindApprovalDecision, RequestID: "r1", Actor: "alice"})
	l.Record(ctx, audit.Entry{Kind: audit.KindApprovalResolved, RequestID: "r1"})

	all, err := l.Query(ctx, auditlog.Filter{})
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 4 {
		t.Fatalf("all entries = %d, want 4", len(all))
	}

	byRequest, err := l.Query(ctx, auditlog.Filter{RequestID: "r1"})
	if err != nil {
		t.Fatal(err)
	}
	if len(byRequest) != 3 {
		t.Fatalf("request entries = %d, want 3", len(byRequest))
	}

	byKind, err := l.Query(ctx, auditlog.Filter{Kind: audit.KindPermissionCheck})
	if err != nil {
		t.Fatal(err)
	}
	if len(byKind) != 1 || byKind[0].Command != "ls" {
		t.Fatalf("unexpected kind query %+v", byKind)
	}
}

func TestAuditQueryAfter(t *testing.T) {
	t.Parallel()

	l := NewAuditLog(0)
	ctx := context.Background()
	base := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)

	for i := 0; i < 3; i++ {
		l.Record(ctx, audit.Entry{Time: base.Add(time.Duration(i) * time.Minute), Kind: audit.KindPermissionCheck})
	}

	cutoff := base.Add(time.Minute)
	got, err := l.Query(ctx, auditlog.Filter{After: &cutoff})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 {
		t.Fatalf("after filter = %d entries, want 1", len(got))
	}
}

func TestAuditCapacityBound(t *testing.T) {
	t.Parallel()

	l := NewAuditLog(5)
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		l.Record(ctx, audit.Entry{Kind: audit.KindPermissionCheck, Command: fmt.Sprintf("cmd-%d", i)})
	}

	all, err := l.Query(ctx, auditlog.Filter{})
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 5 {
		t.Fatalf("entries = %d, want 5", len(all))
	}
	// Oldest entries are dropped first.
	if all[0].Command != "cmd-5" {
		t.Errorf("oldest surviving entry = %q, want cmd-5", all[0].Command)
	}
}

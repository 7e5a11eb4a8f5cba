package memory

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/toolgate/toolgate/internal/domain/approval"
	"github.com/toolgate/toolgate/internal/port/approvalstore"
)

func newRequest(id, command string, policy approval.ApproverPolicy) *approval.Request {
	return &approval.Request{
		ID:          id,
		Command:     command,
		CreatedAt:   time.Now(),
		TimeoutSecs: 300,
		Policy:      policy,
		Status:      approval.StatusPending,
	}
}

func TestCreateDuplicateID(t *testing.T) {
	t.Parallel()

	s := NewStore()
	ctx := context.Background()

	if err := s.Create(ctx, newRequest("r1", "ls", approval.ApproverPolicy{})); err != nil {
		t.Fatalf("create: %v", err)
	}
	err := s.Create(ctx, newRequest("r1", "ls", approval.ApproverPolicy{}))
	if err != approvalstore.ErrDuplicateID {
		t.Fatalf("expected ErrDuplicateID, got %v", err)
	}
}

func TestRecordDecisionResolves(t *testing.T) {
	t.Parallel()

	s := NewStore()
	ctx := context.Background()

	if err := s.Create(ctx, newRequest("r1", "rm -rf build", approval.ApproverPolicy{Kind: approval.PolicyAny})); err != nil {
		t.Fatal(err)
	}

	res, err := s.RecordDecision(ctx, "r1", approval.Decision{ApproverID: "alice", Approved: true})
	if err != nil {
		t.Fatalf("record: %v", err)
	}
	if !res.Transitioned || res.Status != approval.StatusApproved {
		t.Fatalf("unexpected result %+v", res)
	}

	req, err := s.Get(ctx, "r1")
	if err != nil {
		t.Fatal(err)
	}
	if req.Status != approval.StatusApproved {
		t.Errorf("status = %q", req.Status)
	}
	if req.ResolvedAt == nil {
		t.Error("resolved_at not set")
	}
}

func TestRecordDecisionAccumulates(t *testing.T) {
	t.Parallel()

	s := NewStore()
	ctx := context.Background()
	pol := approval.ApproverPolicy{Kind: approval.PolicyAll, Approvers: []string{"alice", "bob"}}

	if err := s.Create(ctx, newRequest("r1", "deploy", pol)); err != nil {
		t.Fatal(err)
	}

	res, err := s.RecordDecision(ctx, "r1", approval.Decision{ApproverID: "alice", Approved: true})
	if err != nil {
		t.Fatal(err)
	}
	if res.Transitioned || res.Status != approval.StatusPending {
		t.Fatalf("first of two approvals should stay pending, got %+v", res)
	}

	res, err = s.RecordDecision(ctx, "r1", approval.Decision{ApproverID: "bob", Approved: true})
	if err != nil {
		t.Fatal(err)
	}
	if !res.Transitioned || res.Status != approval.StatusApproved {
		t.Fatalf("second approval should resolve, got %+v", res)
	}
}

func TestLateDecisionIgnored(t *testing.T) {
	t.Parallel()

	s := NewStore()
	ctx := context.Background()

	if err := s.Create(ctx, newRequest("r1", "rm data", approval.ApproverPolicy{Kind: approval.PolicyAny})); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Expire(ctx, "r1"); err != nil {
		t.Fatal(err)
	}

	res, err := s.RecordDecision(ctx, "r1", approval.Decision{ApproverID: "alice", Approved: true})
	if err != nil {
		t.Fatalf("late decision must not error: %v", err)
	}
	if !res.Ignored || res.Transitioned {
		t.Fatalf("unexpected result %+v", res)
	}
	if res.Status != approval.StatusExpired {
		t.Errorf("status must stay expired, got %q", res.Status)
	}

	req, _ := s.Get(ctx, "r1")
	if len(req.Decisions) != 1 || !req.Decisions[0].Ignored {
		t.Errorf("late decision must be archived with Ignored=true: %+v", req.Decisions)
	}
}

func TestExpireAfterResolutionIsNoOp(t *testing.T) {
	t.Parallel()

	s := NewStore()
	ctx := context.Background()

	if err := s.Create(ctx, newRequest("r1", "ls", approval.ApproverPolicy{Kind: approval.PolicyAny})); err != nil {
		t.Fatal(err)
	}
	if _, err := s.RecordDecision(ctx, "r1", approval.Decision{ApproverID: "alice", Approved: false}); err != nil {
		t.Fatal(err)
	}

	res, err := s.Expire(ctx, "r1")
	if err != nil {
		t.Fatal(err)
	}
	if res.Transitioned {
		t.Error("expire after resolution must not transition")
	}
	if res.Status != approval.StatusDenied {
		t.Errorf("status = %q, want denied", res.Status)
	}
}

// Many decision submitters race one expiry; exactly one call may observe
// the Pending to terminal transition.
func TestResolveExactlyOnceUnderRace(t *testing.T) {
	t.Parallel()

	s := NewStore()
	ctx := context.Background()

	if err := s.Create(ctx, newRequest("r1", "deploy", approval.ApproverPolicy{Kind: approval.PolicyAny})); err != nil {
		t.Fatal(err)
	}

	const racers = 32
	var wg sync.WaitGroup
	transitions := make(chan approvalstore.RecordResult, racers+1)

	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			res, err := s.RecordDecision(ctx, "r1", approval.Decision{ApproverID: "approver", Approved: n%2 == 0})
			if err != nil {
				t.Errorf("record: %v", err)
				return
			}
			transitions <- res
		}(i)
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		res, err := s.Expire(ctx, "r1")
		if err != nil {
			t.Errorf("expire: %v", err)
			return
		}
		transitions <- res
	}()
	wg.Wait()
	close(transitions)

	won := 0
	for res := range transitions {
		if res.Transitioned {
			won++
		}
	}
	if won != 1 {
		t.Fatalf("expected exactly one transition, got %d", won)
	}

	req, err := s.Get(ctx, "r1")
	if err != nil {
		t.Fatal(err)
	}
	if !req.Status.Terminal() {
		t.Fatalf("request must be terminal, got %q", req.Status)
	}
}

func TestNotFound(t *testing.T) {
	t.Parallel()

	s := NewStore()
	ctx := context.Background()

	if _, err := s.Get(ctx, "missing"); err != approvalstore.ErrNotFound {
		t.Errorf("Get: %v", err)
	}
	if _, err := s.RecordDecision(ctx, "missing", approval.Decision{}); err != approvalstore.ErrNotFound {
		t.Errorf("RecordDecision: %v", err)
	}
	if _, err := s.Expire(ctx, "missing"); err != approvalstore.ErrNotFound {
		t.Errorf("Expire: %v", err)
	}
}

func TestListFilters(t *testing.T) {
	t.Parallel()

	s := NewStore()
	ctx := context.Background()

	base := time.Now()
	for i, spec := range []struct {
		id, command string
	}{
		{"r1", "git push origin"},
		{"r2", "rm -rf build"},
		{"r3", "git pull"},
	} {
		req := newRequest(spec.id, spec.command, approval.ApproverPolicy{Kind: approval.PolicyAny})
		req.CreatedAt = base.Add(time.Duration(i) * time.Second)
		if err := s.Create(ctx, req); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := s.RecordDecision(ctx, "r2", approval.Decision{ApproverID: "a", Approved: false}); err != nil {
		t.Fatal(err)
	}

	pending, err := s.ListPending(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(pending) != 2 {
		t.Fatalf("pending = %d, want 2", len(pending))
	}

	denied, err := s.List(ctx, approvalstore.Filter{Status: approval.StatusDenied})
	if err != nil {
		t.Fatal(err)
	}
	if len(denied) != 1 || denied[0].ID != "r2" {
		t.Fatalf("unexpected denied list %+v", denied)
	}

	gits, err := s.List(ctx, approvalstore.Filter{Command: "git"})
	if err != nil {
		t.Fatal(err)
	}
	if len(gits) != 2 {
		t.Fatalf("command filter = %d, want 2", len(gits))
	}
	// Newest first.
	if gits[0].ID != "r3" {
		t.Errorf("expected newest first, got %s", gits[0].ID)
	}

	limited, err := s.List(ctx, approvalstore.Filter{Limit: 1})
	if err != nil {
		t.Fatal(err)
	}
	if len(limited) != 1 {
		t.Fatalf("limit = %d, want 1", len(limited))
	}
}

func TestGetReturnsCopy(t *testing.T) {
	t.Parallel()

	s := NewStore()
	ctx := context.Background()

	if err := s.Create(ctx, newRequest("r1", "ls", approval.ApproverPolicy{})); err != nil {
		t.Fatal(err)
	}

	got, _ := s.Get(ctx, "r1")
	got.Status = approval.StatusDenied
	got.Decisions = append(got.Decisions, approval.Decision{ApproverID: "x"})

	again, _ := s.Get(ctx, "r1")
	if again.Status != approval.StatusPending || len(again.Decisions) != 0 {
		t.Error("mutating a returned request must not affect stored state")
	}
}

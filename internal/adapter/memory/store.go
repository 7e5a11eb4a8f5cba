// Package memory implements the approval store and audit log ports with
// in-process state. It is the default backend for single-node deployments
// and the reference implementation of the store's resolve-once semantics.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/toolgate/toolgate/internal/domain/approval"
	"github.com/toolgate/toolgate/internal/port/approvalstore"
)

// Store is a mutex-guarded approval request registry. The mutex makes
// append-decision-evaluate-transition a single atomic step, so concurrent
// decision submitters and the timeout path can race freely: exactly one of
// them observes the Pending→terminal transition.
type Store struct {
	mu       sync.Mutex
	requests map[string]*approval.Request
	order    []string // creation order, for stable listings
	now      func() time.Time
}

// NewStore creates an empty in-memory approval store.
func NewStore() *Store {
	return &Store{
		requests: make(map[string]*approval.Request),
		now:      time.Now,
	}
}

// Create inserts a new Pending request.
func (s *Store) Create(_ context.Context, req *approval.Request) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.requests[req.ID]; exists {
		return approvalstore.ErrDuplicateID
	}

	cp := cloneRequest(req)
	cp.Status = approval.StatusPending
	s.requests[req.ID] = cp
	s.order = append(s.order, req.ID)
	return nil
}

// RecordDecision appends a decision and resolves the request if its
// approver policy is now satisfied. Late decisions are archived with
// Ignored=true and leave the status untouched.
func (s *Store) RecordDecision(_ context.Context, id string, d approval.Decision) (approvalstore.RecordResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	req, ok := s.requests[id]
	if !ok {
		return approvalstore.RecordResult{}, approvalstore.ErrNotFound
	}

	if d.DecidedAt.IsZero() {
		d.DecidedAt = s.now()
	}

	if req.Status.Terminal() {
		d.Ignored = true
		req.Decisions = append(req.Decisions, d)
		return approvalstore.RecordResult{Status: req.Status, Ignored: true}, nil
	}

	req.Decisions = append(req.Decisions, d)

	status := req.Policy.Resolve(activeDecisions(req.Decisions))
	if status == approval.StatusPending {
		return approvalstore.RecordResult{Status: approval.StatusPending}, nil
	}

	s.finalize(req, status)
	return approvalstore.RecordResult{Transitioned: true, Status: status}, nil
}

// Expire moves a Pending request to Expired; a no-op when another path
// already resolved it.
func (s *Store) Expire(_ context.Context, id string) (approvalstore.RecordResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	req, ok := s.requests[id]
	if !ok {
		return approvalstore.RecordResult{}, approvalstore.ErrNotFound
	}

	if req.Status.Terminal() {
		return approvalstore.RecordResult{Status: req.Status}, nil
	}

	s.finalize(req, approval.StatusExpired)
	return approvalstore.RecordResult{Transitioned: true, Status: approval.StatusExpired}, nil
}

// Get returns a copy of the request with the given id.
func (s *Store) Get(_ context.Context, id string) (*approval.Request, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	req, ok := s.requests[id]
	if !ok {
		return nil, approvalstore.ErrNotFound
	}
	return cloneRequest(req), nil
}

// ListPending returns all unresolved requests in creation order.
func (s *Store) ListPending(_ context.Context) ([]approval.Request, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []approval.Request
	for _, id := range s.order {
		if req := s.requests[id]; req.Status == approval.StatusPending {
			out = append(out, *cloneRequest(req))
		}
	}
	return out, nil
}

// List queries pending and archived requests, newest first.
func (s *Store) List(_ context.Context, f approvalstore.Filter) ([]approval.Request, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []approval.Request
	for _, id := range s.order {
		req := s.requests[id]
		if f.Status != "" && req.Status != f.Status {
			continue
		}
		if f.Command != "" && !strings.Contains(req.Command, f.Command) {
			continue
		}
		out = append(out, *cloneRequest(req))
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})

	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

// finalize performs the single Pending→terminal transition. Callers hold
// the mutex and have already checked the status is not terminal.
func (s *Store) finalize(req *approval.Request, status approval.Status) {
	t := s.now()
	req.Status = status
	req.ResolvedAt = &t
}

// activeDecisions filters out decisions flagged Ignored so a late vote
// recorded after an earlier resolution never feeds a policy evaluation.
func activeDecisions(decisions []approval.Decision) []approval.Decision {
	active := make([]approval.Decision, 0, len(decisions))
	for _, d := range decisions {
		if !d.Ignored {
			active = append(active, d)
		}
	}
	return active
}

func cloneRequest(req *approval.Request) *approval.Request {
	cp := *req
	cp.Decisions = append([]approval.Decision(nil), req.Decisions...)
	if req.ResolvedAt != nil {
		t := *req.ResolvedAt
		cp.ResolvedAt = &t
	}
	return &cp
}

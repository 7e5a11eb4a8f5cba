// Package approvalstore defines the port interface for the approval request
// registry. The store is the single point of truth for resolving a request:
// whichever of a satisfying decision or the timeout reaches the status
// transition first wins, and every later attempt observes the existing
// terminal status.
package approvalstore

import (
	"context"
	"errors"

	"github.com/toolgate/toolgate/internal/domain/approval"
)

// ErrDuplicateID is returned by Create when the request id already exists.
// It indicates an id-generation bug upstream and is not retryable.
var ErrDuplicateID = errors.New("approvalstore: duplicate request id")

// ErrNotFound is returned when no request exists for the given id.
var ErrNotFound = errors.New("approvalstore: request not found")

// RecordResult reports the effect of a RecordDecision or Expire call.
type RecordResult struct {
	// Transitioned is true when this call moved the request from Pending
	// to a terminal status.
	Transitioned bool
	// Status is the request status after the call.
	Status approval.Status
	// Ignored is true when the decision arrived after resolution and was
	// archived without effect.
	Ignored bool
}

// Filter narrows List queries over the archive.
type Filter struct {
	Status  approval.Status
	Command string
	Limit   int
}

// Store is a concurrency-safe registry of in-flight and historical approval
// requests. All request mutation goes through Create, RecordDecision, and
// Expire; no other component holds a writable reference to request state.
type Store interface {
	// Create inserts a new Pending request. Fails with ErrDuplicateID when
	// the id is already present.
	Create(ctx context.Context, req *approval.Request) error

	// RecordDecision atomically appends a decision and evaluates the
	// request's approver policy against the accumulated decisions. If the
	// resolution condition is met the status transitions exactly once; a
	// decision arriving after resolution is recorded with Ignored=true and
	// the existing status is returned unchanged.
	RecordDecision(ctx context.Context, id string, d approval.Decision) (RecordResult, error)

	// Expire transitions a Pending request to Expired. A no-op returning
	// the existing status when another path already resolved the request.
	Expire(ctx context.Context, id string) (RecordResult, error)

	// Get returns the request with the given id, pending or archived.
	Get(ctx context.Context, id string) (*approval.Request, error)

	// ListPending returns all requests still awaiting resolution, ordered
	// by creation time.
	ListPending(ctx context.Context) ([]approval.Request, error)

	// List queries the archive (and pending set) with the given filter,
	// newest first.
	List(ctx context.Context, f Filter) ([]approval.Request, error)
}

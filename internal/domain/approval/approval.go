// Package approval defines the domain model for human approval of tool
// invocations: requests, decisions, and the approver policies that decide
// when an accumulated set of decisions resolves a request.
package approval

import "time"

// Status is the lifecycle state of an approval request. A request
// transitions from Pending to exactly one terminal status and never back.
type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusDenied   Status = "denied"
	StatusExpired  Status = "expired"
)

// Terminal reports whether s is a final status.
func (s Status) Terminal() bool {
	return s == StatusApproved || s == StatusDenied || s == StatusExpired
}

// Request is a pending or archived approval request for a single command.
// Only the approval store mutates a Request after creation; it appends
// decisions and finalizes the status at most once.
type Request struct {
	ID          string         `json:"id"`
	Command     string         `json:"command"`
	WorkingDir  string         `json:"working_dir"`
	Context     string         `json:"context"`
	CreatedAt   time.Time      `json:"created_at"`
	TimeoutSecs int            `json:"timeout_secs"`
	Policy      ApproverPolicy `json:"policy"`
	Status      Status         `json:"status"`
	Decisions   []Decision     `json:"decisions,omitempty"`
	ResolvedAt  *time.Time     `json:"resolved_at,omitempty"`
}

// Deadline returns the wall-clock instant at which the request expires.
func (r *Request) Deadline() time.Time {
	return r.CreatedAt.Add(time.Duration(r.TimeoutSecs) * time.Second)
}

// Decision is a single approver's vote on a request. Decisions arriving
// after resolution are still recorded, flagged Ignored, and never alter the
// final status.
type Decision struct {
	ApproverID string    `json:"approver_id"`
	Approved   bool      `json:"approved"`
	Comment    string    `json:"comment,omitempty"`
	DecidedAt  time.Time `json:"decided_at"`
	Ignored    bool      `json:"ignored,omitempty"`
}

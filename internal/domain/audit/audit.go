// Package audit defines the immutable audit trail entry for every
// authorization check and approval lifecycle transition.
package audit

import "time"

// Kind identifies the event an audit entry records.
type Kind string

const (
	KindPermissionCheck  Kind = "permission.check"
	KindApprovalCreated  Kind = "approval.created"
	KindApprovalDecision Kind = "approval.decision"
	KindApprovalResolved Kind = "approval.resolved"
)

// Entry is a single append-only audit record. Entries for the same request
// are recorded in causal order (creation before decisions before
// resolution); entries for different requests may interleave.
type Entry struct {
	Time        time.Time `json:"time"`
	Kind        Kind      `json:"kind"`
	Command     string    `json:"command,omitempty"`
	Actor       string    `json:"actor,omitempty"`
	RequestID   string    `json:"request_id,omitempty"`
	MatchedRule string    `json:"matched_rule,omitempty"`
	Level       string    `json:"level,omitempty"`
	Detail      string    `json:"detail,omitempty"`
}

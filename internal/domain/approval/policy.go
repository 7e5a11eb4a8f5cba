package approval

import "fmt"

// PolicyKind selects how many approvers must weigh in before a request
// resolves.
type PolicyKind string

const (
	// PolicyAny resolves on the first decision, approve or deny.
	PolicyAny PolicyKind = "any"
	// PolicyAll requires every designated approver to approve; a single
	// deny resolves Denied immediately.
	PolicyAll PolicyKind = "all"
	// PolicyQuorum resolves Approved once Required distinct approvals are
	// recorded, and Denied as soon as the remaining voters can no longer
	// reach Required.
	PolicyQuorum PolicyKind = "quorum"
)

// ApproverPolicy configures the resolution condition for a request.
// Approvers is the designated set; Required is only meaningful for quorum.
type ApproverPolicy struct {
	Kind      PolicyKind `json:"kind" yaml:"kind"`
	Required  int        `json:"required,omitempty" yaml:"required,omitempty"`
	Approvers []string   `json:"approvers,omitempty" yaml:"approvers,omitempty"`
}

// Total returns the size of the designated approver set.
func (p *ApproverPolicy) Total() int { return len(p.Approvers) }

// Validate checks the policy configuration. An impossible quorum is a
// configuration error reported before any wait begins.
func (p *ApproverPolicy) Validate() error {
	switch p.Kind {
	case "", PolicyAny:
		return nil
	case PolicyAll:
		if p.Total() < 1 {
			return fmt.Errorf("approver policy %q requires a non-empty approver set", PolicyAll)
		}
		return nil
	case PolicyQuorum:
		if p.Required < 1 {
			return fmt.Errorf("quorum required must be >= 1, got %d", p.Required)
		}
		if p.Required > p.Total() {
			return fmt.Errorf("quorum required %d exceeds approver set size %d", p.Required, p.Total())
		}
		return nil
	default:
		return fmt.Errorf("unknown approver policy kind %q", p.Kind)
	}
}

// Resolve evaluates an ordered decision list against the policy and returns
// the terminal status the request should transition to, or StatusPending if
// the decisions recorded so far are not conclusive.
//
// Only votes from the designated approver set count; a decision from anyone
// else is recorded but can never move the status. An empty set leaves the
// request open to any collaborator. Within the set, only the first decision
// from each approver counts toward the tally; repeats are ignored, so
// submitting the same decision twice never changes the outcome beyond its
// first effect.
func (p *ApproverPolicy) Resolve(decisions []Decision) Status {
	eligible := p.eligible(decisions)
	approvals, denials := tally(eligible)

	switch p.Kind {
	case "", PolicyAny:
		// Fail-fast reading: an explicit deny resolves immediately rather
		// than accumulating until timeout.
		if len(eligible) == 0 {
			return StatusPending
		}
		if eligible[0].Approved {
			return StatusApproved
		}
		return StatusDenied

	case PolicyAll:
		if denials > 0 {
			return StatusDenied
		}
		if approvals >= p.Total() {
			return StatusApproved
		}
		return StatusPending

	case PolicyQuorum:
		if approvals >= p.Required {
			return StatusApproved
		}
		if p.Total()-denials < p.Required {
			return StatusDenied
		}
		return StatusPending
	}

	return StatusPending
}

// eligible filters decisions to the designated approver set. With an empty
// set every decision is eligible, which only the any policy can validly
// configure.
func (p *ApproverPolicy) eligible(decisions []Decision) []Decision {
	if p.Total() == 0 {
		return decisions
	}
	designated := make(map[string]struct{}, len(p.Approvers))
	for _, a := range p.Approvers {
		designated[a] = struct{}{}
	}
	out := make([]Decision, 0, len(decisions))
	for i := range decisions {
		if _, ok := designated[decisions[i].ApproverID]; ok {
			out = append(out, decisions[i])
		}
	}
	return out
}

// tally counts distinct approvers' first votes.
func tally(decisions []Decision) (approvals, denials int) {
	seen := make(map[string]struct{}, len(decisions))
	for i := range decisions {
		d := &decisions[i]
		if _, dup := seen[d.ApproverID]; dup {
			continue
		}
		seen[d.ApproverID] = struct{}{}
		if d.Approved {
			approvals++
		} else {
			denials++
		}
	}
	return approvals, denials
}

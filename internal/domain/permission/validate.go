package permission

import "fmt"

// Validate checks that a Policy is well-formed.
func (p *Policy) Validate() error {
	if !isValidLevel(p.DefaultLevel) {
		return fmt.Errorf("permission: invalid default level %q", p.DefaultLevel)
	}
	if p.ApprovalTimeoutSecs <= 0 {
		return fmt.Errorf("permission: approval_timeout_secs must be > 0")
	}
	for i := range p.Rules {
		if err := p.Rules[i].Validate(); err != nil {
			return fmt.Errorf("permission: rule[%d]: %w", i, err)
		}
	}
	if err := p.Approval.Validate(); err != nil {
		return fmt.Errorf("permission: approval: %w", err)
	}
	return nil
}

// Validate checks that a Rule is well-formed.
func (r *Rule) Validate() error {
	if r.Pattern == "" {
		return fmt.Errorf("pattern is required")
	}
	if !isValidLevel(r.Level) {
		return fmt.Errorf("invalid level %q", r.Level)
	}
	return nil
}

func isValidLevel(l Level) bool {
	switch l {
	case LevelAllow, LevelRequireApproval, LevelDeny:
		return true
	}
	return false
}

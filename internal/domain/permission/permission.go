// Package permission defines the domain model for Toolgate's command
// authorization layer. A Policy is an ordered list of glob rules mapping
// candidate commands to a permission level; evaluation is first-match-wins.
package permission

import (
	"github.com/toolgate/toolgate/internal/domain/approval"
)

// Level is the disposition a rule or policy default assigns to a command.
type Level string

const (
	LevelAllow           Level = "allow"
	LevelRequireApproval Level = "require_approval"
	LevelDeny            Level = "deny"
)

// Rule maps a glob pattern to a permission level.
// Patterns are case-sensitive full-string globs: `*` matches any character
// sequence (including the empty one), every other character is literal.
type Rule struct {
	Pattern     string   `json:"pattern" yaml:"pattern"`
	Level       Level    `json:"level" yaml:"level"`
	Description string   `json:"description,omitempty" yaml:"description,omitempty"`
	Approvers   []string `json:"approvers,omitempty" yaml:"approvers,omitempty"`
}

// Policy is the top-level permission configuration for a tool scope.
// Rule order is significant and preserved; a reload replaces the whole
// policy atomically.
type Policy struct {
	Enabled             bool                     `json:"enabled" yaml:"enabled"`
	DefaultLevel        Level                    `json:"default_level" yaml:"default_level"`
	Rules               []Rule                   `json:"rules" yaml:"rules"`
	ApprovalTimeoutSecs int                      `json:"approval_timeout_secs" yaml:"approval_timeout_secs"`
	Approval            approval.ApproverPolicy  `json:"approval" yaml:"approval"`
}

// Verdict is the outcome of matching a command against a policy.
type Verdict struct {
	Level     Level `json:"level"`
	Rule      *Rule `json:"rule,omitempty"`
	RuleIndex int   `json:"rule_index"` // -1 when no rule matched (default or disabled policy)
}

// ApproversFor returns the approver set designated for a matched rule,
// falling back to the policy-level set when the rule names none.
func (p *Policy) ApproversFor(rule *Rule) []string {
	if rule != nil && len(rule.Approvers) > 0 {
		return rule.Approvers
	}
	return p.Approval.Approvers
}

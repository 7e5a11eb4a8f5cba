package permission

import (
	"fmt"
	"regexp"
	"strings"
)

// CompiledPolicy is an immutable Policy with every rule pattern precompiled.
// It is safe for concurrent use by any number of goroutines without locking,
// and is the unit swapped atomically on policy reload.
type CompiledPolicy struct {
	policy   Policy
	matchers []*regexp.Regexp
	version  uint64
}

// Compile validates the policy and precompiles all rule patterns.
// The version tag distinguishes verdicts cached under different policy
// generations; callers pass a monotonically increasing value on reload.
func Compile(p Policy, version uint64) (*CompiledPolicy, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}

	matchers := make([]*regexp.Regexp, len(p.Rules))
	for i := range p.Rules {
		re, err := compilePattern(p.Rules[i].Pattern)
		if err != nil {
			return nil, fmt.Errorf("rule[%d] pattern %q: %w", i, p.Rules[i].Pattern, err)
		}
		matchers[i] = re
	}

	return &CompiledPolicy{policy: p, matchers: matchers, version: version}, nil
}

// Policy returns a copy of the source policy.
func (c *CompiledPolicy) Policy() Policy { return c.policy }

// Version returns the policy generation tag.
func (c *CompiledPolicy) Version() uint64 { return c.version }

// Evaluate matches a command against the policy's rules in order and returns
// the first match's level, or the default level when nothing matches.
// A disabled policy allows every command without consulting rules. Matching
// is case-sensitive and does not normalize whitespace; callers trim before
// calling if they want trimming.
func (c *CompiledPolicy) Evaluate(command string) Verdict {
	if !c.policy.Enabled {
		return Verdict{Level: LevelAllow, RuleIndex: -1}
	}

	for i, re := range c.matchers {
		if re.MatchString(command) {
			return Verdict{
				Level:     c.policy.Rules[i].Level,
				Rule:      &c.policy.Rules[i],
				RuleIndex: i,
			}
		}
	}

	return Verdict{Level: c.policy.DefaultLevel, RuleIndex: -1}
}

// compilePattern turns a glob pattern into an anchored regexp:
// `*` becomes `.*`, everything else is matched literally, and the whole
// pattern must cover the entire command (`git push*` matches "git push" and
// "git push origin main" but not "sudo git push").
func compilePattern(pattern string) (*regexp.Regexp, error) {
	var b strings.Builder
	b.WriteString("^")
	for i, part := range strings.Split(pattern, "*") {
		if i > 0 {
			b.WriteString(".*")
		}
		b.WriteString(regexp.QuoteMeta(part))
	}
	b.WriteString("$")
	return regexp.Compile(b.String())
}

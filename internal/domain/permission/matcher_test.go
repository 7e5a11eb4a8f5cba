package permission

import (
	"testing"

	"github.com/toolgate/toolgate/internal/domain/approval"
)

func compileTestPolicy(t *testing.T, p Policy) *CompiledPolicy {
	t.Helper()
	compiled, err := Compile(p, 1)
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	return compiled
}

func TestEvaluateFirstMatchWins(t *testing.T) {
	t.Parallel()

	compiled := compileTestPolicy(t, Policy{
		Enabled:      true,
		DefaultLevel: LevelRequireApproval,
		Rules: []Rule{
			{Pattern: "ls*", Level: LevelAllow},
			{Pattern: "rm -rf*", Level: LevelDeny},
			{Pattern: "rm*", Level: LevelRequireApproval},
		},
	})

	tests := []struct {
		command string
		level   Level
		index   int
	}{
		{"ls", LevelAllow, 0},
		{"ls -la /tmp", LevelAllow, 0},
		{"rm -rf /", LevelDeny, 1},
		{"rm file.txt", LevelRequireApproval, 2},
		{"curl example.com", LevelRequireApproval, -1},
	}

	for _, tt := range tests {
		t.Run(tt.command, func(t *testing.T) {
			v := compiled.Evaluate(tt.command)
			if v.Level != tt.level {
				t.Errorf("level = %q, want %q", v.Level, tt.level)
			}
			if v.RuleIndex != tt.index {
				t.Errorf("rule index = %d, want %d", v.RuleIndex, tt.index)
			}
		})
	}
}

func TestEvaluateFullAnchoredGlob(t *testing.T) {
	t.Parallel()

	compiled := compileTestPolicy(t, Policy{
		Enabled:      true,
		DefaultLevel: LevelDeny,
		Rules: []Rule{
			{Pattern: "git push*", Level: LevelAllow},
		},
	})

	tests := []struct {
		command string
		matches bool
	}{
		{"git push", true},
		{"git push origin main", true},
		{"sudo git push", false}, // pattern is anchored at the start
		{"git pushx", true},
		{"git pus", false},
	}

	for _, tt := range tests {
		v := compiled.Evaluate(tt.command)
		matched := v.RuleIndex == 0
		if matched != tt.matches {
			t.Errorf("Evaluate(%q) matched = %v, want %v", tt.command, matched, tt.matches)
		}
	}
}

func TestEvaluateLeadingWildcard(t *testing.T) {
	t.Parallel()

	compiled := compileTestPolicy(t, Policy{
		Enabled:      true,
		DefaultLevel: LevelAllow,
		Rules: []Rule{
			{Pattern: "*--force*", Level: LevelDeny},
		},
	})

	if v := compiled.Evaluate("git push --force origin"); v.Level != LevelDeny {
		t.Errorf("expected deny for --force command, got %q", v.Level)
	}
	if v := compiled.Evaluate("--force"); v.Level != LevelDeny {
		t.Errorf("expected deny for bare --force, got %q", v.Level)
	}
	if v := compiled.Evaluate("git push origin"); v.Level != LevelAllow {
		t.Errorf("expected default allow, got %q", v.Level)
	}
}

func TestEvaluateCaseSensitive(t *testing.T) {
	t.Parallel()

	compiled := compileTestPolicy(t, Policy{
		Enabled:      true,
		DefaultLevel: LevelRequireApproval,
		Rules: []Rule{
			{Pattern: "ls*", Level: LevelAllow},
		},
	})

	if v := compiled.Evaluate("LS -la"); v.Level != LevelRequireApproval {
		t.Errorf("matching must be case-sensitive, got %q", v.Level)
	}
}

func TestEvaluateRegexMetaIsLiteral(t *testing.T) {
	t.Parallel()

	compiled := compileTestPolicy(t, Policy{
		Enabled:      true,
		DefaultLevel: LevelAllow,
		Rules: []Rule{
			{Pattern: "echo $(date)", Level: LevelDeny},
			{Pattern: "grep a.b*", Level: LevelDeny},
		},
	})

	if v := compiled.Evaluate("echo $(date)"); v.Level != LevelDeny {
		t.Error("parentheses and dollar must match literally")
	}
	if v := compiled.Evaluate("grep axb"); v.Level != LevelAllow {
		t.Error("dot must not act as a regex wildcard")
	}
	if v := compiled.Evaluate("grep a.b -r ."); v.Level != LevelDeny {
		t.Error("literal dot must match before the glob tail")
	}
}

func TestEvaluateDisabledPolicy(t *testing.T) {
	t.Parallel()

	compiled := compileTestPolicy(t, Policy{
		Enabled:      false,
		DefaultLevel: LevelDeny,
		Rules: []Rule{
			{Pattern: "*", Level: LevelDeny},
		},
	})

	v := compiled.Evaluate("rm -rf /")
	if v.Level != LevelAllow {
		t.Errorf("disabled policy must allow everything, got %q", v.Level)
	}
	if v.RuleIndex != -1 {
		t.Errorf("disabled policy must not report a matched rule, got index %d", v.RuleIndex)
	}
}

func TestEvaluateRuleOrderMatters(t *testing.T) {
	t.Parallel()

	broad := compileTestPolicy(t, Policy{
		Enabled:      true,
		DefaultLevel: LevelRequireApproval,
		Rules: []Rule{
			{Pattern: "rm*", Level: LevelRequireApproval},
			{Pattern: "rm -rf*", Level: LevelDeny},
		},
	})

	// The broad rule shadows the specific one.
	if v := broad.Evaluate("rm -rf /"); v.Level != LevelRequireApproval {
		t.Errorf("expected first (broad) rule to win, got %q", v.Level)
	}
}

func TestApproversForFallback(t *testing.T) {
	t.Parallel()

	p := Policy{
		Approval: approval.ApproverPolicy{Approvers: []string{"ops"}},
		Rules: []Rule{
			{Pattern: "rm*", Level: LevelRequireApproval, Approvers: []string{"alice", "bob"}},
			{Pattern: "git*", Level: LevelRequireApproval},
		},
	}

	got := p.ApproversFor(&p.Rules[0])
	if len(got) != 2 || got[0] != "alice" {
		t.Errorf("expected rule-level approvers, got %v", got)
	}

	got = p.ApproversFor(&p.Rules[1])
	if len(got) != 1 || got[0] != "ops" {
		t.Errorf("expected policy-level fallback, got %v", got)
	}

	got = p.ApproversFor(nil)
	if len(got) != 1 || got[0] != "ops" {
		t.Errorf("expected policy-level fallback for nil rule, got %v", got)
	}
}

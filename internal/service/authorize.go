// Package service wires the permission matcher, approval orchestrator,
// approval store, and audit trail into the authorization engine's public
// surface.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	toolgateotel "github.com/toolgate/toolgate/internal/adapter/otel"
	"github.com/toolgate/toolgate/internal/domain/approval"
	"github.com/toolgate/toolgate/internal/domain/audit"
	"github.com/toolgate/toolgate/internal/domain/permission"
	"github.com/toolgate/toolgate/internal/port/auditlog"
	"github.com/toolgate/toolgate/internal/port/cache"
)

// Outcome is the final authorization verdict for a command. Allow and Deny
// come straight from policy evaluation; Approved, Denied, and Expired are
// the terminal states of an approval wait. Only Allow and Approved permit
// execution.
type Outcome string

const (
	OutcomeAllow    Outcome = "allow"
	OutcomeDeny     Outcome = "deny"
	OutcomeApproved Outcome = "approved"
	OutcomeDenied   Outcome = "denied"
	OutcomeExpired  Outcome = "expired"
)

// Verdict is returned to the caller of Authorize. The caller must not
// execute the command unless Permitted reports true; Denied and Expired are
// distinguished so user-facing messages can explain "explicitly rejected"
// versus "no one responded".
type Verdict struct {
	Outcome     Outcome `json:"outcome"`
	MatchedRule string  `json:"matched_rule,omitempty"`
	RuleIndex   int     `json:"rule_index"`
	RequestID   string  `json:"request_id,omitempty"`
}

// Permitted reports whether the caller may execute the command.
func (v Verdict) Permitted() bool {
	return v.Outcome == OutcomeAllow || v.Outcome == OutcomeApproved
}

// ErrNoPolicy is returned when Authorize is called before any policy was
// installed.
var ErrNoPolicy = errors.New("authorize: no active policy")

// AuthorizeService is the engine's front door. The active policy is an
// atomically swapped immutable snapshot: every evaluation sees a whole
// policy, never a half-updated rule list, and a reload never affects
// approval requests already in flight.
type AuthorizeService struct {
	policy  atomic.Pointer[permission.CompiledPolicy]
	version atomic.Uint64

	orch    *Orchestrator
	sink    auditlog.Sink
	cache   cache.Cache
	metrics *toolgateotel.Metrics

	cacheTTL time.Duration
}

// NewAuthorizeService creates the service. cache may be nil to disable
// verdict caching; metrics may be nil to disable instrumentation.
func NewAuthorizeService(orch *Orchestrator, sink auditlog.Sink, verdictCache cache.Cache, metrics *toolgateotel.Metrics) *AuthorizeService {
	return &AuthorizeService{
		orch:     orch,
		sink:     sink,
		cache:    verdictCache,
		metrics:  metrics,
		cacheTTL: 10 * time.Minute,
	}
}

// SetCacheTTL overrides the default verdict cache lifetime.
func (s *AuthorizeService) SetCacheTTL(d time.Duration) {
	if d > 0 {
		s.cacheTTL = d
	}
}

// ReplacePolicy validates, compiles, and atomically installs a new policy.
// In-flight approval requests keep the policy captured at creation time.
func (s *AuthorizeService) ReplacePolicy(p permission.Policy) error {
	compiled, err := permission.Compile(p, s.version.Add(1))
	if err != nil {
		return fmt.Errorf("replace policy: %w", err)
	}
	s.policy.Store(compiled)
	slog.Info("permission policy replaced",
		"version", compiled.Version(),
		"rules", len(p.Rules),
		"enabled", p.Enabled,
	)
	return nil
}

// Policy returns the active policy snapshot.
func (s *AuthorizeService) Policy() (permission.Policy, error) {
	compiled := s.policy.Load()
	if compiled == nil {
		return permission.Policy{}, ErrNoPolicy
	}
	return compiled.Policy(), nil
}

// Evaluate runs the pure policy match for a command, consulting the verdict
// cache first. Cache keys are scoped to the policy snapshot version, so a
// reload naturally invalidates every cached verdict.
func (s *AuthorizeService) Evaluate(ctx context.Context, command string) (permission.Verdict, error) {
	compiled := s.policy.Load()
	if compiled == nil {
		return permission.Verdict{}, ErrNoPolicy
	}

	key := fmt.Sprintf("verdict:%d:%s", compiled.Version(), command)
	if s.cache != nil {
		if data, ok, err := s.cache.Get(ctx, key); err == nil && ok {
			var cached cachedVerdict
			if json.Unmarshal(data, &cached) == nil {
				v := cached.verdict(compiled)
				s.metrics.RecordCheck(ctx, string(v.Level), true)
				return v, nil
			}
		}
	}

	v := compiled.Evaluate(command)
	s.metrics.RecordCheck(ctx, string(v.Level), false)

	if s.cache != nil {
		if data, err := json.Marshal(cachedVerdict{Level: v.Level, RuleIndex: v.RuleIndex}); err == nil {
			_ = s.cache.Set(ctx, key, data, s.cacheTTL)
		}
	}
	return v, nil
}

// Authorize evaluates a command against the active policy and, when the
// verdict is require_approval, suspends until approvers resolve the request
// or it times out. The engine never executes anything itself; the caller
// translates the verdict into execution or refusal.
func (s *AuthorizeService) Authorize(ctx context.Context, command, workingDir, reqContext string) (Verdict, error) {
	ctx, span := toolgateotel.StartAuthorizeSpan(ctx, command)
	defer span.End()

	compiled := s.policy.Load()
	if compiled == nil {
		return Verdict{}, ErrNoPolicy
	}

	match, err := s.Evaluate(ctx, command)
	if err != nil {
		return Verdict{}, err
	}

	matchedPattern := ""
	if match.Rule != nil {
		matchedPattern = match.Rule.Pattern
	}

	s.sink.Record(ctx, audit.Entry{
		Time:        time.Now(),
		Kind:        audit.KindPermissionCheck,
		Command:     command,
		MatchedRule: matchedPattern,
		Level:       string(match.Level),
	})

	switch match.Level {
	case permission.LevelAllow:
		return Verdict{Outcome: OutcomeAllow, MatchedRule: matchedPattern, RuleIndex: match.RuleIndex}, nil

	case permission.LevelDeny:
		return Verdict{Outcome: OutcomeDeny, MatchedRule: matchedPattern, RuleIndex: match.RuleIndex}, nil

	case permission.LevelRequireApproval:
		pol := compiled.Policy()
		approverPolicy := pol.Approval
		approverPolicy.Approvers = pol.ApproversFor(match.Rule)

		status, requestID, err := s.orch.RequestApproval(ctx, ApprovalRequest{
			Command:     command,
			WorkingDir:  workingDir,
			Context:     reqContext,
			TimeoutSecs: pol.ApprovalTimeoutSecs,
			Policy:      approverPolicy,
		})
		if err != nil {
			return Verdict{}, err
		}
		return Verdict{
			Outcome:     statusOutcome(status),
			MatchedRule: matchedPattern,
			RuleIndex:   match.RuleIndex,
			RequestID:   requestID,
		}, nil
	}

	return Verdict{}, fmt.Errorf("authorize: unknown permission level %q", match.Level)
}

func statusOutcome(status approval.Status) Outcome {
	switch status {
	case approval.StatusApproved:
		return OutcomeApproved
	case approval.StatusDenied:
		return OutcomeDenied
	default:
		return OutcomeExpired
	}
}

// cachedVerdict is the cache encoding of a permission verdict. Only the
// rule index is stored; the rule itself is reconstructed from the snapshot
// the key's version pins.
type cachedVerdict struct {
	Level     permission.Level `json:"level"`
	RuleIndex int              `json:"rule_index"`
}

func (c cachedVerdict) verdict(compiled *permission.CompiledPolicy) permission.Verdict {
	v := permission.Verdict{Level: c.Level, RuleIndex: c.RuleIndex}
	if pol := compiled.Policy(); c.RuleIndex >= 0 && c.RuleIndex < len(pol.Rules) {
		v.Rule = &pol.Rules[c.RuleIndex]
	}
	return v
}

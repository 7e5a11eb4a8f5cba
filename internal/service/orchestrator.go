package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	toolgateotel "github.com/toolgate/toolgate/internal/adapter/otel"
	"github.com/toolgate/toolgate/internal/domain/approval"
	"github.com/toolgate/toolgate/internal/domain/audit"
	"github.com/toolgate/toolgate/internal/port/approvalstore"
	"github.com/toolgate/toolgate/internal/port/auditlog"
	"github.com/toolgate/toolgate/internal/port/dispatch"
	"github.com/toolgate/toolgate/internal/resilience"
)

// ErrConfig wraps approver policy configuration errors. It is one of the two
// hard failures the engine surfaces to the calling agent path; everything
// else resolves into a terminal verdict.
var ErrConfig = errors.New("approval: invalid configuration")

// ApprovalRequest carries the inputs to RequestApproval.
type ApprovalRequest struct {
	Command     string
	WorkingDir  string
	Context     string
	TimeoutSecs int
	Policy      approval.ApproverPolicy
}

// Orchestrator runs the approval lifecycle: it persists a request, fans the
// notification out to every registered dispatch channel, and suspends the
// caller until the store reports resolution or the timeout elapses.
//
// The orchestrator holds no mutable per-request state beyond the one-shot
// waiter channel; the store serializes all decision and expiry races, so
// decision submitters on any goroutine and the timer path interleave freely.
type Orchestrator struct {
	store       approvalstore.Store
	sink        auditlog.Sink
	dispatchers []dispatch.Dispatcher
	breakers    map[string]*resilience.Breaker
	metrics     *toolgateotel.Metrics

	waiters sync.Map // request id -> chan approval.Status (buffered 1)

	now   func() time.Time
	newID func() string
}

// NewOrchestrator creates an Orchestrator. Each dispatcher is wrapped in its
// own circuit breaker so one unreachable channel cannot slow the fan-out for
// the rest.
func NewOrchestrator(store approvalstore.Store, sink auditlog.Sink, dispatchers []dispatch.Dispatcher, breakerCfg resilience.BreakerConfig, metrics *toolgateotel.Metrics) *Orchestrator {
	breakers := make(map[string]*resilience.Breaker, len(dispatchers))
	for _, d := range dispatchers {
		breakers[d.Name()] = resilience.NewBreaker(breakerCfg.MaxFailures, breakerCfg.Timeout)
	}
	return &Orchestrator{
		store:       store,
		sink:        sink,
		dispatchers: dispatchers,
		breakers:    breakers,
		metrics:     metrics,
		now:         time.Now,
		newID:       uuid.NewString,
	}
}

// RequestApproval creates a Pending request, notifies approvers, and blocks
// until the request resolves or req's timeout elapses. The returned status
// is terminal unless the error is non-nil.
//
// If the waiting context is cancelled the request is left Pending in the
// store: a later decision or the expiry sweeper still resolves it, the
// resolution is audited, and there is simply no executor left to notify.
func (o *Orchestrator) RequestApproval(ctx context.Context, req ApprovalRequest) (approval.Status, string, error) {
	if err := req.Policy.Validate(); err != nil {
		return "", "", fmt.Errorf("%w: %v", ErrConfig, err)
	}
	if req.TimeoutSecs <= 0 {
		return "", "", fmt.Errorf("%w: timeout_secs must be > 0", ErrConfig)
	}
	if req.Policy.Kind == "" {
		req.Policy.Kind = approval.PolicyAny
	}

	id := o.newID()
	created := o.now()
	stored := approval.Request{
		ID:          id,
		Command:     req.Command,
		WorkingDir:  req.WorkingDir,
		Context:     req.Context,
		CreatedAt:   created,
		TimeoutSecs: req.TimeoutSecs,
		Policy:      req.Policy,
		Status:      approval.StatusPending,
	}

	if err := o.store.Create(ctx, &stored); err != nil {
		return "", "", fmt.Errorf("create approval request: %w", err)
	}

	o.sink.Record(ctx, audit.Entry{
		Time:      created,
		Kind:      audit.KindApprovalCreated,
		Command:   req.Command,
		RequestID: id,
		Detail:    string(stored.Policy.Kind),
	})
	o.metrics.RecordApprovalCreated(ctx)

	// Register the waiter before dispatching so a decision that lands
	// between dispatch and select still wakes us.
	ch := make(chan approval.Status, 1)
	o.waiters.Store(id, ch)
	defer o.waiters.Delete(id)

	o.dispatchAll(ctx, stored)

	ctx, span := toolgateotel.StartApprovalSpan(ctx, id, req.TimeoutSecs)
	defer span.End()

	timer := time.NewTimer(time.Duration(req.TimeoutSecs) * time.Second)
	defer timer.Stop()

	select {
	case status := <-ch:
		return status, id, nil

	case <-timer.C:
		status := o.expire(context.WithoutCancel(ctx), id)
		return status, id, nil

	case <-ctx.Done():
		slog.Warn("approval waiter cancelled, request stays pending",
			"request_id", id,
			"command", req.Command,
		)
		return "", id, ctx.Err()
	}
}

// SubmitDecision is the single external write path into the engine. It
// records an approver's vote and, when the vote satisfies the request's
// approver policy, performs the exactly-once resolution and wakes the
// waiting caller. Late votes are acknowledged with Ignored=true and never
// surface as errors.
func (o *Orchestrator) SubmitDecision(ctx context.Context, id, approverID string, approved bool, comment string) (approvalstore.RecordResult, error) {
	d := approval.Decision{
		ApproverID: approverID,
		Approved:   approved,
		Comment:    comment,
		DecidedAt:  o.now(),
	}

	res, err := o.store.RecordDecision(ctx, id, d)
	if err != nil {
		return approvalstore.RecordResult{}, fmt.Errorf("record decision: %w", err)
	}

	detail := ""
	if res.Ignored {
		detail = "ignored: request already resolved"
	}
	o.sink.Record(ctx, audit.Entry{
		Time:      d.DecidedAt,
		Kind:      audit.KindApprovalDecision,
		Actor:     approverID,
		RequestID: id,
		Level:     decisionWord(approved),
		Detail:    detail,
	})

	if res.Ignored {
		slog.Info("late approval decision ignored",
			"request_id", id,
			"approver", approverID,
			"final_status", res.Status,
		)
		return res, nil
	}

	o.observe(func(obs dispatch.Observer) {
		obs.DecisionRecorded(ctx, id, approverID, approved)
	})

	if res.Transitioned {
		o.finish(ctx, id, res.Status)
	}
	return res, nil
}

// observe invokes fn on every dispatch channel that also reports
// lifecycle events.
func (o *Orchestrator) observe(fn func(dispatch.Observer)) {
	for _, d := range o.dispatchers {
		if obs, ok := d.(dispatch.Observer); ok {
			fn(obs)
		}
	}
}

// Run starts the expiry sweeper, which catches requests whose deadline
// passed with no waiter attached (the waiter was cancelled, or the process
// restarted with pending requests in a durable store). It blocks until ctx
// is done.
func (o *Orchestrator) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			o.sweep(ctx)
		}
	}
}

func (o *Orchestrator) sweep(ctx context.Context) {
	pending, err := o.store.ListPending(ctx)
	if err != nil {
		slog.Error("expiry sweep: list pending failed", "error", err)
		return
	}

	now := o.now()
	for i := range pending {
		if now.After(pending[i].Deadline()) {
			o.expire(ctx, pending[i].ID)
		}
	}
}

// expire resolves a request as Expired unless a decision already won the
// race; either way the terminal status is returned.
func (o *Orchestrator) expire(ctx context.Context, id string) approval.Status {
	res, err := o.store.Expire(ctx, id)
	if err != nil {
		slog.Error("expire approval request failed", "request_id", id, "error", err)
		return approval.StatusExpired
	}
	if res.Transitioned {
		o.finish(ctx, id, res.Status)
	}
	return res.Status
}

// finish is called exactly once per request, by whichever path won the
// status transition. It audits the resolution and signals the waiter.
func (o *Orchestrator) finish(ctx context.Context, id string, status approval.Status) {
	entry := audit.Entry{
		Time:      o.now(),
		Kind:      audit.KindApprovalResolved,
		RequestID: id,
		Level:     string(status),
	}

	seconds := 0.0
	if req, err := o.store.Get(ctx, id); err == nil {
		entry.Command = req.Command
		if req.ResolvedAt != nil {
			seconds = req.ResolvedAt.Sub(req.CreatedAt).Seconds()
		}
	}
	o.sink.Record(ctx, entry)
	o.metrics.RecordApprovalResolved(ctx, string(status), seconds)
	o.observe(func(obs dispatch.Observer) {
		obs.Resolved(ctx, id, status)
	})

	if ch, ok := o.waiters.Load(id); ok {
		select {
		case ch.(chan approval.Status) <- status:
		default:
		}
	} else {
		slog.Info("approval resolved with no waiter attached",
			"request_id", id,
			"status", status,
		)
	}
}

// dispatchAll fans the request out to every registered channel. Failures
// are logged and counted but never abort the wait: other approvers may
// still respond, and absence of approval resolves as Expired, never as an
// implicit allow.
func (o *Orchestrator) dispatchAll(ctx context.Context, req approval.Request) {
	if len(o.dispatchers) == 0 {
		slog.Warn("no dispatch channels registered, approval relies on direct decision submission",
			"request_id", req.ID,
		)
		return
	}

	g, gctx := errgroup.WithContext(context.WithoutCancel(ctx))
	var mu sync.Mutex
	reached := 0

	for _, d := range o.dispatchers {
		g.Go(func() error {
			err := o.breakers[d.Name()].Execute(func() error {
				return d.Notify(gctx, req)
			})
			if err != nil {
				o.metrics.RecordDispatchFailure(ctx, d.Name())
				slog.Warn("approval dispatch failed",
					"channel", d.Name(),
					"request_id", req.ID,
					"error", err,
				)
				return nil
			}
			mu.Lock()
			reached++
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	if reached == 0 {
		slog.Warn("no approvers could be reached, request will expire unless a decision arrives",
			"request_id", req.ID,
			"channels", len(o.dispatchers),
		)
	}
}

func decisionWord(approved bool) string {
	if approved {
		return "approve"
	}
	return "deny"
}

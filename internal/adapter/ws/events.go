package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/toolgate/toolgate/internal/domain/approval"
)

// Event type constants for WebSocket messages.
const (
	EventApprovalRequested = "approval.requested"
	EventApprovalDecision  = "approval.decision"
	EventApprovalResolved  = "approval.resolved"
)

// ApprovalRequestedEvent is broadcast when a command is waiting for approval.
type ApprovalRequestedEvent struct {
	RequestID   string    `json:"request_id"`
	Command     string    `json:"command"`
	WorkingDir  string    `json:"working_dir,omitempty"`
	Context     string    `json:"context,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	TimeoutSecs int       `json:"timeout_secs"`
	Approvers   []string  `json:"approvers,omitempty"`
}

// ApprovalDecisionEvent is broadcast when an approver votes on a request.
type ApprovalDecisionEvent struct {
	RequestID  string `json:"request_id"`
	ApproverID string `json:"approver_id"`
	Approved   bool   `json:"approved"`
}

// ApprovalResolvedEvent is broadcast when a request reaches a terminal status.
type ApprovalResolvedEvent struct {
	RequestID string `json:"request_id"`
	Status    string `json:"status"`
}

// BroadcastEvent is a convenience method that marshals a typed event and broadcasts it.
func (h *Hub) BroadcastEvent(ctx context.Context, eventType string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		slog.Error("marshal ws event payload", "type", eventType, "error", err)
		return
	}

	h.Broadcast(ctx, Message{
		Type:    eventType,
		Payload: json.RawMessage(data),
	})
}

// Dispatcher adapts the hub to the notification port so pending requests
// reach connected approver UIs.
type Dispatcher struct {
	hub *Hub
}

// NewDispatcher wraps hub as a notification channel.
func NewDispatcher(hub *Hub) *Dispatcher {
	return &Dispatcher{hub: hub}
}

// Name identifies the channel.
func (d *Dispatcher) Name() string { return "websocket" }

// DecisionRecorded broadcasts an approval.decision event.
func (d *Dispatcher) DecisionRecorded(ctx context.Context, requestID, approverID string, approved bool) {
	d.hub.BroadcastEvent(ctx, EventApprovalDecision, ApprovalDecisionEvent{
		RequestID:  requestID,
		ApproverID: approverID,
		Approved:   approved,
	})
}

// Resolved broadcasts an approval.resolved event.
func (d *Dispatcher) Resolved(ctx context.Context, requestID string, status approval.Status) {
	d.hub.BroadcastEvent(ctx, EventApprovalResolved, ApprovalResolvedEvent{
		RequestID: requestID,
		Status:    string(status),
	})
}

// Notify broadcasts an approval.requested event to all connected clients.
func (d *Dispatcher) Notify(ctx context.Context, req approval.Request) error {
	d.hub.BroadcastEvent(ctx, EventApprovalRequested, ApprovalRequestedEvent{
		RequestID:   req.ID,
		Command:     req.Command,
		WorkingDir:  req.WorkingDir,
		Context:     req.Context,
		CreatedAt:   req.CreatedAt,
		TimeoutSecs: req.TimeoutSecs,
		Approvers:   req.Policy.Approvers,
	})
	return nil
}

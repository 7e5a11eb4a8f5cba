// Package dispatch defines the notification port used to alert approvers of
// a pending request. Implementations (message bus, WebSocket hub, webhooks)
// live under internal/adapter; a dispatch failure is logged and never aborts
// the approval wait, since other channels may still reach an approver.
package dispatch

import (
	"context"
	"errors"

	"github.com/toolgate/toolgate/internal/domain/approval"
)

// ErrNotConfigured is returned when a dispatcher is missing required
// configuration.
var ErrNotConfigured = errors.New("dispatch: not configured")

// Dispatcher delivers an approval request to one notification channel.
type Dispatcher interface {
	// Name returns the unique identifier for this channel (e.g. "nats",
	// "websocket", "webhook").
	Name() string

	// Notify alerts the channel's approvers of a pending request.
	Notify(ctx context.Context, req approval.Request) error
}

// Observer is an optional extension of Dispatcher for channels that also
// surface lifecycle events after the initial notification. Both calls are
// fire-and-forget.
type Observer interface {
	// DecisionRecorded reports an approver's vote on a pending request.
	DecisionRecorded(ctx context.Context, requestID, approverID string, approved bool)

	// Resolved reports the terminal status of a request.
	Resolved(ctx context.Context, requestID string, status approval.Status)
}

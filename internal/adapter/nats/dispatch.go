// Package nats publishes approval traffic over NATS JetStream. Pending
// requests go out on approvals.request.<id>; approver decisions come back
// on approvals.decision.<id> and are fed to the orchestrator.
package nats

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/toolgate/toolgate/internal/domain/approval"
)

const (
	streamName      = "TOOLGATE"
	requestSubject  = "approvals.request."
	decisionSubject = "approvals.decision."
)

// requestEvent is the wire form of a pending approval notification.
type requestEvent struct {
	ID          string    `json:"id"`
	Command     string    `json:"command"`
	WorkingDir  string    `json:"working_dir,omitempty"`
	Context     string    `json:"context,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	TimeoutSecs int       `json:"timeout_secs"`
	Approvers   []string  `json:"approvers,omitempty"`
}

// decisionEvent is the wire form of an approver decision.
type decisionEvent struct {
	RequestID  string `json:"request_id"`
	ApproverID string `json:"approver_id"`
	Approved   bool   `json:"approved"`
	Comment    string `json:"comment,omitempty"`
}

// DecisionHandler receives decisions consumed from the bus.
type DecisionHandler func(ctx context.Context, id, approverID string, approved bool, comment string) error

// Bus holds the JetStream connection shared by the dispatcher and the
// decision consumer.
type Bus struct {
	nc *nats.Conn
	js jetstream.JetStream
}

// Connect establishes a connection to NATS and ensures the approvals
// stream exists.
func Connect(ctx context.Context, url string) (*Bus, error) {
	nc, err := nats.Connect(url)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("jetstream init: %w", err)
	}

	_, err = js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:     streamName,
		Subjects: []string{"approvals.>"},
	})
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("jetstream stream create: %w", err)
	}

	slog.Info("nats connected", "url", url, "stream", streamName)
	return &Bus{nc: nc, js: js}, nil
}

// Dispatcher returns a dispatch.Dispatcher backed by this bus.
func (b *Bus) Dispatcher() *Dispatcher {
	return &Dispatcher{bus: b}
}

// Dispatcher publishes pending approval requests to JetStream.
type Dispatcher struct {
	bus *Bus
}

// Name identifies the channel.
func (d *Dispatcher) Name() string { return "nats" }

// Notify publishes the request on approvals.request.<id>.
func (d *Dispatcher) Notify(ctx context.Context, req approval.Request) error {
	ev := requestEvent{
		ID:          req.ID,
		Command:     req.Command,
		WorkingDir:  req.WorkingDir,
		Context:     req.Context,
		CreatedAt:   req.CreatedAt,
		TimeoutSecs: req.TimeoutSecs,
		Approvers:   req.Policy.Approvers,
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal request event: %w", err)
	}

	if _, err := d.bus.js.Publish(ctx, requestSubject+req.ID, data); err != nil {
		return fmt.Errorf("nats publish %s: %w", requestSubject+req.ID, err)
	}
	return nil
}

// ConsumeDecisions subscribes to approvals.decision.> and forwards each
// decision to the handler. Returns a stop function.
func (b *Bus) ConsumeDecisions(ctx context.Context, handler DecisionHandler) (func(), error) {
	consumer, err := b.js.CreateOrUpdateConsumer(ctx, streamName, jetstream.ConsumerConfig{
		FilterSubject: decisionSubject + ">",
		AckPolicy:     jetstream.AckExplicitPolicy,
	})
	if err != nil {
		return nil, fmt.Errorf("nats consumer create: %w", err)
	}

	cons, err := consumer.Consume(func(msg jetstream.Msg) {
		var ev decisionEvent
		if err := json.Unmarshal(msg.Data(), &ev); err != nil {
			slog.Error("decision event decode failed", "subject", msg.Subject(), "error", err)
			// Malformed payloads are never going to parse; drop them.
			if ackErr := msg.Ack(); ackErr != nil {
				slog.Error("nats ack failed", "error", ackErr)
			}
			return
		}

		if err := handler(context.Background(), ev.RequestID, ev.ApproverID, ev.Approved, ev.Comment); err != nil {
			slog.Error("decision submit failed", "request_id", ev.RequestID, "approver", ev.ApproverID, "error", err)
			if nakErr := msg.Nak(); nakErr != nil {
				slog.Error("nats nak failed", "error", nakErr)
			}
			return
		}
		if ackErr := msg.Ack(); ackErr != nil {
			slog.Error("nats ack failed", "error", ackErr)
		}
	})
	if err != nil {
		return nil, fmt.Errorf("nats consume: %w", err)
	}

	return cons.Stop, nil
}

// VerdictKV creates or binds the KV bucket used as the shared L2 verdict
// cache. ttl applies at bucket level.
func (b *Bus) VerdictKV(ctx context.Context, ttl time.Duration) (jetstream.KeyValue, error) {
	kv, err := b.js.CreateOrUpdateKeyValue(ctx, jetstream.KeyValueConfig{
		Bucket: "toolgate-verdicts",
		TTL:    ttl,
	})
	if err != nil {
		return nil, fmt.Errorf("jetstream kv create: %w", err)
	}
	return kv, nil
}

// Close shuts down the NATS connection.
func (b *Bus) Close() error {
	b.nc.Close()
	return nil
}

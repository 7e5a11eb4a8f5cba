package otel

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "toolgate"

// Metrics holds all Toolgate metric instruments. A nil *Metrics is valid
// and records nothing, so callers never need to guard instrumentation.
type Metrics struct {
	Checks            metric.Int64Counter
	CacheHits         metric.Int64Counter
	CacheMisses       metric.Int64Counter
	ApprovalsCreated  metric.Int64Counter
	ApprovalsResolved metric.Int64Counter
	DispatchFailures  metric.Int64Counter
	ResolutionSeconds metric.Float64Histogram
}

// NewMetrics creates all metric instruments.
func NewMetrics() (*Metrics, error) {
	meter := otel.Meter(meterName)
	m := &Metrics{}
	var err error

	m.Checks, err = meter.Int64Counter("toolgate.permission.checks",
		metric.WithDescription("Number of permission checks by resulting level"))
	if err != nil {
		return nil, err
	}

	m.CacheHits, err = meter.Int64Counter("toolgate.permission.cache_hits",
		metric.WithDescription("Number of verdict cache hits"))
	if err != nil {
		return nil, err
	}

	m.CacheMisses, err = meter.Int64Counter("toolgate.permission.cache_misses",
		metric.WithDescription("Number of verdict cache misses"))
	if err != nil {
		return nil, err
	}

	m.ApprovalsCreated, err = meter.Int64Counter("toolgate.approvals.created",
		metric.WithDescription("Number of approval requests created"))
	if err != nil {
		return nil, err
	}

	m.ApprovalsResolved, err = meter.Int64Counter("toolgate.approvals.resolved",
		metric.WithDescription("Number of approval requests resolved by final status"))
	if err != nil {
		return nil, err
	}

	m.DispatchFailures, err = meter.Int64Counter("toolgate.dispatch.failures",
		metric.WithDescription("Number of failed notification dispatches"))
	if err != nil {
		return nil, err
	}

	m.ResolutionSeconds, err = meter.Float64Histogram("toolgate.approvals.resolution_seconds",
		metric.WithDescription("Time from approval request creation to resolution"))
	if err != nil {
		return nil, err
	}

	return m, nil
}

// RecordCheck counts a permission check with its resulting level.
func (m *Metrics) RecordCheck(ctx context.Context, level string, cached bool) {
	if m == nil {
		return
	}
	m.Checks.Add(ctx, 1, metric.WithAttributes(attribute.String("level", level)))
	if cached {
		m.CacheHits.Add(ctx, 1)
	} else {
		m.CacheMisses.Add(ctx, 1)
	}
}

// RecordApprovalCreated counts a new approval request.
func (m *Metrics) RecordApprovalCreated(ctx context.Context) {
	if m == nil {
		return
	}
	m.ApprovalsCreated.Add(ctx, 1)
}

// RecordApprovalResolved counts a resolution and its latency.
func (m *Metrics) RecordApprovalResolved(ctx context.Context, status string, seconds float64) {
	if m == nil {
		return
	}
	m.ApprovalsResolved.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
	m.ResolutionSeconds.Record(ctx, seconds, metric.WithAttributes(attribute.String("status", status)))
}

// RecordDispatchFailure counts a failed notification dispatch.
func (m *Metrics) RecordDispatchFailure(ctx context.Context, channel string) {
	if m == nil {
		return
	}
	m.DispatchFailures.Add(ctx, 1, metric.WithAttributes(attribute.String("channel", channel)))
}

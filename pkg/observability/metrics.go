package observability

import (
	"context"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics holds the orchestration instruments
type Metrics struct {
	meter metric.Meter

	// Counters
	plansCreatedTotal      metric.Int64Counter
	plansFinishedTotal     metric.Int64Counter
	subtasksFinishedTotal  metric.Int64Counter
	evidenceItemsTotal     metric.Int64Counter
	relationshipsTotal     metric.Int64Counter
	synthesesTotal         metric.Int64Counter
	llmRequestsTotal       metric.Int64Counter

	// Histograms
	subtaskDuration    metric.Float64Histogram
	llmRequestDuration metric.Float64Histogram

	// Gauges (async instruments over the atomics below)
	workingAgents   metric.Int64ObservableGauge
	pendingSubtasks metric.Int64ObservableGauge

	workingAgentCount   atomic.Int64
	pendingSubtaskCount atomic.Int64
}

// NewMetrics creates and registers all instruments on the meter
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{meter: meter}

	var err error

	m.plansCreatedTotal, err = meter.Int64Counter(
		"plans_created_total",
		metric.WithDescription("Total number of research plans created"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, err
	}

	m.plansFinishedTotal, err = meter.Int64Counter(
		"plans_finished_total",
		metric.WithDescription("Total number of plans reaching a terminal status"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, err
	}

	m.subtasksFinishedTotal, err = meter.Int64Counter(
		"subtasks_finished_total",
		metric.WithDescription("Total number of subtasks reaching a terminal status"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, err
	}

	m.evidenceItemsTotal, err = meter.Int64Counter(
		"evidence_items_total",
		metric.WithDescription("Total number of evidence items stored"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, err
	}

	m.relationshipsTotal, err = meter.Int64Counter(
		"evidence_relationships_total",
		metric.WithDescription("Total number of evidence relationships inferred"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, err
	}

	m.synthesesTotal, err = meter.Int64Counter(
		"syntheses_generated_total",
		metric.WithDescription("Total number of syntheses generated"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, err
	}

	m.llmRequestsTotal, err = meter.Int64Counter(
		"llm_requests_total",
		metric.WithDescription("Total number of completion requests"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, err
	}

	m.subtaskDuration, err = meter.Float64Histogram(
		"subtask_duration_seconds",
		metric.WithDescription("Duration of subtask execution in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	m.llmRequestDuration, err = meter.Float64Histogram(
		"llm_request_duration_seconds",
		metric.WithDescription("Duration of completion requests in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	m.workingAgents, err = meter.Int64ObservableGauge(
		"working_agents",
		metric.WithDescription("Number of agents currently executing a task"),
		metric.WithUnit("1"),
		metric.WithInt64Callback(func(_ context.Context, o metric.Int64Observer) error {
			o.Observe(m.workingAgentCount.Load())
			return nil
		}),
	)
	if err != nil {
		return nil, err
	}

	m.pendingSubtasks, err = meter.Int64ObservableGauge(
		"pending_subtasks",
		metric.WithDescription("Number of subtasks waiting for an agent"),
		metric.WithUnit("1"),
		metric.WithInt64Callback(func(_ context.Context, o metric.Int64Observer) error {
			o.Observe(m.pendingSubtaskCount.Load())
			return nil
		}),
	)
	if err != nil {
		return nil, err
	}

	return m, nil
}

// RecordPlanCreated counts one created plan
func (m *Metrics) RecordPlanCreated(ctx context.Context) {
	m.plansCreatedTotal.Add(ctx, 1)
}

// RecordPlanFinished counts one terminal plan by status
func (m *Metrics) RecordPlanFinished(ctx context.Context, status string) {
	m.plansFinishedTotal.Add(ctx, 1,
		metric.WithAttributes(attribute.String("status", status)))
}

// RecordSubtaskFinished counts one terminal subtask and its duration
func (m *Metrics) RecordSubtaskFinished(ctx context.Context, status string, duration time.Duration) {
	m.subtasksFinishedTotal.Add(ctx, 1,
		metric.WithAttributes(attribute.String("status", status)))
	m.subtaskDuration.Record(ctx, duration.Seconds(),
		metric.WithAttributes(attribute.String("status", status)))
}

// RecordEvidenceAdded counts stored evidence items
func (m *Metrics) RecordEvidenceAdded(ctx context.Context, count int) {
	if count > 0 {
		m.evidenceItemsTotal.Add(ctx, int64(count))
	}
}

// RecordRelationshipsInferred counts stored relationship edges
func (m *Metrics) RecordRelationshipsInferred(ctx context.Context, count int) {
	if count > 0 {
		m.relationshipsTotal.Add(ctx, int64(count))
	}
}

// RecordSynthesis counts one generated synthesis
func (m *Metrics) RecordSynthesis(ctx context.Context, lowConfidence bool) {
	confidence := "normal"
	if lowConfidence {
		confidence = "low"
	}
	m.synthesesTotal.Add(ctx, 1,
		metric.WithAttributes(attribute.String("confidence", confidence)))
}

// RecordLLMRequest counts one completion request and its duration
func (m *Metrics) RecordLLMRequest(ctx context.Context, provider, model string, duration time.Duration, success bool) {
	status := "success"
	if !success {
		status = "error"
	}
	attrs := metric.WithAttributes(
		attribute.String("provider", provider),
		attribute.String("model", model),
		attribute.String("status", status),
	)
	m.llmRequestsTotal.Add(ctx, 1, attrs)
	m.llmRequestDuration.Record(ctx, duration.Seconds(), attrs)
}

// SetWorkingAgents updates the working-agent gauge value
func (m *Metrics) SetWorkingAgents(n int64) {
	m.workingAgentCount.Store(n)
}

// SetPendingSubtasks updates the pending-subtask gauge value
func (m *Metrics) SetPendingSubtasks(n int64) {
	m.pendingSubtaskCount.Store(n)
}

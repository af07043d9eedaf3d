package observability

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// InstrumentAgentExecution wraps one agent execution attempt in a span
func (t *Telemetry) InstrumentAgentExecution(ctx context.Context, agentID, capability string, fn func(context.Context) error) error {
	ctx, span := t.StartSpan(ctx, "agent.execute",
		trace.WithAttributes(
			attribute.String("agent.id", agentID),
			attribute.String("agent.capability", capability),
		),
	)
	defer span.End()

	startTime := time.Now()
	err := fn(ctx)
	duration := time.Since(startTime)

	status := "success"
	if err != nil {
		status = "error"
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}

	span.SetAttributes(
		attribute.String("status", status),
		attribute.Float64("duration.seconds", duration.Seconds()),
	)
	return err
}

// InstrumentLLMCall wraps a completion call in a span
func (t *Telemetry) InstrumentLLMCall(ctx context.Context, provider, model string, fn func(context.Context) error) error {
	ctx, span := t.StartSpan(ctx, "llm.complete",
		trace.WithAttributes(
			attribute.String("llm.provider", provider),
			attribute.String("llm.model", model),
		),
	)
	defer span.End()

	startTime := time.Now()
	err := fn(ctx)
	duration := time.Since(startTime)

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}

	span.SetAttributes(
		attribute.Float64("duration.seconds", duration.Seconds()),
	)
	return err
}

// InstrumentRetrieval wraps an external search call in a span
func (t *Telemetry) InstrumentRetrieval(ctx context.Context, query string, fn func(context.Context) (int, error)) error {
	ctx, span := t.StartSpan(ctx, "retrieval.search",
		trace.WithAttributes(
			attribute.Int("query.length", len(query)),
		),
	)
	defer span.End()

	startTime := time.Now()
	hits, err := fn(ctx)
	duration := time.Since(startTime)

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
		span.SetAttributes(attribute.Int("retrieval.hits", hits))
	}

	span.SetAttributes(
		attribute.Float64("duration.seconds", duration.Seconds()),
	)
	return err
}

// StartPlanRun starts a root span covering one plan from creation to finish
func (t *Telemetry) StartPlanRun(ctx context.Context, planID, query string) (context.Context, trace.Span) {
	return t.StartSpan(ctx, "plan.run",
		trace.WithAttributes(
			attribute.String("plan.id", planID),
			attribute.Int("query.length", len(query)),
		),
	)
}

// InstrumentInference wraps one relationship inference pass in a span
func (t *Telemetry) InstrumentInference(ctx context.Context, planID string, fn func(context.Context) (int, error)) (int, error) {
	ctx, span := t.StartSpan(ctx, "evidence.infer_relationships",
		trace.WithAttributes(
			attribute.String("plan.id", planID),
		),
	)
	defer span.End()

	added, err := fn(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return added, err
	}

	span.SetStatus(codes.Ok, "")
	span.SetAttributes(attribute.Int("relationships.added", added))
	return added, nil
}

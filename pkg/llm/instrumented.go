package llm

import (
	"context"
	"time"

	"github.com/evidencechain/orchestrator/pkg/domain"
	"github.com/evidencechain/orchestrator/pkg/observability"
)

// InstrumentedCompletion wraps a CompletionService with tracing and metrics
type InstrumentedCompletion struct {
	inner     domain.CompletionService
	provider  string
	model     string
	telemetry *observability.Telemetry
	metrics   *observability.Metrics
}

// NewInstrumentedCompletion wraps inner. Either telemetry or metrics may be
// nil; the corresponding signal is skipped.
func NewInstrumentedCompletion(inner domain.CompletionService, provider, model string, telemetry *observability.Telemetry, metrics *observability.Metrics) *InstrumentedCompletion {
	return &InstrumentedCompletion{
		inner:     inner,
		provider:  provider,
		model:     model,
		telemetry: telemetry,
		metrics:   metrics,
	}
}

var _ domain.CompletionService = (*InstrumentedCompletion)(nil)

func (c *InstrumentedCompletion) Complete(ctx context.Context, prompt string) (string, error) {
	start := time.Now()

	var response string
	var err error
	if c.telemetry != nil {
		err = c.telemetry.InstrumentLLMCall(ctx, c.provider, c.model, func(ctx context.Context) error {
			var callErr error
			response, callErr = c.inner.Complete(ctx, prompt)
			return callErr
		})
	} else {
		response, err = c.inner.Complete(ctx, prompt)
	}

	if c.metrics != nil {
		c.metrics.RecordLLMRequest(ctx, c.provider, c.model, time.Since(start), err == nil)
	}
	return response, err
}

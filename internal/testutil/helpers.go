package testutil

import (
	"context"
	"testing"
	"time"

	"github.com/evidencechain/orchestrator/pkg/domain"
	"github.com/evidencechain/orchestrator/pkg/observability"
)

// TestTimeout provides a standard timeout for test contexts
const TestTimeout = 5 * time.Second

// NewTestContext creates a context with standard test timeout
func NewTestContext(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), TestTimeout)
	t.Cleanup(cancel)
	return ctx
}

// NewTestSubtask creates a pending research subtask
func NewTestSubtask(id, planID, title string) *domain.Subtask {
	return &domain.Subtask{
		ID:                 id,
		PlanID:             planID,
		Title:              title,
		Status:             domain.SubtaskStatusPending,
		Priority:           1,
		RequiredCapability: domain.CapabilityResearch,
		CreatedAt:          time.Now(),
	}
}

// NewTestDraft creates an evidence draft with both scores set
func NewTestDraft(content string, relevance, confidence float64) domain.EvidenceDraft {
	return domain.EvidenceDraft{
		Content:    content,
		Source:     "https://example.com/source",
		SourceType: domain.SourceTypeWeb,
		Relevance:  &relevance,
		Confidence: &confidence,
	}
}

// NewUnscoredDraft creates an evidence draft without scores
func NewUnscoredDraft(content string) domain.EvidenceDraft {
	return domain.EvidenceDraft{
		Content:    content,
		SourceType: domain.SourceTypeDocumentation,
	}
}

// SetupTestTelemetry creates a no-export telemetry instance for tests
func SetupTestTelemetry(t *testing.T) *observability.Telemetry {
	t.Helper()
	config := &observability.TelemetryConfig{
		ServiceName:    "eco-test",
		ServiceVersion: "test",
		Environment:    "test",
		EnableTracing:  false,
		EnableMetrics:  false,
		SamplingRate:   1.0,
	}
	telemetry, err := observability.NewTelemetry(config)
	if err != nil {
		t.Fatalf("test telemetry: %v", err)
	}
	t.Cleanup(func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = telemetry.Shutdown(shutdownCtx)
	})
	return telemetry
}

// WaitFor polls cond until it returns true or the deadline passes
func WaitFor(t *testing.T, timeout time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met within %s: %s", timeout, msg)
}

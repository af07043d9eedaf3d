package domain

import (
	"context"
)

// PlannerService drafts the ordered subtasks for a research query. It may
// itself call an LLM; the orchestration core only sees the result.
type PlannerService interface {
	// GenerateSubtasks returns between 3 and maxSteps subtask drafts for the
	// query. Returning zero subtasks is treated as a planning failure by the
	// caller.
	GenerateSubtasks(ctx context.Context, query, domain string, maxSteps int) ([]*Subtask, error)
}

// CompletionService is the narrow text-generation interface consumed for
// relationship inference and synthesis text.
type CompletionService interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// RetrievalService performs external search (web or RAG) on behalf of
// research and evidence agents.
type RetrievalService interface {
	Search(ctx context.Context, query string) ([]RetrievedDocument, error)
}

// PersistenceGateway is the durability boundary. The core operates on
// in-memory state and calls the gateway at terminal transitions.
type PersistenceGateway interface {
	SavePlan(ctx context.Context, plan *Plan) error
	LoadPlan(ctx context.Context, planID string) (*Plan, error)
	SaveEvidence(ctx context.Context, planID string, items []EvidenceItem, relationships []EvidenceRelationship) error
	SaveSynthesis(ctx context.Context, synthesis *Synthesis) error
}

// EventSink receives fire-and-forget notifications. Implementations must
// never block the orchestrator loop.
type EventSink interface {
	Emit(event Event)
}

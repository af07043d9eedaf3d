package testutil

import (
	"context"
	"fmt"
	"sync"

	"github.com/evidencechain/orchestrator/pkg/domain"
)

// MockPlanner is a mock implementation of PlannerService for testing
type MockPlanner struct {
	mu        sync.Mutex
	Subtasks  []*domain.Subtask
	CallCount int
	LastQuery string
	Err       error
	// GenerateFunc allows custom planning behavior for tests
	GenerateFunc func(ctx context.Context, query, researchDomain string, maxSteps int) ([]*domain.Subtask, error)
}

// NewMockPlanner creates a mock planner that returns count generic subtasks
func NewMockPlanner(count int) *MockPlanner {
	subtasks := make([]*domain.Subtask, 0, count)
	for i := 0; i < count; i++ {
		subtasks = append(subtasks, &domain.Subtask{
			Title:              fmt.Sprintf("Investigate aspect %d", i+1),
			Description:        fmt.Sprintf("Collect findings on aspect %d of the query", i+1),
			RequiredCapability: domain.CapabilityResearch,
			Priority:           count - i,
		})
	}
	return &MockPlanner{Subtasks: subtasks}
}

// GenerateSubtasks implements domain.PlannerService
func (m *MockPlanner) GenerateSubtasks(ctx context.Context, query, researchDomain string, maxSteps int) ([]*domain.Subtask, error) {
	m.mu.Lock()
	m.CallCount++
	m.LastQuery = query
	m.mu.Unlock()

	if m.GenerateFunc != nil {
		return m.GenerateFunc(ctx, query, researchDomain, maxSteps)
	}
	if m.Err != nil {
		return nil, m.Err
	}

	out := make([]*domain.Subtask, 0, len(m.Subtasks))
	for _, st := range m.Subtasks {
		copied := *st
		out = append(out, &copied)
	}
	if len(out) > maxSteps {
		out = out[:maxSteps]
	}
	return out, nil
}

// MockCompletion is a mock implementation of CompletionService for testing
type MockCompletion struct {
	mu           sync.Mutex
	Response     string
	Err          error
	CallCount    int
	LastPrompt   string
	Prompts      []string
	CompleteFunc func(ctx context.Context, prompt string) (string, error)
}

// Complete implements domain.CompletionService
func (m *MockCompletion) Complete(ctx context.Context, prompt string) (string, error) {
	m.mu.Lock()
	m.CallCount++
	m.LastPrompt = prompt
	m.Prompts = append(m.Prompts, prompt)
	fn := m.CompleteFunc
	m.mu.Unlock()

	if fn != nil {
		return fn(ctx, prompt)
	}
	if m.Err != nil {
		return "", m.Err
	}
	if m.Response == "" {
		return "mock completion", nil
	}
	return m.Response, nil
}

// Calls returns the number of Complete calls made
func (m *MockCompletion) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.CallCount
}

// MockRetrieval is a mock implementation of RetrievalService for testing
type MockRetrieval struct {
	mu         sync.Mutex
	Documents  []domain.RetrievedDocument
	Err        error
	CallCount  int
	LastQuery  string
	SearchFunc func(ctx context.Context, query string) ([]domain.RetrievedDocument, error)
}

// Search implements domain.RetrievalService
func (m *MockRetrieval) Search(ctx context.Context, query string) ([]domain.RetrievedDocument, error) {
	m.mu.Lock()
	m.CallCount++
	m.LastQuery = query
	fn := m.SearchFunc
	m.mu.Unlock()

	if fn != nil {
		return fn(ctx, query)
	}
	if m.Err != nil {
		return nil, m.Err
	}
	return m.Documents, nil
}

// MockGateway is an in-memory PersistenceGateway that records calls
type MockGateway struct {
	mu            sync.Mutex
	Plans         map[string]*domain.Plan
	Evidence      map[string][]domain.EvidenceItem
	Relationships map[string][]domain.EvidenceRelationship
	Syntheses     map[string]*domain.Synthesis
	SavePlanErr   error
	PlanSaves     int
}

// NewMockGateway creates an empty mock gateway
func NewMockGateway() *MockGateway {
	return &MockGateway{
		Plans:         make(map[string]*domain.Plan),
		Evidence:      make(map[string][]domain.EvidenceItem),
		Relationships: make(map[string][]domain.EvidenceRelationship),
		Syntheses:     make(map[string]*domain.Synthesis),
	}
}

// SavePlan implements domain.PersistenceGateway
func (g *MockGateway) SavePlan(ctx context.Context, plan *domain.Plan) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.SavePlanErr != nil {
		return g.SavePlanErr
	}
	g.PlanSaves++
	copied := *plan
	g.Plans[plan.ID] = &copied
	return nil
}

// LoadPlan implements domain.PersistenceGateway
func (g *MockGateway) LoadPlan(ctx context.Context, planID string) (*domain.Plan, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	plan, ok := g.Plans[planID]
	if !ok {
		return nil, fmt.Errorf("plan not found: %s", planID)
	}
	copied := *plan
	return &copied, nil
}

// SaveEvidence implements domain.PersistenceGateway
func (g *MockGateway) SaveEvidence(ctx context.Context, planID string, items []domain.EvidenceItem, relationships []domain.EvidenceRelationship) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.Evidence[planID] = append([]domain.EvidenceItem(nil), items...)
	g.Relationships[planID] = append([]domain.EvidenceRelationship(nil), relationships...)
	return nil
}

// SaveSynthesis implements domain.PersistenceGateway
func (g *MockGateway) SaveSynthesis(ctx context.Context, synthesis *domain.Synthesis) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	copied := *synthesis
	g.Syntheses[synthesis.PlanID] = &copied
	return nil
}

// CaptureSink is an EventSink that records every emitted event
type CaptureSink struct {
	mu     sync.Mutex
	Events []domain.Event
}

// Emit implements domain.EventSink
func (s *CaptureSink) Emit(event domain.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Events = append(s.Events, event)
}

// All returns a copy of the captured events
func (s *CaptureSink) All() []domain.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.Event(nil), s.Events...)
}

// ByType returns captured events matching the given type
func (s *CaptureSink) ByType(eventType domain.EventType) []domain.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Event
	for _, ev := range s.Events {
		if ev.Type == eventType {
			out = append(out, ev)
		}
	}
	return out
}

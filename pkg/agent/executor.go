package agent

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/evidencechain/orchestrator/pkg/domain"
)

// Executor performs the actual work of one subtask. Implementations must be
// safe for concurrent use; one executor instance may back several agents.
type Executor interface {
	Execute(ctx context.Context, subtask *domain.Subtask) (*ExecutionOutput, error)
}

// ResearchExecutor runs research subtasks: it searches the retrieval service
// for the subtask topic and asks the completion service for a short analysis
// of the hits.
type ResearchExecutor struct {
	Retrieval  domain.RetrievalService
	Completion domain.CompletionService
	MaxResults int
}

func (e *ResearchExecutor) Execute(ctx context.Context, subtask *domain.Subtask) (*ExecutionOutput, error) {
	docs, err := e.Retrieval.Search(ctx, subtask.Title)
	if err != nil {
		return nil, fmt.Errorf("retrieval failed: %w", err)
	}

	max := e.MaxResults
	if max <= 0 {
		max = 5
	}
	if len(docs) > max {
		docs = docs[:max]
	}

	output := &ExecutionOutput{}
	for _, doc := range docs {
		output.Drafts = append(output.Drafts, draftFromDocument(doc))
	}

	if e.Completion != nil && len(docs) > 0 {
		insight, err := e.summarize(ctx, subtask, docs)
		if err == nil && insight != "" {
			output.Insights = append(output.Insights, insight)
			output.Summary = insight
		}
	}
	return output, nil
}

func (e *ResearchExecutor) summarize(ctx context.Context, subtask *domain.Subtask, docs []domain.RetrievedDocument) (string, error) {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Research topic: %s\n\nFindings:\n", subtask.Title)
	for _, doc := range docs {
		fmt.Fprintf(&sb, "- %s\n", firstLine(doc.Content, 300))
	}
	sb.WriteString("\nState the single most important insight from these findings in one or two sentences.")

	response, err := e.Completion.Complete(ctx, sb.String())
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(response), nil
}

// EvidenceExecutor runs evidence-gathering subtasks. Unlike research it keeps
// every scored hit as a draft and adds no generated insight.
type EvidenceExecutor struct {
	Retrieval  domain.RetrievalService
	MaxResults int
}

func (e *EvidenceExecutor) Execute(ctx context.Context, subtask *domain.Subtask) (*ExecutionOutput, error) {
	query := subtask.Title
	if subtask.Description != "" {
		query = query + " " + subtask.Description
	}

	docs, err := e.Retrieval.Search(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("retrieval failed: %w", err)
	}

	max := e.MaxResults
	if max <= 0 {
		max = 10
	}
	if len(docs) > max {
		docs = docs[:max]
	}

	output := &ExecutionOutput{}
	for _, doc := range docs {
		output.Drafts = append(output.Drafts, draftFromDocument(doc))
	}
	return output, nil
}

// SynthesisExecutor runs synthesis-capability subtasks: it condenses the
// working plan and prior insights into a new insight via the completion
// service. It collects no evidence.
type SynthesisExecutor struct {
	Completion domain.CompletionService
}

func (e *SynthesisExecutor) Execute(ctx context.Context, subtask *domain.Subtask) (*ExecutionOutput, error) {
	prompt := fmt.Sprintf(
		"Subtask: %s\n%s\n\nWrite one concise analytical insight that moves this work forward.",
		subtask.Title, subtask.WorkingPlan)

	response, err := e.Completion.Complete(ctx, prompt)
	if err != nil {
		return nil, fmt.Errorf("completion failed: %w", err)
	}

	insight := strings.TrimSpace(response)
	return &ExecutionOutput{
		Insights: []string{insight},
		Summary:  insight,
	}, nil
}

func draftFromDocument(doc domain.RetrievedDocument) domain.EvidenceDraft {
	source := doc.SourceURL
	if source == "" {
		source = doc.SourceTitle
	}
	return domain.EvidenceDraft{
		Content:    doc.Content,
		Source:     source,
		SourceType: domain.SourceTypeWeb,
		Relevance:  doc.RelevanceScore,
		Confidence: doc.ConfidenceScore,
	}
}

// firstLine returns the first line of s capped at max bytes, never cutting
// inside a rune.
func firstLine(s string, max int) string {
	if idx := strings.IndexByte(s, '\n'); idx >= 0 {
		s = s[:idx]
	}
	if len(s) > max {
		cut := max
		for cut > 0 && !utf8.RuneStart(s[cut]) {
			cut--
		}
		s = s[:cut]
	}
	return s
}

package llm

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/evidencechain/orchestrator/pkg/domain"
)

const planPromptTemplate = `You are planning a research effort.

Research query: %s
Domain: %s

Break the work into %d or fewer concrete research steps, at least 3. Respond
with one step per line, numbered, in execution order. Prefix a step with
[evidence] when it should gather scored sources rather than explore, and
[synthesis] when it should condense prior findings. Example:

1. Survey recent publications on the topic
2. [evidence] Collect market size figures from industry reports
3. [synthesis] Summarize the strongest findings`

// Planner drafts subtasks by prompting a completion service
type Planner struct {
	completion domain.CompletionService
}

// NewPlanner creates an LLM-backed planner
func NewPlanner(completion domain.CompletionService) *Planner {
	return &Planner{completion: completion}
}

var _ domain.PlannerService = (*Planner)(nil)

// GenerateSubtasks prompts for a numbered step list and parses it into
// subtask drafts. Steps keep their listed order through descending priority.
func (p *Planner) GenerateSubtasks(ctx context.Context, query, researchDomain string, maxSteps int) ([]*domain.Subtask, error) {
	prompt := fmt.Sprintf(planPromptTemplate, query, researchDomain, maxSteps)

	response, err := p.completion.Complete(ctx, prompt)
	if err != nil {
		return nil, fmt.Errorf("plan generation failed: %w", err)
	}

	subtasks := parsePlanResponse(response, maxSteps)
	if len(subtasks) == 0 {
		return nil, fmt.Errorf("no steps in plan response")
	}
	return subtasks, nil
}

// parsePlanResponse extracts numbered lines as subtask drafts. Lines without
// a leading number are ignored; capability markers are stripped from titles.
func parsePlanResponse(response string, maxSteps int) []*domain.Subtask {
	var subtasks []*domain.Subtask
	now := time.Now()

	for _, line := range strings.Split(response, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		title, ok := stripListMarker(line)
		if !ok {
			continue
		}

		capability := domain.CapabilityResearch
		if marked, rest := stripTag(title, "[evidence]"); marked {
			capability = domain.CapabilityEvidence
			title = rest
		} else if marked, rest := stripTag(title, "[synthesis]"); marked {
			capability = domain.CapabilitySynthesis
			title = rest
		}
		if title == "" {
			continue
		}

		subtasks = append(subtasks, &domain.Subtask{
			Title:              title,
			Status:             domain.SubtaskStatusPending,
			Priority:           maxSteps - len(subtasks),
			RequiredCapability: capability,
			CreatedAt:          now,
		})
		if len(subtasks) == maxSteps {
			break
		}
	}
	return subtasks
}

// stripListMarker removes a leading "N." / "N)" / "-" marker
func stripListMarker(line string) (string, bool) {
	i := 0
	for i < len(line) && line[i] >= '0' && line[i] <= '9' {
		i++
	}
	if i > 0 && i < len(line) && (line[i] == '.' || line[i] == ')') {
		return strings.TrimSpace(line[i+1:]), true
	}
	if strings.HasPrefix(line, "- ") {
		return strings.TrimSpace(line[2:]), true
	}
	return "", false
}

func stripTag(s, tag string) (bool, string) {
	if strings.HasPrefix(strings.ToLower(s), tag) {
		return true, strings.TrimSpace(s[len(tag):])
	}
	return false, s
}

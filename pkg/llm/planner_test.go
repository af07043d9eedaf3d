package llm

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/evidencechain/orchestrator/internal/testutil"
	"github.com/evidencechain/orchestrator/pkg/domain"
)

func TestGenerateSubtasks(t *testing.T) {
	completion := &testutil.MockCompletion{Response: `Here is the plan:

1. Survey recent grid storage deployments
2. [evidence] Collect battery pack price series from industry reports
3) Compare utility procurement strategies
4. [synthesis] Summarize the strongest findings`}

	planner := NewPlanner(completion)
	subtasks, err := planner.GenerateSubtasks(context.Background(), "grid storage economics", "energy", 10)
	require.NoError(t, err)
	require.Len(t, subtasks, 4)

	assert.Equal(t, "Survey recent grid storage deployments", subtasks[0].Title)
	assert.Equal(t, domain.CapabilityResearch, subtasks[0].RequiredCapability)
	assert.Equal(t, 10, subtasks[0].Priority)

	assert.Equal(t, "Collect battery pack price series from industry reports", subtasks[1].Title)
	assert.Equal(t, domain.CapabilityEvidence, subtasks[1].RequiredCapability)
	assert.Equal(t, 9, subtasks[1].Priority)

	assert.Equal(t, domain.CapabilityResearch, subtasks[2].RequiredCapability)

	assert.Equal(t, domain.CapabilitySynthesis, subtasks[3].RequiredCapability)
	assert.Equal(t, 7, subtasks[3].Priority)

	for _, st := range subtasks {
		assert.Equal(t, domain.SubtaskStatusPending, st.Status)
	}
}

func TestGenerateSubtasksCapsSteps(t *testing.T) {
	completion := &testutil.MockCompletion{Response: `1. one
2. two
3. three
4. four
5. five`}

	planner := NewPlanner(completion)
	subtasks, err := planner.GenerateSubtasks(context.Background(), "query", "", 3)
	require.NoError(t, err)
	assert.Len(t, subtasks, 3)
}

func TestGenerateSubtasksErrors(t *testing.T) {
	t.Run("completion failure", func(t *testing.T) {
		planner := NewPlanner(&testutil.MockCompletion{Err: fmt.Errorf("model offline")})
		_, err := planner.GenerateSubtasks(context.Background(), "query", "", 5)
		require.Error(t, err)
	})

	t.Run("no numbered lines", func(t *testing.T) {
		planner := NewPlanner(&testutil.MockCompletion{Response: "I would research the topic thoroughly."})
		_, err := planner.GenerateSubtasks(context.Background(), "query", "", 5)
		require.Error(t, err)
	})
}

func TestParsePlanResponse(t *testing.T) {
	tests := []struct {
		name       string
		response   string
		wantTitles []string
	}{
		{
			"dash markers",
			"- first step\n- second step",
			[]string{"first step", "second step"},
		},
		{
			"skips prose and blanks",
			"Sure, here you go:\n\n1. only real step\nThanks!",
			[]string{"only real step"},
		},
		{
			"skips empty titles",
			"1.\n2. a usable step",
			[]string{"a usable step"},
		},
		{
			"empty response",
			"",
			nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			subtasks := parsePlanResponse(tt.response, 10)
			var titles []string
			for _, st := range subtasks {
				titles = append(titles, st.Title)
			}
			assert.Equal(t, tt.wantTitles, titles)
		})
	}
}

func TestStripListMarker(t *testing.T) {
	tests := []struct {
		in     string
		want   string
		wantOK bool
	}{
		{"1. step one", "step one", true},
		{"12) step twelve", "step twelve", true},
		{"- dashed step", "dashed step", true},
		{"no marker here", "", false},
		{"3 missing separator", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, ok := stripListMarker(tt.in)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

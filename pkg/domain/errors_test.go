package domain

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsTransient(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"explicit transient", Transient(errors.New("timeout")), true},
		{"explicit fatal", Fatal(errors.New("bad request")), false},
		{"unclassified defaults to transient", errors.New("something"), true},
		{"wrapped fatal stays fatal", fmt.Errorf("attempt 2: %w", Fatal(errors.New("bad model"))), false},
		{"wrapped transient stays transient", fmt.Errorf("attempt 2: %w", Transient(errors.New("reset"))), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsTransient(tt.err))
		})
	}
}

func TestClassifiersPreserveNil(t *testing.T) {
	assert.NoError(t, Transient(nil))
	assert.NoError(t, Fatal(nil))
}

func TestSubtaskStatusTerminal(t *testing.T) {
	assert.False(t, SubtaskStatusPending.Terminal())
	assert.False(t, SubtaskStatusInProgress.Terminal())
	assert.True(t, SubtaskStatusCompleted.Terminal())
	assert.True(t, SubtaskStatusFailed.Terminal())
	assert.True(t, SubtaskStatusCancelled.Terminal())
}

func TestValidRelationshipType(t *testing.T) {
	for _, rt := range []RelationshipType{RelationSupports, RelationContradicts, RelationExtends, RelationClarifies, RelationDependsOn} {
		assert.True(t, ValidRelationshipType(rt), string(rt))
	}
	assert.False(t, ValidRelationshipType("duplicates"))
	assert.False(t, ValidRelationshipType(""))
}

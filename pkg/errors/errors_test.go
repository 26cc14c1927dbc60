package errors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorKinds(t *testing.T) {
	tests := []struct {
		name  string
		err   error
		check func(error) bool
	}{
		{"validation", Validation("missing field %q", "type"), IsValidation},
		{"conversion is validation", Conversion("bad int"), IsValidation},
		{"template", Template("absent"), IsTemplate},
		{"inference is template", TypeInference("mixed list"), IsTemplate},
		{"node", Node("boom", errors.New("io")), IsNode},
		{"address", Address("no node"), IsAddress},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.True(t, tt.check(tt.err))
			assert.True(t, tt.check(fmt.Errorf("wrapped: %w", tt.err)))
		})
	}
}

func TestErrorFormatting(t *testing.T) {
	err := NewError(KindNode, "ensure file", errors.New("permission denied"))
	assert.Equal(t, "[NODE] ensure file: permission denied", err.Error())
	assert.Equal(t, "[VALIDATION] x", Validation("x").Error())
	assert.False(t, IsTemplate(err))
}

func TestProcessingError(t *testing.T) {
	cause := Node("failed", nil)
	err := NewProcessingError("<job.g.0>", "process", "abc", cause)
	assert.Contains(t, err.Error(), "<job.g.0> failed during process (flow abc)")
	assert.True(t, IsNode(err))

	again := NewProcessingError("<job.g.1>", "forward", "", err)
	assert.Same(t, err, again)
	assert.Nil(t, NewProcessingError("x", "y", "", nil))
}

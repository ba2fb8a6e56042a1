package core_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/recallhq/recall-go/pkg/core"
)

func TestRecallErrorFormat(t *testing.T) {
	err := &core.RecallError{Op: "Submit", Err: core.ErrValidation}
	assert.Equal(t, "recall: Submit: invalid input", err.Error())
}

func TestRecallErrorUnwrapsForErrorsIs(t *testing.T) {
	wrapped := core.NewError("Retrieve", fmt.Errorf("vector: %w", core.ErrTimeout))
	require.Error(t, wrapped)
	assert.ErrorIs(t, wrapped, core.ErrTimeout)

	var recallErr *core.RecallError
	require.ErrorAs(t, wrapped, &recallErr)
	assert.Equal(t, "Retrieve", recallErr.Op)
}

func TestNewErrorIsNilSafe(t *testing.T) {
	assert.NoError(t, core.NewError("Submit", nil))
}

func TestSentinelsAreDistinct(t *testing.T) {
	sentinels := []error{
		core.ErrValidation,
		core.ErrAdapter,
		core.ErrTimeout,
		core.ErrCapacity,
		core.ErrCompensation,
		core.ErrNotFound,
		core.ErrInvalidConfig,
		core.ErrClosed,
	}
	for i, a := range sentinels {
		for j, b := range sentinels {
			if i == j {
				continue
			}
			assert.False(t, errors.Is(a, b), "%v should not match %v", a, b)
		}
	}
}

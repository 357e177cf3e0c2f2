package terminal

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vision_automation/domain/entities"
)

func TestParseStep(t *testing.T) {
	spec, err := ParseStep("click Submit")
	require.NoError(t, err)
	assert.Equal(t, entities.ActionClick, spec.Kind)
	assert.Equal(t, "Submit", spec.Label)
	assert.Nil(t, spec.Index)

	spec, err = ParseStep("click OK #1")
	require.NoError(t, err)
	assert.Equal(t, "OK", spec.Label)
	require.NotNil(t, spec.Index)
	assert.Equal(t, 1, *spec.Index)

	spec, err = ParseStep("type User name = alice smith")
	require.NoError(t, err)
	assert.Equal(t, entities.ActionType, spec.Kind)
	assert.Equal(t, "User name", spec.Label)
	assert.Equal(t, "alice smith", spec.Value)

	spec, err = ParseStep("clear Amount = 42")
	require.NoError(t, err)
	assert.Equal(t, entities.ActionClearAndType, spec.Kind)

	spec, err = ParseStep("WAIT Loading complete")
	require.NoError(t, err)
	assert.Equal(t, entities.ActionWaitFor, spec.Kind)
	assert.Equal(t, "Loading complete", spec.Label)

	spec, err = ParseStep("click Order #A1")
	require.NoError(t, err)
	assert.Equal(t, "Order #A1", spec.Label)
	assert.Nil(t, spec.Index)
}

func TestParseStep_Errors(t *testing.T) {
	for _, line := range []string{
		"hover Menu",
		"click",
		"type Username",
		"click OK #-1",
		"type = value",
	} {
		_, err := ParseStep(line)
		assert.Error(t, err, line)
	}
}

func TestParseSteps_ReportsLine(t *testing.T) {
	_, err := ParseSteps([]string{"click Login", "drag Slider"})
	assert.ErrorContains(t, err, "step 2")
}

package utils

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type quotaBody struct {
	Tool      string `json:"tool" validate:"required,toolname"`
	MaxPerDay *int   `json:"max_calls_per_day" validate:"omitempty,gte=0"`
	Order     string `json:"order" validate:"omitempty,oneof=asc desc"`
}

func TestValidateStruct(t *testing.T) {
	t.Run("valid", func(t *testing.T) {
		day := 10
		assert.NoError(t, ValidateStruct(quotaBody{Tool: "llm_math", MaxPerDay: &day, Order: "asc"}))
	})

	t.Run("field errors use json names", func(t *testing.T) {
		day := -1
		err := ValidateStruct(quotaBody{Tool: "Web Search", MaxPerDay: &day, Order: "sideways"})
		require.Error(t, err)
		require.True(t, IsValidationError(err))

		fields := GetValidationFields(err)
		assert.Equal(t, "tool must be a lowercase tool name", fields["tool"])
		assert.Equal(t, "max_calls_per_day must be greater than or equal to 0", fields["max_calls_per_day"])
		assert.Equal(t, "order must be one of: asc desc", fields["order"])
	})

	t.Run("required", func(t *testing.T) {
		fields := GetValidationFields(ValidateStruct(quotaBody{}))
		assert.Equal(t, "tool is required", fields["tool"])
	})
}

func TestValidateToolName(t *testing.T) {
	assert.NoError(t, ValidateToolName("tavily_search"))
	assert.NoError(t, ValidateToolName("llm_math"))
	assert.Error(t, ValidateToolName(""))
	assert.Error(t, ValidateToolName("../etc"))
	assert.Error(t, ValidateToolName("Search"))
}

func TestValidationHelpersOnOtherErrors(t *testing.T) {
	err := errors.New("boom")
	assert.False(t, IsValidationError(err))
	assert.Nil(t, GetValidationFields(err))
}

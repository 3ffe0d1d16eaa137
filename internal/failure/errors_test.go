package failure

import (
	"errors"
	"fmt"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{"nil", nil, ""},
		{"configuration", NewConfigurationError("multifamily_expense", map[string]any{"year_built": 2500}), KindConfiguration},
		{"missing", NewMissingDependency("expense_ratio", "expense_rate"), KindMissingDependency},
		{"degenerate", NewDegenerate("cap_rate", "assessed_value is zero"), KindArithmeticDegenerate},
		{"plain", errors.New("disk full"), KindInternal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.err))
		})
	}
}

func TestClassify_SurvivesWrapping(t *testing.T) {
	inner := NewMissingDependency("", "sales_comp")

	assert.Equal(t, KindMissingDependency, Classify(fmt.Errorf("provider: %w", inner)))
	assert.Equal(t, KindMissingDependency, Classify(eris.Wrap(inner, "pipeline: run stage")))
	assert.True(t, IsMissingDependency(eris.Wrap(eris.Wrap(inner, "a"), "b")))
}

func TestConfigurationError_Message(t *testing.T) {
	err := NewConfigurationError("multifamily_expense", map[string]any{
		"year_built": 2500,
		"unit_count": 40,
	})
	assert.Equal(t, "configuration: no multifamily_expense bucket matches {unit_count=40, year_built=2500}", err.Error())
}

func TestMissingDependencyError_Message(t *testing.T) {
	assert.Contains(t, NewMissingDependency("expense_ratio", "expense_rate").Error(), "upstream stage expense_ratio incomplete")
	assert.Contains(t, NewMissingDependency("", "vacancy").Error(), "vacancy not found")
}

func TestIsHelpers_Negative(t *testing.T) {
	err := errors.New("boom")
	assert.False(t, IsConfiguration(err))
	assert.False(t, IsMissingDependency(err))
	assert.False(t, IsDegenerate(err))
	assert.False(t, IsDegenerate(nil))
}

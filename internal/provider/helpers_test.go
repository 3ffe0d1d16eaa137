package provider

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/underwrite-cli/internal/aggregate"
	"github.com/sells-group/underwrite-cli/internal/model"
	"github.com/sells-group/underwrite-cli/internal/store"
)

type mockResults struct {
	mock.Mock
}

func (m *mockResults) QueryResults(ctx context.Context, propertyID, resultType string, limit int) ([]model.LookupResult, error) {
	args := m.Called(ctx, propertyID, resultType, limit)
	return args.Get(0).([]model.LookupResult), args.Error(1)
}

type mockSettings struct {
	mock.Mock
}

func (m *mockSettings) GetSetting(ctx context.Context, key string) (json.RawMessage, error) {
	args := m.Called(ctx, key)
	raw, _ := args.Get(0).(json.RawMessage)
	return raw, args.Error(1)
}

func ptr[T any](v T) *T { return &v }

// multifamilyAgg is a 1990 build with 40 units on record and ten 2bd/1ba
// units at $1,200.
func multifamilyAgg() *aggregate.Aggregate {
	return &aggregate.Aggregate{
		ID:     "mf-1",
		Family: model.FamilyMultiFamily,
		Stage:  model.StageExpenseRatio,
		Units: []model.UnitConfiguration{
			{ID: "u1", Bedrooms: 2, Bathrooms: 1, Quantity: 10, RentAVM: ptr(1200.0)},
		},
		Meta: map[string]string{
			model.MetaYearBuilt:     "1990",
			model.MetaUnitCount:     "40",
			model.MetaAssessedValue: "2000000",
			model.MetaVacancy:       "0.05",
		},
		Payloads: map[string][]byte{},
	}
}

// residentialAgg is a 1975 3bd/2ba single family home of 1,500 sq ft.
func residentialAgg() *aggregate.Aggregate {
	return &aggregate.Aggregate{
		ID:     "sf-1",
		Family: model.FamilySingleFamily,
		Stage:  model.StageExpenseRatio,
		Units: []model.UnitConfiguration{
			{ID: "u1", Bedrooms: 3, Bathrooms: 2, Quantity: 1, RentAVM: ptr(2000.0), RentFMR: ptr(1800.0)},
		},
		Meta: map[string]string{
			model.MetaYearBuilt:     "1975",
			model.MetaSquareFootage: "1500",
			model.MetaBedrooms:      "3",
			model.MetaUnitCount:     "1",
		},
		Payloads: map[string][]byte{},
	}
}

// applyMeta copies a batch's meta writes into agg, the way a commit and a
// reload would.
func applyMeta(agg *aggregate.Aggregate, b *store.Batch) {
	for _, m := range b.Meta {
		agg.Meta[m.Key] = m.Value
	}
}

// runExpense runs the expense stage for agg and folds its output back in.
func runExpense(t *testing.T, m Model, agg *aggregate.Aggregate) {
	t.Helper()
	b := store.NewBatch(agg.ID)
	_, err := NewExpenseRatio(m, "").Run(context.Background(), agg, b)
	require.NoError(t, err)
	applyMeta(agg, b)
}

func compRow(t *testing.T, id string, c model.SalesComp) model.LookupResult {
	t.Helper()
	raw, err := json.Marshal(c)
	require.NoError(t, err)
	return model.LookupResult{ID: id, ResultType: model.ResultSalesComp, Data: raw}
}

package provider

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/underwrite-cli/internal/aggregate"
	"github.com/sells-group/underwrite-cli/internal/failure"
	"github.com/sells-group/underwrite-cli/internal/model"
	"github.com/sells-group/underwrite-cli/internal/store"
)

func decodeMultifamily(t *testing.T, b *store.Batch) MultifamilyProjection {
	t.Helper()
	require.Len(t, b.Results, 1)
	require.Len(t, b.Results[0].Records, 1)
	var mf MultifamilyProjection
	require.NoError(t, json.Unmarshal(b.Results[0].Records[0], &mf))
	return mf
}

func TestFinancialProjections_Multifamily(t *testing.T) {
	agg := multifamilyAgg()
	runExpense(t, Multifamily(), agg)

	b := store.NewBatch(agg.ID)
	out, err := NewFinancialProjections(Multifamily(), Deps{}).Run(context.Background(), agg, b)
	require.NoError(t, err)
	assert.Equal(t, model.ResultFinancialProjection, b.Results[0].ResultType)
	assert.Equal(t, model.WriteReplace, b.Results[0].Mode)

	mf := decodeMultifamily(t, b)

	// EGI = 1200 * 12 * 0.95 * 10, expense rate 0.50.
	require.Len(t, mf.Projections, ProjectionYears)
	assert.InDelta(t, 136_800.0, mf.Projections[0].EGI, 1e-6)
	assert.InDelta(t, 68_400.0, mf.Projections[0].Expenses, 1e-6)
	assert.InDelta(t, 68_400.0, mf.Projections[0].NOI, 1e-6)
	for i := 1; i < len(mf.Projections); i++ {
		prev, cur := mf.Projections[i-1], mf.Projections[i]
		assert.Equal(t, i+1, cur.Year)
		assert.InDelta(t, prev.EGI, cur.EGI, 1e-9, "EGI holds flat")
		assert.InDelta(t, prev.Expenses*1.03, cur.Expenses, 1e-6)
		assert.InDelta(t, prev.NOI*1.03, cur.NOI, 1e-6)
		assert.Greater(t, cur.Expenses, prev.Expenses)
		assert.Greater(t, cur.NOI, prev.NOI)
	}

	// Offer = 2,000,000 * 0.75 - 7,000 * 40 units.
	assert.InDelta(t, 1_220_000.0, mf.OfferPrice, 1e-6)
	assert.InDelta(t, 366_000.0, mf.Purchase.DownPayment, 1e-6)
	assert.InDelta(t, 854_000.0, mf.Purchase.LoanPayoff, 1e-6)
	assert.InDelta(t, 646_000.0, mf.Purchase.EquityInvested, 1e-6)
	assert.InDelta(t, 0.0342, mf.BaseCapRate, 1e-12)

	require.Len(t, mf.ExitScenarios, 6)
	labels := map[string]int{}
	for _, s := range mf.ExitScenarios {
		labels[s.Label]++
		assert.Contains(t, ExitYears, s.ExitYear)
		assert.InDelta(t, mf.Projections[s.ExitYear-1].NOI/s.CapRate, s.ExitValue, 1e-6)
		assert.InDelta(t, s.ExitValue-mf.Purchase.LoanPayoff, s.NetProceeds, 1e-6)
	}
	assert.Equal(t, map[string]int{ScenarioStress: 2, ScenarioBase: 2, ScenarioUpside: 2}, labels)

	base3 := mf.ExitScenarios[2]
	assert.Equal(t, ScenarioBase, base3.Label)
	assert.Equal(t, 3, base3.ExitYear)
	// 68,400 * 1.03^2 / 0.0342.
	assert.InDelta(t, 2_121_800.0, base3.ExitValue, 1e-4)
	assert.InDelta(t, (1_267_800.0-646_000.0)/646_000.0/3, base3.ARR, 1e-9)
	assert.InDelta(t, 0.0342-CapRateSpread, mf.ExitScenarios[0].CapRate, 1e-12)
	assert.InDelta(t, 0.0342+CapRateSpread, mf.ExitScenarios[4].CapRate, 1e-12)

	applyMeta(agg, b)
	assert.Equal(t, "1220000", agg.Meta[model.MetaOfferPrice])
	assert.Equal(t, "0.0342", agg.Meta[model.MetaCapRate])
	assert.InDelta(t, 1_220_000.0, out.Values[model.MetaOfferPrice], 1e-6)
}

func TestFinancialProjections_MultifamilyVacancyFromSettings(t *testing.T) {
	agg := multifamilyAgg()
	delete(agg.Meta, model.MetaVacancy)
	runExpense(t, Multifamily(), agg)

	settings := new(mockSettings)
	settings.On("GetSetting", mock.Anything, model.SettingMarketDefaults).
		Return(json.RawMessage(`{"vacancy":0.05}`), nil)

	b := store.NewBatch(agg.ID)
	_, err := NewFinancialProjections(Multifamily(), Deps{Settings: settings}).Run(context.Background(), agg, b)
	require.NoError(t, err)
	mf := decodeMultifamily(t, b)
	assert.InDelta(t, 0.05, mf.Vacancy, 1e-12)
	assert.InDelta(t, 136_800.0, mf.Projections[0].EGI, 1e-6)
	settings.AssertExpectations(t)
}

func TestFinancialProjections_MultifamilyVacancyMissing(t *testing.T) {
	agg := multifamilyAgg()
	delete(agg.Meta, model.MetaVacancy)
	runExpense(t, Multifamily(), agg)

	settings := new(mockSettings)
	settings.On("GetSetting", mock.Anything, model.SettingMarketDefaults).
		Return(nil, store.ErrNotFound)

	b := store.NewBatch(agg.ID)
	_, err := NewFinancialProjections(Multifamily(), Deps{Settings: settings}).Run(context.Background(), agg, b)
	require.Error(t, err)
	assert.True(t, failure.IsMissingDependency(err))
	assert.True(t, b.Empty())
}

func TestFinancialProjections_MultifamilyErrors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(agg *aggregate.Aggregate)
		kind   failure.Kind
	}{
		{"expense stage not run", func(a *aggregate.Aggregate) { delete(a.Meta, model.MetaExpenseRate) }, failure.KindMissingDependency},
		{"missing rent", func(a *aggregate.Aggregate) { a.Units[0].RentAVM = nil }, failure.KindMissingDependency},
		{"negative rent", func(a *aggregate.Aggregate) { a.Units[0].RentAVM = ptr(-1200.0) }, failure.KindArithmeticDegenerate},
		{"zero assessed value", func(a *aggregate.Aggregate) { a.Meta[model.MetaAssessedValue] = "0" }, failure.KindArithmeticDegenerate},
		{"missing assessed value", func(a *aggregate.Aggregate) { delete(a.Meta, model.MetaAssessedValue) }, failure.KindMissingDependency},
		{"vacancy of one", func(a *aggregate.Aggregate) { a.Meta[model.MetaVacancy] = "1" }, failure.KindArithmeticDegenerate},
		{"stress cap not positive", func(a *aggregate.Aggregate) { a.Meta[model.MetaAssessedValue] = "100000000" }, failure.KindArithmeticDegenerate},
		{"renovation exceeds value", func(a *aggregate.Aggregate) { a.Meta[model.MetaUnitCount] = "400" }, failure.KindArithmeticDegenerate},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			agg := multifamilyAgg()
			runExpense(t, Multifamily(), agg)
			tt.mutate(agg)

			b := store.NewBatch(agg.ID)
			_, err := NewFinancialProjections(Multifamily(), Deps{}).Run(context.Background(), agg, b)
			require.Error(t, err)
			assert.Equal(t, tt.kind, failure.Classify(err), err.Error())
			assert.True(t, b.Empty())
		})
	}
}

func TestFinancialProjections_Residential(t *testing.T) {
	agg := residentialAgg()
	runExpense(t, Residential(), agg)

	results := new(mockResults)
	results.On("QueryResults", mock.Anything, agg.ID, model.ResultSalesComp, 0).Return([]model.LookupResult{
		compRow(t, "c1", model.SalesComp{Address: "1 A St", Price: 300_000, SquareFootage: ptr(1400.0)}),
		compRow(t, "c2", model.SalesComp{Address: "2 B St", Price: 330_000, SquareFootage: ptr(1600.0)}),
		compRow(t, "c3", model.SalesComp{Address: "3 C St", Price: 310_000}),
	}, nil)

	b := store.NewBatch(agg.ID)
	_, err := NewFinancialProjections(Residential(), Deps{Results: results}).Run(context.Background(), agg, b)
	require.NoError(t, err)

	require.Len(t, b.Results, 1)
	var rp ResidentialProjection
	require.NoError(t, json.Unmarshal(b.Results[0].Records[0], &rp))

	wantPPF := (300_000.0/1400 + 330_000.0/1600) / 2
	assert.InDelta(t, wantPPF, rp.PricePerFoot, 1e-9)
	assert.InDelta(t, 210.267857, rp.PricePerFoot, 1e-6)
	assert.InDelta(t, wantPPF*1500, rp.ARV, 1e-6)
	assert.InDelta(t, wantPPF*1500*0.75-7000, rp.OfferPrice, 1e-6)
	assert.Equal(t, 2, rp.CompsUsed)
	assert.Equal(t, 3, rp.CompsTotal)

	// 2000 * 12 * 0.9 less a 35% expense ratio.
	assert.InDelta(t, 14_040.0, rp.MarketNOI, 1e-6)
	require.NotNil(t, rp.FMRNOI)
	assert.InDelta(t, 12_636.0, *rp.FMRNOI, 1e-6)

	var shape map[string]any
	require.NoError(t, json.Unmarshal(b.Results[0].Records[0], &shape))
	for _, k := range []string{"pricePerFoot", "marketNOI", "fmrNOI", "ARV", "offer_price"} {
		assert.Contains(t, shape, k)
	}

	applyMeta(agg, b)
	assert.Contains(t, agg.Meta, model.MetaARV)
	assert.Contains(t, agg.Meta, model.MetaOfferPrice)
	results.AssertExpectations(t)
}

func TestFinancialProjections_ResidentialNoFMR(t *testing.T) {
	agg := residentialAgg()
	agg.Units[0].RentFMR = nil
	runExpense(t, Residential(), agg)

	results := new(mockResults)
	results.On("QueryResults", mock.Anything, agg.ID, model.ResultSalesComp, 0).Return([]model.LookupResult{
		compRow(t, "c1", model.SalesComp{Price: 300_000, SquareFootage: ptr(1500.0)}),
	}, nil)

	b := store.NewBatch(agg.ID)
	_, err := NewFinancialProjections(Residential(), Deps{Results: results}).Run(context.Background(), agg, b)
	require.NoError(t, err)

	var shape map[string]any
	require.NoError(t, json.Unmarshal(b.Results[0].Records[0], &shape))
	assert.Contains(t, shape, "fmrNOI")
	assert.Nil(t, shape["fmrNOI"])
}

func TestFinancialProjections_ResidentialNegativeRent(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(u *model.UnitConfiguration)
	}{
		{"market", func(u *model.UnitConfiguration) { u.RentAVM = ptr(-2000.0) }},
		{"fair market", func(u *model.UnitConfiguration) { u.RentFMR = ptr(-1800.0) }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			agg := residentialAgg()
			runExpense(t, Residential(), agg)
			tt.mutate(&agg.Units[0])

			results := new(mockResults)
			results.On("QueryResults", mock.Anything, agg.ID, model.ResultSalesComp, 0).Return([]model.LookupResult{
				compRow(t, "c1", model.SalesComp{Price: 300_000, SquareFootage: ptr(1500.0)}),
			}, nil).Maybe()

			b := store.NewBatch(agg.ID)
			_, err := NewFinancialProjections(Residential(), Deps{Results: results}).Run(context.Background(), agg, b)
			require.Error(t, err)
			assert.True(t, failure.IsDegenerate(err), err.Error())
			assert.True(t, b.Empty())
		})
	}
}

func TestFinancialProjections_ResidentialComps(t *testing.T) {
	tests := []struct {
		name  string
		comps []model.SalesComp
		kind  failure.Kind
	}{
		{"no comps", nil, failure.KindMissingDependency},
		{"no square footage", []model.SalesComp{{Price: 1}, {Price: 2, SquareFootage: ptr(0.0)}}, failure.KindArithmeticDegenerate},
		{"only excluded", []model.SalesComp{{Price: 1, SquareFootage: ptr(10.0), Excluded: true}}, failure.KindArithmeticDegenerate},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			agg := residentialAgg()
			runExpense(t, Residential(), agg)

			rows := []model.LookupResult{}
			for i, c := range tt.comps {
				rows = append(rows, compRow(t, string(rune('a'+i)), c))
			}
			results := new(mockResults)
			results.On("QueryResults", mock.Anything, agg.ID, model.ResultSalesComp, 0).Return(rows, nil)

			b := store.NewBatch(agg.ID)
			_, err := NewFinancialProjections(Residential(), Deps{Results: results}).Run(context.Background(), agg, b)
			require.Error(t, err)
			assert.Equal(t, tt.kind, failure.Classify(err))
			assert.True(t, b.Empty())
		})
	}
}

func TestFinancialProjections_ResidentialStoreError(t *testing.T) {
	agg := residentialAgg()
	runExpense(t, Residential(), agg)

	results := new(mockResults)
	results.On("QueryResults", mock.Anything, agg.ID, model.ResultSalesComp, 0).
		Return([]model.LookupResult(nil), errors.New("connection reset"))

	_, err := NewFinancialProjections(Residential(), Deps{Results: results}).Run(context.Background(), agg, store.NewBatch(agg.ID))
	require.Error(t, err)
	assert.Equal(t, failure.KindInternal, failure.Classify(err))
}

func TestFinancialProjections_Idempotent(t *testing.T) {
	agg := multifamilyAgg()
	runExpense(t, Multifamily(), agg)
	p := NewFinancialProjections(Multifamily(), Deps{})

	first := store.NewBatch(agg.ID)
	_, err := p.Run(context.Background(), agg, first)
	require.NoError(t, err)
	second := store.NewBatch(agg.ID)
	_, err = p.Run(context.Background(), agg, second)
	require.NoError(t, err)

	assert.Equal(t, string(first.Results[0].Records[0]), string(second.Results[0].Records[0]))
	assert.Equal(t, string(first.Results[0].Input), string(second.Results[0].Input))
	assert.Equal(t, first.Meta, second.Meta)
}

func TestOperating_NOIIdentity(t *testing.T) {
	for _, rent := range []float64{0, 1, 950, 1200.5, 12_345.67} {
		for _, vacancy := range []float64{0, 0.05, 0.1, 0.5} {
			for _, rate := range []float64{0, 0.25, 0.45, 0.58, 1} {
				egi, expenses, noi := operating(rent, vacancy, rate)
				assert.Equal(t, egi-egi*rate, noi)
				assert.Equal(t, egi*rate, expenses)
				assert.GreaterOrEqual(t, noi, 0.0)
			}
		}
	}
}

func TestExitScenarios_ARRSign(t *testing.T) {
	p, err := purchaseEconomics(1_000_000, 50_000)
	require.NoError(t, err)

	for _, noi := range []float64{10_000, 40_000, 60_000, 90_000, 150_000} {
		proj := compound(YearProjection{EGI: noi * 2, Expenses: noi, NOI: noi}, 0.02, 0.03, ProjectionYears)
		scenarios, err := exitScenarios(0.06, proj, p)
		require.NoError(t, err)
		for _, s := range scenarios {
			switch {
			case s.NetProceeds > s.EquityInvested:
				assert.Greater(t, s.ARR, 0.0)
			case s.NetProceeds < s.EquityInvested:
				assert.Less(t, s.ARR, 0.0)
			default:
				assert.Equal(t, 0.0, s.ARR)
			}
			assert.False(t, math.IsNaN(s.ARR))
		}
	}
}

func TestCompound_UsesPriorYear(t *testing.T) {
	proj := compound(YearProjection{EGI: 100, Expenses: 40, NOI: 60}, 0.1, 0.2, 3)
	require.Len(t, proj, 3)
	assert.InDelta(t, 40*1.2*1.2, proj[2].Expenses, 1e-12)
	assert.InDelta(t, 60*1.1*1.1, proj[2].NOI, 1e-12)
	assert.InDelta(t, 100.0, proj[2].EGI, 1e-12)
}

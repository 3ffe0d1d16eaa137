package provider

import (
	"github.com/sells-group/underwrite-cli/internal/aggregate"
	"github.com/sells-group/underwrite-cli/internal/model"
	"github.com/sells-group/underwrite-cli/internal/ratetable"
	"github.com/sells-group/underwrite-cli/internal/store"
)

// ExpenseAssumptions is the typed form of what the expense ratio stage
// persists.
type ExpenseAssumptions struct {
	Rate            float64
	RateType        string
	RateRange       *ratetable.Range
	IncomeGrowth    float64
	ExpenseGrowth   float64
	RenovationScope ratetable.RenovationScope
	RenovationCost  float64
	Vacancy         *float64
}

// write buffers a into w.
func (a ExpenseAssumptions) write(w store.Writer, table string) error {
	payload := map[string]any{"table": table}
	if a.RateRange != nil {
		payload["min"] = a.RateRange.Min
		payload["max"] = a.RateRange.Max
	}
	if err := w.UpsertFloat(model.MetaExpenseRate, a.Rate); err != nil {
		return err
	}
	if err := w.UpsertMeta(model.MetaExpenseRateType, a.RateType, payload); err != nil {
		return err
	}
	if a.RateRange != nil {
		if err := w.UpsertFloat(model.MetaExpenseRateMin, a.RateRange.Min); err != nil {
			return err
		}
		if err := w.UpsertFloat(model.MetaExpenseRateMax, a.RateRange.Max); err != nil {
			return err
		}
	}
	if err := w.UpsertFloat(model.MetaIncomeGrowth, a.IncomeGrowth); err != nil {
		return err
	}
	if err := w.UpsertFloat(model.MetaExpenseGrowth, a.ExpenseGrowth); err != nil {
		return err
	}
	if err := w.UpsertMeta(model.MetaRenovationScope, string(a.RenovationScope), nil); err != nil {
		return err
	}
	if err := w.UpsertFloat(model.MetaRenovationCost, a.RenovationCost); err != nil {
		return err
	}
	if a.Vacancy != nil {
		return w.UpsertFloat(model.MetaVacancy, *a.Vacancy)
	}
	return nil
}

// loadExpenseAssumptions reads the persisted expense stage output. Vacancy
// is left nil when absent; the projection strategy decides the fallback.
func loadExpenseAssumptions(agg *aggregate.Aggregate) (ExpenseAssumptions, error) {
	var a ExpenseAssumptions
	var err error
	if a.Rate, err = agg.Float(model.MetaExpenseRate); err != nil {
		return a, err
	}
	a.RateType = agg.Meta[model.MetaExpenseRateType]
	if a.IncomeGrowth, err = agg.Float(model.MetaIncomeGrowth); err != nil {
		return a, err
	}
	if a.ExpenseGrowth, err = agg.Float(model.MetaExpenseGrowth); err != nil {
		return a, err
	}
	if a.RenovationCost, err = agg.Float(model.MetaRenovationCost); err != nil {
		return a, err
	}
	a.RenovationScope = ratetable.RenovationScope(agg.Meta[model.MetaRenovationScope])

	lo, hasLo, err := agg.OptionalFloat(model.MetaExpenseRateMin)
	if err != nil {
		return a, err
	}
	hi, hasHi, err := agg.OptionalFloat(model.MetaExpenseRateMax)
	if err != nil {
		return a, err
	}
	if hasLo && hasHi {
		a.RateRange = &ratetable.Range{Min: lo, Max: hi}
	}

	v, ok, err := agg.OptionalFloat(model.MetaVacancy)
	if err != nil {
		return a, err
	}
	if ok {
		a.Vacancy = &v
	}
	return a, nil
}

package provider

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/sells-group/underwrite-cli/internal/aggregate"
	"github.com/sells-group/underwrite-cli/internal/model"
	"github.com/sells-group/underwrite-cli/internal/ratetable"
	"github.com/sells-group/underwrite-cli/internal/store"
)

// ExpenseRatioProvider looks up the family's expense ratio and writes the
// operating assumptions the projection stage consumes.
type ExpenseRatioProvider struct {
	strategy     ExpenseRatioStrategy
	name         string
	defaultScope ratetable.RenovationScope
}

// NewExpenseRatio creates the expense ratio provider for m. defaultScope is
// used when the property has no renovation_scope yet.
func NewExpenseRatio(m Model, defaultScope ratetable.RenovationScope) *ExpenseRatioProvider {
	if defaultScope == "" {
		defaultScope = ratetable.ScopeLight
	}
	return &ExpenseRatioProvider{strategy: m, name: "expense_ratio:" + m.Name(), defaultScope: defaultScope}
}

func (p *ExpenseRatioProvider) Name() string       { return p.name }
func (p *ExpenseRatioProvider) Stage() model.Stage { return model.StageExpenseRatio }

func (p *ExpenseRatioProvider) Run(_ context.Context, agg *aggregate.Aggregate, w store.Writer) (*StageOutput, error) {
	a, err := p.Assumptions(agg)
	if err != nil {
		return nil, err
	}
	if err := a.write(w, p.strategy.Table().Name); err != nil {
		return nil, eris.Wrapf(err, "provider: %s buffer writes", p.name)
	}

	values := map[string]float64{
		model.MetaExpenseRate:    a.Rate,
		model.MetaIncomeGrowth:   a.IncomeGrowth,
		model.MetaExpenseGrowth:  a.ExpenseGrowth,
		model.MetaRenovationCost: a.RenovationCost,
	}
	if a.Vacancy != nil {
		values[model.MetaVacancy] = *a.Vacancy
	}
	return &StageOutput{Provider: p.name, Stage: p.Stage(), Values: values, Label: a.RateType}, nil
}

// Assumptions computes the expense assumptions without writing them.
func (p *ExpenseRatioProvider) Assumptions(agg *aggregate.Aggregate) (ExpenseAssumptions, error) {
	entry, err := p.strategy.LookupExpense(agg)
	if err != nil {
		return ExpenseAssumptions{}, err
	}

	scope := p.defaultScope
	if raw, ok := agg.Meta[model.MetaRenovationScope]; ok && raw != "" {
		if scope, err = ratetable.ParseScope(raw); err != nil {
			return ExpenseAssumptions{}, err
		}
	}
	cost, err := ratetable.RenovationCost(scope)
	if err != nil {
		return ExpenseAssumptions{}, err
	}

	income, expense := p.strategy.Growth()
	a := ExpenseAssumptions{
		Rate:            entry.DefaultRate,
		RateType:        entry.Label,
		RateRange:       entry.Range,
		IncomeGrowth:    income,
		ExpenseGrowth:   expense,
		RenovationScope: scope,
		RenovationCost:  cost,
	}
	if v, ok := p.strategy.FlatVacancy(); ok {
		a.Vacancy = &v
	}
	return a, nil
}

package provider

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/sells-group/underwrite-cli/internal/aggregate"
	"github.com/sells-group/underwrite-cli/internal/model"
	"github.com/sells-group/underwrite-cli/internal/store"
)

// FinancialProjectionsProvider turns the expense assumptions into a
// financial_projection result plus offer price meta.
type FinancialProjectionsProvider struct {
	strategy ProjectionStrategy
	name     string
	deps     Deps
}

// NewFinancialProjections creates the projection provider for m.
func NewFinancialProjections(m Model, deps Deps) *FinancialProjectionsProvider {
	return &FinancialProjectionsProvider{strategy: m, name: "financial_projection:" + m.Name(), deps: deps}
}

func (p *FinancialProjectionsProvider) Name() string       { return p.name }
func (p *FinancialProjectionsProvider) Stage() model.Stage { return model.StageFinancialProjection }

// projectionInput records the assumptions a projection was computed from.
type projectionInput struct {
	ExpenseRate     float64  `json:"expense_rate"`
	ExpenseRateType string   `json:"expense_rate_type,omitempty"`
	IncomeGrowth    float64  `json:"income_growth"`
	ExpenseGrowth   float64  `json:"expense_growth"`
	RenovationScope string   `json:"renovation_scope,omitempty"`
	RenovationCost  float64  `json:"renovation_cost"`
	Vacancy         *float64 `json:"vacancy,omitempty"`
}

func (p *FinancialProjectionsProvider) Run(ctx context.Context, agg *aggregate.Aggregate, w store.Writer) (*StageOutput, error) {
	a, err := loadExpenseAssumptions(agg)
	if err != nil {
		return nil, err
	}
	proj, err := p.strategy.Project(ctx, agg, a, p.deps)
	if err != nil {
		return nil, err
	}

	input := projectionInput{
		ExpenseRate:     a.Rate,
		ExpenseRateType: a.RateType,
		IncomeGrowth:    a.IncomeGrowth,
		ExpenseGrowth:   a.ExpenseGrowth,
		RenovationScope: string(a.RenovationScope),
		RenovationCost:  a.RenovationCost,
		Vacancy:         a.Vacancy,
	}
	if err := w.WriteResults(model.ResultFinancialProjection, model.WriteReplace, []any{proj.Record}, input); err != nil {
		return nil, eris.Wrapf(err, "provider: %s buffer projection", p.name)
	}
	for _, m := range proj.Meta {
		if err := w.UpsertFloat(m.Key, m.Value); err != nil {
			return nil, eris.Wrapf(err, "provider: %s buffer %s", p.name, m.Key)
		}
	}
	return &StageOutput{Provider: p.name, Stage: p.Stage(), Values: proj.values()}, nil
}

package provider

import (
	"context"

	"github.com/sells-group/underwrite-cli/internal/aggregate"
	"github.com/sells-group/underwrite-cli/internal/ratetable"
)

// ExpenseRatioStrategy holds one family's expense ratio rules.
type ExpenseRatioStrategy interface {
	// Table is the rate table the strategy looks up.
	Table() *ratetable.Table
	// LookupExpense keys the table on the aggregate's attributes.
	LookupExpense(agg *aggregate.Aggregate) (ratetable.Entry, error)
	// Growth returns the annual income and expense growth assumptions.
	Growth() (income, expense float64)
	// FlatVacancy returns the vacancy the stage writes, if the family uses one.
	FlatVacancy() (float64, bool)
}

// ProjectionStrategy holds one family's projection math.
type ProjectionStrategy interface {
	Project(ctx context.Context, agg *aggregate.Aggregate, a ExpenseAssumptions, deps Deps) (*Projection, error)
}

// Model bundles the strategies for one family.
type Model interface {
	Name() string
	ExpenseRatioStrategy
	ProjectionStrategy
}

// Projection is the output of a ProjectionStrategy.
type Projection struct {
	// Record is persisted as the single financial_projection result.
	Record any
	// Meta is written as scalar facts, in order.
	Meta []MetaValue
}

// MetaValue is a numeric fact produced by a stage.
type MetaValue struct {
	Key   string
	Value float64
}

func (p *Projection) values() map[string]float64 {
	out := make(map[string]float64, len(p.Meta))
	for _, m := range p.Meta {
		out[m.Key] = m.Value
	}
	return out
}

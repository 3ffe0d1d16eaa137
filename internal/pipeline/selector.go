// Package pipeline drives properties through their underwriting stages.
package pipeline

import (
	"github.com/rotisserie/eris"

	"github.com/sells-group/underwrite-cli/internal/model"
	"github.com/sells-group/underwrite-cli/internal/provider"
	"github.com/sells-group/underwrite-cli/internal/ratetable"
	"github.com/sells-group/underwrite-cli/internal/store"
)

// stageOrder is the workflow every family follows.
var stageOrder = []model.Stage{
	model.StageNotStarted,
	model.StageExpenseRatio,
	model.StageFinancialProjection,
	model.StageInvestmentSummary,
	model.StageComplete,
}

// Selector maps (family, stage) pairs to the providers that run for them.
// The mapping is closed and built in code.
type Selector struct {
	models       map[model.Family]provider.Model
	order        map[model.Family][]model.Stage
	deps         provider.Deps
	results      store.ResultReader
	defaultScope ratetable.RenovationScope
}

// NewSelector creates the selector. results and settings back the providers
// that query beyond the aggregate.
func NewSelector(results store.ResultReader, settings store.SettingReader, defaultScope ratetable.RenovationScope) *Selector {
	residential := provider.Residential()
	multifamily := provider.Multifamily()
	return &Selector{
		models: map[model.Family]provider.Model{
			model.FamilySingleFamily: residential,
			model.FamilyResidential:  residential,
			model.FamilyMultiFamily:  multifamily,
		},
		order: map[model.Family][]model.Stage{
			model.FamilySingleFamily: stageOrder,
			model.FamilyResidential:  stageOrder,
			model.FamilyMultiFamily:  stageOrder,
		},
		deps:         provider.Deps{Results: results, Settings: settings},
		results:      results,
		defaultScope: defaultScope,
	}
}

// Model returns the underwriting model for family.
func (s *Selector) Model(family model.Family) (provider.Model, error) {
	m, ok := s.models[family]
	if !ok {
		return nil, eris.Errorf("pipeline: unknown family %q", family)
	}
	return m, nil
}

// Stages returns the ordered stages for family, from not_started to complete.
func (s *Selector) Stages(family model.Family) ([]model.Stage, error) {
	order, ok := s.order[family]
	if !ok {
		return nil, eris.Errorf("pipeline: unknown family %q", family)
	}
	out := make([]model.Stage, len(order))
	copy(out, order)
	return out, nil
}

// Index returns the position of stage in family's order.
func (s *Selector) Index(family model.Family, stage model.Stage) (int, error) {
	order, ok := s.order[family]
	if !ok {
		return 0, eris.Errorf("pipeline: unknown family %q", family)
	}
	for i, st := range order {
		if st == stage {
			return i, nil
		}
	}
	return 0, eris.Wrapf(ErrUnknownStage, "pipeline: %q in the %s workflow", stage, family)
}

// Next returns the stage after stage. complete has no successor.
func (s *Selector) Next(family model.Family, stage model.Stage) (model.Stage, error) {
	i, err := s.Index(family, stage)
	if err != nil {
		return "", err
	}
	order := s.order[family]
	if i+1 >= len(order) {
		return "", eris.Errorf("pipeline: %s is terminal", stage)
	}
	return order[i+1], nil
}

// Providers returns the providers for (family, stage) in execution order.
// not_started and complete have none.
func (s *Selector) Providers(family model.Family, stage model.Stage) ([]provider.Provider, error) {
	m, err := s.Model(family)
	if err != nil {
		return nil, err
	}
	if _, err := s.Index(family, stage); err != nil {
		return nil, err
	}
	switch stage {
	case model.StageExpenseRatio:
		return []provider.Provider{provider.NewExpenseRatio(m, s.defaultScope)}, nil
	case model.StageFinancialProjection:
		return []provider.Provider{provider.NewFinancialProjections(m, s.deps)}, nil
	case model.StageInvestmentSummary:
		return []provider.Provider{provider.NewInvestmentSummary(s.results)}, nil
	default:
		return nil, nil
	}
}

package ratetable

import (
	"strings"

	"github.com/sells-group/underwrite-cli/internal/failure"
)

// Year-built bands shared by the expense tables.
var (
	builtBefore1950 = Interval{From: MinYearBuilt, To: 1950}
	built1950to1984 = Interval{From: 1950, To: 1985}
	builtSince1985  = Interval{From: 1985, To: YearBuiltCeiling}

	builtBefore1960 = Interval{From: MinYearBuilt, To: 1960}
	built1960to1999 = Interval{From: 1960, To: 2000}
	builtSince2000  = Interval{From: 2000, To: YearBuiltCeiling}
)

// Multifamily unit-count bands. Multifamily starts at 5 units; the small band
// is "50 units or fewer".
var (
	fiftyOrFewer = Interval{From: 5, To: 51}
	overFifty    = Interval{From: 51, To: Unbounded}
)

// MultifamilyExpense maps (year_built, unit_count) to an operating expense ratio.
var MultifamilyExpense = &Table{
	Name:          "multifamily_expense",
	SecondaryName: "unit_count",
	Buckets: []Bucket{
		{Label: "Built before 1950, 50 units or fewer", YearBuilt: builtBefore1950, Secondary: fiftyOrFewer, DefaultRate: 0.58},
		{Label: "Built before 1950, more than 50 units", YearBuilt: builtBefore1950, Secondary: overFifty, DefaultRate: 0.55},
		{Label: "Built 1950-1984, 50 units or fewer", YearBuilt: built1950to1984, Secondary: fiftyOrFewer, DefaultRate: 0.55},
		{Label: "Built 1950-1984, more than 50 units", YearBuilt: built1950to1984, Secondary: overFifty, DefaultRate: 0.52},
		{Label: "Built 1985 or later, 50 units or fewer", YearBuilt: builtSince1985, Secondary: fiftyOrFewer, DefaultRate: 0.50},
		{Label: "Built 1985 or later, more than 50 units", YearBuilt: builtSince1985, Secondary: overFifty, DefaultRate: 0.45},
	},
}

// Bedroom classes for residential tables.
const (
	ClassOneTwoBed    = "one_two_bed"
	ClassThreePlusBed = "three_plus_bed"
)

// BedroomClasses lists every residential class.
var BedroomClasses = []string{ClassOneTwoBed, ClassThreePlusBed}

// BedroomClass buckets a bedroom count.
func BedroomClass(bedrooms int) (string, error) {
	switch {
	case bedrooms < 0:
		return "", failure.NewConfigurationError("bedroom_class", map[string]any{"bedrooms": bedrooms})
	case bedrooms <= 2:
		return ClassOneTwoBed, nil
	default:
		return ClassThreePlusBed, nil
	}
}

// ResidentialExpense maps (bedroom class, year_built) to an expense ratio with
// a min/max band for sensitivity display.
var ResidentialExpense = &Table{
	Name: "residential_expense",
	Buckets: []Bucket{
		{Label: "1-2 bedrooms, built before 1960", Class: ClassOneTwoBed, YearBuilt: builtBefore1960, Secondary: Any, DefaultRate: 0.45, Range: &Range{Min: 0.40, Max: 0.50}},
		{Label: "1-2 bedrooms, built 1960-1999", Class: ClassOneTwoBed, YearBuilt: built1960to1999, Secondary: Any, DefaultRate: 0.40, Range: &Range{Min: 0.35, Max: 0.45}},
		{Label: "1-2 bedrooms, built 2000 or later", Class: ClassOneTwoBed, YearBuilt: builtSince2000, Secondary: Any, DefaultRate: 0.35, Range: &Range{Min: 0.30, Max: 0.40}},
		{Label: "3+ bedrooms, built before 1960", Class: ClassThreePlusBed, YearBuilt: builtBefore1960, Secondary: Any, DefaultRate: 0.40, Range: &Range{Min: 0.35, Max: 0.45}},
		{Label: "3+ bedrooms, built 1960-1999", Class: ClassThreePlusBed, YearBuilt: built1960to1999, Secondary: Any, DefaultRate: 0.35, Range: &Range{Min: 0.30, Max: 0.40}},
		{Label: "3+ bedrooms, built 2000 or later", Class: ClassThreePlusBed, YearBuilt: builtSince2000, Secondary: Any, DefaultRate: 0.30, Range: &Range{Min: 0.25, Max: 0.35}},
	},
}

// RenovationScope is the planned depth of renovation.
type RenovationScope string

const (
	ScopeLight  RenovationScope = "light"
	ScopeMedium RenovationScope = "medium"
	ScopeHeavy  RenovationScope = "heavy"
)

// renovationCosts are flat per-unit renovation budgets.
var renovationCosts = map[RenovationScope]float64{
	ScopeLight:  7000,
	ScopeMedium: 12000,
	ScopeHeavy:  17000,
}

// ParseScope normalizes s into a RenovationScope.
func ParseScope(s string) (RenovationScope, error) {
	scope := RenovationScope(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := renovationCosts[scope]; !ok {
		return "", failure.NewConfigurationError("renovation_cost", map[string]any{"renovation_scope": s})
	}
	return scope, nil
}

// RenovationCost returns the flat per-unit cost of scope.
func RenovationCost(scope RenovationScope) (float64, error) {
	cost, ok := renovationCosts[scope]
	if !ok {
		return 0, failure.NewConfigurationError("renovation_cost", map[string]any{"renovation_scope": string(scope)})
	}
	return cost, nil
}

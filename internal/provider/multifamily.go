package provider

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rotisserie/eris"

	"github.com/sells-group/underwrite-cli/internal/aggregate"
	"github.com/sells-group/underwrite-cli/internal/failure"
	"github.com/sells-group/underwrite-cli/internal/model"
	"github.com/sells-group/underwrite-cli/internal/ratetable"
	"github.com/sells-group/underwrite-cli/internal/store"
)

// Purchase and exit assumptions shared by every family.
const (
	OfferDiscount    = 0.75
	DownPaymentShare = 0.30
	LoanShare        = 0.70
	CapRateSpread    = 0.0025
	ProjectionYears  = 5
)

// ExitYears are the holding periods evaluated for every cap rate scenario.
var ExitYears = []int{3, 5}

// Cap rate scenario labels.
const (
	ScenarioStress = "stress"
	ScenarioBase   = "base"
	ScenarioUpside = "upside"
)

// YearProjection is one year of the operating projection.
type YearProjection struct {
	Year     int     `json:"year"`
	EGI      float64 `json:"egi"`
	Expenses float64 `json:"expenses"`
	NOI      float64 `json:"noi"`
}

// UnitEconomics is the year-one operating result of one unit configuration,
// totalled over its quantity.
type UnitEconomics struct {
	Bedrooms    int     `json:"bedrooms"`
	Bathrooms   float64 `json:"bathrooms"`
	Quantity    int     `json:"quantity"`
	MonthlyRent float64 `json:"monthly_rent"`
	EGI         float64 `json:"egi"`
	Expenses    float64 `json:"expenses"`
	NOI         float64 `json:"noi"`
}

// ExitScenario is one (cap rate, exit year) outcome.
type ExitScenario struct {
	Label          string  `json:"label"`
	CapRate        float64 `json:"cap_rate"`
	ExitYear       int     `json:"exit_year"`
	NOI            float64 `json:"noi"`
	ExitValue      float64 `json:"exit_value"`
	NetProceeds    float64 `json:"net_proceeds"`
	EquityInvested float64 `json:"equity_invested"`
	ARR            float64 `json:"arr"`
}

// PurchaseEconomics is the acquisition side of the deal.
type PurchaseEconomics struct {
	AssessedValue   float64 `json:"assessed_value"`
	RenovationTotal float64 `json:"renovation_total"`
	OfferPrice      float64 `json:"offer_price"`
	DownPayment     float64 `json:"down_payment"`
	LoanPayoff      float64 `json:"loan_payoff"`
	EquityInvested  float64 `json:"equity_invested"`
}

// MultifamilyProjection is the financial_projection payload for 5+ units.
type MultifamilyProjection struct {
	Projections   []YearProjection  `json:"projections"`
	ExitScenarios []ExitScenario    `json:"exit_scenarios"`
	OfferPrice    float64           `json:"offer_price"`
	BaseCapRate   float64           `json:"base_cap_rate"`
	Vacancy       float64           `json:"vacancy"`
	ExpenseRate   float64           `json:"expense_rate"`
	Units         []UnitEconomics   `json:"units"`
	Purchase      PurchaseEconomics `json:"purchase"`
}

type multifamilyModel struct{}

// Multifamily returns the model for properties with 5 or more units.
func Multifamily() Model { return multifamilyModel{} }

func (multifamilyModel) Name() string { return string(model.FamilyMultiFamily) }

func (multifamilyModel) Table() *ratetable.Table { return ratetable.MultifamilyExpense }

func (m multifamilyModel) LookupExpense(agg *aggregate.Aggregate) (ratetable.Entry, error) {
	year, err := agg.Int(model.MetaYearBuilt)
	if err != nil {
		return ratetable.Entry{}, err
	}
	units, err := agg.TotalUnits()
	if err != nil {
		return ratetable.Entry{}, err
	}
	return m.Table().Lookup(ratetable.Attributes{YearBuilt: float64(year), Secondary: float64(units)})
}

func (multifamilyModel) Growth() (income, expense float64) { return 0.03, 0.03 }

func (multifamilyModel) FlatVacancy() (float64, bool) { return 0, false }

func (multifamilyModel) Project(ctx context.Context, agg *aggregate.Aggregate, a ExpenseAssumptions, deps Deps) (*Projection, error) {
	vacancy, err := multifamilyVacancy(ctx, agg, a, deps.Settings)
	if err != nil {
		return nil, err
	}

	units, base, err := unitEconomics(agg.Units, vacancy, a.Rate)
	if err != nil {
		return nil, err
	}
	projections := compound(base, a.IncomeGrowth, a.ExpenseGrowth, ProjectionYears)

	assessed, err := agg.Float(model.MetaAssessedValue)
	if err != nil {
		return nil, err
	}
	if assessed <= 0 {
		return nil, failure.NewDegenerate(model.MetaAssessedValue, fmt.Sprintf("must be positive, got %v", assessed))
	}
	unitCount, err := agg.TotalUnits()
	if err != nil {
		return nil, err
	}
	purchase, err := purchaseEconomics(assessed, a.RenovationCost*float64(unitCount))
	if err != nil {
		return nil, err
	}

	baseCap := projections[0].NOI / assessed
	scenarios, err := exitScenarios(baseCap, projections, purchase)
	if err != nil {
		return nil, err
	}

	return &Projection{
		Record: MultifamilyProjection{
			Projections:   projections,
			ExitScenarios: scenarios,
			OfferPrice:    purchase.OfferPrice,
			BaseCapRate:   baseCap,
			Vacancy:       vacancy,
			ExpenseRate:   a.Rate,
			Units:         units,
			Purchase:      purchase,
		},
		Meta: []MetaValue{
			{Key: model.MetaOfferPrice, Value: purchase.OfferPrice},
			{Key: model.MetaCapRate, Value: baseCap},
		},
	}, nil
}

// multifamilyVacancy prefers property meta, then the market_defaults setting.
func multifamilyVacancy(ctx context.Context, agg *aggregate.Aggregate, a ExpenseAssumptions, settings store.SettingReader) (float64, error) {
	if a.Vacancy != nil {
		return checkVacancy(*a.Vacancy)
	}
	if settings == nil {
		return 0, failure.NewMissingDependency("", model.MetaVacancy)
	}
	raw, err := settings.GetSetting(ctx, model.SettingMarketDefaults)
	if store.IsNotFound(err) {
		return 0, failure.NewMissingDependency("", model.MetaVacancy)
	}
	if err != nil {
		return 0, eris.Wrapf(err, "provider: read %s for %s", model.SettingMarketDefaults, agg.ID)
	}
	var defaults model.MarketDefaults
	if err := json.Unmarshal(raw, &defaults); err != nil {
		return 0, eris.Wrapf(err, "provider: decode %s", model.SettingMarketDefaults)
	}
	if defaults.Vacancy == nil {
		return 0, failure.NewMissingDependency("", model.MetaVacancy)
	}
	return checkVacancy(*defaults.Vacancy)
}

func checkVacancy(v float64) (float64, error) {
	if v < 0 || v >= 1 {
		return 0, failure.NewDegenerate(model.MetaVacancy, fmt.Sprintf("must be in [0, 1), got %v", v))
	}
	return v, nil
}

// unitEconomics computes year-one EGI, expenses and NOI per unit
// configuration and their totals.
func unitEconomics(units []model.UnitConfiguration, vacancy, rate float64) ([]UnitEconomics, YearProjection, error) {
	total := YearProjection{Year: 1}
	if len(units) == 0 {
		return nil, total, failure.NewMissingDependency("intake", "unit_configurations")
	}
	out := make([]UnitEconomics, 0, len(units))
	for _, u := range units {
		if u.RentAVM == nil {
			return nil, total, failure.NewMissingDependency("rent lookup",
				fmt.Sprintf("rent_avm for %dbd/%gba units", u.Bedrooms, u.Bathrooms))
		}
		if *u.RentAVM < 0 {
			return nil, total, negativeRent("rent_avm", u)
		}
		egi, expenses, noi := operating(*u.RentAVM, vacancy, rate)
		q := float64(u.Quantity)
		ue := UnitEconomics{
			Bedrooms:    u.Bedrooms,
			Bathrooms:   u.Bathrooms,
			Quantity:    u.Quantity,
			MonthlyRent: *u.RentAVM,
			EGI:         egi * q,
			Expenses:    expenses * q,
			NOI:         noi * q,
		}
		total.EGI += ue.EGI
		total.Expenses += ue.Expenses
		total.NOI += ue.NOI
		out = append(out, ue)
	}
	return out, total, nil
}

func negativeRent(field string, u model.UnitConfiguration) error {
	return failure.NewDegenerate(field,
		fmt.Sprintf("negative rent for %dbd/%gba units", u.Bedrooms, u.Bathrooms))
}

// operating applies the one-unit operating identity
// EGI = rent*12*(1-vacancy), NOI = EGI - EGI*rate.
func operating(monthlyRent, vacancy, rate float64) (egi, expenses, noi float64) {
	egi = monthlyRent * 12 * (1 - vacancy)
	expenses = egi * rate
	noi = egi - expenses
	return egi, expenses, noi
}

// compound projects years from base. EGI holds flat; expenses and NOI each
// grow from the prior projected year.
func compound(base YearProjection, incomeGrowth, expenseGrowth float64, years int) []YearProjection {
	out := make([]YearProjection, 0, years)
	prev := base
	prev.Year = 1
	out = append(out, prev)
	for y := 2; y <= years; y++ {
		next := YearProjection{
			Year:     y,
			EGI:      prev.EGI,
			Expenses: prev.Expenses * (1 + expenseGrowth),
			NOI:      prev.NOI * (1 + incomeGrowth),
		}
		out = append(out, next)
		prev = next
	}
	return out
}

func purchaseEconomics(assessed, renovationTotal float64) (PurchaseEconomics, error) {
	offer := assessed*OfferDiscount - renovationTotal
	if offer <= 0 {
		return PurchaseEconomics{}, failure.NewDegenerate(model.MetaOfferPrice,
			fmt.Sprintf("renovation %v exceeds discounted value %v", renovationTotal, assessed*OfferDiscount))
	}
	p := PurchaseEconomics{
		AssessedValue:   assessed,
		RenovationTotal: renovationTotal,
		OfferPrice:      offer,
		DownPayment:     offer * DownPaymentShare,
		LoanPayoff:      offer * LoanShare,
	}
	p.EquityInvested = p.DownPayment + renovationTotal
	if p.EquityInvested <= 0 {
		return PurchaseEconomics{}, failure.NewDegenerate("equity_invested", "must be positive")
	}
	return p, nil
}

func exitScenarios(baseCap float64, projections []YearProjection, p PurchaseEconomics) ([]ExitScenario, error) {
	caps := []struct {
		label string
		rate  float64
	}{
		{ScenarioStress, baseCap - CapRateSpread},
		{ScenarioBase, baseCap},
		{ScenarioUpside, baseCap + CapRateSpread},
	}

	out := make([]ExitScenario, 0, len(caps)*len(ExitYears))
	for _, c := range caps {
		if c.rate <= 0 {
			return nil, failure.NewDegenerate(model.MetaCapRate,
				fmt.Sprintf("%s cap rate %v is not positive", c.label, c.rate))
		}
		for _, year := range ExitYears {
			if year > len(projections) {
				return nil, eris.Errorf("provider: exit year %d beyond %d-year projection", year, len(projections))
			}
			noi := projections[year-1].NOI
			exitValue := noi / c.rate
			net := exitValue - p.LoanPayoff
			out = append(out, ExitScenario{
				Label:          c.label,
				CapRate:        c.rate,
				ExitYear:       year,
				NOI:            noi,
				ExitValue:      exitValue,
				NetProceeds:    net,
				EquityInvested: p.EquityInvested,
				ARR:            (net - p.EquityInvested) / p.EquityInvested / float64(year),
			})
		}
	}
	return out, nil
}

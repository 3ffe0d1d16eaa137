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
)

// ResidentialVacancy is the flat vacancy assumed for 1-4 unit properties.
const ResidentialVacancy = 0.10

// ResidentialProjection is the financial_projection payload for 1-4 units.
type ResidentialProjection struct {
	PricePerFoot float64  `json:"pricePerFoot"`
	MarketNOI    float64  `json:"marketNOI"`
	FMRNOI       *float64 `json:"fmrNOI"`
	ARV          float64  `json:"ARV"`
	OfferPrice   float64  `json:"offer_price"`
	CompsUsed    int      `json:"compsUsed"`
	CompsTotal   int      `json:"compsTotal"`
}

type residentialModel struct{}

// Residential returns the model for single family and 2-4 unit properties.
func Residential() Model { return residentialModel{} }

func (residentialModel) Name() string { return string(model.FamilyResidential) }

func (residentialModel) Table() *ratetable.Table { return ratetable.ResidentialExpense }

func (m residentialModel) LookupExpense(agg *aggregate.Aggregate) (ratetable.Entry, error) {
	year, err := agg.Int(model.MetaYearBuilt)
	if err != nil {
		return ratetable.Entry{}, err
	}
	bedrooms, err := residentialBedrooms(agg)
	if err != nil {
		return ratetable.Entry{}, err
	}
	class, err := ratetable.BedroomClass(bedrooms)
	if err != nil {
		return ratetable.Entry{}, err
	}
	return m.Table().Lookup(ratetable.Attributes{Class: class, YearBuilt: float64(year)})
}

// residentialBedrooms reads meta bedrooms, falling back to the largest unit
// configuration's bedroom count.
func residentialBedrooms(agg *aggregate.Aggregate) (int, error) {
	if agg.Has(model.MetaBedrooms) {
		return agg.Int(model.MetaBedrooms)
	}
	if len(agg.Units) == 0 {
		return 0, failure.NewMissingDependency("", "unit configurations")
	}
	most := agg.Units[0].Bedrooms
	for _, u := range agg.Units[1:] {
		most = max(most, u.Bedrooms)
	}
	return most, nil
}

func (residentialModel) Growth() (income, expense float64) { return 0.03, 0.03 }

func (residentialModel) FlatVacancy() (float64, bool) { return ResidentialVacancy, true }

func (residentialModel) Project(ctx context.Context, agg *aggregate.Aggregate, a ExpenseAssumptions, deps Deps) (*Projection, error) {
	if deps.Results == nil {
		return nil, eris.New("provider: residential projection needs a result reader")
	}
	rows, err := deps.Results.QueryResults(ctx, agg.ID, model.ResultSalesComp, 0)
	if err != nil {
		return nil, eris.Wrapf(err, "provider: query sales comps for %s", agg.ID)
	}
	ppf, used, total, err := pricePerFoot(rows)
	if err != nil {
		return nil, err
	}

	sqft, err := agg.Float(model.MetaSquareFootage)
	if err != nil {
		return nil, err
	}
	if sqft <= 0 {
		return nil, failure.NewDegenerate(model.MetaSquareFootage, fmt.Sprintf("must be positive, got %v", sqft))
	}
	if a.Vacancy == nil {
		return nil, failure.NewMissingDependency(string(model.StageExpenseRatio), model.MetaVacancy)
	}
	vacancy, err := checkVacancy(*a.Vacancy)
	if err != nil {
		return nil, err
	}

	marketNOI, fmrNOI, err := residentialNOI(agg.Units, vacancy, a.Rate)
	if err != nil {
		return nil, err
	}

	arv := ppf * sqft
	offer := arv*OfferDiscount - a.RenovationCost
	if offer <= 0 {
		return nil, failure.NewDegenerate(model.MetaOfferPrice,
			fmt.Sprintf("renovation %v exceeds discounted ARV %v", a.RenovationCost, arv*OfferDiscount))
	}

	return &Projection{
		Record: ResidentialProjection{
			PricePerFoot: ppf,
			MarketNOI:    marketNOI,
			FMRNOI:       fmrNOI,
			ARV:          arv,
			OfferPrice:   offer,
			CompsUsed:    used,
			CompsTotal:   total,
		},
		Meta: []MetaValue{
			{Key: model.MetaOfferPrice, Value: offer},
			{Key: model.MetaARV, Value: arv},
		},
	}, nil
}

// pricePerFoot averages price/square_footage over comps that report square
// footage. Comps patched as excluded are skipped.
func pricePerFoot(rows []model.LookupResult) (ppf float64, used, total int, err error) {
	if len(rows) == 0 {
		return 0, 0, 0, failure.NewMissingDependency("comps import", model.ResultSalesComp)
	}
	var sum float64
	for _, r := range rows {
		var c model.SalesComp
		if err := json.Unmarshal(r.Data, &c); err != nil {
			return 0, 0, 0, eris.Wrapf(err, "provider: decode sales comp %s", r.ID)
		}
		if c.Excluded {
			continue
		}
		total++
		if c.SquareFootage == nil || *c.SquareFootage <= 0 {
			continue
		}
		sum += c.Price / *c.SquareFootage
		used++
	}
	if used == 0 {
		return 0, used, total, failure.NewDegenerate("pricePerFoot",
			fmt.Sprintf("none of %d sales comps report square footage", total))
	}
	return sum / float64(used), used, total, nil
}

// residentialNOI returns annual NOI at market rent and, when every unit has
// one, at HUD fair market rent.
func residentialNOI(units []model.UnitConfiguration, vacancy, rate float64) (float64, *float64, error) {
	if len(units) == 0 {
		return 0, nil, failure.NewMissingDependency("intake", "unit_configurations")
	}
	var market, fmr float64
	haveFMR := true
	for _, u := range units {
		if u.RentAVM == nil {
			return 0, nil, failure.NewMissingDependency("rent lookup",
				fmt.Sprintf("rent_avm for %dbd/%gba units", u.Bedrooms, u.Bathrooms))
		}
		if *u.RentAVM < 0 {
			return 0, nil, negativeRent("rent_avm", u)
		}
		q := float64(u.Quantity)
		_, _, noi := operating(*u.RentAVM, vacancy, rate)
		market += noi * q
		if u.RentFMR == nil {
			haveFMR = false
			continue
		}
		if *u.RentFMR < 0 {
			return 0, nil, negativeRent("rent_fmr", u)
		}
		_, _, noi = operating(*u.RentFMR, vacancy, rate)
		fmr += noi * q
	}
	if !haveFMR {
		return market, nil, nil
	}
	return market, &fmr, nil
}

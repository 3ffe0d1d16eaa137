package model

// Meta keys written at intake.
const (
	MetaYearBuilt       = "year_built"
	MetaSquareFootage   = "square_footage"
	MetaAssessedValue   = "assessed_value"
	MetaBedrooms        = "bedrooms"
	MetaUnitCount       = "unit_count"
	MetaVacancy         = "vacancy"
	MetaRenovationScope = "renovation_scope"
)

// Meta keys written by the expense ratio stage.
const (
	MetaExpenseRate     = "expense_rate"
	MetaExpenseRateType = "expense_rate_type"
	MetaExpenseRateMin  = "expense_rate_min"
	MetaExpenseRateMax  = "expense_rate_max"
	MetaIncomeGrowth    = "income_growth"
	MetaExpenseGrowth   = "expense_growth"
	MetaRenovationCost  = "renovation_cost"
)

// Meta keys written by the financial projection stage.
const (
	MetaOfferPrice = "offer_price"
	MetaCapRate    = "cap_rate"
	MetaARV        = "arv"
)

// Result types.
const (
	// ResultSalesComp holds raw comparable sales. Appended, never replaced.
	ResultSalesComp = "sales_comp"
	// ResultFinancialProjection holds one projection per run. Replaced wholesale.
	ResultFinancialProjection = "financial_projection"
)

// RawResultType reports whether rows of resultType are external facts that
// may be patched in place. Derived rows are only replaced by their provider.
func RawResultType(resultType string) bool {
	return resultType == ResultSalesComp
}

// SettingMarketDefaults holds fallback market assumptions.
const SettingMarketDefaults = "market_defaults"

// MarketDefaults is the shape of the market_defaults system setting.
type MarketDefaults struct {
	Vacancy *float64 `json:"vacancy,omitempty"`
}

// SalesComp is a comparable sale used to price residential properties.
type SalesComp struct {
	Address       string   `json:"address"`
	Price         float64  `json:"price"`
	SquareFootage *float64 `json:"squareFootage,omitempty"`
	Bedrooms      *int     `json:"bedrooms,omitempty"`
	Bathrooms     *float64 `json:"bathrooms,omitempty"`
	SoldOn        string   `json:"soldOn,omitempty"`
	Source        string   `json:"source,omitempty"`
	// Excluded is set by a result patch to drop a comp from pricing.
	Excluded      bool     `json:"excluded,omitempty"`
}

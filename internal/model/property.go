package model

import (
	"encoding/json"
	"time"
)

// Family classifies a property for model selection.
type Family string

const (
	FamilySingleFamily Family = "single_family"
	FamilyResidential  Family = "residential"
	FamilyMultiFamily  Family = "multifamily"
)

// MultifamilyMinUnits is the smallest unit count underwritten as multifamily.
const MultifamilyMinUnits = 5

// Valid reports whether f is a known family.
func (f Family) Valid() bool {
	switch f {
	case FamilySingleFamily, FamilyResidential, FamilyMultiFamily:
		return true
	}
	return false
}

// FamilyForUnitCount derives the family from the total number of units.
// 1 unit is single family, 2-4 residential, 5+ multifamily.
func FamilyForUnitCount(units int) Family {
	switch {
	case units >= MultifamilyMinUnits:
		return FamilyMultiFamily
	case units > 1:
		return FamilyResidential
	default:
		return FamilySingleFamily
	}
}

// Stage names a step in a property's underwriting workflow.
type Stage string

const (
	StageNotStarted          Stage = "not_started"
	StageExpenseRatio        Stage = "expense_ratio"
	StageFinancialProjection Stage = "financial_projection"
	StageInvestmentSummary   Stage = "investment_summary"
	StageComplete            Stage = "complete"
)

// Property is the root record of an underwriting file.
type Property struct {
	ID             string    `json:"id"`
	Family         Family    `json:"family"`
	Stage          Stage     `json:"stage"`
	StageCompleted bool      `json:"stage_completed"`
	UserID         string    `json:"user_id,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// Address is the single street address of a property. Immutable after intake.
type Address struct {
	PropertyID  string    `json:"property_id"`
	FullAddress string    `json:"full_address"`
	CreatedAt   time.Time `json:"created_at"`
}

// UnitConfiguration is one row of a property's unit mix. (Bedrooms, Bathrooms)
// is unique per property.
type UnitConfiguration struct {
	ID         string   `json:"id"`
	PropertyID string   `json:"property_id"`
	Bedrooms   int      `json:"bedrooms"`
	Bathrooms  float64  `json:"bathrooms"`
	Quantity   int      `json:"quantity"`
	RentAVM    *float64 `json:"rent_avm,omitempty"`
	RentHigh   *float64 `json:"rent_high,omitempty"`
	RentLow    *float64 `json:"rent_low,omitempty"`
	RentFMR    *float64 `json:"rent_fmr,omitempty"`
}

// UnitRents carries the rent fields written by rent lookups.
type UnitRents struct {
	AVM  *float64 `json:"rent_avm,omitempty"`
	High *float64 `json:"rent_high,omitempty"`
	Low  *float64 `json:"rent_low,omitempty"`
	FMR  *float64 `json:"rent_fmr,omitempty"`
}

// PropertyMeta is a scalar fact about a property, unique on (PropertyID, Key).
type PropertyMeta struct {
	PropertyID string          `json:"property_id"`
	Key        string          `json:"key"`
	Value      string          `json:"value"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	UpdatedAt  time.Time       `json:"updated_at"`
}

// LookupResult is a typed JSON record attached to a property.
type LookupResult struct {
	ID         string          `json:"id"`
	PropertyID string          `json:"property_id"`
	ResultType string          `json:"result_type"`
	Input      json.RawMessage `json:"input,omitempty"`
	Data       json.RawMessage `json:"data"`
	CreatedAt  time.Time       `json:"created_at"`
}

// SystemSetting is process-wide JSON configuration.
type SystemSetting struct {
	Key       string          `json:"key"`
	Value     json.RawMessage `json:"value"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// WriteMode selects how a set of results is persisted.
type WriteMode string

const (
	// WriteReplace deletes every row of the result type before inserting.
	WriteReplace WriteMode = "replace"
	// WriteAppend inserts without touching existing rows.
	WriteAppend WriteMode = "append"
)

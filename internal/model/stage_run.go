package model

import "time"

// StageRunStatus is the outcome of one stage execution.
type StageRunStatus string

const (
	StageRunComplete StageRunStatus = "complete"
	StageRunFailed   StageRunStatus = "failed"
)

// StageRun records a single execution of a stage's providers for a property.
type StageRun struct {
	ID         string         `json:"id"`
	PropertyID string         `json:"property_id"`
	Stage      Stage          `json:"stage"`
	Status     StageRunStatus `json:"status"`
	ErrorKind  string         `json:"error_kind,omitempty"` // see failure.Kind
	Error      string         `json:"error,omitempty"`
	DurationMs int64          `json:"duration_ms"`
	StartedAt  time.Time      `json:"started_at"`
}

// Intake is everything needed to open an underwriting file.
type Intake struct {
	UserID          string         `json:"user_id,omitempty" yaml:"user_id"`
	Address         string         `json:"address" yaml:"address"`
	Family          Family         `json:"family,omitempty" yaml:"family"`
	YearBuilt       *int           `json:"year_built,omitempty" yaml:"year_built"`
	SquareFootage   *float64       `json:"square_footage,omitempty" yaml:"square_footage"`
	AssessedValue   *float64       `json:"assessed_value,omitempty" yaml:"assessed_value"`
	Bedrooms        *int           `json:"bedrooms,omitempty" yaml:"bedrooms"`
	UnitCount       *int           `json:"unit_count,omitempty" yaml:"unit_count"`
	Vacancy         *float64       `json:"vacancy,omitempty" yaml:"vacancy"`
	RenovationScope string         `json:"renovation_scope,omitempty" yaml:"renovation_scope"`
	Units           []IntakeUnit   `json:"units" yaml:"units"`
	Extra           map[string]any `json:"extra,omitempty" yaml:"extra"`
}

// IntakeUnit is one unit-mix row at intake.
type IntakeUnit struct {
	Bedrooms  int      `json:"bedrooms" yaml:"bedrooms"`
	Bathrooms float64  `json:"bathrooms" yaml:"bathrooms"`
	Quantity  int      `json:"quantity" yaml:"quantity"`
	RentAVM   *float64 `json:"rent_avm,omitempty" yaml:"rent_avm"`
	RentHigh  *float64 `json:"rent_high,omitempty" yaml:"rent_high"`
	RentLow   *float64 `json:"rent_low,omitempty" yaml:"rent_low"`
	RentFMR   *float64 `json:"rent_fmr,omitempty" yaml:"rent_fmr"`
}

// TotalQuantity sums the unit quantities.
func (in Intake) TotalQuantity() int {
	n := 0
	for _, u := range in.Units {
		n += u.Quantity
	}
	return n
}

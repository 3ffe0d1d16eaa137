// Package aggregate assembles the read model every provider consumes: the
// property row, its address, its unit mix and a flattened view of its meta.
package aggregate

import (
	"context"
	"math"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/underwrite-cli/internal/failure"
	"github.com/sells-group/underwrite-cli/internal/model"
	"github.com/sells-group/underwrite-cli/internal/store"
)

// Source is the read surface the loader needs.
type Source interface {
	GetProperty(ctx context.Context, id string) (*model.Property, error)
	GetAddress(ctx context.Context, propertyID string) (*model.Address, error)
	ListUnits(ctx context.Context, propertyID string) ([]model.UnitConfiguration, error)
	ListMeta(ctx context.Context, propertyID string) ([]model.PropertyMeta, error)
}

// Aggregate is a read-only snapshot of one property.
type Aggregate struct {
	ID             string
	Family         model.Family
	Stage          model.Stage
	StageCompleted bool
	Address        string
	Units          []model.UnitConfiguration
	Meta           map[string]string
	Payloads       map[string][]byte
}

// Loader builds aggregates from a Source.
type Loader struct {
	src Source
}

// NewLoader creates a Loader.
func NewLoader(src Source) *Loader {
	return &Loader{src: src}
}

// Load reads the current state of property id.
func (l *Loader) Load(ctx context.Context, id string) (*Aggregate, error) {
	p, err := l.src.GetProperty(ctx, id)
	if err != nil {
		return nil, eris.Wrapf(err, "aggregate: load property %s", id)
	}
	units, err := l.src.ListUnits(ctx, id)
	if err != nil {
		return nil, eris.Wrapf(err, "aggregate: load units %s", id)
	}
	meta, err := l.src.ListMeta(ctx, id)
	if err != nil {
		return nil, eris.Wrapf(err, "aggregate: load meta %s", id)
	}

	agg := &Aggregate{
		ID:             p.ID,
		Family:         p.Family,
		Stage:          p.Stage,
		StageCompleted: p.StageCompleted,
		Units:          units,
		Meta:           make(map[string]string, len(meta)),
		Payloads:       make(map[string][]byte),
	}
	for _, m := range meta {
		agg.Meta[m.Key] = m.Value
		if len(m.Payload) > 0 {
			agg.Payloads[m.Key] = m.Payload
		}
	}

	addr, err := l.src.GetAddress(ctx, id)
	switch {
	case err == nil:
		agg.Address = addr.FullAddress
	case store.IsNotFound(err):
		// Address is optional on the read model.
	default:
		return nil, eris.Wrapf(err, "aggregate: load address %s", id)
	}
	return agg, nil
}

// Has reports whether key is present in meta.
func (a *Aggregate) Has(key string) bool {
	_, ok := a.Meta[key]
	return ok
}

// String returns the raw meta value for key or a MissingDependencyError.
func (a *Aggregate) String(key string) (string, error) {
	v, ok := a.Meta[key]
	if !ok || strings.TrimSpace(v) == "" {
		return "", failure.NewMissingDependency(producerOf(key), key)
	}
	return v, nil
}

// Float parses key as a finite number.
func (a *Aggregate) Float(key string) (float64, error) {
	s, err := a.String(key)
	if err != nil {
		return 0, err
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0, eris.Wrapf(err, "aggregate: meta %s=%q is not a number", key, s)
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, failure.NewDegenerate(key, "not a finite number")
	}
	return f, nil
}

// OptionalFloat is Float that reports absence instead of failing.
func (a *Aggregate) OptionalFloat(key string) (float64, bool, error) {
	if !a.Has(key) {
		return 0, false, nil
	}
	f, err := a.Float(key)
	if err != nil {
		return 0, false, err
	}
	return f, true, nil
}

// Int parses key as a whole number. "1990.0" is accepted.
func (a *Aggregate) Int(key string) (int, error) {
	f, err := a.Float(key)
	if err != nil {
		return 0, err
	}
	if f != math.Trunc(f) {
		return 0, eris.Errorf("aggregate: meta %s=%v is not a whole number", key, f)
	}
	return int(f), nil
}

// TotalUnits returns meta unit_count, falling back to the unit-mix sum.
func (a *Aggregate) TotalUnits() (int, error) {
	if a.Has(model.MetaUnitCount) {
		return a.Int(model.MetaUnitCount)
	}
	n := 0
	for _, u := range a.Units {
		n += u.Quantity
	}
	if n == 0 {
		return 0, failure.NewMissingDependency("", model.MetaUnitCount)
	}
	return n, nil
}

// producerOf names the stage that writes key, for error messages.
func producerOf(key string) string {
	switch key {
	case model.MetaExpenseRate, model.MetaExpenseRateType, model.MetaExpenseRateMin, model.MetaExpenseRateMax,
		model.MetaIncomeGrowth, model.MetaExpenseGrowth, model.MetaRenovationCost:
		return string(model.StageExpenseRatio)
	case model.MetaOfferPrice, model.MetaCapRate, model.MetaARV:
		return string(model.StageFinancialProjection)
	}
	return "intake"
}

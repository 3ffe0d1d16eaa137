// Package ratetable provides ordered interval lookup tables mapping property
// attributes to default rates. Tables are compiled in; changing one is a
// deployment.
package ratetable

import (
	"math"

	"github.com/rotisserie/eris"

	"github.com/sells-group/underwrite-cli/internal/failure"
)

// Unbounded is the open upper end of a count interval.
var Unbounded = math.Inf(1)

// Year-built domain. YearBuiltCeiling is the first year outside the modeled
// domain and is the upper sentinel of every year interval.
const (
	MinYearBuilt     = 1800
	YearBuiltCeiling = 2100
)

// Interval is the half-open range [From, To).
type Interval struct {
	From float64 `json:"from"`
	To   float64 `json:"to"`
}

// Any matches every value.
var Any = Interval{From: math.Inf(-1), To: math.Inf(1)}

// Contains reports whether From <= v < To.
func (i Interval) Contains(v float64) bool {
	return v >= i.From && v < i.To
}

// Range is the sensitivity band attached to a default rate.
type Range struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
}

// Bucket is one cell of a table.
type Bucket struct {
	Label       string
	Class       string // empty matches every class
	YearBuilt   Interval
	Secondary   Interval
	DefaultRate float64
	Range       *Range
}

func (b Bucket) matches(a Attributes) bool {
	if b.Class != "" && b.Class != a.Class {
		return false
	}
	return b.YearBuilt.Contains(a.YearBuilt) && b.Secondary.Contains(a.Secondary)
}

// Attributes are the property facts a table is keyed on.
type Attributes struct {
	Class     string
	YearBuilt float64
	Secondary float64
}

// Entry is the outcome of a lookup.
type Entry struct {
	Label       string
	DefaultRate float64
	Range       *Range
}

// Table is an ordered set of buckets. The first matching bucket wins.
type Table struct {
	Name          string
	SecondaryName string // attribute name of Secondary, for error reports
	Buckets       []Bucket
}

// Lookup returns the first bucket matching a. No match is a
// failure.ConfigurationError: the property is outside the modeled domain.
func (t *Table) Lookup(a Attributes) (Entry, error) {
	for _, b := range t.Buckets {
		if b.matches(a) {
			return Entry{Label: b.Label, DefaultRate: b.DefaultRate, Range: b.Range}, nil
		}
	}
	return Entry{}, failure.NewConfigurationError(t.Name, t.describe(a))
}

// Matches returns how many buckets match a.
func (t *Table) Matches(a Attributes) int {
	n := 0
	for _, b := range t.Buckets {
		if b.matches(a) {
			n++
		}
	}
	return n
}

func (t *Table) describe(a Attributes) map[string]any {
	attrs := map[string]any{"year_built": a.YearBuilt}
	if a.Class != "" {
		attrs["class"] = a.Class
	}
	if t.SecondaryName != "" {
		attrs[t.SecondaryName] = a.Secondary
	}
	return attrs
}

// Domain describes the supported attribute space of a table for coverage
// checks. Integer points in each interval are sampled; an unbounded
// Secondary is sampled up to SecondarySampleMax.
type Domain struct {
	Classes            []string
	YearBuilt          Interval
	Secondary          Interval
	SecondarySampleMax float64
}

// CheckCoverage verifies that every sampled point of d matches exactly one bucket.
func (t *Table) CheckCoverage(d Domain) error {
	classes := d.Classes
	if len(classes) == 0 {
		classes = []string{""}
	}
	secFrom, secTo := d.Secondary.From, d.Secondary.To
	if math.IsInf(secFrom, -1) {
		secFrom = 0
	}
	if math.IsInf(secTo, 1) {
		secTo = d.SecondarySampleMax
	}
	if secTo <= secFrom {
		secTo = secFrom + 1
	}

	for _, class := range classes {
		for year := d.YearBuilt.From; year < d.YearBuilt.To; year++ {
			for sec := secFrom; sec < secTo; sec++ {
				a := Attributes{Class: class, YearBuilt: year, Secondary: sec}
				if n := t.Matches(a); n != 1 {
					return eris.Errorf("ratetable: %s: %d buckets match %v", t.Name, n, t.describe(a))
				}
			}
		}
	}
	return nil
}

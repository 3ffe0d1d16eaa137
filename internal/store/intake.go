package store

import (
	"encoding/json"
	"sort"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/underwrite-cli/internal/model"
)

// ResolveFamily returns the intake's family, deriving it from the unit count
// when not given.
func ResolveFamily(in model.Intake) (model.Family, error) {
	if in.Family != "" {
		if !in.Family.Valid() {
			return "", eris.Errorf("store: unknown property family %q", in.Family)
		}
		return in.Family, nil
	}
	units := in.TotalQuantity()
	if in.UnitCount != nil {
		units = *in.UnitCount
	}
	return model.FamilyForUnitCount(units), nil
}

// ValidateIntake checks the invariants enforced at intake.
func ValidateIntake(in model.Intake) error {
	if strings.TrimSpace(in.Address) == "" {
		return eris.New("store: intake address is required")
	}
	if len(in.Units) == 0 {
		return eris.New("store: intake needs at least one unit configuration")
	}
	type mix struct {
		bedrooms  int
		bathrooms float64
	}
	seen := make(map[mix]bool, len(in.Units))
	for _, u := range in.Units {
		if u.Quantity <= 0 {
			return eris.Errorf("store: unit %dbd/%gba quantity must be positive", u.Bedrooms, u.Bathrooms)
		}
		if u.Bedrooms < 0 || u.Bathrooms < 0 {
			return eris.Errorf("store: unit %dbd/%gba has negative rooms", u.Bedrooms, u.Bathrooms)
		}
		rents := model.UnitRents{AVM: u.RentAVM, High: u.RentHigh, Low: u.RentLow, FMR: u.RentFMR}
		if err := ValidateRents(rents); err != nil {
			return eris.Wrapf(err, "store: unit %dbd/%gba", u.Bedrooms, u.Bathrooms)
		}
		k := mix{u.Bedrooms, u.Bathrooms}
		if seen[k] {
			return eris.Errorf("store: duplicate unit configuration %dbd/%gba", u.Bedrooms, u.Bathrooms)
		}
		seen[k] = true
	}
	_, err := ResolveFamily(in)
	return err
}

// ValidateRents rejects negative rent figures. Unset fields are skipped.
func ValidateRents(r model.UnitRents) error {
	for _, f := range []struct {
		name string
		v    *float64
	}{
		{"rent_avm", r.AVM},
		{"rent_high", r.High},
		{"rent_low", r.Low},
		{"rent_fmr", r.FMR},
	} {
		if f.v != nil && *f.v < 0 {
			return eris.Errorf("store: %s must not be negative, got %g", f.name, *f.v)
		}
	}
	return nil
}

// IntakeMeta lists the meta rows written at intake, in a fixed order. Typed
// fields win over an Extra entry with the same key.
func IntakeMeta(in model.Intake) ([]MetaWrite, error) {
	var out []MetaWrite
	addInt := func(key string, v *int) {
		if v != nil {
			out = append(out, MetaWrite{Key: key, Value: strconv.Itoa(*v)})
		}
	}
	addFloat := func(key string, v *float64) {
		if v != nil {
			out = append(out, MetaWrite{Key: key, Value: FormatFloat(*v)})
		}
	}

	addInt(model.MetaYearBuilt, in.YearBuilt)
	addFloat(model.MetaSquareFootage, in.SquareFootage)
	addFloat(model.MetaAssessedValue, in.AssessedValue)
	addInt(model.MetaBedrooms, in.Bedrooms)
	if in.UnitCount != nil {
		addInt(model.MetaUnitCount, in.UnitCount)
	} else {
		n := in.TotalQuantity()
		addInt(model.MetaUnitCount, &n)
	}
	addFloat(model.MetaVacancy, in.Vacancy)
	if s := strings.TrimSpace(in.RenovationScope); s != "" {
		out = append(out, MetaWrite{Key: model.MetaRenovationScope, Value: strings.ToLower(s)})
	}

	seen := make(map[string]bool, len(out))
	for _, m := range out {
		seen[m.Key] = true
	}
	keys := make([]string, 0, len(in.Extra))
	for k := range in.Extra {
		if !seen[k] {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	for _, k := range keys {
		v := in.Extra[k]
		raw, err := json.Marshal(v)
		if err != nil {
			return nil, eris.Wrapf(err, "store: marshal intake extra %s", k)
		}
		out = append(out, MetaWrite{Key: k, Value: scalarString(v), Payload: raw})
	}
	return out, nil
}

func scalarString(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case float64:
		return FormatFloat(t)
	case int:
		return strconv.Itoa(t)
	case bool:
		return strconv.FormatBool(t)
	default:
		raw, _ := json.Marshal(v)
		return string(raw)
	}
}

// mergeFields patches the top-level object in data with fields.
func mergeFields(data json.RawMessage, fields map[string]any) (json.RawMessage, error) {
	obj := map[string]any{}
	if len(data) > 0 {
		if err := json.Unmarshal(data, &obj); err != nil {
			return nil, eris.Wrap(err, "store: patch target is not a JSON object")
		}
	}
	for k, v := range fields {
		obj[k] = v
	}
	out, err := json.Marshal(obj)
	return out, eris.Wrap(err, "store: marshal patched result")
}

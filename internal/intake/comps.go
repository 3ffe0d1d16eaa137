package intake

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/underwrite-cli/internal/model"
	"github.com/sells-group/underwrite-cli/internal/store"
)

// CompsOptions configures ReadComps.
type CompsOptions struct {
	Charset string // CSV only
	Sheet   string // XLSX only
	Source  string // default source for rows without one
}

// compColumns maps accepted header spellings to canonical column names.
var compColumns = map[string]string{
	"address":        "address",
	"price":          "price",
	"sale_price":     "price",
	"square_footage": "square_footage",
	"sqft":           "square_footage",
	"bedrooms":       "bedrooms",
	"beds":           "bedrooms",
	"bathrooms":      "bathrooms",
	"baths":          "bathrooms",
	"sold_on":        "sold_on",
	"sale_date":      "sold_on",
	"source":         "source",
}

// ReadComps reads sales comps from a .csv or .xlsx file whose first row is a
// header. Blank rows are skipped.
func ReadComps(ctx context.Context, path string, opts CompsOptions) ([]model.SalesComp, error) {
	var rowCh <-chan []string
	var errCh <-chan error

	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv":
		f, err := os.Open(path) //nolint:gosec
		if err != nil {
			return nil, eris.Wrapf(err, "intake: open %s", path)
		}
		defer f.Close() //nolint:errcheck
		rowCh, errCh = StreamCSV(ctx, f, CSVOptions{Charset: opts.Charset})
	case ".xlsx":
		rowCh, errCh = StreamXLSX(ctx, path, XLSXOptions{SheetName: opts.Sheet})
	default:
		return nil, eris.Errorf("intake: unsupported comps file %q (want .csv or .xlsx)", filepath.Base(path))
	}

	comps, parseErr := parseComps(rowCh, opts.Source)
	// Drain so the reader goroutine exits before the file closes.
	for range rowCh {
	}
	if err := <-errCh; err != nil {
		return nil, eris.Wrapf(err, "intake: read %s", path)
	}
	if parseErr != nil {
		return nil, eris.Wrapf(parseErr, "intake: parse %s", path)
	}

	zap.L().Debug("intake: comps read", zap.String("path", path), zap.Int("comps", len(comps)))
	return comps, nil
}

func parseComps(rows <-chan []string, defaultSource string) ([]model.SalesComp, error) {
	var (
		index map[string]int
		comps []model.SalesComp
		line  int
	)
	for row := range rows {
		line++
		if blank(row) {
			continue
		}
		if index == nil {
			idx, err := headerIndex(row)
			if err != nil {
				return nil, err
			}
			index = idx
			continue
		}
		c, err := parseComp(index, row, defaultSource)
		if err != nil {
			return nil, eris.Wrapf(err, "row %d", line)
		}
		comps = append(comps, c)
	}
	if index == nil {
		return nil, eris.New("missing header row")
	}
	return comps, nil
}

func headerIndex(header []string) (map[string]int, error) {
	idx := make(map[string]int, len(header))
	for i, h := range header {
		key := strings.ToLower(strings.ReplaceAll(strings.TrimSpace(strings.TrimPrefix(h, "\ufeff")), " ", "_"))
		if col, ok := compColumns[key]; ok {
			if _, dup := idx[col]; dup {
				return nil, eris.Errorf("duplicate column %q", col)
			}
			idx[col] = i
		}
	}
	if _, ok := idx["price"]; !ok {
		return nil, eris.New("header has no price column")
	}
	return idx, nil
}

func parseComp(index map[string]int, row []string, defaultSource string) (model.SalesComp, error) {
	cell := func(col string) string {
		i, ok := index[col]
		if !ok || i >= len(row) {
			return ""
		}
		return row[i]
	}

	var c model.SalesComp
	c.Address = cell("address")
	c.SoldOn = cell("sold_on")
	c.Source = cell("source")
	if c.Source == "" {
		c.Source = defaultSource
	}

	price, err := parseNumber(cell("price"))
	if err != nil {
		return c, eris.Wrap(err, "price")
	}
	if price == nil || *price <= 0 {
		return c, eris.New("price must be positive")
	}
	c.Price = *price

	if c.SquareFootage, err = parseNumber(cell("square_footage")); err != nil {
		return c, eris.Wrap(err, "square_footage")
	}
	if c.Bathrooms, err = parseNumber(cell("bathrooms")); err != nil {
		return c, eris.Wrap(err, "bathrooms")
	}
	beds, err := parseNumber(cell("bedrooms"))
	if err != nil {
		return c, eris.Wrap(err, "bedrooms")
	}
	if beds != nil {
		n := int(*beds)
		if float64(n) != *beds {
			return c, eris.Errorf("bedrooms %v is not a whole number", *beds)
		}
		c.Bedrooms = &n
	}
	return c, nil
}

// parseNumber accepts "$1,250,000" style values. Blank is nil.
func parseNumber(s string) (*float64, error) {
	s = strings.TrimSpace(strings.NewReplacer("$", "", ",", "").Replace(s))
	if s == "" {
		return nil, nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil, eris.Wrapf(err, "invalid number %q", s)
	}
	return &v, nil
}

func blank(row []string) bool {
	for _, c := range row {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}

// importInput is stored as the input of every imported comp row.
type importInput struct {
	Source string `json:"source,omitempty"`
	Count  int    `json:"count"`
}

// ImportComps appends comps to propertyID's raw sales_comp results. Existing
// comps are never replaced.
func ImportComps(ctx context.Context, st store.ResultStore, propertyID string, comps []model.SalesComp, source string) ([]model.LookupResult, error) {
	if len(comps) == 0 {
		return nil, eris.New("intake: no comps to import")
	}
	records := make([]json.RawMessage, len(comps))
	for i, c := range comps {
		if c.Price <= 0 {
			return nil, eris.Errorf("intake: comp %d price must be positive", i+1)
		}
		raw, err := json.Marshal(c)
		if err != nil {
			return nil, eris.Wrapf(err, "intake: marshal comp %d", i+1)
		}
		records[i] = raw
	}
	input, err := json.Marshal(importInput{Source: source, Count: len(comps)})
	if err != nil {
		return nil, eris.Wrap(err, "intake: marshal import input")
	}
	rows, err := st.WriteResults(ctx, propertyID, model.ResultSalesComp, model.WriteAppend, records, input)
	if err != nil {
		return nil, eris.Wrapf(err, "intake: import comps for %s", propertyID)
	}
	zap.L().Info("intake: comps imported",
		zap.String("property_id", propertyID),
		zap.Int("comps", len(rows)),
	)
	return rows, nil
}

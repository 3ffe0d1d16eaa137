package intake

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tealeg/xlsx/v2"

	"github.com/sells-group/underwrite-cli/internal/model"
	"github.com/sells-group/underwrite-cli/internal/store"
)

func createTestXLSX(t *testing.T, sheet string, rows [][]string) string {
	t.Helper()
	f := xlsx.NewFile()
	s, err := f.AddSheet(sheet)
	require.NoError(t, err)
	for _, rowData := range rows {
		row := s.AddRow()
		for _, cellData := range rowData {
			row.AddCell().SetString(cellData)
		}
	}
	path := filepath.Join(t.TempDir(), "comps.xlsx")
	require.NoError(t, f.Save(path))
	return path
}

func TestReadComps_CSV(t *testing.T) {
	path := writeFile(t, "comps.csv", `Address,Price,Square Footage,Bedrooms,Bathrooms,Sold On,Source
1 A St,"$300,000",1400,3,2,2024-03-01,mls

2 B St,330000,1600,3,2.5,2024-04-11,
3 C St,310000,,,,,county
`)

	comps, err := ReadComps(context.Background(), path, CompsOptions{Source: "upload"})
	require.NoError(t, err)
	require.Len(t, comps, 3)

	assert.Equal(t, "1 A St", comps[0].Address)
	assert.InDelta(t, 300_000.0, comps[0].Price, 1e-9)
	require.NotNil(t, comps[0].SquareFootage)
	assert.InDelta(t, 1400.0, *comps[0].SquareFootage, 1e-9)
	require.NotNil(t, comps[0].Bedrooms)
	assert.Equal(t, 3, *comps[0].Bedrooms)
	assert.Equal(t, "2024-03-01", comps[0].SoldOn)
	assert.Equal(t, "mls", comps[0].Source)

	assert.Equal(t, "upload", comps[1].Source, "blank source falls back")
	require.NotNil(t, comps[1].Bathrooms)
	assert.InDelta(t, 2.5, *comps[1].Bathrooms, 1e-9)

	assert.Nil(t, comps[2].SquareFootage, "blank square footage is nil")
	assert.Nil(t, comps[2].Bedrooms)
	assert.Equal(t, "county", comps[2].Source)
}

func TestReadComps_CSVCharset(t *testing.T) {
	// "Café" in windows-1252.
	path := filepath.Join(t.TempDir(), "comps.csv")
	content := append([]byte("address,price\nCaf"), 0xe9)
	content = append(content, []byte(" Row,250000\n")...)
	require.NoError(t, os.WriteFile(path, content, 0o644))

	comps, err := ReadComps(context.Background(), path, CompsOptions{Charset: "windows-1252"})
	require.NoError(t, err)
	require.Len(t, comps, 1)
	assert.Equal(t, "Café Row", comps[0].Address)

	_, err = ReadComps(context.Background(), path, CompsOptions{Charset: "klingon"})
	assert.Error(t, err)
}

func TestReadComps_XLSX(t *testing.T) {
	path := createTestXLSX(t, "Comps", [][]string{
		{"address", "sale_price", "sqft", "beds"},
		{"9 Oak Ave", "415000", "2075", "4"},
		{"", "", "", ""},
		{"11 Oak Ave", "398,500", "", ""},
	})

	comps, err := ReadComps(context.Background(), path, CompsOptions{})
	require.NoError(t, err)
	require.Len(t, comps, 2)
	assert.InDelta(t, 415_000.0, comps[0].Price, 1e-9)
	require.NotNil(t, comps[0].SquareFootage)
	assert.InDelta(t, 2075.0, *comps[0].SquareFootage, 1e-9)
	assert.InDelta(t, 398_500.0, comps[1].Price, 1e-9)
	assert.Nil(t, comps[1].SquareFootage)

	_, err = ReadComps(context.Background(), path, CompsOptions{Sheet: "Missing"})
	assert.Error(t, err)
}

func TestReadComps_Errors(t *testing.T) {
	tests := []struct {
		name    string
		file    string
		content string
	}{
		{"unsupported extension", "comps.txt", "price\n1\n"},
		{"no price column", "comps.csv", "address,sqft\n1 A St,1000\n"},
		{"bad price", "comps.csv", "address,price\n1 A St,lots\n"},
		{"zero price", "comps.csv", "address,price\n1 A St,0\n"},
		{"fractional bedrooms", "comps.csv", "price,bedrooms\n100000,2.5\n"},
		{"empty", "comps.csv", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeFile(t, tt.file, tt.content)
			_, err := ReadComps(context.Background(), path, CompsOptions{})
			assert.Error(t, err)
		})
	}
}

func TestReadComps_Cancelled(t *testing.T) {
	path := writeFile(t, "comps.csv", "price\n1\n2\n")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := ReadComps(ctx, path, CompsOptions{})
	assert.Error(t, err)
}

func TestImportComps(t *testing.T) {
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "intake.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	ctx := context.Background()
	require.NoError(t, st.Migrate(ctx))

	p, err := st.CreateProperty(ctx, model.Intake{
		Address: "7 Elm Ct",
		Units:   []model.IntakeUnit{{Bedrooms: 3, Bathrooms: 2, Quantity: 1}},
	})
	require.NoError(t, err)

	sqft := 1400.0
	_, err = ImportComps(ctx, st, p.ID, []model.SalesComp{{Address: "1 A St", Price: 300_000, SquareFootage: &sqft}}, "comps.csv")
	require.NoError(t, err)
	rows, err := ImportComps(ctx, st, p.ID, []model.SalesComp{{Address: "2 B St", Price: 330_000}}, "comps2.csv")
	require.NoError(t, err)
	require.Len(t, rows, 1)

	all, err := st.QueryResults(ctx, p.ID, model.ResultSalesComp, 0)
	require.NoError(t, err)
	require.Len(t, all, 2, "imports append")

	var input map[string]any
	require.NoError(t, json.Unmarshal(all[1].Input, &input))
	assert.Equal(t, "comps2.csv", input["source"])

	_, err = ImportComps(ctx, st, p.ID, nil, "")
	assert.Error(t, err)
	_, err = ImportComps(ctx, st, p.ID, []model.SalesComp{{Price: -1}}, "")
	assert.Error(t, err)
}

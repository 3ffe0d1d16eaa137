package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/underwrite-cli/internal/config"
	"github.com/sells-group/underwrite-cli/internal/pipeline"
)

func TestRootCommand_HasSubcommands(t *testing.T) {
	names := make(map[string]bool)
	for _, c := range rootCmd.Commands() {
		names[c.Name()] = true
	}

	expected := []string{"intake", "comps", "units", "run", "advance", "status", "batch", "report", "settings", "serve"}
	for _, name := range expected {
		assert.True(t, names[name], "expected subcommand %q not found", name)
	}
}

func TestRootCommand_Metadata(t *testing.T) {
	assert.Equal(t, "underwrite", rootCmd.Use)
	assert.NotEmpty(t, rootCmd.Short)
	assert.NotEmpty(t, rootCmd.Long)
}

func TestCommands_Flags(t *testing.T) {
	tests := []struct {
		cmd   *cobra.Command
		flags []string
	}{
		{intakeCmd, []string{"file"}},
		{compsImportCmd, []string{"property", "file", "charset", "sheet", "source"}},
		{compsExcludeCmd, []string{"result"}},
		{unitsRentCmd, []string{"unit", "avm", "high", "low", "fmr"}},
		{runCmd, []string{"property", "stage"}},
		{advanceCmd, []string{"property"}},
		{statusCmd, []string{"property"}},
		{batchCmd, []string{"limit"}},
		{reportCmd, []string{"property", "out"}},
		{serveCmd, []string{"port"}},
	}

	for _, tt := range tests {
		t.Run(tt.cmd.Name(), func(t *testing.T) {
			for _, name := range tt.flags {
				assert.NotNil(t, tt.cmd.Flags().Lookup(name), "missing --%s", name)
			}
		})
	}
}

func TestBatchCommand_Flags(t *testing.T) {
	flag := batchCmd.Flags().Lookup("limit")
	require.NotNil(t, flag)
	assert.Equal(t, "100", flag.DefValue)
}

func TestServeCommand_Flags(t *testing.T) {
	flag := serveCmd.Flags().Lookup("port")
	require.NotNil(t, flag)
	assert.Equal(t, "0", flag.DefValue)
}

func TestRentsFromFlags_OnlyChanged(t *testing.T) {
	t.Cleanup(func() { unitsAVM, unitsHigh, unitsLow, unitsFMR = 0, 0, 0, 0 })

	cmd := &cobra.Command{Use: "rent"}
	cmd.Flags().Float64Var(&unitsAVM, "avm", 0, "")
	cmd.Flags().Float64Var(&unitsHigh, "high", 0, "")
	cmd.Flags().Float64Var(&unitsLow, "low", 0, "")
	cmd.Flags().Float64Var(&unitsFMR, "fmr", 0, "")
	require.NoError(t, cmd.Flags().Parse([]string{"--avm", "1500", "--fmr", "0"}))

	r := rentsFromFlags(cmd)
	require.NotNil(t, r.AVM)
	assert.Equal(t, 1500.0, *r.AVM)
	require.NotNil(t, r.FMR)
	assert.Equal(t, 0.0, *r.FMR)
	assert.Nil(t, r.High)
	assert.Nil(t, r.Low)
}

func TestInitStore(t *testing.T) {
	ctx := context.Background()

	st, err := initStore(ctx, config.StoreConfig{Driver: "sqlite", DatabaseURL: filepath.Join(t.TempDir(), "u.db")})
	require.NoError(t, err)
	require.NoError(t, st.Migrate(ctx))
	require.NoError(t, st.Close())

	_, err = initStore(ctx, config.StoreConfig{Driver: "mysql"})
	assert.Error(t, err)
}

func TestInitEnv_InvalidConfig(t *testing.T) {
	old := cfg
	t.Cleanup(func() { cfg = old })

	cfg = &config.Config{Store: config.StoreConfig{Driver: "postgres"}}
	_, err := initEnv(context.Background(), "run")
	assert.Error(t, err)
}

func TestCLI_IntakeRunReport(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("UNDERWRITE_STORE_DATABASE_URL", filepath.Join(dir, "cli.db"))
	t.Setenv("UNDERWRITE_LOG_LEVEL", "error")

	intakePath := filepath.Join(dir, "property.yaml")
	require.NoError(t, os.WriteFile(intakePath, []byte(`address: 100 Main St, Springfield
year_built: 1990
assessed_value: 2000000
unit_count: 40
vacancy: 0.05
units:
  - bedrooms: 2
    bathrooms: 1
    quantity: 10
    rent_avm: 1200
`), 0o644))

	out := execute(t, "intake", "--file", intakePath)
	assert.Contains(t, out, `"family": "multifamily"`)
	assert.Contains(t, out, `"stage": "not_started"`)

	env, err := initEnv(context.Background(), "run")
	require.NoError(t, err)
	ids, err := pipeline.Pending(context.Background(), env.Store, 0)
	env.Close()
	require.NoError(t, err)
	require.Len(t, ids, 1)

	out = execute(t, "batch")
	assert.Contains(t, out, `"succeeded": 1`)

	reportPath := filepath.Join(dir, "report.md")
	execute(t, "report", "--property", ids[0], "--out", reportPath)
	doc, err := os.ReadFile(reportPath)
	require.NoError(t, err)
	assert.Contains(t, string(doc), "- Offer price: $1,220,000.00")

	execute(t, "settings", "set", "market_defaults", `{"vacancy": 0.07}`)
	out = execute(t, "settings", "get", "market_defaults")
	assert.Contains(t, out, "0.07")
}

// execute runs the root command with args and returns stdout.
func execute(t *testing.T, args ...string) string {
	t.Helper()
	var buf bytes.Buffer
	rootCmd.SetOut(&buf)
	rootCmd.SetArgs(args)
	t.Cleanup(func() {
		rootCmd.SetOut(nil)
		rootCmd.SetArgs(nil)
	})
	require.NoError(t, rootCmd.ExecuteContext(context.Background()))
	return buf.String()
}

package main

import (
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/underwrite-cli/internal/model"
)

var (
	unitsID   string
	unitsAVM  float64
	unitsHigh float64
	unitsLow  float64
	unitsFMR  float64
)

var unitsCmd = &cobra.Command{
	Use:   "units",
	Short: "Manage unit configurations",
}

var unitsRentCmd = &cobra.Command{
	Use:   "rent",
	Short: "Record rent lookups for a unit configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		rents := rentsFromFlags(cmd)
		if rents.AVM == nil && rents.High == nil && rents.Low == nil && rents.FMR == nil {
			return eris.New("units: set at least one of --avm, --high, --low, --fmr")
		}

		env, err := initEnv(ctx, "run")
		if err != nil {
			return err
		}
		defer env.Close()

		if err := env.Store.UpdateUnitRents(ctx, unitsID, rents); err != nil {
			return eris.Wrapf(err, "units: update %s", unitsID)
		}
		return printJSON(cmd.OutOrStdout(), map[string]any{"unit_id": unitsID, "rents": rents})
	},
}

// rentsFromFlags keeps only the flags the user set.
func rentsFromFlags(cmd *cobra.Command) model.UnitRents {
	var r model.UnitRents
	pick := func(name string, v float64) *float64 {
		if !cmd.Flags().Changed(name) {
			return nil
		}
		return &v
	}
	r.AVM = pick("avm", unitsAVM)
	r.High = pick("high", unitsHigh)
	r.Low = pick("low", unitsLow)
	r.FMR = pick("fmr", unitsFMR)
	return r
}

func init() {
	unitsRentCmd.Flags().StringVar(&unitsID, "unit", "", "unit configuration ID")
	unitsRentCmd.Flags().Float64Var(&unitsAVM, "avm", 0, "automated valuation rent")
	unitsRentCmd.Flags().Float64Var(&unitsHigh, "high", 0, "high rent estimate")
	unitsRentCmd.Flags().Float64Var(&unitsLow, "low", 0, "low rent estimate")
	unitsRentCmd.Flags().Float64Var(&unitsFMR, "fmr", 0, "HUD fair market rent")
	_ = unitsRentCmd.MarkFlagRequired("unit")

	unitsCmd.AddCommand(unitsRentCmd)
	rootCmd.AddCommand(unitsCmd)
}

package main

import (
	"context"
	"fmt"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/underwrite-cli/internal/aggregate"
	"github.com/sells-group/underwrite-cli/internal/provider"
	"github.com/sells-group/underwrite-cli/internal/store"
)

var (
	reportProperty string
	reportOut      string
)

// renderReport builds the investment summary from the latest projection.
func renderReport(ctx context.Context, st store.Store, id string) (string, error) {
	agg, err := aggregate.NewLoader(st).Load(ctx, id)
	if err != nil {
		return "", err
	}
	return provider.NewInvestmentSummary(st).Render(ctx, agg)
}

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Render a property's investment summary as markdown",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx, "run")
		if err != nil {
			return err
		}
		defer env.Close()

		doc, err := renderReport(ctx, env.Store, reportProperty)
		if err != nil {
			return err
		}

		if reportOut == "" {
			_, err := fmt.Fprint(cmd.OutOrStdout(), doc)
			return err
		}
		if err := os.WriteFile(reportOut, []byte(doc), 0o644); err != nil {
			return eris.Wrapf(err, "report: write %s", reportOut)
		}
		zap.L().Info("report written", zap.String("property_id", reportProperty), zap.String("path", reportOut))
		return nil
	},
}

func init() {
	reportCmd.Flags().StringVar(&reportProperty, "property", "", "property ID")
	reportCmd.Flags().StringVar(&reportOut, "out", "", "write the report to this file instead of stdout")
	_ = reportCmd.MarkFlagRequired("property")
	rootCmd.AddCommand(reportCmd)
}

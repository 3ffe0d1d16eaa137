package main

import (
	"path/filepath"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/underwrite-cli/internal/intake"
)

var (
	compsProperty string
	compsFile     string
	compsCharset  string
	compsSheet    string
	compsSource   string
	compsResult   string
)

var compsCmd = &cobra.Command{
	Use:   "comps",
	Short: "Manage comparable sales",
}

var compsImportCmd = &cobra.Command{
	Use:   "import",
	Short: "Append sales comps from a .csv or .xlsx file",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx, "run")
		if err != nil {
			return err
		}
		defer env.Close()

		if _, err := env.Store.GetProperty(ctx, compsProperty); err != nil {
			return eris.Wrapf(err, "comps: property %s", compsProperty)
		}

		source := compsSource
		if source == "" {
			source = filepath.Base(compsFile)
		}
		comps, err := intake.ReadComps(ctx, compsFile, intake.CompsOptions{
			Charset: compsCharset,
			Sheet:   compsSheet,
			Source:  source,
		})
		if err != nil {
			return err
		}

		rows, err := intake.ImportComps(ctx, env.Store, compsProperty, comps, source)
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), map[string]any{
			"property_id": compsProperty,
			"imported":    len(rows),
		})
	},
}

var compsExcludeCmd = &cobra.Command{
	Use:   "exclude",
	Short: "Exclude one imported comp from pricing",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx, "run")
		if err != nil {
			return err
		}
		defer env.Close()

		if err := env.Store.PatchResult(ctx, compsResult, map[string]any{"excluded": true}); err != nil {
			return eris.Wrapf(err, "comps: exclude %s", compsResult)
		}
		return printJSON(cmd.OutOrStdout(), map[string]any{"result_id": compsResult, "excluded": true})
	},
}

func init() {
	compsImportCmd.Flags().StringVar(&compsProperty, "property", "", "property ID")
	compsImportCmd.Flags().StringVar(&compsFile, "file", "", "comps file (.csv or .xlsx)")
	compsImportCmd.Flags().StringVar(&compsCharset, "charset", "", "CSV character set, e.g. windows-1252")
	compsImportCmd.Flags().StringVar(&compsSheet, "sheet", "", "XLSX sheet name (default first sheet)")
	compsImportCmd.Flags().StringVar(&compsSource, "source", "", "source label (default file name)")
	_ = compsImportCmd.MarkFlagRequired("property")
	_ = compsImportCmd.MarkFlagRequired("file")

	compsExcludeCmd.Flags().StringVar(&compsResult, "result", "", "sales_comp result ID")
	_ = compsExcludeCmd.MarkFlagRequired("result")

	compsCmd.AddCommand(compsImportCmd, compsExcludeCmd)
	rootCmd.AddCommand(compsCmd)
}

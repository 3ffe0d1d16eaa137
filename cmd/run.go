package main

import (
	"github.com/spf13/cobra"

	"github.com/sells-group/underwrite-cli/internal/model"
)

var (
	runProperty string
	runStage    string
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a property through its stages",
	Long:  "Without --stage, runs the current stage and advances until the property is complete or a stage fails. With --stage, runs that one stage and leaves the marker where it is unless the stage is current.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx, "run")
		if err != nil {
			return err
		}
		defer env.Close()

		if runStage != "" {
			res, err := env.Runner.RunStage(ctx, runProperty, model.Stage(runStage))
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), res)
		}

		p, err := env.Runner.Run(ctx, runProperty)
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), p)
	},
}

var advanceProperty string

var advanceCmd = &cobra.Command{
	Use:   "advance",
	Short: "Move a property whose current stage completed to the next stage",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx, "run")
		if err != nil {
			return err
		}
		defer env.Close()

		next, err := env.Runner.Advance(ctx, advanceProperty)
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), map[string]any{"property_id": advanceProperty, "stage": next})
	},
}

func init() {
	runCmd.Flags().StringVar(&runProperty, "property", "", "property ID")
	runCmd.Flags().StringVar(&runStage, "stage", "", "run only this stage")
	_ = runCmd.MarkFlagRequired("property")

	advanceCmd.Flags().StringVar(&advanceProperty, "property", "", "property ID")
	_ = advanceCmd.MarkFlagRequired("property")

	rootCmd.AddCommand(runCmd, advanceCmd)
}

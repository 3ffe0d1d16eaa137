package main

import (
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/underwrite-cli/internal/intake"
)

var intakeFile string

var intakeCmd = &cobra.Command{
	Use:   "intake",
	Short: "Open an underwriting file from a YAML property document",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		in, err := intake.LoadFile(intakeFile)
		if err != nil {
			return err
		}

		env, err := initEnv(ctx, "run")
		if err != nil {
			return err
		}
		defer env.Close()

		p, err := env.Store.CreateProperty(ctx, in)
		if err != nil {
			return eris.Wrap(err, "create property")
		}
		zap.L().Info("property created",
			zap.String("property_id", p.ID),
			zap.String("family", string(p.Family)),
		)
		return printJSON(cmd.OutOrStdout(), p)
	},
}

func init() {
	intakeCmd.Flags().StringVar(&intakeFile, "file", "", "property intake YAML file")
	_ = intakeCmd.MarkFlagRequired("file")
	rootCmd.AddCommand(intakeCmd)
}

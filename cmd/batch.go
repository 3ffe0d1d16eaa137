package main

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/underwrite-cli/internal/pipeline"
)

var batchLimit int

var batchCmd = &cobra.Command{
	Use:   "batch",
	Short: "Run every incomplete property through its stages",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx, "run")
		if err != nil {
			return err
		}
		defer env.Close()

		ids, err := pipeline.Pending(ctx, env.Store, batchLimit)
		if err != nil {
			return err
		}

		b := pipeline.NewBatch(env.Runner, cfg.Batch.MaxConcurrentProperties, cfg.Batch.RatePerSecond)
		summary, err := b.Run(ctx, ids)
		if summary != nil {
			if perr := printJSON(cmd.OutOrStdout(), summary); perr != nil {
				zap.L().Warn("batch: print summary", zap.Error(perr))
			}
		}
		return err
	},
}

func init() {
	batchCmd.Flags().IntVar(&batchLimit, "limit", 100, "max properties to process")
	rootCmd.AddCommand(batchCmd)
}

package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/sells-group/underwrite-cli/internal/model"
	"github.com/sells-group/underwrite-cli/internal/store"
)

var statusProperty string

// propertyStatus is the full view of one underwriting file.
type propertyStatus struct {
	Property  *model.Property           `json:"property"`
	Address   string                    `json:"address"`
	Units     []model.UnitConfiguration `json:"units"`
	Meta      map[string]string         `json:"meta"`
	StageRuns []model.StageRun          `json:"stage_runs"`
	Results   map[string]int            `json:"results"`
}

func loadStatus(ctx context.Context, st store.Store, id string) (*propertyStatus, error) {
	p, err := st.GetProperty(ctx, id)
	if err != nil {
		return nil, err
	}
	addr, err := st.GetAddress(ctx, id)
	if err != nil {
		return nil, err
	}
	units, err := st.ListUnits(ctx, id)
	if err != nil {
		return nil, err
	}
	meta, err := st.ListMeta(ctx, id)
	if err != nil {
		return nil, err
	}
	runs, err := st.ListStageRuns(ctx, id)
	if err != nil {
		return nil, err
	}
	results, err := st.ListResults(ctx, id)
	if err != nil {
		return nil, err
	}

	s := &propertyStatus{
		Property:  p,
		Address:   addr.FullAddress,
		Units:     units,
		Meta:      make(map[string]string, len(meta)),
		StageRuns: runs,
		Results:   make(map[string]int),
	}
	for _, m := range meta {
		s.Meta[m.Key] = m.Value
	}
	for _, r := range results {
		s.Results[r.ResultType]++
	}
	return s, nil
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show a property's stage, facts and stage run history",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx, "run")
		if err != nil {
			return err
		}
		defer env.Close()

		s, err := loadStatus(ctx, env.Store, statusProperty)
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), s)
	},
}

func init() {
	statusCmd.Flags().StringVar(&statusProperty, "property", "", "property ID")
	_ = statusCmd.MarkFlagRequired("property")
	rootCmd.AddCommand(statusCmd)
}

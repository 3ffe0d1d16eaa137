// Package provider implements the per-stage underwriting computations. A
// provider reads an aggregate, computes, and writes through a store.Writer.
package provider

import (
	"context"

	"github.com/sells-group/underwrite-cli/internal/aggregate"
	"github.com/sells-group/underwrite-cli/internal/model"
	"github.com/sells-group/underwrite-cli/internal/store"
)

// Provider is one computation unit for a (family, stage) pair. Run must be
// idempotent: the same aggregate yields the same writes.
type Provider interface {
	// Name identifies the provider in logs and stage runs.
	Name() string
	// Stage is the stage this provider belongs to.
	Stage() model.Stage
	// Run computes and buffers writes into w. Writes are discarded if Run
	// returns an error.
	Run(ctx context.Context, agg *aggregate.Aggregate, w store.Writer) (*StageOutput, error)
}

// StageOutput describes what a provider produced.
type StageOutput struct {
	Provider string             `json:"provider"`
	Stage    model.Stage        `json:"stage"`
	Values   map[string]float64 `json:"values,omitempty"`
	Label    string             `json:"label,omitempty"`
	Document string             `json:"document,omitempty"`
}

// Deps are the read-only stores providers may query beyond the aggregate.
type Deps struct {
	Results  store.ResultReader
	Settings store.SettingReader
}

package store

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/sells-group/underwrite-cli/internal/model"
)

// ErrNotFound is returned (wrapped) when a requested row does not exist.
var ErrNotFound = errors.New("not found")

// IsNotFound reports whether err wraps ErrNotFound.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// ErrDerivedResult is returned (wrapped) when a patch targets a result row
// produced by a stage rather than imported.
var ErrDerivedResult = errors.New("derived result cannot be patched")

// IsDerivedResult reports whether err wraps ErrDerivedResult.
func IsDerivedResult(err error) bool {
	return errors.Is(err, ErrDerivedResult)
}

// PropertyFilter specifies criteria for listing properties.
type PropertyFilter struct {
	Family     model.Family `json:"family,omitempty"`
	Stage      model.Stage  `json:"stage,omitempty"`
	Incomplete bool         `json:"incomplete,omitempty"` // exclude stage=complete
	UserID     string       `json:"user_id,omitempty"`
	Limit      int          `json:"limit,omitempty"`
	Offset     int          `json:"offset,omitempty"`
}

// PropertyStore holds the relational intake records and the stage marker.
type PropertyStore interface {
	CreateProperty(ctx context.Context, in model.Intake) (*model.Property, error)
	GetProperty(ctx context.Context, id string) (*model.Property, error)
	ListProperties(ctx context.Context, filter PropertyFilter) ([]model.Property, error)
	GetAddress(ctx context.Context, propertyID string) (*model.Address, error)
	ListUnits(ctx context.Context, propertyID string) ([]model.UnitConfiguration, error)
	UpdateUnitRents(ctx context.Context, unitID string, rents model.UnitRents) error
	SetStage(ctx context.Context, propertyID string, stage model.Stage, completed bool) error
}

// MetadataStore is the per-property scalar fact store. Writes are upserts on
// (propertyID, key).
type MetadataStore interface {
	UpsertMeta(ctx context.Context, propertyID, key, value string, payload json.RawMessage) error
	ListMeta(ctx context.Context, propertyID string) ([]model.PropertyMeta, error)
}

// ResultReader reads typed JSON results.
type ResultReader interface {
	// QueryResults returns rows of resultType oldest first. limit <= 0 means all.
	QueryResults(ctx context.Context, propertyID, resultType string, limit int) ([]model.LookupResult, error)
}

// ResultStore is the typed JSON result store.
type ResultStore interface {
	ResultReader
	// WriteResults persists records under resultType. WriteReplace deletes every
	// existing row of the type first; WriteAppend only inserts.
	WriteResults(ctx context.Context, propertyID, resultType string, mode model.WriteMode, records []json.RawMessage, input json.RawMessage) ([]model.LookupResult, error)
	// PatchResult merges fields into the top-level object of one raw result.
	// Derived result types fail with ErrDerivedResult.
	PatchResult(ctx context.Context, resultID string, fields map[string]any) error
	// ListResults returns every result of a property, oldest first.
	ListResults(ctx context.Context, propertyID string) ([]model.LookupResult, error)
}

// SettingReader reads process-wide settings.
type SettingReader interface {
	GetSetting(ctx context.Context, key string) (json.RawMessage, error)
}

// SettingStore reads and writes process-wide settings.
type SettingStore interface {
	SettingReader
	PutSetting(ctx context.Context, key string, value json.RawMessage) error
}

// StageLog records stage executions.
type StageLog interface {
	RecordStageRun(ctx context.Context, run model.StageRun) error
	ListStageRuns(ctx context.Context, propertyID string) ([]model.StageRun, error)
}

// Store defines the persistence interface for the underwriting pipeline.
type Store interface {
	PropertyStore
	MetadataStore
	ResultStore
	SettingStore
	StageLog

	// Apply commits every write buffered in b in one transaction.
	Apply(ctx context.Context, b *Batch) error

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}

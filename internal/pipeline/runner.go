package pipeline

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/underwrite-cli/internal/aggregate"
	"github.com/sells-group/underwrite-cli/internal/failure"
	"github.com/sells-group/underwrite-cli/internal/model"
	"github.com/sells-group/underwrite-cli/internal/provider"
	"github.com/sells-group/underwrite-cli/internal/resilience"
	"github.com/sells-group/underwrite-cli/internal/store"
)

var (
	// ErrStageAhead is returned when a stage later than the property's
	// current stage is requested.
	ErrStageAhead = errors.New("stage is ahead of the property")
	// ErrStageIncomplete is returned by Advance while the current stage has
	// not completed.
	ErrStageIncomplete = errors.New("current stage is not completed")
	// ErrTerminal is returned by Advance on a complete property.
	ErrTerminal = errors.New("property is complete")
	// ErrUnknownStage is returned for a stage outside the family's workflow.
	ErrUnknownStage = errors.New("unknown stage")
)

// StageResult is the outcome of one successful stage execution.
type StageResult struct {
	PropertyID string                  `json:"property_id"`
	Stage      model.Stage             `json:"stage"`
	Outputs    []*provider.StageOutput `json:"outputs,omitempty"`
	DurationMs int64                   `json:"duration_ms"`
	// ChangedMeta lists meta keys an earlier-stage rerun rewrote with a new
	// value. Stages after it still hold figures derived from the old values.
	ChangedMeta []string `json:"changed_meta,omitempty"`
}

// Document returns the first rendered document among the outputs.
func (r *StageResult) Document() string {
	for _, o := range r.Outputs {
		if o != nil && o.Document != "" {
			return o.Document
		}
	}
	return ""
}

// Runner executes stages and moves the stage marker.
type Runner struct {
	store    store.Store
	loader   *aggregate.Loader
	selector *Selector
	retry    resilience.RetryConfig
}

// NewRunner creates a Runner over st. Commits that hit lock contention or a
// dropped connection are retried with resilience.DefaultRetryConfig.
func NewRunner(st store.Store, sel *Selector) *Runner {
	return &Runner{
		store:    st,
		loader:   aggregate.NewLoader(st),
		selector: sel,
		retry:    resilience.DefaultRetryConfig(),
	}
}

// SetCommitRetry replaces the retry policy for batch commits.
func (r *Runner) SetCommitRetry(cfg resilience.RetryConfig) { r.retry = cfg }

// Selector returns the runner's selector.
func (r *Runner) Selector() *Selector { return r.selector }

// RunStage runs every provider of stage for property id. An empty stage means
// the property's current stage. Each provider's writes are committed only if
// it succeeds; the first failure aborts the stage.
func (r *Runner) RunStage(ctx context.Context, id string, stage model.Stage) (*StageResult, error) {
	agg, err := r.loader.Load(ctx, id)
	if err != nil {
		return nil, err
	}
	if stage == "" {
		stage = agg.Stage
	}
	current, err := r.selector.Index(agg.Family, agg.Stage)
	if err != nil {
		return nil, err
	}
	requested, err := r.selector.Index(agg.Family, stage)
	if err != nil {
		return nil, err
	}
	if requested > current {
		return nil, eris.Wrapf(ErrStageAhead, "pipeline: %s requested, %s is at %s", stage, id, agg.Stage)
	}
	providers, err := r.selector.Providers(agg.Family, stage)
	if err != nil {
		return nil, err
	}

	log := zap.L().With(zap.String("property_id", id), zap.String("stage", string(stage)))
	log.Info("pipeline: stage starting", zap.Int("providers", len(providers)))

	isCurrent := stage == agg.Stage
	start := time.Now()
	result := &StageResult{PropertyID: id, Stage: stage}

	for i, p := range providers {
		b := store.NewBatch(id)
		out, runErr := p.Run(ctx, agg, b)
		if runErr == nil {
			runErr = r.commit(ctx, b, stage)
		}
		if runErr != nil {
			runErr = eris.Wrapf(runErr, "pipeline: %s %s", stage, p.Name())
			r.recordFailure(ctx, log, id, stage, isCurrent, start, runErr)
			return nil, runErr
		}
		result.Outputs = append(result.Outputs, out)
		if !isCurrent {
			result.ChangedMeta = append(result.ChangedMeta, changedMeta(agg, b)...)
		}

		// Later providers of the same stage see earlier writes.
		if i < len(providers)-1 && !b.Empty() {
			if agg, err = r.loader.Load(ctx, id); err != nil {
				return nil, err
			}
		}
	}

	result.DurationMs = time.Since(start).Milliseconds()
	r.record(ctx, log, model.StageRun{
		PropertyID: id,
		Stage:      stage,
		Status:     model.StageRunComplete,
		DurationMs: result.DurationMs,
		StartedAt:  start.UTC(),
	})
	if isCurrent {
		if err := r.store.SetStage(ctx, id, stage, true); err != nil {
			return nil, eris.Wrapf(err, "pipeline: mark %s complete for %s", stage, id)
		}
	}
	if len(result.ChangedMeta) > 0 {
		log.Warn("pipeline: rerun changed facts, later stages may be stale",
			zap.Strings("keys", result.ChangedMeta),
			zap.String("current_stage", string(agg.Stage)),
		)
	}
	log.Info("pipeline: stage complete",
		zap.Int64("duration_ms", result.DurationMs),
		zap.Bool("current", isCurrent),
	)
	return result, nil
}

// changedMeta returns the keys in b whose value differs from agg's.
func changedMeta(agg *aggregate.Aggregate, b *store.Batch) []string {
	var keys []string
	for _, m := range b.Meta {
		if old, ok := agg.Meta[m.Key]; !ok || old != m.Value {
			keys = append(keys, m.Key)
		}
	}
	return keys
}

// commit applies b, retrying transient store errors. Apply is all-or-nothing,
// so a retried commit never half-writes a batch.
func (r *Runner) commit(ctx context.Context, b *store.Batch, stage model.Stage) error {
	cfg := r.retry
	if cfg.OnRetry == nil {
		cfg.OnRetry = resilience.CommitLogger(b.PropertyID, string(stage))
	}
	return resilience.Do(ctx, cfg, func(ctx context.Context) error {
		return r.store.Apply(ctx, b)
	})
}

func (r *Runner) recordFailure(ctx context.Context, log *zap.Logger, id string, stage model.Stage, isCurrent bool, start time.Time, runErr error) {
	kind := failure.Classify(runErr)
	duration := time.Since(start).Milliseconds()
	log.Error("pipeline: stage failed",
		zap.String("error_kind", string(kind)),
		zap.Int64("duration_ms", duration),
		zap.Error(runErr),
	)
	r.record(ctx, log, model.StageRun{
		PropertyID: id,
		Stage:      stage,
		Status:     model.StageRunFailed,
		ErrorKind:  string(kind),
		Error:      runErr.Error(),
		DurationMs: duration,
		StartedAt:  start.UTC(),
	})
	if isCurrent {
		if err := r.store.SetStage(ctx, id, stage, false); err != nil {
			log.Warn("pipeline: failed to clear stage completion", zap.Error(err))
		}
	}
}

func (r *Runner) record(ctx context.Context, log *zap.Logger, run model.StageRun) {
	run.ID = uuid.New().String()
	if err := r.store.RecordStageRun(ctx, run); err != nil {
		log.Warn("pipeline: failed to record stage run", zap.Error(err))
	}
}

// Advance moves property id to its next stage. The current stage must be
// completed. Reaching complete marks the property completed.
func (r *Runner) Advance(ctx context.Context, id string) (model.Stage, error) {
	p, err := r.store.GetProperty(ctx, id)
	if err != nil {
		return "", eris.Wrapf(err, "pipeline: advance %s", id)
	}
	if p.Stage == model.StageComplete {
		return "", eris.Wrapf(ErrTerminal, "pipeline: advance %s", id)
	}
	if !p.StageCompleted {
		return "", eris.Wrapf(ErrStageIncomplete, "pipeline: advance %s from %s", id, p.Stage)
	}
	next, err := r.selector.Next(p.Family, p.Stage)
	if err != nil {
		return "", err
	}
	// Stages without providers are complete on arrival.
	providers, err := r.selector.Providers(p.Family, next)
	if err != nil {
		return "", err
	}
	if err := r.store.SetStage(ctx, id, next, len(providers) == 0); err != nil {
		return "", eris.Wrapf(err, "pipeline: advance %s to %s", id, next)
	}
	zap.L().Info("pipeline: stage advanced",
		zap.String("property_id", id),
		zap.String("from", string(p.Stage)),
		zap.String("to", string(next)),
	)
	return next, nil
}

// Run executes and advances property id until it is complete or a stage
// fails. Completed stages are not rerun.
func (r *Runner) Run(ctx context.Context, id string) (*model.Property, error) {
	for {
		if err := ctx.Err(); err != nil {
			return nil, eris.Wrapf(err, "pipeline: run %s", id)
		}
		p, err := r.store.GetProperty(ctx, id)
		if err != nil {
			return nil, eris.Wrapf(err, "pipeline: run %s", id)
		}
		if p.Stage == model.StageComplete {
			return p, nil
		}
		if !p.StageCompleted {
			if _, err := r.RunStage(ctx, id, p.Stage); err != nil {
				return nil, err
			}
		}
		if _, err := r.Advance(ctx, id); err != nil {
			return nil, err
		}
	}
}

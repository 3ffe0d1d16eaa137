package pipeline

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/sells-group/underwrite-cli/internal/failure"
	"github.com/sells-group/underwrite-cli/internal/store"
)

// BatchFailure describes one property that did not reach complete.
type BatchFailure struct {
	PropertyID string       `json:"property_id"`
	Kind       failure.Kind `json:"kind"`
	Error      string       `json:"error"`
}

// BatchSummary totals a batch run.
type BatchSummary struct {
	Total      int            `json:"total"`
	Succeeded  int64          `json:"succeeded"`
	Failed     int64          `json:"failed"`
	Failures   []BatchFailure `json:"failures,omitempty"`
	DurationMs int64          `json:"duration_ms"`
}

// Batch runs many properties to completion concurrently. Properties share
// nothing but the store, so each one runs its stages sequentially while
// distinct properties proceed in parallel.
type Batch struct {
	runner      *Runner
	concurrency int
	limiter     *rate.Limiter
}

// NewBatch creates a batch runner. perSecond caps how fast properties are
// started; zero or less disables the cap.
func NewBatch(runner *Runner, concurrency int, perSecond float64) *Batch {
	if concurrency < 1 {
		concurrency = 1
	}
	limit := rate.Inf
	if perSecond > 0 {
		limit = rate.Limit(perSecond)
	}
	return &Batch{
		runner:      runner,
		concurrency: concurrency,
		limiter:     rate.NewLimiter(limit, concurrency),
	}
}

// Pending lists properties that have not reached complete, oldest first.
func Pending(ctx context.Context, st store.PropertyStore, limit int) ([]string, error) {
	props, err := st.ListProperties(ctx, store.PropertyFilter{Incomplete: true, Limit: limit})
	if err != nil {
		return nil, eris.Wrap(err, "pipeline: list pending properties")
	}
	ids := make([]string, len(props))
	for i, p := range props {
		ids[i] = p.ID
	}
	return ids, nil
}

// Run drives every property in ids. Individual failures are counted and
// logged, not returned; only cancellation aborts the batch.
func (b *Batch) Run(ctx context.Context, ids []string) (*BatchSummary, error) {
	summary := &BatchSummary{Total: len(ids)}
	if len(ids) == 0 {
		zap.L().Info("pipeline: no pending properties")
		return summary, nil
	}

	zap.L().Info("pipeline: batch starting",
		zap.Int("properties", len(ids)),
		zap.Int("concurrency", b.concurrency),
	)
	start := time.Now()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(b.concurrency)

	var succeeded, failed atomic.Int64
	var mu sync.Mutex

	for _, id := range ids {
		if err := b.limiter.Wait(gctx); err != nil {
			break
		}
		g.Go(func() error {
			log := zap.L().With(zap.String("property_id", id))

			p, err := b.runner.Run(gctx, id)
			if err != nil {
				failed.Add(1)
				log.Error("pipeline: property failed", zap.Error(err))
				mu.Lock()
				summary.Failures = append(summary.Failures, BatchFailure{
					PropertyID: id,
					Kind:       failure.Classify(err),
					Error:      err.Error(),
				})
				mu.Unlock()
				return nil // one property never aborts the batch
			}

			succeeded.Add(1)
			log.Info("pipeline: property complete", zap.String("stage", string(p.Stage)))
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, eris.Wrap(err, "pipeline: batch")
	}
	summary.Succeeded = succeeded.Load()
	summary.Failed = failed.Load()
	sort.Slice(summary.Failures, func(i, j int) bool {
		return summary.Failures[i].PropertyID < summary.Failures[j].PropertyID
	})
	summary.DurationMs = time.Since(start).Milliseconds()
	if err := ctx.Err(); err != nil {
		return summary, eris.Wrap(err, "pipeline: batch interrupted")
	}

	zap.L().Info("pipeline: batch complete",
		zap.Int64("succeeded", summary.Succeeded),
		zap.Int64("failed", summary.Failed),
		zap.Int64("duration_ms", summary.DurationMs),
	)
	return summary, nil
}

// Package jobs contains the background jobs run by the scheduler.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/schooladmin/recordsync/internal/domain/records"
	"github.com/schooladmin/recordsync/internal/domain/shared"
	"github.com/schooladmin/recordsync/pkg/logger"
	"github.com/schooladmin/recordsync/pkg/retry"
)

// Prefetch outcomes reported to the outcome hook.
const (
	OutcomeOK      = "ok"
	OutcomePartial = "partial"
	OutcomeFailed  = "failed"
)

// Loader replaces one kind's collection with a fresh list.
type Loader interface {
	Load(ctx context.Context, kind records.Kind) ([]records.Record, error)
}

// PrefetchJob loads the primary kind first and then every other kind, so the
// reference index and search have data before anyone asks.
type PrefetchJob struct {
	loader  Loader
	retrier *retry.Retrier
	logger  *logger.Logger
	config  PrefetchConfig

	onOutcome func(outcome string)
}

// PrefetchConfig configures the prefetch job.
type PrefetchConfig struct {
	// Kinds are loaded in order. Defaults to records.AllKinds().
	Kinds []records.Kind

	// KindTimeout bounds a single kind's load including retries.
	KindTimeout time.Duration
}

// DefaultPrefetchConfig returns the default configuration.
func DefaultPrefetchConfig() PrefetchConfig {
	return PrefetchConfig{
		Kinds:       records.AllKinds(),
		KindTimeout: time.Minute,
	}
}

// PrefetchOption configures a PrefetchJob.
type PrefetchOption func(*PrefetchJob)

// WithRetrier overrides the retry policy. Only network errors should be
// retried.
func WithRetrier(r *retry.Retrier) PrefetchOption {
	return func(j *PrefetchJob) { j.retrier = r }
}

// WithLogger sets the logger.
func WithLogger(l *logger.Logger) PrefetchOption {
	return func(j *PrefetchJob) { j.logger = l }
}

// WithOutcomeHook is called once per run with ok, partial or failed.
func WithOutcomeHook(fn func(outcome string)) PrefetchOption {
	return func(j *PrefetchJob) { j.onOutcome = fn }
}

// NewPrefetchJob creates a new PrefetchJob.
func NewPrefetchJob(loader Loader, cfg PrefetchConfig, opts ...PrefetchOption) *PrefetchJob {
	if len(cfg.Kinds) == 0 {
		cfg.Kinds = records.AllKinds()
	}
	if cfg.KindTimeout <= 0 {
		cfg.KindTimeout = DefaultPrefetchConfig().KindTimeout
	}
	j := &PrefetchJob{
		loader: loader,
		logger: logger.Nop(),
		config: cfg,
	}
	for _, opt := range opts {
		opt(j)
	}
	if j.retrier == nil {
		j.retrier = retry.PrefetchRetrier(shared.IsNetwork)
	}
	j.logger = j.logger.With(logger.Component("prefetch"))
	return j
}

// Name returns the job name.
func (j *PrefetchJob) Name() string { return "prefetch_records" }

// Description returns a human-readable description.
func (j *PrefetchJob) Description() string {
	return "Reloads every record kind into the entity cache"
}

// Run loads each kind in order. A failed kind does not stop the others; the
// failures are joined into the returned error.
func (j *PrefetchJob) Run(ctx context.Context) error {
	var (
		errs   []error
		loaded int
		start  = time.Now()
	)

	for _, kind := range j.config.Kinds {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}

		n, err := j.loadKind(ctx, kind)
		if err != nil {
			j.logger.Warn("prefetch failed", logger.Kind(string(kind)), logger.Err(err))
			errs = append(errs, fmt.Errorf("%s: %w", kind, err))
			continue
		}
		loaded++
		j.logger.Debug("prefetched", logger.Kind(string(kind)), logger.Int("count", n))
	}

	outcome := OutcomeOK
	switch {
	case loaded == 0 && len(errs) > 0:
		outcome = OutcomeFailed
	case len(errs) > 0:
		outcome = OutcomePartial
	}
	if j.onOutcome != nil {
		j.onOutcome(outcome)
	}

	j.logger.Info("prefetch finished",
		logger.String("outcome", outcome),
		logger.Int("kinds_loaded", loaded),
		logger.Int("kinds_failed", len(errs)),
		logger.Duration("duration", time.Since(start)),
	)
	return errors.Join(errs...)
}

func (j *PrefetchJob) loadKind(ctx context.Context, kind records.Kind) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, j.config.KindTimeout)
	defer cancel()

	recs, err := retry.DoWithData(ctx, j.retrier, func(ctx context.Context) ([]records.Record, error) {
		recs, err := j.loader.Load(ctx, kind)
		if err != nil && !shared.IsNetwork(err) {
			return nil, retry.Permanent(err)
		}
		return recs, err
	})
	return len(recs), err
}

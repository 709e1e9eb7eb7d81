package backup

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/edvin/backup/internal/metrics"
	"github.com/edvin/backup/internal/model"
	"github.com/edvin/backup/internal/platform"
)

// RunStore persists completed run summaries.
type RunStore interface {
	SaveRun(ctx context.Context, run *model.RunResult) error
}

// Notifier announces run outcomes. Implementations must be fire-and-forget.
type Notifier interface {
	PublishRunSummary(ctx context.Context, run *model.RunResult)
}

// RunOptions narrows one orchestration pass.
type RunOptions struct {
	// Kinds restricts the pass to the given kinds. Empty means all kinds
	// with a registered adapter.
	Kinds []model.ResourceKind
	// Filter is the conjunctive tag filter applied during enumeration.
	Filter Filter
}

// Manager drives enumeration and execution across resource kinds with
// bounded parallelism, aggregates results, persists the run summary, and
// triggers the retention sweep.
type Manager struct {
	logger      zerolog.Logger
	enumerators map[model.ResourceKind]Enumerator
	adapters    map[model.ResourceKind]Adapter
	sweeper     *Sweeper
	store       RunStore
	notifier    Notifier
	instruments *metrics.Instruments

	budget int
	policy model.RetentionPolicy
}

// NewManager creates a Manager. store may be nil (runs are logged but not
// persisted); notifier and instruments are required.
func NewManager(
	logger zerolog.Logger,
	enumerators []Enumerator,
	adapters []Adapter,
	sweeper *Sweeper,
	store RunStore,
	notifier Notifier,
	instruments *metrics.Instruments,
	budget int,
	policy model.RetentionPolicy,
) *Manager {
	enumByKind := make(map[model.ResourceKind]Enumerator, len(enumerators))
	for _, e := range enumerators {
		enumByKind[e.Kind()] = e
	}
	adapterByKind := make(map[model.ResourceKind]Adapter, len(adapters))
	for _, a := range adapters {
		adapterByKind[a.Kind()] = a
	}

	return &Manager{
		logger:      logger.With().Str("component", "backup-manager").Logger(),
		enumerators: enumByKind,
		adapters:    adapterByKind,
		sweeper:     sweeper,
		store:       store,
		notifier:    notifier,
		instruments: instruments,
		budget:      budget,
		policy:      policy,
	}
}

// Run executes one full orchestration pass. The returned RunResult is always
// populated, including on partial failure; the error is non-nil only for
// run-level failures (cancellation between kinds, catalog persistence).
func (m *Manager) Run(ctx context.Context, opts RunOptions) (*model.RunResult, error) {
	run := &model.RunResult{
		RunID:      platform.NewID(),
		State:      model.RunStarted,
		StartedAt:  time.Now().UTC(),
		PerKind:    make(map[model.ResourceKind]model.KindStats),
		KindErrors: make(map[model.ResourceKind]string),
	}
	logger := m.logger.With().Str("run_id", run.RunID).Logger()
	logger.Info().Msg("backup run started")

	kinds := opts.Kinds
	if len(kinds) == 0 {
		for _, kind := range model.AllKinds {
			if _, ok := m.adapters[kind]; ok {
				kinds = append(kinds, kind)
			}
		}
	}

	for _, kind := range kinds {
		// Cancellation is honored between kinds; in-flight operations
		// run to completion.
		if err := ctx.Err(); err != nil {
			m.finish(run, logger)
			return run, fmt.Errorf("run cancelled before kind %s: %w", kind, err)
		}

		enumerator, ok := m.enumerators[kind]
		if !ok {
			run.KindErrors[kind] = "no enumerator registered"
			continue
		}
		adapter, ok := m.adapters[kind]
		if !ok {
			run.KindErrors[kind] = "no adapter registered"
			continue
		}

		run.State = model.RunEnumerating
		refs, err := enumerator.List(ctx, opts.Filter)
		if err != nil {
			logger.Error().Err(err).Str("kind", string(kind)).Msg("enumeration failed")
			run.KindErrors[kind] = err.Error()
			run.PerKind[kind] = model.KindStats{}
			continue
		}
		logger.Info().Str("kind", string(kind)).Int("resources", len(refs)).Msg("enumerated resources")

		run.State = model.RunExecuting
		records := m.executeKind(ctx, adapter, refs)

		run.State = model.RunAggregating
		stats := model.KindStats{Attempted: len(refs)}
		for _, record := range records {
			if record.State == model.BackupFailed {
				stats.Failed++
				m.instruments.BackupResources.WithLabelValues(string(kind), "failed").Inc()
			} else {
				stats.Succeeded++
				m.instruments.BackupResources.WithLabelValues(string(kind), "succeeded").Inc()
			}
		}
		run.PerKind[kind] = stats
		run.Records = append(run.Records, records...)
	}

	run.State = model.RunCleaningUp
	if m.sweeper != nil {
		swept, err := m.sweeper.Sweep(ctx, m.policy)
		if err != nil {
			logger.Warn().Err(err).Msg("retention sweep incomplete")
		}
		run.SweptRecordIDs = swept
	}

	m.finish(run, logger)

	if m.store != nil {
		if err := m.store.SaveRun(ctx, run); err != nil {
			return run, fmt.Errorf("persist run %s: %w", run.RunID, err)
		}
	}

	m.notifier.PublishRunSummary(ctx, run)
	return run, nil
}

// executeKind backs up all refs of one kind on a worker pool bounded by the
// configured budget. It returns only after every worker finished, so callers
// read the records without racing in-flight writes.
func (m *Manager) executeKind(ctx context.Context, adapter Adapter, refs []model.ResourceRef) []model.BackupRecord {
	records := make([]model.BackupRecord, len(refs))

	g := new(errgroup.Group)
	g.SetLimit(m.budget)
	for i, ref := range refs {
		g.Go(func() error {
			records[i] = adapter.Execute(ctx, ref)
			return nil
		})
	}
	// Workers capture failures in their records and never return errors.
	_ = g.Wait()

	return records
}

func (m *Manager) finish(run *model.RunResult, logger zerolog.Logger) {
	run.FinishedAt = time.Now().UTC()
	succeeded, failed := run.Totals()
	run.State = model.RunFinished
	if failed > 0 || len(run.KindErrors) > 0 {
		run.State = model.RunPartiallyFailed
	}

	duration := run.FinishedAt.Sub(run.StartedAt)
	m.instruments.RunDuration.Observe(duration.Seconds())
	m.instruments.RunsTotal.WithLabelValues(string(run.State)).Inc()
	logger.Info().
		Str("state", string(run.State)).
		Int("succeeded", succeeded).
		Int("failed", failed).
		Int("swept", len(run.SweptRecordIDs)).
		Dur("duration", duration).
		Msg("backup run finished")
}

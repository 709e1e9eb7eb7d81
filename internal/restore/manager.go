// Package restore implements the read path over the backup catalog:
// discovery, pre-flight integrity validation, and validation-gated
// restoration with durable handles for operations that outlive a single
// invocation.
package restore

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"github.com/edvin/backup/internal/backup"
	"github.com/edvin/backup/internal/metrics"
	"github.com/edvin/backup/internal/model"
)

// ValidationError reports why a backup record failed pre-restore validation.
type ValidationError struct {
	RecordID string
	Reason   string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("backup %s failed validation: %s", e.RecordID, e.Reason)
}

// ValidationResult is the outcome of an integrity check.
type ValidationResult struct {
	Valid  bool
	Reason string
}

// Executor is the per-kind restore capability.
type Executor interface {
	Kind() model.ResourceKind
	Restore(ctx context.Context, record *model.BackupRecord, targetHint string) model.RestoreOutcome
	CheckStatus(ctx context.Context, handle model.RestoreHandle) model.RestoreOutcome
}

// Notifier announces restore outcomes. Implementations must be
// fire-and-forget.
type Notifier interface {
	PublishRestoreOutcome(ctx context.Context, backupID string, outcome model.RestoreOutcome)
}

// Manager coordinates backup discovery, validation, and restoration.
type Manager struct {
	logger      zerolog.Logger
	adapters    map[model.ResourceKind]backup.Adapter
	executors   map[model.ResourceKind]Executor
	notifier    Notifier
	instruments *metrics.Instruments
}

func NewManager(
	logger zerolog.Logger,
	adapters []backup.Adapter,
	executors []Executor,
	notifier Notifier,
	instruments *metrics.Instruments,
) *Manager {
	adapterByKind := make(map[model.ResourceKind]backup.Adapter, len(adapters))
	for _, a := range adapters {
		adapterByKind[a.Kind()] = a
	}
	executorByKind := make(map[model.ResourceKind]Executor, len(executors))
	for _, e := range executors {
		executorByKind[e.Kind()] = e
	}

	return &Manager{
		logger:      logger.With().Str("component", "restore-manager").Logger(),
		adapters:    adapterByKind,
		executors:   executorByKind,
		notifier:    notifier,
		instruments: instruments,
	}
}

// ListAvailable returns the catalog of backups for one kind, most recent
// first. filter matches conjunctively against record tags; maxAge of zero
// disables the age filter.
func (m *Manager) ListAvailable(ctx context.Context, kind model.ResourceKind, filter backup.Filter, maxAge time.Duration) ([]model.BackupRecord, error) {
	adapter, ok := m.adapters[kind]
	if !ok {
		return nil, fmt.Errorf("no adapter registered for kind %s", kind)
	}

	records, err := adapter.ListRecords(ctx)
	if err != nil {
		return nil, fmt.Errorf("list %s backups: %w", kind, err)
	}

	cutoff := time.Time{}
	if maxAge > 0 {
		cutoff = time.Now().UTC().Add(-maxAge)
	}

	out := records[:0]
	for _, record := range records {
		if !filter.Matches(record.Tags) {
			continue
		}
		if !cutoff.IsZero() && record.CreatedAt.Before(cutoff) {
			continue
		}
		out = append(out, record)
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

// Validate performs the cheap pre-restore integrity check: the record is
// completed, the external artifact still exists in a usable state, and the
// recorded size is consistent with the artifact. It never reads backup data.
func (m *Manager) Validate(ctx context.Context, record *model.BackupRecord) (ValidationResult, error) {
	if record.State != model.BackupCompleted {
		return ValidationResult{Reason: fmt.Sprintf("record state is %s, not %s", record.State, model.BackupCompleted)}, nil
	}

	adapter, ok := m.adapters[record.ResourceRef.Kind]
	if !ok {
		return ValidationResult{}, fmt.Errorf("no adapter registered for kind %s", record.ResourceRef.Kind)
	}

	status, err := adapter.Describe(ctx, record)
	if err != nil {
		return ValidationResult{}, fmt.Errorf("describe artifact for %s: %w", record.ID, err)
	}
	if !status.Exists {
		return ValidationResult{Reason: "artifact no longer exists"}, nil
	}
	if !status.Completed {
		return ValidationResult{Reason: fmt.Sprintf("artifact state is %q", status.State)}, nil
	}

	switch record.ResourceRef.Kind {
	case model.KindObjectStore:
		// Exact byte accounting is available for object copies.
		if record.SizeBytes == nil || status.SizeBytes == nil || *record.SizeBytes != *status.SizeBytes {
			return ValidationResult{Reason: sizeMismatchReason(record.SizeBytes, status.SizeBytes)}, nil
		}
	default:
		// Snapshot services only expose provisioned size; require it to
		// be non-zero.
		if status.SizeBytes == nil || *status.SizeBytes == 0 {
			return ValidationResult{Reason: "artifact reports zero size"}, nil
		}
	}

	return ValidationResult{Valid: true}, nil
}

// ValidateBackup locates a record by id and validates it.
func (m *Manager) ValidateBackup(ctx context.Context, recordID string) (ValidationResult, error) {
	record, err := m.findRecord(ctx, recordID)
	if err != nil {
		return ValidationResult{}, err
	}
	return m.Validate(ctx, record)
}

// Restore provisions a resource from a backup record. The record must pass
// validation first; an invalid record yields a ValidationError and no
// external mutation. Long-running restores return in_progress with a handle
// for CheckStatus.
func (m *Manager) Restore(ctx context.Context, req model.RestoreRequest) (model.RestoreOutcome, error) {
	record, err := m.findRecord(ctx, req.BackupRecordID)
	if err != nil {
		return model.RestoreOutcome{State: model.RestoreFailed, Error: err.Error()}, err
	}
	kind := record.ResourceRef.Kind

	result, err := m.Validate(ctx, record)
	if err != nil {
		return model.RestoreOutcome{State: model.RestoreFailed, Error: err.Error()}, err
	}
	if !result.Valid {
		err := &ValidationError{RecordID: record.ID, Reason: result.Reason}
		m.instruments.RestoreTotal.WithLabelValues(string(kind), "validation_failed").Inc()
		return model.RestoreOutcome{State: model.RestoreFailed, Error: err.Error()}, err
	}

	executor, ok := m.executors[kind]
	if !ok {
		err := fmt.Errorf("no restore executor registered for kind %s", kind)
		return model.RestoreOutcome{State: model.RestoreFailed, Error: err.Error()}, err
	}

	m.logger.Info().Str("backup", record.ID).Str("kind", string(kind)).Msg("starting restore")
	outcome := executor.Restore(ctx, record, req.TargetHint)
	m.instruments.RestoreTotal.WithLabelValues(string(kind), string(outcome.State)).Inc()
	m.notifier.PublishRestoreOutcome(ctx, record.ID, outcome)
	return outcome, nil
}

// CheckStatus polls a long-running restore. It is idempotent: polling a
// handle repeatedly advances the restore at most once per external state
// transition.
func (m *Manager) CheckStatus(ctx context.Context, handle model.RestoreHandle) (model.RestoreOutcome, error) {
	executor, ok := m.executors[handle.Kind]
	if !ok {
		return model.RestoreOutcome{}, fmt.Errorf("no restore executor registered for kind %s", handle.Kind)
	}

	outcome := executor.CheckStatus(ctx, handle)
	if outcome.State != model.RestoreInProgress {
		m.notifier.PublishRestoreOutcome(ctx, handle.BackupRecordID, outcome)
	}
	return outcome, nil
}

// findRecord locates a backup record by id across all kinds.
func (m *Manager) findRecord(ctx context.Context, recordID string) (*model.BackupRecord, error) {
	for _, kind := range model.AllKinds {
		adapter, ok := m.adapters[kind]
		if !ok {
			continue
		}
		records, err := adapter.ListRecords(ctx)
		if err != nil {
			return nil, fmt.Errorf("list %s backups: %w", kind, err)
		}
		for i := range records {
			if records[i].ID == recordID {
				return &records[i], nil
			}
		}
	}
	return nil, fmt.Errorf("backup record %s not found", recordID)
}

func sizeMismatchReason(recorded, found *int64) string {
	format := func(v *int64) string {
		if v == nil {
			return "unknown"
		}
		return fmt.Sprintf("%d", *v)
	}
	return fmt.Sprintf("size mismatch (recorded %s, found %s)", format(recorded), format(found))
}

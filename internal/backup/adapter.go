// Package backup implements the backup orchestration core: per-kind resource
// enumeration, snapshot/copy execution behind a uniform adapter interface, a
// bounded-parallelism run orchestrator, and the retention sweeper.
package backup

import (
	"context"
	"time"

	"github.com/edvin/backup/internal/model"
)

// Filter is a conjunctive tag match: every key/value pair must be present on
// the resource. An empty filter matches everything.
type Filter map[string]string

// Matches reports whether tags satisfy every pair in the filter.
func (f Filter) Matches(tags map[string]string) bool {
	for k, v := range f {
		if tags[k] != v {
			return false
		}
	}
	return true
}

// Enumerator lists eligible backup targets of one kind. Pure function of
// external state at call time; results are never cached across invocations.
type Enumerator interface {
	Kind() model.ResourceKind
	List(ctx context.Context, filter Filter) ([]model.ResourceRef, error)
}

// ArtifactStatus reports the external artifact backing a backup record.
type ArtifactStatus struct {
	Exists bool
	// State is the provider's raw state string.
	State string
	// Completed reports whether the provider considers the artifact usable.
	Completed bool
	SizeBytes *int64
}

// Adapter is the uniform per-kind backup capability. New kinds add an
// implementation; the orchestrator never changes.
type Adapter interface {
	Kind() model.ResourceKind

	// Execute backs up one resource. Failures are captured in the returned
	// record's state, never returned as an error: a single resource's
	// failure must not abort sibling operations.
	Execute(ctx context.Context, ref model.ResourceRef) model.BackupRecord

	// Describe reports the external artifact behind a record.
	Describe(ctx context.Context, record *model.BackupRecord) (ArtifactStatus, error)

	// Delete removes the external artifact behind a record.
	Delete(ctx context.Context, record *model.BackupRecord) error

	// ListRecords rebuilds the catalog of records this pipeline created,
	// selecting on the managed-by tag so foreign artifacts are never seen.
	ListRecords(ctx context.Context) ([]model.BackupRecord, error)
}

const gib = int64(1024 * 1024 * 1024)

// backupTags are the standard tags stamped on every artifact this pipeline
// creates.
func backupTags(sourceID string, now time.Time) map[string]string {
	return map[string]string{
		model.TagManagedBy:  model.ManagedByValue,
		model.TagSourceID:   sourceID,
		model.TagBackupDate: now.Format(time.RFC3339),
	}
}

func failedRecord(ref model.ResourceRef, now time.Time, err error) model.BackupRecord {
	return model.BackupRecord{
		ID:          "failed-" + ref.ID + "-" + now.Format("20060102150405"),
		ResourceRef: ref,
		CreatedAt:   now,
		State:       model.BackupFailed,
		Error:       err.Error(),
	}
}

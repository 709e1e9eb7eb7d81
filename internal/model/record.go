package model

import "time"

// BackupState is the lifecycle state of one backup attempt.
type BackupState string

const (
	BackupPending    BackupState = "pending"
	BackupInProgress BackupState = "in_progress"
	BackupCompleted  BackupState = "completed"
	BackupFailed     BackupState = "failed"
)

// BackupRecord is the catalog entry for one backup attempt of one resource.
// Only the executor that created a record transitions its state; the restore
// path never mutates it.
type BackupRecord struct {
	ID          string            `json:"id"`
	ResourceRef ResourceRef       `json:"resource_ref"`
	CreatedAt   time.Time         `json:"created_at"`
	State       BackupState       `json:"state"`
	SizeBytes   *int64            `json:"size_bytes,omitempty"`
	Tags        map[string]string `json:"tags,omitempty"`
	// Error holds the failure detail for records in state failed.
	Error string `json:"error,omitempty"`
}

// Protected reports whether the record carries the deletion-protection tag.
func (r *BackupRecord) Protected() bool {
	return r.Tags[TagProtected] == "true"
}

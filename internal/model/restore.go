package model

import "time"

// RestoreRequest asks for a resource to be provisioned from a backup record.
type RestoreRequest struct {
	BackupRecordID string `json:"backup_record_id"`
	// TargetHint names the restore target when the caller wants one
	// (e.g. a DB instance identifier or destination bucket). A generated
	// name is used otherwise.
	TargetHint string `json:"target_hint,omitempty"`
}

// RestoreState is the state of one restore operation.
type RestoreState string

const (
	RestoreCompleted  RestoreState = "completed"
	RestoreInProgress RestoreState = "in_progress"
	RestoreFailed     RestoreState = "failed"
)

// RestoreHandle is the durable join point for a restore that outlives a
// single invocation. It is JSON-serializable so an external scheduler can
// carry it between polls.
type RestoreHandle struct {
	Kind           ResourceKind `json:"kind"`
	TargetID       string       `json:"target_id"`
	BackupRecordID string       `json:"backup_record_id"`
	StartedAt      time.Time    `json:"started_at"`
	// TargetHint carries the caller's original hint so later polls can
	// finish provisioning without re-reading the request.
	TargetHint string `json:"target_hint,omitempty"`
}

// RestoreOutcome is the result of a restore attempt or a status poll.
type RestoreOutcome struct {
	State     RestoreState   `json:"state"`
	TargetRef *ResourceRef   `json:"target_ref,omitempty"`
	Handle    *RestoreHandle `json:"handle,omitempty"`
	Error     string         `json:"error,omitempty"`
}

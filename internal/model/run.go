package model

import "time"

// RunState is the orchestration state of one backup run.
type RunState string

const (
	RunStarted         RunState = "started"
	RunEnumerating     RunState = "enumerating"
	RunExecuting       RunState = "executing"
	RunAggregating     RunState = "aggregating"
	RunCleaningUp      RunState = "cleaning_up"
	RunFinished        RunState = "finished"
	RunPartiallyFailed RunState = "partially_failed"
)

// KindStats aggregates per-kind outcomes for one run.
type KindStats struct {
	Attempted int `json:"attempted"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
}

// RunResult summarizes one orchestration pass. Immutable after the pass
// completes.
type RunResult struct {
	RunID      string                     `json:"run_id"`
	State      RunState                   `json:"state"`
	StartedAt  time.Time                  `json:"started_at"`
	FinishedAt time.Time                  `json:"finished_at"`
	PerKind    map[ResourceKind]KindStats `json:"per_kind"`
	Records    []BackupRecord             `json:"records"`
	// KindErrors holds enumeration failures that prevented a kind from
	// being backed up at all.
	KindErrors map[ResourceKind]string `json:"kind_errors,omitempty"`
	// SweptRecordIDs lists catalog entries deleted by the retention sweep
	// that ran as part of this pass.
	SweptRecordIDs []string `json:"swept_record_ids,omitempty"`
}

// Succeeded and Failed totals across all kinds.
func (r *RunResult) Totals() (succeeded, failed int) {
	for _, s := range r.PerKind {
		succeeded += s.Succeeded
		failed += s.Failed
	}
	return succeeded, failed
}

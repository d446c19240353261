package proto

import "time"

// PatchStatus represents the lifecycle state of a proposed file mutation.
type PatchStatus string

const (
	PatchProposed PatchStatus = "proposed"
	PatchApproved PatchStatus = "approved"
	PatchRejected PatchStatus = "rejected"
	PatchApplied  PatchStatus = "applied"
	PatchFailed   PatchStatus = "failed"
)

// patchTransitions is the patch state machine. A patch reaches applied only
// through approved; rejected, applied, and failed are terminal.
//
//nolint:gochecknoglobals // Static transition table.
var patchTransitions = map[PatchStatus][]PatchStatus{
	PatchProposed: {PatchApproved, PatchRejected},
	PatchApproved: {PatchApplied, PatchFailed},
	PatchRejected: {},
	PatchApplied:  {},
	PatchFailed:   {},
}

// CanTransitionPatch reports whether a patch may move from one status to another.
func CanTransitionPatch(from, to PatchStatus) bool {
	for _, next := range patchTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// IsTerminalPatch reports whether a patch status is terminal.
func IsTerminalPatch(status PatchStatus) bool {
	return status == PatchRejected || status == PatchApplied || status == PatchFailed
}

// PatchRecord is the unit of a proposed file mutation. The diff text is the
// only thing an agent ever produces; the file is touched only after an
// explicit approval.
type PatchRecord struct {
	CreatedAt    time.Time   `json:"created_at"`
	AppliedAt    *time.Time  `json:"applied_at,omitempty"`
	ID           string      `json:"id"`
	TaskID       string      `json:"task_id"`
	SubtaskIndex int         `json:"subtask_index"`
	Iteration    int         `json:"iteration"`
	TargetPath   string      `json:"target_path"`
	DiffText     string      `json:"diff_text"`
	Status       PatchStatus `json:"status"`
}

package ledger

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"quorum/pkg/proto"
)

// RecordPatch stores a newly proposed patch. The record always enters in
// status proposed; agents never write files directly.
func (l *Ledger) RecordPatch(taskID string, subtaskIndex, iteration int, targetPath, diffText string) (*proto.PatchRecord, error) {
	lock := l.lockTask(taskID)
	lock.Lock()
	defer lock.Unlock()

	task, err := l.GetTask(taskID)
	if err != nil {
		return nil, err
	}
	if proto.IsTerminalTask(task.Status) {
		return nil, fmt.Errorf("%w: cannot propose patch on terminal task %s", proto.ErrOrdering, taskID)
	}

	patch := &proto.PatchRecord{
		ID:           proto.GeneratePatchID(),
		TaskID:       taskID,
		SubtaskIndex: subtaskIndex,
		Iteration:    iteration,
		TargetPath:   targetPath,
		DiffText:     diffText,
		Status:       proto.PatchProposed,
		CreatedAt:    time.Now().UTC(),
	}

	_, err = l.db.Exec(
		`INSERT INTO patches (id, task_id, subtask_index, iteration, target_path, diff_text, status, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		patch.ID, patch.TaskID, patch.SubtaskIndex, patch.Iteration,
		patch.TargetPath, patch.DiffText, string(patch.Status), patch.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to record patch: %w", err)
	}

	l.logger.Info("patch %s proposed for %s (task %s, iteration %d)",
		patch.ID, patch.TargetPath, taskID, iteration)
	return patch, nil
}

// GetPatch loads a patch record by ID.
func (l *Ledger) GetPatch(patchID string) (*proto.PatchRecord, error) {
	row := l.db.QueryRow(
		`SELECT id, task_id, subtask_index, iteration, target_path, diff_text, status, created_at, applied_at
		 FROM patches WHERE id = ?`, patchID)
	return scanPatch(row)
}

func scanPatch(row *sql.Row) (*proto.PatchRecord, error) {
	var patch proto.PatchRecord
	var status string
	var appliedAt sql.NullTime
	err := row.Scan(&patch.ID, &patch.TaskID, &patch.SubtaskIndex, &patch.Iteration,
		&patch.TargetPath, &patch.DiffText, &status, &patch.CreatedAt, &appliedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, proto.ErrPatchNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan patch: %w", err)
	}
	patch.Status = proto.PatchStatus(status)
	if appliedAt.Valid {
		t := appliedAt.Time
		patch.AppliedAt = &t
	}
	return &patch, nil
}

// TransitionPatch moves a patch to a new status, validating the patch state
// machine. applied_at is stamped when the new status is applied.
func (l *Ledger) TransitionPatch(patchID string, newStatus proto.PatchStatus) error {
	patch, err := l.GetPatch(patchID)
	if err != nil {
		return err
	}

	lock := l.lockTask(patch.TaskID)
	lock.Lock()
	defer lock.Unlock()

	// Re-read under the task lock to close the check/update race.
	patch, err = l.GetPatch(patchID)
	if err != nil {
		return err
	}
	if !proto.CanTransitionPatch(patch.Status, newStatus) {
		return fmt.Errorf("%w: patch %s cannot move %s -> %s",
			proto.ErrInvalidTransition, patchID, patch.Status, newStatus)
	}

	if newStatus == proto.PatchApplied {
		_, err = l.db.Exec(`UPDATE patches SET status = ?, applied_at = ? WHERE id = ?`,
			string(newStatus), time.Now().UTC(), patchID)
	} else {
		_, err = l.db.Exec(`UPDATE patches SET status = ? WHERE id = ?`, string(newStatus), patchID)
	}
	if err != nil {
		return fmt.Errorf("failed to transition patch %s: %w", patchID, err)
	}

	l.logger.Info("patch %s: %s -> %s", patchID, patch.Status, newStatus)
	return nil
}

// PatchesForTask returns every patch for a task ordered by creation.
func (l *Ledger) PatchesForTask(taskID string) ([]*proto.PatchRecord, error) {
	rows, err := l.db.Query(
		`SELECT id, task_id, subtask_index, iteration, target_path, diff_text, status, created_at, applied_at
		 FROM patches WHERE task_id = ? ORDER BY created_at, iteration`, taskID)
	if err != nil {
		return nil, fmt.Errorf("failed to query patches for task %s: %w", taskID, err)
	}
	defer rows.Close() //nolint:errcheck // Close in defer is safe

	var patches []*proto.PatchRecord
	for rows.Next() {
		var patch proto.PatchRecord
		var status string
		var appliedAt sql.NullTime
		if err := rows.Scan(&patch.ID, &patch.TaskID, &patch.SubtaskIndex, &patch.Iteration,
			&patch.TargetPath, &patch.DiffText, &status, &patch.CreatedAt, &appliedAt); err != nil {
			return nil, fmt.Errorf("failed to scan patch: %w", err)
		}
		patch.Status = proto.PatchStatus(status)
		if appliedAt.Valid {
			t := appliedAt.Time
			patch.AppliedAt = &t
		}
		patches = append(patches, &patch)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate patches: %w", err)
	}
	return patches, nil
}

// PendingPatches returns proposed patches awaiting a decision, oldest first.
// Used to reconstruct approval prompts after a restart.
func (l *Ledger) PendingPatches() ([]*proto.PatchRecord, error) {
	rows, err := l.db.Query(
		`SELECT id, task_id, subtask_index, iteration, target_path, diff_text, status, created_at, applied_at
		 FROM patches WHERE status = ? ORDER BY created_at`, string(proto.PatchProposed))
	if err != nil {
		return nil, fmt.Errorf("failed to query pending patches: %w", err)
	}
	defer rows.Close() //nolint:errcheck // Close in defer is safe

	var patches []*proto.PatchRecord
	for rows.Next() {
		var patch proto.PatchRecord
		var status string
		var appliedAt sql.NullTime
		if err := rows.Scan(&patch.ID, &patch.TaskID, &patch.SubtaskIndex, &patch.Iteration,
			&patch.TargetPath, &patch.DiffText, &status, &patch.CreatedAt, &appliedAt); err != nil {
			return nil, fmt.Errorf("failed to scan patch: %w", err)
		}
		patch.Status = proto.PatchStatus(status)
		patches = append(patches, &patch)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate pending patches: %w", err)
	}
	return patches, nil
}

// TasksAwaitingApproval returns tasks suspended at the plan-approval gate,
// oldest first. Together with GetPlan this is sufficient to reconstruct the
// pending approval after a process restart.
func (l *Ledger) TasksAwaitingApproval() ([]*proto.Task, error) {
	rows, err := l.db.Query(
		`SELECT id, user_query, status, fail_reason, iteration_override, created_at
		 FROM tasks WHERE status = ? ORDER BY created_at`, string(proto.TaskAwaitingApproval))
	if err != nil {
		return nil, fmt.Errorf("failed to query awaiting tasks: %w", err)
	}
	defer rows.Close() //nolint:errcheck // Close in defer is safe

	var tasks []*proto.Task
	for rows.Next() {
		var task proto.Task
		var status string
		var failReason sql.NullString
		var override int
		if err := rows.Scan(&task.ID, &task.UserQuery, &status, &failReason, &override, &task.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan task: %w", err)
		}
		task.Status = proto.TaskStatus(status)
		task.FailReason = failReason.String
		task.IterationOverride = override != 0
		tasks = append(tasks, &task)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate awaiting tasks: %w", err)
	}
	return tasks, nil
}

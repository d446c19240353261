package proto

import (
	"errors"
	"fmt"
)

// Sentinel errors for ledger-consistency and policy violations. These are
// programming or invariant violations: always fatal, never silently retried.
var (
	// ErrInvalidTransition indicates a state machine transition that is
	// not reachable from the current status.
	ErrInvalidTransition = errors.New("invalid transition")

	// ErrOrdering indicates an append to a task that is already terminal.
	ErrOrdering = errors.New("ordering violation")

	// ErrIterationCapExceeded indicates a subtask exhausted its refinement
	// budget without an explicit override.
	ErrIterationCapExceeded = errors.New("iteration cap exceeded")

	// ErrTaskNotFound indicates an unknown task ID.
	ErrTaskNotFound = errors.New("task not found")

	// ErrPatchNotFound indicates an unknown patch ID.
	ErrPatchNotFound = errors.New("patch not found")
)

// VaultAccessError indicates a knowledge partition is unreachable or
// misconfigured. Fatal to the affected subtask, not the whole task.
type VaultAccessError struct {
	Vault string
	Err   error
}

func (e *VaultAccessError) Error() string {
	return fmt.Sprintf("vault %q unavailable: %v", e.Vault, e.Err)
}

func (e *VaultAccessError) Unwrap() error { return e.Err }

// RetrievalError indicates an index query failure. Recoverable: callers
// degrade to the empty-context / model-only path and record the condition.
type RetrievalError struct {
	Vault string
	Err   error
}

func (e *RetrievalError) Error() string {
	return fmt.Sprintf("retrieval failed for vault %q: %v", e.Vault, e.Err)
}

func (e *RetrievalError) Unwrap() error { return e.Err }

// AgentCommunicationError indicates a malformed message between the
// planner, execution manager, and an agent. Fatal to the task.
type AgentCommunicationError struct {
	Role   AgentRole
	Detail string
}

func (e *AgentCommunicationError) Error() string {
	return fmt.Sprintf("malformed message for agent %q: %s", e.Role, e.Detail)
}

// PatchApplicationError indicates the external patch engine failed. The
// patch record moves to failed; the task remains running and may retry with
// a new record, subject to the iteration cap.
type PatchApplicationError struct {
	TargetPath string
	Err        error
}

func (e *PatchApplicationError) Error() string {
	return fmt.Sprintf("patch application failed for %s: %v", e.TargetPath, e.Err)
}

func (e *PatchApplicationError) Unwrap() error { return e.Err }

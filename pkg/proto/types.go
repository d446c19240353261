// Package proto defines the shared vocabulary of the orchestration core:
// task and patch state machines, agent roles, plans, provenance tags, and the
// structured messages exchanged between the execution manager and agents.
package proto

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// TaskStatus represents the lifecycle state of a task.
type TaskStatus string

const (
	TaskPlanned          TaskStatus = "planned"
	TaskAwaitingApproval TaskStatus = "awaiting_approval"
	TaskRunning          TaskStatus = "running"
	TaskCompleted        TaskStatus = "completed"
	TaskFailed           TaskStatus = "failed"
)

// taskTransitions is the task state machine. Status is monotonic: no
// backward edges, and awaiting_approval is never skipped.
//
//nolint:gochecknoglobals // Static transition table.
var taskTransitions = map[TaskStatus][]TaskStatus{
	TaskPlanned:          {TaskAwaitingApproval},
	TaskAwaitingApproval: {TaskRunning, TaskFailed},
	TaskRunning:          {TaskCompleted, TaskFailed},
	TaskCompleted:        {},
	TaskFailed:           {},
}

// CanTransitionTask reports whether a task may move from one status to another.
func CanTransitionTask(from, to TaskStatus) bool {
	for _, next := range taskTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// IsTerminalTask reports whether a task status is terminal.
func IsTerminalTask(status TaskStatus) bool {
	return status == TaskCompleted || status == TaskFailed
}

// FailReason is the human-readable reason recorded on a failed task.
type FailReason string

const (
	ReasonCancelled            FailReason = "Cancelled"
	ReasonIterationCapExceeded FailReason = "IterationCapExceeded"
	ReasonAgentFailure         FailReason = "AgentFailure"
	ReasonProviderFailure      FailReason = "ProviderFailure"
)

// Task is the unit of user work moving through the orchestrator.
type Task struct {
	CreatedAt time.Time  `json:"created_at"`
	ID        string     `json:"id"`
	UserQuery string     `json:"user_query"`
	Status    TaskStatus `json:"status"`
	// FailReason is set when Status is failed.
	FailReason string `json:"fail_reason,omitempty"`
	// IterationOverride allows subtasks to exceed the configured
	// refinement cap. Set only by an explicit user action.
	IterationOverride bool `json:"iteration_override,omitempty"`
}

// AgentRole identifies a specialized reasoning agent.
type AgentRole string

const (
	RoleCode         AgentRole = "code"
	RoleQuantitative AgentRole = "quantitative"
	RoleHumanities   AgentRole = "humanities"
	RoleTaskPlan     AgentRole = "taskplan"
	RoleSearch       AgentRole = "search"
	RoleCritique     AgentRole = "critique"
)

// ValidRoles returns every dispatchable agent role.
func ValidRoles() []AgentRole {
	return []AgentRole{RoleCode, RoleQuantitative, RoleHumanities, RoleTaskPlan, RoleSearch, RoleCritique}
}

// IsValidRole checks whether a role string names a known agent role.
func IsValidRole(role AgentRole) bool {
	for _, r := range ValidRoles() {
		if r == role {
			return true
		}
	}
	return false
}

// RetrievalScope selects which vault partitions a subtask may read.
type RetrievalScope string

const (
	ScopePersonal RetrievalScope = "personal"
	ScopeProject  RetrievalScope = "project"
	ScopeBoth     RetrievalScope = "both"
	ScopeNone     RetrievalScope = "none"
)

// Vaults expands a scope into the partition names it covers.
func (s RetrievalScope) Vaults() []string {
	switch s {
	case ScopePersonal:
		return []string{string(ScopePersonal)}
	case ScopeProject:
		return []string{string(ScopeProject)}
	case ScopeBoth:
		return []string{string(ScopePersonal), string(ScopeProject)}
	case ScopeNone:
		return nil
	default:
		return nil
	}
}

// Subtask is one unit of a plan, assigned to a single agent role.
type Subtask struct {
	AgentRole      AgentRole      `json:"agent_role"`
	Goal           string         `json:"goal"`
	RetrievalScope RetrievalScope `json:"retrieval_scope"`
	RequiresSearch bool           `json:"requires_search"`
	// DependsOn lists indices of earlier subtasks whose output this one
	// consumes. Empty means the subtask is independent.
	DependsOn []int `json:"depends_on,omitempty"`
	// UserConstraints are requirements the critique role validates the
	// merged output against.
	UserConstraints []string `json:"user_constraints,omitempty"`
}

// Plan is the planner's decomposition of a user goal.
type Plan struct {
	Subtasks []Subtask `json:"subtasks"`
}

// Validate checks internal consistency: known roles and dependency
// indices referring to earlier subtasks only.
func (p *Plan) Validate() error {
	if len(p.Subtasks) == 0 {
		return fmt.Errorf("plan has no subtasks")
	}
	for i := range p.Subtasks {
		st := &p.Subtasks[i]
		if !IsValidRole(st.AgentRole) {
			return fmt.Errorf("subtask %d: unknown agent role %q", i, st.AgentRole)
		}
		for _, dep := range st.DependsOn {
			if dep < 0 || dep >= i {
				return fmt.Errorf("subtask %d: dependency %d must reference an earlier subtask", i, dep)
			}
		}
	}
	return nil
}

// MarshalPlan serializes a plan for ledger storage.
func MarshalPlan(p *Plan) (string, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return "", fmt.Errorf("failed to marshal plan: %w", err)
	}
	return string(data), nil
}

// UnmarshalPlan deserializes a ledger-stored plan.
func UnmarshalPlan(data string) (*Plan, error) {
	var p Plan
	if err := json.Unmarshal([]byte(data), &p); err != nil {
		return nil, fmt.Errorf("failed to unmarshal plan: %w", err)
	}
	return &p, nil
}

// GenerateTaskID generates a new UUID for a task.
func GenerateTaskID() string {
	return uuid.New().String()
}

// GenerateStepID generates a new UUID for an agent step.
func GenerateStepID() string {
	return uuid.New().String()
}

// GeneratePatchID generates a new UUID for a patch record.
func GeneratePatchID() string {
	return uuid.New().String()
}

// GenerateFeedbackID generates a new UUID for a feedback record.
func GenerateFeedbackID() string {
	return uuid.New().String()
}

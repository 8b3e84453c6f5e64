package mcp

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// ExecutionStatus is the lifecycle state of one tool invocation. Transitions
// are monotonic; the terminal states are final.
type ExecutionStatus string

const (
	ExecutionPending   ExecutionStatus = "pending"
	ExecutionRunning   ExecutionStatus = "running"
	ExecutionCompleted ExecutionStatus = "completed"
	ExecutionFailed    ExecutionStatus = "failed"
	ExecutionCancelled ExecutionStatus = "cancelled"
)

// Terminal reports whether the status is final.
func (s ExecutionStatus) Terminal() bool {
	switch s {
	case ExecutionCompleted, ExecutionFailed, ExecutionCancelled:
		return true
	}
	return false
}

// ToolExecution is the auditable record of one tool invocation. Once the
// status is terminal the record is read-only.
type ToolExecution struct {
	ID        string          `json:"id"`
	ServerID  string          `json:"serverId"`
	Tool      string          `json:"tool"`
	Arguments map[string]any  `json:"arguments,omitempty"`
	Status    ExecutionStatus `json:"status"`
	StartedAt time.Time       `json:"startedAt"`
	EndedAt   time.Time       `json:"endedAt,omitzero"`
	Duration  time.Duration   `json:"duration,omitempty"`
	Result    *ToolResult     `json:"result,omitempty"`
	Error     string          `json:"error,omitempty"`
}

// Tracker wraps tool invocations in lifecycle records and surfaces start and
// completion as events. Concurrent executions are independent; request
// correlation keeps them from interfering.
type Tracker struct {
	events *eventBus
}

func newTracker(events *eventBus) *Tracker {
	return &Tracker{events: events}
}

// Execute runs one tool call through conn and returns the settled record.
// The record is also returned on failure, carrying the error; the returned
// error mirrors the record's failure for callers that only want one.
func (tr *Tracker) Execute(ctx context.Context, conn *Connection, tool string, args map[string]any) (*ToolExecution, error) {
	rec := &ToolExecution{
		ID:        uuid.NewString(),
		ServerID:  conn.id,
		Tool:      tool,
		Arguments: args,
		Status:    ExecutionPending,
		StartedAt: time.Now(),
	}
	tr.publish(EventExecutionStarted, rec)

	rec.Status = ExecutionRunning
	result, err := conn.CallTool(ctx, tool, args)

	rec.EndedAt = time.Now()
	rec.Duration = rec.EndedAt.Sub(rec.StartedAt)

	switch {
	case err == nil:
		rec.Status = ExecutionCompleted
		rec.Result = result
	case errors.Is(err, ErrConnectionClosed) || errors.Is(err, context.Canceled):
		rec.Status = ExecutionCancelled
		rec.Error = err.Error()
	default:
		rec.Status = ExecutionFailed
		rec.Error = err.Error()
	}

	tr.publish(EventExecutionFinished, rec)
	return rec, err
}

// publish emits an execution event carrying a copy of the record, so
// observers never see later mutations.
func (tr *Tracker) publish(kind EventKind, rec *ToolExecution) {
	snapshot := *rec
	tr.events.publish(Event{Kind: kind, ServerID: rec.ServerID, Execution: &snapshot})
}

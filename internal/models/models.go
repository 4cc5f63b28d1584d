// Package models holds the four persisted entities of the durable workflow
// engine and their status enums.
package models

import (
	"time"

	"github.com/google/uuid"
)

// WorkflowStatus is the lifecycle state of a WorkflowInstance.
type WorkflowStatus string

const (
	WorkflowPending   WorkflowStatus = "PENDING"
	WorkflowRunning   WorkflowStatus = "RUNNING"
	WorkflowSleeping  WorkflowStatus = "SLEEPING"
	WorkflowCompleted WorkflowStatus = "COMPLETED"
	WorkflowFailed    WorkflowStatus = "FAILED"
	WorkflowCanceled  WorkflowStatus = "CANCELED"
)

// Terminal reports whether the status is a sink state for a workflow.
func (s WorkflowStatus) Terminal() bool {
	switch s {
	case WorkflowCompleted, WorkflowFailed, WorkflowCanceled:
		return true
	default:
		return false
	}
}

// StepInstanceStatus is the lifecycle state of a single attempt at a step.
type StepInstanceStatus string

const (
	StepInstancePending   StepInstanceStatus = "PENDING"
	StepInstanceRunning   StepInstanceStatus = "RUNNING"
	StepInstanceCompleted StepInstanceStatus = "COMPLETED"
	StepInstanceFailed    StepInstanceStatus = "FAILED"
	StepInstanceRetrying  StepInstanceStatus = "RETRYING"
)

// Terminal reports whether the status is a sink state for a step instance.
func (s StepInstanceStatus) Terminal() bool {
	return s == StepInstanceCompleted || s == StepInstanceFailed
}

// WorkflowInstance is one execution of a workflow definition.
type WorkflowInstance struct {
	ID           uuid.UUID      `db:"id" json:"id"`
	Name         string         `db:"name" json:"name"`
	Status       WorkflowStatus `db:"status" json:"status"`
	Input        []byte         `db:"input" json:"input"`
	Output       []byte         `db:"output" json:"output,omitempty"`
	FailedReason *string        `db:"failed_reason" json:"failed_reason,omitempty"`
	CreatedAt    time.Time      `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time      `db:"updated_at" json:"updated_at"`
	CompletedAt  *time.Time     `db:"completed_at" json:"completed_at,omitempty"`
}

// Step is the stable, never-mutated handle for a logical step name within a
// workflow instance. Unique on (WorkflowInstanceID, Name).
type Step struct {
	ID                 uuid.UUID `db:"id" json:"id"`
	WorkflowInstanceID uuid.UUID `db:"workflow_instance_id" json:"workflow_instance_id"`
	Name               string    `db:"name" json:"name"`
	CreatedAt          time.Time `db:"created_at" json:"created_at"`
}

// StepInstance is one attempt at executing a Step.
type StepInstance struct {
	ID           uuid.UUID          `db:"id" json:"id"`
	StepID       uuid.UUID          `db:"step_id" json:"step_id"`
	Status       StepInstanceStatus `db:"status" json:"status"`
	Output       []byte             `db:"output" json:"output,omitempty"`
	Retries      int                `db:"retries" json:"retries"`
	StartedAt    time.Time          `db:"started_at" json:"started_at"`
	CompletedAt  *time.Time         `db:"completed_at" json:"completed_at,omitempty"`
	FailedReason *string            `db:"failed_reason" json:"failed_reason,omitempty"`
}

// SleepInstance is a durable timer bound to a workflow instance by name.
// Unique on (WorkflowInstanceID, Name).
type SleepInstance struct {
	ID                 uuid.UUID  `db:"id" json:"id"`
	WorkflowInstanceID uuid.UUID  `db:"workflow_instance_id" json:"workflow_instance_id"`
	Name               string     `db:"name" json:"name"`
	DurationMs         int64      `db:"duration_ms" json:"duration_ms"`
	StartedAt          time.Time  `db:"started_at" json:"started_at"`
	CompletedAt        *time.Time `db:"completed_at" json:"completed_at,omitempty"`
}

// Done reports whether the timer has already fired.
func (s *SleepInstance) Done() bool {
	return s.CompletedAt != nil
}

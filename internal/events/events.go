// Package events publishes job lifecycle transitions for downstream
// consumers (dashboards, webhooks). Publishing is best-effort: the pipeline
// never fails a job because an event could not be delivered.
package events

import (
	"context"
	"time"

	"adforge/internal/domain"
)

// Type enumerates published lifecycle events.
type Type string

const (
	TypeJobSubmitted   Type = "job_submitted"
	TypeStageStarted   Type = "stage_started"
	TypeStageSucceeded Type = "stage_succeeded"
	TypeStageFailed    Type = "stage_failed"
	TypeJobCompleted   Type = "job_completed"
	TypeJobFailed      Type = "job_failed"
	TypeJobCancelled   Type = "job_cancelled"
)

// Event is one job lifecycle transition.
type Event struct {
	Type    Type             `json:"type"`
	JobID   string           `json:"job_id"`
	Stage   domain.StageKind `json:"stage,omitempty"`
	Attempt int              `json:"attempt,omitempty"`
	Detail  string           `json:"detail,omitempty"`
	At      time.Time        `json:"at"`
}

// Publisher delivers lifecycle events.
type Publisher interface {
	Publish(ctx context.Context, event Event) error
}

package domain

import "time"

// JobState enumerates job lifecycle states.
type JobState string

const (
	JobStateQueued     JobState = "queued"
	JobStateRunning    JobState = "running"
	JobStateRetrying   JobState = "retrying"
	JobStateCompleted  JobState = "completed"
	JobStateFailed     JobState = "failed"
	JobStateCancelling JobState = "cancelling"
	JobStateCancelled  JobState = "cancelled"
)

// Terminal reports whether the state admits no further transitions.
func (s JobState) Terminal() bool {
	switch s {
	case JobStateCompleted, JobStateFailed, JobStateCancelled:
		return true
	default:
		return false
	}
}

// StageKind enumerates the ordered pipeline phases.
type StageKind string

const (
	StageVariant    StageKind = "variant"
	StageVideoSynth StageKind = "video_synth"
	StageOverlay    StageKind = "overlay"
	StagePublish    StageKind = "publish"
)

// StageStatus enumerates per-stage execution states.
type StageStatus string

const (
	StageStatusPending   StageStatus = "pending"
	StageStatusRunning   StageStatus = "running"
	StageStatusRetrying  StageStatus = "retrying"
	StageStatusSucceeded StageStatus = "succeeded"
	StageStatusFailed    StageStatus = "failed"
)

// StageRecord tracks one attempted pipeline stage of a job. A record is
// appended when the coordinator schedules the stage and becomes immutable once
// it reaches a terminal status.
type StageRecord struct {
	Kind      StageKind   `json:"kind"`
	Status    StageStatus `json:"status"`
	Attempts  int         `json:"attempts"`
	StartedAt time.Time   `json:"started_at"`
	EndedAt   *time.Time  `json:"ended_at,omitempty"`
	Error     string      `json:"error,omitempty"`
}

// ArtifactKind enumerates produced output categories.
type ArtifactKind string

const (
	ArtifactImageVariant  ArtifactKind = "image_variant"
	ArtifactRawVideo      ArtifactKind = "raw_video"
	ArtifactOverlaidVideo ArtifactKind = "overlaid_video"
	ArtifactAdCreative    ArtifactKind = "ad_creative"
)

// Artifact references one produced output file. Artifacts are immutable once
// created and are referenced, never copied, by downstream stages.
type Artifact struct {
	Kind       ArtifactKind `json:"kind"`
	Label      string       `json:"label"`
	StorageKey string       `json:"storage_key"`
	MIME       string       `json:"mime"`
	Bytes      int64        `json:"bytes"`
	Width      int          `json:"width,omitempty"`
	Height     int          `json:"height,omitempty"`
	CreatedAt  time.Time    `json:"created_at"`
}

// Product carries the advertised product metadata supplied at submission.
type Product struct {
	Name        string `json:"name"`
	Price       string `json:"price"`
	URL         string `json:"url"`
	Description string `json:"description,omitempty"`
}

// SubmissionInput is the validated payload a job is created from.
type SubmissionInput struct {
	SourceImageKey string      `json:"source_image_key"`
	Product        Product     `json:"product"`
	Quality        QualityTier `json:"quality"`
	Publish        bool        `json:"publish"`
	Locale         string      `json:"locale,omitempty"`
}

// Job is the durable record of one end-to-end ad generation request. It is
// owned by the pipeline coordinator and mutated only through its transitions.
type Job struct {
	ID        string          `json:"id"`
	Input     SubmissionInput `json:"input"`
	State     JobState        `json:"state"`
	Stages    []StageRecord   `json:"stages"`
	Artifacts []Artifact      `json:"artifacts"`
	Error     string          `json:"error,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// NewJob constructs a queued job with an empty stage record list.
func NewJob(id string, input SubmissionInput, now time.Time) *Job {
	return &Job{
		ID:        id,
		Input:     input,
		State:     JobStateQueued,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Stage returns a pointer to the record for the given kind, or nil when the
// stage has not been scheduled yet.
func (j *Job) Stage(kind StageKind) *StageRecord {
	for i := range j.Stages {
		if j.Stages[i].Kind == kind {
			return &j.Stages[i]
		}
	}
	return nil
}

// ArtifactsOfKind filters the job's artifacts by kind preserving order.
func (j *Job) ArtifactsOfKind(kind ArtifactKind) []Artifact {
	var out []Artifact
	for _, a := range j.Artifacts {
		if a.Kind == kind {
			out = append(out, a)
		}
	}
	return out
}

// Clone returns a deep copy so readers never alias coordinator-owned state.
func (j *Job) Clone() *Job {
	if j == nil {
		return nil
	}
	cp := *j
	cp.Stages = append([]StageRecord(nil), j.Stages...)
	for i := range cp.Stages {
		if cp.Stages[i].EndedAt != nil {
			t := *cp.Stages[i].EndedAt
			cp.Stages[i].EndedAt = &t
		}
	}
	cp.Artifacts = append([]Artifact(nil), j.Artifacts...)
	return &cp
}

// StageView is the read-only per-stage status exposed to clients.
type StageView struct {
	Kind      StageKind   `json:"kind"`
	Status    StageStatus `json:"status"`
	Attempts  int         `json:"attempts"`
	StartedAt time.Time   `json:"started_at"`
	EndedAt   *time.Time  `json:"ended_at,omitempty"`
	Error     string      `json:"error,omitempty"`
}

// JobSnapshot is the read-only view answered by status queries. Artifacts are
// included as soon as their producing stage succeeds, so clients can fetch
// image variants while video stages are still rendering.
type JobSnapshot struct {
	JobID     string      `json:"job_id"`
	State     JobState    `json:"state"`
	Quality   QualityTier `json:"quality"`
	Publish   bool        `json:"publish"`
	Stages    []StageView `json:"stages"`
	Artifacts []Artifact  `json:"artifacts"`
	Error     string      `json:"error,omitempty"`
	CreatedAt time.Time   `json:"created_at"`
	UpdatedAt time.Time   `json:"updated_at"`
}

// Snapshot derives the client-visible view from the job record.
func (j *Job) Snapshot() JobSnapshot {
	snap := JobSnapshot{
		JobID:     j.ID,
		State:     j.State,
		Quality:   j.Input.Quality,
		Publish:   j.Input.Publish,
		Stages:    make([]StageView, 0, len(j.Stages)),
		Artifacts: append([]Artifact(nil), j.Artifacts...),
		Error:     j.Error,
		CreatedAt: j.CreatedAt,
		UpdatedAt: j.UpdatedAt,
	}
	for _, rec := range j.Stages {
		view := StageView{
			Kind:      rec.Kind,
			Status:    rec.Status,
			Attempts:  rec.Attempts,
			StartedAt: rec.StartedAt,
			Error:     rec.Error,
		}
		if rec.EndedAt != nil {
			t := *rec.EndedAt
			view.EndedAt = &t
		}
		snap.Stages = append(snap.Stages, view)
	}
	return snap
}

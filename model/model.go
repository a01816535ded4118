package model

import (
	"time"

	"github.com/google/uuid"
)

// WorkerAvailability tracks whether a worker can take on a new job.
type WorkerAvailability string

const (
	WorkerAvailable WorkerAvailability = "AVAILABLE"
	WorkerBusy      WorkerAvailability = "BUSY"
	WorkerResting   WorkerAvailability = "RESTING"
	WorkerRetired   WorkerAvailability = "RETIRED"
)

// AssignmentStatus is the authoritative lifecycle state of a claim.
// UNANSWERED, ONGOING and SUBMITTED are non-terminal; CONFIRMED, TIMEOUT
// and FORCED_END are terminal.
type AssignmentStatus string

const (
	AssignmentUnanswered AssignmentStatus = "UNANSWERED"
	AssignmentOngoing    AssignmentStatus = "ONGOING"
	AssignmentSubmitted  AssignmentStatus = "SUBMITTED"
	AssignmentConfirmed  AssignmentStatus = "CONFIRMED"
	AssignmentTimeout    AssignmentStatus = "TIMEOUT"
	AssignmentForcedEnd  AssignmentStatus = "FORCED_END"
)

// Active reports whether the status counts against the one-active-assignment
// per worker limit.
func (s AssignmentStatus) Active() bool {
	return s == AssignmentOngoing || s == AssignmentSubmitted
}

// Terminal reports whether no further transition is permitted.
func (s AssignmentStatus) Terminal() bool {
	return s == AssignmentConfirmed || s == AssignmentTimeout || s == AssignmentForcedEnd
}

// MaterialKind classifies an uploaded material.
type MaterialKind string

const (
	MaterialIllustrate MaterialKind = "ILLUSTRATE"
	MaterialProof      MaterialKind = "PROOF"
	MaterialNone       MaterialKind = "NONE"
)

// Worker represents a registered party that claims and executes jobs.
// Availability is derived state: the engine keeps it consistent with the
// worker's assignments and nothing else writes it.
type Worker struct {
	ID             uuid.UUID          `db:"id" json:"id"`
	Name           string             `db:"name" json:"name"`
	Platform       string             `db:"platform" json:"platform"`
	PlatformUserID string             `db:"platform_user_id" json:"platformUserId"`
	Availability   WorkerAvailability `db:"availability" json:"availability"`
	CreatedAt      time.Time          `db:"created_at" json:"createdAt"`
}

// Requester represents a registered party that publishes jobs.
type Requester struct {
	ID             uuid.UUID `db:"id" json:"id"`
	Name           string    `db:"name" json:"name"`
	Platform       string    `db:"platform" json:"platform"`
	PlatformUserID string    `db:"platform_user_id" json:"platformUserId"`
	CreatedAt      time.Time `db:"created_at" json:"createdAt"`
}

// Job is a unit of work with a reward and optional deadline. A job carries
// no status of its own; lifecycle state lives in its assignments.
type Job struct {
	ID          uuid.UUID  `db:"id" json:"id"`
	RequesterID uuid.UUID  `db:"requester_id" json:"requesterId"`
	Title       string     `db:"title" json:"title"`
	Description string     `db:"description" json:"description"`
	Reward      float64    `db:"reward" json:"reward"`
	Deadline    *time.Time `db:"deadline" json:"deadline,omitempty"`
	CreatedAt   time.Time  `db:"created_at" json:"createdAt"`
	UpdatedAt   time.Time  `db:"updated_at" json:"updatedAt"`
}

// Assignment is one worker's claim-to-resolution record against a job.
type Assignment struct {
	ID          uuid.UUID        `db:"id" json:"id"`
	JobID       uuid.UUID        `db:"job_id" json:"jobId"`
	WorkerID    uuid.UUID        `db:"worker_id" json:"workerId"`
	Status      AssignmentStatus `db:"status" json:"status"`
	AssignTime  time.Time        `db:"assign_time" json:"assignTime"`
	SubmitTime  *time.Time       `db:"submit_time" json:"submitTime,omitempty"`
	ConfirmTime *time.Time       `db:"confirm_time" json:"confirmTime,omitempty"`
}

// Material is an append-only attachment to a job. FileRef points at the
// object storage path when a file payload was uploaded.
type Material struct {
	ID         uuid.UUID    `db:"id" json:"id"`
	JobID      uuid.UUID    `db:"job_id" json:"jobId"`
	Name       string       `db:"name" json:"name"`
	FileRef    string       `db:"file_ref" json:"fileRef,omitempty"`
	Kind       MaterialKind `db:"kind" json:"kind"`
	UploadTime time.Time    `db:"upload_time" json:"uploadTime"`
}

// LogEvent is one row of the append-only audit trail, written once per
// engine-visible transition.
type LogEvent struct {
	ID        uuid.UUID `db:"id" json:"id"`
	Event     string    `db:"event" json:"event"`
	Detail    string    `db:"detail" json:"detail"`
	CreatedAt time.Time `db:"created_at" json:"createdAt"`
}

// PublishRequest is the incoming API payload for publishing a job.
type PublishRequest struct {
	RequesterID string     `json:"requesterId"`
	Title       string     `json:"title"`
	Description string     `json:"description"`
	Reward      float64    `json:"reward"`
	Deadline    *time.Time `json:"deadline,omitempty"`
}

// RegisterRequest is the incoming API payload for worker/requester registration.
type RegisterRequest struct {
	Name           string `json:"name"`
	Platform       string `json:"platform"`
	PlatformUserID string `json:"platformUserId"`
}

// MaterialUpload carries one material of a submission. FileBase64 is
// optional; when present the raw bytes are stored in object storage and the
// resulting path becomes the material's FileRef.
type MaterialUpload struct {
	Name       string       `json:"name"`
	Kind       MaterialKind `json:"kind"`
	FileBase64 string       `json:"fileBase64,omitempty"`
}

package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/orlandoq/guildpost/model"
)

// ErrConflict is returned by Apply when a uniqueness or compare-and-swap
// guard embedded in the change set fails. Callers treat it as an expected,
// recoverable outcome, not a crash.
var ErrConflict = errors.New("store: conflicting concurrent write")

// ErrNotFound is returned by reads when the record does not exist.
var ErrNotFound = errors.New("store: record not found")

// ErrUnavailable wraps transient storage failures (connectivity, timeouts).
// The whole operation is safe to retry.
var ErrUnavailable = errors.New("store: storage unavailable")

// AssignmentUpdate moves an assignment between statuses. The update only
// lands if the row is still in From at apply time; otherwise the whole
// change set fails with ErrConflict.
type AssignmentUpdate struct {
	ID          uuid.UUID
	From        model.AssignmentStatus
	To          model.AssignmentStatus
	AssignTime  *time.Time
	SubmitTime  *time.Time
	ConfirmTime *time.Time
}

// WorkerUpdate sets a worker's availability. When ExpectAvailability is
// non-nil the write is conditional on the current value, which closes the
// race between two claims by the same worker.
type WorkerUpdate struct {
	ID                 uuid.UUID
	Availability       model.WorkerAvailability
	ExpectAvailability *model.WorkerAvailability
}

// ChangeSet is the single atomic multi-write primitive of the store. Either
// every mutation lands or none does.
type ChangeSet struct {
	InsertWorkers     []*model.Worker
	InsertRequesters  []*model.Requester
	InsertJobs        []*model.Job
	InsertAssignments []*model.Assignment
	UpdateAssignments []AssignmentUpdate
	UpdateWorkers     []WorkerUpdate
	InsertMaterials   []*model.Material
	AppendLogs        []*model.LogEvent
}

// Store is the durable entity storage consumed by the lifecycle engine.
//
// Implementations must uphold two uniqueness guards on assignment inserts,
// equivalent to partial unique indexes scoped to the active-status subset:
// at most one assignment per worker in {ONGOING, SUBMITTED} and at most one
// assignment per job in {UNANSWERED, ONGOING, SUBMITTED}. A violated guard
// surfaces as ErrConflict from Apply.
type Store interface {
	GetWorker(ctx context.Context, id uuid.UUID) (*model.Worker, error)
	GetWorkerByIdentity(ctx context.Context, platform, platformUserID string) (*model.Worker, error)
	GetRequester(ctx context.Context, id uuid.UUID) (*model.Requester, error)
	GetRequesterByIdentity(ctx context.Context, platform, platformUserID string) (*model.Requester, error)
	GetJob(ctx context.Context, id uuid.UUID) (*model.Job, error)
	GetAssignment(ctx context.Context, id uuid.UUID) (*model.Assignment, error)

	// ActiveAssignmentForWorker returns the worker's assignment in
	// {ONGOING, SUBMITTED}, or ErrNotFound when there is none.
	ActiveAssignmentForWorker(ctx context.Context, workerID uuid.UUID) (*model.Assignment, error)

	// OpenAssignmentForJob returns the job's non-terminal assignment, or
	// ErrNotFound when the job is claimable.
	OpenAssignmentForJob(ctx context.Context, jobID uuid.UUID) (*model.Assignment, error)

	// ListOpenJobs returns jobs with no non-terminal assignment, oldest first.
	ListOpenJobs(ctx context.Context) ([]*model.Job, error)

	// ListWorkersByAvailability returns workers in the given availability
	// state; the engine uses it to fan out publish notifications.
	ListWorkersByAvailability(ctx context.Context, availability model.WorkerAvailability) ([]*model.Worker, error)

	// ListOverdueActive returns active assignments whose job deadline is
	// before now; the expire sweeper feeds these back into the engine.
	ListOverdueActive(ctx context.Context, now time.Time) ([]*model.Assignment, error)

	// Apply executes the change set atomically.
	Apply(ctx context.Context, cs *ChangeSet) error
}

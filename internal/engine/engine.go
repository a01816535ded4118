// Package engine owns the quest assignment lifecycle: the state machine per
// assignment, the one-active-assignment-per-worker invariant and the
// notification fan-out that follows every committed transition.
package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/orlandoq/guildpost/internal/metrics"
	"github.com/orlandoq/guildpost/internal/notify"
	"github.com/orlandoq/guildpost/internal/service/logger"
	"github.com/orlandoq/guildpost/internal/store"
	"github.com/orlandoq/guildpost/model"
)

// Engine executes lifecycle operations. Every mutating operation is one
// atomic round trip against the store: either every entity mutation lands or
// none does. Notification intents are handed to the sink only after the
// commit and never roll it back.
type Engine struct {
	store   store.Store
	sink    notify.Sink
	metrics *metrics.Collector

	// now is swapped out by tests.
	now func() time.Time
}

func New(st store.Store, sink notify.Sink, col *metrics.Collector) *Engine {
	return &Engine{
		store:   st,
		sink:    sink,
		metrics: col,
		now:     time.Now,
	}
}

// RegisterWorker creates a worker record for a platform identity. A second
// registration of the same identity returns ErrConflict.
func (e *Engine) RegisterWorker(ctx context.Context, name, platform, platformUserID string) (*model.Worker, error) {
	if name == "" || platform == "" || platformUserID == "" {
		return nil, fmt.Errorf("%w: name, platform and platform user id are required", ErrValidation)
	}

	w := &model.Worker{
		ID:             uuid.New(),
		Name:           name,
		Platform:       platform,
		PlatformUserID: platformUserID,
		Availability:   model.WorkerAvailable,
		CreatedAt:      e.now().UTC(),
	}

	cs := &store.ChangeSet{
		InsertWorkers: []*model.Worker{w},
		AppendLogs:    []*model.LogEvent{e.logEvent(OpRegister, fmt.Sprintf("worker %s registered via %s", w.ID, platform))},
	}
	if err := e.store.Apply(ctx, cs); err != nil {
		return nil, fromStore(err)
	}
	return w, nil
}

// RegisterRequester creates a requester record for a platform identity.
func (e *Engine) RegisterRequester(ctx context.Context, name, platform, platformUserID string) (*model.Requester, error) {
	if name == "" || platform == "" || platformUserID == "" {
		return nil, fmt.Errorf("%w: name, platform and platform user id are required", ErrValidation)
	}

	r := &model.Requester{
		ID:             uuid.New(),
		Name:           name,
		Platform:       platform,
		PlatformUserID: platformUserID,
		CreatedAt:      e.now().UTC(),
	}

	cs := &store.ChangeSet{
		InsertRequesters: []*model.Requester{r},
		AppendLogs:       []*model.LogEvent{e.logEvent(OpRegister, fmt.Sprintf("requester %s registered via %s", r.ID, platform))},
	}
	if err := e.store.Apply(ctx, cs); err != nil {
		return nil, fromStore(err)
	}
	return r, nil
}

// Publish creates a job on behalf of a requester. No assignment is created;
// the job becomes discoverable to all available workers, who are notified.
func (e *Engine) Publish(ctx context.Context, requesterID uuid.UUID, title, description string, reward float64, deadline *time.Time) (*model.Job, error) {
	if strings.TrimSpace(title) == "" || strings.TrimSpace(description) == "" {
		return nil, fmt.Errorf("%w: title and description must not be empty", ErrValidation)
	}
	if reward < 0 {
		return nil, fmt.Errorf("%w: reward must not be negative", ErrValidation)
	}

	requester, err := e.store.GetRequester(ctx, requesterID)
	if err != nil {
		return nil, fromStore(err)
	}

	now := e.now().UTC()
	job := &model.Job{
		ID:          uuid.New(),
		RequesterID: requester.ID,
		Title:       title,
		Description: description,
		Reward:      reward,
		Deadline:    deadline,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	cs := &store.ChangeSet{
		InsertJobs: []*model.Job{job},
		AppendLogs: []*model.LogEvent{e.logEvent(OpPublish, fmt.Sprintf("requester %s published job %s", requester.ID, job.ID))},
	}
	if err := e.store.Apply(ctx, cs); err != nil {
		return nil, fromStore(err)
	}
	e.metrics.Transition(OpPublish)

	// Best-effort announcement to every available worker, outside the
	// atomic boundary.
	if available, lerr := e.store.ListWorkersByAvailability(ctx, model.WorkerAvailable); lerr == nil {
		intents := make([]notify.Intent, 0, len(available))
		for _, w := range available {
			intents = append(intents, notify.Intent{
				Platform:       w.Platform,
				PlatformUserID: w.PlatformUserID,
				Text:           fmt.Sprintf("New job posted: %q (reward %.2f). Claim it with job id %s.", job.Title, job.Reward, job.ID),
			})
		}
		e.dispatch(ctx, intents)
	}

	return job, nil
}

// Claim assigns an open job to an available worker. Two concurrent claims
// for the same job or the same worker resolve to exactly one winner; the
// loser gets ErrConflict and may retry against a different job.
func (e *Engine) Claim(ctx context.Context, workerID, jobID uuid.UUID) (*model.Assignment, error) {
	worker, err := e.store.GetWorker(ctx, workerID)
	if err != nil {
		return nil, fromStore(err)
	}
	if worker.Availability != model.WorkerAvailable {
		return nil, fmt.Errorf("%w: worker %s is %s", ErrInvalidState, worker.ID, worker.Availability)
	}

	job, err := e.store.GetJob(ctx, jobID)
	if err != nil {
		return nil, fromStore(err)
	}

	now := e.now().UTC()
	expect := model.WorkerAvailable
	cs := &store.ChangeSet{
		UpdateWorkers: []store.WorkerUpdate{{
			ID:                 worker.ID,
			Availability:       model.WorkerBusy,
			ExpectAvailability: &expect,
		}},
		AppendLogs: []*model.LogEvent{e.logEvent(OpClaim, fmt.Sprintf("worker %s claimed job %s", worker.ID, job.ID))},
	}

	var assignment *model.Assignment
	open, err := e.store.OpenAssignmentForJob(ctx, jobID)
	switch {
	case err == nil && open.Status.Active():
		return nil, fmt.Errorf("%w: job %s already has an active assignment", ErrConflict, job.ID)
	case err == nil && open.Status == model.AssignmentUnanswered:
		// A pre-offered assignment exists; only the offered worker may
		// convert it.
		if open.WorkerID != worker.ID {
			return nil, fmt.Errorf("%w: job %s is offered to another worker", ErrConflict, job.ID)
		}
		cp := *open
		cp.Status = model.AssignmentOngoing
		cp.AssignTime = now
		assignment = &cp
		cs.UpdateAssignments = []store.AssignmentUpdate{{
			ID:         open.ID,
			From:       model.AssignmentUnanswered,
			To:         model.AssignmentOngoing,
			AssignTime: &now,
		}}
	case err == nil:
		return nil, fmt.Errorf("%w: job %s is not claimable", ErrConflict, job.ID)
	case errors.Is(err, store.ErrNotFound):
		// No open assignment: insert a fresh one. The store's uniqueness
		// guards reject it if a concurrent claim got there first.
		assignment = &model.Assignment{
			ID:         uuid.New(),
			JobID:      job.ID,
			WorkerID:   worker.ID,
			Status:     model.AssignmentOngoing,
			AssignTime: now,
		}
		cs.InsertAssignments = []*model.Assignment{assignment}
	default:
		return nil, fromStore(err)
	}

	if err := e.store.Apply(ctx, cs); err != nil {
		mapped := fromStore(err)
		if errors.Is(mapped, ErrConflict) {
			e.metrics.ClaimConflict()
		}
		return nil, mapped
	}
	e.metrics.Transition(OpClaim)

	if requester, rerr := e.store.GetRequester(ctx, job.RequesterID); rerr == nil {
		e.dispatch(ctx, []notify.Intent{{
			Platform:       requester.Platform,
			PlatformUserID: requester.PlatformUserID,
			Text:           fmt.Sprintf("%s claimed your job %q.", worker.Name, job.Title),
		}})
	}

	return assignment, nil
}

// Submit marks the worker's ongoing assignment as submitted and records the
// supplied materials. The worker stays BUSY until the requester confirms or
// the assignment reaches a terminal state.
func (e *Engine) Submit(ctx context.Context, workerID, assignmentID uuid.UUID, materials []model.Material) (*model.Assignment, error) {
	assignment, err := e.store.GetAssignment(ctx, assignmentID)
	if err != nil {
		return nil, fromStore(err)
	}
	if assignment.WorkerID != workerID {
		return nil, fmt.Errorf("%w: assignment %s is not held by worker %s", ErrInvalidState, assignment.ID, workerID)
	}
	to, ok := allows(OpSubmit, assignment.Status)
	if !ok {
		return nil, fmt.Errorf("%w: cannot submit from %s", ErrInvalidTransition, assignment.Status)
	}

	now := e.now().UTC()
	rows := make([]*model.Material, 0, len(materials))
	for _, m := range materials {
		kind := m.Kind
		if kind == "" {
			kind = model.MaterialNone
		}
		rows = append(rows, &model.Material{
			ID:         uuid.New(),
			JobID:      assignment.JobID,
			Name:       m.Name,
			FileRef:    m.FileRef,
			Kind:       kind,
			UploadTime: now,
		})
	}

	cs := &store.ChangeSet{
		UpdateAssignments: []store.AssignmentUpdate{{
			ID:         assignment.ID,
			From:       assignment.Status,
			To:         to,
			SubmitTime: &now,
		}},
		InsertMaterials: rows,
		AppendLogs:      []*model.LogEvent{e.logEvent(OpSubmit, fmt.Sprintf("worker %s submitted assignment %s", workerID, assignment.ID))},
	}
	if err := e.store.Apply(ctx, cs); err != nil {
		return nil, fromStore(err)
	}
	e.metrics.Transition(OpSubmit)

	assignment.Status = to
	assignment.SubmitTime = &now

	if job, jerr := e.store.GetJob(ctx, assignment.JobID); jerr == nil {
		if requester, rerr := e.store.GetRequester(ctx, job.RequesterID); rerr == nil {
			e.dispatch(ctx, []notify.Intent{{
				Platform:       requester.Platform,
				PlatformUserID: requester.PlatformUserID,
				Text:           fmt.Sprintf("Your job %q has been submitted and awaits confirmation.", job.Title),
			}})
		}
	}

	return assignment, nil
}

// Confirm closes the loop: the owning requester accepts the submission, the
// assignment becomes CONFIRMED and the worker returns to AVAILABLE.
func (e *Engine) Confirm(ctx context.Context, requesterID, assignmentID uuid.UUID) (*model.Assignment, error) {
	assignment, err := e.store.GetAssignment(ctx, assignmentID)
	if err != nil {
		return nil, fromStore(err)
	}
	job, err := e.store.GetJob(ctx, assignment.JobID)
	if err != nil {
		return nil, fromStore(err)
	}
	if job.RequesterID != requesterID {
		return nil, fmt.Errorf("%w: job %s does not belong to requester %s", ErrInvalidState, job.ID, requesterID)
	}
	to, ok := allows(OpConfirm, assignment.Status)
	if !ok {
		return nil, fmt.Errorf("%w: cannot confirm from %s", ErrInvalidTransition, assignment.Status)
	}

	now := e.now().UTC()
	expect := model.WorkerBusy
	cs := &store.ChangeSet{
		UpdateAssignments: []store.AssignmentUpdate{{
			ID:          assignment.ID,
			From:        assignment.Status,
			To:          to,
			ConfirmTime: &now,
		}},
		UpdateWorkers: []store.WorkerUpdate{{
			ID:                 assignment.WorkerID,
			Availability:       model.WorkerAvailable,
			ExpectAvailability: &expect,
		}},
		AppendLogs: []*model.LogEvent{e.logEvent(OpConfirm, fmt.Sprintf("requester %s confirmed assignment %s", requesterID, assignment.ID))},
	}
	if err := e.store.Apply(ctx, cs); err != nil {
		return nil, fromStore(err)
	}
	e.metrics.Transition(OpConfirm)

	assignment.Status = to
	assignment.ConfirmTime = &now

	if worker, werr := e.store.GetWorker(ctx, assignment.WorkerID); werr == nil {
		e.dispatch(ctx, []notify.Intent{{
			Platform:       worker.Platform,
			PlatformUserID: worker.PlatformUserID,
			Text:           fmt.Sprintf("Job %q was confirmed. Reward: %.2f. You are available again.", job.Title, job.Reward),
		}})
	}

	return assignment, nil
}

// ForceEnd terminates an active assignment and parks the worker in the
// caller-specified availability (RESTING or RETIRED). The old assignment
// stays as history and the job becomes claimable again.
func (e *Engine) ForceEnd(ctx context.Context, assignmentID uuid.UUID, availability model.WorkerAvailability) (*model.Assignment, error) {
	if availability != model.WorkerResting && availability != model.WorkerRetired {
		return nil, fmt.Errorf("%w: force end must leave the worker RESTING or RETIRED, got %s", ErrValidation, availability)
	}

	assignment, err := e.store.GetAssignment(ctx, assignmentID)
	if err != nil {
		return nil, fromStore(err)
	}
	to, ok := allows(OpForceEnd, assignment.Status)
	if !ok {
		return nil, fmt.Errorf("%w: cannot force end from %s", ErrInvalidTransition, assignment.Status)
	}

	expect := model.WorkerBusy
	cs := &store.ChangeSet{
		UpdateAssignments: []store.AssignmentUpdate{{
			ID:   assignment.ID,
			From: assignment.Status,
			To:   to,
		}},
		UpdateWorkers: []store.WorkerUpdate{{
			ID:                 assignment.WorkerID,
			Availability:       availability,
			ExpectAvailability: &expect,
		}},
		AppendLogs: []*model.LogEvent{e.logEvent(OpForceEnd, fmt.Sprintf("assignment %s force ended, worker %s now %s", assignment.ID, assignment.WorkerID, availability))},
	}
	if err := e.store.Apply(ctx, cs); err != nil {
		return nil, fromStore(err)
	}
	e.metrics.Transition(OpForceEnd)

	assignment.Status = to
	return assignment, nil
}

// Expire times out an active assignment whose job deadline has passed. The
// worker returns to AVAILABLE and both parties are notified. Driven by the
// sweeper; the engine runs no timer of its own.
func (e *Engine) Expire(ctx context.Context, assignmentID uuid.UUID, now time.Time) (*model.Assignment, error) {
	assignment, err := e.store.GetAssignment(ctx, assignmentID)
	if err != nil {
		return nil, fromStore(err)
	}
	to, ok := allows(OpExpire, assignment.Status)
	if !ok {
		return nil, fmt.Errorf("%w: cannot expire from %s", ErrInvalidTransition, assignment.Status)
	}
	job, err := e.store.GetJob(ctx, assignment.JobID)
	if err != nil {
		return nil, fromStore(err)
	}
	if job.Deadline == nil || !job.Deadline.Before(now) {
		return nil, fmt.Errorf("%w: job %s deadline has not passed", ErrInvalidState, job.ID)
	}

	expect := model.WorkerBusy
	cs := &store.ChangeSet{
		UpdateAssignments: []store.AssignmentUpdate{{
			ID:   assignment.ID,
			From: assignment.Status,
			To:   to,
		}},
		UpdateWorkers: []store.WorkerUpdate{{
			ID:                 assignment.WorkerID,
			Availability:       model.WorkerAvailable,
			ExpectAvailability: &expect,
		}},
		AppendLogs: []*model.LogEvent{e.logEvent(OpExpire, fmt.Sprintf("assignment %s timed out past deadline of job %s", assignment.ID, job.ID))},
	}
	if err := e.store.Apply(ctx, cs); err != nil {
		return nil, fromStore(err)
	}
	e.metrics.Transition(OpExpire)

	assignment.Status = to

	intents := make([]notify.Intent, 0, 2)
	if worker, werr := e.store.GetWorker(ctx, assignment.WorkerID); werr == nil {
		intents = append(intents, notify.Intent{
			Platform:       worker.Platform,
			PlatformUserID: worker.PlatformUserID,
			Text:           fmt.Sprintf("Job %q timed out past its deadline. You are available again.", job.Title),
		})
	}
	if requester, rerr := e.store.GetRequester(ctx, job.RequesterID); rerr == nil {
		intents = append(intents, notify.Intent{
			Platform:       requester.Platform,
			PlatformUserID: requester.PlatformUserID,
			Text:           fmt.Sprintf("Your job %q timed out and is open for claims again.", job.Title),
		})
	}
	e.dispatch(ctx, intents)

	return assignment, nil
}

// SetAvailability changes a worker's availability directly. A worker with an
// active assignment cannot be moved this way; route through ForceEnd.
func (e *Engine) SetAvailability(ctx context.Context, workerID uuid.UUID, availability model.WorkerAvailability) (*model.Worker, error) {
	switch availability {
	case model.WorkerAvailable, model.WorkerResting, model.WorkerRetired:
	default:
		return nil, fmt.Errorf("%w: availability %s cannot be set directly", ErrValidation, availability)
	}

	worker, err := e.store.GetWorker(ctx, workerID)
	if err != nil {
		return nil, fromStore(err)
	}
	_, aerr := e.store.ActiveAssignmentForWorker(ctx, workerID)
	switch {
	case aerr == nil:
		return nil, fmt.Errorf("%w: worker %s has an active assignment; use force end", ErrInvalidState, workerID)
	case !errors.Is(aerr, store.ErrNotFound):
		// anything but a clean miss must not pass for "no active
		// assignment": the availability write would desync the worker
		return nil, fromStore(aerr)
	}

	expect := worker.Availability
	cs := &store.ChangeSet{
		UpdateWorkers: []store.WorkerUpdate{{
			ID:                 worker.ID,
			Availability:       availability,
			ExpectAvailability: &expect,
		}},
		AppendLogs: []*model.LogEvent{e.logEvent(OpSetAvailability, fmt.Sprintf("worker %s availability %s -> %s", worker.ID, worker.Availability, availability))},
	}
	if err := e.store.Apply(ctx, cs); err != nil {
		return nil, fromStore(err)
	}
	e.metrics.Transition(OpSetAvailability)

	worker.Availability = availability
	return worker, nil
}

// GetJob returns one job by id. Pure read; no transition.
func (e *Engine) GetJob(ctx context.Context, id uuid.UUID) (*model.Job, error) {
	j, err := e.store.GetJob(ctx, id)
	if err != nil {
		return nil, fromStore(err)
	}
	return j, nil
}

// GetAssignment returns one assignment by id. Pure read; no transition.
func (e *Engine) GetAssignment(ctx context.Context, id uuid.UUID) (*model.Assignment, error) {
	a, err := e.store.GetAssignment(ctx, id)
	if err != nil {
		return nil, fromStore(err)
	}
	return a, nil
}

// ListOpenJobs returns jobs with no non-terminal assignment, oldest first.
// Pure read; no transition.
func (e *Engine) ListOpenJobs(ctx context.Context) ([]*model.Job, error) {
	jobs, err := e.store.ListOpenJobs(ctx)
	if err != nil {
		return nil, fromStore(err)
	}
	return jobs, nil
}

// ActiveAssignment returns the worker's current ONGOING or SUBMITTED
// assignment, or ErrNotFound.
func (e *Engine) ActiveAssignment(ctx context.Context, workerID uuid.UUID) (*model.Assignment, error) {
	a, err := e.store.ActiveAssignmentForWorker(ctx, workerID)
	if err != nil {
		return nil, fromStore(err)
	}
	return a, nil
}

// ListOverdueActive exposes the sweeper's candidate query.
func (e *Engine) ListOverdueActive(ctx context.Context, now time.Time) ([]*model.Assignment, error) {
	out, err := e.store.ListOverdueActive(ctx, now)
	if err != nil {
		return nil, fromStore(err)
	}
	return out, nil
}

// dispatch hands intents to the sink. Failures are logged and counted, never
// surfaced: the transition has already committed.
func (e *Engine) dispatch(ctx context.Context, intents []notify.Intent) {
	if e.sink == nil {
		return
	}
	for _, intent := range intents {
		if err := e.sink.Deliver(ctx, intent); err != nil {
			e.metrics.NotifyFailure()
			logger.FromContext(ctx).Error().
				Err(err).
				Str("platform", intent.Platform).
				Str("platform_user_id", intent.PlatformUserID).
				Msg("notification delivery failed")
		}
	}
}

func (e *Engine) logEvent(event, detail string) *model.LogEvent {
	return &model.LogEvent{
		ID:        uuid.New(),
		Event:     event,
		Detail:    detail,
		CreatedAt: e.now().UTC(),
	}
}

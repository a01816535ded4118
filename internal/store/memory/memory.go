package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/orlandoq/guildpost/internal/store"
	"github.com/orlandoq/guildpost/model"
)

// Store is a mutex-guarded in-memory implementation of store.Store. It
// replicates the postgres guard semantics: assignment inserts and status
// updates are checked against the active-subset uniqueness rules before any
// mutation lands, so Apply stays all-or-nothing.
type Store struct {
	mu          sync.Mutex
	workers     map[uuid.UUID]*model.Worker
	requesters  map[uuid.UUID]*model.Requester
	jobs        map[uuid.UUID]*model.Job
	assignments map[uuid.UUID]*model.Assignment
	materials   map[uuid.UUID]*model.Material
	logs        []*model.LogEvent

	// FailApply, when set, is invoked before the mutation phase of Apply.
	// A non-nil return aborts the change set with no effects. Used by tests
	// to inject mid-operation storage failures.
	FailApply func(cs *store.ChangeSet) error
}

func New() *Store {
	return &Store{
		workers:     make(map[uuid.UUID]*model.Worker),
		requesters:  make(map[uuid.UUID]*model.Requester),
		jobs:        make(map[uuid.UUID]*model.Job),
		assignments: make(map[uuid.UUID]*model.Assignment),
		materials:   make(map[uuid.UUID]*model.Material),
	}
}

func (s *Store) GetWorker(ctx context.Context, id uuid.UUID) (*model.Worker, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.workers[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *w
	return &cp, nil
}

func (s *Store) GetWorkerByIdentity(ctx context.Context, platform, platformUserID string) (*model.Worker, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, w := range s.workers {
		if w.Platform == platform && w.PlatformUserID == platformUserID {
			cp := *w
			return &cp, nil
		}
	}
	return nil, store.ErrNotFound
}

func (s *Store) GetRequester(ctx context.Context, id uuid.UUID) (*model.Requester, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.requesters[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *r
	return &cp, nil
}

func (s *Store) GetRequesterByIdentity(ctx context.Context, platform, platformUserID string) (*model.Requester, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.requesters {
		if r.Platform == platform && r.PlatformUserID == platformUserID {
			cp := *r
			return &cp, nil
		}
	}
	return nil, store.ErrNotFound
}

func (s *Store) GetJob(ctx context.Context, id uuid.UUID) (*model.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *j
	return &cp, nil
}

func (s *Store) GetAssignment(ctx context.Context, id uuid.UUID) (*model.Assignment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.assignments[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *a
	return &cp, nil
}

func (s *Store) ActiveAssignmentForWorker(ctx context.Context, workerID uuid.UUID) (*model.Assignment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range s.assignments {
		if a.WorkerID == workerID && a.Status.Active() {
			cp := *a
			return &cp, nil
		}
	}
	return nil, store.ErrNotFound
}

func (s *Store) OpenAssignmentForJob(ctx context.Context, jobID uuid.UUID) (*model.Assignment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if a := s.openForJobLocked(jobID); a != nil {
		cp := *a
		return &cp, nil
	}
	return nil, store.ErrNotFound
}

func (s *Store) ListOpenJobs(ctx context.Context) ([]*model.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var open []*model.Job
	for _, j := range s.jobs {
		if s.openForJobLocked(j.ID) == nil {
			cp := *j
			open = append(open, &cp)
		}
	}
	sort.Slice(open, func(i, k int) bool { return open[i].CreatedAt.Before(open[k].CreatedAt) })
	return open, nil
}

func (s *Store) ListWorkersByAvailability(ctx context.Context, availability model.WorkerAvailability) ([]*model.Worker, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*model.Worker
	for _, w := range s.workers {
		if w.Availability == availability {
			cp := *w
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, k int) bool { return out[i].CreatedAt.Before(out[k].CreatedAt) })
	return out, nil
}

func (s *Store) ListOverdueActive(ctx context.Context, now time.Time) ([]*model.Assignment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var overdue []*model.Assignment
	for _, a := range s.assignments {
		if !a.Status.Active() {
			continue
		}
		j, ok := s.jobs[a.JobID]
		if !ok || j.Deadline == nil || !j.Deadline.Before(now) {
			continue
		}
		cp := *a
		overdue = append(overdue, &cp)
	}
	sort.Slice(overdue, func(i, k int) bool { return overdue[i].AssignTime.Before(overdue[k].AssignTime) })
	return overdue, nil
}

// Apply validates every guard under the lock, then mutates. Nothing is
// written unless the whole change set passes.
func (s *Store) Apply(ctx context.Context, cs *store.ChangeSet) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	// ---- guard phase ----
	for _, w := range cs.InsertWorkers {
		for _, existing := range s.workers {
			if existing.Platform == w.Platform && existing.PlatformUserID == w.PlatformUserID {
				return store.ErrConflict
			}
		}
	}
	for _, r := range cs.InsertRequesters {
		for _, existing := range s.requesters {
			if existing.Platform == r.Platform && existing.PlatformUserID == r.PlatformUserID {
				return store.ErrConflict
			}
		}
	}
	for _, a := range cs.InsertAssignments {
		if a.Status.Active() && s.activeForWorkerLocked(a.WorkerID) != nil {
			return store.ErrConflict
		}
		if !a.Status.Terminal() && s.openForJobLocked(a.JobID) != nil {
			return store.ErrConflict
		}
	}
	for _, u := range cs.UpdateAssignments {
		cur, ok := s.assignments[u.ID]
		if !ok || cur.Status != u.From {
			return store.ErrConflict
		}
		if u.To.Active() && cur.Status == model.AssignmentUnanswered {
			// claiming a pre-offered assignment still counts against the
			// per-worker limit
			if held := s.activeForWorkerLocked(cur.WorkerID); held != nil && held.ID != cur.ID {
				return store.ErrConflict
			}
		}
	}
	for _, u := range cs.UpdateWorkers {
		cur, ok := s.workers[u.ID]
		if !ok {
			return store.ErrConflict
		}
		if u.ExpectAvailability != nil && cur.Availability != *u.ExpectAvailability {
			return store.ErrConflict
		}
	}

	if s.FailApply != nil {
		if err := s.FailApply(cs); err != nil {
			return err
		}
	}

	// ---- mutation phase ----
	for _, w := range cs.InsertWorkers {
		cp := *w
		s.workers[w.ID] = &cp
	}
	for _, r := range cs.InsertRequesters {
		cp := *r
		s.requesters[r.ID] = &cp
	}
	for _, j := range cs.InsertJobs {
		cp := *j
		s.jobs[j.ID] = &cp
	}
	for _, a := range cs.InsertAssignments {
		cp := *a
		s.assignments[a.ID] = &cp
	}
	for _, u := range cs.UpdateAssignments {
		cur := s.assignments[u.ID]
		cur.Status = u.To
		if u.AssignTime != nil {
			cur.AssignTime = *u.AssignTime
		}
		if u.SubmitTime != nil {
			cur.SubmitTime = u.SubmitTime
		}
		if u.ConfirmTime != nil {
			cur.ConfirmTime = u.ConfirmTime
		}
	}
	for _, u := range cs.UpdateWorkers {
		s.workers[u.ID].Availability = u.Availability
	}
	for _, m := range cs.InsertMaterials {
		cp := *m
		s.materials[m.ID] = &cp
	}
	for _, e := range cs.AppendLogs {
		cp := *e
		s.logs = append(s.logs, &cp)
	}
	return nil
}

// Logs returns a snapshot of the audit trail, oldest first.
func (s *Store) Logs() []*model.LogEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*model.LogEvent, 0, len(s.logs))
	for _, e := range s.logs {
		cp := *e
		out = append(out, &cp)
	}
	return out
}

// MaterialsForJob returns the job's materials, oldest first.
func (s *Store) MaterialsForJob(jobID uuid.UUID) []*model.Material {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*model.Material
	for _, m := range s.materials {
		if m.JobID == jobID {
			cp := *m
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, k int) bool { return out[i].UploadTime.Before(out[k].UploadTime) })
	return out
}

func (s *Store) activeForWorkerLocked(workerID uuid.UUID) *model.Assignment {
	for _, a := range s.assignments {
		if a.WorkerID == workerID && a.Status.Active() {
			return a
		}
	}
	return nil
}

func (s *Store) openForJobLocked(jobID uuid.UUID) *model.Assignment {
	for _, a := range s.assignments {
		if a.JobID == jobID && !a.Status.Terminal() {
			return a
		}
	}
	return nil
}

package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/orlandoq/guildpost/internal/notify"
	"github.com/orlandoq/guildpost/internal/store"
	"github.com/orlandoq/guildpost/internal/store/memory"
	"github.com/orlandoq/guildpost/model"
)

type recordSink struct {
	mu      sync.Mutex
	intents []notify.Intent
	fail    error
}

func (s *recordSink) Deliver(ctx context.Context, intent notify.Intent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail != nil {
		return s.fail
	}
	s.intents = append(s.intents, intent)
	return nil
}

func (s *recordSink) Shutdown() {}

func (s *recordSink) sent() []notify.Intent {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]notify.Intent, len(s.intents))
	copy(out, s.intents)
	return out
}

func (s *recordSink) reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.intents = nil
}

func newTestEngine(t *testing.T) (*Engine, *memory.Store, *recordSink) {
	t.Helper()
	st := memory.New()
	sink := &recordSink{}
	return New(st, sink, nil), st, sink
}

func seedWorker(t *testing.T, eng *Engine, name string) *model.Worker {
	t.Helper()
	w, err := eng.RegisterWorker(context.Background(), name, "discord", name+"#1234")
	require.NoError(t, err)
	return w
}

func seedRequester(t *testing.T, eng *Engine, name string) *model.Requester {
	t.Helper()
	r, err := eng.RegisterRequester(context.Background(), name, "discord", name+"#9999")
	require.NoError(t, err)
	return r
}

func seedJob(t *testing.T, eng *Engine, requesterID uuid.UUID, deadline *time.Time) *model.Job {
	t.Helper()
	j, err := eng.Publish(context.Background(), requesterID, "sketch a banner", "a banner for the guild hall", 25, deadline)
	require.NoError(t, err)
	return j
}

func requireAvailability(t *testing.T, eng *Engine, workerID uuid.UUID, want model.WorkerAvailability) {
	t.Helper()
	w, err := eng.store.GetWorker(context.Background(), workerID)
	require.NoError(t, err)
	require.Equal(t, want, w.Availability)
}

func TestRegisterWorkerDuplicateIdentity(t *testing.T) {
	eng, _, _ := newTestEngine(t)
	ctx := context.Background()

	_, err := eng.RegisterWorker(ctx, "ash", "discord", "ash#1")
	require.NoError(t, err)

	_, err = eng.RegisterWorker(ctx, "ash again", "discord", "ash#1")
	require.ErrorIs(t, err, ErrConflict)

	_, err = eng.RegisterWorker(ctx, "", "discord", "ash#2")
	require.ErrorIs(t, err, ErrValidation)
}

func TestPublishValidation(t *testing.T) {
	eng, _, _ := newTestEngine(t)
	ctx := context.Background()
	req := seedRequester(t, eng, "guildmaster")

	_, err := eng.Publish(ctx, req.ID, "  ", "desc", 10, nil)
	require.ErrorIs(t, err, ErrValidation)

	_, err = eng.Publish(ctx, req.ID, "title", "desc", -1, nil)
	require.ErrorIs(t, err, ErrValidation)

	_, err = eng.Publish(ctx, uuid.New(), "title", "desc", 10, nil)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestPublishAnnouncesToAvailableWorkersOnly(t *testing.T) {
	eng, _, sink := newTestEngine(t)
	ctx := context.Background()

	seedWorker(t, eng, "ash")
	seedWorker(t, eng, "birch")
	resting := seedWorker(t, eng, "cedar")
	_, err := eng.SetAvailability(ctx, resting.ID, model.WorkerResting)
	require.NoError(t, err)

	req := seedRequester(t, eng, "guildmaster")
	sink.reset()

	seedJob(t, eng, req.ID, nil)

	sent := sink.sent()
	require.Len(t, sent, 2)
	for _, intent := range sent {
		require.NotEqual(t, resting.PlatformUserID, intent.PlatformUserID)
	}
}

func TestClaimHappyPath(t *testing.T) {
	eng, _, sink := newTestEngine(t)
	ctx := context.Background()

	w := seedWorker(t, eng, "ash")
	req := seedRequester(t, eng, "guildmaster")
	job := seedJob(t, eng, req.ID, nil)
	sink.reset()

	a, err := eng.Claim(ctx, w.ID, job.ID)
	require.NoError(t, err)
	require.Equal(t, model.AssignmentOngoing, a.Status)
	require.Equal(t, job.ID, a.JobID)
	require.Equal(t, w.ID, a.WorkerID)
	require.False(t, a.AssignTime.IsZero())

	requireAvailability(t, eng, w.ID, model.WorkerBusy)

	held, err := eng.ActiveAssignment(ctx, w.ID)
	require.NoError(t, err)
	require.Equal(t, a.ID, held.ID)

	sent := sink.sent()
	require.Len(t, sent, 1)
	require.Equal(t, req.PlatformUserID, sent[0].PlatformUserID)
}

func TestClaimRejectsUnavailableWorker(t *testing.T) {
	eng, _, _ := newTestEngine(t)
	ctx := context.Background()

	w := seedWorker(t, eng, "ash")
	req := seedRequester(t, eng, "guildmaster")
	job := seedJob(t, eng, req.ID, nil)

	_, err := eng.SetAvailability(ctx, w.ID, model.WorkerResting)
	require.NoError(t, err)

	_, err = eng.Claim(ctx, w.ID, job.ID)
	require.ErrorIs(t, err, ErrInvalidState)
}

func TestClaimRejectsAlreadyClaimedJob(t *testing.T) {
	eng, _, _ := newTestEngine(t)
	ctx := context.Background()

	first := seedWorker(t, eng, "ash")
	second := seedWorker(t, eng, "birch")
	req := seedRequester(t, eng, "guildmaster")
	job := seedJob(t, eng, req.ID, nil)

	_, err := eng.Claim(ctx, first.ID, job.ID)
	require.NoError(t, err)

	_, err = eng.Claim(ctx, second.ID, job.ID)
	require.ErrorIs(t, err, ErrConflict)
	requireAvailability(t, eng, second.ID, model.WorkerAvailable)
}

func TestClaimRejectsSecondJobForBusyWorker(t *testing.T) {
	eng, _, _ := newTestEngine(t)
	ctx := context.Background()

	w := seedWorker(t, eng, "ash")
	req := seedRequester(t, eng, "guildmaster")
	first := seedJob(t, eng, req.ID, nil)
	other := seedJob(t, eng, req.ID, nil)

	_, err := eng.Claim(ctx, w.ID, first.ID)
	require.NoError(t, err)

	_, err = eng.Claim(ctx, w.ID, other.ID)
	require.ErrorIs(t, err, ErrInvalidState)
}

func TestConcurrentClaimsOneWinnerPerJob(t *testing.T) {
	eng, _, _ := newTestEngine(t)
	ctx := context.Background()

	req := seedRequester(t, eng, "guildmaster")
	job := seedJob(t, eng, req.ID, nil)

	const contenders = 16
	workers := make([]*model.Worker, contenders)
	for i := range workers {
		workers[i] = seedWorker(t, eng, "w"+uuid.NewString()[:8])
	}

	errs := make([]error, contenders)
	var wg sync.WaitGroup
	for i := range workers {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = eng.Claim(ctx, workers[i].ID, job.ID)
		}(i)
	}
	wg.Wait()

	wins := 0
	for i, err := range errs {
		if err == nil {
			wins++
			requireAvailability(t, eng, workers[i].ID, model.WorkerBusy)
			continue
		}
		require.ErrorIs(t, err, ErrConflict)
		requireAvailability(t, eng, workers[i].ID, model.WorkerAvailable)
	}
	require.Equal(t, 1, wins)
}

func TestConcurrentClaimsOneWinnerPerWorker(t *testing.T) {
	eng, _, _ := newTestEngine(t)
	ctx := context.Background()

	w := seedWorker(t, eng, "ash")
	req := seedRequester(t, eng, "guildmaster")

	const jobs = 8
	ids := make([]uuid.UUID, jobs)
	for i := range ids {
		ids[i] = seedJob(t, eng, req.ID, nil).ID
	}

	errs := make([]error, jobs)
	var wg sync.WaitGroup
	for i := range ids {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = eng.Claim(ctx, w.ID, ids[i])
		}(i)
	}
	wg.Wait()

	wins := 0
	for _, err := range errs {
		if err == nil {
			wins++
			continue
		}
		// losers hit either the worker availability check or the store's
		// one-active-per-worker guard depending on interleaving
		require.True(t, errors.Is(err, ErrConflict) || errors.Is(err, ErrInvalidState), "unexpected error: %v", err)
	}
	require.Equal(t, 1, wins)
	requireAvailability(t, eng, w.ID, model.WorkerBusy)
}

func TestSubmitRecordsMaterials(t *testing.T) {
	eng, st, sink := newTestEngine(t)
	ctx := context.Background()

	w := seedWorker(t, eng, "ash")
	req := seedRequester(t, eng, "guildmaster")
	job := seedJob(t, eng, req.ID, nil)
	a, err := eng.Claim(ctx, w.ID, job.ID)
	require.NoError(t, err)
	sink.reset()

	got, err := eng.Submit(ctx, w.ID, a.ID, []model.Material{
		{Name: "final banner", FileRef: "materials/x/y", Kind: model.MaterialIllustrate},
		{Name: "notes"},
	})
	require.NoError(t, err)
	require.Equal(t, model.AssignmentSubmitted, got.Status)
	require.NotNil(t, got.SubmitTime)

	// worker stays busy until the requester confirms
	requireAvailability(t, eng, w.ID, model.WorkerBusy)

	materials := st.MaterialsForJob(job.ID)
	require.Len(t, materials, 2)
	require.Equal(t, model.MaterialIllustrate, materials[0].Kind)
	require.Equal(t, model.MaterialNone, materials[1].Kind)
	for _, m := range materials {
		require.Equal(t, job.ID, m.JobID)
		require.False(t, m.UploadTime.IsZero())
	}

	sent := sink.sent()
	require.Len(t, sent, 1)
	require.Equal(t, req.PlatformUserID, sent[0].PlatformUserID)
}

func TestSubmitRejectsWrongWorkerAndWrongStatus(t *testing.T) {
	eng, _, _ := newTestEngine(t)
	ctx := context.Background()

	w := seedWorker(t, eng, "ash")
	other := seedWorker(t, eng, "birch")
	req := seedRequester(t, eng, "guildmaster")
	job := seedJob(t, eng, req.ID, nil)
	a, err := eng.Claim(ctx, w.ID, job.ID)
	require.NoError(t, err)

	_, err = eng.Submit(ctx, other.ID, a.ID, nil)
	require.ErrorIs(t, err, ErrInvalidState)

	_, err = eng.Submit(ctx, w.ID, a.ID, nil)
	require.NoError(t, err)

	_, err = eng.Submit(ctx, w.ID, a.ID, nil)
	require.ErrorIs(t, err, ErrInvalidTransition)

	_, err = eng.Submit(ctx, w.ID, uuid.New(), nil)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestConfirmReleasesWorker(t *testing.T) {
	eng, _, sink := newTestEngine(t)
	ctx := context.Background()

	w := seedWorker(t, eng, "ash")
	req := seedRequester(t, eng, "guildmaster")
	job := seedJob(t, eng, req.ID, nil)
	a, err := eng.Claim(ctx, w.ID, job.ID)
	require.NoError(t, err)
	_, err = eng.Submit(ctx, w.ID, a.ID, nil)
	require.NoError(t, err)
	sink.reset()

	got, err := eng.Confirm(ctx, req.ID, a.ID)
	require.NoError(t, err)
	require.Equal(t, model.AssignmentConfirmed, got.Status)
	require.NotNil(t, got.ConfirmTime)
	requireAvailability(t, eng, w.ID, model.WorkerAvailable)

	sent := sink.sent()
	require.Len(t, sent, 1)
	require.Equal(t, w.PlatformUserID, sent[0].PlatformUserID)

	// terminal states are sticky
	_, err = eng.Confirm(ctx, req.ID, a.ID)
	require.ErrorIs(t, err, ErrInvalidTransition)
}

func TestConfirmRejectsForeignRequesterAndOngoing(t *testing.T) {
	eng, _, _ := newTestEngine(t)
	ctx := context.Background()

	w := seedWorker(t, eng, "ash")
	req := seedRequester(t, eng, "guildmaster")
	stranger := seedRequester(t, eng, "stranger")
	job := seedJob(t, eng, req.ID, nil)
	a, err := eng.Claim(ctx, w.ID, job.ID)
	require.NoError(t, err)

	_, err = eng.Confirm(ctx, stranger.ID, a.ID)
	require.ErrorIs(t, err, ErrInvalidState)

	// confirm requires a submission first
	_, err = eng.Confirm(ctx, req.ID, a.ID)
	require.ErrorIs(t, err, ErrInvalidTransition)
}

func TestForceEndReopensJob(t *testing.T) {
	eng, _, sink := newTestEngine(t)
	ctx := context.Background()

	w := seedWorker(t, eng, "ash")
	req := seedRequester(t, eng, "guildmaster")
	job := seedJob(t, eng, req.ID, nil)
	a, err := eng.Claim(ctx, w.ID, job.ID)
	require.NoError(t, err)
	sink.reset()

	_, err = eng.ForceEnd(ctx, a.ID, model.WorkerAvailable)
	require.ErrorIs(t, err, ErrValidation)

	got, err := eng.ForceEnd(ctx, a.ID, model.WorkerResting)
	require.NoError(t, err)
	require.Equal(t, model.AssignmentForcedEnd, got.Status)
	requireAvailability(t, eng, w.ID, model.WorkerResting)
	require.Empty(t, sink.sent())

	open, err := eng.ListOpenJobs(ctx)
	require.NoError(t, err)
	require.Len(t, open, 1)
	require.Equal(t, job.ID, open[0].ID)

	_, err = eng.ForceEnd(ctx, a.ID, model.WorkerResting)
	require.ErrorIs(t, err, ErrInvalidTransition)
}

func TestExpireRequiresPassedDeadline(t *testing.T) {
	eng, _, sink := newTestEngine(t)
	ctx := context.Background()

	w := seedWorker(t, eng, "ash")
	req := seedRequester(t, eng, "guildmaster")

	future := time.Now().Add(time.Hour).UTC()
	job := seedJob(t, eng, req.ID, &future)
	a, err := eng.Claim(ctx, w.ID, job.ID)
	require.NoError(t, err)
	sink.reset()

	_, err = eng.Expire(ctx, a.ID, time.Now().UTC())
	require.ErrorIs(t, err, ErrInvalidState)
	requireAvailability(t, eng, w.ID, model.WorkerBusy)

	got, err := eng.Expire(ctx, a.ID, future.Add(time.Minute))
	require.NoError(t, err)
	require.Equal(t, model.AssignmentTimeout, got.Status)
	requireAvailability(t, eng, w.ID, model.WorkerAvailable)

	// worker and requester both hear about the timeout
	require.Len(t, sink.sent(), 2)

	_, err = eng.Expire(ctx, a.ID, future.Add(time.Minute))
	require.ErrorIs(t, err, ErrInvalidTransition)
}

func TestSetAvailabilityGuards(t *testing.T) {
	eng, _, _ := newTestEngine(t)
	ctx := context.Background()

	w := seedWorker(t, eng, "ash")

	_, err := eng.SetAvailability(ctx, w.ID, model.WorkerBusy)
	require.ErrorIs(t, err, ErrValidation)

	got, err := eng.SetAvailability(ctx, w.ID, model.WorkerResting)
	require.NoError(t, err)
	require.Equal(t, model.WorkerResting, got.Availability)

	_, err = eng.SetAvailability(ctx, w.ID, model.WorkerAvailable)
	require.NoError(t, err)

	req := seedRequester(t, eng, "guildmaster")
	job := seedJob(t, eng, req.ID, nil)
	_, err = eng.Claim(ctx, w.ID, job.ID)
	require.NoError(t, err)

	_, err = eng.SetAvailability(ctx, w.ID, model.WorkerResting)
	require.ErrorIs(t, err, ErrInvalidState)

	_, err = eng.SetAvailability(ctx, uuid.New(), model.WorkerResting)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestListOpenJobsExcludesClaimed(t *testing.T) {
	eng, _, _ := newTestEngine(t)
	ctx := context.Background()

	w := seedWorker(t, eng, "ash")
	req := seedRequester(t, eng, "guildmaster")
	claimed := seedJob(t, eng, req.ID, nil)
	open := seedJob(t, eng, req.ID, nil)

	_, err := eng.Claim(ctx, w.ID, claimed.ID)
	require.NoError(t, err)

	jobs, err := eng.ListOpenJobs(ctx)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	require.Equal(t, open.ID, jobs[0].ID)
}

func TestClaimFailureLeavesNoPartialState(t *testing.T) {
	eng, st, _ := newTestEngine(t)
	ctx := context.Background()

	w := seedWorker(t, eng, "ash")
	req := seedRequester(t, eng, "guildmaster")
	job := seedJob(t, eng, req.ID, nil)

	logsBefore := len(st.Logs())
	st.FailApply = func(cs *store.ChangeSet) error { return store.ErrUnavailable }

	_, err := eng.Claim(ctx, w.ID, job.ID)
	require.ErrorIs(t, err, ErrStorageUnavailable)

	st.FailApply = nil

	// nothing of the failed claim is visible
	requireAvailability(t, eng, w.ID, model.WorkerAvailable)
	_, err = eng.ActiveAssignment(ctx, w.ID)
	require.ErrorIs(t, err, ErrNotFound)
	require.Len(t, st.Logs(), logsBefore)

	open, err := eng.ListOpenJobs(ctx)
	require.NoError(t, err)
	require.Len(t, open, 1)

	// a retry after recovery succeeds
	_, err = eng.Claim(ctx, w.ID, job.ID)
	require.NoError(t, err)
}

// flakyStore injects failures into selected reads.
type flakyStore struct {
	*memory.Store
	activeErr error
	openErr   error
}

func (f *flakyStore) ActiveAssignmentForWorker(ctx context.Context, workerID uuid.UUID) (*model.Assignment, error) {
	if f.activeErr != nil {
		return nil, f.activeErr
	}
	return f.Store.ActiveAssignmentForWorker(ctx, workerID)
}

func (f *flakyStore) OpenAssignmentForJob(ctx context.Context, jobID uuid.UUID) (*model.Assignment, error) {
	if f.openErr != nil {
		return nil, f.openErr
	}
	return f.Store.OpenAssignmentForJob(ctx, jobID)
}

func TestSetAvailabilitySurfacesActiveLookupFailure(t *testing.T) {
	fs := &flakyStore{Store: memory.New()}
	eng := New(fs, nil, nil)
	ctx := context.Background()

	w := seedWorker(t, eng, "ash")
	req := seedRequester(t, eng, "guildmaster")
	job := seedJob(t, eng, req.ID, nil)
	a, err := eng.Claim(ctx, w.ID, job.ID)
	require.NoError(t, err)

	// a transient read failure must not pass for "no active assignment"
	fs.activeErr = store.ErrUnavailable
	_, err = eng.SetAvailability(ctx, w.ID, model.WorkerResting)
	require.ErrorIs(t, err, ErrStorageUnavailable)

	fs.activeErr = nil
	requireAvailability(t, eng, w.ID, model.WorkerBusy)
	got, err := eng.GetAssignment(ctx, a.ID)
	require.NoError(t, err)
	require.Equal(t, model.AssignmentOngoing, got.Status)
}

func TestClaimSurfacesOpenLookupFailure(t *testing.T) {
	fs := &flakyStore{Store: memory.New()}
	eng := New(fs, nil, nil)
	ctx := context.Background()

	w := seedWorker(t, eng, "ash")
	req := seedRequester(t, eng, "guildmaster")
	job := seedJob(t, eng, req.ID, nil)

	fs.openErr = store.ErrUnavailable
	_, err := eng.Claim(ctx, w.ID, job.ID)
	require.ErrorIs(t, err, ErrStorageUnavailable)

	fs.openErr = nil
	requireAvailability(t, eng, w.ID, model.WorkerAvailable)
	_, err = fs.Store.OpenAssignmentForJob(ctx, job.ID)
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestNotifyFailureDoesNotFailTransition(t *testing.T) {
	eng, _, sink := newTestEngine(t)
	ctx := context.Background()

	w := seedWorker(t, eng, "ash")
	req := seedRequester(t, eng, "guildmaster")
	job := seedJob(t, eng, req.ID, nil)

	sink.fail = errors.New("broker down")
	a, err := eng.Claim(ctx, w.ID, job.ID)
	require.NoError(t, err)
	require.Equal(t, model.AssignmentOngoing, a.Status)
	requireAvailability(t, eng, w.ID, model.WorkerBusy)
}

func TestFullLifecycleAuditTrail(t *testing.T) {
	eng, st, _ := newTestEngine(t)
	ctx := context.Background()

	w := seedWorker(t, eng, "ash")
	req := seedRequester(t, eng, "guildmaster")
	job := seedJob(t, eng, req.ID, nil)

	a, err := eng.Claim(ctx, w.ID, job.ID)
	require.NoError(t, err)
	_, err = eng.Submit(ctx, w.ID, a.ID, []model.Material{{Name: "result"}})
	require.NoError(t, err)
	_, err = eng.Confirm(ctx, req.ID, a.ID)
	require.NoError(t, err)

	events := make([]string, 0)
	for _, e := range st.Logs() {
		events = append(events, e.Event)
	}
	require.Equal(t, []string{
		OpRegister, OpRegister, OpPublish, OpClaim, OpSubmit, OpConfirm,
	}, events)

	final, err := eng.GetAssignment(ctx, a.ID)
	require.NoError(t, err)
	require.Equal(t, model.AssignmentConfirmed, final.Status)
	requireAvailability(t, eng, w.ID, model.WorkerAvailable)
}

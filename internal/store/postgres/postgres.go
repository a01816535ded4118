// Package postgres implements the entity store on pgx. The claim invariants
// live in two partial unique indexes over the active-status subset (see
// db/migrations); a violated index or a zero-row conditional update rolls
// the transaction back and surfaces as store.ErrConflict.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/orlandoq/guildpost/internal/db"
	"github.com/orlandoq/guildpost/internal/store"
	"github.com/orlandoq/guildpost/internal/tracer"
	"github.com/orlandoq/guildpost/internal/util"
	"github.com/orlandoq/guildpost/model"
)

const uniqueViolation = "23505"

type Store struct {
	db *db.DB
}

func New(database *db.DB) *Store {
	return &Store{db: database}
}

func mapError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return store.ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return fmt.Errorf("%w: %s", store.ErrConflict, pgErr.ConstraintName)
	}
	return fmt.Errorf("%w: %v", store.ErrUnavailable, err)
}

const workerColumns = `id, name, platform, platform_user_id, availability, created_at`

func scanWorker(row pgx.Row) (*model.Worker, error) {
	var w model.Worker
	if err := row.Scan(&w.ID, &w.Name, &w.Platform, &w.PlatformUserID, &w.Availability, &w.CreatedAt); err != nil {
		return nil, mapError(err)
	}
	return &w, nil
}

func (s *Store) GetWorker(ctx context.Context, id uuid.UUID) (*model.Worker, error) {
	ctx, span := tracer.Get().Start(ctx, "Postgres/GetWorker")
	defer span.End()

	query := `SELECT ` + workerColumns + ` FROM workers WHERE id = $1`
	w, err := scanWorker(s.db.Pool.QueryRow(ctx, query, id))
	if err != nil {
		util.RecordSpanError(span, err)
		return nil, err
	}
	return w, nil
}

func (s *Store) GetWorkerByIdentity(ctx context.Context, platform, platformUserID string) (*model.Worker, error) {
	ctx, span := tracer.Get().Start(ctx, "Postgres/GetWorkerByIdentity")
	defer span.End()

	query := `SELECT ` + workerColumns + ` FROM workers WHERE platform = $1 AND platform_user_id = $2`
	w, err := scanWorker(s.db.Pool.QueryRow(ctx, query, platform, platformUserID))
	if err != nil {
		util.RecordSpanError(span, err)
		return nil, err
	}
	return w, nil
}

const requesterColumns = `id, name, platform, platform_user_id, created_at`

func scanRequester(row pgx.Row) (*model.Requester, error) {
	var r model.Requester
	if err := row.Scan(&r.ID, &r.Name, &r.Platform, &r.PlatformUserID, &r.CreatedAt); err != nil {
		return nil, mapError(err)
	}
	return &r, nil
}

func (s *Store) GetRequester(ctx context.Context, id uuid.UUID) (*model.Requester, error) {
	ctx, span := tracer.Get().Start(ctx, "Postgres/GetRequester")
	defer span.End()

	query := `SELECT ` + requesterColumns + ` FROM requesters WHERE id = $1`
	r, err := scanRequester(s.db.Pool.QueryRow(ctx, query, id))
	if err != nil {
		util.RecordSpanError(span, err)
		return nil, err
	}
	return r, nil
}

func (s *Store) GetRequesterByIdentity(ctx context.Context, platform, platformUserID string) (*model.Requester, error) {
	ctx, span := tracer.Get().Start(ctx, "Postgres/GetRequesterByIdentity")
	defer span.End()

	query := `SELECT ` + requesterColumns + ` FROM requesters WHERE platform = $1 AND platform_user_id = $2`
	r, err := scanRequester(s.db.Pool.QueryRow(ctx, query, platform, platformUserID))
	if err != nil {
		util.RecordSpanError(span, err)
		return nil, err
	}
	return r, nil
}

const jobColumns = `id, requester_id, title, description, reward, deadline, created_at, updated_at`

func scanJob(row pgx.Row) (*model.Job, error) {
	var j model.Job
	if err := row.Scan(&j.ID, &j.RequesterID, &j.Title, &j.Description, &j.Reward, &j.Deadline, &j.CreatedAt, &j.UpdatedAt); err != nil {
		return nil, mapError(err)
	}
	return &j, nil
}

func (s *Store) GetJob(ctx context.Context, id uuid.UUID) (*model.Job, error) {
	ctx, span := tracer.Get().Start(ctx, "Postgres/GetJob")
	defer span.End()

	query := `SELECT ` + jobColumns + ` FROM jobs WHERE id = $1`
	j, err := scanJob(s.db.Pool.QueryRow(ctx, query, id))
	if err != nil {
		util.RecordSpanError(span, err)
		return nil, err
	}
	return j, nil
}

const assignmentColumns = `id, job_id, worker_id, status, assign_time, submit_time, confirm_time`

func scanAssignment(row pgx.Row) (*model.Assignment, error) {
	var a model.Assignment
	if err := row.Scan(&a.ID, &a.JobID, &a.WorkerID, &a.Status, &a.AssignTime, &a.SubmitTime, &a.ConfirmTime); err != nil {
		return nil, mapError(err)
	}
	return &a, nil
}

func (s *Store) GetAssignment(ctx context.Context, id uuid.UUID) (*model.Assignment, error) {
	ctx, span := tracer.Get().Start(ctx, "Postgres/GetAssignment")
	defer span.End()

	query := `SELECT ` + assignmentColumns + ` FROM assignments WHERE id = $1`
	a, err := scanAssignment(s.db.Pool.QueryRow(ctx, query, id))
	if err != nil {
		util.RecordSpanError(span, err)
		return nil, err
	}
	return a, nil
}

func (s *Store) ActiveAssignmentForWorker(ctx context.Context, workerID uuid.UUID) (*model.Assignment, error) {
	ctx, span := tracer.Get().Start(ctx, "Postgres/ActiveAssignmentForWorker")
	defer span.End()

	query := `
		SELECT ` + assignmentColumns + `
		FROM assignments
		WHERE worker_id = $1 AND status IN ('ONGOING', 'SUBMITTED')`
	a, err := scanAssignment(s.db.Pool.QueryRow(ctx, query, workerID))
	if err != nil {
		util.RecordSpanError(span, err)
		return nil, err
	}
	return a, nil
}

func (s *Store) OpenAssignmentForJob(ctx context.Context, jobID uuid.UUID) (*model.Assignment, error) {
	ctx, span := tracer.Get().Start(ctx, "Postgres/OpenAssignmentForJob")
	defer span.End()

	query := `
		SELECT ` + assignmentColumns + `
		FROM assignments
		WHERE job_id = $1 AND status IN ('UNANSWERED', 'ONGOING', 'SUBMITTED')`
	a, err := scanAssignment(s.db.Pool.QueryRow(ctx, query, jobID))
	if err != nil {
		util.RecordSpanError(span, err)
		return nil, err
	}
	return a, nil
}

func (s *Store) ListOpenJobs(ctx context.Context) ([]*model.Job, error) {
	ctx, span := tracer.Get().Start(ctx, "Postgres/ListOpenJobs")
	defer span.End()

	query := `
		SELECT ` + jobColumns + `
		FROM jobs j
		WHERE NOT EXISTS (
			SELECT 1 FROM assignments a
			WHERE a.job_id = j.id
			  AND a.status IN ('UNANSWERED', 'ONGOING', 'SUBMITTED')
		)
		ORDER BY j.created_at ASC`
	rows, err := s.db.Pool.Query(ctx, query)
	if err != nil {
		util.RecordSpanError(span, err)
		return nil, mapError(err)
	}
	defer rows.Close()

	var jobs []*model.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			util.RecordSpanError(span, err)
			return nil, err
		}
		jobs = append(jobs, j)
	}
	if err := rows.Err(); err != nil {
		util.RecordSpanError(span, err)
		return nil, mapError(err)
	}
	return jobs, nil
}

func (s *Store) ListWorkersByAvailability(ctx context.Context, availability model.WorkerAvailability) ([]*model.Worker, error) {
	ctx, span := tracer.Get().Start(ctx, "Postgres/ListWorkersByAvailability")
	defer span.End()

	query := `SELECT ` + workerColumns + ` FROM workers WHERE availability = $1 ORDER BY created_at ASC`
	rows, err := s.db.Pool.Query(ctx, query, availability)
	if err != nil {
		util.RecordSpanError(span, err)
		return nil, mapError(err)
	}
	defer rows.Close()

	var workers []*model.Worker
	for rows.Next() {
		w, err := scanWorker(rows)
		if err != nil {
			util.RecordSpanError(span, err)
			return nil, err
		}
		workers = append(workers, w)
	}
	if err := rows.Err(); err != nil {
		util.RecordSpanError(span, err)
		return nil, mapError(err)
	}
	return workers, nil
}

func (s *Store) ListOverdueActive(ctx context.Context, now time.Time) ([]*model.Assignment, error) {
	ctx, span := tracer.Get().Start(ctx, "Postgres/ListOverdueActive")
	defer span.End()

	query := `
		SELECT a.id, a.job_id, a.worker_id, a.status, a.assign_time, a.submit_time, a.confirm_time
		FROM assignments a
		JOIN jobs j ON j.id = a.job_id
		WHERE a.status IN ('ONGOING', 'SUBMITTED')
		  AND j.deadline IS NOT NULL
		  AND j.deadline < $1
		ORDER BY a.assign_time ASC`
	rows, err := s.db.Pool.Query(ctx, query, now)
	if err != nil {
		util.RecordSpanError(span, err)
		return nil, mapError(err)
	}
	defer rows.Close()

	var out []*model.Assignment
	for rows.Next() {
		a, err := scanAssignment(rows)
		if err != nil {
			util.RecordSpanError(span, err)
			return nil, err
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		util.RecordSpanError(span, err)
		return nil, mapError(err)
	}
	return out, nil
}

// Apply runs the whole change set in one transaction. Conditional updates
// compare-and-swap on the current value; zero affected rows means a
// concurrent writer won and the transaction rolls back with ErrConflict.
func (s *Store) Apply(ctx context.Context, cs *store.ChangeSet) error {
	ctx, span := tracer.Get().Start(ctx, "Postgres/Apply")
	defer span.End()

	tx, err := s.db.Pool.Begin(ctx)
	if err != nil {
		util.RecordSpanError(span, err)
		return mapError(err)
	}
	defer tx.Rollback(ctx)

	for _, w := range cs.InsertWorkers {
		_, err := tx.Exec(ctx, `
			INSERT INTO workers (id, name, platform, platform_user_id, availability, created_at)
			VALUES ($1, $2, $3, $4, $5, $6)`,
			w.ID, w.Name, w.Platform, w.PlatformUserID, w.Availability, w.CreatedAt)
		if err != nil {
			util.RecordSpanError(span, err)
			return mapError(err)
		}
	}

	for _, r := range cs.InsertRequesters {
		_, err := tx.Exec(ctx, `
			INSERT INTO requesters (id, name, platform, platform_user_id, created_at)
			VALUES ($1, $2, $3, $4, $5)`,
			r.ID, r.Name, r.Platform, r.PlatformUserID, r.CreatedAt)
		if err != nil {
			util.RecordSpanError(span, err)
			return mapError(err)
		}
	}

	for _, j := range cs.InsertJobs {
		_, err := tx.Exec(ctx, `
			INSERT INTO jobs (id, requester_id, title, description, reward, deadline, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			j.ID, j.RequesterID, j.Title, j.Description, j.Reward, j.Deadline, j.CreatedAt, j.UpdatedAt)
		if err != nil {
			util.RecordSpanError(span, err)
			return mapError(err)
		}
	}

	for _, a := range cs.InsertAssignments {
		_, err := tx.Exec(ctx, `
			INSERT INTO assignments (id, job_id, worker_id, status, assign_time, submit_time, confirm_time)
			VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			a.ID, a.JobID, a.WorkerID, a.Status, a.AssignTime, a.SubmitTime, a.ConfirmTime)
		if err != nil {
			util.RecordSpanError(span, err)
			return mapError(err)
		}
	}

	for _, u := range cs.UpdateAssignments {
		tag, err := tx.Exec(ctx, `
			UPDATE assignments
			SET status = $3,
			    assign_time = COALESCE($4, assign_time),
			    submit_time = COALESCE($5, submit_time),
			    confirm_time = COALESCE($6, confirm_time)
			WHERE id = $1 AND status = $2`,
			u.ID, u.From, u.To, u.AssignTime, u.SubmitTime, u.ConfirmTime)
		if err != nil {
			util.RecordSpanError(span, err)
			return mapError(err)
		}
		if tag.RowsAffected() == 0 {
			err := fmt.Errorf("%w: assignment %s left status %s", store.ErrConflict, u.ID, u.From)
			util.RecordSpanError(span, err)
			return err
		}
	}

	for _, u := range cs.UpdateWorkers {
		var tag pgconn.CommandTag
		var err error
		if u.ExpectAvailability != nil {
			tag, err = tx.Exec(ctx, `
				UPDATE workers SET availability = $3
				WHERE id = $1 AND availability = $2`,
				u.ID, *u.ExpectAvailability, u.Availability)
		} else {
			tag, err = tx.Exec(ctx, `
				UPDATE workers SET availability = $2 WHERE id = $1`,
				u.ID, u.Availability)
		}
		if err != nil {
			util.RecordSpanError(span, err)
			return mapError(err)
		}
		if tag.RowsAffected() == 0 {
			err := fmt.Errorf("%w: worker %s availability changed underneath", store.ErrConflict, u.ID)
			util.RecordSpanError(span, err)
			return err
		}
	}

	for _, m := range cs.InsertMaterials {
		_, err := tx.Exec(ctx, `
			INSERT INTO materials (id, job_id, name, file_ref, kind, upload_time)
			VALUES ($1, $2, $3, $4, $5, $6)`,
			m.ID, m.JobID, m.Name, m.FileRef, m.Kind, m.UploadTime)
		if err != nil {
			util.RecordSpanError(span, err)
			return mapError(err)
		}
	}

	for _, e := range cs.AppendLogs {
		_, err := tx.Exec(ctx, `
			INSERT INTO system_logs (id, event, detail, created_at)
			VALUES ($1, $2, $3, $4)`,
			e.ID, e.Event, e.Detail, e.CreatedAt)
		if err != nil {
			util.RecordSpanError(span, err)
			return mapError(err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		util.RecordSpanError(span, err)
		return mapError(err)
	}
	return nil
}

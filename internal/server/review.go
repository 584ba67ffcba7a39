package server

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	rtypes "github.com/harpervoss/caseplan/modules/review/domain/types"
	"github.com/harpervoss/caseplan/modules/review/services"
	"github.com/harpervoss/caseplan/pkg/httperr"
	"github.com/harpervoss/caseplan/pkg/uuidv7"
)

type schedulePatch struct {
	dueDate    *string
	leadDays   *int
	status     *rtypes.ScheduleStatus
	assignedTo *string
	notes      *string
}

type taskFilter struct {
	scheduleID string
	planID     string
}

type reviewStore interface {
	// CreateSchedule persists the schedule and, when task is non-nil, its
	// lead-window task in the same transaction.
	CreateSchedule(ctx context.Context, actorID string, s rtypes.ReviewSchedule, task *rtypes.ComplianceTask) (rtypes.ReviewSchedule, *rtypes.ComplianceTask, error)
	GetSchedule(ctx context.Context, id string) (rtypes.ReviewSchedule, bool, error)
	ListSchedulesByPlan(ctx context.Context, planID string) ([]rtypes.ReviewSchedule, error)
	ListOpenSchedules(ctx context.Context) ([]rtypes.ReviewSchedule, error)
	UpdateSchedule(ctx context.Context, actorID string, id string, patch schedulePatch) (rtypes.ReviewSchedule, error)
	// CompleteSchedule marks the schedule COMPLETE and completes its
	// OPEN/IN_PROGRESS tasks atomically.
	CompleteSchedule(ctx context.Context, actorID string, id string, completionNotes string, now time.Time) (rtypes.ReviewSchedule, error)
	DeleteSchedule(ctx context.Context, actorID string, id string) error
	ListTasks(ctx context.Context, f taskFilter) ([]rtypes.ComplianceTask, error)
	GetTask(ctx context.Context, id string) (rtypes.ComplianceTask, bool, error)
	UpdateTaskStatus(ctx context.Context, actorID string, id string, to rtypes.TaskStatus, now time.Time) (rtypes.ComplianceTask, error)
}

type reviewPGStore struct {
	pool *pgxpool.Pool
}

func newReviewPGStore(pool *pgxpool.Pool) *reviewPGStore {
	return &reviewPGStore{pool: pool}
}

func (s *reviewPGStore) withTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(context.Background()) }()
	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

const scheduleColumns = `id::text, plan_id, student_id, schedule_type, due_date::text, lead_days, status,
  assigned_to, notes, COALESCE(completed_at::text, ''), COALESCE(completed_by::text, ''),
  created_by::text, created_at::text, updated_at::text`

func scanSchedule(row pgx.Row) (rtypes.ReviewSchedule, error) {
	var s rtypes.ReviewSchedule
	var st, status string
	if err := row.Scan(&s.ID, &s.PlanID, &s.StudentID, &st, &s.DueDate, &s.LeadDays, &status,
		&s.AssignedTo, &s.Notes, &s.CompletedAt, &s.CompletedBy,
		&s.CreatedBy, &s.CreatedAt, &s.UpdatedAt); err != nil {
		return rtypes.ReviewSchedule{}, err
	}
	s.ScheduleType = rtypes.ScheduleType(st)
	s.Status = rtypes.ScheduleStatus(status)
	return s, nil
}

const taskColumns = `id::text, schedule_id::text, plan_id, student_id, task_type, status, due_date::text,
  priority, assigned_to, COALESCE(completed_at::text, ''), COALESCE(completed_by::text, ''), created_at::text`

func scanTask(row pgx.Row) (rtypes.ComplianceTask, error) {
	var t rtypes.ComplianceTask
	var status string
	if err := row.Scan(&t.ID, &t.ScheduleID, &t.PlanID, &t.StudentID, &t.TaskType, &status, &t.DueDate,
		&t.Priority, &t.AssignedTo, &t.CompletedAt, &t.CompletedBy, &t.CreatedAt); err != nil {
		return rtypes.ComplianceTask{}, err
	}
	t.Status = rtypes.TaskStatus(status)
	return t, nil
}

func insertTask(ctx context.Context, tx pgx.Tx, t rtypes.ComplianceTask) (rtypes.ComplianceTask, error) {
	id, err := uuidv7.NewString()
	if err != nil {
		return rtypes.ComplianceTask{}, err
	}
	return scanTask(tx.QueryRow(ctx, `
INSERT INTO review.tasks (id, schedule_id, plan_id, student_id, task_type, status, due_date, priority, assigned_to)
VALUES ($1, $2, $3, $4, $5, $6, $7::date, $8, $9)
RETURNING `+taskColumns+`;
`, id, t.ScheduleID, t.PlanID, t.StudentID, t.TaskType, string(t.Status), t.DueDate, t.Priority, t.AssignedTo))
}

func (s *reviewPGStore) CreateSchedule(ctx context.Context, actorID string, sched rtypes.ReviewSchedule, task *rtypes.ComplianceTask) (rtypes.ReviewSchedule, *rtypes.ComplianceTask, error) {
	var outSched rtypes.ReviewSchedule
	var outTask *rtypes.ComplianceTask
	err := s.withTx(ctx, func(tx pgx.Tx) error {
		id, err := uuidv7.NewString()
		if err != nil {
			return err
		}
		created, err := scanSchedule(tx.QueryRow(ctx, `
INSERT INTO review.schedules (id, plan_id, student_id, schedule_type, due_date, lead_days, status, assigned_to, notes, created_by)
VALUES ($1, $2, $3, $4, $5::date, $6, $7, $8, $9, $10)
RETURNING `+scheduleColumns+`;
`, id, sched.PlanID, sched.StudentID, string(sched.ScheduleType), sched.DueDate, sched.LeadDays,
			string(rtypes.ScheduleStatusOpen), sched.AssignedTo, sched.Notes, actorID))
		if err != nil {
			return err
		}
		outSched = created

		if task != nil {
			t := *task
			t.ScheduleID = created.ID
			inserted, err := insertTask(ctx, tx, t)
			if err != nil {
				return err
			}
			outTask = &inserted
		}
		return nil
	})
	if err != nil {
		return rtypes.ReviewSchedule{}, nil, err
	}
	return outSched, outTask, nil
}

func (s *reviewPGStore) GetSchedule(ctx context.Context, id string) (rtypes.ReviewSchedule, bool, error) {
	sched, err := scanSchedule(s.pool.QueryRow(ctx, `SELECT `+scheduleColumns+`
FROM review.schedules
WHERE id = $1;`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) || isPgInvalidInput(err) {
			return rtypes.ReviewSchedule{}, false, nil
		}
		return rtypes.ReviewSchedule{}, false, err
	}
	return sched, true, nil
}

func (s *reviewPGStore) ListSchedulesByPlan(ctx context.Context, planID string) ([]rtypes.ReviewSchedule, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+scheduleColumns+`
FROM review.schedules
WHERE plan_id = $1
ORDER BY due_date, id;`, planID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return collectSchedules(rows)
}

func (s *reviewPGStore) ListOpenSchedules(ctx context.Context) ([]rtypes.ReviewSchedule, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+scheduleColumns+`
FROM review.schedules
WHERE status <> 'COMPLETE'
ORDER BY due_date, id;`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return collectSchedules(rows)
}

func collectSchedules(rows pgx.Rows) ([]rtypes.ReviewSchedule, error) {
	out := make([]rtypes.ReviewSchedule, 0, 16)
	for rows.Next() {
		sched, err := scanSchedule(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sched)
	}
	return out, rows.Err()
}

func (s *reviewPGStore) UpdateSchedule(ctx context.Context, actorID string, id string, patch schedulePatch) (rtypes.ReviewSchedule, error) {
	_ = actorID
	var out rtypes.ReviewSchedule
	err := s.withTx(ctx, func(tx pgx.Tx) error {
		current, err := scanSchedule(tx.QueryRow(ctx, `SELECT `+scheduleColumns+`
FROM review.schedules
WHERE id = $1
FOR UPDATE;`, id))
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) || isPgInvalidInput(err) {
				return httperr.NewNotFound("schedule not found")
			}
			return err
		}
		if err := services.CheckMutable(current); err != nil {
			return err
		}

		if patch.dueDate != nil {
			current.DueDate = *patch.dueDate
		}
		if patch.leadDays != nil {
			current.LeadDays = *patch.leadDays
		}
		if patch.status != nil {
			current.Status = *patch.status
		}
		if patch.assignedTo != nil {
			current.AssignedTo = *patch.assignedTo
		}
		if patch.notes != nil {
			current.Notes = *patch.notes
		}

		updated, err := scanSchedule(tx.QueryRow(ctx, `
UPDATE review.schedules
SET due_date = $2::date, lead_days = $3, status = $4, assigned_to = $5, notes = $6, updated_at = now()
WHERE id = $1
RETURNING `+scheduleColumns+`;
`, id, current.DueDate, current.LeadDays, string(current.Status), current.AssignedTo, current.Notes))
		if err != nil {
			return err
		}
		out = updated
		return nil
	})
	if err != nil {
		return rtypes.ReviewSchedule{}, err
	}
	return out, nil
}

func (s *reviewPGStore) CompleteSchedule(ctx context.Context, actorID string, id string, completionNotes string, now time.Time) (rtypes.ReviewSchedule, error) {
	var out rtypes.ReviewSchedule
	err := s.withTx(ctx, func(tx pgx.Tx) error {
		current, err := scanSchedule(tx.QueryRow(ctx, `SELECT `+scheduleColumns+`
FROM review.schedules
WHERE id = $1
FOR UPDATE;`, id))
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) || isPgInvalidInput(err) {
				return httperr.NewNotFound("schedule not found")
			}
			return err
		}
		if err := services.CheckMutable(current); err != nil {
			return err
		}

		stamp := now.UTC().Format(time.RFC3339)
		notes := services.AppendNotes(current.Notes, completionNotes)
		updated, err := scanSchedule(tx.QueryRow(ctx, `
UPDATE review.schedules
SET status = 'COMPLETE', completed_at = $2, completed_by = $3, notes = $4, updated_at = now()
WHERE id = $1
RETURNING `+scheduleColumns+`;
`, id, stamp, actorID, notes))
		if err != nil {
			return err
		}

		if _, err := tx.Exec(ctx, `
UPDATE review.tasks
SET status = 'COMPLETE', completed_at = $2, completed_by = $3
WHERE schedule_id = $1 AND status <> 'COMPLETE';
`, id, stamp, actorID); err != nil {
			return err
		}
		out = updated
		return nil
	})
	if err != nil {
		return rtypes.ReviewSchedule{}, err
	}
	return out, nil
}

func (s *reviewPGStore) DeleteSchedule(ctx context.Context, actorID string, id string) error {
	_ = actorID
	return s.withTx(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM review.tasks WHERE schedule_id = $1;`, id); err != nil {
			if isPgInvalidInput(err) {
				return httperr.NewNotFound("schedule not found")
			}
			return err
		}
		tag, err := tx.Exec(ctx, `DELETE FROM review.schedules WHERE id = $1;`, id)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return httperr.NewNotFound("schedule not found")
		}
		return nil
	})
}

func (s *reviewPGStore) ListTasks(ctx context.Context, f taskFilter) ([]rtypes.ComplianceTask, error) {
	sql := `SELECT ` + taskColumns + `
FROM review.tasks
WHERE 1=1`
	args := []any{}
	if f.scheduleID != "" {
		args = append(args, f.scheduleID)
		sql += ` AND schedule_id = $1`
	}
	if f.planID != "" {
		args = append(args, f.planID)
		if len(args) == 1 {
			sql += ` AND plan_id = $1`
		} else {
			sql += ` AND plan_id = $2`
		}
	}
	sql += `
ORDER BY due_date, id;`

	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		if isPgInvalidInput(err) {
			return []rtypes.ComplianceTask{}, nil
		}
		return nil, err
	}
	defer rows.Close()

	out := make([]rtypes.ComplianceTask, 0, 16)
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *reviewPGStore) GetTask(ctx context.Context, id string) (rtypes.ComplianceTask, bool, error) {
	t, err := scanTask(s.pool.QueryRow(ctx, `SELECT `+taskColumns+`
FROM review.tasks
WHERE id = $1;`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) || isPgInvalidInput(err) {
			return rtypes.ComplianceTask{}, false, nil
		}
		return rtypes.ComplianceTask{}, false, err
	}
	return t, true, nil
}

func (s *reviewPGStore) UpdateTaskStatus(ctx context.Context, actorID string, id string, to rtypes.TaskStatus, now time.Time) (rtypes.ComplianceTask, error) {
	var out rtypes.ComplianceTask
	err := s.withTx(ctx, func(tx pgx.Tx) error {
		current, err := scanTask(tx.QueryRow(ctx, `SELECT `+taskColumns+`
FROM review.tasks
WHERE id = $1
FOR UPDATE;`, id))
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) || isPgInvalidInput(err) {
				return httperr.NewNotFound("task not found")
			}
			return err
		}
		if err := services.CheckTaskTransition(current.Status, to); err != nil {
			return err
		}

		var completedAt, completedBy any
		if to == rtypes.TaskStatusComplete {
			completedAt = now.UTC().Format(time.RFC3339)
			completedBy = actorID
		}
		updated, err := scanTask(tx.QueryRow(ctx, `
UPDATE review.tasks
SET status = $2, completed_at = $3, completed_by = $4
WHERE id = $1
RETURNING `+taskColumns+`;
`, id, string(to), completedAt, completedBy))
		if err != nil {
			return err
		}
		out = updated
		return nil
	})
	if err != nil {
		return rtypes.ComplianceTask{}, err
	}
	return out, nil
}

type reviewMemoryStore struct {
	mu        sync.Mutex
	schedules map[string]rtypes.ReviewSchedule
	tasks     map[string]rtypes.ComplianceTask
}

func newReviewMemoryStore() *reviewMemoryStore {
	return &reviewMemoryStore{
		schedules: map[string]rtypes.ReviewSchedule{},
		tasks:     map[string]rtypes.ComplianceTask{},
	}
}

func (s *reviewMemoryStore) CreateSchedule(_ context.Context, actorID string, sched rtypes.ReviewSchedule, task *rtypes.ComplianceTask) (rtypes.ReviewSchedule, *rtypes.ComplianceTask, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, err := uuidv7.NewString()
	if err != nil {
		return rtypes.ReviewSchedule{}, nil, err
	}
	now := time.Now().UTC().Format(time.RFC3339)
	sched.ID = id
	sched.Status = rtypes.ScheduleStatusOpen
	sched.CreatedBy = actorID
	sched.CreatedAt = now
	sched.UpdatedAt = now
	s.schedules[id] = sched

	var outTask *rtypes.ComplianceTask
	if task != nil {
		taskID, err := uuidv7.NewString()
		if err != nil {
			return rtypes.ReviewSchedule{}, nil, err
		}
		t := *task
		t.ID = taskID
		t.ScheduleID = id
		t.CreatedAt = now
		s.tasks[taskID] = t
		outTask = &t
	}
	return sched, outTask, nil
}

func (s *reviewMemoryStore) GetSchedule(_ context.Context, id string) (rtypes.ReviewSchedule, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sched, ok := s.schedules[id]
	return sched, ok, nil
}

func (s *reviewMemoryStore) ListSchedulesByPlan(_ context.Context, planID string) ([]rtypes.ReviewSchedule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]rtypes.ReviewSchedule, 0, 8)
	for _, sched := range s.schedules {
		if sched.PlanID == planID {
			out = append(out, sched)
		}
	}
	sortSchedules(out)
	return out, nil
}

func (s *reviewMemoryStore) ListOpenSchedules(_ context.Context) ([]rtypes.ReviewSchedule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]rtypes.ReviewSchedule, 0, 8)
	for _, sched := range s.schedules {
		if sched.Status != rtypes.ScheduleStatusComplete {
			out = append(out, sched)
		}
	}
	sortSchedules(out)
	return out, nil
}

func sortSchedules(out []rtypes.ReviewSchedule) {
	sort.Slice(out, func(i, j int) bool {
		if out[i].DueDate != out[j].DueDate {
			return out[i].DueDate < out[j].DueDate
		}
		return out[i].ID < out[j].ID
	})
}

func (s *reviewMemoryStore) UpdateSchedule(_ context.Context, _ string, id string, patch schedulePatch) (rtypes.ReviewSchedule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sched, ok := s.schedules[id]
	if !ok {
		return rtypes.ReviewSchedule{}, httperr.NewNotFound("schedule not found")
	}
	if err := services.CheckMutable(sched); err != nil {
		return rtypes.ReviewSchedule{}, err
	}

	if patch.dueDate != nil {
		sched.DueDate = *patch.dueDate
	}
	if patch.leadDays != nil {
		sched.LeadDays = *patch.leadDays
	}
	if patch.status != nil {
		sched.Status = *patch.status
	}
	if patch.assignedTo != nil {
		sched.AssignedTo = *patch.assignedTo
	}
	if patch.notes != nil {
		sched.Notes = *patch.notes
	}
	sched.UpdatedAt = time.Now().UTC().Format(time.RFC3339)
	s.schedules[id] = sched
	return sched, nil
}

func (s *reviewMemoryStore) CompleteSchedule(_ context.Context, actorID string, id string, completionNotes string, now time.Time) (rtypes.ReviewSchedule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sched, ok := s.schedules[id]
	if !ok {
		return rtypes.ReviewSchedule{}, httperr.NewNotFound("schedule not found")
	}
	if err := services.CheckMutable(sched); err != nil {
		return rtypes.ReviewSchedule{}, err
	}

	stamp := now.UTC().Format(time.RFC3339)
	sched.Status = rtypes.ScheduleStatusComplete
	sched.CompletedAt = stamp
	sched.CompletedBy = actorID
	sched.Notes = services.AppendNotes(sched.Notes, completionNotes)
	sched.UpdatedAt = stamp
	s.schedules[id] = sched

	for taskID, t := range s.tasks {
		if t.ScheduleID != id || t.Status == rtypes.TaskStatusComplete {
			continue
		}
		t.Status = rtypes.TaskStatusComplete
		t.CompletedAt = stamp
		t.CompletedBy = actorID
		s.tasks[taskID] = t
	}
	return sched, nil
}

func (s *reviewMemoryStore) DeleteSchedule(_ context.Context, _ string, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.schedules[id]; !ok {
		return httperr.NewNotFound("schedule not found")
	}
	for taskID, t := range s.tasks {
		if t.ScheduleID == id {
			delete(s.tasks, taskID)
		}
	}
	delete(s.schedules, id)
	return nil
}

func (s *reviewMemoryStore) ListTasks(_ context.Context, f taskFilter) ([]rtypes.ComplianceTask, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]rtypes.ComplianceTask, 0, 8)
	for _, t := range s.tasks {
		if f.scheduleID != "" && t.ScheduleID != f.scheduleID {
			continue
		}
		if f.planID != "" && t.PlanID != f.planID {
			continue
		}
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].DueDate != out[j].DueDate {
			return out[i].DueDate < out[j].DueDate
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *reviewMemoryStore) GetTask(_ context.Context, id string) (rtypes.ComplianceTask, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tasks[id]
	return t, ok, nil
}

func (s *reviewMemoryStore) UpdateTaskStatus(_ context.Context, actorID string, id string, to rtypes.TaskStatus, now time.Time) (rtypes.ComplianceTask, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tasks[id]
	if !ok {
		return rtypes.ComplianceTask{}, httperr.NewNotFound("task not found")
	}
	if err := services.CheckTaskTransition(t.Status, to); err != nil {
		return rtypes.ComplianceTask{}, err
	}
	t.Status = to
	if to == rtypes.TaskStatusComplete {
		t.CompletedAt = now.UTC().Format(time.RFC3339)
		t.CompletedBy = actorID
	}
	s.tasks[id] = t
	return t, nil
}

package server

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	rtypes "github.com/harpervoss/caseplan/modules/review/domain/types"
)

// failingReviewStore stands in for a transaction that rolls back: the write
// reports an error and the underlying state must stay exactly as it was.
type failingReviewStore struct {
	reviewStore
	completeErr error
	deleteErr   error
}

func (s *failingReviewStore) CompleteSchedule(ctx context.Context, actorID string, id string, completionNotes string, now time.Time) (rtypes.ReviewSchedule, error) {
	if s.completeErr != nil {
		return rtypes.ReviewSchedule{}, s.completeErr
	}
	return s.reviewStore.CompleteSchedule(ctx, actorID, id, completionNotes, now)
}

func (s *failingReviewStore) DeleteSchedule(ctx context.Context, actorID string, id string) error {
	if s.deleteErr != nil {
		return s.deleteErr
	}
	return s.reviewStore.DeleteSchedule(ctx, actorID, id)
}

func dayOffset(days int) string {
	return time.Now().UTC().AddDate(0, 0, days).Format("2006-01-02")
}

func createSchedule(t *testing.T, store reviewStore, planID, due string, leadDays int) scheduleCreateResponse {
	t.Helper()
	req := asPrincipal(jsonRequest(http.MethodPost, "/review/api/schedules", map[string]any{
		"plan_id":       planID,
		"student_id":    "student-1",
		"schedule_type": "ANNUAL_REVIEW",
		"due_date":      due,
		"lead_days":     leadDays,
		"assigned_to":   "case-manager-1",
	}), testAdmin)
	rec := httptest.NewRecorder()
	handleSchedulesAPI(rec, req, store)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create schedule: status=%d body=%s", rec.Code, rec.Body.String())
	}
	return decodeBody[scheduleCreateResponse](t, rec)
}

func TestSchedulesAPI_CreateOutsideLeadWindow(t *testing.T) {
	t.Parallel()

	store := newReviewMemoryStore()
	resp := createSchedule(t, store, "plan-1", dayOffset(120), 30)
	if resp.Schedule.ID == "" || resp.Schedule.Status != "OPEN" {
		t.Fatalf("schedule=%+v", resp.Schedule)
	}
	if resp.Task != nil {
		t.Fatalf("no task expected outside the lead window: %+v", resp.Task)
	}
}

func TestSchedulesAPI_CreateInsideLeadWindow(t *testing.T) {
	t.Parallel()

	store := newReviewMemoryStore()
	due := dayOffset(10)
	resp := createSchedule(t, store, "plan-1", due, 30)
	if resp.Task == nil {
		t.Fatal("expected a lead-window task")
	}
	if resp.Task.TaskType != "REVIEW_DUE_SOON" || resp.Task.Priority != "HIGH" || resp.Task.Status != "OPEN" {
		t.Fatalf("task=%+v", resp.Task)
	}
	if resp.Task.DueDate != due || resp.Task.ScheduleID != resp.Schedule.ID {
		t.Fatalf("task=%+v", resp.Task)
	}
	if resp.Task.AssignedTo != "case-manager-1" {
		t.Fatalf("assigned_to=%q", resp.Task.AssignedTo)
	}
}

func TestSchedulesAPI_LeadDaysDefault(t *testing.T) {
	t.Parallel()

	store := newReviewMemoryStore()
	resp := createSchedule(t, store, "plan-1", dayOffset(120), 0)
	if resp.Schedule.LeadDays != defaultLeadDays {
		t.Fatalf("lead_days=%d", resp.Schedule.LeadDays)
	}
}

func TestSchedulesAPI_CreateValidation(t *testing.T) {
	t.Parallel()

	store := newReviewMemoryStore()

	cases := []struct {
		name   string
		body   map[string]any
		status int
		code   string
	}{
		{
			name:   "missing plan_id",
			body:   map[string]any{"student_id": "s", "schedule_type": "ANNUAL_REVIEW", "due_date": dayOffset(30)},
			status: http.StatusBadRequest,
			code:   "plan_id_required",
		},
		{
			name:   "missing student_id",
			body:   map[string]any{"plan_id": "p", "schedule_type": "ANNUAL_REVIEW", "due_date": dayOffset(30)},
			status: http.StatusBadRequest,
			code:   "student_id_required",
		},
		{
			name:   "bad schedule_type",
			body:   map[string]any{"plan_id": "p", "student_id": "s", "schedule_type": "WEEKLY", "due_date": dayOffset(30)},
			status: http.StatusBadRequest,
		},
		{
			name:   "lead_days out of range",
			body:   map[string]any{"plan_id": "p", "student_id": "s", "schedule_type": "ANNUAL_REVIEW", "due_date": dayOffset(30), "lead_days": 400},
			status: http.StatusBadRequest,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := asPrincipal(jsonRequest(http.MethodPost, "/review/api/schedules", tc.body), testAdmin)
			rec := httptest.NewRecorder()
			handleSchedulesAPI(rec, req, store)
			if rec.Code != tc.status {
				t.Fatalf("status=%d body=%s", rec.Code, rec.Body.String())
			}
			if tc.code != "" {
				if got := decodeError(t, rec).Code; got != tc.code {
					t.Fatalf("code=%q want %q", got, tc.code)
				}
			}
		})
	}
}

func TestSchedulesAPI_ListByPlan(t *testing.T) {
	t.Parallel()

	store := newReviewMemoryStore()
	createSchedule(t, store, "plan-1", dayOffset(60), 30)
	createSchedule(t, store, "plan-1", dayOffset(90), 30)
	createSchedule(t, store, "plan-2", dayOffset(60), 30)

	req := httptest.NewRequest(http.MethodGet, "/review/api/schedules?plan_id=plan-1", nil)
	rec := httptest.NewRecorder()
	handleSchedulesAPI(rec, req, store)
	if rec.Code != http.StatusOK {
		t.Fatalf("status=%d", rec.Code)
	}
	list := decodeBody[scheduleListResponse](t, rec)
	if len(list.Schedules) != 2 {
		t.Fatalf("schedules=%+v", list.Schedules)
	}

	noPlan := httptest.NewRequest(http.MethodGet, "/review/api/schedules", nil)
	noPlanRec := httptest.NewRecorder()
	handleSchedulesAPI(noPlanRec, noPlan, store)
	if noPlanRec.Code != http.StatusBadRequest {
		t.Fatalf("status=%d", noPlanRec.Code)
	}
	if got := decodeError(t, noPlanRec).Code; got != "plan_id_required" {
		t.Fatalf("code=%q", got)
	}
}

func TestSchedulesUpdateAPI(t *testing.T) {
	t.Parallel()

	store := newReviewMemoryStore()
	created := createSchedule(t, store, "plan-1", dayOffset(60), 30)

	req := asPrincipal(jsonRequest(http.MethodPost, "/review/api/schedules:update", map[string]any{
		"schedule_id": created.Schedule.ID, "status": "OVERDUE", "notes": "flagged by audit",
	}), testAdmin)
	rec := httptest.NewRecorder()
	handleSchedulesUpdateAPI(rec, req, store)
	if rec.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", rec.Code, rec.Body.String())
	}
	updated := decodeBody[scheduleAPIItem](t, rec)
	if updated.Status != "OVERDUE" || updated.Notes != "flagged by audit" {
		t.Fatalf("updated=%+v", updated)
	}

	// Completion only happens through the complete endpoint.
	complete := asPrincipal(jsonRequest(http.MethodPost, "/review/api/schedules:update", map[string]any{
		"schedule_id": created.Schedule.ID, "status": "COMPLETE",
	}), testAdmin)
	completeRec := httptest.NewRecorder()
	handleSchedulesUpdateAPI(completeRec, complete, store)
	if completeRec.Code != http.StatusBadRequest {
		t.Fatalf("status=%d", completeRec.Code)
	}
	if got := decodeError(t, completeRec).Code; got != "invalid_schedule_status" {
		t.Fatalf("code=%q", got)
	}

	missing := asPrincipal(jsonRequest(http.MethodPost, "/review/api/schedules:update", map[string]any{
		"schedule_id": "nope", "notes": "x",
	}), testAdmin)
	missRec := httptest.NewRecorder()
	handleSchedulesUpdateAPI(missRec, missing, store)
	if missRec.Code != http.StatusNotFound {
		t.Fatalf("status=%d", missRec.Code)
	}
}

func TestSchedulesCompleteAPI_CascadesTasks(t *testing.T) {
	t.Parallel()

	store := newReviewMemoryStore()
	created := createSchedule(t, store, "plan-1", dayOffset(5), 30)
	if created.Task == nil {
		t.Fatal("fixture needs a lead-window task")
	}

	req := asPrincipal(jsonRequest(http.MethodPost, "/review/api/schedules:complete", map[string]any{
		"schedule_id": created.Schedule.ID, "completion_notes": "meeting held",
	}), testAdmin)
	rec := httptest.NewRecorder()
	handleSchedulesCompleteAPI(rec, req, store)
	if rec.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", rec.Code, rec.Body.String())
	}
	completed := decodeBody[scheduleAPIItem](t, rec)
	if completed.Status != "COMPLETE" || completed.CompletedBy != testAdmin.ID {
		t.Fatalf("completed=%+v", completed)
	}
	if !strings.Contains(completed.Notes, "meeting held") {
		t.Fatalf("notes=%q", completed.Notes)
	}

	tasksReq := httptest.NewRequest(http.MethodGet, "/review/api/tasks?schedule_id="+created.Schedule.ID, nil)
	tasksRec := httptest.NewRecorder()
	handleTasksAPI(tasksRec, tasksReq, store)
	tasks := decodeBody[taskListResponse](t, tasksRec)
	if len(tasks.Tasks) != 1 || tasks.Tasks[0].Status != "COMPLETE" {
		t.Fatalf("tasks=%+v", tasks.Tasks)
	}

	again := asPrincipal(jsonRequest(http.MethodPost, "/review/api/schedules:complete", map[string]any{
		"schedule_id": created.Schedule.ID,
	}), testAdmin)
	againRec := httptest.NewRecorder()
	handleSchedulesCompleteAPI(againRec, again, store)
	if againRec.Code != http.StatusConflict {
		t.Fatalf("status=%d", againRec.Code)
	}
	if got := decodeError(t, againRec).Code; got != "SCHEDULE_ALREADY_COMPLETE" {
		t.Fatalf("code=%q", got)
	}

	// A completed schedule is frozen for plain updates too.
	update := asPrincipal(jsonRequest(http.MethodPost, "/review/api/schedules:update", map[string]any{
		"schedule_id": created.Schedule.ID, "notes": "late edit",
	}), testAdmin)
	updateRec := httptest.NewRecorder()
	handleSchedulesUpdateAPI(updateRec, update, store)
	if updateRec.Code != http.StatusConflict {
		t.Fatalf("status=%d", updateRec.Code)
	}
}

func TestSchedulesCompleteAPI_FailedWriteLeavesScheduleAndTasksOpen(t *testing.T) {
	t.Parallel()

	mem := newReviewMemoryStore()
	created := createSchedule(t, mem, "plan-1", dayOffset(5), 30)
	if created.Task == nil {
		t.Fatal("fixture needs a lead-window task")
	}
	store := &failingReviewStore{
		reviewStore: mem,
		completeErr: errors.New("review: task completion aborted"),
	}

	req := asPrincipal(jsonRequest(http.MethodPost, "/review/api/schedules:complete", map[string]any{
		"schedule_id": created.Schedule.ID, "completion_notes": "meeting held",
	}), testAdmin)
	rec := httptest.NewRecorder()
	handleSchedulesCompleteAPI(rec, req, store)
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status=%d body=%s", rec.Code, rec.Body.String())
	}

	sched, ok, err := mem.GetSchedule(context.Background(), created.Schedule.ID)
	if err != nil || !ok {
		t.Fatalf("get schedule: ok=%v err=%v", ok, err)
	}
	if sched.Status != rtypes.ScheduleStatusOpen || sched.CompletedAt != "" || sched.CompletedBy != "" {
		t.Fatalf("schedule changed by failed complete: %+v", sched)
	}
	if strings.Contains(sched.Notes, "meeting held") {
		t.Fatalf("notes changed by failed complete: %q", sched.Notes)
	}
	task, ok, err := mem.GetTask(context.Background(), created.Task.ID)
	if err != nil || !ok {
		t.Fatalf("get task: ok=%v err=%v", ok, err)
	}
	if task.Status != rtypes.TaskStatusOpen || task.CompletedAt != "" {
		t.Fatalf("task changed by failed complete: %+v", task)
	}

	// The same request succeeds once the write goes through.
	store.completeErr = nil
	retry := asPrincipal(jsonRequest(http.MethodPost, "/review/api/schedules:complete", map[string]any{
		"schedule_id": created.Schedule.ID, "completion_notes": "meeting held",
	}), testAdmin)
	retryRec := httptest.NewRecorder()
	handleSchedulesCompleteAPI(retryRec, retry, store)
	if retryRec.Code != http.StatusOK {
		t.Fatalf("retry: status=%d body=%s", retryRec.Code, retryRec.Body.String())
	}
}

func TestSchedulesDeleteAPI_FailedWriteLeavesScheduleAndTasks(t *testing.T) {
	t.Parallel()

	mem := newReviewMemoryStore()
	created := createSchedule(t, mem, "plan-1", dayOffset(5), 30)
	if created.Task == nil {
		t.Fatal("fixture needs a lead-window task")
	}
	store := &failingReviewStore{
		reviewStore: mem,
		deleteErr:   errors.New("review: schedule delete aborted"),
	}

	req := asPrincipal(jsonRequest(http.MethodPost, "/review/api/schedules:delete", map[string]any{
		"schedule_id": created.Schedule.ID,
	}), testAdmin)
	rec := httptest.NewRecorder()
	handleSchedulesDeleteAPI(rec, req, store)
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status=%d body=%s", rec.Code, rec.Body.String())
	}

	if _, ok, _ := mem.GetSchedule(context.Background(), created.Schedule.ID); !ok {
		t.Fatal("schedule gone after failed delete")
	}
	if _, ok, _ := mem.GetTask(context.Background(), created.Task.ID); !ok {
		t.Fatal("task gone after failed delete")
	}
}

func TestSchedulesDeleteAPI_CascadesTasks(t *testing.T) {
	t.Parallel()

	store := newReviewMemoryStore()
	created := createSchedule(t, store, "plan-1", dayOffset(5), 30)
	if created.Task == nil {
		t.Fatal("fixture needs a lead-window task")
	}

	req := asPrincipal(jsonRequest(http.MethodPost, "/review/api/schedules:delete", map[string]any{
		"schedule_id": created.Schedule.ID,
	}), testAdmin)
	rec := httptest.NewRecorder()
	handleSchedulesDeleteAPI(rec, req, store)
	if rec.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", rec.Code, rec.Body.String())
	}

	tasksReq := httptest.NewRequest(http.MethodGet, "/review/api/tasks?schedule_id="+created.Schedule.ID, nil)
	tasksRec := httptest.NewRecorder()
	handleTasksAPI(tasksRec, tasksReq, store)
	tasks := decodeBody[taskListResponse](t, tasksRec)
	if len(tasks.Tasks) != 0 {
		t.Fatalf("tasks survived delete: %+v", tasks.Tasks)
	}

	again := asPrincipal(jsonRequest(http.MethodPost, "/review/api/schedules:delete", map[string]any{
		"schedule_id": created.Schedule.ID,
	}), testAdmin)
	againRec := httptest.NewRecorder()
	handleSchedulesDeleteAPI(againRec, again, store)
	if againRec.Code != http.StatusNotFound {
		t.Fatalf("status=%d", againRec.Code)
	}
}

func TestDashboardAPI_Partition(t *testing.T) {
	t.Parallel()

	store := newReviewMemoryStore()
	overdue := createSchedule(t, store, "plan-1", dayOffset(-5), 30)
	upcoming := createSchedule(t, store, "plan-1", dayOffset(10), 30)
	createSchedule(t, store, "plan-1", dayOffset(200), 30) // beyond the window
	done := createSchedule(t, store, "plan-1", dayOffset(3), 30)

	doneReq := asPrincipal(jsonRequest(http.MethodPost, "/review/api/schedules:complete", map[string]any{
		"schedule_id": done.Schedule.ID,
	}), testAdmin)
	doneRec := httptest.NewRecorder()
	handleSchedulesCompleteAPI(doneRec, doneReq, store)
	if doneRec.Code != http.StatusOK {
		t.Fatalf("complete: status=%d", doneRec.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/review/api/dashboard", nil)
	rec := httptest.NewRecorder()
	handleDashboardAPI(rec, req, store)
	if rec.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", rec.Code, rec.Body.String())
	}
	resp := decodeBody[dashboardResponse](t, rec)
	if resp.WithinDays != 30 {
		t.Fatalf("within_days=%d", resp.WithinDays)
	}
	if len(resp.Overdue) != 1 || resp.Overdue[0].ID != overdue.Schedule.ID {
		t.Fatalf("overdue=%+v", resp.Overdue)
	}
	if len(resp.Upcoming) != 1 || resp.Upcoming[0].ID != upcoming.Schedule.ID {
		t.Fatalf("upcoming=%+v", resp.Upcoming)
	}

	badDays := httptest.NewRequest(http.MethodGet, "/review/api/dashboard?days=9000", nil)
	badRec := httptest.NewRecorder()
	handleDashboardAPI(badRec, badDays, store)
	if badRec.Code != http.StatusBadRequest {
		t.Fatalf("status=%d", badRec.Code)
	}
	if got := decodeError(t, badRec).Code; got != "invalid_days" {
		t.Fatalf("code=%q", got)
	}
}

func TestTasksAPI_FilterRequired(t *testing.T) {
	t.Parallel()

	store := newReviewMemoryStore()
	req := httptest.NewRequest(http.MethodGet, "/review/api/tasks", nil)
	rec := httptest.NewRecorder()
	handleTasksAPI(rec, req, store)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status=%d", rec.Code)
	}
	if got := decodeError(t, rec).Code; got != "task_filter_required" {
		t.Fatalf("code=%q", got)
	}
}

func TestTasksStatusAPI_Transitions(t *testing.T) {
	t.Parallel()

	store := newReviewMemoryStore()
	created := createSchedule(t, store, "plan-1", dayOffset(5), 30)
	if created.Task == nil {
		t.Fatal("fixture needs a lead-window task")
	}
	taskID := created.Task.ID

	setStatus := func(status string) *httptest.ResponseRecorder {
		req := asPrincipal(jsonRequest(http.MethodPost, "/review/api/tasks:status", map[string]any{
			"task_id": taskID, "status": status,
		}), testAdmin)
		rec := httptest.NewRecorder()
		handleTasksStatusAPI(rec, req, store)
		return rec
	}

	if rec := setStatus("IN_PROGRESS"); rec.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", rec.Code, rec.Body.String())
	}

	if rec := setStatus("IN_PROGRESS"); rec.Code != http.StatusConflict {
		t.Fatalf("status=%d", rec.Code)
	} else if got := decodeError(t, rec).Code; got != "TASK_STATUS_UNCHANGED" {
		t.Fatalf("code=%q", got)
	}

	if rec := setStatus("OPEN"); rec.Code != http.StatusConflict {
		t.Fatalf("status=%d", rec.Code)
	} else if got := decodeError(t, rec).Code; got != "TASK_STATUS_TRANSITION_INVALID" {
		t.Fatalf("code=%q", got)
	}

	rec := setStatus("COMPLETE")
	if rec.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", rec.Code, rec.Body.String())
	}
	completed := decodeBody[taskAPIItem](t, rec)
	if completed.CompletedBy != testAdmin.ID || completed.CompletedAt == "" {
		t.Fatalf("completed=%+v", completed)
	}

	if rec := setStatus("IN_PROGRESS"); rec.Code != http.StatusConflict {
		t.Fatalf("status=%d", rec.Code)
	} else if got := decodeError(t, rec).Code; got != "TASK_ALREADY_COMPLETE" {
		t.Fatalf("code=%q", got)
	}

	if rec := setStatus("BLOCKED"); rec.Code != http.StatusBadRequest {
		t.Fatalf("status=%d", rec.Code)
	}
}

package server

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/harpervoss/caseplan/internal/routing"
	rtypes "github.com/harpervoss/caseplan/modules/review/domain/types"
	"github.com/harpervoss/caseplan/modules/review/services"
)

const defaultLeadDays = 30

type scheduleAPIItem struct {
	ID           string `json:"id"`
	PlanID       string `json:"plan_id"`
	StudentID    string `json:"student_id"`
	ScheduleType string `json:"schedule_type"`
	DueDate      string `json:"due_date"`
	LeadDays     int    `json:"lead_days"`
	Status       string `json:"status"`
	AssignedTo   string `json:"assigned_to,omitempty"`
	Notes        string `json:"notes,omitempty"`
	CompletedAt  string `json:"completed_at,omitempty"`
	CompletedBy  string `json:"completed_by,omitempty"`
	CreatedBy    string `json:"created_by"`
	CreatedAt    string `json:"created_at"`
	UpdatedAt    string `json:"updated_at"`
}

func scheduleAPIItemFrom(s rtypes.ReviewSchedule) scheduleAPIItem {
	return scheduleAPIItem{
		ID:           s.ID,
		PlanID:       s.PlanID,
		StudentID:    s.StudentID,
		ScheduleType: string(s.ScheduleType),
		DueDate:      s.DueDate,
		LeadDays:     s.LeadDays,
		Status:       string(s.Status),
		AssignedTo:   s.AssignedTo,
		Notes:        s.Notes,
		CompletedAt:  s.CompletedAt,
		CompletedBy:  s.CompletedBy,
		CreatedBy:    s.CreatedBy,
		CreatedAt:    s.CreatedAt,
		UpdatedAt:    s.UpdatedAt,
	}
}

type taskAPIItem struct {
	ID          string `json:"id"`
	ScheduleID  string `json:"schedule_id"`
	PlanID      string `json:"plan_id"`
	StudentID   string `json:"student_id"`
	TaskType    string `json:"task_type"`
	Status      string `json:"status"`
	DueDate     string `json:"due_date"`
	Priority    string `json:"priority"`
	AssignedTo  string `json:"assigned_to,omitempty"`
	CompletedAt string `json:"completed_at,omitempty"`
	CompletedBy string `json:"completed_by,omitempty"`
	CreatedAt   string `json:"created_at"`
}

func taskAPIItemFrom(t rtypes.ComplianceTask) taskAPIItem {
	return taskAPIItem{
		ID:          t.ID,
		ScheduleID:  t.ScheduleID,
		PlanID:      t.PlanID,
		StudentID:   t.StudentID,
		TaskType:    t.TaskType,
		Status:      string(t.Status),
		DueDate:     t.DueDate,
		Priority:    t.Priority,
		AssignedTo:  t.AssignedTo,
		CompletedAt: t.CompletedAt,
		CompletedBy: t.CompletedBy,
		CreatedAt:   t.CreatedAt,
	}
}

type scheduleListResponse struct {
	PlanID    string            `json:"plan_id"`
	Schedules []scheduleAPIItem `json:"schedules"`
}

type scheduleCreatePayload struct {
	PlanID       string `json:"plan_id"`
	StudentID    string `json:"student_id"`
	ScheduleType string `json:"schedule_type"`
	DueDate      string `json:"due_date"`
	LeadDays     int    `json:"lead_days"`
	AssignedTo   string `json:"assigned_to"`
	Notes        string `json:"notes"`
}

type scheduleCreateResponse struct {
	Schedule scheduleAPIItem `json:"schedule"`
	Task     *taskAPIItem    `json:"task,omitempty"`
}

type scheduleUpdatePayload struct {
	ScheduleID string  `json:"schedule_id"`
	DueDate    *string `json:"due_date"`
	LeadDays   *int    `json:"lead_days"`
	Status     *string `json:"status"`
	AssignedTo *string `json:"assigned_to"`
	Notes      *string `json:"notes"`
}

type scheduleCompletePayload struct {
	ScheduleID      string `json:"schedule_id"`
	CompletionNotes string `json:"completion_notes"`
}

type scheduleDeletePayload struct {
	ScheduleID string `json:"schedule_id"`
}

type dashboardResponse struct {
	AsOf       string            `json:"as_of"`
	WithinDays int               `json:"within_days"`
	Overdue    []scheduleAPIItem `json:"overdue"`
	Upcoming   []scheduleAPIItem `json:"upcoming"`
}

type taskListResponse struct {
	Tasks []taskAPIItem `json:"tasks"`
}

type taskStatusPayload struct {
	TaskID string `json:"task_id"`
	Status string `json:"status"`
}

func handleSchedulesAPI(w http.ResponseWriter, r *http.Request, store reviewStore) {
	switch r.Method {
	case http.MethodGet:
		handleSchedulesListAPI(w, r, store)
	case http.MethodPost:
		handleSchedulesCreateAPI(w, r, store)
	default:
		writeMethodNotAllowed(w, r)
	}
}

func handleSchedulesListAPI(w http.ResponseWriter, r *http.Request, store reviewStore) {
	planID := strings.TrimSpace(r.URL.Query().Get("plan_id"))
	if planID == "" {
		routing.WriteError(w, r, routing.RouteClassInternalAPI, http.StatusBadRequest, "plan_id_required", "plan_id required")
		return
	}

	schedules, err := store.ListSchedulesByPlan(r.Context(), planID)
	if err != nil {
		writeAPIError(w, r, err, "schedule_list_failed")
		return
	}
	items := make([]scheduleAPIItem, 0, len(schedules))
	for _, s := range schedules {
		items = append(items, scheduleAPIItemFrom(s))
	}
	writeJSON(w, http.StatusOK, scheduleListResponse{PlanID: planID, Schedules: items})
}

func handleSchedulesCreateAPI(w http.ResponseWriter, r *http.Request, store reviewStore) {
	principal, ok := currentPrincipal(r.Context())
	if !ok {
		writePrincipalMissing(w, r)
		return
	}

	var req scheduleCreatePayload
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		routing.WriteError(w, r, routing.RouteClassInternalAPI, http.StatusBadRequest, "bad_json", "bad json")
		return
	}

	planID := strings.TrimSpace(req.PlanID)
	studentID := strings.TrimSpace(req.StudentID)
	if planID == "" {
		routing.WriteError(w, r, routing.RouteClassInternalAPI, http.StatusBadRequest, "plan_id_required", "plan_id required")
		return
	}
	if studentID == "" {
		routing.WriteError(w, r, routing.RouteClassInternalAPI, http.StatusBadRequest, "student_id_required", "student_id required")
		return
	}
	scheduleType, err := rtypes.ParseScheduleType(req.ScheduleType)
	if err != nil {
		writeAPIError(w, r, err, "schedule_create_failed")
		return
	}
	dueDate, err := requireDate("due_date", req.DueDate)
	if err != nil {
		writeAPIError(w, r, err, "schedule_create_failed")
		return
	}
	leadDays := req.LeadDays
	if leadDays == 0 {
		leadDays = defaultLeadDays
	}
	if err := services.ValidateLeadDays(leadDays); err != nil {
		writeAPIError(w, r, err, "schedule_create_failed")
		return
	}

	schedule := rtypes.ReviewSchedule{
		PlanID:       planID,
		StudentID:    studentID,
		ScheduleType: scheduleType,
		DueDate:      dueDate,
		LeadDays:     leadDays,
		AssignedTo:   strings.TrimSpace(req.AssignedTo),
		Notes:        strings.TrimSpace(req.Notes),
	}
	var task *rtypes.ComplianceTask
	if t, inWindow := services.LeadWindowTask(schedule, time.Now()); inWindow {
		task = &t
	}

	createdSchedule, createdTask, err := store.CreateSchedule(r.Context(), principal.ID, schedule, task)
	if err != nil {
		writeAPIError(w, r, err, "schedule_create_failed")
		return
	}

	resp := scheduleCreateResponse{Schedule: scheduleAPIItemFrom(createdSchedule)}
	if createdTask != nil {
		item := taskAPIItemFrom(*createdTask)
		resp.Task = &item
	}
	writeJSON(w, http.StatusCreated, resp)
}

func handleSchedulesUpdateAPI(w http.ResponseWriter, r *http.Request, store reviewStore) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w, r)
		return
	}
	principal, ok := currentPrincipal(r.Context())
	if !ok {
		writePrincipalMissing(w, r)
		return
	}

	var req scheduleUpdatePayload
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		routing.WriteError(w, r, routing.RouteClassInternalAPI, http.StatusBadRequest, "bad_json", "bad json")
		return
	}
	scheduleID := strings.TrimSpace(req.ScheduleID)
	if scheduleID == "" {
		routing.WriteError(w, r, routing.RouteClassInternalAPI, http.StatusBadRequest, "schedule_id_required", "schedule_id required")
		return
	}

	var patch schedulePatch
	if req.DueDate != nil {
		due, err := requireDate("due_date", *req.DueDate)
		if err != nil {
			writeAPIError(w, r, err, "schedule_update_failed")
			return
		}
		patch.dueDate = &due
	}
	if req.LeadDays != nil {
		if err := services.ValidateLeadDays(*req.LeadDays); err != nil {
			writeAPIError(w, r, err, "schedule_update_failed")
			return
		}
		patch.leadDays = req.LeadDays
	}
	if req.Status != nil {
		// Completion has its own endpoint; updates only move between the
		// open states.
		switch rtypes.ScheduleStatus(strings.ToUpper(strings.TrimSpace(*req.Status))) {
		case rtypes.ScheduleStatusOpen:
			status := rtypes.ScheduleStatusOpen
			patch.status = &status
		case rtypes.ScheduleStatusOverdue:
			status := rtypes.ScheduleStatusOverdue
			patch.status = &status
		default:
			routing.WriteError(w, r, routing.RouteClassInternalAPI, http.StatusBadRequest, "invalid_schedule_status", "status must be OPEN or OVERDUE")
			return
		}
	}
	if req.AssignedTo != nil {
		assignedTo := strings.TrimSpace(*req.AssignedTo)
		patch.assignedTo = &assignedTo
	}
	if req.Notes != nil {
		notes := strings.TrimSpace(*req.Notes)
		patch.notes = &notes
	}

	updated, err := store.UpdateSchedule(r.Context(), principal.ID, scheduleID, patch)
	if err != nil {
		writeAPIError(w, r, err, "schedule_update_failed")
		return
	}
	writeJSON(w, http.StatusOK, scheduleAPIItemFrom(updated))
}

func handleSchedulesCompleteAPI(w http.ResponseWriter, r *http.Request, store reviewStore) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w, r)
		return
	}
	principal, ok := currentPrincipal(r.Context())
	if !ok {
		writePrincipalMissing(w, r)
		return
	}

	var req scheduleCompletePayload
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		routing.WriteError(w, r, routing.RouteClassInternalAPI, http.StatusBadRequest, "bad_json", "bad json")
		return
	}
	scheduleID := strings.TrimSpace(req.ScheduleID)
	if scheduleID == "" {
		routing.WriteError(w, r, routing.RouteClassInternalAPI, http.StatusBadRequest, "schedule_id_required", "schedule_id required")
		return
	}

	completed, err := store.CompleteSchedule(r.Context(), principal.ID, scheduleID, strings.TrimSpace(req.CompletionNotes), time.Now())
	if err != nil {
		writeAPIError(w, r, err, "schedule_complete_failed")
		return
	}
	writeJSON(w, http.StatusOK, scheduleAPIItemFrom(completed))
}

func handleSchedulesDeleteAPI(w http.ResponseWriter, r *http.Request, store reviewStore) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w, r)
		return
	}
	principal, ok := currentPrincipal(r.Context())
	if !ok {
		writePrincipalMissing(w, r)
		return
	}

	var req scheduleDeletePayload
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		routing.WriteError(w, r, routing.RouteClassInternalAPI, http.StatusBadRequest, "bad_json", "bad json")
		return
	}
	scheduleID := strings.TrimSpace(req.ScheduleID)
	if scheduleID == "" {
		routing.WriteError(w, r, routing.RouteClassInternalAPI, http.StatusBadRequest, "schedule_id_required", "schedule_id required")
		return
	}

	if err := store.DeleteSchedule(r.Context(), principal.ID, scheduleID); err != nil {
		writeAPIError(w, r, err, "schedule_delete_failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"deleted": true, "schedule_id": scheduleID})
}

func handleDashboardAPI(w http.ResponseWriter, r *http.Request, store reviewStore) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w, r)
		return
	}

	withinDays := 30
	if raw := strings.TrimSpace(r.URL.Query().Get("days")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > 365 {
			routing.WriteError(w, r, routing.RouteClassInternalAPI, http.StatusBadRequest, "invalid_days", "days must be 1..365")
			return
		}
		withinDays = n
	}

	schedules, err := store.ListOpenSchedules(r.Context())
	if err != nil {
		writeAPIError(w, r, err, "dashboard_failed")
		return
	}

	now := time.Now()
	summary := services.PartitionDue(schedules, now, withinDays)
	resp := dashboardResponse{
		AsOf:       now.UTC().Format(asOfLayout),
		WithinDays: withinDays,
		Overdue:    make([]scheduleAPIItem, 0, len(summary.Overdue)),
		Upcoming:   make([]scheduleAPIItem, 0, len(summary.Upcoming)),
	}
	for _, s := range summary.Overdue {
		resp.Overdue = append(resp.Overdue, scheduleAPIItemFrom(s))
	}
	for _, s := range summary.Upcoming {
		resp.Upcoming = append(resp.Upcoming, scheduleAPIItemFrom(s))
	}
	writeJSON(w, http.StatusOK, resp)
}

func handleTasksAPI(w http.ResponseWriter, r *http.Request, store reviewStore) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w, r)
		return
	}

	f := taskFilter{
		scheduleID: strings.TrimSpace(r.URL.Query().Get("schedule_id")),
		planID:     strings.TrimSpace(r.URL.Query().Get("plan_id")),
	}
	if f.scheduleID == "" && f.planID == "" {
		routing.WriteError(w, r, routing.RouteClassInternalAPI, http.StatusBadRequest, "task_filter_required", "schedule_id or plan_id required")
		return
	}

	tasks, err := store.ListTasks(r.Context(), f)
	if err != nil {
		writeAPIError(w, r, err, "task_list_failed")
		return
	}
	items := make([]taskAPIItem, 0, len(tasks))
	for _, t := range tasks {
		items = append(items, taskAPIItemFrom(t))
	}
	writeJSON(w, http.StatusOK, taskListResponse{Tasks: items})
}

func handleTasksStatusAPI(w http.ResponseWriter, r *http.Request, store reviewStore) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w, r)
		return
	}
	principal, ok := currentPrincipal(r.Context())
	if !ok {
		writePrincipalMissing(w, r)
		return
	}

	var req taskStatusPayload
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		routing.WriteError(w, r, routing.RouteClassInternalAPI, http.StatusBadRequest, "bad_json", "bad json")
		return
	}
	taskID := strings.TrimSpace(req.TaskID)
	if taskID == "" {
		routing.WriteError(w, r, routing.RouteClassInternalAPI, http.StatusBadRequest, "task_id_required", "task_id required")
		return
	}
	to, err := rtypes.ParseTaskStatus(req.Status)
	if err != nil {
		writeAPIError(w, r, err, "task_status_failed")
		return
	}

	updated, err := store.UpdateTaskStatus(r.Context(), principal.ID, taskID, to, time.Now())
	if err != nil {
		writeAPIError(w, r, err, "task_status_failed")
		return
	}
	writeJSON(w, http.StatusOK, taskAPIItemFrom(updated))
}

package services

import (
	"time"

	"github.com/harpervoss/caseplan/modules/review/domain/types"
	"github.com/harpervoss/caseplan/pkg/httperr"
)

const dateLayout = "2006-01-02"

// LeadWindowTask decides, at schedule-creation time, whether the schedule is
// already inside its lead window (dueDate - leadDays <= now). If so it
// describes the single REVIEW_DUE_SOON task to create alongside the schedule.
// It is not re-evaluated later; there is no sweep.
func LeadWindowTask(s types.ReviewSchedule, now time.Time) (types.ComplianceTask, bool) {
	due, err := time.Parse(dateLayout, s.DueDate)
	if err != nil {
		return types.ComplianceTask{}, false
	}
	leadDate := due.AddDate(0, 0, -s.LeadDays)
	today := now.UTC().Truncate(24 * time.Hour)
	if leadDate.After(today) {
		return types.ComplianceTask{}, false
	}
	return types.ComplianceTask{
		ScheduleID: s.ID,
		PlanID:     s.PlanID,
		StudentID:  s.StudentID,
		TaskType:   types.TaskTypeReviewDueSoon,
		Status:     types.TaskStatusOpen,
		DueDate:    s.DueDate,
		Priority:   types.TaskPriorityHigh,
		AssignedTo: s.AssignedTo,
	}, true
}

// ValidateLeadDays bounds the lead window to 1..365 days.
func ValidateLeadDays(leadDays int) error {
	if leadDays < 1 || leadDays > 365 {
		return httperr.NewBadRequest("lead_days must be 1..365")
	}
	return nil
}

// CheckMutable rejects updates to a terminal schedule. Completion is
// one-way; a COMPLETE schedule is never re-opened or edited.
func CheckMutable(s types.ReviewSchedule) error {
	if s.Status == types.ScheduleStatusComplete {
		return httperr.NewConflict("SCHEDULE_ALREADY_COMPLETE")
	}
	return nil
}

// CheckTaskTransition enforces OPEN -> IN_PROGRESS -> COMPLETE with no
// backward moves and no reopening.
func CheckTaskTransition(from, to types.TaskStatus) error {
	if from == to {
		return httperr.NewConflict("TASK_STATUS_UNCHANGED")
	}
	switch from {
	case types.TaskStatusOpen:
		if to == types.TaskStatusInProgress || to == types.TaskStatusComplete {
			return nil
		}
	case types.TaskStatusInProgress:
		if to == types.TaskStatusComplete {
			return nil
		}
	case types.TaskStatusComplete:
		return httperr.NewConflict("TASK_ALREADY_COMPLETE")
	}
	return httperr.NewConflict("TASK_STATUS_TRANSITION_INVALID")
}

// AppendNotes joins completion notes onto existing notes without losing
// either.
func AppendNotes(existing, extra string) string {
	if extra == "" {
		return existing
	}
	if existing == "" {
		return extra
	}
	return existing + "\n" + extra
}

type DueSummary struct {
	Overdue  []types.ReviewSchedule
	Upcoming []types.ReviewSchedule
}

// PartitionDue splits OPEN/OVERDUE schedules due within withinDays of now
// into overdue and upcoming. A stored OVERDUE status counts as overdue even
// if the due date has not passed; an OPEN schedule whose due date has passed
// is overdue regardless of stored status.
func PartitionDue(schedules []types.ReviewSchedule, now time.Time, withinDays int) DueSummary {
	today := now.UTC().Truncate(24 * time.Hour)
	cutoff := today.AddDate(0, 0, withinDays)

	var out DueSummary
	for _, s := range schedules {
		if s.Status == types.ScheduleStatusComplete {
			continue
		}
		due, err := time.Parse(dateLayout, s.DueDate)
		if err != nil {
			continue
		}
		if due.After(cutoff) {
			continue
		}
		if due.Before(today) || s.Status == types.ScheduleStatusOverdue {
			out.Overdue = append(out.Overdue, s)
			continue
		}
		out.Upcoming = append(out.Upcoming, s)
	}
	return out
}

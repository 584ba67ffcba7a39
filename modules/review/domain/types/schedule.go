package types

import (
	"strings"

	"github.com/harpervoss/caseplan/pkg/httperr"
)

type ScheduleType string

const (
	ScheduleTypeAnnualReview    ScheduleType = "ANNUAL_REVIEW"
	ScheduleTypeReevaluation    ScheduleType = "REEVALUATION"
	ScheduleTypeAmendmentReview ScheduleType = "AMENDMENT_REVIEW"
)

func ParseScheduleType(raw string) (ScheduleType, error) {
	switch ScheduleType(strings.ToUpper(strings.TrimSpace(raw))) {
	case ScheduleTypeAnnualReview:
		return ScheduleTypeAnnualReview, nil
	case ScheduleTypeReevaluation:
		return ScheduleTypeReevaluation, nil
	case ScheduleTypeAmendmentReview:
		return ScheduleTypeAmendmentReview, nil
	default:
		return "", httperr.NewBadRequest("invalid schedule_type (expected ANNUAL_REVIEW|REEVALUATION|AMENDMENT_REVIEW)")
	}
}

type ScheduleStatus string

const (
	ScheduleStatusOpen     ScheduleStatus = "OPEN"
	ScheduleStatusOverdue  ScheduleStatus = "OVERDUE"
	ScheduleStatusComplete ScheduleStatus = "COMPLETE"
)

type TaskStatus string

const (
	TaskStatusOpen       TaskStatus = "OPEN"
	TaskStatusInProgress TaskStatus = "IN_PROGRESS"
	TaskStatusComplete   TaskStatus = "COMPLETE"
)

func ParseTaskStatus(raw string) (TaskStatus, error) {
	switch TaskStatus(strings.ToUpper(strings.TrimSpace(raw))) {
	case TaskStatusOpen:
		return TaskStatusOpen, nil
	case TaskStatusInProgress:
		return TaskStatusInProgress, nil
	case TaskStatusComplete:
		return TaskStatusComplete, nil
	default:
		return "", httperr.NewBadRequest("invalid status (expected OPEN|IN_PROGRESS|COMPLETE)")
	}
}

const (
	TaskTypeReviewDueSoon = "REVIEW_DUE_SOON"
	TaskPriorityHigh      = "HIGH"
)

// ReviewSchedule tracks one compliance due-date for a plan instance. Dates are
// YYYY-MM-DD strings; completion stamps are RFC 3339.
type ReviewSchedule struct {
	ID           string
	PlanID       string
	StudentID    string
	ScheduleType ScheduleType
	DueDate      string
	LeadDays     int
	Status       ScheduleStatus
	AssignedTo   string
	Notes        string
	CompletedAt  string
	CompletedBy  string
	CreatedBy    string
	CreatedAt    string
	UpdatedAt    string
}

type ComplianceTask struct {
	ID          string
	ScheduleID  string
	PlanID      string
	StudentID   string
	TaskType    string
	Status      TaskStatus
	DueDate     string
	Priority    string
	AssignedTo  string
	CompletedAt string
	CompletedBy string
	CreatedAt   string
}

package request

import (
	"time"

	"github.com/google/uuid"
)

const (
	DecisionPending  = "PENDING"
	DecisionApproved = "APPROVED"
	DecisionRejected = "REJECTED"
)

// LeaveRequest is an employee's ask to consume days from an allocation.
// Decision is a three-variant tag, never a nullable bool: PENDING means
// undecided, and APPROVED/REJECTED are terminal. Cancelled is orthogonal
// and owned by the requesting employee.
type LeaveRequest struct {
	ID          uuid.UUID `gorm:"type:uuid;primaryKey;default:gen_random_uuid()"`
	EmployeeID  uuid.UUID `gorm:"type:uuid;not null;index:idx_leave_requests_employee"`
	LeaveTypeID uuid.UUID `gorm:"type:uuid;not null"`

	StartDate time.Time `gorm:"type:date;not null"`
	EndDate   time.Time `gorm:"type:date;not null"`
	Reason    string    `gorm:"type:text"`

	Decision  string `gorm:"type:varchar(20);not null;default:'PENDING';index:idx_leave_requests_decision"`
	Cancelled bool   `gorm:"not null;default:false"`

	ApprovedBy      *uuid.UUID `gorm:"type:uuid"`
	RejectionReason *string    `gorm:"type:text"`

	DateRequested time.Time  `gorm:"not null"`
	DateActioned  *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

func (LeaveRequest) TableName() string {
	return "leave_requests"
}

// DaysRequested is the whole-day difference end minus start. A same-day
// request counts as zero days.
func (r *LeaveRequest) DaysRequested() int {
	return int(r.EndDate.Sub(r.StartDate).Hours() / 24)
}

package allocation

import (
	"time"

	"github.com/google/uuid"
)

// Allocation holds the remaining leave days for one (employee, leave type)
// pair. That row is the unit of contention for concurrent approvals: every
// balance change goes through the conditional debit/credit in the repository,
// never through a plain save.
type Allocation struct {
	ID          uuid.UUID `gorm:"type:uuid;primaryKey;default:gen_random_uuid()"`
	EmployeeID  uuid.UUID `gorm:"type:uuid;not null;uniqueIndex:uq_allocation_employee_type"`
	LeaveTypeID uuid.UUID `gorm:"type:uuid;not null;uniqueIndex:uq_allocation_employee_type"`

	NumberOfDays int `gorm:"type:int;not null;default:0;check:chk_allocation_days,number_of_days >= 0"`

	CreatedAt time.Time
	UpdatedAt time.Time
}

func (Allocation) TableName() string {
	return "leave_allocations"
}

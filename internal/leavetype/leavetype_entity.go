package leavetype

import (
	"time"

	"github.com/google/uuid"
)

type LeaveType struct {
	ID   uuid.UUID `gorm:"type:uuid;primaryKey;default:gen_random_uuid()"`
	Name string    `gorm:"type:varchar(100);not null;uniqueIndex"`

	// DefaultDays is the allowance seeded into a new allocation row.
	DefaultDays int `gorm:"type:int;not null;default:0"`

	CreatedAt time.Time
	UpdatedAt time.Time
}

func (LeaveType) TableName() string {
	return "leave_types"
}

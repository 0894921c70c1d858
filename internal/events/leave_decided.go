package events

import "time"

const LeaveDecisionTopic = "hr.leave.decision.v1"

const (
	LeaveApprovedEventType  = "leave.approved"
	LeaveRejectedEventType  = "leave.rejected"
	LeaveCancelledEventType = "leave.cancelled"
)

// LeaveDecidedEvent is emitted whenever a request leaves the PENDING state
// (or is cancelled). Downstream consumers: payroll, notifications.
type LeaveDecidedEvent struct {
	EventType   string    `json:"event_type"`
	RequestID   string    `json:"request_id"`
	EmployeeID  string    `json:"employee_id"`
	LeaveTypeID string    `json:"leave_type_id"`
	Decision    string    `json:"decision"`
	Days        int       `json:"days"`
	ActionedBy  string    `json:"actioned_by"`
	OccurredAt  time.Time `json:"occurred_at"`
}

package allocation

type AllocationResponse struct {
	ID           string `json:"id"`
	EmployeeID   string `json:"employee_id"`
	LeaveTypeID  string `json:"leave_type_id"`
	NumberOfDays int    `json:"number_of_days"`
}

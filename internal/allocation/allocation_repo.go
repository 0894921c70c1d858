package allocation

import (
	"context"
	"database/sql"

	allocationerrors "go-leave/internal/allocation/errors"

	"gorm.io/gorm"
)

//go:generate mockgen -source=allocation_repo.go -destination=mock/allocation_repo_mock.go -package=mock
type Repository interface {
	WithTx(tx *sql.Tx) Repository
	FindByEmployeeAndType(ctx context.Context, employeeID, leaveTypeID string) (*Allocation, error)
	FindAllByEmployee(ctx context.Context, employeeID string) ([]Allocation, error)
	// EnsureExists seeds the allocation row with defaultDays when it does not
	// exist yet and returns the current balance either way.
	EnsureExists(ctx context.Context, employeeID, leaveTypeID string, defaultDays int) (int, error)
	// Debit atomically subtracts days from the balance. The balance check and
	// the write happen in one conditional UPDATE so concurrent debits against
	// the same row serialize on the row lock and can never lose an update.
	Debit(ctx context.Context, employeeID, leaveTypeID string, days int) (int, error)
	// Credit atomically adds days back. Used only for cancel compensation.
	Credit(ctx context.Context, employeeID, leaveTypeID string, days int) (int, error)
}

type repository struct {
	db    *gorm.DB
	sqlDB *sql.DB
	tx    *sql.Tx
}

func NewRepository(db *gorm.DB, sqlDB *sql.DB) Repository {
	return &repository{db: db, sqlDB: sqlDB}
}

func (r *repository) WithTx(tx *sql.Tx) Repository {
	return &repository{db: r.db, sqlDB: r.sqlDB, tx: tx}
}

func (r *repository) FindByEmployeeAndType(ctx context.Context, employeeID, leaveTypeID string) (*Allocation, error) {
	var a Allocation
	err := r.db.WithContext(ctx).
		Where("employee_id = ?", employeeID).
		Where("leave_type_id = ?", leaveTypeID).
		First(&a).Error
	return &a, err
}

func (r *repository) FindAllByEmployee(ctx context.Context, employeeID string) ([]Allocation, error) {
	var allocations []Allocation
	err := r.db.WithContext(ctx).
		Where("employee_id = ?", employeeID).
		Order("leave_type_id ASC").
		Find(&allocations).Error
	return allocations, err
}

func (r *repository) EnsureExists(ctx context.Context, employeeID, leaveTypeID string, defaultDays int) (int, error) {
	query := `
INSERT INTO leave_allocations (id, employee_id, leave_type_id, number_of_days, created_at, updated_at)
VALUES (gen_random_uuid(), $1, $2, $3, NOW(), NOW())
ON CONFLICT (employee_id, leave_type_id) DO UPDATE
SET updated_at = leave_allocations.updated_at
RETURNING number_of_days
`
	var balance int
	err := r.querier().QueryRowContext(ctx, query, employeeID, leaveTypeID, defaultDays).Scan(&balance)
	if err != nil {
		return 0, err
	}

	return balance, nil
}

func (r *repository) Debit(ctx context.Context, employeeID, leaveTypeID string, days int) (int, error) {
	if days < 0 {
		return 0, allocationerrors.ErrInvalidDays
	}

	query := `
UPDATE leave_allocations
SET number_of_days = number_of_days - $3, updated_at = NOW()
WHERE employee_id = $1
	AND leave_type_id = $2
	AND number_of_days >= $3
RETURNING number_of_days
`
	var newBalance int
	err := r.querier().QueryRowContext(ctx, query, employeeID, leaveTypeID, days).Scan(&newBalance)
	if err == nil {
		return newBalance, nil
	}
	if err != sql.ErrNoRows {
		return 0, err
	}

	// No row matched: missing allocation or balance too low.
	exists, err := r.rowExists(ctx, employeeID, leaveTypeID)
	if err != nil {
		return 0, err
	}
	if !exists {
		return 0, allocationerrors.ErrAllocationNotFound
	}
	return 0, allocationerrors.ErrInsufficientBalance
}

func (r *repository) Credit(ctx context.Context, employeeID, leaveTypeID string, days int) (int, error) {
	if days < 0 {
		return 0, allocationerrors.ErrInvalidDays
	}

	query := `
UPDATE leave_allocations
SET number_of_days = number_of_days + $3, updated_at = NOW()
WHERE employee_id = $1
	AND leave_type_id = $2
RETURNING number_of_days
`
	var newBalance int
	err := r.querier().QueryRowContext(ctx, query, employeeID, leaveTypeID, days).Scan(&newBalance)
	if err == sql.ErrNoRows {
		return 0, allocationerrors.ErrAllocationNotFound
	}
	if err != nil {
		return 0, err
	}

	return newBalance, nil
}

func (r *repository) rowExists(ctx context.Context, employeeID, leaveTypeID string) (bool, error) {
	query := `
SELECT EXISTS (
	SELECT 1 FROM leave_allocations
	WHERE employee_id = $1 AND leave_type_id = $2
)
`
	var exists bool
	err := r.querier().QueryRowContext(ctx, query, employeeID, leaveTypeID).Scan(&exists)
	return exists, err
}

func (r *repository) querier() interface {
	QueryRowContext(context.Context, string, ...any) *sql.Row
} {
	if r.tx != nil {
		return r.tx
	}
	return r.sqlDB
}

package request

import (
	"context"
	"database/sql"
	"time"

	"gorm.io/gorm"
)

type DecisionCounts struct {
	Total    int64
	Approved int64
	Pending  int64
	Rejected int64
}

//go:generate mockgen -source=request_repo.go -destination=mock/request_repo_mock.go -package=mock
type Repository interface {
	WithTx(tx *sql.Tx) Repository
	Create(ctx context.Context, r *LeaveRequest) error
	FindByID(ctx context.Context, id string) (*LeaveRequest, error)
	FindAllByEmployee(ctx context.Context, employeeID string) ([]LeaveRequest, error)
	FindAll(ctx context.Context) ([]LeaveRequest, error)
	// ClaimDecision moves the request out of PENDING with one conditional
	// UPDATE. It reports false when the request was already actioned or
	// cancelled, which makes repeated approvals observable without a
	// read-then-write race.
	ClaimDecision(ctx context.Context, id, decision, actorID string, rejectionReason *string, actionedAt time.Time) (bool, error)
	// SetCancelled flips the cancelled flag, but only while the row still
	// holds the decision the caller based its policy check on. Reports false
	// when the flag was already set or the decision moved underneath the
	// caller, who must then re-read and decide again.
	SetCancelled(ctx context.Context, id, observedDecision string) (bool, error)
	CountByDecision(ctx context.Context) (DecisionCounts, error)
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

func (r *repository) Create(ctx context.Context, req *LeaveRequest) error {
	return r.db.WithContext(ctx).Create(req).Error
}

func (r *repository) FindByID(ctx context.Context, id string) (*LeaveRequest, error) {
	var req LeaveRequest
	err := r.db.WithContext(ctx).First(&req, "id = ?", id).Error
	return &req, err
}

func (r *repository) FindAllByEmployee(ctx context.Context, employeeID string) ([]LeaveRequest, error) {
	var requests []LeaveRequest
	err := r.db.WithContext(ctx).
		Where("employee_id = ?", employeeID).
		Order("date_requested DESC").
		Find(&requests).Error
	return requests, err
}

func (r *repository) FindAll(ctx context.Context) ([]LeaveRequest, error) {
	var requests []LeaveRequest
	err := r.db.WithContext(ctx).
		Order("date_requested DESC").
		Find(&requests).Error
	return requests, err
}

func (r *repository) ClaimDecision(ctx context.Context, id, decision, actorID string, rejectionReason *string, actionedAt time.Time) (bool, error) {
	query := `
UPDATE leave_requests
SET
	decision = $2,
	approved_by = $3,
	rejection_reason = $4,
	date_actioned = $5,
	updated_at = NOW()
WHERE id = $1
	AND decision = 'PENDING'
	AND cancelled = FALSE
`
	res, err := r.execer().ExecContext(ctx, query, id, decision, actorID, rejectionReason, actionedAt)
	if err != nil {
		return false, err
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected == 1, nil
}

func (r *repository) SetCancelled(ctx context.Context, id, observedDecision string) (bool, error) {
	query := `
UPDATE leave_requests
SET cancelled = TRUE, updated_at = NOW()
WHERE id = $1 AND cancelled = FALSE AND decision = $2
`
	res, err := r.execer().ExecContext(ctx, query, id, observedDecision)
	if err != nil {
		return false, err
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected == 1, nil
}

func (r *repository) CountByDecision(ctx context.Context) (DecisionCounts, error) {
	query := `
SELECT
	COUNT(*),
	COUNT(*) FILTER (WHERE decision = 'APPROVED'),
	COUNT(*) FILTER (WHERE decision = 'PENDING'),
	COUNT(*) FILTER (WHERE decision = 'REJECTED')
FROM leave_requests
`
	var counts DecisionCounts
	err := r.querier().QueryRowContext(ctx, query).Scan(
		&counts.Total,
		&counts.Approved,
		&counts.Pending,
		&counts.Rejected,
	)
	return counts, err
}

func (r *repository) execer() interface {
	ExecContext(context.Context, string, ...any) (sql.Result, error)
} {
	if r.tx != nil {
		return r.tx
	}
	return r.sqlDB
}

func (r *repository) querier() interface {
	QueryRowContext(context.Context, string, ...any) *sql.Row
} {
	if r.tx != nil {
		return r.tx
	}
	return r.sqlDB
}

package allocation

import (
	"context"
	"errors"

	allocationerrors "go-leave/internal/allocation/errors"
	"go-leave/internal/leavetype"
	leavetypeerrors "go-leave/internal/leavetype/errors"
	"go-leave/internal/shared/contextutil"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

//go:generate mockgen -source=allocation_service.go -destination=mock/allocation_service_mock.go -package=mock
type Service interface {
	GetBalance(ctx context.Context, employeeID, leaveTypeID string) (AllocationResponse, error)
	ListForEmployee(ctx context.Context, employeeID string) ([]AllocationResponse, error)
	// EnsureForEmployee seeds the allocation from the leave-type default
	// allowance when the employee has no row yet.
	EnsureForEmployee(ctx context.Context, employeeID, leaveTypeID string) (AllocationResponse, error)
}

type service struct {
	repo       Repository
	leaveTypes leavetype.Repository
	logger     *zap.Logger
}

func NewService(repo Repository, leaveTypes leavetype.Repository, logger ...*zap.Logger) Service {
	l := zap.L().Named("allocation.service")
	if len(logger) > 0 && logger[0] != nil {
		l = logger[0].Named("allocation.service")
	}
	return &service{repo: repo, leaveTypes: leaveTypes, logger: l}
}

func (s *service) GetBalance(ctx context.Context, employeeID, leaveTypeID string) (AllocationResponse, error) {
	if _, err := uuid.Parse(employeeID); err != nil {
		return AllocationResponse{}, allocationerrors.ErrInvalidEmployeeID
	}
	if _, err := uuid.Parse(leaveTypeID); err != nil {
		return AllocationResponse{}, allocationerrors.ErrInvalidLeaveTypeID
	}

	a, err := s.repo.FindByEmployeeAndType(ctx, employeeID, leaveTypeID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return AllocationResponse{}, allocationerrors.ErrAllocationNotFound
		}
		return AllocationResponse{}, err
	}

	return mapToResponse(*a), nil
}

func (s *service) ListForEmployee(ctx context.Context, employeeID string) ([]AllocationResponse, error) {
	if _, err := uuid.Parse(employeeID); err != nil {
		return nil, allocationerrors.ErrInvalidEmployeeID
	}

	allocations, err := s.repo.FindAllByEmployee(ctx, employeeID)
	if err != nil {
		return nil, err
	}

	resp := make([]AllocationResponse, len(allocations))
	for i, a := range allocations {
		resp[i] = mapToResponse(a)
	}
	return resp, nil
}

func (s *service) EnsureForEmployee(ctx context.Context, employeeID, leaveTypeID string) (AllocationResponse, error) {
	if _, err := uuid.Parse(employeeID); err != nil {
		return AllocationResponse{}, allocationerrors.ErrInvalidEmployeeID
	}
	if _, err := uuid.Parse(leaveTypeID); err != nil {
		return AllocationResponse{}, allocationerrors.ErrInvalidLeaveTypeID
	}

	lt, err := s.leaveTypes.FindByID(ctx, leaveTypeID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return AllocationResponse{}, leavetypeerrors.ErrLeaveTypeNotFound
		}
		return AllocationResponse{}, err
	}

	log := contextutil.GetLogger(ctx, s.logger)
	balance, err := s.repo.EnsureExists(ctx, employeeID, leaveTypeID, lt.DefaultDays)
	if err != nil {
		log.Error("ensure allocation failed",
			zap.String("employee_id", employeeID),
			zap.String("leave_type_id", leaveTypeID),
			zap.Error(err),
		)
		return AllocationResponse{}, err
	}

	log.Debug("allocation ensured",
		zap.String("employee_id", employeeID),
		zap.String("leave_type_id", leaveTypeID),
		zap.Int("balance", balance),
	)

	return AllocationResponse{
		EmployeeID:   employeeID,
		LeaveTypeID:  leaveTypeID,
		NumberOfDays: balance,
	}, nil
}

func mapToResponse(a Allocation) AllocationResponse {
	return AllocationResponse{
		ID:           a.ID.String(),
		EmployeeID:   a.EmployeeID.String(),
		LeaveTypeID:  a.LeaveTypeID.String(),
		NumberOfDays: a.NumberOfDays,
	}
}

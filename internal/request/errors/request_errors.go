package requesterrors

import (
	"net/http"

	"go-leave/internal/shared/apperror"
)

var (
	ErrInvalidActorID = apperror.New(
		apperror.CodeInvalidInput,
		"invalid actor id",
		http.StatusBadRequest,
	)
	ErrInvalidLeaveTypeID = apperror.New(
		apperror.CodeInvalidInput,
		"invalid leave type id",
		http.StatusBadRequest,
	)
	ErrInvalidDateFormat = apperror.New(
		apperror.CodeInvalidInput,
		"invalid date format, expected YYYY-MM-DD",
		http.StatusBadRequest,
	)
	ErrInvalidDateRange = apperror.New(
		apperror.CodeInvalidInput,
		"end_date must not be before start_date",
		http.StatusBadRequest,
	)
	ErrRequestNotFound = apperror.New(
		apperror.CodeNotFound,
		"leave request not found",
		http.StatusNotFound,
	)
	ErrAlreadyActioned = apperror.New(
		apperror.CodeInvalidState,
		"leave request has already been approved or rejected",
		http.StatusConflict,
	)
	ErrRequestCancelled = apperror.New(
		apperror.CodeInvalidState,
		"leave request has been cancelled",
		http.StatusConflict,
	)
	ErrNotRequestOwner = apperror.New(
		apperror.CodeForbidden,
		"only the requesting employee may cancel this request",
		http.StatusForbidden,
	)
	ErrCancelApprovedForbidden = apperror.New(
		apperror.CodeInvalidState,
		"approved requests cannot be cancelled",
		http.StatusConflict,
	)
	ErrRejectionReasonRequired = apperror.New(
		apperror.CodeInvalidInput,
		"reason is required when rejecting a request",
		http.StatusBadRequest,
	)
	ErrPersistenceFailure = apperror.New(
		apperror.CodeServiceUnavailable,
		"storage is temporarily unavailable, please retry",
		http.StatusServiceUnavailable,
	)
)

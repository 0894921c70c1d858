package request

import (
	"time"

	allocationerrors "go-leave/internal/allocation/errors"
	requesterrors "go-leave/internal/request/errors"
)

// The validation gate is pure: it never touches storage. Callers must pass a
// freshly read balance, both at creation and again at approval time, because
// the balance can change in between.

// ValidateRange checks the date order and returns the whole-day difference.
func ValidateRange(startDate, endDate time.Time) (int, error) {
	if endDate.Before(startDate) {
		return 0, requesterrors.ErrInvalidDateRange
	}
	return int(endDate.Sub(startDate).Hours() / 24), nil
}

// ValidateBalance checks the requested days against the given balance.
func ValidateBalance(balance, daysRequested int) error {
	if daysRequested > balance {
		return allocationerrors.ErrInsufficientBalance
	}
	return nil
}

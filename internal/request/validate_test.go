package request_test

import (
	"testing"
	"time"

	allocationerrors "go-leave/internal/allocation/errors"
	"go-leave/internal/request"
	requesterrors "go-leave/internal/request/errors"

	"github.com/stretchr/testify/assert"
)

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestValidateRange(t *testing.T) {
	t.Run("whole day difference", func(t *testing.T) {
		days, err := request.ValidateRange(date(2026, 3, 1), date(2026, 3, 5))
		assert.NoError(t, err)
		assert.Equal(t, 4, days)
	})

	t.Run("same day counts as zero", func(t *testing.T) {
		days, err := request.ValidateRange(date(2026, 3, 1), date(2026, 3, 1))
		assert.NoError(t, err)
		assert.Equal(t, 0, days)
	})

	t.Run("negative end before start", func(t *testing.T) {
		_, err := request.ValidateRange(date(2026, 3, 5), date(2026, 3, 1))
		assert.ErrorIs(t, err, requesterrors.ErrInvalidDateRange)
	})
}

func TestValidateBalance(t *testing.T) {
	t.Run("within balance", func(t *testing.T) {
		assert.NoError(t, request.ValidateBalance(10, 10))
		assert.NoError(t, request.ValidateBalance(10, 0))
	})

	t.Run("negative exceeds balance", func(t *testing.T) {
		err := request.ValidateBalance(10, 11)
		assert.ErrorIs(t, err, allocationerrors.ErrInsufficientBalance)
	})
}

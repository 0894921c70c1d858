package allocation_test

import (
	"context"
	"database/sql"
	"testing"

	"go-leave/internal/allocation"
	allocationerrors "go-leave/internal/allocation/errors"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func setupRepoTest(t *testing.T) (allocation.Repository, sqlmock.Sqlmock, *sql.DB) {
	t.Helper()

	db, mock, err := sqlmock.New()
	assert.NoError(t, err)

	return allocation.NewRepository(nil, db), mock, db
}

func TestAllocationRepository_Debit(t *testing.T) {
	ctx := context.Background()
	employeeID := uuid.New().String()
	leaveTypeID := uuid.New().String()

	t.Run("success returns new balance", func(t *testing.T) {
		repo, mock, db := setupRepoTest(t)
		defer db.Close()

		mock.ExpectQuery("UPDATE leave_allocations").
			WithArgs(employeeID, leaveTypeID, 5).
			WillReturnRows(sqlmock.NewRows([]string{"number_of_days"}).AddRow(7))

		balance, err := repo.Debit(ctx, employeeID, leaveTypeID, 5)

		assert.NoError(t, err)
		assert.Equal(t, 7, balance)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("success zero days is a no-op debit", func(t *testing.T) {
		repo, mock, db := setupRepoTest(t)
		defer db.Close()

		mock.ExpectQuery("UPDATE leave_allocations").
			WithArgs(employeeID, leaveTypeID, 0).
			WillReturnRows(sqlmock.NewRows([]string{"number_of_days"}).AddRow(12))

		balance, err := repo.Debit(ctx, employeeID, leaveTypeID, 0)

		assert.NoError(t, err)
		assert.Equal(t, 12, balance)
	})

	t.Run("negative insufficient balance", func(t *testing.T) {
		repo, mock, db := setupRepoTest(t)
		defer db.Close()

		mock.ExpectQuery("UPDATE leave_allocations").
			WithArgs(employeeID, leaveTypeID, 30).
			WillReturnError(sql.ErrNoRows)
		mock.ExpectQuery("SELECT EXISTS").
			WithArgs(employeeID, leaveTypeID).
			WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))

		_, err := repo.Debit(ctx, employeeID, leaveTypeID, 30)

		assert.ErrorIs(t, err, allocationerrors.ErrInsufficientBalance)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("negative allocation missing", func(t *testing.T) {
		repo, mock, db := setupRepoTest(t)
		defer db.Close()

		mock.ExpectQuery("UPDATE leave_allocations").
			WithArgs(employeeID, leaveTypeID, 3).
			WillReturnError(sql.ErrNoRows)
		mock.ExpectQuery("SELECT EXISTS").
			WithArgs(employeeID, leaveTypeID).
			WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))

		_, err := repo.Debit(ctx, employeeID, leaveTypeID, 3)

		assert.ErrorIs(t, err, allocationerrors.ErrAllocationNotFound)
	})

	t.Run("negative days rejected before touching the db", func(t *testing.T) {
		repo, mock, db := setupRepoTest(t)
		defer db.Close()

		_, err := repo.Debit(ctx, employeeID, leaveTypeID, -1)

		assert.ErrorIs(t, err, allocationerrors.ErrInvalidDays)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestAllocationRepository_Credit(t *testing.T) {
	ctx := context.Background()
	employeeID := uuid.New().String()
	leaveTypeID := uuid.New().String()

	t.Run("success", func(t *testing.T) {
		repo, mock, db := setupRepoTest(t)
		defer db.Close()

		mock.ExpectQuery("UPDATE leave_allocations").
			WithArgs(employeeID, leaveTypeID, 5).
			WillReturnRows(sqlmock.NewRows([]string{"number_of_days"}).AddRow(15))

		balance, err := repo.Credit(ctx, employeeID, leaveTypeID, 5)

		assert.NoError(t, err)
		assert.Equal(t, 15, balance)
	})

	t.Run("negative allocation missing", func(t *testing.T) {
		repo, mock, db := setupRepoTest(t)
		defer db.Close()

		mock.ExpectQuery("UPDATE leave_allocations").
			WithArgs(employeeID, leaveTypeID, 5).
			WillReturnError(sql.ErrNoRows)

		_, err := repo.Credit(ctx, employeeID, leaveTypeID, 5)

		assert.ErrorIs(t, err, allocationerrors.ErrAllocationNotFound)
	})
}

func TestAllocationRepository_EnsureExists(t *testing.T) {
	ctx := context.Background()
	employeeID := uuid.New().String()
	leaveTypeID := uuid.New().String()

	t.Run("success returns current balance", func(t *testing.T) {
		repo, mock, db := setupRepoTest(t)
		defer db.Close()

		mock.ExpectQuery("INSERT INTO leave_allocations").
			WithArgs(employeeID, leaveTypeID, 20).
			WillReturnRows(sqlmock.NewRows([]string{"number_of_days"}).AddRow(20))

		balance, err := repo.EnsureExists(ctx, employeeID, leaveTypeID, 20)

		assert.NoError(t, err)
		assert.Equal(t, 20, balance)
	})
}

func TestAllocationRepository_WithTx(t *testing.T) {
	ctx := context.Background()
	employeeID := uuid.New().String()
	leaveTypeID := uuid.New().String()

	repo, mock, db := setupRepoTest(t)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectQuery("UPDATE leave_allocations").
		WithArgs(employeeID, leaveTypeID, 4).
		WillReturnRows(sqlmock.NewRows([]string{"number_of_days"}).AddRow(6))
	mock.ExpectCommit()

	tx, err := db.BeginTx(ctx, nil)
	assert.NoError(t, err)

	balance, err := repo.WithTx(tx).Debit(ctx, employeeID, leaveTypeID, 4)
	assert.NoError(t, err)
	assert.Equal(t, 6, balance)

	assert.NoError(t, tx.Commit())
	assert.NoError(t, mock.ExpectationsWereMet())
}

package lending_test

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mohammed-shamil-th/library-lending-go/lending"
)

func Test_BuildLoan_SetsDueDateFromTerm(t *testing.T) {
	// arrange
	loanID := uuid.New()
	bookID := uuid.New()
	userID := uuid.New()
	borrowedAt := time.Date(2025, 6, 1, 9, 30, 0, 0, time.UTC)

	// act
	loan := lending.BuildLoan(loanID, bookID, userID, borrowedAt, 7*24*time.Hour)

	// assert
	assert.Equal(t, loanID, loan.ID)
	assert.Equal(t, bookID, loan.BookID)
	assert.Equal(t, userID, loan.UserID)
	assert.Equal(t, lending.StatusBorrowed, loan.Status)
	assert.Equal(t, borrowedAt.Add(7*24*time.Hour), loan.DueDate)
	assert.True(t, loan.ReturnDate.IsZero())
	assert.Equal(t, int64(0), loan.Fine)
}

func Test_BuildLoan_FallsBackToDefaultTerm_WhenTermNotPositive(t *testing.T) {
	// arrange
	borrowedAt := time.Date(2025, 6, 1, 9, 30, 0, 0, time.UTC)

	// act
	loan := lending.BuildLoan(uuid.New(), uuid.New(), uuid.New(), borrowedAt, 0)

	// assert
	assert.Equal(t, borrowedAt.Add(lending.DefaultLoanTerm), loan.DueDate)
}

func Test_BuildLoan_TruncatesTimestamps(t *testing.T) {
	// arrange - sub-microsecond precision is not retained by storage
	borrowedAt := time.Date(2025, 6, 1, 9, 30, 0, 123456789, time.UTC)

	// act
	loan := lending.BuildLoan(uuid.New(), uuid.New(), uuid.New(), borrowedAt, 0)

	// assert
	assert.Equal(t, lending.ToTimestamp(borrowedAt), loan.BorrowDate)
	assert.Equal(t, time.UTC, loan.BorrowDate.Location())
}

func Test_Loan_IsActive(t *testing.T) {
	// arrange
	loan := lending.BuildLoan(uuid.New(), uuid.New(), uuid.New(), time.Now(), 0)

	// act + assert
	assert.True(t, loan.IsActive())
	assert.True(t, loan.WithOverdue(3).IsActive())
	assert.False(t, loan.WithReturn(time.Now(), 0).IsActive())
}

func Test_Loan_WithReturn_FinalizesTheLoan(t *testing.T) {
	// arrange
	borrowedAt := time.Date(2025, 6, 1, 9, 30, 0, 0, time.UTC)
	loan := lending.BuildLoan(uuid.New(), uuid.New(), uuid.New(), borrowedAt, 0)
	returnedAt := borrowedAt.Add(20 * 24 * time.Hour)

	// act
	returned := loan.WithReturn(returnedAt, 6)

	// assert
	assert.Equal(t, lending.StatusReturned, returned.Status)
	assert.Equal(t, lending.ToTimestamp(returnedAt), returned.ReturnDate)
	assert.Equal(t, int64(6), returned.Fine)

	// assert - the original value is untouched
	assert.Equal(t, lending.StatusBorrowed, loan.Status)
}

func Test_Loan_WithOverdue_TransitionsAndKeepsDates(t *testing.T) {
	// arrange
	borrowedAt := time.Date(2025, 6, 1, 9, 30, 0, 0, time.UTC)
	loan := lending.BuildLoan(uuid.New(), uuid.New(), uuid.New(), borrowedAt, 0)

	// act
	overdue := loan.WithOverdue(2)

	// assert
	assert.Equal(t, lending.StatusOverdue, overdue.Status)
	assert.Equal(t, int64(2), overdue.Fine)
	assert.Equal(t, loan.DueDate, overdue.DueDate)
	assert.True(t, overdue.ReturnDate.IsZero())
}

func Test_BuildBook_AllCopiesStartAvailable(t *testing.T) {
	// arrange
	bookID := uuid.New()

	// act
	book, err := lending.BuildBook(bookID, "The Dispossessed", "Ursula K. Le Guin", "978-0061054884", 5)

	// assert
	require.NoError(t, err)
	assert.Equal(t, bookID, book.ID)
	assert.Equal(t, 5, book.TotalCopies)
	assert.Equal(t, 5, book.AvailableCopies)
}

func Test_BuildBook_Fails_WithNegativeCopyCount(t *testing.T) {
	// act
	_, err := lending.BuildBook(uuid.New(), "Title", "Author", "isbn", -1)

	// assert
	assert.ErrorIs(t, err, lending.ErrNegativeCopyCount)
}

func Test_Book_Availability(t *testing.T) {
	testCases := []struct {
		name      string
		available int
		expected  lending.AvailabilityStatus
	}{
		{"no copies", 0, lending.AvailabilityOutOfStock},
		{"one copy", 1, lending.AvailabilityLowStock},
		{"two copies", 2, lending.AvailabilityLowStock},
		{"three copies", 3, lending.AvailabilityAvailable},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			// arrange
			book := lending.Book{TotalCopies: 10, AvailableCopies: tc.available}

			// act + assert
			assert.Equal(t, tc.expected, book.Availability())
		})
	}
}

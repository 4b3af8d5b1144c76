package lending

import (
	"time"

	"github.com/google/uuid"
)

// LoanStatus is the lifecycle state of a loan.
//
// Transitions: Borrowed -> Overdue (time-driven), Borrowed -> Returned,
// Overdue -> Returned. No transition leaves Returned.
type LoanStatus string

const (
	// StatusBorrowed is the initial state of every loan.
	StatusBorrowed LoanStatus = "borrowed"

	// StatusOverdue means the due date has passed and the loan is not returned.
	StatusOverdue LoanStatus = "overdue"

	// StatusReturned is terminal; the reserved copy has been released.
	StatusReturned LoanStatus = "returned"
)

// Loan records one unit of reservation against a book's available copies,
// held by one user.
//
// Invariants: ReturnDate is set iff Status is Returned; Fine > 0 implies
// Status is Overdue or Returned; at most one loan per (user, book) pair is
// active at a time.
//
// While its properties are exported, it should only be constructed with BuildLoan.
type Loan struct {
	ID         uuid.UUID
	BookID     uuid.UUID
	UserID     uuid.UUID
	BorrowDate time.Time
	DueDate    time.Time
	ReturnDate time.Time // zero unless Status is StatusReturned
	Status     LoanStatus
	Fine       int64
	Notes      string
}

// BuildLoan is a factory method for Loan.
//
// The due date is borrowedAt plus term; a non-positive term falls back to
// DefaultLoanTerm. The initial status is always StatusBorrowed.
func BuildLoan(id uuid.UUID, bookID uuid.UUID, userID uuid.UUID, borrowedAt time.Time, term time.Duration) Loan {
	if term <= 0 {
		term = DefaultLoanTerm
	}

	borrowDate := ToTimestamp(borrowedAt)

	return Loan{
		ID:         id,
		BookID:     bookID,
		UserID:     userID,
		BorrowDate: borrowDate,
		DueDate:    borrowDate.Add(term),
		Status:     StatusBorrowed,
		Fine:       0,
	}
}

// IsActive reports whether the loan still owns a reservation against its book.
func (l Loan) IsActive() bool {
	return l.Status == StatusBorrowed || l.Status == StatusOverdue
}

// WithReturn returns a copy of the loan finalized as returned at returnedAt
// with the given fine retained as the penalty owed.
func (l Loan) WithReturn(returnedAt time.Time, fine int64) Loan {
	l.ReturnDate = ToTimestamp(returnedAt)
	l.Status = StatusReturned
	l.Fine = fine

	return l
}

// WithOverdue returns a copy of the loan transitioned to overdue with the given fine.
func (l Loan) WithOverdue(fine int64) Loan {
	l.Status = StatusOverdue
	l.Fine = fine

	return l
}

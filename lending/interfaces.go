package lending

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// InventoryLedger is the sole owner and mutator of a book's copy counts.
// No other component touches the counters directly.
//
// Reserve, Release, and Resize are atomic with respect to the same book:
// implementations serialize them through a per-book critical section or a
// conditional update re-checked at write time.
type InventoryLedger interface {
	// AddBook registers a book with the ledger.
	AddBook(ctx context.Context, book Book) error

	// GetBook returns the current copy counts for a book.
	// Fails with ErrBookNotFound for an unknown book.
	GetBook(ctx context.Context, bookID uuid.UUID) (Book, error)

	// Reserve decrements AvailableCopies by one.
	// Fails with ErrBookUnavailable when no copies are available,
	// ErrBookNotFound for an unknown book.
	Reserve(ctx context.Context, bookID uuid.UUID) error

	// Release increments AvailableCopies by one, capped at TotalCopies.
	// The cap must never be exceeded even under a bug elsewhere.
	// Fails with ErrBookNotFound for an unknown book.
	Release(ctx context.Context, bookID uuid.UUID) error

	// Resize sets TotalCopies to newTotal and clamps AvailableCopies down to
	// newTotal if it would exceed it. Copies lost to a shrink do not affect
	// active loans. Fails with ErrNegativeCopyCount when newTotal is below zero.
	Resize(ctx context.Context, bookID uuid.UUID, newTotal int) error

	// RemoveBook deletes a book from the ledger.
	// Fails with ErrBookHasActiveLoans while active loans reference it.
	RemoveBook(ctx context.Context, bookID uuid.UUID) error
}

// LoanStore owns loan records and their state transitions.
//
// Writes that depend on a user's loan set are guarded by the loan-set
// version returned from UserLoanSummary: AppendLoan fails with
// ErrConcurrencyConflict when the version moved in between, and the caller
// retries the whole read-decide-write cycle.
type LoanStore interface {
	// GetLoan returns a loan by identity. Fails with ErrLoanNotFound.
	GetLoan(ctx context.Context, loanID uuid.UUID) (Loan, error)

	// UserLoanSummary returns a consistent snapshot of the user's loan set
	// with respect to one book, together with the loan-set version the
	// snapshot was taken at.
	UserLoanSummary(ctx context.Context, userID uuid.UUID, bookID uuid.UUID) (LoanSummary, LoanSetVersionUint, error)

	// AppendLoan creates a loan record, conditional on the user's loan-set
	// version still being expectedVersion. Fails with ErrConcurrencyConflict
	// when the set changed since the snapshot was taken.
	AppendLoan(ctx context.Context, loan Loan, expectedVersion LoanSetVersionUint) error

	// FinalizeReturn transitions a loan to StatusReturned, setting the return
	// date and the fine, conditional on the loan not already being returned.
	// Fails with ErrAlreadyReturned when the condition does not hold and
	// ErrLoanNotFound for an unknown loan. The condition and the transition
	// happen in the same critical section, so exactly one caller wins a race.
	FinalizeReturn(ctx context.Context, loanID uuid.UUID, returnedAt time.Time, fine int64) error

	// MarkOverdue transitions every StatusBorrowed loan past its due date to
	// StatusOverdue with its fine computed against now, and refreshes the fine
	// of loans already overdue. Idempotent for identical now; an advancing now
	// can only increase fines. Returns the number of loans transitioned.
	MarkOverdue(ctx context.Context, now time.Time, ratePerDay int64) (int, error)

	// DeleteLoan removes a loan record. Fails with ErrLoanNotFound.
	// Callers release inventory first when the loan is still active.
	DeleteLoan(ctx context.Context, loanID uuid.UUID) error

	// CountActiveLoans returns the number of the user's loans with status in
	// {StatusBorrowed, StatusOverdue}.
	CountActiveLoans(ctx context.Context, userID uuid.UUID) (int, error)

	// CountOverdueLoans returns the number of the user's loans with StatusOverdue.
	CountOverdueLoans(ctx context.Context, userID uuid.UUID) (int, error)

	// FindActiveLoan returns the user's active loan for a book, if any.
	FindActiveLoan(ctx context.Context, userID uuid.UUID, bookID uuid.UUID) (Loan, bool, error)

	// ActiveLoans returns the user's active loans, ordered by due date.
	ActiveLoans(ctx context.Context, userID uuid.UUID) ([]Loan, error)

	// LoanHistory returns all loans of the user, newest first.
	LoanHistory(ctx context.Context, userID uuid.UUID) ([]Loan, error)

	// OverdueLoans returns all active loans past their due date as of now,
	// ordered by due date.
	OverdueLoans(ctx context.Context, now time.Time) ([]Loan, error)
}

// UserDirectory supplies the engine's read-only view of users.
// The engine consults the borrowing quota but never mutates it.
type UserDirectory interface {
	// GetUser returns a user by identity. Fails with ErrUserNotFound.
	GetUser(ctx context.Context, userID uuid.UUID) (User, error)
}

// AuditLog records engine mutations for after-the-fact inspection.
// Appending is best-effort from the engine's point of view: a failed append
// is logged but never fails the operation that produced it.
type AuditLog interface {
	AppendAudit(ctx context.Context, record AuditRecord) error
}

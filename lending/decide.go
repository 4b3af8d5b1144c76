package lending

// LoanSummary is a consistent snapshot of one user's loan set with respect to
// one book, taken at a single loan-set version. All counters refer to active
// loans (StatusBorrowed or StatusOverdue).
type LoanSummary struct {
	ActiveCount      int  // active loans held by the user, across all books
	OverdueCount     int  // active loans of the user that are overdue
	HasActiveLoanFor bool // whether the user holds an active loan for the book in question
}

// DecideBorrow implements the eligibility rules for creating a loan.
// This is a pure function with no side effects - it takes the current
// snapshot of the user's loan set and returns nil when the loan may be
// created, or the rule violation otherwise.
//
// Business Rules:
//
//	GIVEN: A user with a borrowing quota and a snapshot of their loan set
//	WHEN: A borrow (or admin assignment) is requested
//	THEN: nil is returned and the caller may reserve a copy and create the loan
//	ERROR: ErrBorrowLimitExceeded if the user holds MaxBooksAllowed active loans
//	ERROR: ErrDuplicateLoan if the user already holds an active loan for this book
//	ERROR: ErrHasOverdueLoans if the user has overdue loans (skipped for admin
//	       assignments, which bypass only this end-user check)
//
// Availability is not decided here: reserving the copy is the inventory
// ledger's atomic operation, run after the eligibility rules as the final
// step before the loan is created.
func DecideBorrow(user User, summary LoanSummary, bypassOverdueBlock bool) error {
	if summary.ActiveCount >= user.MaxBooksAllowed {
		return ErrBorrowLimitExceeded
	}

	if summary.HasActiveLoanFor {
		return ErrDuplicateLoan
	}

	if !bypassOverdueBlock && summary.OverdueCount > 0 {
		return ErrHasOverdueLoans
	}

	return nil
}

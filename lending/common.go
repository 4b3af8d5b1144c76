package lending

import (
	"errors"
	"time"
)

var (
	// ErrBookNotFound is returned when no book exists for the given identity.
	ErrBookNotFound = errors.New("book not found")

	// ErrUserNotFound is returned when no user exists for the given identity.
	ErrUserNotFound = errors.New("user not found")

	// ErrLoanNotFound is returned when no loan exists for the given identity.
	ErrLoanNotFound = errors.New("loan record not found")

	// ErrBookUnavailable is returned when a reservation is attempted on a book with no available copies.
	ErrBookUnavailable = errors.New("book has no available copies")

	// ErrBorrowLimitExceeded is returned when a user already holds as many active loans as allowed.
	ErrBorrowLimitExceeded = errors.New("borrowing limit reached")

	// ErrDuplicateLoan is returned when a user already holds an active loan for the same book.
	ErrDuplicateLoan = errors.New("book is already borrowed by this user")

	// ErrHasOverdueLoans is returned when a user with overdue loans attempts to borrow.
	ErrHasOverdueLoans = errors.New("user has overdue loans")

	// ErrAlreadyReturned is returned when a return is attempted on a loan that is already returned.
	ErrAlreadyReturned = errors.New("loan has already been returned")

	// ErrNotAuthorized is returned when the acting user may not perform the operation.
	ErrNotAuthorized = errors.New("not authorized for this loan")

	// ErrNegativeCopyCount is returned when a copy count below zero is supplied.
	ErrNegativeCopyCount = errors.New("copy count must not be negative")

	// ErrBookHasActiveLoans is returned when a book with active loans would be removed.
	ErrBookHasActiveLoans = errors.New("book is referenced by active loans")

	// ErrConcurrencyConflict is returned when a conditional write affected no rows
	// because the guarded state moved between read and write.
	ErrConcurrencyConflict = errors.New("concurrency conflict, no rows were affected")
)

// LoanSetVersionUint is a type alias for uint, representing the version of one user's loan set.
// Every change to the set (loan created, returned, marked overdue, deleted) advances it.
type LoanSetVersionUint = uint

// Kind classifies failures into the stable categories callers map to transport outcomes.
type Kind int

const (
	// KindUnknown covers unexpected failures (storage faults, programming errors).
	KindUnknown Kind = iota

	// KindNotFound covers unknown books, users, and loans.
	KindNotFound

	// KindConflict covers business rule violations: duplicate loans, exhausted
	// copies, borrowing limits, overdue blocks, double returns.
	KindConflict

	// KindForbidden covers operations the acting user may not perform.
	KindForbidden

	// KindInvalidArgument covers malformed input such as negative copy counts.
	KindInvalidArgument

	// KindUnavailable covers exhausted retries on storage contention.
	KindUnavailable
)

// KindOf classifies err into its Kind. Wrapped errors are unwrapped via errors.Is.
func KindOf(err error) Kind {
	switch {
	case err == nil:
		return KindUnknown
	case errors.Is(err, ErrBookNotFound),
		errors.Is(err, ErrUserNotFound),
		errors.Is(err, ErrLoanNotFound):
		return KindNotFound
	case errors.Is(err, ErrBookUnavailable),
		errors.Is(err, ErrBorrowLimitExceeded),
		errors.Is(err, ErrDuplicateLoan),
		errors.Is(err, ErrHasOverdueLoans),
		errors.Is(err, ErrAlreadyReturned),
		errors.Is(err, ErrBookHasActiveLoans):
		return KindConflict
	case errors.Is(err, ErrNotAuthorized):
		return KindForbidden
	case errors.Is(err, ErrNegativeCopyCount):
		return KindInvalidArgument
	case errors.Is(err, ErrConcurrencyConflict):
		return KindUnavailable
	default:
		return KindUnknown
	}
}

// String provides a string representation of Kind for logging and debugging.
func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "not_found"
	case KindConflict:
		return "conflict"
	case KindForbidden:
		return "forbidden"
	case KindInvalidArgument:
		return "invalid_argument"
	case KindUnavailable:
		return "unavailable"
	default:
		return "unknown"
	}
}

// ToTimestamp normalizes a time for storage with UTC normalization and microsecond precision.
func ToTimestamp(t time.Time) time.Time {
	return t.UTC().Truncate(time.Microsecond)
}

package memoryengine

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mohammed-shamil-th/library-lending-go/lending"
)

const (
	logMsgReleaseCapped = "release capped at total copies"
	logMsgCopiesLost    = "copies lost to stock shrink"

	logAttrBookID = "book_id"
	logAttrLost   = "lost"
)

// Store is an in-process implementation of lending.InventoryLedger,
// lending.LoanStore, lending.UserDirectory, and lending.AuditLog.
//
// The zero value is not usable; construct it with NewStore.
type Store struct {
	logger lending.Logger

	mu    sync.RWMutex // guards the maps themselves, never held across entry work
	books map[uuid.UUID]*bookEntry
	users map[uuid.UUID]lending.User
	loans map[uuid.UUID]*loanEntry
	sets  map[uuid.UUID]*loanSet

	auditMu sync.Mutex
	audit   []lending.AuditRecord
}

// bookEntry serializes all copy-count mutations for one book.
type bookEntry struct {
	mu   sync.Mutex
	book lending.Book
}

// loanEntry guards one loan record. userID and bookID are immutable after
// creation and may be read without the lock.
type loanEntry struct {
	mu     sync.Mutex
	userID uuid.UUID
	bookID uuid.UUID
	loan   lending.Loan
}

// loanSet serializes all changes to one user's active-loan set and carries
// the optimistic version AppendLoan checks against.
//
// Lock order: loanSet.mu before Store.mu before loanEntry.mu.
type loanSet struct {
	mu      sync.Mutex
	version lending.LoanSetVersionUint
	loanIDs []uuid.UUID
}

// Option defines a functional option for configuring a Store.
type Option func(*Store) error

// WithLogger sets the logger for the store. Defensive anomalies such as a
// capped release are reported at warn level.
func WithLogger(logger lending.Logger) Option {
	return func(s *Store) error {
		s.logger = logger
		return nil
	}
}

// NewStore creates an empty Store with optional configuration.
func NewStore(options ...Option) (*Store, error) {
	s := &Store{
		books: make(map[uuid.UUID]*bookEntry),
		users: make(map[uuid.UUID]lending.User),
		loans: make(map[uuid.UUID]*loanEntry),
		sets:  make(map[uuid.UUID]*loanSet),
	}

	for _, option := range options {
		if err := option(s); err != nil {
			return nil, err
		}
	}

	return s, nil
}

/* ---------- lending.InventoryLedger ---------- */

// AddBook registers a book, replacing any previous entry with the same identity.
func (s *Store) AddBook(_ context.Context, book lending.Book) error {
	if book.TotalCopies < 0 || book.AvailableCopies < 0 || book.AvailableCopies > book.TotalCopies {
		return lending.ErrNegativeCopyCount
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.books[book.ID] = &bookEntry{book: book}

	return nil
}

// GetBook returns a snapshot of the book's current state.
func (s *Store) GetBook(_ context.Context, bookID uuid.UUID) (lending.Book, error) {
	entry, err := s.bookEntry(bookID)
	if err != nil {
		return lending.Book{}, err
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()

	return entry.book, nil
}

// Reserve decrements the book's available copies by one.
func (s *Store) Reserve(_ context.Context, bookID uuid.UUID) error {
	entry, err := s.bookEntry(bookID)
	if err != nil {
		return err
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()

	if entry.book.AvailableCopies <= 0 {
		return lending.ErrBookUnavailable
	}

	entry.book.AvailableCopies--

	return nil
}

// Release increments the book's available copies by one, capped at the total.
func (s *Store) Release(_ context.Context, bookID uuid.UUID) error {
	entry, err := s.bookEntry(bookID)
	if err != nil {
		return err
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()

	if entry.book.AvailableCopies >= entry.book.TotalCopies {
		// Should never happen in correct operation; the cap keeps the
		// invariant intact even under a bug elsewhere.
		if s.logger != nil {
			s.logger.Warn(logMsgReleaseCapped, logAttrBookID, bookID.String())
		}

		return nil
	}

	entry.book.AvailableCopies++

	return nil
}

// Resize sets the book's total copies, clamping available copies on a shrink.
func (s *Store) Resize(_ context.Context, bookID uuid.UUID, newTotal int) error {
	if newTotal < 0 {
		return lending.ErrNegativeCopyCount
	}

	entry, err := s.bookEntry(bookID)
	if err != nil {
		return err
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()

	entry.book.TotalCopies = newTotal

	if entry.book.AvailableCopies > newTotal {
		lost := entry.book.AvailableCopies - newTotal
		entry.book.AvailableCopies = newTotal

		if s.logger != nil {
			s.logger.Warn(logMsgCopiesLost, logAttrBookID, bookID.String(), logAttrLost, lost)
		}
	}

	return nil
}

// RemoveBook deletes a book unless active loans still reference it.
func (s *Store) RemoveBook(_ context.Context, bookID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.books[bookID]; !ok {
		return lending.ErrBookNotFound
	}

	for _, entry := range s.loans {
		if entry.bookID != bookID {
			continue
		}

		entry.mu.Lock()
		active := entry.loan.IsActive()
		entry.mu.Unlock()

		if active {
			return lending.ErrBookHasActiveLoans
		}
	}

	delete(s.books, bookID)

	return nil
}

/* ---------- lending.LoanStore ---------- */

// GetLoan returns a snapshot of a loan.
func (s *Store) GetLoan(_ context.Context, loanID uuid.UUID) (lending.Loan, error) {
	entry, err := s.loanEntry(loanID)
	if err != nil {
		return lending.Loan{}, err
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()

	return entry.loan, nil
}

// UserLoanSummary snapshots the user's loan set with respect to one book.
func (s *Store) UserLoanSummary(_ context.Context, userID uuid.UUID, bookID uuid.UUID) (
	lending.LoanSummary,
	lending.LoanSetVersionUint,
	error,
) {

	set := s.loanSetFor(userID)

	set.mu.Lock()
	defer set.mu.Unlock()

	summary := lending.LoanSummary{}

	for _, loanID := range set.loanIDs {
		entry, err := s.loanEntry(loanID)
		if err != nil {
			return lending.LoanSummary{}, 0, err
		}

		entry.mu.Lock()
		loan := entry.loan
		entry.mu.Unlock()

		if !loan.IsActive() {
			continue
		}

		summary.ActiveCount++

		if loan.Status == lending.StatusOverdue {
			summary.OverdueCount++
		}

		if loan.BookID == bookID {
			summary.HasActiveLoanFor = true
		}
	}

	return summary, set.version, nil
}

// AppendLoan creates a loan record, conditional on the loan-set version.
func (s *Store) AppendLoan(_ context.Context, loan lending.Loan, expectedVersion lending.LoanSetVersionUint) error {
	set := s.loanSetFor(loan.UserID)

	set.mu.Lock()
	defer set.mu.Unlock()

	if set.version != expectedVersion {
		return lending.ErrConcurrencyConflict
	}

	s.mu.Lock()
	s.loans[loan.ID] = &loanEntry{userID: loan.UserID, bookID: loan.BookID, loan: loan}
	s.mu.Unlock()

	set.loanIDs = append(set.loanIDs, loan.ID)
	set.version++

	return nil
}

// FinalizeReturn transitions a loan to returned inside its set's critical section.
func (s *Store) FinalizeReturn(_ context.Context, loanID uuid.UUID, returnedAt time.Time, fine int64) error {
	entry, err := s.loanEntry(loanID)
	if err != nil {
		return err
	}

	set := s.loanSetFor(entry.userID)

	set.mu.Lock()
	defer set.mu.Unlock()

	entry.mu.Lock()
	defer entry.mu.Unlock()

	if entry.loan.Status == lending.StatusReturned {
		return lending.ErrAlreadyReturned
	}

	entry.loan = entry.loan.WithReturn(returnedAt, fine)
	set.version++

	return nil
}

// MarkOverdue sweeps all loans, transitioning borrowed loans past their due
// date and refreshing the fines of loans already overdue.
func (s *Store) MarkOverdue(_ context.Context, now time.Time, ratePerDay int64) (int, error) {
	s.mu.RLock()
	entries := make([]*loanEntry, 0, len(s.loans))
	for _, entry := range s.loans {
		entries = append(entries, entry)
	}
	s.mu.RUnlock()

	transitioned := 0

	for _, entry := range entries {
		set := s.loanSetFor(entry.userID)

		set.mu.Lock()
		entry.mu.Lock()

		switch entry.loan.Status {
		case lending.StatusBorrowed:
			if lending.IsOverdue(entry.loan.DueDate, now) {
				entry.loan = entry.loan.WithOverdue(lending.ComputeFine(entry.loan.DueDate, now, ratePerDay))
				set.version++
				transitioned++
			}

		case lending.StatusOverdue:
			entry.loan.Fine = lending.ComputeFine(entry.loan.DueDate, now, ratePerDay)
		}

		entry.mu.Unlock()
		set.mu.Unlock()
	}

	return transitioned, nil
}

// DeleteLoan removes a loan record and advances the owner's loan-set version.
func (s *Store) DeleteLoan(_ context.Context, loanID uuid.UUID) error {
	entry, err := s.loanEntry(loanID)
	if err != nil {
		return err
	}

	set := s.loanSetFor(entry.userID)

	set.mu.Lock()
	defer set.mu.Unlock()

	s.mu.Lock()
	delete(s.loans, loanID)
	s.mu.Unlock()

	for i, id := range set.loanIDs {
		if id == loanID {
			set.loanIDs = append(set.loanIDs[:i], set.loanIDs[i+1:]...)
			break
		}
	}

	set.version++

	return nil
}

// CountActiveLoans returns the number of the user's borrowed or overdue loans.
func (s *Store) CountActiveLoans(ctx context.Context, userID uuid.UUID) (int, error) {
	summary, _, err := s.UserLoanSummary(ctx, userID, uuid.Nil)
	if err != nil {
		return 0, err
	}

	return summary.ActiveCount, nil
}

// CountOverdueLoans returns the number of the user's overdue loans.
func (s *Store) CountOverdueLoans(ctx context.Context, userID uuid.UUID) (int, error) {
	summary, _, err := s.UserLoanSummary(ctx, userID, uuid.Nil)
	if err != nil {
		return 0, err
	}

	return summary.OverdueCount, nil
}

// FindActiveLoan returns the user's active loan for one book, if any.
func (s *Store) FindActiveLoan(_ context.Context, userID uuid.UUID, bookID uuid.UUID) (lending.Loan, bool, error) {
	set := s.loanSetFor(userID)

	set.mu.Lock()
	defer set.mu.Unlock()

	for _, loanID := range set.loanIDs {
		entry, err := s.loanEntry(loanID)
		if err != nil {
			return lending.Loan{}, false, err
		}

		entry.mu.Lock()
		loan := entry.loan
		entry.mu.Unlock()

		if loan.BookID == bookID && loan.IsActive() {
			return loan, true, nil
		}
	}

	return lending.Loan{}, false, nil
}

// ActiveLoans returns the user's active loans ordered by due date.
func (s *Store) ActiveLoans(_ context.Context, userID uuid.UUID) ([]lending.Loan, error) {
	loans := s.snapshotUserLoans(userID, func(loan lending.Loan) bool {
		return loan.IsActive()
	})

	sort.Slice(loans, func(i, j int) bool {
		return loans[i].DueDate.Before(loans[j].DueDate)
	})

	return loans, nil
}

// LoanHistory returns all loans of the user, newest first.
func (s *Store) LoanHistory(_ context.Context, userID uuid.UUID) ([]lending.Loan, error) {
	loans := s.snapshotUserLoans(userID, func(lending.Loan) bool {
		return true
	})

	sort.Slice(loans, func(i, j int) bool {
		return loans[i].BorrowDate.After(loans[j].BorrowDate)
	})

	return loans, nil
}

// OverdueLoans returns all active loans past their due date as of now,
// ordered by due date.
func (s *Store) OverdueLoans(_ context.Context, now time.Time) ([]lending.Loan, error) {
	s.mu.RLock()
	entries := make([]*loanEntry, 0, len(s.loans))
	for _, entry := range s.loans {
		entries = append(entries, entry)
	}
	s.mu.RUnlock()

	overdue := make([]lending.Loan, 0)

	for _, entry := range entries {
		entry.mu.Lock()
		loan := entry.loan
		entry.mu.Unlock()

		if loan.IsActive() && lending.IsOverdue(loan.DueDate, now) {
			overdue = append(overdue, loan)
		}
	}

	sort.Slice(overdue, func(i, j int) bool {
		return overdue[i].DueDate.Before(overdue[j].DueDate)
	})

	return overdue, nil
}

/* ---------- lending.UserDirectory ---------- */

// AddUser registers a user, replacing any previous entry with the same identity.
func (s *Store) AddUser(_ context.Context, user lending.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.users[user.ID] = user

	return nil
}

// GetUser returns a user by identity.
func (s *Store) GetUser(_ context.Context, userID uuid.UUID) (lending.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	user, ok := s.users[userID]
	if !ok {
		return lending.User{}, lending.ErrUserNotFound
	}

	return user, nil
}

/* ---------- lending.AuditLog ---------- */

// AppendAudit records an audit entry.
func (s *Store) AppendAudit(_ context.Context, record lending.AuditRecord) error {
	s.auditMu.Lock()
	defer s.auditMu.Unlock()

	s.audit = append(s.audit, record)

	return nil
}

// AuditRecords returns a copy of all recorded audit entries, oldest first.
func (s *Store) AuditRecords() []lending.AuditRecord {
	s.auditMu.Lock()
	defer s.auditMu.Unlock()

	records := make([]lending.AuditRecord, len(s.audit))
	copy(records, s.audit)

	return records
}

/* ---------- internals ---------- */

func (s *Store) bookEntry(bookID uuid.UUID) (*bookEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entry, ok := s.books[bookID]
	if !ok {
		return nil, lending.ErrBookNotFound
	}

	return entry, nil
}

func (s *Store) loanEntry(loanID uuid.UUID) (*loanEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entry, ok := s.loans[loanID]
	if !ok {
		return nil, lending.ErrLoanNotFound
	}

	return entry, nil
}

// loanSetFor returns the user's loan set, creating it on first use.
func (s *Store) loanSetFor(userID uuid.UUID) *loanSet {
	s.mu.RLock()
	set, ok := s.sets[userID]
	s.mu.RUnlock()

	if ok {
		return set
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if set, ok = s.sets[userID]; ok {
		return set
	}

	set = &loanSet{}
	s.sets[userID] = set

	return set
}

func (s *Store) snapshotUserLoans(userID uuid.UUID, keep func(lending.Loan) bool) []lending.Loan {
	set := s.loanSetFor(userID)

	set.mu.Lock()
	defer set.mu.Unlock()

	loans := make([]lending.Loan, 0, len(set.loanIDs))

	for _, loanID := range set.loanIDs {
		entry, err := s.loanEntry(loanID)
		if err != nil {
			continue // deleted concurrently
		}

		entry.mu.Lock()
		loan := entry.loan
		entry.mu.Unlock()

		if keep(loan) {
			loans = append(loans, loan)
		}
	}

	return loans
}

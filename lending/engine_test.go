package lending_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mohammed-shamil-th/library-lending-go/lending"
	"github.com/mohammed-shamil-th/library-lending-go/lending/memoryengine"
)

func newTestStore(t *testing.T) *memoryengine.Store {
	t.Helper()

	store, err := memoryengine.NewStore()
	require.NoError(t, err)

	return store
}

func newTestEngine(t *testing.T, store *memoryengine.Store, options ...lending.EngineOption) lending.Engine {
	t.Helper()

	allOptions := append([]lending.EngineOption{lending.WithAuditLog(store)}, options...)

	engine, err := lending.NewEngine(store, store, store, allOptions...)
	require.NoError(t, err)

	return engine
}

func givenBook(t *testing.T, store *memoryengine.Store, totalCopies int) uuid.UUID {
	t.Helper()

	book, err := lending.BuildBook(uuid.New(), "The Left Hand of Darkness", "Ursula K. Le Guin", "978-0441478125", totalCopies)
	require.NoError(t, err)
	require.NoError(t, store.AddBook(context.Background(), book))

	return book.ID
}

func givenUser(t *testing.T, store *memoryengine.Store, maxBooks int) uuid.UUID {
	t.Helper()

	user := lending.User{
		ID:              uuid.New(),
		Name:            "Some Member",
		Role:            lending.RoleUser,
		MaxBooksAllowed: maxBooks,
	}
	require.NoError(t, store.AddUser(context.Background(), user))

	return user.ID
}

func availableCopies(t *testing.T, store *memoryengine.Store, bookID uuid.UUID) int {
	t.Helper()

	book, err := store.GetBook(context.Background(), bookID)
	require.NoError(t, err)

	return book.AvailableCopies
}

func auditActions(store *memoryengine.Store) []string {
	records := store.AuditRecords()
	actions := make([]string, 0, len(records))

	for _, record := range records {
		actions = append(actions, record.Action)
	}

	return actions
}

func Test_Borrow_Success(t *testing.T) {
	// arrange
	store := newTestStore(t)
	engine := newTestEngine(t, store)
	bookID := givenBook(t, store, 3)
	userID := givenUser(t, store, 5)
	now := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)

	// act
	loan, err := engine.Borrow(context.Background(), userID, bookID, now)

	// assert
	require.NoError(t, err)
	assert.Equal(t, bookID, loan.BookID)
	assert.Equal(t, userID, loan.UserID)
	assert.Equal(t, lending.StatusBorrowed, loan.Status)
	assert.Equal(t, now.Add(lending.DefaultLoanTerm), loan.DueDate)
	assert.Equal(t, 2, availableCopies(t, store, bookID))
	assert.Contains(t, auditActions(store), lending.AuditBookBorrowed)
}

func Test_Borrow_Fails_WhenBookUnknown(t *testing.T) {
	// arrange
	store := newTestStore(t)
	engine := newTestEngine(t, store)
	userID := givenUser(t, store, 5)

	// act
	_, err := engine.Borrow(context.Background(), userID, uuid.New(), time.Now())

	// assert
	assert.ErrorIs(t, err, lending.ErrBookNotFound)
}

func Test_Borrow_Fails_WhenUserUnknown(t *testing.T) {
	// arrange
	store := newTestStore(t)
	engine := newTestEngine(t, store)
	bookID := givenBook(t, store, 3)

	// act
	_, err := engine.Borrow(context.Background(), uuid.New(), bookID, time.Now())

	// assert
	assert.ErrorIs(t, err, lending.ErrUserNotFound)
}

func Test_Borrow_Fails_WhenNoCopiesAvailable(t *testing.T) {
	// arrange
	store := newTestStore(t)
	engine := newTestEngine(t, store)
	bookID := givenBook(t, store, 1)
	firstUserID := givenUser(t, store, 5)
	secondUserID := givenUser(t, store, 5)
	now := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)

	_, err := engine.Borrow(context.Background(), firstUserID, bookID, now)
	require.NoError(t, err)

	// act
	_, err = engine.Borrow(context.Background(), secondUserID, bookID, now)

	// assert
	assert.ErrorIs(t, err, lending.ErrBookUnavailable)
	assert.Equal(t, 0, availableCopies(t, store, bookID))
}

func Test_Borrow_Fails_WhenBorrowingLimitReached(t *testing.T) {
	// arrange - a user with a limit of 3 who already holds 3 books
	store := newTestStore(t)
	engine := newTestEngine(t, store)
	userID := givenUser(t, store, 3)
	now := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)

	for i := 0; i < 3; i++ {
		bookID := givenBook(t, store, 1)
		_, err := engine.Borrow(context.Background(), userID, bookID, now)
		require.NoError(t, err)
	}

	fourthBookID := givenBook(t, store, 1)

	// act
	_, err := engine.Borrow(context.Background(), userID, fourthBookID, now)

	// assert
	assert.ErrorIs(t, err, lending.ErrBorrowLimitExceeded)
	assert.Equal(t, 1, availableCopies(t, store, fourthBookID))
}

func Test_Borrow_Fails_WhenUserAlreadyHoldsTheBook(t *testing.T) {
	// arrange
	store := newTestStore(t)
	engine := newTestEngine(t, store)
	bookID := givenBook(t, store, 3)
	userID := givenUser(t, store, 5)
	now := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)

	_, err := engine.Borrow(context.Background(), userID, bookID, now)
	require.NoError(t, err)

	// act
	_, err = engine.Borrow(context.Background(), userID, bookID, now.Add(time.Hour))

	// assert
	assert.ErrorIs(t, err, lending.ErrDuplicateLoan)
	assert.Equal(t, 2, availableCopies(t, store, bookID))
}

func Test_Borrow_Fails_WhenUserHasOverdueLoans(t *testing.T) {
	// arrange - a loan swept to overdue blocks further borrowing
	store := newTestStore(t)
	engine := newTestEngine(t, store)
	overdueBookID := givenBook(t, store, 1)
	freshBookID := givenBook(t, store, 1)
	userID := givenUser(t, store, 5)
	borrowedAt := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)

	_, err := engine.Borrow(context.Background(), userID, overdueBookID, borrowedAt)
	require.NoError(t, err)

	sweepAt := borrowedAt.Add(20 * 24 * time.Hour)
	_, err = engine.OverdueSweep(context.Background(), sweepAt)
	require.NoError(t, err)

	// act
	_, err = engine.Borrow(context.Background(), userID, freshBookID, sweepAt)

	// assert
	assert.ErrorIs(t, err, lending.ErrHasOverdueLoans)
}

func Test_AdminAssign_Succeeds_DespiteOverdueLoans(t *testing.T) {
	// arrange - only the overdue block is bypassed for admin assignments
	store := newTestStore(t)
	engine := newTestEngine(t, store)
	overdueBookID := givenBook(t, store, 1)
	freshBookID := givenBook(t, store, 1)
	userID := givenUser(t, store, 5)
	borrowedAt := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)

	_, err := engine.Borrow(context.Background(), userID, overdueBookID, borrowedAt)
	require.NoError(t, err)

	sweepAt := borrowedAt.Add(20 * 24 * time.Hour)
	_, err = engine.OverdueSweep(context.Background(), sweepAt)
	require.NoError(t, err)

	// act
	loan, err := engine.AdminAssign(context.Background(), userID, freshBookID, sweepAt)

	// assert
	require.NoError(t, err)
	assert.Equal(t, lending.StatusBorrowed, loan.Status)
	assert.Contains(t, auditActions(store), lending.AuditLoanAssigned)
}

func Test_AdminAssign_StillEnforcesLimitAndDuplicate(t *testing.T) {
	// arrange
	store := newTestStore(t)
	engine := newTestEngine(t, store)
	bookID := givenBook(t, store, 3)
	userID := givenUser(t, store, 1)
	now := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)

	_, err := engine.Borrow(context.Background(), userID, bookID, now)
	require.NoError(t, err)

	// act + assert - the limit still applies
	otherBookID := givenBook(t, store, 1)
	_, err = engine.AdminAssign(context.Background(), userID, otherBookID, now)
	assert.ErrorIs(t, err, lending.ErrBorrowLimitExceeded)
}

func Test_Return_Success_OnTime_NoFine(t *testing.T) {
	// arrange
	store := newTestStore(t)
	engine := newTestEngine(t, store)
	bookID := givenBook(t, store, 2)
	userID := givenUser(t, store, 5)
	borrowedAt := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)

	loan, err := engine.Borrow(context.Background(), userID, bookID, borrowedAt)
	require.NoError(t, err)

	// act
	returned, err := engine.Return(context.Background(), loan.ID, userID, lending.RoleUser, borrowedAt.Add(5*24*time.Hour))

	// assert
	require.NoError(t, err)
	assert.Equal(t, lending.StatusReturned, returned.Status)
	assert.Equal(t, int64(0), returned.Fine)
	assert.Equal(t, 2, availableCopies(t, store, bookID))
	assert.Contains(t, auditActions(store), lending.AuditBookReturned)
}

func Test_Return_ComputesFine_WhenReturnedOnDayTwenty(t *testing.T) {
	// arrange - 14-day term, returned on day 20 means 6 overdue days
	store := newTestStore(t)
	engine := newTestEngine(t, store)
	bookID := givenBook(t, store, 1)
	userID := givenUser(t, store, 5)
	borrowedAt := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)

	loan, err := engine.Borrow(context.Background(), userID, bookID, borrowedAt)
	require.NoError(t, err)

	// act
	returned, err := engine.Return(context.Background(), loan.ID, userID, lending.RoleUser, borrowedAt.Add(20*24*time.Hour))

	// assert
	require.NoError(t, err)
	assert.Equal(t, int64(6), returned.Fine)
	assert.Equal(t, 1, availableCopies(t, store, bookID))
}

func Test_Return_Fails_WhenActorIsNotOwnerNorAdmin(t *testing.T) {
	// arrange
	store := newTestStore(t)
	engine := newTestEngine(t, store)
	bookID := givenBook(t, store, 1)
	ownerID := givenUser(t, store, 5)
	strangerID := givenUser(t, store, 5)

	loan, err := engine.Borrow(context.Background(), ownerID, bookID, time.Now())
	require.NoError(t, err)

	// act
	_, err = engine.Return(context.Background(), loan.ID, strangerID, lending.RoleUser, time.Now())

	// assert
	assert.ErrorIs(t, err, lending.ErrNotAuthorized)
	assert.Equal(t, 0, availableCopies(t, store, bookID))
}

func Test_Return_Succeeds_WhenActorIsAdmin(t *testing.T) {
	// arrange
	store := newTestStore(t)
	engine := newTestEngine(t, store)
	bookID := givenBook(t, store, 1)
	ownerID := givenUser(t, store, 5)
	adminID := givenUser(t, store, 5)

	loan, err := engine.Borrow(context.Background(), ownerID, bookID, time.Now())
	require.NoError(t, err)

	// act
	returned, err := engine.Return(context.Background(), loan.ID, adminID, lending.RoleAdmin, time.Now())

	// assert
	require.NoError(t, err)
	assert.Equal(t, lending.StatusReturned, returned.Status)
}

func Test_Return_Fails_WhenAlreadyReturned_AndReleasesOnlyOnce(t *testing.T) {
	// arrange
	store := newTestStore(t)
	engine := newTestEngine(t, store)
	bookID := givenBook(t, store, 1)
	userID := givenUser(t, store, 5)
	now := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)

	loan, err := engine.Borrow(context.Background(), userID, bookID, now)
	require.NoError(t, err)

	_, err = engine.Return(context.Background(), loan.ID, userID, lending.RoleUser, now.Add(time.Hour))
	require.NoError(t, err)

	// act
	_, err = engine.Return(context.Background(), loan.ID, userID, lending.RoleUser, now.Add(2*time.Hour))

	// assert - the second return fails and does not release a second copy
	assert.ErrorIs(t, err, lending.ErrAlreadyReturned)
	assert.Equal(t, 1, availableCopies(t, store, bookID))
}

func Test_Return_Fails_WhenLoanUnknown(t *testing.T) {
	// arrange
	store := newTestStore(t)
	engine := newTestEngine(t, store)

	// act
	_, err := engine.Return(context.Background(), uuid.New(), uuid.New(), lending.RoleAdmin, time.Now())

	// assert
	assert.ErrorIs(t, err, lending.ErrLoanNotFound)
}

func Test_BorrowReturn_RoundTrip_RestoresAvailability(t *testing.T) {
	// arrange
	store := newTestStore(t)
	engine := newTestEngine(t, store)
	bookID := givenBook(t, store, 4)
	userID := givenUser(t, store, 5)
	now := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)

	// act - borrow and return the same book repeatedly
	for i := 0; i < 3; i++ {
		loan, err := engine.Borrow(context.Background(), userID, bookID, now)
		require.NoError(t, err)
		assert.Equal(t, 3, availableCopies(t, store, bookID))

		_, err = engine.Return(context.Background(), loan.ID, userID, lending.RoleUser, now.Add(time.Hour))
		require.NoError(t, err)

		// assert - the counts return to their pre-borrow values
		assert.Equal(t, 4, availableCopies(t, store, bookID))
	}
}

func Test_OverdueSweep_TransitionsLoansPastDue(t *testing.T) {
	// arrange - two loans past due, one within its term
	store := newTestStore(t)
	engine := newTestEngine(t, store)
	userID := givenUser(t, store, 5)
	otherUserID := givenUser(t, store, 5)
	borrowedAt := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)

	first, err := engine.Borrow(context.Background(), userID, givenBook(t, store, 1), borrowedAt)
	require.NoError(t, err)

	second, err := engine.Borrow(context.Background(), otherUserID, givenBook(t, store, 1), borrowedAt)
	require.NoError(t, err)

	lateBorrowedAt := borrowedAt.Add(10 * 24 * time.Hour)
	_, err = engine.Borrow(context.Background(), userID, givenBook(t, store, 1), lateBorrowedAt)
	require.NoError(t, err)

	// act - sweep on day 16: the first two are 2 days past due
	sweepAt := borrowedAt.Add(16 * 24 * time.Hour)
	transitioned, err := engine.OverdueSweep(context.Background(), sweepAt)

	// assert
	require.NoError(t, err)
	assert.Equal(t, 2, transitioned)
	assert.Contains(t, auditActions(store), lending.AuditOverdueSwept)

	firstAfter, err := store.GetLoan(context.Background(), first.ID)
	require.NoError(t, err)
	assert.Equal(t, lending.StatusOverdue, firstAfter.Status)
	assert.Equal(t, int64(2), firstAfter.Fine)

	secondAfter, err := store.GetLoan(context.Background(), second.ID)
	require.NoError(t, err)
	assert.Equal(t, lending.StatusOverdue, secondAfter.Status)
}

func Test_OverdueSweep_Idempotent_ForIdenticalNow(t *testing.T) {
	// arrange
	store := newTestStore(t)
	engine := newTestEngine(t, store)
	userID := givenUser(t, store, 5)
	borrowedAt := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)

	loan, err := engine.Borrow(context.Background(), userID, givenBook(t, store, 1), borrowedAt)
	require.NoError(t, err)

	sweepAt := borrowedAt.Add(16 * 24 * time.Hour)

	transitioned, err := engine.OverdueSweep(context.Background(), sweepAt)
	require.NoError(t, err)
	require.Equal(t, 1, transitioned)

	fineAfterFirst := mustGetLoan(t, store, loan.ID).Fine

	// act - a second sweep with the same now
	transitioned, err = engine.OverdueSweep(context.Background(), sweepAt)

	// assert - nothing transitions and the fine is unchanged
	require.NoError(t, err)
	assert.Equal(t, 0, transitioned)
	assert.Equal(t, fineAfterFirst, mustGetLoan(t, store, loan.ID).Fine)
}

func Test_OverdueSweep_RefreshesFines_WithAdvancingNow(t *testing.T) {
	// arrange
	store := newTestStore(t)
	engine := newTestEngine(t, store)
	userID := givenUser(t, store, 5)
	borrowedAt := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)

	loan, err := engine.Borrow(context.Background(), userID, givenBook(t, store, 1), borrowedAt)
	require.NoError(t, err)

	_, err = engine.OverdueSweep(context.Background(), borrowedAt.Add(16*24*time.Hour))
	require.NoError(t, err)
	require.Equal(t, int64(2), mustGetLoan(t, store, loan.ID).Fine)

	// act - sweep again four days later
	transitioned, err := engine.OverdueSweep(context.Background(), borrowedAt.Add(20*24*time.Hour))

	// assert - no new transition, but the fine grew
	require.NoError(t, err)
	assert.Equal(t, 0, transitioned)
	assert.Equal(t, int64(6), mustGetLoan(t, store, loan.ID).Fine)
}

func Test_Borrow_Concurrent_ExactlyOneWinsTheLastCopy(t *testing.T) {
	// arrange - one copy, many users racing for it
	store := newTestStore(t)
	engine := newTestEngine(t, store)
	bookID := givenBook(t, store, 1)
	now := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)

	const contenders = 8

	userIDs := make([]uuid.UUID, contenders)
	for i := range userIDs {
		userIDs[i] = givenUser(t, store, 5)
	}

	var waitGroup sync.WaitGroup
	results := make([]error, contenders)

	// act
	for i := 0; i < contenders; i++ {
		waitGroup.Add(1)

		go func(slot int) {
			defer waitGroup.Done()
			_, results[slot] = engine.Borrow(context.Background(), userIDs[slot], bookID, now)
		}(i)
	}

	waitGroup.Wait()

	// assert - exactly one borrow succeeded, the rest found no copy
	successes := 0
	for _, resultErr := range results {
		if resultErr == nil {
			successes++
		} else {
			assert.ErrorIs(t, resultErr, lending.ErrBookUnavailable)
		}
	}

	assert.Equal(t, 1, successes)
	assert.Equal(t, 0, availableCopies(t, store, bookID))
}

func Test_Borrow_Concurrent_SameUser_RetriesResolveVersionConflicts(t *testing.T) {
	// arrange - one user borrowing distinct books concurrently; conflicting
	// loan-set versions are resolved by the retry loop
	store := newTestStore(t)
	engine := newTestEngine(t, store)
	userID := givenUser(t, store, 4)
	now := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)

	const books = 4

	bookIDs := make([]uuid.UUID, books)
	for i := range bookIDs {
		bookIDs[i] = givenBook(t, store, 1)
	}

	var waitGroup sync.WaitGroup
	results := make([]error, books)

	// act
	for i := 0; i < books; i++ {
		waitGroup.Add(1)

		go func(slot int) {
			defer waitGroup.Done()
			_, results[slot] = engine.Borrow(context.Background(), userID, bookIDs[slot], now)
		}(i)
	}

	waitGroup.Wait()

	// assert
	for _, resultErr := range results {
		assert.NoError(t, resultErr)
	}

	activeCount, err := store.CountActiveLoans(context.Background(), userID)
	require.NoError(t, err)
	assert.Equal(t, books, activeCount)
}

func Test_Borrow_Concurrent_SameUser_NeverExceedsBorrowLimit(t *testing.T) {
	// arrange - one user with a limit of one, racing for distinct books; the
	// version check forces losers to re-read the loan set and see the limit
	store := newTestStore(t)
	engine := newTestEngine(t, store)
	userID := givenUser(t, store, 1)
	now := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)

	const contenders = 6

	bookIDs := make([]uuid.UUID, contenders)
	for i := range bookIDs {
		bookIDs[i] = givenBook(t, store, 1)
	}

	var waitGroup sync.WaitGroup
	results := make([]error, contenders)

	// act
	for i := 0; i < contenders; i++ {
		waitGroup.Add(1)

		go func(slot int) {
			defer waitGroup.Done()
			_, results[slot] = engine.Borrow(context.Background(), userID, bookIDs[slot], now)
		}(i)
	}

	waitGroup.Wait()

	// assert - exactly one borrow got through, losers hit the limit and any
	// copy they reserved along the way was released again
	successes := 0
	for slot, resultErr := range results {
		if resultErr == nil {
			successes++
			assert.Equal(t, 0, availableCopies(t, store, bookIDs[slot]))
		} else {
			assert.ErrorIs(t, resultErr, lending.ErrBorrowLimitExceeded)
			assert.Equal(t, 1, availableCopies(t, store, bookIDs[slot]))
		}
	}

	assert.Equal(t, 1, successes)

	activeCount, err := store.CountActiveLoans(context.Background(), userID)
	require.NoError(t, err)
	assert.Equal(t, 1, activeCount)
}

func Test_AdminDelete_ReleasesCopy_WhenLoanStillActive(t *testing.T) {
	// arrange
	store := newTestStore(t)
	engine := newTestEngine(t, store)
	bookID := givenBook(t, store, 1)
	userID := givenUser(t, store, 5)

	loan, err := engine.Borrow(context.Background(), userID, bookID, time.Now())
	require.NoError(t, err)
	require.Equal(t, 0, availableCopies(t, store, bookID))

	// act
	err = engine.AdminDelete(context.Background(), loan.ID)

	// assert
	require.NoError(t, err)
	assert.Equal(t, 1, availableCopies(t, store, bookID))
	assert.Contains(t, auditActions(store), lending.AuditLoanDeleted)

	_, err = store.GetLoan(context.Background(), loan.ID)
	assert.ErrorIs(t, err, lending.ErrLoanNotFound)
}

func Test_AdminDelete_DoesNotRelease_WhenLoanAlreadyReturned(t *testing.T) {
	// arrange
	store := newTestStore(t)
	engine := newTestEngine(t, store)
	bookID := givenBook(t, store, 1)
	userID := givenUser(t, store, 5)
	now := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)

	loan, err := engine.Borrow(context.Background(), userID, bookID, now)
	require.NoError(t, err)

	_, err = engine.Return(context.Background(), loan.ID, userID, lending.RoleUser, now.Add(time.Hour))
	require.NoError(t, err)
	require.Equal(t, 1, availableCopies(t, store, bookID))

	// act
	err = engine.AdminDelete(context.Background(), loan.ID)

	// assert - the returned loan owned no reservation, so nothing is released
	require.NoError(t, err)
	assert.Equal(t, 1, availableCopies(t, store, bookID))
}

func Test_ResizeBook_ShrinkClampsAvailable_AndReturnsAreCapped(t *testing.T) {
	// arrange - 5 copies, 3 on loan, 2 available
	store := newTestStore(t)
	engine := newTestEngine(t, store)
	bookID := givenBook(t, store, 5)
	now := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)

	loans := make([]lending.Loan, 3)
	for i := range loans {
		userID := givenUser(t, store, 5)
		loan, err := engine.Borrow(context.Background(), userID, bookID, now)
		require.NoError(t, err)
		loans[i] = loan
	}
	require.Equal(t, 2, availableCopies(t, store, bookID))

	// act - shrink the stock to 2
	err := engine.ResizeBook(context.Background(), bookID, 2)

	// assert
	require.NoError(t, err)
	book, err := store.GetBook(context.Background(), bookID)
	require.NoError(t, err)
	assert.Equal(t, 2, book.TotalCopies)
	assert.Equal(t, 2, book.AvailableCopies)
	assert.Contains(t, auditActions(store), lending.AuditStockResized)

	// act - returning loans never pushes available past the new total
	for _, loan := range loans {
		_, err = engine.Return(context.Background(), loan.ID, loan.UserID, lending.RoleUser, now.Add(time.Hour))
		require.NoError(t, err)
		assert.Equal(t, 2, availableCopies(t, store, bookID))
	}
}

func Test_ResizeBook_Fails_WithNegativeTotal(t *testing.T) {
	// arrange
	store := newTestStore(t)
	engine := newTestEngine(t, store)
	bookID := givenBook(t, store, 2)

	// act
	err := engine.ResizeBook(context.Background(), bookID, -1)

	// assert
	assert.ErrorIs(t, err, lending.ErrNegativeCopyCount)
}

func Test_ResizeBook_Fails_WhenBookUnknown(t *testing.T) {
	// arrange
	store := newTestStore(t)
	engine := newTestEngine(t, store)

	// act
	err := engine.ResizeBook(context.Background(), uuid.New(), 3)

	// assert
	assert.ErrorIs(t, err, lending.ErrBookNotFound)
}

func Test_ActiveLoans_OrderedByDueDate(t *testing.T) {
	// arrange
	store := newTestStore(t)
	engine := newTestEngine(t, store)
	userID := givenUser(t, store, 5)
	baseTime := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)

	late, err := engine.Borrow(context.Background(), userID, givenBook(t, store, 1), baseTime.Add(48*time.Hour))
	require.NoError(t, err)

	early, err := engine.Borrow(context.Background(), userID, givenBook(t, store, 1), baseTime)
	require.NoError(t, err)

	returned, err := engine.Borrow(context.Background(), userID, givenBook(t, store, 1), baseTime.Add(time.Hour))
	require.NoError(t, err)
	_, err = engine.Return(context.Background(), returned.ID, userID, lending.RoleUser, baseTime.Add(2*time.Hour))
	require.NoError(t, err)

	// act
	active, err := engine.ActiveLoans(context.Background(), userID)

	// assert - only active loans, earliest due date first
	require.NoError(t, err)
	require.Len(t, active, 2)
	assert.Equal(t, early.ID, active[0].ID)
	assert.Equal(t, late.ID, active[1].ID)
}

func Test_LoanHistory_OwnerAndAdminMayRead_NewestFirst(t *testing.T) {
	// arrange
	store := newTestStore(t)
	engine := newTestEngine(t, store)
	ownerID := givenUser(t, store, 5)
	strangerID := givenUser(t, store, 5)
	baseTime := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)

	older, err := engine.Borrow(context.Background(), ownerID, givenBook(t, store, 1), baseTime)
	require.NoError(t, err)
	_, err = engine.Return(context.Background(), older.ID, ownerID, lending.RoleUser, baseTime.Add(time.Hour))
	require.NoError(t, err)

	newer, err := engine.Borrow(context.Background(), ownerID, givenBook(t, store, 1), baseTime.Add(24*time.Hour))
	require.NoError(t, err)

	// act + assert - the owner reads their own history, newest first
	history, err := engine.LoanHistory(context.Background(), ownerID, ownerID, lending.RoleUser)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, newer.ID, history[0].ID)
	assert.Equal(t, older.ID, history[1].ID)

	// act + assert - an admin reads anyone's history
	history, err = engine.LoanHistory(context.Background(), ownerID, strangerID, lending.RoleAdmin)
	require.NoError(t, err)
	assert.Len(t, history, 2)

	// act + assert - a stranger without the admin role may not
	_, err = engine.LoanHistory(context.Background(), ownerID, strangerID, lending.RoleUser)
	assert.ErrorIs(t, err, lending.ErrNotAuthorized)
}

func Test_OverdueLoans_ListsActiveLoansPastDue(t *testing.T) {
	// arrange
	store := newTestStore(t)
	engine := newTestEngine(t, store)
	userID := givenUser(t, store, 5)
	borrowedAt := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)

	pastDue, err := engine.Borrow(context.Background(), userID, givenBook(t, store, 1), borrowedAt)
	require.NoError(t, err)

	_, err = engine.Borrow(context.Background(), userID, givenBook(t, store, 1), borrowedAt.Add(10*24*time.Hour))
	require.NoError(t, err)

	// act - observed on day 16, only the first loan is past due
	overdue, err := engine.OverdueLoans(context.Background(), borrowedAt.Add(16*24*time.Hour))

	// assert
	require.NoError(t, err)
	require.Len(t, overdue, 1)
	assert.Equal(t, pastDue.ID, overdue[0].ID)
}

func Test_NewEngine_Fails_WithNilCollaborators(t *testing.T) {
	// arrange
	store := newTestStore(t)

	// act + assert
	_, err := lending.NewEngine(nil, store, store)
	assert.ErrorIs(t, err, lending.ErrNilInventoryLedger)

	_, err = lending.NewEngine(store, nil, store)
	assert.ErrorIs(t, err, lending.ErrNilLoanStore)

	_, err = lending.NewEngine(store, store, nil)
	assert.ErrorIs(t, err, lending.ErrNilUserDirectory)
}

func Test_NewEngine_Fails_WithNegativeFinePerDay(t *testing.T) {
	// arrange
	store := newTestStore(t)

	// act
	_, err := lending.NewEngine(store, store, store, lending.WithFinePerDay(-1))

	// assert
	assert.ErrorIs(t, err, lending.ErrInvalidFinePerDay)
}

func Test_Engine_CustomFineRateAndTerm(t *testing.T) {
	// arrange - 7-day term at 5 per day
	store := newTestStore(t)
	engine := newTestEngine(t, store,
		lending.WithFinePerDay(5),
		lending.WithLoanTerm(7*24*time.Hour),
	)
	bookID := givenBook(t, store, 1)
	userID := givenUser(t, store, 5)
	borrowedAt := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)

	loan, err := engine.Borrow(context.Background(), userID, bookID, borrowedAt)
	require.NoError(t, err)
	assert.Equal(t, borrowedAt.Add(7*24*time.Hour), loan.DueDate)

	// act - returned on day 10, 3 days past the 7-day term
	returned, err := engine.Return(context.Background(), loan.ID, userID, lending.RoleUser, borrowedAt.Add(10*24*time.Hour))

	// assert
	require.NoError(t, err)
	assert.Equal(t, int64(15), returned.Fine)
}

func mustGetLoan(t *testing.T, store *memoryengine.Store, loanID uuid.UUID) lending.Loan {
	t.Helper()

	loan, err := store.GetLoan(context.Background(), loanID)
	require.NoError(t, err)

	return loan
}

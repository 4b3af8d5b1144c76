package postgresengine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/postgres" // driver import
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jmoiron/sqlx"

	"github.com/mohammed-shamil-th/library-lending-go/lending"
	"github.com/mohammed-shamil-th/library-lending-go/lending/postgresengine/internal/adapters"
)

const (
	defaultBooksTableName = "books"
	defaultUsersTableName = "users"
	defaultLoansTableName = "loans"
	defaultAuditTableName = "audit_log"
	defaultSequenceName   = "loans_sequence"

	logMsgBuildQueryFailed    = "failed to build query"
	logMsgDBQueryFailed       = "database query execution failed"
	logMsgDBExecFailed        = "database command execution failed"
	logMsgCloseRowsFailed     = "failed to close database rows"
	logMsgScanRowFailed       = "failed to scan database row"
	logMsgRowsAffectedFailed  = "failed to get rows affected count"
	logMsgConcurrencyConflict = "concurrency conflict detected"
	logMsgLoanAppended        = "loan appended"
	logMsgReturnFinalized     = "loan return finalized"
	logMsgOverdueSwept        = "overdue loans swept"
	logMsgReleaseCapped       = "release capped at total copies"
	logMsgSQLExecuted         = "executed sql for: "
	logMsgOperation           = "loan store operation: "

	logAttrError            = "error"
	logAttrQuery            = "query"
	logAttrDurationMS       = "duration_ms"
	logAttrRowsAffected     = "rows_affected"
	logAttrExpectedVersion  = "expected_version"
	logAttrBookID           = "book_id"
	logAttrUserID           = "user_id"
	logAttrLoanID           = "loan_id"
	logAttrTransitionedRows = "transitioned"

	colID              = "id"
	colTitle           = "title"
	colAuthor          = "author"
	colISBN            = "isbn"
	colTotalCopies     = "total_copies"
	colAvailableCopies = "available_copies"
	colName            = "name"
	colRole            = "role"
	colMaxBooksAllowed = "max_books_allowed"
	colBookID          = "book_id"
	colUserID          = "user_id"
	colBorrowDate      = "borrow_date"
	colDueDate         = "due_date"
	colReturnDate      = "return_date"
	colStatus          = "status"
	colFine            = "fine"
	colNotes           = "notes"
	colSequenceNumber  = "sequence_number"
	colAction          = "action"
	colLoanID          = "loan_id"
	colOccurredAt      = "occurred_at"
	colPayload         = "payload"

	cteLoanSet      = "loan_set"
	aliasMaxSeq     = "max_seq"
	dialectPostgres = "postgres"
)

// Metric names and label keys reported to the configured MetricsCollector.
const (
	QueryDurationMetric        = "loanstore_query_duration_seconds"
	CommandDurationMetric      = "loanstore_command_duration_seconds"
	ConcurrencyConflictsMetric = "loanstore_concurrency_conflicts_total"
	OperationLabel             = "operation"
)

var (
	// ErrNilDatabaseConnection is returned when a nil database handle is passed to a constructor.
	ErrNilDatabaseConnection = errors.New("database connection must not be nil")

	// ErrEmptyTableName is returned when an empty table name is configured.
	ErrEmptyTableName = errors.New("table name must not be empty")

	// ErrBuildingQueryFailed is returned when converting a statement to SQL fails.
	ErrBuildingQueryFailed = errors.New("building the database query failed")

	// ErrQueryingFailed is returned when executing a select query fails.
	ErrQueryingFailed = errors.New("querying the database failed")

	// ErrExecutingFailed is returned when executing a command fails.
	ErrExecutingFailed = errors.New("executing the database command failed")

	// ErrScanningDBRowFailed is returned when scanning a result row fails.
	ErrScanningDBRowFailed = errors.New("scanning the database row failed")

	// ErrGettingRowsAffectedFailed is returned when the affected row count can not be read.
	ErrGettingRowsAffectedFailed = errors.New("getting rows affected failed")
)

type (
	sqlQueryString    = string
	rowsAffectedInt64 = int64
	queryDuration     = time.Duration
)

// Store is a PostgreSQL implementation of lending.InventoryLedger,
// lending.LoanStore, lending.UserDirectory, and lending.AuditLog.
//
// All conditional writes are single statements whose WHERE clause re-checks
// the guarded state, so the check and the mutation are atomic without
// explicit transactions. An affected row count of zero means the guard did
// not hold and is disambiguated with a follow-up read where necessary.
type Store struct {
	db            adapters.DBAdapter
	booksTable    string
	usersTable    string
	loansTable    string
	auditTable    string
	loansSequence string
	logger        lending.Logger
	metrics       lending.MetricsCollector
	tracing       lending.TracingCollector
	ctxLogger     lending.ContextualLogger
}

// NewStoreFromPGXPool creates a new Store using a pgx pool with optional configuration.
func NewStoreFromPGXPool(db *pgxpool.Pool, options ...Option) (Store, error) {
	if db == nil {
		return Store{}, ErrNilDatabaseConnection
	}

	return newStore(adapters.NewPGXAdapter(db), options...)
}

// NewStoreFromPGXPoolAndReplica creates a new Store that routes reads made
// with lending.EventualConsistency to the replica pool. All writes and all
// strongly consistent reads go to the primary.
func NewStoreFromPGXPoolAndReplica(db *pgxpool.Pool, replica *pgxpool.Pool, options ...Option) (Store, error) {
	if db == nil || replica == nil {
		return Store{}, ErrNilDatabaseConnection
	}

	return newStore(adapters.NewPGXAdapterWithReplica(db, replica), options...)
}

// NewStoreFromSQLDB creates a new Store using a sql.DB with optional configuration.
func NewStoreFromSQLDB(db *sql.DB, options ...Option) (Store, error) {
	if db == nil {
		return Store{}, ErrNilDatabaseConnection
	}

	return newStore(adapters.NewSQLAdapter(db), options...)
}

// NewStoreFromSQLX creates a new Store using a sqlx.DB with optional configuration.
func NewStoreFromSQLX(db *sqlx.DB, options ...Option) (Store, error) {
	if db == nil {
		return Store{}, ErrNilDatabaseConnection
	}

	return newStore(adapters.NewSQLXAdapter(db), options...)
}

func newStore(db adapters.DBAdapter, options ...Option) (Store, error) {
	s := Store{
		db:            db,
		booksTable:    defaultBooksTableName,
		usersTable:    defaultUsersTableName,
		loansTable:    defaultLoansTableName,
		auditTable:    defaultAuditTableName,
		loansSequence: defaultSequenceName,
	}

	for _, option := range options {
		if err := option(&s); err != nil {
			return Store{}, err
		}
	}

	return s, nil
}

/* ---------- lending.InventoryLedger ---------- */

// AddBook registers a book, replacing any previous entry with the same identity.
func (s Store) AddBook(ctx context.Context, book lending.Book) error {
	if book.TotalCopies < 0 || book.AvailableCopies < 0 || book.AvailableCopies > book.TotalCopies {
		return lending.ErrNegativeCopyCount
	}

	insertStmt := goqu.Dialect(dialectPostgres).
		Insert(s.booksTable).
		Rows(goqu.Record{
			colID:              book.ID.String(),
			colTitle:           book.Title,
			colAuthor:          book.Author,
			colISBN:            book.ISBN,
			colTotalCopies:     book.TotalCopies,
			colAvailableCopies: book.AvailableCopies,
		}).
		OnConflict(goqu.DoUpdate(colID, goqu.Record{
			colTitle:           book.Title,
			colAuthor:          book.Author,
			colISBN:            book.ISBN,
			colTotalCopies:     book.TotalCopies,
			colAvailableCopies: book.AvailableCopies,
		}))

	sqlQuery, _, toSQLErr := insertStmt.ToSQL()
	if toSQLErr != nil {
		return s.buildQueryError(toSQLErr)
	}

	_, _, execErr := s.executeCommand(ctx, sqlQuery, "add_book")

	return execErr
}

// GetBook returns the current copy counts for a book.
func (s Store) GetBook(ctx context.Context, bookID uuid.UUID) (lending.Book, error) {
	selectStmt := goqu.Dialect(dialectPostgres).
		From(s.booksTable).
		Select(colTitle, colAuthor, colISBN, colTotalCopies, colAvailableCopies).
		Where(goqu.Ex{colID: bookID.String()})

	sqlQuery, _, toSQLErr := selectStmt.ToSQL()
	if toSQLErr != nil {
		return lending.Book{}, s.buildQueryError(toSQLErr)
	}

	rows, _, queryErr := s.executeQuery(ctx, sqlQuery, "get_book")
	if queryErr != nil {
		return lending.Book{}, queryErr
	}
	defer s.closeRows(rows)

	if !rows.Next() {
		return lending.Book{}, lending.ErrBookNotFound
	}

	book := lending.Book{ID: bookID}

	scanErr := rows.Scan(&book.Title, &book.Author, &book.ISBN, &book.TotalCopies, &book.AvailableCopies)
	if scanErr != nil {
		return lending.Book{}, s.scanRowError(scanErr)
	}

	return book, nil
}

// Reserve decrements the book's available copies by one, conditional on a
// copy being available.
func (s Store) Reserve(ctx context.Context, bookID uuid.UUID) error {
	updateStmt := goqu.Dialect(dialectPostgres).
		Update(s.booksTable).
		Set(goqu.Record{colAvailableCopies: goqu.L(colAvailableCopies + " - 1")}).
		Where(
			goqu.C(colID).Eq(bookID.String()),
			goqu.C(colAvailableCopies).Gt(0),
		)

	sqlQuery, _, toSQLErr := updateStmt.ToSQL()
	if toSQLErr != nil {
		return s.buildQueryError(toSQLErr)
	}

	rowsAffected, _, execErr := s.executeCommand(ctx, sqlQuery, "reserve")
	if execErr != nil {
		return execErr
	}

	if rowsAffected == 0 {
		if _, getErr := s.GetBook(lending.WithStrongConsistency(ctx), bookID); getErr != nil {
			return getErr
		}

		return lending.ErrBookUnavailable
	}

	return nil
}

// Release increments the book's available copies by one, capped at the total.
func (s Store) Release(ctx context.Context, bookID uuid.UUID) error {
	updateStmt := goqu.Dialect(dialectPostgres).
		Update(s.booksTable).
		Set(goqu.Record{colAvailableCopies: goqu.L(colAvailableCopies + " + 1")}).
		Where(
			goqu.C(colID).Eq(bookID.String()),
			goqu.C(colAvailableCopies).Lt(goqu.C(colTotalCopies)),
		)

	sqlQuery, _, toSQLErr := updateStmt.ToSQL()
	if toSQLErr != nil {
		return s.buildQueryError(toSQLErr)
	}

	rowsAffected, _, execErr := s.executeCommand(ctx, sqlQuery, "release")
	if execErr != nil {
		return execErr
	}

	if rowsAffected == 0 {
		if _, getErr := s.GetBook(lending.WithStrongConsistency(ctx), bookID); getErr != nil {
			return getErr
		}

		// Should never happen in correct operation; the cap keeps the
		// invariant intact even under a bug elsewhere.
		if s.logger != nil {
			s.logger.Warn(logMsgReleaseCapped, logAttrBookID, bookID.String())
		}
	}

	return nil
}

// Resize sets the book's total copies, clamping available copies on a shrink.
func (s Store) Resize(ctx context.Context, bookID uuid.UUID, newTotal int) error {
	if newTotal < 0 {
		return lending.ErrNegativeCopyCount
	}

	updateStmt := goqu.Dialect(dialectPostgres).
		Update(s.booksTable).
		Set(goqu.Record{
			colTotalCopies:     newTotal,
			colAvailableCopies: goqu.L("LEAST("+colAvailableCopies+", ?)", newTotal),
		}).
		Where(goqu.C(colID).Eq(bookID.String()))

	sqlQuery, _, toSQLErr := updateStmt.ToSQL()
	if toSQLErr != nil {
		return s.buildQueryError(toSQLErr)
	}

	rowsAffected, _, execErr := s.executeCommand(ctx, sqlQuery, "resize")
	if execErr != nil {
		return execErr
	}

	if rowsAffected == 0 {
		return lending.ErrBookNotFound
	}

	return nil
}

// RemoveBook deletes a book unless active loans still reference it.
// The existence check for active loans and the delete are one statement.
func (s Store) RemoveBook(ctx context.Context, bookID uuid.UUID) error {
	activeLoansStmt := goqu.Dialect(dialectPostgres).
		From(s.loansTable).
		Select(goqu.L("1")).
		Where(
			goqu.C(colBookID).Eq(bookID.String()),
			goqu.C(colStatus).In(activeStatuses()...),
		)

	deleteStmt := goqu.Dialect(dialectPostgres).
		Delete(s.booksTable).
		Where(
			goqu.C(colID).Eq(bookID.String()),
			goqu.L("NOT EXISTS ?", activeLoansStmt),
		)

	sqlQuery, _, toSQLErr := deleteStmt.ToSQL()
	if toSQLErr != nil {
		return s.buildQueryError(toSQLErr)
	}

	rowsAffected, _, execErr := s.executeCommand(ctx, sqlQuery, "remove_book")
	if execErr != nil {
		return execErr
	}

	if rowsAffected == 0 {
		if _, getErr := s.GetBook(lending.WithStrongConsistency(ctx), bookID); getErr != nil {
			return getErr
		}

		return lending.ErrBookHasActiveLoans
	}

	return nil
}

/* ---------- lending.LoanStore ---------- */

// GetLoan returns a loan by identity.
func (s Store) GetLoan(ctx context.Context, loanID uuid.UUID) (lending.Loan, error) {
	selectStmt := s.selectLoans().Where(goqu.Ex{colID: loanID.String()})

	loans, err := s.queryLoans(ctx, selectStmt, "get_loan")
	if err != nil {
		return lending.Loan{}, err
	}

	if len(loans) == 0 {
		return lending.Loan{}, lending.ErrLoanNotFound
	}

	return loans[0], nil
}

// UserLoanSummary snapshots the user's loan set with respect to one book in a
// single query, together with the loan-set version the snapshot was taken at.
//
// The version is COALESCE(MAX(sequence_number), 0) over the user's loans;
// every insert and every status transition draws a fresh sequence value, so
// any change to the set moves the version.
func (s Store) UserLoanSummary(ctx context.Context, userID uuid.UUID, bookID uuid.UUID) (
	lending.LoanSummary,
	lending.LoanSetVersionUint,
	error,
) {

	borrowed := string(lending.StatusBorrowed)
	overdue := string(lending.StatusOverdue)

	selectStmt := goqu.Dialect(dialectPostgres).
		From(s.loansTable).
		Select(
			goqu.L("COUNT(*) FILTER (WHERE status IN (?, ?))", borrowed, overdue),
			goqu.L("COUNT(*) FILTER (WHERE status = ?)", overdue),
			goqu.L("COUNT(*) FILTER (WHERE status IN (?, ?) AND book_id = ?) > 0", borrowed, overdue, bookID.String()),
			goqu.COALESCE(goqu.MAX(colSequenceNumber), 0),
		).
		Where(goqu.Ex{colUserID: userID.String()})

	sqlQuery, _, toSQLErr := selectStmt.ToSQL()
	if toSQLErr != nil {
		return lending.LoanSummary{}, 0, s.buildQueryError(toSQLErr)
	}

	rows, _, queryErr := s.executeQuery(ctx, sqlQuery, "user_loan_summary")
	if queryErr != nil {
		return lending.LoanSummary{}, 0, queryErr
	}
	defer s.closeRows(rows)

	var (
		activeCount  int64
		overdueCount int64
		hasActive    bool
		version      int64
	)

	if !rows.Next() {
		// An aggregate over zero rows still yields one row; not reaching it
		// means the iteration itself failed.
		return lending.LoanSummary{}, 0, ErrQueryingFailed
	}

	if scanErr := rows.Scan(&activeCount, &overdueCount, &hasActive, &version); scanErr != nil {
		return lending.LoanSummary{}, 0, s.scanRowError(scanErr)
	}

	summary := lending.LoanSummary{
		ActiveCount:      int(activeCount),
		OverdueCount:     int(overdueCount),
		HasActiveLoanFor: hasActive,
	}

	return summary, lending.LoanSetVersionUint(version), nil
}

// AppendLoan creates a loan record, conditional on the user's loan-set
// version still being expectedVersion.
//
// The version check and the insert are one statement: the inserted row is
// selected from a CTE that re-reads the version, so a concurrent change to
// the set makes the insert affect zero rows.
func (s Store) AppendLoan(ctx context.Context, loan lending.Loan, expectedVersion lending.LoanSetVersionUint) error {
	builder := goqu.Dialect(dialectPostgres)

	cteStmt := builder.
		From(s.loansTable).
		Select(goqu.MAX(colSequenceNumber).As(aliasMaxSeq)).
		Where(goqu.Ex{colUserID: loan.UserID.String()})

	selectStmt := builder.
		From(cteLoanSet).
		Select(
			goqu.V(loan.ID.String()),
			goqu.V(loan.BookID.String()),
			goqu.V(loan.UserID.String()),
			goqu.V(loan.BorrowDate),
			goqu.V(loan.DueDate),
			goqu.V(string(loan.Status)),
			goqu.V(loan.Fine),
			goqu.V(loan.Notes),
		).
		Where(goqu.COALESCE(goqu.C(aliasMaxSeq), 0).Eq(goqu.V(int64(expectedVersion))))

	insertStmt := builder.
		Insert(s.loansTable).
		Cols(colID, colBookID, colUserID, colBorrowDate, colDueDate, colStatus, colFine, colNotes).
		FromQuery(selectStmt).
		With(cteLoanSet, cteStmt)

	sqlQuery, _, toSQLErr := insertStmt.ToSQL()
	if toSQLErr != nil {
		return s.buildQueryError(toSQLErr)
	}

	rowsAffected, duration, execErr := s.executeCommand(ctx, sqlQuery, "append_loan")
	if execErr != nil {
		return execErr
	}

	if rowsAffected == 0 {
		s.logOperation(
			logMsgConcurrencyConflict,
			logAttrUserID, loan.UserID.String(),
			logAttrExpectedVersion, expectedVersion,
		)
		s.incrementCounter(ConcurrencyConflictsMetric, "append_loan")

		return lending.ErrConcurrencyConflict
	}

	s.logOperation(
		logMsgLoanAppended,
		logAttrLoanID, loan.ID.String(),
		logAttrDurationMS, s.durationToMilliseconds(duration),
	)

	return nil
}

// FinalizeReturn transitions a loan to returned, conditional on the loan not
// already being returned. Exactly one caller of a race wins the update.
func (s Store) FinalizeReturn(ctx context.Context, loanID uuid.UUID, returnedAt time.Time, fine int64) error {
	updateStmt := goqu.Dialect(dialectPostgres).
		Update(s.loansTable).
		Set(goqu.Record{
			colStatus:         string(lending.StatusReturned),
			colReturnDate:     lending.ToTimestamp(returnedAt),
			colFine:           fine,
			colSequenceNumber: s.nextSequenceValue(),
		}).
		Where(
			goqu.C(colID).Eq(loanID.String()),
			goqu.C(colStatus).Neq(string(lending.StatusReturned)),
		)

	sqlQuery, _, toSQLErr := updateStmt.ToSQL()
	if toSQLErr != nil {
		return s.buildQueryError(toSQLErr)
	}

	rowsAffected, duration, execErr := s.executeCommand(ctx, sqlQuery, "finalize_return")
	if execErr != nil {
		return execErr
	}

	if rowsAffected == 0 {
		if _, getErr := s.GetLoan(lending.WithStrongConsistency(ctx), loanID); getErr != nil {
			return getErr
		}

		return lending.ErrAlreadyReturned
	}

	s.logOperation(
		logMsgReturnFinalized,
		logAttrLoanID, loanID.String(),
		logAttrDurationMS, s.durationToMilliseconds(duration),
	)

	return nil
}

// MarkOverdue transitions every borrowed loan past its due date to overdue
// and refreshes the fines of loans already overdue. The refresh does not
// advance loan-set versions; only the status transition does.
func (s Store) MarkOverdue(ctx context.Context, now time.Time, ratePerDay int64) (int, error) {
	nowTs := lending.ToTimestamp(now)

	refreshStmt := goqu.Dialect(dialectPostgres).
		Update(s.loansTable).
		Set(goqu.Record{colFine: s.fineExpression(nowTs, ratePerDay)}).
		Where(
			goqu.C(colStatus).Eq(string(lending.StatusOverdue)),
			goqu.C(colDueDate).Lt(nowTs),
		)

	refreshQuery, _, refreshSQLErr := refreshStmt.ToSQL()
	if refreshSQLErr != nil {
		return 0, s.buildQueryError(refreshSQLErr)
	}

	if _, _, execErr := s.executeCommand(ctx, refreshQuery, "refresh_fines"); execErr != nil {
		return 0, execErr
	}

	transitionStmt := goqu.Dialect(dialectPostgres).
		Update(s.loansTable).
		Set(goqu.Record{
			colStatus:         string(lending.StatusOverdue),
			colFine:           s.fineExpression(nowTs, ratePerDay),
			colSequenceNumber: s.nextSequenceValue(),
		}).
		Where(
			goqu.C(colStatus).Eq(string(lending.StatusBorrowed)),
			goqu.C(colDueDate).Lt(nowTs),
		)

	transitionQuery, _, transitionSQLErr := transitionStmt.ToSQL()
	if transitionSQLErr != nil {
		return 0, s.buildQueryError(transitionSQLErr)
	}

	rowsAffected, duration, execErr := s.executeCommand(ctx, transitionQuery, "mark_overdue")
	if execErr != nil {
		return 0, execErr
	}

	s.logOperation(
		logMsgOverdueSwept,
		logAttrTransitionedRows, rowsAffected,
		logAttrDurationMS, s.durationToMilliseconds(duration),
	)

	return int(rowsAffected), nil
}

// DeleteLoan removes a loan record.
func (s Store) DeleteLoan(ctx context.Context, loanID uuid.UUID) error {
	deleteStmt := goqu.Dialect(dialectPostgres).
		Delete(s.loansTable).
		Where(goqu.C(colID).Eq(loanID.String()))

	sqlQuery, _, toSQLErr := deleteStmt.ToSQL()
	if toSQLErr != nil {
		return s.buildQueryError(toSQLErr)
	}

	rowsAffected, _, execErr := s.executeCommand(ctx, sqlQuery, "delete_loan")
	if execErr != nil {
		return execErr
	}

	if rowsAffected == 0 {
		return lending.ErrLoanNotFound
	}

	return nil
}

// CountActiveLoans returns the number of the user's borrowed or overdue loans.
func (s Store) CountActiveLoans(ctx context.Context, userID uuid.UUID) (int, error) {
	selectStmt := goqu.Dialect(dialectPostgres).
		From(s.loansTable).
		Select(goqu.COUNT(goqu.Star())).
		Where(
			goqu.C(colUserID).Eq(userID.String()),
			goqu.C(colStatus).In(activeStatuses()...),
		)

	return s.queryCount(ctx, selectStmt, "count_active_loans")
}

// CountOverdueLoans returns the number of the user's overdue loans.
func (s Store) CountOverdueLoans(ctx context.Context, userID uuid.UUID) (int, error) {
	selectStmt := goqu.Dialect(dialectPostgres).
		From(s.loansTable).
		Select(goqu.COUNT(goqu.Star())).
		Where(
			goqu.C(colUserID).Eq(userID.String()),
			goqu.C(colStatus).Eq(string(lending.StatusOverdue)),
		)

	return s.queryCount(ctx, selectStmt, "count_overdue_loans")
}

// FindActiveLoan returns the user's active loan for a book, if any.
func (s Store) FindActiveLoan(ctx context.Context, userID uuid.UUID, bookID uuid.UUID) (lending.Loan, bool, error) {
	selectStmt := s.selectLoans().
		Where(
			goqu.C(colUserID).Eq(userID.String()),
			goqu.C(colBookID).Eq(bookID.String()),
			goqu.C(colStatus).In(activeStatuses()...),
		).
		Limit(1)

	loans, err := s.queryLoans(ctx, selectStmt, "find_active_loan")
	if err != nil {
		return lending.Loan{}, false, err
	}

	if len(loans) == 0 {
		return lending.Loan{}, false, nil
	}

	return loans[0], true, nil
}

// ActiveLoans returns the user's active loans, ordered by due date.
func (s Store) ActiveLoans(ctx context.Context, userID uuid.UUID) ([]lending.Loan, error) {
	selectStmt := s.selectLoans().
		Where(
			goqu.C(colUserID).Eq(userID.String()),
			goqu.C(colStatus).In(activeStatuses()...),
		).
		Order(goqu.I(colDueDate).Asc())

	return s.queryLoans(ctx, selectStmt, "active_loans")
}

// LoanHistory returns all loans of the user, newest first.
func (s Store) LoanHistory(ctx context.Context, userID uuid.UUID) ([]lending.Loan, error) {
	selectStmt := s.selectLoans().
		Where(goqu.C(colUserID).Eq(userID.String())).
		Order(goqu.I(colBorrowDate).Desc())

	return s.queryLoans(ctx, selectStmt, "loan_history")
}

// OverdueLoans returns all active loans past their due date as of now,
// ordered by due date.
func (s Store) OverdueLoans(ctx context.Context, now time.Time) ([]lending.Loan, error) {
	selectStmt := s.selectLoans().
		Where(
			goqu.C(colStatus).In(activeStatuses()...),
			goqu.C(colDueDate).Lt(lending.ToTimestamp(now)),
		).
		Order(goqu.I(colDueDate).Asc())

	return s.queryLoans(ctx, selectStmt, "overdue_loans")
}

/* ---------- lending.UserDirectory ---------- */

// AddUser registers a user, replacing any previous entry with the same identity.
func (s Store) AddUser(ctx context.Context, user lending.User) error {
	insertStmt := goqu.Dialect(dialectPostgres).
		Insert(s.usersTable).
		Rows(goqu.Record{
			colID:              user.ID.String(),
			colName:            user.Name,
			colRole:            string(user.Role),
			colMaxBooksAllowed: user.MaxBooksAllowed,
		}).
		OnConflict(goqu.DoUpdate(colID, goqu.Record{
			colName:            user.Name,
			colRole:            string(user.Role),
			colMaxBooksAllowed: user.MaxBooksAllowed,
		}))

	sqlQuery, _, toSQLErr := insertStmt.ToSQL()
	if toSQLErr != nil {
		return s.buildQueryError(toSQLErr)
	}

	_, _, execErr := s.executeCommand(ctx, sqlQuery, "add_user")

	return execErr
}

// GetUser returns a user by identity.
func (s Store) GetUser(ctx context.Context, userID uuid.UUID) (lending.User, error) {
	selectStmt := goqu.Dialect(dialectPostgres).
		From(s.usersTable).
		Select(colName, colRole, colMaxBooksAllowed).
		Where(goqu.Ex{colID: userID.String()})

	sqlQuery, _, toSQLErr := selectStmt.ToSQL()
	if toSQLErr != nil {
		return lending.User{}, s.buildQueryError(toSQLErr)
	}

	rows, _, queryErr := s.executeQuery(ctx, sqlQuery, "get_user")
	if queryErr != nil {
		return lending.User{}, queryErr
	}
	defer s.closeRows(rows)

	if !rows.Next() {
		return lending.User{}, lending.ErrUserNotFound
	}

	user := lending.User{ID: userID}
	role := ""

	scanErr := rows.Scan(&user.Name, &role, &user.MaxBooksAllowed)
	if scanErr != nil {
		return lending.User{}, s.scanRowError(scanErr)
	}

	user.Role = lending.Role(role)

	return user, nil
}

/* ---------- lending.AuditLog ---------- */

// AppendAudit records an audit entry. Identity columns without a value are
// stored as NULL.
func (s Store) AppendAudit(ctx context.Context, record lending.AuditRecord) error {
	row := goqu.Record{
		colAction:     record.Action,
		colLoanID:     nullableID(record.LoanID),
		colBookID:     nullableID(record.BookID),
		colUserID:     nullableID(record.UserID),
		colOccurredAt: record.OccurredAt,
		colPayload:    record.PayloadJSON,
	}

	insertStmt := goqu.Dialect(dialectPostgres).
		Insert(s.auditTable).
		Rows(row)

	sqlQuery, _, toSQLErr := insertStmt.ToSQL()
	if toSQLErr != nil {
		return s.buildQueryError(toSQLErr)
	}

	_, _, execErr := s.executeCommand(ctx, sqlQuery, "append_audit")

	return execErr
}

/* ---------- internals ---------- */

func (s Store) selectLoans() *goqu.SelectDataset {
	return goqu.Dialect(dialectPostgres).
		From(s.loansTable).
		Select(colID, colBookID, colUserID, colBorrowDate, colDueDate, colReturnDate, colStatus, colFine, colNotes)
}

// queryLoans executes a loan select statement and scans the result rows.
func (s Store) queryLoans(ctx context.Context, selectStmt *goqu.SelectDataset, operation string) ([]lending.Loan, error) {
	sqlQuery, _, toSQLErr := selectStmt.ToSQL()
	if toSQLErr != nil {
		return nil, s.buildQueryError(toSQLErr)
	}

	rows, _, queryErr := s.executeQuery(ctx, sqlQuery, operation)
	if queryErr != nil {
		return nil, queryErr
	}
	defer s.closeRows(rows)

	loans := make([]lending.Loan, 0)

	for rows.Next() {
		loan, scanErr := s.scanLoan(rows)
		if scanErr != nil {
			return nil, scanErr
		}

		loans = append(loans, loan)
	}

	return loans, nil
}

func (s Store) scanLoan(rows adapters.DBRows) (lending.Loan, error) {
	var (
		id         string
		bookID     string
		userID     string
		returnDate sql.NullTime
		status     string
	)

	loan := lending.Loan{}

	scanErr := rows.Scan(&id, &bookID, &userID, &loan.BorrowDate, &loan.DueDate, &returnDate, &status, &loan.Fine, &loan.Notes)
	if scanErr != nil {
		return lending.Loan{}, s.scanRowError(scanErr)
	}

	loanID, parseErr := uuid.Parse(id)
	if parseErr != nil {
		return lending.Loan{}, s.scanRowError(parseErr)
	}

	parsedBookID, parseErr := uuid.Parse(bookID)
	if parseErr != nil {
		return lending.Loan{}, s.scanRowError(parseErr)
	}

	parsedUserID, parseErr := uuid.Parse(userID)
	if parseErr != nil {
		return lending.Loan{}, s.scanRowError(parseErr)
	}

	loan.ID = loanID
	loan.BookID = parsedBookID
	loan.UserID = parsedUserID
	loan.Status = lending.LoanStatus(status)

	if returnDate.Valid {
		loan.ReturnDate = returnDate.Time
	}

	return loan, nil
}

// queryCount executes a single-aggregate select and returns the count.
func (s Store) queryCount(ctx context.Context, selectStmt *goqu.SelectDataset, operation string) (int, error) {
	sqlQuery, _, toSQLErr := selectStmt.ToSQL()
	if toSQLErr != nil {
		return 0, s.buildQueryError(toSQLErr)
	}

	rows, _, queryErr := s.executeQuery(ctx, sqlQuery, operation)
	if queryErr != nil {
		return 0, queryErr
	}
	defer s.closeRows(rows)

	if !rows.Next() {
		return 0, ErrQueryingFailed
	}

	var count int64

	if scanErr := rows.Scan(&count); scanErr != nil {
		return 0, s.scanRowError(scanErr)
	}

	return int(count), nil
}

// executeQuery executes a select query and returns rows with timing information.
func (s Store) executeQuery(ctx context.Context, sqlQuery string, operation string) (
	adapters.DBRows,
	queryDuration,
	error,
) {

	spanCtx, span := s.startSpan(ctx, spanNameQuery, operation)

	start := time.Now()
	rows, queryErr := s.db.Query(spanCtx, sqlQuery)
	duration := time.Since(start)
	s.logQueryWithDuration(sqlQuery, operation, duration)
	s.logQueryWithDurationContext(spanCtx, sqlQuery, operation, duration)
	s.recordDurationContext(spanCtx, QueryDurationMetric, operation, duration)

	if queryErr != nil {
		if s.logger != nil {
			s.logger.Error(logMsgDBQueryFailed, logAttrError, queryErr.Error(), logAttrQuery, sqlQuery)
		}
		s.logErrorContext(spanCtx, logMsgDBQueryFailed, queryErr, logAttrQuery, sqlQuery)
		s.finishSpanError(span, errorTypeQueryFailed, duration)

		return nil, duration, errors.Join(ErrQueryingFailed, queryErr)
	}

	s.finishSpanSuccess(span, duration, nil)

	return rows, duration, nil
}

// executeCommand executes a mutating statement and returns rows affected and duration.
func (s Store) executeCommand(ctx context.Context, sqlQuery string, operation string) (
	rowsAffectedInt64,
	queryDuration,
	error,
) {

	spanCtx, span := s.startSpan(ctx, spanNameCommand, operation)

	start := time.Now()
	result, execErr := s.db.Exec(spanCtx, sqlQuery)
	duration := time.Since(start)
	s.logQueryWithDuration(sqlQuery, operation, duration)
	s.logQueryWithDurationContext(spanCtx, sqlQuery, operation, duration)
	s.recordDurationContext(spanCtx, CommandDurationMetric, operation, duration)

	if execErr != nil {
		if s.logger != nil {
			s.logger.Error(logMsgDBExecFailed, logAttrError, execErr.Error(), logAttrQuery, sqlQuery)
		}
		s.logErrorContext(spanCtx, logMsgDBExecFailed, execErr, logAttrQuery, sqlQuery)
		s.finishSpanError(span, errorTypeExecFailed, duration)

		return 0, duration, errors.Join(ErrExecutingFailed, execErr)
	}

	rowsAffected, rowsAffectedErr := result.RowsAffected()
	if rowsAffectedErr != nil {
		if s.logger != nil {
			s.logger.Error(logMsgRowsAffectedFailed, logAttrError, rowsAffectedErr.Error())
		}
		s.logErrorContext(spanCtx, logMsgRowsAffectedFailed, rowsAffectedErr)
		s.finishSpanError(span, errorTypeRowsAffectedFailed, duration)

		return 0, duration, errors.Join(ErrGettingRowsAffectedFailed, rowsAffectedErr)
	}

	s.finishSpanSuccess(span, duration, map[string]string{
		spanAttrRowsAffected: fmt.Sprintf("%d", rowsAffected),
	})

	return rowsAffected, duration, nil
}

// closeRows safely closes database rows and logs any errors.
func (s Store) closeRows(rows adapters.DBRows) {
	if closeErr := rows.Close(); closeErr != nil {
		if s.logger != nil {
			s.logger.Warn(logMsgCloseRowsFailed, logAttrError, closeErr.Error())
		}
	}
}

// fineExpression computes the ceiling of full overdue days times the daily
// rate, matching lending.ComputeFine for due dates in the past.
func (s Store) fineExpression(now time.Time, ratePerDay int64) goqu.Expression {
	return goqu.L(
		"(CEIL(EXTRACT(EPOCH FROM (?::timestamptz - "+colDueDate+")) / 86400))::bigint * ?",
		now, ratePerDay,
	)
}

// nextSequenceValue draws a fresh value from the loan-set sequence so the
// owner's loan-set version moves forward.
func (s Store) nextSequenceValue() goqu.Expression {
	return goqu.L("nextval(?)", s.loansSequence)
}

func activeStatuses() []any {
	return []any{string(lending.StatusBorrowed), string(lending.StatusOverdue)}
}

func nullableID(id string) any {
	if id == "" {
		return nil
	}

	return id
}

func (s Store) buildQueryError(toSQLErr error) error {
	if s.logger != nil {
		s.logger.Error(logMsgBuildQueryFailed, logAttrError, toSQLErr.Error())
	}

	return errors.Join(ErrBuildingQueryFailed, toSQLErr)
}

func (s Store) scanRowError(scanErr error) error {
	if s.logger != nil {
		s.logger.Error(logMsgScanRowFailed, logAttrError, scanErr.Error())
	}

	return errors.Join(ErrScanningDBRowFailed, scanErr)
}

// logQueryWithDuration logs SQL queries with execution time at debug level if the logger is configured.
func (s Store) logQueryWithDuration(sqlQuery string, operation string, duration time.Duration) {
	if s.logger != nil {
		s.logger.Debug(logMsgSQLExecuted+operation, logAttrDurationMS, s.durationToMilliseconds(duration), logAttrQuery, sqlQuery)
	}
}

// logOperation logs operational information at info level if the logger is configured.
func (s Store) logOperation(operation string, args ...any) {
	if s.logger != nil {
		s.logger.Info(logMsgOperation+operation, args...)
	}
}

// recordDurationContext records a duration metric, preferring the
// context-aware method when the configured collector supports it.
func (s Store) recordDurationContext(ctx context.Context, metric string, operation string, duration time.Duration) {
	if s.metrics == nil {
		return
	}

	labels := map[string]string{OperationLabel: operation}
	if contextual, ok := s.metrics.(lending.ContextualMetricsCollector); ok {
		contextual.RecordDurationContext(ctx, metric, duration, labels)
		return
	}

	s.metrics.RecordDuration(metric, duration, labels)
}

func (s Store) incrementCounter(metric string, operation string) {
	if s.metrics != nil {
		s.metrics.IncrementCounter(metric, map[string]string{OperationLabel: operation})
	}
}

// durationToMilliseconds converts a time.Duration to float64 milliseconds with 3 decimal places.
func (s Store) durationToMilliseconds(d time.Duration) float64 {
	return math.Round(float64(d.Nanoseconds())/1e6*1000) / 1000
}

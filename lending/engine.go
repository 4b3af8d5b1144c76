package lending

import (
	"context"
	"errors"
	"time"

	jsoniter "github.com/json-iterator/go"

	"github.com/google/uuid"
)

const (
	opBorrow       = "Borrow"
	opAdminAssign  = "AdminAssign"
	opReturn       = "Return"
	opOverdueSweep = "OverdueSweep"
	opAdminDelete  = "AdminDelete"
	opResizeStock  = "ResizeStock"

	logMsgLoanCreated          = "loan created"
	logMsgLoanReturned         = "loan returned"
	logMsgLoanDeleted          = "loan deleted"
	logMsgOverdueSweepDone     = "overdue sweep completed"
	logMsgStockResized         = "book stock resized"
	logMsgReleaseAfterConflict = "released reservation after append conflict"
	logMsgReleaseFailed        = "releasing reserved copy failed"
	logMsgAuditAppendFailed    = "appending audit record failed"

	logAttrError    = "error"
	logAttrLoanID   = "loan_id"
	logAttrBookID   = "book_id"
	logAttrUserID   = "user_id"
	logAttrFine     = "fine"
	logAttrCount    = "count"
	logAttrNewTotal = "new_total"
	logAttrOp       = "operation"
)

var (
	// ErrNilInventoryLedger is returned when a nil inventory ledger is passed to NewEngine.
	ErrNilInventoryLedger = errors.New("inventory ledger must not be nil")

	// ErrNilLoanStore is returned when a nil loan store is passed to NewEngine.
	ErrNilLoanStore = errors.New("loan store must not be nil")

	// ErrNilUserDirectory is returned when a nil user directory is passed to NewEngine.
	ErrNilUserDirectory = errors.New("user directory must not be nil")

	// ErrInvalidFinePerDay is returned when a negative per-day fine rate is configured.
	ErrInvalidFinePerDay = errors.New("fine per day must not be negative")
)

// Engine orchestrates the borrow/return lifecycle over an inventory ledger,
// a loan store, and a user directory.
//
// Every mutating operation follows the same read-decide-write cycle: take a
// versioned snapshot, apply the pure eligibility rules, then write
// conditionally. Conditional writes that lose a race fail with
// ErrConcurrencyConflict and are retried with bounded exponential backoff;
// on exhaustion the conflict surfaces to the caller (KindUnavailable).
type Engine struct {
	ledger       InventoryLedger
	loans        LoanStore
	users        UserDirectory
	audit        AuditLog
	logger       Logger
	metrics      MetricsCollector
	finePerDay   int64
	loanTerm     time.Duration
	retryOptions []RetryOption
}

// EngineOption defines a functional option for configuring an Engine.
type EngineOption func(*Engine) error

// WithLogger sets the logger for the engine.
//
// Info level: completed operations with their key attributes
// Warn level: defensive anomalies (failed audit appends, release failures)
// Error level: operation failures that surface to the caller.
func WithLogger(logger Logger) EngineOption {
	return func(e *Engine) error {
		e.logger = logger
		return nil
	}
}

// WithMetrics sets the metrics collector for the engine and its retry loops.
func WithMetrics(collector MetricsCollector) EngineOption {
	return func(e *Engine) error {
		e.metrics = collector
		return nil
	}
}

// WithAuditLog sets the audit log that receives a record for every mutation.
func WithAuditLog(audit AuditLog) EngineOption {
	return func(e *Engine) error {
		e.audit = audit
		return nil
	}
}

// WithFinePerDay overrides the per-day fine rate (default DefaultFinePerDay).
func WithFinePerDay(rate int64) EngineOption {
	return func(e *Engine) error {
		if rate < 0 {
			return ErrInvalidFinePerDay
		}

		e.finePerDay = rate

		return nil
	}
}

// WithLoanTerm overrides the default loan term (default DefaultLoanTerm).
func WithLoanTerm(term time.Duration) EngineOption {
	return func(e *Engine) error {
		e.loanTerm = term
		return nil
	}
}

// WithRetryOptions sets a custom retry configuration for conditional writes.
func WithRetryOptions(opts ...RetryOption) EngineOption {
	return func(e *Engine) error {
		e.retryOptions = opts
		return nil
	}
}

// NewEngine creates an Engine over the given collaborators with optional configuration.
func NewEngine(ledger InventoryLedger, loans LoanStore, users UserDirectory, options ...EngineOption) (Engine, error) {
	if ledger == nil {
		return Engine{}, ErrNilInventoryLedger
	}

	if loans == nil {
		return Engine{}, ErrNilLoanStore
	}

	if users == nil {
		return Engine{}, ErrNilUserDirectory
	}

	engine := Engine{
		ledger:     ledger,
		loans:      loans,
		users:      users,
		finePerDay: DefaultFinePerDay,
		loanTerm:   DefaultLoanTerm,
	}

	for _, option := range options {
		if err := option(&engine); err != nil {
			return Engine{}, err
		}
	}

	return engine, nil
}

// Borrow creates a loan for the user on the book, reserving one copy.
//
// Preconditions, checked in order against a consistent snapshot:
// the book exists, the user exists, the user is under their borrowing limit,
// the user holds no active loan for this book, the user has no overdue loans,
// and a copy is available. The due date is now plus the configured loan term.
func (e Engine) Borrow(ctx context.Context, userID uuid.UUID, bookID uuid.UUID, now time.Time) (Loan, error) {
	return e.createLoan(ctx, userID, bookID, now, false, opBorrow, AuditBookBorrowed)
}

// AdminAssign creates a loan on behalf of a user, as Borrow does, but skips
// the overdue-loans block. The borrowing limit, the duplicate-loan check,
// and availability still apply.
func (e Engine) AdminAssign(ctx context.Context, userID uuid.UUID, bookID uuid.UUID, now time.Time) (Loan, error) {
	return e.createLoan(ctx, userID, bookID, now, true, opAdminAssign, AuditLoanAssigned)
}

func (e Engine) createLoan(
	ctx context.Context,
	userID uuid.UUID,
	bookID uuid.UUID,
	now time.Time,
	bypassOverdueBlock bool,
	operation string,
	auditAction string,
) (Loan, error) {

	var created Loan

	retryOptions := e.retryOptionsFor(operation)

	_, err := RetryWithExponentialBackoff(ctx, func(retryCtx context.Context) error {
		loan, execErr := e.executeCreateLoan(retryCtx, userID, bookID, now, bypassOverdueBlock)
		if execErr != nil {
			return execErr
		}

		created = loan

		return nil
	}, retryOptions...)

	if err != nil {
		return Loan{}, err
	}

	e.logOperation(logMsgLoanCreated,
		logAttrOp, operation,
		logAttrLoanID, created.ID.String(),
		logAttrBookID, bookID.String(),
		logAttrUserID, userID.String(),
	)
	e.appendAudit(ctx, auditAction, created.ID, bookID, userID, now, loanAuditPayload{
		DueDate: created.DueDate,
	})

	return created, nil
}

// executeCreateLoan contains the read-decide-write cycle that can be retried.
func (e Engine) executeCreateLoan(
	ctx context.Context,
	userID uuid.UUID,
	bookID uuid.UUID,
	now time.Time,
	bypassOverdueBlock bool,
) (Loan, error) {

	ctx = WithStrongConsistency(ctx)

	if _, err := e.ledger.GetBook(ctx, bookID); err != nil {
		return Loan{}, err
	}

	user, err := e.users.GetUser(ctx, userID)
	if err != nil {
		return Loan{}, err
	}

	summary, version, err := e.loans.UserLoanSummary(ctx, userID, bookID)
	if err != nil {
		return Loan{}, err
	}

	if decideErr := DecideBorrow(user, summary, bypassOverdueBlock); decideErr != nil {
		return Loan{}, decideErr
	}

	if reserveErr := e.ledger.Reserve(ctx, bookID); reserveErr != nil {
		return Loan{}, reserveErr
	}

	loan := BuildLoan(uuid.New(), bookID, userID, now, e.loanTerm)

	if appendErr := e.loans.AppendLoan(ctx, loan, version); appendErr != nil {
		// The reservation belongs to the loan that was never created; give it
		// back before the retry re-reads the snapshot.
		if releaseErr := e.ledger.Release(ctx, bookID); releaseErr != nil {
			e.logWarn(logMsgReleaseFailed, logAttrBookID, bookID.String(), logAttrError, releaseErr.Error())
		} else {
			e.logDebug(logMsgReleaseAfterConflict, logAttrBookID, bookID.String())
		}

		return Loan{}, appendErr
	}

	return loan, nil
}

// Return finalizes a loan as returned at now, computing the fine against the
// due date, and releases the reserved copy exactly once.
//
// Only the loan's owner or an admin may return it. A loan that is already
// returned fails with ErrAlreadyReturned and never triggers a second release;
// the check and the transition happen in the same storage critical section,
// so a racing double-return cannot double-release inventory.
func (e Engine) Return(ctx context.Context, loanID uuid.UUID, actorID uuid.UUID, actorRole Role, now time.Time) (Loan, error) {
	ctx = WithStrongConsistency(ctx)

	loan, err := e.loans.GetLoan(ctx, loanID)
	if err != nil {
		return Loan{}, err
	}

	if loan.UserID != actorID && actorRole != RoleAdmin {
		return Loan{}, ErrNotAuthorized
	}

	if loan.Status == StatusReturned {
		return Loan{}, ErrAlreadyReturned
	}

	fine := ComputeFine(loan.DueDate, now, e.finePerDay)

	if finalizeErr := e.loans.FinalizeReturn(ctx, loanID, now, fine); finalizeErr != nil {
		return Loan{}, finalizeErr
	}

	if releaseErr := e.ledger.Release(ctx, loan.BookID); releaseErr != nil {
		e.logWarn(logMsgReleaseFailed, logAttrBookID, loan.BookID.String(), logAttrError, releaseErr.Error())
		return Loan{}, releaseErr
	}

	returned := loan.WithReturn(now, fine)

	e.logOperation(logMsgLoanReturned,
		logAttrLoanID, loanID.String(),
		logAttrBookID, loan.BookID.String(),
		logAttrFine, fine,
	)
	e.appendAudit(ctx, AuditBookReturned, loanID, loan.BookID, loan.UserID, now, loanAuditPayload{
		DueDate: loan.DueDate,
		Fine:    fine,
	})

	return returned, nil
}

// OverdueSweep transitions every borrowed loan past its due date to overdue,
// setting its fine as of now, and refreshes the fines of loans already
// overdue. Idempotent: a second run with the same now changes nothing.
// Returns the number of loans transitioned.
//
// Invoked by an external scheduler, or ad hoc before reads that need
// freshness.
func (e Engine) OverdueSweep(ctx context.Context, now time.Time) (int, error) {
	ctx = WithStrongConsistency(ctx)

	transitioned, err := e.loans.MarkOverdue(ctx, now, e.finePerDay)
	if err != nil {
		return 0, err
	}

	e.logOperation(logMsgOverdueSweepDone, logAttrCount, transitioned)

	if transitioned > 0 {
		e.appendAudit(ctx, AuditOverdueSwept, uuid.Nil, uuid.Nil, uuid.Nil, now, sweepAuditPayload{
			Transitioned: transitioned,
		})
	}

	return transitioned, nil
}

// AdminDelete removes a loan record. A loan that is not returned still owns
// a reservation, so its copy is released before the record is removed,
// preserving the ledger aggregate.
func (e Engine) AdminDelete(ctx context.Context, loanID uuid.UUID) error {
	ctx = WithStrongConsistency(ctx)

	loan, err := e.loans.GetLoan(ctx, loanID)
	if err != nil {
		return err
	}

	if loan.IsActive() {
		if releaseErr := e.ledger.Release(ctx, loan.BookID); releaseErr != nil {
			e.logWarn(logMsgReleaseFailed, logAttrBookID, loan.BookID.String(), logAttrError, releaseErr.Error())
			return releaseErr
		}
	}

	if deleteErr := e.loans.DeleteLoan(ctx, loanID); deleteErr != nil {
		return deleteErr
	}

	e.logOperation(logMsgLoanDeleted, logAttrLoanID, loanID.String())
	e.appendAudit(ctx, AuditLoanDeleted, loanID, loan.BookID, loan.UserID, time.Now(), loanAuditPayload{
		DueDate: loan.DueDate,
		Fine:    loan.Fine,
	})

	return nil
}

// ResizeBook sets a book's total copies, clamping available copies on a
// shrink. Copies lost to a shrink are recorded in the audit log; the loss is
// a deliberate policy, not a silent side effect.
func (e Engine) ResizeBook(ctx context.Context, bookID uuid.UUID, newTotal int) error {
	ctx = WithStrongConsistency(ctx)

	before, err := e.ledger.GetBook(ctx, bookID)
	if err != nil {
		return err
	}

	if resizeErr := e.ledger.Resize(ctx, bookID, newTotal); resizeErr != nil {
		return resizeErr
	}

	e.logOperation(logMsgStockResized, logAttrBookID, bookID.String(), logAttrNewTotal, newTotal)
	e.appendAudit(ctx, AuditStockResized, uuid.Nil, bookID, uuid.Nil, time.Now(), resizeAuditPayload{
		PreviousTotal: before.TotalCopies,
		NewTotal:      newTotal,
	})

	return nil
}

// ActiveLoans returns the user's active loans ordered by due date,
// for profile and dashboard views.
func (e Engine) ActiveLoans(ctx context.Context, userID uuid.UUID) ([]Loan, error) {
	return e.loans.ActiveLoans(ctx, userID)
}

// LoanHistory returns all loans of ownerID, newest first. Only the owner or
// an admin may read it.
func (e Engine) LoanHistory(ctx context.Context, ownerID uuid.UUID, actorID uuid.UUID, actorRole Role) ([]Loan, error) {
	if ownerID != actorID && actorRole != RoleAdmin {
		return nil, ErrNotAuthorized
	}

	return e.loans.LoanHistory(ctx, ownerID)
}

// OverdueLoans returns all active loans past their due date as of now.
func (e Engine) OverdueLoans(ctx context.Context, now time.Time) ([]Loan, error) {
	return e.loans.OverdueLoans(ctx, now)
}

func (e Engine) retryOptionsFor(operation string) []RetryOption {
	if e.metrics == nil {
		return e.retryOptions
	}

	options := make([]RetryOption, 0, len(e.retryOptions)+1)
	options = append(options, e.retryOptions...)
	options = append(options, WithRetryMetrics(e.metrics, operation))

	return options
}

type loanAuditPayload struct {
	DueDate time.Time `json:"dueDate"`
	Fine    int64     `json:"fine,omitempty"`
}

type sweepAuditPayload struct {
	Transitioned int `json:"transitioned"`
}

type resizeAuditPayload struct {
	PreviousTotal int `json:"previousTotal"`
	NewTotal      int `json:"newTotal"`
}

// appendAudit marshals the payload and appends an audit record.
// Audit failures are logged, never propagated.
func (e Engine) appendAudit(
	ctx context.Context,
	action string,
	loanID uuid.UUID,
	bookID uuid.UUID,
	userID uuid.UUID,
	occurredAt time.Time,
	payload any,
) {

	if e.audit == nil {
		return
	}

	payloadJSON, marshalErr := jsoniter.ConfigFastest.Marshal(payload)
	if marshalErr != nil {
		e.logWarn(logMsgAuditAppendFailed, logAttrError, marshalErr.Error())
		return
	}

	record, buildErr := BuildAuditRecord(action, loanID, bookID, userID, occurredAt, payloadJSON)
	if buildErr != nil {
		e.logWarn(logMsgAuditAppendFailed, logAttrError, buildErr.Error())
		return
	}

	if appendErr := e.audit.AppendAudit(ctx, record); appendErr != nil {
		e.logWarn(logMsgAuditAppendFailed, logAttrError, appendErr.Error())
	}
}

func (e Engine) logOperation(msg string, args ...any) {
	if e.logger != nil {
		e.logger.Info(msg, args...)
	}
}

func (e Engine) logWarn(msg string, args ...any) {
	if e.logger != nil {
		e.logger.Warn(msg, args...)
	}
}

func (e Engine) logDebug(msg string, args ...any) {
	if e.logger != nil {
		e.logger.Debug(msg, args...)
	}
}

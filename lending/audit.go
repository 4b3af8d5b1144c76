package lending

import (
	"errors"
	"time"

	jsoniter "github.com/json-iterator/go"

	"github.com/google/uuid"
)

var (
	// ErrInvalidAuditPayloadJSON is returned when an audit payload is not valid JSON.
	ErrInvalidAuditPayloadJSON = errors.New("audit payload json is not valid")

	// ErrEmptyAuditAction is returned when an empty audit action is provided.
	ErrEmptyAuditAction = errors.New("audit action must not be empty")
)

// Audit actions recorded by the engine.
const (
	AuditBookBorrowed = "BookBorrowed"
	AuditLoanAssigned = "LoanAssignedByAdmin"
	AuditBookReturned = "BookReturned"
	AuditOverdueSwept = "OverdueLoansSwept"
	AuditLoanDeleted  = "LoanDeletedByAdmin"
	AuditStockResized = "BookStockResized"
)

// AuditRecord is a DTO describing one engine mutation.
//
// It is built on scalars to be agnostic of the storage backend writing it.
// While its properties are exported, it should only be constructed with
// BuildAuditRecord.
type AuditRecord struct {
	Action      string
	LoanID      string // empty for actions not tied to one loan
	BookID      string // empty for actions not tied to one book
	UserID      string // empty for actions not tied to one user
	OccurredAt  time.Time
	PayloadJSON []byte
}

// BuildAuditRecord is a factory method for AuditRecord.
//
// Returns an error if action is empty or payloadJSON is not valid JSON.
func BuildAuditRecord(
	action string,
	loanID uuid.UUID,
	bookID uuid.UUID,
	userID uuid.UUID,
	occurredAt time.Time,
	payloadJSON []byte,
) (AuditRecord, error) {

	if action == "" {
		return AuditRecord{}, ErrEmptyAuditAction
	}

	if !jsoniter.ConfigFastest.Valid(payloadJSON) {
		return AuditRecord{}, ErrInvalidAuditPayloadJSON
	}

	record := AuditRecord{
		Action:      action,
		OccurredAt:  ToTimestamp(occurredAt),
		PayloadJSON: payloadJSON,
	}

	if loanID != uuid.Nil {
		record.LoanID = loanID.String()
	}

	if bookID != uuid.Nil {
		record.BookID = bookID.String()
	}

	if userID != uuid.Nil {
		record.UserID = userID.String()
	}

	return record, nil
}

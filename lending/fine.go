package lending

import "time"

const (
	// DefaultFinePerDay is the penalty charged per overdue calendar day, in currency units.
	DefaultFinePerDay = int64(1)

	// DefaultLoanTerm is the loan duration used when no due date is supplied explicitly.
	DefaultLoanTerm = 14 * 24 * time.Hour

	day = 24 * time.Hour
)

// ComputeFine returns the penalty owed for a loan due at dueDate when observed
// at referenceDate, at ratePerDay currency units per overdue calendar day.
//
// Partial days round up: a loan one second past due owes a full day's fine.
// Returns 0 when referenceDate is on or before dueDate.
func ComputeFine(dueDate time.Time, referenceDate time.Time, ratePerDay int64) int64 {
	if !referenceDate.After(dueDate) {
		return 0
	}

	overdueBy := referenceDate.Sub(dueDate)

	daysOverdue := int64(overdueBy / day)
	if overdueBy%day > 0 {
		daysOverdue++
	}

	return daysOverdue * ratePerDay
}

// IsOverdue reports whether a loan due at dueDate is overdue when observed at referenceDate.
func IsOverdue(dueDate time.Time, referenceDate time.Time) bool {
	return referenceDate.After(dueDate)
}

// DaysUntilDue returns the number of calendar days until dueDate as observed
// at referenceDate, rounded towards the due date. Negative when overdue.
func DaysUntilDue(dueDate time.Time, referenceDate time.Time) int {
	diff := dueDate.Sub(referenceDate)

	days := diff / day
	if diff > 0 && diff%day > 0 {
		days++
	}

	return int(days)
}

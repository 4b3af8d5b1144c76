package lending

import (
	"github.com/google/uuid"
)

// AvailabilityStatus describes the stock level of a book for read models.
type AvailabilityStatus string

const (
	// AvailabilityOutOfStock means no copies are available.
	AvailabilityOutOfStock AvailabilityStatus = "out_of_stock"

	// AvailabilityLowStock means at most two copies are available.
	AvailabilityLowStock AvailabilityStatus = "low_stock"

	// AvailabilityAvailable means more than two copies are available.
	AvailabilityAvailable AvailabilityStatus = "available"
)

// Book is the inventory ledger's view of a catalog entry.
//
// The invariant 0 <= AvailableCopies <= TotalCopies holds at every observable
// instant; AvailableCopies always equals TotalCopies minus the number of
// active loans for the book, except after a shrinking Resize, which is a
// deliberate, audited data-loss policy.
//
// While its properties are exported, it should only be constructed with BuildBook.
type Book struct {
	ID              uuid.UUID
	Title           string
	Author          string
	ISBN            string
	TotalCopies     int
	AvailableCopies int
}

// BuildBook is a factory method for Book.
//
// All copies start out available. Returns ErrNegativeCopyCount if totalCopies
// is below zero.
func BuildBook(id uuid.UUID, title string, author string, isbn string, totalCopies int) (Book, error) {
	if totalCopies < 0 {
		return Book{}, ErrNegativeCopyCount
	}

	return Book{
		ID:              id,
		Title:           title,
		Author:          author,
		ISBN:            isbn,
		TotalCopies:     totalCopies,
		AvailableCopies: totalCopies,
	}, nil
}

// Availability returns the stock level bucket for this book.
func (b Book) Availability() AvailabilityStatus {
	switch {
	case b.AvailableCopies == 0:
		return AvailabilityOutOfStock
	case b.AvailableCopies <= 2:
		return AvailabilityLowStock
	default:
		return AvailabilityAvailable
	}
}

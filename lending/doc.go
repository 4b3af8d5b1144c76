// Package lending provides the borrow/return lifecycle and inventory
// consistency engine of a library management backend.
//
// This package defines the domain entities (Book, Loan, User), the fine
// policy, the error taxonomy, and the Engine that orchestrates borrow,
// return, overdue-sweep, and admin operations over pluggable storage
// engines. Storage is abstracted behind the InventoryLedger, LoanStore,
// and UserDirectory interfaces; implementations live in the memoryengine
// and postgresengine subpackages.
//
// Concurrency contract:
//   - Mutations of a single book's copy counts are atomic per book.
//   - Mutations of a single user's active-loan set are serialized through
//     an optimistic loan-set version; conflicting writes fail with
//     ErrConcurrencyConflict and are retried by the Engine with bounded
//     exponential backoff.
//
// Common usage pattern:
//
//	store, _ := memoryengine.NewStore()
//	engine, err := lending.NewEngine(store, store, store)
//	if err != nil {
//		// handle error
//	}
//
//	loan, err := engine.Borrow(ctx, userID, bookID, time.Now())
//	if err != nil {
//		switch lending.KindOf(err) {
//		case lending.KindConflict:
//			// limit exceeded, duplicate loan, no copies, ...
//		case lending.KindNotFound:
//			// unknown book or user
//		}
//	}
package lending

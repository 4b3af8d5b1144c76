// Package memoryengine provides an in-process implementation of the lending
// storage interfaces, suitable for tests and single-node embedding.
//
// Concurrency model:
//   - Copy counts are guarded by one mutex per book.
//   - Each user's loan set carries a version; AppendLoan re-checks the
//     expected version inside the set's critical section and fails with
//     lending.ErrConcurrencyConflict when it moved, mirroring the
//     conditional-write behavior of the Postgres engine.
//   - Lock order is always loan set before loan record, so summary reads,
//     return finalization, and the overdue sweep cannot deadlock.
package memoryengine

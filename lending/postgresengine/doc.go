// Package postgresengine provides a PostgreSQL implementation of the lending
// storage interfaces.
//
// This package implements the per-key concurrency contract with conditional
// writes checked through rows-affected counts, supporting multiple database
// adapters (pgx, sql.DB, sqlx) with atomic operations and concurrency
// control.
//
// Key features:
//   - Multiple database adapter support (PGX, SQL, SQLX)
//   - Atomic loan creation guarded by the user's loan-set version
//     (a CTE-checked conditional INSERT that affects no rows on a conflict)
//   - Conditional copy-count updates that never violate the ledger invariant
//   - Replica reads for eventually-consistent read paths
//   - Configurable table names and dual logger/metrics support
//
// Expected schema:
//
//	CREATE SEQUENCE loans_sequence;
//
//	CREATE TABLE books (
//	    id               uuid PRIMARY KEY,
//	    title            text NOT NULL,
//	    author           text NOT NULL,
//	    isbn             text NOT NULL,
//	    total_copies     integer NOT NULL CHECK (total_copies >= 0),
//	    available_copies integer NOT NULL CHECK (available_copies >= 0 AND available_copies <= total_copies)
//	);
//
//	CREATE TABLE users (
//	    id                uuid PRIMARY KEY,
//	    name              text NOT NULL,
//	    role              text NOT NULL,
//	    max_books_allowed integer NOT NULL
//	);
//
//	CREATE TABLE loans (
//	    id              uuid PRIMARY KEY,
//	    book_id         uuid NOT NULL,
//	    user_id         uuid NOT NULL,
//	    borrow_date     timestamptz NOT NULL,
//	    due_date        timestamptz NOT NULL,
//	    return_date     timestamptz,
//	    status          text NOT NULL,
//	    fine            bigint NOT NULL DEFAULT 0,
//	    notes           text NOT NULL DEFAULT '',
//	    sequence_number bigint NOT NULL DEFAULT nextval('loans_sequence')
//	);
//	CREATE INDEX loans_user_status_idx ON loans (user_id, status);
//	CREATE INDEX loans_book_idx ON loans (book_id);
//	CREATE INDEX loans_due_date_idx ON loans (due_date);
//
//	CREATE TABLE audit_log (
//	    id          bigserial PRIMARY KEY,
//	    action      text NOT NULL,
//	    loan_id     uuid,
//	    book_id     uuid,
//	    user_id     uuid,
//	    occurred_at timestamptz NOT NULL,
//	    payload     jsonb NOT NULL
//	);
//
// The user's loan-set version is COALESCE(MAX(sequence_number), 0) over the
// user's loans; every insert and every status transition draws a fresh value
// from loans_sequence, so any change to the set moves the version forward and
// versions are never reused.
//
// Usage example:
//
//	pool, _ := pgxpool.New(context.Background(), dsn)
//	store, _ := postgresengine.NewStoreFromPGXPool(
//		pool,
//		postgresengine.WithLogger(logger),
//	)
package postgresengine

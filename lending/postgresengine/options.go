package postgresengine

import (
	"github.com/mohammed-shamil-th/library-lending-go/lending"
)

// Option defines a functional option for configuring a Store.
type Option func(*Store) error

// WithTableNames sets the table names for books, users, loans, and the audit
// log. The sequence backing the loan-set version is derived from the loans
// table name as "<loans>_sequence".
func WithTableNames(books string, users string, loans string, audit string) Option {
	return func(s *Store) error {
		if books == "" || users == "" || loans == "" || audit == "" {
			return ErrEmptyTableName
		}

		s.booksTable = books
		s.usersTable = users
		s.loansTable = loans
		s.auditTable = audit
		s.loansSequence = loans + "_sequence"

		return nil
	}
}

// WithLogger sets the logger for the Store.
// The logger will receive messages at different levels based on the logger's configured level:
//
// Debug level: SQL queries with execution timing (development use)
// Info level: Row counts, durations, concurrency conflicts (production-safe)
// Warn level: Non-critical issues like cleanup failures and capped releases
// Error level: Critical failures that cause operation failures.
func WithLogger(logger lending.Logger) Option {
	return func(s *Store) error {
		s.logger = logger
		return nil
	}
}

// WithMetrics sets the metrics collector for the Store.
// The collector will receive query and command durations labeled by operation
// and a counter for detected concurrency conflicts. Collectors implementing
// lending.ContextualMetricsCollector receive the context-aware calls.
func WithMetrics(collector lending.MetricsCollector) Option {
	return func(s *Store) error {
		s.metrics = collector
		return nil
	}
}

// WithTracing sets the tracing collector for the Store.
// The collector will receive a span around every database round trip, carrying
// the operation name, outcome status, duration, and rows affected for commands.
func WithTracing(collector lending.TracingCollector) Option {
	return func(s *Store) error {
		s.tracing = collector
		return nil
	}
}

// WithContextualLogger sets the contextual logger for the Store.
// The contextual logger receives the same query and error records as the plain
// logger, with the context of the surrounding span for trace correlation.
func WithContextualLogger(logger lending.ContextualLogger) Option {
	return func(s *Store) error {
		s.ctxLogger = logger
		return nil
	}
}

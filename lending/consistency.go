package lending

import "context"

// ConsistencyLevel defines the consistency requirements for storage reads.
type ConsistencyLevel int

const (
	// StrongConsistency requires reads from the primary database to ensure
	// read-after-write consistency. This is the default: the engine's
	// read-check-write operations must see their own writes immediately.
	StrongConsistency ConsistencyLevel = iota

	// EventualConsistency allows reads from replica databases, trading
	// consistency for performance. Suitable for read paths feeding dashboards
	// and history views that can tolerate slightly stale data. Any single
	// book's or loan's individually-read state still never shows an
	// invariant-violating combination.
	EventualConsistency
)

// contextKey is a private type to prevent context key collisions.
type contextKey string

// ConsistencyLevelKey is the context key used to store consistency level preferences.
const ConsistencyLevelKey contextKey = "lending.consistency_level"

// WithStrongConsistency returns a context that signals storage reads should
// use the primary database.
//
// The engine sets this on every mutating operation; callers normally do not
// need it themselves.
func WithStrongConsistency(ctx context.Context) context.Context {
	return context.WithValue(ctx, ConsistencyLevelKey, StrongConsistency)
}

// WithEventualConsistency returns a context that signals storage reads may
// use replica databases, trading consistency for performance.
//
// Example usage:
//
//	ctx = lending.WithEventualConsistency(ctx)
//	loans, err := engine.ActiveLoans(ctx, userID)
func WithEventualConsistency(ctx context.Context) context.Context {
	return context.WithValue(ctx, ConsistencyLevelKey, EventualConsistency)
}

// GetConsistencyLevel extracts the consistency level from the context.
// If no consistency level is set, it returns StrongConsistency as the safe default.
func GetConsistencyLevel(ctx context.Context) ConsistencyLevel {
	if level, ok := ctx.Value(ConsistencyLevelKey).(ConsistencyLevel); ok {
		return level
	}

	return StrongConsistency
}

// String provides a string representation of ConsistencyLevel for logging and debugging.
func (c ConsistencyLevel) String() string {
	switch c {
	case StrongConsistency:
		return "strong"
	case EventualConsistency:
		return "eventual"
	default:
		return "unknown"
	}
}

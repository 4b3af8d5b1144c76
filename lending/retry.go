package lending

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"
)

const (
	defaultMaxAttempts  = 6
	defaultBaseDelay    = 10 * time.Millisecond
	defaultJitterFactor = 0.3
)

// Metric names for retry instrumentation.
const (
	RetryDelayMetric       = "lending_operation_retry_delay"
	RetriesMetric          = "lending_operation_retries_total"
	RetriesExhaustedMetric = "lending_operation_retries_exhausted_total"
)

// Metric label keys.
const (
	LabelOperation     = "operation"
	LabelAttemptNumber = "attempt_number"
	LabelErrorType     = "error_type"
	LabelFinalError    = "final_error_type"
)

var (
	// ErrNilMetricsCollector is returned when a nil metrics collector is provided to WithRetryMetrics.
	ErrNilMetricsCollector = errors.New("metrics collector must not be nil")

	// ErrEmptyOperationName is returned when an empty operation name is provided to WithRetryMetrics.
	ErrEmptyOperationName = errors.New("operation name must not be empty")

	// ErrInvalidMaxAttempts is returned when max attempts are not positive.
	ErrInvalidMaxAttempts = errors.New("max attempts must be positive")

	// ErrNegativeBaseDelay is returned when the base delay is negative.
	ErrNegativeBaseDelay = errors.New("base delay must not be negative")

	// ErrInvalidJitterFactor is returned when the jitter factor is not between 0.0 and 1.0.
	ErrInvalidJitterFactor = errors.New("jitter factor must be between 0.0 and 1.0")
)

// RetryableFunc represents a function that can be retried.
type RetryableFunc func(ctx context.Context) error

// RetryMetrics captures what happened during a retried execution, for
// observability wrappers that want to report it.
type RetryMetrics struct {
	Attempts         int           // total attempts made (1 means no retries)
	TotalDelay       time.Duration // cumulative time spent in backoff sleeps
	LastErrorType    string        // "none", "concurrency_conflict", "context_canceled", "context_deadline_exceeded", "other"
	RetriesExhausted bool          // true when max attempts were reached with a retryable error
}

// retryConfig holds configuration for exponential backoff retry logic.
type retryConfig struct {
	maxAttempts      int
	baseDelay        time.Duration
	jitterFactor     float64
	metricsCollector MetricsCollector
	operation        string
}

// RetryWithExponentialBackoff implements optimistic concurrency retry logic.
// It executes the provided function with exponential backoff, retrying only
// on retryable errors up to the configured maximum attempts.
//
// Retry Schedule (default): 0 ms, 10 ms, 20 ms, 40 ms, 80 ms (with 30% jitter)
// Total Duration: ~ 200 ms worst case
// Use Case: loan-set and copy-count conflicts under concurrent load
//
// Only ErrConcurrencyConflict is retried - all other errors fail fast.
func RetryWithExponentialBackoff(
	ctx context.Context,
	fn RetryableFunc,
	options ...RetryOption,
) (RetryMetrics, error) {

	config := &retryConfig{
		maxAttempts:  defaultMaxAttempts,
		baseDelay:    defaultBaseDelay,
		jitterFactor: defaultJitterFactor,
	}

	metrics := RetryMetrics{LastErrorType: "none"}

	for _, option := range options {
		if err := option(config); err != nil {
			return metrics, err
		}
	}

	var lastErr error

	for attempt := 0; attempt < config.maxAttempts; attempt++ {
		if attempt > 0 {
			// Exponential backoff: baseDelay * 2^(attempt-1)
			delay := config.baseDelay * time.Duration(1<<(attempt-1))

			// Add jitter to prevent thundering herd
			jitter := rand.Float64() * float64(delay) * config.jitterFactor //nolint:gosec // math/rand is sufficient for jitter
			backoffDelay := delay + time.Duration(jitter)

			recordRetryDelayMetric(ctx, config, attempt, backoffDelay)

			select {
			case <-time.After(backoffDelay):
				metrics.TotalDelay += backoffDelay
			case <-ctx.Done():
				metrics.Attempts = attempt
				metrics.LastErrorType = errorTypeOf(ctx.Err())

				return metrics, ctx.Err()
			}
		}

		metrics.Attempts = attempt + 1

		lastErr = fn(ctx)
		if lastErr == nil {
			metrics.LastErrorType = "none"

			return metrics, nil
		}

		metrics.LastErrorType = errorTypeOf(lastErr)

		if !isRetryableError(lastErr) {
			return metrics, lastErr // Permanent failure
		}

		recordRetryAttemptMetric(ctx, attempt, config, lastErr)
	}

	metrics.RetriesExhausted = true
	recordMaxRetriesReachedMetric(ctx, config, lastErr)

	return metrics, lastErr // Max attempts reached
}

// recordRetryDelayMetric records the actual backoff delay before each retry attempt.
func recordRetryDelayMetric(ctx context.Context, config *retryConfig, attempt int, backoffDelay time.Duration) {
	if config.metricsCollector == nil {
		return
	}

	labels := map[string]string{
		LabelOperation:     config.operation,
		LabelAttemptNumber: fmt.Sprintf("%d", attempt),
	}

	if contextual, ok := config.metricsCollector.(ContextualMetricsCollector); ok {
		contextual.RecordDurationContext(ctx, RetryDelayMetric, backoffDelay, labels)
	} else {
		config.metricsCollector.RecordDuration(RetryDelayMetric, backoffDelay, labels)
	}
}

// recordRetryAttemptMetric tracks retry attempts by operation, attempt number, and error type.
func recordRetryAttemptMetric(ctx context.Context, attempt int, config *retryConfig, lastErr error) {
	if attempt >= config.maxAttempts-1 || config.metricsCollector == nil {
		return
	}

	labels := map[string]string{
		LabelOperation:     config.operation,
		LabelAttemptNumber: fmt.Sprintf("%d", attempt+1),
		LabelErrorType:     errorTypeOf(lastErr),
	}

	if contextual, ok := config.metricsCollector.(ContextualMetricsCollector); ok {
		contextual.IncrementCounterContext(ctx, RetriesMetric, labels)
	} else {
		config.metricsCollector.IncrementCounter(RetriesMetric, labels)
	}
}

// recordMaxRetriesReachedMetric tracks when retry exhaustion occurs with the final error type.
func recordMaxRetriesReachedMetric(ctx context.Context, config *retryConfig, lastErr error) {
	if config.metricsCollector == nil {
		return
	}

	labels := map[string]string{
		LabelOperation:  config.operation,
		LabelFinalError: errorTypeOf(lastErr),
	}

	if contextual, ok := config.metricsCollector.(ContextualMetricsCollector); ok {
		contextual.IncrementCounterContext(ctx, RetriesExhaustedMetric, labels)
	} else {
		config.metricsCollector.IncrementCounter(RetriesExhaustedMetric, labels)
	}
}

// isRetryableError determines if an error should be retried.
// Currently, only concurrency conflicts are considered retryable.
//
// A context.DeadlineExceeded is NOT retryable - retrying timeouts during
// overload creates cascade failures. Timeout errors should fail fast to
// provide clear signals about system capacity issues.
func isRetryableError(err error) bool {
	return errors.Is(err, ErrConcurrencyConflict)
}

// errorTypeOf extracts a string representation of the error type for metrics labeling.
func errorTypeOf(err error) string {
	if err == nil {
		return "none"
	}
	if errors.Is(err, ErrConcurrencyConflict) {
		return "concurrency_conflict"
	}
	if errors.Is(err, context.Canceled) {
		return "context_canceled"
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return "context_deadline_exceeded"
	}

	return "other"
}

// RetryOption configures retry behavior using the functional options pattern.
type RetryOption func(*retryConfig) error

// WithMaxAttempts sets the maximum number of retry attempts.
func WithMaxAttempts(attempts int) RetryOption {
	return func(config *retryConfig) error {
		if attempts <= 0 {
			return ErrInvalidMaxAttempts
		}

		config.maxAttempts = attempts

		return nil
	}
}

// WithBaseDelay sets the base delay for exponential backoff.
// Actual delays: baseDelay, baseDelay*2, baseDelay*4, baseDelay*8, etc.
func WithBaseDelay(delay time.Duration) RetryOption {
	return func(config *retryConfig) error {
		if delay < 0 {
			return ErrNegativeBaseDelay
		}

		config.baseDelay = delay

		return nil
	}
}

// WithJitterFactor sets the jitter factor to prevent thundering herd problems.
// Jitter is added as a percentage of the calculated backoff delay.
// Valid range: 0.0 (no jitter) to 1.0 (100% jitter).
func WithJitterFactor(factor float64) RetryOption {
	return func(config *retryConfig) error {
		if factor < 0.0 || factor > 1.0 {
			return ErrInvalidJitterFactor
		}

		config.jitterFactor = factor

		return nil
	}
}

// WithRetryMetrics sets the metrics collector for retry instrumentation.
// Requires the operation name to properly label metrics.
func WithRetryMetrics(collector MetricsCollector, operation string) RetryOption {
	return func(config *retryConfig) error {
		if collector == nil {
			return ErrNilMetricsCollector
		}

		if operation == "" {
			return ErrEmptyOperationName
		}

		config.metricsCollector = collector
		config.operation = operation

		return nil
	}
}

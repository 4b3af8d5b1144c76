package postgresengine

import (
	"context"
	"fmt"
	"time"

	"github.com/mohammed-shamil-th/library-lending-go/lending"
)

// Span names, statuses, and attribute keys reported to the configured TracingCollector.
const (
	spanNameQuery   = "loanstore.query"
	spanNameCommand = "loanstore.command"

	statusSuccess = "success"
	statusError   = "error"

	spanAttrOperation    = "operation"
	spanAttrErrorType    = "error_type"
	spanAttrRowsAffected = "rows_affected"
	spanAttrDurationMS   = "duration_ms"

	errorTypeQueryFailed        = "query_failed"
	errorTypeExecFailed         = "exec_failed"
	errorTypeRowsAffectedFailed = "rows_affected_failed"
)

// startSpan starts a tracing span if the tracing collector is configured.
func (s Store) startSpan(ctx context.Context, name string, operation string) (context.Context, lending.SpanContext) {
	if s.tracing == nil {
		return ctx, nil
	}

	return s.tracing.StartSpan(ctx, name, map[string]string{spanAttrOperation: operation})
}

// finishSpanSuccess finishes a span for a successful database round trip.
func (s Store) finishSpanSuccess(span lending.SpanContext, duration time.Duration, attrs map[string]string) {
	if s.tracing == nil || span == nil {
		return
	}

	span.SetStatus(statusSuccess)
	span.AddAttribute(spanAttrDurationMS, s.formatDurationAttr(duration))
	for key, value := range attrs {
		span.AddAttribute(key, value)
	}

	s.tracing.FinishSpan(span, statusSuccess, attrs)
}

// finishSpanError finishes a span with the error classification.
func (s Store) finishSpanError(span lending.SpanContext, errorType string, duration time.Duration) {
	if s.tracing == nil || span == nil {
		return
	}

	span.SetStatus(statusError)
	span.AddAttribute(spanAttrErrorType, errorType)
	if duration > 0 {
		span.AddAttribute(spanAttrDurationMS, s.formatDurationAttr(duration))
	}

	s.tracing.FinishSpan(span, statusError, map[string]string{spanAttrErrorType: errorType})
}

// formatDurationAttr formats a duration for span attributes.
func (s Store) formatDurationAttr(duration time.Duration) string {
	return fmt.Sprintf("%.2f", s.durationToMilliseconds(duration))
}

// logQueryWithDurationContext logs SQL queries with execution time and trace
// correlation if the contextual logger is configured.
func (s Store) logQueryWithDurationContext(ctx context.Context, sqlQuery string, operation string, duration time.Duration) {
	if s.ctxLogger != nil {
		s.ctxLogger.DebugContext(ctx, logMsgSQLExecuted+operation, logAttrDurationMS, s.durationToMilliseconds(duration), logAttrQuery, sqlQuery)
	}
}

// logErrorContext logs error information with trace correlation if the
// contextual logger is configured.
func (s Store) logErrorContext(ctx context.Context, message string, err error, args ...any) {
	if s.ctxLogger != nil {
		allArgs := []any{logAttrError, err.Error()}
		allArgs = append(allArgs, args...)
		s.ctxLogger.ErrorContext(ctx, message, allArgs...)
	}
}

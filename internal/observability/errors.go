package observability

import (
	"errors"
	"fmt"
)

// AggregateErrors joins the non-nil errors of a batch, logs them once on
// logger (or the process logger when nil) and returns the joined error, or
// nil when nothing failed. The error text carries the failure count.
func AggregateErrors(logger Logger, operation string, errs []error, fields ...Field) error {
	var (
		failed   []error
		messages []string
	)
	for _, err := range errs {
		if err != nil {
			failed = append(failed, err)
			messages = append(messages, err.Error())
		}
	}
	if len(failed) == 0 {
		return nil
	}
	logFields := make([]Field, 0, len(fields)+3)
	logFields = append(logFields, fields...)
	logFields = append(logFields,
		F("operation", operation),
		F("error_count", len(failed)),
		F("errors", messages))
	Or(logger).Error("batch operation errors", logFields...)
	return fmt.Errorf("%s: %d of %d failed: %w", operation, len(failed), len(errs), errors.Join(failed...))
}

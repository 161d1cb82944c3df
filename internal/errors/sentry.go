package errors

import (
	"time"

	"github.com/getsentry/sentry-go"
)

// SentryReporter forwards operational errors to Sentry. Validation,
// not-found and conflict errors are caller mistakes and are not sent.
type SentryReporter struct {
	hub *sentry.Hub
}

// NewSentryReporter initializes the Sentry client and returns a reporter.
func NewSentryReporter(dsn, environment, release string) (*SentryReporter, error) {
	client, err := sentry.NewClient(sentry.ClientOptions{
		Dsn:         dsn,
		Environment: environment,
		Release:     release,
	})
	if err != nil {
		return nil, err
	}
	return &SentryReporter{hub: sentry.NewHub(client, sentry.NewScope())}, nil
}

// Report implements Reporter.
func (r *SentryReporter) Report(err *EnhancedError) {
	switch err.GetCategory() {
	case CategoryValidation, CategoryNotFound, CategoryConflict:
		return
	}
	r.hub.WithScope(func(scope *sentry.Scope) {
		scope.SetTag("component", err.GetComponent())
		scope.SetTag("category", string(err.GetCategory()))
		if ctx := err.GetContext(); len(ctx) > 0 {
			scope.SetContext("error", sentry.Context(ctx))
		}
		r.hub.CaptureException(err)
	})
}

// Flush waits up to timeout for buffered events to be sent.
func (r *SentryReporter) Flush(timeout time.Duration) bool {
	return r.hub.Flush(timeout)
}

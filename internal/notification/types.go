// Package notification queues proactive notifications, enforces per-channel
// delivery constraints and drives the notification state machine.
package notification

import (
	"context"

	"github.com/auralink/proactive/internal/datastore/entities"
	"github.com/auralink/proactive/internal/errors"
)

// ErrInvalidTransition is returned when a status change is not allowed from
// the notification's current status.
var ErrInvalidTransition = errors.NewStd("invalid notification status transition")

// Payload is the input to Queue.
type Payload struct {
	EntityID       uint
	UserID         string
	RuleID         *uint
	Message        string
	Channels       []entities.Channel
	Priority       int
	SensorSnapshot map[string]any
}

// DeliveryResult is the outcome of one channel delivery.
type DeliveryResult struct {
	Success    bool   `json:"success"`
	ExternalID string `json:"external_id,omitempty"`
	Error      string `json:"error,omitempty"`
	Retryable  bool   `json:"retryable"`
}

// Deliverer sends a notification over one channel. Implementations report
// failures in the result and do not panic on bad input.
type Deliverer interface {
	Deliver(ctx context.Context, n *entities.QueuedNotification) DeliveryResult
}

// DelivererFunc adapts a function to the Deliverer interface.
type DelivererFunc func(ctx context.Context, n *entities.QueuedNotification) DeliveryResult

// Deliver implements Deliverer.
func (f DelivererFunc) Deliver(ctx context.Context, n *entities.QueuedNotification) DeliveryResult {
	return f(ctx, n)
}

// ContactResolver looks up where to reach a user on external channels.
type ContactResolver interface {
	GetContact(ctx context.Context, userID string) (*entities.UserContact, error)
}

// ConstraintResult reports whether a channel may be used right now.
type ConstraintResult struct {
	Allowed bool   `json:"allowed"`
	Reason  string `json:"reason,omitempty"`
}

// Constraint block reasons.
const (
	ReasonChannelDisabled = "Notifications disabled for channel"
	ReasonQuietHours      = "Quiet hours active"
	ReasonDailyLimit      = "Daily notification limit exceeded"
)

// ProcessResult summarizes one ProcessNotification call.
type ProcessResult struct {
	NotificationID string                      `json:"notification_id"`
	Status         entities.NotificationStatus `json:"status"`
	Skipped        bool                        `json:"skipped,omitempty"`
	Attempted      int                         `json:"attempted"`
	Delivered      int                         `json:"delivered"`
	Blocked        int                         `json:"blocked"`
}

// QueueResult aggregates a ProcessQueue batch.
type QueueResult struct {
	Processed int      `json:"processed"`
	Delivered int      `json:"delivered"`
	Failed    int      `json:"failed"`
	Pending   int      `json:"pending"`
	Errors    []string `json:"errors,omitempty"`
}

// DeliveryError is a channel delivery failure.
type DeliveryError struct {
	Channel   entities.Channel
	Retryable bool
	Err       error
}

func (e *DeliveryError) Error() string {
	return string(e.Channel) + " delivery failed: " + e.Err.Error()
}

func (e *DeliveryError) Unwrap() error { return e.Err }

// NewDeliveryError wraps err as a delivery failure on channel.
func NewDeliveryError(channel entities.Channel, err error, retryable bool) error {
	return errors.New(&DeliveryError{Channel: channel, Retryable: retryable, Err: err}).
		Component("notification").
		Category(errors.CategoryDelivery).
		Context("channel", string(channel)).
		Context("retryable", retryable).
		Build()
}

// FailureResult converts a delivery error into a failed DeliveryResult.
// Errors that are not a DeliveryError are treated as retryable.
func FailureResult(err error) DeliveryResult {
	retryable := true
	var de *DeliveryError
	if errors.As(err, &de) {
		retryable = de.Retryable
	}
	return DeliveryResult{Error: err.Error(), Retryable: retryable}
}

// Package repository provides gorm-backed data access for the proactive
// pipeline. Every repository is constructed from an injected *gorm.DB.
package repository

import "github.com/auralink/proactive/internal/errors"

// Sentinel errors returned by repositories.
var (
	ErrEntityNotFound       = errors.NewStd("entity not found")
	ErrNotificationNotFound = errors.NewStd("notification not found")
	ErrConversationNotFound = errors.NewStd("conversation not found")
	ErrPreferenceNotFound   = errors.NewStd("notification preference not found")
	ErrSubscriptionNotFound = errors.NewStd("subscription not found")
	ErrContactNotFound      = errors.NewStd("user contact not found")
	ErrJobNotFound          = errors.NewStd("background job not found")
	// ErrStatusConflict means a compare-and-set status update found the row
	// in a different state than expected.
	ErrStatusConflict = errors.NewStd("notification status changed concurrently")
	// ErrDuplicateMessage means a message for the notification already exists.
	ErrDuplicateMessage = errors.NewStd("message already exists for notification")
)

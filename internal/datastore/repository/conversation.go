package repository

import (
	"context"

	"github.com/auralink/proactive/internal/datastore/entities"
)

// ConversationRepository backs the in-app delivery channel.
type ConversationRepository interface {
	// FindLatestOpen returns the most recent open conversation for an entity.
	FindLatestOpen(ctx context.Context, entityID uint) (*entities.Conversation, error)
	Get(ctx context.Context, id uint) (*entities.Conversation, error)
	Create(ctx context.Context, conv *entities.Conversation) error
	// FindMessageByNotification returns the message delivered for a
	// notification, or ErrConversationNotFound.
	FindMessageByNotification(ctx context.Context, notificationID string) (*entities.ConversationMessage, error)
	// AppendProactiveMessage stores the message and bumps the conversation's
	// unread counter in one transaction. Returns ErrDuplicateMessage when a
	// message for the same notification exists.
	AppendProactiveMessage(ctx context.Context, msg *entities.ConversationMessage) error
	// MarkRead zeroes the conversation's unread counter, flips its DELIVERED
	// proactive messages to READ and returns their notification IDs.
	MarkRead(ctx context.Context, conversationID uint) (*MarkReadResult, error)
	ListMessages(ctx context.Context, conversationID uint, limit int) ([]entities.ConversationMessage, error)
}

// MarkReadResult reports what MarkRead changed.
type MarkReadResult struct {
	EntityID        uint
	PreviousUnread  int
	NotificationIDs []string
}

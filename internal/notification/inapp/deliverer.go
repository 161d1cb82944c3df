// Package inapp delivers notifications as proactive messages in the
// entity's conversation.
package inapp

import (
	"context"
	"strconv"

	"github.com/google/uuid"

	"github.com/auralink/proactive/internal/datastore/entities"
	"github.com/auralink/proactive/internal/datastore/repository"
	"github.com/auralink/proactive/internal/errors"
	"github.com/auralink/proactive/internal/logger"
	"github.com/auralink/proactive/internal/notification"
	"github.com/auralink/proactive/internal/realtime"
)

// Deliverer is the IN_APP channel.
type Deliverer struct {
	conversations repository.ConversationRepository
	entities      repository.EntityRepository
	publisher     realtime.Publisher
	log           logger.Logger
}

// New creates an in-app Deliverer. A nil publisher disables realtime pushes.
func New(conversations repository.ConversationRepository, entityRepo repository.EntityRepository, publisher realtime.Publisher, log logger.Logger) *Deliverer {
	if publisher == nil {
		publisher = realtime.NopPublisher{}
	}
	if log == nil {
		log = logger.Discard()
	}
	return &Deliverer{
		conversations: conversations,
		entities:      entityRepo,
		publisher:     publisher,
		log:           log.Module("inapp"),
	}
}

// EnsureConversation returns the entity's latest open conversation, creating
// one when none exists.
func (d *Deliverer) EnsureConversation(ctx context.Context, entityID uint, userID string) (*entities.Conversation, error) {
	conv, err := d.conversations.FindLatestOpen(ctx, entityID)
	if err == nil {
		return conv, nil
	}
	if !errors.Is(err, repository.ErrConversationNotFound) {
		return nil, err
	}

	conv = &entities.Conversation{
		SessionID: uuid.NewString(),
		EntityID:  entityID,
		UserID:    userID,
		Open:      true,
	}
	if err := d.conversations.Create(ctx, conv); err != nil {
		return nil, err
	}
	d.log.Debug("conversation created",
		logger.Uint64("entity_id", uint64(entityID)),
		logger.String("session_id", conv.SessionID))
	return conv, nil
}

// Deliver implements notification.Deliverer. Delivering the same
// notification twice returns the first message without counting it again.
func (d *Deliverer) Deliver(ctx context.Context, n *entities.QueuedNotification) notification.DeliveryResult {
	if existing, err := d.conversations.FindMessageByNotification(ctx, n.ID); err == nil {
		return delivered(existing)
	}

	conv, err := d.EnsureConversation(ctx, n.EntityID, n.UserID)
	if err != nil {
		return notification.FailureResult(notification.NewDeliveryError(entities.ChannelInApp, err, true))
	}

	id := n.ID
	msg := &entities.ConversationMessage{
		ConversationID: conv.ID,
		NotificationID: &id,
		RuleID:         n.RuleID,
		Role:           entities.RoleAssistant,
		Content:        n.Message,
		SensorSnapshot: n.SensorSnapshot,
		Proactive:      true,
		Status:         entities.StatusDelivered,
	}
	switch err := d.conversations.AppendProactiveMessage(ctx, msg); {
	case errors.Is(err, repository.ErrDuplicateMessage):
		existing, lookupErr := d.conversations.FindMessageByNotification(ctx, n.ID)
		if lookupErr != nil {
			return notification.FailureResult(notification.NewDeliveryError(entities.ChannelInApp, lookupErr, true))
		}
		return delivered(existing)
	case err != nil:
		return notification.FailureResult(notification.NewDeliveryError(entities.ChannelInApp, err, true))
	}

	// The message is stored; counter and push failures must not fail it.
	if err := d.entities.AdjustUnreadCount(ctx, n.EntityID, 1); err != nil {
		d.log.Warn("failed to bump entity unread count",
			logger.Uint64("entity_id", uint64(n.EntityID)),
			logger.Error(err))
	}

	event := realtime.Event{
		Type:           realtime.EventProactiveMessage,
		EntityID:       n.EntityID,
		ConversationID: conv.ID,
		NotificationID: n.ID,
		Message:        n.Message,
		UnreadCount:    conv.UnreadProactiveCount + 1,
	}
	if err := d.publisher.Publish(ctx, n.UserID, event); err != nil {
		d.log.Warn("realtime publish failed",
			logger.String("notification_id", n.ID),
			logger.Error(err))
	}

	return delivered(msg)
}

func delivered(msg *entities.ConversationMessage) notification.DeliveryResult {
	return notification.DeliveryResult{Success: true, ExternalID: strconv.FormatUint(uint64(msg.ID), 10)}
}

// MarkRead clears the conversation's unread proactive messages, adjusts the
// entity counter and returns what changed. The caller marks the returned
// notifications READ.
func (d *Deliverer) MarkRead(ctx context.Context, conversationID uint) (*repository.MarkReadResult, error) {
	res, err := d.conversations.MarkRead(ctx, conversationID)
	if err != nil {
		return nil, err
	}

	if res.PreviousUnread > 0 {
		if err := d.entities.AdjustUnreadCount(ctx, res.EntityID, -res.PreviousUnread); err != nil {
			d.log.Warn("failed to lower entity unread count",
				logger.Uint64("entity_id", uint64(res.EntityID)),
				logger.Error(err))
		}
	}

	conv, err := d.conversations.Get(ctx, conversationID)
	if err == nil {
		_ = d.publisher.Publish(ctx, conv.UserID, realtime.Event{
			Type:           realtime.EventUnreadCount,
			EntityID:       res.EntityID,
			ConversationID: conversationID,
		})
	}
	return res, nil
}

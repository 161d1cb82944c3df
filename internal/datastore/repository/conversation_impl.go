package repository

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/auralink/proactive/internal/datastore/entities"
	"github.com/auralink/proactive/internal/errors"
)

type conversationRepository struct {
	db *gorm.DB
}

// NewConversationRepository creates a new ConversationRepository.
func NewConversationRepository(db *gorm.DB) ConversationRepository {
	return &conversationRepository{db: db}
}

func (r *conversationRepository) FindLatestOpen(ctx context.Context, entityID uint) (*entities.Conversation, error) {
	var conv entities.Conversation
	err := r.db.WithContext(ctx).
		Where("entity_id = ? AND open = ?", entityID, true).
		Order("id DESC").
		First(&conv).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrConversationNotFound
		}
		return nil, fmt.Errorf("failed to find open conversation for entity %d: %w", entityID, err)
	}
	return &conv, nil
}

func (r *conversationRepository) Get(ctx context.Context, id uint) (*entities.Conversation, error) {
	var conv entities.Conversation
	if err := r.db.WithContext(ctx).First(&conv, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrConversationNotFound
		}
		return nil, fmt.Errorf("failed to get conversation %d: %w", id, err)
	}
	return &conv, nil
}

func (r *conversationRepository) Create(ctx context.Context, conv *entities.Conversation) error {
	if err := r.db.WithContext(ctx).Create(conv).Error; err != nil {
		return fmt.Errorf("failed to create conversation: %w", err)
	}
	return nil
}

func (r *conversationRepository) FindMessageByNotification(ctx context.Context, notificationID string) (*entities.ConversationMessage, error) {
	var msg entities.ConversationMessage
	if err := r.db.WithContext(ctx).Where("notification_id = ?", notificationID).First(&msg).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrConversationNotFound
		}
		return nil, fmt.Errorf("failed to find message for notification %s: %w", notificationID, err)
	}
	return &msg, nil
}

func (r *conversationRepository) AppendProactiveMessage(ctx context.Context, msg *entities.ConversationMessage) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(msg).Error; err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return ErrDuplicateMessage
			}
			return fmt.Errorf("failed to append message: %w", err)
		}
		now := time.Now().UTC()
		result := tx.Model(&entities.Conversation{}).
			Where("id = ?", msg.ConversationID).
			Updates(map[string]any{
				"unread_proactive_count": gorm.Expr("unread_proactive_count + 1"),
				"last_message_at":        now,
			})
		if result.Error != nil {
			return fmt.Errorf("failed to bump unread count for conversation %d: %w", msg.ConversationID, result.Error)
		}
		if result.RowsAffected == 0 {
			return ErrConversationNotFound
		}
		return nil
	})
}

func (r *conversationRepository) MarkRead(ctx context.Context, conversationID uint) (*MarkReadResult, error) {
	res := &MarkReadResult{}
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var conv entities.Conversation
		if err := tx.First(&conv, conversationID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrConversationNotFound
			}
			return fmt.Errorf("failed to load conversation %d: %w", conversationID, err)
		}
		res.EntityID = conv.EntityID
		res.PreviousUnread = conv.UnreadProactiveCount

		var msgs []entities.ConversationMessage
		err := tx.Select("id", "notification_id").
			Where("conversation_id = ? AND proactive = ? AND status = ?", conversationID, true, entities.StatusDelivered).
			Find(&msgs).Error
		if err != nil {
			return fmt.Errorf("failed to list unread messages: %w", err)
		}

		if len(msgs) > 0 {
			ids := make([]uint, 0, len(msgs))
			for i := range msgs {
				ids = append(ids, msgs[i].ID)
				if msgs[i].NotificationID != nil {
					res.NotificationIDs = append(res.NotificationIDs, *msgs[i].NotificationID)
				}
			}
			err = tx.Model(&entities.ConversationMessage{}).
				Where("id IN ?", ids).
				Updates(map[string]any{"status": entities.StatusRead, "read_at": time.Now().UTC()}).Error
			if err != nil {
				return fmt.Errorf("failed to mark messages read: %w", err)
			}
		}

		if err := tx.Model(&conv).Update("unread_proactive_count", 0).Error; err != nil {
			return fmt.Errorf("failed to reset unread count: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

func (r *conversationRepository) ListMessages(ctx context.Context, conversationID uint, limit int) ([]entities.ConversationMessage, error) {
	query := r.db.WithContext(ctx).Where("conversation_id = ?", conversationID).Order("id ASC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	var items []entities.ConversationMessage
	if err := query.Find(&items).Error; err != nil {
		return nil, fmt.Errorf("failed to list messages for conversation %d: %w", conversationID, err)
	}
	return items, nil
}

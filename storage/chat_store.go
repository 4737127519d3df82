package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"impact-hub-server/chat"
	"impact-hub-server/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ChatStore implements chat.Store on top of GORM/Postgres.
type ChatStore struct {
	db *gorm.DB
}

func NewChatStore(db *gorm.DB) *ChatStore {
	return &ChatStore{db: db}
}

var _ chat.Store = (*ChatStore)(nil)

func (s *ChatStore) FindDirectConversation(ctx context.Context, userID, peerID uint) (*models.Conversation, error) {
	var conv models.Conversation
	err := s.db.WithContext(ctx).
		Joins("JOIN participants p1 ON p1.conversation_id = conversations.id AND p1.user_id = ?", userID).
		Joins("JOIN participants p2 ON p2.conversation_id = conversations.id AND p2.user_id = ?", peerID).
		Order("conversations.created_at ASC").
		First(&conv).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, translateErr(err)
	}
	return &conv, nil
}

func (s *ChatStore) CreateDirectConversation(ctx context.Context, userID, peerID uint) (*models.Conversation, error) {
	conv := models.Conversation{}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&conv).Error; err != nil {
			return err
		}
		if err := tx.Create(&models.Participant{ConversationID: conv.ID, UserID: userID}).Error; err != nil {
			return err
		}
		return tx.Create(&models.Participant{ConversationID: conv.ID, UserID: peerID}).Error
	})
	if err != nil {
		return nil, translateErr(err)
	}
	return &conv, nil
}

func (s *ChatStore) ListMessages(ctx context.Context, conversationID uint) ([]models.Message, error) {
	var msgs []models.Message
	err := s.db.WithContext(ctx).
		Where("conversation_id = ?", conversationID).
		Order("created_at ASC, id ASC").
		Find(&msgs).Error
	if err != nil {
		return nil, translateErr(err)
	}
	return msgs, nil
}

// ListMessagesPage returns one page of a conversation in chronological order,
// walking backwards from cursor (0 = newest). nextCursor is the id to pass to
// fetch the preceding page.
func (s *ChatStore) ListMessagesPage(ctx context.Context, conversationID, cursor uint, limit int) ([]models.Message, uint, error) {
	q := s.db.WithContext(ctx).Where("conversation_id = ?", conversationID)
	if cursor > 0 {
		q = q.Where("id < ?", cursor)
	}
	var msgs []models.Message
	if err := q.Order("id DESC").Limit(limit).Find(&msgs).Error; err != nil {
		return nil, 0, translateErr(err)
	}
	// reverse to chronological
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	var nextCursor uint
	if len(msgs) > 0 {
		nextCursor = msgs[0].ID
	}
	return msgs, nextCursor, nil
}

func (s *ChatStore) InsertMessage(ctx context.Context, msg *models.Message) error {
	return translateErr(s.db.WithContext(ctx).Create(msg).Error)
}

func (s *ChatStore) MarkMessagesRead(ctx context.Context, recipientID uint, messageIDs []uint) ([]models.Message, error) {
	if len(messageIDs) == 0 {
		return nil, nil
	}
	var updated []models.Message
	err := s.db.WithContext(ctx).
		Model(&updated).
		Clauses(clause.Returning{}).
		Where("recipient_id = ? AND id IN ? AND is_read = ?", recipientID, messageIDs, false).
		Update("is_read", true).Error
	if err != nil {
		return nil, translateErr(err)
	}
	return updated, nil
}

func (s *ChatStore) CountUnread(ctx context.Context, userID uint) (int64, error) {
	var count int64
	err := s.db.WithContext(ctx).
		Model(&models.Message{}).
		Where("recipient_id = ? AND is_read = ?", userID, false).
		Count(&count).Error
	if err != nil {
		return 0, translateErr(err)
	}
	return count, nil
}

// IsParticipant reports whether the user belongs to the conversation.
func (s *ChatStore) IsParticipant(ctx context.Context, conversationID, userID uint) (bool, error) {
	var count int64
	err := s.db.WithContext(ctx).
		Model(&models.Participant{}).
		Where("conversation_id = ? AND user_id = ?", conversationID, userID).
		Count(&count).Error
	if err != nil {
		return false, translateErr(err)
	}
	return count > 0, nil
}

// ConversationSummary is the inbox projection: one row per conversation with
// the peer, the latest message and the viewer's unread count.
type ConversationSummary struct {
	Conversation models.Conversation `json:"conversation"`
	PeerID       uint                `json:"peerID"`
	LastMessage  *models.Message     `json:"lastMessage,omitempty"`
	UnreadCount  int64               `json:"unreadCount"`
}

// ListUserConversations returns the summaries for every conversation the user
// participates in, most recently active first.
func (s *ChatStore) ListUserConversations(ctx context.Context, userID uint) ([]ConversationSummary, error) {
	var convs []models.Conversation
	err := s.db.WithContext(ctx).
		Joins("JOIN participants p ON p.conversation_id = conversations.id AND p.user_id = ?", userID).
		Preload("Participants").
		Order("conversations.created_at DESC").
		Find(&convs).Error
	if err != nil {
		return nil, translateErr(err)
	}

	summaries := make([]ConversationSummary, 0, len(convs))
	for _, conv := range convs {
		summary := ConversationSummary{Conversation: conv}
		for _, p := range conv.Participants {
			if p.UserID != userID {
				summary.PeerID = p.UserID
			}
		}

		var last models.Message
		err := s.db.WithContext(ctx).
			Where("conversation_id = ?", conv.ID).
			Order("created_at DESC, id DESC").
			First(&last).Error
		if err == nil {
			summary.LastMessage = &last
		} else if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, translateErr(err)
		}

		if err := s.db.WithContext(ctx).
			Model(&models.Message{}).
			Where("conversation_id = ? AND recipient_id = ? AND is_read = ?", conv.ID, userID, false).
			Count(&summary.UnreadCount).Error; err != nil {
			return nil, translateErr(err)
		}

		summaries = append(summaries, summary)
	}
	return summaries, nil
}

// translateErr maps driver failures onto the chat package's sentinel errors
// so the core can route transient outages into the offline queue.
func translateErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return fmt.Errorf("%w: %v", chat.ErrDuplicate, err)
	}
	msg := err.Error()
	switch {
	case strings.Contains(msg, "duplicate key value"):
		return fmt.Errorf("%w: %v", chat.ErrDuplicate, err)
	case strings.Contains(msg, "connection refused"),
		strings.Contains(msg, "connection reset"),
		strings.Contains(msg, "broken pipe"),
		strings.Contains(msg, "bad connection"),
		strings.Contains(msg, "i/o timeout"),
		errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%w: %v", chat.ErrStoreUnavailable, err)
	}
	return err
}

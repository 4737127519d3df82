package models

import "gorm.io/gorm"

// Message is immutable except for IsRead, which only ever moves false -> true
// and is owned by the recipient. SenderID/RecipientID are denormalized from
// the participant rows so the per-user unread feed filters without a join.
type Message struct {
	gorm.Model
	ConversationID uint   `json:"conversationID" gorm:"not null;index"`
	SenderID       uint   `json:"senderID" gorm:"not null;index"`
	RecipientID    uint   `json:"recipientID" gorm:"not null;index:idx_recipient_unread"`
	Content        string `json:"content" gorm:"type:text;not null"`
	IsRead         bool   `json:"isRead" gorm:"default:false;index:idx_recipient_unread"`
	// Set when the message was created by an offline replay; the unique index
	// makes a second replay of the same queued send a detectable no-op.
	DedupeKey *string `json:"-" gorm:"size:64;uniqueIndex"`
}

package models

import "gorm.io/gorm"

// Participant links a user to a conversation. Rows are created together with
// the conversation and never deleted in normal operation.
type Participant struct {
	gorm.Model
	ConversationID uint `json:"conversationID" gorm:"not null;index;uniqueIndex:idx_participant_pair"`
	UserID         uint `json:"userID" gorm:"not null;index;uniqueIndex:idx_participant_pair"`
}

package models

import "gorm.io/gorm"

// Conversation is a two-party messaging thread. Created once, immutable
// afterwards; the participant rows carry who belongs to it.
type Conversation struct {
	gorm.Model
	Participants []Participant `json:"participants"`
	Messages     []Message     `json:"messages,omitempty"`
}

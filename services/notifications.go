package services

import (
	"encoding/json"
	"fmt"
	"log"

	"impact-hub-server/models"
	"impact-hub-server/storage"
	"impact-hub-server/utils"
)

// NotificationService handles all push notification logic
type NotificationService struct{}

// NewNotificationService creates a new notification service instance
func NewNotificationService() *NotificationService {
	return &NotificationService{}
}

// NotificationData represents the data payload for notifications
type NotificationData struct {
	Type   string `json:"type"`
	UserID string `json:"userId,omitempty"`
	// Deep linking data
	Screen string `json:"screen"` // Target screen to navigate to
	Params string `json:"params"` // JSON string of navigation parameters
}

// getUserPushTokens retrieves all push tokens for a user
func (ns *NotificationService) getUserPushTokens(userID uint) ([]string, error) {
	var user models.User
	if err := storage.DB.First(&user, userID).Error; err != nil {
		return nil, fmt.Errorf("user not found: %v", err)
	}

	if user.AllowsNotifications == nil || !*user.AllowsNotifications || user.PushTokens == nil {
		return nil, fmt.Errorf("user has notifications disabled or no tokens")
	}

	var tokens []string
	if err := json.Unmarshal(user.PushTokens, &tokens); err != nil {
		return nil, fmt.Errorf("failed to unmarshal push tokens: %v", err)
	}

	return tokens, nil
}

// SendNotificationToUser sends a notification to a specific user
func (ns *NotificationService) SendNotificationToUser(userID uint, title, body string, data NotificationData) error {
	tokens, err := ns.getUserPushTokens(userID)
	if err != nil {
		log.Printf("Failed to get push tokens for user %d: %v", userID, err)
		return err
	}

	dataMap := map[string]string{
		"type":   data.Type,
		"userId": data.UserID,
		"screen": data.Screen,
		"params": data.Params,
	}

	var lastError error
	for _, token := range tokens {
		if err := utils.SendNotification(token, title, body, dataMap); err != nil {
			log.Printf("Failed to send notification to token %s: %v", token, err)
			lastError = err
		}
	}

	return lastError
}

// SendMessageNotification sends a push when a message arrives while the
// recipient has no live socket
func (ns *NotificationService) SendMessageNotification(recipientID, senderID uint, preview string) error {
	var sender models.User
	senderName := "Someone"
	if err := storage.DB.First(&sender, senderID).Error; err == nil {
		senderName = fmt.Sprintf("%s %s", sender.FirstName, sender.LastName)
	}

	title := "💬 New Message"
	body := fmt.Sprintf("%s: %s", senderName, preview)

	params := fmt.Sprintf(`{"senderId": %d, "senderName": "%s"}`, senderID, senderName)

	data := NotificationData{
		Type:   "message_received",
		UserID: fmt.Sprintf("%d", senderID),
		Screen: "Messages",
		Params: params,
	}

	return ns.SendNotificationToUser(recipientID, title, body, data)
}

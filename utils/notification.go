package utils

import (
	"fmt"

	expo "github.com/oliveroneill/exponent-server-sdk-golang/sdk"
)

// SendNotification delivers one push message to an Expo push token.
func SendNotification(token, title, body string, data map[string]string) error {
	pushToken, err := expo.NewExponentPushToken(token)
	if err != nil {
		return fmt.Errorf("invalid push token: %v", err)
	}

	client := expo.NewPushClient(nil)
	response, err := client.Publish(&expo.PushMessage{
		To:       []expo.ExponentPushToken{pushToken},
		Title:    title,
		Body:     body,
		Data:     data,
		Sound:    "default",
		Priority: expo.DefaultPriority,
	})
	if err != nil {
		return err
	}

	if err := response.ValidateResponse(); err != nil {
		return fmt.Errorf("push rejected for %s: %v", token, err)
	}
	return nil
}

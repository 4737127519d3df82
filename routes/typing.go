package routes

import (
	"fmt"
	"net/http"
	"time"

	"impact-hub-server/models"
	"impact-hub-server/storage"
	"impact-hub-server/utils"

	"github.com/kataras/iris/v12"
	"github.com/kataras/iris/v12/middleware/jwt"
)

// Typing indicator: set a short-lived key in Redis for 5 seconds
func Typing(ctx iris.Context) {
	claims := jwt.Get(ctx).(*utils.AccessToken)
	conversationID, err := ctx.Params().GetUint("conversationID")
	if err != nil {
		ctx.StopWithStatus(http.StatusBadRequest)
		return
	}
	// Ensure membership
	member, err := deps.Store.IsParticipant(ctx.Request().Context(), conversationID, claims.ID)
	if err != nil || !member {
		ctx.StopWithStatus(http.StatusForbidden)
		return
	}
	key := typingKey(conversationID, claims.ID)
	storage.Redis.Set(ctx, key, "1", 5*time.Second)
	ctx.JSON(iris.Map{"success": true})
}

// List who is typing by checking the Redis keys of the other participants
func ListTyping(ctx iris.Context) {
	claims := jwt.Get(ctx).(*utils.AccessToken)
	conversationID, err := ctx.Params().GetUint("conversationID")
	if err != nil {
		ctx.StopWithStatus(http.StatusBadRequest)
		return
	}
	var participants []models.Participant
	if err := storage.DB.Where("conversation_id = ?", conversationID).Find(&participants).Error; err != nil {
		ctx.StopWithStatus(http.StatusInternalServerError)
		return
	}
	typing := []iris.Map{}
	for _, p := range participants {
		if p.UserID == claims.ID {
			continue
		}
		key := typingKey(conversationID, p.UserID)
		if val, err := storage.Redis.Get(ctx, key).Result(); err == nil && val == "1" {
			typing = append(typing, iris.Map{"userID": p.UserID})
		}
	}
	ctx.JSON(iris.Map{"success": true, "typing": typing})
}

func typingKey(conversationID uint, userID uint) string {
	return fmt.Sprintf("typing:conv:%d:user:%d", conversationID, userID)
}

package routes

import (
	"errors"
	"net/http"

	"impact-hub-server/chat"
	"impact-hub-server/utils"

	"github.com/kataras/iris/v12"
	"github.com/kataras/iris/v12/middleware/jwt"
)

type CreateMessageInput struct {
	ConversationID uint   `json:"conversationID"`
	RecipientID    uint   `json:"recipientID" validate:"required"`
	Content        string `json:"content" validate:"required,lt=5000"`
}

// CreateMessage persists a message from the caller to the recipient. When the
// store is unreachable the send is parked in the offline queue and the
// request is acknowledged with 202 and queued=true. A user-initiated send is
// never silently dropped: it is persisted, queued, or rejected with a reason.
func CreateMessage(ctx iris.Context) {
	claims := jwt.Get(ctx).(*utils.AccessToken)

	var req CreateMessageInput
	if err := ctx.ReadJSON(&req); err != nil {
		utils.HandleValidationErrors(err, ctx)
		return
	}

	rctx := ctx.Request().Context()
	conversationID := req.ConversationID

	manager := chat.NewConversationManager(deps.Store, chat.StaticIdentity(claims.ID))
	conv, err := manager.GetOrCreate(rctx, req.RecipientID)
	switch {
	case err == nil:
		if conversationID != 0 && conversationID != conv.ID {
			ctx.StopWithStatus(http.StatusForbidden)
			return
		}
		conversationID = conv.ID
	case errors.Is(err, chat.ErrStoreUnavailable) && conversationID != 0:
		// Resolution needs the store; with a known conversation we can still
		// queue the send below.
	case errors.Is(err, chat.ErrSelfConversation), errors.Is(err, chat.ErrInvalidPeer):
		utils.JSONError(ctx, http.StatusBadRequest, "invalid_peer", err.Error())
		return
	case errors.Is(err, chat.ErrStoreUnavailable):
		utils.JSONError(ctx, http.StatusServiceUnavailable, "store_unavailable", "try again later")
		return
	default:
		ctx.StopWithStatus(http.StatusInternalServerError)
		return
	}

	msg, queued, err := deps.Messenger.Send(rctx, conversationID, claims.ID, req.RecipientID, req.Content)
	if err != nil {
		switch {
		case errors.Is(err, chat.ErrEmptyBody):
			utils.JSONError(ctx, http.StatusBadRequest, "empty_body", "message body must not be empty")
		case errors.Is(err, chat.ErrSelfConversation):
			utils.JSONError(ctx, http.StatusBadRequest, "invalid_peer", err.Error())
		default:
			ctx.StopWithStatus(http.StatusInternalServerError)
		}
		return
	}
	if queued {
		ctx.StatusCode(http.StatusAccepted)
		ctx.JSON(iris.Map{"success": true, "queued": true})
		return
	}

	// Push only when the recipient has no live socket; otherwise the realtime
	// frame is the delivery.
	if !deps.Hub.IsOnline(req.RecipientID) && deps.Notifier != nil {
		go deps.Notifier.SendMessageNotification(req.RecipientID, claims.ID, messagePreview(msg.Content))
	}

	ctx.JSON(iris.Map{"success": true, "message": msg})
}

// ListMessages: GET /api/messages?conversationID=...&cursor=...&limit=...
func ListMessages(ctx iris.Context) {
	claims := jwt.Get(ctx).(*utils.AccessToken)

	convID, err := ctx.URLParamInt("conversationID")
	if err != nil || convID <= 0 {
		ctx.StopWithStatus(http.StatusBadRequest)
		return
	}
	limit, _ := ctx.URLParamInt("limit")
	if limit <= 0 || limit > 100 {
		limit = 30
	}
	cursor, _ := ctx.URLParamInt("cursor")

	rctx := ctx.Request().Context()
	member, err := deps.Store.IsParticipant(rctx, uint(convID), claims.ID)
	if err != nil {
		ctx.StopWithStatus(http.StatusInternalServerError)
		return
	}
	if !member {
		ctx.StopWithStatus(http.StatusForbidden)
		return
	}

	msgs, nextCursor, err := deps.Store.ListMessagesPage(rctx, uint(convID), uint(cursor), limit)
	if err != nil {
		ctx.StopWithStatus(http.StatusInternalServerError)
		return
	}
	ctx.JSON(iris.Map{"messages": msgs, "nextCursor": nextCursor})
}

type SetMessagesReadInput struct {
	ConversationID uint   `json:"conversationID" validate:"required"`
	MessageIDs     []uint `json:"messageIDs" validate:"required"`
}

// SetMessagesRead flips is_read on the given messages for the caller. The
// operation is idempotent: already-read ids are skipped and re-marking is a
// success, not an error.
func SetMessagesRead(ctx iris.Context) {
	claims := jwt.Get(ctx).(*utils.AccessToken)

	var req SetMessagesReadInput
	if err := ctx.ReadJSON(&req); err != nil {
		utils.HandleValidationErrors(err, ctx)
		return
	}

	updated, queued, err := deps.Messenger.MarkRead(ctx.Request().Context(), claims.ID, req.ConversationID, req.MessageIDs)
	if err != nil {
		ctx.StopWithStatus(http.StatusInternalServerError)
		return
	}
	if queued {
		ctx.StatusCode(http.StatusAccepted)
		ctx.JSON(iris.Map{"success": true, "queued": true})
		return
	}
	ctx.JSON(iris.Map{"success": true, "updated": len(updated)})
}

// GetUnreadCount returns the caller's global unread counter, recomputed from
// the store (the counter is a projection; this is its source of truth).
func GetUnreadCount(ctx iris.Context) {
	claims := jwt.Get(ctx).(*utils.AccessToken)

	count, err := deps.Store.CountUnread(ctx.Request().Context(), claims.ID)
	if err != nil {
		if errors.Is(err, chat.ErrStoreUnavailable) {
			utils.JSONError(ctx, http.StatusServiceUnavailable, "store_unavailable", "try again later")
			return
		}
		ctx.StopWithStatus(http.StatusInternalServerError)
		return
	}
	ctx.JSON(iris.Map{"success": true, "count": count})
}

// GetPendingActions reports the offline queue depth, the backing value of the
// client's "pending/offline" indicator.
func GetPendingActions(ctx iris.Context) {
	pending, err := deps.Queue.PendingCount(ctx.Request().Context())
	if err != nil {
		ctx.StopWithStatus(http.StatusInternalServerError)
		return
	}
	ctx.JSON(iris.Map{"success": true, "pending": pending})
}

func messagePreview(content string) string {
	const max = 80
	runes := []rune(content)
	if len(runes) <= max {
		return content
	}
	return string(runes[:max]) + "…"
}

package routes

import (
	"errors"
	"net/http"

	"impact-hub-server/chat"
	"impact-hub-server/utils"

	"github.com/kataras/iris/v12"
	"github.com/kataras/iris/v12/middleware/jwt"
)

type startConversationInput struct {
	PeerID uint `json:"peerID" validate:"required"`
}

// StartConversation resolves or creates the direct conversation between the
// caller and a peer. Calling it twice for the same pair returns the same
// conversation.
func StartConversation(ctx iris.Context) {
	claims := jwt.Get(ctx).(*utils.AccessToken)

	var input startConversationInput
	if err := ctx.ReadJSON(&input); err != nil {
		utils.HandleValidationErrors(err, ctx)
		return
	}

	manager := chat.NewConversationManager(deps.Store, chat.StaticIdentity(claims.ID))
	conv, err := manager.GetOrCreate(ctx.Request().Context(), input.PeerID)
	if err != nil {
		switch {
		case errors.Is(err, chat.ErrSelfConversation), errors.Is(err, chat.ErrInvalidPeer):
			utils.JSONError(ctx, http.StatusBadRequest, "invalid_peer", err.Error())
		case errors.Is(err, chat.ErrStoreUnavailable):
			utils.JSONError(ctx, http.StatusServiceUnavailable, "store_unavailable", "try again later")
		default:
			ctx.StopWithStatus(http.StatusInternalServerError)
		}
		return
	}

	ctx.JSON(iris.Map{"success": true, "conversation": conv})
}

// ListConversations returns the caller's inbox: every conversation with its
// peer, last message and unread count.
func ListConversations(ctx iris.Context) {
	claims := jwt.Get(ctx).(*utils.AccessToken)

	summaries, err := deps.Store.ListUserConversations(ctx.Request().Context(), claims.ID)
	if err != nil {
		if errors.Is(err, chat.ErrStoreUnavailable) {
			utils.JSONError(ctx, http.StatusServiceUnavailable, "store_unavailable", "try again later")
			return
		}
		ctx.StopWithStatus(http.StatusInternalServerError)
		return
	}

	ctx.JSON(iris.Map{"success": true, "conversations": summaries})
}

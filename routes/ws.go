package routes

import (
	"context"
	"encoding/json"
	"log"
	"net/http"

	"impact-hub-server/realtime"
	"impact-hub-server/utils"

	"github.com/gorilla/websocket"
	"github.com/kataras/iris/v12"
	"github.com/kataras/iris/v12/middleware/jwt"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

type socketCommand struct {
	Type           string `json:"type"` // join | leave
	ConversationID uint   `json:"conversationID"`
}

// ChatSocket upgrades the request and attaches the session to the hub. The
// user-scoped feed starts immediately; per-conversation feeds follow the
// client's join/leave commands as views open and close. The handler blocks on
// the read loop for the socket's lifetime and detaches on the way out.
func ChatSocket(ctx iris.Context) {
	claims := jwt.Get(ctx).(*utils.AccessToken)

	ws, err := upgrader.Upgrade(ctx.ResponseWriter(), ctx.Request(), nil)
	if err != nil {
		return
	}

	conn := realtime.NewConnection(claims.ID, ws)
	// Subscriptions outlive individual frames; they end at Detach, not with
	// the upgrade request.
	sctx := context.Background()
	if err := deps.Hub.Attach(sctx, conn); err != nil {
		log.Printf("ws: attach user %d: %v", claims.ID, err)
		_ = ws.Close()
		return
	}
	defer deps.Hub.Detach(conn)

	for {
		_, raw, err := ws.ReadMessage()
		if err != nil {
			return
		}
		var cmd socketCommand
		if err := json.Unmarshal(raw, &cmd); err != nil {
			continue
		}
		switch cmd.Type {
		case "join":
			member, err := deps.Store.IsParticipant(sctx, cmd.ConversationID, claims.ID)
			if err != nil || !member {
				continue
			}
			if err := deps.Hub.Join(sctx, conn, cmd.ConversationID); err != nil {
				log.Printf("ws: join conversation %d for user %d: %v", cmd.ConversationID, claims.ID, err)
			}
		case "leave":
			deps.Hub.Leave(conn, cmd.ConversationID)
		}
	}
}

package main

import (
	"context"
	"os"
	"time"

	"impact-hub-server/chat"
	"impact-hub-server/realtime"
	"impact-hub-server/routes"
	"impact-hub-server/services"
	"impact-hub-server/storage"
	"impact-hub-server/utils"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/kataras/iris/v12"
	"github.com/kataras/iris/v12/middleware/jwt"
)

func main() {
	godotenv.Load()
	db := storage.InitializeDB()
	storage.InitializeRedis()

	chatStore := storage.NewChatStore(db)
	queueStore := storage.NewActionQueueStore(storage.Redis)
	transport := realtime.NewRedisTransport(storage.Redis)
	queue := chat.NewOfflineActionQueue(queueStore, chatStore, transport)
	messenger := chat.NewMessenger(chatStore, transport, queue)
	hub := realtime.NewHub(transport)
	defer hub.Close()

	// Replay whatever a previous run left behind, then keep draining on an
	// interval; each tick is the "connectivity restored" probe.
	drainCtx, stopDrain := context.WithCancel(context.Background())
	defer stopDrain()
	go queue.Run(drainCtx, 5*time.Second)

	routes.Setup(routes.Dependencies{
		Store:     chatStore,
		Queue:     queue,
		Messenger: messenger,
		Transport: transport,
		Hub:       hub,
		Notifier:  services.NewNotificationService(),
	})

	app := iris.New()
	app.Validator = validator.New()

	app.AllowMethods(iris.MethodOptions)
	app.UseRouter(func(ctx iris.Context) {
		ctx.Header("Access-Control-Allow-Origin", ctx.GetHeader("Origin"))
		ctx.Header("Vary", "Origin")
		ctx.Header("Access-Control-Allow-Credentials", "true")
		ctx.Header("Access-Control-Allow-Headers", "Authorization, Content-Type, X-Requested-With")
		ctx.Header("Access-Control-Allow-Methods", "GET,POST,PATCH,PUT,DELETE,OPTIONS")
		if ctx.Method() == iris.MethodOptions {
			ctx.StatusCode(iris.StatusNoContent)
			return
		}
		ctx.Next()
	})

	app.Use(iris.Compression)

	accessTokenVerifier := jwt.NewVerifier(jwt.HS256, []byte(os.Getenv("ACCESS_TOKEN_SECRET")))
	accessTokenVerifier.WithDefaultBlocklist()
	accessTokenVerifierMiddleware := accessTokenVerifier.Verify(func() interface{} {
		return new(utils.AccessToken)
	})

	refreshTokenVerifier := jwt.NewVerifier(jwt.HS256, []byte(os.Getenv("REFRESH_TOKEN_SECRET")))
	refreshTokenVerifier.WithDefaultBlocklist()
	refreshTokenVerifierMiddleware := refreshTokenVerifier.Verify(func() interface{} {
		return new(jwt.Claims)
	})

	refreshTokenVerifier.Extractors = append(refreshTokenVerifier.Extractors, func(ctx iris.Context) string {
		var tokenInput utils.RefreshTokenInput
		err := ctx.ReadJSON(&tokenInput)
		if err != nil {
			return ""
		}

		return tokenInput.RefreshToken
	})

	user := app.Party("/api/user")
	{
		user.Post("/refresh", refreshTokenVerifierMiddleware, utils.RefreshToken)
	}

	conversations := app.Party("/api/conversations", accessTokenVerifierMiddleware)
	{
		conversations.Post("/", routes.StartConversation)
		conversations.Get("/", routes.ListConversations)
		conversations.Post("/{conversationID:uint}/typing", routes.Typing)
		conversations.Get("/{conversationID:uint}/typing", routes.ListTyping)
	}

	messages := app.Party("/api/messages", accessTokenVerifierMiddleware)
	{
		messages.Post("/", routes.CreateMessage)
		messages.Get("/", routes.ListMessages)
		messages.Post("/read", routes.SetMessagesRead)
		messages.Get("/unread-count", routes.GetUnreadCount)
		messages.Get("/pending", routes.GetPendingActions)
	}

	app.Get("/api/ws", accessTokenVerifierMiddleware, routes.ChatSocket)

	port := os.Getenv("PORT")
	if port == "" {
		port = "4000"
	}
	app.Listen(":" + port)
}

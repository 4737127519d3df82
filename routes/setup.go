package routes

import (
	"impact-hub-server/chat"
	"impact-hub-server/realtime"
	"impact-hub-server/services"
	"impact-hub-server/storage"
)

// Dependencies carries everything the messaging handlers need. main wires it
// once at startup; handlers never reach into ambient globals beyond this.
type Dependencies struct {
	Store     *storage.ChatStore
	Queue     *chat.OfflineActionQueue
	Messenger *chat.Messenger
	Transport chat.Transport
	Hub       *realtime.Hub
	Notifier  *services.NotificationService
}

var deps Dependencies

// Setup installs the handler dependencies.
func Setup(d Dependencies) {
	deps = d
}

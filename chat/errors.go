package chat

import "errors"

var (
	// ErrStoreUnavailable marks a transient connectivity failure talking to the
	// persistent store. Callers redirect mutations into the offline queue.
	ErrStoreUnavailable = errors.New("chat: store unavailable")

	// ErrDuplicate is returned by the store when an insert collides with an
	// existing dedupe key. Replay code treats it as success.
	ErrDuplicate = errors.New("chat: duplicate message")

	ErrEmptyBody        = errors.New("chat: message body is empty")
	ErrInvalidPeer      = errors.New("chat: invalid peer id")
	ErrSelfConversation = errors.New("chat: peer must differ from current user")
	ErrNoCurrentUser    = errors.New("chat: no current user")
	ErrChannelClosed    = errors.New("chat: delivery channel is closed")
)

package realtime

import "strings"

// EventType names a realtime event on the wire.
type EventType string

// Server to client events.
const (
	EventNewMessage             EventType = "newMessage"
	EventNewMessageRequest      EventType = "newMessageRequest"
	EventMessageRequestAccepted EventType = "messageRequestAccepted"
	EventTyping                 EventType = "typing"
	EventStopTyping             EventType = "stopTyping"
	EventMessageSeen            EventType = "messageSeen"
	EventNotification           EventType = "notification"
	EventPostUpdated            EventType = "postUpdated"
	EventPostDeleted            EventType = "postDeleted"
	EventPostLiked              EventType = "postLiked"
	EventPostCommented          EventType = "postCommented"

	EventRegistered EventType = "registered"
	EventJoined     EventType = "joined"
	EventError      EventType = "error"
)

// Client to server events.
const (
	EventRegisterUser      EventType = "registerUser"
	EventJoinConversation  EventType = "joinConversation"
	EventLeaveConversation EventType = "leaveConversation"
)

// Event is the envelope written to websocket clients. ID is set for events stored in a user's outbox
// and can be sent back as lastEventId to resume after a reconnect.
type Event struct {
	ID   string      `json:"id,omitempty"`
	Name EventType   `json:"event"`
	Data interface{} `json:"data,omitempty"`
}

// NewEvent builds an event envelope.
func NewEvent(name EventType, data interface{}) Event {
	return Event{Name: name, Data: data}
}

const (
	userRoomPrefix         = "user:"
	conversationRoomPrefix = "conversation:"
)

// UserRoom returns the room every connection registered as userID belongs to.
func UserRoom(userID string) string {
	return userRoomPrefix + userID
}

// ConversationRoom returns the room for clients that joined the conversation.
func ConversationRoom(conversationID string) string {
	return conversationRoomPrefix + conversationID
}

func isUserRoom(room string) bool {
	return strings.HasPrefix(room, userRoomPrefix)
}

func userFromRoom(room string) string {
	return strings.TrimPrefix(room, userRoomPrefix)
}

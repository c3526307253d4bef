package dto

import (
	"time"

	"github.com/noah-isme/medilink-api/internal/models"
)

// UserSummary is the display data attached to participants, senders and connections.
type UserSummary struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	ProfilePic string `json:"profilePic,omitempty"`
	Role       string `json:"role,omitempty"`
}

// NewUserSummary converts a directory record into its display form.
func NewUserSummary(user models.User) UserSummary {
	return UserSummary{
		ID:         user.ID,
		Name:       user.Name,
		ProfilePic: user.ProfilePic,
		Role:       user.Role,
	}
}

// NewUserSummarySlice converts directory records into display forms.
func NewUserSummarySlice(users []models.User) []UserSummary {
	out := make([]UserSummary, 0, len(users))
	for _, user := range users {
		out = append(out, NewUserSummary(user))
	}
	return out
}

// ConversationCreateRequest opens (or returns) the direct conversation with another user.
type ConversationCreateRequest struct {
	OtherUserID string `json:"otherUserId" validate:"required,max=64"`
}

// AttachmentPayload describes an already uploaded attachment.
type AttachmentPayload struct {
	URL  string `json:"url" validate:"required,url,max=1024"`
	Kind string `json:"kind" validate:"required,oneof=image video file"`
}

// MessageCreateRequest is the JSON body for sending a message. Text may be empty when attachments are present.
type MessageCreateRequest struct {
	Text        string              `json:"text" validate:"max=4000"`
	Attachments []AttachmentPayload `json:"attachments" validate:"omitempty,max=10,dive"`
}

// ChatStartRequest opens a gated conversation with a first message.
type ChatStartRequest struct {
	UserID string `json:"userId" validate:"required,max=64"`
	Text   string `json:"text" validate:"required,min=1,max=4000"`
}

// ChatMessageRequest posts a text message into an accepted chat.
type ChatMessageRequest struct {
	Text string `json:"text" validate:"required,min=1,max=4000"`
}

// AttachmentResponse is an attachment as returned to clients.
type AttachmentResponse struct {
	URL  string `json:"url"`
	Kind string `json:"kind"`
}

// MessageResponse is the serialized representation of a message.
type MessageResponse struct {
	ID             string               `json:"id"`
	ConversationID string               `json:"conversationId"`
	Sender         UserSummary          `json:"sender"`
	Text           string               `json:"text"`
	Attachments    []AttachmentResponse `json:"attachments"`
	ReadBy         []string             `json:"readBy"`
	CreatedAt      time.Time            `json:"createdAt"`
}

// NewMessageResponse converts a message model into a DTO with the sender's display data.
func NewMessageResponse(message models.Message, sender UserSummary) MessageResponse {
	attachments := make([]AttachmentResponse, 0, len(message.Attachments))
	for _, attachment := range message.Attachments {
		attachments = append(attachments, AttachmentResponse{URL: attachment.URL, Kind: string(attachment.Kind)})
	}

	return MessageResponse{
		ID:             message.ID,
		ConversationID: message.ConversationID,
		Sender:         sender,
		Text:           message.Text,
		Attachments:    attachments,
		ReadBy:         message.ReadBy(),
		CreatedAt:      message.CreatedAt,
	}
}

// ConversationResponse is the serialized representation of a conversation.
type ConversationResponse struct {
	ID           string           `json:"id"`
	Title        *string          `json:"title,omitempty"`
	Status       string           `json:"status"`
	RequestedBy  string           `json:"requestedBy,omitempty"`
	Participants []UserSummary    `json:"participants"`
	UnreadCounts map[string]int   `json:"unreadCounts"`
	LastMessage  *MessageResponse `json:"lastMessage,omitempty"`
	CreatedAt    time.Time        `json:"createdAt"`
	UpdatedAt    time.Time        `json:"updatedAt"`
}

// NewConversationResponse converts a conversation model. Participants missing from people fall back to their id.
func NewConversationResponse(conversation models.Conversation, people map[string]UserSummary, last *MessageResponse) ConversationResponse {
	participants := make([]UserSummary, 0, len(conversation.Participants))
	for _, id := range conversation.ParticipantIDs() {
		summary, ok := people[id]
		if !ok {
			summary = UserSummary{ID: id}
		}
		participants = append(participants, summary)
	}

	return ConversationResponse{
		ID:           conversation.ID,
		Title:        conversation.Title,
		Status:       string(conversation.Status),
		RequestedBy:  conversation.RequestedBy,
		Participants: participants,
		UnreadCounts: conversation.UnreadCounts(),
		LastMessage:  last,
		CreatedAt:    conversation.CreatedAt,
		UpdatedAt:    conversation.UpdatedAt,
	}
}

// NewMessageEvent is the payload of the newMessage realtime event.
type NewMessageEvent struct {
	ConversationID string          `json:"conversationId"`
	Message        MessageResponse `json:"message"`
}

// MessageRequestEvent is the payload of the newMessageRequest realtime event.
type MessageRequestEvent struct {
	ChatID string      `json:"chatId"`
	From   UserSummary `json:"from"`
	Text   string      `json:"text"`
}

// MessageRequestAcceptedEvent is the payload of the messageRequestAccepted realtime event.
type MessageRequestAcceptedEvent struct {
	ChatID string `json:"chatId"`
	By     string `json:"by"`
}

// MessageSeenEvent is the payload of the messageSeen realtime event.
type MessageSeenEvent struct {
	ChatID string `json:"chatId"`
	By     string `json:"by"`
}

// MessageNotificationEvent is the transient notification sent to recipients of a new message.
type MessageNotificationEvent struct {
	Type           string      `json:"type"`
	ConversationID string      `json:"conversationId"`
	From           UserSummary `json:"from"`
	Text           string      `json:"text"`
}

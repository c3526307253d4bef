package service

import (
	"context"
	"errors"
	"fmt"
	"html"
	"strings"
	"unicode/utf8"

	"github.com/microcosm-cc/bluemonday"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/noah-isme/medilink-api/internal/dto"
	"github.com/noah-isme/medilink-api/internal/models"
	"github.com/noah-isme/medilink-api/internal/observability"
	"github.com/noah-isme/medilink-api/internal/realtime"
	"github.com/noah-isme/medilink-api/internal/repository"
)

const (
	maxMessageLength        = 4000
	notificationPreviewSize = 120
	pushPreviewSize         = 80
)

// SendMessageInput carries the content of a new message. Attachments are already uploaded.
type SendMessageInput struct {
	Text        string
	Attachments []models.Attachment
}

// MessagingService owns conversations and messages between two users.
type MessagingService interface {
	GetOrCreateConversation(ctx context.Context, requesterID, otherUserID string) (dto.ConversationResponse, error)
	ListConversations(ctx context.Context, userID string) ([]dto.ConversationResponse, error)
	GetMessages(ctx context.Context, conversationID, requesterID string) ([]dto.MessageResponse, error)
	SendMessage(ctx context.Context, conversationID, senderID string, input SendMessageInput) (dto.MessageResponse, error)
	StartRequest(ctx context.Context, senderID, receiverID, text string) (dto.ConversationResponse, error)
	Accept(ctx context.Context, conversationID, actorID string) (dto.ConversationResponse, error)
	Ignore(ctx context.Context, conversationID, actorID string) (dto.ConversationResponse, error)
	DeleteDirect(ctx context.Context, userA, userB string) error
	CanJoinConversation(ctx context.Context, conversationID, userID string) (bool, error)
}

type messagingService struct {
	conversations repository.ConversationRepository
	messages      repository.MessageRepository
	directory     UserDirectory
	dispatcher    realtime.Dispatcher
	push          *PushNotifier
	sanitizer     *bluemonday.Policy
	logger        zerolog.Logger
	tracer        trace.Tracer
}

// NewMessagingService constructs the messaging service.
func NewMessagingService(
	conversations repository.ConversationRepository,
	messages repository.MessageRepository,
	directory UserDirectory,
	dispatcher realtime.Dispatcher,
	push *PushNotifier,
	logger zerolog.Logger,
) MessagingService {
	return &messagingService{
		conversations: conversations,
		messages:      messages,
		directory:     directory,
		dispatcher:    dispatcher,
		push:          push,
		sanitizer:     bluemonday.StrictPolicy(),
		logger:        logger.With().Str("component", "messaging_service").Logger(),
		tracer:        otel.Tracer("github.com/noah-isme/medilink-api/internal/service/messaging"),
	}
}

func (s *messagingService) GetOrCreateConversation(ctx context.Context, requesterID, otherUserID string) (dto.ConversationResponse, error) {
	ctx, span := s.tracer.Start(ctx, "messaging.get_or_create", trace.WithAttributes(
		attribute.String("messaging.requester_id", requesterID),
		attribute.String("messaging.other_user_id", otherUserID),
	))
	defer span.End()

	otherUserID = strings.TrimSpace(otherUserID)
	if err := s.checkPair(ctx, requesterID, otherUserID); err != nil {
		span.SetStatus(codes.Error, "invalid pair")
		return dto.ConversationResponse{}, err
	}

	conversation, created, err := s.findOrCreate(ctx, requesterID, otherUserID, models.ConversationStatusActive, "")
	if err != nil {
		span.RecordError(err)
		return dto.ConversationResponse{}, err
	}
	if created {
		s.logger.Info().Str("conversation_id", conversation.ID).Msg("conversation opened")
	}

	return s.present(ctx, conversation)
}

func (s *messagingService) ListConversations(ctx context.Context, userID string) ([]dto.ConversationResponse, error) {
	ctx, span := s.tracer.Start(ctx, "messaging.list_conversations")
	defer span.End()

	conversations, err := s.conversations.ListForUser(ctx, userID)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	lastIDs := make([]string, 0, len(conversations))
	for _, conversation := range conversations {
		if conversation.LastMessageID != nil {
			lastIDs = append(lastIDs, *conversation.LastMessageID)
		}
	}
	lastMessages, err := s.messages.FindByIDs(ctx, lastIDs)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	byID := make(map[string]models.Message, len(lastMessages))
	for _, message := range lastMessages {
		byID[message.ID] = message
	}

	userIDs := make([]string, 0, len(conversations)*2)
	for _, conversation := range conversations {
		userIDs = append(userIDs, conversation.ParticipantIDs()...)
	}
	people, err := s.directory.Summaries(ctx, userIDs)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	responses := make([]dto.ConversationResponse, 0, len(conversations))
	for _, conversation := range conversations {
		var last *dto.MessageResponse
		if conversation.LastMessageID != nil {
			if message, ok := byID[*conversation.LastMessageID]; ok {
				response := dto.NewMessageResponse(message, summaryOrID(people, message.SenderID))
				last = &response
			}
		}
		responses = append(responses, dto.NewConversationResponse(conversation, people, last))
	}

	return responses, nil
}

func (s *messagingService) GetMessages(ctx context.Context, conversationID, requesterID string) ([]dto.MessageResponse, error) {
	ctx, span := s.tracer.Start(ctx, "messaging.get_messages", trace.WithAttributes(
		attribute.String("messaging.conversation_id", conversationID),
	))
	defer span.End()

	conversation, err := s.participantConversation(ctx, conversationID, requesterID)
	if err != nil {
		span.SetStatus(codes.Error, "lookup failed")
		return nil, err
	}

	added, err := s.messages.MarkReadExcept(ctx, conversation.ID, requesterID)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	if err := s.conversations.ResetUnread(ctx, conversation.ID, requesterID); err != nil {
		span.RecordError(err)
		return nil, err
	}

	messages, err := s.messages.ListByConversation(ctx, conversation.ID)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	senderIDs := make([]string, 0, len(messages))
	for _, message := range messages {
		senderIDs = append(senderIDs, message.SenderID)
	}
	people, err := s.directory.Summaries(ctx, senderIDs)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	responses := make([]dto.MessageResponse, 0, len(messages))
	for _, message := range messages {
		responses = append(responses, dto.NewMessageResponse(message, summaryOrID(people, message.SenderID)))
	}

	if added > 0 {
		s.dispatcher.ToConversation(ctx, conversation.ID, realtime.NewEvent(realtime.EventMessageSeen, dto.MessageSeenEvent{
			ChatID: conversation.ID,
			By:     requesterID,
		}))
	}

	return responses, nil
}

func (s *messagingService) SendMessage(ctx context.Context, conversationID, senderID string, input SendMessageInput) (dto.MessageResponse, error) {
	ctx, span := s.tracer.Start(ctx, "messaging.send", trace.WithAttributes(
		attribute.String("messaging.conversation_id", conversationID),
		attribute.Int("messaging.attachments", len(input.Attachments)),
	))
	defer span.End()

	conversation, err := s.participantConversation(ctx, conversationID, senderID)
	if err != nil {
		span.SetStatus(codes.Error, "lookup failed")
		return dto.MessageResponse{}, err
	}
	if conversation.Status != models.ConversationStatusActive {
		span.SetStatus(codes.Error, "conversation not active")
		return dto.MessageResponse{}, fmt.Errorf("%w: conversation is %s", ErrInvalidState, conversation.Status)
	}

	text, err := s.cleanText(input.Text, len(input.Attachments) > 0)
	if err != nil {
		span.SetStatus(codes.Error, "invalid message")
		return dto.MessageResponse{}, err
	}

	response, err := s.appendMessage(ctx, conversation, senderID, text, input.Attachments, true)
	if err != nil {
		span.RecordError(err)
		return dto.MessageResponse{}, err
	}

	s.deliverMessage(ctx, conversation, response)
	span.SetStatus(codes.Ok, "sent")
	return response, nil
}

func (s *messagingService) StartRequest(ctx context.Context, senderID, receiverID, text string) (dto.ConversationResponse, error) {
	ctx, span := s.tracer.Start(ctx, "messaging.start_request", trace.WithAttributes(
		attribute.String("messaging.sender_id", senderID),
		attribute.String("messaging.receiver_id", receiverID),
	))
	defer span.End()

	receiverID = strings.TrimSpace(receiverID)
	clean, err := s.cleanText(text, false)
	if err != nil {
		return dto.ConversationResponse{}, err
	}
	if err := s.checkPair(ctx, senderID, receiverID); err != nil {
		span.SetStatus(codes.Error, "invalid pair")
		return dto.ConversationResponse{}, err
	}

	conversation, created, err := s.findOrCreate(ctx, senderID, receiverID, models.ConversationStatusPending, senderID)
	if err != nil {
		span.RecordError(err)
		return dto.ConversationResponse{}, err
	}

	switch conversation.Status {
	case models.ConversationStatusIgnored:
		return dto.ConversationResponse{}, fmt.Errorf("%w: message request was ignored", ErrInvalidState)
	case models.ConversationStatusPending:
		if !created && conversation.RequestedBy != senderID {
			return dto.ConversationResponse{}, fmt.Errorf("%w: accept the pending request first", ErrInvalidState)
		}
	}

	// Request messages stay out of the unread counters until the receiver accepts.
	countUnread := conversation.Status == models.ConversationStatusActive
	response, err := s.appendMessage(ctx, conversation, senderID, clean, nil, countUnread)
	if err != nil {
		span.RecordError(err)
		return dto.ConversationResponse{}, err
	}

	if conversation.Status == models.ConversationStatusActive {
		s.deliverMessage(ctx, conversation, response)
	} else {
		s.dispatcher.ToUser(ctx, receiverID, realtime.NewEvent(realtime.EventNewMessageRequest, dto.MessageRequestEvent{
			ChatID: conversation.ID,
			From:   response.Sender,
			Text:   response.Text,
		}))
		s.push.Notify([]string{receiverID}, PushMessage{
			Title: fmt.Sprintf("%s sent you a message request", displayName(response.Sender)),
			Body:  truncateRunes(response.Text, pushPreviewSize),
			Data:  map[string]string{"type": "message_request", "chatId": conversation.ID},
		})
	}

	refreshed, err := s.conversations.FindByID(ctx, conversation.ID)
	if err != nil {
		return dto.ConversationResponse{}, err
	}
	return s.present(ctx, refreshed)
}

func (s *messagingService) Accept(ctx context.Context, conversationID, actorID string) (dto.ConversationResponse, error) {
	ctx, span := s.tracer.Start(ctx, "messaging.accept", trace.WithAttributes(
		attribute.String("messaging.conversation_id", conversationID),
	))
	defer span.End()

	conversation, err := s.transition(ctx, conversationID, actorID, models.ConversationStatusActive)
	if err != nil {
		span.SetStatus(codes.Error, "transition rejected")
		return dto.ConversationResponse{}, err
	}

	s.dispatcher.ToUsers(ctx, conversation.OtherParticipants(actorID), realtime.NewEvent(realtime.EventMessageRequestAccepted, dto.MessageRequestAcceptedEvent{
		ChatID: conversation.ID,
		By:     actorID,
	}))

	return s.present(ctx, conversation)
}

func (s *messagingService) Ignore(ctx context.Context, conversationID, actorID string) (dto.ConversationResponse, error) {
	ctx, span := s.tracer.Start(ctx, "messaging.ignore", trace.WithAttributes(
		attribute.String("messaging.conversation_id", conversationID),
	))
	defer span.End()

	conversation, err := s.transition(ctx, conversationID, actorID, models.ConversationStatusIgnored)
	if err != nil {
		span.SetStatus(codes.Error, "transition rejected")
		return dto.ConversationResponse{}, err
	}

	return s.present(ctx, conversation)
}

func (s *messagingService) DeleteDirect(ctx context.Context, userA, userB string) error {
	conversation, err := s.conversations.FindDirect(ctx, userA, userB)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	if err := s.conversations.Delete(ctx, conversation.ID); err != nil {
		return err
	}
	s.logger.Info().Str("conversation_id", conversation.ID).Msg("conversation archived")
	return nil
}

func (s *messagingService) CanJoinConversation(ctx context.Context, conversationID, userID string) (bool, error) {
	conversation, err := s.conversations.FindByID(ctx, conversationID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return conversation.HasParticipant(userID), nil
}

// transition moves a pending conversation to the target status. Only the recipient of the request may act.
func (s *messagingService) transition(ctx context.Context, conversationID, actorID string, to models.ConversationStatus) (models.Conversation, error) {
	conversation, err := s.participantConversation(ctx, conversationID, actorID)
	if err != nil {
		return models.Conversation{}, err
	}
	if conversation.RequestedBy == actorID {
		return models.Conversation{}, fmt.Errorf("%w: the requester cannot answer their own request", ErrForbidden)
	}
	if conversation.Status != models.ConversationStatusPending {
		return models.Conversation{}, fmt.Errorf("%w: conversation is %s", ErrInvalidState, conversation.Status)
	}

	if err := s.conversations.UpdateStatus(ctx, conversation.ID, models.ConversationStatusPending, to); err != nil {
		if errors.Is(err, repository.ErrStatusConflict) {
			return models.Conversation{}, fmt.Errorf("%w: conversation is no longer pending", ErrInvalidState)
		}
		return models.Conversation{}, err
	}

	observability.ConversationTransitions().WithLabelValues(string(to)).Inc()
	s.logger.Info().Str("conversation_id", conversation.ID).Str("status", string(to)).Msg("conversation request answered")

	conversation.Status = to
	return conversation, nil
}

// findOrCreate returns the pair's conversation, creating it with the given status when absent.
// A concurrent creator wins through the unique pair key and the loser re-reads its row.
func (s *messagingService) findOrCreate(ctx context.Context, initiatorID, otherID string, status models.ConversationStatus, requestedBy string) (models.Conversation, bool, error) {
	existing, err := s.conversations.FindDirect(ctx, initiatorID, otherID)
	if err == nil {
		return existing, false, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return models.Conversation{}, false, err
	}

	conversation := models.Conversation{
		Status:      status,
		RequestedBy: requestedBy,
		Participants: []models.ConversationParticipant{
			{UserID: initiatorID, Position: 0},
			{UserID: otherID, Position: 1},
		},
	}
	if err := s.conversations.Create(ctx, &conversation); err != nil {
		if errors.Is(err, repository.ErrDuplicateConversation) {
			existing, err := s.conversations.FindDirect(ctx, initiatorID, otherID)
			return existing, false, err
		}
		return models.Conversation{}, false, err
	}

	return conversation, true, nil
}

func (s *messagingService) appendMessage(ctx context.Context, conversation models.Conversation, senderID, text string, attachments []models.Attachment, countUnread bool) (dto.MessageResponse, error) {
	message := models.Message{
		ConversationID: conversation.ID,
		SenderID:       senderID,
		Text:           text,
		Attachments:    attachments,
	}
	if err := s.messages.Append(ctx, &message); err != nil {
		return dto.MessageResponse{}, err
	}
	if err := s.conversations.AppendMessageRef(ctx, conversation.ID, message.ID); err != nil {
		return dto.MessageResponse{}, err
	}
	if countUnread {
		if err := s.conversations.IncrementUnreadExcept(ctx, conversation.ID, senderID); err != nil {
			return dto.MessageResponse{}, err
		}
	}

	kind := "text"
	if len(attachments) > 0 {
		kind = "attachment"
	}
	observability.MessagesSent().WithLabelValues(kind).Inc()

	sender, err := s.directory.Summary(ctx, senderID)
	if err != nil {
		sender = dto.UserSummary{ID: senderID}
	}
	return dto.NewMessageResponse(message, sender), nil
}

// deliverMessage fans a stored message out to every participant and notifies the others.
func (s *messagingService) deliverMessage(ctx context.Context, conversation models.Conversation, message dto.MessageResponse) {
	s.dispatcher.ToUsers(ctx, conversation.ParticipantIDs(), realtime.NewEvent(realtime.EventNewMessage, dto.NewMessageEvent{
		ConversationID: conversation.ID,
		Message:        message,
	}))

	recipients := conversation.OtherParticipants(message.Sender.ID)
	preview := message.Text
	if preview == "" {
		preview = "Sent an attachment"
	}

	s.dispatcher.ToUsers(ctx, recipients, realtime.NewEvent(realtime.EventNotification, dto.MessageNotificationEvent{
		Type:           "message",
		ConversationID: conversation.ID,
		From:           message.Sender,
		Text:           truncateRunes(preview, notificationPreviewSize),
	}))

	s.push.Notify(recipients, PushMessage{
		Title: displayName(message.Sender),
		Body:  truncateRunes(preview, pushPreviewSize),
		Data:  map[string]string{"type": "message", "conversationId": conversation.ID},
	})
}

func (s *messagingService) participantConversation(ctx context.Context, conversationID, userID string) (models.Conversation, error) {
	conversation, err := s.conversations.FindByID(ctx, strings.TrimSpace(conversationID))
	if err != nil {
		return models.Conversation{}, translateNotFound(err, "conversation")
	}
	if !conversation.HasParticipant(userID) {
		return models.Conversation{}, fmt.Errorf("%w: not a participant of this conversation", ErrForbidden)
	}
	return conversation, nil
}

// checkPair rejects self conversations and unknown users.
func (s *messagingService) checkPair(ctx context.Context, requesterID, otherUserID string) error {
	if otherUserID == "" {
		return validationError("other user id is required")
	}
	if otherUserID == requesterID {
		return validationError("cannot start a conversation with yourself")
	}
	if _, err := s.directory.Summary(ctx, otherUserID); err != nil {
		if errors.Is(err, ErrNotFound) {
			return validationError("user %s does not exist", otherUserID)
		}
		return err
	}
	return nil
}

func (s *messagingService) cleanText(text string, hasAttachments bool) (string, error) {
	if utf8.RuneCountInString(strings.TrimSpace(text)) > maxMessageLength {
		return "", validationError("message exceeds %d characters", maxMessageLength)
	}
	clean := stripMarkup(s.sanitizer, text)
	if clean == "" && !hasAttachments {
		return "", validationError("message text or attachment required")
	}
	return clean, nil
}

func (s *messagingService) present(ctx context.Context, conversation models.Conversation) (dto.ConversationResponse, error) {
	people, err := s.directory.Summaries(ctx, conversation.ParticipantIDs())
	if err != nil {
		return dto.ConversationResponse{}, err
	}

	var last *dto.MessageResponse
	if conversation.LastMessageID != nil {
		message, err := s.messages.FindByID(ctx, *conversation.LastMessageID)
		if err == nil {
			response := dto.NewMessageResponse(message, summaryOrID(people, message.SenderID))
			last = &response
		} else if !errors.Is(err, gorm.ErrRecordNotFound) {
			return dto.ConversationResponse{}, err
		}
	}

	return dto.NewConversationResponse(conversation, people, last), nil
}

func truncateRunes(text string, limit int) string {
	if utf8.RuneCountInString(text) <= limit {
		return text
	}
	return string([]rune(text)[:limit])
}

func displayName(user dto.UserSummary) string {
	if user.Name != "" {
		return user.Name
	}
	return "Someone"
}

// stripMarkup removes tags and leaves the remaining text unescaped. Clients render it as plain text.
func stripMarkup(policy *bluemonday.Policy, text string) string {
	return strings.TrimSpace(html.UnescapeString(policy.Sanitize(text)))
}

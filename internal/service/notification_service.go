package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/microcosm-cc/bluemonday"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/noah-isme/medilink-api/internal/dto"
	"github.com/noah-isme/medilink-api/internal/models"
	"github.com/noah-isme/medilink-api/internal/observability"
	"github.com/noah-isme/medilink-api/internal/realtime"
	"github.com/noah-isme/medilink-api/internal/repository"
)

const (
	defaultNotificationLimit = 20
	maxNotificationLimit     = 100
)

// InteractionInput describes a like or comment on a post that its author should hear about.
type InteractionInput struct {
	Type        models.NotificationType `validate:"required,oneof=like comment"`
	ActorID     string                  `validate:"required"`
	RecipientID string                  `validate:"required"`
	PostID      string                  `validate:"required,max=128"`
	Preview     string                  `validate:"max=500"`
}

// NotificationService persists social notifications and drives the connection request workflow.
type NotificationService interface {
	CreateConnectionRequest(ctx context.Context, senderID, receiverID string) (dto.NotificationResponse, error)
	Accept(ctx context.Context, notificationID, actorID string) (dto.NotificationResponse, error)
	Reject(ctx context.Context, notificationID, actorID string) (dto.NotificationResponse, error)
	DeferToLater(ctx context.Context, notificationID, actorID string) (dto.NotificationResponse, error)
	Unconnect(ctx context.Context, userID, otherUserID string) error
	NotifyInteraction(ctx context.Context, input InteractionInput) (*dto.NotificationResponse, error)
	List(ctx context.Context, userID string, limit, offset int) ([]dto.NotificationResponse, error)
	MarkRead(ctx context.Context, notificationID, userID string) (dto.NotificationResponse, error)
	ListConnections(ctx context.Context, userID string) ([]dto.UserSummary, error)
}

type notificationService struct {
	repo       repository.NotificationRepository
	users      repository.UserRepository
	messaging  MessagingService
	directory  UserDirectory
	dispatcher realtime.Dispatcher
	push       *PushNotifier
	cache      *redis.Client
	fenceTTL   time.Duration
	prefix     string
	validator  *validator.Validate
	sanitizer  *bluemonday.Policy
	logger     zerolog.Logger
	tracer     trace.Tracer
}

// NotificationDeps groups the collaborators of the notification service.
type NotificationDeps struct {
	Notifications repository.NotificationRepository
	Users         repository.UserRepository
	Messaging     MessagingService
	Directory     UserDirectory
	Dispatcher    realtime.Dispatcher
	Push          *PushNotifier
	Cache         *redis.Client
	ChannelBase   string
	FenceTTL      time.Duration
	Validator     *validator.Validate
	Logger        zerolog.Logger
}

// NewNotificationService constructs a notification service.
func NewNotificationService(deps NotificationDeps) NotificationService {
	ttl := deps.FenceTTL
	if ttl <= 0 {
		ttl = 10 * time.Second
	}
	prefix := deps.ChannelBase
	if prefix == "" {
		prefix = "medilink"
	}

	return &notificationService{
		repo:       deps.Notifications,
		users:      deps.Users,
		messaging:  deps.Messaging,
		directory:  deps.Directory,
		dispatcher: deps.Dispatcher,
		push:       deps.Push,
		cache:      deps.Cache,
		fenceTTL:   ttl,
		prefix:     prefix + ":connect",
		validator:  deps.Validator,
		sanitizer:  bluemonday.StrictPolicy(),
		logger:     deps.Logger.With().Str("component", "notification_service").Logger(),
		tracer:     otel.Tracer("github.com/noah-isme/medilink-api/internal/service/notification"),
	}
}

func (s *notificationService) NotifyInteraction(ctx context.Context, input InteractionInput) (*dto.NotificationResponse, error) {
	input.RecipientID = strings.TrimSpace(input.RecipientID)
	input.PostID = strings.TrimSpace(input.PostID)
	if err := validateStruct(s.validator, input); err != nil {
		return nil, err
	}
	if input.Type != models.NotificationTypeLike && input.Type != models.NotificationTypeComment {
		return nil, validationError("unsupported interaction %s", input.Type)
	}

	ctx, span := s.tracer.Start(ctx, "notifications.interaction", trace.WithAttributes(
		attribute.String("notification.type", string(input.Type)),
		attribute.String("notification.post_id", input.PostID),
	))
	defer span.End()

	if input.ActorID == input.RecipientID {
		span.SetStatus(codes.Ok, "self interaction")
		return nil, nil
	}

	people, err := s.directory.Summaries(ctx, []string{input.ActorID, input.RecipientID})
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	if _, ok := people[input.RecipientID]; !ok {
		return nil, validationError("recipient %s does not exist", input.RecipientID)
	}
	actor := summaryOrID(people, input.ActorID)
	preview := stripMarkup(s.sanitizer, input.Preview)

	title := fmt.Sprintf("%s liked your post", displayName(actor))
	event := realtime.EventPostLiked
	if input.Type == models.NotificationTypeComment {
		title = fmt.Sprintf("%s commented on your post", displayName(actor))
		event = realtime.EventPostCommented
	}

	model := models.Notification{
		UserID:   input.RecipientID,
		SenderID: input.ActorID,
		Type:     input.Type,
		Message:  title,
	}
	if err := s.repo.Create(ctx, &model); err != nil {
		span.RecordError(err)
		return nil, err
	}
	observability.NotificationsPublished().WithLabelValues(string(model.Type)).Inc()

	response := dto.NewNotificationResponse(model, &actor)
	s.dispatcher.ToUser(ctx, input.RecipientID, realtime.NewEvent(realtime.EventNotification, response))
	s.dispatcher.Broadcast(ctx, realtime.NewEvent(event, dto.PostInteractionEvent{
		PostID:  input.PostID,
		By:      actor,
		Preview: truncateRunes(preview, notificationPreviewSize),
	}))

	body := truncateRunes(preview, pushPreviewSize)
	if body == "" {
		body = title
	}
	s.push.Notify([]string{input.RecipientID}, PushMessage{
		Title: title,
		Body:  body,
		Data:  map[string]string{"type": string(input.Type), "postId": input.PostID},
	})

	span.SetStatus(codes.Ok, "notified")
	return &response, nil
}

func (s *notificationService) List(ctx context.Context, userID string, limit, offset int) ([]dto.NotificationResponse, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, validationError("user id is required")
	}
	if limit <= 0 {
		limit = defaultNotificationLimit
	}
	if limit > maxNotificationLimit {
		limit = maxNotificationLimit
	}
	if offset < 0 {
		offset = 0
	}

	ctx, span := s.tracer.Start(ctx, "notifications.list", trace.WithAttributes(
		attribute.Int("notification.limit", limit),
		attribute.Int("notification.offset", offset),
	))
	defer span.End()

	items, err := s.repo.ListByUser(ctx, userID, limit, offset)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	senderIDs := make([]string, 0, len(items))
	for _, item := range items {
		senderIDs = append(senderIDs, item.SenderID)
	}
	people, err := s.directory.Summaries(ctx, senderIDs)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	responses := make([]dto.NotificationResponse, 0, len(items))
	for _, item := range items {
		sender := summaryOrID(people, item.SenderID)
		responses = append(responses, dto.NewNotificationResponse(item, &sender))
	}
	return responses, nil
}

func (s *notificationService) MarkRead(ctx context.Context, notificationID, userID string) (dto.NotificationResponse, error) {
	ctx, span := s.tracer.Start(ctx, "notifications.mark_read", trace.WithAttributes(
		attribute.String("notification.id", notificationID),
	))
	defer span.End()

	model, err := s.repo.MarkRead(ctx, notificationID, userID)
	if err != nil {
		span.RecordError(err)
		return dto.NotificationResponse{}, translateNotFound(err, "notification")
	}

	return dto.NewNotificationResponse(model, nil), nil
}

func (s *notificationService) ListConnections(ctx context.Context, userID string) ([]dto.UserSummary, error) {
	users, err := s.users.ListConnections(ctx, userID)
	if err != nil {
		return nil, err
	}
	return dto.NewUserSummarySlice(users), nil
}

// deliver pushes a stored notification to its recipient over the realtime channel and push gateway.
func (s *notificationService) deliver(ctx context.Context, model models.Notification, sender dto.UserSummary) dto.NotificationResponse {
	observability.NotificationsPublished().WithLabelValues(string(model.Type)).Inc()

	response := dto.NewNotificationResponse(model, &sender)
	s.dispatcher.ToUser(ctx, model.UserID, realtime.NewEvent(realtime.EventNotification, response))
	s.push.Notify([]string{model.UserID}, PushMessage{
		Title: defaultPushTitle,
		Body:  truncateRunes(model.Message, pushPreviewSize),
		Data:  map[string]string{"type": string(model.Type), "notificationId": model.ID},
	})
	return response
}

func notificationLogger(logger zerolog.Logger, model models.Notification) *zerolog.Event {
	return logger.Info().Str("notification_id", model.ID).Str("type", string(model.Type)).Str("status", string(model.Status))
}

var errFenceHeld = errors.New("connection request fence held")

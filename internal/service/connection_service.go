package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/noah-isme/medilink-api/internal/dto"
	"github.com/noah-isme/medilink-api/internal/models"
	"github.com/noah-isme/medilink-api/internal/repository"
)

func (s *notificationService) CreateConnectionRequest(ctx context.Context, senderID, receiverID string) (dto.NotificationResponse, error) {
	receiverID = strings.TrimSpace(receiverID)
	if receiverID == "" {
		return dto.NotificationResponse{}, validationError("receiver id is required")
	}
	if receiverID == senderID {
		return dto.NotificationResponse{}, validationError("you cannot connect to yourself")
	}

	ctx, span := s.tracer.Start(ctx, "connections.request", trace.WithAttributes(
		attribute.String("connection.sender_id", senderID),
		attribute.String("connection.receiver_id", receiverID),
	))
	defer span.End()

	people, err := s.directory.Summaries(ctx, []string{senderID, receiverID})
	if err != nil {
		span.RecordError(err)
		return dto.NotificationResponse{}, err
	}
	if _, ok := people[receiverID]; !ok {
		span.SetStatus(codes.Error, "receiver missing")
		return dto.NotificationResponse{}, fmt.Errorf("%w: user not found", ErrNotFound)
	}
	sender := summaryOrID(people, senderID)

	connected, err := s.users.IsConnected(ctx, senderID, receiverID)
	if err != nil {
		span.RecordError(err)
		return dto.NotificationResponse{}, err
	}
	if connected {
		span.SetStatus(codes.Error, "already connected")
		return dto.NotificationResponse{}, fmt.Errorf("%w: already connected", ErrConflict)
	}

	if _, err := s.repo.FindOpenRequest(ctx, senderID, receiverID); err == nil {
		span.SetStatus(codes.Error, "request pending")
		return dto.NotificationResponse{}, fmt.Errorf("%w: a connection request is already pending", ErrConflict)
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		span.RecordError(err)
		return dto.NotificationResponse{}, err
	}

	release, err := s.acquireFence(ctx, senderID, receiverID)
	if err != nil {
		span.SetStatus(codes.Error, "duplicate request")
		return dto.NotificationResponse{}, fmt.Errorf("%w: a connection request is already pending", ErrConflict)
	}

	model := models.Notification{
		UserID:   receiverID,
		SenderID: senderID,
		Type:     models.NotificationTypeConnectionRequest,
		Message:  fmt.Sprintf("%s sent you a connection request.", displayName(sender)),
		Status:   models.NotificationStatusPending,
	}
	if err := s.repo.Create(ctx, &model); err != nil {
		release()
		span.RecordError(err)
		return dto.NotificationResponse{}, err
	}

	notificationLogger(s.logger, model).Msg("connection requested")
	span.SetStatus(codes.Ok, "requested")
	return s.deliver(ctx, model, sender), nil
}

func (s *notificationService) Accept(ctx context.Context, notificationID, actorID string) (dto.NotificationResponse, error) {
	ctx, span := s.tracer.Start(ctx, "connections.accept", trace.WithAttributes(
		attribute.String("notification.id", notificationID),
	))
	defer span.End()

	request, err := s.answer(ctx, notificationID, actorID, models.NotificationStatusAccepted)
	if err != nil {
		span.SetStatus(codes.Error, "answer rejected")
		return dto.NotificationResponse{}, err
	}

	if err := s.users.Connect(ctx, actorID, request.SenderID); err != nil {
		span.RecordError(err)
		return dto.NotificationResponse{}, err
	}

	actor, err := s.directory.Summary(ctx, actorID)
	if err != nil {
		actor = dto.UserSummary{ID: actorID}
	}
	reciprocal := models.Notification{
		UserID:   request.SenderID,
		SenderID: actorID,
		Type:     models.NotificationTypeConnectionAccept,
		Message:  fmt.Sprintf("%s accepted your connection request.", displayName(actor)),
		Status:   models.NotificationStatusAccepted,
	}
	if err := s.repo.Create(ctx, &reciprocal); err != nil {
		span.RecordError(err)
		return dto.NotificationResponse{}, err
	}
	s.deliver(ctx, reciprocal, actor)

	if _, err := s.messaging.GetOrCreateConversation(ctx, actorID, request.SenderID); err != nil {
		s.logger.Warn().Err(err).Str("notification_id", request.ID).Msg("failed to open conversation for new connection")
	}

	notificationLogger(s.logger, request).Msg("connection accepted")
	span.SetStatus(codes.Ok, "accepted")
	return s.present(ctx, request)
}

func (s *notificationService) Reject(ctx context.Context, notificationID, actorID string) (dto.NotificationResponse, error) {
	ctx, span := s.tracer.Start(ctx, "connections.reject", trace.WithAttributes(
		attribute.String("notification.id", notificationID),
	))
	defer span.End()

	request, err := s.answer(ctx, notificationID, actorID, models.NotificationStatusRejected)
	if err != nil {
		span.SetStatus(codes.Error, "answer rejected")
		return dto.NotificationResponse{}, err
	}

	notificationLogger(s.logger, request).Msg("connection rejected")
	return s.present(ctx, request)
}

func (s *notificationService) DeferToLater(ctx context.Context, notificationID, actorID string) (dto.NotificationResponse, error) {
	ctx, span := s.tracer.Start(ctx, "connections.defer", trace.WithAttributes(
		attribute.String("notification.id", notificationID),
	))
	defer span.End()

	request, err := s.answer(ctx, notificationID, actorID, models.NotificationStatusMaybeLater)
	if err != nil {
		span.SetStatus(codes.Error, "answer rejected")
		return dto.NotificationResponse{}, err
	}

	return s.present(ctx, request)
}

func (s *notificationService) Unconnect(ctx context.Context, userID, otherUserID string) error {
	otherUserID = strings.TrimSpace(otherUserID)
	if otherUserID == "" {
		return validationError("user id is required")
	}
	if otherUserID == userID {
		return validationError("you cannot unconnect from yourself")
	}

	ctx, span := s.tracer.Start(ctx, "connections.unconnect", trace.WithAttributes(
		attribute.String("connection.user_id", userID),
		attribute.String("connection.other_user_id", otherUserID),
	))
	defer span.End()

	if _, err := s.users.FindByID(ctx, otherUserID); err != nil {
		span.SetStatus(codes.Error, "user missing")
		return translateNotFound(err, "user")
	}

	if err := s.users.Disconnect(ctx, userID, otherUserID); err != nil {
		span.RecordError(err)
		return err
	}
	if err := s.messaging.DeleteDirect(ctx, userID, otherUserID); err != nil {
		span.RecordError(err)
		return err
	}

	s.logger.Info().Str("user_id", userID).Str("other_user_id", otherUserID).Msg("connection removed")
	return nil
}

// answer applies the recipient's decision to a connection request. maybe_later stays answerable;
// accepted and rejected are final.
func (s *notificationService) answer(ctx context.Context, notificationID, actorID string, to models.NotificationStatus) (models.Notification, error) {
	request, err := s.repo.FindByID(ctx, strings.TrimSpace(notificationID))
	if err != nil {
		return models.Notification{}, translateNotFound(err, "notification")
	}
	if request.UserID != actorID {
		return models.Notification{}, fmt.Errorf("%w: only the recipient can answer this request", ErrForbidden)
	}
	if request.Type != models.NotificationTypeConnectionRequest {
		return models.Notification{}, validationError("notification is not a connection request")
	}
	if request.IsFinal() {
		return models.Notification{}, fmt.Errorf("%w: request already %s", ErrInvalidState, request.Status)
	}

	from := []models.NotificationStatus{models.NotificationStatusPending, models.NotificationStatusMaybeLater}
	if err := s.repo.UpdateStatus(ctx, request.ID, from, to); err != nil {
		if errors.Is(err, repository.ErrStatusConflict) {
			return models.Notification{}, fmt.Errorf("%w: request was answered concurrently", ErrInvalidState)
		}
		return models.Notification{}, err
	}

	request.Status = to
	return request, nil
}

func (s *notificationService) present(ctx context.Context, model models.Notification) (dto.NotificationResponse, error) {
	sender, err := s.directory.Summary(ctx, model.SenderID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return dto.NewNotificationResponse(model, nil), nil
		}
		return dto.NotificationResponse{}, err
	}
	return dto.NewNotificationResponse(model, &sender), nil
}

// acquireFence holds a short lived redis key per user pair so concurrent duplicate requests collapse
// into one. Without redis, or when redis fails, the database checks alone decide.
func (s *notificationService) acquireFence(ctx context.Context, senderID, receiverID string) (func(), error) {
	noop := func() {}
	if s.cache == nil {
		return noop, nil
	}

	key := fmt.Sprintf("%s:%s", s.prefix, models.DirectPairKey(senderID, receiverID))
	acquired, err := s.cache.SetNX(ctx, key, senderID, s.fenceTTL).Result()
	if err != nil {
		s.logger.Warn().Err(err).Msg("failed to acquire connection request fence")
		return noop, nil
	}
	if !acquired {
		return nil, errFenceHeld
	}

	return func() {
		if err := s.cache.Del(context.Background(), key).Err(); err != nil {
			s.logger.Warn().Err(err).Msg("failed to release connection request fence")
		}
	}, nil
}

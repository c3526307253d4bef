package service

import (
	"context"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/medilink-api/internal/dto"
	"github.com/noah-isme/medilink-api/internal/models"
	"github.com/noah-isme/medilink-api/internal/realtime"
)

func TestGetOrCreateConversationIsIdempotent(t *testing.T) {
	f := newFixture(t)
	seedUser(t, f.db, "alice", "Alice")
	seedUser(t, f.db, "bob", "Bob")
	ctx := context.Background()

	first, err := f.messaging.GetOrCreateConversation(ctx, "alice", "bob")
	require.NoError(t, err)
	require.Equal(t, string(models.ConversationStatusActive), first.Status)
	require.Len(t, first.Participants, 2)
	require.Equal(t, "Alice", first.Participants[0].Name)
	require.Equal(t, "Bob", first.Participants[1].Name)

	second, err := f.messaging.GetOrCreateConversation(ctx, "bob", "alice")
	require.NoError(t, err)
	require.Equal(t, first.ID, second.ID)
}

func TestGetOrCreateConversationValidatesPair(t *testing.T) {
	f := newFixture(t)
	seedUser(t, f.db, "alice", "Alice")
	ctx := context.Background()

	_, err := f.messaging.GetOrCreateConversation(ctx, "alice", "")
	require.ErrorIs(t, err, ErrValidation)

	_, err = f.messaging.GetOrCreateConversation(ctx, "alice", "alice")
	require.ErrorIs(t, err, ErrValidation)

	_, err = f.messaging.GetOrCreateConversation(ctx, "alice", "ghost")
	require.ErrorIs(t, err, ErrValidation)
}

func TestGetOrCreateConversationConcurrentCallersShareOneConversation(t *testing.T) {
	f := newFixture(t)
	seedUser(t, f.db, "alice", "Alice")
	seedUser(t, f.db, "bob", "Bob")

	var wg sync.WaitGroup
	ids := make([]string, 8)
	errs := make([]error, 8)
	for i := range ids {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			requester, other := "alice", "bob"
			if i%2 == 1 {
				requester, other = other, requester
			}
			conversation, err := f.messaging.GetOrCreateConversation(context.Background(), requester, other)
			ids[i] = conversation.ID
			errs[i] = err
		}(i)
	}
	wg.Wait()

	for i := range ids {
		require.NoError(t, errs[i])
		require.Equal(t, ids[0], ids[i])
	}

	var count int64
	require.NoError(t, f.db.Model(&models.Conversation{}).Count(&count).Error)
	require.EqualValues(t, 1, count)
}

func TestSendMessageFansOutAndCountsUnread(t *testing.T) {
	f := newFixture(t)
	seedUser(t, f.db, "alice", "Alice")
	seedUser(t, f.db, "bob", "Bob", "bob-phone")
	ctx := context.Background()

	conversation, err := f.messaging.GetOrCreateConversation(ctx, "alice", "bob")
	require.NoError(t, err)

	message, err := f.messaging.SendMessage(ctx, conversation.ID, "alice", SendMessageInput{Text: "  hello <b>bob</b> "})
	require.NoError(t, err)
	require.Equal(t, "hello bob", message.Text)
	require.Equal(t, []string{"alice"}, message.ReadBy)
	require.Equal(t, "Alice", message.Sender.Name)

	stored, err := f.conversations.FindByID(ctx, conversation.ID)
	require.NoError(t, err)
	require.Equal(t, map[string]int{"alice": 0, "bob": 1}, stored.UnreadCounts())
	require.NotNil(t, stored.LastMessageID)
	require.Equal(t, message.ID, *stored.LastMessageID)

	for _, user := range []string{"alice", "bob"} {
		events := f.dispatcher.named(realtime.UserRoom(user), realtime.EventNewMessage)
		require.Len(t, events, 1)
		payload := events[0].Data.(dto.NewMessageEvent)
		require.Equal(t, conversation.ID, payload.ConversationID)
		require.Equal(t, message.ID, payload.Message.ID)
	}

	require.Empty(t, f.dispatcher.named(realtime.UserRoom("alice"), realtime.EventNotification))
	notifications := f.dispatcher.named(realtime.UserRoom("bob"), realtime.EventNotification)
	require.Len(t, notifications, 1)
	notice := notifications[0].Data.(dto.MessageNotificationEvent)
	require.Equal(t, "message", notice.Type)
	require.Equal(t, "alice", notice.From.ID)

	f.push.Wait()
	pushes := f.gateway.deliveries()
	require.Len(t, pushes, 1)
	require.Equal(t, []string{"bob-phone"}, pushes[0].tokens)
	require.Equal(t, "Alice", pushes[0].message.Title)
	require.Equal(t, "hello bob", pushes[0].message.Body)
}

func TestSendMessageTruncatesNotificationPreview(t *testing.T) {
	f := newFixture(t)
	seedUser(t, f.db, "alice", "Alice")
	seedUser(t, f.db, "bob", "Bob")
	ctx := context.Background()

	conversation, err := f.messaging.GetOrCreateConversation(ctx, "alice", "bob")
	require.NoError(t, err)

	_, err = f.messaging.SendMessage(ctx, conversation.ID, "alice", SendMessageInput{Text: strings.Repeat("a", 300)})
	require.NoError(t, err)

	notice := f.dispatcher.named(realtime.UserRoom("bob"), realtime.EventNotification)[0].Data.(dto.MessageNotificationEvent)
	require.Len(t, notice.Text, notificationPreviewSize)
}

func TestSendMessageStoresPlainTextUnescaped(t *testing.T) {
	f := newFixture(t)
	seedUser(t, f.db, "alice", "Alice")
	seedUser(t, f.db, "bob", "Bob")
	ctx := context.Background()

	conversation, err := f.messaging.GetOrCreateConversation(ctx, "alice", "bob")
	require.NoError(t, err)

	message, err := f.messaging.SendMessage(ctx, conversation.ID, "alice", SendMessageInput{Text: "Tom & Jerry's dose < 5mg"})
	require.NoError(t, err)
	require.Equal(t, "Tom & Jerry's dose < 5mg", message.Text)

	stored, err := f.messages.FindByID(ctx, message.ID)
	require.NoError(t, err)
	require.Equal(t, "Tom & Jerry's dose < 5mg", stored.Text)

	ampersands := strings.Repeat("&", 1000)
	message, err = f.messaging.SendMessage(ctx, conversation.ID, "alice", SendMessageInput{Text: ampersands})
	require.NoError(t, err)
	require.Equal(t, ampersands, message.Text)

	_, err = f.messaging.SendMessage(ctx, conversation.ID, "alice", SendMessageInput{Text: strings.Repeat("a", maxMessageLength+1)})
	require.ErrorIs(t, err, ErrValidation)
}

func TestSendMessageAcceptsAttachmentWithoutText(t *testing.T) {
	f := newFixture(t)
	seedUser(t, f.db, "alice", "Alice")
	seedUser(t, f.db, "bob", "Bob")
	ctx := context.Background()

	conversation, err := f.messaging.GetOrCreateConversation(ctx, "alice", "bob")
	require.NoError(t, err)

	message, err := f.messaging.SendMessage(ctx, conversation.ID, "alice", SendMessageInput{
		Attachments: []models.Attachment{{URL: "https://cdn.example.com/x.png", Kind: models.AttachmentKindImage}},
	})
	require.NoError(t, err)
	require.Empty(t, message.Text)
	require.Len(t, message.Attachments, 1)
	require.Equal(t, "image", message.Attachments[0].Kind)
}

func TestSendMessageRejections(t *testing.T) {
	f := newFixture(t)
	seedUser(t, f.db, "alice", "Alice")
	seedUser(t, f.db, "bob", "Bob")
	seedUser(t, f.db, "carol", "Carol")
	ctx := context.Background()

	conversation, err := f.messaging.GetOrCreateConversation(ctx, "alice", "bob")
	require.NoError(t, err)

	_, err = f.messaging.SendMessage(ctx, conversation.ID, "alice", SendMessageInput{Text: "   "})
	require.ErrorIs(t, err, ErrValidation)

	_, err = f.messaging.SendMessage(ctx, conversation.ID, "carol", SendMessageInput{Text: "hi"})
	require.ErrorIs(t, err, ErrForbidden)

	_, err = f.messaging.SendMessage(ctx, "missing", "alice", SendMessageInput{Text: "hi"})
	require.ErrorIs(t, err, ErrNotFound)

	_, err = f.messaging.SendMessage(ctx, "missing", "alice", SendMessageInput{Text: "  "})
	require.ErrorIs(t, err, ErrNotFound)

	_, err = f.messaging.SendMessage(ctx, conversation.ID, "carol", SendMessageInput{Text: ""})
	require.ErrorIs(t, err, ErrForbidden)

	request, err := f.messaging.StartRequest(ctx, "carol", "alice", "hello there")
	require.NoError(t, err)
	_, err = f.messaging.SendMessage(ctx, request.ID, "carol", SendMessageInput{Text: "again"})
	require.ErrorIs(t, err, ErrInvalidState)

	messages, err := f.messages.ListByConversation(ctx, conversation.ID)
	require.NoError(t, err)
	require.Empty(t, messages)
}

func TestGetMessagesMarksReadAndEmitsSeenOnce(t *testing.T) {
	f := newFixture(t)
	seedUser(t, f.db, "alice", "Alice")
	seedUser(t, f.db, "bob", "Bob")
	ctx := context.Background()

	conversation, err := f.messaging.GetOrCreateConversation(ctx, "alice", "bob")
	require.NoError(t, err)
	for _, text := range []string{"one", "two"} {
		_, err := f.messaging.SendMessage(ctx, conversation.ID, "alice", SendMessageInput{Text: text})
		require.NoError(t, err)
	}

	messages, err := f.messaging.GetMessages(ctx, conversation.ID, "bob")
	require.NoError(t, err)
	require.Len(t, messages, 2)
	require.Equal(t, "one", messages[0].Text)
	require.Equal(t, "two", messages[1].Text)
	for _, message := range messages {
		require.ElementsMatch(t, []string{"alice", "bob"}, message.ReadBy)
	}

	stored, err := f.conversations.FindByID(ctx, conversation.ID)
	require.NoError(t, err)
	require.Equal(t, 0, stored.UnreadCounts()["bob"])

	seen := f.dispatcher.named(realtime.ConversationRoom(conversation.ID), realtime.EventMessageSeen)
	require.Len(t, seen, 1)
	require.Equal(t, dto.MessageSeenEvent{ChatID: conversation.ID, By: "bob"}, seen[0].Data)

	_, err = f.messaging.GetMessages(ctx, conversation.ID, "bob")
	require.NoError(t, err)
	require.Len(t, f.dispatcher.named(realtime.ConversationRoom(conversation.ID), realtime.EventMessageSeen), 1)

	_, err = f.messaging.GetMessages(ctx, conversation.ID, "mallory")
	require.ErrorIs(t, err, ErrForbidden)
}

func TestGetMessagesLeavesOtherParticipantsUnreadUntouched(t *testing.T) {
	f := newFixture(t)
	seedUser(t, f.db, "alice", "Alice")
	seedUser(t, f.db, "bob", "Bob")
	ctx := context.Background()

	conversation, err := f.messaging.GetOrCreateConversation(ctx, "alice", "bob")
	require.NoError(t, err)
	_, err = f.messaging.SendMessage(ctx, conversation.ID, "alice", SendMessageInput{Text: "how are you?"})
	require.NoError(t, err)
	_, err = f.messaging.SendMessage(ctx, conversation.ID, "bob", SendMessageInput{Text: "better today"})
	require.NoError(t, err)

	stored, err := f.conversations.FindByID(ctx, conversation.ID)
	require.NoError(t, err)
	require.Equal(t, map[string]int{"alice": 1, "bob": 1}, stored.UnreadCounts())

	_, err = f.messaging.GetMessages(ctx, conversation.ID, "bob")
	require.NoError(t, err)

	stored, err = f.conversations.FindByID(ctx, conversation.ID)
	require.NoError(t, err)
	require.Equal(t, map[string]int{"alice": 1, "bob": 0}, stored.UnreadCounts())
}

func TestAcceptedRequestCountsOnlyMessagesAfterAcceptance(t *testing.T) {
	f := newFixture(t)
	seedUser(t, f.db, "a", "Ann")
	seedUser(t, f.db, "b", "Ben")
	ctx := context.Background()

	chat, err := f.messaging.StartRequest(ctx, "a", "b", "hi")
	require.NoError(t, err)

	_, err = f.messaging.Accept(ctx, chat.ID, "b")
	require.NoError(t, err)

	_, err = f.messaging.SendMessage(ctx, chat.ID, "a", SendMessageInput{Text: "hello"})
	require.NoError(t, err)

	stored, err := f.conversations.FindByID(ctx, chat.ID)
	require.NoError(t, err)
	require.Equal(t, 1, stored.UnreadCounts()["b"])
	require.Equal(t, 0, stored.UnreadCounts()["a"])

	messages, err := f.messages.ListByConversation(ctx, chat.ID)
	require.NoError(t, err)
	require.Len(t, messages, 2)
	require.Equal(t, "hi", messages[0].Text)
	require.Equal(t, "hello", messages[1].Text)
}

func TestMessageRequestLifecycle(t *testing.T) {
	f := newFixture(t)
	seedUser(t, f.db, "patient", "Pat", "pat-phone")
	seedUser(t, f.db, "doctor", "Dr Who", "doc-phone")
	ctx := context.Background()

	chat, err := f.messaging.StartRequest(ctx, "patient", "doctor", "Can we talk?")
	require.NoError(t, err)
	require.Equal(t, string(models.ConversationStatusPending), chat.Status)
	require.Equal(t, "patient", chat.RequestedBy)
	require.NotNil(t, chat.LastMessage)
	require.Equal(t, 0, chat.UnreadCounts["doctor"])

	requests := f.dispatcher.named(realtime.UserRoom("doctor"), realtime.EventNewMessageRequest)
	require.Len(t, requests, 1)
	payload := requests[0].Data.(dto.MessageRequestEvent)
	require.Equal(t, chat.ID, payload.ChatID)
	require.Equal(t, "Pat", payload.From.Name)
	require.Empty(t, f.dispatcher.to(realtime.UserRoom("patient")))

	requesterView, err := f.messaging.ListConversations(ctx, "patient")
	require.NoError(t, err)
	require.Empty(t, requesterView)
	receiverView, err := f.messaging.ListConversations(ctx, "doctor")
	require.NoError(t, err)
	require.Len(t, receiverView, 1)
	require.Equal(t, "Can we talk?", receiverView[0].LastMessage.Text)

	_, err = f.messaging.Accept(ctx, chat.ID, "patient")
	require.ErrorIs(t, err, ErrForbidden)
	_, err = f.messaging.Accept(ctx, chat.ID, "stranger")
	require.ErrorIs(t, err, ErrForbidden)

	accepted, err := f.messaging.Accept(ctx, chat.ID, "doctor")
	require.NoError(t, err)
	require.Equal(t, string(models.ConversationStatusActive), accepted.Status)

	acks := f.dispatcher.named(realtime.UserRoom("patient"), realtime.EventMessageRequestAccepted)
	require.Len(t, acks, 1)
	require.Equal(t, dto.MessageRequestAcceptedEvent{ChatID: chat.ID, By: "doctor"}, acks[0].Data)

	_, err = f.messaging.Accept(ctx, chat.ID, "doctor")
	require.ErrorIs(t, err, ErrInvalidState)
	_, err = f.messaging.Ignore(ctx, chat.ID, "doctor")
	require.ErrorIs(t, err, ErrInvalidState)

	_, err = f.messaging.SendMessage(ctx, chat.ID, "doctor", SendMessageInput{Text: "Of course"})
	require.NoError(t, err)

	requesterView, err = f.messaging.ListConversations(ctx, "patient")
	require.NoError(t, err)
	require.Len(t, requesterView, 1)

	f.push.Wait()
	require.Len(t, f.gateway.deliveries(), 2)
}

func TestIgnoredRequestIsTerminal(t *testing.T) {
	f := newFixture(t)
	seedUser(t, f.db, "patient", "Pat")
	seedUser(t, f.db, "doctor", "Doc")
	ctx := context.Background()

	chat, err := f.messaging.StartRequest(ctx, "patient", "doctor", "hello")
	require.NoError(t, err)

	ignored, err := f.messaging.Ignore(ctx, chat.ID, "doctor")
	require.NoError(t, err)
	require.Equal(t, string(models.ConversationStatusIgnored), ignored.Status)

	_, err = f.messaging.Accept(ctx, chat.ID, "doctor")
	require.ErrorIs(t, err, ErrInvalidState)

	_, err = f.messaging.StartRequest(ctx, "patient", "doctor", "please")
	require.ErrorIs(t, err, ErrInvalidState)

	list, err := f.messaging.ListConversations(ctx, "doctor")
	require.NoError(t, err)
	require.Empty(t, list)
}

func TestStartRequestOnActiveConversationDeliversMessage(t *testing.T) {
	f := newFixture(t)
	seedUser(t, f.db, "alice", "Alice")
	seedUser(t, f.db, "bob", "Bob")
	ctx := context.Background()

	conversation, err := f.messaging.GetOrCreateConversation(ctx, "alice", "bob")
	require.NoError(t, err)

	chat, err := f.messaging.StartRequest(ctx, "bob", "alice", "hi again")
	require.NoError(t, err)
	require.Equal(t, conversation.ID, chat.ID)
	require.Equal(t, string(models.ConversationStatusActive), chat.Status)

	require.Empty(t, f.dispatcher.named(realtime.UserRoom("alice"), realtime.EventNewMessageRequest))
	require.Len(t, f.dispatcher.named(realtime.UserRoom("alice"), realtime.EventNewMessage), 1)
}

func TestStartRequestRejectsReplyBeforeAcceptance(t *testing.T) {
	f := newFixture(t)
	seedUser(t, f.db, "alice", "Alice")
	seedUser(t, f.db, "bob", "Bob")
	ctx := context.Background()

	_, err := f.messaging.StartRequest(ctx, "alice", "bob", "hi")
	require.NoError(t, err)

	again, err := f.messaging.StartRequest(ctx, "alice", "bob", "are you there?")
	require.NoError(t, err)
	require.Equal(t, "are you there?", again.LastMessage.Text)
	require.Equal(t, 0, again.UnreadCounts["bob"])

	_, err = f.messaging.StartRequest(ctx, "bob", "alice", "reply")
	require.ErrorIs(t, err, ErrInvalidState)
}

func TestDeleteDirectArchivesConversation(t *testing.T) {
	f := newFixture(t)
	seedUser(t, f.db, "alice", "Alice")
	seedUser(t, f.db, "bob", "Bob")
	ctx := context.Background()

	conversation, err := f.messaging.GetOrCreateConversation(ctx, "alice", "bob")
	require.NoError(t, err)

	require.NoError(t, f.messaging.DeleteDirect(ctx, "bob", "alice"))
	require.NoError(t, f.messaging.DeleteDirect(ctx, "bob", "alice"))

	_, err = f.messaging.GetMessages(ctx, conversation.ID, "alice")
	require.ErrorIs(t, err, ErrNotFound)

	allowed, err := f.messaging.CanJoinConversation(ctx, conversation.ID, "alice")
	require.NoError(t, err)
	require.False(t, allowed)

	fresh, err := f.messaging.GetOrCreateConversation(ctx, "alice", "bob")
	require.NoError(t, err)
	require.NotEqual(t, conversation.ID, fresh.ID)
}

func TestCanJoinConversationRequiresParticipant(t *testing.T) {
	f := newFixture(t)
	seedUser(t, f.db, "alice", "Alice")
	seedUser(t, f.db, "bob", "Bob")
	ctx := context.Background()

	conversation, err := f.messaging.GetOrCreateConversation(ctx, "alice", "bob")
	require.NoError(t, err)

	allowed, err := f.messaging.CanJoinConversation(ctx, conversation.ID, "bob")
	require.NoError(t, err)
	require.True(t, allowed)

	allowed, err = f.messaging.CanJoinConversation(ctx, conversation.ID, "eve")
	require.NoError(t, err)
	require.False(t, allowed)
}

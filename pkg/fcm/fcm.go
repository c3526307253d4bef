package fcm

import (
	"context"
	"fmt"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/messaging"
	"github.com/rs/zerolog"
	"google.golang.org/api/option"
)

// multicastLimit is the maximum number of tokens FCM accepts per multicast request.
const multicastLimit = 500

// Config contains the credentials needed to reach Firebase Cloud Messaging.
type Config struct {
	CredentialsFile string
	ProjectID       string
}

// Notification is the push payload sent to every token.
type Notification struct {
	Title string
	Body  string
	Data  map[string]string
}

// Result summarises a send across all batches.
type Result struct {
	Success int
	Failure int
}

type multicastSender interface {
	SendEachForMulticast(ctx context.Context, message *messaging.MulticastMessage) (*messaging.BatchResponse, error)
}

// Client sends push notifications through FCM.
type Client struct {
	sender multicastSender
	logger zerolog.Logger
}

// New initialises the Firebase app and its messaging client.
func New(ctx context.Context, cfg Config, logger zerolog.Logger) (*Client, error) {
	if cfg.CredentialsFile == "" {
		return nil, fmt.Errorf("firebase credentials file must be provided")
	}

	var appConfig *firebase.Config
	if cfg.ProjectID != "" {
		appConfig = &firebase.Config{ProjectID: cfg.ProjectID}
	}

	app, err := firebase.NewApp(ctx, appConfig, option.WithCredentialsFile(cfg.CredentialsFile))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize firebase: %w", err)
	}

	messagingClient, err := app.Messaging(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize firebase messaging: %w", err)
	}

	return newClient(messagingClient, logger), nil
}

func newClient(sender multicastSender, logger zerolog.Logger) *Client {
	return &Client{
		sender: sender,
		logger: logger.With().Str("component", "fcm").Logger(),
	}
}

// Send delivers the notification to every token, batching by the multicast limit.
func (c *Client) Send(ctx context.Context, tokens []string, notification Notification) (Result, error) {
	var result Result
	for _, batch := range chunk(tokens, multicastLimit) {
		response, err := c.sender.SendEachForMulticast(ctx, buildMessage(batch, notification))
		if err != nil {
			return result, fmt.Errorf("fcm multicast failed: %w", err)
		}
		result.Success += response.SuccessCount
		result.Failure += response.FailureCount

		for i, item := range response.Responses {
			if item.Success || item.Error == nil {
				continue
			}
			if messaging.IsUnregistered(item.Error) {
				c.logger.Debug().Str("token_suffix", tokenSuffix(batch[i])).Msg("device token no longer registered")
				continue
			}
			c.logger.Warn().Err(item.Error).Str("token_suffix", tokenSuffix(batch[i])).Msg("fcm delivery failed")
		}
	}
	return result, nil
}

func buildMessage(tokens []string, notification Notification) *messaging.MulticastMessage {
	return &messaging.MulticastMessage{
		Tokens: tokens,
		Notification: &messaging.Notification{
			Title: notification.Title,
			Body:  notification.Body,
		},
		Data: notification.Data,
		Android: &messaging.AndroidConfig{
			Priority: "high",
		},
		APNS: &messaging.APNSConfig{
			Payload: &messaging.APNSPayload{
				Aps: &messaging.Aps{Sound: "default"},
			},
		},
	}
}

func chunk(tokens []string, size int) [][]string {
	batches := make([][]string, 0, (len(tokens)+size-1)/size)
	for start := 0; start < len(tokens); start += size {
		end := start + size
		if end > len(tokens) {
			end = len(tokens)
		}
		batches = append(batches, tokens[start:end])
	}
	return batches
}

func tokenSuffix(token string) string {
	if len(token) <= 6 {
		return token
	}
	return token[len(token)-6:]
}

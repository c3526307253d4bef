package service

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/noah-isme/medilink-api/internal/observability"
	"github.com/noah-isme/medilink-api/pkg/fcm"
)

const defaultPushTitle = "MediLink"

// PushMessage is a mobile push notification.
type PushMessage struct {
	Title string
	Body  string
	Data  map[string]string
}

// PushGateway delivers a push message to device tokens.
type PushGateway interface {
	Send(ctx context.Context, tokens []string, message PushMessage) error
}

// LogPushGateway records push messages in the log instead of delivering them.
type LogPushGateway struct {
	logger zerolog.Logger
}

// NewLogPushGateway constructs the logging fallback gateway.
func NewLogPushGateway(logger zerolog.Logger) *LogPushGateway {
	return &LogPushGateway{logger: logger.With().Str("component", "push_log").Logger()}
}

// Send implements PushGateway.
func (g *LogPushGateway) Send(_ context.Context, tokens []string, message PushMessage) error {
	g.logger.Debug().Int("tokens", len(tokens)).Str("title", message.Title).Msg("push delivery skipped")
	return nil
}

// PushNotifier resolves recipients' device tokens and sends through the gateway in the background.
// Failures are logged and counted, never returned.
type PushNotifier struct {
	gateway   PushGateway
	directory UserDirectory
	timeout   time.Duration
	logger    zerolog.Logger
	wg        sync.WaitGroup
}

// NewPushNotifier constructs a notifier. A nil gateway disables push.
func NewPushNotifier(gateway PushGateway, directory UserDirectory, timeout time.Duration, logger zerolog.Logger) *PushNotifier {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &PushNotifier{
		gateway:   gateway,
		directory: directory,
		timeout:   timeout,
		logger:    logger.With().Str("component", "push_notifier").Logger(),
	}
}

// Notify returns immediately; delivery runs on its own goroutine with a bounded context.
func (p *PushNotifier) Notify(userIDs []string, message PushMessage) {
	if p == nil || p.gateway == nil || len(userIDs) == 0 {
		return
	}
	if message.Title == "" {
		message.Title = defaultPushTitle
	}

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()

		ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
		defer cancel()

		tokens, err := p.directory.DeviceTokens(ctx, userIDs)
		if err != nil {
			observability.PushDeliveries().WithLabelValues("failed").Inc()
			p.logger.Warn().Err(err).Msg("failed to resolve device tokens")
			return
		}
		if len(tokens) == 0 {
			observability.PushDeliveries().WithLabelValues("no_tokens").Inc()
			return
		}

		if err := p.gateway.Send(ctx, tokens, message); err != nil {
			observability.PushDeliveries().WithLabelValues("failed").Inc()
			p.logger.Warn().Err(err).Int("tokens", len(tokens)).Msg("push delivery failed")
			return
		}
		observability.PushDeliveries().WithLabelValues("sent").Inc()
	}()
}

// Wait blocks until in-flight deliveries finish. Used on shutdown and in tests.
func (p *PushNotifier) Wait() {
	if p == nil {
		return
	}
	p.wg.Wait()
}

// FCMSender is implemented by *fcm.Client.
type FCMSender interface {
	Send(ctx context.Context, tokens []string, notification fcm.Notification) (fcm.Result, error)
}

type fcmGateway struct {
	sender FCMSender
	logger zerolog.Logger
}

// NewFCMGateway adapts an FCM client to PushGateway.
func NewFCMGateway(sender FCMSender, logger zerolog.Logger) PushGateway {
	return &fcmGateway{sender: sender, logger: logger.With().Str("component", "push_fcm").Logger()}
}

func (g *fcmGateway) Send(ctx context.Context, tokens []string, message PushMessage) error {
	result, err := g.sender.Send(ctx, tokens, fcm.Notification{
		Title: message.Title,
		Body:  message.Body,
		Data:  message.Data,
	})
	if err != nil {
		return err
	}
	g.logger.Debug().Int("success", result.Success).Int("failure", result.Failure).Msg("push batch delivered")
	return nil
}

package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/noah-isme/medilink-api/internal/config"
	"github.com/noah-isme/medilink-api/internal/database"
	"github.com/noah-isme/medilink-api/internal/handler"
	"github.com/noah-isme/medilink-api/internal/middleware"
	"github.com/noah-isme/medilink-api/internal/realtime"
	"github.com/noah-isme/medilink-api/internal/repository"
	"github.com/noah-isme/medilink-api/internal/router"
	"github.com/noah-isme/medilink-api/internal/service"
	cloud "github.com/noah-isme/medilink-api/pkg/cloudinary"
	"github.com/noah-isme/medilink-api/pkg/fcm"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	logger := zerolog.New(os.Stdout).With().Timestamp().Str("service", cfg.AppName).Logger()

	db, err := database.ConnectPostgres(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("failed to connect to database: %v", err)
	}

	if err := database.Migrate(db); err != nil {
		log.Fatalf("failed to migrate database: %v", err)
	}

	var redisClient *redis.Client
	if cfg.RedisURL != "" {
		redisClient, err = database.ConnectRedis(cfg.RedisURL)
		if err != nil {
			logger.Warn().Err(err).Msg("redis unavailable, running without cache, presence and replay")
			redisClient = nil
		} else {
			defer redisClient.Close()
		}
	}

	var natsConn *nats.Conn
	if cfg.NATSURL != "" {
		natsConn, err = database.ConnectNATS(cfg.NATSURL, cfg.AppName)
		if err != nil {
			logger.Warn().Err(err).Msg("nats unavailable, falling back to redis pub/sub")
			natsConn = nil
		} else {
			defer natsConn.Close()
		}
	}

	rootCtx, cancelRoot := context.WithCancel(context.Background())
	defer cancelRoot()

	validate := validator.New(validator.WithRequiredStructEnabled())

	userRepo := repository.NewUserRepository(db)
	conversationRepo := repository.NewConversationRepository(db)
	messageRepo := repository.NewMessageRepository(db)
	notificationRepo := repository.NewNotificationRepository(db)

	directory := service.NewUserDirectory(userRepo, redisClient, cfg.RealtimeChannel, cfg.DirectoryCacheTTL, logger)

	var gateway service.PushGateway = service.NewLogPushGateway(logger)
	if cfg.PushEnabled() {
		client, err := fcm.New(rootCtx, fcm.Config{
			CredentialsFile: cfg.FirebaseCredentialsFile,
			ProjectID:       cfg.FirebaseProjectID,
		}, logger)
		if err != nil {
			log.Fatalf("failed to create firebase messaging client: %v", err)
		}
		gateway = service.NewFCMGateway(client, logger)
	}
	push := service.NewPushNotifier(gateway, directory, cfg.PushTimeout, logger)

	var storage service.FileStorage
	if cfg.UploadsEnabled() {
		uploader, err := cloud.New(cloud.Config{
			CloudName: cfg.CloudinaryCloudName,
			APIKey:    cfg.CloudinaryAPIKey,
			APISecret: cfg.CloudinaryAPISecret,
			Folder:    cfg.CloudinaryUploadFolder,
		}, logger)
		if err != nil {
			log.Fatalf("failed to create cloudinary client: %v", err)
		}
		storage = uploader
	}
	attachments := service.NewAttachmentService(storage, cfg.MaxAttachmentMB, logger)

	engine := realtime.NewEngine(realtime.Options{
		Redis:        redisClient,
		NATS:         natsConn,
		ChannelBase:  cfg.RealtimeChannel,
		SendBuffer:   cfg.WebsocketSendBuffer,
		OutboxMaxLen: cfg.OutboxMaxLen,
		OutboxTTL:    cfg.OutboxTTL,
		PresenceTTL:  cfg.PresenceTTL,
		Logger:       logger,
	})

	messaging := service.NewMessagingService(conversationRepo, messageRepo, directory, engine, push, logger)
	notifications := service.NewNotificationService(service.NotificationDeps{
		Notifications: notificationRepo,
		Users:         userRepo,
		Messaging:     messaging,
		Directory:     directory,
		Dispatcher:    engine,
		Push:          push,
		Cache:         redisClient,
		ChannelBase:   cfg.RealtimeChannel,
		FenceTTL:      cfg.ConnectionRequestTTL,
		Validator:     validate,
		Logger:        logger,
	})

	engine.SetAuthorizer(messaging)
	if err := engine.Start(rootCtx); err != nil {
		log.Fatalf("failed to start realtime bus: %v", err)
	}

	app := fiber.New(fiber.Config{
		AppName:      cfg.AppName,
		ServerHeader: cfg.AppName,
		BodyLimit:    (cfg.MaxAttachmentMB*10 + 1) * 1024 * 1024,
	})

	middleware.Register(app, middleware.Config{
		Logger:         &logger,
		AllowedOrigins: cfg.AllowedOrigins,
	})
	router.Register(app, cfg, router.Dependencies{
		ConversationHandler: handler.NewConversationHandler(messaging, attachments, validate, logger),
		ChatHandler:         handler.NewChatHandler(messaging, validate, logger),
		NotificationHandler: handler.NewNotificationHandler(notifications, logger),
		ConnectionHandler:   handler.NewConnectionHandler(notifications, logger),
		InteractionHandler:  handler.NewInteractionHandler(notifications, validate, logger),
		RealtimeHandler:     handler.NewRealtimeHandler(engine, logger),
		Realtime:            engine,
		Redis:               redisClient,
		JWTMiddleware:       middleware.JWTProtected(cfg.JWTSecret),
	})

	go func() {
		if err := app.Listen(cfg.HTTPAddress()); err != nil {
			log.Fatalf("failed to start server: %v", err)
		}
	}()

	waitForShutdown(app, logger)
	cancelRoot()
	push.Wait()
}

func waitForShutdown(app *fiber.App, logger zerolog.Logger) {
	shutdownCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	<-shutdownCtx.Done()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := app.ShutdownWithContext(ctx); err != nil {
		logger.Error().Err(err).Msg("graceful shutdown failed")
	}

	logger.Info().Msg("server stopped")
}

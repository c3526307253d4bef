package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds runtime configuration values for the API service.
type Config struct {
	AppName                 string
	AppEnv                  string
	AppPort                 string
	DatabaseURL             string
	RedisURL                string
	NATSURL                 string
	RealtimeChannel         string
	JWTSecret               string
	AllowedOrigins          string
	FirebaseCredentialsFile string
	FirebaseProjectID       string
	PushTimeout             time.Duration
	CloudinaryCloudName     string
	CloudinaryAPIKey        string
	CloudinaryAPISecret     string
	CloudinaryUploadFolder  string
	MaxAttachmentMB         int
	DirectoryCacheTTL       time.Duration
	ConnectionRequestTTL    time.Duration
	OutboxMaxLen            int64
	OutboxTTL               time.Duration
	PresenceTTL             time.Duration
	WebsocketSendBuffer     int
}

// HTTPAddress returns the address the HTTP server should listen on.
func (c Config) HTTPAddress() string {
	if strings.HasPrefix(c.AppPort, ":") {
		return c.AppPort
	}

	return fmt.Sprintf(":%s", c.AppPort)
}

// PushEnabled reports whether Firebase credentials were supplied.
func (c Config) PushEnabled() bool {
	return c.FirebaseCredentialsFile != ""
}

// UploadsEnabled reports whether Cloudinary credentials were supplied.
func (c Config) UploadsEnabled() bool {
	return c.CloudinaryCloudName != "" && c.CloudinaryAPIKey != "" && c.CloudinaryAPISecret != ""
}

// Load reads configuration values from environment variables and optional .env file.
func Load() (Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetEnvPrefix("MEDILINK")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	v.SetDefault("app.name", "MediLink API")
	v.SetDefault("app.env", "development")
	v.SetDefault("app.port", "5000")
	v.SetDefault("realtime.channel", "medilink")
	v.SetDefault("cors.origins", "http://localhost:5173")
	v.SetDefault("push.timeout", "5s")
	v.SetDefault("cloudinary.folder", "medilink/chat")
	v.SetDefault("attachments.max_mb", 15)
	v.SetDefault("directory.cache_ttl", "10m")
	v.SetDefault("connection_request.ttl", "10s")
	v.SetDefault("outbox.max_len", 200)
	v.SetDefault("outbox.ttl", "72h")
	v.SetDefault("presence.ttl", "90s")
	v.SetDefault("websocket.send_buffer", 32)

	durations := map[string]time.Duration{}
	for _, key := range []string{"push.timeout", "directory.cache_ttl", "connection_request.ttl", "outbox.ttl", "presence.ttl"} {
		parsed, err := time.ParseDuration(v.GetString(key))
		if err != nil {
			return Config{}, fmt.Errorf("invalid duration for %s: %w", key, err)
		}
		durations[key] = parsed
	}

	cfg := Config{
		AppName:                 v.GetString("app.name"),
		AppEnv:                  v.GetString("app.env"),
		AppPort:                 v.GetString("app.port"),
		DatabaseURL:             v.GetString("database.url"),
		RedisURL:                v.GetString("redis.url"),
		NATSURL:                 v.GetString("nats.url"),
		RealtimeChannel:         v.GetString("realtime.channel"),
		JWTSecret:               v.GetString("jwt.secret"),
		AllowedOrigins:          v.GetString("cors.origins"),
		FirebaseCredentialsFile: v.GetString("firebase.credentials_file"),
		FirebaseProjectID:       v.GetString("firebase.project_id"),
		PushTimeout:             durations["push.timeout"],
		CloudinaryCloudName:     v.GetString("cloudinary.cloud_name"),
		CloudinaryAPIKey:        v.GetString("cloudinary.api_key"),
		CloudinaryAPISecret:     v.GetString("cloudinary.api_secret"),
		CloudinaryUploadFolder:  v.GetString("cloudinary.folder"),
		MaxAttachmentMB:         v.GetInt("attachments.max_mb"),
		DirectoryCacheTTL:       durations["directory.cache_ttl"],
		ConnectionRequestTTL:    durations["connection_request.ttl"],
		OutboxMaxLen:            v.GetInt64("outbox.max_len"),
		OutboxTTL:               durations["outbox.ttl"],
		PresenceTTL:             durations["presence.ttl"],
		WebsocketSendBuffer:     v.GetInt("websocket.send_buffer"),
	}

	if cfg.JWTSecret == "" {
		return Config{}, fmt.Errorf("jwt secret must be provided")
	}

	if cfg.MaxAttachmentMB <= 0 {
		cfg.MaxAttachmentMB = 15
	}

	if cfg.WebsocketSendBuffer <= 0 {
		cfg.WebsocketSendBuffer = 32
	}

	if cfg.OutboxMaxLen <= 0 {
		cfg.OutboxMaxLen = 200
	}

	return cfg, nil
}

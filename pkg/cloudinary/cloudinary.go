package cloudinary

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/cloudinary/cloudinary-go/v2"
	"github.com/cloudinary/cloudinary-go/v2/api/uploader"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Config contains credentials required to talk to Cloudinary.
type Config struct {
	CloudName string
	APIKey    string
	APISecret string
	Folder    string
}

type assetUploader interface {
	Upload(ctx context.Context, file interface{}, params uploader.UploadParams) (*uploader.UploadResult, error)
}

// Storage stores chat attachments in Cloudinary.
type Storage struct {
	uploader assetUploader
	folder   string
	logger   zerolog.Logger
}

// New constructs a Cloudinary backed attachment store.
func New(cfg Config, logger zerolog.Logger) (*Storage, error) {
	if cfg.CloudName == "" || cfg.APIKey == "" || cfg.APISecret == "" {
		return nil, fmt.Errorf("cloudinary credentials must be provided")
	}

	cld, err := cloudinary.NewFromParams(cfg.CloudName, cfg.APIKey, cfg.APISecret)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize cloudinary: %w", err)
	}

	return newStorage(&cld.Upload, cfg.Folder, logger), nil
}

func newStorage(up assetUploader, folder string, logger zerolog.Logger) *Storage {
	return &Storage{
		uploader: up,
		folder:   strings.Trim(folder, "/"),
		logger:   logger.With().Str("component", "cloudinary").Logger(),
	}
}

// Upload stores the attachment under a collision free public id and returns its secure URL.
func (s *Storage) Upload(ctx context.Context, name string, reader io.Reader) (string, error) {
	params := uploader.UploadParams{
		Folder:       s.folder,
		PublicID:     publicID(name),
		ResourceType: "auto",
		Tags:         []string{"chat-attachment"},
	}

	result, err := s.uploader.Upload(ctx, reader, params)
	if err != nil {
		return "", fmt.Errorf("failed to upload attachment: %w", err)
	}
	if result == nil {
		return "", fmt.Errorf("failed to upload attachment: empty response")
	}
	if result.Error.Message != "" {
		return "", fmt.Errorf("failed to upload attachment: %s", result.Error.Message)
	}

	s.logger.Debug().Str("public_id", result.PublicID).Str("resource_type", result.ResourceType).Msg("attachment stored")
	return result.SecureURL, nil
}

// publicID keeps the readable stem of the file name and appends a random suffix.
// Cloudinary derives the extension itself, so it is dropped here.
func publicID(name string) string {
	stem := strings.TrimSuffix(filepath.Base(name), filepath.Ext(name))
	stem = strings.Map(func(r rune) rune {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			return r
		}
		return '-'
	}, stem)
	stem = strings.Trim(stem, "-")
	if stem == "" {
		stem = "attachment"
	}

	return fmt.Sprintf("%s-%s", stem, uuid.NewString()[:8])
}

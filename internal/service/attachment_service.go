package service

import (
	"archive/zip"
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"path/filepath"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/noah-isme/medilink-api/internal/models"
)

const maxAttachmentsPerMessage = 10

// FileStorage abstracts upload destinations.
type FileStorage interface {
	Upload(ctx context.Context, name string, reader io.Reader) (string, error)
}

// AttachmentService validates message attachments and hands them to storage.
type AttachmentService interface {
	Upload(ctx context.Context, files []*multipart.FileHeader) ([]models.Attachment, error)
}

type attachmentService struct {
	storage FileStorage
	maxSize int64
	logger  zerolog.Logger
	tracer  trace.Tracer
}

// NewAttachmentService constructs an attachment service. A nil storage rejects every upload.
func NewAttachmentService(storage FileStorage, maxSizeMB int, logger zerolog.Logger) AttachmentService {
	if maxSizeMB <= 0 {
		maxSizeMB = 15
	}
	return &attachmentService{
		storage: storage,
		maxSize: int64(maxSizeMB) * 1024 * 1024,
		logger:  logger.With().Str("component", "attachment_service").Logger(),
		tracer:  otel.Tracer("github.com/noah-isme/medilink-api/internal/service/attachments"),
	}
}

func (s *attachmentService) Upload(ctx context.Context, files []*multipart.FileHeader) ([]models.Attachment, error) {
	if len(files) == 0 {
		return nil, nil
	}
	if len(files) > maxAttachmentsPerMessage {
		return nil, validationError("at most %d attachments per message", maxAttachmentsPerMessage)
	}
	if s.storage == nil {
		return nil, validationError("attachments are not enabled")
	}

	ctx, span := s.tracer.Start(ctx, "attachments.upload", trace.WithAttributes(
		attribute.Int("attachments.count", len(files)),
		attribute.Int64("attachments.max_bytes", s.maxSize),
	))
	defer span.End()

	attachments := make([]models.Attachment, 0, len(files))
	for _, file := range files {
		attachment, err := s.uploadOne(ctx, file)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "upload failed")
			return nil, err
		}
		attachments = append(attachments, attachment)
	}

	span.SetStatus(codes.Ok, "stored")
	return attachments, nil
}

func (s *attachmentService) uploadOne(ctx context.Context, file *multipart.FileHeader) (models.Attachment, error) {
	if file == nil {
		return models.Attachment{}, validationError("file is required")
	}
	if file.Size > s.maxSize {
		return models.Attachment{}, validationError("%s exceeds the %d MB limit", file.Filename, s.maxSize/(1024*1024))
	}

	handle, err := file.Open()
	if err != nil {
		return models.Attachment{}, err
	}
	defer handle.Close()

	buf := bytes.NewBuffer(nil)
	if _, err := io.Copy(buf, io.LimitReader(handle, s.maxSize+1)); err != nil {
		return models.Attachment{}, err
	}
	if int64(buf.Len()) > s.maxSize {
		return models.Attachment{}, validationError("%s exceeds the %d MB limit", file.Filename, s.maxSize/(1024*1024))
	}

	detected := mimetype.Detect(buf.Bytes())
	kind, ok := attachmentKind(detected)
	if !ok {
		return models.Attachment{}, validationError("file type %s not allowed", detected.String())
	}

	if err := s.scan(buf.Bytes(), detected); err != nil {
		return models.Attachment{}, err
	}

	url, err := s.storage.Upload(ctx, sanitizeFileName(file.Filename), bytes.NewReader(buf.Bytes()))
	if err != nil {
		return models.Attachment{}, fmt.Errorf("attachment storage failed: %w", err)
	}

	s.logger.Debug().Str("kind", string(kind)).Int("size_bytes", buf.Len()).Msg("attachment stored")
	return models.Attachment{URL: url, Kind: kind}, nil
}

func (s *attachmentService) scan(payload []byte, detected *mimetype.MIME) error {
	if !detected.Is("application/zip") {
		return nil
	}

	reader, err := zip.NewReader(bytes.NewReader(payload), int64(len(payload)))
	if err != nil {
		return validationError("unreadable archive")
	}
	var totalUncompressed uint64
	for _, f := range reader.File {
		totalUncompressed += f.UncompressedSize64
		if totalUncompressed > uint64(s.maxSize*20) {
			return validationError("archive expands beyond the allowed size")
		}
	}
	return nil
}

var documentTypes = []string{
	"application/pdf",
	"application/zip",
	"application/msword",
	"application/vnd.openxmlformats-officedocument.wordprocessingml.document",
	"text/plain",
}

func attachmentKind(detected *mimetype.MIME) (models.AttachmentKind, bool) {
	for mime := detected; mime != nil; mime = mime.Parent() {
		switch {
		case strings.HasPrefix(mime.String(), "image/"):
			return models.AttachmentKindImage, true
		case strings.HasPrefix(mime.String(), "video/"):
			return models.AttachmentKindVideo, true
		}
	}
	for _, allowed := range documentTypes {
		if detected.Is(allowed) {
			return models.AttachmentKindFile, true
		}
	}
	return "", false
}

func sanitizeFileName(name string) string {
	base := strings.TrimSuffix(name, filepath.Ext(name))
	base = strings.ToLower(base)
	base = strings.Map(func(r rune) rune {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			return r
		}
		if r == '-' || r == '_' {
			return r
		}
		return '-'
	}, base)
	base = strings.Trim(base, "-")
	if base == "" {
		base = fmt.Sprintf("attachment-%d", time.Now().Unix())
	}
	ext := strings.ToLower(filepath.Ext(name))
	if ext == "" {
		ext = ".bin"
	}
	return base + ext
}

package services

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"mime/multipart"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/akinalp/casedesk/models"
	"github.com/akinalp/casedesk/pkg"
	"github.com/akinalp/casedesk/repository"
)

// UploadService stores attachment files on disk and records them.
type UploadService interface {
	// Check validates size and type before anything is written.
	Check(header *multipart.FileHeader) error
	Upload(ctx context.Context, messageID string, header *multipart.FileHeader) (*models.Attachment, error)
}

type uploadService struct {
	attachmentRepo repository.AttachmentRepository
	uploadDir      string
	maxSize        int64
}

// NewUploadService creates an UploadService writing into uploadDir.
func NewUploadService(
	attachmentRepo repository.AttachmentRepository,
	uploadDir string,
	maxSize int64,
) UploadService {
	return &uploadService{
		attachmentRepo: attachmentRepo,
		uploadDir:      uploadDir,
		maxSize:        maxSize,
	}
}

// Documents and images a legal practice exchanges with clients.
var allowedMimeTypes = map[string]bool{
	"image/jpeg":      true,
	"image/png":       true,
	"image/gif":       true,
	"image/webp":      true,
	"application/pdf": true,
	"text/plain":      true,

	"application/msword":       true,
	"application/vnd.ms-excel": true,

	"application/vnd.openxmlformats-officedocument.wordprocessingml.document": true,
	"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet":       true,
}

func mimeOf(header *multipart.FileHeader) string {
	contentType := header.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	base, _, _ := strings.Cut(contentType, ";")
	return strings.TrimSpace(base)
}

func (s *uploadService) Check(header *multipart.FileHeader) error {
	if header.Size > s.maxSize {
		return fmt.Errorf("%w: file too large (max %dMB)", pkg.ErrBadRequest, s.maxSize/(1024*1024))
	}
	if mime := mimeOf(header); !allowedMimeTypes[mime] {
		return fmt.Errorf("%w: file type not allowed: %s", pkg.ErrBadRequest, mime)
	}
	return nil
}

func (s *uploadService) Upload(ctx context.Context, messageID string, header *multipart.FileHeader) (*models.Attachment, error) {
	if err := s.Check(header); err != nil {
		return nil, err
	}

	src, err := header.Open()
	if err != nil {
		return nil, fmt.Errorf("failed to open upload: %w", err)
	}
	defer src.Close()

	randomBytes := make([]byte, 8)
	if _, err := rand.Read(randomBytes); err != nil {
		return nil, fmt.Errorf("failed to generate random filename: %w", err)
	}
	diskFilename := hex.EncodeToString(randomBytes) + "_" + sanitizeFilename(header.Filename)

	destPath := filepath.Join(s.uploadDir, diskFilename)
	destFile, err := os.Create(destPath)
	if err != nil {
		return nil, fmt.Errorf("failed to create file: %w", err)
	}
	defer destFile.Close()

	if _, err := io.Copy(destFile, src); err != nil {
		os.Remove(destPath)
		return nil, fmt.Errorf("failed to save file: %w", err)
	}

	fileSize := header.Size
	mime := mimeOf(header)
	attachment := &models.Attachment{
		ID:        uuid.NewString(),
		MessageID: messageID,
		Filename:  header.Filename,
		FileURL:   "/api/uploads/" + diskFilename,
		FileSize:  &fileSize,
		MimeType:  &mime,
	}

	if err := s.attachmentRepo.Create(ctx, attachment); err != nil {
		os.Remove(destPath)
		return nil, fmt.Errorf("failed to create attachment record: %w", err)
	}

	return attachment, nil
}

// sanitizeFilename strips any path and separators from a client supplied
// name.
func sanitizeFilename(name string) string {
	name = filepath.Base(strings.ReplaceAll(name, "\\", "/"))
	name = strings.Map(func(r rune) rune {
		if r == '/' || r == '\\' || r == '\x00' {
			return -1
		}
		return r
	}, name)

	if name == "" || name == "." || name == ".." {
		name = "unnamed"
	}
	return name
}

package services

import (
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// ImageStorageService stores the photos admins attach to inventory items
type ImageStorageService struct {
	storageDir string
}

// NewImageStorageService creates the storage directory if needed
func NewImageStorageService(storageDir string) *ImageStorageService {
	if storageDir == "" {
		storageDir = "./data/scanned_images"
	}

	// Log error but don't fail - will fail on actual writes
	if err := os.MkdirAll(storageDir, 0755); err != nil {
		log.Printf("Warning: could not create scanned images directory: %v", err)
	}

	return &ImageStorageService{
		storageDir: storageDir,
	}
}

// SaveImage saves image data to disk and returns the filename
func (s *ImageStorageService) SaveImage(imageData []byte) (string, error) {
	if len(imageData) == 0 {
		return "", fmt.Errorf("empty image data")
	}

	filename := uuid.New().String() + imageExtension(detectMimeType(imageData))
	filePath := filepath.Join(s.storageDir, filename)

	if err := os.WriteFile(filePath, imageData, 0644); err != nil {
		return "", fmt.Errorf("failed to save image: %w", err)
	}

	return filename, nil
}

// DeleteImage removes a stored image. A missing file is not an error.
func (s *ImageStorageService) DeleteImage(filename string) error {
	if filename == "" {
		return nil
	}
	// only bare names produced by SaveImage are accepted
	if filename != filepath.Base(filename) || strings.HasPrefix(filename, ".") {
		return fmt.Errorf("invalid image filename %q", filename)
	}

	err := os.Remove(filepath.Join(s.storageDir, filename))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to delete image: %w", err)
	}
	return nil
}

// GetStorageDir returns the storage directory path
func (s *ImageStorageService) GetStorageDir() string {
	return s.storageDir
}

func imageExtension(mimeType string) string {
	switch mimeType {
	case "image/png":
		return ".png"
	case "image/webp":
		return ".webp"
	case "image/gif":
		return ".gif"
	default:
		return ".jpg"
	}
}

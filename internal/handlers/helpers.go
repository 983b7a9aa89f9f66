package handlers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"strconv"
	"strings"

	"github.com/codeak/portal/internal/storage"
	"github.com/codeak/portal/pkg/logger"
	"github.com/gabriel-vasile/mimetype"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

const uploadsPrefix = "/uploads/"

func parseUUID(value string) (uuid.UUID, error) {
	return uuid.Parse(strings.TrimSpace(value))
}

func parseID(c *fiber.Ctx, name string) (uint, error) {
	value, err := strconv.ParseUint(strings.TrimSpace(c.Params(name)), 10, 32)
	if err != nil || value == 0 {
		return 0, fmt.Errorf("invalid %s", name)
	}
	return uint(value), nil
}

func isDuplicateKey(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique constraint") || strings.Contains(msg, "duplicate key")
}

// optionalText trims a value and maps blank input to nil.
func optionalText(value *string) *string {
	if value == nil {
		return nil
	}
	trimmed := strings.TrimSpace(*value)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}

func uploadURL(key string) string {
	return uploadsPrefix + strings.TrimPrefix(key, "/")
}

// keyFromUploadURL returns the storage key behind a URL produced by
// uploadURL. Other URLs are not managed by the store.
func keyFromUploadURL(url string) (string, bool) {
	if !strings.HasPrefix(url, uploadsPrefix) {
		return "", false
	}
	return strings.TrimPrefix(url, uploadsPrefix), true
}

// saveMultipartFile stores an upload under key. An empty contentType falls
// back to the part header.
func saveMultipartFile(ctx context.Context, store storage.FileStore, fh *multipart.FileHeader, key, contentType string) error {
	f, err := fh.Open()
	if err != nil {
		return err
	}
	defer f.Close()

	if contentType == "" {
		contentType = partContentType(fh)
	}
	return store.Save(ctx, key, f, fh.Size, contentType)
}

func partContentType(fh *multipart.FileHeader) string {
	if ct := fh.Header.Get("Content-Type"); ct != "" {
		return ct
	}
	return "application/octet-stream"
}

var errUnsupportedImage = errors.New("unsupported image format")

// sniffImage detects the upload type from its content and maps it to a file
// extension through allowed.
func sniffImage(fh *multipart.FileHeader, allowed map[string]string) (string, string, error) {
	f, err := fh.Open()
	if err != nil {
		return "", "", err
	}
	defer f.Close()

	mtype, err := mimetype.DetectReader(f)
	if err != nil {
		return "", "", err
	}
	for ct, ext := range allowed {
		if mtype.Is(ct) {
			return ct, ext, nil
		}
	}
	return "", "", errUnsupportedImage
}

func saveText(ctx context.Context, store storage.FileStore, key, content string) error {
	return store.Save(ctx, key, strings.NewReader(content), int64(len(content)), "text/markdown; charset=utf-8")
}

// removeFiles deletes stored files after the owning rows are gone. Failures
// are logged and do not fail the request.
func removeFiles(ctx context.Context, store storage.FileStore, action string, keys ...string) {
	if err := storage.DeleteAll(ctx, store, keys...); err != nil {
		logger.Error(action, err, map[string]interface{}{"keys": keys})
	}
}

func formValues(form *multipart.Form, name string) (string, bool) {
	if form == nil {
		return "", false
	}
	values, ok := form.Value[name]
	if !ok || len(values) == 0 {
		return "", false
	}
	return values[0], true
}

func readText(ctx context.Context, store storage.FileStore, key string) (string, error) {
	rc, err := store.Open(ctx, key)
	if err != nil {
		return "", err
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

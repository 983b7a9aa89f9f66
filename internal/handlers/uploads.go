package handlers

import (
	"errors"
	"mime"
	"path"
	"strings"

	"github.com/codeak/portal/internal/storage"
	"github.com/codeak/portal/pkg/logger"
	"github.com/codeak/portal/pkg/utils"
	"github.com/gofiber/fiber/v2"
)

// UploadsHandler streams stored files under /uploads/<key>.
type UploadsHandler struct {
	Store storage.FileStore
}

func NewUploadsHandler(store storage.FileStore) *UploadsHandler {
	return &UploadsHandler{Store: store}
}

func (h *UploadsHandler) Serve(c *fiber.Ctx) error {
	key, err := storage.CleanKey(c.Params("*"))
	if err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid file path")
	}

	rc, err := h.Store.Open(c.UserContext(), key)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return utils.Error(c, fiber.StatusNotFound, "file not found")
		}
		logger.Error("upload_open_failed", err, map[string]interface{}{"key": key})
		return utils.Error(c, fiber.StatusInternalServerError, "failed opening file")
	}

	contentType := mime.TypeByExtension(strings.ToLower(path.Ext(key)))
	if contentType == "" {
		contentType = fiber.MIMEOctetStream
	}
	// Only raster images render inline. Everything else, SVG included, is
	// downloaded so stored markup never runs on the API origin.
	if !inlineContentType(contentType) {
		c.Attachment(path.Base(key))
	}
	c.Set(fiber.HeaderContentType, contentType)
	c.Set("X-Content-Type-Options", "nosniff")
	// fasthttp closes the stream once the body is written.
	return c.SendStream(rc)
}

func inlineContentType(contentType string) bool {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return false
	}
	return strings.HasPrefix(mediaType, "image/") && mediaType != "image/svg+xml"
}

package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"mime/multipart"
	"strings"
	"time"

	"github.com/codeak/portal/internal/middleware"
	"github.com/codeak/portal/internal/models"
	"github.com/codeak/portal/internal/services"
	"github.com/codeak/portal/internal/storage"
	"github.com/codeak/portal/pkg/logger"
	"github.com/codeak/portal/pkg/utils"
	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"
)

var newsImageExtensions = map[string]string{
	"image/jpeg": ".jpg",
	"image/png":  ".png",
	"image/webp": ".webp",
	"image/gif":  ".gif",
}

type NewsHandler struct {
	DB       *gorm.DB
	Store    storage.FileStore
	Auth     *middleware.AuthMiddleware
	Ordering *services.OrderingService
}

func NewNewsHandler(db *gorm.DB, store storage.FileStore, auth *middleware.AuthMiddleware, ordering *services.OrderingService) *NewsHandler {
	return &NewsHandler{DB: db, Store: store, Auth: auth, Ordering: ordering}
}

func (h *NewsHandler) View(c *fiber.Ctx) error {
	var items []models.News
	if err := h.DB.Where("visible = ?", true).
		Order("position ASC").
		Order("id DESC").
		Find(&items).Error; err != nil {
		return utils.Error(c, fiber.StatusInternalServerError, "failed listing news")
	}
	return utils.Success(c, fiber.StatusOK, items)
}

func (h *NewsHandler) List(c *fiber.Ctx) error {
	var items []models.News
	if err := h.DB.Order("position ASC").Order("id DESC").Find(&items).Error; err != nil {
		return utils.Error(c, fiber.StatusInternalServerError, "failed listing news")
	}
	return utils.Success(c, fiber.StatusOK, items)
}

// parseTags accepts a JSON array or a comma separated list.
func parseTags(raw string) ([]string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return []string{}, nil
	}

	var parts []string
	if strings.HasPrefix(raw, "[") {
		if err := json.Unmarshal([]byte(raw), &parts); err != nil {
			return nil, fmt.Errorf("tags must be a JSON array of strings")
		}
	} else {
		parts = strings.Split(raw, ",")
	}

	tags := make([]string, 0, len(parts))
	for _, tag := range parts {
		if tag = strings.TrimSpace(tag); tag != "" {
			tags = append(tags, tag)
		}
	}
	return tags, nil
}

// storeNewsImage saves an uploaded cover image and returns its public URL.
func (h *NewsHandler) storeNewsImage(c *fiber.Ctx, fh *multipart.FileHeader) (string, error) {
	contentType, ext, err := sniffImage(fh, newsImageExtensions)
	if err != nil {
		if errors.Is(err, errUnsupportedImage) {
			return "", utils.Error(c, fiber.StatusBadRequest, "image must be a jpeg, png, webp or gif file")
		}
		return "", utils.Error(c, fiber.StatusBadRequest, "failed reading image")
	}

	key := fmt.Sprintf("news/news-%d%s", time.Now().UnixNano(), ext)
	if err := saveMultipartFile(c.UserContext(), h.Store, fh, key, contentType); err != nil {
		logger.Error("news_image_write_failed", err, nil)
		return "", utils.Error(c, fiber.StatusInternalServerError, "failed storing image")
	}
	return uploadURL(key), nil
}

func imageFile(form *multipart.Form) *multipart.FileHeader {
	if form == nil {
		return nil
	}
	if files := form.File["image"]; len(files) > 0 {
		return files[0]
	}
	return nil
}

// Add creates a news item from a multipart form. The markdown body starts
// empty and is filled through UpdateContent.
func (h *NewsHandler) Add(c *fiber.Ctx) error {
	form, err := c.MultipartForm()
	if err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "multipart form expected")
	}

	title, _ := formValues(form, "title")
	title = strings.TrimSpace(title)
	if title == "" {
		return utils.Error(c, fiber.StatusBadRequest, "title is required")
	}
	description, _ := formValues(form, "description")
	date, _ := formValues(form, "date")
	rawTags, _ := formValues(form, "tags")
	tags, err := parseTags(rawTags)
	if err != nil {
		return utils.Error(c, fiber.StatusBadRequest, err.Error())
	}

	news := models.News{
		Title:       title,
		Description: optionalText(&description),
		Date:        optionalText(&date),
		Tags:        tags,
		Visible:     true,
	}
	if raw, ok := formValues(form, "visible"); ok && strings.EqualFold(strings.TrimSpace(raw), "false") {
		news.Visible = false
	}

	ctx := c.UserContext()
	var created []string
	if fh := imageFile(form); fh != nil {
		url, err := h.storeNewsImage(c, fh)
		if url == "" {
			return err
		}
		news.ImageURL = &url
		key, _ := keyFromUploadURL(url)
		created = append(created, key)
	}

	news.FilePath = fmt.Sprintf("news_content/news-%d.md", time.Now().UnixNano())
	if err := saveText(ctx, h.Store, news.FilePath, ""); err != nil {
		removeFiles(ctx, h.Store, "news_files_cleanup_failed", created...)
		logger.Error("news_content_write_failed", err, nil)
		return utils.Error(c, fiber.StatusInternalServerError, "failed storing news content")
	}
	created = append(created, news.FilePath)

	err = h.DB.Transaction(func(tx *gorm.DB) error {
		next, err := nextOrder(tx, &models.News{}, "position", nil)
		if err != nil {
			return err
		}
		news.Position = next
		return tx.Create(&news).Error
	})
	if err != nil {
		removeFiles(ctx, h.Store, "news_files_cleanup_failed", created...)
		logger.Error("news_create_failed", err, nil)
		return utils.Error(c, fiber.StatusInternalServerError, "failed creating news")
	}

	logger.InfoWithUser(middleware.GetCurrentUser(c).ID.String(), "news_created", map[string]interface{}{
		"news_id": news.ID,
		"title":   news.Title,
	})
	return utils.Success(c, fiber.StatusCreated, news)
}

func (h *NewsHandler) loadNews(c *fiber.Ctx) (*models.News, error) {
	id, err := parseID(c, "id")
	if err != nil {
		return nil, utils.Error(c, fiber.StatusBadRequest, err.Error())
	}
	var news models.News
	if err := h.DB.First(&news, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, utils.Error(c, fiber.StatusNotFound, "news not found")
		}
		return nil, utils.Error(c, fiber.StatusInternalServerError, "failed fetching news")
	}
	return &news, nil
}

// Edit applies the fields present in the form. A new image replaces the old
// file.
func (h *NewsHandler) Edit(c *fiber.Ctx) error {
	news, err := h.loadNews(c)
	if news == nil {
		return err
	}

	form, err := c.MultipartForm()
	if err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "multipart form expected")
	}

	var columns []string
	if value, ok := formValues(form, "title"); ok {
		value = strings.TrimSpace(value)
		if value == "" {
			return utils.Error(c, fiber.StatusBadRequest, "title cannot be empty")
		}
		news.Title = value
		columns = append(columns, "title")
	}
	if value, ok := formValues(form, "description"); ok {
		news.Description = optionalText(&value)
		columns = append(columns, "description")
	}
	if value, ok := formValues(form, "date"); ok {
		news.Date = optionalText(&value)
		columns = append(columns, "date")
	}
	if value, ok := formValues(form, "tags"); ok {
		tags, err := parseTags(value)
		if err != nil {
			return utils.Error(c, fiber.StatusBadRequest, err.Error())
		}
		news.Tags = tags
		columns = append(columns, "tags")
	}

	var previousImage, newImage string
	if fh := imageFile(form); fh != nil {
		url, err := h.storeNewsImage(c, fh)
		if url == "" {
			return err
		}
		if news.ImageURL != nil {
			previousImage = *news.ImageURL
		}
		newImage = url
		news.ImageURL = &url
		columns = append(columns, "image_url")
	}

	if len(columns) == 0 {
		return utils.Error(c, fiber.StatusBadRequest, "no valid fields to update")
	}

	// Select forces cleared optional fields to be written as NULL.
	if err := h.DB.Model(news).Select(columns).Updates(news).Error; err != nil {
		if key, ok := keyFromUploadURL(newImage); ok {
			removeFiles(c.UserContext(), h.Store, "news_image_cleanup_failed", key)
		}
		logger.Error("news_update_failed", err, map[string]interface{}{"news_id": news.ID})
		return utils.Error(c, fiber.StatusInternalServerError, "failed updating news")
	}
	if key, ok := keyFromUploadURL(previousImage); ok {
		removeFiles(c.UserContext(), h.Store, "news_image_cleanup_failed", key)
	}

	var updated models.News
	if err := h.DB.First(&updated, news.ID).Error; err != nil {
		return utils.Error(c, fiber.StatusInternalServerError, "failed fetching updated news")
	}
	return utils.Success(c, fiber.StatusOK, updated)
}

func (h *NewsHandler) Delete(c *fiber.Ctx) error {
	news, err := h.loadNews(c)
	if news == nil {
		return err
	}

	keys := []string{news.FilePath}
	if news.ImageURL != nil {
		if key, ok := keyFromUploadURL(*news.ImageURL); ok {
			keys = append(keys, key)
		}
	}

	err = h.DB.Transaction(func(tx *gorm.DB) error {
		var attachments []models.NewsAttachment
		if err := tx.Where("news_id = ?", news.ID).Find(&attachments).Error; err != nil {
			return err
		}
		for _, a := range attachments {
			if key, ok := keyFromUploadURL(a.FileURL); ok {
				keys = append(keys, key)
			}
		}
		if err := tx.Where("news_id = ?", news.ID).Delete(&models.NewsAttachment{}).Error; err != nil {
			return err
		}
		return tx.Delete(news).Error
	})
	if err != nil {
		logger.Error("news_delete_failed", err, map[string]interface{}{"news_id": news.ID})
		return utils.Error(c, fiber.StatusInternalServerError, "failed deleting news")
	}

	removeFiles(c.UserContext(), h.Store, "news_files_cleanup_failed", keys...)

	logger.InfoWithUser(middleware.GetCurrentUser(c).ID.String(), "news_deleted", map[string]interface{}{
		"news_id": news.ID,
	})
	return utils.Success(c, fiber.StatusOK, fiber.Map{"message": "news deleted"})
}

type reorderNewsRequest struct {
	ReorderedNews []map[string]any `json:"reorderedNews"`
}

func (h *NewsHandler) Reorder(c *fiber.Ctx) error {
	var req reorderNewsRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid request body")
	}

	updates, err := services.ParseOrderUpdates(req.ReorderedNews, "position")
	if err != nil {
		return utils.Error(c, fiber.StatusBadRequest, err.Error())
	}

	if err := h.Ordering.Apply(h.DB, &models.News{}, "position", nil, updates); err != nil {
		return reorderError(c, err, "news")
	}

	logger.InfoWithUser(middleware.GetCurrentUser(c).ID.String(), "news_reordered", map[string]interface{}{
		"count": len(updates),
	})
	return utils.Success(c, fiber.StatusOK, fiber.Map{"message": "news reordered"})
}

func (h *NewsHandler) GetContent(c *fiber.Ctx) error {
	news, err := h.loadNews(c)
	if news == nil {
		return err
	}

	if !news.Visible {
		staff, err := h.Auth.HasRole(c, models.StaffRoles...)
		if err != nil {
			return utils.Error(c, fiber.StatusInternalServerError, "failed to check role")
		}
		if !staff {
			return utils.Error(c, fiber.StatusNotFound, "news not found")
		}
	}

	content, err := readText(c.UserContext(), h.Store, news.FilePath)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		logger.Error("news_content_read_failed", err, map[string]interface{}{"news_id": news.ID})
		return utils.Error(c, fiber.StatusInternalServerError, "failed reading news content")
	}

	var attachments []models.NewsAttachment
	if err := h.DB.Where("news_id = ?", news.ID).Order("id ASC").Find(&attachments).Error; err != nil {
		return utils.Error(c, fiber.StatusInternalServerError, "failed listing attachments")
	}

	return utils.Success(c, fiber.StatusOK, fiber.Map{
		"news":        news,
		"contentMD":   content,
		"attachments": attachments,
	})
}

// UpdateContent replaces the markdown body and stores new attachments.
// Attachments whose filename already exists on the item are skipped.
func (h *NewsHandler) UpdateContent(c *fiber.Ctx) error {
	news, err := h.loadNews(c)
	if news == nil {
		return err
	}

	form, err := c.MultipartForm()
	if err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "multipart form expected")
	}
	content, ok := formValues(form, "contentMD")
	if !ok {
		return utils.Error(c, fiber.StatusBadRequest, "contentMD is required")
	}

	ctx := c.UserContext()
	if err := saveText(ctx, h.Store, news.FilePath, content); err != nil {
		logger.Error("news_content_write_failed", err, map[string]interface{}{"news_id": news.ID})
		return utils.Error(c, fiber.StatusInternalServerError, "failed storing news content")
	}

	var existing []string
	if err := h.DB.Model(&models.NewsAttachment{}).Where("news_id = ?", news.ID).Pluck("filename", &existing).Error; err != nil {
		return utils.Error(c, fiber.StatusInternalServerError, "failed listing attachments")
	}
	attached := make(map[string]struct{}, len(existing))
	for _, name := range existing {
		attached[name] = struct{}{}
	}

	added := []models.NewsAttachment{}
	skipped := []string{}
	for _, fh := range form.File["attachments"] {
		name := storage.SanitizeFilename(fh.Filename)
		if _, dup := attached[name]; dup {
			skipped = append(skipped, name)
			continue
		}

		key := fmt.Sprintf("news_attachments/%d/%s", news.ID, name)
		contentType := partContentType(fh)
		if err := saveMultipartFile(ctx, h.Store, fh, key, contentType); err != nil {
			logger.Error("news_attachment_write_failed", err, map[string]interface{}{"news_id": news.ID, "filename": name})
			return utils.Error(c, fiber.StatusInternalServerError, "failed storing attachment")
		}

		attachment := models.NewsAttachment{
			NewsID:   news.ID,
			Filename: name,
			FileURL:  uploadURL(key),
			FileType: contentType,
		}
		if err := h.DB.Create(&attachment).Error; err != nil {
			removeFiles(ctx, h.Store, "news_attachment_cleanup_failed", key)
			return utils.Error(c, fiber.StatusInternalServerError, "failed saving attachment")
		}
		attached[name] = struct{}{}
		added = append(added, attachment)
	}

	logger.InfoWithUser(middleware.GetCurrentUser(c).ID.String(), "news_content_updated", map[string]interface{}{
		"news_id": news.ID,
		"added":   len(added),
		"skipped": len(skipped),
	})
	return utils.Success(c, fiber.StatusOK, fiber.Map{
		"news":        news,
		"attachments": added,
		"skipped":     skipped,
	})
}

func (h *NewsHandler) DeleteAttachment(c *fiber.Ctx) error {
	id, err := parseID(c, "id")
	if err != nil {
		return utils.Error(c, fiber.StatusBadRequest, err.Error())
	}

	var attachment models.NewsAttachment
	if err := h.DB.First(&attachment, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return utils.Error(c, fiber.StatusNotFound, "attachment not found")
		}
		return utils.Error(c, fiber.StatusInternalServerError, "failed fetching attachment")
	}

	if err := h.DB.Delete(&attachment).Error; err != nil {
		return utils.Error(c, fiber.StatusInternalServerError, "failed deleting attachment")
	}
	if key, ok := keyFromUploadURL(attachment.FileURL); ok {
		removeFiles(c.UserContext(), h.Store, "news_attachment_cleanup_failed", key)
	}

	return utils.Success(c, fiber.StatusOK, fiber.Map{"message": "attachment deleted"})
}

func (h *NewsHandler) SetVisibility(c *fiber.Ctx) error {
	news, err := h.loadNews(c)
	if news == nil {
		return err
	}

	var req visibilityRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid request body")
	}
	if req.Visible == nil {
		return utils.Error(c, fiber.StatusBadRequest, "visible is required")
	}

	if err := h.DB.Model(news).UpdateColumn("visible", *req.Visible).Error; err != nil {
		return utils.Error(c, fiber.StatusInternalServerError, "failed updating visibility")
	}
	news.Visible = *req.Visible
	return utils.Success(c, fiber.StatusOK, news)
}

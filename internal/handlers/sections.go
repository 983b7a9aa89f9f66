package handlers

import (
	"errors"
	"fmt"
	"strconv"
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

type SectionsHandler struct {
	DB       *gorm.DB
	Store    storage.FileStore
	Auth     *middleware.AuthMiddleware
	Ordering *services.OrderingService
}

func NewSectionsHandler(db *gorm.DB, store storage.FileStore, auth *middleware.AuthMiddleware, ordering *services.OrderingService) *SectionsHandler {
	return &SectionsHandler{DB: db, Store: store, Auth: auth, Ordering: ordering}
}

type sectionAttachmentView struct {
	models.SectionAttachment
	URL string `json:"url"`
}

func attachmentViews(attachments []models.SectionAttachment) []sectionAttachmentView {
	views := make([]sectionAttachmentView, 0, len(attachments))
	for _, a := range attachments {
		views = append(views, sectionAttachmentView{SectionAttachment: a, URL: uploadURL(a.FilePath)})
	}
	return views
}

func sectionScope(courseID uint) func(*gorm.DB) *gorm.DB {
	return func(db *gorm.DB) *gorm.DB {
		return db.Where("course_id = ?", courseID)
	}
}

func (h *SectionsHandler) loadCourse(c *fiber.Ctx) (*models.Course, error) {
	courseID, err := parseID(c, "id")
	if err != nil {
		return nil, utils.Error(c, fiber.StatusBadRequest, err.Error())
	}
	var course models.Course
	if err := h.DB.First(&course, courseID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, utils.Error(c, fiber.StatusNotFound, "course not found")
		}
		return nil, utils.Error(c, fiber.StatusInternalServerError, "failed fetching course")
	}
	return &course, nil
}

func (h *SectionsHandler) loadSection(c *fiber.Ctx, courseID uint) (*models.Section, error) {
	sectionID, err := parseID(c, "sectionId")
	if err != nil {
		return nil, utils.Error(c, fiber.StatusBadRequest, err.Error())
	}
	return h.findSection(c, courseID, sectionID)
}

func (h *SectionsHandler) findSection(c *fiber.Ctx, courseID, sectionID uint) (*models.Section, error) {
	var section models.Section
	if err := h.DB.First(&section, "id = ? AND course_id = ?", sectionID, courseID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, utils.Error(c, fiber.StatusNotFound, "section not found")
		}
		return nil, utils.Error(c, fiber.StatusInternalServerError, "failed fetching section")
	}
	return &section, nil
}

// View lists the visible sections of a visible course.
func (h *SectionsHandler) View(c *fiber.Ctx) error {
	courseID, err := parseID(c, "id")
	if err != nil {
		return utils.Error(c, fiber.StatusBadRequest, err.Error())
	}

	var course models.Course
	if err := h.DB.Select("id").First(&course, "id = ? AND visible = ?", courseID, true).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return utils.Error(c, fiber.StatusNotFound, "course not found")
		}
		return utils.Error(c, fiber.StatusInternalServerError, "failed fetching course")
	}

	var sections []models.Section
	if err := h.DB.Where("course_id = ? AND visible = ?", courseID, true).
		Order("section_order ASC").
		Order("id ASC").
		Find(&sections).Error; err != nil {
		return utils.Error(c, fiber.StatusInternalServerError, "failed listing sections")
	}
	return utils.Success(c, fiber.StatusOK, sections)
}

func (h *SectionsHandler) List(c *fiber.Ctx) error {
	course, err := h.loadCourse(c)
	if course == nil {
		return err
	}

	var sections []models.Section
	if err := h.DB.Where("course_id = ?", course.ID).
		Order("section_order ASC").
		Order("id ASC").
		Find(&sections).Error; err != nil {
		return utils.Error(c, fiber.StatusInternalServerError, "failed listing sections")
	}
	return utils.Success(c, fiber.StatusOK, sections)
}

// Get returns the section with its markdown body and attachments. Hidden
// sections are visible to staff only.
func (h *SectionsHandler) Get(c *fiber.Ctx) error {
	courseID, err := parseID(c, "id")
	if err != nil {
		return utils.Error(c, fiber.StatusBadRequest, err.Error())
	}
	section, err := h.loadSection(c, courseID)
	if section == nil {
		return err
	}

	if !section.Visible {
		staff, err := h.Auth.HasRole(c, models.StaffRoles...)
		if err != nil {
			return utils.Error(c, fiber.StatusInternalServerError, "failed to check role")
		}
		if !staff {
			return utils.Error(c, fiber.StatusNotFound, "section not found")
		}
	}

	content, err := readText(c.UserContext(), h.Store, section.FilePath)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		logger.Error("section_content_read_failed", err, map[string]interface{}{"section_id": section.ID})
		return utils.Error(c, fiber.StatusInternalServerError, "failed reading section content")
	}

	var attachments []models.SectionAttachment
	if err := h.DB.Where("section_id = ?", section.ID).Order("id ASC").Find(&attachments).Error; err != nil {
		return utils.Error(c, fiber.StatusInternalServerError, "failed listing attachments")
	}

	return utils.Success(c, fiber.StatusOK, fiber.Map{
		"section":     section,
		"contentMD":   content,
		"attachments": attachmentViews(attachments),
	})
}

type createSectionRequest struct {
	SectionTitle       string  `json:"sectionTitle" validate:"required,max=255"`
	SectionDescription *string `json:"sectionDescription"`
	ContentMD          string  `json:"contentMD"`
	Visible            *bool   `json:"visible"`
}

// Create appends a section at the end of the course and writes its markdown
// body, empty unless contentMD is given.
func (h *SectionsHandler) Create(c *fiber.Ctx) error {
	course, err := h.loadCourse(c)
	if course == nil {
		return err
	}

	var req createSectionRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid request body")
	}
	req.SectionTitle = strings.TrimSpace(req.SectionTitle)
	if err := utils.ValidateStruct(req); err != nil {
		return utils.Error(c, fiber.StatusBadRequest, err.Error())
	}

	key := fmt.Sprintf("course_content/%d/section-%d.md", course.ID, time.Now().UnixNano())
	if err := saveText(c.UserContext(), h.Store, key, req.ContentMD); err != nil {
		logger.Error("section_content_write_failed", err, map[string]interface{}{"course_id": course.ID})
		return utils.Error(c, fiber.StatusInternalServerError, "failed storing section content")
	}

	section := models.Section{
		CourseID:           course.ID,
		SectionTitle:       req.SectionTitle,
		SectionDescription: optionalText(req.SectionDescription),
		FilePath:           key,
		Visible:            req.Visible == nil || *req.Visible,
	}
	err = h.DB.Transaction(func(tx *gorm.DB) error {
		next, err := nextOrder(tx, &models.Section{}, "section_order", sectionScope(course.ID))
		if err != nil {
			return err
		}
		section.SectionOrder = next
		return tx.Create(&section).Error
	})
	if err != nil {
		removeFiles(c.UserContext(), h.Store, "section_content_cleanup_failed", key)
		logger.Error("section_create_failed", err, map[string]interface{}{"course_id": course.ID})
		return utils.Error(c, fiber.StatusInternalServerError, "failed creating section")
	}

	logger.InfoWithUser(middleware.GetCurrentUser(c).ID.String(), "section_created", map[string]interface{}{
		"course_id":  course.ID,
		"section_id": section.ID,
	})
	return utils.Success(c, fiber.StatusCreated, section)
}

// UpdateContent replaces the markdown body and adds the uploaded files as
// attachments. Files whose name is already attached are skipped.
func (h *SectionsHandler) UpdateContent(c *fiber.Ctx) error {
	courseID, err := parseID(c, "id")
	if err != nil {
		return utils.Error(c, fiber.StatusBadRequest, err.Error())
	}

	form, err := c.MultipartForm()
	if err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "multipart form expected")
	}

	if raw, ok := formValues(form, "courseId"); ok {
		if id, err := strconv.ParseUint(strings.TrimSpace(raw), 10, 32); err != nil || uint(id) != courseID {
			return utils.Error(c, fiber.StatusBadRequest, "courseId does not match the course")
		}
	}
	rawSection, ok := formValues(form, "sectionId")
	if !ok {
		return utils.Error(c, fiber.StatusBadRequest, "sectionId is required")
	}
	sectionID, err := strconv.ParseUint(strings.TrimSpace(rawSection), 10, 32)
	if err != nil || sectionID == 0 {
		return utils.Error(c, fiber.StatusBadRequest, "invalid sectionId")
	}

	section, err := h.findSection(c, courseID, uint(sectionID))
	if section == nil {
		return err
	}

	ctx := c.UserContext()
	if content, ok := formValues(form, "contentMD"); ok {
		if err := saveText(ctx, h.Store, section.FilePath, content); err != nil {
			logger.Error("section_content_write_failed", err, map[string]interface{}{"section_id": section.ID})
			return utils.Error(c, fiber.StatusInternalServerError, "failed storing section content")
		}
	}

	var existing []string
	if err := h.DB.Model(&models.SectionAttachment{}).Where("section_id = ?", section.ID).Pluck("filename", &existing).Error; err != nil {
		return utils.Error(c, fiber.StatusInternalServerError, "failed listing attachments")
	}
	attached := make(map[string]struct{}, len(existing))
	for _, name := range existing {
		attached[name] = struct{}{}
	}

	added := []models.SectionAttachment{}
	skipped := []string{}
	for _, fh := range form.File["files"] {
		name := storage.SanitizeFilename(fh.Filename)
		if _, dup := attached[name]; dup {
			skipped = append(skipped, name)
			continue
		}

		// The row claims the name first. A concurrent upload that loses the
		// unique index never touches the winner's file.
		key := fmt.Sprintf("course_content/section-%d/%s", section.ID, name)
		attachment := models.SectionAttachment{
			CourseID:  courseID,
			SectionID: section.ID,
			Filename:  name,
			FilePath:  key,
		}
		if err := h.DB.Create(&attachment).Error; err != nil {
			if isDuplicateKey(err) {
				attached[name] = struct{}{}
				skipped = append(skipped, name)
				continue
			}
			return utils.Error(c, fiber.StatusInternalServerError, "failed saving attachment")
		}
		attached[name] = struct{}{}

		if err := saveMultipartFile(ctx, h.Store, fh, key, ""); err != nil {
			logger.Error("section_attachment_write_failed", err, map[string]interface{}{"section_id": section.ID, "filename": name})
			if delErr := h.DB.Delete(&attachment).Error; delErr != nil {
				logger.Error("section_attachment_rollback_failed", delErr, map[string]interface{}{"attachment_id": attachment.ID})
			}
			return utils.Error(c, fiber.StatusInternalServerError, "failed storing attachment")
		}
		added = append(added, attachment)
	}

	logger.InfoWithUser(middleware.GetCurrentUser(c).ID.String(), "section_content_updated", map[string]interface{}{
		"section_id": section.ID,
		"added":      len(added),
		"skipped":    len(skipped),
	})
	return utils.Success(c, fiber.StatusOK, fiber.Map{
		"section":     section,
		"attachments": attachmentViews(added),
		"skipped":     skipped,
	})
}

type reorderSectionsRequest struct {
	Sections []map[string]any `json:"sections"`
}

func (h *SectionsHandler) Reorder(c *fiber.Ctx) error {
	course, err := h.loadCourse(c)
	if course == nil {
		return err
	}

	var req reorderSectionsRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid request body")
	}

	updates, err := services.ParseOrderUpdates(req.Sections, "order")
	if err != nil {
		return utils.Error(c, fiber.StatusBadRequest, err.Error())
	}

	if err := h.Ordering.Apply(h.DB, &models.Section{}, "section_order", sectionScope(course.ID), updates); err != nil {
		return reorderError(c, err, "section")
	}

	logger.InfoWithUser(middleware.GetCurrentUser(c).ID.String(), "sections_reordered", map[string]interface{}{
		"course_id": course.ID,
		"count":     len(updates),
	})
	return utils.Success(c, fiber.StatusOK, fiber.Map{"message": "sections reordered"})
}

type updateSectionRequest struct {
	SectionTitle       *string `json:"sectionTitle"`
	SectionDescription *string `json:"sectionDescription"`
}

func (h *SectionsHandler) Update(c *fiber.Ctx) error {
	courseID, err := parseID(c, "id")
	if err != nil {
		return utils.Error(c, fiber.StatusBadRequest, err.Error())
	}
	section, err := h.loadSection(c, courseID)
	if section == nil {
		return err
	}

	var req updateSectionRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid request body")
	}

	updates := map[string]interface{}{}
	if req.SectionTitle != nil {
		value := strings.TrimSpace(*req.SectionTitle)
		if value == "" {
			return utils.Error(c, fiber.StatusBadRequest, "sectionTitle cannot be empty")
		}
		updates["section_title"] = value
	}
	if req.SectionDescription != nil {
		updates["section_description"] = optionalText(req.SectionDescription)
	}
	if len(updates) == 0 {
		return utils.Error(c, fiber.StatusBadRequest, "no valid fields to update")
	}

	if err := h.DB.Model(section).Updates(updates).Error; err != nil {
		return utils.Error(c, fiber.StatusInternalServerError, "failed updating section")
	}
	return utils.Success(c, fiber.StatusOK, section)
}

type visibilityRequest struct {
	Visible *bool `json:"visible"`
}

func (h *SectionsHandler) SetVisibility(c *fiber.Ctx) error {
	courseID, err := parseID(c, "id")
	if err != nil {
		return utils.Error(c, fiber.StatusBadRequest, err.Error())
	}
	section, err := h.loadSection(c, courseID)
	if section == nil {
		return err
	}

	var req visibilityRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid request body")
	}
	if req.Visible == nil {
		return utils.Error(c, fiber.StatusBadRequest, "visible is required")
	}

	if err := h.DB.Model(section).UpdateColumn("visible", *req.Visible).Error; err != nil {
		return utils.Error(c, fiber.StatusInternalServerError, "failed updating visibility")
	}
	section.Visible = *req.Visible
	return utils.Success(c, fiber.StatusOK, section)
}

func (h *SectionsHandler) DeleteAttachment(c *fiber.Ctx) error {
	courseID, err := parseID(c, "id")
	if err != nil {
		return utils.Error(c, fiber.StatusBadRequest, err.Error())
	}
	section, err := h.loadSection(c, courseID)
	if section == nil {
		return err
	}
	fileID, err := parseID(c, "fileId")
	if err != nil {
		return utils.Error(c, fiber.StatusBadRequest, err.Error())
	}

	var attachment models.SectionAttachment
	if err := h.DB.First(&attachment, "id = ? AND section_id = ?", fileID, section.ID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return utils.Error(c, fiber.StatusNotFound, "attachment not found")
		}
		return utils.Error(c, fiber.StatusInternalServerError, "failed fetching attachment")
	}

	if err := h.DB.Delete(&attachment).Error; err != nil {
		return utils.Error(c, fiber.StatusInternalServerError, "failed deleting attachment")
	}
	removeFiles(c.UserContext(), h.Store, "section_attachment_cleanup_failed", attachment.FilePath)

	return utils.Success(c, fiber.StatusOK, fiber.Map{"message": "attachment deleted"})
}

func (h *SectionsHandler) Delete(c *fiber.Ctx) error {
	courseID, err := parseID(c, "id")
	if err != nil {
		return utils.Error(c, fiber.StatusBadRequest, err.Error())
	}
	section, err := h.loadSection(c, courseID)
	if section == nil {
		return err
	}

	keys := []string{section.FilePath}
	err = h.DB.Transaction(func(tx *gorm.DB) error {
		var files []string
		if err := tx.Model(&models.SectionAttachment{}).Where("section_id = ?", section.ID).Pluck("file_path", &files).Error; err != nil {
			return err
		}
		keys = append(keys, files...)

		if err := tx.Where("section_id = ?", section.ID).Delete(&models.SectionAttachment{}).Error; err != nil {
			return err
		}
		return tx.Delete(section).Error
	})
	if err != nil {
		logger.Error("section_delete_failed", err, map[string]interface{}{"section_id": section.ID})
		return utils.Error(c, fiber.StatusInternalServerError, "failed deleting section")
	}

	removeFiles(c.UserContext(), h.Store, "section_files_cleanup_failed", keys...)

	logger.InfoWithUser(middleware.GetCurrentUser(c).ID.String(), "section_deleted", map[string]interface{}{
		"course_id":  courseID,
		"section_id": section.ID,
	})
	return utils.Success(c, fiber.StatusOK, fiber.Map{"message": "section deleted"})
}

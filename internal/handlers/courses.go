package handlers

import (
	"errors"
	"strings"

	"github.com/codeak/portal/internal/middleware"
	"github.com/codeak/portal/internal/models"
	"github.com/codeak/portal/internal/services"
	"github.com/codeak/portal/internal/storage"
	"github.com/codeak/portal/pkg/logger"
	"github.com/codeak/portal/pkg/utils"
	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"
)

type CoursesHandler struct {
	DB       *gorm.DB
	Store    storage.FileStore
	Auth     *middleware.AuthMiddleware
	Ordering *services.OrderingService
}

func NewCoursesHandler(db *gorm.DB, store storage.FileStore, auth *middleware.AuthMiddleware, ordering *services.OrderingService) *CoursesHandler {
	return &CoursesHandler{DB: db, Store: store, Auth: auth, Ordering: ordering}
}

type createCourseRequest struct {
	Title       string  `json:"title" validate:"required,max=255"`
	Description *string `json:"description"`
	ImageURL    *string `json:"imageURL"`
	Visible     *bool   `json:"visible"`
}

func (h *CoursesHandler) Create(c *fiber.Ctx) error {
	var req createCourseRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid request body")
	}
	req.Title = strings.TrimSpace(req.Title)
	if err := utils.ValidateStruct(req); err != nil {
		return utils.Error(c, fiber.StatusBadRequest, err.Error())
	}

	course := models.Course{
		Title:       req.Title,
		Description: optionalText(req.Description),
		ImageURL:    optionalText(req.ImageURL),
		Visible:     req.Visible == nil || *req.Visible,
	}

	err := h.DB.Transaction(func(tx *gorm.DB) error {
		next, err := nextOrder(tx, &models.Course{}, "course_order", nil)
		if err != nil {
			return err
		}
		course.CourseOrder = next
		return tx.Create(&course).Error
	})
	if err != nil {
		logger.Error("course_create_failed", err, nil)
		return utils.Error(c, fiber.StatusInternalServerError, "failed creating course")
	}

	logger.InfoWithUser(middleware.GetCurrentUser(c).ID.String(), "course_created", map[string]interface{}{
		"course_id": course.ID,
		"title":     course.Title,
	})
	return utils.Success(c, fiber.StatusCreated, course)
}

// nextOrder returns max(column)+1 within scope, or 1 when the scope is empty.
func nextOrder(tx *gorm.DB, model interface{}, column string, scope func(*gorm.DB) *gorm.DB) (int, error) {
	var current int
	q := tx.Model(model)
	if scope != nil {
		q = q.Scopes(scope)
	}
	if err := q.Select("COALESCE(MAX(" + column + "), 0)").Scan(&current).Error; err != nil {
		return 0, err
	}
	return current + 1, nil
}

// List returns every course including hidden ones. Staff only.
func (h *CoursesHandler) List(c *fiber.Ctx) error {
	var courses []models.Course
	if err := h.DB.Order("course_order ASC").Order("id ASC").Find(&courses).Error; err != nil {
		return utils.Error(c, fiber.StatusInternalServerError, "failed listing courses")
	}
	return utils.Success(c, fiber.StatusOK, courses)
}

// View lists the visible courses the caller may open. Staff see all of them,
// everyone else sees the courses linked to the team named by their codeGroup.
func (h *CoursesHandler) View(c *fiber.Ctx) error {
	user := middleware.GetCurrentUser(c)

	staff, err := h.Auth.HasRole(c, models.StaffRoles...)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return utils.Error(c, fiber.StatusNotFound, "user not found")
		}
		return utils.Error(c, fiber.StatusInternalServerError, "failed to check role")
	}

	var courses []models.Course
	if staff {
		if err := h.DB.Where("visible = ?", true).Order("course_order ASC").Order("id ASC").Find(&courses).Error; err != nil {
			return utils.Error(c, fiber.StatusInternalServerError, "failed listing courses")
		}
		return utils.Success(c, fiber.StatusOK, courses)
	}

	var team models.RankingEntry
	if err := h.DB.Select("id").First(&team, "team_name = ?", user.CodeGroup).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return utils.Error(c, fiber.StatusNotFound, "no team found for your group")
		}
		return utils.Error(c, fiber.StatusInternalServerError, "failed fetching team")
	}

	if err := h.DB.
		Joins("JOIN course_teams ON course_teams.course_id = courses.id").
		Where("course_teams.team_id = ? AND courses.visible = ?", team.ID, true).
		Order("courses.course_order ASC").
		Order("courses.id ASC").
		Find(&courses).Error; err != nil {
		return utils.Error(c, fiber.StatusInternalServerError, "failed listing courses")
	}
	return utils.Success(c, fiber.StatusOK, courses)
}

func (h *CoursesHandler) Get(c *fiber.Ctx) error {
	id, err := parseID(c, "id")
	if err != nil {
		return utils.Error(c, fiber.StatusBadRequest, err.Error())
	}

	staff, err := h.Auth.HasRole(c, models.StaffRoles...)
	if err != nil {
		return utils.Error(c, fiber.StatusInternalServerError, "failed to check role")
	}

	query := h.DB.Preload("Sections", func(db *gorm.DB) *gorm.DB {
		if !staff {
			db = db.Where("visible = ?", true)
		}
		return db.Order("section_order ASC").Order("id ASC")
	})
	if !staff {
		query = query.Where("visible = ?", true)
	}

	var course models.Course
	if err := query.First(&course, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return utils.Error(c, fiber.StatusNotFound, "course not found")
		}
		return utils.Error(c, fiber.StatusInternalServerError, "failed fetching course")
	}
	return utils.Success(c, fiber.StatusOK, course)
}

type updateCourseRequest struct {
	Title       *string `json:"title"`
	Description *string `json:"description"`
	ImageURL    *string `json:"imageURL"`
}

func (h *CoursesHandler) Update(c *fiber.Ctx) error {
	id, err := parseID(c, "id")
	if err != nil {
		return utils.Error(c, fiber.StatusBadRequest, err.Error())
	}

	var req updateCourseRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid request body")
	}

	updates := map[string]interface{}{}
	if req.Title != nil {
		value := strings.TrimSpace(*req.Title)
		if value == "" {
			return utils.Error(c, fiber.StatusBadRequest, "title cannot be empty")
		}
		updates["title"] = value
	}
	if req.Description != nil {
		updates["description"] = optionalText(req.Description)
	}
	if req.ImageURL != nil {
		updates["image_url"] = optionalText(req.ImageURL)
	}
	if len(updates) == 0 {
		return utils.Error(c, fiber.StatusBadRequest, "no valid fields to update")
	}

	result := h.DB.Model(&models.Course{}).Where("id = ?", id).Updates(updates)
	if result.Error != nil {
		return utils.Error(c, fiber.StatusInternalServerError, "failed updating course")
	}
	if result.RowsAffected == 0 {
		return utils.Error(c, fiber.StatusNotFound, "course not found")
	}

	var course models.Course
	if err := h.DB.First(&course, id).Error; err != nil {
		return utils.Error(c, fiber.StatusInternalServerError, "failed fetching updated course")
	}
	return utils.Success(c, fiber.StatusOK, course)
}

// Delete removes the course with its sections, attachments and team links.
// Stored files go after the rows are committed.
func (h *CoursesHandler) Delete(c *fiber.Ctx) error {
	id, err := parseID(c, "id")
	if err != nil {
		return utils.Error(c, fiber.StatusBadRequest, err.Error())
	}

	var keys []string
	err = h.DB.Transaction(func(tx *gorm.DB) error {
		var course models.Course
		if err := tx.First(&course, id).Error; err != nil {
			return err
		}

		var sectionFiles []string
		if err := tx.Model(&models.Section{}).Where("course_id = ?", id).Pluck("file_path", &sectionFiles).Error; err != nil {
			return err
		}
		var attachmentFiles []string
		if err := tx.Model(&models.SectionAttachment{}).Where("course_id = ?", id).Pluck("file_path", &attachmentFiles).Error; err != nil {
			return err
		}
		keys = append(sectionFiles, attachmentFiles...)

		if err := tx.Where("course_id = ?", id).Delete(&models.SectionAttachment{}).Error; err != nil {
			return err
		}
		if err := tx.Where("course_id = ?", id).Delete(&models.Section{}).Error; err != nil {
			return err
		}
		if err := tx.Where("course_id = ?", id).Delete(&models.CourseTeam{}).Error; err != nil {
			return err
		}
		return tx.Delete(&course).Error
	})
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return utils.Error(c, fiber.StatusNotFound, "course not found")
		}
		logger.Error("course_delete_failed", err, map[string]interface{}{"course_id": id})
		return utils.Error(c, fiber.StatusInternalServerError, "failed deleting course")
	}

	removeFiles(c.UserContext(), h.Store, "course_files_cleanup_failed", keys...)

	logger.InfoWithUser(middleware.GetCurrentUser(c).ID.String(), "course_deleted", map[string]interface{}{
		"course_id": id,
		"files":     len(keys),
	})
	return utils.Success(c, fiber.StatusOK, fiber.Map{"message": "course deleted"})
}

// ToggleVisibility flips the visible flag.
func (h *CoursesHandler) ToggleVisibility(c *fiber.Ctx) error {
	id, err := parseID(c, "id")
	if err != nil {
		return utils.Error(c, fiber.StatusBadRequest, err.Error())
	}

	result := h.DB.Model(&models.Course{}).Where("id = ?", id).UpdateColumn("visible", gorm.Expr("NOT visible"))
	if result.Error != nil {
		return utils.Error(c, fiber.StatusInternalServerError, "failed updating visibility")
	}
	if result.RowsAffected == 0 {
		return utils.Error(c, fiber.StatusNotFound, "course not found")
	}

	var course models.Course
	if err := h.DB.First(&course, id).Error; err != nil {
		return utils.Error(c, fiber.StatusInternalServerError, "failed fetching course")
	}
	return utils.Success(c, fiber.StatusOK, course)
}

type reorderCoursesRequest struct {
	Courses []map[string]any `json:"courses"`
}

func (h *CoursesHandler) Reorder(c *fiber.Ctx) error {
	var req reorderCoursesRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid request body")
	}

	updates, err := services.ParseOrderUpdates(req.Courses, "courseOrder")
	if err != nil {
		return utils.Error(c, fiber.StatusBadRequest, err.Error())
	}

	if err := h.Ordering.Apply(h.DB, &models.Course{}, "course_order", nil, updates); err != nil {
		return reorderError(c, err, "course")
	}

	logger.InfoWithUser(middleware.GetCurrentUser(c).ID.String(), "courses_reordered", map[string]interface{}{
		"count": len(updates),
	})
	return utils.Success(c, fiber.StatusOK, fiber.Map{"message": "courses reordered"})
}

func reorderError(c *fiber.Ctx, err error, kind string) error {
	if errors.Is(err, services.ErrUnknownID) {
		return utils.Error(c, fiber.StatusNotFound, kind+" not found")
	}
	logger.Error(kind+"_reorder_failed", err, nil)
	return utils.Error(c, fiber.StatusInternalServerError, "failed reordering")
}

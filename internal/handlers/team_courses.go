package handlers

import (
	"errors"

	"github.com/codeak/portal/internal/middleware"
	"github.com/codeak/portal/internal/models"
	"github.com/codeak/portal/pkg/logger"
	"github.com/codeak/portal/pkg/utils"
	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"
)

var errUnknownTeam = errors.New("unknown team id")

// TeamCoursesHandler manages which teams can open which courses.
type TeamCoursesHandler struct {
	DB *gorm.DB
}

func NewTeamCoursesHandler(db *gorm.DB) *TeamCoursesHandler {
	return &TeamCoursesHandler{DB: db}
}

type teamSummary struct {
	ID       uint   `json:"id"`
	TeamName string `json:"teamName"`
}

func (h *TeamCoursesHandler) AllTeams(c *fiber.Ctx) error {
	var teams []teamSummary
	if err := h.DB.Model(&models.RankingEntry{}).
		Select("id", "team_name").
		Order("team_name ASC").
		Scan(&teams).Error; err != nil {
		return utils.Error(c, fiber.StatusInternalServerError, "failed listing teams")
	}
	if teams == nil {
		teams = []teamSummary{}
	}
	return utils.Success(c, fiber.StatusOK, teams)
}

func (h *TeamCoursesHandler) CourseTeams(c *fiber.Ctx) error {
	courseID, err := parseID(c, "courseId")
	if err != nil {
		return utils.Error(c, fiber.StatusBadRequest, err.Error())
	}
	if err := h.ensureCourse(courseID); err != nil {
		return courseLookupError(c, err)
	}

	var teams []teamSummary
	if err := h.DB.Model(&models.RankingEntry{}).
		Select("teams.id", "teams.team_name").
		Joins("JOIN course_teams ON course_teams.team_id = teams.id").
		Where("course_teams.course_id = ?", courseID).
		Order("teams.team_name ASC").
		Scan(&teams).Error; err != nil {
		return utils.Error(c, fiber.StatusInternalServerError, "failed listing course teams")
	}
	if teams == nil {
		teams = []teamSummary{}
	}
	return utils.Success(c, fiber.StatusOK, teams)
}

type setCourseTeamsRequest struct {
	TeamIDs []uint `json:"teamIds"`
}

// SetCourseTeams replaces the course's team list in one transaction.
func (h *TeamCoursesHandler) SetCourseTeams(c *fiber.Ctx) error {
	courseID, err := parseID(c, "courseId")
	if err != nil {
		return utils.Error(c, fiber.StatusBadRequest, err.Error())
	}

	var req setCourseTeamsRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid request body")
	}
	if req.TeamIDs == nil {
		return utils.Error(c, fiber.StatusBadRequest, "teamIds is required")
	}

	unique := make([]uint, 0, len(req.TeamIDs))
	seen := make(map[uint]struct{}, len(req.TeamIDs))
	for _, id := range req.TeamIDs {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		unique = append(unique, id)
	}

	err = h.DB.Transaction(func(tx *gorm.DB) error {
		if err := tx.Select("id").First(&models.Course{}, courseID).Error; err != nil {
			return err
		}

		if len(unique) > 0 {
			var found int64
			if err := tx.Model(&models.RankingEntry{}).Where("id IN ?", unique).Count(&found).Error; err != nil {
				return err
			}
			if found != int64(len(unique)) {
				return errUnknownTeam
			}
		}

		if err := tx.Where("course_id = ?", courseID).Delete(&models.CourseTeam{}).Error; err != nil {
			return err
		}
		if len(unique) == 0 {
			return nil
		}
		links := make([]models.CourseTeam, 0, len(unique))
		for _, teamID := range unique {
			links = append(links, models.CourseTeam{CourseID: courseID, TeamID: teamID})
		}
		return tx.Create(&links).Error
	})
	switch {
	case errors.Is(err, errUnknownTeam):
		return utils.Error(c, fiber.StatusNotFound, "team not found")
	case err != nil:
		return courseLookupError(c, err)
	}

	logger.InfoWithUser(middleware.GetCurrentUser(c).ID.String(), "course_teams_updated", map[string]interface{}{
		"course_id": courseID,
		"teams":     len(unique),
	})
	return utils.Success(c, fiber.StatusOK, fiber.Map{"courseId": courseID, "teamIds": unique})
}

func (h *TeamCoursesHandler) ensureCourse(courseID uint) error {
	return h.DB.Select("id").First(&models.Course{}, courseID).Error
}

func courseLookupError(c *fiber.Ctx, err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return utils.Error(c, fiber.StatusNotFound, "course not found")
	}
	logger.Error("course_teams_failed", err, nil)
	return utils.Error(c, fiber.StatusInternalServerError, "failed updating course teams")
}

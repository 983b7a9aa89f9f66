package handlers

import (
	"errors"
	"strings"

	"github.com/codeak/portal/internal/middleware"
	"github.com/codeak/portal/internal/models"
	"github.com/codeak/portal/internal/services"
	"github.com/codeak/portal/pkg/logger"
	"github.com/codeak/portal/pkg/utils"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

var (
	errEntryNotFound = errors.New("ranking entry not found")
	errEntryExists   = errors.New("ranking entry already exists")
)

// TeamsHandler manages both leaderboard partitions. Each write and the rank
// recompute of its partition commit together or not at all.
type TeamsHandler struct {
	DB      *gorm.DB
	Ranking *services.RankingService
}

func NewTeamsHandler(db *gorm.DB, ranking *services.RankingService) *TeamsHandler {
	return &TeamsHandler{DB: db, Ranking: ranking}
}

func (h *TeamsHandler) ListTeams(c *fiber.Ctx) error {
	return h.list(c, false)
}

func (h *TeamsHandler) ListIndividuals(c *fiber.Ctx) error {
	return h.list(c, true)
}

func (h *TeamsHandler) list(c *fiber.Ctx, isIndividual bool) error {
	var entries []models.RankingEntry
	if err := h.DB.Where("is_individual = ?", isIndividual).
		Order("rank ASC").
		Order("id ASC").
		Find(&entries).Error; err != nil {
		return utils.Error(c, fiber.StatusInternalServerError, "failed listing ranking")
	}
	return utils.Success(c, fiber.StatusOK, entries)
}

type createEntryRequest struct {
	TeamName string `json:"teamName" validate:"required,max=150"`
	Points   int    `json:"points"`
	Wins     int    `json:"wins" validate:"min=0"`
	Losses   int    `json:"losses" validate:"min=0"`
}

func (h *TeamsHandler) CreateTeam(c *fiber.Ctx) error {
	var req createEntryRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid request body")
	}
	req.TeamName = strings.TrimSpace(req.TeamName)
	if err := utils.ValidateStruct(req); err != nil {
		return utils.Error(c, fiber.StatusBadRequest, err.Error())
	}

	entry := models.RankingEntry{
		TeamName: req.TeamName,
		Points:   req.Points,
		Wins:     req.Wins,
		Losses:   req.Losses,
	}
	err := h.DB.Transaction(func(tx *gorm.DB) error {
		if err := h.ensureUniqueName(tx, entry.TeamName, false); err != nil {
			return err
		}
		if err := tx.Create(&entry).Error; err != nil {
			return err
		}
		return h.Ranking.Recompute(tx, false)
	})
	if err != nil {
		return h.writeError(c, err, "team_create_failed")
	}

	return h.respondEntry(c, fiber.StatusCreated, entry.ID, "team_created")
}

type createFromGroupRequest struct {
	Group    string `json:"group" validate:"required,max=100"`
	TeamName string `json:"teamName" validate:"max=150"`
	Points   int    `json:"points"`
}

// CreateFromGroup creates a team named after an academic group (or the given
// name) and records the group's current members. A group with no users still
// yields a team with an empty snapshot.
func (h *TeamsHandler) CreateFromGroup(c *fiber.Ctx) error {
	var req createFromGroupRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid request body")
	}
	req.Group = strings.TrimSpace(req.Group)
	req.TeamName = strings.TrimSpace(req.TeamName)
	if err := utils.ValidateStruct(req); err != nil {
		return utils.Error(c, fiber.StatusBadRequest, err.Error())
	}
	if req.TeamName == "" {
		req.TeamName = req.Group
	}

	entry := models.RankingEntry{TeamName: req.TeamName, Points: req.Points}
	var members int
	err := h.DB.Transaction(func(tx *gorm.DB) error {
		if err := h.ensureUniqueName(tx, entry.TeamName, false); err != nil {
			return err
		}

		var userIDs []uuid.UUID
		if err := tx.Model(&models.User{}).Where("user_group = ?", req.Group).Pluck("id", &userIDs).Error; err != nil {
			return err
		}
		if err := tx.Create(&entry).Error; err != nil {
			return err
		}

		if len(userIDs) > 0 {
			snapshot := make([]models.TeamMember, 0, len(userIDs))
			for _, userID := range userIDs {
				snapshot = append(snapshot, models.TeamMember{TeamID: entry.ID, UserID: userID})
			}
			if err := tx.Create(&snapshot).Error; err != nil {
				return err
			}
			members = len(snapshot)
		}

		return h.Ranking.Recompute(tx, false)
	})
	if err != nil {
		return h.writeError(c, err, "team_from_group_failed")
	}

	logger.Info("team_members_snapshot", map[string]interface{}{
		"team_id": entry.ID,
		"group":   req.Group,
		"members": members,
	})
	return h.respondEntry(c, fiber.StatusCreated, entry.ID, "team_created")
}

// CreateIndividual adds a user to the individual standings. The entry is
// named by login and the user's codeGroup follows it.
func (h *TeamsHandler) CreateIndividual(c *fiber.Ctx) error {
	var req createEntryRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid request body")
	}
	req.TeamName = strings.TrimSpace(req.TeamName)
	if err := utils.ValidateStruct(req); err != nil {
		return utils.Error(c, fiber.StatusBadRequest, err.Error())
	}

	entry := models.RankingEntry{
		TeamName:     req.TeamName,
		Points:       req.Points,
		Wins:         req.Wins,
		Losses:       req.Losses,
		IsIndividual: true,
	}
	err := h.DB.Transaction(func(tx *gorm.DB) error {
		if err := h.ensureUniqueName(tx, entry.TeamName, true); err != nil {
			return err
		}
		if err := tx.Create(&entry).Error; err != nil {
			return err
		}
		if err := tx.Model(&models.User{}).
			Where("login = ?", entry.TeamName).
			Update("code_group", entry.TeamName).Error; err != nil {
			return err
		}
		return h.Ranking.Recompute(tx, true)
	})
	if err != nil {
		return h.writeError(c, err, "individual_create_failed")
	}

	return h.respondEntry(c, fiber.StatusCreated, entry.ID, "individual_created")
}

type updateEntryRequest struct {
	TeamName *string `json:"teamName"`
	Points   *int    `json:"points"`
	Wins     *int    `json:"wins"`
	Losses   *int    `json:"losses"`
}

func (h *TeamsHandler) UpdateTeam(c *fiber.Ctx) error {
	return h.update(c, false)
}

func (h *TeamsHandler) UpdateIndividual(c *fiber.Ctx) error {
	return h.update(c, true)
}

func (h *TeamsHandler) update(c *fiber.Ctx, isIndividual bool) error {
	id, err := parseID(c, "id")
	if err != nil {
		return utils.Error(c, fiber.StatusBadRequest, err.Error())
	}

	var req updateEntryRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid request body")
	}

	updates := map[string]interface{}{}
	if req.TeamName != nil {
		value := strings.TrimSpace(*req.TeamName)
		if value == "" {
			return utils.Error(c, fiber.StatusBadRequest, "teamName cannot be empty")
		}
		updates["team_name"] = value
	}
	if req.Points != nil {
		updates["points"] = *req.Points
	}
	if req.Wins != nil {
		if *req.Wins < 0 {
			return utils.Error(c, fiber.StatusBadRequest, "wins cannot be negative")
		}
		updates["wins"] = *req.Wins
	}
	if req.Losses != nil {
		if *req.Losses < 0 {
			return utils.Error(c, fiber.StatusBadRequest, "losses cannot be negative")
		}
		updates["losses"] = *req.Losses
	}
	if len(updates) == 0 {
		return utils.Error(c, fiber.StatusBadRequest, "no valid fields to update")
	}

	err = h.DB.Transaction(func(tx *gorm.DB) error {
		if name, ok := updates["team_name"].(string); ok {
			var count int64
			if err := tx.Model(&models.RankingEntry{}).
				Where("team_name = ? AND is_individual = ? AND id <> ?", name, isIndividual, id).
				Count(&count).Error; err != nil {
				return err
			}
			if count > 0 {
				return errEntryExists
			}
		}

		result := tx.Model(&models.RankingEntry{}).
			Where("id = ? AND is_individual = ?", id, isIndividual).
			Updates(updates)
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return errEntryNotFound
		}
		return h.Ranking.Recompute(tx, isIndividual)
	})
	if err != nil {
		return h.writeError(c, err, "ranking_update_failed")
	}

	return h.respondEntry(c, fiber.StatusOK, id, "ranking_entry_updated")
}

func (h *TeamsHandler) DeleteTeam(c *fiber.Ctx) error {
	return h.delete(c, false)
}

func (h *TeamsHandler) DeleteIndividual(c *fiber.Ctx) error {
	return h.delete(c, true)
}

func (h *TeamsHandler) delete(c *fiber.Ctx, isIndividual bool) error {
	id, err := parseID(c, "id")
	if err != nil {
		return utils.Error(c, fiber.StatusBadRequest, err.Error())
	}

	err = h.DB.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("team_id = ?", id).Delete(&models.TeamMember{}).Error; err != nil {
			return err
		}
		if err := tx.Where("team_id = ?", id).Delete(&models.CourseTeam{}).Error; err != nil {
			return err
		}
		result := tx.Where("id = ? AND is_individual = ?", id, isIndividual).Delete(&models.RankingEntry{})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return errEntryNotFound
		}
		return h.Ranking.Recompute(tx, isIndividual)
	})
	if err != nil {
		return h.writeError(c, err, "ranking_delete_failed")
	}

	h.logWrite(c, "ranking_entry_deleted", id, isIndividual)
	return utils.Success(c, fiber.StatusOK, fiber.Map{"message": "entry deleted"})
}

func (h *TeamsHandler) ensureUniqueName(tx *gorm.DB, name string, isIndividual bool) error {
	var count int64
	if err := tx.Model(&models.RankingEntry{}).
		Where("team_name = ? AND is_individual = ?", name, isIndividual).
		Count(&count).Error; err != nil {
		return err
	}
	if count > 0 {
		return errEntryExists
	}
	return nil
}

// respondEntry reloads the entry so the response carries the recomputed rank.
func (h *TeamsHandler) respondEntry(c *fiber.Ctx, status int, id uint, action string) error {
	var entry models.RankingEntry
	if err := h.DB.First(&entry, id).Error; err != nil {
		return utils.Error(c, fiber.StatusInternalServerError, "failed fetching ranking entry")
	}
	h.logWrite(c, action, entry.ID, entry.IsIndividual)
	return utils.Success(c, status, entry)
}

func (h *TeamsHandler) logWrite(c *fiber.Ctx, action string, id uint, isIndividual bool) {
	details := map[string]interface{}{
		"entry_id":  id,
		"partition": services.PartitionLabel(isIndividual),
	}
	if user := middleware.GetCurrentUser(c); user != nil {
		logger.InfoWithUser(user.ID.String(), action, details)
		return
	}
	logger.Info(action, details)
}

func (h *TeamsHandler) writeError(c *fiber.Ctx, err error, action string) error {
	switch {
	case errors.Is(err, errEntryNotFound):
		return utils.Error(c, fiber.StatusNotFound, "ranking entry not found")
	case errors.Is(err, errEntryExists):
		return utils.Error(c, fiber.StatusConflict, "an entry with this name already exists")
	default:
		logger.Error(action, err, nil)
		return utils.Error(c, fiber.StatusInternalServerError, "failed updating ranking")
	}
}

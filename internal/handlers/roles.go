package handlers

import (
	"errors"

	"github.com/codeak/portal/internal/middleware"
	"github.com/codeak/portal/internal/models"
	"github.com/codeak/portal/pkg/utils"
	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"
)

// RolesHandler answers the SPA's role probes from the stored role.
type RolesHandler struct {
	Auth *middleware.AuthMiddleware
}

func NewRolesHandler(auth *middleware.AuthMiddleware) *RolesHandler {
	return &RolesHandler{Auth: auth}
}

func (h *RolesHandler) CheckAdmin(c *fiber.Ctx) error {
	return h.probe(c, "admin", models.UserRoleAdmin)
}

func (h *RolesHandler) CheckMentor(c *fiber.Ctx) error {
	return h.probe(c, "mentor", models.UserRoleMentor)
}

func (h *RolesHandler) probe(c *fiber.Ctx, key string, role models.UserRole) error {
	ok, err := h.Auth.HasRole(c, role)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return utils.Error(c, fiber.StatusNotFound, "user not found")
		}
		return utils.Error(c, fiber.StatusInternalServerError, "failed to check role")
	}
	return utils.Success(c, fiber.StatusOK, fiber.Map{key: ok})
}

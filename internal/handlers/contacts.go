package handlers

import (
	"strings"

	"github.com/codeak/portal/internal/models"
	"github.com/codeak/portal/pkg/utils"
	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"
)

type ContactsHandler struct {
	DB *gorm.DB
}

func NewContactsHandler(db *gorm.DB) *ContactsHandler {
	return &ContactsHandler{DB: db}
}

func (h *ContactsHandler) List(c *fiber.Ctx) error {
	var contacts []models.Contact
	if err := h.DB.Order("id ASC").Find(&contacts).Error; err != nil {
		return utils.Error(c, fiber.StatusInternalServerError, "failed listing contacts")
	}
	return utils.Success(c, fiber.StatusOK, contacts)
}

type contactRequest struct {
	Name     *string `json:"name"`
	Email    *string `json:"email"`
	Role     *string `json:"role"`
	Telegram *string `json:"telegram"`
	Github   *string `json:"github"`
	Avatar   *string `json:"avatar"`
}

func (h *ContactsHandler) Create(c *fiber.Ctx) error {
	var req contactRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid request body")
	}
	if req.Name == nil || strings.TrimSpace(*req.Name) == "" {
		return utils.Error(c, fiber.StatusBadRequest, "name is required")
	}
	if req.Email != nil && strings.TrimSpace(*req.Email) != "" {
		if err := utils.ValidateVar(strings.TrimSpace(*req.Email), "email"); err != nil {
			return utils.Error(c, fiber.StatusBadRequest, "invalid email")
		}
	}

	contact := models.Contact{
		Name:     strings.TrimSpace(*req.Name),
		Email:    optionalText(req.Email),
		Role:     optionalText(req.Role),
		Telegram: optionalText(req.Telegram),
		Github:   optionalText(req.Github),
		Avatar:   optionalText(req.Avatar),
	}
	if err := h.DB.Create(&contact).Error; err != nil {
		return utils.Error(c, fiber.StatusInternalServerError, "failed creating contact")
	}
	return utils.Success(c, fiber.StatusCreated, contact)
}

func (h *ContactsHandler) Update(c *fiber.Ctx) error {
	id, err := parseID(c, "id")
	if err != nil {
		return utils.Error(c, fiber.StatusBadRequest, err.Error())
	}

	var req contactRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid request body")
	}

	updates := map[string]interface{}{}
	if req.Name != nil {
		value := strings.TrimSpace(*req.Name)
		if value == "" {
			return utils.Error(c, fiber.StatusBadRequest, "name cannot be empty")
		}
		updates["name"] = value
	}
	if req.Email != nil {
		email := optionalText(req.Email)
		if email != nil {
			if err := utils.ValidateVar(*email, "email"); err != nil {
				return utils.Error(c, fiber.StatusBadRequest, "invalid email")
			}
		}
		updates["email"] = email
	}
	for column, value := range map[string]*string{
		"role":     req.Role,
		"telegram": req.Telegram,
		"github":   req.Github,
		"avatar":   req.Avatar,
	} {
		if value != nil {
			updates[column] = optionalText(value)
		}
	}
	if len(updates) == 0 {
		return utils.Error(c, fiber.StatusBadRequest, "no valid fields to update")
	}

	result := h.DB.Model(&models.Contact{}).Where("id = ?", id).Updates(updates)
	if result.Error != nil {
		return utils.Error(c, fiber.StatusInternalServerError, "failed updating contact")
	}
	if result.RowsAffected == 0 {
		return utils.Error(c, fiber.StatusNotFound, "contact not found")
	}

	var contact models.Contact
	if err := h.DB.First(&contact, id).Error; err != nil {
		return utils.Error(c, fiber.StatusInternalServerError, "failed fetching updated contact")
	}
	return utils.Success(c, fiber.StatusOK, contact)
}

func (h *ContactsHandler) Delete(c *fiber.Ctx) error {
	id, err := parseID(c, "id")
	if err != nil {
		return utils.Error(c, fiber.StatusBadRequest, err.Error())
	}

	result := h.DB.Delete(&models.Contact{}, id)
	if result.Error != nil {
		return utils.Error(c, fiber.StatusInternalServerError, "failed deleting contact")
	}
	if result.RowsAffected == 0 {
		return utils.Error(c, fiber.StatusNotFound, "contact not found")
	}
	return utils.Success(c, fiber.StatusOK, fiber.Map{"message": "contact deleted"})
}

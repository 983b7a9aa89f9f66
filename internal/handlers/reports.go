package handlers

import (
	"strings"
	"unicode/utf8"

	"github.com/codeak/portal/internal/middleware"
	"github.com/codeak/portal/internal/models"
	"github.com/codeak/portal/internal/services"
	"github.com/codeak/portal/pkg/logger"
	"github.com/codeak/portal/pkg/utils"
	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"
)

const maxReportLength = 4000

type ReportsHandler struct {
	DB    *gorm.DB
	Relay *services.SupportRelay
}

func NewReportsHandler(db *gorm.DB, relay *services.SupportRelay) *ReportsHandler {
	return &ReportsHandler{DB: db, Relay: relay}
}

type sendReportRequest struct {
	Message string `json:"message"`
}

// Send stores the report and then forwards it to the admin chat. A relay
// failure leaves the report pending and is reported as relayed=false.
func (h *ReportsHandler) Send(c *fiber.Ctx) error {
	user := middleware.GetCurrentUser(c)
	if user == nil {
		return utils.Error(c, fiber.StatusUnauthorized, "unauthorized")
	}

	var req sendReportRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid request body")
	}
	message := strings.TrimSpace(req.Message)
	if message == "" {
		return utils.Error(c, fiber.StatusBadRequest, "message is required")
	}
	if utf8.RuneCountInString(message) > maxReportLength {
		return utils.Error(c, fiber.StatusBadRequest, "message is too long")
	}

	report := models.Report{
		UserID:  user.ID,
		Message: message,
		Status:  models.ReportStatusPending,
	}
	if err := h.DB.Create(&report).Error; err != nil {
		logger.ErrorWithUser(user.ID.String(), "report_create_failed", err, nil)
		return utils.Error(c, fiber.StatusInternalServerError, "failed saving report")
	}

	relayed := false
	if h.Relay != nil {
		if err := h.Relay.Forward(&report, user); err != nil {
			logger.ErrorWithUser(user.ID.String(), "report_relay_failed", err, map[string]interface{}{
				"report_id": report.ID.String(),
			})
		} else {
			relayed = h.Relay.Enabled()
		}
	}

	logger.InfoWithUser(user.ID.String(), "report_submitted", map[string]interface{}{
		"report_id": report.ID.String(),
		"relayed":   relayed,
	})
	return utils.Success(c, fiber.StatusCreated, fiber.Map{
		"report":  report,
		"relayed": relayed,
	})
}

func (h *ReportsHandler) ListOwn(c *fiber.Ctx) error {
	user := middleware.GetCurrentUser(c)
	if user == nil {
		return utils.Error(c, fiber.StatusUnauthorized, "unauthorized")
	}

	var reports []models.Report
	if err := h.DB.Where("user_id = ?", user.ID).Order("created_at DESC").Find(&reports).Error; err != nil {
		return utils.Error(c, fiber.StatusInternalServerError, "failed listing reports")
	}
	return utils.Success(c, fiber.StatusOK, reports)
}

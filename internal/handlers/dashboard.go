package handlers

import (
	"time"

	"github.com/codeak/portal/internal/models"
	"github.com/codeak/portal/pkg/utils"
	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"
)

const (
	activeWindow = 10 * time.Minute
	chartDays    = 7
)

type DashboardHandler struct {
	DB  *gorm.DB
	Now func() time.Time
}

func NewDashboardHandler(db *gorm.DB) *DashboardHandler {
	return &DashboardHandler{DB: db, Now: time.Now}
}

type chartPoint struct {
	Date  string `json:"date"`
	Count int    `json:"count"`
}

// Get reports user counts. Registrations are bucketed by UTC day in Go so
// the query stays portable across database engines.
func (h *DashboardHandler) Get(c *fiber.Ctx) error {
	now := h.Now().UTC()

	var total, active, recent int64
	if err := h.DB.Model(&models.User{}).Count(&total).Error; err != nil {
		return utils.Error(c, fiber.StatusInternalServerError, "failed counting users")
	}
	if err := h.DB.Model(&models.User{}).Where("last_active >= ?", now.Add(-activeWindow)).Count(&active).Error; err != nil {
		return utils.Error(c, fiber.StatusInternalServerError, "failed counting active users")
	}
	if err := h.DB.Model(&models.User{}).Where("created_at >= ?", now.Add(-24*time.Hour)).Count(&recent).Error; err != nil {
		return utils.Error(c, fiber.StatusInternalServerError, "failed counting registrations")
	}

	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	start := today.AddDate(0, 0, -(chartDays - 1))

	var createdAt []time.Time
	if err := h.DB.Model(&models.User{}).Where("created_at >= ?", start).Pluck("created_at", &createdAt).Error; err != nil {
		return utils.Error(c, fiber.StatusInternalServerError, "failed loading registrations")
	}

	chart := make([]chartPoint, chartDays)
	index := make(map[string]int, chartDays)
	for i := range chart {
		day := start.AddDate(0, 0, i).Format("2006-01-02")
		chart[i] = chartPoint{Date: day}
		index[day] = i
	}
	for _, ts := range createdAt {
		if i, ok := index[ts.UTC().Format("2006-01-02")]; ok {
			chart[i].Count++
		}
	}

	return utils.Success(c, fiber.StatusOK, fiber.Map{
		"summary": fiber.Map{
			"totalUsers":       total,
			"activeUsers":      active,
			"newRegistrations": recent,
		},
		"chartData": chart,
	})
}

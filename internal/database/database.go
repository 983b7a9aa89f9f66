package database

import (
	"errors"
	"fmt"
	"strings"

	"github.com/codeak/portal/internal/config"
	"github.com/codeak/portal/internal/models"
	"github.com/codeak/portal/pkg/logger"
	"github.com/codeak/portal/pkg/utils"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

func Connect(cfg config.DBConfig) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(cfg.DSN()), &gorm.Config{TranslateError: true})
	if err != nil {
		return nil, err
	}
	return db, nil
}

func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(models.All()...)
}

type AdminSeed struct {
	Login    string
	Email    string
	Password string
}

var ErrAdminExists = errors.New("a user with this login or email already exists")

// CreateAdmin inserts an admin account. It refuses to overwrite an existing
// login or email.
func CreateAdmin(db *gorm.DB, seed AdminSeed) (*models.User, error) {
	if seed.Login == "" || seed.Email == "" {
		return nil, fmt.Errorf("login and email are required")
	}
	if err := utils.ValidatePassword(seed.Password); err != nil {
		return nil, err
	}

	email := strings.ToLower(strings.TrimSpace(seed.Email))

	var count int64
	if err := db.Model(&models.User{}).Where("login = ? OR email = ?", seed.Login, email).Count(&count).Error; err != nil {
		return nil, err
	}
	if count > 0 {
		return nil, ErrAdminExists
	}

	hash, err := utils.HashPassword(seed.Password)
	if err != nil {
		return nil, err
	}

	admin := models.User{
		Login:         seed.Login,
		Username:      seed.Login,
		Email:         email,
		PasswordHash:  hash,
		Role:          models.UserRoleAdmin,
		EmailVerified: true,
	}
	if err := db.Create(&admin).Error; err != nil {
		return nil, err
	}

	logger.Info("admin_created", map[string]interface{}{
		"user_id": admin.ID.String(),
		"login":   admin.Login,
	})
	return &admin, nil
}

package handlers

import (
	"errors"
	"strings"
	"time"

	"github.com/codeak/portal/internal/metrics"
	"github.com/codeak/portal/internal/middleware"
	"github.com/codeak/portal/internal/models"
	"github.com/codeak/portal/internal/services"
	"github.com/codeak/portal/pkg/logger"
	"github.com/codeak/portal/pkg/utils"
	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"
)

const (
	resetTokenTTL          = time.Hour
	invalidCredentialsText = "invalid login or password"
)

type AuthHandler struct {
	DB          *gorm.DB
	Mailer      services.Mailer
	FrontendURL string
}

func NewAuthHandler(db *gorm.DB, mailer services.Mailer, frontendURL string) *AuthHandler {
	return &AuthHandler{DB: db, Mailer: mailer, FrontendURL: strings.TrimRight(frontendURL, "/")}
}

type registerRequest struct {
	Login     string `json:"login" validate:"required,min=3,max=100"`
	Username  string `json:"username" validate:"required,max=100"`
	LastName  string `json:"lastName" validate:"max=100"`
	UserGroup string `json:"userGroup" validate:"max=100"`
	Email     string `json:"email" validate:"required,email,max=255"`
	Password  string `json:"password" validate:"required,min=6,max=72"`
}

func (h *AuthHandler) Register(c *fiber.Ctx) error {
	var req registerRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid request body")
	}

	req.Login = strings.TrimSpace(req.Login)
	req.Username = strings.TrimSpace(req.Username)
	req.LastName = strings.TrimSpace(req.LastName)
	req.UserGroup = strings.TrimSpace(req.UserGroup)
	req.Email = strings.ToLower(strings.TrimSpace(req.Email))

	if err := utils.ValidateStruct(req); err != nil {
		return utils.Error(c, fiber.StatusBadRequest, err.Error())
	}

	var count int64
	if err := h.DB.Model(&models.User{}).Where("login = ? OR email = ?", req.Login, req.Email).Count(&count).Error; err != nil {
		logger.Error("register_lookup_failed", err, nil)
		return utils.Error(c, fiber.StatusInternalServerError, "failed checking existing user")
	}
	if count > 0 {
		return utils.Error(c, fiber.StatusConflict, "login or email already registered")
	}

	passwordHash, err := utils.HashPassword(req.Password)
	if err != nil {
		return utils.Error(c, fiber.StatusInternalServerError, "failed to hash password")
	}

	code, err := utils.GenerateVerificationCode()
	if err != nil {
		return utils.Error(c, fiber.StatusInternalServerError, "failed generating verification code")
	}

	user := models.User{
		Login:            req.Login,
		Username:         req.Username,
		LastName:         req.LastName,
		UserGroup:        req.UserGroup,
		Email:            req.Email,
		PasswordHash:     passwordHash,
		Role:             models.UserRoleUser,
		VerificationCode: &code,
	}

	if err := h.DB.Create(&user).Error; err != nil {
		if isDuplicateKey(err) {
			return utils.Error(c, fiber.StatusConflict, "login or email already registered")
		}
		logger.Error("register_create_failed", err, map[string]interface{}{"login": req.Login})
		return utils.Error(c, fiber.StatusInternalServerError, "failed creating user")
	}

	metrics.RegistrationsTotal.Inc()
	logger.Info("user_registered", map[string]interface{}{
		"user_id": user.ID.String(),
		"login":   user.Login,
		"email":   user.Email,
	})

	subject, body := services.VerificationEmail(code)
	if err := h.Mailer.Send(c.UserContext(), user.Email, subject, body); err != nil {
		logger.ErrorWithUser(user.ID.String(), "verification_mail_failed", err, nil)
	}

	return utils.Success(c, fiber.StatusCreated, fiber.Map{
		"message": "registration successful, you can now log in",
		"user":    user,
	})
}

type verifyEmailRequest struct {
	Email string `json:"email"`
	Code  string `json:"code"`
}

func (h *AuthHandler) VerifyEmail(c *fiber.Ctx) error {
	var req verifyEmailRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid request body")
	}
	req.Email = strings.ToLower(strings.TrimSpace(req.Email))
	req.Code = strings.TrimSpace(req.Code)

	return verifyUserEmail(c, h.DB, req.Email, req.Code)
}

// verifyUserEmail is shared with the profile route.
func verifyUserEmail(c *fiber.Ctx, db *gorm.DB, email, code string) error {
	var user models.User
	if err := db.First(&user, "email = ?", email).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return utils.Error(c, fiber.StatusNotFound, "user not found")
		}
		return utils.Error(c, fiber.StatusInternalServerError, "failed fetching user")
	}

	if code == "" || user.VerificationCode == nil || *user.VerificationCode != code {
		return utils.Error(c, fiber.StatusBadRequest, "invalid verification code")
	}

	if err := db.Model(&user).Updates(map[string]interface{}{
		"email_verified":    true,
		"verification_code": nil,
	}).Error; err != nil {
		return utils.Error(c, fiber.StatusInternalServerError, "failed verifying email")
	}

	logger.InfoWithUser(user.ID.String(), "email_verified", nil)
	return utils.Success(c, fiber.StatusOK, fiber.Map{"message": "email verified"})
}

type loginRequest struct {
	LoginOrEmail string `json:"loginOrEmail"`
	Password     string `json:"password"`
}

func (h *AuthHandler) Login(c *fiber.Ctx) error {
	var req loginRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid request body")
	}
	req.LoginOrEmail = strings.TrimSpace(req.LoginOrEmail)

	if req.LoginOrEmail == "" || req.Password == "" {
		return utils.Error(c, fiber.StatusBadRequest, "loginOrEmail and password are required")
	}

	var user models.User
	if err := h.DB.First(&user, "login = ? OR email = ?", req.LoginOrEmail, strings.ToLower(req.LoginOrEmail)).Error; err != nil {
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			logger.Error("login_lookup_failed", err, map[string]interface{}{"ip": c.IP()})
			return utils.Error(c, fiber.StatusInternalServerError, "failed fetching user")
		}
		logger.Warn("login_failed_user_not_found", map[string]interface{}{
			"login": req.LoginOrEmail,
			"ip":    c.IP(),
		})
		return utils.ErrorCode(c, fiber.StatusUnauthorized, utils.CodeInvalidCredentials, invalidCredentialsText)
	}

	if !utils.CheckPassword(req.Password, user.PasswordHash) {
		logger.Warn("login_failed_invalid_password", map[string]interface{}{
			"user_id": user.ID.String(),
			"ip":      c.IP(),
		})
		return utils.ErrorCode(c, fiber.StatusUnauthorized, utils.CodeInvalidCredentials, invalidCredentialsText)
	}

	token, err := utils.GenerateToken(&user)
	if err != nil {
		return utils.Error(c, fiber.StatusInternalServerError, "failed generating token")
	}

	logger.Info("user_login", map[string]interface{}{
		"user_id": user.ID.String(),
		"login":   user.Login,
		"ip":      c.IP(),
	})

	return utils.Success(c, fiber.StatusOK, fiber.Map{
		"token": token,
		"user": fiber.Map{
			"id":    user.ID,
			"login": user.Login,
			"role":  user.Role,
		},
	})
}

func (h *AuthHandler) Active(c *fiber.Ctx) error {
	user := middleware.GetCurrentUser(c)
	if user == nil {
		return utils.Error(c, fiber.StatusUnauthorized, "unauthorized")
	}

	now := time.Now().UTC()
	if err := h.DB.Model(&models.User{}).Where("id = ?", user.ID).UpdateColumn("last_active", now).Error; err != nil {
		logger.ErrorWithUser(user.ID.String(), "heartbeat_failed", err, nil)
		return utils.Error(c, fiber.StatusInternalServerError, "failed updating activity")
	}

	return utils.Success(c, fiber.StatusOK, fiber.Map{"lastActive": now})
}

func (h *AuthHandler) Profile(c *fiber.Ctx) error {
	user := middleware.GetCurrentUser(c)
	if user == nil {
		return utils.Error(c, fiber.StatusUnauthorized, "unauthorized")
	}

	return utils.Success(c, fiber.StatusOK, fiber.Map{
		"id":    user.ID,
		"login": user.Login,
		"email": user.Email,
		"role":  user.Role,
	})
}

type forgotPasswordRequest struct {
	Email string `json:"email"`
}

func (h *AuthHandler) ForgotPassword(c *fiber.Ctx) error {
	var req forgotPasswordRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid request body")
	}
	req.Email = strings.ToLower(strings.TrimSpace(req.Email))
	if req.Email == "" {
		return utils.Error(c, fiber.StatusBadRequest, "email is required")
	}

	var user models.User
	if err := h.DB.First(&user, "email = ?", req.Email).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return utils.Error(c, fiber.StatusNotFound, "user not found")
		}
		return utils.Error(c, fiber.StatusInternalServerError, "failed fetching user")
	}

	token, err := utils.GenerateResetToken()
	if err != nil {
		return utils.Error(c, fiber.StatusInternalServerError, "failed generating reset token")
	}
	expires := time.Now().Add(resetTokenTTL)

	if err := h.DB.Model(&user).Updates(map[string]interface{}{
		"reset_password_token":   token,
		"reset_password_expires": expires,
	}).Error; err != nil {
		return utils.Error(c, fiber.StatusInternalServerError, "failed storing reset token")
	}

	subject, body := services.PasswordResetEmail(h.FrontendURL + "/reset-password/" + token)
	if err := h.Mailer.Send(c.UserContext(), user.Email, subject, body); err != nil {
		logger.ErrorWithUser(user.ID.String(), "reset_mail_failed", err, nil)
		return utils.Error(c, fiber.StatusInternalServerError, "failed sending reset email")
	}

	logger.InfoWithUser(user.ID.String(), "password_reset_requested", nil)
	return utils.Success(c, fiber.StatusOK, fiber.Map{"message": "password reset link sent"})
}

type resetPasswordRequest struct {
	Password string `json:"password" validate:"required,min=6,max=72"`
}

func (h *AuthHandler) ResetPassword(c *fiber.Ctx) error {
	token := strings.TrimSpace(c.Params("token"))
	if token == "" {
		return utils.ErrorCode(c, fiber.StatusBadRequest, utils.CodeInvalidToken, "invalid or expired reset token")
	}

	var req resetPasswordRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid request body")
	}
	if err := utils.ValidateStruct(req); err != nil {
		return utils.Error(c, fiber.StatusBadRequest, err.Error())
	}

	hash, err := utils.HashPassword(req.Password)
	if err != nil {
		return utils.Error(c, fiber.StatusInternalServerError, "failed to hash password")
	}

	// Matching on the token in the UPDATE itself makes the token single use
	// even when two requests race.
	result := h.DB.Model(&models.User{}).
		Where("reset_password_token = ? AND reset_password_expires > ?", token, time.Now()).
		Updates(map[string]interface{}{
			"password_hash":          hash,
			"reset_password_token":   nil,
			"reset_password_expires": nil,
		})
	if result.Error != nil {
		return utils.Error(c, fiber.StatusInternalServerError, "failed resetting password")
	}
	if result.RowsAffected == 0 {
		return utils.ErrorCode(c, fiber.StatusBadRequest, utils.CodeInvalidToken, "invalid or expired reset token")
	}

	logger.Info("password_reset_completed", nil)
	return utils.Success(c, fiber.StatusOK, fiber.Map{"message": "password changed"})
}

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

const maxAvatarSize = 10 * 1024 * 1024

var avatarExtensions = map[string]string{
	"image/jpeg": ".jpg",
	"image/png":  ".png",
	"image/webp": ".webp",
}

type ProfileHandler struct {
	DB            *gorm.DB
	Store         storage.FileStore
	Mailer        services.Mailer
	PublicBaseURL string
}

func NewProfileHandler(db *gorm.DB, store storage.FileStore, mailer services.Mailer, publicBaseURL string) *ProfileHandler {
	return &ProfileHandler{DB: db, Store: store, Mailer: mailer, PublicBaseURL: strings.TrimRight(publicBaseURL, "/")}
}

func (h *ProfileHandler) avatarURL(key string) string {
	if key == "" {
		return ""
	}
	return h.PublicBaseURL + uploadURL(key)
}

func (h *ProfileHandler) Get(c *fiber.Ctx) error {
	user := middleware.GetCurrentUser(c)
	if user == nil {
		return utils.Error(c, fiber.StatusUnauthorized, "unauthorized")
	}

	return utils.Success(c, fiber.StatusOK, fiber.Map{
		"id":            user.ID,
		"login":         user.Login,
		"email":         user.Email,
		"username":      user.Username,
		"lastName":      user.LastName,
		"userGroup":     user.UserGroup,
		"codeGroup":     user.CodeGroup,
		"emailVerified": user.EmailVerified,
		"avatar":        h.avatarURL(user.Avatar),
	})
}

type updateProfileRequest struct {
	Login     *string `json:"login"`
	Email     *string `json:"email"`
	Username  *string `json:"username"`
	LastName  *string `json:"lastName"`
	UserGroup *string `json:"userGroup"`
}

func (h *ProfileHandler) Update(c *fiber.Ctx) error {
	user := middleware.GetCurrentUser(c)
	if user == nil {
		return utils.Error(c, fiber.StatusUnauthorized, "unauthorized")
	}

	var req updateProfileRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid request body")
	}

	updates := map[string]interface{}{}
	if req.Login != nil {
		value := strings.TrimSpace(*req.Login)
		if len(value) < 3 {
			return utils.Error(c, fiber.StatusBadRequest, "login must be at least 3 characters")
		}
		updates["login"] = value
	}
	if req.Email != nil {
		value := strings.ToLower(strings.TrimSpace(*req.Email))
		if err := utils.ValidateVar(value, "required,email"); err != nil {
			return utils.Error(c, fiber.StatusBadRequest, "invalid email")
		}
		updates["email"] = value
	}
	if req.Username != nil {
		value := strings.TrimSpace(*req.Username)
		if value == "" {
			return utils.Error(c, fiber.StatusBadRequest, "username cannot be empty")
		}
		updates["username"] = value
	}
	if req.LastName != nil {
		updates["last_name"] = strings.TrimSpace(*req.LastName)
	}
	if req.UserGroup != nil {
		updates["user_group"] = strings.TrimSpace(*req.UserGroup)
	}

	if len(updates) == 0 {
		return utils.Error(c, fiber.StatusBadRequest, "no fields to update")
	}

	if conflict, err := loginOrEmailTaken(h.DB, updates["login"], updates["email"], user.ID.String()); err != nil {
		return utils.Error(c, fiber.StatusInternalServerError, "failed checking existing user")
	} else if conflict {
		return utils.Error(c, fiber.StatusConflict, "login or email already taken")
	}

	if err := h.DB.Model(user).Updates(updates).Error; err != nil {
		if isDuplicateKey(err) {
			return utils.Error(c, fiber.StatusConflict, "login or email already taken")
		}
		return utils.Error(c, fiber.StatusInternalServerError, "failed updating profile")
	}

	logger.InfoWithUser(user.ID.String(), "profile_updated", map[string]interface{}{
		"fields": len(updates),
	})
	return utils.Success(c, fiber.StatusOK, user)
}

// loginOrEmailTaken reports whether another user already owns the login or
// email. Nil values are not checked.
func loginOrEmailTaken(db *gorm.DB, login, email interface{}, excludeID string) (bool, error) {
	if login == nil && email == nil {
		return false, nil
	}

	query := db.Model(&models.User{})
	switch {
	case login != nil && email != nil:
		query = query.Where("login = ? OR email = ?", login, email)
	case login != nil:
		query = query.Where("login = ?", login)
	default:
		query = query.Where("email = ?", email)
	}
	if excludeID != "" {
		query = query.Where("id <> ?", excludeID)
	}

	var count int64
	if err := query.Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

func (h *ProfileHandler) UploadAvatar(c *fiber.Ctx) error {
	user := middleware.GetCurrentUser(c)
	if user == nil {
		return utils.Error(c, fiber.StatusUnauthorized, "unauthorized")
	}

	fh, err := c.FormFile("avatar")
	if err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "avatar file is required")
	}
	if fh.Size > maxAvatarSize {
		return utils.Error(c, fiber.StatusRequestEntityTooLarge, "avatar must be at most 10 MiB")
	}

	contentType, ext, err := sniffImage(fh, avatarExtensions)
	if err != nil {
		if errors.Is(err, errUnsupportedImage) {
			return utils.Error(c, fiber.StatusBadRequest, "avatar must be a jpeg, png or webp image")
		}
		return utils.Error(c, fiber.StatusBadRequest, "failed reading avatar")
	}

	key := "avatars/avatar-" + user.ID.String() + ext
	if err := saveMultipartFile(c.UserContext(), h.Store, fh, key, contentType); err != nil {
		logger.ErrorWithUser(user.ID.String(), "avatar_write_failed", err, nil)
		return utils.Error(c, fiber.StatusInternalServerError, "failed storing avatar")
	}

	previous := user.Avatar
	if err := h.DB.Model(user).Update("avatar", key).Error; err != nil {
		return utils.Error(c, fiber.StatusInternalServerError, "failed updating avatar")
	}
	if previous != "" && previous != key {
		removeFiles(c.UserContext(), h.Store, "avatar_cleanup_failed", previous)
	}

	logger.InfoWithUser(user.ID.String(), "avatar_updated", map[string]interface{}{
		"content_type": contentType,
		"size":         fh.Size,
	})
	return utils.Success(c, fiber.StatusOK, fiber.Map{"avatar": h.avatarURL(key)})
}

func (h *ProfileHandler) ResendVerification(c *fiber.Ctx) error {
	user := middleware.GetCurrentUser(c)
	if user == nil {
		return utils.Error(c, fiber.StatusUnauthorized, "unauthorized")
	}
	if user.EmailVerified {
		return utils.Error(c, fiber.StatusBadRequest, "email already verified")
	}

	code, err := utils.GenerateVerificationCode()
	if err != nil {
		return utils.Error(c, fiber.StatusInternalServerError, "failed generating verification code")
	}
	if err := h.DB.Model(user).Update("verification_code", code).Error; err != nil {
		return utils.Error(c, fiber.StatusInternalServerError, "failed storing verification code")
	}

	subject, body := services.VerificationEmail(code)
	if err := h.Mailer.Send(c.UserContext(), user.Email, subject, body); err != nil {
		logger.ErrorWithUser(user.ID.String(), "verification_mail_failed", err, nil)
		return utils.Error(c, fiber.StatusInternalServerError, "failed sending verification email")
	}

	return utils.Success(c, fiber.StatusOK, fiber.Map{"message": "verification email sent"})
}

type profileVerifyRequest struct {
	VerificationCode string `json:"verificationCode"`
}

func (h *ProfileHandler) VerifyEmail(c *fiber.Ctx) error {
	user := middleware.GetCurrentUser(c)
	if user == nil {
		return utils.Error(c, fiber.StatusUnauthorized, "unauthorized")
	}

	var req profileVerifyRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid request body")
	}

	return verifyUserEmail(c, h.DB, user.Email, strings.TrimSpace(req.VerificationCode))
}

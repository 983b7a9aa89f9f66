package handlers

import (
	"errors"
	"strings"

	"github.com/codeak/portal/internal/middleware"
	"github.com/codeak/portal/internal/models"
	"github.com/codeak/portal/internal/storage"
	"github.com/codeak/portal/pkg/logger"
	"github.com/codeak/portal/pkg/utils"
	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"
)

// AdminToolsHandler is the staff user-management surface. Every route behind
// it is guarded by RequireRoles(admin, mentor).
type AdminToolsHandler struct {
	DB    *gorm.DB
	Store storage.FileStore
}

func NewAdminToolsHandler(db *gorm.DB, store storage.FileStore) *AdminToolsHandler {
	return &AdminToolsHandler{DB: db, Store: store}
}

func (h *AdminToolsHandler) List(c *fiber.Ctx) error {
	p := utils.ParsePagination(c)
	search := strings.TrimSpace(c.Query("search"))

	query := h.DB.Model(&models.User{})
	if search != "" {
		searchValue := "%" + strings.ToLower(search) + "%"
		query = query.Where(
			"LOWER(login) LIKE ? OR LOWER(email) LIKE ? OR LOWER(username) LIKE ? OR LOWER(last_name) LIKE ?",
			searchValue,
			searchValue,
			searchValue,
			searchValue,
		)
	}
	if group := strings.TrimSpace(c.Query("group")); group != "" {
		query = query.Where("user_group = ?", group)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return utils.Error(c, fiber.StatusInternalServerError, "failed counting users")
	}

	var users []models.User
	if err := utils.ApplyPagination(query.Order("created_at DESC"), p).Find(&users).Error; err != nil {
		return utils.Error(c, fiber.StatusInternalServerError, "failed listing users")
	}

	return utils.Paginated(c, users, p.Page, p.Limit, total)
}

type createUserRequest struct {
	Login     string          `json:"login" validate:"required,min=3,max=100"`
	Username  string          `json:"username" validate:"required,max=100"`
	LastName  string          `json:"lastName" validate:"max=100"`
	Email     string          `json:"email" validate:"required,email,max=255"`
	Password  string          `json:"password" validate:"required,min=6,max=72"`
	Role      models.UserRole `json:"role"`
	UserGroup string          `json:"userGroup" validate:"max=100"`
	CodeGroup string          `json:"codeGroup" validate:"max=100"`
}

func (h *AdminToolsHandler) Create(c *fiber.Ctx) error {
	actor := middleware.GetCurrentUser(c)

	var req createUserRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid request body")
	}
	req.Login = strings.TrimSpace(req.Login)
	req.Username = strings.TrimSpace(req.Username)
	req.LastName = strings.TrimSpace(req.LastName)
	req.Email = strings.ToLower(strings.TrimSpace(req.Email))
	req.UserGroup = strings.TrimSpace(req.UserGroup)
	req.CodeGroup = strings.TrimSpace(req.CodeGroup)

	if err := utils.ValidateStruct(req); err != nil {
		return utils.Error(c, fiber.StatusBadRequest, err.Error())
	}

	if req.Role == "" {
		req.Role = models.UserRoleUser
	}
	if status, msg := checkAssignableRole(actor, req.Role); status != 0 {
		return utils.Error(c, status, msg)
	}

	if conflict, err := loginOrEmailTaken(h.DB, req.Login, req.Email, ""); err != nil {
		return utils.Error(c, fiber.StatusInternalServerError, "failed checking existing user")
	} else if conflict {
		return utils.Error(c, fiber.StatusConflict, "login or email already taken")
	}

	hash, err := utils.HashPassword(req.Password)
	if err != nil {
		return utils.Error(c, fiber.StatusInternalServerError, "failed to hash password")
	}

	user := models.User{
		Login:        req.Login,
		Username:     req.Username,
		LastName:     req.LastName,
		Email:        req.Email,
		PasswordHash: hash,
		Role:         req.Role,
		UserGroup:    req.UserGroup,
		CodeGroup:    req.CodeGroup,
	}
	if err := h.DB.Create(&user).Error; err != nil {
		if isDuplicateKey(err) {
			return utils.Error(c, fiber.StatusConflict, "login or email already taken")
		}
		logger.Error("admin_create_user_failed", err, map[string]interface{}{"login": req.Login})
		return utils.Error(c, fiber.StatusInternalServerError, "failed creating user")
	}

	logger.InfoWithUser(actor.ID.String(), "admin_user_created", map[string]interface{}{
		"user_id": user.ID.String(),
		"role":    user.Role,
	})
	return utils.Success(c, fiber.StatusCreated, user)
}

// checkAssignableRole returns a non-zero status when actor may not grant
// role. Only admins hand out the admin role.
func checkAssignableRole(actor *models.User, role models.UserRole) (int, string) {
	if !role.Valid() {
		return fiber.StatusBadRequest, "invalid role"
	}
	if role == models.UserRoleAdmin && (actor == nil || actor.Role != models.UserRoleAdmin) {
		return fiber.StatusForbidden, "only admins can assign the admin role"
	}
	return 0, ""
}

// checkManageable returns a non-zero status when actor may not modify the
// target account. Mentors manage everyone except admins; the target's role is
// read from the store.
func (h *AdminToolsHandler) checkManageable(actor *models.User, targetID string) (int, string) {
	if actor != nil && actor.Role == models.UserRoleAdmin {
		return 0, ""
	}

	var target models.User
	if err := h.DB.Select("id", "role").First(&target, "id = ?", targetID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fiber.StatusNotFound, "user not found"
		}
		return fiber.StatusInternalServerError, "failed fetching user"
	}
	if target.Role == models.UserRoleAdmin {
		return fiber.StatusForbidden, "only admins can modify admin accounts"
	}
	return 0, ""
}

type adminUpdateUserRequest struct {
	Login     *string          `json:"login"`
	Username  *string          `json:"username"`
	LastName  *string          `json:"lastName"`
	Email     *string          `json:"email"`
	Password  *string          `json:"password"`
	Role      *models.UserRole `json:"role"`
	UserGroup *string          `json:"userGroup"`
	CodeGroup *string          `json:"codeGroup"`
}

func (h *AdminToolsHandler) Update(c *fiber.Ctx) error {
	actor := middleware.GetCurrentUser(c)
	userID, err := parseUUID(c.Params("id"))
	if err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid user id")
	}
	if status, msg := h.checkManageable(actor, userID.String()); status != 0 {
		return utils.Error(c, status, msg)
	}

	var req adminUpdateUserRequest
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
	if req.Email != nil {
		value := strings.ToLower(strings.TrimSpace(*req.Email))
		if err := utils.ValidateVar(value, "required,email"); err != nil {
			return utils.Error(c, fiber.StatusBadRequest, "invalid email")
		}
		updates["email"] = value
	}
	if req.Password != nil {
		if err := utils.ValidatePassword(*req.Password); err != nil {
			return utils.ErrorCode(c, fiber.StatusBadRequest, utils.CodeValidation, err.Error())
		}
		hash, err := utils.HashPassword(*req.Password)
		if err != nil {
			return utils.Error(c, fiber.StatusInternalServerError, "failed to hash password")
		}
		updates["password_hash"] = hash
	}
	if req.Role != nil {
		if status, msg := checkAssignableRole(actor, *req.Role); status != 0 {
			return utils.Error(c, status, msg)
		}
		updates["role"] = *req.Role
	}
	if req.UserGroup != nil {
		updates["user_group"] = strings.TrimSpace(*req.UserGroup)
	}
	if req.CodeGroup != nil {
		updates["code_group"] = strings.TrimSpace(*req.CodeGroup)
	}

	if len(updates) == 0 {
		return utils.Error(c, fiber.StatusBadRequest, "no valid fields to update")
	}

	if conflict, err := loginOrEmailTaken(h.DB, updates["login"], updates["email"], userID.String()); err != nil {
		return utils.Error(c, fiber.StatusInternalServerError, "failed checking existing user")
	} else if conflict {
		return utils.Error(c, fiber.StatusConflict, "login or email already taken")
	}

	return h.applyUserUpdates(c, userID.String(), updates, "admin_user_updated")
}

func (h *AdminToolsHandler) applyUserUpdates(c *fiber.Ctx, userID string, updates map[string]interface{}, action string) error {
	result := h.DB.Model(&models.User{}).Where("id = ?", userID).Updates(updates)
	if result.Error != nil {
		if isDuplicateKey(result.Error) {
			return utils.Error(c, fiber.StatusConflict, "login or email already taken")
		}
		return utils.Error(c, fiber.StatusInternalServerError, "failed updating user")
	}
	if result.RowsAffected == 0 {
		return utils.Error(c, fiber.StatusNotFound, "user not found")
	}

	var user models.User
	if err := h.DB.First(&user, "id = ?", userID).Error; err != nil {
		return utils.Error(c, fiber.StatusInternalServerError, "failed fetching updated user")
	}

	fields := make([]string, 0, len(updates))
	for key := range updates {
		fields = append(fields, key)
	}
	if actor := middleware.GetCurrentUser(c); actor != nil {
		logger.InfoWithUser(actor.ID.String(), action, map[string]interface{}{
			"user_id": userID,
			"fields":  fields,
		})
	}
	return utils.Success(c, fiber.StatusOK, user)
}

func (h *AdminToolsHandler) Delete(c *fiber.Ctx) error {
	actor := middleware.GetCurrentUser(c)
	userID, err := parseUUID(c.Params("id"))
	if err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid user id")
	}
	if actor != nil && actor.ID == userID {
		return utils.Error(c, fiber.StatusBadRequest, "cannot delete your own account")
	}

	var user models.User
	if err := h.DB.First(&user, "id = ?", userID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return utils.Error(c, fiber.StatusNotFound, "user not found")
		}
		return utils.Error(c, fiber.StatusInternalServerError, "failed fetching user")
	}
	if user.Role == models.UserRoleAdmin && (actor == nil || actor.Role != models.UserRoleAdmin) {
		return utils.Error(c, fiber.StatusForbidden, "only admins can modify admin accounts")
	}

	err = h.DB.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("user_id = ?", userID).Delete(&models.TeamMember{}).Error; err != nil {
			return err
		}
		if err := tx.Where("user_id = ?", userID).Delete(&models.Report{}).Error; err != nil {
			return err
		}
		return tx.Delete(&user).Error
	})
	if err != nil {
		logger.Error("admin_delete_user_failed", err, map[string]interface{}{"user_id": userID.String()})
		return utils.Error(c, fiber.StatusInternalServerError, "failed deleting user")
	}

	removeFiles(c.UserContext(), h.Store, "avatar_cleanup_failed", user.Avatar)

	logger.InfoWithUser(actor.ID.String(), "admin_user_deleted", map[string]interface{}{
		"user_id": userID.String(),
		"login":   user.Login,
	})
	return utils.Success(c, fiber.StatusOK, fiber.Map{"message": "user deleted"})
}

type resetUserPasswordRequest struct {
	NewPassword string `json:"newPassword" validate:"required,min=6,max=72"`
}

func (h *AdminToolsHandler) ResetPassword(c *fiber.Ctx) error {
	userID, err := parseUUID(c.Params("id"))
	if err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid user id")
	}
	if status, msg := h.checkManageable(middleware.GetCurrentUser(c), userID.String()); status != 0 {
		return utils.Error(c, status, msg)
	}

	var req resetUserPasswordRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid request body")
	}
	if err := utils.ValidateStruct(req); err != nil {
		return utils.Error(c, fiber.StatusBadRequest, err.Error())
	}

	hash, err := utils.HashPassword(req.NewPassword)
	if err != nil {
		return utils.Error(c, fiber.StatusInternalServerError, "failed to hash password")
	}

	return h.applyUserUpdates(c, userID.String(), map[string]interface{}{
		"password_hash":          hash,
		"reset_password_token":   nil,
		"reset_password_expires": nil,
	}, "admin_password_reset")
}

func (h *AdminToolsHandler) Groups(c *fiber.Ctx) error {
	var groups []string
	if err := h.DB.Model(&models.User{}).
		Where("user_group <> ''").
		Distinct().
		Order("user_group").
		Pluck("user_group", &groups).Error; err != nil {
		return utils.Error(c, fiber.StatusInternalServerError, "failed listing groups")
	}
	if groups == nil {
		groups = []string{}
	}
	return utils.Success(c, fiber.StatusOK, groups)
}

type changeGroupRequest struct {
	NewGroup string `json:"newGroup"`
}

func (h *AdminToolsHandler) ChangeGroup(c *fiber.Ctx) error {
	return h.changeGroupColumn(c, "user_group", "admin_user_group_changed")
}

func (h *AdminToolsHandler) ChangeCodeGroup(c *fiber.Ctx) error {
	return h.changeGroupColumn(c, "code_group", "admin_code_group_changed")
}

func (h *AdminToolsHandler) changeGroupColumn(c *fiber.Ctx, column, action string) error {
	userID, err := parseUUID(c.Params("id"))
	if err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid user id")
	}
	if status, msg := h.checkManageable(middleware.GetCurrentUser(c), userID.String()); status != 0 {
		return utils.Error(c, status, msg)
	}

	var req changeGroupRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid request body")
	}
	group := strings.TrimSpace(req.NewGroup)
	if group == "" {
		return utils.Error(c, fiber.StatusBadRequest, "newGroup is required")
	}

	return h.applyUserUpdates(c, userID.String(), map[string]interface{}{column: group}, action)
}

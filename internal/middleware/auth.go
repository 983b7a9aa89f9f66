package middleware

import (
	"errors"
	"strings"
	"time"

	"github.com/codeak/portal/internal/models"
	"github.com/codeak/portal/pkg/logger"
	"github.com/codeak/portal/pkg/utils"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"gorm.io/gorm"
)

const currentUserKey = "currentUser"

type AuthMiddleware struct {
	DB *gorm.DB
}

func NewAuthMiddleware(db *gorm.DB) *AuthMiddleware {
	return &AuthMiddleware{DB: db}
}

func CORS(frontendURL string) fiber.Handler {
	origins := "http://localhost:5173,http://127.0.0.1:5173"
	if frontendURL != "" {
		origins = frontendURL
	}
	return cors.New(cors.Config{
		AllowOrigins:     origins,
		AllowHeaders:     "Origin, Content-Type, Accept, Authorization, X-Request-ID",
		ExposeHeaders:    "X-Request-ID",
		AllowMethods:     "GET,POST,PUT,PATCH,DELETE,OPTIONS",
		AllowCredentials: true,
		MaxAge:           int((12 * time.Hour).Seconds()),
	})
}

func (a *AuthMiddleware) RequireAuth(c *fiber.Ctx) error {
	authHeader := c.Get("Authorization")
	if authHeader == "" {
		logger.Warn("jwt_missing_header", map[string]interface{}{
			"ip":   c.IP(),
			"path": c.Path(),
		})
		return utils.ErrorCode(c, fiber.StatusUnauthorized, utils.CodeUnauthenticated, "missing authorization header")
	}

	tokenString := strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer"))
	if tokenString == authHeader || tokenString == "" {
		logger.Warn("jwt_invalid_format", map[string]interface{}{
			"ip":          c.IP(),
			"path":        c.Path(),
			"auth_header": authHeader[:min(len(authHeader), 20)] + "...",
		})
		return utils.ErrorCode(c, fiber.StatusUnauthorized, utils.CodeUnauthenticated, "invalid authorization format")
	}

	claims, err := utils.ValidateToken(tokenString)
	if err != nil {
		logger.Warn("jwt_validation_failed", map[string]interface{}{
			"ip":    c.IP(),
			"path":  c.Path(),
			"error": err.Error(),
		})
		return utils.ErrorCode(c, fiber.StatusUnauthorized, utils.CodeInvalidToken, "invalid or expired token")
	}

	var user models.User
	if err := a.DB.First(&user, "id = ?", claims.UserID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			logger.Warn("jwt_user_not_found", map[string]interface{}{
				"ip":      c.IP(),
				"path":    c.Path(),
				"user_id": claims.UserID.String(),
			})
			return utils.ErrorCode(c, fiber.StatusNotFound, utils.CodeNotFound, "user not found")
		}
		logger.Error("jwt_user_lookup_failed", err, map[string]interface{}{
			"user_id": claims.UserID.String(),
		})
		return utils.Error(c, fiber.StatusInternalServerError, "failed to load user")
	}

	c.Locals(currentUserKey, &user)
	c.Locals("userID", user.ID.String())
	return c.Next()
}

// RequireRoles must run after RequireAuth. It re-reads the role column so a
// demotion takes effect on the next request regardless of token contents.
func (a *AuthMiddleware) RequireRoles(roles ...models.UserRole) fiber.Handler {
	return func(c *fiber.Ctx) error {
		user := GetCurrentUser(c)
		if user == nil {
			return utils.ErrorCode(c, fiber.StatusUnauthorized, utils.CodeUnauthenticated, "unauthorized")
		}

		role, err := a.currentRole(user)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return utils.ErrorCode(c, fiber.StatusNotFound, utils.CodeNotFound, "user not found")
			}
			logger.ErrorWithUser(user.ID.String(), "role_lookup_failed", err, nil)
			return utils.Error(c, fiber.StatusInternalServerError, "failed to check role")
		}

		for _, allowed := range roles {
			if role == allowed {
				return c.Next()
			}
		}
		return utils.ErrorCode(c, fiber.StatusForbidden, utils.CodeForbidden, "insufficient permissions")
	}
}

// HasRole reports whether the current user holds one of roles, reading the
// role from the database.
func (a *AuthMiddleware) HasRole(c *fiber.Ctx, roles ...models.UserRole) (bool, error) {
	user := GetCurrentUser(c)
	if user == nil {
		return false, nil
	}
	role, err := a.currentRole(user)
	if err != nil {
		return false, err
	}
	for _, allowed := range roles {
		if role == allowed {
			return true, nil
		}
	}
	return false, nil
}

func (a *AuthMiddleware) currentRole(user *models.User) (models.UserRole, error) {
	var row models.User
	if err := a.DB.Select("id", "role").First(&row, "id = ?", user.ID).Error; err != nil {
		return "", err
	}
	user.Role = row.Role
	return row.Role, nil
}

func GetCurrentUser(c *fiber.Ctx) *models.User {
	value := c.Locals(currentUserKey)
	if value == nil {
		return nil
	}
	user, ok := value.(*models.User)
	if !ok {
		return nil
	}
	return user
}

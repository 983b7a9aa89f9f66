package middleware

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/codeak/portal/internal/models"
	"github.com/codeak/portal/pkg/logger"
	"github.com/codeak/portal/pkg/utils"
	"github.com/glebarez/sqlite"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

func setupMiddlewareTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	logger.SetGlobal(logger.New(io.Discard))
	utils.ConfigureJWT("middleware-test-secret", time.Hour)

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed opening in-memory sqlite: %v", err)
	}

	sqlDB, _ := db.DB()
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	if err := db.AutoMigrate(&models.User{}); err != nil {
		t.Fatalf("failed automigrating: %v", err)
	}

	return db
}

func createMiddlewareTestUser(t *testing.T, db *gorm.DB, login string, role models.UserRole) (*models.User, string) {
	t.Helper()
	hash, _ := utils.HashPassword("password123")
	user := &models.User{
		Login:        login,
		Username:     "Test",
		Email:        login + "@test.com",
		PasswordHash: hash,
		Role:         role,
	}
	if err := db.Create(user).Error; err != nil {
		t.Fatalf("failed creating user: %v", err)
	}
	token, err := utils.GenerateToken(user)
	if err != nil {
		t.Fatalf("failed generating token: %v", err)
	}
	return user, token
}

func decodeBody(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	defer resp.Body.Close()
	raw, _ := io.ReadAll(resp.Body)
	var body map[string]any
	if err := json.Unmarshal(raw, &body); err != nil {
		t.Fatalf("failed decoding body: %v body=%q", err, string(raw))
	}
	return body
}

func doRequest(t *testing.T, app *fiber.App, path, token string) (*http.Response, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := app.Test(req, 5000)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	return resp, decodeBody(t, resp)
}

func TestRequireAuth(t *testing.T) {
	db := setupMiddlewareTestDB(t)
	auth := NewAuthMiddleware(db)
	_, token := createMiddlewareTestUser(t, db, "auth-require", models.UserRoleUser)

	app := fiber.New()
	app.Get("/protected", auth.RequireAuth, func(c *fiber.Ctx) error {
		user := GetCurrentUser(c)
		return c.JSON(fiber.Map{"login": user.Login, "localID": c.Locals("userID")})
	})

	t.Run("missing authorization header", func(t *testing.T) {
		resp, body := doRequest(t, app, "/protected", "")
		if resp.StatusCode != http.StatusUnauthorized {
			t.Fatalf("expected 401, got %d", resp.StatusCode)
		}
		if body["code"] != utils.CodeUnauthenticated {
			t.Fatalf("expected unauthenticated code, got %v", body["code"])
		}
	})

	t.Run("invalid authorization format", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/protected", nil)
		req.Header.Set("Authorization", "Basic somecreds")
		resp, _ := app.Test(req, 5000)
		body := decodeBody(t, resp)
		if resp.StatusCode != http.StatusUnauthorized {
			t.Fatalf("expected 401, got %d", resp.StatusCode)
		}
		if body["error"] != "invalid authorization format" {
			t.Fatalf("expected invalid format error, got %v", body["error"])
		}
	})

	t.Run("invalid JWT token", func(t *testing.T) {
		resp, body := doRequest(t, app, "/protected", "invalid-jwt-token")
		if resp.StatusCode != http.StatusUnauthorized {
			t.Fatalf("expected 401, got %d", resp.StatusCode)
		}
		if body["code"] != utils.CodeInvalidToken {
			t.Fatalf("expected invalid_token code, got %v", body["code"])
		}
	})

	t.Run("valid JWT token", func(t *testing.T) {
		resp, body := doRequest(t, app, "/protected", token)
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("expected 200, got %d", resp.StatusCode)
		}
		if body["login"] != "auth-require" {
			t.Fatalf("expected login auth-require, got %v", body["login"])
		}
		if body["localID"] == nil {
			t.Fatal("expected userID local to be set for the request logger")
		}
	})

	t.Run("token for deleted user", func(t *testing.T) {
		ghost := &models.User{BaseModel: models.BaseModel{ID: uuid.New()}, Role: models.UserRoleAdmin}
		ghostToken, err := utils.GenerateToken(ghost)
		if err != nil {
			t.Fatalf("failed generating token: %v", err)
		}
		resp, body := doRequest(t, app, "/protected", ghostToken)
		if resp.StatusCode != http.StatusNotFound {
			t.Fatalf("expected 404, got %d", resp.StatusCode)
		}
		if body["code"] != utils.CodeNotFound {
			t.Fatalf("expected not_found code, got %v", body["code"])
		}
	})
}

func TestRequireRoles(t *testing.T) {
	db := setupMiddlewareTestDB(t)
	auth := NewAuthMiddleware(db)

	app := fiber.New()
	app.Get("/staff", auth.RequireAuth, auth.RequireRoles(models.StaffRoles...), func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"ok": true})
	})

	t.Run("allows listed roles", func(t *testing.T) {
		_, adminToken := createMiddlewareTestUser(t, db, "role-admin", models.UserRoleAdmin)
		_, mentorToken := createMiddlewareTestUser(t, db, "role-mentor", models.UserRoleMentor)

		for _, token := range []string{adminToken, mentorToken} {
			resp, _ := doRequest(t, app, "/staff", token)
			if resp.StatusCode != http.StatusOK {
				t.Fatalf("expected 200, got %d", resp.StatusCode)
			}
		}
	})

	t.Run("rejects other roles", func(t *testing.T) {
		_, studentToken := createMiddlewareTestUser(t, db, "role-student", models.UserRoleStudent)
		resp, body := doRequest(t, app, "/staff", studentToken)
		if resp.StatusCode != http.StatusForbidden {
			t.Fatalf("expected 403, got %d", resp.StatusCode)
		}
		if body["code"] != utils.CodeForbidden {
			t.Fatalf("expected forbidden code, got %v", body["code"])
		}
	})

	t.Run("demotion after token issuance takes effect immediately", func(t *testing.T) {
		admin, token := createMiddlewareTestUser(t, db, "role-demoted", models.UserRoleAdmin)

		if resp, _ := doRequest(t, app, "/staff", token); resp.StatusCode != http.StatusOK {
			t.Fatalf("expected 200 before demotion, got %d", resp.StatusCode)
		}

		if err := db.Model(&models.User{}).Where("id = ?", admin.ID).Update("role", models.UserRoleUser).Error; err != nil {
			t.Fatalf("failed demoting user: %v", err)
		}

		claims, err := utils.ValidateToken(token)
		if err != nil || claims.Role != models.UserRoleAdmin {
			t.Fatalf("expected the token to still claim admin, got %v / %v", claims, err)
		}

		resp, _ := doRequest(t, app, "/staff", token)
		if resp.StatusCode != http.StatusForbidden {
			t.Fatalf("expected 403 after demotion, got %d", resp.StatusCode)
		}
	})

	t.Run("promotion after token issuance takes effect immediately", func(t *testing.T) {
		user, token := createMiddlewareTestUser(t, db, "role-promoted", models.UserRoleUser)
		if err := db.Model(&models.User{}).Where("id = ?", user.ID).Update("role", models.UserRoleMentor).Error; err != nil {
			t.Fatalf("failed promoting user: %v", err)
		}

		resp, _ := doRequest(t, app, "/staff", token)
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("expected 200 after promotion, got %d", resp.StatusCode)
		}
	})
}

func TestMetricsMiddleware(t *testing.T) {
	app := fiber.New()
	app.Use(Metrics())
	app.Get("/items/:id", func(c *fiber.Ctx) error {
		return c.SendStatus(fiber.StatusNoContent)
	})

	req := httptest.NewRequest(http.MethodGet, "/items/42", nil)
	resp, err := app.Test(req, 5000)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", resp.StatusCode)
	}
}

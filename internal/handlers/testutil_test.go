package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/codeak/portal/internal/database"
	"github.com/codeak/portal/internal/middleware"
	"github.com/codeak/portal/internal/models"
	"github.com/codeak/portal/internal/services"
	"github.com/codeak/portal/internal/storage"
	"github.com/codeak/portal/pkg/logger"
	"github.com/codeak/portal/pkg/utils"
	"github.com/glebarez/sqlite"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/spf13/afero"
	"gopkg.in/telebot.v4"
	"gorm.io/gorm"
)

const testAdminChatID = int64(-1001)

type sentMail struct {
	To      string
	Subject string
	Body    string
}

type fakeMailer struct {
	mu   sync.Mutex
	sent []sentMail
}

func (m *fakeMailer) Send(ctx context.Context, to, subject, body string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, sentMail{To: to, Subject: subject, Body: body})
	return nil
}

func (m *fakeMailer) last(t *testing.T) sentMail {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.sent) == 0 {
		t.Fatalf("expected a mail to be sent")
	}
	return m.sent[len(m.sent)-1]
}

type fakeTelegram struct {
	mu     sync.Mutex
	nextID int
	texts  []string
	err    error
}

func (f *fakeTelegram) Send(to telebot.Recipient, what interface{}, opts ...interface{}) (*telebot.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	f.nextID++
	f.texts = append(f.texts, fmt.Sprint(what))
	return &telebot.Message{ID: f.nextID}, nil
}

type testEnv struct {
	app      *fiber.App
	db       *gorm.DB
	store    storage.FileStore
	mailer   *fakeMailer
	telegram *fakeTelegram
	support  *services.SupportRelay
	logFile  string
}

var testSetupOnce sync.Once

func setupTestEnv(t *testing.T, overrides ...func(*Deps)) *testEnv {
	t.Helper()

	testSetupOnce.Do(func() {
		logger.SetGlobal(logger.New(io.Discard))
		utils.ConfigureJWT("test-secret", time.Hour)
	})

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{TranslateError: true})
	if err != nil {
		t.Fatalf("failed opening in-memory sqlite database: %v", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("failed getting sql.DB from gorm: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)

	t.Cleanup(func() {
		_ = sqlDB.Close()
	})

	if err := database.Migrate(db); err != nil {
		t.Fatalf("failed automigrating models: %v", err)
	}

	env := &testEnv{
		db:       db,
		store:    storage.NewLocalStore(afero.NewMemMapFs()),
		mailer:   &fakeMailer{},
		telegram: &fakeTelegram{},
		logFile:  filepath.Join(t.TempDir(), "app.log"),
	}

	env.support = services.NewSupportRelayWithSender(db, env.telegram, testAdminChatID)

	app := fiber.New(fiber.Config{BodyLimit: 20 * 1024 * 1024})
	app.Use(recover.New(recover.Config{EnableStackTrace: true}))
	app.Use(middleware.CORS("http://localhost:5173"))
	app.Use(middleware.RequestLogger())
	app.Use(middleware.SecurityLogger())

	deps := Deps{
		DB:            db,
		Store:         env.store,
		Mailer:        env.mailer,
		Relay:         env.support,
		FrontendURL:   "http://localhost:5173",
		PublicBaseURL: "http://api.test",
		LogFile:       env.logFile,
	}
	for _, override := range overrides {
		override(&deps)
	}
	RegisterRoutes(app, deps)

	env.app = app
	return env
}

// logToFile sends the global logger to the env's log file for the rest of
// the test, the way the server's file sink does.
func logToFile(t *testing.T, env *testEnv) {
	t.Helper()
	f, err := os.OpenFile(env.logFile, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		t.Fatalf("opening log file: %v", err)
	}
	logger.SetGlobal(logger.New(f))
	t.Cleanup(func() {
		logger.SetGlobal(logger.New(io.Discard))
		_ = f.Close()
	})
}

func createTestUser(t *testing.T, db *gorm.DB, login, password string, role models.UserRole) (*models.User, string) {
	t.Helper()

	hash, err := utils.HashPassword(password)
	if err != nil {
		t.Fatalf("failed hashing password: %v", err)
	}

	user := &models.User{
		Login:        login,
		Username:     "Test",
		LastName:     "User",
		Email:        login + "@test.com",
		PasswordHash: hash,
		Role:         role,
	}
	if err := db.Create(user).Error; err != nil {
		t.Fatalf("failed creating test user: %v", err)
	}

	token, err := utils.GenerateToken(user)
	if err != nil {
		t.Fatalf("failed generating auth token: %v", err)
	}

	return user, token
}

func authHeaders(token string) map[string]string {
	return map[string]string{"Authorization": "Bearer " + token}
}

func performRequest(t *testing.T, app *fiber.App, method, path string, body io.Reader, headers map[string]string) *http.Response {
	t.Helper()

	req := httptest.NewRequest(method, path, body)
	for key, value := range headers {
		req.Header.Set(key, value)
	}

	resp, err := app.Test(req, int((10 * time.Second).Milliseconds()))
	if err != nil {
		t.Fatalf("request %s %s failed: %v", method, path, err)
	}

	return resp
}

func performJSONRequest(t *testing.T, app *fiber.App, method, path string, payload any, headers map[string]string) *http.Response {
	t.Helper()

	var body io.Reader
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			t.Fatalf("failed to marshal payload: %v", err)
		}
		body = bytes.NewReader(encoded)
	}

	requestHeaders := map[string]string{}
	for key, value := range headers {
		requestHeaders[key] = value
	}
	if payload != nil {
		requestHeaders["Content-Type"] = "application/json"
	}

	return performRequest(t, app, method, path, body, requestHeaders)
}

type uploadFile struct {
	Field    string
	Name     string
	Contents []byte
}

func performMultipartRequest(t *testing.T, app *fiber.App, method, path string, fields map[string]string, files []uploadFile, headers map[string]string) *http.Response {
	t.Helper()

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	for key, value := range fields {
		if err := writer.WriteField(key, value); err != nil {
			t.Fatalf("failed writing field %s: %v", key, err)
		}
	}
	for _, file := range files {
		part, err := writer.CreateFormFile(file.Field, file.Name)
		if err != nil {
			t.Fatalf("failed creating form file %s: %v", file.Name, err)
		}
		if _, err := part.Write(file.Contents); err != nil {
			t.Fatalf("failed writing form file %s: %v", file.Name, err)
		}
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("failed closing multipart writer: %v", err)
	}

	requestHeaders := map[string]string{"Content-Type": writer.FormDataContentType()}
	for key, value := range headers {
		requestHeaders[key] = value
	}

	return performRequest(t, app, method, path, &buf, requestHeaders)
}

func decodeJSONMap(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("failed reading response body: %v", err)
	}

	var payload map[string]any
	if err := json.Unmarshal(raw, &payload); err != nil {
		t.Fatalf("failed decoding JSON response: %v body=%q", err, string(raw))
	}

	return payload
}

func dataMap(t *testing.T, body map[string]any) map[string]any {
	t.Helper()
	data, ok := body["data"].(map[string]any)
	if !ok {
		t.Fatalf("expected data object, got %+v", body)
	}
	return data
}

func dataList(t *testing.T, body map[string]any) []any {
	t.Helper()
	data, ok := body["data"].([]any)
	if !ok {
		t.Fatalf("expected data array, got %+v", body)
	}
	return data
}

func assertStatus(t *testing.T, resp *http.Response, expected int) {
	t.Helper()
	if resp.StatusCode != expected {
		raw, _ := io.ReadAll(resp.Body)
		t.Fatalf("expected status %d, got %d body=%s", expected, resp.StatusCode, string(raw))
	}
}

func assertEnvelopeError(t *testing.T, body map[string]any, expected string) {
	t.Helper()
	if success, _ := body["success"].(bool); success {
		t.Fatalf("expected success=false, got %+v", body)
	}
	if got, _ := body["error"].(string); got != expected {
		t.Fatalf("expected error %q, got %q", expected, got)
	}
}

func assertErrorCode(t *testing.T, body map[string]any, expected string) {
	t.Helper()
	if got, _ := body["code"].(string); got != expected {
		t.Fatalf("expected code %q, got %q (body %+v)", expected, got, body)
	}
}

func assertStored(t *testing.T, store storage.FileStore, key string, want bool) {
	t.Helper()
	exists, err := store.Exists(context.Background(), key)
	if err != nil {
		t.Fatalf("checking %s: %v", key, err)
	}
	if exists != want {
		t.Fatalf("expected exists(%s)=%v, got %v", key, want, exists)
	}
}

func readStored(t *testing.T, store storage.FileStore, key string) string {
	t.Helper()
	text, err := readText(context.Background(), store, key)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			t.Fatalf("expected %s to be stored", key)
		}
		t.Fatalf("reading %s: %v", key, err)
	}
	return text
}

// pngBytes is enough of a PNG header for content sniffing.
var pngBytes = []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n', 0, 0, 0, 0x0d, 'I', 'H', 'D', 'R', 0, 0, 0, 1, 0, 0, 0, 1, 8, 2, 0, 0, 0}

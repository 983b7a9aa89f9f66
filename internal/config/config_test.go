package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("expected defaults to load, got error: %v", err)
	}

	if cfg.Server.Port != "8080" {
		t.Fatalf("expected default port 8080, got %q", cfg.Server.Port)
	}
	if cfg.JWT.Expiration() != time.Hour {
		t.Fatalf("expected default token expiration of one hour, got %s", cfg.JWT.Expiration())
	}
	if cfg.Storage.Backend != "local" {
		t.Fatalf("expected local storage backend, got %q", cfg.Storage.Backend)
	}
	if cfg.Telegram.Token != "" {
		t.Fatal("expected support relay to be disabled by default")
	}
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("DB_HOST", "db.internal")
	t.Setenv("SERVER_PORT", "9090")
	t.Setenv("JWT_EXPIRATION_MINUTES", "15")
	t.Setenv("UPLOADS_DIR", "/srv/uploads")
	t.Setenv("TELEGRAM_TOKEN", "123:abc")
	t.Setenv("TELEGRAM_ADMIN_CHAT_ID", "-100200")
	t.Setenv("TELEGRAM_POLL_TIMEOUT", "3s")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("expected environment config to load, got error: %v", err)
	}

	if cfg.DB.Host != "db.internal" {
		t.Fatalf("expected db host from env, got %q", cfg.DB.Host)
	}
	if cfg.Server.Port != "9090" {
		t.Fatalf("expected port from env, got %q", cfg.Server.Port)
	}
	if cfg.JWT.Expiration() != 15*time.Minute {
		t.Fatalf("expected 15m expiration, got %s", cfg.JWT.Expiration())
	}
	if cfg.Storage.UploadsDir != "/srv/uploads" {
		t.Fatalf("expected uploads dir alias to apply, got %q", cfg.Storage.UploadsDir)
	}
	if cfg.Telegram.AdminChatID != -100200 {
		t.Fatalf("expected admin chat id -100200, got %d", cfg.Telegram.AdminChatID)
	}
	if cfg.Telegram.PollTimeout != 3*time.Second {
		t.Fatalf("expected poll timeout 3s, got %s", cfg.Telegram.PollTimeout)
	}
}

func TestLoadConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := "server:\n  port: \"7070\"\nstorage:\n  backend: minio\nminio:\n  bucket: course-files\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("failed writing config file: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("expected config file to load, got error: %v", err)
	}
	if cfg.Server.Port != "7070" {
		t.Fatalf("expected port from file, got %q", cfg.Server.Port)
	}
	if cfg.Storage.Backend != "minio" || cfg.MinIO.Bucket != "course-files" {
		t.Fatalf("expected minio backend with bucket course-files, got %q / %q", cfg.Storage.Backend, cfg.MinIO.Bucket)
	}
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	testCases := []struct {
		name string
		env  map[string]string
	}{
		{name: "unknown storage backend", env: map[string]string{"STORAGE_BACKEND": "ftp"}},
		{name: "non-positive expiration", env: map[string]string{"JWT_EXPIRATION_MINUTES": "0"}},
		{name: "bot token without admin chat", env: map[string]string{"TELEGRAM_TOKEN": "123:abc"}},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			for key, value := range tc.env {
				t.Setenv(key, value)
			}
			if _, err := Load(""); err == nil {
				t.Fatal("expected config validation to fail")
			}
		})
	}
}

func TestDSN(t *testing.T) {
	dsn := DBConfig{Host: "h", Port: "1", User: "u", Password: "p", Name: "n", SSLMode: "disable"}.DSN()
	want := "host=h port=1 user=u password=p dbname=n sslmode=disable"
	if dsn != want {
		t.Fatalf("expected %q, got %q", want, dsn)
	}
}

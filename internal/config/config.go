package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	DB       DBConfig       `mapstructure:"db"`
	Server   ServerConfig   `mapstructure:"server"`
	JWT      JWTConfig      `mapstructure:"jwt"`
	Storage  StorageConfig  `mapstructure:"storage"`
	MinIO    MinIOConfig    `mapstructure:"minio"`
	SMTP     SMTPConfig     `mapstructure:"smtp"`
	Telegram TelegramConfig `mapstructure:"telegram"`
	Log      LogConfig      `mapstructure:"log"`
}

type DBConfig struct {
	Host     string `mapstructure:"host"`
	Port     string `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Name     string `mapstructure:"name"`
	SSLMode  string `mapstructure:"sslmode"`
}

func (c DBConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode,
	)
}

type ServerConfig struct {
	Port          string `mapstructure:"port"`
	FrontendURL   string `mapstructure:"frontend_url"`
	PublicBaseURL string `mapstructure:"public_base_url"`
	BodyLimitMB   int    `mapstructure:"body_limit_mb"`
}

type JWTConfig struct {
	Secret            string `mapstructure:"secret"`
	ExpirationMinutes int    `mapstructure:"expiration_minutes"`
}

func (c JWTConfig) Expiration() time.Duration {
	return time.Duration(c.ExpirationMinutes) * time.Minute
}

type StorageConfig struct {
	Backend    string `mapstructure:"backend"`
	UploadsDir string `mapstructure:"uploads_dir"`
}

type MinIOConfig struct {
	Endpoint  string `mapstructure:"endpoint"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	Bucket    string `mapstructure:"bucket"`
	Region    string `mapstructure:"region"`
	UseSSL    bool   `mapstructure:"use_ssl"`
}

type SMTPConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	From     string `mapstructure:"from"`
}

// TelegramConfig leaves the support relay disabled when Token is empty.
type TelegramConfig struct {
	Token       string        `mapstructure:"token"`
	AdminChatID int64         `mapstructure:"admin_chat_id"`
	PollTimeout time.Duration `mapstructure:"poll_timeout"`
}

type LogConfig struct {
	File string `mapstructure:"file"`
}

var defaults = map[string]interface{}{
	"db.host":                "localhost",
	"db.port":                "5432",
	"db.user":                "codeak",
	"db.password":            "codeak_secret",
	"db.name":                "codeak",
	"db.sslmode":             "disable",
	"server.port":            "8080",
	"server.frontend_url":    "http://localhost:5173",
	"server.public_base_url": "http://localhost:8080",
	"server.body_limit_mb":   20,
	"jwt.secret":             "change-me-in-production",
	"jwt.expiration_minutes": 60,
	"storage.backend":        "local",
	"storage.uploads_dir":    "uploads",
	"minio.endpoint":         "localhost:9000",
	"minio.access_key":       "codeak",
	"minio.secret_key":       "codeak_secret",
	"minio.bucket":           "codeak",
	"minio.region":           "",
	"minio.use_ssl":          false,
	"smtp.host":              "",
	"smtp.port":              587,
	"smtp.username":          "",
	"smtp.password":          "",
	"smtp.from":              "no-reply@codeak.local",
	"telegram.token":         "",
	"telegram.admin_chat_id": 0,
	"telegram.poll_timeout":  10 * time.Second,
	"log.file":               "logs/app.log",
}

// Short env names kept for existing deployments.
var aliases = map[string][]string{
	"storage.uploads_dir":    {"UPLOADS_DIR"},
	"server.frontend_url":    {"FRONTEND_URL"},
	"server.public_base_url": {"PUBLIC_BASE_URL"},
	"telegram.token":         {"TELEGRAM_BOT_TOKEN"},
	"log.file":               {"LOG_FILE"},
}

// Load reads .env (if present), an optional config file and the environment.
// Nested keys map to env names by replacing dots, e.g. db.host -> DB_HOST.
func Load(configFile string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("loading .env: %w", err)
	}

	v := viper.New()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, names := range aliases {
		if err := v.BindEnv(append([]string{key, strings.ToUpper(strings.ReplaceAll(key, ".", "_"))}, names...)...); err != nil {
			return nil, fmt.Errorf("binding %s: %w", key, err)
		}
	}

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshalling config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.Storage.Backend {
	case "local", "minio":
	default:
		return fmt.Errorf("storage.backend must be local or minio, got %q", c.Storage.Backend)
	}
	if c.JWT.ExpirationMinutes <= 0 {
		return fmt.Errorf("jwt.expiration_minutes must be positive")
	}
	if c.Telegram.Token != "" && c.Telegram.AdminChatID == 0 {
		return fmt.Errorf("telegram.admin_chat_id is required when a bot token is set")
	}
	return nil
}

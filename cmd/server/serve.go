package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/codeak/portal/internal/config"
	"github.com/codeak/portal/internal/database"
	"github.com/codeak/portal/internal/handlers"
	"github.com/codeak/portal/internal/middleware"
	"github.com/codeak/portal/internal/services"
	"github.com/codeak/portal/internal/storage"
	"github.com/codeak/portal/pkg/logger"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/spf13/cobra"
)

const shutdownTimeout = 10 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe(cmd)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command) error {
	db, err := database.Connect(cfg.DB)
	if err != nil {
		return fmt.Errorf("database connection failed: %w", err)
	}
	if err := database.Migrate(db); err != nil {
		return fmt.Errorf("database migration failed: %w", err)
	}

	store, err := openStore(cmd.Context(), cfg)
	if err != nil {
		return err
	}

	relay, err := services.NewSupportRelay(db, cfg.Telegram)
	if err != nil {
		return fmt.Errorf("support relay initialization failed: %w", err)
	}
	go relay.Start()

	app := fiber.New(fiber.Config{BodyLimit: cfg.Server.BodyLimitMB * 1024 * 1024})
	app.Use(recover.New(recover.Config{EnableStackTrace: true}))
	app.Use(middleware.CORS(cfg.Server.FrontendURL))
	app.Use(middleware.RequestLogger())
	app.Use(middleware.SecurityLogger())
	app.Use(middleware.Metrics())

	handlers.RegisterRoutes(app, handlers.Deps{
		DB:            db,
		Store:         store,
		Mailer:        services.NewMailer(cfg.SMTP),
		Relay:         relay,
		FrontendURL:   cfg.Server.FrontendURL,
		PublicBaseURL: cfg.Server.PublicBaseURL,
		LogFile:       cfg.Log.File,
	})

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server_started", map[string]interface{}{
			"port":    cfg.Server.Port,
			"storage": cfg.Storage.Backend,
		})
		errCh <- app.Listen(":" + cfg.Server.Port)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	select {
	case err := <-errCh:
		relay.Stop()
		return fmt.Errorf("server stopped: %w", err)
	case sig := <-quit:
		logger.Info("server_shutting_down", map[string]interface{}{"signal": sig.String()})
	}

	relay.Stop()
	if err := app.ShutdownWithTimeout(shutdownTimeout); err != nil {
		logger.Error("server_shutdown_failed", err, nil)
	}

	if sqlDB, err := db.DB(); err == nil {
		_ = sqlDB.Close()
	}
	logger.Info("server_stopped", nil)
	return nil
}

func openStore(ctx context.Context, cfg *config.Config) (storage.FileStore, error) {
	if cfg.Storage.Backend == "minio" {
		store, err := storage.NewMinIOStore(cfg.MinIO)
		if err != nil {
			return nil, fmt.Errorf("minio initialization failed: %w", err)
		}
		if err := store.EnsureBucket(ctx); err != nil {
			return nil, fmt.Errorf("failed ensuring minio bucket: %w", err)
		}
		return store, nil
	}

	store, err := storage.NewOSLocalStore(cfg.Storage.UploadsDir)
	if err != nil {
		return nil, fmt.Errorf("local storage initialization failed: %w", err)
	}
	return store, nil
}

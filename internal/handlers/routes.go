package handlers

import (
	"time"

	"github.com/codeak/portal/internal/middleware"
	"github.com/codeak/portal/internal/models"
	"github.com/codeak/portal/internal/services"
	"github.com/codeak/portal/internal/storage"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gorm.io/gorm"
)

// Deps carries everything the route table needs. The server and the
// handler tests build the same app from it.
type Deps struct {
	DB            *gorm.DB
	Store         storage.FileStore
	Mailer        services.Mailer
	Relay         *services.SupportRelay
	FrontendURL   string
	PublicBaseURL string
	LogFile       string
	// Now overrides the dashboard clock when set.
	Now func() time.Time
}

func RegisterRoutes(app *fiber.App, deps Deps) {
	authMiddleware := middleware.NewAuthMiddleware(deps.DB)
	ranking := services.NewRankingService()
	ordering := services.NewOrderingService()

	authHandler := NewAuthHandler(deps.DB, deps.Mailer, deps.FrontendURL)
	profileHandler := NewProfileHandler(deps.DB, deps.Store, deps.Mailer, deps.PublicBaseURL)
	adminToolsHandler := NewAdminToolsHandler(deps.DB, deps.Store)
	rolesHandler := NewRolesHandler(authMiddleware)
	teamsHandler := NewTeamsHandler(deps.DB, ranking)
	coursesHandler := NewCoursesHandler(deps.DB, deps.Store, authMiddleware, ordering)
	sectionsHandler := NewSectionsHandler(deps.DB, deps.Store, authMiddleware, ordering)
	teamCoursesHandler := NewTeamCoursesHandler(deps.DB)
	newsHandler := NewNewsHandler(deps.DB, deps.Store, authMiddleware, ordering)
	contactsHandler := NewContactsHandler(deps.DB)
	dashboardHandler := NewDashboardHandler(deps.DB)
	if deps.Now != nil {
		dashboardHandler.Now = deps.Now
	}
	logsHandler := NewLogsHandler(deps.LogFile)
	reportsHandler := NewReportsHandler(deps.DB, deps.Relay)
	uploadsHandler := NewUploadsHandler(deps.Store)

	requireAuth := authMiddleware.RequireAuth
	staffOnly := authMiddleware.RequireRoles(models.StaffRoles...)
	adminOnly := authMiddleware.RequireRoles(models.UserRoleAdmin)

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.Status(fiber.StatusOK).JSON(fiber.Map{"status": "ok"})
	})
	app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))
	app.Get("/uploads/*", uploadsHandler.Serve)

	authRoutes := app.Group("/auth")
	authRoutes.Post("/register", authHandler.Register)
	authRoutes.Post("/verify-email", authHandler.VerifyEmail)
	authRoutes.Post("/login", authHandler.Login)
	authRoutes.Post("/forgot-password", authHandler.ForgotPassword)
	authRoutes.Post("/reset-password/:token", authHandler.ResetPassword)
	authRoutes.Post("/active", requireAuth, authHandler.Active)
	authRoutes.Get("/profile", requireAuth, authHandler.Profile)

	userRoutes := app.Group("/user", requireAuth)
	userRoutes.Get("/profile", profileHandler.Get)
	userRoutes.Put("/profile", profileHandler.Update)
	userRoutes.Post("/profile/avatar", profileHandler.UploadAvatar)
	userRoutes.Post("/resend-verification", profileHandler.ResendVerification)
	userRoutes.Post("/verify-email", profileHandler.VerifyEmail)

	adminToolRoutes := app.Group("/admin-tools", requireAuth, staffOnly)
	adminToolRoutes.Get("/", adminToolsHandler.List)
	adminToolRoutes.Get("/groups", adminToolsHandler.Groups)
	adminToolRoutes.Post("/create", adminToolsHandler.Create)
	adminToolRoutes.Put("/:id/group", adminToolsHandler.ChangeGroup)
	adminToolRoutes.Put("/:id/codegroup", adminToolsHandler.ChangeCodeGroup)
	adminToolRoutes.Patch("/:id/reset-password", adminToolsHandler.ResetPassword)
	adminToolRoutes.Put("/:id", adminToolsHandler.Update)
	adminToolRoutes.Delete("/:id", adminToolsHandler.Delete)

	app.Get("/isadmin/checkadmin", requireAuth, rolesHandler.CheckAdmin)
	app.Get("/ismentor/checkmentor", requireAuth, rolesHandler.CheckMentor)

	teamRoutes := app.Group("/teams", requireAuth)
	teamRoutes.Get("/", teamsHandler.ListTeams)
	teamRoutes.Get("/individuals", teamsHandler.ListIndividuals)
	teamRoutes.Post("/", staffOnly, teamsHandler.CreateTeam)
	teamRoutes.Post("/from-group", staffOnly, teamsHandler.CreateFromGroup)
	teamRoutes.Post("/individual", staffOnly, teamsHandler.CreateIndividual)
	teamRoutes.Put("/individual/:id", staffOnly, teamsHandler.UpdateIndividual)
	teamRoutes.Delete("/individual/:id", staffOnly, teamsHandler.DeleteIndividual)
	teamRoutes.Put("/:id", staffOnly, teamsHandler.UpdateTeam)
	teamRoutes.Delete("/:id", staffOnly, teamsHandler.DeleteTeam)

	courseRoutes := app.Group("/courses", requireAuth)
	courseRoutes.Get("/view", coursesHandler.View)
	courseRoutes.Get("/", staffOnly, coursesHandler.List)
	courseRoutes.Post("/", adminOnly, coursesHandler.Create)
	courseRoutes.Put("/reorder", staffOnly, coursesHandler.Reorder)
	courseRoutes.Get("/:id", coursesHandler.Get)
	courseRoutes.Put("/:id", staffOnly, coursesHandler.Update)
	courseRoutes.Delete("/:id", staffOnly, coursesHandler.Delete)
	courseRoutes.Put("/:id/visibility", staffOnly, coursesHandler.ToggleVisibility)

	sectionRoutes := courseRoutes.Group("/:id/sections")
	sectionRoutes.Get("/view", sectionsHandler.View)
	sectionRoutes.Get("/", staffOnly, sectionsHandler.List)
	sectionRoutes.Post("/", staffOnly, sectionsHandler.Create)
	sectionRoutes.Put("/content", staffOnly, sectionsHandler.UpdateContent)
	sectionRoutes.Put("/reorder", staffOnly, sectionsHandler.Reorder)
	sectionRoutes.Put("/visibility/:sectionId", staffOnly, sectionsHandler.SetVisibility)
	sectionRoutes.Get("/:sectionId", sectionsHandler.Get)
	sectionRoutes.Put("/:sectionId", staffOnly, sectionsHandler.Update)
	sectionRoutes.Delete("/:sectionId/attachments/:fileId", staffOnly, sectionsHandler.DeleteAttachment)
	sectionRoutes.Delete("/:sectionId", staffOnly, sectionsHandler.Delete)

	teamCourseRoutes := app.Group("/team-courses", requireAuth, staffOnly)
	teamCourseRoutes.Get("/teams/all", teamCoursesHandler.AllTeams)
	teamCourseRoutes.Get("/:courseId/teams", teamCoursesHandler.CourseTeams)
	teamCourseRoutes.Put("/:courseId/teams", teamCoursesHandler.SetCourseTeams)

	newsRoutes := app.Group("/news", requireAuth)
	newsRoutes.Get("/view", newsHandler.View)
	newsRoutes.Get("/", staffOnly, newsHandler.List)
	newsRoutes.Post("/add", staffOnly, newsHandler.Add)
	newsRoutes.Put("/edit/:id", staffOnly, newsHandler.Edit)
	newsRoutes.Delete("/delete/:id", staffOnly, newsHandler.Delete)
	newsRoutes.Put("/reorder", staffOnly, newsHandler.Reorder)
	newsRoutes.Get("/content/:id", newsHandler.GetContent)
	newsRoutes.Put("/content/:id", staffOnly, newsHandler.UpdateContent)
	newsRoutes.Delete("/attachment/:id", staffOnly, newsHandler.DeleteAttachment)
	newsRoutes.Put("/visibility/:id", staffOnly, newsHandler.SetVisibility)

	contactRoutes := app.Group("/contacts", requireAuth)
	contactRoutes.Get("/", contactsHandler.List)
	contactRoutes.Post("/", adminOnly, contactsHandler.Create)
	contactRoutes.Put("/:id", adminOnly, contactsHandler.Update)
	contactRoutes.Delete("/:id", adminOnly, contactsHandler.Delete)

	app.Get("/dashboard", requireAuth, staffOnly, dashboardHandler.Get)
	app.Get("/logs/view", requireAuth, staffOnly, logsHandler.View)

	reportRoutes := app.Group("/reports", requireAuth)
	reportRoutes.Post("/send", reportsHandler.Send)
	reportRoutes.Get("/user", reportsHandler.ListOwn)
}

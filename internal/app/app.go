package app

import (
	"rentline-backend/internal/audit"
	"rentline-backend/internal/auth"
	"rentline-backend/internal/booking"
	"rentline-backend/internal/config"
	"rentline-backend/internal/constants"
	"rentline-backend/internal/database"
	"rentline-backend/internal/deposits"
	"rentline-backend/internal/fleet"
	"rentline-backend/internal/handover"
	"rentline-backend/internal/health"
	"rentline-backend/internal/middleware"
	"rentline-backend/internal/notify"
	"rentline-backend/internal/returns"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

// CreateApp builds the Fiber app with all global middleware and route
// registration. Returns DB and Redis handles so main can ping them on boot.
func CreateApp(cfg *config.Config) (*fiber.App, *gorm.DB, *redis.Client, error) {
	app := fiber.New(fiber.Config{
		DisableStartupMessage:   true,
		ErrorHandler:            middleware.ErrorHandler,
		EnableTrustedProxyCheck: true,
	})

	// CORS (before session)
	app.Use(middleware.CORS(middleware.CORSConfig{
		AllowedSuffix: cfg.FrontendURLEndsWith,
		DevPassword:   cfg.DevPassword,
	}))

	// Processor webhook: mounted early, before session; handler reads raw
	// body + Stripe-Signature and verifies the HMAC itself.
	depositWebhook := &deposits.WebhookHandler{WebhookSecret: cfg.StripeWebhookSecret}
	app.Post("/api/v1/deposits/webhook", func(c *fiber.Ctx) error {
		return depositWebhook.HandleWebhook(c)
	})

	// Session (Redis); the client is shared with the health marker
	sessionCfg := middleware.SessionConfig{
		Secret:            cfg.SessionSecret,
		RedisURL:          cfg.RedisURL,
		AllowCrossSiteDev: cfg.AllowCrossSiteDev,
		IsProduction:      cfg.Env == "production",
	}
	sessionHandler, rdb, err := middleware.Session(sessionCfg)
	if err != nil {
		return nil, nil, nil, err
	}
	app.Use(sessionHandler)

	app.Use(middleware.HealthMarker(rdb))
	app.Use(middleware.ResponseFormatter())
	app.Use(middleware.Tracing())
	app.Use(middleware.RouteLogger())

	// --- Routes (no auth) ---
	healthHandlers := &health.Handlers{
		Rdb:            rdb,
		DB:             nil,
		HealthAdminKey: cfg.HealthAdminKey,
	}
	app.Get("/reset", healthHandlers.Reset)
	app.Get("/health/json", healthHandlers.JSON)
	app.Get("/health/errors", healthHandlers.Errors)

	var db *gorm.DB
	if cfg.DatabaseURL != "" {
		db, err = database.Open(cfg.DatabaseURL)
		if err != nil {
			return nil, nil, nil, err
		}
		if sqlDB, derr := db.DB(); derr == nil {
			healthHandlers.DB = sqlDB
		}
	}

	var userFinder auth.UserFinder
	if db != nil {
		userFinder = &auth.GormUserFinder{DB: db}
	}
	authHandlers := &auth.Handlers{
		UserFinder: userFinder,
		Rdb:        rdb,
		Config:     sessionCfg,
	}
	authGroup := app.Group("/api/v1/auth")
	authGroup.Post("/login", authHandlers.Login)
	authGroup.Get("/me", authHandlers.Me)
	authGroup.Delete("/logout", authHandlers.Logout)

	// --- Protected modules (auth required) ---
	if db != nil && rdb != nil {
		dispatcher := notify.NewDispatcher(cfg.SendinblueAPIKey, cfg.MailFrom)

		fleetService := &fleet.Service{DB: db}
		depositService := &deposits.Service{
			DB:         db,
			Authorizer: deposits.NewStripeAuthorizer(cfg.StripeSecretKey),
			Currency:   cfg.DepositCurrency,
			Notify:     dispatcher,
		}
		depositWebhook.Service = depositService

		bookingService := &booking.Service{
			DB:       db,
			Fleet:    fleetService,
			Deposits: depositService,
			Notify:   dispatcher,
		}
		handoverService := &handover.Service{DB: db, Notify: dispatcher}
		returnsService := &returns.Service{DB: db, Notify: dispatcher}

		bookingHandlers := &booking.Handlers{Service: bookingService}
		bookingGroup := app.Group("/api/v1/bookings", middleware.RequireAuth())
		bookingGroup.Post("/quote", middleware.AuthorizePermission(constants.ViewData), bookingHandlers.Quote)
		bookingGroup.Post("/checkout", middleware.AuthorizePermission(constants.CreateBooking), bookingHandlers.Checkout)
		bookingGroup.Post("/:id/lock-pricing", middleware.AuthorizePermission(constants.EditBooking), bookingHandlers.LockPricing)
		bookingGroup.Post("/:id/confirm", middleware.AuthorizePermission(constants.EditBooking), bookingHandlers.Confirm)
		bookingGroup.Patch("/:id", middleware.AuthorizePermission(constants.EditBooking), bookingHandlers.Edit)
		bookingGroup.Post("/:id/cancel", middleware.AuthorizePermission(constants.CancelBooking), bookingHandlers.Cancel)
		bookingGroup.Get("/:id", middleware.AuthorizePermission(constants.ViewData), bookingHandlers.Get)

		fleetHandlers := &fleet.Handlers{Service: fleetService}
		fleetGroup := app.Group("/api/v1/fleet", middleware.RequireAuth())
		fleetGroup.Get("/available", middleware.AuthorizePermission(constants.ViewData), fleetHandlers.FindAvailable)
		fleetGroup.Post("/holds", middleware.AuthorizePermission(constants.CreateBooking), fleetHandlers.PlaceHold)
		fleetGroup.Delete("/holds/:id", middleware.AuthorizePermission(constants.CreateBooking), fleetHandlers.ReleaseHold)
		fleetGroup.Post("/bookings/:id/assign", middleware.AuthorizePermission(constants.RecordSteps), fleetHandlers.AssignUnit)
		fleetGroup.Post("/bookings/:id/assign-unit", middleware.AuthorizePermission(constants.RecordSteps), fleetHandlers.AssignSpecificUnit)
		fleetGroup.Post("/bookings/:id/release-unit", middleware.AuthorizePermission(constants.ManageFleet), fleetHandlers.ReleaseUnit)
		fleetGroup.Post("/bookings/:id/change-category", middleware.AuthorizePermission(constants.ManageFleet), fleetHandlers.ChangeCategory)
		fleetGroup.Post("/bookings/:id/remove-upgrade", middleware.AuthorizePermission(constants.ManageFleet), fleetHandlers.RemoveUpgrade)

		handoverHandlers := &handover.Handlers{Service: handoverService}
		handoverGroup := app.Group("/api/v1/handover", middleware.RequireAuth())
		handoverGroup.Post("/:id/identity", middleware.AuthorizePermission(constants.RecordSteps), handoverHandlers.RecordIdentity)
		handoverGroup.Post("/:id/agreement", middleware.AuthorizePermission(constants.RecordSteps), handoverHandlers.RecordAgreement)
		handoverGroup.Post("/:id/inspection", middleware.AuthorizePermission(constants.RecordSteps), handoverHandlers.RecordInspection)
		handoverGroup.Post("/:id/photos", middleware.AuthorizePermission(constants.RecordSteps), handoverHandlers.AddPhotos)
		handoverGroup.Post("/:id/delivery", middleware.AuthorizePermission(constants.RecordSteps), handoverHandlers.SetDeliveryProgress)
		handoverGroup.Post("/:id/activate", middleware.AuthorizePermission(constants.ActivateBooking), handoverHandlers.Activate)
		handoverGroup.Post("/:id/backup-activate", middleware.AuthorizePermission(constants.BackupActivate), handoverHandlers.BackupActivate)

		returnsHandlers := &returns.Handlers{Service: returnsService}
		returnsGroup := app.Group("/api/v1/returns", middleware.RequireAuth())
		returnsGroup.Post("/:id/transition", middleware.AuthorizePermission(constants.RecordReturn), returnsHandlers.Transition)
		returnsGroup.Post("/:id/finalize", middleware.AuthorizePermission(constants.FinalizeBooking), returnsHandlers.Finalize)

		depositHandlers := &deposits.Handlers{Service: depositService}
		depositGroup := app.Group("/api/v1/deposits", middleware.RequireAuth())
		depositGroup.Post("/:id/hold", middleware.AuthorizePermission(constants.CreateBooking), depositHandlers.CreateHold)
		depositGroup.Post("/:id/capture", middleware.AuthorizePermission(constants.CaptureDeposit), depositHandlers.CaptureHold)
		depositGroup.Post("/:id/release", middleware.AuthorizePermission(constants.ReleaseDeposit), depositHandlers.ReleaseHold)
		depositGroup.Post("/:id/refresh", middleware.AuthorizePermission(constants.ViewData), depositHandlers.Refresh)
		depositGroup.Get("/:id", middleware.AuthorizePermission(constants.ViewData), depositHandlers.Get)

		auditHandlers := &audit.Handlers{DB: db}
		app.Get("/api/v1/audit/:entity_type/:id", middleware.RequireAuth(), middleware.AuthorizePermission(constants.ViewData), auditHandlers.ForEntity)
	}

	return app, db, rdb, nil
}

package app

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"fretes-chat/internal/config"
	"fretes-chat/internal/db"
	"fretes-chat/internal/handlers"
	"fretes-chat/internal/presence"
	"fretes-chat/internal/queue"
	"fretes-chat/internal/repository"
	"fretes-chat/internal/services"
	"fretes-chat/internal/utils"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
)

// Deps are the wired components the HTTP layer serves.
type Deps struct {
	Chat   *services.ChatService
	Users  *services.UserService
	Offers *services.OfferService
	Hub    *presence.Hub
	// DBCheck reports database health; nil means no database (memory store).
	DBCheck func(ctx context.Context) error
}

// New builds the fiber app with middleware and routes.
func New(cfg *config.Config, d Deps) *fiber.App {
	app := fiber.New(fiber.Config{
		AppName:      "fretes-chat",
		ErrorHandler: handlers.ErrorHandler,
	})

	// Middleware
	app.Use(logger.New())
	app.Use(recover.New())
	app.Use(cors.New(cors.Config{AllowOrigins: cfg.CORSOrigins}))

	auth := handlers.AuthMiddleware(d.Users)

	// Routes
	api := app.Group("/api")

	// Public Routes
	users := api.Group("/users")
	users.Post("/register", handlers.RegisterHandler(d.Users))
	users.Post("/login", handlers.LoginHandler(d.Users))
	users.Get("/online", auth, handlers.OnlineUsersHandler(d.Hub))
	users.Get("/me", auth, handlers.MeHandler(d.Users))

	// Listing is public; writes are checked for the carrier role and ownership.
	offers := api.Group("/offers")
	offers.Get("/", handlers.ListOffersHandler(d.Offers))
	offers.Get("/:id", handlers.GetOfferHandler(d.Offers))
	offers.Post("/", auth, handlers.CreateOfferHandler(d.Offers))
	offers.Put("/:id", auth, handlers.UpdateOfferHandler(d.Offers))
	offers.Delete("/:id", auth, handlers.DeleteOfferHandler(d.Offers))

	// Protected Routes
	messages := api.Group("/messages", auth)
	messages.Post("/conversations", handlers.ResolveConversationHandler(d.Chat))
	messages.Get("/conversations", handlers.ListConversationsHandler(d.Chat, d.Hub))
	messages.Get("/conversations/:id", handlers.OpenConversationHandler(d.Chat))
	messages.Patch("/conversations/:id/read", handlers.MarkReadHandler(d.Chat))
	messages.Post("/", handlers.SendMessageHandler(d.Chat))
	messages.Get("/unread", handlers.UnreadHandler(d.Chat))

	// Health Check
	app.Get("/health", func(c *fiber.Ctx) error {
		if d.DBCheck == nil {
			return c.JSON(fiber.Map{"status": "ok", "db": "memory"})
		}
		ctx, cancel := context.WithTimeout(c.Context(), 2*time.Second)
		defer cancel()
		if err := d.DBCheck(ctx); err != nil {
			utils.LogError(err, "health")
			return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"status": "degraded", "db": "down"})
		}
		return c.JSON(fiber.Map{"status": "ok", "db": "up"})
	})

	// WebSocket Route
	// Note: Middleware order matters. WSUpgradeMiddleware rejects plain
	// requests before the token is checked.
	app.Use("/ws", handlers.WSUpgradeMiddleware)
	app.Use("/ws", auth)
	app.Get("/ws", handlers.WebSocketHandler(d.Chat, d.Hub))

	return app
}

func Run() {
	cfg := config.Load()
	utils.SetLogLevel(cfg.LogLevel)
	log := utils.Logger()

	if err := cfg.Validate(); err != nil {
		log.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var (
		chatRepo  repository.ChatRepository
		userRepo  repository.UserRepository
		offerRepo repository.OfferRepository
		dbCheck   func(ctx context.Context) error
	)
	if cfg.UseMemoryStore() {
		log.Warn("using in-memory store; data is lost on restart")
		store := repository.NewMemoryStore()
		chatRepo, userRepo, offerRepo = store, store, store
	} else {
		pool, err := db.Connect(ctx, cfg.DatabaseURL)
		if err != nil {
			log.Error("failed to connect to database", "error", err)
			os.Exit(1)
		}
		defer pool.Close()

		if cfg.AutoSchema {
			if err := db.ApplySchema(ctx, pool); err != nil {
				log.Error("failed to apply schema", "error", err)
				os.Exit(1)
			}
		}
		chatRepo = repository.NewPgChatRepository(pool)
		userRepo = repository.NewPgUserRepository(pool)
		offerRepo = repository.NewPgOfferRepository(pool)
		dbCheck = pool.Ping
	}

	// Services
	chatService := services.NewChatService(chatRepo, userRepo, offerRepo)
	userService := services.NewUserService(userRepo, cfg.JWTSecret, cfg.TokenTTL)
	offerService := services.NewOfferService(offerRepo)

	// Presence
	var roster presence.Roster
	if cfg.RedisURL != "" {
		redisRoster, err := presence.NewRedisRoster(ctx, cfg.RedisURL, cfg.PresenceTTL)
		if err != nil {
			log.Error("failed to connect to redis", "error", err)
			os.Exit(1)
		}
		defer redisRoster.Close()
		roster = redisRoster
	}
	hub := presence.NewHub(roster)
	chatService.SetNotifier(hub)
	go hub.RunHeartbeat(ctx, cfg.HeartbeatInterval)

	// Deferred conversation touches
	if cfg.RedisURL != "" {
		queueClient, err := queue.NewClient(cfg.RedisURL)
		if err != nil {
			log.Error("failed to create queue client", "error", err)
			os.Exit(1)
		}
		defer queueClient.Close()
		chatService.SetTouchScheduler(queueClient)

		worker, err := queue.NewServer(cfg.RedisURL, cfg.QueueConcurrency)
		if err != nil {
			log.Error("failed to create queue server", "error", err)
			os.Exit(1)
		}
		worker.RegisterToucher(chatService)
		go func() {
			if err := worker.Run(ctx); err != nil {
				utils.LogError(err, "queue worker")
			}
		}()
	}

	app := New(cfg, Deps{Chat: chatService, Users: userService, Offers: offerService, Hub: hub, DBCheck: dbCheck})

	// Start Server
	go func() {
		if err := app.Listen(":" + cfg.Port); err != nil {
			log.Error("server stopped", "error", err)
			stop()
		}
	}()

	<-ctx.Done() // Block until signal
	log.Info("gracefully shutting down")
	if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
		utils.LogError(err, "shutdown")
	}
	log.Info("server shutdown complete")
}

package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/redis/go-redis/v9"

	"chat-core/internal/bus"
	"chat-core/internal/chat"
	"chat-core/internal/config"
	"chat-core/internal/db"
	"chat-core/internal/ephemeral"
	"chat-core/internal/logging"
	authmw "chat-core/internal/middleware"
	"chat-core/internal/presence"
	"chat-core/internal/user"
	"chat-core/internal/ws"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	logging.New(cfg.LogFormat)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	database, err := db.NewDatabase(ctx, cfg.DatabaseURL)
	if err != nil {
		slog.Error("failed to connect to postgres", "error", err)
		os.Exit(1)
	}
	defer database.Close()
	slog.Info("connected to postgres")

	if err := database.AutoMigrate(ctx); err != nil {
		slog.Error("migration failed", "error", err)
		os.Exit(1)
	}
	slog.Info("database schema initialized")

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
	})
	if err := redisClient.Ping(ctx).Err(); err != nil {
		slog.Error("failed to connect to redis", "error", err)
		os.Exit(1)
	}
	slog.Info("connected to redis", "addr", cfg.RedisAddr)

	tracker := presence.NewTracker(ephemeral.NewRedisStore(redisClient))
	eventBus := bus.NewRedisBus(redisClient)

	userRepo := user.NewRepository(database.Pool)
	userService := user.NewService(userRepo, cfg.JWTSecret)
	userHandler := user.NewHandler(userService)

	chatStore := chat.NewPostgresStore(database.Pool)
	chatService := chat.NewService(chatStore, eventBus)
	chatHandler := chat.NewHandler(chatService, tracker)

	hub := ws.NewHub(eventBus, tracker, chatService)
	go hub.Run(ctx)
	wsHandler := ws.NewHandler(hub)

	authMiddleware := authmw.NewAuthMiddleware(userService)

	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Post("/register", userHandler.Register)
	r.Post("/login", userHandler.Login)

	r.Group(func(r chi.Router) {
		r.Use(authMiddleware.Handle)

		r.Get("/ws", wsHandler.ServeWs)
		r.Get("/api/users/search", userHandler.SearchUsers)

		r.Route("/api/conversations", func(r chi.Router) {
			r.Get("/", chatHandler.ListConversations)
			r.Post("/private", chatHandler.CreatePrivate)
			r.Post("/group", chatHandler.CreateGroup)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", chatHandler.GetConversation)
				r.Put("/", chatHandler.UpdateGroup)
				r.Delete("/", chatHandler.DeleteConversation)
				r.Post("/members", chatHandler.AddMember)
				r.Delete("/members/{memberId}", chatHandler.RemoveMember)
				r.Get("/presence", chatHandler.ConversationPresence)
				r.Get("/messages", chatHandler.GetMessages)
				r.Post("/messages", chatHandler.SendMessage)
				r.Post("/read", chatHandler.MarkAsRead)
			})
		})

		r.Route("/api/messages", func(r chi.Router) {
			r.Get("/search", chatHandler.SearchMessages)
			r.Put("/{id}", chatHandler.EditMessage)
			r.Delete("/{id}", chatHandler.DeleteMessage)
			r.Post("/{id}/reactions", chatHandler.AddReaction)
			r.Delete("/{id}/reactions", chatHandler.RemoveReaction)
		})
	})

	server := &http.Server{Addr: cfg.Addr, Handler: r}
	go func() {
		<-ctx.Done()
		slog.Info("shutting down")
		_ = server.Shutdown(context.Background())
	}()

	slog.Info("server starting", "addr", cfg.Addr)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		slog.Error("server stopped", "error", err)
		os.Exit(1)
	}
}

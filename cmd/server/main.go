package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"studyhub/internal/chat"
	"studyhub/internal/db"
	"studyhub/internal/logger"
	"studyhub/internal/middleware"
	"studyhub/internal/subject"
	"studyhub/internal/task"
	"studyhub/internal/token"
	"studyhub/internal/user"
)

func main() {
	logger.Setup()

	if err := run(); err != nil {
		slog.Error("server exited", "error", err)
		os.Exit(1)
	}
}

func run() error {
	addr := flag.String("addr", ":8080", "http service address")
	flag.Parse()

	dsn := os.Getenv("DB_DSN")
	if dsn == "" {
		return errors.New("DB_DSN is not set")
	}
	jwtSecret := os.Getenv("JWT_SECRET")
	if jwtSecret == "" {
		return errors.New("JWT_SECRET is not set")
	}
	redisAddr := os.Getenv("REDIS_ADDR")
	if redisAddr == "" {
		redisAddr = "localhost:6379"
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	database, err := db.NewDatabase(dsn)
	if err != nil {
		return err
	}
	defer database.Close()
	slog.Info("connected to postgres")

	if err := database.AutoMigrate(); err != nil {
		return err
	}
	slog.Info("database schema initialized")

	redisClient := redis.NewClient(&redis.Options{Addr: redisAddr})
	if _, err := redisClient.Ping(ctx).Result(); err != nil {
		return err
	}
	defer redisClient.Close()
	slog.Info("connected to redis")

	revocationStore := token.NewRevocationStore(redisClient)

	userRepo := user.NewRepository(database.Conn)
	userService := user.NewService(userRepo, revocationStore, jwtSecret)

	chatRepo := chat.NewRepository(database.Conn)
	registry := chat.NewRegistry()
	hub := chat.NewHub()
	chatService := chat.NewService(chatRepo, hub, registry)
	gateway := chat.NewGateway(userService, userService, chatRepo, registry, hub)
	chatHandler := chat.NewHandler(chatService, gateway, hub, registry)

	userHandler := user.NewHandler(userService, gateway)
	taskHandler := task.NewHandler(task.NewRepository(database.Conn))
	subjectHandler := subject.NewHandler(subject.NewRepository(database.Conn))

	authMiddleware := middleware.NewAuthMiddleware(userService)

	r := chi.NewRouter()
	r.Use(chimiddleware.Logger)
	r.Use(chimiddleware.Recoverer)

	r.Post("/register", userHandler.Register)
	r.Post("/login", userHandler.Login)
	r.Post("/logout", userHandler.Logout)

	// The websocket endpoint authenticates inside the handshake so failures
	// reach the client as tagged auth_error frames on the socket, not as a
	// plain 401 before the upgrade.
	r.Get("/ws", chatHandler.ServeWs)

	r.Group(func(r chi.Router) {
		r.Use(authMiddleware.Handle)

		r.Get("/api/users/search", userHandler.SearchUsers)

		r.Route("/api/chats", func(r chi.Router) {
			r.Get("/", chatHandler.ListChats)
			r.Post("/", chatHandler.CreateChat)
			r.Get("/{chatID}", chatHandler.GetChat)
			r.Get("/{chatID}/messages", chatHandler.GetMessages)
			r.Post("/{chatID}/join", chatHandler.JoinChat)
			r.Post("/{chatID}/leave", chatHandler.LeaveChat)
		})

		r.Route("/api/tasks", func(r chi.Router) {
			r.Get("/", taskHandler.List)
			r.Post("/", taskHandler.Create)
			r.Put("/{taskID}", taskHandler.Update)
			r.Delete("/{taskID}", taskHandler.Delete)
		})

		r.Route("/api/subjects", func(r chi.Router) {
			r.Get("/", subjectHandler.List)
			r.Post("/", subjectHandler.Create)
			r.Put("/{subjectID}", subjectHandler.Update)
			r.Delete("/{subjectID}", subjectHandler.Delete)
		})
	})

	server := &http.Server{Addr: *addr, Handler: r}

	g, gCtx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("server starting", "addr", *addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

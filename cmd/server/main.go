// cmd/server/main.go
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/unclebandit/outbound-dispatcher/internal/config"
	"github.com/unclebandit/outbound-dispatcher/internal/controller"
	"github.com/unclebandit/outbound-dispatcher/internal/db"
	"github.com/unclebandit/outbound-dispatcher/internal/handler"
	"github.com/unclebandit/outbound-dispatcher/internal/logger"
	"github.com/unclebandit/outbound-dispatcher/internal/model"
	"github.com/unclebandit/outbound-dispatcher/internal/pacing"
	"github.com/unclebandit/outbound-dispatcher/internal/provider"
	"github.com/unclebandit/outbound-dispatcher/internal/queue"
	"github.com/unclebandit/outbound-dispatcher/internal/ratelimit"
	"github.com/unclebandit/outbound-dispatcher/internal/repository"
	"github.com/unclebandit/outbound-dispatcher/internal/service"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, envLoaded, err := config.Load(ctx)
	if err != nil {
		zap.NewExample().Fatal("invalid configuration", zap.Error(err))
	}

	log, err := logger.New(cfg.Env)
	if err != nil {
		zap.NewExample().Fatal("failed to build logger", zap.Error(err))
	}
	defer log.Sync()
	if !envLoaded {
		log.Info("no .env file found, relying on OS environment variables")
	}

	repos, closeStore, err := openStore(ctx, cfg, log)
	if err != nil {
		log.Fatal("failed to open store", zap.Error(err))
	}
	defer closeStore()

	limiter, err := newLimiter(ctx, cfg)
	if err != nil {
		log.Fatal("failed to build rate limiter", zap.Error(err))
	}

	pacer, err := pacing.New(cfg.DelayBounds())
	if err != nil {
		log.Fatal("invalid pacing bounds", zap.Error(err))
	}

	q, closeQueue := startEventQueue(cfg, log)
	defer closeQueue()

	dispatchService := service.NewDispatchService(repos, limiter, pacer, newSender(cfg, log), q, service.DispatchOptions{
		DryRun:           cfg.DryRun(),
		RateCapPerMinute: cfg.Dispatch.RateCapPerMinute,
		RateScope:        cfg.Dispatch.RateScope,
		DedupWindow:      cfg.Dispatch.DedupWindow,
		ProviderTimeout:  cfg.Dispatch.ProviderTimeout,
	}, log.Named("dispatch"))

	dispatchController := &controller.DispatchController{
		DispatchService: dispatchService,
		Logger:          log,
	}
	statusHandler := handler.NewStatusHandler(dispatchService, log.Named("status"))

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/health", controller.Health)
	dispatchController.Routes(r)
	r.Post("/provider/status", statusHandler.ApplyStatus)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info("server running",
			zap.String("addr", srv.Addr),
			zap.Bool("dry_run", cfg.DryRun()),
			zap.String("store", cfg.StoreDriver),
			zap.String("rate_limit_backend", cfg.RateLimit.Backend),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("server failed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("graceful shutdown failed", zap.Error(err))
	}
}

// startEventQueue returns the in-process event queue, forwarding to RabbitMQ
// when AMQP_URL is set. The returned func drains the queue before the broker
// connection closes.
func startEventQueue(cfg *config.Config, log *zap.Logger) (*queue.InMemoryQueue, func()) {
	q := queue.NewInMemoryQueue(log.Named("queue"))
	if cfg.AMQP.URL == "" {
		return q, q.Close
	}

	pub, err := queue.DialAMQP(cfg.AMQP.URL, cfg.AMQP.EventsQueue)
	if err != nil {
		log.Fatal("failed to connect to RabbitMQ", zap.Error(err))
	}
	if err := queue.StartDispatchEventForwarder(q, pub, log.Named("forwarder")); err != nil {
		log.Fatal("failed to subscribe forwarder", zap.Error(err))
	}
	log.Info("forwarding dispatch events", zap.String("queue", cfg.AMQP.EventsQueue))

	return q, func() {
		q.Close()
		if err := pub.Close(); err != nil {
			log.Warn("failed to close RabbitMQ publisher", zap.Error(err))
		}
	}
}

func openStore(ctx context.Context, cfg *config.Config, log *zap.Logger) (service.Repositories, func(), error) {
	if cfg.StoreDriver == "memory" {
		store := repository.NewMemoryStore()
		store.AddConversation(
			model.Conversation{ID: db.DemoConversationID, WorkspaceID: db.DemoWorkspaceID},
			&model.Contact{ID: db.DemoContactID, WorkspaceID: db.DemoWorkspaceID, Name: db.DemoContactName, Phone: db.DemoContactPhone},
		)
		log.Warn("using in-memory store, data is lost on restart",
			zap.String("workspace_id", db.DemoWorkspaceID),
			zap.String("conversation_id", db.DemoConversationID),
		)
		return service.Repositories{Messages: store, Conversations: store, Events: store}, func() {}, nil
	}

	conn, err := db.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return service.Repositories{}, nil, err
	}
	if err := db.Migrate(ctx, conn); err != nil {
		conn.Close()
		return service.Repositories{}, nil, err
	}
	return service.Repositories{
		Messages:      &repository.MessageRepository{DB: conn},
		Conversations: &repository.ConversationRepository{DB: conn},
		Events:        &repository.DispatchEventRepository{DB: conn},
	}, func() { conn.Close() }, nil
}

func newLimiter(ctx context.Context, cfg *config.Config) (ratelimit.Limiter, error) {
	if cfg.RateLimit.Backend != "redis" {
		return ratelimit.NewSlidingWindow(), nil
	}
	client, err := ratelimit.NewRedisClient(ctx, cfg.RateLimit.RedisURL)
	if err != nil {
		return nil, err
	}
	return ratelimit.NewRedisWindow(client), nil
}

func newSender(cfg *config.Config, log *zap.Logger) provider.Sender {
	var next provider.Sender
	if cfg.Provider.Mock {
		next = &provider.MockSender{FailureRate: 0.1}
	} else {
		next = provider.NewCloudAPISender(cfg.Provider.BaseURL, cfg.Provider.PhoneNumberID, cfg.Provider.Token)
	}
	return provider.NewBreakerSender(next, provider.DefaultBreakerConfig(), log.Named("provider"))
}

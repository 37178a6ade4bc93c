package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/suPer8Hu/career-counselor/internal/ai"
	"github.com/suPer8Hu/career-counselor/internal/chat"
	"github.com/suPer8Hu/career-counselor/internal/classifier"
	"github.com/suPer8Hu/career-counselor/internal/config"
	"github.com/suPer8Hu/career-counselor/internal/db"
	"github.com/suPer8Hu/career-counselor/internal/httpapi"
	"github.com/suPer8Hu/career-counselor/internal/ratelimit"
	"github.com/suPer8Hu/career-counselor/internal/store/rabbitmq"
	"github.com/suPer8Hu/career-counselor/internal/store/redisstore"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx := context.Background()

	gdb, err := db.Connect(ctx, cfg.DBDriver, cfg.DBDSN)
	if err != nil {
		log.Fatalf("db: %v", err)
	}
	if err := db.Migrate(gdb); err != nil {
		log.Fatalf("migrate: %v", err)
	}

	// rate limit backend
	var (
		limiter ratelimit.Store
		rds     *redisstore.Store
	)
	switch cfg.RateLimitBackend {
	case "redis":
		rds = redisstore.New(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		defer rds.Close()
		pctx, cancel := context.WithTimeout(ctx, 3*time.Second)
		err := rds.Ping(pctx)
		cancel()
		if err != nil {
			log.Fatalf("redis ping: %v", err)
		}
		limiter = rds.RateLimiter(cfg.AnonymousRequestLimit, cfg.RateLimitWindow())
	default:
		limiter = ratelimit.NewGormStore(gdb, cfg.AnonymousRequestLimit, cfg.RateLimitWindow())
	}

	// Provider registry
	reg := ai.NewRegistry()
	reg.Register("gemini", ai.GeminiFactory(cfg.GeminiAPIKey))
	reg.Register("openrouter", ai.OpenRouterFactory(
		cfg.OpenRouterBaseURL, cfg.OpenRouterAPIKey, cfg.OpenRouterModel,
		cfg.OpenRouterSiteURL, cfg.OpenRouterAppName,
	))

	model := cfg.GeminiModel
	if cfg.AIProvider == "openrouter" {
		model = cfg.OpenRouterModel
	}
	responder := ai.NewResponder(classifier.New(), reg, cfg.AIProvider, model, cfg.GenerationTimeout())

	svc := chat.NewService(chat.NewRepo(gdb), responder, limiter, cfg.ChatContextWindowSize).
		WithMaxMessageLength(cfg.MaxMessageLength)

	if cfg.RabbitURL != "" {
		pub, err := rabbitmq.NewPublisher(cfg.RabbitURL, cfg.RabbitQueue)
		if err != nil {
			log.Fatalf("rabbit publisher: %v", err)
		}
		defer pub.Close()
		svc.WithPublisher(pub)
	} else {
		log.Printf("RABBIT_URL not set, turn events disabled")
	}

	r := httpapi.NewRouter(gdb, cfg, rds, svc)

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Printf("server listening on %s env=%s provider=%s rate_limit=%s", cfg.HTTPAddr, cfg.Env, cfg.AIProvider, cfg.RateLimitBackend)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("listen: %v", err)
		}
	}()

	sigCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	<-sigCtx.Done()

	log.Printf("server shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown: %v", err)
	}
}

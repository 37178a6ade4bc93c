package httpapi

import (
	"log"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/suPer8Hu/career-counselor/internal/auth"
	"github.com/suPer8Hu/career-counselor/internal/chat"
	"github.com/suPer8Hu/career-counselor/internal/common"
	"github.com/suPer8Hu/career-counselor/internal/config"
	"github.com/suPer8Hu/career-counselor/internal/httpapi/handlers"
	"github.com/suPer8Hu/career-counselor/internal/httpapi/middleware"
	"github.com/suPer8Hu/career-counselor/internal/store/redisstore"
	"gorm.io/gorm"
)

func NewRouter(db *gorm.DB, cfg config.Config, rds *redisstore.Store, chatSvc *chat.Service) *gin.Engine {
	r := gin.New()
	r.HandleMethodNotAllowed = true
	// forwarding headers only count when the peer is in cfg.TrustedProxies
	r.RemoteIPHeaders = []string{"X-Forwarded-For", "X-Real-IP"}
	if err := r.SetTrustedProxies(cfg.TrustedProxies); err != nil {
		log.Printf("[NewRouter] invalid trusted proxies %v, trusting none err=%v", cfg.TrustedProxies, err)
		_ = r.SetTrustedProxies(nil)
	}
	r.Use(gin.Logger())
	r.Use(middleware.Recovery())

	r.NoRoute(func(c *gin.Context) {
		common.Fail(c, http.StatusNotFound, 40400, "route not found")
	})
	r.NoMethod(func(c *gin.Context) {
		common.Fail(c, http.StatusMethodNotAllowed, 40500, "method not allowed")
	})

	r.Use(middleware.RequestID())

	origins := cfg.CORSAllowedOrigins
	if len(origins) == 0 {
		origins = []string{"http://localhost:3000"}
	}
	r.Use(cors.New(cors.Config{
		AllowOrigins:     origins,
		AllowMethods:     []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization", "Idempotency-Key", middleware.RequestIDHeader},
		ExposeHeaders:    []string{middleware.RequestIDHeader},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	h := handlers.NewHandler(db, cfg, rds, chatSvc)

	r.GET("/ping", h.Ping)
	r.GET("/healthz", h.Healthz)

	// users register
	r.POST("/users", h.CreateUser)
	r.POST("/login", h.Login)

	// everything below knows who is calling, anonymous included
	api := r.Group("/")
	api.Use(middleware.Identity(auth.NewResolver(db, cfg.JWTSecret)))

	api.GET("/me", middleware.AuthRequired(), h.Me)

	api.POST("/chat/messages", h.SendChatMessage)
	api.GET("/chat/sessions/:session_id/messages", h.ListChatMessages)
	api.GET("/chat/rate-limit", h.GetRateLimitStatus)
	api.POST("/chat/rate-limit/reset", h.ResetRateLimit)
	api.GET("/chat/analytics", h.GetAnalytics)

	api.GET("/sessions", h.ListSessions)
	api.POST("/sessions", h.CreateSession)
	api.DELETE("/sessions/:session_id", h.DeleteSession)
	return r
}

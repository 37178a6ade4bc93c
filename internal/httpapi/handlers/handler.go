package handlers

import (
	"context"
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/suPer8Hu/career-counselor/internal/auth"
	"github.com/suPer8Hu/career-counselor/internal/chat"
	"github.com/suPer8Hu/career-counselor/internal/common"
	"github.com/suPer8Hu/career-counselor/internal/config"
	"github.com/suPer8Hu/career-counselor/internal/store/redisstore"
	"gorm.io/gorm"
)

type Handler struct {
	DB       *gorm.DB
	Cfg      config.Config
	Redis    *redisstore.Store // nil unless the redis rate limit backend is on
	ChatSvc  *chat.Service
	Accounts *auth.Accounts
}

func NewHandler(db *gorm.DB, cfg config.Config, r *redisstore.Store, chatSvc *chat.Service) *Handler {
	return &Handler{
		DB:       db,
		Cfg:      cfg,
		Redis:    r,
		ChatSvc:  chatSvc,
		Accounts: auth.NewAccounts(db, cfg.JWTSecret, cfg.JWTTTL()),
	}
}

func (h *Handler) Ping(c *gin.Context) {
	common.OK(c, gin.H{"pong": true})
}

// Healthz checks the backing stores the chat path depends on.
func (h *Handler) Healthz(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	checks := gin.H{"db": "ok"}
	healthy := true

	sqlDB, err := h.DB.DB()
	if err == nil {
		err = sqlDB.PingContext(ctx)
	}
	if err != nil {
		log.Printf("[Healthz] db ping failed err=%v", err)
		checks["db"] = "down"
		healthy = false
	}

	if h.Redis != nil {
		checks["redis"] = "ok"
		if err := h.Redis.Ping(ctx); err != nil {
			log.Printf("[Healthz] redis ping failed err=%v", err)
			checks["redis"] = "down"
			healthy = false
		}
	}

	if !healthy {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"code":    50301,
			"message": "unhealthy",
			"data":    checks,
		})
		return
	}
	common.OK(c, checks)
}

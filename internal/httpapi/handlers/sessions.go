package handlers

import (
	"github.com/gin-gonic/gin"
	"github.com/suPer8Hu/career-counselor/internal/common"
	"github.com/suPer8Hu/career-counselor/internal/httpapi/middleware"
)

type createSessionReq struct {
	Title string `json:"title"`
}

func (h *Handler) ListSessions(c *gin.Context) {
	store := h.ChatSvc.StoreFor(middleware.IdentityFrom(c))

	sessions, err := store.List(c.Request.Context())
	if err != nil {
		common.FailErr(c, err)
		return
	}
	common.OK(c, gin.H{"sessions": sessions})
}

func (h *Handler) CreateSession(c *gin.Context) {
	var req createSessionReq
	_ = c.ShouldBindJSON(&req) // allow empty body

	store := h.ChatSvc.StoreFor(middleware.IdentityFrom(c))
	sess, err := store.Create(c.Request.Context(), req.Title)
	if err != nil {
		common.FailErr(c, err)
		return
	}
	common.OK(c, sess)
}

func (h *Handler) DeleteSession(c *gin.Context) {
	store := h.ChatSvc.StoreFor(middleware.IdentityFrom(c))
	if err := store.Delete(c.Request.Context(), c.Param("session_id")); err != nil {
		common.FailErr(c, err)
		return
	}
	common.OK(c, gin.H{"success": true})
}

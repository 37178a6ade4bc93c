package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/suPer8Hu/career-counselor/internal/auth"
	"github.com/suPer8Hu/career-counselor/internal/common"
	"github.com/suPer8Hu/career-counselor/internal/httpapi/middleware"
)

type credentialsReq struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func sessionBody(s auth.Session) gin.H {
	return gin.H{
		"id":       s.User.ID,
		"email":    s.User.Email,
		"username": s.User.Username,
		"token":    s.Token,
	}
}

func (h *Handler) CreateUser(c *gin.Context) {
	var req credentialsReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}

	s, err := h.Accounts.Register(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		common.FailErr(c, err)
		return
	}
	common.OK(c, sessionBody(s))
}

func (h *Handler) Login(c *gin.Context) {
	var req credentialsReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}

	s, err := h.Accounts.Login(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		common.FailErr(c, err)
		return
	}
	common.OK(c, sessionBody(s))
}

func (h *Handler) Me(c *gin.Context) {
	u, err := h.Accounts.Get(c.Request.Context(), middleware.IdentityFrom(c).UserID)
	if err != nil {
		common.FailErr(c, err)
		return
	}
	common.OK(c, gin.H{
		"id":         u.ID,
		"email":      u.Email,
		"username":   u.Username,
		"created_at": u.CreatedAt,
	})
}
